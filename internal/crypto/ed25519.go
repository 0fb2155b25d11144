package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"

	"beacon/internal/domain"
)

// GenerateEd25519 returns a new Ed25519 signing key pair.
func GenerateEd25519() (priv domain.Ed25519Private, pub domain.Ed25519Public, err error) {
	pk, sk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return priv, pub, err
	}
	copy(priv[:], sk)
	copy(pub[:], pk)
	return priv, pub, nil
}

// NewIdentity generates a key pair and derives its agent id.
func NewIdentity() (domain.Identity, error) {
	priv, pub, err := GenerateEd25519()
	if err != nil {
		return domain.Identity{}, err
	}
	return domain.Identity{
		AgentID: AgentIDFromPubkey(pub.Slice()),
		Public:  pub,
		Private: priv,
	}, nil
}

// IdentityFromSeed rebuilds an identity from a 32-byte Ed25519 seed.
func IdentityFromSeed(seed []byte) (domain.Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return domain.Identity{}, errBadSeed
	}
	sk := ed25519.NewKeyFromSeed(seed)
	pub := domain.MustEd25519Public(sk.Public().(ed25519.PublicKey))
	return domain.Identity{
		AgentID: AgentIDFromPubkey(pub.Slice()),
		Public:  pub,
		Private: domain.MustEd25519Private(sk),
	}, nil
}

// SignEd25519 signs msg with priv and returns the signature.
func SignEd25519(priv domain.Ed25519Private, msg []byte) []byte {
	return ed25519.Sign(ed25519.PrivateKey(priv[:]), msg)
}

// SignHex signs msg and returns the hex-encoded signature.
func SignHex(priv domain.Ed25519Private, msg []byte) string {
	return hex.EncodeToString(SignEd25519(priv, msg))
}

// VerifyEd25519 verifies sig over msg with pub.
func VerifyEd25519(pub domain.Ed25519Public, msg, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig)
}

// VerifyHex verifies a hex signature over msg with a hex public key.
func VerifyHex(pubkeyHex, sigHex string, msg []byte) bool {
	pub, ok := ParsePublicHex(pubkeyHex)
	if !ok {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	return VerifyEd25519(pub, msg, sig)
}

// ParsePublicHex decodes a hex Ed25519 public key.
func ParsePublicHex(pubkeyHex string) (domain.Ed25519Public, bool) {
	var pub domain.Ed25519Public
	raw, err := hex.DecodeString(pubkeyHex)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return pub, false
	}
	copy(pub[:], raw)
	return pub, true
}
