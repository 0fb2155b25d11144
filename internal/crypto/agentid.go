package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"beacon/internal/domain"
)

var errBadSeed = errors.New("ed25519 seed must be 32 bytes")

const (
	nonceBytes      = 6
	relayTokenBytes = 24
)

// AgentIDFromPubkey derives "bcn_" + the first 12 hex chars of SHA-256(pub).
//
// The client and the relay both call this; derivation must stay bit-identical.
func AgentIDFromPubkey(pub []byte) domain.AgentID {
	sum := sha256.Sum256(pub)
	return domain.AgentID(domain.AgentIDPrefix + hex.EncodeToString(sum[:])[:domain.AgentIDHexLen])
}

// AgentIDFromPubkeyHex derives the agent id for a hex public key.
func AgentIDFromPubkeyHex(pubkeyHex string) (domain.AgentID, error) {
	pub, ok := ParsePublicHex(pubkeyHex)
	if !ok {
		return "", fmt.Errorf("pubkey_hex: %w", domain.ErrMalformed)
	}
	return AgentIDFromPubkey(pub.Slice()), nil
}

// NewNonce returns 12 random hex characters.
func NewNonce() (string, error) {
	return randomHex(nonceBytes)
}

// NewRelayToken returns a fresh bearer credential for relay heartbeats.
func NewRelayToken() (string, error) {
	s, err := randomHex(relayTokenBytes)
	if err != nil {
		return "", err
	}
	return "relay_" + s, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
