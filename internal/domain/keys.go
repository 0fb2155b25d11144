package domain

import "fmt"

const (
	// AgentIDPrefix marks identifiers derived from an Ed25519 public key.
	AgentIDPrefix = "bcn_"

	// AgentIDHexLen is the number of SHA-256 hex characters kept in an agent id.
	AgentIDHexLen = 12
)

// AgentID identifies an agent on the network.
type AgentID string

// String returns the string form of the agent id.
func (id AgentID) String() string { return string(id) }

// IsDerived reports whether id uses the pubkey-derived "bcn_" form.
func (id AgentID) IsDerived() bool {
	return len(id) == len(AgentIDPrefix)+AgentIDHexLen && string(id[:len(AgentIDPrefix)]) == AgentIDPrefix
}

// Ed25519Public is a signing public key.
type Ed25519Public [32]byte

// Slice returns the key as a []byte.
func (k Ed25519Public) Slice() []byte { return k[:] }

// Ed25519Private is a signing private key (ed25519.PrivateKey layout).
type Ed25519Private [64]byte

// Slice returns the key as a []byte.
func (k Ed25519Private) Slice() []byte { return k[:] }

func MustEd25519Private(b []byte) Ed25519Private {
	if len(b) != 64 {
		panic(fmt.Errorf("Ed25519 private: want 64 bytes, got %d", len(b)))
	}
	var out Ed25519Private
	copy(out[:], b)
	return out
}

func MustEd25519Public(b []byte) Ed25519Public {
	if len(b) != 32 {
		panic(fmt.Errorf("Ed25519 public: want 32 bytes, got %d", len(b)))
	}
	var out Ed25519Public
	copy(out[:], b)
	return out
}

// Identity holds the local agent's long-term signing keys.
type Identity struct {
	AgentID AgentID        `json:"agent_id"`
	Public  Ed25519Public  `json:"public"`
	Private Ed25519Private `json:"private"`
}
