// Package crypto exposes the minimal primitives used by beacon.
//
// Contents
//
//   - Ed25519 key generation, signing and verification (GenerateEd25519,
//     SignEd25519, VerifyEd25519, VerifyHex)
//   - Agent id derivation from a public key (AgentIDFromPubkey,
//     AgentIDFromPubkeyHex)
//   - Random protocol tokens: nonces and relay bearer tokens (NewNonce,
//     NewRelayToken)
//   - Best-effort memory wiping for sensitive byte slices (Wipe)
//
// # Notes
//
// Agent ids keep only 12 hex characters (48 bits) of the SHA-256 digest. That
// is a narrow namespace for a global identifier and is kept for wire
// compatibility with existing agents.
//
// Every verification helper fails closed: malformed hex, wrong key or
// signature lengths, and bad signatures all report false and never panic.
package crypto
