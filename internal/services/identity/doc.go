// Package identity manages creation, encryption and loading of the local
// agent identity.
//
// It enforces passphrase policy, generates the Ed25519 signing key pair,
// derives the agent id and persists the result via the domain.IdentityStore.
package identity
