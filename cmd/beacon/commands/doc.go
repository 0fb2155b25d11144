// Package commands defines the beacon agent CLI.
//
// Commands
//
//   - init              Create (or import) the local Ed25519 identity
//   - id                Print the agent id and public key
//   - keys list         List pinned keys (--all includes expired)
//   - keys trust        Pin a key for an agent (--rotate to replace)
//   - keys rotate       Replace a pinned key with proof from the old key
//   - keys revoke       Forget an agent's key
//   - inbox read        Show inbound envelopes with their verification
//   - inbox count       Count entries (--unread)
//   - inbox mark-read   Mark an envelope read by nonce
//   - inbox ingest      Append messages from stdin through the replay guard
//   - encode            Build a signed envelope
//   - decode            Parse and verify envelopes from stdin
//   - ping              Register with or heartbeat the relay
//
// # Configuration
//
// --home, --relay and --passphrase may also be set through BEACON_HOME,
// BEACON_RELAY and BEACON_PASSPHRASE. Flags win over the environment.
package commands
