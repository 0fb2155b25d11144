// Package app wires beacon's dependencies for the two binaries.
//
// NewWire builds the agent-side graph (identity, trust, inbox, relay client)
// from Config for the CLI. NewRelayServer builds the relay daemon from a
// RelayConfig, usually loaded from YAML with LoadRelayConfig.
package app
