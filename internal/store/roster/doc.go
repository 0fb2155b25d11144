// Package roster stores the relay's agent table and per-agent nonce set in
// SQLite.
//
// All writes go through a single connection opened with BEGIN IMMEDIATE
// transactions and WAL journaling, so two pings for the same agent can never
// interleave their read-modify-write.
package roster
