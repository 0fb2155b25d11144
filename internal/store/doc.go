// Package store provides file-based persistence for beacon's client state.
//
// It contains concrete implementations of the domain storage interfaces.
// Every store owns one file under the configured home directory and guards
// it with its own mutex. Whole-file stores replace their file atomically
// (temp file + rename), so a crash leaves either the old or the new
// contents on disk.
//
// The package includes stores for:
//   - The encrypted local identity (IdentityFileStore)
//   - The TOFU key map (KnownKeyFileStore)
//   - The read-nonce set (ReadStateFileStore)
//   - The transport inbox log, one JSON record per line (InboxFileLog)
//   - Relay tokens, one per relay URL (RelaySessionFileStore)
//
// The relay's roster lives in the roster subpackage.
package store
