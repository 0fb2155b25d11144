// Package inbox turns the raw transport log into verified, filterable
// entries and tracks which envelopes the user has read.
//
// Reading never mutates the log. Each scan verifies envelopes against the
// keys trusted at the start of the scan, then feeds every envelope to the
// key store's auto-learn path and persists what it learned.
//
// Ingest is the write side: it runs signed envelopes through a replay guard
// before anything is appended, so a replayed or stale envelope never reaches
// the log.
package inbox
