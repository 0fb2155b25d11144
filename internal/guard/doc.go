// Package guard rejects replayed and out-of-window envelopes.
//
// A Guard admits each (scope, nonce) pair at most once while the nonce is
// retained, and only when the envelope timestamp sits inside the freshness
// window. Admission is a single insert-if-absent on a domain.NonceStore, so
// concurrent callers presenting the same nonce see exactly one success.
//
// MemoryStore is the in-process store used by the client inbox. The relay
// reserves nonces inside its roster transaction instead.
package guard
