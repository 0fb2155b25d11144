// Package codec converts between beacon envelopes and their text form.
//
// Wire format
//
//	[BEACON v2]
//	{"agent_id":"bcn_...","kind":"hello","nonce":"...","sig":"...","ts":...,"v":2}
//	[/BEACON]
//
// A transport message may carry any number of blocks mixed with free text.
// v1 blocks are unsigned and only need a kind. v2 blocks must also carry
// agent_id, nonce and sig.
//
// Signatures cover the canonical bytes of the envelope: every field except
// sig, serialized as JSON with sorted keys, no insignificant whitespace and
// no HTML escaping. Decoding keeps numbers in their literal form so the
// canonical bytes a receiver rebuilds match what the sender signed.
package codec
