// Package trust is the trust-on-first-use key store.
//
// The first verified sighting of an agent pins its public key. A different
// key for the same agent is installed only through Rotate, with a signature
// by the pinned key over the new key's raw bytes, or through an explicit
// Trust with allowRotate. Keys that go unseen for longer than their TTL are
// treated as expired: they stay on disk but are no longer offered for
// verification.
//
// Every operation loads the whole key map, mutates it and replaces the file,
// all under one store-wide mutex.
package trust
