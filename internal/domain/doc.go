// Package domain defines the core data models and interfaces shared across
// beacon: agent identities, envelopes, trusted key records, relay agent
// records, and the store contracts the services are written against.
//
// It contains plain types and contracts only. Behaviour lives in the
// crypto, codec, guard, store and services packages.
package domain
