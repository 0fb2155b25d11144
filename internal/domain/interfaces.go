package domain

import (
	"context"
	"time"
)

// IdentityStore persists the local agent identity.
type IdentityStore interface {
	// HasIdentity reports whether an identity is stored, without opening it.
	HasIdentity() (bool, error)
	SaveIdentity(passphrase string, id Identity) error
	LoadIdentity(passphrase string) (Identity, error)
}

// KnownKeyStore persists the TOFU key map. Loads and saves are whole-map.
type KnownKeyStore interface {
	LoadKnownKeys() (map[AgentID]KnownKeyRecord, error)
	SaveKnownKeys(keys map[AgentID]KnownKeyRecord) error
}

// ReadStateStore persists the user-facing read-nonce set, oldest first.
type ReadStateStore interface {
	LoadReadNonces() ([]string, error)
	SaveReadNonces(nonces []string) error
}

// InboxLog is the append-only record log fed by transports.
type InboxLog interface {
	ReadRecords() ([]InboxRecord, error)
	AppendRecord(rec InboxRecord) error
}

// NonceStore admits a nonce at most once per scope.
//
// Reserve must be a single atomic insert-if-absent: it returns true for
// exactly one caller per (scope, nonce) while the entry is retained.
type NonceStore interface {
	Reserve(scope, nonce string, now time.Time, retain time.Duration) (bool, error)
}

// Roster is the relay's durable agent table.
type Roster interface {
	// InTx runs fn in one serialized write transaction. fn's changes are
	// committed only if it returns nil.
	InTx(ctx context.Context, fn func(tx RosterTx) error) error
	ListAgents(ctx context.Context) ([]RelayAgentRecord, error)
	PruneNonces(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// RosterTx is the view of the roster inside a transaction.
type RosterTx interface {
	NonceStore
	GetAgent(id AgentID) (RelayAgentRecord, bool, error)
	InsertAgent(rec RelayAgentRecord) error
	UpdateAgent(rec RelayAgentRecord) error
	DeleteAgent(id AgentID) (bool, error)
}

// RelayClient is how agents talk to a relay.
type RelayClient interface {
	Ping(ctx context.Context, req PingRequest) (PingResponse, error)
}

// IdentityService creates and loads the local identity.
type IdentityService interface {
	GenerateIdentity(passphrase string, overwrite bool) (Identity, error)
	LoadIdentity(passphrase string) (Identity, error)
}

// TrustService is the TOFU key store.
type TrustService interface {
	Trust(agentID AgentID, pubkeyHex string, allowRotate bool) (bool, error)
	Rotate(agentID AgentID, newPubkeyHex string, sigByOldKey []byte) (bool, error)
	Revoke(agentID AgentID) (bool, error)
	Get(agentID AgentID) (KnownKeyRecord, bool, error)
	List(showExpired bool) (map[AgentID]KnownKeyRecord, error)
}

// InboxService reads and tracks inbound envelopes.
type InboxService interface {
	Read(filter InboxFilter) ([]InboxEntry, error)
	MarkRead(nonce string) error
	Count(unreadOnly bool) (int, error)
	EntryByNonce(nonce string) (InboxEntry, bool, error)
	Ingest(rec InboxRecord) (InboxRecord, bool, error)
}

// RelaySessionStore persists relay tokens, one per relay URL.
type RelaySessionStore interface {
	LoadSession(relayURL string) (RelaySession, bool, error)
	SaveSession(s RelaySession) error
	DeleteSession(relayURL string) error
}
