package app

import (
	"errors"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"beacon/internal/domain"
	"beacon/internal/relay"
	identitysvc "beacon/internal/services/identity"
	inboxsvc "beacon/internal/services/inbox"
	"beacon/internal/services/presence"
	trustsvc "beacon/internal/services/trust"
	"beacon/internal/store"
)

// ErrNoRelay means an operation needs a relay URL and none was configured.
var ErrNoRelay = errors.New("no relay URL configured")

// Wire bundles the stores and services the CLI commands use.
type Wire struct {
	Home     string
	Identity *identitysvc.Service
	Trust    *trustsvc.Service
	Inbox    *inboxsvc.Service
	InboxLog *store.InboxFileLog
	Sessions *store.RelaySessionFileStore
	Log      *zap.Logger

	relayURL string
	http     *http.Client
}

// NewWire constructs the dependency graph from cfg, creating Home if needed.
func NewWire(cfg Config) (*Wire, error) {
	if cfg.Home == "" {
		home, err := DefaultHome()
		if err != nil {
			return nil, err
		}
		cfg.Home = home
	}
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	// File-backed stores, one per concern
	identityStore := store.NewIdentityFileStore(cfg.Home)
	knownKeys := store.NewKnownKeyFileStore(cfg.Home, log)
	readState := store.NewReadStateFileStore(cfg.Home, log)
	inboxLog := store.NewInboxFileLog(cfg.Home, log)

	trust := trustsvc.New(knownKeys, trustsvc.WithLogger(log))
	return &Wire{
		Home:     cfg.Home,
		Identity: identitysvc.New(identityStore, log),
		Trust:    trust,
		Inbox:    inboxsvc.New(inboxLog, readState, trust, inboxsvc.WithLogger(log)),
		InboxLog: inboxLog,
		Sessions: store.NewRelaySessionFileStore(cfg.Home),
		Log:      log,
		relayURL: cfg.RelayURL,
		http:     httpClient,
	}, nil
}

// Relay returns a client that pings the configured relay as id.
func (w *Wire) Relay(id domain.Identity) (*relay.Client, error) {
	if w.relayURL == "" {
		return nil, ErrNoRelay
	}
	return relay.NewClient(w.relayURL, id,
		relay.WithHTTPClient(w.http),
		relay.WithClientLogger(w.Log)), nil
}

// Presence returns the heartbeat loop for id against the configured relay.
func (w *Wire) Presence(id domain.Identity) (*presence.Service, error) {
	client, err := w.Relay(id)
	if err != nil {
		return nil, err
	}
	return presence.New(w.Sessions, client, w.relayURL, id.AgentID, presence.WithLogger(w.Log)), nil
}

// RelayURL is the configured relay base URL, possibly empty.
func (w *Wire) RelayURL() string { return w.relayURL }
