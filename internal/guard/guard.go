package guard

import (
	"time"

	"go.uber.org/zap"

	"beacon/internal/domain"
)

// Reason explains a Check outcome.
type Reason string

const (
	ReasonOK           Reason = "ok"
	ReasonReplay       Reason = "replay"
	ReasonStale        Reason = "stale"
	ReasonFuture       Reason = "future"
	ReasonMissingNonce Reason = "missing_nonce"
	// ReasonStoreError means the nonce store failed; the envelope is refused.
	ReasonStoreError Reason = "store_error"
)

const (
	DefaultMaxAge        = 300 * time.Second
	DefaultMaxFutureSkew = 120 * time.Second
)

// Window bounds accepted timestamps around the current time.
type Window struct {
	MaxAge        time.Duration
	MaxFutureSkew time.Duration
}

// DefaultWindow is 300s into the past and 120s into the future.
func DefaultWindow() Window {
	return Window{MaxAge: DefaultMaxAge, MaxFutureSkew: DefaultMaxFutureSkew}
}

// Retention is how long an admitted nonce must be remembered. Anything older
// is rejected as stale anyway.
func (w Window) Retention() time.Duration { return w.MaxAge + w.MaxFutureSkew }

// Check classifies a unix-seconds timestamp against the window.
func (w Window) Check(ts int64, now time.Time) Reason {
	at := time.Unix(ts, 0)
	if at.Before(now.Add(-w.MaxAge)) {
		return ReasonStale
	}
	if at.After(now.Add(w.MaxFutureSkew)) {
		return ReasonFuture
	}
	return ReasonOK
}

// Guard admits envelopes once.
type Guard struct {
	store  domain.NonceStore
	window Window
	now    func() time.Time
	log    *zap.Logger
}

type Option func(*Guard)

func WithWindow(w Window) Option { return func(g *Guard) { g.window = w } }

func WithClock(now func() time.Time) Option { return func(g *Guard) { g.now = now } }

func WithLogger(l *zap.Logger) Option { return func(g *Guard) { g.log = l } }

// New returns a Guard over store with the default window.
func New(store domain.NonceStore, opts ...Option) *Guard {
	g := &Guard{
		store:  store,
		window: DefaultWindow(),
		now:    time.Now,
		log:    zap.NewNop(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Window returns the configured freshness window.
func (g *Guard) Window() Window { return g.window }

// Check admits env in scope. Freshness is tested before the nonce is
// reserved, so a stale envelope never burns its nonce.
func (g *Guard) Check(scope string, env domain.Envelope) (bool, Reason) {
	if env.Nonce == "" {
		return false, ReasonMissingNonce
	}
	now := g.now()
	if r := g.window.Check(env.TS, now); r != ReasonOK {
		return false, r
	}
	ok, err := g.store.Reserve(scope, env.Nonce, now, g.window.Retention())
	if err != nil {
		g.log.Warn("nonce reserve failed", zap.String("scope", scope), zap.Error(err))
		return false, ReasonStoreError
	}
	if !ok {
		return false, ReasonReplay
	}
	return true, ReasonOK
}
