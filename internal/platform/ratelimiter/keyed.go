package ratelimiter

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultRequests = 30
	DefaultWindow   = time.Minute
	DefaultMaxKeys  = 10_000

	sweepEvery = 256
)

// Config is a per-key budget of Requests within Window. Keys idle for two
// windows are dropped; past MaxKeys the least recently seen key is evicted.
type Config struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
	MaxKeys  int           `yaml:"max_keys"`
}

// Decision is the outcome of one admission.
type Decision struct {
	Allowed bool
	// Remaining is how many more requests the key may send right now.
	Remaining int
	// RetryAfter is set on denials: the wait until one request fits again.
	RetryAfter time.Duration
}

// Keyed tracks one bucket per key. A nil *Keyed admits everything.
type Keyed struct {
	requests int
	window   time.Duration
	maxKeys  int

	mu    sync.Mutex
	byKey map[string]*bucket
	calls uint64
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// New returns nil when Requests is not positive, which disables limiting.
func New(cfg Config) *Keyed {
	if cfg.Requests <= 0 {
		return nil
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = DefaultMaxKeys
	}
	return &Keyed{
		requests: cfg.Requests,
		window:   cfg.Window,
		maxKeys:  cfg.MaxKeys,
		byKey:    make(map[string]*bucket),
	}
}

// Allow spends one request of key's budget at now. Blank keys are not
// limited. A denied request spends nothing.
func (k *Keyed) Allow(key string, now time.Time) Decision {
	if k == nil {
		return Decision{Allowed: true}
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return Decision{Allowed: true}
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	k.calls++
	if k.calls%sweepEvery == 0 {
		k.sweep(now)
	}
	b, ok := k.byKey[key]
	if !ok {
		if len(k.byKey) >= k.maxKeys {
			k.sweep(now)
			k.evictOldest()
		}
		every := k.window / time.Duration(k.requests)
		b = &bucket{lim: rate.NewLimiter(rate.Every(every), k.requests)}
		k.byKey[key] = b
	}
	b.seen = now

	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return Decision{RetryAfter: k.window}
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return Decision{RetryAfter: wait}
	}
	return Decision{Allowed: true, Remaining: int(b.lim.TokensAt(now))}
}

// Len reports how many keys are currently tracked.
func (k *Keyed) Len() int {
	if k == nil {
		return 0
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.byKey)
}

// sweep drops keys idle for two windows; by then their bucket is full again.
func (k *Keyed) sweep(now time.Time) {
	cutoff := now.Add(-2 * k.window)
	for key, b := range k.byKey {
		if b.seen.Before(cutoff) {
			delete(k.byKey, key)
		}
	}
}

func (k *Keyed) evictOldest() {
	var (
		oldest string
		at     time.Time
	)
	for key, b := range k.byKey {
		if oldest == "" || b.seen.Before(at) {
			oldest, at = key, b.seen
		}
	}
	if oldest != "" {
		delete(k.byKey, oldest)
	}
}
