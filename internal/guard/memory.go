package guard

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"beacon/internal/domain"
)

// MemoryStore keeps reserved nonces in process memory with per-entry expiry.
type MemoryStore struct {
	c *gocache.Cache
}

var _ domain.NonceStore = (*MemoryStore)(nil)

// NewMemoryStore returns a store that sweeps expired entries every
// cleanupInterval. Zero disables the sweeper goroutine; expired entries are
// still ignored by Reserve.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	return &MemoryStore{c: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

// Reserve uses Cache.Add, which fails when a live entry already exists.
// now is unused; go-cache expires entries against the wall clock.
func (m *MemoryStore) Reserve(scope, nonce string, _ time.Time, retain time.Duration) (bool, error) {
	if err := m.c.Add(scope+"\x00"+nonce, struct{}{}, retain); err != nil {
		return false, nil
	}
	return true, nil
}

// Len reports the number of retained nonces, including expired ones not yet
// swept.
func (m *MemoryStore) Len() int { return m.c.ItemCount() }

// Flush drops every reserved nonce.
func (m *MemoryStore) Flush() { m.c.Flush() }
