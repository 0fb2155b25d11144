package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"beacon/internal/crypto"
	"beacon/internal/domain"
)

const identityFile = "identity.json.enc"

// IdentityFileStore persists the local identity, sealed under a passphrase.
type IdentityFileStore struct {
	dir string
	kdf kdfParams
	mu  sync.Mutex
}

// NewIdentityFileStore returns an IdentityFileStore rooted at dir.
func NewIdentityFileStore(dir string) *IdentityFileStore {
	return &IdentityFileStore{dir: dir, kdf: defaultKDF()}
}

// Path is the sealed identity file.
func (s *IdentityFileStore) Path() string { return filepath.Join(s.dir, identityFile) }

// HasIdentity reports whether the sealed identity file exists.
func (s *IdentityFileStore) HasIdentity() (bool, error) {
	_, err := os.Stat(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SaveIdentity seals and writes the identity.
func (s *IdentityFileStore) SaveIdentity(passphrase string, id domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	defer crypto.Wipe(raw)

	ct, err := seal(passphrase, raw, s.kdf)
	if err != nil {
		return fmt.Errorf("seal identity: %w", err)
	}
	return writeFile(s.Path(), ct)
}

// LoadIdentity reads and opens the identity. A missing file reports
// domain.ErrNotFound.
func (s *IdentityFileStore) LoadIdentity(passphrase string) (domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return domain.Identity{}, fmt.Errorf("identity: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.Identity{}, err
	}
	pt, err := open(passphrase, b)
	if err != nil {
		return domain.Identity{}, err
	}
	defer crypto.Wipe(pt)

	var id domain.Identity
	if err := json.Unmarshal(pt, &id); err != nil {
		return domain.Identity{}, fmt.Errorf("decode identity: %w", err)
	}
	if crypto.AgentIDFromPubkey(id.Public.Slice()) != id.AgentID {
		return domain.Identity{}, fmt.Errorf("stored identity: %w", domain.ErrIdentityMismatch)
	}
	return id, nil
}

// Compile-time assertion that IdentityFileStore implements domain.IdentityStore.
var _ domain.IdentityStore = (*IdentityFileStore)(nil)
