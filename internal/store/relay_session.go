package store

import (
	"fmt"
	"path/filepath"
	"sync"

	"beacon/internal/domain"
)

const relaySessionFile = "relay_sessions.json"

// RelaySessionFileStore keeps relay tokens in relay_sessions.json, keyed by
// relay URL.
type RelaySessionFileStore struct {
	path string
	mu   sync.Mutex
}

func NewRelaySessionFileStore(dir string) *RelaySessionFileStore {
	return &RelaySessionFileStore{path: filepath.Join(dir, relaySessionFile)}
}

func (s *RelaySessionFileStore) load() (map[string]domain.RelaySession, error) {
	out := make(map[string]domain.RelaySession)
	if _, err := readJSON(s.path, &out); err != nil {
		return nil, fmt.Errorf("relay sessions: %w", err)
	}
	return out, nil
}

func (s *RelaySessionFileStore) LoadSession(relayURL string) (domain.RelaySession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load()
	if err != nil {
		return domain.RelaySession{}, false, err
	}
	sess, ok := all[relayURL]
	return sess, ok, nil
}

func (s *RelaySessionFileStore) SaveSession(sess domain.RelaySession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load()
	if err != nil {
		return err
	}
	all[sess.RelayURL] = sess
	return writeJSON(s.path, all)
}

func (s *RelaySessionFileStore) DeleteSession(relayURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := all[relayURL]; !ok {
		return nil
	}
	delete(all, relayURL)
	return writeJSON(s.path, all)
}

var _ domain.RelaySessionStore = (*RelaySessionFileStore)(nil)
