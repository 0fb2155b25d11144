package store

import (
	"encoding/json"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"beacon/internal/domain"
)

const (
	stateFile     = "state.json"
	readNoncesKey = "read_nonces"
)

// ReadStateFileStore keeps the read-nonce set inside state.json. Other keys
// in the file are preserved while the file parses.
type ReadStateFileStore struct {
	path string
	log  *zap.Logger
	mu   sync.Mutex
}

// NewReadStateFileStore returns a ReadStateFileStore rooted at dir. A nil
// logger is replaced with a no-op one.
func NewReadStateFileStore(dir string, log *zap.Logger) *ReadStateFileStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReadStateFileStore{path: filepath.Join(dir, stateFile), log: log}
}

// load returns the parsed state. An unreadable or corrupt file is logged and
// read as empty, so the next save rewrites it whole.
func (s *ReadStateFileStore) load() map[string]json.RawMessage {
	state := make(map[string]json.RawMessage)
	if _, err := readJSON(s.path, &state); err != nil {
		s.log.Warn("read state corrupt; starting empty", zap.String("path", s.path), zap.Error(err))
		return make(map[string]json.RawMessage)
	}
	return state
}

// LoadReadNonces returns the stored nonces, oldest first.
func (s *ReadStateFileStore) LoadReadNonces() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var nonces []string
	if raw, ok := s.load()[readNoncesKey]; ok {
		if err := json.Unmarshal(raw, &nonces); err != nil {
			s.log.Warn("read nonces corrupt; starting empty", zap.String("path", s.path), zap.Error(err))
			return nil, nil
		}
	}
	return nonces, nil
}

// SaveReadNonces replaces the stored nonce list.
func (s *ReadStateFileStore) SaveReadNonces(nonces []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.load()
	if nonces == nil {
		nonces = []string{}
	}
	raw, err := json.Marshal(nonces)
	if err != nil {
		return err
	}
	state[readNoncesKey] = raw
	return writeJSON(s.path, state)
}

var _ domain.ReadStateStore = (*ReadStateFileStore)(nil)
