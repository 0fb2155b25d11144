package store

import (
	"encoding/json"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"beacon/internal/domain"
)

const knownKeysFile = "known_keys.json"

// KnownKeyFileStore persists the TOFU key map as one JSON object keyed by
// agent id.
type KnownKeyFileStore struct {
	path string
	log  *zap.Logger
	mu   sync.Mutex
}

// NewKnownKeyFileStore returns a KnownKeyFileStore rooted at dir. A nil
// logger is replaced with a no-op one.
func NewKnownKeyFileStore(dir string, log *zap.Logger) *KnownKeyFileStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &KnownKeyFileStore{path: filepath.Join(dir, knownKeysFile), log: log}
}

// LoadKnownKeys returns the stored map. A corrupt file is logged and read
// as empty so one bad write cannot lock the user out of the inbox. Entries
// in the legacy form {"agent_id": "pubkey_hex"} are upgraded in memory.
func (s *KnownKeyFileStore) LoadKnownKeys() (map[domain.AgentID]domain.KnownKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[domain.AgentID]domain.KnownKeyRecord)
	b, err := readFile(s.path)
	if err != nil {
		s.log.Warn("known keys unreadable; starting empty", zap.String("path", s.path), zap.Error(err))
		return out, nil
	}
	if b == nil {
		return out, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		s.log.Warn("known keys corrupt; starting empty", zap.String("path", s.path), zap.Error(err))
		return out, nil
	}
	for id, v := range raw {
		var legacy string
		if json.Unmarshal(v, &legacy) == nil {
			out[domain.AgentID(id)] = domain.KnownKeyRecord{
				PubkeyHex:  legacy,
				TTLSeconds: int64(domain.DefaultKeyTTL.Seconds()),
			}
			continue
		}
		var rec domain.KnownKeyRecord
		if err := json.Unmarshal(v, &rec); err != nil || rec.PubkeyHex == "" {
			s.log.Warn("skipping bad known key entry", zap.String("agent_id", id), zap.Error(err))
			continue
		}
		out[domain.AgentID(id)] = rec
	}
	return out, nil
}

// SaveKnownKeys atomically replaces the stored map.
func (s *KnownKeyFileStore) SaveKnownKeys(keys map[domain.AgentID]domain.KnownKeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if keys == nil {
		keys = map[domain.AgentID]domain.KnownKeyRecord{}
	}
	return writeJSON(s.path, keys)
}

var _ domain.KnownKeyStore = (*KnownKeyFileStore)(nil)
