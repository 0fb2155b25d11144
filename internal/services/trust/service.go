package trust

import (
	"encoding/hex"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"beacon/internal/codec"
	"beacon/internal/crypto"
	"beacon/internal/domain"
)

// Service implements domain.TrustService over a KnownKeyStore.
type Service struct {
	store domain.KnownKeyStore
	mu    sync.Mutex
	now   func() time.Time
	log   *zap.Logger
}

var _ domain.TrustService = (*Service)(nil)

type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

func New(store domain.KnownKeyStore, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now, log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func unixSeconds(t time.Time) float64 { return float64(t.UnixNano()) / 1e9 }

// IsExpired reports whether rec has gone unseen for longer than its TTL.
func IsExpired(rec domain.KnownKeyRecord, now time.Time) bool {
	last := rec.LastSeen
	if last == 0 {
		last = rec.FirstSeen
	}
	return unixSeconds(now)-last > rec.TTL().Seconds()
}

func newRecord(pubkeyHex string, now float64) domain.KnownKeyRecord {
	return domain.KnownKeyRecord{
		PubkeyHex:    pubkeyHex,
		FirstSeen:    now,
		LastSeen:     now,
		PreviousKeys: []string{},
		TTLSeconds:   int64(domain.DefaultKeyTTL / time.Second),
	}
}

// Trust pins pubkeyHex for agentID. It reports false, without changing
// anything, when a different key is pinned and allowRotate is not set.
func (s *Service) Trust(agentID domain.AgentID, pubkeyHex string, allowRotate bool) (bool, error) {
	if _, ok := crypto.ParsePublicHex(pubkeyHex); !ok {
		return false, fmt.Errorf("trust %s: pubkey_hex: %w", agentID, domain.ErrMalformed)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.store.LoadKnownKeys()
	if err != nil {
		return false, err
	}
	if !s.trustLocked(keys, agentID, pubkeyHex, allowRotate) {
		return false, nil
	}
	return true, s.store.SaveKnownKeys(keys)
}

func (s *Service) trustLocked(keys map[domain.AgentID]domain.KnownKeyRecord, agentID domain.AgentID, pubkeyHex string, allowRotate bool) bool {
	now := unixSeconds(s.now())
	existing, ok := keys[agentID]
	switch {
	case !ok:
		keys[agentID] = newRecord(pubkeyHex, now)
	case existing.PubkeyHex == pubkeyHex:
		existing.LastSeen = now
		keys[agentID] = existing
	case !allowRotate:
		return false
	default:
		prev := slices.Clone(existing.PreviousKeys)
		if existing.PubkeyHex != "" && !slices.Contains(prev, existing.PubkeyHex) {
			prev = append(prev, existing.PubkeyHex)
		}
		if prev == nil {
			prev = []string{}
		}
		first := existing.FirstSeen
		if first == 0 {
			first = now
		}
		keys[agentID] = domain.KnownKeyRecord{
			PubkeyHex:     pubkeyHex,
			FirstSeen:     first,
			LastSeen:      now,
			RotationCount: existing.RotationCount + 1,
			PreviousKeys:  prev,
			TTLSeconds:    existing.TTLSeconds,
		}
		s.log.Info("key rotated",
			zap.String("agent_id", agentID.String()),
			zap.Int("rotation_count", existing.RotationCount+1))
	}
	return true
}

// Rotate installs newPubkeyHex when sigByOldKey is a valid signature by the
// pinned key over the raw new key bytes. Unknown agents cannot rotate.
func (s *Service) Rotate(agentID domain.AgentID, newPubkeyHex string, sigByOldKey []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.store.LoadKnownKeys()
	if err != nil {
		return false, err
	}
	if !s.rotateLocked(keys, agentID, newPubkeyHex, sigByOldKey) {
		return false, nil
	}
	return true, s.store.SaveKnownKeys(keys)
}

func (s *Service) rotateLocked(keys map[domain.AgentID]domain.KnownKeyRecord, agentID domain.AgentID, newPubkeyHex string, sig []byte) bool {
	existing, ok := keys[agentID]
	if !ok || existing.PubkeyHex == "" {
		return false
	}
	newPub, ok := crypto.ParsePublicHex(newPubkeyHex)
	if !ok {
		return false
	}
	if !crypto.VerifyHex(existing.PubkeyHex, hex.EncodeToString(sig), newPub.Slice()) {
		s.log.Warn("rotation proof rejected", zap.String("agent_id", agentID.String()))
		return false
	}
	return s.trustLocked(keys, agentID, newPubkeyHex, true)
}

// Revoke forgets agentID. It reports false when nothing was pinned.
func (s *Service) Revoke(agentID domain.AgentID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.store.LoadKnownKeys()
	if err != nil {
		return false, err
	}
	if _, ok := keys[agentID]; !ok {
		return false, nil
	}
	delete(keys, agentID)
	return true, s.store.SaveKnownKeys(keys)
}

// Get returns the record for agentID, expired or not.
func (s *Service) Get(agentID domain.AgentID) (domain.KnownKeyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.store.LoadKnownKeys()
	if err != nil {
		return domain.KnownKeyRecord{}, false, err
	}
	rec, ok := keys[agentID]
	return rec, ok, nil
}

// List returns pinned keys, dropping expired ones unless showExpired.
func (s *Service) List(showExpired bool) (map[domain.AgentID]domain.KnownKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.store.LoadKnownKeys()
	if err != nil {
		return nil, err
	}
	if showExpired {
		return keys, nil
	}
	now := s.now()
	for id, rec := range keys {
		if IsExpired(rec, now) {
			delete(keys, id)
		}
	}
	return keys, nil
}

// TrustedKeys returns agent id to pubkey hex for every unexpired key, the
// form codec.VerifyEnvelope consumes.
func (s *Service) TrustedKeys() (map[domain.AgentID]string, error) {
	keys, err := s.List(false)
	if err != nil {
		return nil, err
	}
	out := make(map[domain.AgentID]string, len(keys))
	for id, rec := range keys {
		out[id] = rec.PubkeyHex
	}
	return out, nil
}

// Learn applies the auto-learn rules to envs in order and persists the
// result once. It returns how many records changed.
//
// An envelope is considered only when its embedded pubkey derives to its
// agent id. A new agent is pinned only if the envelope signature verifies
// with that key. A verified sighting of the pinned key refreshes last_seen. A
// different key is treated as a rotation attempt, proven by rotation_sig
// when present and otherwise by sig.
func (s *Service) Learn(envs ...domain.Envelope) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.store.LoadKnownKeys()
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, env := range envs {
		if s.learnLocked(keys, env) {
			changed++
		}
	}
	if changed == 0 {
		return 0, nil
	}
	return changed, s.store.SaveKnownKeys(keys)
}

func (s *Service) learnLocked(keys map[domain.AgentID]domain.KnownKeyRecord, env domain.Envelope) bool {
	if env.AgentID == "" || env.Pubkey == "" {
		return false
	}
	derived, err := crypto.AgentIDFromPubkeyHex(env.Pubkey)
	if err != nil || derived != env.AgentID {
		return false
	}

	existing, ok := keys[env.AgentID]
	switch {
	case !ok:
		if codec.VerifyEnvelope(env, nil) != domain.Verified {
			return false
		}
		keys[env.AgentID] = newRecord(env.Pubkey, unixSeconds(s.now()))
		s.log.Debug("learned key", zap.String("agent_id", env.AgentID.String()))
		return true
	case existing.PubkeyHex == env.Pubkey:
		if codec.VerifyEnvelope(env, map[domain.AgentID]string{env.AgentID: existing.PubkeyHex}) != domain.Verified {
			return false
		}
		existing.LastSeen = unixSeconds(s.now())
		keys[env.AgentID] = existing
		return true
	default:
		proof := env.RotationSig
		if proof == "" {
			proof = env.Sig
		}
		sig, err := hex.DecodeString(proof)
		if err != nil {
			return false
		}
		return s.rotateLocked(keys, env.AgentID, env.Pubkey, sig)
	}
}
