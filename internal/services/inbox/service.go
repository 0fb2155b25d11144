package inbox

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"beacon/internal/codec"
	"beacon/internal/domain"
	"beacon/internal/guard"
)

// MaxReadNonces bounds the persisted read-set. The oldest nonces go first.
const MaxReadNonces = 10_000

// Keyring is the slice of the trust store the inbox needs.
type Keyring interface {
	TrustedKeys() (map[domain.AgentID]string, error)
	Learn(envs ...domain.Envelope) (int, error)
}

// Service implements domain.InboxService.
type Service struct {
	records domain.InboxLog
	state   domain.ReadStateStore
	keys    Keyring
	guard   *guard.Guard
	now     func() time.Time
	log     *zap.Logger

	mu     sync.Mutex // read-set read-modify-write
	primed sync.Once
}

var _ domain.InboxService = (*Service)(nil)

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

// WithGuard replaces the replay guard used by Ingest.
func WithGuard(g *guard.Guard) Option { return func(s *Service) { s.guard = g } }

// New wires the inbox over its stores. Without WithGuard, Ingest uses an
// in-memory guard with the default window.
func New(records domain.InboxLog, state domain.ReadStateStore, keys Keyring, opts ...Option) *Service {
	s := &Service{
		records: records,
		state:   state,
		keys:    keys,
		now:     time.Now,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.guard == nil {
		s.guard = guard.New(guard.NewMemoryStore(0), guard.WithClock(s.now), guard.WithLogger(s.log))
	}
	return s
}

// envelopesOf returns the envelopes attached to rec, decoding rec.Text only
// when none were attached.
func envelopesOf(rec domain.InboxRecord) []domain.Envelope {
	if len(rec.Envelopes) == 0 {
		if rec.Text == "" {
			return nil
		}
		return codec.DecodeEnvelopes(rec.Text)
	}
	envs := make([]domain.Envelope, 0, len(rec.Envelopes))
	for _, fields := range rec.Envelopes {
		env, err := codec.FromFields(fields)
		if err != nil {
			continue
		}
		envs = append(envs, env)
	}
	return envs
}

func entryOf(rec domain.InboxRecord) domain.InboxEntry {
	return domain.InboxEntry{
		Platform:   rec.Platform,
		From:       rec.From,
		ReceivedAt: rec.ReceivedAt,
		Text:       rec.Text,
	}
}

// Read returns entries matching f in log order, one per envelope. Records
// without envelopes appear as raw entries unless f filters by kind or agent.
func (s *Service) Read(f domain.InboxFilter) ([]domain.InboxEntry, error) {
	records, err := s.records.ReadRecords()
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}
	trusted, err := s.keys.TrustedKeys()
	if err != nil {
		return nil, fmt.Errorf("load trusted keys: %w", err)
	}
	read, err := s.readSet()
	if err != nil {
		return nil, err
	}

	var (
		out  []domain.InboxEntry
		seen []domain.Envelope
	)
	for _, rec := range records {
		envs := envelopesOf(rec)
		if len(envs) == 0 {
			if f.Kind != "" || f.AgentID != "" {
				continue
			}
			if f.Since != 0 && rec.ReceivedAt < f.Since {
				continue
			}
			out = append(out, entryOf(rec))
			continue
		}
		for _, env := range envs {
			seen = append(seen, env)

			e := entryOf(rec)
			e.Envelope = &env
			e.Verification = codec.VerifyEnvelope(env, trusted)
			if env.Nonce != "" {
				_, e.IsRead = read[env.Nonce]
			}

			switch {
			case f.Kind != "" && env.Kind != f.Kind:
			case f.AgentID != "" && env.AgentID != f.AgentID:
			case f.Since != 0 && rec.ReceivedAt < f.Since:
			case f.UnreadOnly && e.IsRead:
			default:
				out = append(out, e)
			}
		}
	}

	n, err := s.keys.Learn(seen...)
	if err != nil {
		return nil, fmt.Errorf("persist learned keys: %w", err)
	}
	if n > 0 {
		s.log.Debug("inbox scan updated keys", zap.Int("changed", n))
	}

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

func (s *Service) readSet() (map[string]struct{}, error) {
	nonces, err := s.state.LoadReadNonces()
	if err != nil {
		return nil, fmt.Errorf("load read state: %w", err)
	}
	set := make(map[string]struct{}, len(nonces))
	for _, n := range nonces {
		set[n] = struct{}{}
	}
	return set, nil
}

// MarkRead adds nonce to the read-set.
func (s *Service) MarkRead(nonce string) error {
	if nonce == "" {
		return fmt.Errorf("mark read: nonce: %w", domain.ErrMalformed)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	nonces, err := s.state.LoadReadNonces()
	if err != nil {
		return fmt.Errorf("load read state: %w", err)
	}
	for _, n := range nonces {
		if n == nonce {
			return nil
		}
	}
	nonces = append(nonces, nonce)
	if over := len(nonces) - MaxReadNonces; over > 0 {
		nonces = nonces[over:]
	}
	return s.state.SaveReadNonces(nonces)
}

// Count returns the number of entries Read would return.
func (s *Service) Count(unreadOnly bool) (int, error) {
	entries, err := s.Read(domain.InboxFilter{UnreadOnly: unreadOnly})
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// EntryByNonce returns the first entry whose envelope carries nonce.
func (s *Service) EntryByNonce(nonce string) (domain.InboxEntry, bool, error) {
	entries, err := s.Read(domain.InboxFilter{})
	if err != nil {
		return domain.InboxEntry{}, false, err
	}
	for _, e := range entries {
		if e.Envelope != nil && e.Envelope.Nonce == nonce {
			return e, true, nil
		}
	}
	return domain.InboxEntry{}, false, nil
}

// ingestScope is the single replay scope for client-side dedup.
const ingestScope = ""

// Ingest admits rec into the log. Signed envelopes must pass the replay
// guard in one global scope, since the sender id is only a claim; the rest
// are dropped. A record whose envelopes
// were all dropped is not stored. Records with no envelopes are always
// stored. The returned record is what was appended.
func (s *Service) Ingest(rec domain.InboxRecord) (domain.InboxRecord, bool, error) {
	s.primed.Do(s.prime)

	if rec.ReceivedAt == 0 {
		rec.ReceivedAt = float64(s.now().UnixNano()) / 1e9
	}
	envs := envelopesOf(rec)
	if len(envs) > 0 {
		kept := make([]map[string]any, 0, len(envs))
		for _, env := range envs {
			if env.Signed() {
				if ok, reason := s.guard.Check(ingestScope, env); !ok {
					s.log.Info("dropping envelope",
						zap.String("agent_id", env.AgentID.String()),
						zap.String("nonce", env.Nonce),
						zap.String("reason", string(reason)))
					continue
				}
			}
			kept = append(kept, env.Fields)
		}
		if len(kept) == 0 {
			return domain.InboxRecord{}, false, nil
		}
		rec.Envelopes = kept
	}
	if err := s.records.AppendRecord(rec); err != nil {
		return domain.InboxRecord{}, false, fmt.Errorf("append inbox record: %w", err)
	}
	return rec, true, nil
}

// prime loads the nonces already in the log into the guard, so a process
// restart does not reopen the replay window.
func (s *Service) prime() {
	records, err := s.records.ReadRecords()
	if err != nil {
		s.log.Warn("replay guard not primed", zap.Error(err))
		return
	}
	for _, rec := range records {
		for _, env := range envelopesOf(rec) {
			if env.Signed() {
				_, _ = s.guard.Check(ingestScope, env)
			}
		}
	}
}
