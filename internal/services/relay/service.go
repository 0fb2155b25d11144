package relay

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"beacon/internal/crypto"
	"beacon/internal/domain"
	"beacon/internal/guard"
)

const (
	DefaultTokenTTL       = 7 * 24 * time.Hour
	DefaultNonceRetention = 24 * time.Hour
)

// Config tunes the state machine. Zero fields take defaults.
type Config struct {
	TokenTTL time.Duration
	Window   guard.Window
	// NonceRetention is how long a ping nonce stays reserved. It is never
	// shorter than the freshness window.
	NonceRetention time.Duration
	// TrustedProviders may register agents whose ids are not derived from
	// their key.
	TrustedProviders []string
}

func (c Config) withDefaults() Config {
	if c.TokenTTL <= 0 {
		c.TokenTTL = DefaultTokenTTL
	}
	if c.Window.MaxAge <= 0 && c.Window.MaxFutureSkew <= 0 {
		c.Window = guard.DefaultWindow()
	}
	if c.NonceRetention <= 0 {
		c.NonceRetention = DefaultNonceRetention
	}
	c.NonceRetention = max(c.NonceRetention, c.Window.Retention())
	if c.TrustedProviders == nil {
		c.TrustedProviders = []string{"swarmhub"}
	}
	return c
}

// Outcome names how an accepted ping was handled.
type Outcome string

const (
	OutcomeRegistered   Outcome = "registered"
	OutcomeReRegistered Outcome = "re_registered"
	OutcomeHeartbeat    Outcome = "heartbeat"
)

// Result is an accepted ping.
type Result struct {
	Status   int
	Outcome  Outcome
	Response domain.PingResponse
}

// Service runs pings against a roster.
type Service struct {
	roster domain.Roster
	cfg    Config
	now    func() time.Time
	log    *zap.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

func New(roster domain.Roster, cfg Config, opts ...Option) *Service {
	s := &Service{roster: roster, cfg: cfg.withDefaults(), now: time.Now, log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// Ping handles one decoded ping. Rejections are *PingError values; any
// other error is a storage failure.
func (s *Service) Ping(ctx context.Context, p Ping) (Result, error) {
	if p.AgentID == "" {
		return Result{}, errAgentIDRequired
	}
	var res Result
	err := s.roster.InTx(ctx, func(tx domain.RosterTx) error {
		rec, found, err := tx.GetAgent(p.AgentID)
		if err != nil {
			return err
		}
		if found {
			res, err = s.heartbeat(tx, rec, p)
		} else {
			res, err = s.register(tx, p)
		}
		return err
	})
	if err != nil {
		var pe *PingError
		if errors.As(err, &pe) {
			s.log.Info("ping rejected",
				zap.String("agent_id", p.AgentID.String()),
				zap.Int("status", pe.Status),
				zap.String("reason", pe.Message),
				zap.String("origin_ip", p.OriginIP))
		} else {
			s.log.Error("ping failed", zap.String("agent_id", p.AgentID.String()), zap.Error(err))
		}
		return Result{}, err
	}
	s.log.Debug("ping accepted",
		zap.String("agent_id", p.AgentID.String()),
		zap.String("outcome", string(res.Outcome)),
		zap.Int64("beat_count", res.Response.BeatCount))
	return res, nil
}

func (s *Service) register(tx domain.RosterTx, p Ping) (Result, error) {
	derived := strings.HasPrefix(p.AgentID.String(), domain.AgentIDPrefix)
	if !derived && !slices.Contains(s.cfg.TrustedProviders, p.Provider) {
		return Result{}, errUntrustedProvider
	}
	if p.PubkeyHex == "" {
		return Result{}, errPubkeyRequired
	}
	if p.Signature == "" {
		return Result{}, errSignatureRequired
	}
	pub, ok := crypto.ParsePublicHex(p.PubkeyHex)
	if !ok {
		return Result{}, errBadPubkey
	}
	if derived && crypto.AgentIDFromPubkey(pub.Slice()) != p.AgentID {
		return Result{}, errIDMismatch
	}
	if !s.verifyRegistration(p.PubkeyHex, p) {
		return Result{}, errBadSignature
	}

	now := s.now()
	if err := s.admit(tx, p, now); err != nil {
		return Result{}, err
	}
	token, err := crypto.NewRelayToken()
	if err != nil {
		return Result{}, fmt.Errorf("relay token: %w", err)
	}
	rec := domain.RelayAgentRecord{
		AgentID:       p.AgentID,
		PubkeyHex:     p.PubkeyHex,
		RelayToken:    token,
		TokenExpires:  now.Add(s.cfg.TokenTTL),
		Name:          p.Name,
		Provider:      p.Provider,
		Status:        p.Status,
		BeatCount:     1,
		RegisteredAt:  now,
		LastHeartbeat: now,
		OriginIP:      p.OriginIP,
		Metadata:      p.Metadata,
	}
	if rec.Status == "" {
		rec.Status = "alive"
	}
	if err := tx.InsertAgent(rec); err != nil {
		return Result{}, err
	}
	s.log.Info("agent registered", zap.String("agent_id", rec.AgentID.String()), zap.String("provider", rec.Provider))
	return Result{
		Status:  http.StatusCreated,
		Outcome: OutcomeRegistered,
		Response: domain.PingResponse{
			OK:                true,
			AgentID:           rec.AgentID,
			RelayToken:        token,
			TokenExpires:      unixSeconds(rec.TokenExpires),
			BeatCount:         rec.BeatCount,
			SignatureVerified: true,
			AutoRegistered:    true,
		},
	}, nil
}

func (s *Service) heartbeat(tx domain.RosterTx, rec domain.RelayAgentRecord, p Ping) (Result, error) {
	now := s.now()
	token := p.Bearer
	if token == "" {
		token = p.RelayToken
	}

	if p.Register && !tokenUsable(rec, now) && p.Signature != "" {
		return s.reregister(tx, rec, p, now)
	}

	switch {
	case token != "":
		if rec.RelayToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(rec.RelayToken)) != 1 {
			return Result{}, errTokenInvalid
		}
		if tokenExpired(rec, now) {
			return Result{}, errTokenExpired
		}
		if err := s.admit(tx, p, now); err != nil {
			return Result{}, err
		}
	case p.Signature != "":
		if err := s.admitSigned(tx, rec, p, now); err != nil {
			return Result{}, err
		}
	default:
		return Result{}, errTokenRequired
	}

	rec.BeatCount++
	rec.LastHeartbeat = now
	s.applyProfile(&rec, p)
	if err := tx.UpdateAgent(rec); err != nil {
		return Result{}, err
	}
	return Result{
		Status:  http.StatusOK,
		Outcome: OutcomeHeartbeat,
		Response: domain.PingResponse{
			OK:        true,
			AgentID:   rec.AgentID,
			BeatCount: rec.BeatCount,
		},
	}, nil
}

// reregister issues a fresh token to a known agent that proves it still
// holds the registered key. Only the canonical form is accepted here: a bare
// agent id signature never changes and could be replayed for a new token.
func (s *Service) reregister(tx domain.RosterTx, rec domain.RelayAgentRecord, p Ping, now time.Time) (Result, error) {
	if rec.PubkeyHex == "" || (p.PubkeyHex != "" && p.PubkeyHex != rec.PubkeyHex) {
		return Result{}, errKeyMismatch
	}
	if !s.verifyPayload(rec.PubkeyHex, p) {
		return Result{}, errBadSignature
	}
	if err := s.admit(tx, p, now); err != nil {
		return Result{}, err
	}
	if p.Nonce == "" || p.TS == 0 {
		return Result{}, errFreshnessRequired
	}
	token, err := crypto.NewRelayToken()
	if err != nil {
		return Result{}, fmt.Errorf("relay token: %w", err)
	}
	rec.RelayToken = token
	rec.TokenExpires = now.Add(s.cfg.TokenTTL)
	rec.BeatCount++
	rec.LastHeartbeat = now
	s.applyProfile(&rec, p)
	if err := tx.UpdateAgent(rec); err != nil {
		return Result{}, err
	}
	s.log.Info("agent re-registered", zap.String("agent_id", rec.AgentID.String()))
	return Result{
		Status:  http.StatusCreated,
		Outcome: OutcomeReRegistered,
		Response: domain.PingResponse{
			OK:                true,
			AgentID:           rec.AgentID,
			RelayToken:        token,
			TokenExpires:      unixSeconds(rec.TokenExpires),
			BeatCount:         rec.BeatCount,
			SignatureVerified: true,
			ReRegistered:      true,
		},
	}, nil
}

func (s *Service) applyProfile(rec *domain.RelayAgentRecord, p Ping) {
	if p.Status != "" {
		rec.Status = p.Status
	}
	if p.Name != "" {
		rec.Name = p.Name
	}
	if p.Metadata != nil {
		rec.Metadata = p.Metadata
	}
	if p.OriginIP != "" {
		rec.OriginIP = p.OriginIP
	}
}

// admit checks the optional ts and reserves the optional nonce, in that
// order. Nonces are scoped per agent.
func (s *Service) admit(tx domain.RosterTx, p Ping, now time.Time) error {
	if p.TS != 0 && s.cfg.Window.Check(p.TS, now) != guard.ReasonOK {
		return errStale
	}
	if p.Nonce == "" {
		return nil
	}
	ok, err := tx.Reserve(p.AgentID.String(), p.Nonce, now, s.cfg.NonceRetention)
	if err != nil {
		return err
	}
	if !ok {
		return errReplay
	}
	return nil
}

// admitSigned authenticates a ping that carries a signature instead of a
// token. The signature must cover the canonical request, including its
// nonce and ts. A signature over the bare agent id is a registration, so a
// replayed registration body still hits the nonce check and answers 409.
// Errors roll back the transaction, so a rejected ping reserves nothing.
func (s *Service) admitSigned(tx domain.RosterTx, rec domain.RelayAgentRecord, p Ping, now time.Time) error {
	if rec.PubkeyHex == "" {
		return errBadSignature
	}
	if !s.verifyPayload(rec.PubkeyHex, p) {
		if !crypto.VerifyHex(rec.PubkeyHex, p.Signature, []byte(p.AgentID)) {
			return errBadSignature
		}
		if err := s.admit(tx, p, now); err != nil {
			return err
		}
		return errBadSignature
	}
	if err := s.admit(tx, p, now); err != nil {
		return err
	}
	if p.Nonce == "" || p.TS == 0 {
		return errFreshnessRequired
	}
	return nil
}

// verifyPayload checks the signature over the canonical request.
func (s *Service) verifyPayload(pubkeyHex string, p Ping) bool {
	msg, err := SigningPayload(p.Fields)
	if err != nil {
		return false
	}
	return crypto.VerifyHex(pubkeyHex, p.Signature, msg)
}

// verifyRegistration also accepts a signature over the bare agent id, the
// form older agents send when registering.
func (s *Service) verifyRegistration(pubkeyHex string, p Ping) bool {
	return s.verifyPayload(pubkeyHex, p) || crypto.VerifyHex(pubkeyHex, p.Signature, []byte(p.AgentID))
}

func tokenExpired(rec domain.RelayAgentRecord, now time.Time) bool {
	return !rec.TokenExpires.IsZero() && !now.Before(rec.TokenExpires)
}

func tokenUsable(rec domain.RelayAgentRecord, now time.Time) bool {
	return rec.RelayToken != "" && !tokenExpired(rec, now)
}

func unixSeconds(t time.Time) float64 { return float64(t.UnixMilli()) / 1e3 }

// Seed pre-registers an agent, typically a provider agent whose id is not
// derived from a key. When rec has no token the row keeps its live token or
// gets a new one. An existing row keeps its beat count and registration
// time. A configured token without an expiry never expires.
func (s *Service) Seed(ctx context.Context, rec domain.RelayAgentRecord) (domain.RelayAgentRecord, error) {
	if rec.AgentID == "" {
		return domain.RelayAgentRecord{}, errAgentIDRequired
	}
	now := s.now()
	err := s.roster.InTx(ctx, func(tx domain.RosterTx) error {
		existing, found, err := tx.GetAgent(rec.AgentID)
		if err != nil {
			return err
		}
		if rec.RelayToken == "" && found && tokenUsable(existing, now) {
			rec.RelayToken = existing.RelayToken
			rec.TokenExpires = existing.TokenExpires
		}
		if rec.RelayToken == "" {
			token, err := crypto.NewRelayToken()
			if err != nil {
				return fmt.Errorf("relay token: %w", err)
			}
			rec.RelayToken = token
			rec.TokenExpires = now.Add(s.cfg.TokenTTL)
		}
		if !found {
			if rec.RegisteredAt.IsZero() {
				rec.RegisteredAt = now
			}
			return tx.InsertAgent(rec)
		}
		rec.BeatCount = existing.BeatCount
		rec.RegisteredAt = existing.RegisteredAt
		rec.LastHeartbeat = existing.LastHeartbeat
		return tx.UpdateAgent(rec)
	})
	if err != nil {
		return domain.RelayAgentRecord{}, err
	}
	s.log.Info("agent seeded", zap.String("agent_id", rec.AgentID.String()), zap.String("provider", rec.Provider))
	return rec, nil
}

// Get returns the roster row for id.
func (s *Service) Get(ctx context.Context, id domain.AgentID) (domain.RelayAgentRecord, bool, error) {
	var (
		rec   domain.RelayAgentRecord
		found bool
	)
	err := s.roster.InTx(ctx, func(tx domain.RosterTx) error {
		var err error
		rec, found, err = tx.GetAgent(id)
		return err
	})
	return rec, found, err
}

// List returns the whole roster.
func (s *Service) List(ctx context.Context) ([]domain.RelayAgentRecord, error) {
	return s.roster.ListAgents(ctx)
}

// Revoke removes id from the roster. Its token stops working immediately.
func (s *Service) Revoke(ctx context.Context, id domain.AgentID) (bool, error) {
	var deleted bool
	err := s.roster.InTx(ctx, func(tx domain.RosterTx) error {
		var err error
		deleted, err = tx.DeleteAgent(id)
		return err
	})
	if err == nil && deleted {
		s.log.Info("agent revoked", zap.String("agent_id", id.String()))
	}
	return deleted, err
}

// PruneNonces drops nonce reservations that expired before the cutoff.
func (s *Service) PruneNonces(ctx context.Context, before time.Time) (int64, error) {
	return s.roster.PruneNonces(ctx, before)
}
