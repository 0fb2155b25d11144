package presence

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"beacon/internal/domain"
	"beacon/internal/relay"
)

type Service struct {
	sessions domain.RelaySessionStore
	client   domain.RelayClient
	relayURL string
	agentID  domain.AgentID
	now      func() time.Time
	log      *zap.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

// New beats relayURL through client on behalf of agentID.
func New(sessions domain.RelaySessionStore, client domain.RelayClient, relayURL string, agentID domain.AgentID, opts ...Option) *Service {
	s := &Service{
		sessions: sessions,
		client:   client,
		relayURL: relayURL,
		agentID:  agentID,
		now:      time.Now,
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Beat sends profile (name, status, metadata) to the relay.
func (s *Service) Beat(ctx context.Context, profile domain.PingRequest) (domain.PingResponse, error) {
	sess, ok, err := s.sessions.LoadSession(s.relayURL)
	if err != nil {
		return domain.PingResponse{}, err
	}
	now := float64(s.now().UnixMilli()) / 1e3
	usable := ok && sess.AgentID == s.agentID && sess.RelayToken != "" && !sess.Expired(now)

	req := profile
	req.RelayToken = ""
	req.Register = !usable
	if usable {
		req.RelayToken = sess.RelayToken
	}

	resp, err := s.client.Ping(ctx, req)
	var se *relay.StatusError
	if usable && errors.As(err, &se) && (se.Status == http.StatusForbidden || se.Status == http.StatusUnauthorized) {
		s.log.Info("relay refused stored token, re-registering",
			zap.String("relay", s.relayURL),
			zap.Int("status", se.Status),
			zap.String("reason", se.Message))
		if err := s.sessions.DeleteSession(s.relayURL); err != nil {
			return domain.PingResponse{}, err
		}
		req.RelayToken = ""
		req.Register = true
		resp, err = s.client.Ping(ctx, req)
	}
	if err != nil {
		return resp, fmt.Errorf("ping %s: %w", s.relayURL, err)
	}

	if resp.RelayToken != "" {
		err := s.sessions.SaveSession(domain.RelaySession{
			RelayURL:     s.relayURL,
			AgentID:      s.agentID,
			RelayToken:   resp.RelayToken,
			TokenExpires: resp.TokenExpires,
		})
		if err != nil {
			return resp, fmt.Errorf("save relay token: %w", err)
		}
	}
	return resp, nil
}
