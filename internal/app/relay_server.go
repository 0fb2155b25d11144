package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"beacon/internal/metrics"
	"beacon/internal/platform/ratelimiter"
	"beacon/internal/relay"
	relaysvc "beacon/internal/services/relay"
	"beacon/internal/store/roster"
)

// RelayServer is the relay daemon: roster, state machine and HTTP API.
type RelayServer struct {
	cfg     RelayConfig
	log     *zap.Logger
	roster  *roster.SQLite
	svc     *relaysvc.Service
	metrics *metrics.Relay
	handler http.Handler
}

// NewRelayServer opens the roster and installs configured seeds.
func NewRelayServer(ctx context.Context, cfg RelayConfig, log *zap.Logger) (*RelayServer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	r, err := roster.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	svc := relaysvc.New(r, cfg.Service(), relaysvc.WithLogger(log.Named("relay")))
	for _, seed := range cfg.Seeds {
		if _, err := svc.Seed(ctx, seed.record()); err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("seed %s: %w", seed.AgentID, err)
		}
	}

	m := metrics.NewRelay()
	return &RelayServer{
		cfg:     cfg,
		log:     log,
		roster:  r,
		svc:     svc,
		metrics: m,
		handler: relay.NewHandler(svc, relay.HandlerOptions{
			Logger:            log.Named("http"),
			Metrics:           m,
			Limiter:           ratelimiter.New(cfg.RateLimit),
			TrustProxyHeaders: cfg.TrustProxyHeaders,
		}),
	}, nil
}

func (s *RelayServer) Handler() http.Handler { return s.handler }

func (s *RelayServer) Service() *relaysvc.Service { return s.svc }

// Run listens on the configured address and serves until ctx is done.
func (s *RelayServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully. It
// also prunes expired nonce reservations every PruneInterval.
func (s *RelayServer) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("relay listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving relay API: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if s.cfg.PruneInterval > 0 {
		g.Go(func() error {
			s.pruneLoop(gctx)
			return nil
		})
	}
	return g.Wait()
}

func (s *RelayServer) pruneLoop(ctx context.Context) {
	t := time.NewTicker(s.cfg.PruneInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			s.Prune(ctx, now)
		}
	}
}

// Prune drops nonce reservations that expired before now.
func (s *RelayServer) Prune(ctx context.Context, now time.Time) {
	n, err := s.svc.PruneNonces(ctx, now)
	if err != nil {
		s.log.Warn("prune nonces", zap.Error(err))
		return
	}
	s.metrics.NoncesPruned.Add(float64(n))
	if n > 0 {
		s.log.Debug("pruned nonces", zap.Int64("count", n))
	}
}

func (s *RelayServer) Close() error { return s.roster.Close() }
