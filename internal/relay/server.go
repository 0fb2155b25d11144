package relay

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"beacon/internal/domain"
	"beacon/internal/metrics"
	"beacon/internal/platform/ratelimiter"
	relaysvc "beacon/internal/services/relay"
)

const maxPingBody = 64 << 10

// HandlerOptions carries the handler's collaborators. Every field may be
// left zero.
type HandlerOptions struct {
	Logger  *zap.Logger
	Metrics *metrics.Relay
	Limiter *ratelimiter.Keyed
	// TrustProxyHeaders takes the client address from X-Real-IP or
	// X-Forwarded-For. Enable only behind a proxy that sets them.
	TrustProxyHeaders bool
	Now               func() time.Time
}

type server struct {
	svc *relaysvc.Service
	log *zap.Logger
	m   *metrics.Relay
	lim *ratelimiter.Keyed
	now func() time.Time
}

// NewHandler routes the relay API onto svc.
func NewHandler(svc *relaysvc.Service, o HandlerOptions) http.Handler {
	s := &server{svc: svc, log: o.Logger, m: o.Metrics, lim: o.Limiter, now: o.Now}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if o.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	if s.m != nil {
		r.Method(http.MethodGet, "/metrics", s.m.Handler())
	}
	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post(PingPath, s.handlePing)
		r.Get(AgentsPath, s.handleAgents)
	})
	return r
}

func (s *server) handlePing(w http.ResponseWriter, r *http.Request) {
	start := s.now()
	status, outcome := s.ping(w, r)
	s.m.ObservePing(outcome, status, s.now().Sub(start))
}

func (s *server) ping(w http.ResponseWriter, r *http.Request) (int, string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPingBody))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return s.fail(w, http.StatusRequestEntityTooLarge, "request body too large")
		}
		return s.fail(w, http.StatusBadRequest, "invalid JSON body")
	}

	p, err := relaysvc.ParsePing(body)
	if err != nil {
		return s.reject(w, err)
	}
	p.Bearer = bearerToken(r)
	p.OriginIP = clientIP(r)

	res, err := s.svc.Ping(r.Context(), p)
	if err != nil {
		return s.reject(w, err)
	}
	writeJSON(w, res.Status, res.Response)
	return res.Status, string(res.Outcome)
}

func (s *server) reject(w http.ResponseWriter, err error) (int, string) {
	status := relaysvc.StatusOf(err)
	if status == http.StatusInternalServerError {
		s.log.Error("relay ping", zap.Error(err))
		writeJSON(w, status, domain.PingResponse{Error: "internal error"})
		return status, metrics.ResultError
	}
	return s.fail(w, status, err.Error())
}

func (s *server) fail(w http.ResponseWriter, status int, msg string) (int, string) {
	writeJSON(w, status, domain.PingResponse{Error: msg})
	return status, metrics.ResultRejected
}

func (s *server) handleAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.svc.List(r.Context())
	if err != nil {
		s.log.Error("relay list agents", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}
	if agents == nil {
		agents = []domain.RelayAgentRecord{}
	}
	if s.m != nil {
		s.m.Agents.Set(float64(len(agents)))
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents, "count": len(agents)})
}

func (s *server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := s.lim.Allow(clientIP(r), s.now())
		if !d.Allowed {
			if s.m != nil {
				s.m.RateLimited.Inc()
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(d.RetryAfter)))
			writeJSON(w, http.StatusTooManyRequests, domain.PingResponse{Error: "rate limit exceeded"})
			return
		}
		if s.lim != nil {
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		}
		next.ServeHTTP(w, r)
	})
}

// retryAfterSeconds rounds up to whole seconds, at least one.
func retryAfterSeconds(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}

func (s *server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("took", time.Since(start)),
			zap.String("remote", clientIP(r)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
