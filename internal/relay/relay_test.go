package relay_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"beacon/internal/crypto"
	"beacon/internal/domain"
	"beacon/internal/metrics"
	"beacon/internal/platform/ratelimiter"
	"beacon/internal/relay"
	relaysvc "beacon/internal/services/relay"
	"beacon/internal/store/roster"
)

type env struct {
	srv *httptest.Server
	svc *relaysvc.Service
	m   *metrics.Relay
}

func newEnv(t *testing.T, lim *ratelimiter.Keyed) *env {
	t.Helper()
	r, err := roster.Open(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	e := &env{svc: relaysvc.New(r, relaysvc.Config{}), m: metrics.NewRelay()}
	e.srv = httptest.NewServer(relay.NewHandler(e.svc, relay.HandlerOptions{Metrics: e.m, Limiter: lim}))
	t.Cleanup(e.srv.Close)
	return e
}

func newIdentity(t *testing.T) domain.Identity {
	t.Helper()
	id, err := crypto.NewIdentity()
	require.NoError(t, err)
	return id
}

func fastClient(base string, id domain.Identity) *relay.Client {
	return relay.NewClient(base, id, relay.WithRetry(4, time.Millisecond))
}

func TestClient_RegisterThenHeartbeat(t *testing.T) {
	e := newEnv(t, nil)
	id := newIdentity(t)
	c := fastClient(e.srv.URL, id)
	ctx := context.Background()

	resp, err := c.Ping(ctx, domain.PingRequest{Name: "scout"})
	require.NoError(t, err)
	require.True(t, resp.OK)
	require.Equal(t, id.AgentID, resp.AgentID)
	require.True(t, strings.HasPrefix(resp.RelayToken, "relay_"))
	require.True(t, resp.SignatureVerified)
	require.Equal(t, int64(1), resp.BeatCount)

	resp, err = c.Ping(ctx, domain.PingRequest{RelayToken: resp.RelayToken, Status: "busy"})
	require.NoError(t, err)
	require.Equal(t, int64(2), resp.BeatCount)

	rec, ok, err := e.svc.Get(ctx, id.AgentID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "busy", rec.Status)
	require.Equal(t, "127.0.0.1", rec.OriginIP)

	require.Equal(t, 1.0, testutil.ToFloat64(e.m.Pings.WithLabelValues("registered", "201")))
	require.Equal(t, 1.0, testutil.ToFloat64(e.m.Pings.WithLabelValues("heartbeat", "200")))
}

func TestClient_RejectionIsNotRetried(t *testing.T) {
	e := newEnv(t, nil)
	id := newIdentity(t)

	var hits atomic.Int32
	front := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		e.srv.Config.Handler.ServeHTTP(w, r)
	}))
	defer front.Close()

	c := fastClient(front.URL, id)
	_, err := c.Ping(context.Background(), domain.PingRequest{})
	require.NoError(t, err)
	hits.Store(0)

	_, err = c.Ping(context.Background(), domain.PingRequest{RelayToken: "relay_wrong"})
	var se *relay.StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusForbidden, se.Status)
	require.Equal(t, "Invalid relay_token", se.Message)
	require.Equal(t, int32(1), hits.Load())
}

func TestClient_RetriesServerErrors(t *testing.T) {
	e := newEnv(t, nil)
	id := newIdentity(t)

	var hits atomic.Int32
	front := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		e.srv.Config.Handler.ServeHTTP(w, r)
	}))
	defer front.Close()

	resp, err := fastClient(front.URL, id).Ping(context.Background(), domain.PingRequest{})
	require.NoError(t, err)
	require.Equal(t, int64(1), resp.BeatCount)
	require.Equal(t, int32(3), hits.Load())
}

func TestClient_GivesUpAfterAttempts(t *testing.T) {
	var hits atomic.Int32
	front := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer front.Close()

	_, err := relay.NewClient(front.URL, newIdentity(t), relay.WithRetry(3, time.Millisecond)).
		Ping(context.Background(), domain.PingRequest{})
	var se *relay.StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusBadGateway, se.Status)
	require.Equal(t, int32(3), hits.Load())
}

func post(t *testing.T, url, body, bearer string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+relay.PingPath, strings.NewReader(body))
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(raw)
}

func TestHandler_Errors(t *testing.T) {
	e := newEnv(t, nil)

	status, body := post(t, e.srv.URL, "{not json", "")
	require.Equal(t, http.StatusBadRequest, status)
	require.Contains(t, body, "invalid JSON body")

	status, body = post(t, e.srv.URL, `{"pubkey_hex":"ab"}`, "")
	require.Equal(t, http.StatusBadRequest, status)
	require.Contains(t, body, "agent_id required")

	status, body = post(t, e.srv.URL, `{"agent_id":"bcn_aaaaaaaaaaaa"}`, "")
	require.Equal(t, http.StatusBadRequest, status)
	require.Contains(t, body, "pubkey_hex required")

	status, _ = post(t, e.srv.URL, `{"agent_id":"`+strings.Repeat("a", 70<<10)+`"}`, "")
	require.Equal(t, http.StatusRequestEntityTooLarge, status)

	require.Equal(t, 3.0, testutil.ToFloat64(e.m.Pings.WithLabelValues(metrics.ResultRejected, "400")))
}

func TestHandler_BearerHeader(t *testing.T) {
	e := newEnv(t, nil)
	id := newIdentity(t)
	resp, err := fastClient(e.srv.URL, id).Ping(context.Background(), domain.PingRequest{})
	require.NoError(t, err)

	nonce, err := crypto.NewNonce()
	require.NoError(t, err)
	body := `{"agent_id":"` + id.AgentID.String() + `","nonce":"` + nonce + `","ts":` +
		strconv.FormatInt(time.Now().Unix(), 10) + `}`

	status, _ := post(t, e.srv.URL, body, "")
	require.Equal(t, http.StatusUnauthorized, status)

	status, out := post(t, e.srv.URL, body, resp.RelayToken)
	require.Equal(t, http.StatusOK, status, out)
	require.Contains(t, out, `"beat_count":2`)
}

func TestHandler_AgentsHidesTokens(t *testing.T) {
	e := newEnv(t, nil)
	id := newIdentity(t)
	c := fastClient(e.srv.URL, id)
	_, err := c.Ping(context.Background(), domain.PingRequest{Name: "scout"})
	require.NoError(t, err)

	agents, err := c.Agents(context.Background())
	require.NoError(t, err)
	require.Len(t, agents, 1)
	require.Equal(t, "scout", agents[0].Name)
	require.Empty(t, agents[0].RelayToken)

	resp, err := http.Get(e.srv.URL + relay.AgentsPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "relay_")
	require.NotContains(t, string(raw), "origin_ip")
	require.NotContains(t, string(raw), "127.0.0.1")
	require.Equal(t, 1.0, testutil.ToFloat64(e.m.Agents))
}

func TestHandler_RateLimited(t *testing.T) {
	e := newEnv(t, ratelimiter.New(ratelimiter.Config{Requests: 2, Window: time.Hour}))

	for i := 0; i < 2; i++ {
		status, _ := post(t, e.srv.URL, "{}", "")
		require.Equal(t, http.StatusBadRequest, status)
	}
	status, body := post(t, e.srv.URL, "{}", "")
	require.Equal(t, http.StatusTooManyRequests, status)

	resp, err := http.Post(e.srv.URL+relay.PingPath, "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	retry, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	require.NoError(t, err)
	require.Greater(t, retry, 1700)
	require.Contains(t, body, "rate limit")
	require.Equal(t, 2.0, testutil.ToFloat64(e.m.RateLimited))

	// Health and metrics are not limited.
	resp, err = http.Get(e.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(e.srv.URL + "/metrics")
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Contains(t, string(raw), "beacon_relay_rate_limited_total 2")
}
