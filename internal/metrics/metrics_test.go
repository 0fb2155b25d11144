package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"beacon/internal/metrics"
)

func TestObservePing(t *testing.T) {
	m := metrics.NewRelay()
	m.ObservePing("registered", 201, time.Millisecond)
	m.ObservePing("registered", 201, time.Millisecond)
	m.ObservePing(metrics.ResultRejected, 409, time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(m.Pings.WithLabelValues("registered", "201")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Pings.WithLabelValues(metrics.ResultRejected, "409")))

	var nilRelay *metrics.Relay
	nilRelay.ObservePing("heartbeat", 200, 0)
}

func TestHandler_ExposesCollectors(t *testing.T) {
	m := metrics.NewRelay()
	m.RateLimited.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "beacon_relay_rate_limited_total 1")
}
