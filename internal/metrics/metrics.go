package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "beacon_relay"

// Label values for ResultLabel.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Relay holds the relay's collectors on their own registry.
type Relay struct {
	reg *prometheus.Registry

	Pings        *prometheus.CounterVec
	PingLatency  prometheus.Histogram
	RateLimited  prometheus.Counter
	Agents       prometheus.Gauge
	NoncesPruned prometheus.Counter
}

// NewRelay registers the relay collectors, plus the Go and process
// collectors, on a fresh registry.
func NewRelay() *Relay {
	m := &Relay{
		reg: prometheus.NewRegistry(),
		Pings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pings_total",
			Help:      "Ping requests handled, by outcome and HTTP status.",
		}, []string{"outcome", "status"}),
		PingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ping_duration_seconds",
			Help:      "Time spent handling a ping request.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests refused by per-IP rate admission.",
		}),
		Agents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents",
			Help:      "Agents in the roster at the last listing.",
		}),
		NoncesPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nonces_pruned_total",
			Help:      "Expired nonce reservations removed.",
		}),
	}
	m.reg.MustRegister(
		m.Pings,
		m.PingLatency,
		m.RateLimited,
		m.Agents,
		m.NoncesPruned,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObservePing records one handled ping. outcome is the state machine
// outcome, or a ResultLabel value when the ping was refused.
func (m *Relay) ObservePing(outcome string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.Pings.WithLabelValues(outcome, strconv.Itoa(status)).Inc()
	m.PingLatency.Observe(took.Seconds())
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Relay) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Relay) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
