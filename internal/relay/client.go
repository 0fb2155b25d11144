package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"beacon/internal/crypto"
	"beacon/internal/domain"
	relaysvc "beacon/internal/services/relay"
)

const (
	PingPath   = "/relay/ping"
	AgentsPath = "/relay/agents"

	defaultAttempts = 4
	maxResponse     = 1 << 20
)

// StatusError is a non-2xx reply from the relay.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("relay: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("relay: %d %s", e.Status, e.Message)
}

// Retryable reports whether the same request may succeed later.
func (e *StatusError) Retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// Client pings a relay on behalf of one identity.
type Client struct {
	base     string
	http     *http.Client
	id       domain.Identity
	log      *zap.Logger
	now      func() time.Time
	attempts uint64
	initial  time.Duration
}

var _ domain.RelayClient = (*Client)(nil)

type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption { return func(c *Client) { c.http = h } }

func WithClientLogger(l *zap.Logger) ClientOption { return func(c *Client) { c.log = l } }

func WithClientClock(now func() time.Time) ClientOption { return func(c *Client) { c.now = now } }

// WithRetry sets the attempt budget and the first backoff interval.
func WithRetry(attempts int, initial time.Duration) ClientOption {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = uint64(attempts)
		}
		if initial > 0 {
			c.initial = initial
		}
	}
}

func NewClient(base string, id domain.Identity, opts ...ClientOption) *Client {
	c := &Client{
		base:     strings.TrimRight(base, "/"),
		http:     &http.Client{Timeout: 15 * time.Second},
		id:       id,
		log:      zap.NewNop(),
		now:      time.Now,
		attempts: defaultAttempts,
		initial:  500 * time.Millisecond,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Ping signs and sends req. A stored relay token travels in the
// Authorization header, never in the body. A caller-supplied nonce is used
// on every attempt; otherwise each attempt gets its own.
func (c *Client) Ping(ctx context.Context, req domain.PingRequest) (domain.PingResponse, error) {
	token := req.RelayToken
	req.RelayToken = ""
	fixedNonce := req.Nonce

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initial
	b.MaxInterval = 8 * c.initial
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.attempts-1), ctx)

	attempt := 0
	op := func() (domain.PingResponse, error) {
		attempt++
		req.Nonce = fixedNonce
		if req.Nonce == "" {
			n, err := crypto.NewNonce()
			if err != nil {
				return domain.PingResponse{}, backoff.Permanent(err)
			}
			req.Nonce = n
		}
		req.TS = c.now().Unix()
		body, err := relaysvc.SignPing(req, c.id)
		if err != nil {
			return domain.PingResponse{}, backoff.Permanent(fmt.Errorf("sign ping: %w", err))
		}
		resp, err := c.post(ctx, body, token)
		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return resp, backoff.Permanent(err)
		}
		return resp, err
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warn("relay ping retry",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	return backoff.RetryNotifyWithData(op, policy, notify)
}

func (c *Client) post(ctx context.Context, body []byte, token string) (domain.PingResponse, error) {
	var out domain.PingResponse
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+PingPath, bytes.NewReader(body))
	if err != nil {
		return out, backoff.Permanent(err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	if token != "" {
		hreq.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(hreq)
	if err != nil {
		return out, fmt.Errorf("relay post %s: %w", PingPath, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return out, fmt.Errorf("relay read: %w", err)
	}
	decodeErr := json.Unmarshal(raw, &out)
	if resp.StatusCode/100 != 2 {
		return out, &StatusError{Status: resp.StatusCode, Message: out.Error}
	}
	if decodeErr != nil {
		return out, backoff.Permanent(fmt.Errorf("relay decode: %w", decodeErr))
	}
	return out, nil
}

// Agents fetches the relay roster.
func (c *Client) Agents(ctx context.Context) ([]domain.RelayAgentRecord, error) {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+AgentsPath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("relay get %s: %w", AgentsPath, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, &StatusError{Status: resp.StatusCode}
	}
	var out struct {
		Agents []domain.RelayAgentRecord `json:"agents"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponse)).Decode(&out); err != nil {
		return nil, fmt.Errorf("relay decode: %w", err)
	}
	return out.Agents, nil
}
