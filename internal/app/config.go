package app

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"beacon/internal/domain"
	"beacon/internal/guard"
	"beacon/internal/logging"
	"beacon/internal/platform/ratelimiter"
	relaysvc "beacon/internal/services/relay"
)

// Config holds runtime wiring options for the agent CLI.
type Config struct {
	Home     string       // state directory, e.g. $HOME/.beacon
	RelayURL string       // relay base URL, e.g. http://127.0.0.1:8080
	HTTP     *http.Client // optional
	Logger   *zap.Logger  // optional; defaults to a no-op logger
}

// DefaultHome is ~/.beacon.
func DefaultHome() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ".beacon"), nil
}

// RelayConfig is the relay daemon's configuration file.
type RelayConfig struct {
	Listen   string `yaml:"listen"`
	Database string `yaml:"database"`

	TokenTTL         time.Duration `yaml:"token_ttl"`
	MaxAge           time.Duration `yaml:"max_age"`
	MaxFutureSkew    time.Duration `yaml:"max_future_skew"`
	NonceRetention   time.Duration `yaml:"nonce_retention"`
	TrustedProviders []string      `yaml:"trusted_providers"`

	RateLimit         ratelimiter.Config `yaml:"rate_limit"`
	TrustProxyHeaders bool               `yaml:"trust_proxy_headers"`

	PruneInterval   time.Duration `yaml:"prune_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Log   logging.Config `yaml:"log"`
	Seeds []SeedAgent    `yaml:"seeds"`
}

// SeedAgent is a roster row installed at startup, typically an agent
// enrolled through a trusted provider.
type SeedAgent struct {
	AgentID    string `yaml:"agent_id"`
	PubkeyHex  string `yaml:"pubkey_hex"`
	RelayToken string `yaml:"relay_token"`
	Name       string `yaml:"name"`
	Provider   string `yaml:"provider"`
}

// DefaultRelayConfig is what an empty configuration file means.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		Listen:           "127.0.0.1:8080",
		Database:         "relay.db",
		TokenTTL:         relaysvc.DefaultTokenTTL,
		MaxAge:           guard.DefaultMaxAge,
		MaxFutureSkew:    guard.DefaultMaxFutureSkew,
		NonceRetention:   relaysvc.DefaultNonceRetention,
		TrustedProviders: []string{"swarmhub"},
		RateLimit:        ratelimiter.Config{Requests: ratelimiter.DefaultRequests, Window: ratelimiter.DefaultWindow},
		PruneInterval:    10 * time.Minute,
		ShutdownTimeout:  10 * time.Second,
		Log:              logging.Config{Level: "info", Format: logging.FormatConsole},
	}
}

// LoadRelayConfig reads path over the defaults. An empty path returns the
// defaults. Unknown keys are an error.
func LoadRelayConfig(path string) (RelayConfig, error) {
	cfg := DefaultRelayConfig()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("relay config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("relay config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate reports the first unusable setting.
func (c RelayConfig) Validate() error {
	switch {
	case c.Listen == "":
		return errors.New("relay config: listen is required")
	case c.Database == "":
		return errors.New("relay config: database is required")
	case c.MaxAge < 0 || c.MaxFutureSkew < 0:
		return errors.New("relay config: freshness window must not be negative")
	case c.RateLimit.Requests < 0 || c.RateLimit.Window < 0:
		return errors.New("relay config: rate_limit must not be negative")
	case c.PruneInterval < 0:
		return errors.New("relay config: prune_interval must not be negative")
	}
	for i, s := range c.Seeds {
		if s.AgentID == "" {
			return fmt.Errorf("relay config: seeds[%d]: agent_id is required", i)
		}
	}
	return nil
}

// Service maps the file settings onto the state machine's configuration.
func (c RelayConfig) Service() relaysvc.Config {
	return relaysvc.Config{
		TokenTTL:         c.TokenTTL,
		Window:           guard.Window{MaxAge: c.MaxAge, MaxFutureSkew: c.MaxFutureSkew},
		NonceRetention:   c.NonceRetention,
		TrustedProviders: c.TrustedProviders,
	}
}

func (s SeedAgent) record() domain.RelayAgentRecord {
	return domain.RelayAgentRecord{
		AgentID:    domain.AgentID(s.AgentID),
		PubkeyHex:  s.PubkeyHex,
		RelayToken: s.RelayToken,
		Name:       s.Name,
		Provider:   s.Provider,
	}
}
