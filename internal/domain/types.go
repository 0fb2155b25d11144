package domain

import (
	"encoding/json"
	"time"
)

// Well-known envelope kinds. Kind is an open tag; these are the ones the
// protocol itself emits.
const (
	KindHello         = "hello"
	KindHeartbeat     = "heartbeat"
	KindWant          = "want"
	KindBounty        = "bounty"
	KindMayday        = "mayday"
	KindContractOffer = "contract_offer"
)

// Envelope is one protocol message decoded from the wire.
//
// The named fields are a typed view over Fields, which holds every decoded
// key (including ones not modelled here) and is what signatures cover.
type Envelope struct {
	Kind        string
	AgentID     AgentID
	Pubkey      string // hex, optional; bootstraps TOFU
	Nonce       string
	TS          int64
	Version     int
	Text        string
	Tags        []string
	Health      map[string]any
	Value       float64
	Urgency     string
	To          string
	From        string
	RotationSig string // hex signature of the new pubkey by the previous key
	Sig         string

	Fields map[string]any
}

// Signed reports whether the envelope carries the fields required for
// trust-sensitive handling.
func (e Envelope) Signed() bool { return e.Sig != "" && e.Nonce != "" && e.AgentID != "" }

// MarshalJSON encodes the full field set so extra keys survive a round trip.
func (e Envelope) MarshalJSON() ([]byte, error) { return json.Marshal(e.Fields) }

// Verification is the outcome of checking an envelope signature.
type Verification int

const (
	// VerificationUnknown means no key was available to check against.
	VerificationUnknown Verification = iota
	// Verified means the signature validated against a trusted or
	// self-certifying key.
	Verified
	// VerificationFailed means a key was available and the signature did not
	// validate.
	VerificationFailed
)

func (v Verification) String() string {
	switch v {
	case Verified:
		return "verified"
	case VerificationFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalJSON renders true, false or null.
func (v Verification) MarshalJSON() ([]byte, error) {
	switch v {
	case Verified:
		return []byte("true"), nil
	case VerificationFailed:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

// DefaultKeyTTL is how long a trusted key stays valid without a sighting.
const DefaultKeyTTL = 30 * 24 * time.Hour

// KnownKeyRecord is the trust state held for one agent id.
// Timestamps are unix seconds.
type KnownKeyRecord struct {
	PubkeyHex     string   `json:"pubkey_hex"`
	FirstSeen     float64  `json:"first_seen"`
	LastSeen      float64  `json:"last_seen"`
	RotationCount int      `json:"rotation_count"`
	PreviousKeys  []string `json:"previous_keys"`
	TTLSeconds    int64    `json:"ttl_seconds"`
}

// TTL returns the record's TTL, falling back to DefaultKeyTTL.
func (r KnownKeyRecord) TTL() time.Duration {
	if r.TTLSeconds <= 0 {
		return DefaultKeyTTL
	}
	return time.Duration(r.TTLSeconds) * time.Second
}

// InboxRecord is one raw record delivered by a transport.
type InboxRecord struct {
	Platform   string           `json:"platform,omitempty"`
	From       string           `json:"from,omitempty"`
	ReceivedAt float64          `json:"received_at"`
	Text       string           `json:"text,omitempty"`
	Envelopes  []map[string]any `json:"envelopes"`
}

// InboxEntry is an inbox record enriched with one of its envelopes.
// Envelope is nil for raw records that carried no envelope.
type InboxEntry struct {
	Platform     string       `json:"platform,omitempty"`
	From         string       `json:"from,omitempty"`
	ReceivedAt   float64      `json:"received_at"`
	Text         string       `json:"text,omitempty"`
	Envelope     *Envelope    `json:"envelope"`
	Verification Verification `json:"verified"`
	IsRead       bool         `json:"is_read"`
}

// InboxFilter narrows an inbox read. Zero values disable a filter.
type InboxFilter struct {
	Kind       string
	AgentID    AgentID
	Since      float64
	UnreadOnly bool
	Limit      int // keep the last Limit entries
}

// RelayAgentRecord is the relay's roster row for one agent.
type RelayAgentRecord struct {
	AgentID       AgentID        `json:"agent_id"`
	PubkeyHex     string         `json:"pubkey_hex,omitempty"`
	RelayToken    string         `json:"-"`
	TokenExpires  time.Time      `json:"token_expires"`
	Name          string         `json:"name,omitempty"`
	Provider      string         `json:"provider,omitempty"`
	Status        string         `json:"status,omitempty"`
	BeatCount     int64          `json:"beat_count"`
	RegisteredAt  time.Time      `json:"registered_at"`
	LastHeartbeat time.Time      `json:"last_heartbeat"`
	OriginIP      string         `json:"-"` // kept out of the public listing
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// PingRequest is the body of POST /relay/ping.
type PingRequest struct {
	AgentID    AgentID        `json:"agent_id"`
	PubkeyHex  string         `json:"pubkey_hex,omitempty"`
	Signature  string         `json:"signature,omitempty"`
	Nonce      string         `json:"nonce,omitempty"`
	TS         int64          `json:"ts,omitempty"`
	RelayToken string         `json:"relay_token,omitempty"`
	Name       string         `json:"name,omitempty"`
	Status     string         `json:"status,omitempty"`
	Provider   string         `json:"provider,omitempty"`
	Register   bool           `json:"register,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// PingResponse is the body returned by POST /relay/ping.
type PingResponse struct {
	OK                bool    `json:"ok"`
	AgentID           AgentID `json:"agent_id,omitempty"`
	RelayToken        string  `json:"relay_token,omitempty"`
	TokenExpires      float64 `json:"token_expires,omitempty"`
	BeatCount         int64   `json:"beat_count,omitempty"`
	SignatureVerified bool    `json:"signature_verified,omitempty"`
	AutoRegistered    bool    `json:"auto_registered,omitempty"`
	ReRegistered      bool    `json:"re_registered,omitempty"`
	Error             string  `json:"error,omitempty"`
}

// RelaySession is what an agent remembers about its registration with one
// relay.
type RelaySession struct {
	RelayURL     string  `json:"relay_url"`
	AgentID      AgentID `json:"agent_id"`
	RelayToken   string  `json:"relay_token"`
	TokenExpires float64 `json:"token_expires,omitempty"`
}

// Expired reports whether the token has lapsed at now (unix seconds). A
// zero expiry never lapses.
func (s RelaySession) Expired(now float64) bool {
	return s.TokenExpires != 0 && now >= s.TokenExpires
}
