package relay

import (
	"errors"
	"fmt"
	"net/http"

	"beacon/internal/domain"
)

// PingError is a rejected ping. Status is the HTTP status to answer with and
// Message the client-facing error text.
type PingError struct {
	Status  int
	Message string
	Err     error
}

func (e *PingError) Error() string { return e.Message }

func (e *PingError) Unwrap() error { return e.Err }

func reject(status int, cause error, format string, args ...any) *PingError {
	return &PingError{Status: status, Message: fmt.Sprintf(format, args...), Err: cause}
}

var (
	errAgentIDRequired   = reject(http.StatusBadRequest, domain.ErrMalformed, "agent_id required")
	errInvalidJSON       = reject(http.StatusBadRequest, domain.ErrMalformed, "invalid JSON body")
	errPubkeyRequired    = reject(http.StatusBadRequest, domain.ErrMalformed, "pubkey_hex required for new agent registration")
	errSignatureRequired = reject(http.StatusBadRequest, domain.ErrMalformed, "signature required for new agent registration")
	errBadPubkey         = reject(http.StatusBadRequest, domain.ErrMalformed, "invalid pubkey_hex: want 64 hex characters")
	errIDMismatch        = reject(http.StatusBadRequest, domain.ErrIdentityMismatch, "agent_id mismatch: %s", domain.ErrIdentityMismatch)
	errBadSignature      = reject(http.StatusForbidden, domain.ErrSignatureInvalid, "Invalid Ed25519 signature for agent")
	errTokenRequired     = reject(http.StatusUnauthorized, domain.ErrCredentialMissing, "Authorization: Bearer relay_token required for existing agent heartbeat")
	errTokenInvalid      = reject(http.StatusForbidden, domain.ErrCredentialInvalid, "Invalid relay_token")
	errTokenExpired      = reject(http.StatusForbidden, domain.ErrTokenExpired, "relay_token expired")
	errStale             = reject(http.StatusBadRequest, domain.ErrStale, "stale timestamp: ts outside freshness window")
	errReplay            = reject(http.StatusConflict, domain.ErrReplay, "nonce replay detected")
	errFreshnessRequired = reject(http.StatusBadRequest, domain.ErrMalformed, "nonce and ts required for signed requests")
	errKeyMismatch       = reject(http.StatusForbidden, domain.ErrIdentityMismatch, "pubkey_hex does not match registered key")
	errUntrustedProvider = reject(http.StatusForbidden, domain.ErrCredentialInvalid, "agent_id must derive from pubkey_hex unless registered through a trusted provider")
)

// StatusOf returns the HTTP status for err: the PingError status, or 500.
func StatusOf(err error) int {
	var pe *PingError
	if errors.As(err, &pe) {
		return pe.Status
	}
	return http.StatusInternalServerError
}
