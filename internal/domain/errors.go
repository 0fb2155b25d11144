package domain

import "errors"

// Error taxonomy shared by the client and the relay. Callers wrap these with
// context and test with errors.Is.
var (
	// ErrMalformed covers bad hex, truncated JSON and missing required fields.
	ErrMalformed = errors.New("malformed input")

	// ErrIdentityMismatch means an agent id does not derive from its pubkey.
	ErrIdentityMismatch = errors.New("agent_id does not match pubkey")

	// ErrSignatureInvalid means a signature was present and did not verify.
	ErrSignatureInvalid = errors.New("invalid signature")

	// ErrReplay means the nonce was already admitted in this scope.
	ErrReplay = errors.New("nonce replay detected")

	// ErrStale means the timestamp fell outside the freshness window.
	ErrStale = errors.New("timestamp outside freshness window")

	ErrCredentialMissing = errors.New("credential required")
	ErrCredentialInvalid = errors.New("invalid credential")
	ErrTokenExpired      = errors.New("relay_token expired")

	ErrNotFound = errors.New("not found")
)
