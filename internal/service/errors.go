package service

import "errors"

// Verification and gate outcomes. Handlers dispatch on these with errors.Is;
// wrapped reasons are for logs only.
var (
	ErrMalformedCredential        = errors.New("malformed credential")
	ErrInvalidCredential          = errors.New("invalid credential")
	ErrInsufficientScope          = errors.New("insufficient scope")
	ErrRateLimitExceeded          = errors.New("rate limit exceeded")
	ErrCredentialStoreUnavailable = errors.New("credential store unavailable")
)

// Administrative errors.
var (
	ErrValidation        = errors.New("validation failed")
	ErrKeyNotFound       = errors.New("api key not found")
	ErrInvalidAdminToken = errors.New("invalid admin token")
)
