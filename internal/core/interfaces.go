package core

import (
	"context"
	"time"

	"membergate/internal/types"
)

// Authenticator decouples the HTTP layer from the token format, allowing
// for easy mocking in tests.
type Authenticator interface {
	// ResolveToken verifies a bearer token and returns its Actor.
	//
	// Distinct Error Codes:
	// - Return ErrCodeAuthTokenInvalid if the token is malformed or its
	//   signature does not verify.
	// - Return ErrCodeAuthTokenExpired if the token verified but expired.
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}

// RateLimitStore abstracts the backing store for rate limiting.
// Production uses Redis; tests use MockRateLimitStore.
type RateLimitStore interface {
	// IncrementAndCheck atomically increments the counter for key and
	// reports whether the limit has been exceeded within the window.
	IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)
}

// RateLimitResult contains the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}
