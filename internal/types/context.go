package types

import (
	"context"
	"time"
)

// Actor is the authenticated user making a request. Token issuance lives
// outside this service; only the verified claims arrive here.
type Actor struct {
	UserID      string
	Email       string
	DisplayName string
	// AccountCreatedAt is the registration time asserted by the account
	// service. Nil when the token predates the claim.
	AccountCreatedAt *time.Time
}

type contextKey string

const (
	actorKey     contextKey = "actor"
	requestIDKey contextKey = "request_id"
)

// WithActor stores the Actor in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetActor retrieves the Actor from the context.
func GetActor(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
