package internal

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ctxKey string

const ContextActorKey ctxKey = "actorID"

// ActorFromContext returns the authenticated user performing the request.
// The uuid.Nil return means no actor was attached by the auth middleware.
func ActorFromContext(ctx context.Context) uuid.UUID {
	if ctx == nil {
		return uuid.Nil
	}
	if actorID, ok := ctx.Value(ContextActorKey).(uuid.UUID); ok {
		return actorID
	}
	return uuid.Nil
}

func ContextWithActor(ctx context.Context, actorID uuid.UUID) context.Context {
	return context.WithValue(ctx, ContextActorKey, actorID)
}

// WithTimeout returns a context with timeout, defaulting to 5 seconds if duration is zero or negative.
func WithTimeout(ctx context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if duration <= 0 {
		duration = 5 * time.Second
	}
	return context.WithTimeout(ctx, duration)
}
