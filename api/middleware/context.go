package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/bodyf1rst/billing-backend/pkg/enums"
	pkgerrors "github.com/bodyf1rst/billing-backend/pkg/errors"
)

type contextKey string

const ctxActor contextKey = "actor"

// Actor is the authenticated caller.
type Actor struct {
	UserID uuid.UUID
	Role   enums.Role
}

func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxActor, actor)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(ctxActor).(Actor)
	return actor, ok && actor.UserID != uuid.Nil
}

// UserIDFromContext returns the caller's id, or uuid.Nil for anonymous requests.
func UserIDFromContext(ctx context.Context) uuid.UUID {
	actor, _ := ActorFromContext(ctx)
	return actor.UserID
}

// CallerID returns the authenticated caller's id or an unauthorized error.
func CallerID(ctx context.Context) (uuid.UUID, error) {
	id := UserIDFromContext(ctx)
	if id == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return id, nil
}
