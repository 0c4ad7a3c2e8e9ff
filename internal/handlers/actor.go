package handlers

import (
	"context"
	"net/http"

	"lankatrips/internal/models"
)

type contextKey string

const actorKey contextKey = "actor"

// WithActor stores the authenticated caller in ctx.
func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext returns the caller stored by the auth middleware, or the
// zero Actor for anonymous requests.
func ActorFromContext(ctx context.Context) models.Actor {
	actor, _ := ctx.Value(actorKey).(models.Actor)
	return actor
}

func actorFromRequest(r *http.Request) models.Actor {
	return ActorFromContext(r.Context())
}
