// Package identity carries the acting user through a request. The actor is
// resolved once by the auth middleware and passed explicitly into every
// service call; nothing reads ambient per-request globals.
package identity

import "context"

// Actor is the authenticated user performing the current operation.
type Actor struct {
	ID     string
	Name   string
	TeamID string
}

type contextKey struct{}

// WithActor returns a context carrying the actor.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, actor)
}

// FromContext extracts the actor stored by the auth middleware.
func FromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(contextKey{}).(Actor)
	return actor, ok
}
