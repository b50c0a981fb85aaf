// Package auth resolves the acting user for inventory operations.
package auth

import "context"

// Identity is the authenticated caller.
type Identity struct {
	Email string `json:"email"`
}

type contextKey struct{}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, identity)
}

// FromContext returns the identity stored by Middleware, or nil.
func FromContext(ctx context.Context) *Identity {
	identity, _ := ctx.Value(contextKey{}).(*Identity)
	return identity
}
