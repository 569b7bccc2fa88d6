// Package auth resolves the caller identity attached to an incoming HTTP
// request, a thin slice of an OIDC/API-key/session stack: the full
// identity-provider backend is an external system out of scope here, so
// this package only answers "who is calling, and do they hold the
// global-admin bypass" and leaves role checks themselves to each
// Topology's own Permissions mixin.
package auth

import (
	"context"
	"net/http"
)

// Identity is the resolved caller of an authenticated request.
type Identity struct {
	// Subject is the caller's identifier, the same string stored as a key
	// in a Topology's Permissions grants.
	Subject string
	// IsAdmin bypasses every per-topology role check (the reaper's own
	// "system:reaper" identity is constructed the same way).
	IsAdmin bool
	// NoTopologyCreate marks an account barred from creating topologies,
	// resolved by the identity backend alongside the subject itself.
	NoTopologyCreate bool
}

type contextKey string

const identityKey contextKey = "auth_identity"

// WithContext attaches id to ctx.
func WithContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the identity attached by Middleware, or nil if the
// request was never authenticated.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

// RequireAuth rejects requests carrying no resolved identity.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()) == nil {
			respondUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func respondUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","message":"authentication required"}`))
}
