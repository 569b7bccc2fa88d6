package auth

import (
	"net/http"
	"strings"
)

// AdminToken is the single shared secret that grants the global-admin
// bypass, a static-credential analogue of an API-key lookup table with
// the per-tenant database resolution stripped out: this system has no
// user directory to check a key against, only one operator secret.
type AdminToken string

// Middleware resolves the caller identity from the request, in a
// JWT -> API key -> dev header precedence order, minus the JWT step
// (no OIDC provider in scope):
//
//  1. X-API-Key matching adminToken grants the admin identity.
//  2. X-Debug-User is trusted verbatim as a non-admin subject, for local
//     development and the test harness; empty adminToken disables it too
//     so a production deployment can't be left wide open by omission.
func Middleware(adminToken AdminToken) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id *Identity

			switch {
			case adminToken != "" && subtleEqual(r.Header.Get("X-API-Key"), string(adminToken)):
				id = &Identity{Subject: "admin", IsAdmin: true}
			case adminToken != "":
				if user := strings.TrimSpace(r.Header.Get("X-Debug-User")); user != "" {
					id = &Identity{Subject: user}
					for _, flag := range strings.Split(r.Header.Get("X-Debug-Flags"), ",") {
						if strings.TrimSpace(flag) == "no-topology-create" {
							id.NoTopologyCreate = true
						}
					}
				}
			}

			if id != nil {
				r = r.WithContext(WithContext(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// subtleEqual is a length-revealing-but-adequate comparison for a single
// operator secret; this isn't a multi-user credential store worth a
// constant-time comparison library of its own.
func subtleEqual(a, b string) bool {
	return a != "" && a == b
}
