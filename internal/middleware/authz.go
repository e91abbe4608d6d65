package middleware

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/warden-auth/warden/internal/auth"
)

// NewAuthzMiddleware constructs a chi middleware enforcing the route policy
// table for protected paths.
//
// Protected requests must carry an authenticated principal; its effective
// permissions (resolved by the authentication middleware) are checked
// against the policy for (path, method). Denials are a generic 403; the
// internal reason is only logged.
func NewAuthzMiddleware(deps AuthzDependencies) (func(http.Handler) http.Handler, error) {
	if deps.Authorizer == nil {
		return nil, errors.New("authz middleware requires a route authorizer")
	}

	prefixes := deps.ProtectedPrefixes
	if len(prefixes) == 0 {
		prefixes = []string{"/api/"}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !pathProtected(r.URL.Path, prefixes) {
				next.ServeHTTP(w, r)
				return
			}

			principal, ok := auth.GetPrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}

			permissions := auth.GetPermissionsFromContext(r.Context())
			allowed, err := deps.Authorizer.AuthorizeRoute(r.Context(), permissions, r.URL.Path, r.Method)
			if err != nil {
				log.Printf("ERROR: route authorization for %s %s: %v", r.Method, r.URL.Path, err)
				http.Error(w, "authorization error", http.StatusInternalServerError)
				return
			}
			if !allowed {
				log.Printf("denied %s on %s %s", principal.PrincipalName(), r.Method, r.URL.Path)
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}, nil
}

func pathProtected(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
