package middleware

import (
	"log"
	"net/http"

	"github.com/warden-auth/warden/internal/auth"
	"github.com/warden-auth/warden/internal/services/iam"
)

// MultiAuthMiddleware is the unified authentication middleware.
//
// It extracts request credentials, asks the IAM service to authenticate them
// (API key header first, then bearer token), and on success stores the
// principal and its effective permissions in the request context. Requests
// without credentials pass through unauthenticated; the authorization
// middleware decides what that means per route.
//
// Credentials that are present but rejected terminate the request here with
// the status mapped from the failure category. The category detail never
// reaches the response body beyond the code itself.
func MultiAuthMiddleware(svc Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			principal, err := svc.AuthenticateRequest(ctx, iam.NewAuthRequest(r))
			if err != nil {
				log.Printf("authentication failed for %s %s: %v", r.Method, r.URL.Path, err)
				status, message := FailureStatus(err)
				http.Error(w, message, status)
				return
			}

			if principal != nil {
				// Resolve permissions once per request; the authorization
				// middleware and the whoami handler read this snapshot.
				permissions, err := svc.EffectivePermissions(ctx, principal, true)
				if err != nil {
					log.Printf("ERROR: resolve permissions for %s: %v", principal.PrincipalName(), err)
					http.Error(w, "authentication failed", http.StatusInternalServerError)
					return
				}

				ctx = auth.SetPrincipalContext(ctx, principal)
				ctx = auth.SetPermissionsContext(ctx, permissions)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FailureStatus maps an authentication error to its HTTP response.
//
// SUSPENDED and FORCE_PASSWORD_CHANGE identify a matched account, so they
// surface as 403 with the category code: the caller presented valid
// credentials and needs to know why they are still rejected. Everything else
// collapses to a generic 401 to prevent account enumeration.
func FailureStatus(err error) (status int, message string) {
	cause, ok := iam.FailureCause(err)
	if !ok {
		return http.StatusUnauthorized, "authentication failed"
	}
	switch cause {
	case iam.CauseSuspended, iam.CauseForcePasswordChange:
		return http.StatusForbidden, string(cause)
	default:
		return http.StatusUnauthorized, "authentication failed"
	}
}
