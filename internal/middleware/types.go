package middleware

import (
	"context"

	"github.com/warden-auth/warden/internal/auth"
	"github.com/warden-auth/warden/internal/services/iam"
)

// Authenticator is the slice of the IAM service the authentication
// middleware consumes. iam.Service satisfies it; tests inject stubs.
type Authenticator interface {
	AuthenticateRequest(ctx context.Context, req iam.AuthRequest) (auth.Principal, error)
	EffectivePermissions(ctx context.Context, principal auth.Principal, includeTeams bool) ([]string, error)
}

// RouteAuthorizer is the slice of the IAM service the authorization
// middleware consumes.
type RouteAuthorizer interface {
	AuthorizeRoute(ctx context.Context, permissions []string, path, method string) (bool, error)
}

// AuthzDependencies provides the collaborators needed for route
// authorization decisions.
type AuthzDependencies struct {
	Authorizer RouteAuthorizer

	// ProtectedPrefixes lists the path prefixes the middleware enforces.
	// Requests outside them pass through untouched (login endpoints,
	// health, SSO redirects). Defaults to "/api/" when empty.
	ProtectedPrefixes []string
}
