package iam

import (
	"context"
	"net/http"

	"github.com/warden-auth/warden/internal/auth"
)

// PasswordAuthenticator validates an interactive username/password pair.
//
// Implementations:
//   - ManagedAuthService: verifies against stored bcrypt hashes
//   - LDAPAuthService: verifies by binding against the directory server
//   - CredentialChain: composes the two with fallback semantics
//
// Failures carry a Cause; the category decides whether a fallback
// implementation may run.
type PasswordAuthenticator interface {
	Authenticate(ctx context.Context, username, password string) (auth.Principal, error)
}

// RequestAuthenticator validates credentials carried on an HTTP request.
//
// Implementations:
//   - apiKeyRequestAuthenticator: checks the X-Api-Key header
//   - bearerAuthenticator: checks Authorization: Bearer tokens
//
// Return values:
//   - (principal, nil): authentication successful
//   - (nil, nil): credentials not present (not an error, try next strategy)
//   - (nil, error): authentication failed (invalid credentials)
type RequestAuthenticator interface {
	Authenticate(ctx context.Context, req AuthRequest) (auth.Principal, error)
}

// AuthRequest wraps HTTP request data for RequestAuthenticator
// implementations. Strategies only look at headers; the API key query shim
// has already promoted permitted query parameters into the header set.
type AuthRequest struct {
	// Headers contains HTTP headers (including Authorization and X-Api-Key)
	Headers http.Header
}

// NewAuthRequest extracts the authentication-relevant parts of a request.
func NewAuthRequest(r *http.Request) AuthRequest {
	return AuthRequest{Headers: r.Header}
}

// CredentialChain authenticates interactive logins: the managed-user service
// first, then the directory server.
//
// The fallback only runs on INVALID_CREDENTIALS, so a username unknown to the
// local store can still bind against the directory. SUSPENDED and
// FORCE_PASSWORD_CHANGE stop the chain immediately: those verdicts come from
// a matched local account and no other strategy may override them.
// Infrastructure failures (OTHER) also stop the chain rather than masking an
// outage as a bad password.
type CredentialChain struct {
	primary  PasswordAuthenticator
	fallback PasswordAuthenticator
}

// NewCredentialChain builds the login chain. fallback may be nil when the
// directory is not configured.
func NewCredentialChain(primary, fallback PasswordAuthenticator) *CredentialChain {
	return &CredentialChain{primary: primary, fallback: fallback}
}

// Authenticate implements PasswordAuthenticator.
func (c *CredentialChain) Authenticate(ctx context.Context, username, password string) (auth.Principal, error) {
	if username == "" || password == "" {
		return nil, NewFailure(CauseInvalidCredentials, username)
	}

	principal, err := c.primary.Authenticate(ctx, username, password)
	if err == nil {
		return principal, nil
	}

	cause, ok := FailureCause(err)
	if !ok || cause != CauseInvalidCredentials || c.fallback == nil {
		return nil, err
	}

	return c.fallback.Authenticate(ctx, username, password)
}
