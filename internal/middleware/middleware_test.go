package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-auth/warden/internal/auth"
	"github.com/warden-auth/warden/internal/db/models"
	"github.com/warden-auth/warden/internal/services/iam"
)

type stubAuthenticator struct {
	principal   auth.Principal
	authErr     error
	permissions []string
}

func (s *stubAuthenticator) AuthenticateRequest(ctx context.Context, req iam.AuthRequest) (auth.Principal, error) {
	return s.principal, s.authErr
}

func (s *stubAuthenticator) EffectivePermissions(ctx context.Context, principal auth.Principal, includeTeams bool) ([]string, error) {
	return s.permissions, nil
}

type stubAuthorizer struct {
	allowed  bool
	err      error
	lastPath string
}

func (s *stubAuthorizer) AuthorizeRoute(ctx context.Context, permissions []string, path, method string) (bool, error) {
	s.lastPath = path
	return s.allowed, s.err
}

func alicePrincipal() auth.Principal {
	return auth.ManagedUser{User: &models.User{Username: "alice", Kind: models.UserKindManaged}}
}

func TestMultiAuth_NoCredentialsPassesThrough(t *testing.T) {
	mw := MultiAuthMiddleware(&stubAuthenticator{})

	var sawPrincipal bool
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawPrincipal = auth.GetPrincipalFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, sawPrincipal)
}

func TestMultiAuth_SuccessPopulatesContext(t *testing.T) {
	svc := &stubAuthenticator{
		principal:   alicePrincipal(),
		permissions: []string{auth.PermTeamManagement},
	}
	mw := MultiAuthMiddleware(svc)

	var gotName string
	var gotPerms []string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.GetPrincipalFromContext(r.Context())
		require.True(t, ok)
		gotName = principal.PrincipalName()
		gotPerms = auth.GetPermissionsFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", gotName)
	assert.Equal(t, []string{auth.PermTeamManagement}, gotPerms)
}

func TestMultiAuth_RejectedCredentials(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"invalid credentials", iam.NewFailure(iam.CauseInvalidCredentials, "alice"), http.StatusUnauthorized, "authentication failed"},
		{"unmapped account", iam.NewFailure(iam.CauseUnmappedAccount, "alice"), http.StatusUnauthorized, "authentication failed"},
		{"suspended", iam.NewFailure(iam.CauseSuspended, "alice"), http.StatusForbidden, "SUSPENDED"},
		{"force password change", iam.NewFailure(iam.CauseForcePasswordChange, "alice"), http.StatusForbidden, "FORCE_PASSWORD_CHANGE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := MultiAuthMiddleware(&stubAuthenticator{authErr: tt.err})
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler must not run for rejected credentials")
			}))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestAuthz_UnprotectedPathPassesThrough(t *testing.T) {
	authorizer := &stubAuthorizer{}
	mw, err := NewAuthzMiddleware(AuthzDependencies{Authorizer: authorizer})
	require.NoError(t, err)

	called := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil))

	assert.True(t, called)
	assert.Empty(t, authorizer.lastPath)
}

func TestAuthz_ProtectedPathRequiresPrincipal(t *testing.T) {
	mw, err := NewAuthzMiddleware(AuthzDependencies{Authorizer: &stubAuthorizer{allowed: true}})
	require.NoError(t, err)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a principal")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/users", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthz_DeniedIsGenericForbidden(t *testing.T) {
	mw, err := NewAuthzMiddleware(AuthzDependencies{Authorizer: &stubAuthorizer{allowed: false}})
	require.NoError(t, err)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run when denied")
	}))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/users/alice", nil)
	ctx := auth.SetPrincipalContext(req.Context(), alicePrincipal())
	ctx = auth.SetPermissionsContext(ctx, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req.WithContext(ctx))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "forbidden")
}

func TestAuthz_AllowedReachesHandler(t *testing.T) {
	authorizer := &stubAuthorizer{allowed: true}
	mw, err := NewAuthzMiddleware(AuthzDependencies{Authorizer: authorizer})
	require.NoError(t, err)

	called := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/teams", nil)
	ctx := auth.SetPrincipalContext(req.Context(), alicePrincipal())
	ctx = auth.SetPermissionsContext(ctx, []string{auth.PermTeamManagement})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req.WithContext(ctx))

	assert.True(t, called)
	assert.Equal(t, "/api/v1/teams", authorizer.lastPath)
}
