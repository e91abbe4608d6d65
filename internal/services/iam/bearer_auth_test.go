package iam

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warden-auth/warden/internal/auth"
	"github.com/warden-auth/warden/internal/db/models"
)

// signForeignToken mints an HS256 token under another issuer, standing in
// for a provider ID token. The bearer authenticator only reads the issuer
// claim to pick a path; the fake claim source supplies the verified claims.
func signForeignToken(t *testing.T, issuer string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "subject-1",
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	raw, err := token.SignedString([]byte("provider-signing-key"))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return raw
}

func bearerRequest(header string) AuthRequest {
	headers := http.Header{}
	if header != "" {
		headers.Set("Authorization", header)
	}
	return AuthRequest{Headers: headers}
}

func TestBearerAuth_NoHeader(t *testing.T) {
	tokens := newTestTokenService(t, newMockUserRepository())
	authenticator := NewBearerAuthenticator(tokens, nil)

	principal, err := authenticator.Authenticate(context.Background(), bearerRequest(""))
	if err != nil {
		t.Fatalf("Expected no error without the header, got: %v", err)
	}
	if principal != nil {
		t.Errorf("Expected no principal, got %s", principal.PrincipalName())
	}
}

func TestBearerAuth_OtherScheme(t *testing.T) {
	tokens := newTestTokenService(t, newMockUserRepository())
	authenticator := NewBearerAuthenticator(tokens, nil)

	for _, header := range []string{"Basic YWxpY2U6cGFzc3dvcmQ=", "Bearer ", "Bearer"} {
		principal, err := authenticator.Authenticate(context.Background(), bearerRequest(header))
		if err != nil {
			t.Errorf("Expected header %q to carry no credentials, got error: %v", header, err)
		}
		if principal != nil {
			t.Errorf("Expected header %q to carry no credentials, got principal %s", header, principal.PrincipalName())
		}
	}
}

func TestBearerAuth_LocalToken(t *testing.T) {
	users := newMockUserRepository()
	user := &models.User{Kind: models.UserKindManaged, Username: "alice"}
	if err := users.Create(context.Background(), user); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	tokens := newTestTokenService(t, users)
	token, err := tokens.CreateToken(auth.ManagedUser{User: user})
	if err != nil {
		t.Fatalf("Failed to create token: %v", err)
	}

	authenticator := NewBearerAuthenticator(tokens, nil)
	principal, err := authenticator.Authenticate(context.Background(), bearerRequest("Bearer "+token))
	if err != nil {
		t.Fatalf("Expected successful authentication, got: %v", err)
	}
	if principal.Kind() != auth.KindManagedUser {
		t.Errorf("Expected kind %s, got %s", auth.KindManagedUser, principal.Kind())
	}
	if principal.PrincipalName() != "alice" {
		t.Errorf("Expected principal alice, got %s", principal.PrincipalName())
	}
}

func TestBearerAuth_SchemeCaseInsensitive(t *testing.T) {
	users := newMockUserRepository()
	user := &models.User{Kind: models.UserKindManaged, Username: "alice"}
	if err := users.Create(context.Background(), user); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	tokens := newTestTokenService(t, users)
	token, err := tokens.CreateToken(auth.ManagedUser{User: user})
	if err != nil {
		t.Fatalf("Failed to create token: %v", err)
	}

	authenticator := NewBearerAuthenticator(tokens, nil)
	principal, err := authenticator.Authenticate(context.Background(), bearerRequest("bearer "+token))
	if err != nil {
		t.Fatalf("Expected lowercase scheme to authenticate, got: %v", err)
	}
	if principal.PrincipalName() != "alice" {
		t.Errorf("Expected principal alice, got %s", principal.PrincipalName())
	}
}

func TestBearerAuth_GarbageToken(t *testing.T) {
	tokens := newTestTokenService(t, newMockUserRepository())
	authenticator := NewBearerAuthenticator(tokens, nil)

	_, err := authenticator.Authenticate(context.Background(), bearerRequest("Bearer not-a-jwt"))
	assertCause(t, err, CauseInvalidCredentials)
}

func TestBearerAuth_ForeignIssuerWithoutOIDC(t *testing.T) {
	tokens := newTestTokenService(t, newMockUserRepository())
	authenticator := NewBearerAuthenticator(tokens, nil)

	raw := signForeignToken(t, "https://idp.example.com")
	_, err := authenticator.Authenticate(context.Background(), bearerRequest("Bearer "+raw))
	assertCause(t, err, CauseInvalidCredentials)
}

// TestBearerAuth_ForeignIssuerRoutesToOIDC verifies a token from another
// issuer goes through the OIDC pipeline instead of the local verifier.
func TestBearerAuth_ForeignIssuerRoutesToOIDC(t *testing.T) {
	users := newMockUserRepository()
	seedOIDCUser(t, users, "alice", "subject-1")

	source := &fakeClaimSource{idClaims: fullClaims()}
	oidcService := newOIDCTestService(newOIDCTestConfig(), source, users,
		newMockTeamRepository(), newMockMappedGroupRepository())

	tokens := newTestTokenService(t, users)
	authenticator := NewBearerAuthenticator(tokens, oidcService)

	raw := signForeignToken(t, "https://idp.example.com")
	principal, err := authenticator.Authenticate(context.Background(), bearerRequest("Bearer "+raw))
	if err != nil {
		t.Fatalf("Expected OIDC path to authenticate, got: %v", err)
	}
	if principal.Kind() != auth.KindOIDCUser {
		t.Errorf("Expected kind %s, got %s", auth.KindOIDCUser, principal.Kind())
	}
	if source.verifyCalls != 1 {
		t.Errorf("Expected the provider verifier to run once, got %d", source.verifyCalls)
	}
}
