package iam

import (
	"context"
	"strings"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/warden-auth/warden/internal/auth"
)

// bearerSignatureAlgorithms lists the JWS algorithms a bearer token may be
// signed with to pass classification. Locally issued tokens use HS256;
// provider ID tokens use asymmetric algorithms.
var bearerSignatureAlgorithms = []jose.SignatureAlgorithm{
	jose.HS256,
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.PS256,
}

// bearerAuthenticator handles Authorization: Bearer credentials. The token's
// issuer claim decides the path: locally issued tokens go to the JWT service,
// anything else is treated as a provider ID token and goes through the OIDC
// pipeline.
//
// The issuer is read WITHOUT signature verification; it only selects which
// verifier runs. Both downstream paths fully verify the signature before
// trusting any claim.
type bearerAuthenticator struct {
	tokens *JWTService
	oidc   *OIDCAuthService // nil when no provider is configured
}

// NewBearerAuthenticator creates the bearer token request authenticator.
// oidc may be nil, in which case foreign-issuer tokens are rejected.
func NewBearerAuthenticator(tokens *JWTService, oidc *OIDCAuthService) RequestAuthenticator {
	return &bearerAuthenticator{tokens: tokens, oidc: oidc}
}

// Authenticate implements RequestAuthenticator.
func (a *bearerAuthenticator) Authenticate(ctx context.Context, req AuthRequest) (auth.Principal, error) {
	raw, ok := bearerToken(req.Headers.Get("Authorization"))
	if !ok {
		return nil, nil
	}

	issuer, err := unverifiedIssuer(raw)
	if err != nil {
		return nil, WrapFailure(CauseInvalidCredentials, "", err)
	}

	if issuer == a.tokens.Issuer() {
		return a.tokens.AuthenticateToken(ctx, raw)
	}

	if a.oidc == nil {
		return nil, NewFailure(CauseInvalidCredentials, "")
	}
	return a.oidc.Authenticate(ctx, raw, "")
}

// bearerToken extracts the token from an Authorization header value. Returns
// false when the header is absent, carries a different scheme, or has an
// empty token.
func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// unverifiedIssuer parses the compact JWS and reads the iss claim without
// checking the signature.
func unverifiedIssuer(raw string) (string, error) {
	token, err := jwt.ParseSigned(raw, bearerSignatureAlgorithms)
	if err != nil {
		return "", err
	}

	var claims jwt.Claims
	if err := token.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return "", err
	}
	return claims.Issuer, nil
}
