package iam

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warden-auth/warden/internal/auth"
	"github.com/warden-auth/warden/internal/config"
	"github.com/warden-auth/warden/internal/repository"
)

// jwtSecretBytes is the size of a generated HMAC signing secret.
const jwtSecretBytes = 32

// Claims is the warden token payload: the registered claim set plus the
// asserting identity provider and an informational permission snapshot.
//
// The permissions claim captures what the principal held at issue time for
// client display only. Enforcement always re-resolves from the store, so a
// revoked grant takes effect before the token expires.
type Claims struct {
	jwt.RegisteredClaims

	IdentityProvider string `json:"idp"`
	Permissions      string `json:"permissions,omitempty"`
}

// PermissionList splits the informational permission snapshot.
func (c *Claims) PermissionList() []string {
	if c.Permissions == "" {
		return nil
	}
	return strings.Split(c.Permissions, ",")
}

// JWTService issues and validates warden's own bearer tokens (HS256).
type JWTService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	users  repository.UserRepository
}

// NewJWTService creates the token service, resolving the signing secret from
// configuration: JWT_SECRET first, then the contents of JWT_SECRET_FILE,
// then a key generated once and persisted at JWT_SECRET_PATH.
func NewJWTService(cfg *config.Config, users repository.UserRepository) (*JWTService, error) {
	secret, err := resolveSigningSecret(&cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("resolve JWT signing secret: %w", err)
	}

	return &JWTService{
		secret: secret,
		issuer: cfg.AppName,
		ttl:    cfg.Auth.JWTTTL,
		users:  users,
	}, nil
}

// Issuer returns the iss claim value stamped on issued tokens.
func (s *JWTService) Issuer() string {
	return s.issuer
}

// TTL returns the configured token lifetime.
func (s *JWTService) TTL() time.Duration {
	return s.ttl
}

// CreateToken issues a token for a principal without a permission snapshot.
func (s *JWTService) CreateToken(principal auth.Principal) (string, error) {
	return s.CreateTokenWithPermissions(principal, nil)
}

// CreateTokenWithPermissions issues a token carrying an informational
// permission snapshot.
func (s *JWTService) CreateTokenWithPermissions(principal auth.Principal, permissions []string) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.PrincipalName(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		IdentityProvider: string(auth.ProviderOf(principal)),
		Permissions:      strings.Join(permissions, ","),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token for %s: %w", principal.PrincipalName(), err)
	}
	return signed, nil
}

// ValidateToken reports whether a token is well-formed, correctly signed,
// and unexpired. All failure detail is swallowed to the boolean; anything
// beyond the expected verification failures is logged.
func (s *JWTService) ValidateToken(raw string) bool {
	_, err := s.parse(raw)
	if err != nil {
		logUnexpectedTokenError(err)
		return false
	}
	return true
}

// ParseToken validates a token and returns its claims. Like ValidateToken,
// every failure collapses to a false result.
func (s *JWTService) ParseToken(raw string) (*Claims, bool) {
	claims, err := s.parse(raw)
	if err != nil {
		logUnexpectedTokenError(err)
		return nil, false
	}
	return claims, true
}

// AuthenticateToken validates a token and re-resolves its principal from the
// store. Used on the request path, where the failure category matters:
// an expired token reports EXPIRED_CREDENTIALS, everything else about the
// token itself reports INVALID_CREDENTIALS.
func (s *JWTService) AuthenticateToken(ctx context.Context, raw string) (auth.Principal, error) {
	claims, err := s.parse(raw)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, WrapFailure(CauseExpiredCredentials, "", err)
		}
		return nil, WrapFailure(CauseInvalidCredentials, "", err)
	}
	return s.ResolvePrincipal(ctx, claims)
}

// ResolvePrincipal maps validated claims back to a live principal. The
// stored row decides: a user deleted or suspended since issue time is
// rejected even though the token still verifies.
func (s *JWTService) ResolvePrincipal(ctx context.Context, claims *Claims) (auth.Principal, error) {
	username := claims.Subject
	if username == "" {
		return nil, NewFailure(CauseInvalidCredentials, "")
	}

	kind, err := auth.KindForProvider(auth.IdentityProvider(claims.IdentityProvider))
	if err != nil {
		return nil, WrapFailure(CauseInvalidCredentials, username, err)
	}

	user, err := s.users.GetByUsernameAndKind(ctx, username, kind)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewFailure(CauseInvalidCredentials, username)
		}
		return nil, WrapFailure(CauseOther, username, err)
	}

	if user.Suspended {
		return nil, NewFailure(CauseSuspended, username)
	}

	principal, err := auth.PrincipalForUser(user)
	if err != nil {
		return nil, WrapFailure(CauseOther, username, err)
	}
	return principal, nil
}

func (s *JWTService) parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// logUnexpectedTokenError logs verification failures that are not part of
// normal operation. Expired, tampered, and malformed tokens arrive all the
// time and stay quiet.
func logUnexpectedTokenError(err error) {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired),
		errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
	default:
		log.Printf("WARNING: unexpected token validation error: %v", err)
	}
}

// resolveSigningSecret implements the three-step secret resolution. With no
// source configured the secret is generated in memory only, which invalidates
// every outstanding token on restart.
func resolveSigningSecret(cfg *config.AuthConfig) ([]byte, error) {
	if cfg.JWTSecret != "" {
		return []byte(cfg.JWTSecret), nil
	}

	if cfg.JWTSecretFile != "" {
		data, err := os.ReadFile(cfg.JWTSecretFile)
		if err != nil {
			return nil, fmt.Errorf("read JWT_SECRET_FILE: %w", err)
		}
		secret := strings.TrimSpace(string(data))
		if secret == "" {
			return nil, fmt.Errorf("JWT_SECRET_FILE %s is empty", cfg.JWTSecretFile)
		}
		return []byte(secret), nil
	}

	return loadOrGenerateSecret(cfg.JWTSecretPath)
}

// loadOrGenerateSecret loads a hex-encoded signing secret from disk, or
// generates and saves one if the file does not exist.
func loadOrGenerateSecret(path string) ([]byte, error) {
	if path == "" {
		secret := make([]byte, jwtSecretBytes)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate signing secret: %w", err)
		}
		log.Printf("WARNING: no JWT secret configured, using an ephemeral key; issued tokens will not survive a restart")
		return secret, nil
	}

	data, err := os.ReadFile(path)
	if err == nil {
		secret, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("decode signing secret at %s: %w", path, err)
		}
		if len(secret) == 0 {
			return nil, fmt.Errorf("signing secret file %s is empty", path)
		}
		return secret, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read signing secret file: %w", err)
	}

	secret := make([]byte, jwtSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate signing secret: %w", err)
	}

	if err := os.WriteFile(path, []byte(hex.EncodeToString(secret)+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("save signing secret to disk: %w", err)
	}
	log.Printf("INFO: generated JWT signing secret at %s", path)

	return secret, nil
}
