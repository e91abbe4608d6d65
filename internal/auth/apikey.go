package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
)

// API keys are presented as "wdn_<publicID>.<secret>". The public ID is a
// short base58 lookup handle stored in clear; the secret is base58 as well
// and only its SHA-256 hash is persisted. Base58 keeps the token free of
// characters that need escaping in URLs, headers, and shell commands.
const (
	// APIKeyPrefix distinguishes warden keys in logs and secret scanners.
	APIKeyPrefix = "wdn_"

	publicIDBytes = 6
	secretBytes   = 32
)

// ErrMalformedAPIKey is returned when a presented token does not have the
// expected shape. Callers must not expose which part failed.
var ErrMalformedAPIKey = errors.New("malformed API key")

// GeneratedKey holds the parts of a newly minted API key. Secret and Token
// exist only in memory; after the caller shows them once they are gone.
type GeneratedKey struct {
	// PublicID is the stored lookup handle.
	PublicID string
	// Secret is the unhashed secret component.
	Secret string
	// SecretHash is the hex SHA-256 of Secret, the only part persisted.
	SecretHash string
	// Token is the full presentation form handed to the caller.
	Token string
}

// GenerateAPIKey mints a new API key with a fresh public ID and secret.
func GenerateAPIKey() (*GeneratedKey, error) {
	publicID, err := randomBase58(publicIDBytes)
	if err != nil {
		return nil, fmt.Errorf("generate public ID: %w", err)
	}

	secret, err := randomBase58(secretBytes)
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	return &GeneratedKey{
		PublicID:   publicID,
		Secret:     secret,
		SecretHash: HashAPIKeySecret(secret),
		Token:      APIKeyPrefix + publicID + "." + secret,
	}, nil
}

// NewAPIKeySecret mints a replacement secret for an existing public ID.
// Used by rotation, which keeps the public ID stable.
func NewAPIKeySecret(publicID string) (*GeneratedKey, error) {
	secret, err := randomBase58(secretBytes)
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	return &GeneratedKey{
		PublicID:   publicID,
		Secret:     secret,
		SecretHash: HashAPIKeySecret(secret),
		Token:      APIKeyPrefix + publicID + "." + secret,
	}, nil
}

// ParseAPIKey splits a presented token into its public ID and secret.
// Returns ErrMalformedAPIKey for anything that does not match the expected
// shape.
func ParseAPIKey(token string) (publicID, secret string, err error) {
	rest, ok := strings.CutPrefix(token, APIKeyPrefix)
	if !ok {
		return "", "", ErrMalformedAPIKey
	}

	publicID, secret, ok = strings.Cut(rest, ".")
	if !ok || publicID == "" || secret == "" {
		return "", "", ErrMalformedAPIKey
	}

	return publicID, secret, nil
}

// HashAPIKeySecret returns the hex SHA-256 of a key secret. Key secrets are
// high-entropy random values, so a single unsalted hash is sufficient and
// keeps verification cheap enough for per-request use.
func HashAPIKeySecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// APIKeySecretMatches compares a presented secret against a stored hash in
// constant time.
func APIKeySecretMatches(secret, storedHash string) bool {
	presented := HashAPIKeySecret(secret)
	return subtle.ConstantTimeCompare([]byte(presented), []byte(storedHash)) == 1
}

func randomBase58(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base58.Encode(b), nil
}
