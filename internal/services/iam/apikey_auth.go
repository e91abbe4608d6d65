package iam

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/warden-auth/warden/internal/auth"
	"github.com/warden-auth/warden/internal/config"
	"github.com/warden-auth/warden/internal/db/models"
	"github.com/warden-auth/warden/internal/repository"
)

// APIKeyAuthService authenticates requests presenting an API key token.
//
// Rows are looked up by public ID through an expiring LRU cache, so the
// per-request cost is one SHA-256 and one constant-time compare. Every
// failure mode (malformed token, unknown public ID, wrong secret) collapses
// to the same INVALID_CREDENTIALS verdict.
//
// The service owns the usage tracker: successful authentications feed it,
// and its flushes sweep the cache so cached rows never hide a fresher
// last_used_at.
type APIKeyAuthService struct {
	keys    repository.APIKeyRepository
	cache   *expirable.LRU[string, *models.APIKey]
	tracker *UsageTracker
}

// NewAPIKeyAuthService creates an API key authentication service with its
// lookup cache and usage tracker. The tracker is not started; callers that
// want background flushing call Tracker().Start().
func NewAPIKeyAuthService(keys repository.APIKeyRepository, cfg *config.AuthConfig) *APIKeyAuthService {
	s := &APIKeyAuthService{
		keys:  keys,
		cache: expirable.NewLRU[string, *models.APIKey](cfg.KeyCacheSize, nil, cfg.KeyCacheTTL),
	}
	s.tracker = NewUsageTracker(keys, cfg.UsageQueueCapacity, cfg.UsageFlushInterval, s.Invalidate)
	return s
}

// Tracker returns the usage tracker for lifecycle management.
func (s *APIKeyAuthService) Tracker() *UsageTracker {
	return s.tracker
}

// Authenticate verifies a presented token of the form "wdn_<publicID>.<secret>".
func (s *APIKeyAuthService) Authenticate(ctx context.Context, token string) (auth.Principal, error) {
	publicID, secret, err := auth.ParseAPIKey(token)
	if err != nil {
		return nil, WrapFailure(CauseInvalidCredentials, "", err)
	}

	key, err := s.lookup(ctx, publicID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewFailure(CauseInvalidCredentials, publicID)
		}
		return nil, WrapFailure(CauseOther, publicID, err)
	}

	if !auth.APIKeySecretMatches(secret, key.SecretHash) {
		return nil, NewFailure(CauseInvalidCredentials, publicID)
	}

	s.tracker.RecordUsage(key.ID, key.PublicID, time.Now())

	return auth.APIKeyPrincipal{Key: key}, nil
}

// Invalidate drops one public ID from the lookup cache. Called after
// rotation, revocation, and usage flushes.
func (s *APIKeyAuthService) Invalidate(publicID string) {
	s.cache.Remove(publicID)
}

// ClearCache drops every cached row.
func (s *APIKeyAuthService) ClearCache() {
	s.cache.Purge()
}

func (s *APIKeyAuthService) lookup(ctx context.Context, publicID string) (*models.APIKey, error) {
	if key, ok := s.cache.Get(publicID); ok {
		return key, nil
	}

	key, err := s.keys.GetByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}

	s.cache.Add(publicID, key)
	return key, nil
}

// apiKeyRequestAuthenticator adapts APIKeyAuthService to the per-request
// strategy chain.
type apiKeyRequestAuthenticator struct {
	svc *APIKeyAuthService
}

// NewAPIKeyRequestAuthenticator wraps an APIKeyAuthService as a
// RequestAuthenticator reading the X-Api-Key header.
func NewAPIKeyRequestAuthenticator(svc *APIKeyAuthService) RequestAuthenticator {
	return &apiKeyRequestAuthenticator{svc: svc}
}

func (a *apiKeyRequestAuthenticator) Authenticate(ctx context.Context, req AuthRequest) (auth.Principal, error) {
	token := req.Headers.Get(auth.APIKeyHeader)
	if token == "" {
		// No API key presented, let the next strategy look.
		return nil, nil
	}
	return a.svc.Authenticate(ctx, token)
}
