package iam

import (
	"context"
	"errors"
	"log"

	"github.com/warden-auth/warden/internal/auth"
	"github.com/warden-auth/warden/internal/config"
	"github.com/warden-auth/warden/internal/db/models"
	"github.com/warden-auth/warden/internal/repository"
)

// LDAPAuthService authenticates users by binding against the configured
// directory server.
//
// The directory is the authority for the password; the local store is the
// authority for account state. A successful bind for a locally suspended
// account is still rejected.
type LDAPAuthService struct {
	cfg       *config.LDAPConfig
	users     repository.UserRepository
	directory DirectoryClient
	teamSync  *TeamSynchronizer
}

// NewLDAPAuthService creates a directory-backed authentication service.
func NewLDAPAuthService(
	cfg *config.LDAPConfig,
	users repository.UserRepository,
	directory DirectoryClient,
	teamSync *TeamSynchronizer,
) *LDAPAuthService {
	return &LDAPAuthService{
		cfg:       cfg,
		users:     users,
		directory: directory,
		teamSync:  teamSync,
	}
}

// Authenticate implements PasswordAuthenticator.
//
// Failure categories:
//   - rejected bind → INVALID_CREDENTIALS
//   - unreachable or misconfigured directory → OTHER
//   - valid bind, no local account, provisioning disabled → UNMAPPED_ACCOUNT
//   - suspended local account → SUSPENDED
func (s *LDAPAuthService) Authenticate(ctx context.Context, username, password string) (auth.Principal, error) {
	dn, groups, err := s.directory.Authenticate(ctx, username, password)
	if err != nil {
		if errors.Is(err, ErrDirectoryInvalidCredentials) {
			return nil, WrapFailure(CauseInvalidCredentials, username, err)
		}
		return nil, WrapFailure(CauseOther, username, err)
	}

	user, err := s.users.GetByUsernameAndKind(ctx, username, models.UserKindLDAP)
	switch {
	case err == nil:
		if user.Suspended {
			return nil, NewFailure(CauseSuspended, username)
		}
		// The directory may move an entry; follow the canonical DN.
		if user.DN == nil || *user.DN != dn {
			user.DN = &dn
			if err := s.users.Update(ctx, user); err != nil {
				log.Printf("WARNING: update DN for user %s: %v", username, err)
			}
		}

	case errors.Is(err, repository.ErrNotFound):
		if !s.cfg.UserProvisioning {
			return nil, NewFailure(CauseUnmappedAccount, username)
		}
		user = &models.User{
			Kind:     models.UserKindLDAP,
			Username: username,
			DN:       &dn,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, WrapFailure(CauseOther, username, err)
		}
		log.Printf("INFO: provisioned directory user %s (%s)", username, dn)

	default:
		return nil, WrapFailure(CauseOther, username, err)
	}

	// Membership is derived state; if it cannot be brought in line with the
	// directory's assertion the login fails rather than proceeding with
	// stale grants.
	if s.cfg.TeamSynchronization {
		if err := s.teamSync.Synchronize(ctx, user.ID, auth.ProviderLDAP, groups); err != nil {
			return nil, WrapFailure(CauseOther, username, err)
		}
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID); err != nil {
		log.Printf("WARNING: update last login for user %s: %v", username, err)
	}

	return auth.LDAPUser{User: user}, nil
}
