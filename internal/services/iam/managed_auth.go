package iam

import (
	"context"
	"errors"
	"log"

	"github.com/warden-auth/warden/internal/auth"
	"github.com/warden-auth/warden/internal/db/models"
	"github.com/warden-auth/warden/internal/repository"
)

// ManagedAuthService authenticates locally managed users against stored
// password hashes.
//
// Verification order matters: the password is checked before any account
// state, so a caller without valid credentials learns nothing about whether
// the account is suspended or pending a password change. The unknown-user
// path burns an equivalent bcrypt comparison for the same reason.
type ManagedAuthService struct {
	users     repository.UserRepository
	passwords *PasswordService
}

// NewManagedAuthService creates a managed-user authentication service.
func NewManagedAuthService(users repository.UserRepository, passwords *PasswordService) *ManagedAuthService {
	return &ManagedAuthService{users: users, passwords: passwords}
}

// Authenticate implements PasswordAuthenticator.
//
// Failure categories:
//   - unknown user, wrong password → INVALID_CREDENTIALS
//   - suspended account → SUSPENDED
//   - password change required → FORCE_PASSWORD_CHANGE
//   - storage errors → OTHER
func (s *ManagedAuthService) Authenticate(ctx context.Context, username, password string) (auth.Principal, error) {
	return s.authenticate(ctx, username, password, false)
}

// AuthenticateForPasswordChange verifies credentials for the password-change
// flow. A pending FORCE_PASSWORD_CHANGE is accepted here, because changing
// the password is exactly how the user clears it. Suspension still rejects.
func (s *ManagedAuthService) AuthenticateForPasswordChange(ctx context.Context, username, password string) (auth.Principal, error) {
	return s.authenticate(ctx, username, password, true)
}

func (s *ManagedAuthService) authenticate(ctx context.Context, username, password string, allowForceChange bool) (auth.Principal, error) {
	if username == "" || password == "" {
		return nil, NewFailure(CauseInvalidCredentials, username)
	}

	user, err := s.users.GetByUsernameAndKind(ctx, username, models.UserKindManaged)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.passwords.DummyCompare(password)
			return nil, NewFailure(CauseInvalidCredentials, username)
		}
		return nil, WrapFailure(CauseOther, username, err)
	}

	if user.PasswordHash == nil || *user.PasswordHash == "" {
		// Managed row without a hash cannot authenticate. Keep the timing
		// profile of a normal mismatch.
		s.passwords.DummyCompare(password)
		return nil, NewFailure(CauseInvalidCredentials, username)
	}

	if !s.passwords.Matches(password, *user.PasswordHash) {
		return nil, NewFailure(CauseInvalidCredentials, username)
	}

	if user.Suspended {
		return nil, NewFailure(CauseSuspended, username)
	}

	if user.ForcePasswordChange && !allowForceChange {
		return nil, NewFailure(CauseForcePasswordChange, username)
	}

	// The plaintext is in hand and verified: upgrade hashes produced by a
	// weaker scheme or a lower work factor. Best-effort, a failed upgrade
	// must not fail the login.
	if s.passwords.ShouldRehash(*user.PasswordHash) {
		if err := s.upgradeHash(ctx, user, password); err != nil {
			log.Printf("WARNING: password hash upgrade failed for user %s: %v", user.Username, err)
		}
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID); err != nil {
		log.Printf("WARNING: update last login for user %s: %v", user.Username, err)
	}

	return auth.ManagedUser{User: user}, nil
}

func (s *ManagedAuthService) upgradeHash(ctx context.Context, user *models.User, password string) error {
	hash, err := s.passwords.CreateHash(password)
	if err != nil {
		return err
	}
	return s.users.SetPasswordHash(ctx, user.ID, hash, user.ForcePasswordChange)
}
