package repository

import (
	"context"
	"errors"
	"time"

	"github.com/warden-auth/warden/internal/db/models"
)

// ErrNotFound is wrapped by every repository when a lookup matches no row.
// Callers branch on it with errors.Is.
var ErrNotFound = errors.New("record not found")

// UserRepository exposes persistence operations for users of all kinds.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	// GetByUsernameAndKind narrows the lookup to rows owned by one
	// authentication service, so a directory user never shadows a managed
	// lookup and vice versa.
	GetByUsernameAndKind(ctx context.Context, username string, kind models.UserKind) (*models.User, error)
	GetBySubjectAndKind(ctx context.Context, subject string, kind models.UserKind) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	UpdateLastLogin(ctx context.Context, id string) error
	SetPasswordHash(ctx context.Context, id string, passwordHash string, forceChange bool) error
	SetSuspended(ctx context.Context, id string, suspended bool) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]models.User, error)
}

// TeamRepository exposes persistence operations for teams and memberships.
type TeamRepository interface {
	Create(ctx context.Context, team *models.Team) error
	GetByID(ctx context.Context, id string) (*models.Team, error)
	GetByName(ctx context.Context, name string) (*models.Team, error)
	Update(ctx context.Context, team *models.Team) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]models.Team, error)

	// Membership operations
	AddUser(ctx context.Context, teamID, userID string) error
	RemoveUser(ctx context.Context, teamID, userID string) error
	ListForUser(ctx context.Context, userID string) ([]models.Team, error)
	AddAPIKey(ctx context.Context, teamID, apiKeyID string) error
	RemoveAPIKey(ctx context.Context, teamID, apiKeyID string) error
	ListForAPIKey(ctx context.Context, apiKeyID string) ([]models.Team, error)

	// SyncUserTeams applies a membership delta in a single transaction.
	// Replays with empty sets are no-ops.
	SyncUserTeams(ctx context.Context, userID string, addTeamIDs, removeTeamIDs []string) error
}

// PermissionRepository exposes the permission catalog and grant operations.
type PermissionRepository interface {
	Create(ctx context.Context, permission *models.Permission) error
	GetByName(ctx context.Context, name string) (*models.Permission, error)
	List(ctx context.Context) ([]models.Permission, error)

	GrantToUser(ctx context.Context, userID, permissionID string) error
	RevokeFromUser(ctx context.Context, userID, permissionID string) error
	GrantToTeam(ctx context.Context, teamID, permissionID string) error
	RevokeFromTeam(ctx context.Context, teamID, permissionID string) error

	// ListForUser returns only direct grants; ListEffectiveForUser also
	// includes permissions reached through team membership.
	ListForUser(ctx context.Context, userID string) ([]models.Permission, error)
	ListForTeam(ctx context.Context, teamID string) ([]models.Permission, error)
	ListEffectiveForUser(ctx context.Context, userID string) ([]models.Permission, error)
	ListEffectiveForAPIKey(ctx context.Context, apiKeyID string) ([]models.Permission, error)
}

// APIKeyRepository exposes persistence operations for API keys.
type APIKeyRepository interface {
	Create(ctx context.Context, key *models.APIKey) error
	GetByID(ctx context.Context, id string) (*models.APIKey, error)
	GetByPublicID(ctx context.Context, publicID string) (*models.APIKey, error)
	// UpdateSecretHash replaces the stored hash during rotation.
	UpdateSecretHash(ctx context.Context, id string, secretHash string, rotatedAt time.Time) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]models.APIKey, error)

	// TouchLastUsed advances last_used_at for the given key IDs in one
	// transaction. A row is only written when the recorded timestamp is
	// newer than the stored one, so replayed flushes cannot move the
	// column backwards.
	TouchLastUsed(ctx context.Context, usages map[string]time.Time) error
}

// MappedGroupRepository exposes the bindings between external groups and
// teams.
type MappedGroupRepository interface {
	Create(ctx context.Context, mapping *models.MappedGroup) error
	Delete(ctx context.Context, id string) error
	ListForTeam(ctx context.Context, teamID string) ([]models.MappedGroup, error)
	// ListByProvider returns every mapping owned by one identity provider.
	// Team synchronization uses it to decide which teams participate in
	// sync for that provider.
	ListByProvider(ctx context.Context, identityProvider string) ([]models.MappedGroup, error)
	// TeamIDsForGroups resolves external group names to the mapped team IDs
	// for one identity provider.
	TeamIDsForGroups(ctx context.Context, identityProvider string, groups []string) ([]string, error)
}
