package server

import (
	"context"
	"time"

	"github.com/warden-auth/warden/internal/auth"
	"github.com/warden-auth/warden/internal/db/models"
	"github.com/warden-auth/warden/internal/services/iam"
)

// iamAdminService defines the exact IAM methods used by server handlers.
// This interface provides compile-time proof that iam.Service satisfies
// all requirements without circular imports.
//
// By defining this contract in the server package, we avoid importing
// repositories or internal IAM implementation details while ensuring
// type safety at compile time.
type iamAdminService interface {
	// Interactive login and tokens
	Login(ctx context.Context, username, password string) (auth.Principal, string, error)
	AuthenticateOIDC(ctx context.Context, rawIDToken, accessToken string) (auth.Principal, string, error)
	ChangePassword(ctx context.Context, username, currentPassword, newPassword string) error

	// User management
	CreateManagedUser(ctx context.Context, username, email, fullname, password string, forceChange bool) (*models.User, error)
	GetUser(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	SetUserSuspended(ctx context.Context, username string, suspended bool) error
	DeleteUser(ctx context.Context, username string) error

	// Team management
	CreateTeam(ctx context.Context, name, description string) (*models.Team, error)
	ListTeams(ctx context.Context) ([]models.Team, error)
	DeleteTeam(ctx context.Context, name string) error
	MapGroupToTeam(ctx context.Context, teamName string, provider auth.IdentityProvider, groupName string) error
	UnmapGroupFromTeam(ctx context.Context, teamName string, provider auth.IdentityProvider, groupName string) error
	ListMappedGroups(ctx context.Context, teamName string) ([]models.MappedGroup, error)
	GrantPermissionToTeam(ctx context.Context, teamName, permission string) error

	// Permission management
	CreatePermission(ctx context.Context, name, description string) (*models.Permission, error)
	ListPermissions(ctx context.Context) ([]models.Permission, error)

	// API key management
	CreateAPIKey(ctx context.Context, comment, createdBy string, teamNames []string) (*models.APIKey, string, error)
	ListAPIKeys(ctx context.Context) ([]models.APIKey, error)
	RotateAPIKey(ctx context.Context, publicID string) (string, time.Time, error)
	RevokeAPIKey(ctx context.Context, publicID string) error

	// Background lifecycle and caches
	FlushUsage(ctx context.Context) error
	ClearKeyCache()
}

// Compile-time assertion: iam.Service must implement iamAdminService.
// This will cause a build failure if iam.Service is missing any required method.
var _ iamAdminService = (iam.Service)(nil)
