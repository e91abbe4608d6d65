package iam

import (
	"context"
	"time"

	"github.com/warden-auth/warden/internal/auth"
	"github.com/warden-auth/warden/internal/db/models"
)

// Service provides all identity and access management operations.
//
// This service centralizes:
//   - Request authentication (request path, performance critical)
//   - Route authorization (request path, read-only Casbin)
//   - Interactive login and token issuance (control plane)
//   - User/team/permission/API key management (admin operations)
//   - Usage tracking and cache lifecycle (background workers)
type Service interface {
	// =========================================================================
	// Authentication (Request Path - Performance Critical)
	// =========================================================================

	// AuthenticateRequest tries all registered request authenticators in
	// order (API key first, then bearer token).
	//
	// Returns:
	//   - (principal, nil): authentication successful
	//   - (nil, nil): no credentials found (unauthenticated request)
	//   - (nil, error): credentials present but rejected; the error is an
	//     *iam.Failure carrying the category
	AuthenticateRequest(ctx context.Context, req AuthRequest) (auth.Principal, error)

	// EffectivePermissions resolves the permission names a principal holds.
	//
	// API keys always resolve through their teams. User principals resolve
	// their direct grants, plus team grants when includeTeams is set.
	// The result is sorted and deduplicated.
	EffectivePermissions(ctx context.Context, principal auth.Principal, includeTeams bool) ([]string, error)

	// =========================================================================
	// Authorization (Request Path - Read-Only)
	// =========================================================================

	// HasPermission reports whether the principal holds ANY of the required
	// permissions. An empty required set is never satisfied.
	//
	// includeTeams controls whether team grants count; callers without an
	// opinion should use HasPermissionDefault, which resolves through teams.
	HasPermission(ctx context.Context, principal auth.Principal, required []string, includeTeams bool) (bool, error)

	// HasPermissionDefault is HasPermission with includeTeams set. This is
	// the documented default: the REST surface always resolves through teams.
	HasPermissionDefault(ctx context.Context, principal auth.Principal, required ...string) (bool, error)

	// AuthorizeRoute checks the route policy table for the given permission
	// set, path, and method. Read-only Casbin enforcement; no policy
	// mutation happens on the request path.
	AuthorizeRoute(ctx context.Context, permissions []string, path, method string) (bool, error)

	// =========================================================================
	// Interactive Login & Tokens (Control Plane)
	// =========================================================================

	// Login authenticates a username/password pair through the credential
	// chain (managed users first, directory fallback) and issues a signed
	// token carrying the principal's effective permissions.
	Login(ctx context.Context, username, password string) (auth.Principal, string, error)

	// AuthenticateOIDC runs the provider-token pipeline and issues a local
	// token for the resolved principal. Either token may be empty, not both.
	AuthenticateOIDC(ctx context.Context, rawIDToken, accessToken string) (auth.Principal, string, error)

	// IssueToken signs a token for an already-authenticated principal with a
	// snapshot of its effective permissions.
	IssueToken(ctx context.Context, principal auth.Principal) (string, error)

	// ChangePassword validates the current credentials of a managed user
	// (accepting the force-password-change state) and stores a new hash,
	// clearing the force flag.
	ChangePassword(ctx context.Context, username, currentPassword, newPassword string) error

	// =========================================================================
	// User Management (Admin Operations)
	// =========================================================================

	// CreateManagedUser creates a local user with a hashed password.
	// forceChange requires the user to set a new password on first login.
	CreateManagedUser(ctx context.Context, username, email, fullname, password string, forceChange bool) (*models.User, error)

	// GetUser retrieves a user by username across all kinds.
	GetUser(ctx context.Context, username string) (*models.User, error)

	// ListUsers returns all users ordered by username.
	ListUsers(ctx context.Context) ([]models.User, error)

	// SetUserSuspended toggles the suspension flag. Suspended users fail
	// authentication on every path with the SUSPENDED category.
	SetUserSuspended(ctx context.Context, username string, suspended bool) error

	// SetUserPassword replaces a managed user's password hash out of band.
	SetUserPassword(ctx context.Context, username, password string, forceChange bool) error

	// DeleteUser removes a user and its memberships and grants.
	DeleteUser(ctx context.Context, username string) error

	// =========================================================================
	// Team Management (Admin Operations)
	// =========================================================================

	// CreateTeam creates a named team.
	CreateTeam(ctx context.Context, name, description string) (*models.Team, error)

	// GetTeam retrieves a team by name.
	GetTeam(ctx context.Context, name string) (*models.Team, error)

	// ListTeams returns all teams ordered by name.
	ListTeams(ctx context.Context) ([]models.Team, error)

	// DeleteTeam removes a team, its memberships, grants, and mappings.
	DeleteTeam(ctx context.Context, name string) error

	// AddTeamMember adds a user to a team by names.
	AddTeamMember(ctx context.Context, teamName, username string) error

	// RemoveTeamMember removes a user from a team by names.
	RemoveTeamMember(ctx context.Context, teamName, username string) error

	// MapGroupToTeam binds an external group to a team for one identity
	// provider. Synchronized logins grant the team to members of the group.
	MapGroupToTeam(ctx context.Context, teamName string, provider auth.IdentityProvider, groupName string) error

	// UnmapGroupFromTeam removes a group→team binding.
	UnmapGroupFromTeam(ctx context.Context, teamName string, provider auth.IdentityProvider, groupName string) error

	// ListMappedGroups returns the group bindings for a team.
	ListMappedGroups(ctx context.Context, teamName string) ([]models.MappedGroup, error)

	// SynchronizeTeams reconciles a user's synchronized team memberships for
	// one identity provider against an asserted group list. The same
	// reconciliation runs automatically during directory and provider logins.
	SynchronizeTeams(ctx context.Context, username string, provider auth.IdentityProvider, groups []string) error

	// =========================================================================
	// Permission Management (Admin Operations)
	// =========================================================================

	// CreatePermission registers a permission name.
	CreatePermission(ctx context.Context, name, description string) (*models.Permission, error)

	// ListPermissions returns the permission catalog.
	ListPermissions(ctx context.Context) ([]models.Permission, error)

	// GrantPermissionToUser grants a permission directly to a user.
	GrantPermissionToUser(ctx context.Context, username, permission string) error

	// RevokePermissionFromUser removes a direct user grant.
	RevokePermissionFromUser(ctx context.Context, username, permission string) error

	// GrantPermissionToTeam grants a permission to a team.
	GrantPermissionToTeam(ctx context.Context, teamName, permission string) error

	// RevokePermissionFromTeam removes a team grant.
	RevokePermissionFromTeam(ctx context.Context, teamName, permission string) error

	// =========================================================================
	// API Key Management (Admin Operations)
	// =========================================================================

	// CreateAPIKey mints a key, stores only the secret hash, and joins the
	// named teams. Returns the record and the full key token; the token is
	// shown exactly once and cannot be recovered.
	CreateAPIKey(ctx context.Context, comment, createdBy string, teamNames []string) (*models.APIKey, string, error)

	// GetAPIKey retrieves a key record by its public ID.
	GetAPIKey(ctx context.Context, publicID string) (*models.APIKey, error)

	// ListAPIKeys returns all key records. Secret hashes are populated;
	// callers rendering keys must not expose them.
	ListAPIKeys(ctx context.Context) ([]models.APIKey, error)

	// RotateAPIKey replaces a key's secret in place, keeping its public ID
	// and team memberships. Returns the new full token (shown once) and the
	// rotation timestamp. The old secret stops working immediately.
	RotateAPIKey(ctx context.Context, publicID string) (string, time.Time, error)

	// RevokeAPIKey deletes a key and evicts it from the lookup cache.
	RevokeAPIKey(ctx context.Context, publicID string) error

	// AddAPIKeyToTeam joins a key to a team by public ID and team name.
	AddAPIKeyToTeam(ctx context.Context, publicID, teamName string) error

	// RemoveAPIKeyFromTeam removes a key from a team.
	RemoveAPIKeyFromTeam(ctx context.Context, publicID, teamName string) error

	// =========================================================================
	// Background Lifecycle & Cache Management (Out-of-Band)
	// =========================================================================

	// Start launches background workers (the usage tracker). Idempotent.
	Start()

	// Close flushes and stops background workers. The context bounds how
	// long shutdown may take.
	Close(ctx context.Context) error

	// FlushUsage forces an immediate usage-tracker flush.
	FlushUsage(ctx context.Context) error

	// ClearKeyCache drops every cached API key lookup. Subsequent requests
	// re-read the database.
	ClearKeyCache()
}
