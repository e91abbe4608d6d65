package iam

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/casbin/casbin/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/warden-auth/warden/internal/auth"
	"github.com/warden-auth/warden/internal/config"
	"github.com/warden-auth/warden/internal/db/models"
	"github.com/warden-auth/warden/internal/repository"
	"github.com/warden-auth/warden/internal/telemetry"
)

const tracerName = "warden/services/iam"

// iamService implements the Service interface.
//
// It coordinates the repositories, the authentication services, the Casbin
// enforcer, and the usage tracker. All request-path methods are safe for
// concurrent use.
type iamService struct {
	// Repositories
	users        repository.UserRepository
	teams        repository.TeamRepository
	permissions  repository.PermissionRepository
	apiKeys      repository.APIKeyRepository
	mappedGroups repository.MappedGroupRepository

	// Casbin enforcer (read-only on the request path)
	enforcer casbin.IEnforcer

	// Authentication services
	passwords  *PasswordService
	tokens     *JWTService
	managed    *ManagedAuthService
	apiKeyAuth *APIKeyAuthService
	ldap       *LDAPAuthService  // nil unless the directory is configured
	oidc       *OIDCAuthService  // nil unless the provider is configured
	teamSync   *TeamSynchronizer

	// loginChain handles interactive username/password logins: managed
	// users first, directory fallback on unknown credentials.
	loginChain PasswordAuthenticator

	// authenticators handle request credentials in priority order:
	// API key header, then bearer token.
	authenticators []RequestAuthenticator
}

// ServiceDependencies contains all dependencies for service construction.
//
// This struct is used for dependency injection, making it easy to test with
// mocks and to add new dependencies without breaking existing call sites.
type ServiceDependencies struct {
	Users        repository.UserRepository
	Teams        repository.TeamRepository
	Permissions  repository.PermissionRepository
	APIKeys      repository.APIKeyRepository
	MappedGroups repository.MappedGroupRepository
	Enforcer     casbin.IEnforcer

	// Directory overrides the LDAP client. When nil and the directory is
	// enabled, a real client is built from configuration. Tests inject fakes
	// here.
	Directory DirectoryClient

	// Claims overrides the OIDC claim source. When nil and the provider is
	// enabled, discovery runs against the configured issuer.
	Claims ClaimSource
}

// ServiceConfig contains configuration for service construction. Separated
// from dependencies to distinguish config from runtime collaborators.
type ServiceConfig struct {
	Config *config.Config
}

// NewService creates the IAM service with all dependencies.
//
// The context is used for provider discovery when OIDC is enabled; discovery
// failure is fatal, the server must not start half-configured. Background
// workers are not running yet; call Start after construction.
func NewService(ctx context.Context, deps ServiceDependencies, cfg ServiceConfig) (Service, error) {
	if cfg.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Users == nil || deps.Teams == nil || deps.Permissions == nil ||
		deps.APIKeys == nil || deps.MappedGroups == nil {
		return nil, fmt.Errorf("repository dependencies incomplete")
	}
	if deps.Enforcer == nil {
		return nil, fmt.Errorf("enforcer is required")
	}

	tokens, err := NewJWTService(cfg.Config, deps.Users)
	if err != nil {
		return nil, fmt.Errorf("initialize token service: %w", err)
	}

	svc := &iamService{
		users:        deps.Users,
		teams:        deps.Teams,
		permissions:  deps.Permissions,
		apiKeys:      deps.APIKeys,
		mappedGroups: deps.MappedGroups,
		enforcer:     deps.Enforcer,
		passwords:    NewPasswordService(cfg.Config.Auth.BcryptRounds),
		tokens:       tokens,
		teamSync:     NewTeamSynchronizer(deps.Teams, deps.MappedGroups),
	}

	svc.managed = NewManagedAuthService(deps.Users, svc.passwords)
	svc.apiKeyAuth = NewAPIKeyAuthService(deps.APIKeys, &cfg.Config.Auth)

	if cfg.Config.LDAP.Enabled {
		directory := deps.Directory
		if directory == nil {
			directory = NewLDAPDirectory(&cfg.Config.LDAP)
		}
		svc.ldap = NewLDAPAuthService(&cfg.Config.LDAP, deps.Users, directory, svc.teamSync)
	}

	if cfg.Config.OIDC.Enabled {
		source := deps.Claims
		if source == nil {
			source, err = NewOIDCClaimSource(ctx, &cfg.Config.OIDC)
			if err != nil {
				return nil, fmt.Errorf("initialize OIDC provider: %w", err)
			}
		}
		svc.oidc = NewOIDCAuthService(&cfg.Config.OIDC, source, deps.Users, deps.Teams, svc.teamSync)
	}

	// Interactive logins try managed credentials first; the directory only
	// sees attempts the local store knows nothing about.
	var fallback PasswordAuthenticator
	if svc.ldap != nil {
		fallback = svc.ldap
	}
	svc.loginChain = NewCredentialChain(svc.managed, fallback)

	svc.authenticators = []RequestAuthenticator{
		NewAPIKeyRequestAuthenticator(svc.apiKeyAuth),
		NewBearerAuthenticator(svc.tokens, svc.oidc),
	}

	return svc, nil
}

// =========================================================================
// Authentication (Request Path - Performance Critical)
// =========================================================================

// AuthenticateRequest tries all registered request authenticators in order.
//
// Algorithm:
//   - (nil, nil) from an authenticator: no credentials of that type, try next
//   - (nil, error): credentials present but rejected, stop and return
//   - (principal, nil): success, stop and return
//   - all (nil, nil): unauthenticated request, caller decides what that means
func (s *iamService) AuthenticateRequest(ctx context.Context, req AuthRequest) (auth.Principal, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "iam.AuthenticateRequest",
		attribute.Int("authenticator_count", len(s.authenticators)),
	)
	defer span.End()

	for i, authenticator := range s.authenticators {
		principal, err := authenticator.Authenticate(ctx, req)
		if err != nil {
			if cause, ok := FailureCause(err); ok {
				span.SetAttributes(attribute.String(telemetry.AttrFailureCause, string(cause)))
			}
			telemetry.AddEvent(span, "authentication.failed",
				attribute.Int("authenticator_index", i),
			)
			telemetry.RecordError(span, err)
			return nil, err
		}
		if principal != nil {
			span.SetAttributes(
				attribute.String(telemetry.AttrPrincipalName, principal.PrincipalName()),
				attribute.String(telemetry.AttrPrincipalKind, string(principal.Kind())),
			)
			telemetry.AddEvent(span, "authentication.succeeded",
				attribute.Int("authenticator_index", i),
			)
			return principal, nil
		}
	}

	telemetry.AddEvent(span, "authentication.no_credentials")
	return nil, nil
}

// EffectivePermissions resolves the permission names a principal holds.
func (s *iamService) EffectivePermissions(ctx context.Context, principal auth.Principal, includeTeams bool) ([]string, error) {
	if principal == nil {
		return nil, fmt.Errorf("nil principal")
	}

	var (
		perms []models.Permission
		err   error
	)
	if key, ok := principal.(auth.APIKeyPrincipal); ok {
		perms, err = s.permissions.ListEffectiveForAPIKey(ctx, key.Key.ID)
	} else {
		user, ok := auth.UserOf(principal)
		if !ok {
			return nil, fmt.Errorf("unhandled principal kind %s", principal.Kind())
		}
		if includeTeams {
			perms, err = s.permissions.ListEffectiveForUser(ctx, user.ID)
		} else {
			perms, err = s.permissions.ListForUser(ctx, user.ID)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("resolve permissions for %s: %w", principal.PrincipalName(), err)
	}

	names := make([]string, 0, len(perms))
	seen := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		if _, dup := seen[p.Name]; dup {
			continue
		}
		seen[p.Name] = struct{}{}
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names, nil
}

// =========================================================================
// Authorization (Request Path - Read-Only)
// =========================================================================

// HasPermission reports whether the principal holds any of the required
// permissions.
func (s *iamService) HasPermission(ctx context.Context, principal auth.Principal, required []string, includeTeams bool) (bool, error) {
	if len(required) == 0 {
		return false, nil
	}

	held, err := s.EffectivePermissions(ctx, principal, includeTeams)
	if err != nil {
		return false, err
	}

	for _, want := range required {
		for _, have := range held {
			if have == want {
				return true, nil
			}
		}
	}
	return false, nil
}

// HasPermissionDefault is HasPermission resolving through teams.
func (s *iamService) HasPermissionDefault(ctx context.Context, principal auth.Principal, required ...string) (bool, error) {
	return s.HasPermission(ctx, principal, required, true)
}

// AuthorizeRoute checks the route policy table. Read-only enforcement.
func (s *iamService) AuthorizeRoute(ctx context.Context, permissions []string, path, method string) (bool, error) {
	_, span := telemetry.StartSpan(ctx, tracerName, "iam.AuthorizeRoute",
		attribute.String(telemetry.AttrRoutePath, path),
		attribute.String(telemetry.AttrRouteMethod, method),
	)
	defer span.End()

	allowed, err := s.enforcer.Enforce(auth.JoinPermissions(permissions), path, method)
	if err != nil {
		telemetry.RecordError(span, err)
		return false, fmt.Errorf("enforce route policy: %w", err)
	}

	span.SetAttributes(attribute.Bool(telemetry.AttrRouteAllowed, allowed))
	return allowed, nil
}

// =========================================================================
// Interactive Login & Tokens (Control Plane)
// =========================================================================

// Login authenticates a username/password pair and issues a token.
func (s *iamService) Login(ctx context.Context, username, password string) (auth.Principal, string, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "iam.Login",
		attribute.String(telemetry.AttrPrincipalName, username),
	)
	defer span.End()

	principal, err := s.loginChain.Authenticate(ctx, username, password)
	if err != nil {
		if cause, ok := FailureCause(err); ok {
			span.SetAttributes(attribute.String(telemetry.AttrFailureCause, string(cause)))
		}
		telemetry.RecordError(span, err)
		return nil, "", err
	}

	token, err := s.IssueToken(ctx, principal)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, "", err
	}

	span.SetAttributes(attribute.String(telemetry.AttrIdentityProvider, string(auth.ProviderOf(principal))))
	return principal, token, nil
}

// AuthenticateOIDC runs the provider-token pipeline and issues a token.
func (s *iamService) AuthenticateOIDC(ctx context.Context, rawIDToken, accessToken string) (auth.Principal, string, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "iam.AuthenticateOIDC")
	defer span.End()

	if s.oidc == nil {
		err := WrapFailure(CauseOther, "", fmt.Errorf("OIDC provider not configured"))
		telemetry.RecordError(span, err)
		return nil, "", err
	}

	principal, err := s.oidc.Authenticate(ctx, rawIDToken, accessToken)
	if err != nil {
		if cause, ok := FailureCause(err); ok {
			span.SetAttributes(attribute.String(telemetry.AttrFailureCause, string(cause)))
		}
		telemetry.RecordError(span, err)
		return nil, "", err
	}

	token, err := s.IssueToken(ctx, principal)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, "", err
	}

	span.SetAttributes(attribute.String(telemetry.AttrPrincipalName, principal.PrincipalName()))
	return principal, token, nil
}

// IssueToken signs a token carrying the principal's effective permissions.
// The snapshot is taken through teams, matching what the authorization layer
// will check against.
func (s *iamService) IssueToken(ctx context.Context, principal auth.Principal) (string, error) {
	permissions, err := s.EffectivePermissions(ctx, principal, true)
	if err != nil {
		return "", err
	}
	return s.tokens.CreateTokenWithPermissions(principal, permissions)
}

// ChangePassword validates current credentials and stores a new hash.
//
// The managed service accepts credentials in the force-password-change state
// here, which is how a forced user completes the change. Suspended users are
// still rejected. The stored force flag is cleared with the new hash.
func (s *iamService) ChangePassword(ctx context.Context, username, currentPassword, newPassword string) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "iam.ChangePassword",
		attribute.String(telemetry.AttrPrincipalName, username),
	)
	defer span.End()

	if newPassword == "" {
		return NewFailure(CauseInvalidCredentials, username)
	}

	principal, err := s.managed.AuthenticateForPasswordChange(ctx, username, currentPassword)
	if err != nil {
		if cause, ok := FailureCause(err); ok {
			span.SetAttributes(attribute.String(telemetry.AttrFailureCause, string(cause)))
		}
		telemetry.RecordError(span, err)
		return err
	}

	user, ok := auth.UserOf(principal)
	if !ok {
		return fmt.Errorf("unexpected principal kind %s", principal.Kind())
	}

	hash, err := s.passwords.CreateHash(newPassword)
	if err != nil {
		return fmt.Errorf("hash new password: %w", err)
	}
	if err := s.users.SetPasswordHash(ctx, user.ID, hash, false); err != nil {
		return fmt.Errorf("store new password hash: %w", err)
	}

	log.Printf("INFO: password changed for user %s", username)
	return nil
}

// =========================================================================
// User Management (Admin Operations)
// =========================================================================

// CreateManagedUser creates a local user with a hashed password.
func (s *iamService) CreateManagedUser(ctx context.Context, username, email, fullname, password string, forceChange bool) (*models.User, error) {
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if password == "" {
		return nil, fmt.Errorf("password is required")
	}

	hash, err := s.passwords.CreateHash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		Kind:                models.UserKindManaged,
		Username:            username,
		Fullname:            fullname,
		PasswordHash:        &hash,
		ForcePasswordChange: forceChange,
	}
	if email != "" {
		user.Email = &email
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	log.Printf("INFO: created managed user %s", username)
	return user, nil
}

// GetUser retrieves a user by username across all kinds.
func (s *iamService) GetUser(ctx context.Context, username string) (*models.User, error) {
	return s.users.GetByUsername(ctx, username)
}

// ListUsers returns all users.
func (s *iamService) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.users.List(ctx)
}

// SetUserSuspended toggles the suspension flag.
func (s *iamService) SetUserSuspended(ctx context.Context, username string, suspended bool) error {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}

	if err := s.users.SetSuspended(ctx, user.ID, suspended); err != nil {
		return fmt.Errorf("set suspended: %w", err)
	}

	if suspended {
		log.Printf("INFO: suspended user %s", username)
	} else {
		log.Printf("INFO: unsuspended user %s", username)
	}
	return nil
}

// SetUserPassword replaces a managed user's password hash out of band.
func (s *iamService) SetUserPassword(ctx context.Context, username, password string, forceChange bool) error {
	if password == "" {
		return fmt.Errorf("password is required")
	}

	user, err := s.users.GetByUsernameAndKind(ctx, username, models.UserKindManaged)
	if err != nil {
		return fmt.Errorf("get managed user: %w", err)
	}

	hash, err := s.passwords.CreateHash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.SetPasswordHash(ctx, user.ID, hash, forceChange); err != nil {
		return fmt.Errorf("store password hash: %w", err)
	}
	return nil
}

// DeleteUser removes a user. Memberships and grants go with the row.
func (s *iamService) DeleteUser(ctx context.Context, username string) error {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if err := s.users.Delete(ctx, user.ID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	log.Printf("INFO: deleted user %s", username)
	return nil
}

// =========================================================================
// Team Management (Admin Operations)
// =========================================================================

// CreateTeam creates a named team.
func (s *iamService) CreateTeam(ctx context.Context, name, description string) (*models.Team, error) {
	if name == "" {
		return nil, fmt.Errorf("team name is required")
	}

	team := &models.Team{Name: name, Description: description}
	if err := s.teams.Create(ctx, team); err != nil {
		return nil, fmt.Errorf("create team: %w", err)
	}
	return team, nil
}

// GetTeam retrieves a team by name.
func (s *iamService) GetTeam(ctx context.Context, name string) (*models.Team, error) {
	return s.teams.GetByName(ctx, name)
}

// ListTeams returns all teams.
func (s *iamService) ListTeams(ctx context.Context) ([]models.Team, error) {
	return s.teams.List(ctx)
}

// DeleteTeam removes a team and everything hanging off it.
func (s *iamService) DeleteTeam(ctx context.Context, name string) error {
	team, err := s.teams.GetByName(ctx, name)
	if err != nil {
		return fmt.Errorf("get team: %w", err)
	}
	if err := s.teams.Delete(ctx, team.ID); err != nil {
		return fmt.Errorf("delete team: %w", err)
	}
	return nil
}

// AddTeamMember adds a user to a team.
func (s *iamService) AddTeamMember(ctx context.Context, teamName, username string) error {
	team, err := s.teams.GetByName(ctx, teamName)
	if err != nil {
		return fmt.Errorf("get team: %w", err)
	}
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if err := s.teams.AddUser(ctx, team.ID, user.ID); err != nil {
		return fmt.Errorf("add team member: %w", err)
	}
	return nil
}

// RemoveTeamMember removes a user from a team.
func (s *iamService) RemoveTeamMember(ctx context.Context, teamName, username string) error {
	team, err := s.teams.GetByName(ctx, teamName)
	if err != nil {
		return fmt.Errorf("get team: %w", err)
	}
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if err := s.teams.RemoveUser(ctx, team.ID, user.ID); err != nil {
		return fmt.Errorf("remove team member: %w", err)
	}
	return nil
}

// MapGroupToTeam binds an external group to a team for one identity provider.
func (s *iamService) MapGroupToTeam(ctx context.Context, teamName string, provider auth.IdentityProvider, groupName string) error {
	if err := validateSyncProvider(provider); err != nil {
		return err
	}
	if groupName == "" {
		return fmt.Errorf("group name is required")
	}

	team, err := s.teams.GetByName(ctx, teamName)
	if err != nil {
		return fmt.Errorf("get team: %w", err)
	}

	mapping := &models.MappedGroup{
		TeamID:           team.ID,
		IdentityProvider: string(provider),
		GroupName:        groupName,
	}
	if err := s.mappedGroups.Create(ctx, mapping); err != nil {
		return fmt.Errorf("create group mapping: %w", err)
	}

	log.Printf("INFO: mapped %s group %q to team %s", provider, groupName, teamName)
	return nil
}

// UnmapGroupFromTeam removes a group→team binding.
func (s *iamService) UnmapGroupFromTeam(ctx context.Context, teamName string, provider auth.IdentityProvider, groupName string) error {
	team, err := s.teams.GetByName(ctx, teamName)
	if err != nil {
		return fmt.Errorf("get team: %w", err)
	}

	mappings, err := s.mappedGroups.ListForTeam(ctx, team.ID)
	if err != nil {
		return fmt.Errorf("list group mappings: %w", err)
	}
	for _, m := range mappings {
		if m.IdentityProvider == string(provider) && m.GroupName == groupName {
			if err := s.mappedGroups.Delete(ctx, m.ID); err != nil {
				return fmt.Errorf("delete group mapping: %w", err)
			}
			return nil
		}
	}
	return fmt.Errorf("mapping %s/%q on team %s: %w", provider, groupName, teamName, repository.ErrNotFound)
}

// ListMappedGroups returns the group bindings for a team.
func (s *iamService) ListMappedGroups(ctx context.Context, teamName string) ([]models.MappedGroup, error) {
	team, err := s.teams.GetByName(ctx, teamName)
	if err != nil {
		return nil, fmt.Errorf("get team: %w", err)
	}
	return s.mappedGroups.ListForTeam(ctx, team.ID)
}

// SynchronizeTeams reconciles a user's synchronized memberships out of band.
func (s *iamService) SynchronizeTeams(ctx context.Context, username string, provider auth.IdentityProvider, groups []string) error {
	if err := validateSyncProvider(provider); err != nil {
		return err
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	return s.teamSync.Synchronize(ctx, user.ID, provider, groups)
}

// validateSyncProvider rejects providers that do not assert external groups.
func validateSyncProvider(provider auth.IdentityProvider) error {
	switch provider {
	case auth.ProviderLDAP, auth.ProviderOIDC:
		return nil
	default:
		return fmt.Errorf("identity provider %s does not assert external groups", provider)
	}
}

// =========================================================================
// Permission Management (Admin Operations)
// =========================================================================

// CreatePermission registers a permission name.
func (s *iamService) CreatePermission(ctx context.Context, name, description string) (*models.Permission, error) {
	if name == "" {
		return nil, fmt.Errorf("permission name is required")
	}

	permission := &models.Permission{Name: name, Description: description}
	if err := s.permissions.Create(ctx, permission); err != nil {
		return nil, fmt.Errorf("create permission: %w", err)
	}
	return permission, nil
}

// ListPermissions returns the permission catalog.
func (s *iamService) ListPermissions(ctx context.Context) ([]models.Permission, error) {
	return s.permissions.List(ctx)
}

// GrantPermissionToUser grants a permission directly to a user.
func (s *iamService) GrantPermissionToUser(ctx context.Context, username, permission string) error {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	perm, err := s.permissions.GetByName(ctx, permission)
	if err != nil {
		return fmt.Errorf("get permission: %w", err)
	}
	if err := s.permissions.GrantToUser(ctx, user.ID, perm.ID); err != nil {
		return fmt.Errorf("grant permission: %w", err)
	}

	log.Printf("INFO: granted %s to user %s", permission, username)
	return nil
}

// RevokePermissionFromUser removes a direct user grant.
func (s *iamService) RevokePermissionFromUser(ctx context.Context, username, permission string) error {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	perm, err := s.permissions.GetByName(ctx, permission)
	if err != nil {
		return fmt.Errorf("get permission: %w", err)
	}
	if err := s.permissions.RevokeFromUser(ctx, user.ID, perm.ID); err != nil {
		return fmt.Errorf("revoke permission: %w", err)
	}

	log.Printf("INFO: revoked %s from user %s", permission, username)
	return nil
}

// GrantPermissionToTeam grants a permission to a team.
func (s *iamService) GrantPermissionToTeam(ctx context.Context, teamName, permission string) error {
	team, err := s.teams.GetByName(ctx, teamName)
	if err != nil {
		return fmt.Errorf("get team: %w", err)
	}
	perm, err := s.permissions.GetByName(ctx, permission)
	if err != nil {
		return fmt.Errorf("get permission: %w", err)
	}
	if err := s.permissions.GrantToTeam(ctx, team.ID, perm.ID); err != nil {
		return fmt.Errorf("grant permission: %w", err)
	}

	log.Printf("INFO: granted %s to team %s", permission, teamName)
	return nil
}

// RevokePermissionFromTeam removes a team grant.
func (s *iamService) RevokePermissionFromTeam(ctx context.Context, teamName, permission string) error {
	team, err := s.teams.GetByName(ctx, teamName)
	if err != nil {
		return fmt.Errorf("get team: %w", err)
	}
	perm, err := s.permissions.GetByName(ctx, permission)
	if err != nil {
		return fmt.Errorf("get permission: %w", err)
	}
	if err := s.permissions.RevokeFromTeam(ctx, team.ID, perm.ID); err != nil {
		return fmt.Errorf("revoke permission: %w", err)
	}

	log.Printf("INFO: revoked %s from team %s", permission, teamName)
	return nil
}

// =========================================================================
// API Key Management (Admin Operations)
// =========================================================================

// CreateAPIKey mints a key and joins the named teams.
//
// Team names are resolved before anything is written so an unknown name
// fails the whole call. If a membership insert fails afterwards the key is
// rolled back; there is no half-created key.
func (s *iamService) CreateAPIKey(ctx context.Context, comment, createdBy string, teamNames []string) (*models.APIKey, string, error) {
	teamIDs := make([]string, 0, len(teamNames))
	for _, name := range teamNames {
		team, err := s.teams.GetByName(ctx, name)
		if err != nil {
			return nil, "", fmt.Errorf("resolve team %q: %w", name, err)
		}
		teamIDs = append(teamIDs, team.ID)
	}

	generated, err := auth.GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("generate api key: %w", err)
	}

	key := &models.APIKey{
		PublicID:   generated.PublicID,
		SecretHash: generated.SecretHash,
		Comment:    comment,
		CreatedBy:  createdBy,
	}
	if err := s.apiKeys.Create(ctx, key); err != nil {
		return nil, "", fmt.Errorf("create api key: %w", err)
	}

	for _, teamID := range teamIDs {
		if err := s.teams.AddAPIKey(ctx, teamID, key.ID); err != nil {
			_ = s.apiKeys.Delete(ctx, key.ID)
			return nil, "", fmt.Errorf("add api key to team: %w", err)
		}
	}

	log.Printf("INFO: created api key %s", key.PublicID)
	return key, generated.Token, nil
}

// GetAPIKey retrieves a key record by its public ID.
func (s *iamService) GetAPIKey(ctx context.Context, publicID string) (*models.APIKey, error) {
	return s.apiKeys.GetByPublicID(ctx, publicID)
}

// ListAPIKeys returns all key records.
func (s *iamService) ListAPIKeys(ctx context.Context) ([]models.APIKey, error) {
	return s.apiKeys.List(ctx)
}

// RotateAPIKey replaces a key's secret in place.
func (s *iamService) RotateAPIKey(ctx context.Context, publicID string) (string, time.Time, error) {
	key, err := s.apiKeys.GetByPublicID(ctx, publicID)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("get api key: %w", err)
	}

	replacement, err := auth.NewAPIKeySecret(key.PublicID)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate replacement secret: %w", err)
	}

	rotatedAt := time.Now()
	if err := s.apiKeys.UpdateSecretHash(ctx, key.ID, replacement.SecretHash, rotatedAt); err != nil {
		return "", time.Time{}, fmt.Errorf("update secret hash: %w", err)
	}

	// Evict the cached record so the old secret stops matching immediately
	// instead of living out the cache TTL.
	s.apiKeyAuth.Invalidate(key.PublicID)

	log.Printf("INFO: rotated api key %s", key.PublicID)
	return replacement.Token, rotatedAt, nil
}

// RevokeAPIKey deletes a key and evicts it from the lookup cache.
func (s *iamService) RevokeAPIKey(ctx context.Context, publicID string) error {
	key, err := s.apiKeys.GetByPublicID(ctx, publicID)
	if err != nil {
		return fmt.Errorf("get api key: %w", err)
	}
	if err := s.apiKeys.Delete(ctx, key.ID); err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}

	s.apiKeyAuth.Invalidate(key.PublicID)

	log.Printf("INFO: revoked api key %s", key.PublicID)
	return nil
}

// AddAPIKeyToTeam joins a key to a team.
func (s *iamService) AddAPIKeyToTeam(ctx context.Context, publicID, teamName string) error {
	key, err := s.apiKeys.GetByPublicID(ctx, publicID)
	if err != nil {
		return fmt.Errorf("get api key: %w", err)
	}
	team, err := s.teams.GetByName(ctx, teamName)
	if err != nil {
		return fmt.Errorf("get team: %w", err)
	}
	if err := s.teams.AddAPIKey(ctx, team.ID, key.ID); err != nil {
		return fmt.Errorf("add api key to team: %w", err)
	}
	return nil
}

// RemoveAPIKeyFromTeam removes a key from a team.
func (s *iamService) RemoveAPIKeyFromTeam(ctx context.Context, publicID, teamName string) error {
	key, err := s.apiKeys.GetByPublicID(ctx, publicID)
	if err != nil {
		return fmt.Errorf("get api key: %w", err)
	}
	team, err := s.teams.GetByName(ctx, teamName)
	if err != nil {
		return fmt.Errorf("get team: %w", err)
	}
	if err := s.teams.RemoveAPIKey(ctx, team.ID, key.ID); err != nil {
		return fmt.Errorf("remove api key from team: %w", err)
	}
	return nil
}

// =========================================================================
// Background Lifecycle & Cache Management (Out-of-Band)
// =========================================================================

// Start launches the usage tracker worker.
func (s *iamService) Start() {
	s.apiKeyAuth.Tracker().Start()
}

// Close flushes and stops background workers.
func (s *iamService) Close(ctx context.Context) error {
	return s.apiKeyAuth.Tracker().Close(ctx)
}

// FlushUsage forces an immediate usage-tracker flush.
func (s *iamService) FlushUsage(ctx context.Context) error {
	return s.apiKeyAuth.Tracker().Flush(ctx)
}

// ClearKeyCache drops every cached API key lookup.
func (s *iamService) ClearKeyCache() {
	s.apiKeyAuth.ClearCache()
}
