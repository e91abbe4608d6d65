package iam

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/warden-auth/warden/internal/auth"
	casbinbunadapter "github.com/warden-auth/warden/internal/auth/bunadapter"
	"github.com/warden-auth/warden/internal/config"
	"github.com/warden-auth/warden/internal/db/models"
	"github.com/warden-auth/warden/internal/repository"
)

// mockPermissionRepository for testing
type mockPermissionRepository struct {
	permissions map[string]*models.Permission // ID → permission
	userGrants  map[string]map[string]bool    // userID → permission ID set
	teamGrants  map[string]map[string]bool    // teamID → permission ID set
	teams       *mockTeamRepository           // membership source for effective lookups
	nextID      int
}

func newMockPermissionRepository(teams *mockTeamRepository) *mockPermissionRepository {
	return &mockPermissionRepository{
		permissions: make(map[string]*models.Permission),
		userGrants:  make(map[string]map[string]bool),
		teamGrants:  make(map[string]map[string]bool),
		teams:       teams,
	}
}

func (m *mockPermissionRepository) Create(ctx context.Context, permission *models.Permission) error {
	if permission.ID == "" {
		m.nextID++
		permission.ID = fmt.Sprintf("perm-%d", m.nextID)
	}
	m.permissions[permission.ID] = permission
	return nil
}

func (m *mockPermissionRepository) GetByName(ctx context.Context, name string) (*models.Permission, error) {
	for _, p := range m.permissions {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("permission %s: %w", name, repository.ErrNotFound)
}

func (m *mockPermissionRepository) List(ctx context.Context) ([]models.Permission, error) {
	result := make([]models.Permission, 0, len(m.permissions))
	for _, p := range m.permissions {
		result = append(result, *p)
	}
	return result, nil
}

func (m *mockPermissionRepository) grant(grants map[string]map[string]bool, holderID, permissionID string) {
	if grants[holderID] == nil {
		grants[holderID] = make(map[string]bool)
	}
	grants[holderID][permissionID] = true
}

func (m *mockPermissionRepository) GrantToUser(ctx context.Context, userID, permissionID string) error {
	m.grant(m.userGrants, userID, permissionID)
	return nil
}

func (m *mockPermissionRepository) RevokeFromUser(ctx context.Context, userID, permissionID string) error {
	delete(m.userGrants[userID], permissionID)
	return nil
}

func (m *mockPermissionRepository) GrantToTeam(ctx context.Context, teamID, permissionID string) error {
	m.grant(m.teamGrants, teamID, permissionID)
	return nil
}

func (m *mockPermissionRepository) RevokeFromTeam(ctx context.Context, teamID, permissionID string) error {
	delete(m.teamGrants[teamID], permissionID)
	return nil
}

func (m *mockPermissionRepository) collect(ids map[string]bool) []models.Permission {
	result := make([]models.Permission, 0, len(ids))
	for id := range ids {
		if p, ok := m.permissions[id]; ok {
			result = append(result, *p)
		}
	}
	return result
}

func (m *mockPermissionRepository) ListForUser(ctx context.Context, userID string) ([]models.Permission, error) {
	return m.collect(m.userGrants[userID]), nil
}

func (m *mockPermissionRepository) ListForTeam(ctx context.Context, teamID string) ([]models.Permission, error) {
	return m.collect(m.teamGrants[teamID]), nil
}

// ListEffectiveForUser concatenates direct and team grants without
// deduplicating, the way a join would.
func (m *mockPermissionRepository) ListEffectiveForUser(ctx context.Context, userID string) ([]models.Permission, error) {
	result := m.collect(m.userGrants[userID])
	for teamID := range m.teams.userTeams[userID] {
		result = append(result, m.collect(m.teamGrants[teamID])...)
	}
	return result, nil
}

func (m *mockPermissionRepository) ListEffectiveForAPIKey(ctx context.Context, apiKeyID string) ([]models.Permission, error) {
	var result []models.Permission
	for teamID := range m.teams.apiKeyTeams[apiKeyID] {
		result = append(result, m.collect(m.teamGrants[teamID])...)
	}
	return result, nil
}

// newTestEnforcer loads route policies into a private in-memory database and
// builds an enforcer over them.
func newTestEnforcer(t *testing.T, policies []casbinbunadapter.CasbinRule) casbin.IEnforcer {
	t.Helper()

	// A single pooled connection keeps the private in-memory database alive
	// for the duration of the test.
	sqldb, err := sql.Open("sqlite", "file::memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { sqldb.Close() })
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	if _, err := db.NewCreateTable().
		Model((*casbinbunadapter.CasbinRule)(nil)).
		IfNotExists().
		Exec(context.Background()); err != nil {
		t.Fatalf("Failed to create policy table: %v", err)
	}
	if len(policies) > 0 {
		if _, err := db.NewInsert().Model(&policies).Exec(context.Background()); err != nil {
			t.Fatalf("Failed to insert policies: %v", err)
		}
	}

	enforcer, err := auth.InitEnforcer(db)
	if err != nil {
		t.Fatalf("Failed to initialize enforcer: %v", err)
	}
	return enforcer
}

// serviceFixture bundles a constructed service with the mocks behind it.
type serviceFixture struct {
	svc      Service
	users    *mockUserRepository
	teams    *mockTeamRepository
	perms    *mockPermissionRepository
	apiKeys  *mockAPIKeyRepository
	mappings *mockMappedGroupRepository
	cfg      *config.Config
}

func newServiceTestConfig() *config.Config {
	return &config.Config{
		AppName: "warden",
		Auth: config.AuthConfig{
			BcryptRounds:       bcrypt.MinCost,
			JWTSecret:          "test-signing-secret",
			JWTTTL:             time.Hour,
			KeyCacheSize:       16,
			KeyCacheTTL:        time.Minute,
			UsageQueueCapacity: 64,
			UsageFlushInterval: time.Minute,
		},
	}
}

// newTestService wires a service over the package mocks. mutate can adjust
// configuration and dependencies before construction, e.g. enable the
// directory or inject a fake claim source.
func newTestService(t *testing.T, policies []casbinbunadapter.CasbinRule, mutate func(*config.Config, *ServiceDependencies)) *serviceFixture {
	t.Helper()

	f := &serviceFixture{
		users:    newMockUserRepository(),
		teams:    newMockTeamRepository(),
		apiKeys:  newMockAPIKeyRepository(),
		mappings: newMockMappedGroupRepository(),
		cfg:      newServiceTestConfig(),
	}
	f.perms = newMockPermissionRepository(f.teams)

	deps := ServiceDependencies{
		Users:        f.users,
		Teams:        f.teams,
		Permissions:  f.perms,
		APIKeys:      f.apiKeys,
		MappedGroups: f.mappings,
		Enforcer:     newTestEnforcer(t, policies),
	}
	if mutate != nil {
		mutate(f.cfg, &deps)
	}

	svc, err := NewService(context.Background(), deps, ServiceConfig{Config: f.cfg})
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	f.svc = svc
	return f
}

func seedPermission(t *testing.T, perms *mockPermissionRepository, name string) *models.Permission {
	t.Helper()

	p := &models.Permission{Name: name}
	if err := perms.Create(context.Background(), p); err != nil {
		t.Fatalf("Failed to create permission: %v", err)
	}
	return p
}

func TestNewService_Validation(t *testing.T) {
	teams := newMockTeamRepository()
	deps := ServiceDependencies{
		Users:        newMockUserRepository(),
		Teams:        teams,
		Permissions:  newMockPermissionRepository(teams),
		APIKeys:      newMockAPIKeyRepository(),
		MappedGroups: newMockMappedGroupRepository(),
		Enforcer:     newTestEnforcer(t, nil),
	}
	cfg := ServiceConfig{Config: newServiceTestConfig()}

	if _, err := NewService(context.Background(), deps, ServiceConfig{}); err == nil {
		t.Error("Expected error without config")
	}

	incomplete := deps
	incomplete.Permissions = nil
	if _, err := NewService(context.Background(), incomplete, cfg); err == nil {
		t.Error("Expected error with a missing repository")
	}

	noEnforcer := deps
	noEnforcer.Enforcer = nil
	if _, err := NewService(context.Background(), noEnforcer, cfg); err == nil {
		t.Error("Expected error without enforcer")
	}

	if _, err := NewService(context.Background(), deps, cfg); err != nil {
		t.Errorf("Expected construction to succeed, got: %v", err)
	}
}

func TestService_EffectivePermissions(t *testing.T) {
	f := newTestService(t, nil, nil)
	ctx := context.Background()

	user, err := f.svc.CreateManagedUser(ctx, "alice", "", "", "password", false)
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	team := seedTeam(t, f.teams, "engineering")
	if err := f.teams.AddUser(ctx, team.ID, user.ID); err != nil {
		t.Fatalf("Failed to add membership: %v", err)
	}

	direct := seedPermission(t, f.perms, auth.PermTeamManagement)
	shared := seedPermission(t, f.perms, auth.PermPermissionRead)
	teamOnly := seedPermission(t, f.perms, auth.PermAccessManagement)
	_ = f.perms.GrantToUser(ctx, user.ID, direct.ID)
	_ = f.perms.GrantToUser(ctx, user.ID, shared.ID)
	_ = f.perms.GrantToTeam(ctx, team.ID, shared.ID)
	_ = f.perms.GrantToTeam(ctx, team.ID, teamOnly.ID)

	principal := auth.ManagedUser{User: user}

	// Through teams: the shared grant appears once, the list is sorted.
	held, err := f.svc.EffectivePermissions(ctx, principal, true)
	if err != nil {
		t.Fatalf("Failed to resolve permissions: %v", err)
	}
	want := []string{auth.PermAccessManagement, auth.PermPermissionRead, auth.PermTeamManagement}
	if !reflect.DeepEqual(held, want) {
		t.Errorf("Expected %v, got %v", want, held)
	}

	// Direct only: the team-only grant disappears.
	held, err = f.svc.EffectivePermissions(ctx, principal, false)
	if err != nil {
		t.Fatalf("Failed to resolve direct permissions: %v", err)
	}
	want = []string{auth.PermPermissionRead, auth.PermTeamManagement}
	if !reflect.DeepEqual(held, want) {
		t.Errorf("Expected %v, got %v", want, held)
	}
}

func TestService_EffectivePermissions_APIKey(t *testing.T) {
	f := newTestService(t, nil, nil)
	ctx := context.Background()

	key, _ := seedAPIKey(t, f.apiKeys)
	team := seedTeam(t, f.teams, "deployers")
	if err := f.teams.AddAPIKey(ctx, team.ID, key.ID); err != nil {
		t.Fatalf("Failed to add membership: %v", err)
	}
	perm := seedPermission(t, f.perms, auth.PermSystemConfiguration)
	_ = f.perms.GrantToTeam(ctx, team.ID, perm.ID)

	held, err := f.svc.EffectivePermissions(ctx, auth.APIKeyPrincipal{Key: key}, true)
	if err != nil {
		t.Fatalf("Failed to resolve permissions: %v", err)
	}
	want := []string{auth.PermSystemConfiguration}
	if !reflect.DeepEqual(held, want) {
		t.Errorf("Expected %v, got %v", want, held)
	}
}

func TestService_HasPermission(t *testing.T) {
	f := newTestService(t, nil, nil)
	ctx := context.Background()

	user, err := f.svc.CreateManagedUser(ctx, "alice", "", "", "password", false)
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	team := seedTeam(t, f.teams, "engineering")
	if err := f.teams.AddUser(ctx, team.ID, user.ID); err != nil {
		t.Fatalf("Failed to add membership: %v", err)
	}
	perm := seedPermission(t, f.perms, auth.PermTeamManagement)
	_ = f.perms.GrantToTeam(ctx, team.ID, perm.ID)

	principal := auth.ManagedUser{User: user}

	// Empty requirement always denies.
	ok, err := f.svc.HasPermission(ctx, principal, nil, true)
	if err != nil {
		t.Fatalf("Failed to check permission: %v", err)
	}
	if ok {
		t.Error("Expected empty requirement to deny")
	}

	ok, err = f.svc.HasPermissionDefault(ctx, principal, auth.PermAccessManagement, auth.PermTeamManagement)
	if err != nil {
		t.Fatalf("Failed to check permission: %v", err)
	}
	if !ok {
		t.Error("Expected team grant to satisfy the requirement")
	}

	// Direct-only resolution does not see the team grant.
	ok, err = f.svc.HasPermission(ctx, principal, []string{auth.PermTeamManagement}, false)
	if err != nil {
		t.Fatalf("Failed to check permission: %v", err)
	}
	if ok {
		t.Error("Expected direct-only check to deny a team grant")
	}
}

func TestService_AuthenticateRequest_NoCredentials(t *testing.T) {
	f := newTestService(t, nil, nil)

	principal, err := f.svc.AuthenticateRequest(context.Background(), AuthRequest{Headers: http.Header{}})
	if err != nil {
		t.Fatalf("Expected no error without credentials, got: %v", err)
	}
	if principal != nil {
		t.Errorf("Expected no principal, got %s", principal.PrincipalName())
	}
}

func TestService_AuthenticateRequest_Bearer(t *testing.T) {
	f := newTestService(t, nil, nil)
	ctx := context.Background()

	if _, err := f.svc.CreateManagedUser(ctx, "alice", "", "", "password", false); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	_, token, err := f.svc.Login(ctx, "alice", "password")
	if err != nil {
		t.Fatalf("Failed to log in: %v", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)
	principal, err := f.svc.AuthenticateRequest(ctx, AuthRequest{Headers: headers})
	if err != nil {
		t.Fatalf("Expected bearer token to authenticate, got: %v", err)
	}
	if principal.PrincipalName() != "alice" {
		t.Errorf("Expected principal alice, got %s", principal.PrincipalName())
	}
}

// TestService_AuthenticateRequest_APIKeyPriority verifies the API key header
// wins when both credential types are present.
func TestService_AuthenticateRequest_APIKeyPriority(t *testing.T) {
	f := newTestService(t, nil, nil)
	ctx := context.Background()

	if _, err := f.svc.CreateManagedUser(ctx, "alice", "", "", "password", false); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	_, bearer, err := f.svc.Login(ctx, "alice", "password")
	if err != nil {
		t.Fatalf("Failed to log in: %v", err)
	}
	key, keyToken, err := f.svc.CreateAPIKey(ctx, "ci", "alice", nil)
	if err != nil {
		t.Fatalf("Failed to create api key: %v", err)
	}

	headers := http.Header{}
	headers.Set(auth.APIKeyHeader, keyToken)
	headers.Set("Authorization", "Bearer "+bearer)

	principal, err := f.svc.AuthenticateRequest(ctx, AuthRequest{Headers: headers})
	if err != nil {
		t.Fatalf("Expected authentication to succeed, got: %v", err)
	}
	if principal.Kind() != auth.KindAPIKey {
		t.Errorf("Expected kind %s, got %s", auth.KindAPIKey, principal.Kind())
	}
	if principal.PrincipalName() != key.PublicID {
		t.Errorf("Expected principal %s, got %s", key.PublicID, principal.PrincipalName())
	}
}

// TestService_AuthenticateRequest_InvalidAPIKeyStops verifies a rejected API
// key fails the request even when a valid bearer token is also present.
func TestService_AuthenticateRequest_InvalidAPIKeyStops(t *testing.T) {
	f := newTestService(t, nil, nil)
	ctx := context.Background()

	if _, err := f.svc.CreateManagedUser(ctx, "alice", "", "", "password", false); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	_, bearer, err := f.svc.Login(ctx, "alice", "password")
	if err != nil {
		t.Fatalf("Failed to log in: %v", err)
	}

	headers := http.Header{}
	headers.Set(auth.APIKeyHeader, auth.APIKeyPrefix+"bogus.bogus")
	headers.Set("Authorization", "Bearer "+bearer)

	_, err = f.svc.AuthenticateRequest(ctx, AuthRequest{Headers: headers})
	assertCause(t, err, CauseInvalidCredentials)
}

func TestService_Login(t *testing.T) {
	f := newTestService(t, nil, nil)
	ctx := context.Background()

	user, err := f.svc.CreateManagedUser(ctx, "alice", "alice@example.com", "Alice", "password", false)
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	team := seedTeam(t, f.teams, "engineering")
	if err := f.teams.AddUser(ctx, team.ID, user.ID); err != nil {
		t.Fatalf("Failed to add membership: %v", err)
	}
	perm := seedPermission(t, f.perms, auth.PermTeamManagement)
	_ = f.perms.GrantToTeam(ctx, team.ID, perm.ID)

	principal, token, err := f.svc.Login(ctx, "alice", "password")
	if err != nil {
		t.Fatalf("Failed to log in: %v", err)
	}
	if principal.Kind() != auth.KindManagedUser {
		t.Errorf("Expected kind %s, got %s", auth.KindManagedUser, principal.Kind())
	}

	// The token carries the effective permission snapshot.
	parser := newTestTokenService(t, f.users)
	claims, ok := parser.ParseToken(token)
	if !ok {
		t.Fatal("Expected issued token to parse")
	}
	want := []string{auth.PermTeamManagement}
	if !reflect.DeepEqual(claims.PermissionList(), want) {
		t.Errorf("Expected permission snapshot %v, got %v", want, claims.PermissionList())
	}
}

func TestService_Login_WrongPassword(t *testing.T) {
	f := newTestService(t, nil, nil)
	ctx := context.Background()

	if _, err := f.svc.CreateManagedUser(ctx, "alice", "", "", "password", false); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	_, _, err := f.svc.Login(ctx, "alice", "wrong")
	assertCause(t, err, CauseInvalidCredentials)
}

// TestService_Login_DirectoryFallback verifies a username unknown to the
// local store is handed to the directory.
func TestService_Login_DirectoryFallback(t *testing.T) {
	directory := &fakeDirectory{
		password: "dir-password",
		dn:       "uid=bob,ou=people,dc=example,dc=org",
	}
	f := newTestService(t, nil, func(cfg *config.Config, deps *ServiceDependencies) {
		cfg.LDAP = config.LDAPConfig{Enabled: true, UserProvisioning: true}
		deps.Directory = directory
	})
	ctx := context.Background()

	principal, token, err := f.svc.Login(ctx, "bob", "dir-password")
	if err != nil {
		t.Fatalf("Expected directory login to succeed, got: %v", err)
	}
	if principal.Kind() != auth.KindLDAPUser {
		t.Errorf("Expected kind %s, got %s", auth.KindLDAPUser, principal.Kind())
	}
	if token == "" {
		t.Error("Expected a token")
	}
	if directory.calls != 1 {
		t.Errorf("Expected one directory bind, got %d", directory.calls)
	}
}

func TestService_AuthenticateOIDC_NotConfigured(t *testing.T) {
	f := newTestService(t, nil, nil)

	_, _, err := f.svc.AuthenticateOIDC(context.Background(), "raw-id-token", "")
	assertCause(t, err, CauseOther)
}

func TestService_AuthenticateOIDC(t *testing.T) {
	source := &fakeClaimSource{idClaims: fullClaims()}
	f := newTestService(t, nil, func(cfg *config.Config, deps *ServiceDependencies) {
		cfg.OIDC = *newOIDCTestConfig()
		cfg.OIDC.UserProvisioning = true
		deps.Claims = source
	})
	ctx := context.Background()

	principal, token, err := f.svc.AuthenticateOIDC(ctx, "raw-id-token", "")
	if err != nil {
		t.Fatalf("Expected OIDC login to succeed, got: %v", err)
	}
	if principal.Kind() != auth.KindOIDCUser {
		t.Errorf("Expected kind %s, got %s", auth.KindOIDCUser, principal.Kind())
	}
	if token == "" {
		t.Error("Expected a token")
	}
}

func TestService_ChangePassword(t *testing.T) {
	f := newTestService(t, nil, nil)
	ctx := context.Background()

	if _, err := f.svc.CreateManagedUser(ctx, "alice", "", "", "old-password", false); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	if err := f.svc.ChangePassword(ctx, "alice", "wrong", "new-password"); err == nil {
		t.Error("Expected wrong current password to be rejected")
	}
	err := f.svc.ChangePassword(ctx, "alice", "old-password", "")
	assertCause(t, err, CauseInvalidCredentials)

	if err := f.svc.ChangePassword(ctx, "alice", "old-password", "new-password"); err != nil {
		t.Fatalf("Failed to change password: %v", err)
	}

	_, _, err = f.svc.Login(ctx, "alice", "old-password")
	assertCause(t, err, CauseInvalidCredentials)
	if _, _, err := f.svc.Login(ctx, "alice", "new-password"); err != nil {
		t.Errorf("Expected login with the new password, got: %v", err)
	}
}

// TestService_ChangePassword_ClearsForceFlag verifies the forced-change state
// admits the password change and is cleared by it.
func TestService_ChangePassword_ClearsForceFlag(t *testing.T) {
	f := newTestService(t, nil, nil)
	ctx := context.Background()

	if _, err := f.svc.CreateManagedUser(ctx, "alice", "", "", "temporary", true); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	_, _, err := f.svc.Login(ctx, "alice", "temporary")
	assertCause(t, err, CauseForcePasswordChange)

	if err := f.svc.ChangePassword(ctx, "alice", "temporary", "chosen-password"); err != nil {
		t.Fatalf("Failed to change password: %v", err)
	}
	if _, _, err := f.svc.Login(ctx, "alice", "chosen-password"); err != nil {
		t.Errorf("Expected login after the forced change, got: %v", err)
	}
}

func TestService_CreateManagedUser_Validation(t *testing.T) {
	f := newTestService(t, nil, nil)
	ctx := context.Background()

	if _, err := f.svc.CreateManagedUser(ctx, "", "", "", "password", false); err == nil {
		t.Error("Expected error without username")
	}
	if _, err := f.svc.CreateManagedUser(ctx, "alice", "", "", "", false); err == nil {
		t.Error("Expected error without password")
	}
}

func TestService_UserLifecycle(t *testing.T) {
	f := newTestService(t, nil, nil)
	ctx := context.Background()

	if _, err := f.svc.CreateManagedUser(ctx, "alice", "", "", "password", false); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	user, err := f.svc.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if user.Username != "alice" {
		t.Errorf("Expected username alice, got %s", user.Username)
	}

	listed, err := f.svc.ListUsers(ctx)
	if err != nil {
		t.Fatalf("Failed to list users: %v", err)
	}
	if len(listed) != 1 {
		t.Errorf("Expected 1 user, got %d", len(listed))
	}

	if err := f.svc.SetUserSuspended(ctx, "alice", true); err != nil {
		t.Fatalf("Failed to suspend user: %v", err)
	}
	_, _, err = f.svc.Login(ctx, "alice", "password")
	assertCause(t, err, CauseSuspended)

	if err := f.svc.SetUserSuspended(ctx, "alice", false); err != nil {
		t.Fatalf("Failed to unsuspend user: %v", err)
	}
	if _, _, err := f.svc.Login(ctx, "alice", "password"); err != nil {
		t.Errorf("Expected login after unsuspension, got: %v", err)
	}

	if err := f.svc.DeleteUser(ctx, "alice"); err != nil {
		t.Fatalf("Failed to delete user: %v", err)
	}
	if _, err := f.svc.GetUser(ctx, "alice"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after deletion, got: %v", err)
	}
}

func TestService_SetUserPassword(t *testing.T) {
	f := newTestService(t, nil, nil)
	ctx := context.Background()

	if _, err := f.svc.CreateManagedUser(ctx, "alice", "", "", "password", false); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	if err := f.svc.SetUserPassword(ctx, "alice", "", false); err == nil {
		t.Error("Expected error without password")
	}

	if err := f.svc.SetUserPassword(ctx, "alice", "reset-password", true); err != nil {
		t.Fatalf("Failed to set password: %v", err)
	}
	_, _, err := f.svc.Login(ctx, "alice", "reset-password")
	assertCause(t, err, CauseForcePasswordChange)

	// Directory users have no local password to reset.
	directoryUser := &models.User{Kind: models.UserKindLDAP, Username: "bob"}
	if err := f.users.Create(ctx, directoryUser); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	if err := f.svc.SetUserPassword(ctx, "bob", "reset-password", false); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for a directory user, got: %v", err)
	}
}

func TestService_TeamLifecycle(t *testing.T) {
	f := newTestService(t, nil, nil)
	ctx := context.Background()

	if _, err := f.svc.CreateTeam(ctx, "", ""); err == nil {
		t.Error("Expected error without team name")
	}

	team, err := f.svc.CreateTeam(ctx, "engineering", "product engineering")
	if err != nil {
		t.Fatalf("Failed to create team: %v", err)
	}

	got, err := f.svc.GetTeam(ctx, "engineering")
	if err != nil {
		t.Fatalf("Failed to get team: %v", err)
	}
	if got.ID != team.ID {
		t.Errorf("Expected team %s, got %s", team.ID, got.ID)
	}

	listed, err := f.svc.ListTeams(ctx)
	if err != nil {
		t.Fatalf("Failed to list teams: %v", err)
	}
	if len(listed) != 1 {
		t.Errorf("Expected 1 team, got %d", len(listed))
	}

	user, err := f.svc.CreateManagedUser(ctx, "alice", "", "", "password", false)
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	if err := f.svc.AddTeamMember(ctx, "engineering", "alice"); err != nil {
		t.Fatalf("Failed to add member: %v", err)
	}
	if got := f.teams.teamNamesForUser(user.ID); len(got) != 1 || got[0] != "engineering" {
		t.Errorf("Expected membership [engineering], got %v", got)
	}

	if err := f.svc.RemoveTeamMember(ctx, "engineering", "alice"); err != nil {
		t.Fatalf("Failed to remove member: %v", err)
	}
	if got := f.teams.teamNamesForUser(user.ID); len(got) != 0 {
		t.Errorf("Expected no membership, got %v", got)
	}

	if err := f.svc.DeleteTeam(ctx, "engineering"); err != nil {
		t.Fatalf("Failed to delete team: %v", err)
	}
	if _, err := f.svc.GetTeam(ctx, "engineering"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after deletion, got: %v", err)
	}
}

func TestService_MapGroupToTeam(t *testing.T) {
	f := newTestService(t, nil, nil)
	ctx := context.Background()

	if _, err := f.svc.CreateTeam(ctx, "engineering", ""); err != nil {
		t.Fatalf("Failed to create team: %v", err)
	}

	// LOCAL never asserts external groups.
	if err := f.svc.MapGroupToTeam(ctx, "engineering", auth.ProviderLocal, "engineers"); err == nil {
		t.Error("Expected error for a provider without groups")
	}
	if err := f.svc.MapGroupToTeam(ctx, "engineering", auth.ProviderOIDC, ""); err == nil {
		t.Error("Expected error without group name")
	}

	if err := f.svc.MapGroupToTeam(ctx, "engineering", auth.ProviderOIDC, "engineers"); err != nil {
		t.Fatalf("Failed to map group: %v", err)
	}

	mappings, err := f.svc.ListMappedGroups(ctx, "engineering")
	if err != nil {
		t.Fatalf("Failed to list mappings: %v", err)
	}
	if len(mappings) != 1 || mappings[0].GroupName != "engineers" {
		t.Errorf("Expected one mapping for engineers, got %v", mappings)
	}

	err = f.svc.UnmapGroupFromTeam(ctx, "engineering", auth.ProviderOIDC, "absent")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for an absent mapping, got: %v", err)
	}

	if err := f.svc.UnmapGroupFromTeam(ctx, "engineering", auth.ProviderOIDC, "engineers"); err != nil {
		t.Fatalf("Failed to unmap group: %v", err)
	}
	mappings, err = f.svc.ListMappedGroups(ctx, "engineering")
	if err != nil {
		t.Fatalf("Failed to list mappings: %v", err)
	}
	if len(mappings) != 0 {
		t.Errorf("Expected no mappings, got %v", mappings)
	}
}

func TestService_SynchronizeTeams(t *testing.T) {
	f := newTestService(t, nil, nil)
	ctx := context.Background()

	if err := f.svc.SynchronizeTeams(ctx, "alice", auth.ProviderLocal, nil); err == nil {
		t.Error("Expected error for a provider without groups")
	}

	user, err := f.svc.CreateManagedUser(ctx, "alice", "", "", "password", false)
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	if _, err := f.svc.CreateTeam(ctx, "engineering", ""); err != nil {
		t.Fatalf("Failed to create team: %v", err)
	}
	if err := f.svc.MapGroupToTeam(ctx, "engineering", auth.ProviderOIDC, "engineers"); err != nil {
		t.Fatalf("Failed to map group: %v", err)
	}

	if err := f.svc.SynchronizeTeams(ctx, "alice", auth.ProviderOIDC, []string{"engineers"}); err != nil {
		t.Fatalf("Failed to synchronize teams: %v", err)
	}
	if got := f.teams.teamNamesForUser(user.ID); len(got) != 1 || got[0] != "engineering" {
		t.Errorf("Expected membership [engineering], got %v", got)
	}
}

func TestService_PermissionManagement(t *testing.T) {
	f := newTestService(t, nil, nil)
	ctx := context.Background()

	if _, err := f.svc.CreatePermission(ctx, "", ""); err == nil {
		t.Error("Expected error without permission name")
	}

	if _, err := f.svc.CreatePermission(ctx, auth.PermTeamManagement, "manage teams"); err != nil {
		t.Fatalf("Failed to create permission: %v", err)
	}
	listed, err := f.svc.ListPermissions(ctx)
	if err != nil {
		t.Fatalf("Failed to list permissions: %v", err)
	}
	if len(listed) != 1 {
		t.Errorf("Expected 1 permission, got %d", len(listed))
	}

	user, err := f.svc.CreateManagedUser(ctx, "alice", "", "", "password", false)
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	principal := auth.ManagedUser{User: user}

	if err := f.svc.GrantPermissionToUser(ctx, "alice", "MISSING"); err == nil {
		t.Error("Expected error for an unknown permission")
	}
	if err := f.svc.GrantPermissionToUser(ctx, "nobody", auth.PermTeamManagement); err == nil {
		t.Error("Expected error for an unknown user")
	}

	if err := f.svc.GrantPermissionToUser(ctx, "alice", auth.PermTeamManagement); err != nil {
		t.Fatalf("Failed to grant permission: %v", err)
	}
	ok, err := f.svc.HasPermissionDefault(ctx, principal, auth.PermTeamManagement)
	if err != nil {
		t.Fatalf("Failed to check permission: %v", err)
	}
	if !ok {
		t.Error("Expected the direct grant to hold")
	}

	if err := f.svc.RevokePermissionFromUser(ctx, "alice", auth.PermTeamManagement); err != nil {
		t.Fatalf("Failed to revoke permission: %v", err)
	}
	ok, err = f.svc.HasPermissionDefault(ctx, principal, auth.PermTeamManagement)
	if err != nil {
		t.Fatalf("Failed to check permission: %v", err)
	}
	if ok {
		t.Error("Expected the grant to be gone")
	}

	if _, err := f.svc.CreateTeam(ctx, "engineering", ""); err != nil {
		t.Fatalf("Failed to create team: %v", err)
	}
	if err := f.svc.AddTeamMember(ctx, "engineering", "alice"); err != nil {
		t.Fatalf("Failed to add member: %v", err)
	}
	if err := f.svc.GrantPermissionToTeam(ctx, "engineering", auth.PermTeamManagement); err != nil {
		t.Fatalf("Failed to grant permission: %v", err)
	}
	ok, err = f.svc.HasPermissionDefault(ctx, principal, auth.PermTeamManagement)
	if err != nil {
		t.Fatalf("Failed to check permission: %v", err)
	}
	if !ok {
		t.Error("Expected the team grant to hold")
	}

	if err := f.svc.RevokePermissionFromTeam(ctx, "engineering", auth.PermTeamManagement); err != nil {
		t.Fatalf("Failed to revoke permission: %v", err)
	}
	ok, err = f.svc.HasPermissionDefault(ctx, principal, auth.PermTeamManagement)
	if err != nil {
		t.Fatalf("Failed to check permission: %v", err)
	}
	if ok {
		t.Error("Expected the team grant to be gone")
	}
}

func TestService_CreateAPIKey(t *testing.T) {
	f := newTestService(t, nil, nil)
	ctx := context.Background()

	team, err := f.svc.CreateTeam(ctx, "deployers", "")
	if err != nil {
		t.Fatalf("Failed to create team: %v", err)
	}

	key, token, err := f.svc.CreateAPIKey(ctx, "deploy key", "admin", []string{"deployers"})
	if err != nil {
		t.Fatalf("Failed to create api key: %v", err)
	}
	if !strings.HasPrefix(token, auth.APIKeyPrefix) {
		t.Errorf("Expected token prefix %s, got %s", auth.APIKeyPrefix, token)
	}
	if !f.teams.apiKeyTeams[key.ID][team.ID] {
		t.Error("Expected the key to join the team")
	}

	headers := http.Header{}
	headers.Set(auth.APIKeyHeader, token)
	principal, err := f.svc.AuthenticateRequest(ctx, AuthRequest{Headers: headers})
	if err != nil {
		t.Fatalf("Expected the minted token to authenticate, got: %v", err)
	}
	if principal.PrincipalName() != key.PublicID {
		t.Errorf("Expected principal %s, got %s", key.PublicID, principal.PrincipalName())
	}
}

func TestService_CreateAPIKey_UnknownTeam(t *testing.T) {
	f := newTestService(t, nil, nil)

	_, _, err := f.svc.CreateAPIKey(context.Background(), "deploy key", "admin", []string{"missing"})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for an unknown team, got: %v", err)
	}
	if len(f.apiKeys.keys) != 0 {
		t.Error("Expected no key to be written")
	}
}

// TestService_CreateAPIKey_MembershipRollback verifies a failed membership
// insert removes the freshly created key.
func TestService_CreateAPIKey_MembershipRollback(t *testing.T) {
	f := newTestService(t, nil, nil)
	ctx := context.Background()

	if _, err := f.svc.CreateTeam(ctx, "deployers", ""); err != nil {
		t.Fatalf("Failed to create team: %v", err)
	}
	f.teams.addAPIKeyErr = errors.New("constraint violation")

	_, _, err := f.svc.CreateAPIKey(ctx, "deploy key", "admin", []string{"deployers"})
	if err == nil {
		t.Fatal("Expected the membership failure to surface")
	}
	if len(f.apiKeys.keys) != 0 {
		t.Error("Expected the key to be rolled back")
	}
}

func TestService_RotateAPIKey(t *testing.T) {
	f := newTestService(t, nil, nil)
	ctx := context.Background()

	key, token, err := f.svc.CreateAPIKey(ctx, "ci", "admin", nil)
	if err != nil {
		t.Fatalf("Failed to create api key: %v", err)
	}

	headers := http.Header{}
	headers.Set(auth.APIKeyHeader, token)
	if _, err := f.svc.AuthenticateRequest(ctx, AuthRequest{Headers: headers}); err != nil {
		t.Fatalf("Expected the original token to authenticate, got: %v", err)
	}

	replacement, rotatedAt, err := f.svc.RotateAPIKey(ctx, key.PublicID)
	if err != nil {
		t.Fatalf("Failed to rotate api key: %v", err)
	}
	if rotatedAt.IsZero() {
		t.Error("Expected a rotation timestamp")
	}

	// The old secret dies immediately, cache notwithstanding.
	_, err = f.svc.AuthenticateRequest(ctx, AuthRequest{Headers: headers})
	assertCause(t, err, CauseInvalidCredentials)

	headers.Set(auth.APIKeyHeader, replacement)
	principal, err := f.svc.AuthenticateRequest(ctx, AuthRequest{Headers: headers})
	if err != nil {
		t.Fatalf("Expected the replacement token to authenticate, got: %v", err)
	}
	if principal.PrincipalName() != key.PublicID {
		t.Errorf("Expected principal %s, got %s", key.PublicID, principal.PrincipalName())
	}
}

func TestService_RevokeAPIKey(t *testing.T) {
	f := newTestService(t, nil, nil)
	ctx := context.Background()

	key, token, err := f.svc.CreateAPIKey(ctx, "ci", "admin", nil)
	if err != nil {
		t.Fatalf("Failed to create api key: %v", err)
	}

	headers := http.Header{}
	headers.Set(auth.APIKeyHeader, token)
	if _, err := f.svc.AuthenticateRequest(ctx, AuthRequest{Headers: headers}); err != nil {
		t.Fatalf("Expected the token to authenticate, got: %v", err)
	}

	if err := f.svc.RevokeAPIKey(ctx, key.PublicID); err != nil {
		t.Fatalf("Failed to revoke api key: %v", err)
	}

	_, err = f.svc.AuthenticateRequest(ctx, AuthRequest{Headers: headers})
	assertCause(t, err, CauseInvalidCredentials)

	if _, err := f.svc.GetAPIKey(ctx, key.PublicID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after revocation, got: %v", err)
	}
}

func TestService_APIKeyTeamMembership(t *testing.T) {
	f := newTestService(t, nil, nil)
	ctx := context.Background()

	team, err := f.svc.CreateTeam(ctx, "deployers", "")
	if err != nil {
		t.Fatalf("Failed to create team: %v", err)
	}
	key, _, err := f.svc.CreateAPIKey(ctx, "ci", "admin", nil)
	if err != nil {
		t.Fatalf("Failed to create api key: %v", err)
	}

	if err := f.svc.AddAPIKeyToTeam(ctx, key.PublicID, "deployers"); err != nil {
		t.Fatalf("Failed to add key to team: %v", err)
	}
	if !f.teams.apiKeyTeams[key.ID][team.ID] {
		t.Error("Expected the key to join the team")
	}

	if err := f.svc.RemoveAPIKeyFromTeam(ctx, key.PublicID, "deployers"); err != nil {
		t.Fatalf("Failed to remove key from team: %v", err)
	}
	if f.teams.apiKeyTeams[key.ID][team.ID] {
		t.Error("Expected the key to leave the team")
	}
}

func TestService_AuthorizeRoute(t *testing.T) {
	policies := []casbinbunadapter.CasbinRule{
		{Ptype: "p", V0: "/api/v1/whoami", V1: "GET", V2: auth.PermAny},
		{Ptype: "p", V0: "/api/v1/users*", V1: ".*", V2: auth.PermAccessManagement},
	}
	f := newTestService(t, policies, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		perms  []string
		path   string
		method string
		want   bool
	}{
		{"open route without permissions", nil, "/api/v1/whoami", "GET", true},
		{"guarded route with grant", []string{auth.PermAccessManagement}, "/api/v1/users", "POST", true},
		{"guarded route without grant", []string{auth.PermTeamManagement}, "/api/v1/users", "GET", false},
		{"unknown route", []string{auth.PermAccessManagement}, "/api/v1/other", "GET", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allowed, err := f.svc.AuthorizeRoute(ctx, tt.perms, tt.path, tt.method)
			if err != nil {
				t.Fatalf("Failed to authorize route: %v", err)
			}
			if allowed != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, allowed)
			}
		})
	}
}

// TestService_UsageLifecycle drives the tracker through the service facade:
// start, record through authentication, flush, clear, close.
func TestService_UsageLifecycle(t *testing.T) {
	f := newTestService(t, nil, nil)
	ctx := context.Background()

	key, token, err := f.svc.CreateAPIKey(ctx, "ci", "admin", nil)
	if err != nil {
		t.Fatalf("Failed to create api key: %v", err)
	}

	f.svc.Start()

	headers := http.Header{}
	headers.Set(auth.APIKeyHeader, token)
	if _, err := f.svc.AuthenticateRequest(ctx, AuthRequest{Headers: headers}); err != nil {
		t.Fatalf("Expected the token to authenticate, got: %v", err)
	}

	if err := f.svc.FlushUsage(ctx); err != nil {
		t.Fatalf("Failed to flush usage: %v", err)
	}
	if f.apiKeys.keys[key.ID].LastUsedAt == nil {
		t.Error("Expected last_used_at to be recorded")
	}

	// Clearing the cache forces the next authentication back to the store.
	before := f.apiKeys.getCalls
	f.svc.ClearKeyCache()
	if _, err := f.svc.AuthenticateRequest(ctx, AuthRequest{Headers: headers}); err != nil {
		t.Fatalf("Expected the token to authenticate, got: %v", err)
	}
	if f.apiKeys.getCalls != before+1 {
		t.Errorf("Expected a store lookup after cache clear, got %d calls", f.apiKeys.getCalls)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.svc.Close(closeCtx); err != nil {
		t.Fatalf("Failed to close service: %v", err)
	}
}
