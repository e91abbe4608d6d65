package iam

import (
	"context"
	"fmt"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/warden-auth/warden/internal/auth"
	"github.com/warden-auth/warden/internal/db/models"
	"github.com/warden-auth/warden/internal/repository"
)

// mockUserRepository for testing
type mockUserRepository struct {
	users  map[string]*models.User // ID → user
	nextID int
}

func newMockUserRepository() *mockUserRepository {
	return &mockUserRepository{users: make(map[string]*models.User)}
}

func (m *mockUserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		m.nextID++
		user.ID = fmt.Sprintf("user-%d", m.nextID)
	}
	m.users[user.ID] = user
	return nil
}

func (m *mockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("user %s: %w", id, repository.ErrNotFound)
}

func (m *mockUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", username, repository.ErrNotFound)
}

func (m *mockUserRepository) GetByUsernameAndKind(ctx context.Context, username string, kind models.UserKind) (*models.User, error) {
	for _, u := range m.users {
		if u.Username == username && u.Kind == kind {
			return u, nil
		}
	}
	return nil, fmt.Errorf("user %s (%s): %w", username, kind, repository.ErrNotFound)
}

func (m *mockUserRepository) GetBySubjectAndKind(ctx context.Context, subject string, kind models.UserKind) (*models.User, error) {
	for _, u := range m.users {
		if u.Subject != nil && *u.Subject == subject && u.Kind == kind {
			return u, nil
		}
	}
	return nil, fmt.Errorf("subject %s (%s): %w", subject, kind, repository.ErrNotFound)
}

func (m *mockUserRepository) Update(ctx context.Context, user *models.User) error {
	if _, ok := m.users[user.ID]; !ok {
		return fmt.Errorf("user %s: %w", user.ID, repository.ErrNotFound)
	}
	m.users[user.ID] = user
	return nil
}

func (m *mockUserRepository) UpdateLastLogin(ctx context.Context, id string) error {
	u, ok := m.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, repository.ErrNotFound)
	}
	now := time.Now()
	u.LastLoginAt = &now
	return nil
}

func (m *mockUserRepository) SetPasswordHash(ctx context.Context, id string, passwordHash string, forceChange bool) error {
	u, ok := m.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, repository.ErrNotFound)
	}
	u.PasswordHash = &passwordHash
	u.ForcePasswordChange = forceChange
	return nil
}

func (m *mockUserRepository) SetSuspended(ctx context.Context, id string, suspended bool) error {
	u, ok := m.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, repository.ErrNotFound)
	}
	u.Suspended = suspended
	return nil
}

func (m *mockUserRepository) Delete(ctx context.Context, id string) error {
	if _, ok := m.users[id]; !ok {
		return fmt.Errorf("user %s: %w", id, repository.ErrNotFound)
	}
	delete(m.users, id)
	return nil
}

func (m *mockUserRepository) List(ctx context.Context) ([]models.User, error) {
	result := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		result = append(result, *u)
	}
	return result, nil
}

// newTestPasswords builds a password service at the cheapest bcrypt cost so
// tests stay fast.
func newTestPasswords() *PasswordService {
	return NewPasswordService(bcrypt.MinCost)
}

// seedManagedUser stores a managed user with a hashed password.
func seedManagedUser(t *testing.T, users *mockUserRepository, passwords *PasswordService, username, password string) *models.User {
	t.Helper()

	hash, err := passwords.CreateHash(password)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	user := &models.User{
		Kind:         models.UserKindManaged,
		Username:     username,
		PasswordHash: &hash,
	}
	if err := users.Create(context.Background(), user); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	return user
}

func TestManagedAuth_Success(t *testing.T) {
	users := newMockUserRepository()
	passwords := newTestPasswords()
	seeded := seedManagedUser(t, users, passwords, "alice", "s3cret")

	svc := NewManagedAuthService(users, passwords)

	principal, err := svc.Authenticate(context.Background(), "alice", "s3cret")
	if err != nil {
		t.Fatalf("Expected successful authentication, got error: %v", err)
	}

	if principal.Kind() != auth.KindManagedUser {
		t.Errorf("Expected kind %s, got %s", auth.KindManagedUser, principal.Kind())
	}
	if principal.PrincipalName() != "alice" {
		t.Errorf("Expected principal name alice, got %s", principal.PrincipalName())
	}
	if seeded.LastLoginAt == nil {
		t.Error("Expected last login to be recorded")
	}
}

func TestManagedAuth_WrongPassword(t *testing.T) {
	users := newMockUserRepository()
	passwords := newTestPasswords()
	seedManagedUser(t, users, passwords, "alice", "s3cret")

	svc := NewManagedAuthService(users, passwords)

	principal, err := svc.Authenticate(context.Background(), "alice", "wrong")
	if principal != nil {
		t.Error("Expected nil principal for wrong password")
	}
	assertCause(t, err, CauseInvalidCredentials)
}

func TestManagedAuth_UnknownUser(t *testing.T) {
	users := newMockUserRepository()
	svc := NewManagedAuthService(users, newTestPasswords())

	_, err := svc.Authenticate(context.Background(), "nobody", "whatever")
	assertCause(t, err, CauseInvalidCredentials)
}

func TestManagedAuth_EmptyCredentials(t *testing.T) {
	users := newMockUserRepository()
	passwords := newTestPasswords()
	seedManagedUser(t, users, passwords, "alice", "s3cret")

	svc := NewManagedAuthService(users, passwords)

	_, err := svc.Authenticate(context.Background(), "alice", "")
	assertCause(t, err, CauseInvalidCredentials)

	_, err = svc.Authenticate(context.Background(), "", "s3cret")
	assertCause(t, err, CauseInvalidCredentials)
}

func TestManagedAuth_MissingHash(t *testing.T) {
	users := newMockUserRepository()
	user := &models.User{Kind: models.UserKindManaged, Username: "alice"}
	if err := users.Create(context.Background(), user); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	svc := NewManagedAuthService(users, newTestPasswords())

	_, err := svc.Authenticate(context.Background(), "alice", "anything")
	assertCause(t, err, CauseInvalidCredentials)
}

func TestManagedAuth_Suspended(t *testing.T) {
	users := newMockUserRepository()
	passwords := newTestPasswords()
	user := seedManagedUser(t, users, passwords, "alice", "s3cret")
	user.Suspended = true

	svc := NewManagedAuthService(users, passwords)

	_, err := svc.Authenticate(context.Background(), "alice", "s3cret")
	assertCause(t, err, CauseSuspended)
}

// TestManagedAuth_SuspendedWrongPassword verifies the password is checked
// before account state: bad credentials must not reveal suspension.
func TestManagedAuth_SuspendedWrongPassword(t *testing.T) {
	users := newMockUserRepository()
	passwords := newTestPasswords()
	user := seedManagedUser(t, users, passwords, "alice", "s3cret")
	user.Suspended = true

	svc := NewManagedAuthService(users, passwords)

	_, err := svc.Authenticate(context.Background(), "alice", "wrong")
	assertCause(t, err, CauseInvalidCredentials)
}

func TestManagedAuth_ForcePasswordChange(t *testing.T) {
	users := newMockUserRepository()
	passwords := newTestPasswords()
	user := seedManagedUser(t, users, passwords, "alice", "s3cret")
	user.ForcePasswordChange = true

	svc := NewManagedAuthService(users, passwords)

	_, err := svc.Authenticate(context.Background(), "alice", "s3cret")
	assertCause(t, err, CauseForcePasswordChange)

	// The password-change flow accepts the same credentials; that is how the
	// user clears the flag.
	principal, err := svc.AuthenticateForPasswordChange(context.Background(), "alice", "s3cret")
	if err != nil {
		t.Fatalf("Expected password-change authentication to succeed, got: %v", err)
	}
	if principal.PrincipalName() != "alice" {
		t.Errorf("Expected principal alice, got %s", principal.PrincipalName())
	}
}

func TestManagedAuth_ForcePasswordChangeStillRejectsSuspended(t *testing.T) {
	users := newMockUserRepository()
	passwords := newTestPasswords()
	user := seedManagedUser(t, users, passwords, "alice", "s3cret")
	user.ForcePasswordChange = true
	user.Suspended = true

	svc := NewManagedAuthService(users, passwords)

	_, err := svc.AuthenticateForPasswordChange(context.Background(), "alice", "s3cret")
	assertCause(t, err, CauseSuspended)
}

// TestManagedAuth_DirectoryUserInvisible verifies managed authentication
// never matches rows owned by another identity provider, even with the same
// username.
func TestManagedAuth_DirectoryUserInvisible(t *testing.T) {
	users := newMockUserRepository()
	passwords := newTestPasswords()

	hash, err := passwords.CreateHash("s3cret")
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	ldapUser := &models.User{
		Kind:         models.UserKindLDAP,
		Username:     "alice",
		PasswordHash: &hash,
	}
	if err := users.Create(context.Background(), ldapUser); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	svc := NewManagedAuthService(users, passwords)

	_, err = svc.Authenticate(context.Background(), "alice", "s3cret")
	assertCause(t, err, CauseInvalidCredentials)
}

// TestManagedAuth_HashUpgrade verifies a hash below the configured work
// factor is transparently re-hashed after a successful login.
func TestManagedAuth_HashUpgrade(t *testing.T) {
	users := newMockUserRepository()

	weak := NewPasswordService(bcrypt.MinCost)
	user := seedManagedUser(t, users, weak, "alice", "s3cret")
	oldHash := *user.PasswordHash

	strong := NewPasswordService(bcrypt.MinCost + 1)
	svc := NewManagedAuthService(users, strong)

	if _, err := svc.Authenticate(context.Background(), "alice", "s3cret"); err != nil {
		t.Fatalf("Expected successful authentication, got error: %v", err)
	}

	if *user.PasswordHash == oldHash {
		t.Fatal("Expected hash to be upgraded")
	}
	cost, err := bcrypt.Cost([]byte(*user.PasswordHash))
	if err != nil {
		t.Fatalf("Failed to read upgraded hash cost: %v", err)
	}
	if cost != bcrypt.MinCost+1 {
		t.Errorf("Expected upgraded cost %d, got %d", bcrypt.MinCost+1, cost)
	}

	// The upgraded hash still verifies.
	if _, err := svc.Authenticate(context.Background(), "alice", "s3cret"); err != nil {
		t.Fatalf("Expected authentication with upgraded hash to succeed, got: %v", err)
	}
}
