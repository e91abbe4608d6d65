package migrations

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/uptrace/bun"
	"github.com/warden-auth/warden/internal/auth"
	casbinbunadapter "github.com/warden-auth/warden/internal/auth/bunadapter"
	"github.com/warden-auth/warden/internal/db/bunx"
	"github.com/warden-auth/warden/internal/db/models"
	"github.com/warden-auth/warden/internal/services/iam"
)

func init() {
	Migrations.MustRegister(up_20260720000002, down_20260720000002)
}

// up_20260720000002 seeds the built-in permissions, the Administrators team,
// the default route policies, and the initial admin account
func up_20260720000002(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] seeding built-in permissions...")

	// 1. Seed the built-in permission catalog
	builtinPermissions := []models.Permission{
		{Name: auth.PermSystemConfiguration, Description: "Allows remote management of the server configuration, caches, and usage data"},
		{Name: auth.PermAccessManagement, Description: "Allows management of users, their suspension state, and their permissions"},
		{Name: auth.PermTeamManagement, Description: "Allows management of teams, team permissions, and mapped groups"},
		{Name: auth.PermAPIKeyManagement, Description: "Allows creation, rotation, and revocation of API keys"},
		{Name: auth.PermPermissionRead, Description: "Allows read access to the permission catalog"},
	}

	for i := range builtinPermissions {
		builtinPermissions[i].ID = bunx.NewUUIDv7()
		_, err := db.NewInsert().
			Model(&builtinPermissions[i]).
			On("CONFLICT (name) DO NOTHING"). // Idempotent
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to seed permission %s: %w", builtinPermissions[i].Name, err)
		}
	}
	fmt.Println(" OK")

	fmt.Print(" [up] seeding system user...")

	// 2. Create the system user for seed and CLI attribution. It has no
	// password hash, so it can never authenticate.
	systemUser := models.User{
		ID:       auth.SystemUserID,
		Kind:     models.UserKindManaged,
		Username: "system",
		Fullname: "System",
	}

	_, err := db.NewInsert().
		Model(&systemUser).
		On("CONFLICT (id) DO NOTHING"). // Idempotent
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed system user: %w", err)
	}
	fmt.Println(" OK")

	fmt.Print(" [up] seeding Administrators team...")

	// 3. Create the Administrators team and grant it every built-in permission
	adminTeam := models.Team{
		ID:          bunx.NewUUIDv7(),
		Name:        "Administrators",
		Description: "Holds every built-in permission",
	}

	_, err = db.NewInsert().
		Model(&adminTeam).
		On("CONFLICT (name) DO NOTHING"). // Idempotent
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed Administrators team: %w", err)
	}

	// Re-read IDs rather than trusting the in-memory values: on replay the
	// conflict-skipped inserts leave the originals in place.
	var teamID string
	err = db.NewSelect().
		Model((*models.Team)(nil)).
		Column("id").
		Where("name = ?", adminTeam.Name).
		Scan(ctx, &teamID)
	if err != nil {
		return fmt.Errorf("failed to look up Administrators team: %w", err)
	}

	var permissionIDs []string
	err = db.NewSelect().
		Model((*models.Permission)(nil)).
		Column("id").
		Where("name IN (?)", bun.In(auth.BuiltinPermissions())).
		Scan(ctx, &permissionIDs)
	if err != nil {
		return fmt.Errorf("failed to look up built-in permissions: %w", err)
	}

	grants := make([]models.TeamPermission, 0, len(permissionIDs))
	for _, pid := range permissionIDs {
		grants = append(grants, models.TeamPermission{TeamID: teamID, PermissionID: pid})
	}

	_, err = db.NewInsert().
		Model(&grants).
		On("CONFLICT (team_id, permission_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to grant permissions to Administrators: %w", err)
	}
	fmt.Println(" OK")

	fmt.Print(" [up] seeding default route policies...")

	// 4. Seed the default route policies.
	// Using model: p = path, method, required (an OR set joined with "|",
	// "*" meaning any authenticated principal).
	defaultPolicies := []casbinbunadapter.CasbinRule{
		{Ptype: "p", V0: "/api/v1/whoami", V1: "GET", V2: auth.PermAny},
		{Ptype: "p", V0: "/api/v1/users*", V1: ".*", V2: auth.PermAccessManagement},
		{Ptype: "p", V0: "/api/v1/teams*", V1: ".*", V2: auth.PermTeamManagement},
		{Ptype: "p", V0: "/api/v1/permissions*", V1: "GET", V2: strings.Join([]string{auth.PermPermissionRead, auth.PermAccessManagement, auth.PermTeamManagement}, "|")},
		{Ptype: "p", V0: "/api/v1/permissions*", V1: "POST", V2: auth.PermSystemConfiguration},
		{Ptype: "p", V0: "/api/v1/apikeys*", V1: ".*", V2: auth.PermAPIKeyManagement},
		{Ptype: "p", V0: "/api/v1/admin/*", V1: "POST", V2: auth.PermSystemConfiguration},
	}

	// Bulk insert with conflict handling
	_, err = db.NewInsert().
		Model(&defaultPolicies).
		On("CONFLICT (ptype, v0, v1, v2, v3, v4, v5) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed route policies: %w", err)
	}
	fmt.Println(" OK")

	fmt.Print(" [up] seeding admin user...")

	// 5. Create the initial admin account with a generated password. The
	// password is hashed at the default work factor; a lower configured
	// factor is picked up by the rehash check on first login.
	password, err := generatePassword()
	if err != nil {
		return fmt.Errorf("failed to generate admin password: %w", err)
	}

	hash, err := iam.NewPasswordService(iam.DefaultBcryptRounds).CreateHash(password)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	adminUser := models.User{
		ID:                  bunx.NewUUIDv7(),
		Kind:                models.UserKindManaged,
		Username:            "admin",
		Fullname:            "Administrator",
		PasswordHash:        &hash,
		ForcePasswordChange: true,
	}

	res, err := db.NewInsert().
		Model(&adminUser).
		On("CONFLICT (username) DO NOTHING"). // Idempotent
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed admin user: %w", err)
	}

	var adminID string
	err = db.NewSelect().
		Model((*models.User)(nil)).
		Column("id").
		Where("username = ?", adminUser.Username).
		Scan(ctx, &adminID)
	if err != nil {
		return fmt.Errorf("failed to look up admin user: %w", err)
	}

	membership := models.UserTeam{UserID: adminID, TeamID: teamID}
	_, err = db.NewInsert().
		Model(&membership).
		On("CONFLICT (user_id, team_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to add admin to Administrators: %w", err)
	}
	fmt.Println(" OK")

	// Only print the password when this run actually created the account;
	// on replay the original credentials are untouched.
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		fmt.Println()
		fmt.Println(" Initial admin credentials (shown once, a password change is required at first login):")
		fmt.Printf("   username: %s\n", adminUser.Username)
		fmt.Printf("   password: %s\n", password)
		fmt.Println()
	}

	return nil
}

// down_20260720000002 removes the seeded data
func down_20260720000002(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] removing seeded route policies...")

	_, err := db.NewDelete().
		Model((*casbinbunadapter.CasbinRule)(nil)).
		Where("v0 LIKE ?", "/api/v1/%").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to remove seeded route policies: %w", err)
	}
	fmt.Println(" OK")

	fmt.Print(" [down] removing admin and system users...")

	_, err = db.NewDelete().
		Model((*models.User)(nil)).
		Where("username IN (?)", bun.In([]string{"admin", "system"})).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to remove seeded users: %w", err)
	}
	fmt.Println(" OK")

	fmt.Print(" [down] removing Administrators team...")

	_, err = db.NewDelete().
		Model((*models.Team)(nil)).
		Where("name = ?", "Administrators").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to remove Administrators team: %w", err)
	}
	fmt.Println(" OK")

	fmt.Print(" [down] removing built-in permissions...")

	_, err = db.NewDelete().
		Model((*models.Permission)(nil)).
		Where("name IN (?)", bun.In(auth.BuiltinPermissions())).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to remove built-in permissions: %w", err)
	}
	fmt.Println(" OK")

	return nil
}

// generatePassword returns a random base58 password for the initial admin
// account.
func generatePassword() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}
	return base58.Encode(b), nil
}
