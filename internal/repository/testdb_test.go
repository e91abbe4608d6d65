package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/warden-auth/warden/internal/db/bunx"
	"github.com/warden-auth/warden/internal/db/models"
	_ "modernc.org/sqlite"
)

// setupTestDB creates a private in-memory database with every table the
// repositories touch.
func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	// A single pooled connection keeps the private in-memory database
	// alive for the duration of the test.
	sqldb, err := sql.Open("sqlite", "file::memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	ctx := context.Background()
	tables := []interface{}{
		(*models.User)(nil),
		(*models.Team)(nil),
		(*models.Permission)(nil),
		(*models.APIKey)(nil),
		(*models.MappedGroup)(nil),
		(*models.UserTeam)(nil),
		(*models.APIKeyTeam)(nil),
		(*models.UserPermission)(nil),
		(*models.TeamPermission)(nil),
	}
	for _, table := range tables {
		_, err := db.NewCreateTable().Model(table).IfNotExists().Exec(ctx)
		require.NoError(t, err)
	}

	// Mirror the unique index the production migration creates; the
	// mapped-group upsert's ON CONFLICT clause depends on it.
	_, err = db.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_mapped_groups_unique
		ON mapped_groups (team_id, identity_provider, group_name)
	`)
	require.NoError(t, err)

	return db
}

func createTestUser(t *testing.T, db *bun.DB, username string, kind models.UserKind) *models.User {
	t.Helper()

	user := &models.User{
		ID:       bunx.NewUUIDv7(),
		Kind:     kind,
		Username: username,
		Fullname: "Test " + username,
	}
	_, err := db.NewInsert().Model(user).Exec(context.Background())
	require.NoError(t, err)
	return user
}

func createTestTeam(t *testing.T, db *bun.DB, name string) *models.Team {
	t.Helper()

	team := &models.Team{
		ID:   bunx.NewUUIDv7(),
		Name: name,
	}
	_, err := db.NewInsert().Model(team).Exec(context.Background())
	require.NoError(t, err)
	return team
}

func createTestPermission(t *testing.T, db *bun.DB, name string) *models.Permission {
	t.Helper()

	permission := &models.Permission{
		ID:   bunx.NewUUIDv7(),
		Name: name,
	}
	_, err := db.NewInsert().Model(permission).Exec(context.Background())
	require.NoError(t, err)
	return permission
}

func createTestAPIKey(t *testing.T, db *bun.DB, publicID, createdBy string) *models.APIKey {
	t.Helper()

	key := &models.APIKey{
		ID:         bunx.NewUUIDv7(),
		PublicID:   publicID,
		SecretHash: "0000000000000000000000000000000000000000000000000000000000000000",
		CreatedBy:  createdBy,
	}
	_, err := db.NewInsert().Model(key).Exec(context.Background())
	require.NoError(t, err)
	return key
}

func permissionNames(permissions []models.Permission) []string {
	names := make([]string, 0, len(permissions))
	for _, p := range permissions {
		names = append(names, p.Name)
	}
	return names
}
