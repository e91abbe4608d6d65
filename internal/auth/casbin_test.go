package auth

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	casbinbunadapter "github.com/warden-auth/warden/internal/auth/bunadapter"
	_ "modernc.org/sqlite"
)

func TestHasAnyPerm(t *testing.T) {
	tests := []struct {
		name     string
		perms    string
		required string
		want     bool
	}{
		{"single match", "ACCESS_MANAGEMENT", "ACCESS_MANAGEMENT", true},
		{"no match", "TEAM_MANAGEMENT", "ACCESS_MANAGEMENT", false},
		{"match within joined perms", "TEAM_MANAGEMENT|ACCESS_MANAGEMENT", "ACCESS_MANAGEMENT", true},
		{"match within OR set", "PERMISSION_READ", "PERMISSION_READ|ACCESS_MANAGEMENT|TEAM_MANAGEMENT", true},
		{"no match within OR set", "APIKEY_MANAGEMENT", "PERMISSION_READ|ACCESS_MANAGEMENT", false},
		{"any accepts empty perms", "", PermAny, true},
		{"any accepts some perms", "TEAM_MANAGEMENT", PermAny, true},
		{"empty perms", "", "ACCESS_MANAGEMENT", false},
		{"empty required", "ACCESS_MANAGEMENT", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasAnyPerm(tt.perms, tt.required))
		})
	}
}

func TestInitEnforcer_RoutePolicies(t *testing.T) {
	db := setupCasbinTestDB(t)
	defer db.Close()

	ctx := context.Background()
	policies := []casbinbunadapter.CasbinRule{
		{Ptype: "p", V0: "/api/v1/whoami", V1: "GET", V2: PermAny},
		{Ptype: "p", V0: "/api/v1/users*", V1: ".*", V2: PermAccessManagement},
		{Ptype: "p", V0: "/api/v1/permissions*", V1: "GET", V2: PermPermissionRead + "|" + PermAccessManagement},
	}
	_, err := db.NewInsert().Model(&policies).Exec(ctx)
	require.NoError(t, err)

	enforcer, err := InitEnforcer(db)
	require.NoError(t, err)

	tests := []struct {
		name   string
		perms  []string
		path   string
		method string
		want   bool
	}{
		{"whoami needs no permission", nil, "/api/v1/whoami", "GET", true},
		{"whoami wrong method", nil, "/api/v1/whoami", "DELETE", false},
		{"users list with grant", []string{PermAccessManagement}, "/api/v1/users", "GET", true},
		{"users subpath with grant", []string{PermAccessManagement}, "/api/v1/users/42/suspend", "POST", true},
		{"users without grant", []string{PermTeamManagement}, "/api/v1/users", "GET", false},
		{"permissions via OR set", []string{PermPermissionRead}, "/api/v1/permissions", "GET", true},
		{"permissions via other OR member", []string{PermAccessManagement}, "/api/v1/permissions", "GET", true},
		{"permissions write denied", []string{PermAccessManagement}, "/api/v1/permissions", "POST", false},
		{"unknown route denied", []string{PermAccessManagement}, "/api/v1/other", "GET", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := enforcer.Enforce(JoinPermissions(tt.perms), tt.path, tt.method)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func setupCasbinTestDB(t *testing.T) *bun.DB {
	t.Helper()

	// A single pooled connection keeps the private in-memory database alive
	// for the duration of the test.
	sqldb, err := sql.Open("sqlite", "file::memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = db.NewCreateTable().
		Model((*casbinbunadapter.CasbinRule)(nil)).
		IfNotExists().
		Exec(context.Background())
	require.NoError(t, err)

	return db
}
