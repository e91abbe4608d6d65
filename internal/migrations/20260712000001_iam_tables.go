package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
	casbinbunadapter "github.com/warden-auth/warden/internal/auth/bunadapter"
	"github.com/warden-auth/warden/internal/db/models"
)

func init() {
	Migrations.MustRegister(up_20260712000001, down_20260712000001)
}

// up_20260712000001 creates the identity and access tables
func up_20260712000001(ctx context.Context, db *bun.DB) error {
	// 1. Create users table
	fmt.Print(" [up] creating users table...")
	_, err := db.NewCreateTable().
		Model((*models.User)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_users_kind ON users(kind)`)
	if err != nil {
		return fmt.Errorf("failed to create users kind index: %w", err)
	}

	// Restrict kind to the known user variants. SQLite cannot add table
	// constraints after creation, so this is PostgreSQL only.
	if IsPostgreSQL(db) {
		_, err = db.Exec(`
			ALTER TABLE users
			ADD CONSTRAINT chk_users_kind
			CHECK (kind IN ('managed', 'ldap', 'oidc'))
		`)
		if err != nil {
			return fmt.Errorf("failed to add users kind check: %w", err)
		}
	}
	fmt.Println(" OK")

	// 2. Create teams table
	fmt.Print(" [up] creating teams table...")
	_, err = db.NewCreateTable().
		Model((*models.Team)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create teams table: %w", err)
	}
	fmt.Println(" OK")

	// 3. Create permissions table
	fmt.Print(" [up] creating permissions table...")
	_, err = db.NewCreateTable().
		Model((*models.Permission)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create permissions table: %w", err)
	}
	fmt.Println(" OK")

	// 4. Create api_keys table
	fmt.Print(" [up] creating api_keys table...")
	_, err = db.NewCreateTable().
		Model((*models.APIKey)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create api_keys table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_api_keys_created_by ON api_keys(created_by)`)
	if err != nil {
		return fmt.Errorf("failed to create api_keys created_by index: %w", err)
	}

	if IsPostgreSQL(db) {
		_, err = db.Exec(`
			ALTER TABLE api_keys
			ADD CONSTRAINT fk_api_keys_created_by
			FOREIGN KEY (created_by) REFERENCES users(id)
		`)
		if err != nil {
			return fmt.Errorf("failed to add api_keys created_by FK: %w", err)
		}
	}
	fmt.Println(" OK")

	// 5. Create mapped_groups table
	fmt.Print(" [up] creating mapped_groups table...")
	_, err = db.NewCreateTable().
		Model((*models.MappedGroup)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create mapped_groups table: %w", err)
	}

	// One mapping per (team, provider, group); team sync also looks rows up
	// by provider and group name alone.
	_, err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_mapped_groups_unique
		ON mapped_groups (team_id, identity_provider, group_name)
	`)
	if err != nil {
		return fmt.Errorf("failed to create mapped_groups unique index: %w", err)
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_mapped_groups_provider_group
		ON mapped_groups (identity_provider, group_name)
	`)
	if err != nil {
		return fmt.Errorf("failed to create mapped_groups provider index: %w", err)
	}

	if IsPostgreSQL(db) {
		_, err = db.Exec(`
			ALTER TABLE mapped_groups
			ADD CONSTRAINT fk_mapped_groups_team_id
			FOREIGN KEY (team_id) REFERENCES teams(id) ON DELETE CASCADE
		`)
		if err != nil {
			return fmt.Errorf("failed to add mapped_groups team_id FK: %w", err)
		}
	}
	fmt.Println(" OK")

	// 6. Create user_teams table
	fmt.Print(" [up] creating user_teams table...")
	_, err = db.NewCreateTable().
		Model((*models.UserTeam)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create user_teams table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_user_teams_team_id ON user_teams(team_id)`)
	if err != nil {
		return fmt.Errorf("failed to create user_teams team_id index: %w", err)
	}

	if IsPostgreSQL(db) {
		_, err = db.Exec(`
			ALTER TABLE user_teams
			ADD CONSTRAINT fk_user_teams_user_id
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		`)
		if err != nil {
			return fmt.Errorf("failed to add user_teams user_id FK: %w", err)
		}

		_, err = db.Exec(`
			ALTER TABLE user_teams
			ADD CONSTRAINT fk_user_teams_team_id
			FOREIGN KEY (team_id) REFERENCES teams(id) ON DELETE CASCADE
		`)
		if err != nil {
			return fmt.Errorf("failed to add user_teams team_id FK: %w", err)
		}
	}
	fmt.Println(" OK")

	// 7. Create apikey_teams table
	fmt.Print(" [up] creating apikey_teams table...")
	_, err = db.NewCreateTable().
		Model((*models.APIKeyTeam)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create apikey_teams table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_apikey_teams_team_id ON apikey_teams(team_id)`)
	if err != nil {
		return fmt.Errorf("failed to create apikey_teams team_id index: %w", err)
	}

	if IsPostgreSQL(db) {
		_, err = db.Exec(`
			ALTER TABLE apikey_teams
			ADD CONSTRAINT fk_apikey_teams_api_key_id
			FOREIGN KEY (api_key_id) REFERENCES api_keys(id) ON DELETE CASCADE
		`)
		if err != nil {
			return fmt.Errorf("failed to add apikey_teams api_key_id FK: %w", err)
		}

		_, err = db.Exec(`
			ALTER TABLE apikey_teams
			ADD CONSTRAINT fk_apikey_teams_team_id
			FOREIGN KEY (team_id) REFERENCES teams(id) ON DELETE CASCADE
		`)
		if err != nil {
			return fmt.Errorf("failed to add apikey_teams team_id FK: %w", err)
		}
	}
	fmt.Println(" OK")

	// 8. Create user_permissions table
	fmt.Print(" [up] creating user_permissions table...")
	_, err = db.NewCreateTable().
		Model((*models.UserPermission)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create user_permissions table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_user_permissions_permission_id ON user_permissions(permission_id)`)
	if err != nil {
		return fmt.Errorf("failed to create user_permissions permission_id index: %w", err)
	}

	if IsPostgreSQL(db) {
		_, err = db.Exec(`
			ALTER TABLE user_permissions
			ADD CONSTRAINT fk_user_permissions_user_id
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		`)
		if err != nil {
			return fmt.Errorf("failed to add user_permissions user_id FK: %w", err)
		}

		_, err = db.Exec(`
			ALTER TABLE user_permissions
			ADD CONSTRAINT fk_user_permissions_permission_id
			FOREIGN KEY (permission_id) REFERENCES permissions(id) ON DELETE CASCADE
		`)
		if err != nil {
			return fmt.Errorf("failed to add user_permissions permission_id FK: %w", err)
		}
	}
	fmt.Println(" OK")

	// 9. Create team_permissions table
	fmt.Print(" [up] creating team_permissions table...")
	_, err = db.NewCreateTable().
		Model((*models.TeamPermission)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create team_permissions table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_team_permissions_permission_id ON team_permissions(permission_id)`)
	if err != nil {
		return fmt.Errorf("failed to create team_permissions permission_id index: %w", err)
	}

	if IsPostgreSQL(db) {
		_, err = db.Exec(`
			ALTER TABLE team_permissions
			ADD CONSTRAINT fk_team_permissions_team_id
			FOREIGN KEY (team_id) REFERENCES teams(id) ON DELETE CASCADE
		`)
		if err != nil {
			return fmt.Errorf("failed to add team_permissions team_id FK: %w", err)
		}

		_, err = db.Exec(`
			ALTER TABLE team_permissions
			ADD CONSTRAINT fk_team_permissions_permission_id
			FOREIGN KEY (permission_id) REFERENCES permissions(id) ON DELETE CASCADE
		`)
		if err != nil {
			return fmt.Errorf("failed to add team_permissions permission_id FK: %w", err)
		}
	}
	fmt.Println(" OK")

	// 10. Create casbin_rules table
	fmt.Print(" [up] creating casbin_rules table...")
	_, err = db.NewCreateTable().
		Model((*casbinbunadapter.CasbinRule)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create casbin_rules table: %w", err)
	}
	fmt.Println(" OK")

	return nil
}

// down_20260712000001 drops all identity and access tables in reverse order
func down_20260712000001(ctx context.Context, db *bun.DB) error {
	tables := []string{
		"casbin_rules",
		"team_permissions",
		"user_permissions",
		"apikey_teams",
		"user_teams",
		"mapped_groups",
		"api_keys",
		"permissions",
		"teams",
		"users",
	}

	cascade := ""
	if IsPostgreSQL(db) {
		cascade = " CASCADE"
	}

	for _, table := range tables {
		fmt.Printf(" [down] dropping %s table...", table)
		_, err := db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s%s", table, cascade))
		if err != nil {
			return fmt.Errorf("failed to drop %s table: %w", table, err)
		}
		fmt.Println(" OK")
	}

	return nil
}
