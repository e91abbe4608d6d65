package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/warden-auth/warden/internal/db/bunx"
	"github.com/warden-auth/warden/internal/db/models"
)

// BunPermissionRepository implements PermissionRepository using Bun ORM
type BunPermissionRepository struct {
	db *bun.DB
}

// NewBunPermissionRepository creates a new Bun-based permission repository
func NewBunPermissionRepository(db *bun.DB) *BunPermissionRepository {
	return &BunPermissionRepository{db: db}
}

// Create inserts a new permission into the catalog
func (r *BunPermissionRepository) Create(ctx context.Context, permission *models.Permission) error {
	if permission.ID == "" {
		permission.ID = bunx.NewUUIDv7()
	}

	_, err := r.db.NewInsert().
		Model(permission).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create permission: %w", err)
	}
	return nil
}

// GetByName retrieves a permission by name
func (r *BunPermissionRepository) GetByName(ctx context.Context, name string) (*models.Permission, error) {
	permission := new(models.Permission)
	err := r.db.NewSelect().
		Model(permission).
		Where("name = ?", name).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("permission %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("get permission by name: %w", err)
	}
	return permission, nil
}

// List retrieves the whole permission catalog
func (r *BunPermissionRepository) List(ctx context.Context) ([]models.Permission, error) {
	var permissions []models.Permission
	err := r.db.NewSelect().
		Model(&permissions).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	return permissions, nil
}

// GrantToUser grants a permission directly to a user. Repeated grants are
// no-ops.
func (r *BunPermissionRepository) GrantToUser(ctx context.Context, userID, permissionID string) error {
	grant := models.UserPermission{UserID: userID, PermissionID: permissionID}
	_, err := r.db.NewInsert().
		Model(&grant).
		On("CONFLICT (user_id, permission_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("grant permission to user: %w", err)
	}
	return nil
}

// RevokeFromUser removes a direct permission grant from a user
func (r *BunPermissionRepository) RevokeFromUser(ctx context.Context, userID, permissionID string) error {
	_, err := r.db.NewDelete().
		Model((*models.UserPermission)(nil)).
		Where("user_id = ?", userID).
		Where("permission_id = ?", permissionID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("revoke permission from user: %w", err)
	}
	return nil
}

// GrantToTeam grants a permission to a team. Repeated grants are no-ops.
func (r *BunPermissionRepository) GrantToTeam(ctx context.Context, teamID, permissionID string) error {
	grant := models.TeamPermission{TeamID: teamID, PermissionID: permissionID}
	_, err := r.db.NewInsert().
		Model(&grant).
		On("CONFLICT (team_id, permission_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("grant permission to team: %w", err)
	}
	return nil
}

// RevokeFromTeam removes a permission grant from a team
func (r *BunPermissionRepository) RevokeFromTeam(ctx context.Context, teamID, permissionID string) error {
	_, err := r.db.NewDelete().
		Model((*models.TeamPermission)(nil)).
		Where("team_id = ?", teamID).
		Where("permission_id = ?", permissionID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("revoke permission from team: %w", err)
	}
	return nil
}

// ListForUser retrieves a user's direct permission grants
func (r *BunPermissionRepository) ListForUser(ctx context.Context, userID string) ([]models.Permission, error) {
	var permissions []models.Permission
	err := r.db.NewSelect().
		Model(&permissions).
		Join("JOIN user_permissions AS up ON up.permission_id = p.id").
		Where("up.user_id = ?", userID).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list permissions for user: %w", err)
	}
	return permissions, nil
}

// ListForTeam retrieves a team's permission grants
func (r *BunPermissionRepository) ListForTeam(ctx context.Context, teamID string) ([]models.Permission, error) {
	var permissions []models.Permission
	err := r.db.NewSelect().
		Model(&permissions).
		Join("JOIN team_permissions AS tp ON tp.permission_id = p.id").
		Where("tp.team_id = ?", teamID).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list permissions for team: %w", err)
	}
	return permissions, nil
}

// ListEffectiveForUser retrieves the union of a user's direct grants and the
// grants of every team the user belongs to
func (r *BunPermissionRepository) ListEffectiveForUser(ctx context.Context, userID string) ([]models.Permission, error) {
	direct := r.db.NewSelect().
		Model((*models.Permission)(nil)).
		Join("JOIN user_permissions AS up ON up.permission_id = p.id").
		Where("up.user_id = ?", userID)

	viaTeams := r.db.NewSelect().
		Model((*models.Permission)(nil)).
		Join("JOIN team_permissions AS tp ON tp.permission_id = p.id").
		Join("JOIN user_teams AS ut ON ut.team_id = tp.team_id").
		Where("ut.user_id = ?", userID)

	var permissions []models.Permission
	// UNION deduplicates permissions reachable both directly and via teams
	err := direct.Union(viaTeams).Scan(ctx, &permissions)
	if err != nil {
		return nil, fmt.Errorf("list effective permissions for user: %w", err)
	}
	return permissions, nil
}

// ListEffectiveForAPIKey retrieves the grants of every team an API key
// belongs to. API keys have no direct grants.
func (r *BunPermissionRepository) ListEffectiveForAPIKey(ctx context.Context, apiKeyID string) ([]models.Permission, error) {
	var permissions []models.Permission
	err := r.db.NewSelect().
		Model(&permissions).
		Distinct().
		Join("JOIN team_permissions AS tp ON tp.permission_id = p.id").
		Join("JOIN apikey_teams AS akt ON akt.team_id = tp.team_id").
		Where("akt.api_key_id = ?", apiKeyID).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list effective permissions for api key: %w", err)
	}
	return permissions, nil
}
