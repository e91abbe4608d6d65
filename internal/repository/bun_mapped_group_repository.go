package repository

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/warden-auth/warden/internal/db/bunx"
	"github.com/warden-auth/warden/internal/db/models"
)

// BunMappedGroupRepository implements MappedGroupRepository using Bun ORM
type BunMappedGroupRepository struct {
	db *bun.DB
}

// NewBunMappedGroupRepository creates a new Bun-based mapped group repository
func NewBunMappedGroupRepository(db *bun.DB) *BunMappedGroupRepository {
	return &BunMappedGroupRepository{db: db}
}

// Create inserts a new group mapping. Mapping the same group to the same
// team twice is a no-op.
func (r *BunMappedGroupRepository) Create(ctx context.Context, mapping *models.MappedGroup) error {
	if mapping.ID == "" {
		mapping.ID = bunx.NewUUIDv7()
	}

	_, err := r.db.NewInsert().
		Model(mapping).
		On("CONFLICT (team_id, identity_provider, group_name) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create mapped group: %w", err)
	}
	return nil
}

// Delete removes a group mapping
func (r *BunMappedGroupRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.NewDelete().
		Model((*models.MappedGroup)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete mapped group: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("mapped group %s: %w", id, ErrNotFound)
	}

	return nil
}

// ListForTeam retrieves the group mappings of a team
func (r *BunMappedGroupRepository) ListForTeam(ctx context.Context, teamID string) ([]models.MappedGroup, error) {
	var mappings []models.MappedGroup
	err := r.db.NewSelect().
		Model(&mappings).
		Where("team_id = ?", teamID).
		Order("group_name ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list mapped groups for team: %w", err)
	}
	return mappings, nil
}

// ListByProvider retrieves every mapping owned by one identity provider
func (r *BunMappedGroupRepository) ListByProvider(ctx context.Context, identityProvider string) ([]models.MappedGroup, error) {
	var mappings []models.MappedGroup
	err := r.db.NewSelect().
		Model(&mappings).
		Where("identity_provider = ?", identityProvider).
		Order("group_name ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list mapped groups by provider: %w", err)
	}
	return mappings, nil
}

// TeamIDsForGroups resolves external group names to mapped team IDs for one
// identity provider
func (r *BunMappedGroupRepository) TeamIDsForGroups(ctx context.Context, identityProvider string, groups []string) ([]string, error) {
	if len(groups) == 0 {
		return nil, nil
	}

	var teamIDs []string
	err := r.db.NewSelect().
		Model((*models.MappedGroup)(nil)).
		ColumnExpr("DISTINCT team_id").
		Where("identity_provider = ?", identityProvider).
		Where("group_name IN (?)", bun.In(groups)).
		Scan(ctx, &teamIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve team IDs for groups: %w", err)
	}
	return teamIDs, nil
}
