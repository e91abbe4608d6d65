package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/warden-auth/warden/internal/db/bunx"
	"github.com/warden-auth/warden/internal/db/models"
)

// BunAPIKeyRepository implements APIKeyRepository using Bun ORM
type BunAPIKeyRepository struct {
	db *bun.DB
}

// NewBunAPIKeyRepository creates a new Bun-based API key repository
func NewBunAPIKeyRepository(db *bun.DB) *BunAPIKeyRepository {
	return &BunAPIKeyRepository{db: db}
}

// Create inserts a new API key
func (r *BunAPIKeyRepository) Create(ctx context.Context, key *models.APIKey) error {
	if key.ID == "" {
		key.ID = bunx.NewUUIDv7()
	}

	_, err := r.db.NewInsert().
		Model(key).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// GetByID retrieves an API key by its internal ID
func (r *BunAPIKeyRepository) GetByID(ctx context.Context, id string) (*models.APIKey, error) {
	key := new(models.APIKey)
	err := r.db.NewSelect().
		Model(key).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("api key %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return key, nil
}

// GetByPublicID retrieves an API key by its public lookup handle
func (r *BunAPIKeyRepository) GetByPublicID(ctx context.Context, publicID string) (*models.APIKey, error) {
	key := new(models.APIKey)
	err := r.db.NewSelect().
		Model(key).
		Where("public_id = ?", publicID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("api key %s: %w", publicID, ErrNotFound)
		}
		return nil, fmt.Errorf("get api key by public ID: %w", err)
	}
	return key, nil
}

// UpdateSecretHash replaces the stored secret hash during rotation
func (r *BunAPIKeyRepository) UpdateSecretHash(ctx context.Context, id string, secretHash string, rotatedAt time.Time) error {
	result, err := r.db.NewUpdate().
		Model((*models.APIKey)(nil)).
		Set("secret_hash = ?", secretHash).
		Set("rotated_at = ?", rotatedAt).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update api key secret hash: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("api key %s: %w", id, ErrNotFound)
	}

	return nil
}

// Delete removes an API key and its team memberships
func (r *BunAPIKeyRepository) Delete(ctx context.Context, id string) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*models.APIKeyTeam)(nil)).
			Where("api_key_id = ?", id).
			Exec(ctx); err != nil {
			return fmt.Errorf("delete api key team memberships: %w", err)
		}

		result, err := tx.NewDelete().
			Model((*models.APIKey)(nil)).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete api key: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}

		if rowsAffected == 0 {
			return fmt.Errorf("api key %s: %w", id, ErrNotFound)
		}

		return nil
	})
}

// List retrieves all API keys
func (r *BunAPIKeyRepository) List(ctx context.Context) ([]models.APIKey, error) {
	var keys []models.APIKey
	err := r.db.NewSelect().
		Model(&keys).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// TouchLastUsed advances last_used_at for the given key IDs in one
// transaction. Stored values newer than the recorded timestamp win, so
// flushing stale observations never moves the column backwards. Keys deleted
// since the usage was recorded simply match no row.
func (r *BunAPIKeyRepository) TouchLastUsed(ctx context.Context, usages map[string]time.Time) error {
	if len(usages) == 0 {
		return nil
	}

	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for id, usedAt := range usages {
			_, err := tx.NewUpdate().
				Model((*models.APIKey)(nil)).
				Set("last_used_at = ?", usedAt).
				Where("id = ?", id).
				Where("last_used_at IS NULL OR last_used_at < ?", usedAt).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("touch api key %s: %w", id, err)
			}
		}
		return nil
	})
}
