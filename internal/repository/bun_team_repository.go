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

// BunTeamRepository implements TeamRepository using Bun ORM
type BunTeamRepository struct {
	db *bun.DB
}

// NewBunTeamRepository creates a new Bun-based team repository
func NewBunTeamRepository(db *bun.DB) *BunTeamRepository {
	return &BunTeamRepository{db: db}
}

// Create inserts a new team
func (r *BunTeamRepository) Create(ctx context.Context, team *models.Team) error {
	if team.ID == "" {
		team.ID = bunx.NewUUIDv7()
	}

	_, err := r.db.NewInsert().
		Model(team).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create team: %w", err)
	}
	return nil
}

// GetByID retrieves a team by ID
func (r *BunTeamRepository) GetByID(ctx context.Context, id string) (*models.Team, error) {
	team := new(models.Team)
	err := r.db.NewSelect().
		Model(team).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("team %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get team: %w", err)
	}
	return team, nil
}

// GetByName retrieves a team by name
func (r *BunTeamRepository) GetByName(ctx context.Context, name string) (*models.Team, error) {
	team := new(models.Team)
	err := r.db.NewSelect().
		Model(team).
		Where("name = ?", name).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("team %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("get team by name: %w", err)
	}
	return team, nil
}

// Update updates an existing team
func (r *BunTeamRepository) Update(ctx context.Context, team *models.Team) error {
	team.UpdatedAt = time.Now()
	result, err := r.db.NewUpdate().
		Model(team).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update team: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("team %s: %w", team.ID, ErrNotFound)
	}

	return nil
}

// Delete removes a team together with its memberships, grants, and group
// mappings
func (r *BunTeamRepository) Delete(ctx context.Context, id string) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*models.UserTeam)(nil)).
			Where("team_id = ?", id).
			Exec(ctx); err != nil {
			return fmt.Errorf("delete team user memberships: %w", err)
		}

		if _, err := tx.NewDelete().
			Model((*models.APIKeyTeam)(nil)).
			Where("team_id = ?", id).
			Exec(ctx); err != nil {
			return fmt.Errorf("delete team api key memberships: %w", err)
		}

		if _, err := tx.NewDelete().
			Model((*models.TeamPermission)(nil)).
			Where("team_id = ?", id).
			Exec(ctx); err != nil {
			return fmt.Errorf("delete team permissions: %w", err)
		}

		if _, err := tx.NewDelete().
			Model((*models.MappedGroup)(nil)).
			Where("team_id = ?", id).
			Exec(ctx); err != nil {
			return fmt.Errorf("delete team group mappings: %w", err)
		}

		result, err := tx.NewDelete().
			Model((*models.Team)(nil)).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete team: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}

		if rowsAffected == 0 {
			return fmt.Errorf("team %s: %w", id, ErrNotFound)
		}

		return nil
	})
}

// List retrieves all teams
func (r *BunTeamRepository) List(ctx context.Context) ([]models.Team, error) {
	var teams []models.Team
	err := r.db.NewSelect().
		Model(&teams).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	return teams, nil
}

// AddUser adds a user to a team. Adding an existing member is a no-op.
func (r *BunTeamRepository) AddUser(ctx context.Context, teamID, userID string) error {
	membership := models.UserTeam{UserID: userID, TeamID: teamID}
	_, err := r.db.NewInsert().
		Model(&membership).
		On("CONFLICT (user_id, team_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("add user to team: %w", err)
	}
	return nil
}

// RemoveUser removes a user from a team
func (r *BunTeamRepository) RemoveUser(ctx context.Context, teamID, userID string) error {
	_, err := r.db.NewDelete().
		Model((*models.UserTeam)(nil)).
		Where("team_id = ?", teamID).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("remove user from team: %w", err)
	}
	return nil
}

// ListForUser retrieves the teams a user belongs to
func (r *BunTeamRepository) ListForUser(ctx context.Context, userID string) ([]models.Team, error) {
	var teams []models.Team
	err := r.db.NewSelect().
		Model(&teams).
		Join("JOIN user_teams AS ut ON ut.team_id = t.id").
		Where("ut.user_id = ?", userID).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list teams for user: %w", err)
	}
	return teams, nil
}

// AddAPIKey adds an API key to a team. Adding an existing member is a no-op.
func (r *BunTeamRepository) AddAPIKey(ctx context.Context, teamID, apiKeyID string) error {
	membership := models.APIKeyTeam{APIKeyID: apiKeyID, TeamID: teamID}
	_, err := r.db.NewInsert().
		Model(&membership).
		On("CONFLICT (api_key_id, team_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("add api key to team: %w", err)
	}
	return nil
}

// RemoveAPIKey removes an API key from a team
func (r *BunTeamRepository) RemoveAPIKey(ctx context.Context, teamID, apiKeyID string) error {
	_, err := r.db.NewDelete().
		Model((*models.APIKeyTeam)(nil)).
		Where("team_id = ?", teamID).
		Where("api_key_id = ?", apiKeyID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("remove api key from team: %w", err)
	}
	return nil
}

// ListForAPIKey retrieves the teams an API key belongs to
func (r *BunTeamRepository) ListForAPIKey(ctx context.Context, apiKeyID string) ([]models.Team, error) {
	var teams []models.Team
	err := r.db.NewSelect().
		Model(&teams).
		Join("JOIN apikey_teams AS akt ON akt.team_id = t.id").
		Where("akt.api_key_id = ?", apiKeyID).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list teams for api key: %w", err)
	}
	return teams, nil
}

// SyncUserTeams applies a membership delta in a single transaction
func (r *BunTeamRepository) SyncUserTeams(ctx context.Context, userID string, addTeamIDs, removeTeamIDs []string) error {
	if len(addTeamIDs) == 0 && len(removeTeamIDs) == 0 {
		return nil
	}

	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if len(removeTeamIDs) > 0 {
			_, err := tx.NewDelete().
				Model((*models.UserTeam)(nil)).
				Where("user_id = ?", userID).
				Where("team_id IN (?)", bun.In(removeTeamIDs)).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("remove synced memberships: %w", err)
			}
		}

		for _, teamID := range addTeamIDs {
			membership := models.UserTeam{UserID: userID, TeamID: teamID}
			_, err := tx.NewInsert().
				Model(&membership).
				On("CONFLICT (user_id, team_id) DO NOTHING").
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("add synced membership: %w", err)
			}
		}

		return nil
	})
}
