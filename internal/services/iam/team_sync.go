package iam

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/warden-auth/warden/internal/auth"
	"github.com/warden-auth/warden/internal/repository"
)

// TeamSynchronizer aligns a user's team memberships with the group list
// asserted by an identity provider. The mapped_groups table is the sole
// source of truth for which external group grants which team.
//
// Each run is scoped to one provider: the mappings consulted are only those
// owned by the authenticating provider, and within that scope membership is
// fully provider-driven. A held team with no mapping matching an asserted
// group is removed, including teams with no mapping for this provider at
// all. Removals apply before additions, in one transaction.
//
// The algorithm is idempotent: running it twice with the same asserted
// groups leaves the same final team set.
type TeamSynchronizer struct {
	teams        repository.TeamRepository
	mappedGroups repository.MappedGroupRepository
}

// NewTeamSynchronizer creates a team synchronizer.
func NewTeamSynchronizer(teams repository.TeamRepository, mappedGroups repository.MappedGroupRepository) *TeamSynchronizer {
	return &TeamSynchronizer{teams: teams, mappedGroups: mappedGroups}
}

// Synchronize applies the membership delta for one user and one provider.
func (s *TeamSynchronizer) Synchronize(ctx context.Context, userID string, idp auth.IdentityProvider, assertedGroups []string) error {
	mappings, err := s.mappedGroups.ListByProvider(ctx, string(idp))
	if err != nil {
		return fmt.Errorf("list group mappings for %s: %w", idp, err)
	}

	asserted := make(map[string]bool, len(assertedGroups))
	for _, g := range assertedGroups {
		asserted[g] = true
	}

	// Teams earned by the asserted groups under this provider's mappings.
	entitled := make(map[string]bool)
	for _, m := range mappings {
		if asserted[m.GroupName] {
			entitled[m.TeamID] = true
		}
	}

	current, err := s.teams.ListForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list teams for user %s: %w", userID, err)
	}

	var removeIDs []string
	held := make(map[string]bool, len(current))
	for _, t := range current {
		held[t.ID] = true
		if !entitled[t.ID] {
			removeIDs = append(removeIDs, t.ID)
		}
	}

	var addIDs []string
	for teamID := range entitled {
		if !held[teamID] {
			addIDs = append(addIDs, teamID)
		}
	}

	if len(addIDs) == 0 && len(removeIDs) == 0 {
		return nil
	}

	sort.Strings(addIDs)
	sort.Strings(removeIDs)

	if err := s.teams.SyncUserTeams(ctx, userID, addIDs, removeIDs); err != nil {
		return fmt.Errorf("sync teams for user %s: %w", userID, err)
	}

	log.Printf("INFO: synchronized teams for user %s via %s: +%d -%d", userID, idp, len(addIDs), len(removeIDs))
	return nil
}
