package allocation

import (
	"context"

	"github.com/metrolog/metrolog-backend/internal/verifiers"
	"github.com/metrolog/metrolog-backend/pkg/db/models"
)

// Pool names, in the order candidates are tried.
const (
	PoolDefault    = "default"
	PoolSameTeam   = "same_team"
	PoolTeamless   = "teamless"
	PoolOtherTeams = "other_teams"
)

// Pool is a named, lazily loaded group of candidate verifiers.
type Pool struct {
	Name string
	Load func(ctx context.Context) ([]models.Verifier, error)
}

// BuildPools returns the candidate pools for a requester whose default
// verifier is def. Nothing is read until a pool's Load is called.
func BuildPools(repo verifiers.Repository, companyID uint, def *models.Verifier) []Pool {
	pools := []Pool{{
		Name: PoolDefault,
		Load: func(context.Context) ([]models.Verifier, error) {
			return []models.Verifier{*def}, nil
		},
	}}

	if def.TeamID != nil {
		teamID := *def.TeamID
		pools = append(pools, Pool{
			Name: PoolSameTeam,
			Load: func(ctx context.Context) ([]models.Verifier, error) {
				return repo.ListByTeam(ctx, companyID, teamID, def.ID)
			},
		})
	}

	return append(pools,
		Pool{
			Name: PoolTeamless,
			Load: func(ctx context.Context) ([]models.Verifier, error) {
				return repo.ListWithoutTeam(ctx, companyID, def.ID)
			},
		},
		Pool{
			Name: PoolOtherTeams,
			Load: func(ctx context.Context) ([]models.Verifier, error) {
				return repo.ListInOtherTeams(ctx, companyID, def.TeamID, def.ID)
			},
		},
	)
}
