package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"certinv/internal/auth"
	"certinv/internal/certs"
	cierrors "certinv/internal/errors"
	"certinv/internal/logger"
	"certinv/internal/validation"
)

func (s *Service) CreateTeam(ctx context.Context, identity *auth.Identity, input certs.TeamInput) (certs.Team, error) {
	if err := requireIdentity(identity); err != nil {
		return certs.Team{}, err
	}
	return s.createTeam(ctx, actorOf(identity), input)
}

func (s *Service) createTeam(ctx context.Context, actor string, input certs.TeamInput) (certs.Team, error) {
	if err := validation.Struct(input); err != nil {
		return certs.Team{}, err
	}
	team, err := input.NewTeam(s.newID())
	if err != nil {
		return certs.Team{}, cierrors.NewValidationError("applications", "applications must be a list of names")
	}
	created, err := s.store.CreateTeam(ctx, team)
	if errors.Is(err, cierrors.ErrDuplicate) {
		return certs.Team{}, cierrors.NewValidationError("teamName", duplicateTeamMessage)
	}
	if err != nil {
		return certs.Team{}, storageError("create_team", err)
	}

	logger.InventoryEvent("create_team", actor).Str("team_id", created.ID).Str("team_name", created.TeamName).Msg("Team created")
	s.notifier.Notify(ctx, Change{Entity: EntityTeam, Op: OpCreated, IDs: []string{created.ID}})
	return created, nil
}

// SeedTeams creates every team whose name is not registered yet and returns
// the names it created. Existing teams are left untouched.
func (s *Service) SeedTeams(ctx context.Context, inputs []certs.TeamInput) ([]string, error) {
	created := make([]string, 0, len(inputs))
	for _, input := range inputs {
		_, err := s.store.FindTeamByName(ctx, input.TeamName)
		if err == nil {
			continue
		}
		if !errors.Is(err, cierrors.ErrNotFound) {
			return created, storageError("find_team", err)
		}
		if _, err := s.createTeam(ctx, "seed", input); err != nil {
			return created, err
		}
		created = append(created, input.TeamName)
	}
	return created, nil
}

func (s *Service) ListTeams(ctx context.Context) ([]certs.Team, error) {
	teams, err := s.store.ListTeams(ctx)
	if err != nil {
		return nil, storageError("list_teams", err)
	}
	return teams, nil
}

func (s *Service) GetTeam(ctx context.Context, id string) (certs.Team, error) {
	id, err := validation.RequireID(id)
	if err != nil {
		return certs.Team{}, err
	}
	if uuid.Validate(id) != nil {
		return certs.Team{}, cierrors.ErrTeamNotFound
	}
	team, err := s.store.GetTeam(ctx, id)
	if err != nil {
		return certs.Team{}, storageError("get_team", err)
	}
	return team, nil
}
