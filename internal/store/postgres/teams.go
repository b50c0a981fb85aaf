package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"certinv/internal/certs"
	cierrors "certinv/internal/errors"
)

const teamColumns = `id, team_name, escalation, alert1, alert2, alert3, snow_group, prc_group, applications`

func qualifiedTeam(prefix string) string {
	return prefix + ".id, " + prefix + ".team_name, " + prefix + ".escalation, " +
		prefix + ".alert1, " + prefix + ".alert2, " + prefix + ".alert3, " +
		prefix + ".snow_group, " + prefix + ".prc_group, " + prefix + ".applications"
}

func scanTeam(row interface{ Scan(dest ...any) error }) (certs.Team, error) {
	var t certs.Team
	var applications []byte
	err := row.Scan(&t.ID, &t.TeamName, &t.Escalation, &t.Alert1, &t.Alert2, &t.Alert3,
		&t.SnowGroup, &t.PRCGroup, &applications)
	if err != nil {
		return t, err
	}
	t.Applications = applications
	if len(t.Applications) == 0 {
		t.Applications = certs.EmptyJSONList
	}
	return t, nil
}

// nullableTeam receives the LEFT JOINed team columns of a listing row.
type nullableTeam struct {
	id, name, escalation, alert1, alert2, alert3, snowGroup, prcGroup *string
	applications                                                    []byte
}

func (n *nullableTeam) dest() []any {
	return []any{&n.id, &n.name, &n.escalation, &n.alert1, &n.alert2, &n.alert3,
		&n.snowGroup, &n.prcGroup, &n.applications}
}

func (n *nullableTeam) team() *certs.Team {
	if n.id == nil {
		return nil
	}
	applications := n.applications
	if len(applications) == 0 {
		applications = certs.EmptyJSONList
	}
	return &certs.Team{
		ID:           *n.id,
		TeamName:     certs.Deref(n.name),
		Escalation:   n.escalation,
		Alert1:       n.alert1,
		Alert2:       n.alert2,
		Alert3:       n.alert3,
		SnowGroup:    n.snowGroup,
		PRCGroup:     n.prcGroup,
		Applications: applications,
	}
}

func (s *Store) CreateTeam(ctx context.Context, team certs.Team) (certs.Team, error) {
	applications := team.Applications
	if len(applications) == 0 {
		applications = certs.EmptyJSONList
	}
	row := s.db.QueryRow(ctx,
		`INSERT INTO teams (`+teamColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING `+teamColumns,
		team.ID, team.TeamName, team.Escalation, team.Alert1, team.Alert2, team.Alert3,
		team.SnowGroup, team.PRCGroup, string(applications),
	)
	created, err := scanTeam(row)
	if err != nil {
		return certs.Team{}, fmt.Errorf("insert team %s: %w", team.TeamName, mapError(err))
	}
	return created, nil
}

func (s *Store) GetTeam(ctx context.Context, id string) (certs.Team, error) {
	team, err := scanTeam(s.db.QueryRow(ctx, `SELECT `+teamColumns+` FROM teams WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return certs.Team{}, cierrors.ErrTeamNotFound
	}
	if err != nil {
		return certs.Team{}, fmt.Errorf("get team %s: %w", id, err)
	}
	return team, nil
}

func (s *Store) FindTeamByName(ctx context.Context, name string) (certs.Team, error) {
	team, err := scanTeam(s.db.QueryRow(ctx, `SELECT `+teamColumns+` FROM teams WHERE team_name = $1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return certs.Team{}, cierrors.ErrTeamNotFound
	}
	if err != nil {
		return certs.Team{}, fmt.Errorf("find team %s: %w", name, err)
	}
	return team, nil
}

func (s *Store) ListTeams(ctx context.Context) ([]certs.Team, error) {
	rows, err := s.db.Query(ctx, `SELECT `+teamColumns+` FROM teams ORDER BY team_name`)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	result := make([]certs.Team, 0)
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		result = append(result, team)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate teams: %w", err)
	}
	return result, nil
}
