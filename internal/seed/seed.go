// Package seed loads team registry fixtures from YAML.
package seed

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"certinv/internal/certs"
	"certinv/internal/logger"
)

// File is the layout of a team seed file:
//
//	teams:
//	  - team_name: payments
//	    escalation: payments-oncall@example.com
//	    applications: [ledger, checkout]
type File struct {
	Teams []certs.TeamInput `yaml:"teams"`
}

// TeamSeeder is satisfied by *inventory.Service.
type TeamSeeder interface {
	SeedTeams(ctx context.Context, inputs []certs.TeamInput) ([]string, error)
}

// Load reads and parses a seed file.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read seed file: %w", err)
	}
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return File{}, fmt.Errorf("parse seed file: %w", err)
	}
	if len(file.Teams) == 0 {
		return File{}, fmt.Errorf("seed file %s lists no teams", path)
	}
	return file, nil
}

// Teams loads path and registers every team not already present. It returns
// the names of the teams it created.
func Teams(ctx context.Context, seeder TeamSeeder, path string) ([]string, error) {
	file, err := Load(path)
	if err != nil {
		return nil, err
	}
	created, err := seeder.SeedTeams(ctx, file.Teams)
	if err != nil {
		return created, fmt.Errorf("seed teams: %w", err)
	}
	logger.Get().Info().
		Str("file", path).
		Int("listed", len(file.Teams)).
		Int("created", len(created)).
		Msg("Team seed applied")
	return created, nil
}
