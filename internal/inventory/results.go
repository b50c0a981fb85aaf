package inventory

import (
	"context"
	"encoding/json"
	"errors"

	"certinv/internal/auth"
	"certinv/internal/certs"
	cierrors "certinv/internal/errors"
)

type Mode string

const (
	ModeLocal    Mode = "local"
	ModeExternal Mode = "external"
)

// Results holds the rows a search produced: stored rows for a local search,
// the fetched records for a directory refresh.
type Results struct {
	Mode    Mode
	Stored  []certs.Certificate
	Fetched []certs.ExternalRecord
}

func (r Results) Len() int {
	if r.Mode == ModeExternal {
		return len(r.Fetched)
	}
	return len(r.Stored)
}

// MarshalJSON encodes the result list alone, never null.
func (r Results) MarshalJSON() ([]byte, error) {
	if r.Mode == ModeExternal {
		if r.Fetched == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(r.Fetched)
	}
	if r.Stored == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.Stored)
}

// SearchResult is {results} on success and {error} on failure.
type SearchResult struct {
	Results *Results `json:"results,omitempty"`
	Error   string   `json:"error,omitempty"`
	Err     error    `json:"-"`
}

// MutationResult is {success, data} or {success: false, error}.
type MutationResult struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Field   string `json:"field,omitempty"`
	Err     error  `json:"-"`
}

type ListResult struct {
	Success bool                        `json:"success"`
	Data    []certs.CertificateWithTeam `json:"data"`
	Error   string                      `json:"error,omitempty"`
	Err     error                       `json:"-"`
}

// Actions adapts Service calls into structured results that never carry a
// raw error across the boundary.
type Actions struct {
	service *Service
}

func NewActions(service *Service) *Actions {
	return &Actions{service: service}
}

func (a *Actions) Search(ctx context.Context, identity *auth.Identity, q certs.Query) SearchResult {
	results, err := a.service.Search(ctx, identity, q)
	if err != nil {
		return SearchResult{Error: cierrors.Message(err), Err: err}
	}
	return SearchResult{Results: &results}
}

func failed(err error) MutationResult {
	result := MutationResult{Success: false, Error: cierrors.Message(err), Err: err}
	var validationErr *cierrors.ValidationError
	if errors.As(err, &validationErr) {
		result.Field = validationErr.Field
	}
	return result
}

func (a *Actions) Create(ctx context.Context, identity *auth.Identity, input certs.CertificateInput) MutationResult {
	created, err := a.service.Create(ctx, identity, input)
	if err != nil {
		return failed(err)
	}
	return MutationResult{Success: true, Data: created}
}

func (a *Actions) Update(ctx context.Context, identity *auth.Identity, id string, patch certs.CertificatePatch) MutationResult {
	updated, err := a.service.Update(ctx, identity, id, patch)
	if err != nil {
		return failed(err)
	}
	return MutationResult{Success: true, Data: updated}
}

func (a *Actions) Delete(ctx context.Context, identity *auth.Identity, id string) MutationResult {
	if err := a.service.Delete(ctx, identity, id); err != nil {
		return failed(err)
	}
	return MutationResult{Success: true}
}

func (a *Actions) List(ctx context.Context, identity *auth.Identity) ListResult {
	rows, err := a.service.List(ctx, identity)
	if err != nil {
		return ListResult{Success: false, Data: []certs.CertificateWithTeam{}, Error: cierrors.Message(err), Err: err}
	}
	return ListResult{Success: true, Data: rows}
}

func (a *Actions) CreateTeam(ctx context.Context, identity *auth.Identity, input certs.TeamInput) MutationResult {
	team, err := a.service.CreateTeam(ctx, identity, input)
	if err != nil {
		return failed(err)
	}
	return MutationResult{Success: true, Data: team}
}

func (a *Actions) ListTeams(ctx context.Context) MutationResult {
	teams, err := a.service.ListTeams(ctx)
	if err != nil {
		return failed(err)
	}
	if teams == nil {
		teams = []certs.Team{}
	}
	return MutationResult{Success: true, Data: teams}
}

func (a *Actions) GetTeam(ctx context.Context, id string) MutationResult {
	team, err := a.service.GetTeam(ctx, id)
	if err != nil {
		return failed(err)
	}
	return MutationResult{Success: true, Data: team}
}
