// Package memory is an in-process Store used by the dev profile and tests.
// It enforces the same uniqueness and foreign-key rules as the Postgres schema.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"certinv/internal/certs"
	cierrors "certinv/internal/errors"
)

type Store struct {
	mu           sync.RWMutex
	certificates []certs.Certificate
	teams        map[string]certs.Team
}

func New() *Store {
	return &Store{teams: make(map[string]certs.Team)}
}

func (s *Store) Ping(_ context.Context) error {
	return nil
}

func (s *Store) SearchCertificates(_ context.Context, filter certs.Filter) ([]certs.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]certs.Certificate, 0)
	for _, cert := range s.certificates {
		if filter.CommonName != "" && !strings.Contains(certs.Deref(cert.CommonName), filter.CommonName) {
			continue
		}
		if filter.SerialNumber != "" && certs.Deref(cert.SerialNumber) != filter.SerialNumber {
			continue
		}
		result = append(result, cert)
	}
	return result, nil
}

func (s *Store) UpsertCertificate(_ context.Context, cert certs.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkTeam(cert.RenewingTeamID); err != nil {
		return err
	}
	if index := s.indexOfKey(cert.CertificateIdentifier, cert.RenewingTeamID, ""); index >= 0 {
		existing := s.certificates[index]
		cert.ID = existing.ID
		cert.CreatedAt = existing.CreatedAt
		cert.CreatedBy = existing.CreatedBy
		s.certificates[index] = cert
		return nil
	}
	s.certificates = append(s.certificates, cert)
	return nil
}

func (s *Store) InsertCertificate(_ context.Context, cert certs.Certificate) (certs.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkTeam(cert.RenewingTeamID); err != nil {
		return certs.Certificate{}, err
	}
	if s.indexOfKey(cert.CertificateIdentifier, cert.RenewingTeamID, "") >= 0 {
		return certs.Certificate{}, cierrors.ErrDuplicate
	}
	s.certificates = append(s.certificates, cert)
	return cert, nil
}

func (s *Store) GetCertificate(_ context.Context, id string) (certs.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index := s.indexOfID(id)
	if index < 0 {
		return certs.Certificate{}, cierrors.ErrCertificateNotFound
	}
	return s.certificates[index], nil
}

func (s *Store) UpdateCertificate(_ context.Context, id string, patch certs.CertificatePatch, updatedAt time.Time) (certs.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.indexOfID(id)
	if index < 0 {
		return certs.Certificate{}, cierrors.ErrCertificateNotFound
	}
	updated := s.certificates[index]
	patch.Apply(&updated, updatedAt)
	if err := s.checkTeam(updated.RenewingTeamID); err != nil {
		return certs.Certificate{}, err
	}
	if s.indexOfKey(updated.CertificateIdentifier, updated.RenewingTeamID, id) >= 0 {
		return certs.Certificate{}, cierrors.ErrDuplicate
	}
	s.certificates[index] = updated
	return updated, nil
}

func (s *Store) DeleteCertificate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.indexOfID(id)
	if index < 0 {
		return cierrors.ErrCertificateNotFound
	}
	s.certificates = append(s.certificates[:index], s.certificates[index+1:]...)
	return nil
}

func (s *Store) ListCertificates(_ context.Context) ([]certs.CertificateWithTeam, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]certs.CertificateWithTeam, 0, len(s.certificates))
	for _, cert := range s.certificates {
		row := certs.CertificateWithTeam{Certificate: cert}
		if cert.RenewingTeamID != nil {
			if team, ok := s.teams[*cert.RenewingTeamID]; ok {
				row.RenewingTeam = &team
			}
		}
		result = append(result, row)
	}
	sort.SliceStable(result, func(left, right int) bool {
		return result[left].CreatedAt.After(result[right].CreatedAt)
	})
	return result, nil
}

func (s *Store) CreateTeam(_ context.Context, team certs.Team) (certs.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.teams {
		if existing.TeamName == team.TeamName {
			return certs.Team{}, cierrors.ErrDuplicate
		}
	}
	if team.Applications == nil {
		team.Applications = certs.EmptyJSONList
	}
	s.teams[team.ID] = team
	return team, nil
}

func (s *Store) GetTeam(_ context.Context, id string) (certs.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	team, ok := s.teams[id]
	if !ok {
		return certs.Team{}, cierrors.ErrTeamNotFound
	}
	return team, nil
}

func (s *Store) FindTeamByName(_ context.Context, name string) (certs.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, team := range s.teams {
		if team.TeamName == name {
			return team, nil
		}
	}
	return certs.Team{}, cierrors.ErrTeamNotFound
}

func (s *Store) ListTeams(_ context.Context) ([]certs.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]certs.Team, 0, len(s.teams))
	for _, team := range s.teams {
		result = append(result, team)
	}
	sort.Slice(result, func(left, right int) bool {
		return result[left].TeamName < result[right].TeamName
	})
	return result, nil
}

// checkTeam must be called with the lock held.
func (s *Store) checkTeam(teamID *string) error {
	if teamID == nil {
		return nil
	}
	if _, ok := s.teams[*teamID]; !ok {
		return cierrors.ErrForeignKey
	}
	return nil
}

// indexOfKey finds the row holding (identifier, teamID), skipping exceptID.
// A nil team matches a nil team, like a NULLS NOT DISTINCT index.
func (s *Store) indexOfKey(identifier string, teamID *string, exceptID string) int {
	for index, cert := range s.certificates {
		if cert.ID == exceptID && exceptID != "" {
			continue
		}
		if cert.CertificateIdentifier != identifier {
			continue
		}
		if certs.Deref(cert.RenewingTeamID) == certs.Deref(teamID) && (cert.RenewingTeamID == nil) == (teamID == nil) {
			return index
		}
	}
	return -1
}

func (s *Store) indexOfID(id string) int {
	for index, cert := range s.certificates {
		if cert.ID == id {
			return index
		}
	}
	return -1
}
