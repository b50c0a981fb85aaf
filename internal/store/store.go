package store

import (
	"context"
	"time"

	"certinv/internal/certs"
)

// Store is the record store for certificates and the team registry.
//
// Implementations report a (certificateIdentifier, renewingTeamId) clash as
// errors.ErrDuplicate, a dangling team reference as errors.ErrForeignKey and
// a missing row as errors.ErrCertificateNotFound or errors.ErrTeamNotFound.
type Store interface {
	Ping(ctx context.Context) error

	SearchCertificates(ctx context.Context, filter certs.Filter) ([]certs.Certificate, error)
	// UpsertCertificate inserts cert or, when a row with the same identifier
	// and team exists, overwrites every field except id, createdAt and createdBy.
	UpsertCertificate(ctx context.Context, cert certs.Certificate) error
	InsertCertificate(ctx context.Context, cert certs.Certificate) (certs.Certificate, error)
	GetCertificate(ctx context.Context, id string) (certs.Certificate, error)
	UpdateCertificate(ctx context.Context, id string, patch certs.CertificatePatch, updatedAt time.Time) (certs.Certificate, error)
	DeleteCertificate(ctx context.Context, id string) error
	ListCertificates(ctx context.Context) ([]certs.CertificateWithTeam, error)

	CreateTeam(ctx context.Context, team certs.Team) (certs.Team, error)
	GetTeam(ctx context.Context, id string) (certs.Team, error)
	FindTeamByName(ctx context.Context, name string) (certs.Team, error)
	ListTeams(ctx context.Context) ([]certs.Team, error)
}
