// Package inventory reconciles the certificate inventory with the external
// directory and exposes the record and team operations used by the API.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"certinv/internal/auth"
	"certinv/internal/certs"
	"certinv/internal/directory"
	cierrors "certinv/internal/errors"
	"certinv/internal/logger"
	"certinv/internal/store"
	"certinv/internal/validation"
)

const (
	duplicateCertificateMessage = "Certificate already exists for this team"
	unknownTeamMessage          = "Renewing team does not exist"
	duplicateTeamMessage        = "Team name already exists"
)

type Service struct {
	store     store.Store
	directory directory.Client
	notifier  Notifier
	now       func() time.Time
	newID     func() string
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// New wires a service. A nil notifier discards changes.
func New(st store.Store, dir directory.Client, notifier Notifier, opts ...Option) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	s := &Service{
		store:     st,
		directory: dir,
		notifier:  notifier,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func actorOf(identity *auth.Identity) string {
	if identity == nil || identity.Email == "" {
		return certs.UnknownActor
	}
	return identity.Email
}

func requireIdentity(identity *auth.Identity) error {
	if identity == nil {
		return cierrors.ErrUnauthorized
	}
	return nil
}

// storageError logs err and classifies it as a storage failure unless it is
// already one of the domain errors callers branch on.
func storageError(operation string, err error) error {
	if errors.Is(err, cierrors.ErrNotFound) {
		return err
	}
	logger.StoreError(operation, err).Msg("store operation failed")
	return fmt.Errorf("%w: %s: %v", cierrors.ErrStorage, operation, err)
}

// constraintError turns key violations into field validation errors.
func constraintError(operation string, err error) error {
	switch {
	case errors.Is(err, cierrors.ErrDuplicate):
		return cierrors.NewValidationError("certificateIdentifier", duplicateCertificateMessage)
	case errors.Is(err, cierrors.ErrForeignKey):
		return cierrors.NewValidationError("renewingTeamId", unknownTeamMessage)
	default:
		return storageError(operation, err)
	}
}

// certificateID trims id and rejects values that cannot name a row.
func certificateID(id string) (string, error) {
	trimmed, err := validation.RequireID(id)
	if err != nil {
		return "", err
	}
	if uuid.Validate(trimmed) != nil {
		return "", cierrors.ErrCertificateNotFound
	}
	return trimmed, nil
}

// Search looks certificates up locally or, when q.IsAmexCert is set, in the
// external directory, upserting every fetched record before returning it.
// A partially applied refresh is not rolled back.
func (s *Service) Search(ctx context.Context, identity *auth.Identity, q certs.Query) (Results, error) {
	q.CommonName = strings.TrimSpace(q.CommonName)
	q.SerialNumber = strings.TrimSpace(q.SerialNumber)
	if q.CommonName == "" && q.SerialNumber == "" {
		return Results{}, cierrors.ErrMissingSearchParams
	}

	if !q.IsAmexCert {
		rows, err := s.store.SearchCertificates(ctx, certs.Filter{CommonName: q.CommonName, SerialNumber: q.SerialNumber})
		if err != nil {
			return Results{}, storageError("search_certificates", err)
		}
		s.notifier.Notify(ctx, Change{Entity: EntityCertificate, Op: OpRefreshed})
		return Results{Mode: ModeLocal, Stored: rows}, nil
	}

	records, err := s.directory.Search(ctx, q)
	if err != nil {
		if !errors.Is(err, cierrors.ErrUpstream) && !errors.Is(err, cierrors.ErrDirectoryNotConfigured) {
			err = fmt.Errorf("%w: %v", cierrors.ErrUpstream, err)
		}
		return Results{}, err
	}

	actor := actorOf(identity)
	now := s.now()
	identifiers := make([]string, 0, len(records))
	for _, record := range records {
		row, err := record.ToCertificate(actor, now)
		if err != nil {
			return Results{}, fmt.Errorf("%w: record %s: %v", cierrors.ErrUpstream, record.CertificateIdentifier, err)
		}
		row.ID = s.newID()
		if err := s.store.UpsertCertificate(ctx, row); err != nil {
			return Results{}, storageError("upsert_certificate", err)
		}
		identifiers = append(identifiers, record.CertificateIdentifier)
	}

	logger.InventoryEvent("refresh", actor).Int("records", len(records)).Msg("Certificates refreshed from directory")
	s.notifier.Notify(ctx, Change{Entity: EntityCertificate, Op: OpRefreshed, IDs: identifiers})
	return Results{Mode: ModeExternal, Fetched: records}, nil
}

func (s *Service) Create(ctx context.Context, identity *auth.Identity, input certs.CertificateInput) (certs.Certificate, error) {
	if err := requireIdentity(identity); err != nil {
		return certs.Certificate{}, err
	}
	if err := validation.Struct(input); err != nil {
		return certs.Certificate{}, err
	}

	row := input.NewCertificate(s.newID(), identity.Email, s.now())
	created, err := s.store.InsertCertificate(ctx, row)
	if err != nil {
		return certs.Certificate{}, constraintError("insert_certificate", err)
	}

	logger.InventoryEvent("create", identity.Email).Str("certificate_id", created.ID).Msg("Certificate created")
	s.notifier.Notify(ctx, Change{Entity: EntityCertificate, Op: OpCreated, IDs: []string{created.ID}})
	return created, nil
}

// Update applies the non-nil fields of patch. An unknown id is reported as
// errors.ErrNotFound.
func (s *Service) Update(ctx context.Context, identity *auth.Identity, id string, patch certs.CertificatePatch) (certs.Certificate, error) {
	if err := requireIdentity(identity); err != nil {
		return certs.Certificate{}, err
	}
	id, err := certificateID(id)
	if err != nil {
		return certs.Certificate{}, err
	}
	if err := validation.Struct(patch); err != nil {
		return certs.Certificate{}, err
	}

	updated, err := s.store.UpdateCertificate(ctx, id, patch, s.now())
	if err != nil {
		return certs.Certificate{}, constraintError("update_certificate", err)
	}

	logger.InventoryEvent("update", identity.Email).Str("certificate_id", id).Msg("Certificate updated")
	s.notifier.Notify(ctx, Change{Entity: EntityCertificate, Op: OpUpdated, IDs: []string{id}})
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, identity *auth.Identity, id string) error {
	if err := requireIdentity(identity); err != nil {
		return err
	}
	id, err := certificateID(id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteCertificate(ctx, id); err != nil {
		return storageError("delete_certificate", err)
	}

	logger.InventoryEvent("delete", identity.Email).Str("certificate_id", id).Msg("Certificate deleted")
	s.notifier.Notify(ctx, Change{Entity: EntityCertificate, Op: OpDeleted, IDs: []string{id}})
	return nil
}

// List returns every certificate with its renewing team, newest first.
func (s *Service) List(ctx context.Context, identity *auth.Identity) ([]certs.CertificateWithTeam, error) {
	if err := requireIdentity(identity); err != nil {
		return nil, err
	}
	rows, err := s.store.ListCertificates(ctx)
	if err != nil {
		return nil, storageError("list_certificates", err)
	}
	return rows, nil
}
