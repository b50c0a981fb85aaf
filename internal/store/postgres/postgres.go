// Package postgres is the PostgreSQL-backed record store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"certinv/internal/certs"
	cierrors "certinv/internal/errors"
)

// DB is the subset of pgx used by the store.
// *pgxpool.Pool satisfies this interface.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

type Store struct {
	db DB
}

func New(db DB) *Store {
	return &Store{db: db}
}

// NewPool opens and verifies a connection pool.
func NewPool(ctx context.Context, databaseURL string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Postgres SQLSTATE codes.
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return cierrors.ErrDuplicate
		case foreignKeyViolation:
			return cierrors.ErrForeignKey
		}
	}
	return err
}

var certificateColumnList = []string{
	"id", "certificate_identifier", "renewing_team_id", "common_name", "certificate_status",
	"certificate_purpose", "current_cert", "environment", "serial_number", "valid_from",
	"valid_to", "subject_alternate_names", "zero_touch", "issuer_cert_auth_name", "hosting_team_name",
	"idaas_integration_id", "is_amex_cert", "cert_type", "acknowledged_by", "central_id",
	"application_name", "comment", "change_number", "server_name", "keystore_path",
	"uri", "revoke_request_id", "revoke_date", "request_id", "requested_by_user",
	"requested_for_user", "approved_by_user", "request_channel_name", "cert_notifications", "devices",
	"agent_vault_certs", "ta_client_name", "application_id", "created_at", "updated_at",
	"created_by", "renewed_by",
}

// Columns an upsert never overwrites.
var upsertPreserved = map[string]bool{"id": true, "created_at": true, "created_by": true}

var (
	certificateColumns = strings.Join(certificateColumnList, ", ")
	insertCertificate  = `INSERT INTO certificates (` + certificateColumns + `) VALUES (` + placeholders(len(certificateColumnList)) + `)`
	upsertCertificate  = insertCertificate + ` ON CONFLICT (certificate_identifier, renewing_team_id) DO UPDATE SET ` + upsertAssignments()
)

func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(parts, ", ")
}

func upsertAssignments() string {
	parts := make([]string, 0, len(certificateColumnList))
	for _, column := range certificateColumnList {
		if upsertPreserved[column] {
			continue
		}
		parts = append(parts, column+" = EXCLUDED."+column)
	}
	return strings.Join(parts, ", ")
}

func qualified(prefix string) string {
	parts := make([]string, len(certificateColumnList))
	for i, column := range certificateColumnList {
		parts[i] = prefix + "." + column
	}
	return strings.Join(parts, ", ")
}

// jsonArg passes raw JSON to a jsonb parameter, keeping SQL NULL for absent values.
func jsonArg(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func certificateArgs(c certs.Certificate) []any {
	return []any{
		c.ID, c.CertificateIdentifier, c.RenewingTeamID, c.CommonName, c.CertificateStatus,
		c.CertificatePurpose, c.CurrentCert, c.Environment, c.SerialNumber, c.ValidFrom,
		c.ValidTo, c.SubjectAlternateNames, c.ZeroTouch, c.IssuerCertAuthName, c.HostingTeamName,
		c.IdaasIntegrationID, c.IsAmexCert, c.CertType, c.AcknowledgedBy, c.CentralID,
		c.ApplicationName, c.Comment, c.ChangeNumber, c.ServerName, c.KeystorePath,
		c.URI, c.RevokeRequestID, c.RevokeDate, c.RequestID, c.RequestedByUser,
		c.RequestedForUser, c.ApprovedByUser, c.RequestChannelName, jsonArg(c.CertNotifications), jsonArg(c.Devices),
		jsonArg(c.AgentVaultCerts), c.TAClientName, c.ApplicationID, c.CreatedAt, c.UpdatedAt,
		c.CreatedBy, c.RenewedBy,
	}
}

// certificateDest returns scan targets in column order. The jsonb columns are
// scanned into the returned byte slices and copied in by finish.
func certificateDest(c *certs.Certificate) (dest []any, finish func()) {
	var notifications, devices, agentVaultCerts []byte
	dest = []any{
		&c.ID, &c.CertificateIdentifier, &c.RenewingTeamID, &c.CommonName, &c.CertificateStatus,
		&c.CertificatePurpose, &c.CurrentCert, &c.Environment, &c.SerialNumber, &c.ValidFrom,
		&c.ValidTo, &c.SubjectAlternateNames, &c.ZeroTouch, &c.IssuerCertAuthName, &c.HostingTeamName,
		&c.IdaasIntegrationID, &c.IsAmexCert, &c.CertType, &c.AcknowledgedBy, &c.CentralID,
		&c.ApplicationName, &c.Comment, &c.ChangeNumber, &c.ServerName, &c.KeystorePath,
		&c.URI, &c.RevokeRequestID, &c.RevokeDate, &c.RequestID, &c.RequestedByUser,
		&c.RequestedForUser, &c.ApprovedByUser, &c.RequestChannelName, &notifications, &devices,
		&agentVaultCerts, &c.TAClientName, &c.ApplicationID, &c.CreatedAt, &c.UpdatedAt,
		&c.CreatedBy, &c.RenewedBy,
	}
	finish = func() {
		c.CertNotifications = notifications
		c.Devices = devices
		if len(c.Devices) == 0 {
			c.Devices = certs.EmptyJSONList
		}
		c.AgentVaultCerts = agentVaultCerts
	}
	return dest, finish
}

func scanCertificate(row interface{ Scan(dest ...any) error }) (certs.Certificate, error) {
	var c certs.Certificate
	dest, finish := certificateDest(&c)
	if err := row.Scan(dest...); err != nil {
		return c, err
	}
	finish()
	return c, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// escapeLike quotes the LIKE metacharacters so user input matches literally.
func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}

func (s *Store) SearchCertificates(ctx context.Context, filter certs.Filter) ([]certs.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates`
	var conditions []string
	var args []any
	if filter.CommonName != "" {
		args = append(args, "%"+escapeLike(filter.CommonName)+"%")
		conditions = append(conditions, fmt.Sprintf(`common_name LIKE $%d ESCAPE '\'`, len(args)))
	}
	if filter.SerialNumber != "" {
		args = append(args, filter.SerialNumber)
		conditions = append(conditions, fmt.Sprintf(`serial_number = $%d`, len(args)))
	}
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search certificates: %w", err)
	}
	defer rows.Close()

	result := make([]certs.Certificate, 0)
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan certificate: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate certificates: %w", err)
	}
	return result, nil
}

func (s *Store) UpsertCertificate(ctx context.Context, cert certs.Certificate) error {
	if _, err := s.db.Exec(ctx, upsertCertificate, certificateArgs(cert)...); err != nil {
		return fmt.Errorf("upsert certificate %s: %w", cert.CertificateIdentifier, mapError(err))
	}
	return nil
}

func (s *Store) InsertCertificate(ctx context.Context, cert certs.Certificate) (certs.Certificate, error) {
	row := s.db.QueryRow(ctx, insertCertificate+` RETURNING `+certificateColumns, certificateArgs(cert)...)
	inserted, err := scanCertificate(row)
	if err != nil {
		return certs.Certificate{}, fmt.Errorf("insert certificate: %w", mapError(err))
	}
	return inserted, nil
}

func (s *Store) GetCertificate(ctx context.Context, id string) (certs.Certificate, error) {
	row := s.db.QueryRow(ctx, `SELECT `+certificateColumns+` FROM certificates WHERE id = $1`, id)
	c, err := scanCertificate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return certs.Certificate{}, cierrors.ErrCertificateNotFound
	}
	if err != nil {
		return certs.Certificate{}, fmt.Errorf("get certificate %s: %w", id, err)
	}
	return c, nil
}

// patchColumns lists the columns a patch may touch, paired with its values.
func patchColumns(p certs.CertificatePatch) ([]string, []any) {
	columns := []string{
		"certificate_identifier", "renewing_team_id", "common_name", "certificate_status", "certificate_purpose",
		"current_cert", "environment", "serial_number", "valid_from", "valid_to",
		"subject_alternate_names", "zero_touch", "issuer_cert_auth_name", "hosting_team_name", "idaas_integration_id",
		"is_amex_cert", "cert_type", "acknowledged_by", "central_id", "application_name",
		"comment", "change_number", "server_name", "keystore_path", "uri",
		"revoke_request_id", "revoke_date", "request_id", "requested_by_user", "requested_for_user",
		"approved_by_user", "request_channel_name", "cert_notifications", "devices", "agent_vault_certs",
		"ta_client_name", "application_id", "renewed_by",
	}
	values := []any{
		p.CertificateIdentifier, p.RenewingTeamID, p.CommonName, p.CertificateStatus, p.CertificatePurpose,
		p.CurrentCert, p.Environment, p.SerialNumber, p.ValidFrom, p.ValidTo,
		p.SubjectAlternateNames, p.ZeroTouch, p.IssuerCertAuthName, p.HostingTeamName, p.IdaasIntegrationID,
		p.IsAmexCert, p.CertType, p.AcknowledgedBy, p.CentralID, p.ApplicationName,
		p.Comment, p.ChangeNumber, p.ServerName, p.KeystorePath, p.URI,
		p.RevokeRequestID, p.RevokeDate, p.RequestID, p.RequestedByUser, p.RequestedForUser,
		p.ApprovedByUser, p.RequestChannelName, jsonArg(nullJSON(p.CertNotifications)), jsonArg(p.NormalizedDevices()), jsonArg(nullJSON(p.AgentVaultCerts)),
		p.TAClientName, p.ApplicationID, p.RenewedBy,
	}
	return columns, values
}

func nullJSON(raw []byte) []byte {
	if string(raw) == "null" {
		return nil
	}
	return raw
}

func (s *Store) UpdateCertificate(ctx context.Context, id string, patch certs.CertificatePatch, updatedAt time.Time) (certs.Certificate, error) {
	columns, values := patchColumns(patch)
	args := append([]any{id, updatedAt}, values...)
	assignments := make([]string, 0, len(columns)+1)
	assignments = append(assignments, "updated_at = $2")
	for i, column := range columns {
		assignments = append(assignments, fmt.Sprintf("%s = COALESCE($%d, %s)", column, i+3, column))
	}
	query := `UPDATE certificates SET ` + strings.Join(assignments, ", ") + ` WHERE id = $1 RETURNING ` + certificateColumns

	updated, err := scanCertificate(s.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return certs.Certificate{}, cierrors.ErrCertificateNotFound
	}
	if err != nil {
		return certs.Certificate{}, fmt.Errorf("update certificate %s: %w", id, mapError(err))
	}
	return updated, nil
}

func (s *Store) DeleteCertificate(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM certificates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete certificate %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return cierrors.ErrCertificateNotFound
	}
	return nil
}

func (s *Store) ListCertificates(ctx context.Context) ([]certs.CertificateWithTeam, error) {
	query := `SELECT ` + qualified("c") + `, ` + qualifiedTeam("t") + `
		FROM certificates c
		LEFT JOIN teams t ON t.id = c.renewing_team_id
		ORDER BY c.created_at DESC`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	defer rows.Close()

	result := make([]certs.CertificateWithTeam, 0)
	for rows.Next() {
		var row certs.CertificateWithTeam
		certDest, finish := certificateDest(&row.Certificate)
		var team nullableTeam
		if err := rows.Scan(append(certDest, team.dest()...)...); err != nil {
			return nil, fmt.Errorf("scan certificate: %w", err)
		}
		finish()
		row.RenewingTeam = team.team()
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate certificates: %w", err)
	}
	return result, nil
}
