package certs

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExternalRecord_ToCertificate(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	record := ExternalRecord{
		CertificateIdentifier: "cert-1",
		CommonName:            StringPtr("example.com"),
		SerialNumber:          StringPtr("12345"),
		Devices:               []any{map[string]any{"host": "web-1"}},
	}

	cert, err := record.ToCertificate("alice@example.com", now)
	require.NoError(t, err)
	assert.Equal(t, "cert-1", cert.CertificateIdentifier)
	assert.Equal(t, "example.com", Deref(cert.CommonName))
	assert.JSONEq(t, `[{"host":"web-1"}]`, string(cert.Devices))
	assert.Equal(t, now, cert.CreatedAt)
	assert.Equal(t, now, cert.UpdatedAt)
	assert.Equal(t, "alice@example.com", Deref(cert.CreatedBy))
	assert.Nil(t, cert.RenewingTeamID)
}

func TestExternalRecord_ToCertificate_NoDevices(t *testing.T) {
	cert, err := ExternalRecord{CertificateIdentifier: "cert-2"}.ToCertificate(UnknownActor, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "[]", string(cert.Devices))
	assert.Equal(t, UnknownActor, Deref(cert.CreatedBy))
}

func TestCertificateInput_NewCertificate(t *testing.T) {
	now := time.Now().UTC()
	input := CertificateInput{
		CertificateIdentifier: "cert-3",
		RenewingTeamID:        "4f7d0f3c-8f58-4b8c-9d36-2c1f6e1f7a10",
		CertNotifications:     json.RawMessage(`null`),
	}
	cert := input.NewCertificate("id-1", "bob@example.com", now)
	assert.Equal(t, "id-1", cert.ID)
	assert.Equal(t, "[]", string(cert.Devices))
	assert.Nil(t, cert.CertNotifications)
	require.NotNil(t, cert.RenewingTeamID)
	assert.Equal(t, input.RenewingTeamID, *cert.RenewingTeamID)
	assert.Equal(t, "bob@example.com", Deref(cert.CreatedBy))
}

func TestCertificatePatch_Apply(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	updated := created.Add(time.Hour)
	cert := Certificate{
		ID:                    "id-1",
		CertificateIdentifier: "cert-1",
		CommonName:            StringPtr("old.example.com"),
		Environment:           StringPtr("prod"),
		Devices:               EmptyJSONList,
		CreatedAt:             created,
		UpdatedAt:             created,
	}
	patch := CertificatePatch{
		CommonName: StringPtr("new.example.com"),
		RenewedBy:  StringPtr("carol@example.com"),
		Devices:    json.RawMessage(`null`),
	}

	patch.Apply(&cert, updated)

	assert.Equal(t, "new.example.com", Deref(cert.CommonName))
	assert.Equal(t, "prod", Deref(cert.Environment))
	assert.Equal(t, "carol@example.com", Deref(cert.RenewedBy))
	assert.Equal(t, "[]", string(cert.Devices))
	assert.Equal(t, created, cert.CreatedAt)
	assert.Equal(t, updated, cert.UpdatedAt)
}

func TestTeamInput_NewTeam(t *testing.T) {
	team, err := TeamInput{TeamName: "payments", Applications: []string{"checkout", "ledger"}}.NewTeam("team-1")
	require.NoError(t, err)
	assert.Equal(t, "team-1", team.ID)
	assert.JSONEq(t, `["checkout","ledger"]`, string(team.Applications))

	empty, err := TeamInput{TeamName: "ops"}.NewTeam("team-2")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(empty.Applications))
}
