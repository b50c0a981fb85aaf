package certs

import (
	"encoding/json"
	"time"
)

// ExternalRecord is one certificate as returned by the upstream directory.
// Internal and audit fields are never read from upstream.
type ExternalRecord struct {
	CertificateIdentifier string          `json:"certificateIdentifier"`
	CommonName            *string         `json:"commonName,omitempty"`
	CertificateStatus     *string         `json:"certificateStatus,omitempty"`
	CertificatePurpose    *string         `json:"certificatePurpose,omitempty"`
	CurrentCert           *bool           `json:"currentCert,omitempty"`
	Environment           *string         `json:"environment,omitempty"`
	SerialNumber          *string         `json:"serialNumber,omitempty"`
	ValidFrom             *string         `json:"validFrom,omitempty"`
	ValidTo               *string         `json:"validTo,omitempty"`
	SubjectAlternateNames *string         `json:"subjectAlternateNames,omitempty"`
	ZeroTouch             *bool           `json:"zeroTouch,omitempty"`
	IssuerCertAuthName    *string         `json:"issuerCertAuthName,omitempty"`
	HostingTeamName       *string         `json:"hostingTeamName,omitempty"`
	IdaasIntegrationID    *string         `json:"idaasIntegrationId,omitempty"`
	IsAmexCert            *bool           `json:"isAmexCert,omitempty"`
	CertType              *string         `json:"certType,omitempty"`
	AcknowledgedBy        *string         `json:"acknowledgedBy,omitempty"`
	CentralID             *string         `json:"centralID,omitempty"`
	ApplicationName       *string         `json:"applicationName,omitempty"`
	Comment               *string         `json:"comment,omitempty"`
	ChangeNumber          *string         `json:"changeNumber,omitempty"`
	ServerName            *string         `json:"serverName,omitempty"`
	KeystorePath          *string         `json:"keystorePath,omitempty"`
	URI                   *string         `json:"uri,omitempty"`
	RevokeRequestID       *string         `json:"revokeRequestId,omitempty"`
	RevokeDate            *string         `json:"revokeDate,omitempty"`
	RequestID             *string         `json:"requestId,omitempty"`
	RequestedByUser       *string         `json:"requestedByUser,omitempty"`
	RequestedForUser      *string         `json:"requestedForUser,omitempty"`
	ApprovedByUser        *string         `json:"approvedByUser,omitempty"`
	RequestChannelName    *string         `json:"requestChannelName,omitempty"`
	CertNotifications     json.RawMessage `json:"certNotifications,omitempty"`
	Devices               []any           `json:"devices,omitempty"`
	AgentVaultCerts       json.RawMessage `json:"agentVaultCerts,omitempty"`
	TAClientName          *string         `json:"taClientName,omitempty"`
	ApplicationID         *string         `json:"applicationId,omitempty"`
	RenewedBy             *string         `json:"renewedBy,omitempty"`
}

// ToCertificate converts a fetched record into a row ready for upsert. The
// device list is serialised and the audit fields are stamped.
func (r ExternalRecord) ToCertificate(actor string, now time.Time) (Certificate, error) {
	devices := EmptyJSONList
	if r.Devices != nil {
		encoded, err := json.Marshal(r.Devices)
		if err != nil {
			return Certificate{}, err
		}
		devices = encoded
	}
	createdBy := actor
	return Certificate{
		CertificateIdentifier: r.CertificateIdentifier,
		CommonName:            r.CommonName,
		CertificateStatus:     r.CertificateStatus,
		CertificatePurpose:    r.CertificatePurpose,
		CurrentCert:           r.CurrentCert,
		Environment:           r.Environment,
		SerialNumber:          r.SerialNumber,
		ValidFrom:             r.ValidFrom,
		ValidTo:               r.ValidTo,
		SubjectAlternateNames: r.SubjectAlternateNames,
		ZeroTouch:             r.ZeroTouch,
		IssuerCertAuthName:    r.IssuerCertAuthName,
		HostingTeamName:       r.HostingTeamName,
		IdaasIntegrationID:    r.IdaasIntegrationID,
		IsAmexCert:            r.IsAmexCert,
		CertType:              r.CertType,
		AcknowledgedBy:        r.AcknowledgedBy,
		CentralID:             r.CentralID,
		ApplicationName:       r.ApplicationName,
		Comment:               r.Comment,
		ChangeNumber:          r.ChangeNumber,
		ServerName:            r.ServerName,
		KeystorePath:          r.KeystorePath,
		URI:                   r.URI,
		RevokeRequestID:       r.RevokeRequestID,
		RevokeDate:            r.RevokeDate,
		RequestID:             r.RequestID,
		RequestedByUser:       r.RequestedByUser,
		RequestedForUser:      r.RequestedForUser,
		ApprovedByUser:        r.ApprovedByUser,
		RequestChannelName:    r.RequestChannelName,
		CertNotifications:     r.CertNotifications,
		Devices:               devices,
		AgentVaultCerts:       r.AgentVaultCerts,
		TAClientName:          r.TAClientName,
		ApplicationID:         r.ApplicationID,
		CreatedAt:             now,
		UpdatedAt:             now,
		CreatedBy:             &createdBy,
		RenewedBy:             r.RenewedBy,
	}, nil
}
