package certs

import (
	"encoding/json"
	"time"
)

const (
	StatusIssued  = "Issued"
	StatusPending = "Pending"
	StatusRevoked = "Revoked"
)

// UnknownActor is recorded as creator when no identity can be resolved.
const UnknownActor = "unknown"

// Certificate is one stored certificate row.
type Certificate struct {
	ID                    string          `json:"id"`
	CertificateIdentifier string          `json:"certificateIdentifier"`
	RenewingTeamID        *string         `json:"renewingTeamId"`
	CommonName            *string         `json:"commonName"`
	CertificateStatus     *string         `json:"certificateStatus"`
	CertificatePurpose    *string         `json:"certificatePurpose"`
	CurrentCert           *bool           `json:"currentCert"`
	Environment           *string         `json:"environment"`
	SerialNumber          *string         `json:"serialNumber"`
	ValidFrom             *string         `json:"validFrom"`
	ValidTo               *string         `json:"validTo"`
	SubjectAlternateNames *string         `json:"subjectAlternateNames"`
	ZeroTouch             *bool           `json:"zeroTouch"`
	IssuerCertAuthName    *string         `json:"issuerCertAuthName"`
	HostingTeamName       *string         `json:"hostingTeamName"`
	IdaasIntegrationID    *string         `json:"idaasIntegrationId"`
	IsAmexCert            *bool           `json:"isAmexCert"`
	CertType              *string         `json:"certType"`
	AcknowledgedBy        *string         `json:"acknowledgedBy"`
	CentralID             *string         `json:"centralID"`
	ApplicationName       *string         `json:"applicationName"`
	Comment               *string         `json:"comment"`
	ChangeNumber          *string         `json:"changeNumber"`
	ServerName            *string         `json:"serverName"`
	KeystorePath          *string         `json:"keystorePath"`
	URI                   *string         `json:"uri"`
	RevokeRequestID       *string         `json:"revokeRequestId"`
	RevokeDate            *string         `json:"revokeDate"`
	RequestID             *string         `json:"requestId"`
	RequestedByUser       *string         `json:"requestedByUser"`
	RequestedForUser      *string         `json:"requestedForUser"`
	ApprovedByUser        *string         `json:"approvedByUser"`
	RequestChannelName    *string         `json:"requestChannelName"`
	CertNotifications     json.RawMessage `json:"certNotifications"`
	Devices               json.RawMessage `json:"devices"`
	AgentVaultCerts       json.RawMessage `json:"agentVaultCerts"`
	TAClientName          *string         `json:"taClientName"`
	ApplicationID         *string         `json:"applicationId"`
	CreatedAt             time.Time       `json:"createdAt"`
	UpdatedAt             time.Time       `json:"updatedAt"`
	CreatedBy             *string         `json:"createdBy"`
	RenewedBy             *string         `json:"renewedBy"`
}

// CertificateWithTeam is a listing row with its renewing team embedded.
type CertificateWithTeam struct {
	Certificate
	RenewingTeam *Team `json:"renewingTeam"`
}

// Team owns and renews certificates.
type Team struct {
	ID           string          `json:"id"`
	TeamName     string          `json:"teamName"`
	Escalation   *string         `json:"escalation"`
	Alert1       *string         `json:"alert1"`
	Alert2       *string         `json:"alert2"`
	Alert3       *string         `json:"alert3"`
	SnowGroup    *string         `json:"snowGroup"`
	PRCGroup     *string         `json:"prcGroup"`
	Applications json.RawMessage `json:"applications"`
}

// Query selects certificates by common name and/or serial number. IsAmexCert
// switches the search to the external directory.
type Query struct {
	CommonName   string `json:"commonName"`
	SerialNumber string `json:"serialNumber"`
	IsAmexCert   bool   `json:"isAmexCert"`
}

// Filter is the local store filter built from a Query.
type Filter struct {
	CommonName   string
	SerialNumber string
}

func (f Filter) IsEmpty() bool {
	return f.CommonName == "" && f.SerialNumber == ""
}

// EmptyJSONList is the stored form of an absent device or application list.
var EmptyJSONList = json.RawMessage(`[]`)

// StringPtr returns a pointer to value, or nil when value is empty.
func StringPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func BoolPtr(value bool) *bool {
	return &value
}

// Deref returns the pointed-to string or "".
func Deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
