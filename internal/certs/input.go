package certs

import (
	"encoding/json"
	"time"
)

// CertificateInput is the create payload: the record shape minus the
// server-assigned id and audit fields.
type CertificateInput struct {
	CertificateIdentifier string          `json:"certificateIdentifier" validate:"required,max=512"`
	RenewingTeamID        string          `json:"renewingTeamId" validate:"required,uuid"`
	CommonName            *string         `json:"commonName" validate:"omitnil,max=512"`
	CertificateStatus     *string         `json:"certificateStatus" validate:"omitnil,max=64"`
	CertificatePurpose    *string         `json:"certificatePurpose" validate:"omitnil,max=128"`
	CurrentCert           *bool           `json:"currentCert"`
	Environment           *string         `json:"environment" validate:"omitnil,max=64"`
	SerialNumber          *string         `json:"serialNumber" validate:"omitnil,max=128"`
	ValidFrom             *string         `json:"validFrom"`
	ValidTo               *string         `json:"validTo"`
	SubjectAlternateNames *string         `json:"subjectAlternateNames"`
	ZeroTouch             *bool           `json:"zeroTouch"`
	IssuerCertAuthName    *string         `json:"issuerCertAuthName" validate:"omitnil,max=256"`
	HostingTeamName       *string         `json:"hostingTeamName" validate:"omitnil,max=128"`
	IdaasIntegrationID    *string         `json:"idaasIntegrationId" validate:"omitnil,max=64"`
	IsAmexCert            *bool           `json:"isAmexCert"`
	CertType              *string         `json:"certType" validate:"omitnil,max=64"`
	AcknowledgedBy        *string         `json:"acknowledgedBy" validate:"omitnil,max=128"`
	CentralID             *string         `json:"centralID" validate:"omitnil,max=64"`
	ApplicationName       *string         `json:"applicationName" validate:"omitnil,max=128"`
	Comment               *string         `json:"comment"`
	ChangeNumber          *string         `json:"changeNumber" validate:"omitnil,max=64"`
	ServerName            *string         `json:"serverName" validate:"omitnil,max=128"`
	KeystorePath          *string         `json:"keystorePath"`
	URI                   *string         `json:"uri"`
	RevokeRequestID       *string         `json:"revokeRequestId" validate:"omitnil,max=64"`
	RevokeDate            *string         `json:"revokeDate"`
	RequestID             *string         `json:"requestId" validate:"omitnil,max=64"`
	RequestedByUser       *string         `json:"requestedByUser" validate:"omitnil,max=256"`
	RequestedForUser      *string         `json:"requestedForUser" validate:"omitnil,max=256"`
	ApprovedByUser        *string         `json:"approvedByUser" validate:"omitnil,max=256"`
	RequestChannelName    *string         `json:"requestChannelName" validate:"omitnil,max=128"`
	CertNotifications     json.RawMessage `json:"certNotifications"`
	Devices               json.RawMessage `json:"devices"`
	AgentVaultCerts       json.RawMessage `json:"agentVaultCerts"`
	TAClientName          *string         `json:"taClientName" validate:"omitnil,max=64"`
	ApplicationID         *string         `json:"applicationId" validate:"omitnil,max=64"`
	RenewedBy             *string         `json:"renewedBy" validate:"omitnil,max=256"`
}

// NewCertificate builds the row inserted for in.
func (in CertificateInput) NewCertificate(id string, actor string, now time.Time) Certificate {
	devices := in.Devices
	if len(devices) == 0 || string(devices) == "null" {
		devices = EmptyJSONList
	}
	teamID := in.RenewingTeamID
	createdBy := actor
	return Certificate{
		ID:                    id,
		CertificateIdentifier: in.CertificateIdentifier,
		RenewingTeamID:        &teamID,
		CommonName:            in.CommonName,
		CertificateStatus:     in.CertificateStatus,
		CertificatePurpose:    in.CertificatePurpose,
		CurrentCert:           in.CurrentCert,
		Environment:           in.Environment,
		SerialNumber:          in.SerialNumber,
		ValidFrom:             in.ValidFrom,
		ValidTo:               in.ValidTo,
		SubjectAlternateNames: in.SubjectAlternateNames,
		ZeroTouch:             in.ZeroTouch,
		IssuerCertAuthName:    in.IssuerCertAuthName,
		HostingTeamName:       in.HostingTeamName,
		IdaasIntegrationID:    in.IdaasIntegrationID,
		IsAmexCert:            in.IsAmexCert,
		CertType:              in.CertType,
		AcknowledgedBy:        in.AcknowledgedBy,
		CentralID:             in.CentralID,
		ApplicationName:       in.ApplicationName,
		Comment:               in.Comment,
		ChangeNumber:          in.ChangeNumber,
		ServerName:            in.ServerName,
		KeystorePath:          in.KeystorePath,
		URI:                   in.URI,
		RevokeRequestID:       in.RevokeRequestID,
		RevokeDate:            in.RevokeDate,
		RequestID:             in.RequestID,
		RequestedByUser:       in.RequestedByUser,
		RequestedForUser:      in.RequestedForUser,
		ApprovedByUser:        in.ApprovedByUser,
		RequestChannelName:    in.RequestChannelName,
		CertNotifications:     nullableJSON(in.CertNotifications),
		Devices:               devices,
		AgentVaultCerts:       nullableJSON(in.AgentVaultCerts),
		TAClientName:          in.TAClientName,
		ApplicationID:         in.ApplicationID,
		CreatedAt:             now,
		UpdatedAt:             now,
		CreatedBy:             &createdBy,
		RenewedBy:             in.RenewedBy,
	}
}

// CertificatePatch is a partial update; nil fields are left untouched. A
// patch cannot null out a column.
type CertificatePatch struct {
	CertificateIdentifier *string         `json:"certificateIdentifier" validate:"omitnil,min=1,max=512"`
	RenewingTeamID        *string         `json:"renewingTeamId" validate:"omitnil,uuid"`
	CommonName            *string         `json:"commonName" validate:"omitnil,max=512"`
	CertificateStatus     *string         `json:"certificateStatus" validate:"omitnil,max=64"`
	CertificatePurpose    *string         `json:"certificatePurpose" validate:"omitnil,max=128"`
	CurrentCert           *bool           `json:"currentCert"`
	Environment           *string         `json:"environment" validate:"omitnil,max=64"`
	SerialNumber          *string         `json:"serialNumber" validate:"omitnil,max=128"`
	ValidFrom             *string         `json:"validFrom"`
	ValidTo               *string         `json:"validTo"`
	SubjectAlternateNames *string         `json:"subjectAlternateNames"`
	ZeroTouch             *bool           `json:"zeroTouch"`
	IssuerCertAuthName    *string         `json:"issuerCertAuthName" validate:"omitnil,max=256"`
	HostingTeamName       *string         `json:"hostingTeamName" validate:"omitnil,max=128"`
	IdaasIntegrationID    *string         `json:"idaasIntegrationId" validate:"omitnil,max=64"`
	IsAmexCert            *bool           `json:"isAmexCert"`
	CertType              *string         `json:"certType" validate:"omitnil,max=64"`
	AcknowledgedBy        *string         `json:"acknowledgedBy" validate:"omitnil,max=128"`
	CentralID             *string         `json:"centralID" validate:"omitnil,max=64"`
	ApplicationName       *string         `json:"applicationName" validate:"omitnil,max=128"`
	Comment               *string         `json:"comment"`
	ChangeNumber          *string         `json:"changeNumber" validate:"omitnil,max=64"`
	ServerName            *string         `json:"serverName" validate:"omitnil,max=128"`
	KeystorePath          *string         `json:"keystorePath"`
	URI                   *string         `json:"uri"`
	RevokeRequestID       *string         `json:"revokeRequestId" validate:"omitnil,max=64"`
	RevokeDate            *string         `json:"revokeDate"`
	RequestID             *string         `json:"requestId" validate:"omitnil,max=64"`
	RequestedByUser       *string         `json:"requestedByUser" validate:"omitnil,max=256"`
	RequestedForUser      *string         `json:"requestedForUser" validate:"omitnil,max=256"`
	ApprovedByUser        *string         `json:"approvedByUser" validate:"omitnil,max=256"`
	RequestChannelName    *string         `json:"requestChannelName" validate:"omitnil,max=128"`
	CertNotifications     json.RawMessage `json:"certNotifications"`
	Devices               json.RawMessage `json:"devices"`
	AgentVaultCerts       json.RawMessage `json:"agentVaultCerts"`
	TAClientName          *string         `json:"taClientName" validate:"omitnil,max=64"`
	ApplicationID         *string         `json:"applicationId" validate:"omitnil,max=64"`
	RenewedBy             *string         `json:"renewedBy" validate:"omitnil,max=256"`
}

// Apply copies every set field of p onto c and stamps UpdatedAt.
func (p CertificatePatch) Apply(c *Certificate, now time.Time) {
	if p.CertificateIdentifier != nil {
		c.CertificateIdentifier = *p.CertificateIdentifier
	}
	if p.RenewingTeamID != nil {
		teamID := *p.RenewingTeamID
		c.RenewingTeamID = &teamID
	}
	setString(&c.CommonName, p.CommonName)
	setString(&c.CertificateStatus, p.CertificateStatus)
	setString(&c.CertificatePurpose, p.CertificatePurpose)
	setBool(&c.CurrentCert, p.CurrentCert)
	setString(&c.Environment, p.Environment)
	setString(&c.SerialNumber, p.SerialNumber)
	setString(&c.ValidFrom, p.ValidFrom)
	setString(&c.ValidTo, p.ValidTo)
	setString(&c.SubjectAlternateNames, p.SubjectAlternateNames)
	setBool(&c.ZeroTouch, p.ZeroTouch)
	setString(&c.IssuerCertAuthName, p.IssuerCertAuthName)
	setString(&c.HostingTeamName, p.HostingTeamName)
	setString(&c.IdaasIntegrationID, p.IdaasIntegrationID)
	setBool(&c.IsAmexCert, p.IsAmexCert)
	setString(&c.CertType, p.CertType)
	setString(&c.AcknowledgedBy, p.AcknowledgedBy)
	setString(&c.CentralID, p.CentralID)
	setString(&c.ApplicationName, p.ApplicationName)
	setString(&c.Comment, p.Comment)
	setString(&c.ChangeNumber, p.ChangeNumber)
	setString(&c.ServerName, p.ServerName)
	setString(&c.KeystorePath, p.KeystorePath)
	setString(&c.URI, p.URI)
	setString(&c.RevokeRequestID, p.RevokeRequestID)
	setString(&c.RevokeDate, p.RevokeDate)
	setString(&c.RequestID, p.RequestID)
	setString(&c.RequestedByUser, p.RequestedByUser)
	setString(&c.RequestedForUser, p.RequestedForUser)
	setString(&c.ApprovedByUser, p.ApprovedByUser)
	setString(&c.RequestChannelName, p.RequestChannelName)
	if notifications := nullableJSON(p.CertNotifications); notifications != nil {
		c.CertNotifications = notifications
	}
	if p.Devices != nil {
		c.Devices = p.NormalizedDevices()
	}
	if agentVaultCerts := nullableJSON(p.AgentVaultCerts); agentVaultCerts != nil {
		c.AgentVaultCerts = agentVaultCerts
	}
	setString(&c.TAClientName, p.TAClientName)
	setString(&c.ApplicationID, p.ApplicationID)
	setString(&c.RenewedBy, p.RenewedBy)
	c.UpdatedAt = now
}

// NormalizedDevices returns the device list to store, mapping JSON null to an
// empty list. It is nil when the patch leaves devices untouched.
func (p CertificatePatch) NormalizedDevices() json.RawMessage {
	if p.Devices == nil {
		return nil
	}
	if string(p.Devices) == "null" {
		return EmptyJSONList
	}
	return p.Devices
}

// TeamInput is the create payload for a team.
type TeamInput struct {
	TeamName     string   `json:"teamName" yaml:"team_name" validate:"required,max=128"`
	Escalation   *string  `json:"escalation" yaml:"escalation" validate:"omitnil,max=256"`
	Alert1       *string  `json:"alert1" yaml:"alert1" validate:"omitnil,max=256"`
	Alert2       *string  `json:"alert2" yaml:"alert2" validate:"omitnil,max=256"`
	Alert3       *string  `json:"alert3" yaml:"alert3" validate:"omitnil,max=256"`
	SnowGroup    *string  `json:"snowGroup" yaml:"snow_group" validate:"omitnil,max=128"`
	PRCGroup     *string  `json:"prcGroup" yaml:"prc_group" validate:"omitnil,max=128"`
	Applications []string `json:"applications" yaml:"applications" validate:"dive,required,max=128"`
}

func (in TeamInput) NewTeam(id string) (Team, error) {
	applications := EmptyJSONList
	if len(in.Applications) > 0 {
		encoded, err := json.Marshal(in.Applications)
		if err != nil {
			return Team{}, err
		}
		applications = encoded
	}
	return Team{
		ID:           id,
		TeamName:     in.TeamName,
		Escalation:   in.Escalation,
		Alert1:       in.Alert1,
		Alert2:       in.Alert2,
		Alert3:       in.Alert3,
		SnowGroup:    in.SnowGroup,
		PRCGroup:     in.PRCGroup,
		Applications: applications,
	}, nil
}

func setString(dst **string, value *string) {
	if value == nil {
		return
	}
	copied := *value
	*dst = &copied
}

func setBool(dst **bool, value *bool) {
	if value == nil {
		return
	}
	copied := *value
	*dst = &copied
}

func nullableJSON(value json.RawMessage) json.RawMessage {
	if len(value) == 0 || string(value) == "null" {
		return nil
	}
	return value
}
