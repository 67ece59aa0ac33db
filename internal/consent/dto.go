package consent

import (
	"time"

	"github.com/google/uuid"
	"github.com/hospitalos/authz/internal"
)

type GrantConsentDTO struct {
	PatientID      uuid.UUID  `json:"patient_id"`
	Purpose        Purpose    `json:"purpose"`
	Method         Method     `json:"method"`
	Description    string     `json:"description,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	ConsentVersion string     `json:"consent_version,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	IPAddress      string     `json:"ip_address,omitempty"`
	UserAgent      string     `json:"user_agent,omitempty"`
}

func (d *GrantConsentDTO) Validate() error {
	if d.PatientID == uuid.Nil {
		return internal.NewValidationFieldError("patient_id", "patient_id is required", internal.ErrCodeValidationFailed)
	}
	if !d.Purpose.Valid() {
		return internal.NewValidationFieldError("purpose", "unknown consent purpose", internal.ErrCodeInvalidPurpose)
	}
	if d.Method != "" && !d.Method.Valid() {
		return internal.NewValidationFieldError("method", "unknown consent method", internal.ErrCodeInvalidMethod)
	}
	if d.ExpiresAt != nil && !d.ExpiresAt.After(time.Now()) {
		return internal.NewValidationFieldError("expires_at", "expires_at must be in the future", internal.ErrCodeValidationFailed)
	}
	return nil
}

type WithdrawConsentDTO struct {
	Reason string `json:"reason"`
}

type RenewConsentDTO struct {
	NewExpiry *time.Time `json:"new_expiry,omitempty"`
}

type ConsentResponse struct {
	ID              uuid.UUID  `json:"id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	Purpose         Purpose    `json:"purpose"`
	Status          Status     `json:"status"`
	Method          Method     `json:"method,omitempty"`
	Description     string     `json:"description,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	ConsentVersion  string     `json:"consent_version,omitempty"`
	ParentConsentID *uuid.UUID `json:"parent_consent_id,omitempty"`
	GrantedAt       time.Time  `json:"granted_at"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	WithdrawnAt     *time.Time `json:"withdrawn_at,omitempty"`
	WithdrawReason  string     `json:"withdraw_reason,omitempty"`
}

func ToConsentResponse(c *Consent) ConsentResponse {
	return ConsentResponse{
		ID:              c.ID,
		PatientID:       c.PatientID,
		Purpose:         c.Purpose,
		Status:          c.Status,
		Method:          c.Method,
		Description:     c.Description,
		Notes:           c.Notes,
		ConsentVersion:  c.ConsentVersion,
		ParentConsentID: c.ParentConsentID,
		GrantedAt:       c.GrantedAt,
		ExpiresAt:       c.ExpiresAt,
		WithdrawnAt:     c.WithdrawnAt,
		WithdrawReason:  c.WithdrawReason,
	}
}

func ToConsentResponses(consents []*Consent) []ConsentResponse {
	responses := make([]ConsentResponse, 0, len(consents))
	for _, c := range consents {
		responses = append(responses, ToConsentResponse(c))
	}
	return responses
}

type AuditRecordResponse struct {
	ID             uuid.UUID   `json:"id"`
	ConsentID      uuid.UUID   `json:"consent_id"`
	Action         AuditAction `json:"action"`
	PreviousStatus *Status     `json:"previous_status,omitempty"`
	NewStatus      Status      `json:"new_status"`
	Reason         string      `json:"reason,omitempty"`
	ChangedBy      *uuid.UUID  `json:"changed_by,omitempty"`
	ChangedAt      time.Time   `json:"changed_at"`
}

func ToAuditRecordResponses(records []*AuditRecord) []AuditRecordResponse {
	responses := make([]AuditRecordResponse, 0, len(records))
	for _, r := range records {
		responses = append(responses, AuditRecordResponse{
			ID:             r.ID,
			ConsentID:      r.ConsentID,
			Action:         r.Action,
			PreviousStatus: r.PreviousStatus,
			NewStatus:      r.NewStatus,
			Reason:         r.Reason,
			ChangedBy:      r.ChangedBy,
			ChangedAt:      r.ChangedAt,
		})
	}
	return responses
}
