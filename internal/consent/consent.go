package consent

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Purpose declares what a tenant may process patient data for. The set is
// closed; unknown purposes are rejected at the boundary.
type Purpose string

const (
	PurposeTreatment      Purpose = "TREATMENT"
	PurposeResearch       Purpose = "RESEARCH"
	PurposeMarketing      Purpose = "MARKETING"
	PurposeDataSharing    Purpose = "DATA_SHARING"
	PurposeEmergency      Purpose = "EMERGENCY"
	PurposeAnalytics      Purpose = "ANALYTICS"
	PurposeTelemedicine   Purpose = "TELEMEDICINE"
	PurposeDataProcessing Purpose = "DATA_PROCESSING"
	PurposeCommunication  Purpose = "COMMUNICATION"
)

func (p Purpose) Valid() bool {
	switch p {
	case PurposeTreatment, PurposeResearch, PurposeMarketing, PurposeDataSharing,
		PurposeEmergency, PurposeAnalytics, PurposeTelemedicine, PurposeDataProcessing,
		PurposeCommunication:
		return true
	}
	return false
}

// DefaultPurposes are granted at patient registration.
var DefaultPurposes = []Purpose{PurposeTreatment, PurposeDataProcessing, PurposeCommunication}

// Status follows the lifecycle PENDING -> ACTIVE -> {WITHDRAWN, EXPIRED,
// SUPERSEDED}. DENIED is terminal from creation. Terminal records are never
// deleted; supersession preserves the full history.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusActive     Status = "ACTIVE"
	StatusWithdrawn  Status = "WITHDRAWN"
	StatusExpired    Status = "EXPIRED"
	StatusDenied     Status = "DENIED"
	StatusSuperseded Status = "SUPERSEDED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusWithdrawn, StatusExpired, StatusDenied, StatusSuperseded:
		return true
	}
	return false
}

// Method records how the consent was captured.
type Method string

const (
	MethodWebForm   Method = "WEB_FORM"
	MethodMobileApp Method = "MOBILE_APP"
	MethodPaperForm Method = "PAPER_FORM"
	MethodVerbal    Method = "VERBAL"
	MethodEmail     Method = "EMAIL"
	MethodSMS       Method = "SMS"
	MethodPhone     Method = "PHONE"
	MethodImplied   Method = "IMPLIED"
)

func (m Method) Valid() bool {
	switch m {
	case MethodWebForm, MethodMobileApp, MethodPaperForm, MethodVerbal,
		MethodEmail, MethodSMS, MethodPhone, MethodImplied:
		return true
	}
	return false
}

// AuditAction names a consent transition in the audit trail.
type AuditAction string

const (
	AuditGranted   AuditAction = "GRANTED"
	AuditWithdrawn AuditAction = "WITHDRAWN"
	AuditExpired   AuditAction = "EXPIRED"
	AuditRenewed   AuditAction = "RENEWED"
	AuditModified  AuditAction = "MODIFIED"
	AuditDeleted   AuditAction = "DELETED"
)

func (a AuditAction) Valid() bool {
	switch a {
	case AuditGranted, AuditWithdrawn, AuditExpired, AuditRenewed, AuditModified, AuditDeleted:
		return true
	}
	return false
}

// Consent is one patient's authorization for one processing purpose. At most
// one ACTIVE consent exists per (tenant, patient, purpose); a partial unique
// index on the table is the final arbiter of races.
type Consent struct {
	ID              uuid.UUID  `json:"id" gorm:"primaryKey"`
	TenantID        string     `json:"tenant_id" gorm:"column:tenant_id;not null"`
	PatientID       uuid.UUID  `json:"patient_id" gorm:"column:patient_id;not null"`
	Purpose         Purpose    `json:"purpose" gorm:"not null"`
	Status          Status     `json:"status" gorm:"not null"`
	Method          Method     `json:"method" gorm:"column:consent_method"`
	Description     string     `json:"description,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	ConsentVersion  string     `json:"consent_version,omitempty" gorm:"column:consent_version"`
	ParentConsentID *uuid.UUID `json:"parent_consent_id,omitempty" gorm:"column:parent_consent_id"`
	GrantedAt       time.Time  `json:"granted_at" gorm:"column:granted_at"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty" gorm:"column:expires_at"`
	WithdrawnAt     *time.Time `json:"withdrawn_at,omitempty" gorm:"column:withdrawn_at"`
	WithdrawReason  string     `json:"withdraw_reason,omitempty" gorm:"column:withdraw_reason"`
	RecordedBy      *uuid.UUID `json:"recorded_by,omitempty" gorm:"column:recorded_by"`
	IPAddress       string     `json:"ip_address,omitempty" gorm:"column:ip_address"`
	UserAgent       string     `json:"user_agent,omitempty" gorm:"column:user_agent"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (Consent) TableName() string {
	return "consents"
}

// IsValid mirrors the grant validity predicate: active, not withdrawn, not
// past expiry. Expiry takes effect here immediately, whether or not the
// sweeper has marked the row yet.
func (c *Consent) IsValid(now time.Time) bool {
	if c.Status != StatusActive || c.WithdrawnAt != nil {
		return false
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return false
	}
	return true
}

func (c *Consent) Withdraw(reason string, now time.Time) {
	c.Status = StatusWithdrawn
	c.WithdrawnAt = &now
	c.WithdrawReason = reason
}

// ExpiringSoon reports whether the consent is active and expires within the
// given window.
func (c *Consent) ExpiringSoon(now time.Time, within time.Duration) bool {
	if !c.IsValid(now) || c.ExpiresAt == nil {
		return false
	}
	return c.ExpiresAt.Before(now.Add(within))
}

// AuditRecord is one append-only row of the consent audit trail. Rows are
// written only by the ledger, inside the same transaction as the consent
// mutation they describe, and are never updated or deleted.
type AuditRecord struct {
	ID             uuid.UUID   `json:"id" gorm:"primaryKey"`
	ConsentID      uuid.UUID   `json:"consent_id" gorm:"column:consent_id;not null"`
	TenantID       string      `json:"tenant_id" gorm:"column:tenant_id;not null"`
	Action         AuditAction `json:"action" gorm:"not null"`
	PreviousStatus *Status     `json:"previous_status,omitempty" gorm:"column:previous_status"`
	NewStatus      Status      `json:"new_status" gorm:"column:new_status;not null"`
	Reason         string      `json:"reason,omitempty"`
	ChangedBy      *uuid.UUID  `json:"changed_by,omitempty" gorm:"column:changed_by"`
	ChangedAt      time.Time   `json:"changed_at" gorm:"column:changed_at"`
}

func (AuditRecord) TableName() string {
	return "consent_audit_trail"
}

// Statistics is the read-side aggregation consumed by compliance reporting.
type Statistics struct {
	TenantID   string          `json:"tenant_id"`
	Total      int64           `json:"total"`
	Active     int64           `json:"active"`
	Withdrawn  int64           `json:"withdrawn"`
	Expired    int64           `json:"expired"`
	Superseded int64           `json:"superseded"`
	ByPurpose  map[Purpose]int64 `json:"by_purpose"`
}

// RepositoryAPI persists consents and their audit trail. Mutating operations
// are transactional: the consent write and its audit rows commit together or
// not at all.
type RepositoryAPI interface {
	// Grant supersedes any ACTIVE consent for the same (patient, purpose) and
	// inserts the new record, returning the superseded consent if one existed.
	// The new record gets one audit row with the given action (GRANTED, or
	// RENEWED for renewal chains); a superseded record gets a MODIFIED row.
	Grant(ctx context.Context, consent *Consent, action AuditAction, changedBy *uuid.UUID, now time.Time) (*Consent, error)
	// Transition saves the mutated consent and appends exactly one audit row.
	Transition(ctx context.Context, consent *Consent, previous Status, action AuditAction, reason string, changedBy *uuid.UUID, now time.Time) error
	WithdrawAll(ctx context.Context, tenantID string, patientID uuid.UUID, reason string, changedBy *uuid.UUID, now time.Time) (int64, error)
	MarkExpired(ctx context.Context, tenantID string, now time.Time) (int64, error)

	GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*Consent, error)
	FindActive(ctx context.Context, tenantID string, patientID uuid.UUID, purpose Purpose) (*Consent, error)
	ListActive(ctx context.Context, tenantID string, patientID uuid.UUID, now time.Time) ([]*Consent, error)
	History(ctx context.Context, tenantID string, patientID uuid.UUID) ([]*Consent, error)
	AuditTrail(ctx context.Context, tenantID string, consentID uuid.UUID) ([]*AuditRecord, error)
	HasValid(ctx context.Context, tenantID string, patientID uuid.UUID, purpose Purpose, now time.Time) (bool, error)
	FindExpiringSoon(ctx context.Context, tenantID string, now time.Time, within time.Duration) ([]*Consent, error)
	Statistics(ctx context.Context, tenantID string) (*Statistics, error)
}
