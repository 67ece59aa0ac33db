package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeBreakGlassGranted = "grant.break_glass"
	EventTypeConsentGranted    = "consent.granted"
	EventTypeConsentWithdrawn  = "consent.withdrawn"
)

type BreakGlassGrantedEvent struct {
	BaseEvent
	GrantID      uuid.UUID `json:"grant_id"`
	TenantID     string    `json:"tenant_id"`
	UserID       uuid.UUID `json:"user_id"`
	ResourceType string    `json:"resource_type"`
	ResourceID   uuid.UUID `json:"resource_id"`
	Reason       string    `json:"reason"`
	ValidUntil   time.Time `json:"valid_until"`
}

func NewBreakGlassGrantedEvent(grantID uuid.UUID, tenantID string, userID uuid.UUID, resourceType string, resourceID uuid.UUID, reason string, validUntil time.Time) *BreakGlassGrantedEvent {
	return &BreakGlassGrantedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeBreakGlassGranted,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"grant_id":      grantID.String(),
				"tenant_id":     tenantID,
				"user_id":       userID.String(),
				"resource_type": resourceType,
				"resource_id":   resourceID.String(),
				"reason":        reason,
				"valid_until":   validUntil,
			},
		},
		GrantID:      grantID,
		TenantID:     tenantID,
		UserID:       userID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Reason:       reason,
		ValidUntil:   validUntil,
	}
}

type ConsentGrantedEvent struct {
	BaseEvent
	ConsentID uuid.UUID `json:"consent_id"`
	TenantID  string    `json:"tenant_id"`
	PatientID uuid.UUID `json:"patient_id"`
	Purpose   string    `json:"purpose"`
}

func NewConsentGrantedEvent(consentID uuid.UUID, tenantID string, patientID uuid.UUID, purpose string) *ConsentGrantedEvent {
	return &ConsentGrantedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeConsentGranted,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"consent_id": consentID.String(),
				"tenant_id":  tenantID,
				"patient_id": patientID.String(),
				"purpose":    purpose,
			},
		},
		ConsentID: consentID,
		TenantID:  tenantID,
		PatientID: patientID,
		Purpose:   purpose,
	}
}

type ConsentWithdrawnEvent struct {
	BaseEvent
	ConsentID uuid.UUID `json:"consent_id"`
	TenantID  string    `json:"tenant_id"`
	PatientID uuid.UUID `json:"patient_id"`
	Purpose   string    `json:"purpose"`
	Reason    string    `json:"reason"`
}

func NewConsentWithdrawnEvent(consentID uuid.UUID, tenantID string, patientID uuid.UUID, purpose, reason string) *ConsentWithdrawnEvent {
	return &ConsentWithdrawnEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeConsentWithdrawn,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"consent_id": consentID.String(),
				"tenant_id":  tenantID,
				"patient_id": patientID.String(),
				"purpose":    purpose,
				"reason":     reason,
			},
		},
		ConsentID: consentID,
		TenantID:  tenantID,
		PatientID: patientID,
		Purpose:   purpose,
		Reason:    reason,
	}
}
