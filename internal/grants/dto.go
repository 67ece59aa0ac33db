package grants

import (
	"time"

	"github.com/google/uuid"
	"github.com/hospitalos/authz/internal"
)

type GrantPermissionDTO struct {
	UserID       uuid.UUID  `json:"user_id"`
	ResourceType string     `json:"resource_type"`
	ResourceID   uuid.UUID  `json:"resource_id"`
	Action       Action     `json:"action"`
	Reason       string     `json:"reason"`
	ValidFrom    *time.Time `json:"valid_from,omitempty"`
	ValidUntil   *time.Time `json:"valid_until,omitempty"`
}

func (d *GrantPermissionDTO) Validate() error {
	if d.UserID == uuid.Nil {
		return internal.NewValidationFieldError("user_id", "user_id is required", internal.ErrCodeValidationFailed)
	}
	if d.ResourceType == "" {
		return internal.NewValidationFieldError("resource_type", "resource_type is required", internal.ErrCodeValidationFailed)
	}
	if d.ResourceID == uuid.Nil {
		return internal.NewValidationFieldError("resource_id", "resource_id is required", internal.ErrCodeValidationFailed)
	}
	if !d.Action.Valid() {
		return internal.NewValidationFieldError("action", "action must be one of read, write, delete, manage", internal.ErrCodeInvalidAction)
	}
	if d.ValidFrom != nil && d.ValidUntil != nil && !d.ValidFrom.Before(*d.ValidUntil) {
		return internal.NewValidationFieldError("valid_until", "valid_until must be after valid_from", internal.ErrCodeValidationFailed)
	}
	return nil
}

type BreakGlassDTO struct {
	UserID          uuid.UUID `json:"user_id"`
	ResourceType    string    `json:"resource_type"`
	ResourceID      uuid.UUID `json:"resource_id"`
	Action          Action    `json:"action"`
	Reason          string    `json:"reason"`
	DurationMinutes int       `json:"duration_minutes"`
}

func (d *BreakGlassDTO) Validate() error {
	if d.UserID == uuid.Nil {
		return internal.NewValidationFieldError("user_id", "user_id is required", internal.ErrCodeValidationFailed)
	}
	if d.ResourceType == "" {
		return internal.NewValidationFieldError("resource_type", "resource_type is required", internal.ErrCodeValidationFailed)
	}
	if d.ResourceID == uuid.Nil {
		return internal.NewValidationFieldError("resource_id", "resource_id is required", internal.ErrCodeValidationFailed)
	}
	if !d.Action.Valid() {
		return internal.NewValidationFieldError("action", "action must be one of read, write, delete, manage", internal.ErrCodeInvalidAction)
	}
	if d.DurationMinutes <= 0 {
		return internal.NewValidationFieldError("duration_minutes", "duration_minutes must be positive", internal.ErrCodeInvalidDuration)
	}
	return nil
}

type GrantResponse struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	ResourceType string     `json:"resource_type"`
	ResourceID   uuid.UUID  `json:"resource_id"`
	Action       Action     `json:"action"`
	Reason       string     `json:"reason,omitempty"`
	IsBreakGlass bool       `json:"is_break_glass"`
	Active       bool       `json:"active"`
	ValidFrom    *time.Time `json:"valid_from,omitempty"`
	ValidUntil   *time.Time `json:"valid_until,omitempty"`
	GrantedAt    time.Time  `json:"granted_at"`
	GrantedBy    *uuid.UUID `json:"granted_by,omitempty"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
}

func ToGrantResponse(g *Grant) GrantResponse {
	return GrantResponse{
		ID:           g.ID,
		UserID:       g.UserID,
		ResourceType: g.ResourceType,
		ResourceID:   g.ResourceID,
		Action:       g.Action,
		Reason:       g.Reason,
		IsBreakGlass: g.IsBreakGlass,
		Active:       g.Active,
		ValidFrom:    g.ValidFrom,
		ValidUntil:   g.ValidUntil,
		GrantedAt:    g.GrantedAt,
		GrantedBy:    g.GrantedBy,
		RevokedAt:    g.RevokedAt,
	}
}

func ToGrantResponses(grants []*Grant) []GrantResponse {
	responses := make([]GrantResponse, 0, len(grants))
	for _, g := range grants {
		responses = append(responses, ToGrantResponse(g))
	}
	return responses
}
