package grants

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hospitalos/authz/internal"
)

// Action names the operation a grant permits on a single resource. ActionManage
// subsumes every other action on that resource.
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
	ActionManage Action = "manage"
)

func (a Action) Valid() bool {
	switch a {
	case ActionRead, ActionWrite, ActionDelete, ActionManage:
		return true
	}
	return false
}

// BreakGlassReasonPrefix marks emergency grants in the audit trail. The store
// prepends it exactly once.
const BreakGlassReasonPrefix = "BREAK-GLASS: "

// Grant gives one user one action on one concrete resource, independent of any
// role. Break-glass grants are ordinary grants with the flag set and a
// mandatory expiry.
type Grant struct {
	ID           uuid.UUID  `json:"id" gorm:"primaryKey"`
	UserID       uuid.UUID  `json:"user_id" gorm:"column:user_id;not null"`
	TenantID     string     `json:"tenant_id" gorm:"column:tenant_id;not null"`
	ResourceType string     `json:"resource_type" gorm:"column:resource_type;not null"`
	ResourceID   uuid.UUID  `json:"resource_id" gorm:"column:resource_id;not null"`
	Action       Action     `json:"action" gorm:"not null"`
	Reason       string     `json:"reason"`
	IsBreakGlass bool       `json:"is_break_glass" gorm:"column:is_break_glass"`
	Active       bool       `json:"active"`
	ValidFrom    *time.Time `json:"valid_from,omitempty" gorm:"column:valid_from"`
	ValidUntil   *time.Time `json:"valid_until,omitempty" gorm:"column:valid_until"`
	GrantedAt    time.Time  `json:"granted_at" gorm:"column:granted_at"`
	GrantedBy    *uuid.UUID `json:"granted_by,omitempty" gorm:"column:granted_by"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty" gorm:"column:revoked_at"`
	RevokedBy    *uuid.UUID `json:"revoked_by,omitempty" gorm:"column:revoked_by"`
}

func (Grant) TableName() string {
	return "user_resource_permissions"
}

// IsValid applies the grant validity predicate. Read paths rely on this rather
// than on the sweeper having run; an expired break-glass grant stops working
// the instant its window closes.
func (g *Grant) IsValid(now time.Time) bool {
	if !g.Active || g.RevokedAt != nil {
		return false
	}
	if g.ValidFrom != nil && now.Before(*g.ValidFrom) {
		return false
	}
	if g.ValidUntil != nil && !now.Before(*g.ValidUntil) {
		return false
	}
	return true
}

// AllowsAction reports whether the grant covers the requested action. A manage
// grant covers everything on its resource.
func (g *Grant) AllowsAction(action Action) bool {
	return g.Action == action || g.Action == ActionManage
}

func (g *Grant) Revoke(revokedBy uuid.UUID, now time.Time) {
	g.Active = false
	g.RevokedAt = &now
	g.RevokedBy = &revokedBy
}

// NormalizeReason guarantees the break-glass prefix without doubling it when a
// caller already supplied it.
func NormalizeReason(reason string) string {
	if strings.HasPrefix(reason, BreakGlassReasonPrefix) {
		return reason
	}
	return BreakGlassReasonPrefix + reason
}

type RepositoryAPI interface {
	Create(ctx context.Context, grant *Grant) error
	GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*Grant, error)
	FindActive(ctx context.Context, tenantID string, userID uuid.UUID, resourceType string, resourceID uuid.UUID, action Action, now time.Time) (*Grant, error)
	HasValidGrant(ctx context.Context, tenantID string, userID uuid.UUID, resourceType string, resourceID uuid.UUID, action string, now time.Time) (bool, error)
	AccessibleResources(ctx context.Context, tenantID string, userID uuid.UUID, resourceType, action string, now time.Time) ([]uuid.UUID, error)
	Update(ctx context.Context, grant *Grant) error
	RevokeAllForResource(ctx context.Context, tenantID, resourceType string, resourceID uuid.UUID, revokedBy uuid.UUID, now time.Time) (int64, error)
	ListForUser(ctx context.Context, tenantID string, userID uuid.UUID) ([]*Grant, error)
	ListBreakGlass(ctx context.Context, tenantID string) ([]*Grant, error)
	DeactivateExpired(ctx context.Context, tenantID string, now time.Time) (int64, error)
}

func validateDuration(d time.Duration, max time.Duration) error {
	if d <= 0 {
		return internal.NewValidationError("duration must be positive", internal.ErrCodeInvalidDuration)
	}
	if max > 0 && d > max {
		return internal.NewValidationError("duration exceeds the break-glass maximum", internal.ErrCodeInvalidDuration)
	}
	return nil
}
