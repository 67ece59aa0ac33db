package compliance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hospitalos/authz/internal/consent"
	"github.com/hospitalos/authz/internal/grants"
)

// Tenant is the global registry row. The registry carries no row policy; the
// sweeper and reporting iterate it to reach every tenant.
type Tenant struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"not null"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func (Tenant) TableName() string {
	return "tenants"
}

type TenantRepositoryAPI interface {
	List(ctx context.Context) ([]*Tenant, error)
	ListActiveIDs(ctx context.Context) ([]string, error)
}

// ConsentReaderAPI is the slice of the consent ledger that reporting needs.
type ConsentReaderAPI interface {
	GetStatistics(ctx context.Context) (*consent.Statistics, error)
	FindExpiringSoon(ctx context.Context, days int) ([]*consent.Consent, error)
}

// GrantReaderAPI is the slice of the grant store that reporting needs.
type GrantReaderAPI interface {
	ListBreakGlassGrants(ctx context.Context) ([]*grants.Grant, error)
}

// Report is the per-tenant compliance snapshot.
type Report struct {
	TenantID         string              `json:"tenant_id"`
	GeneratedAt      time.Time           `json:"generated_at"`
	Consents         *consent.Statistics `json:"consents"`
	BreakGlassGrants []BreakGlassEntry   `json:"break_glass_grants"`
	ExpiringSoon     int                 `json:"consents_expiring_soon"`
}

type BreakGlassEntry struct {
	GrantID      uuid.UUID  `json:"grant_id"`
	UserID       uuid.UUID  `json:"user_id"`
	ResourceType string     `json:"resource_type"`
	ResourceID   uuid.UUID  `json:"resource_id"`
	Reason       string     `json:"reason"`
	GrantedAt    time.Time  `json:"granted_at"`
	GrantedBy    *uuid.UUID `json:"granted_by,omitempty"`
	ValidUntil   *time.Time `json:"valid_until,omitempty"`
	Active       bool       `json:"active"`
}
