package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hospitalos/authz/internal"
	"github.com/hospitalos/authz/internal/grants"
	"github.com/hospitalos/authz/internal/tenant"
	"gorm.io/gorm"
)

// GrantRepository implements grants.RepositoryAPI. The validity predicate is
// applied in SQL so expired or revoked grants never reach callers, whether or
// not the sweeper has run.
type GrantRepository struct {
	db *gorm.DB
}

func NewGrantRepository(db *gorm.DB) grants.RepositoryAPI {
	return &GrantRepository{db: db}
}

func validGrants(tx *gorm.DB, now time.Time) *gorm.DB {
	return tx.Where("active = ? AND revoked_at IS NULL", true).
		Where("valid_from IS NULL OR valid_from <= ?", now).
		Where("valid_until IS NULL OR valid_until > ?", now)
}

// Create inserts a grant. The partial unique index on the live-grant tuple is
// the arbiter when two equivalent grants race; the loser gets ErrGrantExists.
func (r *GrantRepository) Create(ctx context.Context, grant *grants.Grant) error {
	return tenant.Transaction(ctx, r.db, grant.TenantID, func(tx *gorm.DB) error {
		if err := tx.Create(grant).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return internal.ErrGrantExists
			}
			return err
		}
		return nil
	})
}

func (r *GrantRepository) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*grants.Grant, error) {
	var grant grants.Grant
	err := tenant.Transaction(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		return tx.Where("id = ? AND tenant_id = ?", id, tenantID).First(&grant).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &grant, nil
}

func (r *GrantRepository) FindActive(ctx context.Context, tenantID string, userID uuid.UUID, resourceType string, resourceID uuid.UUID, action grants.Action, now time.Time) (*grants.Grant, error) {
	var grant grants.Grant
	err := tenant.Transaction(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		return validGrants(tx, now).
			Where("tenant_id = ? AND user_id = ? AND resource_type = ? AND resource_id = ? AND action = ?",
				tenantID, userID, resourceType, resourceID, action).
			First(&grant).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &grant, nil
}

// HasValidGrant matches the requested action or a manage grant on the same
// resource.
func (r *GrantRepository) HasValidGrant(ctx context.Context, tenantID string, userID uuid.UUID, resourceType string, resourceID uuid.UUID, action string, now time.Time) (bool, error) {
	var count int64
	err := tenant.Transaction(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		return validGrants(tx.Model(&grants.Grant{}), now).
			Where("tenant_id = ? AND user_id = ? AND resource_type = ? AND resource_id = ?",
				tenantID, userID, resourceType, resourceID).
			Where("action IN ?", []string{action, string(grants.ActionManage)}).
			Count(&count).Error
	})
	return count > 0, err
}

func (r *GrantRepository) AccessibleResources(ctx context.Context, tenantID string, userID uuid.UUID, resourceType, action string, now time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := tenant.Transaction(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		return validGrants(tx.Model(&grants.Grant{}), now).
			Where("tenant_id = ? AND user_id = ? AND resource_type = ?", tenantID, userID, resourceType).
			Where("action IN ?", []string{action, string(grants.ActionManage)}).
			Distinct().
			Pluck("resource_id", &ids).Error
	})
	return ids, err
}

func (r *GrantRepository) Update(ctx context.Context, grant *grants.Grant) error {
	return tenant.Transaction(ctx, r.db, grant.TenantID, func(tx *gorm.DB) error {
		return tx.Where("tenant_id = ?", grant.TenantID).Save(grant).Error
	})
}

func (r *GrantRepository) RevokeAllForResource(ctx context.Context, tenantID, resourceType string, resourceID uuid.UUID, revokedBy uuid.UUID, now time.Time) (int64, error) {
	var count int64
	err := tenant.Transaction(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		result := tx.Model(&grants.Grant{}).
			Where("tenant_id = ? AND resource_type = ? AND resource_id = ? AND active = ? AND revoked_at IS NULL",
				tenantID, resourceType, resourceID, true).
			Updates(map[string]interface{}{
				"active":     false,
				"revoked_at": now,
				"revoked_by": revokedBy,
			})
		count = result.RowsAffected
		return result.Error
	})
	return count, err
}

func (r *GrantRepository) ListForUser(ctx context.Context, tenantID string, userID uuid.UUID) ([]*grants.Grant, error) {
	var out []*grants.Grant
	err := tenant.Transaction(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		return tx.Where("tenant_id = ? AND user_id = ?", tenantID, userID).
			Order("granted_at DESC").
			Find(&out).Error
	})
	return out, err
}

func (r *GrantRepository) ListBreakGlass(ctx context.Context, tenantID string) ([]*grants.Grant, error) {
	var out []*grants.Grant
	err := tenant.Transaction(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		return tx.Where("tenant_id = ? AND is_break_glass = ?", tenantID, true).
			Order("granted_at DESC").
			Find(&out).Error
	})
	return out, err
}

func (r *GrantRepository) DeactivateExpired(ctx context.Context, tenantID string, now time.Time) (int64, error) {
	var count int64
	err := tenant.Transaction(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		result := tx.Model(&grants.Grant{}).
			Where("tenant_id = ? AND active = ? AND valid_until IS NOT NULL AND valid_until <= ?", tenantID, true, now).
			Update("active", false)
		count = result.RowsAffected
		return result.Error
	})
	return count, err
}
