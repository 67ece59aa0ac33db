package postgres

import (
	"context"

	"github.com/hospitalos/authz/internal/compliance"
	"gorm.io/gorm"
)

// TenantRepository reads the global tenant registry. No RLS scoping applies;
// the registry is the one table shared across tenants.
type TenantRepository struct {
	db *gorm.DB
}

func NewTenantRepository(db *gorm.DB) compliance.TenantRepositoryAPI {
	return &TenantRepository{db: db}
}

func (r *TenantRepository) List(ctx context.Context) ([]*compliance.Tenant, error) {
	var tenants []*compliance.Tenant
	err := r.db.WithContext(ctx).Order("id ASC").Find(&tenants).Error
	return tenants, err
}

func (r *TenantRepository) ListActiveIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&compliance.Tenant{}).
		Where("active = ?", true).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}
