package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hospitalos/authz/internal"
	"github.com/hospitalos/authz/internal/rbac"
	"github.com/hospitalos/authz/internal/tenant"
	"gorm.io/gorm"
)

// RoleRepository implements rbac.RoleRepositoryAPI using GORM. Every
// tenant-scoped operation runs inside tenant.Transaction so the RLS session
// variable and the application filter derive from the same value.
type RoleRepository struct {
	db *gorm.DB
}

func NewRoleRepository(db *gorm.DB) rbac.RoleRepositoryAPI {
	return &RoleRepository{db: db}
}

func (r *RoleRepository) Create(ctx context.Context, role *rbac.Role) error {
	return tenant.Transaction(ctx, r.db, role.TenantID, func(tx *gorm.DB) error {
		err := tx.Create(role).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return internal.ErrRoleExists
		}
		return err
	})
}

func (r *RoleRepository) Update(ctx context.Context, role *rbac.Role) error {
	return tenant.Transaction(ctx, r.db, role.TenantID, func(tx *gorm.DB) error {
		return tx.Omit("Permissions").Where("tenant_id = ?", role.TenantID).Save(role).Error
	})
}

func (r *RoleRepository) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*rbac.Role, error) {
	var role rbac.Role
	err := tenant.Transaction(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		return tx.Preload("Permissions").
			Where("id = ? AND tenant_id = ?", id, tenantID).
			First(&role).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &role, nil
}

func (r *RoleRepository) GetByName(ctx context.Context, tenantID, name string) (*rbac.Role, error) {
	var role rbac.Role
	err := tenant.Transaction(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		return tx.Preload("Permissions").
			Where("tenant_id = ? AND name = ?", tenantID, name).
			First(&role).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &role, nil
}

func (r *RoleRepository) List(ctx context.Context, tenantID string) ([]*rbac.Role, error) {
	var roles []*rbac.Role
	err := tenant.Transaction(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		return tx.Preload("Permissions").
			Where("tenant_id = ?", tenantID).
			Order("name ASC").
			Find(&roles).Error
	})
	return roles, err
}

func (r *RoleRepository) ListByIDsWithPermissions(ctx context.Context, tenantID string, ids []uuid.UUID) ([]*rbac.Role, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var roles []*rbac.Role
	err := tenant.Transaction(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		return tx.Preload("Permissions").
			Where("tenant_id = ? AND id IN ?", tenantID, ids).
			Find(&roles).Error
	})
	return roles, err
}

func (r *RoleRepository) AddPermission(ctx context.Context, tenantID string, roleID, permissionID uuid.UUID) error {
	return tenant.Transaction(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		var role rbac.Role
		if err := tx.Where("id = ? AND tenant_id = ?", roleID, tenantID).First(&role).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return internal.ErrRoleNotFound
			}
			return err
		}
		return tx.Model(&role).Association("Permissions").Append(&rbac.Permission{ID: permissionID})
	})
}

func (r *RoleRepository) RemovePermission(ctx context.Context, tenantID string, roleID, permissionID uuid.UUID) error {
	return tenant.Transaction(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		var role rbac.Role
		if err := tx.Where("id = ? AND tenant_id = ?", roleID, tenantID).First(&role).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return internal.ErrRoleNotFound
			}
			return err
		}
		return tx.Model(&role).Association("Permissions").Delete(&rbac.Permission{ID: permissionID})
	})
}

// PermissionRepository stores the global permission catalogue. Permissions
// carry no tenant column, so no RLS scoping applies here.
type PermissionRepository struct {
	db *gorm.DB
}

func NewPermissionRepository(db *gorm.DB) rbac.PermissionRepositoryAPI {
	return &PermissionRepository{db: db}
}

func (r *PermissionRepository) Create(ctx context.Context, permission *rbac.Permission) error {
	err := r.db.WithContext(ctx).Create(permission).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return internal.ErrPermissionExists
	}
	return err
}

func (r *PermissionRepository) GetByName(ctx context.Context, name string) (*rbac.Permission, error) {
	var permission rbac.Permission
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&permission).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &permission, nil
}

func (r *PermissionRepository) GetByResourceAction(ctx context.Context, resource, action string) (*rbac.Permission, error) {
	var permission rbac.Permission
	err := r.db.WithContext(ctx).Where("resource = ? AND action = ?", resource, action).First(&permission).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &permission, nil
}

func (r *PermissionRepository) List(ctx context.Context) ([]*rbac.Permission, error) {
	var permissions []*rbac.Permission
	err := r.db.WithContext(ctx).Order("name ASC").Find(&permissions).Error
	return permissions, err
}

func (r *PermissionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	// system permissions are guarded in the service; the predicate here is a
	// second line of defense
	return r.db.WithContext(ctx).
		Where("id = ? AND is_system = ?", id, false).
		Delete(&rbac.Permission{}).Error
}

// UserRoleRepository stores role assignments.
type UserRoleRepository struct {
	db *gorm.DB
}

func NewUserRoleRepository(db *gorm.DB) rbac.UserRoleRepositoryAPI {
	return &UserRoleRepository{db: db}
}

func (r *UserRoleRepository) Assign(ctx context.Context, assignment *rbac.UserRole) error {
	return tenant.Transaction(ctx, r.db, assignment.TenantID, func(tx *gorm.DB) error {
		err := tx.Create(assignment).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return internal.ErrAssignmentExists
		}
		return err
	})
}

func (r *UserRoleRepository) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*rbac.UserRole, error) {
	var assignment rbac.UserRole
	err := tenant.Transaction(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		return tx.Where("id = ? AND tenant_id = ?", id, tenantID).First(&assignment).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &assignment, nil
}

func (r *UserRoleRepository) Find(ctx context.Context, tenantID string, userID, roleID uuid.UUID) (*rbac.UserRole, error) {
	var assignment rbac.UserRole
	err := tenant.Transaction(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		return tx.Where("tenant_id = ? AND user_id = ? AND role_id = ?", tenantID, userID, roleID).
			First(&assignment).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &assignment, nil
}

// FindValidByUser applies the assignment validity predicate in SQL; callers
// never see expired or inactive assignments.
func (r *UserRoleRepository) FindValidByUser(ctx context.Context, tenantID string, userID uuid.UUID, now time.Time) ([]*rbac.UserRole, error) {
	var assignments []*rbac.UserRole
	err := tenant.Transaction(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		return tx.Where("tenant_id = ? AND user_id = ? AND active = ?", tenantID, userID, true).
			Where("valid_from IS NULL OR valid_from <= ?", now).
			Where("valid_until IS NULL OR valid_until > ?", now).
			Find(&assignments).Error
	})
	return assignments, err
}

func (r *UserRoleRepository) HasRole(ctx context.Context, tenantID string, userID, roleID uuid.UUID, now time.Time) (bool, error) {
	var count int64
	err := tenant.Transaction(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		return tx.Model(&rbac.UserRole{}).
			Where("tenant_id = ? AND user_id = ? AND role_id = ? AND active = ?", tenantID, userID, roleID, true).
			Where("valid_from IS NULL OR valid_from <= ?", now).
			Where("valid_until IS NULL OR valid_until > ?", now).
			Count(&count).Error
	})
	return count > 0, err
}

func (r *UserRoleRepository) Deactivate(ctx context.Context, tenantID string, id uuid.UUID) error {
	return tenant.Transaction(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		return tx.Model(&rbac.UserRole{}).
			Where("id = ? AND tenant_id = ?", id, tenantID).
			Update("active", false).Error
	})
}
