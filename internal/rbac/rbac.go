package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Permission is a global, immutable `resource:action` identifier. Permissions
// are not tenant-scoped; tenants differ only in which roles bundle them.
type Permission struct {
	ID          uuid.UUID `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"not null"`
	Resource    string    `json:"resource" gorm:"not null"`
	Action      string    `json:"action" gorm:"not null"`
	Description string    `json:"description"`
	IsSystem    bool      `json:"is_system" gorm:"column:is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Permission) TableName() string {
	return "permissions"
}

// PermissionName builds the canonical `resource:action` form.
func PermissionName(resource, action string) string {
	return fmt.Sprintf("%s:%s", resource, action)
}

// Role is a tenant-scoped named bundle of permissions. (tenant, name) is
// unique; a DOCTOR role in one tenant is independent of DOCTOR elsewhere.
type Role struct {
	ID           uuid.UUID    `json:"id" gorm:"primaryKey"`
	TenantID     string       `json:"tenant_id" gorm:"column:tenant_id;not null"`
	Name         string       `json:"name" gorm:"not null"`
	Description  string       `json:"description"`
	IsSystemRole bool         `json:"is_system_role" gorm:"column:is_system_role"`
	Active       bool         `json:"active"`
	Permissions  []Permission `json:"permissions,omitempty" gorm:"many2many:role_permissions"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	CreatedBy    *uuid.UUID   `json:"created_by,omitempty" gorm:"column:created_by"`
	UpdatedBy    *uuid.UUID   `json:"updated_by,omitempty" gorm:"column:updated_by"`
}

func (Role) TableName() string {
	return "roles"
}

func (r *Role) HasPermission(name string) bool {
	for _, p := range r.Permissions {
		if p.Name == name {
			return true
		}
	}
	return false
}

// UserRole assigns a role to a user within a tenant, optionally scoped to a
// department and bounded by [ValidFrom, ValidUntil).
type UserRole struct {
	ID         uuid.UUID  `json:"id" gorm:"primaryKey"`
	UserID     uuid.UUID  `json:"user_id" gorm:"column:user_id;not null"`
	RoleID     uuid.UUID  `json:"role_id" gorm:"column:role_id;not null"`
	TenantID   string     `json:"tenant_id" gorm:"column:tenant_id;not null"`
	Department *string    `json:"department,omitempty"`
	ValidFrom  *time.Time `json:"valid_from,omitempty" gorm:"column:valid_from"`
	ValidUntil *time.Time `json:"valid_until,omitempty" gorm:"column:valid_until"`
	Active     bool       `json:"active"`
	AssignedAt time.Time  `json:"assigned_at" gorm:"column:assigned_at"`
	AssignedBy *uuid.UUID `json:"assigned_by,omitempty" gorm:"column:assigned_by"`
}

func (UserRole) TableName() string {
	return "user_roles"
}

// IsValid applies the assignment validity predicate at the given instant.
func (ur *UserRole) IsValid(now time.Time) bool {
	if !ur.Active {
		return false
	}
	if ur.ValidFrom != nil && now.Before(*ur.ValidFrom) {
		return false
	}
	if ur.ValidUntil != nil && !now.Before(*ur.ValidUntil) {
		return false
	}
	return true
}

type RoleRepositoryAPI interface {
	Create(ctx context.Context, role *Role) error
	Update(ctx context.Context, role *Role) error
	GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*Role, error)
	GetByName(ctx context.Context, tenantID, name string) (*Role, error)
	List(ctx context.Context, tenantID string) ([]*Role, error)
	ListByIDsWithPermissions(ctx context.Context, tenantID string, ids []uuid.UUID) ([]*Role, error)
	AddPermission(ctx context.Context, tenantID string, roleID, permissionID uuid.UUID) error
	RemovePermission(ctx context.Context, tenantID string, roleID, permissionID uuid.UUID) error
}

type PermissionRepositoryAPI interface {
	Create(ctx context.Context, permission *Permission) error
	GetByName(ctx context.Context, name string) (*Permission, error)
	GetByResourceAction(ctx context.Context, resource, action string) (*Permission, error)
	List(ctx context.Context) ([]*Permission, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type UserRoleRepositoryAPI interface {
	Assign(ctx context.Context, assignment *UserRole) error
	GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*UserRole, error)
	Find(ctx context.Context, tenantID string, userID, roleID uuid.UUID) (*UserRole, error)
	FindValidByUser(ctx context.Context, tenantID string, userID uuid.UUID, now time.Time) ([]*UserRole, error)
	HasRole(ctx context.Context, tenantID string, userID, roleID uuid.UUID, now time.Time) (bool, error)
	Deactivate(ctx context.Context, tenantID string, id uuid.UUID) error
}

// GrantCheckerAPI is the resolver's view of the resource grant store. The
// grants package implements it; keeping the dependency as an interface avoids
// an import cycle between the two authorization layers.
type GrantCheckerAPI interface {
	HasValidGrant(ctx context.Context, userID uuid.UUID, resourceType string, resourceID uuid.UUID, action string) (bool, error)
	AccessibleResources(ctx context.Context, userID uuid.UUID, resourceType, action string) ([]uuid.UUID, error)
}
