package rbac

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hospitalos/authz/internal"
	"github.com/hospitalos/authz/internal/tenant"
)

// Service is the administrative surface of the role/permission registry.
// Callers are assumed to be authenticated; route-level middleware enforces
// the `role:manage` style permissions before these methods run.
type Service struct {
	roles     RoleRepositoryAPI
	perms     PermissionRepositoryAPI
	userRoles UserRoleRepositoryAPI
	logger    *slog.Logger
}

func NewService(roles RoleRepositoryAPI, perms PermissionRepositoryAPI, userRoles UserRoleRepositoryAPI, logger *slog.Logger) *Service {
	return &Service{
		roles:     roles,
		perms:     perms,
		userRoles: userRoles,
		logger:    logger,
	}
}

func (s *Service) CreateRole(ctx context.Context, dto CreateRoleDTO) (*Role, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	existing, err := s.roles.GetByName(ctx, tenantID, dto.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, internal.ErrRoleExists
	}

	actor := internal.ActorFromContext(ctx)
	now := time.Now()
	role := &Role{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Name:        dto.Name,
		Description: dto.Description,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if actor != uuid.Nil {
		role.CreatedBy = &actor
	}

	if err := s.roles.Create(ctx, role); err != nil {
		s.logger.Error("failed to create role", "error", err, "tenant_id", tenantID, "name", dto.Name)
		return nil, err
	}

	s.logger.Info("role created", "role_id", role.ID, "tenant_id", tenantID, "name", role.Name)
	return role, nil
}

// DeactivateRole soft-disables a role. System roles are never deleted; this
// is the only state change allowed for them.
func (s *Service) DeactivateRole(ctx context.Context, roleID uuid.UUID) error {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}

	role, err := s.roles.GetByID(ctx, tenantID, roleID)
	if err != nil {
		return err
	}
	if role == nil {
		return internal.ErrRoleNotFound
	}

	role.Active = false
	role.UpdatedAt = time.Now()
	if actor := internal.ActorFromContext(ctx); actor != uuid.Nil {
		role.UpdatedBy = &actor
	}

	if err := s.roles.Update(ctx, role); err != nil {
		return err
	}

	s.logger.Info("role deactivated", "role_id", roleID, "tenant_id", tenantID)
	return nil
}

func (s *Service) ListRoles(ctx context.Context) ([]*Role, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.roles.List(ctx, tenantID)
}

func (s *Service) GetRole(ctx context.Context, roleID uuid.UUID) (*Role, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	role, err := s.roles.GetByID(ctx, tenantID, roleID)
	if err != nil {
		return nil, err
	}
	if role == nil {
		return nil, internal.ErrRoleNotFound
	}
	return role, nil
}

// AssignRole maps a role to a user, optionally department-scoped and
// time-bounded. (user, role, tenant) is unique.
func (s *Service) AssignRole(ctx context.Context, dto AssignRoleDTO) (*UserRole, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	role, err := s.roles.GetByID(ctx, tenantID, dto.RoleID)
	if err != nil {
		return nil, err
	}
	if role == nil {
		return nil, internal.ErrRoleNotFound
	}

	existing, err := s.userRoles.Find(ctx, tenantID, dto.UserID, dto.RoleID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Active {
		return nil, internal.ErrAssignmentExists
	}

	now := time.Now()
	assignment := &UserRole{
		ID:         uuid.New(),
		UserID:     dto.UserID,
		RoleID:     dto.RoleID,
		TenantID:   tenantID,
		Department: dto.Department,
		ValidFrom:  dto.ValidFrom,
		ValidUntil: dto.ValidUntil,
		Active:     true,
		AssignedAt: now,
	}
	if assignment.ValidFrom == nil {
		assignment.ValidFrom = &now
	}
	if actor := internal.ActorFromContext(ctx); actor != uuid.Nil {
		assignment.AssignedBy = &actor
	}

	if err := s.userRoles.Assign(ctx, assignment); err != nil {
		s.logger.Error("failed to assign role", "error", err, "tenant_id", tenantID, "role_id", dto.RoleID, "user_id", dto.UserID)
		return nil, err
	}

	s.logger.Info("role assigned",
		"assignment_id", assignment.ID,
		"tenant_id", tenantID,
		"role", role.Name,
		"user_id", dto.UserID)
	return assignment, nil
}

func (s *Service) RevokeRole(ctx context.Context, assignmentID uuid.UUID) error {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}

	assignment, err := s.userRoles.GetByID(ctx, tenantID, assignmentID)
	if err != nil {
		return err
	}
	if assignment == nil {
		return internal.ErrAssignmentNotFound
	}

	if err := s.userRoles.Deactivate(ctx, tenantID, assignmentID); err != nil {
		return err
	}

	s.logger.Info("role assignment revoked", "assignment_id", assignmentID, "tenant_id", tenantID)
	return nil
}

func (s *Service) CreatePermission(ctx context.Context, dto CreatePermissionDTO) (*Permission, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	name := PermissionName(dto.Resource, dto.Action)
	existing, err := s.perms.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, internal.ErrPermissionExists
	}

	now := time.Now()
	permission := &Permission{
		ID:          uuid.New(),
		Name:        name,
		Resource:    dto.Resource,
		Action:      dto.Action,
		Description: dto.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.perms.Create(ctx, permission); err != nil {
		s.logger.Error("failed to create permission", "error", err, "name", name)
		return nil, err
	}

	s.logger.Info("permission created", "permission_id", permission.ID, "name", name)
	return permission, nil
}

func (s *Service) ListPermissions(ctx context.Context) ([]*Permission, error) {
	return s.perms.List(ctx)
}

// DeletePermission removes a non-system permission from the catalogue.
func (s *Service) DeletePermission(ctx context.Context, id uuid.UUID) error {
	permissions, err := s.perms.List(ctx)
	if err != nil {
		return err
	}
	for _, p := range permissions {
		if p.ID == id {
			if p.IsSystem {
				return internal.ErrSystemPermissionImmutable
			}
			return s.perms.Delete(ctx, id)
		}
	}
	return internal.ErrPermissionNotFound
}

func (s *Service) AddPermissionToRole(ctx context.Context, roleID uuid.UUID, permissionName string) error {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}

	role, err := s.roles.GetByID(ctx, tenantID, roleID)
	if err != nil {
		return err
	}
	if role == nil {
		return internal.ErrRoleNotFound
	}

	permission, err := s.perms.GetByName(ctx, permissionName)
	if err != nil {
		return err
	}
	if permission == nil {
		return internal.ErrPermissionNotFound
	}

	return s.roles.AddPermission(ctx, tenantID, roleID, permission.ID)
}

func (s *Service) RemovePermissionFromRole(ctx context.Context, roleID uuid.UUID, permissionName string) error {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}

	permission, err := s.perms.GetByName(ctx, permissionName)
	if err != nil {
		return err
	}
	if permission == nil {
		return internal.ErrPermissionNotFound
	}

	return s.roles.RemovePermission(ctx, tenantID, roleID, permission.ID)
}
