package rbac

import (
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/hospitalos/authz/internal"
)

var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

type CreateRoleDTO struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (dto CreateRoleDTO) Validate() error {
	if dto.Name == "" {
		return internal.NewValidationFieldError("name", "name is required", internal.ErrCodeValidationFailed)
	}
	if len(dto.Name) > 50 {
		return internal.NewValidationFieldError("name", "name must be at most 50 characters", internal.ErrCodeValidationFailed)
	}
	if len(dto.Description) > 255 {
		return internal.NewValidationFieldError("description", "description must be at most 255 characters", internal.ErrCodeValidationFailed)
	}
	return nil
}

type AssignRoleDTO struct {
	UserID     uuid.UUID  `json:"user_id"`
	RoleID     uuid.UUID  `json:"role_id"`
	Department *string    `json:"department,omitempty"`
	ValidFrom  *time.Time `json:"valid_from,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

func (dto AssignRoleDTO) Validate() error {
	if dto.UserID == uuid.Nil {
		return internal.NewValidationFieldError("user_id", "user_id is required", internal.ErrCodeValidationFailed)
	}
	if dto.RoleID == uuid.Nil {
		return internal.NewValidationFieldError("role_id", "role_id is required", internal.ErrCodeValidationFailed)
	}
	if dto.ValidFrom != nil && dto.ValidUntil != nil && !dto.ValidUntil.After(*dto.ValidFrom) {
		return internal.NewValidationFieldError("valid_until", "valid_until must be after valid_from", internal.ErrCodeValidationFailed)
	}
	return nil
}

type CreatePermissionDTO struct {
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description,omitempty"`
}

func (dto CreatePermissionDTO) Validate() error {
	if dto.Resource == "" {
		return internal.NewValidationFieldError("resource", "resource is required", internal.ErrCodeValidationFailed)
	}
	if dto.Action == "" {
		return internal.NewValidationFieldError("action", "action is required", internal.ErrCodeValidationFailed)
	}
	if !identifierPattern.MatchString(dto.Resource) {
		return internal.NewValidationFieldError("resource", "resource must be a lowercase identifier", internal.ErrCodeValidationFailed)
	}
	if !identifierPattern.MatchString(dto.Action) {
		return internal.NewValidationFieldError("action", "action must be a lowercase identifier", internal.ErrCodeValidationFailed)
	}
	return nil
}

type RolePermissionDTO struct {
	Permission string `json:"permission"`
}

type RoleResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsSystem    bool      `json:"is_system_role"`
	Active      bool      `json:"active"`
	Permissions []string  `json:"permissions"`
}

func ToRoleResponse(role *Role) RoleResponse {
	permissions := make([]string, 0, len(role.Permissions))
	for _, p := range role.Permissions {
		permissions = append(permissions, p.Name)
	}
	return RoleResponse{
		ID:          role.ID,
		Name:        role.Name,
		Description: role.Description,
		IsSystem:    role.IsSystemRole,
		Active:      role.Active,
		Permissions: permissions,
	}
}
