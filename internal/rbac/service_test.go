package rbac_test

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hospitalos/authz/internal"
	"github.com/hospitalos/authz/internal/rbac"
	"github.com/hospitalos/authz/internal/tenant"
)

// Mock permission repository for testing
type mockPermRepo struct {
	permissions map[string]*rbac.Permission
	deleted     []uuid.UUID
}

func newMockPermRepo() *mockPermRepo {
	return &mockPermRepo{permissions: make(map[string]*rbac.Permission)}
}

func (m *mockPermRepo) Create(ctx context.Context, permission *rbac.Permission) error {
	m.permissions[permission.Name] = permission
	return nil
}

func (m *mockPermRepo) GetByName(ctx context.Context, name string) (*rbac.Permission, error) {
	return m.permissions[name], nil
}

func (m *mockPermRepo) GetByResourceAction(ctx context.Context, resource, action string) (*rbac.Permission, error) {
	return m.permissions[rbac.PermissionName(resource, action)], nil
}

func (m *mockPermRepo) List(ctx context.Context) ([]*rbac.Permission, error) {
	var out []*rbac.Permission
	for _, p := range m.permissions {
		out = append(out, p)
	}
	return out, nil
}

func (m *mockPermRepo) Delete(ctx context.Context, id uuid.UUID) error {
	m.deleted = append(m.deleted, id)
	for name, p := range m.permissions {
		if p.ID == id {
			delete(m.permissions, name)
		}
	}
	return nil
}

var _ = Describe("Service", func() {
	var (
		roleRepo     *mockRoleRepo
		permRepo     *mockPermRepo
		userRoleRepo *mockUserRoleRepo
		service      *rbac.Service
		ctx          context.Context
	)

	const tenantID = "hospital-north"

	BeforeEach(func() {
		roleRepo = newMockRoleRepo()
		permRepo = newMockPermRepo()
		userRoleRepo = &mockUserRoleRepo{}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
		service = rbac.NewService(roleRepo, permRepo, userRoleRepo, logger)
		ctx = tenant.WithTenant(context.Background(), tenantID)
	})

	Describe("CreateRole", func() {
		It("should create an active tenant-scoped role", func() {
			role, err := service.CreateRole(ctx, rbac.CreateRoleDTO{Name: "DOCTOR", Description: "attending physicians"})
			Expect(err).NotTo(HaveOccurred())
			Expect(role.TenantID).To(Equal(tenantID))
			Expect(role.Active).To(BeTrue())
		})

		It("should reject a duplicate name within the tenant", func() {
			_, err := service.CreateRole(ctx, rbac.CreateRoleDTO{Name: "DOCTOR"})
			Expect(err).NotTo(HaveOccurred())

			_, err = service.CreateRole(ctx, rbac.CreateRoleDTO{Name: "DOCTOR"})
			Expect(err).To(MatchError(internal.ErrRoleExists))
		})

		It("should allow the same name in a different tenant", func() {
			_, err := service.CreateRole(ctx, rbac.CreateRoleDTO{Name: "DOCTOR"})
			Expect(err).NotTo(HaveOccurred())

			otherCtx := tenant.WithTenant(context.Background(), "hospital-south")
			_, err = service.CreateRole(otherCtx, rbac.CreateRoleDTO{Name: "DOCTOR"})
			Expect(err).NotTo(HaveOccurred())
		})

		It("should reject an empty name", func() {
			_, err := service.CreateRole(ctx, rbac.CreateRoleDTO{})
			Expect(err).To(HaveOccurred())
			_, isAppErr := internal.IsAppError(err)
			Expect(isAppErr).To(BeTrue())
		})

		It("should fail without a tenant in context", func() {
			_, err := service.CreateRole(context.Background(), rbac.CreateRoleDTO{Name: "DOCTOR"})
			Expect(err).To(MatchError(internal.ErrMissingTenant))
		})
	})

	Describe("DeactivateRole", func() {
		It("should soft-disable an existing role", func() {
			role, err := service.CreateRole(ctx, rbac.CreateRoleDTO{Name: "NURSE"})
			Expect(err).NotTo(HaveOccurred())

			Expect(service.DeactivateRole(ctx, role.ID)).To(Succeed())
			Expect(role.Active).To(BeFalse())
		})

		It("should report a missing role", func() {
			err := service.DeactivateRole(ctx, uuid.New())
			Expect(err).To(MatchError(internal.ErrRoleNotFound))
		})
	})

	Describe("AssignRole", func() {
		var roleID uuid.UUID

		BeforeEach(func() {
			role, err := service.CreateRole(ctx, rbac.CreateRoleDTO{Name: "DOCTOR"})
			Expect(err).NotTo(HaveOccurred())
			roleID = role.ID
		})

		It("should create an assignment with valid_from defaulted to now", func() {
			assignment, err := service.AssignRole(ctx, rbac.AssignRoleDTO{UserID: uuid.New(), RoleID: roleID})
			Expect(err).NotTo(HaveOccurred())
			Expect(assignment.Active).To(BeTrue())
			Expect(assignment.ValidFrom).NotTo(BeNil())
		})

		It("should reject a second active assignment for the same pair", func() {
			userID := uuid.New()
			_, err := service.AssignRole(ctx, rbac.AssignRoleDTO{UserID: userID, RoleID: roleID})
			Expect(err).NotTo(HaveOccurred())

			_, err = service.AssignRole(ctx, rbac.AssignRoleDTO{UserID: userID, RoleID: roleID})
			Expect(err).To(MatchError(internal.ErrAssignmentExists))
		})

		It("should reject assignment of a role that does not exist", func() {
			_, err := service.AssignRole(ctx, rbac.AssignRoleDTO{UserID: uuid.New(), RoleID: uuid.New()})
			Expect(err).To(MatchError(internal.ErrRoleNotFound))
		})
	})

	Describe("RevokeRole", func() {
		It("should deactivate the assignment", func() {
			role, err := service.CreateRole(ctx, rbac.CreateRoleDTO{Name: "DOCTOR"})
			Expect(err).NotTo(HaveOccurred())
			assignment, err := service.AssignRole(ctx, rbac.AssignRoleDTO{UserID: uuid.New(), RoleID: role.ID})
			Expect(err).NotTo(HaveOccurred())

			Expect(service.RevokeRole(ctx, assignment.ID)).To(Succeed())
			Expect(assignment.Active).To(BeFalse())
		})

		It("should report a missing assignment", func() {
			err := service.RevokeRole(ctx, uuid.New())
			Expect(err).To(MatchError(internal.ErrAssignmentNotFound))
		})
	})

	Describe("CreatePermission", func() {
		It("should derive the canonical resource:action name", func() {
			permission, err := service.CreatePermission(ctx, rbac.CreatePermissionDTO{Resource: "medical_record", Action: "read"})
			Expect(err).NotTo(HaveOccurred())
			Expect(permission.Name).To(Equal("medical_record:read"))
		})

		It("should reject a duplicate resource:action pair", func() {
			_, err := service.CreatePermission(ctx, rbac.CreatePermissionDTO{Resource: "patient", Action: "read"})
			Expect(err).NotTo(HaveOccurred())

			_, err = service.CreatePermission(ctx, rbac.CreatePermissionDTO{Resource: "patient", Action: "read"})
			Expect(err).To(MatchError(internal.ErrPermissionExists))
		})
	})

	Describe("DeletePermission", func() {
		It("should refuse to delete a system permission", func() {
			id := uuid.New()
			permRepo.permissions["role:manage"] = &rbac.Permission{ID: id, Name: "role:manage", IsSystem: true}

			err := service.DeletePermission(ctx, id)
			Expect(err).To(MatchError(internal.ErrSystemPermissionImmutable))
			Expect(permRepo.deleted).To(BeEmpty())
		})

		It("should delete a custom permission", func() {
			permission, err := service.CreatePermission(ctx, rbac.CreatePermissionDTO{Resource: "lab_result", Action: "read"})
			Expect(err).NotTo(HaveOccurred())

			Expect(service.DeletePermission(ctx, permission.ID)).To(Succeed())
			Expect(permRepo.deleted).To(ContainElement(permission.ID))
		})

		It("should report a missing permission", func() {
			err := service.DeletePermission(ctx, uuid.New())
			Expect(err).To(MatchError(internal.ErrPermissionNotFound))
		})
	})

	Describe("AddPermissionToRole", func() {
		It("should resolve the permission by name and attach it", func() {
			role, err := service.CreateRole(ctx, rbac.CreateRoleDTO{Name: "DOCTOR"})
			Expect(err).NotTo(HaveOccurred())
			_, err = service.CreatePermission(ctx, rbac.CreatePermissionDTO{Resource: "patient", Action: "read"})
			Expect(err).NotTo(HaveOccurred())

			Expect(service.AddPermissionToRole(ctx, role.ID, "patient:read")).To(Succeed())
		})

		It("should report an unknown permission name", func() {
			role, err := service.CreateRole(ctx, rbac.CreateRoleDTO{Name: "DOCTOR"})
			Expect(err).NotTo(HaveOccurred())

			err = service.AddPermissionToRole(ctx, role.ID, "nope:never")
			Expect(err).To(MatchError(internal.ErrPermissionNotFound))
		})
	})
})
