package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hospitalos/authz/internal/compliance"
	"github.com/hospitalos/authz/internal/rbac"
	"github.com/hospitalos/authz/internal/tenant"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var clearData bool

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with the system catalogue",
	Long:  `Seed tenants, the system permission catalogue and per-tenant system roles.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		db, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		gormDB, err := initGorm(db)
		if err != nil {
			log.Fatalf("failed to init orm: %v", err)
		}

		if err := runSeed(context.Background(), gormDB); err != nil {
			log.Fatalf("seeding failed: %v", err)
		}
	},
}

// systemPermissions is the catalogue every deployment starts from. Names are
// resource:action; IsSystem protects them from deletion.
var systemPermissions = []struct {
	Resource string
	Action   string
	Desc     string
}{
	{"patient", "read", "Read patient demographics"},
	{"patient", "write", "Update patient demographics"},
	{"medical_record", "read", "Read medical records"},
	{"medical_record", "write", "Write medical records"},
	{"medical_record", "delete", "Delete medical records"},
	{"appointment", "read", "Read appointments"},
	{"appointment", "write", "Manage appointments"},
	{"role", "read", "List roles"},
	{"role", "manage", "Create and modify roles"},
	{"role", "assign", "Assign roles to users"},
	{"permission", "read", "List permissions"},
	{"permission", "manage", "Manage the permission catalogue"},
	{"grant", "read", "List resource grants"},
	{"grant", "manage", "Issue and revoke resource grants"},
	{"grant", "break_glass", "Issue break-glass emergency grants"},
	{"consent", "read", "Read consent records"},
	{"consent", "manage", "Record and withdraw consent"},
	{"compliance", "read", "Read compliance reports"},
}

// systemRoles maps each built-in role to its permission names.
var systemRoles = map[string][]string{
	"ADMIN": {
		"patient:read", "patient:write", "medical_record:read", "medical_record:write",
		"medical_record:delete", "appointment:read", "appointment:write",
		"role:read", "role:manage", "role:assign", "permission:read", "permission:manage",
		"grant:read", "grant:manage", "grant:break_glass",
		"consent:read", "consent:manage", "compliance:read",
	},
	"DOCTOR": {
		"patient:read", "patient:write", "medical_record:read", "medical_record:write",
		"appointment:read", "appointment:write", "consent:read", "grant:break_glass",
	},
	"NURSE": {
		"patient:read", "medical_record:read", "appointment:read", "appointment:write",
		"consent:read",
	},
	"RECEPTIONIST": {
		"patient:read", "appointment:read", "appointment:write", "consent:manage", "consent:read",
	},
	"PATIENT": {
		"consent:read",
	},
}

var demoTenants = []compliance.Tenant{
	{ID: "hospital-north", Name: "North General Hospital", Active: true},
	{ID: "hospital-south", Name: "South Clinic Group", Active: true},
}

func runSeed(ctx context.Context, db *gorm.DB) error {
	if clearData {
		// role_permissions goes first, the join table has no cascade
		for _, table := range []string{"role_permissions", "user_roles", "roles", "permissions", "tenants"} {
			if err := db.WithContext(ctx).Exec("DELETE FROM " + table).Error; err != nil {
				return fmt.Errorf("clearing %s: %w", table, err)
			}
		}
		fmt.Println("cleared existing catalogue data")
	}

	for _, t := range demoTenants {
		t.CreatedAt = time.Now()
		if err := db.WithContext(ctx).
			Where("id = ?", t.ID).
			FirstOrCreate(&t).Error; err != nil {
			return fmt.Errorf("seeding tenant %s: %w", t.ID, err)
		}
	}
	fmt.Printf("seeded %d tenants\n", len(demoTenants))

	permsByName := make(map[string]*rbac.Permission)
	for _, p := range systemPermissions {
		perm := &rbac.Permission{
			ID:          uuid.New(),
			Name:        rbac.PermissionName(p.Resource, p.Action),
			Resource:    p.Resource,
			Action:      p.Action,
			Description: p.Desc,
			IsSystem:    true,
		}
		var existing rbac.Permission
		err := db.WithContext(ctx).Where("name = ?", perm.Name).First(&existing).Error
		if err == nil {
			permsByName[perm.Name] = &existing
			continue
		}
		if err != gorm.ErrRecordNotFound {
			return fmt.Errorf("checking permission %s: %w", perm.Name, err)
		}
		if err := db.WithContext(ctx).Create(perm).Error; err != nil {
			return fmt.Errorf("seeding permission %s: %w", perm.Name, err)
		}
		permsByName[perm.Name] = perm
	}
	fmt.Printf("seeded %d system permissions\n", len(systemPermissions))

	for _, t := range demoTenants {
		for name, permNames := range systemRoles {
			if err := seedRole(ctx, db, t.ID, name, permNames, permsByName); err != nil {
				return err
			}
		}
		fmt.Printf("seeded system roles for tenant %s\n", t.ID)
	}

	return nil
}

func seedRole(ctx context.Context, db *gorm.DB, tenantID, name string, permNames []string, permsByName map[string]*rbac.Permission) error {
	return tenant.Transaction(ctx, db, tenantID, func(tx *gorm.DB) error {
		var role rbac.Role
		err := tx.Where("tenant_id = ? AND name = ?", tenantID, name).First(&role).Error
		if err == gorm.ErrRecordNotFound {
			role = rbac.Role{
				ID:           uuid.New(),
				TenantID:     tenantID,
				Name:         name,
				Description:  "system role",
				IsSystemRole: true,
				Active:       true,
			}
			if err := tx.Create(&role).Error; err != nil {
				return fmt.Errorf("seeding role %s/%s: %w", tenantID, name, err)
			}
		} else if err != nil {
			return fmt.Errorf("checking role %s/%s: %w", tenantID, name, err)
		}

		perms := make([]rbac.Permission, 0, len(permNames))
		for _, pn := range permNames {
			if p, ok := permsByName[pn]; ok {
				perms = append(perms, *p)
			}
		}
		if err := tx.Model(&role).Association("Permissions").Replace(perms); err != nil {
			return fmt.Errorf("linking permissions for %s/%s: %w", tenantID, name, err)
		}
		return nil
	})
}
