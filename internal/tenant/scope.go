package tenant

import (
	"context"

	"github.com/hospitalos/authz/internal"
	"gorm.io/gorm"
)

// rlsTenantVar is the session variable the row-level-security policies read.
// It must match the `current_setting` call in db/migrations.
const rlsTenantVar = "app.current_tenant"

// Transaction runs fn inside a transaction whose RLS session variable is
// bound to tenantID. Application-level `tenant_id = ?` filters inside fn and
// the database policies therefore derive from the same resolved value.
//
// set_config(..., true) scopes the variable to the transaction, so a pooled
// connection can never leak one tenant into another request.
func Transaction(ctx context.Context, db *gorm.DB, tenantID string, fn func(tx *gorm.DB) error) error {
	if tenantID == "" {
		return internal.ErrMissingTenant
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := bindSessionVar(tx, tenantID); err != nil {
			return err
		}
		return fn(tx)
	})
}

// bindSessionVar sets the tenant session variable on Postgres. Other dialects
// (the sqlite test harness) have no RLS, so the statement is skipped there;
// application filters still apply.
func bindSessionVar(tx *gorm.DB, tenantID string) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec("SELECT set_config(?, ?, true)", rlsTenantVar, tenantID).Error
}
