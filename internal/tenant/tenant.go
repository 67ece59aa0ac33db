package tenant

import (
	"context"
	"strings"

	"github.com/hospitalos/authz/internal"
)

type ctxKey string

const contextTenantKey ctxKey = "tenantID"

// WithTenant attaches the resolved tenant to the request context. Only the
// auth/tenant middleware should call this; everything downstream reads the
// value through FromContext.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, contextTenantKey, tenantID)
}

// FromContext returns the current tenant or ErrMissingTenant. There is
// deliberately no default tenant: an unresolved tenant is fatal to the
// request, never an empty result set.
func FromContext(ctx context.Context) (string, error) {
	if ctx == nil {
		return "", internal.ErrMissingTenant
	}
	tenantID, ok := ctx.Value(contextTenantKey).(string)
	if !ok || strings.TrimSpace(tenantID) == "" {
		return "", internal.ErrMissingTenant
	}
	return tenantID, nil
}

// IsSet reports whether a tenant has been resolved for this context.
func IsSet(ctx context.Context) bool {
	_, err := FromContext(ctx)
	return err == nil
}
