package rbac

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hospitalos/authz/internal"
	"github.com/hospitalos/authz/internal/metrics"
	"github.com/hospitalos/authz/internal/tenant"
	"github.com/hospitalos/authz/internal/token"
)

// Resolver is the authorization decision point for one request. It is built
// from the already-parsed token claims and consults storage only when the
// claims fast path misses.
//
// Resolution order: token claims (cheap, stale up to token expiry) → role
// aggregation (authoritative) → resource-level grant (most specific). A
// generic role permission always dominates resource grants.
type Resolver struct {
	claims    *token.Claims
	roles     RoleRepositoryAPI
	userRoles UserRoleRepositoryAPI
	grants    GrantCheckerAPI
	logger    *slog.Logger
	now       func() time.Time
}

func NewResolver(claims *token.Claims, roles RoleRepositoryAPI, userRoles UserRoleRepositoryAPI, grants GrantCheckerAPI, logger *slog.Logger) *Resolver {
	return &Resolver{
		claims:    claims,
		roles:     roles,
		userRoles: userRoles,
		grants:    grants,
		logger:    logger,
		now:       time.Now,
	}
}

// ResourceFilter is the result of AccessibleResources. Unrestricted means the
// caller holds the generic permission and no filter must be applied; it is
// explicitly distinct from an empty ID list, which means no access at all.
type ResourceFilter struct {
	Unrestricted bool
	IDs          []uuid.UUID
}

// HasPermission reports whether the caller holds the named permission in the
// current tenant. Absence is a valid answer, never an error; the returned
// error only signals infrastructure failure or a missing tenant.
func (r *Resolver) HasPermission(ctx context.Context, name string) (bool, error) {
	if r.claims.HasPermission(name) {
		metrics.AuthzDecision(metrics.OutcomeAllowed)
		return true, nil
	}

	permissions, err := r.userPermissions(ctx)
	if err != nil {
		return false, err
	}

	_, ok := permissions[name]
	if ok {
		metrics.AuthzDecision(metrics.OutcomeAllowed)
	} else {
		metrics.AuthzDecision(metrics.OutcomeDenied)
	}
	return ok, nil
}

// HasAnyPermission is an OR fan-out over HasPermission. The checks are
// commutative, so short-circuiting on the first hit is safe.
func (r *Resolver) HasAnyPermission(ctx context.Context, names ...string) (bool, error) {
	for _, name := range names {
		ok, err := r.HasPermission(ctx, name)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (r *Resolver) HasAllPermissions(ctx context.Context, names ...string) (bool, error) {
	for _, name := range names {
		ok, err := r.HasPermission(ctx, name)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// HasRole checks role membership: claims fast path first, then the
// assignment table under the current tenant.
func (r *Resolver) HasRole(ctx context.Context, name string) (bool, error) {
	if r.claims.HasRole(name) {
		return true, nil
	}

	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return false, err
	}
	userID, err := r.claims.UserID()
	if err != nil {
		return false, err
	}

	role, err := r.roles.GetByName(ctx, tenantID, name)
	if err != nil {
		return false, err
	}
	if role == nil || !role.Active {
		return false, nil
	}

	return r.userRoles.HasRole(ctx, tenantID, userID, role.ID, r.now())
}

// CanAccessResource decides access to one resource instance. The generic
// `resourceType:action` permission dominates: when it holds, resource-level
// grants are not consulted at all, revoked or not.
func (r *Resolver) CanAccessResource(ctx context.Context, resourceType string, resourceID uuid.UUID, action string) (bool, error) {
	ok, err := r.HasPermission(ctx, PermissionName(resourceType, action))
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	userID, err := r.claims.UserID()
	if err != nil {
		return false, err
	}

	granted, err := r.grants.HasValidGrant(ctx, userID, resourceType, resourceID, action)
	if err != nil {
		return false, err
	}
	if granted {
		metrics.AuthzDecision(metrics.OutcomeAllowed)
	}
	return granted, nil
}

// AccessibleResources returns the set of resource ids the caller may touch.
// Callers must treat Unrestricted=true as "no filter", never as "no access".
func (r *Resolver) AccessibleResources(ctx context.Context, resourceType, action string) (ResourceFilter, error) {
	ok, err := r.HasPermission(ctx, PermissionName(resourceType, action))
	if err != nil {
		return ResourceFilter{}, err
	}
	if ok {
		return ResourceFilter{Unrestricted: true}, nil
	}

	userID, err := r.claims.UserID()
	if err != nil {
		return ResourceFilter{}, err
	}

	ids, err := r.grants.AccessibleResources(ctx, userID, resourceType, action)
	if err != nil {
		return ResourceFilter{}, err
	}
	return ResourceFilter{IDs: ids}, nil
}

// RequirePermission is the guard form of HasPermission: a miss is a hard
// authorization failure. The error is deliberately generic so the caller
// cannot tell which layer denied.
func (r *Resolver) RequirePermission(ctx context.Context, name string) error {
	ok, err := r.HasPermission(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		r.logger.WarnContext(ctx, "permission denied", "permission", name, "user_id", r.claims.Subject)
		return internal.ErrPermissionDenied
	}
	return nil
}

func (r *Resolver) RequireRole(ctx context.Context, name string) error {
	ok, err := r.HasRole(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		r.logger.WarnContext(ctx, "role required but not held", "role", name, "user_id", r.claims.Subject)
		return internal.ErrPermissionDenied
	}
	return nil
}

// userPermissions unions the permission sets of every valid role assignment
// the caller holds in the current tenant.
func (r *Resolver) userPermissions(ctx context.Context) (map[string]struct{}, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	userID, err := r.claims.UserID()
	if err != nil {
		return nil, err
	}

	assignments, err := r.userRoles.FindValidByUser(ctx, tenantID, userID, r.now())
	if err != nil {
		return nil, err
	}
	if len(assignments) == 0 {
		return map[string]struct{}{}, nil
	}

	roleIDs := make([]uuid.UUID, 0, len(assignments))
	for _, assignment := range assignments {
		roleIDs = append(roleIDs, assignment.RoleID)
	}

	roles, err := r.roles.ListByIDsWithPermissions(ctx, tenantID, roleIDs)
	if err != nil {
		return nil, err
	}

	permissions := make(map[string]struct{})
	for _, role := range roles {
		if !role.Active {
			continue
		}
		for _, p := range role.Permissions {
			permissions[p.Name] = struct{}{}
		}
	}
	return permissions, nil
}
