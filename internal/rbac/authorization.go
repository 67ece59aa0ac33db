package rbac

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hospitalos/authz/internal"
	"github.com/hospitalos/authz/internal/token"
)

// Authorizer builds a request-scoped Resolver from the claims the auth
// middleware attached, and exposes route guards in middleware form.
type Authorizer struct {
	roles     RoleRepositoryAPI
	userRoles UserRoleRepositoryAPI
	grants    GrantCheckerAPI
	logger    *slog.Logger
}

func NewAuthorizer(roles RoleRepositoryAPI, userRoles UserRoleRepositoryAPI, grants GrantCheckerAPI, logger *slog.Logger) *Authorizer {
	return &Authorizer{
		roles:     roles,
		userRoles: userRoles,
		grants:    grants,
		logger:    logger,
	}
}

// ResolverFor builds the decision point for one request.
func (a *Authorizer) ResolverFor(claims *token.Claims) *Resolver {
	return NewResolver(claims, a.roles, a.userRoles, a.grants, a.logger)
}

func (a *Authorizer) RequirePermission(permission string) func(http.Handler) http.Handler {
	return a.guard(func(r *http.Request, resolver *Resolver) error {
		return resolver.RequirePermission(r.Context(), permission)
	})
}

func (a *Authorizer) RequireRole(role string) func(http.Handler) http.Handler {
	return a.guard(func(r *http.Request, resolver *Resolver) error {
		return resolver.RequireRole(r.Context(), role)
	})
}

func (a *Authorizer) RequireAnyPermission(permissions ...string) func(http.Handler) http.Handler {
	return a.guard(func(r *http.Request, resolver *Resolver) error {
		ok, err := resolver.HasAnyPermission(r.Context(), permissions...)
		if err != nil {
			return err
		}
		if !ok {
			return internal.ErrPermissionDenied
		}
		return nil
	})
}

func (a *Authorizer) guard(check func(r *http.Request, resolver *Resolver) error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := token.FromContext(r.Context())
			if !ok {
				a.logger.Warn("authorization check failed: no claims in context")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			err := check(r, a.ResolverFor(claims))
			if err == nil {
				next.ServeHTTP(w, r)
				return
			}

			var appErr *internal.AppError
			if errors.As(err, &appErr) {
				switch appErr.Type {
				case internal.ErrorTypeForbidden:
					http.Error(w, "Forbidden: insufficient permissions", http.StatusForbidden)
					return
				case internal.ErrorTypeUnauthorized:
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
					return
				}
			}

			a.logger.ErrorContext(r.Context(), "authorization check failed", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		})
	}
}
