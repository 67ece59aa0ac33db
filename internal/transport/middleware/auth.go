package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hospitalos/authz/internal"
	"github.com/hospitalos/authz/internal/tenant"
	"github.com/hospitalos/authz/internal/token"
	"github.com/hospitalos/authz/pkg/logger"
)

// Authenticate verifies the bearer token and seeds the request context with
// claims, tenant and actor. Tenant resolution happens exactly once, here;
// everything downstream reads the context and never a header.
func Authenticate(parser token.ParserAPI) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				writeAuthError(w, internal.ErrInvalidToken)
				return
			}

			claims, err := parser.Parse(raw)
			if err != nil {
				writeAuthError(w, err)
				return
			}

			if claims.TenantID == "" {
				writeAuthError(w, internal.ErrMissingTenant)
				return
			}

			userID, err := claims.UserID()
			if err != nil {
				writeAuthError(w, err)
				return
			}

			ctx := token.WithClaims(r.Context(), claims)
			ctx = tenant.WithTenant(ctx, claims.TenantID)
			ctx = internal.ContextWithActor(ctx, userID)
			ctx = logger.With(ctx, "tenant_id", claims.TenantID, "user_id", userID.String())

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

func writeAuthError(w http.ResponseWriter, err error) {
	status := http.StatusUnauthorized
	var body interface{} = map[string]string{"message": "unauthorized"}
	if appErr, ok := internal.IsAppError(err); ok {
		status, body = appErr.ToHTTPResponse()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
