package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/hospitalos/authz/internal"
	"github.com/hospitalos/authz/internal/compliance"
	"github.com/hospitalos/authz/internal/consent"
	"github.com/hospitalos/authz/internal/grants"
	"github.com/hospitalos/authz/internal/rbac"
	"github.com/hospitalos/authz/internal/token"
	"github.com/hospitalos/authz/internal/transport/middleware"
	"github.com/hospitalos/authz/internal/transport/swagger"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, cfg *internal.Config, parser token.ParserAPI, authorizer *rbac.Authorizer, rbacHandler *rbac.Handler, grantsHandler *grants.Handler, consentHandler *consent.Handler, complianceHandler *compliance.Handler, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db)

	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	router.Handle("/swagger/*", swagger.Handler())

	if cfg.Observability.Metrics.Enabled {
		router.Handle(cfg.Observability.Metrics.Path, promhttp.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		// everything below carries a bearer token; the middleware seeds
		// claims, tenant and actor into the request context
		r.Group(func(pr chi.Router) {
			pr.Use(middleware.Authenticate(parser))

			pr.Route("/roles", func(rr chi.Router) {
				rr.With(authorizer.RequirePermission("role:read")).Get("/", rbacHandler.ListRoles)
				rr.With(authorizer.RequirePermission("role:read")).Get("/{id}", rbacHandler.GetRole)

				rr.Group(func(mr chi.Router) {
					mr.Use(authorizer.RequirePermission("role:manage"))
					mr.Post("/", rbacHandler.CreateRole)
					mr.Delete("/{id}", rbacHandler.DeactivateRole)
					mr.Post("/{id}/permissions/{permission}", rbacHandler.AddRolePermission)
					mr.Delete("/{id}/permissions/{permission}", rbacHandler.RemoveRolePermission)
				})

				rr.Group(func(ar chi.Router) {
					ar.Use(authorizer.RequirePermission("role:assign"))
					ar.Post("/assignments", rbacHandler.AssignRole)
					ar.Delete("/assignments/{id}", rbacHandler.RevokeRole)
				})
			})

			pr.Route("/permissions", func(pmr chi.Router) {
				pmr.With(authorizer.RequirePermission("permission:read")).Get("/", rbacHandler.ListPermissions)

				pmr.Group(func(mr chi.Router) {
					mr.Use(authorizer.RequirePermission("permission:manage"))
					mr.Post("/", rbacHandler.CreatePermission)
					mr.Delete("/{id}", rbacHandler.DeletePermission)
				})
			})

			pr.Route("/grants", func(gr chi.Router) {
				gr.With(authorizer.RequirePermission("grant:read")).Get("/users/{userId}", grantsHandler.ListUserGrants)
				gr.With(authorizer.RequirePermission("grant:read")).Get("/break-glass", grantsHandler.ListBreakGlassGrants)

				gr.Group(func(mr chi.Router) {
					mr.Use(authorizer.RequirePermission("grant:manage"))
					mr.Post("/", grantsHandler.GrantPermission)
					mr.Delete("/{id}", grantsHandler.RevokeGrant)
					mr.Delete("/resources/{resourceType}/{resourceId}", grantsHandler.RevokeAllForResource)
				})

				gr.With(authorizer.RequirePermission("grant:break_glass")).
					Post("/break-glass", grantsHandler.GrantBreakGlass)
			})

			pr.Route("/consents", func(cr chi.Router) {
				cr.Group(func(rr chi.Router) {
					rr.Use(authorizer.RequirePermission("consent:read"))
					rr.Get("/{id}", consentHandler.GetConsent)
					rr.Get("/{id}/audit", consentHandler.GetAuditTrail)
					rr.Get("/patients/{patientId}/active", consentHandler.ListActiveConsents)
					rr.Get("/patients/{patientId}/history", consentHandler.ConsentHistory)
					rr.Get("/check/{patientId}/{purpose}", consentHandler.CheckConsent)
					rr.Get("/expiring", consentHandler.ExpiringSoon)
				})

				cr.Group(func(mr chi.Router) {
					mr.Use(authorizer.RequirePermission("consent:manage"))
					mr.Post("/", consentHandler.GrantConsent)
					mr.Post("/{id}/withdraw", consentHandler.WithdrawConsent)
					mr.Post("/{id}/renew", consentHandler.RenewConsent)
					mr.Post("/patients/{patientId}/withdraw-all", consentHandler.WithdrawAllConsents)
					mr.Post("/patients/{patientId}/defaults", consentHandler.GrantDefaultConsents)
				})
			})

			pr.With(authorizer.RequirePermission("compliance:read")).
				Get("/compliance/report", complianceHandler.GetReport)
		})
	})
}
