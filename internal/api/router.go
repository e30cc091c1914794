package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/storekeep/storekeep-core/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Liveness and metrics sit outside the versioned API so probes and
	// scrapers don't depend on API versioning.
	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil && s.cfg.Metrics.Enabled {
		r.Handle("/metrics", s.metrics.Handler())
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Credential endpoints (no auth required, rate limited per client IP)
		r.Group(func(r chi.Router) {
			r.Use(s.rateLimitMiddleware)
			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/2fa/verify", s.handleVerifyChallenge)
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/logout", s.handleLogout)
			r.Get("/auth/me", s.handleMe)
			r.Post("/auth/password", s.handleChangePassword)

			// Two-factor enrollment (self-service)
			r.Route("/auth/2fa", func(r chi.Router) {
				r.Post("/setup", s.handleTwoFactorSetup)
				r.Post("/confirm", s.handleTwoFactorConfirm)
				r.Post("/backup-codes", s.handleRegenerateBackupCodes)
				r.Delete("/", s.handleTwoFactorDisable)
			})

			// Trusted devices (self-service)
			r.Route("/auth/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Delete("/", s.handleRevokeAllDevices)
				r.Delete("/{id}", s.handleRevokeDevice)
			})

			// Account administration
			r.Route("/users", func(r chi.Router) {
				r.Use(s.requireRoles(auth.RoleSuperAdmin, auth.RoleCompanyAdmin))
				r.Get("/", s.handleListUsers)
				r.Post("/", s.handleCreateUser)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetUser)
					r.Patch("/", s.handleUpdateUser)
					r.Delete("/", s.handleDeleteUser)
					r.Post("/devices/revoke", s.handleRevokeUserDevices)
				})
			})

			// Tenant administration
			r.Route("/companies", func(r chi.Router) {
				r.Use(s.requireRoles(auth.RoleSuperAdmin))
				r.Get("/", s.handleListCompanies)
				r.Post("/", s.handleCreateCompany)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetCompany)
					r.Patch("/", s.handleUpdateCompany)
				})
			})

			// Store administration. The gate names store_owner; the
			// capability cover lets company_admin and super_admin through.
			r.Route("/stores", func(r chi.Router) {
				r.Use(s.requireRoles(auth.RoleStoreOwner))
				r.Get("/", s.handleListStores)
				r.Post("/", s.handleCreateStore)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetStore)
					r.Patch("/", s.handleUpdateStore)
					r.Delete("/", s.handleDeleteStore)
				})
			})

			// Audit trail
			r.Group(func(r chi.Router) {
				r.Use(s.requireRoles(auth.RoleSuperAdmin, auth.RoleCompanyAdmin))
				r.Get("/audit", s.handleListAudit)
			})
		})
	})

	return r
}
