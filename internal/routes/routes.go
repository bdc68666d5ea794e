package routes

import (
	"log/slog"

	"github.com/BradenHooton/hms-sentinel/internal/auth"
	"github.com/BradenHooton/hms-sentinel/internal/handlers"
	"github.com/BradenHooton/hms-sentinel/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	securityHandler *handlers.SecurityHandler,
	apiKeyHandler *handlers.APIKeyHandler,
	adminHandler *handlers.AdminHandler,
	sessionVerifier *auth.SessionVerifier,
	keyValidator auth.APIKeyValidator,
	serviceAPIKey string,
	rateLimitConfig middleware.RateLimitConfig,
	logger *slog.Logger,
) {
	router.Route("/v1", func(r chi.Router) {
		// Login gate - called by the web app's auth routes with the service key or an org key
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(rateLimitConfig))
			r.Use(auth.APIKeyMiddleware(keyValidator, serviceAPIKey, logger))
			r.Post("/security/login-check", securityHandler.LoginCheck)
			r.Post("/security/login-attempts", securityHandler.LoginAttempt)
		})

		// Bearer API key routes - the service key is not accepted here
		r.Group(func(r chi.Router) {
			r.Use(auth.APIKeyMiddleware(keyValidator, "", logger))
			r.Use(middleware.RateLimitByCaller(rateLimitConfig))
			r.Get("/api-keys/whoami", apiKeyHandler.WhoAmI)
		})

		// Session routes - identity provider session with an active organization
		r.Group(func(r chi.Router) {
			r.Use(auth.SessionMiddleware(sessionVerifier))
			r.Use(middleware.RateLimitByCaller(rateLimitConfig))

			r.Post("/api-keys", apiKeyHandler.CreateAPIKey)
			r.Get("/api-keys", apiKeyHandler.ListAPIKeys)
			r.Delete("/api-keys/{id}", apiKeyHandler.DeleteAPIKey)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAdmin)
				r.Post("/admin/security/unlock", adminHandler.UnlockAccount)
				r.Get("/admin/security/lock-status", adminHandler.LockStatus)
				r.Get("/admin/security/stats", adminHandler.GetDashboardStats)
			})
		})
	})
}
