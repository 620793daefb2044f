package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/lockdown-auth/lockdown/internal/auth"
	"github.com/lockdown-auth/lockdown/internal/handlers"
	"github.com/lockdown-auth/lockdown/internal/middleware"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	adminHandler *handlers.AdminHandler,
	tokenManager *auth.TokenManager,
	loginPath string,
) {
	authRateLimit := middleware.DefaultAuthRateLimit()

	// Public routes. loginPath is the canonical path the obfuscation gate
	// rewrites hidden entries to, so both entry styles land on one handler.
	router.With(middleware.RateLimitByIP(authRateLimit)).Post("/auth/login", authHandler.Login)
	router.With(middleware.RateLimitByIP(authRateLimit)).Post(loginPath, authHandler.Login)
	router.With(middleware.RateLimitByIP(authRateLimit)).Post("/auth/register", authHandler.Register)

	// Administrative routes, bearer token required
	router.Group(func(r chi.Router) {
		r.Use(auth.AdminMiddleware(tokenManager))
		r.Use(middleware.RateLimitByIP(middleware.DefaultAdminRateLimit()))

		r.Get("/admin/attempts", adminHandler.ListAttempts)
		r.Get("/admin/attempts/export", adminHandler.ExportAttempts)
		r.Delete("/admin/attempts", adminHandler.ClearAttempts)

		r.Get("/admin/lockouts", adminHandler.ListLockouts)
		r.Delete("/admin/lockouts", adminHandler.ResetLockouts)
		r.Delete("/admin/lockouts/unlock", adminHandler.Unlock)

		r.Get("/admin/ip-lists", adminHandler.ListIPEntries)
		r.Post("/admin/ip-lists", adminHandler.AddIPEntry)
		r.Delete("/admin/ip-lists/{id}", adminHandler.RemoveIPEntry)
		r.Get("/admin/ip-lists/export", adminHandler.ExportIPEntries)
		r.Post("/admin/ip-lists/import", adminHandler.ImportIPEntries)
	})
}
