package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouteDeps carries everything the router mounts. Auth must be set;
// Health may be nil.
type RouteDeps struct {
	Publisher      Publisher
	Auth           func(http.Handler) http.Handler
	Health         *HealthChecker
	AllowedOrigins []string
}

// SetupRoutes configures all API routes.
func SetupRoutes(deps RouteDeps) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Credentials are allowed so the session cookie crosses origins; the
	// origin list must therefore be explicit.
	if len(deps.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   deps.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-Token"},
			ExposedHeaders:   []string{"Location"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Health check (no auth required)
	if deps.Health != nil {
		r.Get("/health", deps.Health.HandleHealth)
		r.Get("/health/live", deps.Health.HandleLiveness)
		r.Get("/health/ready", deps.Health.HandleReadiness)
	}

	r.Route("/admin", func(r chi.Router) {
		r.Use(deps.Auth)
		r.Post("/newsletters", NewNewsletterHandler(deps.Publisher).HandlePublish)
	})

	return r
}
