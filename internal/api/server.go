// Package api wires the admin HTTP surface: health checks, manual expiry
// checks, test pushes, on-demand sweeps and delivery log inspection.
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"

	"github.com/albapepper/pantry-notifier/internal/api/handler"
	"github.com/albapepper/pantry-notifier/internal/config"
)

// Deps are the collaborators the handlers call.
type Deps struct {
	Notifier  handler.Notifier
	Scheduler handler.Scheduler
	Store     handler.Store
	Logger    *zap.Logger
}

// NewRouter creates and configures the Chi router with all middleware and routes.
func NewRouter(deps Deps, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()

	// --- Middleware stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TimingMiddleware)
	r.Use(middleware.Recoverer)

	// CORS
	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Process-Time", "X-Request-Id"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	// Rate limiting
	if cfg.RateLimitEnabled {
		r.Use(RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindow))
	}

	// --- Handler dependencies ---
	h := handler.New(deps.Notifier, deps.Scheduler, deps.Store, deps.Logger)

	// --- Routes ---

	// Root
	r.Get("/", h.Root)

	// Health checks
	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.HealthCheck)
		r.Get("/db", h.HealthCheckDB)
	})

	// Swagger UI
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/docs/doc.json")))

	// API v1 admin routes
	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(AdminAuth(cfg.AdminJWTSecret, cfg.IsProduction()))

		r.Post("/users/{userID}/expiry-check", h.CheckExpiry)
		r.Post("/users/{userID}/test-notification", h.TestNotification)
		r.Get("/users/{userID}/deliveries", h.ListDeliveries)
		r.Post("/sweeps/{task}", h.TriggerSweep)
	})

	return r
}
