// Package handler provides HTTP handlers for the admin API. Handlers call the
// notifier and scheduler directly; there is no service layer.
package handler

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/albapepper/pantry-notifier/internal/api/respond"
	"github.com/albapepper/pantry-notifier/internal/domain"
	"github.com/albapepper/pantry-notifier/internal/notifications"
)

// Notifier is the manual entry surface of the notification pipeline.
type Notifier interface {
	CheckUserExpiry(ctx context.Context, userID string) (notifications.UserResult, error)
	SendTestNotification(ctx context.Context, userID string) (notifications.Outcome, error)
}

// Scheduler runs a registered task synchronously.
type Scheduler interface {
	Trigger(ctx context.Context, name string) error
}

// Store is the read side the admin API needs.
type Store interface {
	HealthCheck(ctx context.Context) error
	RecentDeliveries(ctx context.Context, userID string, since time.Time, limit int) ([]domain.DeliveryLogEntry, error)
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	notifier  Notifier
	scheduler Scheduler
	store     Store
	log       *zap.Logger
	now       func() time.Time
}

// New creates a Handler with shared dependencies.
func New(n Notifier, s Scheduler, st Store, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		notifier:  n,
		scheduler: s,
		store:     st,
		log:       log.With(zap.String("component", "api")),
		now:       time.Now,
	}
}

// Root serves API info at /.
// @Summary API root info
// @Description Returns service name, version and status.
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"name":    "Pantry Notifier",
		"version": "1.0.0",
		"status":  "running",
		"docs":    "/docs/",
	})
}

// HealthCheck returns basic health status.
// @Summary Health check
// @Description Returns basic health status and timestamp.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckDB verifies database connectivity.
// @Summary Database health check
// @Description Verifies the store answers a trivial query.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/db [get]
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	if err := h.store.HealthCheck(r.Context()); err != nil {
		h.log.Warn("database health check failed", zap.Error(err))
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "unhealthy",
			"database":  "disconnected",
			"error":     "Database connection check failed",
			"timestamp": h.now().UTC().Format(time.RFC3339),
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}
