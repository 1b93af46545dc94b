package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/albapepper/pantry-notifier/internal/api/respond"
	"github.com/albapepper/pantry-notifier/internal/domain"
	"github.com/albapepper/pantry-notifier/internal/notifications"
	"github.com/albapepper/pantry-notifier/internal/scheduler"
	"github.com/albapepper/pantry-notifier/internal/store"
)

const (
	defaultDeliveriesLimit = 50
	maxDeliveriesLimit     = 500
)

// UserResultResponse summarises one user's evaluation.
type UserResultResponse struct {
	UserID     string   `json:"user_id"`
	Sent       int      `json:"sent"`
	Failed     int      `json:"failed"`
	Suppressed int      `json:"suppressed"`
	Skipped    bool     `json:"skipped"`
	Errors     []string `json:"errors,omitempty"`
}

// DeviceResultResponse is the outcome of one push endpoint.
type DeviceResultResponse struct {
	TargetID string `json:"target_id"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// OutcomeResponse aggregates a dispatch.
type OutcomeResponse struct {
	Success   bool                   `json:"success"`
	Successes int                    `json:"successes"`
	Failures  int                    `json:"failures"`
	Devices   []DeviceResultResponse `json:"devices"`
}

// DeliveryResponse is one delivery log row.
type DeliveryResponse struct {
	ID           string  `json:"id"`
	ItemID       *string `json:"item_id"`
	Category     string  `json:"category"`
	SentAt       string  `json:"sent_at"`
	Success      bool    `json:"success"`
	ErrorMessage *string `json:"error_message"`
}

// CheckExpiry runs an expiry check for one user right now.
// @Summary Run an expiry check
// @Description Evaluates the user's expiring and expired items immediately, ignoring the notification window and quiet hours. Items already alerted within the dedup window are not re-sent.
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param userID path string true "User ID"
// @Success 200 {object} UserResultResponse
// @Failure 404 {object} respond.ErrorResponse
// @Failure 409 {object} respond.ErrorResponse
// @Router /admin/users/{userID}/expiry-check [post]
func (h *Handler) CheckExpiry(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	res, err := h.notifier.CheckUserExpiry(r.Context(), userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "No notification preferences for user "+userID)
		return
	case errors.Is(err, notifications.ErrDisabled):
		respond.WriteError(w, http.StatusConflict, "DISABLED", "Notifications are disabled for user "+userID)
		return
	case err != nil:
		h.log.Error("expiry check failed", zap.String("user_id", userID), zap.Error(err))
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "INTERNAL", "Expiry check failed", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, UserResultResponse{
		UserID:     res.UserID,
		Sent:       res.Sent,
		Failed:     res.Failed,
		Suppressed: res.Suppressed,
		Skipped:    res.Skipped,
		Errors:     res.Errors,
	})
}

// TestNotification pushes a test message to every device of a user.
// @Summary Send a test push
// @Description Sends the catalog test notification to each registered device. Not deduplicated; logged under the test category.
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param userID path string true "User ID"
// @Success 200 {object} OutcomeResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /admin/users/{userID}/test-notification [post]
func (h *Handler) TestNotification(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	out, err := h.notifier.SendTestNotification(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "No notification preferences for user "+userID)
		return
	}
	if err != nil {
		h.log.Error("test notification failed", zap.String("user_id", userID), zap.Error(err))
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "INTERNAL", "Test notification failed", err.Error())
		return
	}

	resp := OutcomeResponse{
		Success:   out.Success(),
		Successes: out.Successes,
		Failures:  out.Failures,
		Devices:   make([]DeviceResultResponse, 0, len(out.Results)),
	}
	for _, d := range out.Results {
		dr := DeviceResultResponse{TargetID: d.TargetID, Success: d.Success}
		if d.Err != nil {
			dr.Error = d.Err.Error()
		}
		resp.Devices = append(resp.Devices, dr)
	}
	respond.WriteJSONObject(w, http.StatusOK, resp)
}

// TriggerSweep runs a scheduler task once and waits for it.
// @Summary Run a scheduled task now
// @Description Runs the fine sweep, daily catch-up sweep or maintenance task synchronously.
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param task path string true "Task name" Enums(fine, daily, maintenance)
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} respond.ErrorResponse
// @Failure 503 {object} respond.ErrorResponse
// @Router /admin/sweeps/{task} [post]
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	task := chi.URLParam(r, "task")
	start := h.now()
	if err := h.scheduler.Trigger(r.Context(), task); err != nil {
		if errors.Is(err, scheduler.ErrUnknownTask) {
			respond.WriteError(w, http.StatusNotFound, "UNKNOWN_TASK", "Unknown task "+task)
			return
		}
		if errors.Is(err, scheduler.ErrStopped) {
			respond.WriteError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "Scheduler is shutting down")
			return
		}
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "INTERNAL", "Task failed", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"task":        task,
		"status":      "completed",
		"duration_ms": h.now().Sub(start).Milliseconds(),
	})
}

// ListDeliveries returns a user's recent delivery log rows, newest first.
// @Summary List recent deliveries
// @Description Returns delivery log rows for the user written within the lookback period.
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param userID path string true "User ID"
// @Param since query string false "Lookback duration, e.g. 24h" default(24h)
// @Param limit query int false "Maximum rows" default(50)
// @Success 200 {array} DeliveryResponse
// @Failure 400 {object} respond.ErrorResponse
// @Router /admin/users/{userID}/deliveries [get]
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	lookback := 24 * time.Hour
	if s := r.URL.Query().Get("since"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			respond.WriteError(w, http.StatusBadRequest, "INVALID_SINCE", "since must be a positive duration such as 24h")
			return
		}
		lookback = d
	}
	limit := defaultDeliveriesLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			respond.WriteError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = min(n, maxDeliveriesLimit)
	}

	rows, err := h.store.RecentDeliveries(r.Context(), userID, h.now().Add(-lookback), limit)
	if err != nil {
		h.log.Error("list deliveries failed", zap.String("user_id", userID), zap.Error(err))
		respond.WriteError(w, http.StatusInternalServerError, "INTERNAL", "Failed to load deliveries")
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, toDeliveryResponses(rows))
}

func toDeliveryResponses(rows []domain.DeliveryLogEntry) []DeliveryResponse {
	out := make([]DeliveryResponse, 0, len(rows))
	for _, e := range rows {
		out = append(out, DeliveryResponse{
			ID:           e.ID,
			ItemID:       e.ItemID,
			Category:     string(e.Category),
			SentAt:       e.SentAt.UTC().Format(time.RFC3339),
			Success:      e.Success,
			ErrorMessage: e.ErrorMessage,
		})
	}
	return out
}
