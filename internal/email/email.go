// Package email queues transactional expiry digests for the mail worker.
// Sends are best-effort: every failure is logged and reported as false.
package email

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/albapepper/pantry-notifier/internal/domain"
)

// Template ids understood by the mail worker.
const (
	TemplateDailyExpiry  = "daily-expiry"
	TemplateWeeklyExpiry = "weekly-expiry"
)

// Publisher puts an encoded job on the email queue.
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// ItemSummary is the per-item model rendered by the template.
type ItemSummary struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	ExpirationDate string  `json:"expiration_date"`
	Quantity       float64 `json:"quantity"`
	Unit           string  `json:"unit,omitempty"`
}

// Job is the message consumed by the mail worker.
type Job struct {
	ID         string        `json:"id"`
	TemplateID string        `json:"template_id"`
	UserID     string        `json:"user_id"`
	To         string        `json:"to"`
	Name       string        `json:"name,omitempty"`
	Items      []ItemSummary `json:"items"`
	QueuedAt   time.Time     `json:"queued_at"`
}

// Service sends digests through a Publisher, throttled and guarded by a
// circuit breaker.
type Service struct {
	pub     Publisher
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewService creates an email service allowing ratePerSec publishes with the
// given burst.
func NewService(pub Publisher, ratePerSec float64, burst int, log *zap.Logger) *Service {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}
	return &Service{
		pub:     pub,
		cb:      CircuitBreaker("email-queue"),
		limiter: rate.NewLimiter(limit, burst),
		log:     log.With(zap.String("component", "email")),
	}
}

func (s *Service) SendDailyExpiryEmail(ctx context.Context, pref domain.Preference, items []domain.Item) bool {
	return s.send(ctx, TemplateDailyExpiry, pref, items)
}

func (s *Service) SendWeeklyExpiryEmail(ctx context.Context, pref domain.Preference, items []domain.Item) bool {
	return s.send(ctx, TemplateWeeklyExpiry, pref, items)
}

func (s *Service) send(ctx context.Context, templateID string, pref domain.Preference, items []domain.Item) bool {
	if pref.Email == "" {
		s.log.Warn("no email address", zap.String("user_id", pref.UserID), zap.String("template", templateID))
		return false
	}

	job := Job{
		ID:         uuid.NewString(),
		TemplateID: templateID,
		UserID:     pref.UserID,
		To:         pref.Email,
		Name:       pref.Name,
		Items:      summarize(items),
		QueuedAt:   time.Now().UTC(),
	}
	body, err := json.Marshal(job)
	if err != nil {
		s.log.Error("encode email job", zap.Error(err))
		return false
	}

	if err := s.limiter.Wait(ctx); err != nil {
		s.log.Warn("email throttle wait aborted", zap.String("user_id", pref.UserID), zap.Error(err))
		return false
	}
	_, err = s.cb.Execute(func() (interface{}, error) {
		return nil, s.pub.Publish(ctx, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			s.log.Warn("email circuit open", zap.String("user_id", pref.UserID))
		} else {
			s.log.Warn("email publish failed",
				zap.String("user_id", pref.UserID), zap.String("template", templateID), zap.Error(err))
		}
		return false
	}
	s.log.Info("email queued",
		zap.String("user_id", pref.UserID), zap.String("template", templateID), zap.Int("items", len(items)))
	return true
}

func summarize(items []domain.Item) []ItemSummary {
	out := make([]ItemSummary, 0, len(items))
	for _, it := range items {
		out = append(out, ItemSummary{
			ID:             it.ID,
			Name:           it.Name,
			ExpirationDate: it.ExpirationDate.Format(domain.DateLayout),
			Quantity:       it.Quantity,
			Unit:           it.Unit,
		})
	}
	return out
}
