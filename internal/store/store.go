// Package store persists preferences, inventory reads, push subscriptions and
// the delivery logs. Postgres is the production backend; SQLite serves local
// runs and tests.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/albapepper/pantry-notifier/internal/domain"
)

// ErrNotFound is returned when a keyed lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store is everything the notifier reads and writes.
type Store interface {
	// Preferences
	EnabledPreferences(ctx context.Context) ([]domain.Preference, error)
	Preference(ctx context.Context, userID string) (*domain.Preference, error)
	UpdateLastEmailSent(ctx context.Context, userID string, kind domain.EmailKind, at time.Time) error

	// Inventory
	ExpiringOn(ctx context.Context, userID string, date time.Time) ([]domain.Item, error)
	ExpiredBefore(ctx context.Context, userID string, date time.Time) ([]domain.Item, error)

	// Logs
	InsertDeliveries(ctx context.Context, entries []domain.DeliveryLogEntry) error
	InsertReminderLog(ctx context.Context, entry domain.DailyReminderLogEntry) error
	SentItemIDs(ctx context.Context, userID string, category domain.Category, itemIDs []string, since time.Time) ([]string, error)
	ReminderLogged(ctx context.Context, userID string, reminderType domain.ReminderType, date time.Time) (bool, error)
	RecentDeliveries(ctx context.Context, userID string, since time.Time, limit int) ([]domain.DeliveryLogEntry, error)
	PruneLogs(ctx context.Context, before time.Time) (int64, error)

	// Push subscriptions
	PushSubscriptions(ctx context.Context, userID string) ([]domain.PushSubscription, error)
	DeleteSubscription(ctx context.Context, id string) error

	HealthCheck(ctx context.Context) error
	Close() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	log *zap.Logger
}

// WithLogger sets the logger used to report rows that had to be repaired on
// read.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	o.log = o.log.With(zap.String("component", "store"))
	return o
}

// prefColumns are the raw column values shared by both backends once the
// driver-specific types are unwrapped.
type prefColumns struct {
	userID, email, name   string
	enabled               bool
	days                  []int
	notifyAt, quietFrom   string
	quietTo, timezone     string
	reminders             []byte
	emailDaily, emailWeek bool
	lastDaily, lastWeekly *time.Time

	// problems found while unwrapping driver types, reported with the rest.
	problems []error
}

// toDomain converts stored columns into a Preference. It never fails: any
// time-of-day that does not parse falls back to its default, and a reminder
// entry that does not decode is dropped. The returned errors describe what
// was repaired.
func (c prefColumns) toDomain() (domain.Preference, []error) {
	problems := c.problems
	p := domain.Preference{
		UserID:                c.userID,
		Email:                 c.email,
		Name:                  c.name,
		Enabled:               c.enabled,
		DaysBeforeExpiry:      c.days,
		NotificationTime:      parseTimeOfDay(c.notifyAt, domain.DefaultNotificationTime),
		QuietHoursStart:       parseTimeOfDay(c.quietFrom, domain.DefaultQuietHoursStart),
		QuietHoursEnd:         parseTimeOfDay(c.quietTo, domain.DefaultQuietHoursEnd),
		Timezone:              c.timezone,
		EmailDailyExpiry:      c.emailDaily,
		EmailWeeklySummary:    c.emailWeek,
		LastDailyEmailSentAt:  utcPtr(c.lastDaily),
		LastWeeklyEmailSentAt: utcPtr(c.lastWeekly),
	}
	var errs []error
	p.DailyReminders, errs = decodeReminders(c.reminders)
	return p, append(problems, errs...)
}

// decodeReminders decodes the daily_reminders column entry by entry so one
// malformed reminder does not cost the user the others.
func decodeReminders(raw []byte) (map[domain.ReminderType]domain.ReminderConfig, []error) {
	out := map[domain.ReminderType]domain.ReminderConfig{}
	if len(raw) == 0 {
		return out, nil
	}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return out, []error{fmt.Errorf("daily_reminders: %w", err)}
	}
	var errs []error
	for name, msg := range entries {
		var cfg domain.ReminderConfig
		if err := json.Unmarshal(msg, &cfg); err != nil {
			errs = append(errs, fmt.Errorf("daily_reminders.%s: %w", name, err))
			continue
		}
		out[domain.ReminderType(name)] = cfg
	}
	return out, errs
}

// reportRepairs logs each problem toDomain repaired for a user.
func reportRepairs(log *zap.Logger, userID string, problems []error) {
	for _, err := range problems {
		log.Warn("preference repaired on read", zap.String("user_id", userID), zap.Error(err))
	}
}

func parseTimeOfDay(s string, def domain.TimeOfDay) domain.TimeOfDay {
	t, err := domain.ParseTimeOfDay(s)
	if err != nil {
		return def
	}
	return t
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
