// Package notifications decides when each user is due an expiry alert, an
// engagement reminder or an expiry digest email, and delivers it at most once
// per rolling window.
//
// Pipeline: resolve local time → evaluate windows → query inventory →
// dedup against the delivery log → dispatch to push/email → record outcome.
// Sweeps are driven by the scheduler package; CheckUserExpiry is the manual
// entry point.
package notifications

import (
	"context"
	"time"

	"github.com/albapepper/pantry-notifier/internal/domain"
	"github.com/albapepper/pantry-notifier/internal/push"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	windowMinutes       = 30 // width of every firing slice, aligned to the fine tick
	emailHour           = 7
	emailMinute         = 45
	defaultDedupWindow  = 24 * time.Hour
	defaultSweepWorkers = 4
	weeklyDigestDays    = 7
)

// SweepKind names the cadence that triggered a sweep.
type SweepKind string

const (
	SweepFine   SweepKind = "fine"
	SweepDaily  SweepKind = "daily"
	SweepManual SweepKind = "manual"
)

// --------------------------------------------------------------------------
// Collaborators
// --------------------------------------------------------------------------

// PreferenceStore reads notification preferences.
type PreferenceStore interface {
	EnabledPreferences(ctx context.Context) ([]domain.Preference, error)
	Preference(ctx context.Context, userID string) (*domain.Preference, error)
	UpdateLastEmailSent(ctx context.Context, userID string, kind domain.EmailKind, at time.Time) error
}

// InventoryStore reads non-deleted inventory rows.
type InventoryStore interface {
	ExpiringOn(ctx context.Context, userID string, date time.Time) ([]domain.Item, error)
	ExpiredBefore(ctx context.Context, userID string, date time.Time) ([]domain.Item, error)
}

// LogStore appends to and queries the delivery logs.
type LogStore interface {
	InsertDeliveries(ctx context.Context, entries []domain.DeliveryLogEntry) error
	InsertReminderLog(ctx context.Context, entry domain.DailyReminderLogEntry) error
	SentItemIDs(ctx context.Context, userID string, category domain.Category, itemIDs []string, since time.Time) ([]string, error)
	ReminderLogged(ctx context.Context, userID string, reminderType domain.ReminderType, date time.Time) (bool, error)
}

// PushSender fans a payload out to every registered device of a user.
type PushSender interface {
	SendToUser(ctx context.Context, userID string, payload push.Payload) []push.DeviceResult
}

// EmailSender sends expiry digests. Failures are reported as false.
type EmailSender interface {
	SendDailyExpiryEmail(ctx context.Context, pref domain.Preference, items []domain.Item) bool
	SendWeeklyExpiryEmail(ctx context.Context, pref domain.Preference, items []domain.Item) bool
}

// Locker is a non-blocking keyed mutex. A false ok means another sweep holds
// the key.
type Locker interface {
	TryAcquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

// --------------------------------------------------------------------------
// Results
// --------------------------------------------------------------------------

// UserResult tracks what one user's evaluation did.
type UserResult struct {
	UserID     string
	Sent       int // logical notifications with at least one successful target
	Failed     int // logical notifications with no successful target
	Suppressed int // blocked by the dedup guard
	Skipped    bool
	Errors     []string
}

func (r *UserResult) addOutcome(o Outcome) {
	if o.Success() {
		r.Sent++
	} else {
		r.Failed++
	}
}

// SweepResult tracks the outcome of a full sweep.
type SweepResult struct {
	Kind       SweepKind
	Users      int
	Skipped    int
	Sent       int
	Failed     int
	Suppressed int
	Errors     []string
	Duration   time.Duration
}

func (r *SweepResult) add(u UserResult) {
	r.Users++
	if u.Skipped {
		r.Skipped++
	}
	r.Sent += u.Sent
	r.Failed += u.Failed
	r.Suppressed += u.Suppressed
	r.Errors = append(r.Errors, u.Errors...)
}
