// Package domain holds the records the notifier reads and writes: user
// notification preferences, inventory items, push subscriptions and the two
// append-only delivery logs.
package domain

import (
	"slices"
	"strings"
	"time"
)

// Defaults applied when a preference row is first created or a field is
// missing.
var (
	DefaultDaysBeforeExpiry = []int{1, 3}
	DefaultNotificationTime = NewTimeOfDay(9, 0)
	DefaultQuietHoursStart  = NewTimeOfDay(22, 0)
	DefaultQuietHoursEnd    = NewTimeOfDay(8, 0)
)

// ReminderType names an engagement reminder, e.g. "meal-planning".
type ReminderType string

const (
	ReminderMealPlanning ReminderType = "meal-planning"
	ReminderShopping     ReminderType = "shopping"
	ReminderCooking      ReminderType = "cooking"
)

// ReminderConfig is one entry of Preference.DailyReminders.
type ReminderConfig struct {
	Enabled bool      `json:"enabled"`
	Time    TimeOfDay `json:"time"`
	Weekday string    `json:"weekday,omitempty"` // "sunday".."saturday"; empty = every day
	Message string    `json:"message,omitempty"`
	Icon    string    `json:"icon,omitempty"`
}

// HasWeekday reports whether the reminder is restricted to one weekday.
func (r ReminderConfig) HasWeekday() bool {
	return strings.TrimSpace(r.Weekday) != ""
}

// EmailKind distinguishes the two expiry digests.
type EmailKind string

const (
	EmailDaily  EmailKind = "daily"
	EmailWeekly EmailKind = "weekly"
)

// Preference is a user's notification settings.
type Preference struct {
	UserID string
	Email  string
	Name   string

	Enabled          bool
	DaysBeforeExpiry []int
	NotificationTime TimeOfDay
	QuietHoursStart  TimeOfDay
	QuietHoursEnd    TimeOfDay
	Timezone         string
	DailyReminders   map[ReminderType]ReminderConfig

	EmailDailyExpiry   bool
	EmailWeeklySummary bool

	LastDailyEmailSentAt  *time.Time
	LastWeeklyEmailSentAt *time.Time
}

// DefaultPreference returns the settings a new user starts with.
func DefaultPreference(userID, timezone string) Preference {
	return Preference{
		UserID:           userID,
		Enabled:          true,
		DaysBeforeExpiry: slices.Clone(DefaultDaysBeforeExpiry),
		NotificationTime: DefaultNotificationTime,
		QuietHoursStart:  DefaultQuietHoursStart,
		QuietHoursEnd:    DefaultQuietHoursEnd,
		Timezone:         timezone,
		DailyReminders:   map[ReminderType]ReminderConfig{},
	}
}

// LastEmailSentAt returns the last send time recorded for kind.
func (p *Preference) LastEmailSentAt(kind EmailKind) *time.Time {
	if kind == EmailWeekly {
		return p.LastWeeklyEmailSentAt
	}
	return p.LastDailyEmailSentAt
}

// NormalizeDays drops negative values, removes duplicates and sorts.
func NormalizeDays(days []int) []int {
	out := make([]int, 0, len(days))
	for _, d := range days {
		if d < 0 || slices.Contains(out, d) {
			continue
		}
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}
