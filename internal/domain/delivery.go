package domain

import (
	"strings"
	"time"
)

// Category identifies what a DeliveryLogEntry was about.
type Category string

const (
	CategoryExpiry            Category = "expiry"
	CategoryExpired           Category = "expired"
	CategoryDailyExpiryEmail  Category = "daily-expiry-email"
	CategoryWeeklyExpiryEmail Category = "weekly-expiry-email"
	CategoryTest              Category = "test"

	reminderCategoryPrefix = "daily-reminder:"
)

// ReminderCategory returns the log category for a reminder type.
func ReminderCategory(t ReminderType) Category {
	return Category(reminderCategoryPrefix + string(t))
}

// EmailCategory returns the log category for an email digest.
func EmailCategory(kind EmailKind) Category {
	if kind == EmailWeekly {
		return CategoryWeeklyExpiryEmail
	}
	return CategoryDailyExpiryEmail
}

// IsReminder reports whether c is a daily-reminder category.
func (c Category) IsReminder() bool {
	return strings.HasPrefix(string(c), reminderCategoryPrefix)
}

// DeliveryLogEntry records one dispatch attempt for one contributing item.
// Rows are immutable once written.
type DeliveryLogEntry struct {
	ID           string
	UserID       string
	ItemID       *string
	Category     Category
	SentAt       time.Time
	Success      bool
	ErrorMessage *string
}

// DailyReminderLogEntry records a reminder or digest send for one local
// calendar date.
type DailyReminderLogEntry struct {
	ID           string
	UserID       string
	ReminderType ReminderType
	SentDate     time.Time // user's local date, midnight UTC
	Success      bool
	SentAt       time.Time
}
