package notifications

import (
	"strings"
	"time"

	"github.com/albapepper/pantry-notifier/internal/domain"
)

// InWindow reports whether minute-of-day m is inside [from, to).
// Supports wrap-around windows like 22:00–08:00 (from > to). A zero-length
// window contains nothing.
func InWindow(m, from, to domain.TimeOfDay) bool {
	if from == to {
		return false
	}
	if from < to {
		return m >= from && m < to
	}
	// wrap: [from..1440) U [0..to)
	return m >= from || m < to
}

// slice returns the 30-minute firing window starting at start.
func slice(start domain.TimeOfDay) (domain.TimeOfDay, domain.TimeOfDay) {
	return start, (start + windowMinutes) % domain.MinutesPerDay
}

// InQuietHours reports whether local time falls in the user's quiet hours.
func InQuietHours(pref *domain.Preference, lt LocalTime) bool {
	return InWindow(lt.Minute, pref.QuietHoursStart, pref.QuietHoursEnd)
}

// InExpiryWindow reports whether the expiry check is due: local time within
// 30 minutes after notificationTime and outside quiet hours.
func InExpiryWindow(pref *domain.Preference, lt LocalTime) bool {
	from, to := slice(pref.NotificationTime)
	return InWindow(lt.Minute, from, to) && !InQuietHours(pref, lt)
}

// InReminderWindow reports whether a daily reminder is due: local time within
// [configured, configured+30) and matching weekday if one is set. The slice
// may run into the next hour so that a fine tick always lands in it.
func InReminderWindow(cfg domain.ReminderConfig, lt LocalTime) bool {
	from, to := slice(cfg.Time)
	if !InWindow(lt.Minute, from, to) {
		return false
	}
	if cfg.HasWeekday() && !strings.EqualFold(strings.TrimSpace(cfg.Weekday), lt.Weekday) {
		return false
	}
	return true
}

// InEmailWindow reports whether local time is in the once-a-day email slot
// starting 07:45. With the fine sweep phased to :15 and :45 the tick lands at
// 07:45 in whole and half hour zones and at 08:00 in quarter hour zones.
func InEmailWindow(lt LocalTime) bool {
	from, to := slice(domain.NewTimeOfDay(emailHour, emailMinute))
	return InWindow(lt.Minute, from, to)
}

// InWeeklyEmailWindow is the email slot on a local Sunday.
func InWeeklyEmailWindow(lt LocalTime) bool {
	return InEmailWindow(lt) && lt.Time.Weekday() == time.Sunday
}
