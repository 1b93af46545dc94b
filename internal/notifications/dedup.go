package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/albapepper/pantry-notifier/internal/domain"
)

// Guard consults the delivery logs to suppress re-sends. Any prior row counts
// as a delivery, whether or not that attempt reached a device.
type Guard struct {
	logs LogStore
}

func NewGuard(logs LogStore) *Guard {
	return &Guard{logs: logs}
}

// dedupSince is the oldest sent_at that still suppresses a send evaluated at
// at. The window is shortened by one firing slice so that the same slot on
// the next day, which may start a little less than within after the last
// send, is already re-armed.
func dedupSince(at time.Time, within time.Duration) time.Time {
	if within <= 0 {
		within = defaultDedupWindow
	}
	slack := min(windowMinutes*time.Minute, within/2)
	return at.Add(-within + slack)
}

// HasBeenSent reports whether any of itemIDs was logged for the user and
// category within the trailing window ending at at.
func (g *Guard) HasBeenSent(ctx context.Context, userID string, itemIDs []string, category domain.Category, at time.Time, within time.Duration) (bool, error) {
	sent, err := g.logs.SentItemIDs(ctx, userID, category, itemIDs, dedupSince(at, within))
	if err != nil {
		return false, fmt.Errorf("dedup %s: %w", category, err)
	}
	return len(sent) > 0, nil
}

// UnsentItems returns the items with no log row for the user and category
// within the trailing window ending at at, preserving order.
func (g *Guard) UnsentItems(ctx context.Context, userID string, items []domain.Item, category domain.Category, at time.Time, within time.Duration) ([]domain.Item, error) {
	if len(items) == 0 {
		return nil, nil
	}
	sent, err := g.logs.SentItemIDs(ctx, userID, category, domain.ItemIDs(items), dedupSince(at, within))
	if err != nil {
		return nil, fmt.Errorf("dedup %s: %w", category, err)
	}
	done := make(map[string]bool, len(sent))
	for _, id := range sent {
		done[id] = true
	}
	out := make([]domain.Item, 0, len(items))
	for _, it := range items {
		if !done[it.ID] {
			out = append(out, it)
		}
	}
	return out, nil
}

// ReminderSent reports whether the reminder already has a row for the user's
// local date.
func (g *Guard) ReminderSent(ctx context.Context, userID string, reminderType domain.ReminderType, localDate time.Time) (bool, error) {
	ok, err := g.logs.ReminderLogged(ctx, userID, reminderType, domain.Date(localDate))
	if err != nil {
		return false, fmt.Errorf("dedup reminder %s: %w", reminderType, err)
	}
	return ok, nil
}

// EmailSent reports whether the digest of the given kind already went out for
// the current local day (daily) or within the last seven local days (weekly).
// The reminder log is checked too, since the preference snapshot may predate
// a send by an overlapping sweep.
func (g *Guard) EmailSent(ctx context.Context, pref *domain.Preference, kind domain.EmailKind, lt LocalTime) (bool, error) {
	if last := pref.LastEmailSentAt(kind); last != nil {
		lastDate := domain.Date(last.In(lt.Location))
		switch kind {
		case domain.EmailWeekly:
			if lt.Date.Sub(lastDate) < weeklyDigestDays*24*time.Hour {
				return true, nil
			}
		default:
			if lastDate.Equal(lt.Date) {
				return true, nil
			}
		}
	}
	return g.ReminderSent(ctx, pref.UserID, domain.ReminderType(domain.EmailCategory(kind)), lt.Date)
}
