package domain

import "time"

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// Item is the subset of an inventory row the notifier reads.
type Item struct {
	ID             string
	OwnerUserID    string
	Name           string
	ExpirationDate time.Time // calendar date, midnight UTC
	Quantity       float64
	Unit           string
	DeletedAt      *time.Time
}

// ItemIDs returns the ids of items in order.
func ItemIDs(items []Item) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	return ids
}

// Date truncates a wall-clock time to its calendar date, expressed as
// midnight UTC so dates compare independently of zone.
func Date(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// PushSubscription is a registered web push endpoint.
type PushSubscription struct {
	ID         string
	UserID     string
	Endpoint   string
	P256dh     string
	Auth       string
	DeviceName string
	CreatedAt  time.Time
}
