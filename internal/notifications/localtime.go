package notifications

import (
	"strings"
	"sync"
	"time"

	"github.com/albapepper/pantry-notifier/internal/domain"
)

// LocalTime is an instant seen from a user's timezone.
type LocalTime struct {
	Time     time.Time // wall clock in Location
	Date     time.Time // local calendar date, midnight UTC
	Weekday  string    // "Monday".."Sunday"
	Minute   domain.TimeOfDay
	Location *time.Location
}

// Resolver converts stored IANA zone ids into local wall-clock time. Zone
// lookups are cached; unknown ids resolve to the fallback zone.
type Resolver struct {
	fallback *time.Location

	mu    sync.RWMutex
	zones map[string]*time.Location
}

// NewResolver returns a Resolver falling back to defaultTZ, or UTC when
// defaultTZ itself does not load.
func NewResolver(defaultTZ string) *Resolver {
	fallback, err := time.LoadLocation(defaultTZ)
	if err != nil || defaultTZ == "" {
		fallback = time.UTC
	}
	return &Resolver{fallback: fallback, zones: make(map[string]*time.Location)}
}

// Location returns the zone for id, or the fallback.
func (r *Resolver) Location(id string) *time.Location {
	id = strings.TrimSpace(id)
	if id == "" {
		return r.fallback
	}
	r.mu.RLock()
	loc, ok := r.zones[id]
	r.mu.RUnlock()
	if ok {
		return loc
	}

	loc, err := time.LoadLocation(id)
	if err != nil {
		loc = r.fallback
	}
	r.mu.Lock()
	r.zones[id] = loc
	r.mu.Unlock()
	return loc
}

// Resolve returns now as seen in zone.
func (r *Resolver) Resolve(zone string, now time.Time) LocalTime {
	loc := r.Location(zone)
	local := now.In(loc)
	return LocalTime{
		Time:     local,
		Date:     domain.Date(local),
		Weekday:  local.Weekday().String(),
		Minute:   domain.NewTimeOfDay(local.Hour(), local.Minute()),
		Location: loc,
	}
}
