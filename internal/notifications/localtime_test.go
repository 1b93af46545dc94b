package notifications

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_Resolve(t *testing.T) {
	r := NewResolver("UTC")

	lt := r.Resolve("America/New_York", at(t, "2024-03-12T13:00:00Z"))
	assert.Equal(t, tod("09:00"), lt.Minute)
	assert.Equal(t, "Tuesday", lt.Weekday)
	assert.Equal(t, day(t, "2024-03-12"), lt.Date)
	assert.Equal(t, "America/New_York", lt.Location.String())

	// Local date differs from the UTC date.
	lt = r.Resolve("Pacific/Kiritimati", at(t, "2024-06-14T19:00:00Z"))
	assert.Equal(t, day(t, "2024-06-15"), lt.Date)
	assert.Equal(t, "Saturday", lt.Weekday)
}

func TestResolver_DSTTransition(t *testing.T) {
	r := NewResolver("UTC")
	// 2024-03-10 02:00 EST jumps to 03:00 EDT.
	before := r.Resolve("America/New_York", at(t, "2024-03-10T06:59:00Z"))
	after := r.Resolve("America/New_York", at(t, "2024-03-10T07:00:00Z"))
	assert.Equal(t, tod("01:59"), before.Minute)
	assert.Equal(t, tod("03:00"), after.Minute)
}

func TestResolver_FallsBack(t *testing.T) {
	r := NewResolver("Europe/Berlin")
	now := at(t, "2024-01-15T12:00:00Z")

	for _, zone := range []string{"", "  ", "Mars/Olympus_Mons"} {
		lt := r.Resolve(zone, now)
		assert.Equal(t, "Europe/Berlin", lt.Location.String(), "zone %q", zone)
		assert.Equal(t, tod("13:00"), lt.Minute)
	}
}

func TestResolver_BadDefaultIsUTC(t *testing.T) {
	r := NewResolver("Not/AZone")
	require.Equal(t, time.UTC, r.Location(""))
	assert.Equal(t, time.UTC, NewResolver("").Location("nope"))
}

func TestResolver_CachesZones(t *testing.T) {
	r := NewResolver("UTC")
	a := r.Location("Asia/Tokyo")
	b := r.Location("Asia/Tokyo")
	assert.Same(t, a, b)
}
