package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/albapepper/pantry-notifier/internal/domain"
)

// ErrInvalidSchedule is returned for intervals or times a task cannot run on.
// The service treats it as fatal at startup.
var ErrInvalidSchedule = errors.New("invalid schedule")

// Schedule yields the next fire time strictly after a given instant.
type Schedule interface {
	Next(after time.Time) time.Time
}

type interval struct {
	every, offset time.Duration
}

// Every fires on multiples of d counted from the zero time, so a 30m
// schedule fires at :00 and :30.
func Every(d time.Duration) (Schedule, error) {
	return EveryOffset(d, 0)
}

// EveryOffset fires on multiples of d shifted by offset, so a 30m schedule
// with a 15m offset fires at :15 and :45. The offset must be in [0, d).
func EveryOffset(d, offset time.Duration) (Schedule, error) {
	if d <= 0 {
		return nil, fmt.Errorf("%w: interval %s", ErrInvalidSchedule, d)
	}
	if offset < 0 || offset >= d {
		return nil, fmt.Errorf("%w: offset %s for interval %s", ErrInvalidSchedule, offset, d)
	}
	return interval{every: d, offset: offset}, nil
}

func (i interval) Next(after time.Time) time.Time {
	return after.Add(-i.offset).Truncate(i.every).Add(i.every + i.offset)
}

type dailyAt struct {
	at  domain.TimeOfDay
	loc *time.Location
}

// DailyAt fires once a day at the wall-clock time at in loc (time.Local when
// nil).
func DailyAt(at domain.TimeOfDay, loc *time.Location) (Schedule, error) {
	if !at.Valid() {
		return nil, fmt.Errorf("%w: time of day %d", ErrInvalidSchedule, int(at))
	}
	if loc == nil {
		loc = time.Local
	}
	return dailyAt{at: at, loc: loc}, nil
}

func (d dailyAt) Next(after time.Time) time.Time {
	local := after.In(d.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), d.at.Hour(), d.at.Minute(), 0, 0, d.loc)
	if !next.After(after) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, d.at.Hour(), d.at.Minute(), 0, 0, d.loc)
	}
	return next
}
