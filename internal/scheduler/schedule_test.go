package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/pantry-notifier/internal/domain"
)

func TestEvery_AlignsToInterval(t *testing.T) {
	s, err := Every(30 * time.Minute)
	require.NoError(t, err)

	base := time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, base.Add(30*time.Minute), s.Next(base))
	assert.Equal(t, base.Add(30*time.Minute), s.Next(base.Add(17*time.Minute)))
	assert.Equal(t, base.Add(time.Hour), s.Next(base.Add(30*time.Minute)))
}

func TestEveryOffset_ShiftsPhase(t *testing.T) {
	s, err := EveryOffset(30*time.Minute, 15*time.Minute)
	require.NoError(t, err)

	base := time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, base.Add(15*time.Minute), s.Next(base))
	assert.Equal(t, base.Add(15*time.Minute), s.Next(base.Add(14*time.Minute)))
	assert.Equal(t, base.Add(45*time.Minute), s.Next(base.Add(15*time.Minute)))
	assert.Equal(t, base.Add(75*time.Minute), s.Next(base.Add(50*time.Minute)))

	// Local zone offsets do not shift the UTC phase.
	kolkata, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	next := s.Next(base.In(kolkata))
	assert.True(t, next.Equal(base.Add(15*time.Minute)), next)
}

func TestEveryOffset_RejectsOutOfRange(t *testing.T) {
	for _, off := range []time.Duration{-time.Minute, 30 * time.Minute, time.Hour} {
		_, err := EveryOffset(30*time.Minute, off)
		assert.ErrorIs(t, err, ErrInvalidSchedule, off)
	}
}

func TestEvery_RejectsNonPositive(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Minute} {
		_, err := Every(d)
		assert.ErrorIs(t, err, ErrInvalidSchedule)
	}
}

func TestDailyAt_Next(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	s, err := DailyAt(domain.NewTimeOfDay(9, 0), ny)
	require.NoError(t, err)

	// 08:00 EDT: later today.
	got := s.Next(time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC))
	assert.True(t, got.Equal(time.Date(2024, 3, 12, 13, 0, 0, 0, time.UTC)), got)

	// Exactly 09:00 EDT: tomorrow.
	got = s.Next(time.Date(2024, 3, 12, 13, 0, 0, 0, time.UTC))
	assert.True(t, got.Equal(time.Date(2024, 3, 13, 13, 0, 0, 0, time.UTC)), got)

	// Across the spring-forward night the wall clock still reads 09:00.
	got = s.Next(time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC))
	assert.True(t, got.Equal(time.Date(2024, 3, 10, 13, 0, 0, 0, time.UTC)), got)
}

func TestDailyAt_DefaultsToLocal(t *testing.T) {
	s, err := DailyAt(domain.NewTimeOfDay(6, 30), nil)
	require.NoError(t, err)
	next := s.Next(time.Now())
	assert.Equal(t, 6, next.In(time.Local).Hour())
	assert.Equal(t, 30, next.In(time.Local).Minute())
}

func TestDailyAt_RejectsInvalidTime(t *testing.T) {
	_, err := DailyAt(domain.TimeOfDay(24*60), time.UTC)
	assert.ErrorIs(t, err, ErrInvalidSchedule)
	_, err = DailyAt(domain.TimeOfDay(-1), time.UTC)
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}
