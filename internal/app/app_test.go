package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/albapepper/pantry-notifier/internal/config"
	"github.com/albapepper/pantry-notifier/internal/domain"
	"github.com/albapepper/pantry-notifier/internal/notifications"
	"github.com/albapepper/pantry-notifier/internal/scheduler"
	"github.com/albapepper/pantry-notifier/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		DBDriver:            config.DriverSQLite,
		SQLitePath:          ":memory:",
		DefaultTZ:           "UTC",
		FineSweepInterval:   30 * time.Minute,
		FineSweepOffset:     15 * time.Minute,
		DailySweepAt:        "09:00",
		MaintenanceInterval: 6 * time.Hour,
		LogRetention:        720 * time.Hour,
		DedupWindow:         24 * time.Hour,
		SweepWorkers:        2,
		SweepLockTTL:        time.Minute,
	}
}

func TestNew_SQLiteWithRedisLease(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.RedisAddr = mr.Addr()

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.Equal(t, []string{scheduler.TaskFine, scheduler.TaskDaily, scheduler.TaskMaintenance}, a.Scheduler.Tasks())

	sq, ok := a.Store.(*store.SQLite)
	require.True(t, ok)
	p := domain.DefaultPreference("u1", "UTC")
	require.NoError(t, sq.UpsertPreference(context.Background(), p))
	_, err = sq.DB().Exec(`INSERT INTO inventory_items (id, user_id, name, expiration_date) VALUES ('i1', 'u1', 'Milk', ?)`,
		time.Now().UTC().AddDate(0, 0, 1).Format(domain.DateLayout))
	require.NoError(t, err)

	res, err := a.Notifier.CheckUserExpiry(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed, "push is not configured")
	assert.Empty(t, mr.Keys(), "lease released after the check")

	rows, err := a.Store.RecentDeliveries(context.Background(), "u1", time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "no active push subscriptions", *rows[0].ErrorMessage)

	_, err = a.Notifier.CheckUserExpiry(context.Background(), "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestNew_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.RedisAddr = mr.Addr()
	mr.Close()

	_, err := New(context.Background(), cfg, zap.NewNop())
	assert.ErrorContains(t, err, "redis ping")
}

type countingSweeper struct{ kinds []notifications.SweepKind }

func (c *countingSweeper) Sweep(_ context.Context, kind notifications.SweepKind) notifications.SweepResult {
	c.kinds = append(c.kinds, kind)
	return notifications.SweepResult{Kind: kind}
}

type nopPruner struct{ calls int }

func (n *nopPruner) PruneLogs(context.Context, time.Time) (int64, error) {
	n.calls++
	return 0, nil
}

func TestNewScheduler(t *testing.T) {
	sw := &countingSweeper{}
	pr := &nopPruner{}
	h, err := NewScheduler(testConfig(), sw, pr, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, h.Trigger(context.Background(), scheduler.TaskFine))
	require.NoError(t, h.Trigger(context.Background(), scheduler.TaskDaily))
	require.NoError(t, h.Trigger(context.Background(), scheduler.TaskMaintenance))
	assert.Equal(t, []notifications.SweepKind{notifications.SweepFine, notifications.SweepDaily}, sw.kinds)
	assert.Equal(t, 1, pr.calls)

	cfg := testConfig()
	cfg.MaintenanceInterval = 0
	h, err = NewScheduler(cfg, sw, pr, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{scheduler.TaskFine, scheduler.TaskDaily}, h.Tasks())
}

func TestNewScheduler_InvalidSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.FineSweepInterval = 0
	_, err := NewScheduler(cfg, &countingSweeper{}, &nopPruner{}, zap.NewNop())
	assert.ErrorIs(t, err, scheduler.ErrInvalidSchedule)

	cfg = testConfig()
	cfg.DailySweepAt = "late"
	_, err = NewScheduler(cfg, &countingSweeper{}, &nopPruner{}, zap.NewNop())
	assert.ErrorIs(t, err, scheduler.ErrInvalidSchedule)
}

func TestNewScheduler_InvalidOffset(t *testing.T) {
	cfg := testConfig()
	cfg.FineSweepOffset = cfg.FineSweepInterval
	_, err := NewScheduler(cfg, &countingSweeper{}, &nopPruner{}, zap.NewNop())
	assert.ErrorIs(t, err, scheduler.ErrInvalidSchedule)
}

// Every local 07:45 email slot must receive exactly one fine tick per day,
// whatever the zone's UTC offset.
func TestFineSchedule_HitsEmailWindowOncePerDay(t *testing.T) {
	fine, err := FineSchedule(testConfig())
	require.NoError(t, err)
	r := notifications.NewResolver("UTC")

	start := time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC) // no DST change within two days
	zones := []string{"UTC", "America/New_York", "Europe/Paris", "Asia/Kolkata", "Asia/Kathmandu", "Asia/Tokyo", "Pacific/Chatham"}
	for _, zone := range zones {
		t.Run(zone, func(t *testing.T) {
			hits := 0
			for tick := fine.Next(start.Add(-time.Nanosecond)); tick.Before(start.Add(48 * time.Hour)); tick = fine.Next(tick) {
				if notifications.InEmailWindow(r.Resolve(zone, tick)) {
					hits++
				}
			}
			assert.Equal(t, 2, hits)
		})
	}
}

func TestFineSchedule_HitsEveryReminderMinuteOnce(t *testing.T) {
	fine, err := FineSchedule(testConfig())
	require.NoError(t, err)
	r := notifications.NewResolver("UTC")
	start := time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)

	for _, zone := range []string{"UTC", "Asia/Kolkata", "Asia/Kathmandu"} {
		for m := 0; m < domain.MinutesPerDay; m += 7 {
			cfg := domain.ReminderConfig{Enabled: true, Time: domain.TimeOfDay(m)}
			hits := 0
			for tick := fine.Next(start.Add(-time.Nanosecond)); tick.Before(start.Add(24 * time.Hour)); tick = fine.Next(tick) {
				if notifications.InReminderWindow(cfg, r.Resolve(zone, tick)) {
					hits++
				}
			}
			assert.Equal(t, 1, hits, "%s reminder at %s", zone, cfg.Time)
		}
	}
}

func TestMigrate_UnknownDriver(t *testing.T) {
	cfg := testConfig()
	cfg.DBDriver = "mysql"
	assert.Error(t, Migrate(context.Background(), cfg))
}
