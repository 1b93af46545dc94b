package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/albapepper/pantry-notifier/internal/domain"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := domain.ParseDate(s)
	require.NoError(t, err)
	return d
}

func seedUser(t *testing.T, s *SQLite, userID string) domain.Preference {
	t.Helper()
	p := domain.DefaultPreference(userID, "Europe/Paris")
	p.Email = userID + "@example.com"
	p.Name = "User " + userID
	require.NoError(t, s.UpsertPreference(context.Background(), p))
	return p
}

func addItem(t *testing.T, s *SQLite, id, userID, name, expires string, deleted bool) {
	t.Helper()
	var deletedAt any
	if deleted {
		deletedAt = time.Now().Unix()
	}
	_, err := s.DB().Exec(
		`INSERT INTO inventory_items (id, user_id, name, expiration_date, quantity, unit, deleted_at) VALUES (?, ?, ?, ?, 2, 'pcs', ?)`,
		id, userID, name, expires, deletedAt)
	require.NoError(t, err)
}

func TestOpenSQLite_FileAndMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "notifier.db")
	s, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, s.HealthCheck(context.Background()))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestSQLite_PreferenceRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sent := time.Date(2024, 3, 12, 7, 45, 0, 0, time.UTC)
	p := domain.DefaultPreference("u1", "America/New_York")
	p.Email = "u1@example.com"
	p.Name = "Alex"
	p.DaysBeforeExpiry = []int{3, 1, 3, -2, 7}
	p.NotificationTime = domain.NewTimeOfDay(18, 30)
	p.EmailDailyExpiry = true
	p.LastDailyEmailSentAt = &sent
	p.DailyReminders = map[domain.ReminderType]domain.ReminderConfig{
		domain.ReminderMealPlanning: {Enabled: true, Time: domain.NewTimeOfDay(17, 0), Weekday: "sunday", Message: "Plan!"},
	}
	require.NoError(t, s.UpsertPreference(ctx, p))

	got, err := s.Preference(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alex", got.Name)
	assert.Equal(t, "u1@example.com", got.Email)
	assert.True(t, got.Enabled)
	assert.Equal(t, []int{1, 3, 7}, got.DaysBeforeExpiry)
	assert.Equal(t, domain.NewTimeOfDay(18, 30), got.NotificationTime)
	assert.Equal(t, domain.NewTimeOfDay(22, 0), got.QuietHoursStart)
	assert.Equal(t, "America/New_York", got.Timezone)
	assert.True(t, got.EmailDailyExpiry)
	assert.False(t, got.EmailWeeklySummary)
	require.NotNil(t, got.LastDailyEmailSentAt)
	assert.True(t, sent.Equal(*got.LastDailyEmailSentAt))
	assert.Nil(t, got.LastWeeklyEmailSentAt)
	assert.Equal(t, p.DailyReminders, got.DailyReminders)

	// Upsert replaces the row.
	p.Enabled = false
	require.NoError(t, s.UpsertPreference(ctx, p))
	got, err = s.Preference(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
}

func TestSQLite_PreferenceNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Preference(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_EnabledPreferences(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "b")
	seedUser(t, s, "a")
	off := domain.DefaultPreference("c", "UTC")
	off.Enabled = false
	require.NoError(t, s.UpsertPreference(ctx, off))

	prefs, err := s.EnabledPreferences(ctx)
	require.NoError(t, err)
	require.Len(t, prefs, 2)
	assert.Equal(t, "a", prefs[0].UserID)
	assert.Equal(t, "b", prefs[1].UserID)
}

func TestSQLite_BadStoredTimesFallBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1")
	_, err := s.DB().Exec(`UPDATE notification_preferences SET notification_time = 'soon', quiet_hours_end = '25:00' WHERE user_id = 'u1'`)
	require.NoError(t, err)

	got, err := s.Preference(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultNotificationTime, got.NotificationTime)
	assert.Equal(t, domain.DefaultQuietHoursEnd, got.QuietHoursEnd)
}

func TestSQLite_MalformedRemindersDoNotHideOtherUsers(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s, err := OpenSQLite(context.Background(), ":memory:", WithLogger(zap.New(core)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	good := seedUser(t, s, "good")
	good.DailyReminders = map[domain.ReminderType]domain.ReminderConfig{
		domain.ReminderShopping: {Enabled: true, Time: domain.NewTimeOfDay(18, 0)},
	}
	require.NoError(t, s.UpsertPreference(ctx, good))
	seedUser(t, s, "bad")
	seedUser(t, s, "broken")
	_, err = s.DB().Exec(`UPDATE notification_preferences SET daily_reminders = ? WHERE user_id = 'bad'`,
		`{"cooking":{"enabled":true,"time":"9am"},"shopping":{"enabled":true,"time":"17:30"}}`)
	require.NoError(t, err)
	_, err = s.DB().Exec(`UPDATE notification_preferences SET daily_reminders = '{not json', days_before_expiry = 'x' WHERE user_id = 'broken'`)
	require.NoError(t, err)

	prefs, err := s.EnabledPreferences(ctx)
	require.NoError(t, err)
	require.Len(t, prefs, 3)

	byID := map[string]domain.Preference{}
	for _, p := range prefs {
		byID[p.UserID] = p
	}
	assert.Len(t, byID["good"].DailyReminders, 1)

	// The undecodable entry is dropped, the valid one kept.
	bad := byID["bad"].DailyReminders
	require.Len(t, bad, 1)
	assert.Equal(t, domain.NewTimeOfDay(17, 30), bad[domain.ReminderShopping].Time)

	broken := byID["broken"]
	assert.Empty(t, broken.DailyReminders)
	assert.NotNil(t, broken.DailyReminders)
	assert.Equal(t, domain.DefaultDaysBeforeExpiry, broken.DaysBeforeExpiry)

	repaired := logs.FilterMessage("preference repaired on read")
	assert.Equal(t, 3, repaired.Len())
	assert.Equal(t, 1, repaired.FilterField(zap.String("user_id", "bad")).Len())

	// The single-user lookup degrades the same way.
	one, err := s.Preference(ctx, "bad")
	require.NoError(t, err)
	assert.Len(t, one.DailyReminders, 1)
}

func TestSQLite_UpdateLastEmailSent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1")
	at := time.Date(2024, 3, 10, 7, 50, 0, 0, time.UTC)

	require.NoError(t, s.UpdateLastEmailSent(ctx, "u1", domain.EmailWeekly, at))

	got, err := s.Preference(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got.LastDailyEmailSentAt)
	require.NotNil(t, got.LastWeeklyEmailSentAt)
	assert.True(t, at.Equal(*got.LastWeeklyEmailSentAt))
}

func TestSQLite_InventoryQueries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1")
	seedUser(t, s, "u2")
	addItem(t, s, "i1", "u1", "Milk", "2024-03-13", false)
	addItem(t, s, "i2", "u1", "Eggs", "2024-03-13", false)
	addItem(t, s, "i3", "u1", "Ham", "2024-03-13", true)
	addItem(t, s, "i4", "u2", "Rice", "2024-03-13", false)
	addItem(t, s, "i5", "u1", "Kale", "2024-03-01", false)
	addItem(t, s, "i6", "u1", "Soup", "2024-02-20", false)

	items, err := s.ExpiringOn(ctx, "u1", mustDate(t, "2024-03-13"))
	require.NoError(t, err)
	assert.Equal(t, []string{"i2", "i1"}, domain.ItemIDs(items), "ordered by name, deleted excluded")
	assert.Equal(t, mustDate(t, "2024-03-13"), items[0].ExpirationDate)
	assert.Equal(t, 2.0, items[0].Quantity)
	assert.Equal(t, "pcs", items[0].Unit)

	expired, err := s.ExpiredBefore(ctx, "u1", mustDate(t, "2024-03-12"))
	require.NoError(t, err)
	assert.Equal(t, []string{"i6", "i5"}, domain.ItemIDs(expired))

	none, err := s.ExpiringOn(ctx, "u1", mustDate(t, "2024-03-14"))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func ptr(s string) *string { return &s }

func TestSQLite_DeliveryLog(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertDeliveries(ctx, []domain.DeliveryLogEntry{
		{ID: "d1", UserID: "u1", ItemID: ptr("a"), Category: domain.CategoryExpiry, SentAt: base, Success: true},
		{ID: "d2", UserID: "u1", ItemID: ptr("b"), Category: domain.CategoryExpiry, SentAt: base, Success: false, ErrorMessage: ptr("no active push subscriptions")},
		{ID: "d3", UserID: "u1", ItemID: ptr("c"), Category: domain.CategoryExpiry, SentAt: base.Add(-48 * time.Hour), Success: true},
		{ID: "d4", UserID: "u1", ItemID: ptr("a"), Category: domain.CategoryExpired, SentAt: base, Success: true},
		{ID: "d5", UserID: "u1", Category: domain.CategoryTest, SentAt: base.Add(time.Minute), Success: true},
	}))
	require.NoError(t, s.InsertDeliveries(ctx, nil))

	sent, err := s.SentItemIDs(ctx, "u1", domain.CategoryExpiry, []string{"a", "b", "c", "z"}, base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, sent)

	sent, err = s.SentItemIDs(ctx, "u1", domain.CategoryExpiry, nil, base)
	require.NoError(t, err)
	assert.Empty(t, sent)

	recent, err := s.RecentDeliveries(ctx, "u1", base.Add(-time.Hour), 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "d5", recent[0].ID)
	assert.Nil(t, recent[0].ItemID)
	assert.Equal(t, "d1", recent[1].ID)
	assert.Equal(t, "d2", recent[2].ID)
	assert.False(t, recent[2].Success)
	assert.Equal(t, "no active push subscriptions", *recent[2].ErrorMessage)
	assert.True(t, base.Equal(recent[1].SentAt))
}

func TestSQLite_ReminderLog(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertReminderLog(ctx, domain.DailyReminderLogEntry{
		ID: "r1", UserID: "u1", ReminderType: domain.ReminderShopping,
		SentDate: mustDate(t, "2024-03-12"), Success: false, SentAt: time.Now(),
	}))

	ok, err := s.ReminderLogged(ctx, "u1", domain.ReminderShopping, mustDate(t, "2024-03-12"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ReminderLogged(ctx, "u1", domain.ReminderShopping, mustDate(t, "2024-03-13"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLite_PruneLogs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	cutoff := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertDeliveries(ctx, []domain.DeliveryLogEntry{
		{ID: "old", UserID: "u", Category: domain.CategoryTest, SentAt: cutoff.Add(-time.Hour)},
		{ID: "new", UserID: "u", Category: domain.CategoryTest, SentAt: cutoff.Add(time.Hour)},
	}))
	require.NoError(t, s.InsertReminderLog(ctx, domain.DailyReminderLogEntry{
		ID: "r-old", UserID: "u", ReminderType: domain.ReminderCooking, SentDate: cutoff, SentAt: cutoff.Add(-time.Minute),
	}))

	n, err := s.PruneLogs(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, err := s.RecentDeliveries(ctx, "u", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "new", left[0].ID)
}

func TestSQLite_PushSubscriptions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1")
	_, err := s.DB().Exec(`
		INSERT INTO push_subscriptions (id, user_id, endpoint, p256dh, auth, device_name, created_at) VALUES
		('s2', 'u1', 'https://push.example/2', 'k2', 'a2', 'laptop', 200),
		('s1', 'u1', 'https://push.example/1', 'k1', 'a1', 'phone', 100)`)
	require.NoError(t, err)

	subs, err := s.PushSubscriptions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "s1", subs[0].ID)
	assert.Equal(t, "phone", subs[0].DeviceName)
	assert.Equal(t, time.Unix(100, 0).UTC(), subs[0].CreatedAt)

	require.NoError(t, s.DeleteSubscription(ctx, "s1"))
	require.NoError(t, s.DeleteSubscription(ctx, "missing"))
	subs, err = s.PushSubscriptions(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}
