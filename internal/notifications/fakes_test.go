package notifications

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/albapepper/pantry-notifier/internal/domain"
	"github.com/albapepper/pantry-notifier/internal/push"
)

// memStore is an in-memory PreferenceStore, InventoryStore and LogStore.
type memStore struct {
	mu         sync.Mutex
	prefs      map[string]domain.Preference
	items      []domain.Item
	deliveries []domain.DeliveryLogEntry
	reminders  []domain.DailyReminderLogEntry

	failExpiringOn map[string]error // keyed by YYYY-MM-DD
	failExpired    error
}

func newMemStore() *memStore {
	return &memStore{prefs: map[string]domain.Preference{}, failExpiringOn: map[string]error{}}
}

func (m *memStore) putPref(p domain.Preference) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[p.UserID] = p
}

func (m *memStore) addItem(it domain.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, it)
}

func (m *memStore) EnabledPreferences(context.Context) ([]domain.Preference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Preference
	for _, p := range m.prefs {
		if p.Enabled {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b domain.Preference) int {
		switch {
		case a.UserID < b.UserID:
			return -1
		case a.UserID > b.UserID:
			return 1
		}
		return 0
	})
	return out, nil
}

var errNoPref = errors.New("no preference")

func (m *memStore) Preference(_ context.Context, userID string) (*domain.Preference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prefs[userID]
	if !ok {
		return nil, errNoPref
	}
	return &p, nil
}

func (m *memStore) UpdateLastEmailSent(_ context.Context, userID string, kind domain.EmailKind, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.prefs[userID]
	if kind == domain.EmailWeekly {
		p.LastWeeklyEmailSentAt = &at
	} else {
		p.LastDailyEmailSentAt = &at
	}
	m.prefs[userID] = p
	return nil
}

func (m *memStore) ExpiringOn(_ context.Context, userID string, date time.Time) ([]domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failExpiringOn[date.Format(domain.DateLayout)]; err != nil {
		return nil, err
	}
	var out []domain.Item
	for _, it := range m.items {
		if it.OwnerUserID == userID && it.DeletedAt == nil && it.ExpirationDate.Equal(date) {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memStore) ExpiredBefore(_ context.Context, userID string, date time.Time) ([]domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failExpired != nil {
		return nil, m.failExpired
	}
	var out []domain.Item
	for _, it := range m.items {
		if it.OwnerUserID == userID && it.DeletedAt == nil && it.ExpirationDate.Before(date) {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memStore) InsertDeliveries(_ context.Context, entries []domain.DeliveryLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, entries...)
	return nil
}

func (m *memStore) InsertReminderLog(_ context.Context, e domain.DailyReminderLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reminders = append(m.reminders, e)
	return nil
}

func (m *memStore) SentItemIDs(_ context.Context, userID string, category domain.Category, itemIDs []string, since time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.deliveries {
		if e.UserID != userID || e.Category != category || e.ItemID == nil || e.SentAt.Before(since) {
			continue
		}
		if slices.Contains(itemIDs, *e.ItemID) && !slices.Contains(out, *e.ItemID) {
			out = append(out, *e.ItemID)
		}
	}
	return out, nil
}

func (m *memStore) ReminderLogged(_ context.Context, userID string, t domain.ReminderType, date time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.reminders {
		if e.UserID == userID && e.ReminderType == t && e.SentDate.Equal(domain.Date(date)) {
			return true, nil
		}
	}
	return false, nil
}

// rows returns delivery rows for a user and category.
func (m *memStore) rows(userID string, category domain.Category) []domain.DeliveryLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DeliveryLogEntry
	for _, e := range m.deliveries {
		if e.UserID == userID && e.Category == category {
			out = append(out, e)
		}
	}
	return out
}

// fakePush answers every send with the configured per-user device results.
type fakePush struct {
	mu      sync.Mutex
	devices map[string][]push.DeviceResult
	sent    []sentPush
}

type sentPush struct {
	UserID  string
	Payload push.Payload
}

func newFakePush() *fakePush {
	return &fakePush{devices: map[string][]push.DeviceResult{}}
}

func (f *fakePush) setDevices(userID string, results ...push.DeviceResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices[userID] = results
}

func (f *fakePush) SendToUser(_ context.Context, userID string, payload push.Payload) []push.DeviceResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPush{UserID: userID, Payload: payload})
	return slices.Clone(f.devices[userID])
}

func (f *fakePush) calls() []sentPush {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent)
}

func okDevice(id string) push.DeviceResult {
	return push.DeviceResult{TargetID: id, Success: true}
}

func failedDevice(id string, err error) push.DeviceResult {
	return push.DeviceResult{TargetID: id, Err: err}
}

type sentEmail struct {
	Kind  domain.EmailKind
	User  string
	Items []string
}

type fakeEmail struct {
	mu   sync.Mutex
	ok   bool
	sent []sentEmail
}

func (f *fakeEmail) record(kind domain.EmailKind, pref domain.Preference, items []domain.Item) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEmail{Kind: kind, User: pref.UserID, Items: domain.ItemIDs(items)})
	return f.ok
}

func (f *fakeEmail) SendDailyExpiryEmail(_ context.Context, pref domain.Preference, items []domain.Item) bool {
	return f.record(domain.EmailDaily, pref, items)
}

func (f *fakeEmail) SendWeeklyExpiryEmail(_ context.Context, pref domain.Preference, items []domain.Item) bool {
	return f.record(domain.EmailWeekly, pref, items)
}

func (f *fakeEmail) calls() []sentEmail {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent)
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fixture struct {
	store    *memStore
	push     *fakePush
	email    *fakeEmail
	clock    *clock
	notifier *Notifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: newMemStore(),
		push:  newFakePush(),
		email: &fakeEmail{ok: true},
		clock: &clock{},
	}
	f.notifier = New(Deps{
		Preferences: f.store,
		Inventory:   f.store,
		Logs:        f.store,
		Push:        f.push,
		Email:       f.email,
		Logger:      zap.NewNop(),
	}, Options{
		DefaultTZ: "UTC",
		Workers:   2,
		Now:       f.clock.Now,
	})
	return f
}

// at parses an RFC3339 instant.
func at(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

func day(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := domain.ParseDate(s)
	if err != nil {
		t.Fatalf("parse date %q: %v", s, err)
	}
	return v
}

func pref(userID, tz string) domain.Preference {
	p := domain.DefaultPreference(userID, tz)
	p.Email = userID + "@example.com"
	p.Name = userID
	return p
}
