package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/albapepper/pantry-notifier/internal/db"
	"github.com/albapepper/pantry-notifier/internal/domain"
)

// Postgres implements Store on the shared pgx pool. Every query runs a
// statement prepared by db.New.
type Postgres struct {
	pool *db.Pool
	log  *zap.Logger
}

var _ Store = (*Postgres)(nil)

// NewPostgres wraps an open pool.
func NewPostgres(pool *db.Pool, opts ...Option) *Postgres {
	return &Postgres{pool: pool, log: buildOptions(opts).log}
}

// Pool returns the underlying pool (used by the LISTEN loop).
func (p *Postgres) Pool() *db.Pool { return p.pool }

// HealthCheck verifies the database answers.
func (p *Postgres) HealthCheck(ctx context.Context) error {
	return p.pool.HealthCheck(ctx)
}

// Close closes the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// --------------------------------------------------------------------------
// Preferences
// --------------------------------------------------------------------------

func scanPostgresPreference(row pgx.Row) (domain.Preference, []error, error) {
	var (
		c    prefColumns
		days []int32
	)
	if err := row.Scan(
		&c.userID, &c.email, &c.name, &c.enabled, &days,
		&c.notifyAt, &c.quietFrom, &c.quietTo, &c.timezone,
		&c.reminders, &c.emailDaily, &c.emailWeek, &c.lastDaily, &c.lastWeekly,
	); err != nil {
		return domain.Preference{}, nil, err
	}
	c.days = make([]int, len(days))
	for i, d := range days {
		c.days[i] = int(d)
	}
	p, problems := c.toDomain()
	return p, problems, nil
}

// EnabledPreferences returns every enabled user's preferences.
func (p *Postgres) EnabledPreferences(ctx context.Context) ([]domain.Preference, error) {
	rows, err := p.pool.Query(ctx, "enabled_preferences")
	if err != nil {
		return nil, fmt.Errorf("query enabled preferences: %w", err)
	}
	defer rows.Close()

	var res []domain.Preference
	for rows.Next() {
		pref, problems, err := scanPostgresPreference(rows)
		if err != nil {
			// pgx closes the result set on a scan error.
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		reportRepairs(p.log, pref.UserID, problems)
		res = append(res, pref)
	}
	return res, rows.Err()
}

// Preference returns one user's preferences or ErrNotFound.
func (p *Postgres) Preference(ctx context.Context, userID string) (*domain.Preference, error) {
	pref, problems, err := scanPostgresPreference(p.pool.QueryRow(ctx, "preference_by_user", userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query preference %s: %w", userID, err)
	}
	reportRepairs(p.log, pref.UserID, problems)
	return &pref, nil
}

// UpdateLastEmailSent records when a digest of kind was last delivered.
func (p *Postgres) UpdateLastEmailSent(ctx context.Context, userID string, kind domain.EmailKind, at time.Time) error {
	stmt := "update_last_daily_email"
	if kind == domain.EmailWeekly {
		stmt = "update_last_weekly_email"
	}
	_, err := p.pool.Exec(ctx, stmt, userID, at.UTC())
	return err
}

// --------------------------------------------------------------------------
// Inventory
// --------------------------------------------------------------------------

func (p *Postgres) queryItems(ctx context.Context, stmt string, args ...any) ([]domain.Item, error) {
	rows, err := p.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", stmt, err)
	}
	defer rows.Close()

	var res []domain.Item
	for rows.Next() {
		var it domain.Item
		if err := rows.Scan(&it.ID, &it.OwnerUserID, &it.Name, &it.ExpirationDate, &it.Quantity, &it.Unit); err != nil {
			return nil, err
		}
		it.ExpirationDate = domain.Date(it.ExpirationDate)
		res = append(res, it)
	}
	return res, rows.Err()
}

// ExpiringOn returns the user's items whose expiration date equals date.
func (p *Postgres) ExpiringOn(ctx context.Context, userID string, date time.Time) ([]domain.Item, error) {
	return p.queryItems(ctx, "items_expiring_on", userID, domain.Date(date))
}

// ExpiredBefore returns the user's items whose expiration date is before date.
func (p *Postgres) ExpiredBefore(ctx context.Context, userID string, date time.Time) ([]domain.Item, error) {
	return p.queryItems(ctx, "items_expired_before", userID, domain.Date(date))
}

// --------------------------------------------------------------------------
// Logs
// --------------------------------------------------------------------------

// InsertDeliveries appends entries in a single batch round trip.
func (p *Postgres) InsertDeliveries(ctx context.Context, entries []domain.DeliveryLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue("insert_delivery",
			e.ID, e.UserID, nullString(e.ItemID), string(e.Category),
			e.SentAt.UTC(), e.Success, nullString(e.ErrorMessage))
	}
	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert delivery: %w", err)
		}
	}
	return nil
}

// InsertReminderLog appends one daily reminder log row.
func (p *Postgres) InsertReminderLog(ctx context.Context, e domain.DailyReminderLogEntry) error {
	_, err := p.pool.Exec(ctx, "insert_reminder_log",
		e.ID, e.UserID, string(e.ReminderType), domain.Date(e.SentDate), e.Success, e.SentAt.UTC())
	return err
}

// SentItemIDs returns which of itemIDs have a category log row at or after
// since.
func (p *Postgres) SentItemIDs(ctx context.Context, userID string, category domain.Category, itemIDs []string, since time.Time) ([]string, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx, "sent_item_ids", userID, string(category), itemIDs, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query sent items: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// ReminderLogged reports whether any reminder log row exists for the user,
// type and local date.
func (p *Postgres) ReminderLogged(ctx context.Context, userID string, reminderType domain.ReminderType, date time.Time) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, "reminder_logged", userID, string(reminderType), domain.Date(date)).Scan(&exists)
	return exists, err
}

// RecentDeliveries returns up to limit of the user's log rows since a time,
// newest first.
func (p *Postgres) RecentDeliveries(ctx context.Context, userID string, since time.Time, limit int) ([]domain.DeliveryLogEntry, error) {
	rows, err := p.pool.Query(ctx, "recent_deliveries", userID, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var res []domain.DeliveryLogEntry
	for rows.Next() {
		var (
			e        domain.DeliveryLogEntry
			category string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.ItemID, &category, &e.SentAt, &e.Success, &e.ErrorMessage); err != nil {
			return nil, err
		}
		e.Category = domain.Category(category)
		e.SentAt = e.SentAt.UTC()
		res = append(res, e)
	}
	return res, rows.Err()
}

// PruneLogs deletes log rows written before a time and returns how many
// were removed.
func (p *Postgres) PruneLogs(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for _, stmt := range []string{"prune_deliveries", "prune_reminder_log"} {
		tag, err := p.pool.Exec(ctx, stmt, before.UTC())
		if err != nil {
			return total, fmt.Errorf("%s: %w", stmt, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

// --------------------------------------------------------------------------
// Push subscriptions
// --------------------------------------------------------------------------

// PushSubscriptions returns every subscription the user registered.
func (p *Postgres) PushSubscriptions(ctx context.Context, userID string) ([]domain.PushSubscription, error) {
	rows, err := p.pool.Query(ctx, "push_subscriptions", userID)
	if err != nil {
		return nil, fmt.Errorf("query push subscriptions: %w", err)
	}
	defer rows.Close()

	var res []domain.PushSubscription
	for rows.Next() {
		var sub domain.PushSubscription
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dh, &sub.Auth, &sub.DeviceName, &sub.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, sub)
	}
	return res, rows.Err()
}

// DeleteSubscription removes one subscription. Missing ids are ignored.
func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, "delete_subscription", id)
	return err
}
