package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	// Registers the "sqlite" driver (pure Go).
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/albapepper/pantry-notifier/internal/domain"
)

// SQLite implements Store using an embedded SQLite database.
type SQLite struct {
	db  *sql.DB
	log *zap.Logger
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (or creates) the SQLite database at the given path,
// applies recommended PRAGMAs, runs SQL migrations, and returns a store.
// ":memory:" opens a private in-memory database.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// SQLite is a single-writer engine; one connection also keeps an
	// in-memory database alive for the store's lifetime.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := RunSQLiteMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &SQLite{db: db, log: buildOptions(opts).log}, nil
}

// applyPragmas configures the SQLite connection for durability and concurrency.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// DB exposes the handle for seeding and administrative commands.
func (s *SQLite) DB() *sql.DB { return s.db }

// Close releases the underlying database resources.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// HealthCheck verifies the database answers.
func (s *SQLite) HealthCheck(ctx context.Context) error {
	var n int
	return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&n)
}

// --------------------------------------------------------------------------
// Preferences
// --------------------------------------------------------------------------

const sqlitePrefSelect = `
	SELECT p.user_id, u.email, u.name, p.enabled, p.days_before_expiry,
	       p.notification_time, p.quiet_hours_start, p.quiet_hours_end, p.timezone,
	       p.daily_reminders, p.email_daily_expiry, p.email_weekly_summary,
	       p.last_daily_email_sent_at, p.last_weekly_email_sent_at
	FROM notification_preferences p
	JOIN users u ON u.id = p.user_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLitePreference(row rowScanner) (domain.Preference, []error, error) {
	var (
		c                     prefColumns
		enabled, daily, week  int
		daysJSON, reminders   string
		lastDaily, lastWeekly sql.NullInt64
	)
	if err := row.Scan(
		&c.userID, &c.email, &c.name, &enabled, &daysJSON,
		&c.notifyAt, &c.quietFrom, &c.quietTo, &c.timezone,
		&reminders, &daily, &week, &lastDaily, &lastWeekly,
	); err != nil {
		return domain.Preference{}, nil, err
	}
	if err := json.Unmarshal([]byte(daysJSON), &c.days); err != nil {
		c.days = slices.Clone(domain.DefaultDaysBeforeExpiry)
		c.problems = append(c.problems, fmt.Errorf("days_before_expiry: %w", err))
	}
	c.enabled = enabled != 0
	c.emailDaily = daily != 0
	c.emailWeek = week != 0
	c.reminders = []byte(reminders)
	c.lastDaily = fromNullInt64(lastDaily)
	c.lastWeekly = fromNullInt64(lastWeekly)
	p, problems := c.toDomain()
	return p, problems, nil
}

// EnabledPreferences returns every enabled user's preferences.
func (s *SQLite) EnabledPreferences(ctx context.Context) ([]domain.Preference, error) {
	rows, err := s.db.QueryContext(ctx, sqlitePrefSelect+` WHERE p.enabled = 1 ORDER BY p.user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.Preference
	for rows.Next() {
		p, problems, err := scanSQLitePreference(rows)
		if err != nil {
			s.log.Warn("skipping unreadable preference row", zap.Error(err))
			continue
		}
		reportRepairs(s.log, p.UserID, problems)
		res = append(res, p)
	}
	return res, rows.Err()
}

// Preference returns one user's preferences or ErrNotFound.
func (s *SQLite) Preference(ctx context.Context, userID string) (*domain.Preference, error) {
	p, problems, err := scanSQLitePreference(s.db.QueryRowContext(ctx, sqlitePrefSelect+` WHERE p.user_id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	reportRepairs(s.log, p.UserID, problems)
	return &p, nil
}

// UpsertPreference writes a full preference row. The user row is created if
// missing.
func (s *SQLite) UpsertPreference(ctx context.Context, p domain.Preference) error {
	days, err := json.Marshal(domain.NormalizeDays(p.DaysBeforeExpiry))
	if err != nil {
		return err
	}
	reminders := p.DailyReminders
	if reminders == nil {
		reminders = map[domain.ReminderType]domain.ReminderConfig{}
	}
	remindersJSON, err := json.Marshal(reminders)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, email, name) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET email = excluded.email, name = excluded.name`,
		p.UserID, p.Email, p.Name,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO notification_preferences (
			user_id, enabled, days_before_expiry, notification_time,
			quiet_hours_start, quiet_hours_end, timezone, daily_reminders,
			email_daily_expiry, email_weekly_summary,
			last_daily_email_sent_at, last_weekly_email_sent_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			enabled                   = excluded.enabled,
			days_before_expiry        = excluded.days_before_expiry,
			notification_time         = excluded.notification_time,
			quiet_hours_start         = excluded.quiet_hours_start,
			quiet_hours_end           = excluded.quiet_hours_end,
			timezone                  = excluded.timezone,
			daily_reminders           = excluded.daily_reminders,
			email_daily_expiry        = excluded.email_daily_expiry,
			email_weekly_summary      = excluded.email_weekly_summary,
			last_daily_email_sent_at  = excluded.last_daily_email_sent_at,
			last_weekly_email_sent_at = excluded.last_weekly_email_sent_at`,
		p.UserID, boolToInt(p.Enabled), string(days), p.NotificationTime.String(),
		p.QuietHoursStart.String(), p.QuietHoursEnd.String(), p.Timezone, string(remindersJSON),
		boolToInt(p.EmailDailyExpiry), boolToInt(p.EmailWeeklySummary),
		toNullInt64(p.LastDailyEmailSentAt), toNullInt64(p.LastWeeklyEmailSentAt),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateLastEmailSent records when a digest of kind was last delivered.
func (s *SQLite) UpdateLastEmailSent(ctx context.Context, userID string, kind domain.EmailKind, at time.Time) error {
	column := "last_daily_email_sent_at"
	if kind == domain.EmailWeekly {
		column = "last_weekly_email_sent_at"
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE notification_preferences SET `+column+` = ? WHERE user_id = ?`,
		at.UTC().Unix(), userID,
	)
	return err
}

// --------------------------------------------------------------------------
// Inventory
// --------------------------------------------------------------------------

const sqliteItemSelect = `SELECT id, user_id, name, expiration_date, quantity, unit FROM inventory_items`

func (s *SQLite) queryItems(ctx context.Context, query string, args ...any) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.Item
	for rows.Next() {
		var (
			it   domain.Item
			date string
		)
		if err := rows.Scan(&it.ID, &it.OwnerUserID, &it.Name, &date, &it.Quantity, &it.Unit); err != nil {
			return nil, err
		}
		if it.ExpirationDate, err = domain.ParseDate(date); err != nil {
			return nil, fmt.Errorf("item %s: %w", it.ID, err)
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// ExpiringOn returns the user's items whose expiration date equals date.
func (s *SQLite) ExpiringOn(ctx context.Context, userID string, date time.Time) ([]domain.Item, error) {
	return s.queryItems(ctx, sqliteItemSelect+`
		WHERE user_id = ? AND expiration_date = ? AND deleted_at IS NULL
		ORDER BY name, id`,
		userID, date.Format(domain.DateLayout),
	)
}

// ExpiredBefore returns the user's items whose expiration date is before date.
func (s *SQLite) ExpiredBefore(ctx context.Context, userID string, date time.Time) ([]domain.Item, error) {
	return s.queryItems(ctx, sqliteItemSelect+`
		WHERE user_id = ? AND expiration_date < ? AND deleted_at IS NULL
		ORDER BY expiration_date, name, id`,
		userID, date.Format(domain.DateLayout),
	)
}

// --------------------------------------------------------------------------
// Logs
// --------------------------------------------------------------------------

// InsertDeliveries appends entries in one transaction.
func (s *SQLite) InsertDeliveries(ctx context.Context, entries []domain.DeliveryLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO delivery_log (id, user_id, item_id, category, sent_at, success, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.UserID, nullString(e.ItemID), string(e.Category),
			e.SentAt.UTC().Unix(), boolToInt(e.Success), nullString(e.ErrorMessage),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// InsertReminderLog appends one daily reminder log row.
func (s *SQLite) InsertReminderLog(ctx context.Context, e domain.DailyReminderLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_reminder_log (id, user_id, reminder_type, sent_date, success, sent_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, string(e.ReminderType), e.SentDate.Format(domain.DateLayout),
		boolToInt(e.Success), e.SentAt.UTC().Unix(),
	)
	return err
}

// SentItemIDs returns which of itemIDs have a category log row at or after
// since.
func (s *SQLite) SentItemIDs(ctx context.Context, userID string, category domain.Category, itemIDs []string, since time.Time) ([]string, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(itemIDs)+3)
	args = append(args, userID, string(category), since.UTC().Unix())
	for _, id := range itemIDs {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(itemIDs)), ",")

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT item_id FROM delivery_log
		WHERE user_id = ? AND category = ? AND sent_at >= ?
		  AND item_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

// ReminderLogged reports whether any reminder log row exists for the user,
// type and local date.
func (s *SQLite) ReminderLogged(ctx context.Context, userID string, reminderType domain.ReminderType, date time.Time) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM daily_reminder_log
			WHERE user_id = ? AND reminder_type = ? AND sent_date = ?
		)`,
		userID, string(reminderType), date.Format(domain.DateLayout),
	).Scan(&exists)
	return exists != 0, err
}

// RecentDeliveries returns up to limit of the user's log rows since a time,
// newest first.
func (s *SQLite) RecentDeliveries(ctx context.Context, userID string, since time.Time, limit int) ([]domain.DeliveryLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, item_id, category, sent_at, success, error_message
		FROM delivery_log
		WHERE user_id = ? AND sent_at >= ?
		ORDER BY sent_at DESC, id
		LIMIT ?`,
		userID, since.UTC().Unix(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.DeliveryLogEntry
	for rows.Next() {
		var (
			e           domain.DeliveryLogEntry
			itemID, msg sql.NullString
			category    string
			sentAt      int64
			successInt  int
		)
		if err := rows.Scan(&e.ID, &e.UserID, &itemID, &category, &sentAt, &successInt, &msg); err != nil {
			return nil, err
		}
		e.Category = domain.Category(category)
		e.SentAt = time.Unix(sentAt, 0).UTC()
		e.Success = successInt != 0
		e.ItemID = fromNullString(itemID)
		e.ErrorMessage = fromNullString(msg)
		res = append(res, e)
	}
	return res, rows.Err()
}

// PruneLogs deletes log rows written before a time and returns how many
// were removed.
func (s *SQLite) PruneLogs(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"delivery_log", "daily_reminder_log"} {
		res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE sent_at < ?`, before.UTC().Unix())
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// --------------------------------------------------------------------------
// Push subscriptions
// --------------------------------------------------------------------------

// PushSubscriptions returns every subscription the user registered.
func (s *SQLite) PushSubscriptions(ctx context.Context, userID string) ([]domain.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, endpoint, p256dh, auth, device_name, created_at
		FROM push_subscriptions
		WHERE user_id = ?
		ORDER BY created_at, id`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.PushSubscription
	for rows.Next() {
		var (
			sub     domain.PushSubscription
			created int64
		)
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dh, &sub.Auth, &sub.DeviceName, &created); err != nil {
			return nil, err
		}
		sub.CreatedAt = time.Unix(created, 0).UTC()
		res = append(res, sub)
	}
	return res, rows.Err()
}

// DeleteSubscription removes one subscription. Missing ids are ignored.
func (s *SQLite) DeleteSubscription(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE id = ?`, id)
	return err
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// boolToInt converts a boolean to 1/0 for SQLite.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func toNullInt64(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().Unix(), Valid: true}
}

func fromNullInt64(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(n.Int64, 0).UTC()
	return &t
}

func fromNullString(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	return &n.String
}
