// Package db provides a pgxpool-based connection pool with prepared statement
// registration and health checking.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/albapepper/pantry-notifier/internal/config"
)

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool. The schema must already
// exist: statements are prepared against it on every new connection.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

const prefColumns = `p.user_id, u.email, u.name, p.enabled, p.days_before_expiry,
	p.notification_time, p.quiet_hours_start, p.quiet_hours_end, p.timezone,
	p.daily_reminders, p.email_daily_expiry, p.email_weekly_summary,
	p.last_daily_email_sent_at, p.last_weekly_email_sent_at`

const itemColumns = "id, user_id, name, expiration_date, quantity, unit"

// registerPreparedStatements registers every statement the store issues.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		// Health
		"health_check": "SELECT 1",

		// Preferences
		"enabled_preferences":      "SELECT " + prefColumns + " FROM notification_preferences p JOIN users u ON u.id = p.user_id WHERE p.enabled ORDER BY p.user_id",
		"preference_by_user":       "SELECT " + prefColumns + " FROM notification_preferences p JOIN users u ON u.id = p.user_id WHERE p.user_id = $1",
		"update_last_daily_email":  "UPDATE notification_preferences SET last_daily_email_sent_at = $2, updated_at = NOW() WHERE user_id = $1",
		"update_last_weekly_email": "UPDATE notification_preferences SET last_weekly_email_sent_at = $2, updated_at = NOW() WHERE user_id = $1",

		// Inventory (read-only)
		"items_expiring_on":    "SELECT " + itemColumns + " FROM inventory_items WHERE user_id = $1 AND expiration_date = $2 AND deleted_at IS NULL ORDER BY name, id",
		"items_expired_before": "SELECT " + itemColumns + " FROM inventory_items WHERE user_id = $1 AND expiration_date < $2 AND deleted_at IS NULL ORDER BY expiration_date, name, id",

		// Delivery log
		"insert_delivery":   "INSERT INTO delivery_log (id, user_id, item_id, category, sent_at, success, error_message) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		"sent_item_ids":     "SELECT DISTINCT item_id FROM delivery_log WHERE user_id = $1 AND category = $2 AND item_id = ANY($3) AND sent_at >= $4",
		"recent_deliveries": "SELECT id, user_id, item_id, category, sent_at, success, error_message FROM delivery_log WHERE user_id = $1 AND sent_at >= $2 ORDER BY sent_at DESC, id LIMIT $3",
		"prune_deliveries":  "DELETE FROM delivery_log WHERE sent_at < $1",

		// Daily reminder log
		"insert_reminder_log": "INSERT INTO daily_reminder_log (id, user_id, reminder_type, sent_date, success, sent_at) VALUES ($1, $2, $3, $4, $5, $6)",
		"reminder_logged":     "SELECT EXISTS (SELECT 1 FROM daily_reminder_log WHERE user_id = $1 AND reminder_type = $2 AND sent_date = $3)",
		"prune_reminder_log":  "DELETE FROM daily_reminder_log WHERE sent_at < $1",

		// Push subscriptions
		"push_subscriptions":  "SELECT id, user_id, endpoint, p256dh, auth, device_name, created_at FROM push_subscriptions WHERE user_id = $1 ORDER BY created_at, id",
		"delete_subscription": "DELETE FROM push_subscriptions WHERE id = $1",
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
