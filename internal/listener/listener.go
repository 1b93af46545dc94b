// Package listener provides a Postgres LISTEN/NOTIFY consumer for on-demand
// expiry checks. It holds a dedicated pgx connection (not from the pool)
// listening on the `notifier_expiry_check` channel.
//
// Other services request a check for one user right after inventory changes:
//
//	SELECT pg_notify('notifier_expiry_check', '{"user_id":"u-123"}');
//
// The check bypasses the cadence window but honors enabled and dedup.
package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/albapepper/pantry-notifier/internal/notifications"
)

const (
	Channel          = "notifier_expiry_check"
	reconnectBackoff = 5 * time.Second
	maxReconnect     = 30 * time.Second
)

// ExpiryCheckEvent is the JSON payload from pg_notify('notifier_expiry_check', ...).
type ExpiryCheckEvent struct {
	UserID string `json:"user_id"`
}

// ExpiryChecker runs a manual expiry check for one user.
type ExpiryChecker interface {
	CheckUserExpiry(ctx context.Context, userID string) (notifications.UserResult, error)
}

// Start opens a dedicated connection and listens on the channel. It
// reconnects automatically on connection loss. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func Start(ctx context.Context, dbURL string, checker ExpiryChecker, logger *zap.Logger) {
	logger = logger.With(zap.String("component", "listener"))
	reconnect(ctx, func(ctx context.Context, connected func()) error {
		return listenLoop(ctx, dbURL, checker, logger, connected)
	}, reconnectBackoff, logger)
}

// session runs one listen session and calls connected once LISTEN is active.
type session func(ctx context.Context, connected func()) error

// reconnect runs sessions until ctx is cancelled, doubling the wait after each
// failed attempt. A session that got as far as LISTEN resets the wait.
func reconnect(ctx context.Context, run session, initial time.Duration, logger *zap.Logger) {
	backoff := initial
	for {
		err := run(ctx, func() { backoff = initial })
		if ctx.Err() != nil {
			logger.Info("expiry listener stopped (context cancelled)")
			return
		}

		logger.Error("expiry listener disconnected, reconnecting",
			zap.Error(err), zap.Duration("backoff", backoff))

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxReconnect)
		case <-ctx.Done():
			return
		}
	}
}

// listenLoop runs a single listen session. Returns when the connection drops
// or the context is cancelled.
func listenLoop(ctx context.Context, dbURL string, checker ExpiryChecker, logger *zap.Logger, connected func()) error {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	_, err = conn.Exec(ctx, "LISTEN "+Channel)
	if err != nil {
		return fmt.Errorf("LISTEN %s: %w", Channel, err)
	}
	logger.Info("expiry listener connected", zap.String("channel", Channel))
	connected()

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		event, err := ParseEvent(notification.Payload)
		if err != nil {
			logger.Warn("failed to parse expiry check event",
				zap.String("payload", notification.Payload), zap.Error(err))
			continue
		}

		// Process asynchronously to avoid blocking the listener
		go Handle(context.WithoutCancel(ctx), checker, event, logger)
	}
}

// ParseEvent decodes and validates a notification payload.
func ParseEvent(payload string) (ExpiryCheckEvent, error) {
	var event ExpiryCheckEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return event, err
	}
	if event.UserID == "" {
		return event, errors.New("missing user_id")
	}
	return event, nil
}

// Handle runs the check for one event and logs the outcome.
func Handle(ctx context.Context, checker ExpiryChecker, event ExpiryCheckEvent, logger *zap.Logger) {
	res, err := checker.CheckUserExpiry(ctx, event.UserID)
	switch {
	case errors.Is(err, notifications.ErrDisabled):
		logger.Debug("expiry check skipped for disabled user", zap.String("user_id", event.UserID))
	case err != nil:
		logger.Warn("expiry check failed", zap.String("user_id", event.UserID), zap.Error(err))
	default:
		logger.Info("expiry check complete",
			zap.String("user_id", event.UserID),
			zap.Int("sent", res.Sent),
			zap.Int("failed", res.Failed),
			zap.Int("suppressed", res.Suppressed))
	}
}
