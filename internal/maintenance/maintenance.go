// Package maintenance holds housekeeping that runs on the scheduler's
// maintenance tick. The delivery logs are append-only and only the trailing
// dedup window is ever read, so older rows are pruned.
package maintenance

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Config controls retention. Zero Retention disables pruning.
type Config struct {
	Retention time.Duration // delivery_log + daily_reminder_log
	Now       func() time.Time
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{Retention: 30 * 24 * time.Hour}
}

// LogPruner deletes log rows older than a cutoff.
type LogPruner interface {
	PruneLogs(ctx context.Context, before time.Time) (int64, error)
}

// Cleanup removes delivery and reminder log rows older than the retention
// period. It returns the number of rows removed.
func Cleanup(ctx context.Context, store LogPruner, cfg Config, logger *zap.Logger) (int64, error) {
	if cfg.Retention <= 0 {
		return 0, nil
	}
	now := time.Now
	if cfg.Now != nil {
		now = cfg.Now
	}
	cutoff := now().Add(-cfg.Retention)

	n, err := store.PruneLogs(ctx, cutoff)
	if err != nil {
		logger.Warn("cleanup: failed to prune delivery logs", zap.Time("before", cutoff), zap.Error(err))
		return n, err
	}
	if n > 0 {
		logger.Info("cleanup: pruned delivery logs", zap.Int64("count", n), zap.Time("before", cutoff))
	}
	return n, nil
}

// Task adapts Cleanup to a scheduler task body.
func Task(store LogPruner, cfg Config, logger *zap.Logger) func(context.Context) {
	logger = logger.With(zap.String("component", "maintenance"))
	return func(ctx context.Context) {
		_, _ = Cleanup(ctx, store, cfg, logger)
	}
}
