// Package app builds the notifier's object graph from configuration. Both
// the service and the CLI start here.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/albapepper/pantry-notifier/internal/config"
	"github.com/albapepper/pantry-notifier/internal/db"
	"github.com/albapepper/pantry-notifier/internal/domain"
	"github.com/albapepper/pantry-notifier/internal/email"
	"github.com/albapepper/pantry-notifier/internal/lock"
	"github.com/albapepper/pantry-notifier/internal/maintenance"
	"github.com/albapepper/pantry-notifier/internal/notifications"
	"github.com/albapepper/pantry-notifier/internal/push"
	"github.com/albapepper/pantry-notifier/internal/scheduler"
	"github.com/albapepper/pantry-notifier/internal/store"
)

// App is the wired service.
type App struct {
	Config    *config.Config
	Log       *zap.Logger
	Store     store.Store
	Notifier  *notifications.Notifier
	Scheduler *scheduler.Handle

	closers []func() error
}

// Migrate applies the schema for the configured driver.
func Migrate(ctx context.Context, cfg *config.Config) error {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		return store.RunPostgresMigrations(ctx, cfg.DatabaseURL)
	case config.DriverSQLite:
		s, err := store.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return err
		}
		return s.Close()
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", cfg.DBDriver)
	}
}

// OpenStore migrates and opens the configured store.
func OpenStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Store, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		if err := store.RunPostgresMigrations(ctx, cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		pool, err := db.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		log.Info("database connected",
			zap.String("driver", cfg.DBDriver),
			zap.Int("min_conns", cfg.DBPoolMinConns),
			zap.Int("max_conns", cfg.DBPoolMaxConns))
		return store.NewPostgres(pool, store.WithLogger(log)), nil
	case config.DriverSQLite:
		s, err := store.OpenSQLite(ctx, cfg.SQLitePath, store.WithLogger(log))
		if err != nil {
			return nil, err
		}
		log.Info("sqlite ready", zap.String("path", cfg.SQLitePath))
		return s, nil
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.DBDriver)
	}
}

// New opens every collaborator named by cfg and wires the notifier and its
// scheduler. Optional collaborators (push, email, redis) are skipped with a
// log line when unconfigured.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	st, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)

	deps := notifications.Deps{
		Preferences: st,
		Inventory:   st,
		Logs:        st,
		Logger:      log,
	}

	if cfg.PushEnabled() {
		transport := push.NewWebPush(cfg.VAPIDSubscriber, cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.PushTTL)
		deps.Push = push.NewService(st, transport, cfg.PushConcurrency, log)
		log.Info("web push enabled", zap.Int("concurrency", cfg.PushConcurrency))
	} else {
		log.Info("web push disabled (no VAPID keys)")
	}

	if cfg.RabbitMQURL != "" {
		mq, err := email.NewRabbitMQ(cfg.RabbitMQURL, cfg.EmailExchange, cfg.EmailQueue)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("email queue: %w", err)
		}
		a.closers = append(a.closers, mq.Close)
		deps.Email = email.NewService(mq, cfg.EmailRatePerSec, cfg.EmailBurst, log)
		log.Info("email queue connected", zap.String("exchange", cfg.EmailExchange), zap.String("queue", cfg.EmailQueue))
	} else {
		log.Info("email disabled (no RABBITMQ_URL)")
	}

	locks := lock.Chain{lock.NewLocal()}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			_ = a.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.closers = append(a.closers, rdb.Close)
		locks = append(locks, lock.NewRedis(rdb, cfg.SweepLockTTL))
		log.Info("redis sweep lease enabled", zap.String("addr", cfg.RedisAddr))
	}
	deps.Locker = locks

	a.Notifier = notifications.New(deps, notifications.Options{
		DefaultTZ:   cfg.DefaultTZ,
		DedupWindow: cfg.DedupWindow,
		Workers:     cfg.SweepWorkers,
	})

	a.Scheduler, err = NewScheduler(cfg, a.Notifier, st, log)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// Sweeper runs one sweep of a kind.
type Sweeper interface {
	Sweep(ctx context.Context, kind notifications.SweepKind) notifications.SweepResult
}

// FineSchedule is the cadence of the fine sweep. Its phase decides which
// minutes of the hour the eligibility windows are evaluated at.
func FineSchedule(cfg *config.Config) (scheduler.Schedule, error) {
	fine, err := scheduler.EveryOffset(cfg.FineSweepInterval, cfg.FineSweepOffset)
	if err != nil {
		return nil, fmt.Errorf("fine sweep: %w", err)
	}
	return fine, nil
}

// NewScheduler registers the fine, daily and maintenance tasks.
func NewScheduler(cfg *config.Config, sw Sweeper, pruner maintenance.LogPruner, log *zap.Logger) (*scheduler.Handle, error) {
	fine, err := FineSchedule(cfg)
	if err != nil {
		return nil, err
	}
	at, err := domain.ParseTimeOfDay(cfg.DailySweepAt)
	if err != nil {
		return nil, fmt.Errorf("%w: DAILY_SWEEP_AT: %v", scheduler.ErrInvalidSchedule, err)
	}
	daily, err := scheduler.DailyAt(at, time.Local)
	if err != nil {
		return nil, fmt.Errorf("daily sweep: %w", err)
	}
	tasks := []scheduler.Task{
		{Name: scheduler.TaskFine, Schedule: fine, Run: func(ctx context.Context) { sw.Sweep(ctx, notifications.SweepFine) }},
		{Name: scheduler.TaskDaily, Schedule: daily, Run: func(ctx context.Context) { sw.Sweep(ctx, notifications.SweepDaily) }},
	}
	if cfg.MaintenanceInterval > 0 {
		every, err := scheduler.Every(cfg.MaintenanceInterval)
		if err != nil {
			return nil, fmt.Errorf("maintenance: %w", err)
		}
		tasks = append(tasks, scheduler.Task{
			Name:     scheduler.TaskMaintenance,
			Schedule: every,
			Run:      maintenance.Task(pruner, maintenance.Config{Retention: cfg.LogRetention}, log),
		})
	}
	return scheduler.New(tasks, log)
}

// Close releases collaborators in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
