// Command notifyctl is the pantry notifier operations CLI.
//
// Usage:
//
//	notifyctl migrate
//	notifyctl sweep fine
//	notifyctl sweep daily
//	notifyctl check-expiry --user u-123
//	notifyctl test-push --user u-123
//	notifyctl prune --older-than 720h
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/albapepper/pantry-notifier/internal/app"
	"github.com/albapepper/pantry-notifier/internal/config"
	"github.com/albapepper/pantry-notifier/internal/logger"
	"github.com/albapepper/pantry-notifier/internal/maintenance"
	"github.com/albapepper/pantry-notifier/internal/notifications"
)

func main() {
	root := &cobra.Command{
		Use:          "notifyctl",
		Short:        "Pantry notifier operations CLI",
		SilenceUsage: true,
	}

	root.AddCommand(migrateCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(checkExpiryCmd())
	root.AddCommand(testPushCmd())
	root.AddCommand(pruneCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// migrate command
// --------------------------------------------------------------------------

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			cfg, log, err := load()
			if err != nil {
				return err
			}
			if err := app.Migrate(ctx, cfg); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info("schema up to date", zap.String("driver", cfg.DBDriver))
			return nil
		},
	}
}

// --------------------------------------------------------------------------
// sweep command
// --------------------------------------------------------------------------

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "sweep fine|daily",
		Short:     "Run one sweep over all enabled users",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(notifications.SweepFine), string(notifications.SweepDaily)},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(func(ctx context.Context, a *app.App) error {
				res := a.Notifier.Sweep(ctx, notifications.SweepKind(args[0]))
				fmt.Printf("sweep %s: users=%d skipped=%d sent=%d failed=%d suppressed=%d errors=%d duration=%s\n",
					res.Kind, res.Users, res.Skipped, res.Sent, res.Failed, res.Suppressed,
					len(res.Errors), res.Duration.Round(time.Millisecond))
				for _, e := range res.Errors {
					fmt.Println("  error:", e)
				}
				return nil
			})
		},
	}
}

// --------------------------------------------------------------------------
// check-expiry command
// --------------------------------------------------------------------------

func checkExpiryCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "check-expiry",
		Short: "Run an immediate expiry check for one user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(func(ctx context.Context, a *app.App) error {
				res, err := a.Notifier.CheckUserExpiry(ctx, userID)
				if errors.Is(err, notifications.ErrDisabled) {
					fmt.Printf("user %s has notifications disabled\n", userID)
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Printf("user %s: sent=%d failed=%d suppressed=%d skipped=%t\n",
					res.UserID, res.Sent, res.Failed, res.Suppressed, res.Skipped)
				for _, e := range res.Errors {
					fmt.Println("  error:", e)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User ID (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// --------------------------------------------------------------------------
// test-push command
// --------------------------------------------------------------------------

func testPushCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "test-push",
		Short: "Send a test notification to every device of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(func(ctx context.Context, a *app.App) error {
				out, err := a.Notifier.SendTestNotification(ctx, userID)
				if err != nil {
					return err
				}
				fmt.Printf("user %s: successes=%d failures=%d\n", userID, out.Successes, out.Failures)
				for _, r := range out.Results {
					status := "ok"
					if r.Err != nil {
						status = r.Err.Error()
					}
					fmt.Printf("  %s: %s\n", r.TargetID, status)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User ID (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// --------------------------------------------------------------------------
// prune command
// --------------------------------------------------------------------------

func pruneCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete delivery and reminder log rows older than a duration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			return runApp(func(ctx context.Context, a *app.App) error {
				n, err := maintenance.Cleanup(ctx, a.Store, maintenance.Config{Retention: olderThan}, a.Log)
				if err != nil {
					return err
				}
				fmt.Printf("pruned %d rows\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Retention period")
	return cmd
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, log, nil
}

func runApp(fn func(ctx context.Context, a *app.App) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, log, err := load()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	return fn(ctx, a)
}
