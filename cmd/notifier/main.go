// Command notifier is the pantry expiry and reminder notification service.
// It runs the sweep scheduler, the on-demand LISTEN consumer (Postgres only)
// and the admin HTTP API.
//
// Usage:
//
//	notifier
//	HTTP_ADDR=:9090 DB_DRIVER=sqlite notifier

// @title Pantry Notifier Admin API
// @version 1.0.0
// @description Admin surface of the pantry expiry and reminder notifier: manual expiry checks, test pushes, on-demand sweeps and delivery log inspection.
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @contact.name Pantry
// @license.name MIT
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // IANA zones on minimal images

	"go.uber.org/zap"

	"github.com/albapepper/pantry-notifier/internal/api"
	"github.com/albapepper/pantry-notifier/internal/app"
	"github.com/albapepper/pantry-notifier/internal/config"
	"github.com/albapepper/pantry-notifier/internal/listener"
	"github.com/albapepper/pantry-notifier/internal/logger"

	_ "github.com/albapepper/pantry-notifier/docs" // swagger docs
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "notifier:", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("close failed", zap.Error(err))
		}
	}()

	// Start sweep, catch-up and retention tasks
	if err := a.Scheduler.Start(ctx); err != nil {
		log.Error("scheduler failed to start", zap.Error(err))
		return err
	}
	log.Info("scheduler running",
		zap.Duration("fine_interval", cfg.FineSweepInterval),
		zap.Duration("fine_offset", cfg.FineSweepOffset),
		zap.String("daily_at", cfg.DailySweepAt),
		zap.Duration("maintenance_interval", cfg.MaintenanceInterval))

	// Start LISTEN/NOTIFY consumer for on-demand expiry checks
	if cfg.DBDriver == config.DriverPostgres {
		go listener.Start(ctx, cfg.DatabaseURL, a.Notifier, log)
	}

	// Create router
	router := api.NewRouter(api.Deps{
		Notifier:  a.Notifier,
		Scheduler: a.Scheduler,
		Store:     a.Store,
		Logger:    log,
	}, cfg)

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute, // sweeps triggered over HTTP run synchronously
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting pantry notifier",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("environment", cfg.Environment),
			zap.String("driver", cfg.DBDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt or server failure
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serverErr:
		log.Error("server failed", zap.Error(err))
		cancel()
	}

	a.Scheduler.Stop()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}

	// Let in-flight sweeps finish before closing the store.
	done := make(chan struct{})
	go func() {
		a.Scheduler.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(cfg.SweepLockTTL):
		log.Warn("in-flight sweeps still running at exit")
	}
	log.Info("server stopped")
	return nil
}
