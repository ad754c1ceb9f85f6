package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/allfoodsicily/draftdesk/internal/api"
	"github.com/allfoodsicily/draftdesk/internal/auth"
	"github.com/allfoodsicily/draftdesk/internal/config"
	"github.com/allfoodsicily/draftdesk/internal/logging"
	"github.com/allfoodsicily/draftdesk/internal/metrics"
	"github.com/allfoodsicily/draftdesk/internal/models"
	"github.com/allfoodsicily/draftdesk/internal/orchestrator"
	"github.com/allfoodsicily/draftdesk/internal/scheduler"
	"github.com/allfoodsicily/draftdesk/internal/server"
	"github.com/allfoodsicily/draftdesk/internal/telegram"
)

func main() {
	runNow := flag.Bool("now", false, "run one scheduled pipeline synchronously and exit")
	validateOnly := flag.Bool("validate", false, "validate settings and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to init logger", "error", err)
		os.Exit(1)
	}

	if *validateOnly {
		if err := cfg.Validate(); err != nil {
			logger.Error("configuration invalid", "error", err)
			os.Exit(1)
		}
		logger.Info("configuration valid")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *runNow {
		os.Exit(runOnce(ctx, cfg, logger))
	}

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

// runOnce executes one scheduled-kind run in the foreground.
func runOnce(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	app, err := build(ctx, cfg, nil, logger)
	if err != nil {
		logger.Error("failed to initialise pipeline", "error", err)
		return 1
	}
	defer app.Close()

	report, err := app.supervisor.Run(ctx, orchestrator.Trigger{Kind: models.TriggerScheduled, Origin: "cli"})
	if err != nil {
		logger.Error("run failed", "run_id", report.RunID, "error", err)
		return 1
	}
	logger.Info("run finished", "run_id", report.RunID, "state", report.State, "delivered", report.Counts.ItemsDelivered)
	return 0
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("starting draftdesk")

	collector, err := metrics.NewHTTPCollector()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	app, err := build(ctx, cfg, collector, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := cfg.Validate(); err != nil {
		// Runs will fail during setup until the settings are fixed.
		logger.Warn("configuration incomplete", "error", err)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", collector.Handler())
	authConfig := auth.Config{
		JWTSecret:         cfg.Auth.JWTSecret,
		AdminPasswordHash: cfg.Auth.AdminPasswordHash,
		TokenDuration:     cfg.Auth.TokenDuration,
	}
	if !authConfig.Enabled() {
		logger.Warn("admin authentication not configured, run endpoints disabled")
	}
	api.SetupRoutes(mux, app.supervisor, app.registry, authConfig, app.health, logger)

	srv := server.New(cfg.Server, logger, collector.InstrumentHandler(mux))

	if cfg.Schedule.Enabled {
		daily, err := scheduler.NewDailyScheduler(app.supervisor, scheduler.DailyConfig{
			TimeOfDay: cfg.Schedule.TimeOfDay,
			Location:  cfg.Schedule.Location,
		}, logger)
		if err != nil {
			return fmt.Errorf("init scheduler: %w", err)
		}
		go daily.Start(ctx)
		defer daily.Stop()
	} else {
		logger.Info("daily schedule disabled")
	}

	if cfg.Telegram.ListenerEnabled && app.telegram != nil {
		listener := telegram.NewCommandListener(app.telegram, app.supervisor, telegram.ListenerConfig{
			AllowedChatID: cfg.Telegram.ChatID,
		}, logging.Component(logger, "telegram_listener"))
		go func() {
			if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("telegram listener stopped", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	// A submitted run finishes its deliveries before the process exits.
	logger.Info("waiting for active run")
	app.supervisor.Wait()
	logger.Info("shutdown complete")
	return nil
}
