package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/warehouse-dq/internal/config"
	"github.com/JonMunkholm/warehouse-dq/internal/core"
	"github.com/JonMunkholm/warehouse-dq/internal/database"
	"github.com/JonMunkholm/warehouse-dq/internal/logging"
	"github.com/JonMunkholm/warehouse-dq/internal/metrics"
	"github.com/JonMunkholm/warehouse-dq/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateServer(); err != nil {
		slog.Error("invalid server configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"rule_concurrency", cfg.Quality.RuleConcurrency,
		"max_concurrent_runs", cfg.Quality.MaxConcurrentRuns,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	var rec *metrics.Recorder
	if cfg.Metrics.Enabled {
		rec = metrics.New(cfg.Metrics.Namespace)
	}

	service, err := core.NewService(pool, core.OptionsFromConfig(cfg),
		core.WithLogger(slog.Default()),
		core.WithMetrics(rec),
	)
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	if cfg.Quality.SeedFile != "" {
		rules, err := core.LoadSeedFile(cfg.Quality.SeedFile)
		if err != nil {
			slog.Error("failed to load seed rules", "error", err)
			os.Exit(1)
		}
		n, err := service.SeedRules(ctx, rules)
		if err != nil {
			slog.Error("failed to seed rules", "file", cfg.Quality.SeedFile, "error", err)
			os.Exit(1)
		}
		slog.Info("seed rules applied", "file", cfg.Quality.SeedFile, "inserted", n)
	}

	server := web.NewServer(service, cfg, rec)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Let in-flight rule batches finish so their outcomes are recorded.
		if status := service.RunLimiter().Status(); status.Active > 0 {
			slog.Info("waiting for rule batches to complete", "active", status.Active)
			if err := service.RunLimiter().WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("rule batches did not complete in time", "error", err)
			} else {
				slog.Info("all rule batches completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}
