package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/sheetsync/internal/config"
	"github.com/JonMunkholm/sheetsync/internal/core"
	"github.com/JonMunkholm/sheetsync/internal/logging"
	"github.com/JonMunkholm/sheetsync/internal/mapping"
	"github.com/JonMunkholm/sheetsync/internal/platform"
	"github.com/JonMunkholm/sheetsync/internal/store"
	"github.com/JonMunkholm/sheetsync/internal/web"
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

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"max_concurrent_runs", cfg.Processing.MaxConcurrentRuns,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	// Mapping configurations
	registry := mapping.NewRegistry()
	if err := registry.LoadDir(cfg.Processing.MappingDir); err != nil {
		if registry.Len() == 0 {
			slog.Error("failed to load mappings", "dir", cfg.Processing.MappingDir, "error", err)
			os.Exit(1)
		}
		slog.Warn("some mappings failed to load", "error", err)
	}
	for _, app := range registry.All() {
		slog.Debug("mapping registered",
			"source_app", app.SourceAppID,
			"destination_app", app.DestinationApp,
			"rules", len(app.Rules),
		)
	}
	slog.Info("mappings loaded", "count", registry.Len())

	// Run ledger
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	ledger := store.New(pool)
	if err := ledger.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	if err := ledger.Migrate(ctx); err != nil {
		slog.Error("failed to migrate run ledger", "error", err)
		os.Exit(1)
	}

	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}

	// Platform client
	client, err := platform.New(platform.Config{
		BaseURL:              cfg.Platform.BaseURL,
		APITokens:            cfg.Platform.APITokens,
		Timeout:              cfg.Platform.Timeout,
		MaxRecordsPerRequest: cfg.Platform.MaxRecordsPerRequest,
		MaxDownloadSize:      cfg.Processing.MaxFileSize,
	})
	if err != nil {
		slog.Error("failed to create platform client", "error", err)
		os.Exit(1)
	}

	service, err := core.NewService(core.Deps{
		Registry: registry,
		Files:    client,
		Schemas:  client,
		Records:  client,
		Ledger:   ledger,
	}, core.ServiceConfig{
		MaxConcurrentRuns: cfg.Processing.MaxConcurrentRuns,
		MaxWaitTime:       cfg.Processing.MaxWaitTime,
		RunTimeout:        cfg.Processing.RunTimeout,
		ResultTTL:         cfg.Processing.ResultTTL,
		MaxFileSize:       cfg.Processing.MaxFileSize,
		MaxParallelFiles:  cfg.Processing.MaxParallelFiles,
	})
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	server := web.NewServer(service, ledger, cfg)

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go core.StartRetentionScheduler(jobCtx, ledger, core.RetentionConfig{
		RetentionDays: cfg.Retention.Days,
		CheckInterval: cfg.Retention.CheckInterval,
	})

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop accepting submissions before waiting on the ones in flight.
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		if status := service.LimiterStatus(); status.Active > 0 {
			slog.Info("waiting for runs to complete", "active", status.Active)
			if err := service.WaitForRuns(shutdownCtx); err != nil {
				slog.Warn("runs did not complete in time", "error", err)
			} else {
				slog.Info("all runs completed")
			}
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}
