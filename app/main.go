package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/retailxai/draft-publisher/app/api"
	"github.com/retailxai/draft-publisher/app/audit"
	"github.com/retailxai/draft-publisher/app/cache"
	"github.com/retailxai/draft-publisher/app/cfg"
	"github.com/retailxai/draft-publisher/app/database"
	"github.com/retailxai/draft-publisher/app/destination"
	"github.com/retailxai/draft-publisher/app/ledger"
	"github.com/retailxai/draft-publisher/app/publish"
	"github.com/retailxai/draft-publisher/app/publisher"
	"github.com/retailxai/draft-publisher/app/tasks"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if appCfg == nil {
		return
	}

	if appCfg.Debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	slog.Info("Starting Draft Publisher", "version", appCfg.Version)

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to connect to database", "path", appCfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "schema_version", version, "dirty", dirty)

	destinations := destination.NewConfigCache(appCfg.DestinationsDir)
	if err := destinations.Run(); err != nil {
		slog.Error("Failed to load destination configurations", "dir", appCfg.DestinationsDir, "error", err)
		os.Exit(1)
	}
	slog.Info("Destinations loaded", "enabled", len(destinations.GetEnabledConfigs()), "names", destinations.Names())

	jobRepo := database.NewJobRepository(db)

	deps := publish.Deps{
		Drafts:       database.NewDraftRepository(db),
		Records:      database.NewRecordRepository(db),
		Credentials:  database.NewCredentialRepository(db),
		Ledger:       ledger.New(jobRepo),
		Trail:        audit.New(database.NewAuditRepository(db)),
		Destinations: destinations,
		Factory:      publisher.NewFactory(&http.Client{}, appCfg.UserAgent),
		Timeout:      appCfg.PublishTimeout,
	}

	var replayHealth api.HealthReporter
	if appCfg.RedisAddr != "" {
		replay, err := cache.NewReplayCache(appCfg.RedisAddr, appCfg.RedisPassword, appCfg.ReplayTTL)
		if err != nil {
			slog.Error("Failed to connect to replay cache", "addr", appCfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer replay.Close()
		deps.Replay = replay
		replayHealth = replay
		slog.Info("Replay cache enabled", "addr", appCfg.RedisAddr, "ttl", appCfg.ReplayTTL)
	}

	coordinator := publish.NewCoordinator(deps)

	scheduler := tasks.NewScheduler(jobRepo, coordinator, appCfg.SweepInterval, appCfg.WorkerCount)
	coordinator.SetQueue(scheduler)
	scheduler.Start()

	handler := api.NewHandler(coordinator, destinations, db, scheduler, replayHealth)
	server := api.NewServer(handler, appCfg.APIAccessKey, appCfg.Version)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: appCfg.PublishTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	scheduler.Stop()

	slog.Info("Draft Publisher shutdown complete")
}
