// Command worker runs the report-orchestrator's background job engine.
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

	"github.com/fermano/report-orchestrator/internal/adapter/repo/postgres"
	"github.com/fermano/report-orchestrator/internal/config"
	"github.com/fermano/report-orchestrator/internal/observability"
	"github.com/fermano/report-orchestrator/internal/producer"
	"github.com/fermano/report-orchestrator/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "optional YAML file overriding environment-derived configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	shutdownTracing, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("tracing setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	jobRepo := postgres.NewJobRepo(pool)
	prod := producer.New()

	engine := worker.New(
		jobRepo,
		prod,
		cfg.WorkerPollInterval,
		cfg.WorkerStaleLockTimeout,
		cfg.WorkerMaxAttempts,
		cfg.WorkerInstanceID,
		cfg.WorkerStaleRecoveryChance,
	)

	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: observability.MetricsHandler(),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", slog.Any("error", err))
		}
	}()

	slog.Info("worker starting",
		slog.String("worker_id", cfg.WorkerInstanceID),
		slog.Duration("poll_interval", cfg.WorkerPollInterval),
		slog.Duration("stale_lock_timeout", cfg.WorkerStaleLockTimeout),
		slog.Int("max_attempts", cfg.WorkerMaxAttempts))

	done := make(chan struct{})
	go func() {
		engine.Run(ctx)
		close(done)
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received, waiting for in-flight attempt to finish")
	<-done

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	if shutdownTracing != nil {
		_ = shutdownTracing(shutdownCtx)
	}
	slog.Info("worker stopped")
}
