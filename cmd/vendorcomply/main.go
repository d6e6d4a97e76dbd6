package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/daimoniac/vendorcomply/internal/api"
	"github.com/daimoniac/vendorcomply/internal/checker"
	"github.com/daimoniac/vendorcomply/internal/config"
	"github.com/daimoniac/vendorcomply/internal/observability"
	"github.com/daimoniac/vendorcomply/internal/policy"
	"github.com/daimoniac/vendorcomply/internal/queue"
	"github.com/daimoniac/vendorcomply/internal/scheduler"
	"github.com/daimoniac/vendorcomply/internal/statestore"
	"github.com/daimoniac/vendorcomply/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel)
	logger.Info("starting vendorcomply",
		"policy_path", cfg.PolicyPath,
		"state_store", cfg.StateStore.Type,
		"log_level", cfg.Observability.LogLevel)

	_ = observability.GetMetrics()

	monitor := observability.NewMonitor(logger,
		observability.ComponentConfig,
		observability.ComponentStore,
		observability.ComponentQueue,
		observability.ComponentWorker,
		observability.ComponentScheduler,
		observability.ComponentAPI)
	monitor.Report(observability.ComponentConfig, nil)

	obsServer := observability.NewServer(
		cfg.Observability.MetricsPort,
		cfg.Observability.HealthCheckPort,
		logger,
		monitor,
	)

	go func() {
		if err := obsServer.Start(ctx); err != nil {
			logger.Error("observability server error",
				"error", err.Error())
		}
	}()

	logger.Debug("initializing state store",
		"type", cfg.StateStore.Type)
	store, err := openStore(ctx, cfg.StateStore)
	if err != nil {
		monitor.Report(observability.ComponentStore, err)
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("error closing state store",
				"error", err.Error())
		}
	}()
	monitor.Report(observability.ComponentStore, nil)
	observability.RegisterComplianceCollector(store, logger)

	gates, err := policy.NewRegistry(logger, cfg.Policy.Default, cfg.Policy.Overrides)
	if err != nil {
		return fmt.Errorf("failed to initialize policy gates: %w", err)
	}
	logger.Debug("policy gates compiled",
		"default_expression", cfg.Policy.Default.Expression,
		"overrides", len(cfg.Policy.Overrides))

	checks := checker.NewService(store, gates, logger)

	taskQueue := queue.NewInMemoryQueue(cfg.Queue.BufferSize)
	monitor.Report(observability.ComponentQueue, nil)

	workerInstance := worker.NewCheckWorker(taskQueue, checks, worker.Config{
		RetryAttempts:   cfg.Worker.RetryAttempts,
		RetryBackoff:    cfg.Worker.RetryBackoff,
		Concurrency:     cfg.Worker.Concurrency,
		ShutdownTimeout: 30 * time.Second,
	}, logger)
	monitor.Report(observability.ComponentWorker, nil)

	var sched scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.NewScheduler(store, taskQueue, scheduler.Config{
			Interval:          cfg.Scheduler.Interval,
			CheckHistoryLimit: cfg.Scheduler.CheckHistoryLimit,
		}, logger)
		monitor.Report(observability.ComponentScheduler, nil)
	} else {
		monitor.Disabled(observability.ComponentScheduler, "disabled")
		logger.Info("scheduler disabled")
	}

	var apiServer *api.APIServer
	if cfg.API.Enabled {
		apiServer = api.NewAPIServer(&cfg.API, store, checks, taskQueue, logger)
		monitor.Report(observability.ComponentAPI, nil)
	} else {
		monitor.Disabled(observability.ComponentAPI, "disabled")
	}

	var wg sync.WaitGroup
	errChan := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.Watch(ctx, 30*time.Second, map[observability.Component]observability.PingFunc{
			observability.ComponentStore: store.Ping,
		})
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := workerInstance.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			monitor.Report(observability.ComponentWorker, err)
			errChan <- fmt.Errorf("worker error: %w", err)
		}
		logger.Debug("worker stopped")
	}()

	if sched != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				monitor.Report(observability.ComponentScheduler, err)
				errChan <- fmt.Errorf("scheduler error: %w", err)
			}
			logger.Debug("scheduler stopped")
		}()
	}

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				monitor.Report(observability.ComponentAPI, err)
				errChan <- fmt.Errorf("API server error: %w", err)
			}
			logger.Debug("API server stopped")
		}()
	}

	monitor.MarkStarted()
	logger.Info("all components started successfully",
		"api_enabled", cfg.API.Enabled,
		"scheduler_enabled", cfg.Scheduler.Enabled,
		"worker_concurrency", cfg.Worker.Concurrency)

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errChan:
		logger.Error("component error, initiating shutdown",
			"error", err.Error())
		cancel()
	}

	logger.Info("shutting down gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, forcing exit")
	}

	if depth, _ := taskQueue.GetQueueDepth(shutdownCtx); depth > 0 {
		logger.Warn("queue not empty at shutdown, pending checks dropped",
			"remaining_tasks", depth)
	}
	_ = taskQueue.Close()

	logger.Info("shutdown complete")
	return nil
}

// openStore connects the configured state store backend
func openStore(ctx context.Context, cfg config.StateStoreConfig) (statestore.StateStore, error) {
	switch cfg.Type {
	case "sqlite":
		store, err := statestore.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sqlite store: %w", err)
		}
		return store, nil
	case "postgres":
		store, err := statestore.NewPostgresStore(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported state store type: %s", cfg.Type)
	}
}

