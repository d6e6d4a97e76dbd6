package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/daimoniac/vendorcomply/internal/checker"
	"github.com/daimoniac/vendorcomply/internal/errors"
	"github.com/daimoniac/vendorcomply/internal/observability"
	"github.com/daimoniac/vendorcomply/internal/queue"
)

// Worker defines the interface for processing check tasks
type Worker interface {
	// Start begins processing tasks from the queue
	Start(ctx context.Context) error

	// ProcessTask runs one vendor check with retries
	ProcessTask(ctx context.Context, task *queue.CheckTask) error
}

// Config contains configuration for the worker
type Config struct {
	RetryAttempts   int
	RetryBackoff    time.Duration
	Concurrency     int // Number of concurrent workers
	ShutdownTimeout time.Duration
}

// DefaultConfig returns default worker configuration
func DefaultConfig() Config {
	return Config{
		RetryAttempts:   3,
		RetryBackoff:    10 * time.Second,
		Concurrency:     3,
		ShutdownTimeout: 30 * time.Second,
	}
}

// CheckWorker pulls check tasks from the queue and runs them through the checker
type CheckWorker struct {
	queue   queue.TaskQueue
	checker checker.Checker
	config  Config
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewCheckWorker creates a new worker instance
func NewCheckWorker(q queue.TaskQueue, c checker.Checker, config Config, logger *slog.Logger) *CheckWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 1
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}

	return &CheckWorker{
		queue:   q,
		checker: c,
		config:  config,
		logger:  logger,
	}
}

// Start runs Concurrency processing loops until ctx is cancelled, then
// waits for in-flight checks to finish.
func (w *CheckWorker) Start(ctx context.Context) error {
	concurrency := w.config.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	w.logger.Info("worker starting", "concurrency", concurrency)

	for i := 0; i < concurrency; i++ {
		w.wg.Add(1)
		go func(workerID int) {
			defer w.wg.Done()
			w.processLoop(ctx, workerID)
		}(i)
	}

	<-ctx.Done()

	w.logger.Info("worker shutting down, waiting for in-flight tasks to complete")

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("worker shutdown complete")
		return nil
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn("worker shutdown timeout, some tasks may not have completed")
		return fmt.Errorf("shutdown timeout")
	}
}

// processLoop is the main task processing loop
func (w *CheckWorker) processLoop(ctx context.Context, workerID int) {
	w.logger.Debug("worker processing loop started", "worker_id", workerID)

	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Debug("worker processing loop stopping", "worker_id", workerID)
				return
			}
			if errors.IsPermanent(err) {
				w.logger.Info("queue closed, worker processing loop stopping", "worker_id", workerID)
				return
			}
			w.logger.Error("failed to dequeue task", "worker_id", workerID, "error", err)
			// Brief sleep to avoid tight loop on persistent errors
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		metrics := observability.GetMetrics()
		if err := w.ProcessTask(ctx, task); err != nil {
			w.logger.Error("task processing failed",
				"worker_id", workerID,
				"task_id", task.ID,
				"organization_id", task.OrganizationID,
				"vendor_id", task.VendorID,
				"check_type", task.CheckType,
				"attempts", task.Attempts,
				"error", err)
			metrics.WorkerErrors.Inc()
			_ = w.queue.Fail(ctx, task.ID, err)
			continue
		}

		metrics.WorkerTasksProcessed.Inc()
		_ = w.queue.Complete(ctx, task.ID)
	}
}

// retryDelay returns the backoff before the next attempt, or false when the
// error must not be retried. Backoff grows linearly with the attempt number.
func (w *CheckWorker) retryDelay(err error, attempt int) (time.Duration, bool) {
	if !errors.IsTransient(err) || attempt >= w.config.RetryAttempts {
		return 0, false
	}
	return w.config.RetryBackoff * time.Duration(attempt), true
}

// ProcessTask runs the check for one vendor, retrying transient failures
func (w *CheckWorker) ProcessTask(ctx context.Context, task *queue.CheckTask) error {
	if task == nil {
		return errors.NewPermanentf("task is nil")
	}
	if w.checker == nil {
		return errors.NewPermanentf("checker not configured")
	}

	var lastErr error
	for attempt := 1; attempt <= w.config.RetryAttempts; attempt++ {
		task.Attempts = attempt
		report, err := w.checker.Check(ctx, task.OrganizationID, task.VendorID, task.CheckType)
		if err == nil {
			w.logger.Debug("task processing completed",
				"task_id", task.ID,
				"vendor_id", task.VendorID,
				"score", report.Result.Score,
				"passed", report.Passed())
			return nil
		}
		lastErr = err

		backoff, retry := w.retryDelay(err, attempt)
		if !retry {
			if errors.IsTransient(err) {
				return errors.NewPermanentf("max retries exceeded: %w", err)
			}
			return err
		}

		observability.GetMetrics().WorkerRetries.Inc()
		w.logger.Warn("transient error, retrying",
			"task_id", task.ID,
			"vendor_id", task.VendorID,
			"attempt", attempt,
			"max_attempts", w.config.RetryAttempts,
			"backoff", backoff,
			"error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return errors.NewPermanentf("max retries exceeded: %w", lastErr)
}
