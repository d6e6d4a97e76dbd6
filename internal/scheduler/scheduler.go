// Package scheduler periodically refreshes cached document statuses and
// queues a scheduled compliance check for every vendor.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/daimoniac/vendorcomply/internal/observability"
	"github.com/daimoniac/vendorcomply/internal/queue"
	"github.com/daimoniac/vendorcomply/internal/types"
)

// Scheduler drives periodic compliance work
type Scheduler interface {
	// Start runs a cycle immediately and then once per interval
	Start(ctx context.Context) error

	// RunOnce performs a single cycle
	RunOnce(ctx context.Context) error
}

// Store is the subset of the state store the scheduler needs
type Store interface {
	RefreshDocumentStatuses(ctx context.Context, asOf time.Time) (int, error)
	ListAllVendors(ctx context.Context) ([]types.Vendor, error)
	PruneChecks(ctx context.Context, orgID, vendorID string, keep int) (int, error)
}

// Config contains configuration for the scheduler
type Config struct {
	Interval time.Duration
	// CheckHistoryLimit keeps at most this many audit rows per vendor. Zero keeps all.
	CheckHistoryLimit int
}

type schedulerImpl struct {
	store  Store
	queue  queue.TaskQueue
	config Config
	now    func() time.Time
	logger *slog.Logger
}

// NewScheduler creates a new scheduler
func NewScheduler(store Store, taskQueue queue.TaskQueue, config Config, logger *slog.Logger) Scheduler {
	return newScheduler(store, taskQueue, config, logger, time.Now)
}

func newScheduler(store Store, taskQueue queue.TaskQueue, config Config, logger *slog.Logger, now func() time.Time) *schedulerImpl {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Interval <= 0 {
		config.Interval = 24 * time.Hour
	}
	return &schedulerImpl{
		store:  store,
		queue:  taskQueue,
		config: config,
		now:    now,
		logger: logger,
	}
}

// Start runs a cycle immediately, then waits Interval after each cycle completes
func (s *schedulerImpl) Start(ctx context.Context) error {
	s.logger.Info("starting compliance scheduler",
		"interval", s.config.Interval.String(),
		"check_history_limit", s.config.CheckHistoryLimit)

	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("initial scheduler cycle failed",
			"error", err.Error())
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("compliance scheduler shutting down")
			return ctx.Err()
		case <-time.After(s.config.Interval):
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("scheduler cycle failed",
					"error", err.Error())
			}
		}
	}
}

// RunOnce refreshes document statuses before enqueueing so the queued checks
// see statuses derived at the same instant as their evaluation.
func (s *schedulerImpl) RunOnce(ctx context.Context) error {
	metrics := observability.GetMetrics()
	metrics.SchedulerRuns.Inc()
	asOf := s.now().UTC()

	changed, err := s.store.RefreshDocumentStatuses(ctx, asOf)
	if err != nil {
		return fmt.Errorf("failed to refresh document statuses: %w", err)
	}
	metrics.DocumentStatusRefreshes.Add(float64(changed))

	vendors, err := s.store.ListAllVendors(ctx)
	if err != nil {
		return fmt.Errorf("failed to list vendors: %w", err)
	}

	queued, pruned := 0, 0
	for _, vendor := range vendors {
		if s.config.CheckHistoryLimit > 0 {
			n, err := s.store.PruneChecks(ctx, vendor.OrganizationID, vendor.ID, s.config.CheckHistoryLimit)
			if err != nil {
				s.logger.Warn("failed to prune check history",
					"organization_id", vendor.OrganizationID,
					"vendor_id", vendor.ID,
					"error", err.Error())
			}
			pruned += n
		}

		ok, err := s.queue.Enqueue(ctx, queue.NewCheckTask(vendor.OrganizationID, vendor.ID, types.CheckTypeScheduled))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("failed to enqueue scheduled check",
				"organization_id", vendor.OrganizationID,
				"vendor_id", vendor.ID,
				"error", err.Error())
			continue
		}
		if ok {
			queued++
			metrics.ScheduledChecksEnqueued.Inc()
		}
	}

	s.logger.Info("scheduler cycle completed",
		"as_of", asOf,
		"statuses_refreshed", changed,
		"vendors", len(vendors),
		"checks_enqueued", queued,
		"checks_pruned", pruned)
	return nil
}
