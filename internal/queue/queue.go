package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/daimoniac/vendorcomply/internal/errors"
	"github.com/daimoniac/vendorcomply/internal/observability"
	"github.com/daimoniac/vendorcomply/internal/types"
)

// TaskQueue manages pending vendor compliance checks
type TaskQueue interface {
	// Enqueue adds a task unless one is already pending for the same vendor.
	// It reports whether the task was queued.
	Enqueue(ctx context.Context, task *CheckTask) (bool, error)

	// Dequeue retrieves a task for processing (blocking)
	Dequeue(ctx context.Context) (*CheckTask, error)

	// Complete marks a task as successfully processed (for metrics/logging)
	Complete(ctx context.Context, taskID string) error

	// Fail marks a task as failed (for metrics/logging)
	Fail(ctx context.Context, taskID string, err error) error

	// GetQueueDepth returns current queue size
	GetQueueDepth(ctx context.Context) (int, error)

	// Close shuts down the queue gracefully
	Close() error
}

// CheckTask asks a worker to evaluate one vendor
type CheckTask struct {
	ID             string
	OrganizationID string
	VendorID       string
	CheckType      types.CheckType
	EnqueuedAt     time.Time
	Attempts       int
}

// NewCheckTask creates a task with a fresh id
func NewCheckTask(orgID, vendorID string, checkType types.CheckType) *CheckTask {
	return &CheckTask{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		VendorID:       vendorID,
		CheckType:      checkType,
		EnqueuedAt:     time.Now().UTC(),
	}
}

func (t *CheckTask) key() string {
	return t.OrganizationID + "/" + t.VendorID
}

// InMemoryQueue implements TaskQueue using Go channels
type InMemoryQueue struct {
	tasks      chan *CheckTask
	done       chan struct{}
	pending    map[string]bool // org/vendor -> queued
	pendingMu  sync.Mutex
	metrics    *QueueMetrics
	metricsMu  sync.RWMutex
	closeOnce  sync.Once
	bufferSize int
}

// QueueMetrics tracks queue operation statistics
type QueueMetrics struct {
	Enqueued  int64
	Dequeued  int64
	Completed int64
	Failed    int64
	Dropped   int64 // Dropped due to deduplication
}

// NewInMemoryQueue creates a new in-memory task queue
func NewInMemoryQueue(bufferSize int) *InMemoryQueue {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &InMemoryQueue{
		tasks:      make(chan *CheckTask, bufferSize),
		done:       make(chan struct{}),
		pending:    make(map[string]bool),
		metrics:    &QueueMetrics{},
		bufferSize: bufferSize,
	}
}

func (q *InMemoryQueue) isClosed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Enqueue adds a task to the queue with per-vendor deduplication
func (q *InMemoryQueue) Enqueue(ctx context.Context, task *CheckTask) (bool, error) {
	if q.isClosed() {
		return false, errors.NewPermanentf("queue is closed")
	}

	if task == nil {
		return false, errors.NewPermanentf("task cannot be nil")
	}

	if task.OrganizationID == "" || task.VendorID == "" {
		return false, errors.NewValidation("task", "organization and vendor ids are required")
	}

	key := task.key()
	q.pendingMu.Lock()
	if q.pending[key] {
		q.pendingMu.Unlock()
		q.incrementMetric("dropped")
		return false, nil
	}
	q.pending[key] = true
	q.pendingMu.Unlock()

	select {
	case q.tasks <- task:
		q.incrementMetric("enqueued")
		return true, nil
	case <-ctx.Done():
		q.release(key)
		return false, ctx.Err()
	case <-q.done:
		q.release(key)
		return false, errors.NewPermanentf("queue is closed")
	}
}

// Dequeue retrieves a task for processing (blocking)
func (q *InMemoryQueue) Dequeue(ctx context.Context) (*CheckTask, error) {
	if q.isClosed() {
		return nil, errors.NewPermanentf("queue is closed")
	}

	select {
	case task := <-q.tasks:
		// A new check for the vendor may be queued as soon as this one starts
		q.release(task.key())
		q.incrementMetric("dequeued")
		return task, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.done:
		return nil, errors.NewPermanentf("queue is closed")
	}
}

func (q *InMemoryQueue) release(key string) {
	q.pendingMu.Lock()
	delete(q.pending, key)
	q.pendingMu.Unlock()
}

// Complete marks a task as successfully processed
func (q *InMemoryQueue) Complete(ctx context.Context, taskID string) error {
	q.incrementMetric("completed")
	return nil
}

// Fail marks a task as failed
func (q *InMemoryQueue) Fail(ctx context.Context, taskID string, err error) error {
	q.incrementMetric("failed")
	return nil
}

// GetQueueDepth returns current queue size
func (q *InMemoryQueue) GetQueueDepth(ctx context.Context) (int, error) {
	return len(q.tasks), nil
}

// Close shuts down the queue. Tasks still buffered are discarded.
func (q *InMemoryQueue) Close() error {
	closed := false
	q.closeOnce.Do(func() {
		close(q.done)
		closed = true
	})
	if !closed {
		return errors.NewPermanentf("queue already closed")
	}
	return nil
}

// GetMetrics returns a copy of current metrics
func (q *InMemoryQueue) GetMetrics() QueueMetrics {
	q.metricsMu.RLock()
	defer q.metricsMu.RUnlock()
	return *q.metrics
}

// incrementMetric updates the local counters and the Prometheus series
func (q *InMemoryQueue) incrementMetric(metric string) {
	q.metricsMu.Lock()
	defer q.metricsMu.Unlock()

	prom := observability.GetMetrics()
	switch metric {
	case "enqueued":
		q.metrics.Enqueued++
		prom.QueueEnqueued.Inc()
	case "dequeued":
		q.metrics.Dequeued++
		prom.QueueDequeued.Inc()
	case "completed":
		q.metrics.Completed++
	case "failed":
		q.metrics.Failed++
	case "dropped":
		q.metrics.Dropped++
		prom.QueueDropped.Inc()
	}
	prom.QueueDepth.Set(float64(len(q.tasks)))
}
