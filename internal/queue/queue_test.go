package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	verrors "github.com/daimoniac/vendorcomply/internal/errors"
	"github.com/daimoniac/vendorcomply/internal/types"
)

func TestNewInMemoryQueue(t *testing.T) {
	q := NewInMemoryQueue(100)
	if q == nil {
		t.Fatal("expected non-nil queue")
	}

	if q.bufferSize != 100 {
		t.Errorf("expected buffer size 100, got %d", q.bufferSize)
	}

	if cap(q.tasks) != 100 {
		t.Errorf("expected channel capacity 100, got %d", cap(q.tasks))
	}

	if NewInMemoryQueue(0).bufferSize != 1 {
		t.Error("expected non-positive buffer size to fall back to 1")
	}
}

func TestNewCheckTask(t *testing.T) {
	task := NewCheckTask("org-1", "vendor-1", types.CheckTypeManual)
	if task.ID == "" {
		t.Error("expected generated task id")
	}
	if task.EnqueuedAt.IsZero() || task.EnqueuedAt.Location() != time.UTC {
		t.Errorf("expected UTC enqueue time, got %v", task.EnqueuedAt)
	}
	if other := NewCheckTask("org-1", "vendor-1", types.CheckTypeManual); other.ID == task.ID {
		t.Error("expected unique task ids")
	}
}

func TestEnqueueDequeue(t *testing.T) {
	q := NewInMemoryQueue(10)
	defer q.Close()

	ctx := context.Background()
	task := NewCheckTask("org-1", "vendor-1", types.CheckTypeManual)

	queued, err := q.Enqueue(ctx, task)
	if err != nil {
		t.Fatalf("failed to enqueue task: %v", err)
	}
	if !queued {
		t.Error("expected task to be queued")
	}

	if got := q.GetMetrics().Enqueued; got != 1 {
		t.Errorf("expected 1 enqueued, got %d", got)
	}

	dequeued, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("failed to dequeue task: %v", err)
	}

	if dequeued.ID != task.ID {
		t.Errorf("expected task ID %s, got %s", task.ID, dequeued.ID)
	}
	if dequeued.VendorID != "vendor-1" || dequeued.CheckType != types.CheckTypeManual {
		t.Errorf("unexpected task contents: %+v", dequeued)
	}

	if got := q.GetMetrics().Dequeued; got != 1 {
		t.Errorf("expected 1 dequeued, got %d", got)
	}
}

func TestDeduplication(t *testing.T) {
	q := NewInMemoryQueue(10)
	defer q.Close()

	ctx := context.Background()
	first := NewCheckTask("org-1", "vendor-1", types.CheckTypeManual)
	second := NewCheckTask("org-1", "vendor-1", types.CheckTypeScheduled)

	if queued, err := q.Enqueue(ctx, first); err != nil || !queued {
		t.Fatalf("failed to enqueue first task: queued=%v err=%v", queued, err)
	}

	queued, err := q.Enqueue(ctx, second)
	if err != nil {
		t.Fatalf("duplicate enqueue returned error: %v", err)
	}
	if queued {
		t.Error("expected duplicate task to be dropped")
	}

	metrics := q.GetMetrics()
	if metrics.Enqueued != 1 {
		t.Errorf("expected 1 enqueued, got %d", metrics.Enqueued)
	}
	if metrics.Dropped != 1 {
		t.Errorf("expected 1 dropped, got %d", metrics.Dropped)
	}

	dequeued, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("failed to dequeue task: %v", err)
	}
	if dequeued.ID != first.ID {
		t.Errorf("expected first task ID %s, got %s", first.ID, dequeued.ID)
	}

	if depth, _ := q.GetQueueDepth(ctx); depth != 0 {
		t.Errorf("expected queue depth 0, got %d", depth)
	}
}

func TestDeduplicationScopedByOrganization(t *testing.T) {
	q := NewInMemoryQueue(10)
	defer q.Close()

	ctx := context.Background()
	for _, org := range []string{"org-1", "org-2"} {
		queued, err := q.Enqueue(ctx, NewCheckTask(org, "vendor-1", types.CheckTypeManual))
		if err != nil || !queued {
			t.Fatalf("expected %s task to be queued: queued=%v err=%v", org, queued, err)
		}
	}

	if depth, _ := q.GetQueueDepth(ctx); depth != 2 {
		t.Errorf("expected depth 2, got %d", depth)
	}
}

func TestDeduplicationAfterDequeue(t *testing.T) {
	q := NewInMemoryQueue(10)
	defer q.Close()

	ctx := context.Background()

	_, _ = q.Enqueue(ctx, NewCheckTask("org-1", "vendor-1", types.CheckTypeManual))
	_, _ = q.Dequeue(ctx)

	queued, err := q.Enqueue(ctx, NewCheckTask("org-1", "vendor-1", types.CheckTypeManual))
	if err != nil {
		t.Fatalf("failed to re-enqueue task: %v", err)
	}
	if !queued {
		t.Error("expected task to be queued again after dequeue")
	}

	metrics := q.GetMetrics()
	if metrics.Enqueued != 2 {
		t.Errorf("expected 2 enqueued, got %d", metrics.Enqueued)
	}
	if metrics.Dropped != 0 {
		t.Errorf("expected 0 dropped, got %d", metrics.Dropped)
	}
}

func TestGetQueueDepth(t *testing.T) {
	q := NewInMemoryQueue(10)
	defer q.Close()

	ctx := context.Background()

	depth, err := q.GetQueueDepth(ctx)
	if err != nil {
		t.Fatalf("failed to get queue depth: %v", err)
	}
	if depth != 0 {
		t.Errorf("expected depth 0, got %d", depth)
	}

	for i := 0; i < 5; i++ {
		_, _ = q.Enqueue(ctx, NewCheckTask("org-1", fmt.Sprintf("vendor-%d", i), types.CheckTypeScheduled))
	}

	depth, err = q.GetQueueDepth(ctx)
	if err != nil {
		t.Fatalf("failed to get queue depth: %v", err)
	}
	if depth != 5 {
		t.Errorf("expected depth 5, got %d", depth)
	}
}

func TestCompleteAndFail(t *testing.T) {
	q := NewInMemoryQueue(10)
	defer q.Close()

	ctx := context.Background()

	if err := q.Complete(ctx, "task-1"); err != nil {
		t.Fatalf("failed to complete task: %v", err)
	}
	if got := q.GetMetrics().Completed; got != 1 {
		t.Errorf("expected 1 completed, got %d", got)
	}

	if err := q.Fail(ctx, "task-2", nil); err != nil {
		t.Fatalf("failed to fail task: %v", err)
	}
	if got := q.GetMetrics().Failed; got != 1 {
		t.Errorf("expected 1 failed, got %d", got)
	}
}

func TestContextCancellation(t *testing.T) {
	q := NewInMemoryQueue(1)
	defer q.Close()

	// Fill the queue
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, NewCheckTask("org-1", "vendor-1", types.CheckTypeManual))

	cancelCtx, cancel := context.WithCancel(context.Background())
	cancel()

	blocked := NewCheckTask("org-1", "vendor-2", types.CheckTypeManual)
	_, err := q.Enqueue(cancelCtx, blocked)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled error, got %v", err)
	}

	q.pendingMu.Lock()
	stillPending := q.pending[blocked.key()]
	q.pendingMu.Unlock()
	if stillPending {
		t.Error("expected cancelled task to be released from pending map")
	}
}

func TestDequeueWithTimeout(t *testing.T) {
	q := NewInMemoryQueue(10)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestCloseUnblocksDequeue(t *testing.T) {
	q := NewInMemoryQueue(10)

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := q.Close(); err != nil {
		t.Fatalf("failed to close queue: %v", err)
	}

	select {
	case err := <-errCh:
		if !verrors.IsPermanent(err) {
			t.Errorf("expected permanent error after close, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return after close")
	}
}

func TestCloseQueue(t *testing.T) {
	q := NewInMemoryQueue(10)

	ctx := context.Background()
	task := NewCheckTask("org-1", "vendor-1", types.CheckTypeManual)

	if _, err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	if err := q.Close(); err != nil {
		t.Fatalf("failed to close queue: %v", err)
	}

	if _, err := q.Enqueue(ctx, NewCheckTask("org-1", "vendor-2", types.CheckTypeManual)); err == nil {
		t.Error("expected error when enqueuing to closed queue")
	}

	if _, err := q.Dequeue(ctx); err == nil {
		t.Error("expected error when dequeuing from closed queue")
	}

	if err := q.Close(); err == nil {
		t.Error("expected error on double close")
	}
}

func TestEnqueueInvalidTask(t *testing.T) {
	q := NewInMemoryQueue(10)
	defer q.Close()

	ctx := context.Background()

	tests := []struct {
		name string
		task *CheckTask
	}{
		{name: "nil task", task: nil},
		{name: "missing vendor", task: &CheckTask{OrganizationID: "org-1"}},
		{name: "missing organization", task: &CheckTask{VendorID: "vendor-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := q.Enqueue(ctx, tt.task); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestConcurrentEnqueueSameVendor(t *testing.T) {
	q := NewInMemoryQueue(100)
	defer q.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = q.Enqueue(ctx, NewCheckTask("org-1", "vendor-1", types.CheckTypeManual))
		}()
	}
	wg.Wait()

	metrics := q.GetMetrics()
	if metrics.Enqueued != 1 {
		t.Errorf("expected exactly 1 enqueued, got %d", metrics.Enqueued)
	}
	if metrics.Dropped != 19 {
		t.Errorf("expected 19 dropped, got %d", metrics.Dropped)
	}
}

func TestMetricsAccuracy(t *testing.T) {
	q := NewInMemoryQueue(100)
	defer q.Close()

	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, _ = q.Enqueue(ctx, NewCheckTask("org-1", fmt.Sprintf("vendor-%d", i), types.CheckTypeScheduled))
	}

	// Duplicates of pending vendors
	for i := 0; i < 5; i++ {
		_, _ = q.Enqueue(ctx, NewCheckTask("org-1", fmt.Sprintf("vendor-%d", i), types.CheckTypeManual))
	}

	for i := 0; i < 7; i++ {
		_, _ = q.Dequeue(ctx)
	}

	for i := 0; i < 3; i++ {
		_ = q.Complete(ctx, "task")
	}
	for i := 0; i < 2; i++ {
		_ = q.Fail(ctx, "task", nil)
	}

	metrics := q.GetMetrics()
	if metrics.Enqueued != 10 {
		t.Errorf("expected 10 enqueued, got %d", metrics.Enqueued)
	}
	if metrics.Dropped != 5 {
		t.Errorf("expected 5 dropped, got %d", metrics.Dropped)
	}
	if metrics.Dequeued != 7 {
		t.Errorf("expected 7 dequeued, got %d", metrics.Dequeued)
	}
	if metrics.Completed != 3 {
		t.Errorf("expected 3 completed, got %d", metrics.Completed)
	}
	if metrics.Failed != 2 {
		t.Errorf("expected 2 failed, got %d", metrics.Failed)
	}

	if depth, _ := q.GetQueueDepth(ctx); depth != 3 {
		t.Errorf("expected depth 3, got %d", depth)
	}
}
