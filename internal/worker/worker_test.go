package worker

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/daimoniac/vendorcomply/internal/checker"
	"github.com/daimoniac/vendorcomply/internal/compliance"
	"github.com/daimoniac/vendorcomply/internal/errors"
	"github.com/daimoniac/vendorcomply/internal/queue"
	"github.com/daimoniac/vendorcomply/internal/types"
)

// mockQueue implements queue.TaskQueue for testing
type mockQueue struct {
	tasks      chan *queue.CheckTask
	dequeueErr error

	mu        sync.Mutex
	completed []string
	failed    []string
}

func newMockQueue(bufferSize int) *mockQueue {
	return &mockQueue{
		tasks: make(chan *queue.CheckTask, bufferSize),
	}
}

func (m *mockQueue) Enqueue(ctx context.Context, task *queue.CheckTask) (bool, error) {
	select {
	case m.tasks <- task:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (m *mockQueue) Dequeue(ctx context.Context) (*queue.CheckTask, error) {
	if m.dequeueErr != nil {
		return nil, m.dequeueErr
	}
	select {
	case task, ok := <-m.tasks:
		if !ok {
			return nil, errors.NewPermanentf("queue is closed")
		}
		return task, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *mockQueue) Complete(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, taskID)
	return nil
}

func (m *mockQueue) Fail(ctx context.Context, taskID string, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, taskID)
	return nil
}

func (m *mockQueue) GetQueueDepth(ctx context.Context) (int, error) {
	return len(m.tasks), nil
}

func (m *mockQueue) Close() error {
	close(m.tasks)
	return nil
}

func (m *mockQueue) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.completed), len(m.failed)
}

// mockChecker returns the scripted errors in order, then succeeds
type mockChecker struct {
	mu     sync.Mutex
	errs   []error
	always error
	calls  int
}

func (m *mockChecker) Check(ctx context.Context, orgID, vendorID string, checkType types.CheckType) (*checker.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.always != nil {
		return nil, m.always
	}
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return nil, err
	}
	return &checker.Report{
		Result: &compliance.Result{Score: 100, IsCompliant: true},
		Check:  &types.ComplianceCheck{Status: types.CheckPassed},
	}, nil
}

func (m *mockChecker) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func fastConfig() Config {
	return Config{
		RetryAttempts:   3,
		RetryBackoff:    time.Millisecond,
		Concurrency:     2,
		ShutdownTimeout: 5 * time.Second,
	}
}

func TestNewCheckWorker(t *testing.T) {
	mockQ := newMockQueue(10)

	worker := NewCheckWorker(mockQ, &mockChecker{}, Config{}, nil)

	if worker.queue != mockQ {
		t.Error("expected queue to be set")
	}
	if worker.logger == nil {
		t.Error("expected logger to default")
	}
	if worker.config.RetryAttempts != 1 {
		t.Errorf("expected at least one attempt, got %d", worker.config.RetryAttempts)
	}
	if worker.config.ShutdownTimeout != 30*time.Second {
		t.Errorf("expected default shutdown timeout, got %v", worker.config.ShutdownTimeout)
	}
}

func TestWorkerStart_GracefulShutdown(t *testing.T) {
	worker := NewCheckWorker(newMockQueue(10), &mockChecker{}, fastConfig(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())

	errChan := make(chan error, 1)
	go func() {
		errChan <- worker.Start(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("expected no error on graceful shutdown, got: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not shut down within timeout")
	}
}

func TestWorkerStart_ProcessesTasks(t *testing.T) {
	mockQ := newMockQueue(10)
	mockC := &mockChecker{}
	worker := NewCheckWorker(mockQ, mockC, fastConfig(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, vendorID := range []string{"v1", "v2", "v3"} {
		_, _ = mockQ.Enqueue(ctx, queue.NewCheckTask("org-1", vendorID, types.CheckTypeScheduled))
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- worker.Start(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if completed, _ := mockQ.counts(); completed == 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	<-errChan

	completed, failed := mockQ.counts()
	if completed != 3 || failed != 0 {
		t.Errorf("expected 3 completed and 0 failed, got %d and %d", completed, failed)
	}
	if mockC.callCount() != 3 {
		t.Errorf("expected 3 checks, got %d", mockC.callCount())
	}
}

func TestWorkerStart_FailedTaskReported(t *testing.T) {
	mockQ := newMockQueue(10)
	mockC := &mockChecker{always: errors.ErrNotFound}
	worker := NewCheckWorker(mockQ, mockC, fastConfig(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, _ = mockQ.Enqueue(ctx, queue.NewCheckTask("org-1", "gone", types.CheckTypeManual))

	go func() { _ = worker.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, failed := mockQ.counts(); failed == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected task to be reported as failed")
}

func TestWorkerStart_StopsWhenQueueClosed(t *testing.T) {
	mockQ := newMockQueue(10)
	worker := NewCheckWorker(mockQ, &mockChecker{}, fastConfig(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = mockQ.Close()

	errChan := make(chan error, 1)
	go func() {
		errChan <- worker.Start(ctx)
	}()

	// Loops exit on their own; Start still waits for cancellation
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not shut down")
	}
}

func TestProcessTask(t *testing.T) {
	tests := []struct {
		name          string
		checker       *mockChecker
		wantCalls     int
		wantErr       bool
		wantPermanent bool
	}{
		{
			name:      "success",
			checker:   &mockChecker{},
			wantCalls: 1,
		},
		{
			name:      "transient errors retried",
			checker:   &mockChecker{errs: []error{errors.NewTransientf("db locked"), errors.NewTransientf("db locked")}},
			wantCalls: 3,
		},
		{
			name:      "not found not retried",
			checker:   &mockChecker{always: errors.ErrNotFound},
			wantCalls: 1,
			wantErr:   true,
		},
		{
			name:          "permanent not retried",
			checker:       &mockChecker{always: errors.NewPermanentf("bad policy")},
			wantCalls:     1,
			wantErr:       true,
			wantPermanent: true,
		},
		{
			name:          "retries exhausted",
			checker:       &mockChecker{always: errors.NewTransientf("connection refused")},
			wantCalls:     3,
			wantErr:       true,
			wantPermanent: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			worker := NewCheckWorker(newMockQueue(1), tt.checker, fastConfig(), testLogger())
			task := queue.NewCheckTask("org-1", "vendor-1", types.CheckTypeManual)

			err := worker.ProcessTask(context.Background(), task)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error=%v, got %v", tt.wantErr, err)
			}
			if tt.wantPermanent && !errors.IsPermanent(err) {
				t.Errorf("expected permanent error, got %v", err)
			}
			if got := tt.checker.callCount(); got != tt.wantCalls {
				t.Errorf("expected %d calls, got %d", tt.wantCalls, got)
			}
			if task.Attempts != tt.wantCalls {
				t.Errorf("expected task attempts %d, got %d", tt.wantCalls, task.Attempts)
			}
		})
	}
}

func TestProcessTask_ContextCancelledDuringBackoff(t *testing.T) {
	config := fastConfig()
	config.RetryBackoff = time.Hour
	worker := NewCheckWorker(newMockQueue(1), &mockChecker{always: errors.NewTransientf("busy")}, config, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := worker.ProcessTask(ctx, queue.NewCheckTask("org-1", "vendor-1", types.CheckTypeManual))
	if !stderrors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestProcessTask_NilTask(t *testing.T) {
	worker := NewCheckWorker(newMockQueue(1), &mockChecker{}, fastConfig(), testLogger())

	err := worker.ProcessTask(context.Background(), nil)
	if !errors.IsPermanent(err) {
		t.Errorf("expected permanent error for nil task, got %v", err)
	}
}

func TestProcessTask_NilChecker(t *testing.T) {
	worker := NewCheckWorker(newMockQueue(1), nil, fastConfig(), testLogger())

	err := worker.ProcessTask(context.Background(), queue.NewCheckTask("org-1", "vendor-1", types.CheckTypeManual))
	if err == nil {
		t.Error("expected error when checker is nil")
	}
}

func TestRetryDelay(t *testing.T) {
	worker := NewCheckWorker(newMockQueue(1), &mockChecker{}, Config{RetryAttempts: 3, RetryBackoff: 10 * time.Second}, testLogger())
	transient := errors.NewTransientf("timeout")

	tests := []struct {
		name      string
		err       error
		attempt   int
		wantDelay time.Duration
		wantRetry bool
	}{
		{"first transient failure", transient, 1, 10 * time.Second, true},
		{"second transient failure", transient, 2, 20 * time.Second, true},
		{"last attempt", transient, 3, 0, false},
		{"permanent", errors.NewPermanentf("bad"), 1, 0, false},
		{"validation", errors.NewValidation("vendor", "must not be nil"), 1, 0, false},
		{"unclassified", stderrors.New("unknown"), 1, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delay, retry := worker.retryDelay(tt.err, tt.attempt)
			if delay != tt.wantDelay || retry != tt.wantRetry {
				t.Errorf("retryDelay() = (%v, %v), want (%v, %v)", delay, retry, tt.wantDelay, tt.wantRetry)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.RetryAttempts != 3 {
		t.Errorf("expected retry attempts 3, got %d", config.RetryAttempts)
	}
	if config.RetryBackoff != 10*time.Second {
		t.Errorf("expected retry backoff 10s, got %v", config.RetryBackoff)
	}
	if config.Concurrency != 3 {
		t.Errorf("expected concurrency 3, got %d", config.Concurrency)
	}
}
