package observability

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Component names a part of vendorcomply whose health is tracked
type Component string

const (
	ComponentConfig    Component = "config"
	ComponentStore     Component = "store"
	ComponentQueue     Component = "queue"
	ComponentWorker    Component = "worker"
	ComponentScheduler Component = "scheduler"
	ComponentAPI       Component = "api"
)

// pingTimeout bounds a single component ping
const pingTimeout = 5 * time.Second

// ComponentState is the last condition reported for a component. A tracked
// component that never reported is pending and counts as unhealthy.
type ComponentState struct {
	Healthy   bool      `json:"healthy"`
	Detail    string    `json:"detail,omitempty"`
	Failures  int       `json:"consecutive_failures,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Report is the body of /health
type Report struct {
	Status     string                       `json:"status"` // ok or degraded
	Ready      bool                         `json:"ready"`
	Components map[Component]ComponentState `json:"components"`
	CheckedAt  time.Time                    `json:"checked_at"`
}

// PingFunc checks one component, returning nil when it is usable
type PingFunc func(ctx context.Context) error

// Monitor collects component health for the /health and /ready endpoints.
// The service is ready once startup finished and every component is healthy.
type Monitor struct {
	mu      sync.RWMutex
	states  map[Component]ComponentState
	started atomic.Bool
	logger  *slog.Logger
}

// NewMonitor tracks components, each pending until it reports
func NewMonitor(logger *slog.Logger, components ...Component) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		states: make(map[Component]ComponentState, len(components)),
		logger: logger,
	}
	now := time.Now().UTC()
	for _, c := range components {
		m.states[c] = ComponentState{Detail: "pending", CheckedAt: now}
	}
	return m
}

// Report records the outcome of using or pinging c. A nil err marks it healthy.
func (m *Monitor) Report(c Component, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.states[c]
	next := ComponentState{Healthy: err == nil, CheckedAt: time.Now().UTC()}
	if err != nil {
		next.Detail = err.Error()
		next.Failures = prev.Failures + 1
		if next.Failures == 1 {
			m.logger.Warn("component unhealthy",
				"component", string(c),
				"error", err.Error())
		}
	} else if prev.Failures > 0 {
		m.logger.Info("component recovered",
			"component", string(c),
			"failures", prev.Failures)
	}
	m.states[c] = next
}

// Disabled marks c as intentionally not running, which does not affect readiness
func (m *Monitor) Disabled(c Component, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[c] = ComponentState{Healthy: true, Detail: reason, CheckedAt: time.Now().UTC()}
}

// MarkStarted flags that every component was wired and launched
func (m *Monitor) MarkStarted() {
	m.started.Store(true)
}

// Snapshot returns the current report
func (m *Monitor) Snapshot() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	healthy := true
	states := make(map[Component]ComponentState, len(m.states))
	for c, s := range m.states {
		states[c] = s
		healthy = healthy && s.Healthy
	}

	status := "ok"
	if !healthy {
		status = "degraded"
	}
	return Report{
		Status:     status,
		Ready:      healthy && m.started.Load(),
		Components: states,
		CheckedAt:  time.Now().UTC(),
	}
}

// Check runs ping for c with a bounded timeout and reports the result
func (m *Monitor) Check(ctx context.Context, c Component, ping PingFunc) {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	m.Report(c, ping(ctx))
}

// Watch runs the pings immediately and then every interval until ctx is done
func (m *Monitor) Watch(ctx context.Context, interval time.Duration, pings map[Component]PingFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for c, ping := range pings {
			m.Check(ctx, c, ping)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// HealthHandler serves the full report, 503 while any component is unhealthy
func (m *Monitor) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := m.Snapshot()
		code := http.StatusOK
		if report.Status != "ok" {
			code = http.StatusServiceUnavailable
		}
		m.writeJSON(w, code, report)
	}
}

// ReadyHandler serves readiness for load balancers and orchestrators
func (m *Monitor) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.Snapshot().Ready {
			m.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
		m.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
	}
}

func (m *Monitor) writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		m.logger.Error("failed to encode health response",
			"error", err.Error())
	}
}
