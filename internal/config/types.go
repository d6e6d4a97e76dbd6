package config

import (
	"time"

	"github.com/daimoniac/vendorcomply/internal/policy"
)

// Config represents the complete application configuration
type Config struct {
	PolicyPath    string
	Queue         QueueConfig
	Worker        WorkerConfig
	Scheduler     SchedulerConfig
	Policy        PolicyConfig
	StateStore    StateStoreConfig
	API           APIConfig
	Observability ObservabilityConfig
}

// QueueConfig configures the in-memory check queue
type QueueConfig struct {
	BufferSize int
}

// WorkerConfig configures the check workers
type WorkerConfig struct {
	Concurrency   int
	RetryAttempts int
	RetryBackoff  time.Duration
}

// SchedulerConfig configures the periodic re-evaluation loop
type SchedulerConfig struct {
	Enabled bool
	// Interval between document status refreshes and scheduled checks
	Interval time.Duration
	// CheckHistoryLimit caps audit rows kept per vendor; 0 keeps everything
	CheckHistoryLimit int
}

// PolicyConfig holds the default approval gate and per-organization overrides
type PolicyConfig struct {
	Default   policy.Config
	Overrides map[string]policy.Config // keyed by organization id
}

// StateStoreConfig configures the state store
type StateStoreConfig struct {
	Type        string
	PostgresURL string
	SQLitePath  string
}

// APIConfig configures the HTTP API server
type APIConfig struct {
	Enabled  bool
	Port     int
	ReadOnly bool
}

// ObservabilityConfig configures logging and metrics
type ObservabilityConfig struct {
	LogLevel        string
	MetricsPort     int
	HealthCheckPort int
}

// PolicyFile is the on-disk vendorcomply.yml
type PolicyFile struct {
	Version       string               `yaml:"version"`
	Defaults      FileDefaults         `yaml:"defaults"`
	Organizations []OrganizationPolicy `yaml:"organizations"`
}

// FileDefaults holds process-wide defaults. Intervals use m/h/d notation.
type FileDefaults struct {
	ScheduleInterval    string         `yaml:"scheduleInterval"`
	CheckHistoryLimit   int            `yaml:"checkHistoryLimit"`
	WorkerConcurrency   int            `yaml:"workerConcurrency"`
	WorkerRetryAttempts int            `yaml:"workerRetryAttempts"`
	WorkerRetryBackoff  string         `yaml:"workerRetryBackoff"`
	QueueBufferSize     int            `yaml:"queueBufferSize"`
	Policy              *policy.Config `yaml:"policy"`
}

// OrganizationPolicy overrides the approval gate for one organization
type OrganizationPolicy struct {
	OrganizationID string         `yaml:"organizationId"`
	Policy         *policy.Config `yaml:"policy"`
}
