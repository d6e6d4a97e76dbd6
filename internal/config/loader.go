package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/daimoniac/vendorcomply/internal/errors"
	"github.com/daimoniac/vendorcomply/internal/policy"
)

// Load loads configuration from environment variables and vendorcomply.yml defaults.
// A missing policy file falls back to built-in defaults; a malformed one is an error.
func Load() (*Config, error) {
	policyPath := getEnv("VENDORCOMPLY_CONFIG", "vendorcomply.yml")

	scheduleInterval := 24 * time.Hour
	workerConcurrency := 3
	workerRetryAttempts := 3
	workerRetryBackoff := 10 * time.Second
	queueBufferSize := 1000
	checkHistoryLimit := 0
	policyCfg := PolicyConfig{
		Default:   policy.Config{Expression: policy.DefaultExpression},
		Overrides: map[string]policy.Config{},
	}

	if _, statErr := os.Stat(policyPath); statErr == nil {
		file, err := ParsePolicyFile(policyPath)
		if err != nil {
			return nil, err
		}

		if scheduleInterval, err = file.GetScheduleInterval(); err != nil {
			return nil, errors.NewPermanentf("invalid scheduleInterval: %w", err)
		}
		if workerRetryBackoff, err = file.GetWorkerRetryBackoff(); err != nil {
			return nil, errors.NewPermanentf("invalid workerRetryBackoff: %w", err)
		}
		if file.Defaults.WorkerConcurrency > 0 {
			workerConcurrency = file.Defaults.WorkerConcurrency
		}
		if file.Defaults.WorkerRetryAttempts > 0 {
			workerRetryAttempts = file.Defaults.WorkerRetryAttempts
		}
		if file.Defaults.QueueBufferSize > 0 {
			queueBufferSize = file.Defaults.QueueBufferSize
		}
		checkHistoryLimit = file.Defaults.CheckHistoryLimit
		policyCfg.Default = file.GetDefaultPolicy()
		policyCfg.Overrides = file.GetPolicyOverrides()
	}

	cfg := &Config{
		PolicyPath: policyPath,
		Queue: QueueConfig{
			BufferSize: queueBufferSize,
		},
		Worker: WorkerConfig{
			Concurrency:   workerConcurrency,
			RetryAttempts: workerRetryAttempts,
			RetryBackoff:  workerRetryBackoff,
		},
		Scheduler: SchedulerConfig{
			Enabled:           getEnvBool("SCHEDULER_ENABLED", true),
			Interval:          scheduleInterval,
			CheckHistoryLimit: checkHistoryLimit,
		},
		Policy: policyCfg,
		StateStore: StateStoreConfig{
			Type:        getEnv("STATE_STORE_TYPE", "sqlite"),
			PostgresURL: getEnv("POSTGRES_URL", ""),
			SQLitePath:  getEnv("SQLITE_PATH", "vendorcomply.db"),
		},
		API: APIConfig{
			Enabled:  getEnvBool("API_ENABLED", true),
			Port:     getEnvInt("API_PORT", 8080),
			ReadOnly: getEnvBool("API_READ_ONLY", false),
		},
		Observability: ObservabilityConfig{
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			MetricsPort:     getEnvInt("METRICS_PORT", 9090),
			HealthCheckPort: getEnvInt("HEALTH_CHECK_PORT", 8081),
		},
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.StateStore.Type != "sqlite" && c.StateStore.Type != "postgres" {
		return errors.NewPermanentf("invalid state store type: %s (must be sqlite or postgres)", c.StateStore.Type)
	}

	if c.StateStore.Type == "postgres" && c.StateStore.PostgresURL == "" {
		return errors.NewPermanentf("POSTGRES_URL is required when using postgres state store")
	}

	if c.StateStore.Type == "sqlite" && c.StateStore.SQLitePath == "" {
		return errors.NewPermanentf("sqlite path is required when using sqlite state store")
	}

	if c.Worker.Concurrency <= 0 {
		return errors.NewPermanentf("worker concurrency must be positive, got %d", c.Worker.Concurrency)
	}

	if c.Worker.RetryAttempts <= 0 {
		return errors.NewPermanentf("worker retry attempts must be positive, got %d", c.Worker.RetryAttempts)
	}

	if c.Queue.BufferSize <= 0 {
		return errors.NewPermanentf("queue buffer size must be positive, got %d", c.Queue.BufferSize)
	}

	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return errors.NewPermanentf("schedule interval must be positive when the scheduler is enabled")
	}

	if c.Scheduler.CheckHistoryLimit < 0 {
		return errors.NewPermanentf("check history limit must not be negative, got %d", c.Scheduler.CheckHistoryLimit)
	}

	for _, port := range []struct {
		name  string
		value int
	}{
		{"API_PORT", c.API.Port},
		{"METRICS_PORT", c.Observability.MetricsPort},
		{"HEALTH_CHECK_PORT", c.Observability.HealthCheckPort},
	} {
		if port.value <= 0 || port.value > 65535 {
			return errors.NewPermanentf("%s must be within 1..65535, got %d", port.name, port.value)
		}
	}

	switch strings.ToLower(c.Observability.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errors.NewPermanentf("invalid log level: %s", c.Observability.LogLevel)
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intValue int
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}
