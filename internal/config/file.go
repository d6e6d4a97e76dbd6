package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/daimoniac/vendorcomply/internal/errors"
	"github.com/daimoniac/vendorcomply/internal/policy"
)

// SupportedVersions is the semver constraint a policy file version must satisfy
const SupportedVersions = "^1"

// ParsePolicyFile reads and parses a vendorcomply.yml configuration file
func ParsePolicyFile(path string) (*PolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewTransientf("failed to read policy file: %w", err)
	}

	var file PolicyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.NewPermanentf("failed to parse policy file YAML: %w", err)
	}

	if err := checkVersion(file.Version); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(file.Organizations))
	for i, org := range file.Organizations {
		if org.OrganizationID == "" {
			return nil, errors.NewPermanentf("organizations[%d]: organizationId is required", i)
		}
		if seen[org.OrganizationID] {
			return nil, errors.NewPermanentf("organizations[%d]: duplicate organizationId %s", i, org.OrganizationID)
		}
		seen[org.OrganizationID] = true
	}

	return &file, nil
}

func checkVersion(version string) error {
	if strings.TrimSpace(version) == "" {
		return errors.NewPermanentf("policy file version is required")
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		return errors.NewPermanentf("invalid policy file version %q: %w", version, err)
	}

	constraint, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		return errors.NewPermanentf("invalid version constraint: %w", err)
	}

	if !constraint.Check(v) {
		return errors.NewPermanentf("unsupported policy file version %s (want %s)", v, SupportedVersions)
	}
	return nil
}

// GetScheduleInterval returns the scheduler interval, 1d when unset
func (f *PolicyFile) GetScheduleInterval() (time.Duration, error) {
	if f.Defaults.ScheduleInterval != "" {
		return parseInterval(f.Defaults.ScheduleInterval)
	}
	return 24 * time.Hour, nil
}

// GetWorkerRetryBackoff returns the retry backoff, 10s when unset. Accepts
// Go duration syntax as well as m/h/d interval notation.
func (f *PolicyFile) GetWorkerRetryBackoff() (time.Duration, error) {
	if f.Defaults.WorkerRetryBackoff == "" {
		return 10 * time.Second, nil
	}
	if d, err := time.ParseDuration(f.Defaults.WorkerRetryBackoff); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("worker retry backoff must be positive: %s", f.Defaults.WorkerRetryBackoff)
		}
		return d, nil
	}
	return parseInterval(f.Defaults.WorkerRetryBackoff)
}

// GetDefaultPolicy returns the process-wide approval gate
func (f *PolicyFile) GetDefaultPolicy() policy.Config {
	if f.Defaults.Policy != nil {
		return *f.Defaults.Policy
	}
	return policy.Config{Expression: policy.DefaultExpression}
}

// GetPolicyOverrides returns per-organization gates keyed by organization id
func (f *PolicyFile) GetPolicyOverrides() map[string]policy.Config {
	overrides := make(map[string]policy.Config)
	for _, org := range f.Organizations {
		if org.Policy != nil {
			overrides[org.OrganizationID] = *org.Policy
		}
	}
	return overrides
}

// parseInterval parses interval notation (e.g., "2m", "3h", "7d") into time.Duration
func parseInterval(interval string) (time.Duration, error) {
	if len(interval) < 2 {
		return 0, fmt.Errorf("invalid interval format: %s", interval)
	}

	unit := interval[len(interval)-1]
	valueStr := interval[:len(interval)-1]

	var value int
	if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
		return 0, fmt.Errorf("invalid interval value: %s", interval)
	}

	if value <= 0 {
		return 0, fmt.Errorf("interval value must be positive: %s", interval)
	}

	switch unit {
	case 'm':
		return time.Duration(value) * time.Minute, nil
	case 'h':
		return time.Duration(value) * time.Hour, nil
	case 'd':
		return time.Duration(value) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid interval unit (must be m, h, or d): %s", interval)
	}
}
