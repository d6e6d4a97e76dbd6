package types

import (
	"encoding/json"
	"time"
)

// CheckType records what triggered a compliance check
type CheckType string

const (
	CheckTypeAPI       CheckType = "api_check"
	CheckTypeManual    CheckType = "manual_check"
	CheckTypeScheduled CheckType = "scheduled_check"
)

// CheckStatus is the pass/fail outcome stored in the audit trail
type CheckStatus string

const (
	CheckPassed CheckStatus = "passed"
	CheckFailed CheckStatus = "failed"
)

// ComplianceCheck is the audit row written for every evaluation
type ComplianceCheck struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organizationId"`
	VendorID       string          `json:"vendorId"`
	CheckType      CheckType       `json:"checkType"`
	Status         CheckStatus     `json:"status"`
	Details        json.RawMessage `json:"details,omitempty"`
	APICall        bool            `json:"apiCall"`
	CreatedAt      time.Time       `json:"createdAt"`
}
