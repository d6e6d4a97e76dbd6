package api

import (
	"encoding/json"
	"time"

	"github.com/daimoniac/vendorcomply/internal/checker"
	"github.com/daimoniac/vendorcomply/internal/compliance"
	"github.com/daimoniac/vendorcomply/internal/types"
)

// formatTimestamp renders t as RFC 3339 in UTC, ending with "Z".
//
// Example:
//
//	formatTimestamp(time.Unix(0, 0)) returns "1970-01-01T00:00:00Z"
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// formatNullableTimestamp returns nil for nil input
func formatNullableTimestamp(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := formatTimestamp(*t)
	return &formatted
}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error string `json:"error"`
}

// ComplianceCheckResponse is the result of a synchronous vendor check
type ComplianceCheckResponse struct {
	VendorID     string                    `json:"vendorId"`
	VendorName   string                    `json:"vendorName"`
	Compliant    bool                      `json:"compliant"`
	Score        int                       `json:"score"`
	Status       string                    `json:"status"`
	Missing      []string                  `json:"missing"`
	Expiring     []compliance.ExpiringItem `json:"expiring"`
	Expired      []compliance.ExpiredItem  `json:"expired"`
	PolicyPassed bool                      `json:"policyPassed"`
	LastChecked  string                    `json:"lastChecked"` // ISO8601
}

func toComplianceCheckResponse(report *checker.Report) ComplianceCheckResponse {
	details := report.Result.Details()
	return ComplianceCheckResponse{
		VendorID:     report.Vendor.ID,
		VendorName:   report.Vendor.Name,
		Compliant:    details.Compliant,
		Score:        details.Score,
		Status:       string(details.Status),
		Missing:      details.Missing,
		Expiring:     details.Expiring,
		Expired:      details.Expired,
		PolicyPassed: report.Decision.Passed,
		LastChecked:  formatTimestamp(report.Check.CreatedAt),
	}
}

// TriggerCheckResponse acknowledges a queued check
type TriggerCheckResponse struct {
	VendorID string `json:"vendorId"`
	TaskID   string `json:"taskId,omitempty"`
	Queued   bool   `json:"queued"`
	Message  string `json:"message"`
}

// CheckResponse is one audit row
type CheckResponse struct {
	ID        string          `json:"id"`
	VendorID  string          `json:"vendorId"`
	CheckType string          `json:"checkType"`
	Status    string          `json:"status"`
	APICall   bool            `json:"apiCall"`
	Details   json.RawMessage `json:"details" swaggertype:"object"`
	CreatedAt string          `json:"createdAt"` // ISO8601
}

func toCheckResponse(c types.ComplianceCheck) CheckResponse {
	return CheckResponse{
		ID:        c.ID,
		VendorID:  c.VendorID,
		CheckType: string(c.CheckType),
		Status:    string(c.Status),
		APICall:   c.APICall,
		Details:   c.Details,
		CreatedAt: formatTimestamp(c.CreatedAt),
	}
}

// AlertResponse is one entry of the alert trail
type AlertResponse struct {
	ID           string  `json:"id"`
	VendorID     string  `json:"vendorId"`
	DocumentID   *string `json:"documentId"`
	DocumentType string  `json:"documentType,omitempty"`
	AlertType    string  `json:"alertType"`
	Message      string  `json:"message"`
	Resolved     bool    `json:"resolved"`
	ResolvedAt   *string `json:"resolvedAt"` // ISO8601 or null
	CreatedAt    string  `json:"createdAt"`  // ISO8601
}

func toAlertResponse(a types.Alert) AlertResponse {
	return AlertResponse{
		ID:           a.ID,
		VendorID:     a.VendorID,
		DocumentID:   a.DocumentID,
		DocumentType: a.DocumentType,
		AlertType:    string(a.AlertType),
		Message:      a.Message,
		Resolved:     a.Resolved,
		ResolvedAt:   formatNullableTimestamp(a.ResolvedAt),
		CreatedAt:    formatTimestamp(a.CreatedAt),
	}
}

// SummaryResponse breaks an organization's vendors down by status
type SummaryResponse struct {
	Total        int     `json:"total"`
	Compliant    int     `json:"compliant"`
	Warning      int     `json:"warning"`
	Critical     int     `json:"critical"`
	AverageScore float64          `json:"averageScore"`
	AsOf         string           `json:"asOf"` // ISO8601
	APICalls     APIUsageResponse `json:"apiCalls"`
}

// APIUsageResponse reports the compliance-check API calls of the current month.
// Limit is null for unlimited plans.
type APIUsageResponse struct {
	Plan  string `json:"plan"`
	Used  int    `json:"used"`
	Limit *int   `json:"limit"`
}

func toSummaryResponse(s *checker.Summary) SummaryResponse {
	return SummaryResponse{
		Total:        s.Total,
		Compliant:    s.Compliant,
		Warning:      s.Warning,
		Critical:     s.Critical,
		AverageScore: s.AverageScore,
		AsOf:         formatTimestamp(s.AsOf),
	}
}

// HealthResponse is the body of /health
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
