// Package checker runs vendor compliance checks end to end: it loads the
// vendor's documents, evaluates them, applies the organization's approval
// gate, reconciles alerts and commits the audit row with the alert plan.
package checker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/daimoniac/vendorcomply/internal/alerts"
	"github.com/daimoniac/vendorcomply/internal/compliance"
	"github.com/daimoniac/vendorcomply/internal/errors"
	"github.com/daimoniac/vendorcomply/internal/observability"
	"github.com/daimoniac/vendorcomply/internal/policy"
	"github.com/daimoniac/vendorcomply/internal/statestore"
	"github.com/daimoniac/vendorcomply/internal/types"
)

// GateProvider resolves the approval gate of an organization
type GateProvider interface {
	For(orgID string) policy.Gate
}

// Checker runs a compliance check for one vendor
type Checker interface {
	Check(ctx context.Context, orgID, vendorID string, checkType types.CheckType) (*Report, error)
}

// Report is the outcome of one persisted check
type Report struct {
	Vendor         *types.Vendor
	Result         *compliance.Result
	Decision       *policy.Decision
	Check          *types.ComplianceCheck
	AlertsCreated  []types.Alert
	AlertsResolved int
}

// Passed reports whether the check was recorded as passed
func (r *Report) Passed() bool {
	return r.Check != nil && r.Check.Status == types.CheckPassed
}

// Summary aggregates the current classification of an organization's vendors
type Summary struct {
	Total        int       `json:"total"`
	Compliant    int       `json:"compliant"`
	Warning      int       `json:"warning"`
	Critical     int       `json:"critical"`
	AverageScore float64   `json:"averageScore"`
	AsOf         time.Time `json:"asOf"`
}

// Details is the audit blob stored with every check
type Details struct {
	compliance.Details
	Policy *policy.Decision `json:"policy,omitempty"`
}

// Option configures a Service
type Option func(*Service)

// WithClock overrides the time source used as the evaluation instant
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service is the only caller of the evaluator outside tests
type Service struct {
	store  statestore.StateStore
	gates  GateProvider
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates a check service
func NewService(store statestore.StateStore, gates GateProvider, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:  store,
		gates:  gates,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check evaluates a vendor as of the service clock and persists the outcome.
// Non-compliance is reported in the Report, never as an error.
func (s *Service) Check(ctx context.Context, orgID, vendorID string, checkType types.CheckType) (*Report, error) {
	start := time.Now()
	metrics := observability.GetMetrics()

	report, err := s.check(ctx, orgID, vendorID, checkType)
	metrics.CheckDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CheckErrors.WithLabelValues(string(checkType)).Inc()
		return nil, err
	}

	metrics.ChecksTotal.WithLabelValues(string(checkType), string(report.Check.Status)).Inc()
	metrics.ComplianceScore.Observe(float64(report.Result.Score))
	for _, alert := range report.AlertsCreated {
		metrics.AlertsCreated.WithLabelValues(string(alert.AlertType)).Inc()
	}
	metrics.AlertsResolved.Add(float64(report.AlertsResolved))

	s.logger.Info("compliance check completed",
		"organization_id", orgID,
		"vendor_id", vendorID,
		"check_type", checkType,
		"score", report.Result.Score,
		"status", report.Result.Status,
		"compliant", report.Result.IsCompliant,
		"policy_passed", report.Decision.Passed,
		"alerts_created", len(report.AlertsCreated),
		"alerts_resolved", report.AlertsResolved,
		"duration", time.Since(start))

	return report, nil
}

func (s *Service) check(ctx context.Context, orgID, vendorID string, checkType types.CheckType) (*Report, error) {
	if orgID == "" || vendorID == "" {
		return nil, errors.NewValidation("check", "organization and vendor ids are required")
	}
	if checkType == "" {
		checkType = types.CheckTypeManual
	}

	vendor, result, err := s.evaluate(ctx, orgID, vendorID, s.now().UTC())
	if err != nil {
		return nil, err
	}

	decision, err := s.gates.For(orgID).Evaluate(ctx, vendor, result)
	if err != nil {
		return nil, errors.NewPermanentf("policy evaluation for vendor %s: %w", vendorID, err)
	}
	metrics := observability.GetMetrics()
	if decision.Passed {
		metrics.PolicyPassed.Inc()
	} else {
		metrics.PolicyFailed.Inc()
	}

	existing, err := s.store.ListOpenAlerts(ctx, orgID, vendorID)
	if err != nil {
		return nil, err
	}

	var opts []alerts.Option
	if !decision.Passed {
		opts = append(opts, alerts.WithComplianceFailure(decision.Reason))
	}
	plan := alerts.Reconcile(orgID, vendorID, result, existing, opts...)

	details, err := json.Marshal(Details{Details: result.Details(), Policy: decision})
	if err != nil {
		return nil, errors.NewPermanentf("failed to encode check details: %w", err)
	}

	status := types.CheckFailed
	if result.IsCompliant && decision.Passed {
		status = types.CheckPassed
	}

	check := &types.ComplianceCheck{
		OrganizationID: orgID,
		VendorID:       vendorID,
		CheckType:      checkType,
		Status:         status,
		Details:        details,
		APICall:        checkType == types.CheckTypeAPI,
		CreatedAt:      result.AsOf,
	}

	committed, err := s.store.CommitEvaluation(ctx, &statestore.Evaluation{
		OrganizationID: orgID,
		Check:          check,
		ToCreate:       plan.ToCreate,
		ToResolve:      plan.ToResolve,
		At:             result.AsOf,
	})
	if err != nil {
		return nil, err
	}

	return &Report{
		Vendor:         vendor,
		Result:         result,
		Decision:       decision,
		Check:          check,
		AlertsCreated:  committed.Created,
		AlertsResolved: committed.Resolved,
	}, nil
}

func (s *Service) evaluate(ctx context.Context, orgID, vendorID string, asOf time.Time) (*types.Vendor, *compliance.Result, error) {
	vendor, err := s.store.GetVendor(ctx, orgID, vendorID)
	if err != nil {
		return nil, nil, err
	}

	documents, err := s.store.ListDocuments(ctx, orgID, vendorID)
	if err != nil {
		return nil, nil, err
	}

	requiredTypes, err := s.store.ListDocumentTypes(ctx, orgID)
	if err != nil {
		return nil, nil, err
	}

	result, err := compliance.Evaluate(vendor, documents, requiredTypes, asOf)
	if err != nil {
		return nil, nil, errors.NewPermanent(err)
	}
	return vendor, result, nil
}

// Summary classifies every vendor of an organization without persisting anything
func (s *Service) Summary(ctx context.Context, orgID string) (*Summary, error) {
	if orgID == "" {
		return nil, errors.NewValidation("organization", "id is required")
	}

	vendors, err := s.store.ListVendors(ctx, orgID)
	if err != nil {
		return nil, err
	}

	asOf := s.now().UTC()
	summary := &Summary{AsOf: asOf}
	totalScore := 0
	for _, vendor := range vendors {
		_, result, err := s.evaluate(ctx, orgID, vendor.ID, asOf)
		if err != nil {
			return nil, err
		}

		summary.Total++
		totalScore += result.Score
		switch result.Status {
		case compliance.StatusCompliant:
			summary.Compliant++
		case compliance.StatusWarning:
			summary.Warning++
		case compliance.StatusCritical:
			summary.Critical++
		}
	}
	if summary.Total > 0 {
		summary.AverageScore = float64(totalScore) / float64(summary.Total)
	}
	return summary, nil
}
