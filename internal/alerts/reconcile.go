// Package alerts derives the alert mutations implied by a compliance result.
//
// Reconciliation is a set difference over alert keys: the alerts the current
// result calls for are compared with the vendor's unresolved alerts; missing
// ones are created and stale ones resolved. Nothing is ever deleted.
package alerts

import (
	"fmt"

	"github.com/daimoniac/vendorcomply/internal/compliance"
	"github.com/daimoniac/vendorcomply/internal/types"
)

// Plan is the minimal set of alert mutations for one vendor evaluation
type Plan struct {
	ToCreate  []types.Alert
	ToResolve []string
}

// Empty reports whether the plan changes nothing
func (p Plan) Empty() bool {
	return len(p.ToCreate) == 0 && len(p.ToResolve) == 0
}

type options struct {
	failureReason string
	gateFailed    bool
}

// Option adjusts which alerts a reconciliation considers desired
type Option func(*options)

// WithComplianceFailure adds a vendor-level compliance_failed alert to the
// desired set. Without it, open compliance_failed alerts are resolved.
func WithComplianceFailure(reason string) Option {
	return func(o *options) {
		o.gateFailed = true
		o.failureReason = reason
	}
}

// Reconcile computes the alerts to create and resolve for vendorID given the
// latest result and the currently unresolved alerts. Alerts of other vendors
// and already-resolved alerts in existing are ignored; duplicate open alerts
// for one key collapse to the first. Created alerts carry no ID or CreatedAt;
// the store assigns them. Output order follows the result.
func Reconcile(orgID, vendorID string, result *compliance.Result, existing []types.Alert, opts ...Option) Plan {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	desired := Desired(orgID, vendorID, result)
	if o.gateFailed {
		desired = append(desired, types.Alert{
			OrganizationID: orgID,
			VendorID:       vendorID,
			AlertType:      types.AlertComplianceFailed,
			Message:        failureMessage(o.failureReason, result),
		})
	}

	open := make(map[types.AlertKey]bool, len(existing))
	for _, a := range existing {
		if a.Resolved || a.VendorID != vendorID {
			continue
		}
		open[a.Key()] = true
	}

	plan := Plan{ToCreate: make([]types.Alert, 0), ToResolve: make([]string, 0)}

	wanted := make(map[types.AlertKey]bool, len(desired))
	for _, a := range desired {
		key := a.Key()
		if wanted[key] {
			continue
		}
		wanted[key] = true
		if !open[key] {
			plan.ToCreate = append(plan.ToCreate, a)
		}
	}

	// Duplicates of a still-wanted key are resolved too; the first one stays open.
	kept := make(map[types.AlertKey]string, len(open))
	resolved := make(map[string]bool)
	for _, a := range existing {
		if a.Resolved || a.VendorID != vendorID || resolved[a.ID] {
			continue
		}
		key := a.Key()
		if wanted[key] {
			if id, ok := kept[key]; !ok || id == a.ID {
				kept[key] = a.ID
				continue
			}
		}
		plan.ToResolve = append(plan.ToResolve, a.ID)
		resolved[a.ID] = true
	}

	return plan
}

// Desired returns the alerts the result calls for, in result order
func Desired(orgID, vendorID string, result *compliance.Result) []types.Alert {
	if result == nil {
		return nil
	}

	out := make([]types.Alert, 0, len(result.Expired)+len(result.Expiring)+len(result.Missing))
	for _, doc := range result.Expired {
		out = append(out, types.Alert{
			OrganizationID: orgID,
			VendorID:       vendorID,
			DocumentID:     docRef(doc.ID),
			AlertType:      types.AlertExpired,
			Message: fmt.Sprintf("%s %q expired %d day(s) ago",
				doc.DocumentType, doc.Name, compliance.DaysOverdue(*doc.ExpiryDate, result.AsOf)),
		})
	}
	for _, doc := range result.Expiring {
		out = append(out, types.Alert{
			OrganizationID: orgID,
			VendorID:       vendorID,
			DocumentID:     docRef(doc.ID),
			AlertType:      types.AlertExpiryWarning,
			Message: fmt.Sprintf("%s %q expires in %d day(s)",
				doc.DocumentType, doc.Name, compliance.DaysUntil(*doc.ExpiryDate, result.AsOf)),
		})
	}
	for _, rt := range result.Missing {
		out = append(out, types.Alert{
			OrganizationID: orgID,
			VendorID:       vendorID,
			DocumentType:   rt.Name,
			AlertType:      types.AlertMissingDocument,
			Message:        fmt.Sprintf("required document %q is missing", rt.Name),
		})
	}
	return out
}

func docRef(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

func failureMessage(reason string, result *compliance.Result) string {
	if reason != "" {
		return reason
	}
	if result == nil {
		return "vendor failed compliance policy"
	}
	return fmt.Sprintf("vendor failed compliance policy (score %d, %s)", result.Score, result.Status)
}
