package compliance

import (
	"time"

	"github.com/daimoniac/vendorcomply/internal/errors"
	"github.com/daimoniac/vendorcomply/internal/types"
)

// Status is the badge-level classification derived from score and compliance
type Status string

const (
	StatusCompliant Status = "compliant"
	StatusWarning   Status = "warning"
	StatusCritical  Status = "critical"
)

// Result is the outcome of evaluating one vendor at one instant.
// Missing, Expiring and Expired preserve input order and are never nil.
type Result struct {
	VendorID    string
	AsOf        time.Time
	Score       int
	Missing     []types.RequiredDocumentType
	Expiring    []types.Document
	Expired     []types.Document
	IsCompliant bool
	Status      Status
}

// MissingNames returns the names of unsatisfied required document types
func (r *Result) MissingNames() []string {
	names := make([]string, 0, len(r.Missing))
	for _, m := range r.Missing {
		names = append(names, m.Name)
	}
	return names
}

// Evaluate scores a vendor's documents against the organization's required
// document types as of asOf. It performs no I/O and never reads the clock;
// identical inputs always produce identical results.
//
// A required type is satisfied only by a document whose cached status is
// active. Expiry classification uses ExpiryDate for every document, so a
// vendor can satisfy a type and still be penalized for an expired duplicate.
func Evaluate(vendor *types.Vendor, documents []types.Document, requiredTypes []types.RequiredDocumentType, asOf time.Time) (*Result, error) {
	if err := validate(vendor, documents, requiredTypes); err != nil {
		return nil, err
	}

	result := &Result{
		VendorID: vendor.ID,
		AsOf:     asOf,
		Missing:  make([]types.RequiredDocumentType, 0),
		Expiring: make([]types.Document, 0),
		Expired:  make([]types.Document, 0),
	}

	satisfied := make(map[string]bool, len(documents))
	for _, doc := range documents {
		if doc.Status == types.DocumentActive {
			satisfied[doc.DocumentType] = true
		}
	}

	for _, rt := range requiredTypes {
		if rt.Required && !satisfied[rt.Name] {
			result.Missing = append(result.Missing, rt)
		}
	}

	for _, doc := range documents {
		if doc.ExpiryDate == nil {
			continue
		}
		switch {
		case IsExpired(*doc.ExpiryDate, asOf):
			result.Expired = append(result.Expired, doc)
		case IsExpiring(*doc.ExpiryDate, asOf):
			result.Expiring = append(result.Expiring, doc)
		}
	}

	result.Score = Score(len(result.Missing), len(result.Expired), len(result.Expiring))
	result.IsCompliant = len(result.Missing) == 0 && len(result.Expired) == 0
	result.Status = Classify(result.Score, result.IsCompliant)

	return result, nil
}

// Score applies the per-issue penalties to MaxScore and clamps to [0, MaxScore]
func Score(missing, expired, expiring int) int {
	score := MaxScore - missing*MissingPenalty - expired*ExpiredPenalty - expiring*ExpiringPenalty
	if score < 0 {
		return 0
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// Classify maps a score to a status, most severe first. Critical needs both
// non-compliance and a score under CriticalBelow. Any score under WarningBelow
// is at least a warning, and a non-compliant vendor is never compliant.
func Classify(score int, compliant bool) Status {
	if !compliant && score < CriticalBelow {
		return StatusCritical
	}
	if score < WarningBelow || !compliant {
		return StatusWarning
	}
	return StatusCompliant
}

func validate(vendor *types.Vendor, documents []types.Document, requiredTypes []types.RequiredDocumentType) error {
	if vendor == nil {
		return errors.NewValidation("vendor", "must not be nil")
	}

	names := make(map[string]bool, len(requiredTypes))
	for i, rt := range requiredTypes {
		if rt.Name == "" {
			return errors.NewValidation("requiredTypes", "entry %d has an empty name", i)
		}
		if names[rt.Name] {
			return errors.NewValidation("requiredTypes", "duplicate name %q", rt.Name)
		}
		names[rt.Name] = true
		if rt.DefaultExpiryDays != nil && *rt.DefaultExpiryDays < 0 {
			return errors.NewValidation("defaultExpiryDays", "%q must not be negative, got %d", rt.Name, *rt.DefaultExpiryDays)
		}
	}

	for i, doc := range documents {
		if doc.DocumentType == "" {
			return errors.NewValidation("documents", "entry %d has an empty document type", i)
		}
		if !doc.Status.Valid() {
			return errors.NewValidation("documents", "entry %d has unknown status %q", i, doc.Status)
		}
		if vendor.ID != "" && doc.VendorID != "" && doc.VendorID != vendor.ID {
			return errors.NewValidation("documents", "entry %d belongs to vendor %q, not %q", i, doc.VendorID, vendor.ID)
		}
	}

	return nil
}
