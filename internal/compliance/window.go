package compliance

import (
	"time"

	"github.com/daimoniac/vendorcomply/internal/types"
)

const day = 24 * time.Hour

// WarningWindow is how far ahead of asOf a document counts as expiring soon
const WarningWindow = 30 * day

// Score penalties and status thresholds
const (
	MaxScore        = 100
	MissingPenalty  = 20
	ExpiredPenalty  = 15
	ExpiringPenalty = 5

	CriticalBelow = 60
	WarningBelow  = 80
)

// IsExpired reports whether expiry is at or before asOf.
// The boundary instant asOf itself counts as expired.
func IsExpired(expiry, asOf time.Time) bool {
	return !expiry.After(asOf)
}

// IsExpiring reports whether expiry falls in (asOf, asOf+WarningWindow]
func IsExpiring(expiry, asOf time.Time) bool {
	return expiry.After(asOf) && !expiry.After(asOf.Add(WarningWindow))
}

// DaysUntil returns the whole days from asOf until expiry, rounded up
func DaysUntil(expiry, asOf time.Time) int {
	return ceilDays(expiry.Sub(asOf))
}

// DaysOverdue returns the whole days since expiry, rounded up
func DaysOverdue(expiry, asOf time.Time) int {
	return ceilDays(asOf.Sub(expiry))
}

func ceilDays(d time.Duration) int {
	days := int(d / day)
	if d%day > 0 {
		days++
	}
	return days
}

// DeriveDocumentStatus computes the status a document should carry at asOf
// using the same boundaries as Evaluate. Archived documents stay archived and
// documents without an expiry are active.
func DeriveDocumentStatus(doc types.Document, asOf time.Time) types.DocumentStatus {
	if doc.Status == types.DocumentArchived {
		return types.DocumentArchived
	}
	if doc.ExpiryDate == nil {
		return types.DocumentActive
	}
	switch {
	case IsExpired(*doc.ExpiryDate, asOf):
		return types.DocumentExpired
	case IsExpiring(*doc.ExpiryDate, asOf):
		return types.DocumentExpiringSoon
	default:
		return types.DocumentActive
	}
}

// DefaultExpiryDate returns uploadedAt plus the type's default validity, or
// nil when the type defines none.
func DefaultExpiryDate(docType types.RequiredDocumentType, uploadedAt time.Time) *time.Time {
	if docType.DefaultExpiryDays == nil || *docType.DefaultExpiryDays <= 0 {
		return nil
	}
	expiry := uploadedAt.AddDate(0, 0, *docType.DefaultExpiryDays)
	return &expiry
}
