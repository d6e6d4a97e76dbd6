package statestore

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/daimoniac/vendorcomply/internal/compliance"
	"github.com/daimoniac/vendorcomply/internal/errors"
	"github.com/daimoniac/vendorcomply/internal/types"
)

func newID() string {
	return uuid.NewString()
}

func nowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func prepareOrganization(org *types.Organization) error {
	if org == nil {
		return errors.NewValidation("organization", "must not be nil")
	}
	if strings.TrimSpace(org.Name) == "" {
		return errors.NewValidation("organization.name", "must not be blank")
	}
	if strings.TrimSpace(org.APIKey) == "" {
		return errors.NewValidation("organization.apiKey", "must not be blank")
	}
	if org.ID == "" {
		org.ID = newID()
	}
	if org.Slug == "" {
		org.Slug = slugify(org.Name)
	}
	if org.Plan == "" {
		org.Plan = types.PlanFree
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = nowUTC()
	}
	return nil
}

func slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func prepareVendor(vendor *types.Vendor) error {
	if vendor == nil {
		return errors.NewValidation("vendor", "must not be nil")
	}
	if vendor.OrganizationID == "" {
		return errors.NewValidation("vendor.organizationId", "must not be blank")
	}
	if strings.TrimSpace(vendor.Name) == "" {
		return errors.NewValidation("vendor.name", "must not be blank")
	}
	if vendor.RiskScore < 0 || vendor.RiskScore > 100 {
		return errors.NewValidation("vendor.riskScore", "must be within 0..100, got %d", vendor.RiskScore)
	}
	if vendor.ID == "" {
		vendor.ID = newID()
	}
	if vendor.ComplianceStatus == "" {
		vendor.ComplianceStatus = types.VendorPending
	}
	if vendor.CreatedAt.IsZero() {
		vendor.CreatedAt = nowUTC()
	}
	return nil
}

func prepareDocumentType(docType *types.RequiredDocumentType) error {
	if docType == nil {
		return errors.NewValidation("documentType", "must not be nil")
	}
	if docType.OrganizationID == "" {
		return errors.NewValidation("documentType.organizationId", "must not be blank")
	}
	if strings.TrimSpace(docType.Name) == "" {
		return errors.NewValidation("documentType.name", "must not be blank")
	}
	if docType.DefaultExpiryDays != nil && *docType.DefaultExpiryDays < 0 {
		return errors.NewValidation("documentType.defaultExpiryDays", "must not be negative, got %d", *docType.DefaultExpiryDays)
	}
	if docType.ID == "" {
		docType.ID = newID()
	}
	if docType.CreatedAt.IsZero() {
		docType.CreatedAt = nowUTC()
	}
	return nil
}

// prepareDocument fills ids and timestamps, applies the type's default
// expiry and derives the initial status. docType may be nil when the
// organization has no type of that name.
func prepareDocument(doc *types.Document, docType *types.RequiredDocumentType) error {
	if doc == nil {
		return errors.NewValidation("document", "must not be nil")
	}
	if doc.OrganizationID == "" || doc.VendorID == "" {
		return errors.NewValidation("document", "organization and vendor are required")
	}
	if strings.TrimSpace(doc.Name) == "" {
		return errors.NewValidation("document.name", "must not be blank")
	}
	if strings.TrimSpace(doc.DocumentType) == "" {
		return errors.NewValidation("document.documentType", "must not be blank")
	}
	if doc.Status != "" && !doc.Status.Valid() {
		return errors.NewValidation("document.status", "unknown status %q", doc.Status)
	}
	if doc.ID == "" {
		doc.ID = newID()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = nowUTC()
	}
	if doc.ExpiryDate == nil && docType != nil {
		doc.ExpiryDate = compliance.DefaultExpiryDate(*docType, doc.CreatedAt)
	}
	if doc.Status == "" {
		doc.Status = compliance.DeriveDocumentStatus(*doc, doc.CreatedAt)
	}
	return nil
}

// usagePeriod names the calendar month in UTC that API calls are counted against
func usagePeriod(at time.Time) string {
	return at.UTC().Format("2006-01")
}

func prepareCheck(check *types.ComplianceCheck, orgID string, at time.Time) error {
	if check.VendorID == "" {
		return errors.NewValidation("check.vendorId", "must not be blank")
	}
	if check.ID == "" {
		check.ID = newID()
	}
	if check.OrganizationID == "" {
		check.OrganizationID = orgID
	}
	if check.CreatedAt.IsZero() {
		check.CreatedAt = at
	}
	if len(check.Details) == 0 {
		check.Details = json.RawMessage("{}")
	}
	return nil
}

func prepareAlert(alert *types.Alert, orgID string, at time.Time) {
	if alert.ID == "" {
		alert.ID = newID()
	}
	if alert.OrganizationID == "" {
		alert.OrganizationID = orgID
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = at
	}
	alert.Resolved = false
	alert.ResolvedAt = nil
}

func emptyStats() *Stats {
	return &Stats{
		OpenAlertsByType: make(map[types.AlertType]int),
		VendorsByStatus:  make(map[types.VendorComplianceStatus]int),
		Documents:        make(map[types.DocumentStatus]int),
	}
}
