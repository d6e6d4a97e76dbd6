package types

import "time"

// AlertType classifies the condition an alert reports
type AlertType string

const (
	AlertExpiryWarning    AlertType = "expiry_warning"
	AlertExpired          AlertType = "expired"
	AlertMissingDocument  AlertType = "missing_document"
	AlertComplianceFailed AlertType = "compliance_failed"
)

// Alert is an append-only record of a compliance issue. Alerts are never
// deleted; they are resolved once the underlying condition disappears.
type Alert struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organizationId"`
	VendorID       string     `json:"vendorId"`
	DocumentID     *string    `json:"documentId,omitempty"`
	DocumentType   string     `json:"documentType,omitempty"` // subject of missing_document alerts
	AlertType      AlertType  `json:"alertType"`
	Message        string     `json:"message"`
	Resolved       bool       `json:"resolved"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// AlertKey identifies the condition behind an alert. At most one unresolved
// alert exists per organization and key.
type AlertKey struct {
	AlertType  AlertType
	VendorID   string
	DocumentID string // empty for vendor-level alerts
	Subject    string // document type name for missing_document, empty otherwise
}

// String renders the key in the form persisted as the alert dedup column
func (k AlertKey) String() string {
	return string(k.AlertType) + "|" + k.VendorID + "|" + k.DocumentID + "|" + k.Subject
}

// Key returns the de-duplication key of the alert
func (a Alert) Key() AlertKey {
	key := AlertKey{AlertType: a.AlertType, VendorID: a.VendorID}
	if a.DocumentID != nil {
		key.DocumentID = *a.DocumentID
	}
	if a.AlertType == AlertMissingDocument {
		key.Subject = a.DocumentType
	}
	return key
}
