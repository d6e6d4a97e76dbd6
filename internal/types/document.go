package types

import "time"

// DocumentStatus is the cached classification stored with a document.
// It is refreshed from ExpiryDate by the scheduler and may lag behind it.
type DocumentStatus string

const (
	DocumentActive       DocumentStatus = "active"
	DocumentExpiringSoon DocumentStatus = "expiring_soon"
	DocumentExpired      DocumentStatus = "expired"
	DocumentArchived     DocumentStatus = "archived"
)

// Valid reports whether s is one of the known document statuses
func (s DocumentStatus) Valid() bool {
	switch s {
	case DocumentActive, DocumentExpiringSoon, DocumentExpired, DocumentArchived:
		return true
	}
	return false
}

// Document is a vendor document such as an insurance certificate or license.
// A nil ExpiryDate means the document does not expire.
type Document struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organizationId"`
	VendorID       string         `json:"vendorId"`
	Name           string         `json:"name"`
	DocumentType   string         `json:"documentType"`
	Status         DocumentStatus `json:"status"`
	ExpiryDate     *time.Time     `json:"expiryDate,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// RequiredDocumentType is an organization policy entry. Documents match it by name.
type RequiredDocumentType struct {
	ID                string    `json:"id"`
	OrganizationID    string    `json:"organizationId"`
	Name              string    `json:"name"`
	Required          bool      `json:"required"`
	ExpiryRequired    bool      `json:"expiryRequired"`
	DefaultExpiryDays *int      `json:"defaultExpiryDays,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}
