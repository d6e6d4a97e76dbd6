package types

import "time"

// VendorComplianceStatus is the persisted approval state of a vendor.
// It is owned by the review workflow, never by the evaluator.
type VendorComplianceStatus string

const (
	VendorPending  VendorComplianceStatus = "pending"
	VendorApproved VendorComplianceStatus = "approved"
	VendorExpired  VendorComplianceStatus = "expired"
	VendorRejected VendorComplianceStatus = "rejected"
)

// Vendor belongs to one organization and owns zero or more documents
type Vendor struct {
	ID               string                 `json:"id"`
	OrganizationID   string                 `json:"organizationId"`
	Name             string                 `json:"name"`
	ComplianceStatus VendorComplianceStatus `json:"complianceStatus"`
	RiskScore        int                    `json:"riskScore"` // 0-100, supplied externally
	CreatedAt        time.Time              `json:"createdAt"`
}
