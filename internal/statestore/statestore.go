package statestore

import (
	"context"
	"time"

	"github.com/daimoniac/vendorcomply/internal/types"
)

// StateStore persists organizations, vendors, documents, alerts and the
// compliance check audit trail. Every query is scoped by organization id
// except the cross-organization scheduler and metrics queries.
type StateStore interface {
	// CreateOrganization stores a new organization, assigning an id when empty
	CreateOrganization(ctx context.Context, org *types.Organization) error

	// GetOrganizationByAPIKey resolves an API key, returning errors.ErrNotFound when unknown
	GetOrganizationByAPIKey(ctx context.Context, apiKey string) (*types.Organization, error)

	// CreateVendor stores a new vendor. It fails with errors.ErrRateLimit once
	// the organization's plan holds no more vendors.
	CreateVendor(ctx context.Context, vendor *types.Vendor) error

	// GetVendor loads a vendor of an organization, returning errors.ErrNotFound when absent
	GetVendor(ctx context.Context, orgID, vendorID string) (*types.Vendor, error)

	// ListVendors returns an organization's vendors ordered by name
	ListVendors(ctx context.Context, orgID string) ([]types.Vendor, error)

	// ListAllVendors returns every vendor of every organization
	ListAllVendors(ctx context.Context) ([]types.Vendor, error)

	// CreateDocumentType stores a required document type; names are unique per organization
	CreateDocumentType(ctx context.Context, docType *types.RequiredDocumentType) error

	// ListDocumentTypes returns an organization's document types ordered by name
	ListDocumentTypes(ctx context.Context, orgID string) ([]types.RequiredDocumentType, error)

	// CreateDocument stores a document. A document without expiry date inherits
	// its type's default expiry; an empty status is derived from the expiry date.
	CreateDocument(ctx context.Context, doc *types.Document) error

	// ListDocuments returns a vendor's documents in upload order
	ListDocuments(ctx context.Context, orgID, vendorID string) ([]types.Document, error)

	// RefreshDocumentStatuses rewrites cached document statuses from expiry
	// dates as of asOf. Archived documents are left untouched. Returns the
	// number of documents whose status changed.
	RefreshDocumentStatuses(ctx context.Context, asOf time.Time) (int, error)

	// ListOpenAlerts returns the unresolved alerts of a vendor
	ListOpenAlerts(ctx context.Context, orgID, vendorID string) ([]types.Alert, error)

	// ListAlerts returns alerts matching filter, newest first
	ListAlerts(ctx context.Context, filter AlertFilter) ([]types.Alert, error)

	// CommitEvaluation writes the audit row, inserts new alerts and resolves
	// cleared ones in a single transaction. Alert inserts are conditional on
	// no unresolved alert sharing the de-duplication key.
	CommitEvaluation(ctx context.Context, eval *Evaluation) (*CommitResult, error)

	// ListChecks returns a vendor's audit history, newest first
	ListChecks(ctx context.Context, orgID, vendorID string, limit int) ([]types.ComplianceCheck, error)

	// ReserveAPICall counts one API call against the plan's quota for the
	// calendar month (UTC) of at. It reports false and counts nothing once the
	// quota is used up. Usage is kept apart from the audit rows, so pruning
	// check history never gives quota back.
	ReserveAPICall(ctx context.Context, orgID string, plan types.Plan, at time.Time) (bool, error)

	// ReleaseAPICall returns a reservation whose check did not complete
	ReleaseAPICall(ctx context.Context, orgID string, at time.Time) error

	// APICallsUsed returns the API calls counted in the calendar month of at
	APICallsUsed(ctx context.Context, orgID string, at time.Time) (int, error)

	// PruneChecks keeps only the newest keep audit rows of a vendor, returning the number removed
	PruneChecks(ctx context.Context, orgID, vendorID string, keep int) (int, error)

	// Stats returns cross-organization gauges for metrics collection
	Stats(ctx context.Context) (*Stats, error)

	// Ping verifies the database is reachable
	Ping(ctx context.Context) error

	// Close releases the underlying connections
	Close() error
}

// Evaluation is the persisted outcome of one vendor check
type Evaluation struct {
	OrganizationID string
	Check          *types.ComplianceCheck
	ToCreate       []types.Alert
	ToResolve      []string
	At             time.Time
}

// CommitResult reports what an evaluation commit actually changed. Alerts
// skipped by the de-duplication guard are not counted as created.
type CommitResult struct {
	Created  []types.Alert
	Resolved int
}

// AlertFilter defines criteria for listing alerts
type AlertFilter struct {
	OrganizationID string
	VendorID       string
	Resolved       *bool
	Limit          int
}

// Stats holds counts for the metrics collector
type Stats struct {
	OpenAlertsByType map[types.AlertType]int
	VendorsByStatus  map[types.VendorComplianceStatus]int
	Documents        map[types.DocumentStatus]int
}

// DefaultListLimit caps list queries that pass no explicit limit
const DefaultListLimit = 100

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return DefaultListLimit
	}
	return limit
}
