package statestore

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/daimoniac/vendorcomply/internal/compliance"
	"github.com/daimoniac/vendorcomply/internal/errors"
	"github.com/daimoniac/vendorcomply/internal/types"
)

// SQLiteStore implements StateStore using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite state store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// _foreign_keys=1: vendor deletes cascade to documents
	// _journal_mode=WAL: concurrent readers and a single writer
	// _busy_timeout=3000: wait for locks so metrics scrapes succeed
	connStr := dbPath + "?_foreign_keys=1&mode=rwc&_journal_mode=WAL&_busy_timeout=3000"

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, errors.NewTransientf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	var fkEnabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		db.Close()
		return nil, errors.NewTransientf("failed to check foreign keys status: %w", err)
	}
	if fkEnabled != 1 {
		db.Close()
		return nil, errors.NewTransientf("foreign keys are not enabled (got %d, expected 1)", fkEnabled)
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, errors.NewPermanentf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.NewTransientf("sqlite ping failed: %w", err)
	}
	return nil
}

// initSchema creates the database schema with all tables and indexes
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		api_key TEXT NOT NULL UNIQUE,
		plan TEXT NOT NULL DEFAULT 'free',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS vendors (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		name TEXT NOT NULL,
		compliance_status TEXT NOT NULL DEFAULT 'pending',
		risk_score INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (organization_id) REFERENCES organizations(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS document_types (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		name TEXT NOT NULL,
		required BOOLEAN NOT NULL DEFAULT 1,
		expiry_required BOOLEAN NOT NULL DEFAULT 0,
		default_expiry_days INTEGER,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (organization_id) REFERENCES organizations(id) ON DELETE CASCADE,
		UNIQUE(organization_id, name)
	);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		vendor_id TEXT NOT NULL,
		name TEXT NOT NULL,
		document_type TEXT NOT NULL,
		status TEXT NOT NULL,
		expiry_date INTEGER,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (vendor_id) REFERENCES vendors(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		vendor_id TEXT NOT NULL,
		document_id TEXT,
		document_type TEXT NOT NULL DEFAULT '',
		alert_type TEXT NOT NULL,
		message TEXT NOT NULL,
		dedup_key TEXT NOT NULL,
		resolved BOOLEAN NOT NULL DEFAULT 0,
		resolved_at INTEGER,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS compliance_checks (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		vendor_id TEXT NOT NULL,
		check_type TEXT NOT NULL,
		status TEXT NOT NULL,
		details TEXT NOT NULL DEFAULT '{}',
		api_call BOOLEAN NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS api_usage (
		organization_id TEXT NOT NULL,
		period TEXT NOT NULL,
		calls INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (organization_id, period),
		FOREIGN KEY (organization_id) REFERENCES organizations(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_vendors_org ON vendors(organization_id);
	CREATE INDEX IF NOT EXISTS idx_documents_vendor ON documents(organization_id, vendor_id);
	CREATE INDEX IF NOT EXISTS idx_documents_expiry ON documents(expiry_date);
	CREATE INDEX IF NOT EXISTS idx_alerts_vendor ON alerts(organization_id, vendor_id, resolved);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_open_dedup ON alerts(organization_id, dedup_key) WHERE resolved = 0;
	CREATE INDEX IF NOT EXISTS idx_checks_vendor ON compliance_checks(organization_id, vendor_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_checks_api ON compliance_checks(organization_id, api_call, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// sqliteConstraint maps constraint violations onto ErrNotFound (dangling
// foreign key) or ErrConflict (uniqueness). Other errors are returned as nil.
func sqliteConstraint(err error, subject string) error {
	var sqliteErr sqlite3.Error
	if !stderrors.As(err, &sqliteErr) || sqliteErr.Code != sqlite3.ErrConstraint {
		return nil
	}
	if sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey {
		return fmt.Errorf("%s references an unknown parent: %w", subject, errors.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", subject, errors.ErrConflict)
}

func unixOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func fromUnix(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}

func fromNullUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromUnix(v.Int64)
	return &t
}

// CreateOrganization stores a new organization
func (s *SQLiteStore) CreateOrganization(ctx context.Context, org *types.Organization) error {
	if err := prepareOrganization(org); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, name, slug, api_key, plan, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, org.ID, org.Name, org.Slug, org.APIKey, string(org.Plan), org.CreatedAt.Unix())
	if cerr := sqliteConstraint(err, fmt.Sprintf("organization %q", org.Slug)); cerr != nil {
		return cerr
	}
	if err != nil {
		return errors.NewTransientf("failed to insert organization: %w", err)
	}
	return nil
}

// GetOrganizationByAPIKey resolves an organization from its API key
func (s *SQLiteStore) GetOrganizationByAPIKey(ctx context.Context, apiKey string) (*types.Organization, error) {
	var org types.Organization
	var plan string
	var createdAt int64

	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, api_key, plan, created_at
		FROM organizations WHERE api_key = ?
	`, apiKey).Scan(&org.ID, &org.Name, &org.Slug, &org.APIKey, &plan, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("organization for api key: %w", errors.ErrNotFound)
	}
	if err != nil {
		return nil, errors.NewTransientf("failed to query organization: %w", err)
	}

	org.Plan = types.Plan(plan)
	org.CreatedAt = fromUnix(createdAt)
	return &org, nil
}

// CreateVendor stores a new vendor within the organization's plan limit
func (s *SQLiteStore) CreateVendor(ctx context.Context, vendor *types.Vendor) error {
	if err := prepareVendor(vendor); err != nil {
		return err
	}

	// Inserting first takes the write lock, so concurrent creates count each other
	return s.executeTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO vendors (id, organization_id, name, compliance_status, risk_score, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, vendor.ID, vendor.OrganizationID, vendor.Name, string(vendor.ComplianceStatus), vendor.RiskScore, vendor.CreatedAt.Unix())
		if cerr := sqliteConstraint(err, fmt.Sprintf("vendor %s", vendor.ID)); cerr != nil {
			return cerr
		}
		if err != nil {
			return errors.NewTransientf("failed to insert vendor: %w", err)
		}

		var plan string
		var count int
		err = tx.QueryRowContext(ctx, `
			SELECT o.plan, (SELECT COUNT(*) FROM vendors v WHERE v.organization_id = o.id)
			FROM organizations o WHERE o.id = ?
		`, vendor.OrganizationID).Scan(&plan, &count)
		if err != nil {
			return errors.NewTransientf("failed to count vendors: %w", err)
		}
		if !types.CanCreateVendor(types.Plan(plan), count-1) {
			return fmt.Errorf("vendor limit of plan %s reached: %w", plan, errors.ErrRateLimit)
		}
		return nil
	})
}

const sqliteVendorColumns = `id, organization_id, name, compliance_status, risk_score, created_at`

func scanSQLiteVendor(row interface{ Scan(...interface{}) error }) (types.Vendor, error) {
	var v types.Vendor
	var status string
	var createdAt int64
	if err := row.Scan(&v.ID, &v.OrganizationID, &v.Name, &status, &v.RiskScore, &createdAt); err != nil {
		return v, err
	}
	v.ComplianceStatus = types.VendorComplianceStatus(status)
	v.CreatedAt = fromUnix(createdAt)
	return v, nil
}

// GetVendor loads a single vendor of an organization
func (s *SQLiteStore) GetVendor(ctx context.Context, orgID, vendorID string) (*types.Vendor, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sqliteVendorColumns+` FROM vendors WHERE organization_id = ? AND id = ?
	`, orgID, vendorID)

	v, err := scanSQLiteVendor(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("vendor %s: %w", vendorID, errors.ErrNotFound)
	}
	if err != nil {
		return nil, errors.NewTransientf("failed to query vendor: %w", err)
	}
	return &v, nil
}

// ListVendors returns an organization's vendors
func (s *SQLiteStore) ListVendors(ctx context.Context, orgID string) ([]types.Vendor, error) {
	return s.queryVendors(ctx, `
		SELECT `+sqliteVendorColumns+` FROM vendors WHERE organization_id = ? ORDER BY name ASC, id ASC
	`, orgID)
}

// ListAllVendors returns every vendor across organizations
func (s *SQLiteStore) ListAllVendors(ctx context.Context) ([]types.Vendor, error) {
	return s.queryVendors(ctx, `
		SELECT `+sqliteVendorColumns+` FROM vendors ORDER BY organization_id ASC, name ASC, id ASC
	`)
}

func (s *SQLiteStore) queryVendors(ctx context.Context, query string, args ...interface{}) ([]types.Vendor, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewTransientf("failed to query vendors: %w", err)
	}
	defer rows.Close()

	vendors := []types.Vendor{}
	for rows.Next() {
		v, err := scanSQLiteVendor(rows)
		if err != nil {
			return nil, errors.NewTransientf("failed to scan vendor: %w", err)
		}
		vendors = append(vendors, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewTransientf("error iterating vendors: %w", err)
	}
	return vendors, nil
}

// CreateDocumentType stores a required document type
func (s *SQLiteStore) CreateDocumentType(ctx context.Context, docType *types.RequiredDocumentType) error {
	if err := prepareDocumentType(docType); err != nil {
		return err
	}

	var days interface{}
	if docType.DefaultExpiryDays != nil {
		days = *docType.DefaultExpiryDays
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_types (id, organization_id, name, required, expiry_required, default_expiry_days, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, docType.ID, docType.OrganizationID, docType.Name, docType.Required, docType.ExpiryRequired, days, docType.CreatedAt.Unix())
	if cerr := sqliteConstraint(err, fmt.Sprintf("document type %q", docType.Name)); cerr != nil {
		return cerr
	}
	if err != nil {
		return errors.NewTransientf("failed to insert document type: %w", err)
	}
	return nil
}

// ListDocumentTypes returns an organization's document types
func (s *SQLiteStore) ListDocumentTypes(ctx context.Context, orgID string) ([]types.RequiredDocumentType, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, name, required, expiry_required, default_expiry_days, created_at
		FROM document_types WHERE organization_id = ? ORDER BY name ASC
	`, orgID)
	if err != nil {
		return nil, errors.NewTransientf("failed to query document types: %w", err)
	}
	defer rows.Close()

	docTypes := []types.RequiredDocumentType{}
	for rows.Next() {
		var dt types.RequiredDocumentType
		var days sql.NullInt64
		var createdAt int64
		if err := rows.Scan(&dt.ID, &dt.OrganizationID, &dt.Name, &dt.Required, &dt.ExpiryRequired, &days, &createdAt); err != nil {
			return nil, errors.NewTransientf("failed to scan document type: %w", err)
		}
		if days.Valid {
			d := int(days.Int64)
			dt.DefaultExpiryDays = &d
		}
		dt.CreatedAt = fromUnix(createdAt)
		docTypes = append(docTypes, dt)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewTransientf("error iterating document types: %w", err)
	}
	return docTypes, nil
}

func (s *SQLiteStore) findDocumentType(ctx context.Context, orgID, name string) (*types.RequiredDocumentType, error) {
	var dt types.RequiredDocumentType
	var days sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, default_expiry_days FROM document_types WHERE organization_id = ? AND name = ?
	`, orgID, name).Scan(&dt.ID, &dt.Name, &days)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewTransientf("failed to query document type: %w", err)
	}
	if days.Valid {
		d := int(days.Int64)
		dt.DefaultExpiryDays = &d
	}
	return &dt, nil
}

// CreateDocument stores a vendor document
func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *types.Document) error {
	if doc == nil {
		return errors.NewValidation("document", "must not be nil")
	}
	docType, err := s.findDocumentType(ctx, doc.OrganizationID, doc.DocumentType)
	if err != nil {
		return err
	}
	if err := prepareDocument(doc, docType); err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, organization_id, vendor_id, name, document_type, status, expiry_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.OrganizationID, doc.VendorID, doc.Name, doc.DocumentType, string(doc.Status), unixOrNil(doc.ExpiryDate), doc.CreatedAt.Unix())
	if cerr := sqliteConstraint(err, fmt.Sprintf("document %s for vendor %s", doc.ID, doc.VendorID)); cerr != nil {
		return cerr
	}
	if err != nil {
		return errors.NewTransientf("failed to insert document: %w", err)
	}
	return nil
}

// ListDocuments returns a vendor's documents in upload order
func (s *SQLiteStore) ListDocuments(ctx context.Context, orgID, vendorID string) ([]types.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, vendor_id, name, document_type, status, expiry_date, created_at
		FROM documents WHERE organization_id = ? AND vendor_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, orgID, vendorID)
	if err != nil {
		return nil, errors.NewTransientf("failed to query documents: %w", err)
	}
	defer rows.Close()

	docs := []types.Document{}
	for rows.Next() {
		var d types.Document
		var status string
		var expiry sql.NullInt64
		var createdAt int64
		if err := rows.Scan(&d.ID, &d.OrganizationID, &d.VendorID, &d.Name, &d.DocumentType, &status, &expiry, &createdAt); err != nil {
			return nil, errors.NewTransientf("failed to scan document: %w", err)
		}
		d.Status = types.DocumentStatus(status)
		d.ExpiryDate = fromNullUnix(expiry)
		d.CreatedAt = fromUnix(createdAt)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewTransientf("error iterating documents: %w", err)
	}
	return docs, nil
}

// RefreshDocumentStatuses re-derives cached statuses of all non-archived documents
func (s *SQLiteStore) RefreshDocumentStatuses(ctx context.Context, asOf time.Time) (int, error) {
	changed := 0
	err := s.executeTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, status, expiry_date FROM documents WHERE status != ?
		`, string(types.DocumentArchived))
		if err != nil {
			return errors.NewTransientf("failed to query documents for refresh: %w", err)
		}

		updates := make(map[string]types.DocumentStatus)
		for rows.Next() {
			var d types.Document
			var status string
			var expiry sql.NullInt64
			if err := rows.Scan(&d.ID, &status, &expiry); err != nil {
				rows.Close()
				return errors.NewTransientf("failed to scan document for refresh: %w", err)
			}
			d.Status = types.DocumentStatus(status)
			d.ExpiryDate = fromNullUnix(expiry)
			if derived := compliance.DeriveDocumentStatus(d, asOf); derived != d.Status {
				updates[d.ID] = derived
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return errors.NewTransientf("error iterating documents for refresh: %w", err)
		}
		rows.Close()

		for id, status := range updates {
			if _, err := tx.ExecContext(ctx, `UPDATE documents SET status = ? WHERE id = ?`, string(status), id); err != nil {
				return errors.NewTransientf("failed to update document status: %w", err)
			}
		}
		changed = len(updates)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

const sqliteAlertColumns = `id, organization_id, vendor_id, document_id, document_type, alert_type, message, resolved, resolved_at, created_at`

func scanSQLiteAlert(row interface{ Scan(...interface{}) error }) (types.Alert, error) {
	var a types.Alert
	var docID sql.NullString
	var alertType string
	var resolvedAt sql.NullInt64
	var createdAt int64
	if err := row.Scan(&a.ID, &a.OrganizationID, &a.VendorID, &docID, &a.DocumentType, &alertType, &a.Message, &a.Resolved, &resolvedAt, &createdAt); err != nil {
		return a, err
	}
	if docID.Valid {
		id := docID.String
		a.DocumentID = &id
	}
	a.AlertType = types.AlertType(alertType)
	a.ResolvedAt = fromNullUnix(resolvedAt)
	a.CreatedAt = fromUnix(createdAt)
	return a, nil
}

// ListOpenAlerts returns the unresolved alerts of a vendor in creation order
func (s *SQLiteStore) ListOpenAlerts(ctx context.Context, orgID, vendorID string) ([]types.Alert, error) {
	return s.queryAlerts(ctx, `
		SELECT `+sqliteAlertColumns+` FROM alerts
		WHERE organization_id = ? AND vendor_id = ? AND resolved = 0
		ORDER BY created_at ASC, rowid ASC
	`, orgID, vendorID)
}

// ListAlerts returns alerts matching the filter, newest first
func (s *SQLiteStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]types.Alert, error) {
	query := `SELECT ` + sqliteAlertColumns + ` FROM alerts WHERE organization_id = ?`
	args := []interface{}{filter.OrganizationID}

	if filter.VendorID != "" {
		query += " AND vendor_id = ?"
		args = append(args, filter.VendorID)
	}
	if filter.Resolved != nil {
		query += " AND resolved = ?"
		args = append(args, *filter.Resolved)
	}

	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, normalizeLimit(filter.Limit))

	return s.queryAlerts(ctx, query, args...)
}

func (s *SQLiteStore) queryAlerts(ctx context.Context, query string, args ...interface{}) ([]types.Alert, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewTransientf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []types.Alert{}
	for rows.Next() {
		a, err := scanSQLiteAlert(rows)
		if err != nil {
			return nil, errors.NewTransientf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewTransientf("error iterating alerts: %w", err)
	}
	return alerts, nil
}

// CommitEvaluation persists an evaluation in one transaction
func (s *SQLiteStore) CommitEvaluation(ctx context.Context, eval *Evaluation) (*CommitResult, error) {
	if eval == nil || eval.OrganizationID == "" {
		return nil, errors.NewValidation("evaluation", "organization is required")
	}
	at := eval.At
	if at.IsZero() {
		at = nowUTC()
	}

	result := &CommitResult{Created: []types.Alert{}}
	err := s.executeTx(ctx, func(tx *sql.Tx) error {
		if eval.Check != nil {
			if err := prepareCheck(eval.Check, eval.OrganizationID, at); err != nil {
				return err
			}
			c := eval.Check
			_, err := tx.ExecContext(ctx, `
				INSERT INTO compliance_checks (id, organization_id, vendor_id, check_type, status, details, api_call, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, c.ID, c.OrganizationID, c.VendorID, string(c.CheckType), string(c.Status), string(c.Details), c.APICall, c.CreatedAt.Unix())
			if err != nil {
				return errors.NewTransientf("failed to insert compliance check: %w", err)
			}
		}

		// Resolve before insert so a key freed in this plan can be reused
		for _, id := range eval.ToResolve {
			res, err := tx.ExecContext(ctx, `
				UPDATE alerts SET resolved = 1, resolved_at = ?
				WHERE id = ? AND organization_id = ? AND resolved = 0
			`, at.Unix(), id, eval.OrganizationID)
			if err != nil {
				return errors.NewTransientf("failed to resolve alert: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return errors.NewTransientf("failed to get resolved rows count: %w", err)
			}
			result.Resolved += int(n)
		}

		for _, alert := range eval.ToCreate {
			prepareAlert(&alert, eval.OrganizationID, at)
			var docID interface{}
			if alert.DocumentID != nil {
				docID = *alert.DocumentID
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO alerts (id, organization_id, vendor_id, document_id, document_type, alert_type, message, dedup_key, resolved, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
				ON CONFLICT DO NOTHING
			`, alert.ID, alert.OrganizationID, alert.VendorID, docID, alert.DocumentType, string(alert.AlertType),
				alert.Message, alert.Key().String(), alert.CreatedAt.Unix())
			if err != nil {
				return errors.NewTransientf("failed to insert alert: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return errors.NewTransientf("failed to get inserted rows count: %w", err)
			}
			if n > 0 {
				result.Created = append(result.Created, alert)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListChecks returns a vendor's compliance check history
func (s *SQLiteStore) ListChecks(ctx context.Context, orgID, vendorID string, limit int) ([]types.ComplianceCheck, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, vendor_id, check_type, status, details, api_call, created_at
		FROM compliance_checks WHERE organization_id = ? AND vendor_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, orgID, vendorID, normalizeLimit(limit))
	if err != nil {
		return nil, errors.NewTransientf("failed to query compliance checks: %w", err)
	}
	defer rows.Close()

	checks := []types.ComplianceCheck{}
	for rows.Next() {
		var c types.ComplianceCheck
		var checkType, status, details string
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.OrganizationID, &c.VendorID, &checkType, &status, &details, &c.APICall, &createdAt); err != nil {
			return nil, errors.NewTransientf("failed to scan compliance check: %w", err)
		}
		c.CheckType = types.CheckType(checkType)
		c.Status = types.CheckStatus(status)
		c.Details = []byte(details)
		c.CreatedAt = fromUnix(createdAt)
		checks = append(checks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewTransientf("error iterating compliance checks: %w", err)
	}
	return checks, nil
}

// ReserveAPICall counts one API call if the plan's monthly quota allows it
func (s *SQLiteStore) ReserveAPICall(ctx context.Context, orgID string, plan types.Plan, at time.Time) (bool, error) {
	err := s.executeTx(ctx, func(tx *sql.Tx) error {
		var calls int
		err := tx.QueryRowContext(ctx, `
			INSERT INTO api_usage (organization_id, period, calls) VALUES (?, ?, 1)
			ON CONFLICT (organization_id, period) DO UPDATE SET calls = api_usage.calls + 1
			RETURNING calls
		`, orgID, usagePeriod(at)).Scan(&calls)
		if cerr := sqliteConstraint(err, fmt.Sprintf("api usage of %s", orgID)); cerr != nil {
			return cerr
		}
		if err != nil {
			return errors.NewTransientf("failed to count api call: %w", err)
		}
		if !types.CanMakeAPICall(plan, calls-1) {
			return errors.ErrRateLimit
		}
		return nil
	})
	if stderrors.Is(err, errors.ErrRateLimit) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ReleaseAPICall gives back one call of the month of at
func (s *SQLiteStore) ReleaseAPICall(ctx context.Context, orgID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE api_usage SET calls = calls - 1
		WHERE organization_id = ? AND period = ? AND calls > 0
	`, orgID, usagePeriod(at))
	if err != nil {
		return errors.NewTransientf("failed to release api call: %w", err)
	}
	return nil
}

// APICallsUsed returns the calls counted in the month of at
func (s *SQLiteStore) APICallsUsed(ctx context.Context, orgID string, at time.Time) (int, error) {
	var calls int
	err := s.db.QueryRowContext(ctx, `
		SELECT calls FROM api_usage WHERE organization_id = ? AND period = ?
	`, orgID, usagePeriod(at)).Scan(&calls)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, errors.NewTransientf("failed to read api usage: %w", err)
	}
	return calls, nil
}

// PruneChecks removes all but the newest keep audit rows of a vendor
func (s *SQLiteStore) PruneChecks(ctx context.Context, orgID, vendorID string, keep int) (int, error) {
	if keep <= 0 {
		return 0, errors.NewPermanentf("keep must be positive, got %d", keep)
	}

	var deleted int64
	err := s.executeTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id FROM compliance_checks
			WHERE organization_id = ? AND vendor_id = ?
			ORDER BY created_at DESC, rowid DESC
			LIMIT ?
		`, orgID, vendorID, keep)
		if err != nil {
			return errors.NewTransientf("failed to query checks to keep: %w", err)
		}

		var keepIDs []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return errors.NewTransientf("failed to scan check id: %w", err)
			}
			keepIDs = append(keepIDs, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return errors.NewTransientf("error iterating check ids: %w", err)
		}
		rows.Close()

		if len(keepIDs) < keep {
			return nil
		}

		placeholders := make([]string, len(keepIDs))
		args := make([]interface{}, 0, len(keepIDs)+2)
		args = append(args, orgID, vendorID)
		for i, id := range keepIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}

		res, err := tx.ExecContext(ctx, fmt.Sprintf(`
			DELETE FROM compliance_checks
			WHERE organization_id = ? AND vendor_id = ? AND id NOT IN (%s)
		`, strings.Join(placeholders, ",")), args...)
		if err != nil {
			return errors.NewTransientf("failed to delete excess checks: %w", err)
		}
		deleted, err = res.RowsAffected()
		if err != nil {
			return errors.NewTransientf("failed to get deleted rows count: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(deleted), nil
}

// Stats aggregates alert, vendor and document counts across organizations
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	stats := emptyStats()

	if err := s.groupCount(ctx, `SELECT alert_type, COUNT(*) FROM alerts WHERE resolved = 0 GROUP BY alert_type`,
		func(k string, n int) { stats.OpenAlertsByType[types.AlertType(k)] = n }); err != nil {
		return nil, err
	}
	if err := s.groupCount(ctx, `SELECT compliance_status, COUNT(*) FROM vendors GROUP BY compliance_status`,
		func(k string, n int) { stats.VendorsByStatus[types.VendorComplianceStatus(k)] = n }); err != nil {
		return nil, err
	}
	if err := s.groupCount(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`,
		func(k string, n int) { stats.Documents[types.DocumentStatus(k)] = n }); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *SQLiteStore) groupCount(ctx context.Context, query string, set func(string, int)) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return errors.NewTransientf("failed to query stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return errors.NewTransientf("failed to scan stats row: %w", err)
		}
		set(key, n)
	}
	if err := rows.Err(); err != nil {
		return errors.NewTransientf("error iterating stats: %w", err)
	}
	return nil
}

// executeTx runs operation in a transaction, committing when it succeeds
func (s *SQLiteStore) executeTx(ctx context.Context, operation func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewTransientf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := operation(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.NewTransientf("failed to commit transaction: %w", err)
	}
	return nil
}
