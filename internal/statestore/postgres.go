package statestore

import (
	"context"
	"embed"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/daimoniac/vendorcomply/internal/compliance"
	"github.com/daimoniac/vendorcomply/internal/errors"
	"github.com/daimoniac/vendorcomply/internal/types"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore implements StateStore on a pgx connection pool
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to url and applies pending schema migrations
func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, errors.NewPermanentf("invalid postgres url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.NewTransientf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.NewTransientf("failed to reach postgres: %w", err)
	}

	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.NewPermanentf("failed to migrate schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping verifies the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return errors.NewTransientf("postgres ping failed: %w", err)
	}
	return nil
}

// pgConstraint maps unique and foreign key violations, returning nil otherwise
func pgConstraint(err error, subject string) error {
	var pgErr *pgconn.PgError
	if !stderrors.As(err, &pgErr) {
		return nil
	}
	switch pgErr.Code {
	case "23503":
		return fmt.Errorf("%s references an unknown parent: %w", subject, errors.ErrNotFound)
	case "23505":
		return fmt.Errorf("%s: %w", subject, errors.ErrConflict)
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// CreateOrganization stores a new organization
func (s *PostgresStore) CreateOrganization(ctx context.Context, org *types.Organization) error {
	if err := prepareOrganization(org); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO organizations (id, name, slug, api_key, plan, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, org.ID, org.Name, org.Slug, org.APIKey, string(org.Plan), org.CreatedAt)
	if cerr := pgConstraint(err, fmt.Sprintf("organization %q", org.Slug)); cerr != nil {
		return cerr
	}
	if err != nil {
		return errors.NewTransientf("failed to insert organization: %w", err)
	}
	return nil
}

// GetOrganizationByAPIKey resolves an organization from its API key
func (s *PostgresStore) GetOrganizationByAPIKey(ctx context.Context, apiKey string) (*types.Organization, error) {
	var org types.Organization
	var plan string

	err := s.pool.QueryRow(ctx, `
		SELECT id, name, slug, api_key, plan, created_at
		FROM organizations WHERE api_key = $1
	`, apiKey).Scan(&org.ID, &org.Name, &org.Slug, &org.APIKey, &plan, &org.CreatedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("organization for api key: %w", errors.ErrNotFound)
	}
	if err != nil {
		return nil, errors.NewTransientf("failed to query organization: %w", err)
	}

	org.Plan = types.Plan(plan)
	org.CreatedAt = org.CreatedAt.UTC()
	return &org, nil
}

// CreateVendor stores a new vendor within the organization's plan limit
func (s *PostgresStore) CreateVendor(ctx context.Context, vendor *types.Vendor) error {
	if err := prepareVendor(vendor); err != nil {
		return err
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// The organization row lock serializes vendor creation per organization
		var plan string
		err := tx.QueryRow(ctx, `SELECT plan FROM organizations WHERE id = $1 FOR UPDATE`, vendor.OrganizationID).Scan(&plan)
		if stderrors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("vendor %s references an unknown parent: %w", vendor.ID, errors.ErrNotFound)
		}
		if err != nil {
			return errors.NewTransientf("failed to lock organization: %w", err)
		}

		var count int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM vendors WHERE organization_id = $1`, vendor.OrganizationID).Scan(&count); err != nil {
			return errors.NewTransientf("failed to count vendors: %w", err)
		}
		if !types.CanCreateVendor(types.Plan(plan), count) {
			return fmt.Errorf("vendor limit of plan %s reached: %w", plan, errors.ErrRateLimit)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO vendors (id, organization_id, name, compliance_status, risk_score, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, vendor.ID, vendor.OrganizationID, vendor.Name, string(vendor.ComplianceStatus), vendor.RiskScore, vendor.CreatedAt)
		if cerr := pgConstraint(err, fmt.Sprintf("vendor %s", vendor.ID)); cerr != nil {
			return cerr
		}
		if err != nil {
			return errors.NewTransientf("failed to insert vendor: %w", err)
		}
		return nil
	})
	return wrapTx(err)
}

const pgVendorColumns = `id, organization_id, name, compliance_status, risk_score, created_at`

func scanPgVendor(row pgx.Row) (types.Vendor, error) {
	var v types.Vendor
	var status string
	if err := row.Scan(&v.ID, &v.OrganizationID, &v.Name, &status, &v.RiskScore, &v.CreatedAt); err != nil {
		return v, err
	}
	v.ComplianceStatus = types.VendorComplianceStatus(status)
	v.CreatedAt = v.CreatedAt.UTC()
	return v, nil
}

// GetVendor loads a single vendor of an organization
func (s *PostgresStore) GetVendor(ctx context.Context, orgID, vendorID string) (*types.Vendor, error) {
	v, err := scanPgVendor(s.pool.QueryRow(ctx, `
		SELECT `+pgVendorColumns+` FROM vendors WHERE organization_id = $1 AND id = $2
	`, orgID, vendorID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("vendor %s: %w", vendorID, errors.ErrNotFound)
	}
	if err != nil {
		return nil, errors.NewTransientf("failed to query vendor: %w", err)
	}
	return &v, nil
}

// ListVendors returns an organization's vendors
func (s *PostgresStore) ListVendors(ctx context.Context, orgID string) ([]types.Vendor, error) {
	return s.queryVendors(ctx, `
		SELECT `+pgVendorColumns+` FROM vendors WHERE organization_id = $1 ORDER BY name ASC, id ASC
	`, orgID)
}

// ListAllVendors returns every vendor across organizations
func (s *PostgresStore) ListAllVendors(ctx context.Context) ([]types.Vendor, error) {
	return s.queryVendors(ctx, `
		SELECT `+pgVendorColumns+` FROM vendors ORDER BY organization_id ASC, name ASC, id ASC
	`)
}

func (s *PostgresStore) queryVendors(ctx context.Context, query string, args ...interface{}) ([]types.Vendor, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewTransientf("failed to query vendors: %w", err)
	}
	defer rows.Close()

	vendors := []types.Vendor{}
	for rows.Next() {
		v, err := scanPgVendor(rows)
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
func (s *PostgresStore) CreateDocumentType(ctx context.Context, docType *types.RequiredDocumentType) error {
	if err := prepareDocumentType(docType); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO document_types (id, organization_id, name, required, expiry_required, default_expiry_days, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, docType.ID, docType.OrganizationID, docType.Name, docType.Required, docType.ExpiryRequired, docType.DefaultExpiryDays, docType.CreatedAt)
	if cerr := pgConstraint(err, fmt.Sprintf("document type %q", docType.Name)); cerr != nil {
		return cerr
	}
	if err != nil {
		return errors.NewTransientf("failed to insert document type: %w", err)
	}
	return nil
}

// ListDocumentTypes returns an organization's document types
func (s *PostgresStore) ListDocumentTypes(ctx context.Context, orgID string) ([]types.RequiredDocumentType, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, organization_id, name, required, expiry_required, default_expiry_days, created_at
		FROM document_types WHERE organization_id = $1 ORDER BY name ASC
	`, orgID)
	if err != nil {
		return nil, errors.NewTransientf("failed to query document types: %w", err)
	}
	defer rows.Close()

	docTypes := []types.RequiredDocumentType{}
	for rows.Next() {
		var dt types.RequiredDocumentType
		if err := rows.Scan(&dt.ID, &dt.OrganizationID, &dt.Name, &dt.Required, &dt.ExpiryRequired, &dt.DefaultExpiryDays, &dt.CreatedAt); err != nil {
			return nil, errors.NewTransientf("failed to scan document type: %w", err)
		}
		dt.CreatedAt = dt.CreatedAt.UTC()
		docTypes = append(docTypes, dt)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewTransientf("error iterating document types: %w", err)
	}
	return docTypes, nil
}

// CreateDocument stores a vendor document
func (s *PostgresStore) CreateDocument(ctx context.Context, doc *types.Document) error {
	if doc == nil {
		return errors.NewValidation("document", "must not be nil")
	}

	var docType *types.RequiredDocumentType
	var dt types.RequiredDocumentType
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, default_expiry_days FROM document_types WHERE organization_id = $1 AND name = $2
	`, doc.OrganizationID, doc.DocumentType).Scan(&dt.ID, &dt.Name, &dt.DefaultExpiryDays)
	switch {
	case err == nil:
		docType = &dt
	case !stderrors.Is(err, pgx.ErrNoRows):
		return errors.NewTransientf("failed to query document type: %w", err)
	}

	if err := prepareDocument(doc, docType); err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO documents (id, organization_id, vendor_id, name, document_type, status, expiry_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, doc.ID, doc.OrganizationID, doc.VendorID, doc.Name, doc.DocumentType, string(doc.Status), doc.ExpiryDate, doc.CreatedAt)
	if cerr := pgConstraint(err, fmt.Sprintf("document %s for vendor %s", doc.ID, doc.VendorID)); cerr != nil {
		return cerr
	}
	if err != nil {
		return errors.NewTransientf("failed to insert document: %w", err)
	}
	return nil
}

// ListDocuments returns a vendor's documents in upload order
func (s *PostgresStore) ListDocuments(ctx context.Context, orgID, vendorID string) ([]types.Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, organization_id, vendor_id, name, document_type, status, expiry_date, created_at
		FROM documents WHERE organization_id = $1 AND vendor_id = $2
		ORDER BY created_at ASC, seq ASC
	`, orgID, vendorID)
	if err != nil {
		return nil, errors.NewTransientf("failed to query documents: %w", err)
	}
	defer rows.Close()

	docs := []types.Document{}
	for rows.Next() {
		var d types.Document
		var status string
		if err := rows.Scan(&d.ID, &d.OrganizationID, &d.VendorID, &d.Name, &d.DocumentType, &status, &d.ExpiryDate, &d.CreatedAt); err != nil {
			return nil, errors.NewTransientf("failed to scan document: %w", err)
		}
		d.Status = types.DocumentStatus(status)
		d.ExpiryDate = utcPtr(d.ExpiryDate)
		d.CreatedAt = d.CreatedAt.UTC()
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewTransientf("error iterating documents: %w", err)
	}
	return docs, nil
}

// RefreshDocumentStatuses re-derives cached statuses of all non-archived documents
func (s *PostgresStore) RefreshDocumentStatuses(ctx context.Context, asOf time.Time) (int, error) {
	changed := 0
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, status, expiry_date FROM documents WHERE status <> $1 FOR UPDATE
		`, string(types.DocumentArchived))
		if err != nil {
			return errors.NewTransientf("failed to query documents for refresh: %w", err)
		}

		updates := make(map[string]types.DocumentStatus)
		for rows.Next() {
			var d types.Document
			var status string
			if err := rows.Scan(&d.ID, &status, &d.ExpiryDate); err != nil {
				rows.Close()
				return errors.NewTransientf("failed to scan document for refresh: %w", err)
			}
			d.Status = types.DocumentStatus(status)
			if derived := compliance.DeriveDocumentStatus(d, asOf); derived != d.Status {
				updates[d.ID] = derived
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return errors.NewTransientf("error iterating documents for refresh: %w", err)
		}

		for id, status := range updates {
			if _, err := tx.Exec(ctx, `UPDATE documents SET status = $1 WHERE id = $2`, string(status), id); err != nil {
				return errors.NewTransientf("failed to update document status: %w", err)
			}
		}
		changed = len(updates)
		return nil
	})
	if err != nil {
		return 0, wrapTx(err)
	}
	return changed, nil
}

const pgAlertColumns = `id, organization_id, vendor_id, document_id, document_type, alert_type, message, resolved, resolved_at, created_at`

func scanPgAlert(row pgx.Row) (types.Alert, error) {
	var a types.Alert
	var alertType string
	if err := row.Scan(&a.ID, &a.OrganizationID, &a.VendorID, &a.DocumentID, &a.DocumentType, &alertType, &a.Message, &a.Resolved, &a.ResolvedAt, &a.CreatedAt); err != nil {
		return a, err
	}
	a.AlertType = types.AlertType(alertType)
	a.ResolvedAt = utcPtr(a.ResolvedAt)
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

// ListOpenAlerts returns the unresolved alerts of a vendor in creation order
func (s *PostgresStore) ListOpenAlerts(ctx context.Context, orgID, vendorID string) ([]types.Alert, error) {
	return s.queryAlerts(ctx, `
		SELECT `+pgAlertColumns+` FROM alerts
		WHERE organization_id = $1 AND vendor_id = $2 AND resolved = false
		ORDER BY created_at ASC, seq ASC
	`, orgID, vendorID)
}

// ListAlerts returns alerts matching the filter, newest first
func (s *PostgresStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]types.Alert, error) {
	query := `SELECT ` + pgAlertColumns + ` FROM alerts WHERE organization_id = $1`
	args := []interface{}{filter.OrganizationID}

	if filter.VendorID != "" {
		args = append(args, filter.VendorID)
		query += fmt.Sprintf(" AND vendor_id = $%d", len(args))
	}
	if filter.Resolved != nil {
		args = append(args, *filter.Resolved)
		query += fmt.Sprintf(" AND resolved = $%d", len(args))
	}

	args = append(args, normalizeLimit(filter.Limit))
	query += fmt.Sprintf(" ORDER BY created_at DESC, seq DESC LIMIT $%d", len(args))

	return s.queryAlerts(ctx, query, args...)
}

func (s *PostgresStore) queryAlerts(ctx context.Context, query string, args ...interface{}) ([]types.Alert, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewTransientf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []types.Alert{}
	for rows.Next() {
		a, err := scanPgAlert(rows)
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
func (s *PostgresStore) CommitEvaluation(ctx context.Context, eval *Evaluation) (*CommitResult, error) {
	if eval == nil || eval.OrganizationID == "" {
		return nil, errors.NewValidation("evaluation", "organization is required")
	}
	at := eval.At
	if at.IsZero() {
		at = nowUTC()
	}

	var result *CommitResult
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		result = &CommitResult{Created: []types.Alert{}}

		if eval.Check != nil {
			if err := prepareCheck(eval.Check, eval.OrganizationID, at); err != nil {
				return err
			}
			c := eval.Check
			_, err := tx.Exec(ctx, `
				INSERT INTO compliance_checks (id, organization_id, vendor_id, check_type, status, details, api_call, created_at)
				VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)
			`, c.ID, c.OrganizationID, c.VendorID, string(c.CheckType), string(c.Status), string(c.Details), c.APICall, c.CreatedAt)
			if err != nil {
				return errors.NewTransientf("failed to insert compliance check: %w", err)
			}
		}

		for _, id := range eval.ToResolve {
			tag, err := tx.Exec(ctx, `
				UPDATE alerts SET resolved = true, resolved_at = $1
				WHERE id = $2 AND organization_id = $3 AND resolved = false
			`, at, id, eval.OrganizationID)
			if err != nil {
				return errors.NewTransientf("failed to resolve alert: %w", err)
			}
			result.Resolved += int(tag.RowsAffected())
		}

		for _, alert := range eval.ToCreate {
			prepareAlert(&alert, eval.OrganizationID, at)
			tag, err := tx.Exec(ctx, `
				INSERT INTO alerts (id, organization_id, vendor_id, document_id, document_type, alert_type, message, dedup_key, resolved, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, $9)
				ON CONFLICT DO NOTHING
			`, alert.ID, alert.OrganizationID, alert.VendorID, alert.DocumentID, alert.DocumentType, string(alert.AlertType),
				alert.Message, alert.Key().String(), alert.CreatedAt)
			if err != nil {
				return errors.NewTransientf("failed to insert alert: %w", err)
			}
			if tag.RowsAffected() > 0 {
				result.Created = append(result.Created, alert)
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrapTx(err)
	}
	return result, nil
}

// ListChecks returns a vendor's compliance check history
func (s *PostgresStore) ListChecks(ctx context.Context, orgID, vendorID string, limit int) ([]types.ComplianceCheck, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, organization_id, vendor_id, check_type, status, details, api_call, created_at
		FROM compliance_checks WHERE organization_id = $1 AND vendor_id = $2
		ORDER BY created_at DESC, seq DESC
		LIMIT $3
	`, orgID, vendorID, normalizeLimit(limit))
	if err != nil {
		return nil, errors.NewTransientf("failed to query compliance checks: %w", err)
	}
	defer rows.Close()

	checks := []types.ComplianceCheck{}
	for rows.Next() {
		var c types.ComplianceCheck
		var checkType, status string
		var details []byte
		if err := rows.Scan(&c.ID, &c.OrganizationID, &c.VendorID, &checkType, &status, &details, &c.APICall, &c.CreatedAt); err != nil {
			return nil, errors.NewTransientf("failed to scan compliance check: %w", err)
		}
		c.CheckType = types.CheckType(checkType)
		c.Status = types.CheckStatus(status)
		c.Details = details
		c.CreatedAt = c.CreatedAt.UTC()
		checks = append(checks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewTransientf("error iterating compliance checks: %w", err)
	}
	return checks, nil
}

// ReserveAPICall counts one API call if the plan's monthly quota allows it
func (s *PostgresStore) ReserveAPICall(ctx context.Context, orgID string, plan types.Plan, at time.Time) (bool, error) {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var calls int
		err := tx.QueryRow(ctx, `
			INSERT INTO api_usage (organization_id, period, calls) VALUES ($1, $2, 1)
			ON CONFLICT (organization_id, period) DO UPDATE SET calls = api_usage.calls + 1
			RETURNING calls
		`, orgID, usagePeriod(at)).Scan(&calls)
		if cerr := pgConstraint(err, fmt.Sprintf("api usage of %s", orgID)); cerr != nil {
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
		return false, wrapTx(err)
	}
	return true, nil
}

// ReleaseAPICall gives back one call of the month of at
func (s *PostgresStore) ReleaseAPICall(ctx context.Context, orgID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE api_usage SET calls = calls - 1
		WHERE organization_id = $1 AND period = $2 AND calls > 0
	`, orgID, usagePeriod(at))
	if err != nil {
		return errors.NewTransientf("failed to release api call: %w", err)
	}
	return nil
}

// APICallsUsed returns the calls counted in the month of at
func (s *PostgresStore) APICallsUsed(ctx context.Context, orgID string, at time.Time) (int, error) {
	var calls int
	err := s.pool.QueryRow(ctx, `
		SELECT calls FROM api_usage WHERE organization_id = $1 AND period = $2
	`, orgID, usagePeriod(at)).Scan(&calls)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.NewTransientf("failed to read api usage: %w", err)
	}
	return calls, nil
}

// PruneChecks removes all but the newest keep audit rows of a vendor
func (s *PostgresStore) PruneChecks(ctx context.Context, orgID, vendorID string, keep int) (int, error) {
	if keep <= 0 {
		return 0, errors.NewPermanentf("keep must be positive, got %d", keep)
	}

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM compliance_checks
		WHERE organization_id = $1 AND vendor_id = $2 AND id NOT IN (
			SELECT id FROM compliance_checks
			WHERE organization_id = $1 AND vendor_id = $2
			ORDER BY created_at DESC, seq DESC
			LIMIT $3
		)
	`, orgID, vendorID, keep)
	if err != nil {
		return 0, errors.NewTransientf("failed to delete excess checks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Stats aggregates alert, vendor and document counts across organizations
func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	stats := emptyStats()

	if err := s.groupCount(ctx, `SELECT alert_type, COUNT(*) FROM alerts WHERE resolved = false GROUP BY alert_type`,
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

func (s *PostgresStore) groupCount(ctx context.Context, query string, set func(string, int)) error {
	rows, err := s.pool.Query(ctx, query)
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

// wrapTx classifies begin/commit failures from pgx.BeginFunc, leaving
// errors already classified by the transaction body untouched
func wrapTx(err error) error {
	if err == nil {
		return nil
	}
	if errors.IsTransient(err) || errors.IsPermanent(err) || errors.IsValidation(err) ||
		stderrors.Is(err, errors.ErrNotFound) || stderrors.Is(err, errors.ErrConflict) || stderrors.Is(err, errors.ErrRateLimit) {
		return err
	}
	return errors.NewTransientf("transaction failed: %w", err)
}
