package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	verrors "github.com/daimoniac/vendorcomply/internal/errors"
	"github.com/daimoniac/vendorcomply/internal/types"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func days(n int) time.Time {
	return baseTime.AddDate(0, 0, n)
}

func intPtr(n int) *int { return &n }

// fixture creates an organization with one vendor
type fixture struct {
	org    *types.Organization
	vendor *types.Vendor
}

func newFixture(t *testing.T, store StateStore) fixture {
	t.Helper()
	ctx := context.Background()

	org := &types.Organization{Name: "Org " + uuid.NewString()[:8], APIKey: "key-" + uuid.NewString(), Plan: types.PlanProfessional}
	if err := store.CreateOrganization(ctx, org); err != nil {
		t.Fatalf("Failed to create organization: %v", err)
	}

	vendor := &types.Vendor{OrganizationID: org.ID, Name: "Acme Supplies", RiskScore: 30}
	if err := store.CreateVendor(ctx, vendor); err != nil {
		t.Fatalf("Failed to create vendor: %v", err)
	}
	return fixture{org: org, vendor: vendor}
}

// runStoreSuite exercises the StateStore contract against a backend
func runStoreSuite(t *testing.T, newStore func(t *testing.T) StateStore) {
	ctx := context.Background()

	t.Run("Organizations", func(t *testing.T) {
		store := newStore(t)
		f := newFixture(t, store)

		got, err := store.GetOrganizationByAPIKey(ctx, f.org.APIKey)
		if err != nil {
			t.Fatalf("Failed to look up organization: %v", err)
		}
		if got.ID != f.org.ID || got.Plan != types.PlanProfessional {
			t.Errorf("Unexpected organization %+v", got)
		}
		if got.Slug == "" {
			t.Error("Expected slug to be derived from the name")
		}

		if _, err := store.GetOrganizationByAPIKey(ctx, "unknown"); !errors.Is(err, verrors.ErrNotFound) {
			t.Errorf("Expected ErrNotFound for unknown key, got %v", err)
		}

		dup := &types.Organization{Name: "Other", APIKey: f.org.APIKey}
		if err := store.CreateOrganization(ctx, dup); !errors.Is(err, verrors.ErrConflict) {
			t.Errorf("Expected ErrConflict for duplicate api key, got %v", err)
		}
	})

	t.Run("Vendors", func(t *testing.T) {
		store := newStore(t)
		f := newFixture(t, store)
		other := newFixture(t, store)

		got, err := store.GetVendor(ctx, f.org.ID, f.vendor.ID)
		if err != nil {
			t.Fatalf("Failed to get vendor: %v", err)
		}
		if got.Name != "Acme Supplies" || got.ComplianceStatus != types.VendorPending || got.RiskScore != 30 {
			t.Errorf("Unexpected vendor %+v", got)
		}

		// Vendors are scoped by organization
		if _, err := store.GetVendor(ctx, other.org.ID, f.vendor.ID); !errors.Is(err, verrors.ErrNotFound) {
			t.Errorf("Expected ErrNotFound across organizations, got %v", err)
		}

		second := &types.Vendor{OrganizationID: f.org.ID, Name: "Beta Logistics"}
		if err := store.CreateVendor(ctx, second); err != nil {
			t.Fatalf("Failed to create vendor: %v", err)
		}
		vendors, err := store.ListVendors(ctx, f.org.ID)
		if err != nil {
			t.Fatalf("Failed to list vendors: %v", err)
		}
		if len(vendors) != 2 || vendors[0].Name != "Acme Supplies" || vendors[1].Name != "Beta Logistics" {
			t.Errorf("Unexpected vendors %+v", vendors)
		}

		orphan := &types.Vendor{OrganizationID: uuid.NewString(), Name: "Orphan"}
		if err := store.CreateVendor(ctx, orphan); !errors.Is(err, verrors.ErrNotFound) {
			t.Errorf("Expected ErrNotFound for unknown organization, got %v", err)
		}

		if err := store.CreateVendor(ctx, &types.Vendor{OrganizationID: f.org.ID, Name: "  "}); !verrors.IsValidation(err) {
			t.Errorf("Expected validation error for blank name, got %v", err)
		}
	})

	t.Run("DocumentTypes", func(t *testing.T) {
		store := newStore(t)
		f := newFixture(t, store)

		insurance := &types.RequiredDocumentType{OrganizationID: f.org.ID, Name: "Insurance", Required: true, DefaultExpiryDays: intPtr(365)}
		if err := store.CreateDocumentType(ctx, insurance); err != nil {
			t.Fatalf("Failed to create document type: %v", err)
		}
		w9 := &types.RequiredDocumentType{OrganizationID: f.org.ID, Name: "W-9", Required: false}
		if err := store.CreateDocumentType(ctx, w9); err != nil {
			t.Fatalf("Failed to create document type: %v", err)
		}

		dup := &types.RequiredDocumentType{OrganizationID: f.org.ID, Name: "Insurance"}
		if err := store.CreateDocumentType(ctx, dup); !errors.Is(err, verrors.ErrConflict) {
			t.Errorf("Expected ErrConflict for duplicate name, got %v", err)
		}

		negative := &types.RequiredDocumentType{OrganizationID: f.org.ID, Name: "License", DefaultExpiryDays: intPtr(-1)}
		if err := store.CreateDocumentType(ctx, negative); !errors.Is(err, verrors.ErrInvalidInput) {
			t.Errorf("Expected ErrInvalidInput for negative default expiry, got %v", err)
		}

		list, err := store.ListDocumentTypes(ctx, f.org.ID)
		if err != nil {
			t.Fatalf("Failed to list document types: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("Expected 2 document types, got %d", len(list))
		}
		if list[0].Name != "Insurance" || list[0].DefaultExpiryDays == nil || *list[0].DefaultExpiryDays != 365 || !list[0].Required {
			t.Errorf("Unexpected first document type %+v", list[0])
		}
		if list[1].DefaultExpiryDays != nil || list[1].Required {
			t.Errorf("Unexpected second document type %+v", list[1])
		}
	})

	t.Run("Documents", func(t *testing.T) {
		store := newStore(t)
		f := newFixture(t, store)

		if err := store.CreateDocumentType(ctx, &types.RequiredDocumentType{
			OrganizationID: f.org.ID, Name: "Insurance", Required: true, DefaultExpiryDays: intPtr(365),
		}); err != nil {
			t.Fatalf("Failed to create document type: %v", err)
		}

		explicit := days(10)
		docs := []*types.Document{
			{OrganizationID: f.org.ID, VendorID: f.vendor.ID, Name: "COI 2026", DocumentType: "Insurance", CreatedAt: baseTime},
			{OrganizationID: f.org.ID, VendorID: f.vendor.ID, Name: "Soon", DocumentType: "License", ExpiryDate: &explicit, CreatedAt: baseTime.Add(time.Second)},
			{OrganizationID: f.org.ID, VendorID: f.vendor.ID, Name: "Policy", DocumentType: "Handbook", CreatedAt: baseTime.Add(2 * time.Second)},
		}
		for _, d := range docs {
			if err := store.CreateDocument(ctx, d); err != nil {
				t.Fatalf("Failed to create document %q: %v", d.Name, err)
			}
		}

		if docs[0].ExpiryDate == nil || !docs[0].ExpiryDate.Equal(days(365)) {
			t.Errorf("Expected default expiry one year after upload, got %v", docs[0].ExpiryDate)
		}
		if docs[0].Status != types.DocumentActive {
			t.Errorf("Expected derived status active, got %s", docs[0].Status)
		}
		if docs[1].Status != types.DocumentExpiringSoon {
			t.Errorf("Expected derived status expiring_soon, got %s", docs[1].Status)
		}
		if docs[2].ExpiryDate != nil {
			t.Errorf("Expected no expiry for untyped document, got %v", docs[2].ExpiryDate)
		}

		list, err := store.ListDocuments(ctx, f.org.ID, f.vendor.ID)
		if err != nil {
			t.Fatalf("Failed to list documents: %v", err)
		}
		if len(list) != 3 {
			t.Fatalf("Expected 3 documents, got %d", len(list))
		}
		for i, name := range []string{"COI 2026", "Soon", "Policy"} {
			if list[i].Name != name {
				t.Errorf("Document %d: expected %q, got %q", i, name, list[i].Name)
			}
		}
		if list[1].ExpiryDate == nil || !list[1].ExpiryDate.Equal(explicit) {
			t.Errorf("Expiry date not round-tripped: %v", list[1].ExpiryDate)
		}

		bad := &types.Document{OrganizationID: f.org.ID, VendorID: f.vendor.ID, Name: "X", DocumentType: "Insurance", Status: "lost"}
		if err := store.CreateDocument(ctx, bad); !verrors.IsValidation(err) {
			t.Errorf("Expected validation error for unknown status, got %v", err)
		}

		dangling := &types.Document{OrganizationID: f.org.ID, VendorID: uuid.NewString(), Name: "X", DocumentType: "Insurance"}
		if err := store.CreateDocument(ctx, dangling); !errors.Is(err, verrors.ErrNotFound) {
			t.Errorf("Expected ErrNotFound for unknown vendor, got %v", err)
		}
	})

	t.Run("RefreshDocumentStatuses", func(t *testing.T) {
		store := newStore(t)
		f := newFixture(t, store)

		expired := days(-1)
		expiring := days(20)
		later := days(90)
		docs := []*types.Document{
			{Name: "Old", DocumentType: "Insurance", Status: types.DocumentActive, ExpiryDate: &expired},
			{Name: "Soon", DocumentType: "License", Status: types.DocumentActive, ExpiryDate: &expiring},
			{Name: "Fine", DocumentType: "W-9", Status: types.DocumentActive, ExpiryDate: &later},
			{Name: "Shelved", DocumentType: "Insurance", Status: types.DocumentArchived, ExpiryDate: &expired},
			{Name: "Stale", DocumentType: "NDA", Status: types.DocumentExpired},
		}
		for i, d := range docs {
			d.OrganizationID = f.org.ID
			d.VendorID = f.vendor.ID
			d.CreatedAt = days(-400).Add(time.Duration(i) * time.Second)
			if err := store.CreateDocument(ctx, d); err != nil {
				t.Fatalf("Failed to create document: %v", err)
			}
		}

		changed, err := store.RefreshDocumentStatuses(ctx, baseTime)
		if err != nil {
			t.Fatalf("Failed to refresh statuses: %v", err)
		}
		if changed < 3 {
			t.Errorf("Expected at least 3 changed documents, got %d", changed)
		}

		list, err := store.ListDocuments(ctx, f.org.ID, f.vendor.ID)
		if err != nil {
			t.Fatalf("Failed to list documents: %v", err)
		}
		want := map[string]types.DocumentStatus{
			"Old":     types.DocumentExpired,
			"Soon":    types.DocumentExpiringSoon,
			"Fine":    types.DocumentActive,
			"Shelved": types.DocumentArchived,
			"Stale":   types.DocumentActive,
		}
		for _, d := range list {
			if d.Status != want[d.Name] {
				t.Errorf("Document %q: expected %s, got %s", d.Name, want[d.Name], d.Status)
			}
		}
	})

	t.Run("CommitEvaluation", func(t *testing.T) {
		store := newStore(t)
		f := newFixture(t, store)
		docID := uuid.NewString()

		eval := &Evaluation{
			OrganizationID: f.org.ID,
			At:             baseTime,
			Check: &types.ComplianceCheck{
				VendorID:  f.vendor.ID,
				CheckType: types.CheckTypeManual,
				Status:    types.CheckFailed,
				Details:   json.RawMessage(`{"score":80}`),
			},
			ToCreate: []types.Alert{
				{VendorID: f.vendor.ID, AlertType: types.AlertMissingDocument, DocumentType: "Insurance", Message: "required document \"Insurance\" is missing"},
				{VendorID: f.vendor.ID, AlertType: types.AlertMissingDocument, DocumentType: "W-9", Message: "required document \"W-9\" is missing"},
				{VendorID: f.vendor.ID, AlertType: types.AlertExpired, DocumentID: &docID, DocumentType: "License", Message: "License expired"},
			},
		}

		result, err := store.CommitEvaluation(ctx, eval)
		if err != nil {
			t.Fatalf("Failed to commit evaluation: %v", err)
		}
		if len(result.Created) != 3 || result.Resolved != 0 {
			t.Fatalf("Unexpected commit result: created=%d resolved=%d", len(result.Created), result.Resolved)
		}
		if eval.Check.ID == "" {
			t.Error("Expected check id to be assigned")
		}

		// A concurrent duplicate plan must not double-create
		dup := &Evaluation{OrganizationID: f.org.ID, At: baseTime.Add(time.Minute), ToCreate: eval.ToCreate[:1]}
		result, err = store.CommitEvaluation(ctx, dup)
		if err != nil {
			t.Fatalf("Failed to commit duplicate plan: %v", err)
		}
		if len(result.Created) != 0 {
			t.Errorf("Expected duplicate alert to be skipped, created %d", len(result.Created))
		}

		open, err := store.ListOpenAlerts(ctx, f.org.ID, f.vendor.ID)
		if err != nil {
			t.Fatalf("Failed to list open alerts: %v", err)
		}
		if len(open) != 3 {
			t.Fatalf("Expected 3 open alerts, got %d", len(open))
		}
		var expiredAlert types.Alert
		for _, a := range open {
			if a.AlertType == types.AlertExpired {
				expiredAlert = a
			}
		}
		if expiredAlert.DocumentID == nil || *expiredAlert.DocumentID != docID {
			t.Errorf("Expected expired alert to reference document %s, got %+v", docID, expiredAlert)
		}

		// Resolving frees the key for a later recurrence
		resolve := &Evaluation{OrganizationID: f.org.ID, At: baseTime.Add(time.Hour), ToResolve: []string{expiredAlert.ID, expiredAlert.ID}}
		result, err = store.CommitEvaluation(ctx, resolve)
		if err != nil {
			t.Fatalf("Failed to resolve alerts: %v", err)
		}
		if result.Resolved != 1 {
			t.Errorf("Expected one resolved alert, got %d", result.Resolved)
		}

		recur := &Evaluation{OrganizationID: f.org.ID, At: baseTime.Add(2 * time.Hour), ToCreate: []types.Alert{eval.ToCreate[2]}}
		result, err = store.CommitEvaluation(ctx, recur)
		if err != nil {
			t.Fatalf("Failed to commit recurrence: %v", err)
		}
		if len(result.Created) != 1 {
			t.Errorf("Expected recurrence to create a new alert, created %d", len(result.Created))
		}

		resolved := true
		history, err := store.ListAlerts(ctx, AlertFilter{OrganizationID: f.org.ID, VendorID: f.vendor.ID, Resolved: &resolved})
		if err != nil {
			t.Fatalf("Failed to list resolved alerts: %v", err)
		}
		if len(history) != 1 || history[0].ResolvedAt == nil || !history[0].ResolvedAt.Equal(baseTime.Add(time.Hour)) {
			t.Errorf("Unexpected resolved alert history %+v", history)
		}

		all, err := store.ListAlerts(ctx, AlertFilter{OrganizationID: f.org.ID})
		if err != nil {
			t.Fatalf("Failed to list alerts: %v", err)
		}
		if len(all) != 4 {
			t.Errorf("Expected 4 alerts in trail, got %d", len(all))
		}

		if _, err := store.CommitEvaluation(ctx, &Evaluation{}); !verrors.IsValidation(err) {
			t.Errorf("Expected validation error without organization, got %v", err)
		}
	})

	t.Run("ChecksHistory", func(t *testing.T) {
		store := newStore(t)
		f := newFixture(t, store)

		for i := 0; i < 5; i++ {
			eval := &Evaluation{
				OrganizationID: f.org.ID,
				At:             baseTime.Add(time.Duration(i) * time.Minute),
				Check: &types.ComplianceCheck{
					VendorID:  f.vendor.ID,
					CheckType: types.CheckTypeAPI,
					Status:    types.CheckPassed,
					APICall:   i%2 == 0,
				},
			}
			if _, err := store.CommitEvaluation(ctx, eval); err != nil {
				t.Fatalf("Failed to commit check %d: %v", i, err)
			}
		}

		checks, err := store.ListChecks(ctx, f.org.ID, f.vendor.ID, 2)
		if err != nil {
			t.Fatalf("Failed to list checks: %v", err)
		}
		if len(checks) != 2 || !checks[0].CreatedAt.Equal(baseTime.Add(4*time.Minute)) {
			t.Errorf("Expected newest two checks, got %+v", checks)
		}
		if string(checks[0].Details) == "" {
			t.Error("Expected default details blob")
		}

		removed, err := store.PruneChecks(ctx, f.org.ID, f.vendor.ID, 3)
		if err != nil {
			t.Fatalf("Failed to prune checks: %v", err)
		}
		if removed != 2 {
			t.Errorf("Expected 2 pruned checks, got %d", removed)
		}
		checks, err = store.ListChecks(ctx, f.org.ID, f.vendor.ID, 0)
		if err != nil {
			t.Fatalf("Failed to list checks: %v", err)
		}
		if len(checks) != 3 || !checks[2].CreatedAt.Equal(baseTime.Add(2*time.Minute)) {
			t.Errorf("Expected the newest three checks to survive, got %d", len(checks))
		}

		if _, err := store.PruneChecks(ctx, f.org.ID, f.vendor.ID, 0); !verrors.IsPermanent(err) {
			t.Errorf("Expected permanent error for keep=0, got %v", err)
		}
	})

	t.Run("APIUsage", func(t *testing.T) {
		store := newStore(t)
		f := newFixture(t, store)
		org := &types.Organization{Name: "Foundation " + uuid.NewString()[:8], APIKey: "key-" + uuid.NewString(), Plan: types.PlanFoundation}
		if err := store.CreateOrganization(ctx, org); err != nil {
			t.Fatalf("Failed to create organization: %v", err)
		}

		for i := 0; i < 100; i++ {
			ok, err := store.ReserveAPICall(ctx, org.ID, org.Plan, baseTime)
			if err != nil || !ok {
				t.Fatalf("Reservation %d refused: ok=%v err=%v", i, ok, err)
			}
		}
		ok, err := store.ReserveAPICall(ctx, org.ID, org.Plan, baseTime)
		if err != nil || ok {
			t.Errorf("Expected the 101st call to be refused, got ok=%v err=%v", ok, err)
		}
		if used, _ := store.APICallsUsed(ctx, org.ID, baseTime); used != 100 {
			t.Errorf("Expected refused call not to be counted, got %d", used)
		}

		// A new calendar month starts from zero
		if ok, err := store.ReserveAPICall(ctx, org.ID, org.Plan, baseTime.AddDate(0, 1, 0)); err != nil || !ok {
			t.Errorf("Expected a call next month to be allowed, got ok=%v err=%v", ok, err)
		}

		if err := store.ReleaseAPICall(ctx, org.ID, baseTime); err != nil {
			t.Fatalf("Failed to release api call: %v", err)
		}
		if ok, _ := store.ReserveAPICall(ctx, org.ID, org.Plan, baseTime); !ok {
			t.Error("Expected the released call to be reservable again")
		}

		free := &types.Organization{Name: "Free " + uuid.NewString()[:8], APIKey: "key-" + uuid.NewString(), Plan: types.PlanFree}
		if err := store.CreateOrganization(ctx, free); err != nil {
			t.Fatalf("Failed to create organization: %v", err)
		}
		if ok, err := store.ReserveAPICall(ctx, free.ID, free.Plan, baseTime); err != nil || ok {
			t.Errorf("Expected free plan to be refused, got ok=%v err=%v", ok, err)
		}
		if used, _ := store.APICallsUsed(ctx, free.ID, baseTime); used != 0 {
			t.Errorf("Expected no usage for free plan, got %d", used)
		}

		if ok, _ := store.ReserveAPICall(ctx, f.org.ID, f.org.Plan, baseTime); !ok {
			t.Error("Expected professional plan call to be allowed")
		}
		if _, err := store.ReserveAPICall(ctx, uuid.NewString(), types.PlanEnterprise, baseTime); !errors.Is(err, verrors.ErrNotFound) {
			t.Errorf("Expected ErrNotFound for unknown organization, got %v", err)
		}
	})

	t.Run("APIUsageSurvivesPruning", func(t *testing.T) {
		store := newStore(t)
		f := newFixture(t, store)

		commit := func(i int, apiCall bool) {
			checkType := types.CheckTypeScheduled
			if apiCall {
				checkType = types.CheckTypeAPI
			}
			eval := &Evaluation{
				OrganizationID: f.org.ID,
				At:             baseTime.Add(time.Duration(i) * time.Minute),
				Check:          &types.ComplianceCheck{VendorID: f.vendor.ID, CheckType: checkType, Status: types.CheckPassed, APICall: apiCall},
			}
			if _, err := store.CommitEvaluation(ctx, eval); err != nil {
				t.Fatalf("Failed to commit check %d: %v", i, err)
			}
		}

		for i := 0; i < 10; i++ {
			if ok, err := store.ReserveAPICall(ctx, f.org.ID, f.org.Plan, baseTime); err != nil || !ok {
				t.Fatalf("Reservation %d refused: ok=%v err=%v", i, ok, err)
			}
			commit(i, true)
		}
		commit(10, false)
		commit(11, false)

		if _, err := store.PruneChecks(ctx, f.org.ID, f.vendor.ID, 2); err != nil {
			t.Fatalf("Failed to prune checks: %v", err)
		}
		checks, _ := store.ListChecks(ctx, f.org.ID, f.vendor.ID, 0)
		if len(checks) != 2 {
			t.Fatalf("Expected 2 checks after pruning, got %d", len(checks))
		}

		used, err := store.APICallsUsed(ctx, f.org.ID, baseTime)
		if err != nil {
			t.Fatalf("Failed to read api usage: %v", err)
		}
		if used != 10 {
			t.Errorf("Expected 10 api calls after pruning, got %d", used)
		}
	})

	t.Run("ConcurrentAPIReservations", func(t *testing.T) {
		store := newStore(t)
		org := &types.Organization{Name: "Foundation " + uuid.NewString()[:8], APIKey: "key-" + uuid.NewString(), Plan: types.PlanFoundation}
		if err := store.CreateOrganization(ctx, org); err != nil {
			t.Fatalf("Failed to create organization: %v", err)
		}

		var wg sync.WaitGroup
		var granted atomic.Int32
		for i := 0; i < 130; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := store.ReserveAPICall(ctx, org.ID, org.Plan, baseTime)
				if err != nil {
					t.Errorf("Reservation failed: %v", err)
					return
				}
				if ok {
					granted.Add(1)
				}
			}()
		}
		wg.Wait()

		if granted.Load() != 100 {
			t.Errorf("Expected exactly 100 granted calls, got %d", granted.Load())
		}
		if used, _ := store.APICallsUsed(ctx, org.ID, baseTime); used != 100 {
			t.Errorf("Expected usage 100, got %d", used)
		}
	})

	t.Run("VendorPlanLimit", func(t *testing.T) {
		store := newStore(t)
		org := &types.Organization{Name: "Free " + uuid.NewString()[:8], APIKey: "key-" + uuid.NewString(), Plan: types.PlanFree}
		if err := store.CreateOrganization(ctx, org); err != nil {
			t.Fatalf("Failed to create organization: %v", err)
		}

		for _, name := range []string{"One", "Two", "Three"} {
			if err := store.CreateVendor(ctx, &types.Vendor{OrganizationID: org.ID, Name: name}); err != nil {
				t.Fatalf("Failed to create vendor %s: %v", name, err)
			}
		}
		err := store.CreateVendor(ctx, &types.Vendor{OrganizationID: org.ID, Name: "Four"})
		if !errors.Is(err, verrors.ErrRateLimit) || verrors.IsTransient(err) {
			t.Errorf("Expected non-transient ErrRateLimit for a fourth vendor, got %v", err)
		}

		vendors, _ := store.ListVendors(ctx, org.ID)
		if len(vendors) != 3 {
			t.Errorf("Expected the refused vendor not to be stored, got %d vendors", len(vendors))
		}
	})

	t.Run("Ping", func(t *testing.T) {
		store := newStore(t)
		if err := store.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}
