package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/daimoniac/vendorcomply/internal/queue"
	"github.com/daimoniac/vendorcomply/internal/statestore"
	"github.com/daimoniac/vendorcomply/internal/types"
)

// handleComplianceCheck runs a synchronous compliance check for a vendor
// @Summary Check vendor compliance
// @Description Evaluate a vendor's documents now, record the check and reconcile alerts
// @Tags Compliance
// @Produce json
// @Param vendorID path string true "Vendor ID"
// @Success 200 {object} ComplianceCheckResponse
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 404 {object} ErrorResponse "Vendor not found"
// @Failure 429 {object} ErrorResponse "Plan API quota exhausted"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Security ApiKeyAuth
// @Router /compliance/check/{vendorID} [get]
func (s *APIServer) handleComplianceCheck(w http.ResponseWriter, r *http.Request) {
	org := organizationFrom(r.Context())
	vendorID := chi.URLParam(r, "vendorID")

	at := s.now()
	reserved, err := s.store.ReserveAPICall(r.Context(), org.ID, org.Plan, at)
	if err != nil {
		s.respondFailure(w, err, "check API quota")
		return
	}
	if !reserved {
		s.respondError(w, http.StatusTooManyRequests, "API call limit reached for plan "+string(org.Plan))
		return
	}

	report, err := s.checks.Check(r.Context(), org.ID, vendorID, types.CheckTypeAPI)
	if err != nil {
		if rerr := s.store.ReleaseAPICall(context.WithoutCancel(r.Context()), org.ID, at); rerr != nil {
			s.logger.Warn("failed to release api call",
				"organization_id", org.ID,
				"error", rerr.Error())
		}
		s.respondFailure(w, err, "run compliance check")
		return
	}

	s.respondJSON(w, http.StatusOK, toComplianceCheckResponse(report))
}

// handleTriggerCheck queues a background compliance check for a vendor
// @Summary Queue vendor check
// @Description Queue a manual compliance check. A check already pending for the vendor is not duplicated.
// @Tags Compliance
// @Produce json
// @Param vendorID path string true "Vendor ID"
// @Success 202 {object} TriggerCheckResponse
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 403 {object} ErrorResponse "Read-only mode"
// @Failure 404 {object} ErrorResponse "Vendor not found"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Security ApiKeyAuth
// @Router /vendors/{vendorID}/checks [post]
func (s *APIServer) handleTriggerCheck(w http.ResponseWriter, r *http.Request) {
	org := organizationFrom(r.Context())
	vendorID := chi.URLParam(r, "vendorID")

	if _, err := s.store.GetVendor(r.Context(), org.ID, vendorID); err != nil {
		s.respondFailure(w, err, "load vendor")
		return
	}

	task := queue.NewCheckTask(org.ID, vendorID, types.CheckTypeManual)
	queued, err := s.taskQueue.Enqueue(r.Context(), task)
	if err != nil {
		s.respondFailure(w, err, "queue check")
		return
	}

	resp := TriggerCheckResponse{VendorID: vendorID, Queued: queued}
	if queued {
		resp.TaskID = task.ID
		resp.Message = "Check queued"
	} else {
		resp.Message = "A check is already pending for this vendor"
	}

	s.logger.Info("manual check requested",
		"organization_id", org.ID,
		"vendor_id", vendorID,
		"queued", queued)

	s.respondJSON(w, http.StatusAccepted, resp)
}

// handleListChecks returns a vendor's check history
// @Summary List vendor checks
// @Description Audit history of compliance checks for a vendor, newest first
// @Tags Compliance
// @Produce json
// @Param vendorID path string true "Vendor ID"
// @Param limit query int false "Maximum number of results" default(100)
// @Success 200 {array} CheckResponse
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 404 {object} ErrorResponse "Vendor not found"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Security ApiKeyAuth
// @Router /vendors/{vendorID}/checks [get]
func (s *APIServer) handleListChecks(w http.ResponseWriter, r *http.Request) {
	org := organizationFrom(r.Context())
	vendorID := chi.URLParam(r, "vendorID")

	if _, err := s.store.GetVendor(r.Context(), org.ID, vendorID); err != nil {
		s.respondFailure(w, err, "load vendor")
		return
	}

	checks, err := s.store.ListChecks(r.Context(), org.ID, vendorID, parseQueryParamInt(r, "limit", statestore.DefaultListLimit))
	if err != nil {
		s.respondFailure(w, err, "list checks")
		return
	}

	resp := make([]CheckResponse, 0, len(checks))
	for _, c := range checks {
		resp = append(resp, toCheckResponse(c))
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleListAlerts returns the organization's alert trail
// @Summary List alerts
// @Description List alerts with optional vendor and resolution filters, newest first
// @Tags Alerts
// @Produce json
// @Param vendor_id query string false "Filter by vendor"
// @Param resolved query boolean false "Filter by resolution state"
// @Param limit query int false "Maximum number of results" default(100)
// @Success 200 {array} AlertResponse
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Security ApiKeyAuth
// @Router /alerts [get]
func (s *APIServer) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	org := organizationFrom(r.Context())

	filter := statestore.AlertFilter{
		OrganizationID: org.ID,
		VendorID:       parseQueryParam(r, "vendor_id"),
		Resolved:       parseQueryParamBool(r, "resolved"),
		Limit:          parseQueryParamInt(r, "limit", statestore.DefaultListLimit),
	}

	list, err := s.store.ListAlerts(r.Context(), filter)
	if err != nil {
		s.respondFailure(w, err, "list alerts")
		return
	}

	resp := make([]AlertResponse, 0, len(list))
	for _, a := range list {
		resp = append(resp, toAlertResponse(a))
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleSummary returns the organization's current compliance breakdown
// @Summary Compliance summary
// @Description Classify every vendor of the organization as of now without recording checks
// @Tags Compliance
// @Produce json
// @Success 200 {object} SummaryResponse
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Security ApiKeyAuth
// @Router /compliance/summary [get]
func (s *APIServer) handleSummary(w http.ResponseWriter, r *http.Request) {
	org := organizationFrom(r.Context())

	summary, err := s.checks.Summary(r.Context(), org.ID)
	if err != nil {
		s.respondFailure(w, err, "compute summary")
		return
	}

	used, err := s.store.APICallsUsed(r.Context(), org.ID, summary.AsOf)
	if err != nil {
		s.respondFailure(w, err, "read API usage")
		return
	}

	resp := toSummaryResponse(summary)
	resp.APICalls = APIUsageResponse{
		Plan:  string(org.Plan),
		Used:  used,
		Limit: types.PlanLimits(org.Plan).APICalls,
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleHealth reports whether the API can reach its store
// @Summary Health check
// @Description Check API and database health
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.respondJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Error: err.Error()})
		return
	}
	s.respondJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}
