package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/daimoniac/vendorcomply/internal/api/docs" // Register swagger spec
	"github.com/daimoniac/vendorcomply/internal/checker"
	"github.com/daimoniac/vendorcomply/internal/config"
	verrors "github.com/daimoniac/vendorcomply/internal/errors"
	"github.com/daimoniac/vendorcomply/internal/observability"
	"github.com/daimoniac/vendorcomply/internal/queue"
	"github.com/daimoniac/vendorcomply/internal/statestore"
	"github.com/daimoniac/vendorcomply/internal/types"
)

// @title vendorcomply API
// @version 1.0
// @description REST API for vendor document compliance checks, audit history and alerts.
// @description
// @description ## Features
// @description - Run a compliance check for a vendor
// @description - Queue background re-checks
// @description - Browse check history and the alert trail
// @description - Organization compliance summary

// @contact.name vendorcomply
// @license.name Apache 2.0
// @license.url https://www.apache.org/licenses/LICENSE-2.0.html

// @BasePath /api/v1

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
// @description Organization API key. "Authorization: Bearer <key>" is accepted as well.

// Store is the subset of the state store the API uses
type Store interface {
	GetOrganizationByAPIKey(ctx context.Context, apiKey string) (*types.Organization, error)
	GetVendor(ctx context.Context, orgID, vendorID string) (*types.Vendor, error)
	ListChecks(ctx context.Context, orgID, vendorID string, limit int) ([]types.ComplianceCheck, error)
	ListAlerts(ctx context.Context, filter statestore.AlertFilter) ([]types.Alert, error)
	ReserveAPICall(ctx context.Context, orgID string, plan types.Plan, at time.Time) (bool, error)
	ReleaseAPICall(ctx context.Context, orgID string, at time.Time) error
	APICallsUsed(ctx context.Context, orgID string, at time.Time) (int, error)
	Ping(ctx context.Context) error
}

// CheckService runs and summarizes compliance checks
type CheckService interface {
	checker.Checker
	Summary(ctx context.Context, orgID string) (*checker.Summary, error)
}

// APIServer provides the HTTP API for compliance checks and audit data
type APIServer struct {
	config    *config.APIConfig
	store     Store
	checks    CheckService
	taskQueue queue.TaskQueue
	router    chi.Router
	server    *http.Server
	now       func() time.Time
	logger    *slog.Logger
}

// NewAPIServer creates a new API server instance
func NewAPIServer(cfg *config.APIConfig, store Store, checks CheckService, taskQueue queue.TaskQueue, logger *slog.Logger) *APIServer {
	if logger == nil {
		logger = slog.Default()
	}

	api := &APIServer{
		config:    cfg,
		store:     store,
		checks:    checks,
		taskQueue: taskQueue,
		now:       time.Now,
		logger:    logger,
	}

	api.router = api.routes()

	api.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return api
}

// Handler exposes the router for embedding and tests
func (s *APIServer) Handler() http.Handler {
	return s.router
}

// routes configures all API routes
func (s *APIServer) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.corsMiddleware)
	r.Use(s.metricsMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/compliance/check/{vendorID}", s.handleComplianceCheck)
		r.Get("/compliance/summary", s.handleSummary)
		r.Get("/vendors/{vendorID}/checks", s.handleListChecks)
		r.Get("/alerts", s.handleListAlerts)

		r.With(s.writeMiddleware).Post("/vendors/{vendorID}/checks", s.handleTriggerCheck)
	})

	r.Get("/health", s.handleHealth)
	r.Get("/swagger/*", httpSwagger.WrapHandler)
	r.Get("/", s.handleRootRedirect)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return r
}

// corsMiddleware adds CORS headers to allow cross-origin requests
func (s *APIServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// metricsMiddleware counts requests by chi route pattern and status code
func (s *APIServer) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		observability.GetMetrics().APIRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

type orgContextKey struct{}

// organizationFrom returns the organization resolved by authMiddleware
func organizationFrom(ctx context.Context) *types.Organization {
	org, _ := ctx.Value(orgContextKey{}).(*types.Organization)
	return org
}

// apiKeyFrom extracts the key from X-API-Key or Authorization, with or without "Bearer "
func apiKeyFrom(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

// authMiddleware resolves the calling organization from its API key
func (s *APIServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := apiKeyFrom(r)
		if key == "" {
			s.respondError(w, http.StatusUnauthorized, "API key required")
			return
		}

		org, err := s.store.GetOrganizationByAPIKey(r.Context(), key)
		if err != nil {
			if errors.Is(err, verrors.ErrNotFound) {
				s.respondError(w, http.StatusUnauthorized, "Invalid API key")
				return
			}
			s.logger.Error("api key lookup failed", "error", err.Error())
			s.respondError(w, http.StatusInternalServerError, "Failed to authenticate")
			return
		}

		ctx := context.WithValue(r.Context(), orgContextKey{}, org)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// writeMiddleware blocks mutating endpoints in read-only mode
func (s *APIServer) writeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.ReadOnly {
			s.respondError(w, http.StatusForbidden, "API is in read-only mode")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start starts the API server and blocks until ctx is cancelled
func (s *APIServer) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("API server is disabled")
		return nil
	}

	s.logger.Info("starting API server",
		"port", s.config.Port,
		"read_only", s.config.ReadOnly)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error",
				"error", err.Error())
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info("shutting down API server")
	return s.server.Shutdown(shutdownCtx)
}

// Shutdown gracefully shuts down the API server
func (s *APIServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// respondJSON sends a JSON response
func (s *APIServer) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("error encoding JSON response",
			"error", err.Error())
	}
}

// respondError sends an error response
func (s *APIServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}

// respondFailure maps a service error to a status code
func (s *APIServer) respondFailure(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, verrors.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "Vendor not found")
	case errors.Is(err, verrors.ErrInvalidInput):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, verrors.ErrRateLimit):
		s.respondError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, verrors.ErrTimeout):
		s.respondError(w, http.StatusGatewayTimeout, fmt.Sprintf("Timed out: %s", action))
	default:
		s.logger.Error("request failed",
			"action", action,
			"error", err.Error())
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to %s", action))
	}
}

// parseQueryParam extracts a query parameter from the request
func parseQueryParam(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// parseQueryParamInt extracts an integer query parameter
func parseQueryParamInt(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

// parseQueryParamBool extracts a boolean query parameter
func parseQueryParamBool(r *http.Request, key string) *bool {
	value := r.URL.Query().Get(key)
	if value == "" {
		return nil
	}
	boolValue := value == "true" || value == "1" || value == "yes"
	return &boolValue
}

// handleRootRedirect redirects / to the swagger UI
func (s *APIServer) handleRootRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/swagger/index.html", http.StatusMovedPermanently)
}
