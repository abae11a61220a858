// Package api provides HTTP handlers for the Launchpad API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/launchpadhq/launchpad/internal/core/auth"
	"github.com/launchpadhq/launchpad/internal/core/domain"
	"github.com/launchpadhq/launchpad/internal/core/secrets"
	"github.com/launchpadhq/launchpad/internal/shell/api/middleware"
	"github.com/launchpadhq/launchpad/internal/shell/deploy"
	"github.com/launchpadhq/launchpad/internal/shell/store"
)

// =============================================================================
// Handler
// =============================================================================

// Handler provides HTTP handlers for the API.
type Handler struct {
	deployments *deploy.Service
	store       store.Store
	logger      *slog.Logger
	authConfig  middleware.AuthConfig
}

// NewHandler creates a new API handler.
func NewHandler(svc *deploy.Service, s store.Store, l *slog.Logger, sharedSecret string) *Handler {
	if l == nil {
		l = slog.Default()
	}
	return &Handler{
		deployments: svc,
		store:       s,
		logger:      l,
		authConfig:  middleware.AuthConfig{SharedSecret: sharedSecret, Logger: l},
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)

	// Health endpoints
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(h.authConfig).Handler)
		r.Use(middleware.RequireAuth(h.logger))

		r.Route("/deployments", func(r chi.Router) {
			r.Post("/", h.handleCreateDeployment)
			r.Get("/", h.handleListDeployments)
			r.Get("/{id}", h.handleGetDeployment)
			r.Post("/{id}/retry", h.handleRetryDeployment)
			r.Get("/{id}/logs", h.handleGetDeploymentLogs)
			r.Get("/{id}/events", h.handleListDeploymentEvents)
		})
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := chimiddleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	if _, err := h.store.ListRunningDeployments(r.Context(), 1); err != nil {
		checks["database"] = "failed"
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status: "not_ready",
			Checks: checks,
		})
		return
	}
	checks["database"] = "ok"

	h.writeJSON(w, http.StatusOK, ReadyResponse{
		Status: "ready",
		Checks: checks,
	})
}

// =============================================================================
// Deployment Handlers
// =============================================================================

func (h *Handler) handleCreateDeployment(w http.ResponseWriter, r *http.Request) {
	var req CreateDeploymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}
	if req.ProjectID == "" {
		h.writeError(w, http.StatusBadRequest, "project_id is required", "validation_error")
		return
	}

	ac := auth.FromContext(r.Context())
	deployment, err := h.deployments.CreateDeployment(r.Context(), deploy.CreateDeploymentRequest{
		ProjectID:   req.ProjectID,
		UserID:      ac.UserID,
		Environment: req.Environment,
		Branch:      req.Branch,
		Variables:   req.Variables,
	})
	if err != nil && deployment == nil {
		h.writeServiceError(w, err)
		return
	}

	// The deployment record exists even when dispatch spent every attempt;
	// the body carries the failed status and its error message.
	h.writeJSON(w, http.StatusCreated, deploymentToResponse(deployment))
}

func (h *Handler) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	ac := auth.FromContext(r.Context())

	deployment, err := h.deployments.GetDeployment(r.Context(), chi.URLParam(r, "id"), ac.UserID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, deploymentToResponse(deployment))
}

func (h *Handler) handleRetryDeployment(w http.ResponseWriter, r *http.Request) {
	ac := auth.FromContext(r.Context())

	deployment, err := h.deployments.RetryDeployment(r.Context(), chi.URLParam(r, "id"), ac.UserID)
	if err != nil && deployment == nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, deploymentToResponse(deployment))
}

func (h *Handler) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	ac := auth.FromContext(r.Context())
	q := r.URL.Query()

	filter := store.DeploymentFilter{
		ProjectID: q.Get("project_id"),
		Branch:    q.Get("branch"),
	}
	if env := q.Get("environment"); env != "" {
		parsed, err := domain.ParseEnvironment(env)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid environment", "validation_error")
			return
		}
		filter.Environment = parsed
	}
	if status := q.Get("status"); status != "" {
		filter.Status = domain.DeploymentStatus(status)
	}

	opts := store.ListOptions{}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = n
		}
	}
	if v := q.Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 1 {
			opts.Offset = (n - 1) * opts.Normalize().Limit
		}
	} else if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Offset = n
		}
	}

	deployments, err := h.deployments.ListDeployments(r.Context(), ac.UserID, filter, opts)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := DeploymentListResponse{
		Deployments: make([]DeploymentResponse, 0, len(deployments)),
		Count:       len(deployments),
	}
	for i := range deployments {
		resp.Deployments = append(resp.Deployments, deploymentToResponse(&deployments[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetDeploymentLogs(w http.ResponseWriter, r *http.Request) {
	ac := auth.FromContext(r.Context())
	id := chi.URLParam(r, "id")

	logs, err := h.deployments.GetDeploymentLogs(r.Context(), id, ac.UserID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, LogsResponse{DeploymentID: id, Logs: logs})
}

func (h *Handler) handleListDeploymentEvents(w http.ResponseWriter, r *http.Request) {
	ac := auth.FromContext(r.Context())

	events, err := h.deployments.ListEvents(r.Context(), chi.URLParam(r, "id"), ac.UserID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := EventListResponse{
		Events: make([]EventResponse, 0, len(events)),
		Count:  len(events),
	}
	for _, e := range events {
		resp.Events = append(resp.Events, EventResponse{
			ID:        e.ID,
			Type:      string(e.Type),
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Response Helpers
// =============================================================================

func deploymentToResponse(d *domain.Deployment) DeploymentResponse {
	resp := DeploymentResponse{
		ID:              d.ID,
		ProjectID:       d.ProjectID,
		ConfigurationID: d.ConfigurationID,
		Environment:     string(d.Environment),
		Branch:          d.Branch,
		Status:          string(d.Status),
		WorkflowRunID:   d.WorkflowRunID,
		DeploymentURL:   d.DeploymentURL,
		ErrorMessage:    d.ErrorMessage,
		RetryCount:      d.RetryCount,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		CompletedAt:     d.CompletedAt,
	}
	if d.SelectedAccount != nil {
		resp.SelectedAccount = &AccountResponse{
			Login:        d.SelectedAccount.Login,
			Repository:   d.SelectedAccount.Repository,
			WorkflowFile: d.SelectedAccount.WorkflowFile,
		}
	}
	return resp
}

// writeServiceError maps service errors to HTTP responses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, deploy.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not found", "not_found")
	case errors.Is(err, deploy.ErrPermissionDenied):
		h.writeError(w, http.StatusForbidden, "permission denied", "permission_denied")
	case errors.Is(err, deploy.ErrInvalidState):
		h.writeError(w, http.StatusConflict, "deployment is not in a retryable state", "invalid_state")
	case errors.Is(err, deploy.ErrNoRunReference):
		h.writeError(w, http.StatusConflict, "deployment has no workflow run", "no_run_reference")
	case errors.Is(err, domain.ErrInvalidEnvironment),
		errors.Is(err, domain.ErrBranchRequired),
		errors.Is(err, domain.ErrMissingVariable):
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
	case errors.Is(err, secrets.ErrIntegrity):
		h.writeError(w, http.StatusConflict, "credential integrity check failed", "credential_integrity")
	default:
		h.logger.Error("request failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal error", "internal_error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
