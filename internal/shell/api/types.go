package api

import "time"

// =============================================================================
// Request Types
// =============================================================================

// CreateDeploymentRequest is the request body for starting a deployment.
type CreateDeploymentRequest struct {
	ProjectID   string            `json:"project_id"`
	Environment string            `json:"environment"`
	Branch      string            `json:"branch"`
	Variables   map[string]string `json:"variables,omitempty"`
}

// =============================================================================
// Response Types
// =============================================================================

// AccountResponse is the account snapshot echoed on a deployment. The
// credential itself is never included.
type AccountResponse struct {
	Login        string `json:"login"`
	Repository   string `json:"repository"`
	WorkflowFile string `json:"workflow_file"`
}

// DeploymentResponse is the response for deployment operations.
type DeploymentResponse struct {
	ID              string           `json:"id"`
	ProjectID       string           `json:"project_id"`
	ConfigurationID string           `json:"configuration_id"`
	Environment     string           `json:"environment"`
	Branch          string           `json:"branch"`
	Status          string           `json:"status"`
	SelectedAccount *AccountResponse `json:"selected_account,omitempty"`
	WorkflowRunID   *int64           `json:"workflow_run_id,omitempty"`
	DeploymentURL   string           `json:"deployment_url,omitempty"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	RetryCount      int              `json:"retry_count"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
}

// DeploymentListResponse is the response for listing deployments.
type DeploymentListResponse struct {
	Deployments []DeploymentResponse `json:"deployments"`
	Count       int                  `json:"count"`
}

// EventResponse is one entry of a deployment's audit trail.
type EventResponse struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EventListResponse is the response for listing deployment events.
type EventListResponse struct {
	Events []EventResponse `json:"events"`
	Count  int             `json:"count"`
}

// LogsResponse carries the job logs for a deployment.
type LogsResponse struct {
	DeploymentID string `json:"deployment_id"`
	Logs         string `json:"logs"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the response for health checks.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the response for readiness checks.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
