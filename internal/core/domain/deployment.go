package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Deployment Errors
// =============================================================================

var (
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrInvalidEnvironment = errors.New("invalid deployment environment")
	ErrBranchRequired     = errors.New("branch is required")
	ErrMissingVariable    = errors.New("required variable is missing")
)

// =============================================================================
// Deployment Status
// =============================================================================

type DeploymentStatus string

const (
	StatusPending  DeploymentStatus = "pending"
	StatusRunning  DeploymentStatus = "running"
	StatusSuccess  DeploymentStatus = "success"
	StatusFailed   DeploymentStatus = "failed"
	StatusCanceled DeploymentStatus = "canceled"
)

// IsTerminal reports whether the status is a completed state.
func (s DeploymentStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCanceled
}

// =============================================================================
// Environment
// =============================================================================

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentPreview    Environment = "preview"
)

// ParseEnvironment validates and normalizes an environment value.
func ParseEnvironment(raw string) (Environment, error) {
	switch Environment(raw) {
	case EnvironmentProduction:
		return EnvironmentProduction, nil
	case EnvironmentPreview:
		return EnvironmentPreview, nil
	default:
		return "", ErrInvalidEnvironment
	}
}

// =============================================================================
// Account Snapshot
// =============================================================================

// AccountSnapshot is the record of the account a deployment was dispatched
// with. EncryptedToken holds ciphertext in the iv:authTag:ciphertext hex
// format, never plaintext.
type AccountSnapshot struct {
	AccountID      string `json:"account_id"`
	Login          string `json:"login"`
	Repository     string `json:"repository"`
	WorkflowFile   string `json:"workflow_file"`
	EncryptedToken string `json:"encrypted_token"`
}

// =============================================================================
// Deployment
// =============================================================================

// Deployment represents one deploy attempt lineage for a project version.
type Deployment struct {
	ID              string           `json:"id"`
	ProjectID       string           `json:"project_id"`
	ConfigurationID string           `json:"configuration_id"`
	OwnerID         string           `json:"owner_id"`
	Environment     Environment      `json:"environment"`
	Branch          string           `json:"branch"`
	Status          DeploymentStatus `json:"status"`
	SelectedAccount *AccountSnapshot `json:"selected_account,omitempty"`
	WorkflowRunID   *int64           `json:"workflow_run_id,omitempty"`
	DeploymentURL   string           `json:"deployment_url,omitempty"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	RetryCount      int              `json:"retry_count"`
	Version         int64            `json:"-"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
}

// NewDeployment creates a pending deployment for the given project and
// configuration.
func NewDeployment(ownerID, projectID, configurationID string, env Environment, branch string) (*Deployment, error) {
	if branch == "" {
		return nil, ErrBranchRequired
	}
	if env != EnvironmentProduction && env != EnvironmentPreview {
		return nil, ErrInvalidEnvironment
	}

	now := time.Now().UTC()
	return &Deployment{
		ID:              uuid.New().String(),
		ProjectID:       projectID,
		ConfigurationID: configurationID,
		OwnerID:         ownerID,
		Environment:     env,
		Branch:          branch,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// =============================================================================
// State Machine
// =============================================================================

// validTransitions defines the allowed status transitions.
// canceled is modeled but no operation currently drives a transition into it.
var validTransitions = map[DeploymentStatus][]DeploymentStatus{
	StatusPending:  {StatusRunning, StatusFailed},
	StatusRunning:  {StatusSuccess, StatusFailed},
	StatusFailed:   {StatusPending},
	StatusSuccess:  {},
	StatusCanceled: {},
}

// ValidateTransition checks if a status transition is valid.
func ValidateTransition(from, to DeploymentStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return ErrInvalidTransition
}

// Transition attempts to move the deployment to a new status.
func (d *Deployment) Transition(to DeploymentStatus) error {
	if err := ValidateTransition(d.Status, to); err != nil {
		return err
	}

	d.Status = to
	now := time.Now().UTC()
	d.UpdatedAt = now

	if to.IsTerminal() {
		d.CompletedAt = &now
	}

	return nil
}

// TransitionToFailed moves the deployment to failed with an error message.
func (d *Deployment) TransitionToFailed(errorMessage string) error {
	if err := d.Transition(StatusFailed); err != nil {
		return err
	}
	d.ErrorMessage = errorMessage
	return nil
}

// MarkDispatched records a successful dispatch: the deployment starts running
// with the run reference and the account snapshot used.
func (d *Deployment) MarkDispatched(runID int64, account AccountSnapshot) error {
	if err := d.Transition(StatusRunning); err != nil {
		return err
	}
	d.WorkflowRunID = &runID
	d.SelectedAccount = &account
	return nil
}

// ResetForRetry prepares a failed deployment for a new dispatch attempt. The
// prior attempt's run reference and account snapshot are cleared; a pending
// deployment carries no run. Callers needing the prior account for demotion
// must capture it before resetting.
func (d *Deployment) ResetForRetry() error {
	if err := d.Transition(StatusPending); err != nil {
		return err
	}
	d.ErrorMessage = ""
	d.RetryCount++
	d.CompletedAt = nil
	d.WorkflowRunID = nil
	d.SelectedAccount = nil
	return nil
}
