package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Deployment Events (Outbox)
// =============================================================================

type EventType string

const (
	EventDeploymentCreated    EventType = "deployment.created"
	EventDeploymentDispatched EventType = "deployment.dispatched"
	EventDeploymentFailed     EventType = "deployment.failed"
	EventDeploymentRetried    EventType = "deployment.retried"
	EventDeploymentCompleted  EventType = "deployment.completed"
)

// DeploymentEvent is an audit record appended transactionally with the
// deployment state change it describes, and published independently.
type DeploymentEvent struct {
	ID           string     `json:"id"`
	DeploymentID string     `json:"deployment_id"`
	Type         EventType  `json:"type"`
	Detail       string     `json:"detail,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
}

// NewDeploymentEvent creates an unpublished event for a deployment.
func NewDeploymentEvent(deploymentID string, eventType EventType, detail string) *DeploymentEvent {
	return &DeploymentEvent{
		ID:           uuid.New().String(),
		DeploymentID: deploymentID,
		Type:         eventType,
		Detail:       detail,
		CreatedAt:    time.Now().UTC(),
	}
}
