package store

import (
	"context"
	"time"

	"github.com/launchpadhq/launchpad/internal/core/accountpool"
	"github.com/launchpadhq/launchpad/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for the deployment core.
type Store interface {
	// Project / configuration read models (CRUD lives outside this service;
	// create exists for seeding and the surrounding platform).
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProject(ctx context.Context, id string) (*domain.Project, error)
	CreateConfiguration(ctx context.Context, cfg *domain.ProjectConfiguration) error
	GetConfiguration(ctx context.Context, id string) (*domain.ProjectConfiguration, error)
	GetConfigurationByProject(ctx context.Context, projectID string) (*domain.ProjectConfiguration, error)

	// Deployment operations. UpdateDeployment uses optimistic locking on the
	// record version and returns ErrVersionConflict on a lost race.
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	GetDeployment(ctx context.Context, id string) (*domain.Deployment, error)
	UpdateDeployment(ctx context.Context, deployment *domain.Deployment) error
	ListDeployments(ctx context.Context, filter DeploymentFilter, opts ListOptions) ([]domain.Deployment, error)
	ListRunningDeployments(ctx context.Context, limit int) ([]domain.Deployment, error)

	// Account pool state, one versioned record per configuration.
	// SavePoolState is a compare-and-swap on the record version.
	GetPoolState(ctx context.Context, configurationID string) (*PoolState, error)
	SavePoolState(ctx context.Context, state *PoolState) error

	// Deployment event outbox.
	AppendEvent(ctx context.Context, event *domain.DeploymentEvent) error
	ListEventsByDeployment(ctx context.Context, deploymentID string) ([]domain.DeploymentEvent, error)
	ListUnpublishedEvents(ctx context.Context, limit int) ([]domain.DeploymentEvent, error)
	MarkEventsPublished(ctx context.Context, ids []string, publishedAt time.Time) error

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}

// =============================================================================
// Pool State
// =============================================================================

// PoolState is the persisted scoring record for a configuration's account
// pool. Entries are positional over the configuration's account list; Version
// is the optimistic-concurrency token.
type PoolState struct {
	ConfigurationID string
	Entries         []accountpool.Entry
	Version         int64
	UpdatedAt       time.Time
}

// NewPoolState returns the initial pool state for a configuration with n
// accounts.
func NewPoolState(configurationID string, n int) *PoolState {
	return &PoolState{
		ConfigurationID: configurationID,
		Entries:         accountpool.NewEntries(n),
	}
}

// =============================================================================
// Filters / Options
// =============================================================================

// DeploymentFilter narrows a deployment listing. Zero values match all.
type DeploymentFilter struct {
	ProjectID   string
	OwnerID     string
	Environment domain.Environment
	Status      domain.DeploymentStatus
	Branch      string
}

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
