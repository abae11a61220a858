// Package deploy provides the deployment lifecycle service with I/O.
// This is part of the Imperative Shell - it loads state from the store,
// decrypts credentials, calls the CI provider, and drives the pure
// account pool algorithm.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/launchpadhq/launchpad/internal/core/accountpool"
	"github.com/launchpadhq/launchpad/internal/core/domain"
	"github.com/launchpadhq/launchpad/internal/core/secrets"
	"github.com/launchpadhq/launchpad/internal/shell/ci"
	"github.com/launchpadhq/launchpad/internal/shell/store"
)

// Re-exported so API callers can classify exhaustion without importing the
// core package.
var ErrPoolExhausted = accountpool.ErrPoolExhausted

// =============================================================================
// CI Client Interface
// =============================================================================

// CIClient is the provider surface the service needs. *ci.Client satisfies it.
type CIClient interface {
	ResolveWorkflow(ctx context.Context, account ci.Account, pathOrName string) (*ci.Workflow, error)
	DispatchWorkflow(ctx context.Context, account ci.Account, workflowID int64, ref string, inputs map[string]string) error
	PollLatestRunID(ctx context.Context, account ci.Account, workflowID int64) (int64, error)
	GetRunStatus(ctx context.Context, account ci.Account, runID int64) (*ci.RunStatus, error)
	GetJobLogs(ctx context.Context, account ci.Account, runID int64) (string, error)
}

// =============================================================================
// Deployment Service
// =============================================================================

const (
	// DefaultMaxAttempts is how many distinct accounts one create or retry
	// call will try before giving up.
	DefaultMaxAttempts = 3

	// poolSaveRetries bounds the compare-and-swap loop when persisting pool
	// state under contention.
	poolSaveRetries = 3
)

// Service drives the deployment lifecycle: account selection, credential
// decryption, workflow dispatch, and status tracking.
type Service struct {
	store       store.Store
	ci          CIClient
	codec       *secrets.Codec
	logger      *slog.Logger
	maxAttempts int
	now         func() time.Time
}

// NewService creates a deployment service. maxAttempts <= 0 selects the
// default.
func NewService(s store.Store, client CIClient, codec *secrets.Codec, logger *slog.Logger, maxAttempts int) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Service{
		store:       s,
		ci:          client,
		codec:       codec,
		logger:      logger,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// Create Deployment
// =============================================================================

// CreateDeploymentRequest contains the input for starting a deployment.
type CreateDeploymentRequest struct {
	ProjectID   string
	UserID      string
	Environment string
	Branch      string

	// Variables are caller-supplied values merged over the configuration's
	// declared defaults.
	Variables map[string]string
}

// CreateDeployment validates the request, records a pending deployment, and
// dispatches it through the account pool. The returned deployment reflects
// the outcome: running on success, failed when every attempt was spent.
func (s *Service) CreateDeployment(ctx context.Context, req CreateDeploymentRequest) (*domain.Deployment, error) {
	project, err := s.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: project %s", ErrNotFound, req.ProjectID)
		}
		return nil, err
	}
	if !project.OwnedBy(req.UserID) {
		return nil, ErrPermissionDenied
	}

	cfg, err := s.activeConfiguration(ctx, project)
	if err != nil {
		return nil, err
	}

	env, err := domain.ParseEnvironment(req.Environment)
	if err != nil {
		return nil, err
	}

	resolved, err := domain.ResolveEnvVars(cfg.EnvVars, req.Variables)
	if err != nil {
		return nil, err
	}
	if err := s.decryptSecretValues(cfg.EnvVars, resolved); err != nil {
		return nil, err
	}

	deployment, err := domain.NewDeployment(req.UserID, project.ID, cfg.ID, env, req.Branch)
	if err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.CreateDeployment(ctx, deployment); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, domain.NewDeploymentEvent(deployment.ID, domain.EventDeploymentCreated, ""))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("deployment created",
		"deployment_id", deployment.ID,
		"project_id", project.ID,
		"environment", string(env),
		"branch", req.Branch,
	)

	if err := s.dispatch(ctx, deployment, cfg, resolved, -1); err != nil {
		// dispatch persisted the failed state; surface the cause.
		return deployment, err
	}
	return deployment, nil
}

// =============================================================================
// Retry Deployment
// =============================================================================

// RetryDeployment re-dispatches a failed deployment. The account used on the
// failed attempt is demoted to the back of the selection order.
func (s *Service) RetryDeployment(ctx context.Context, deploymentID, userID string) (*domain.Deployment, error) {
	deployment, err := s.getOwned(ctx, deploymentID, userID)
	if err != nil {
		return nil, err
	}
	if deployment.Status != domain.StatusFailed {
		return nil, fmt.Errorf("%w: status=%s", ErrInvalidState, deployment.Status)
	}

	cfg, err := s.store.GetConfiguration(ctx, deployment.ConfigurationID)
	if err != nil {
		return nil, err
	}

	resolved, err := domain.ResolveEnvVars(cfg.EnvVars, nil)
	if err != nil {
		return nil, err
	}
	if err := s.decryptSecretValues(cfg.EnvVars, resolved); err != nil {
		return nil, err
	}

	excludeIndex := -1
	if deployment.SelectedAccount != nil {
		if i := cfg.IndexOf(deployment.SelectedAccount.AccountID); i >= 0 {
			excludeIndex = i
		}
	}

	if err := deployment.ResetForRetry(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.UpdateDeployment(ctx, deployment); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, domain.NewDeploymentEvent(deployment.ID, domain.EventDeploymentRetried,
			fmt.Sprintf("attempt %d", deployment.RetryCount)))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("deployment retry requested",
		"deployment_id", deployment.ID,
		"retry_count", deployment.RetryCount,
		"demoted_account_index", excludeIndex,
	)

	if err := s.dispatch(ctx, deployment, cfg, resolved, excludeIndex); err != nil {
		return deployment, err
	}
	return deployment, nil
}

// =============================================================================
// Dispatch
// =============================================================================

// dispatch walks the ordered account pool and tries each eligible account in
// turn, up to the per-call attempt bound. Pool scoring updates are persisted
// whether or not the dispatch ultimately succeeds.
func (s *Service) dispatch(ctx context.Context, deployment *domain.Deployment, cfg *domain.ProjectConfiguration, variables map[string]string, excludeIndex int) error {
	if len(cfg.Accounts) == 0 {
		return s.failDeployment(ctx, deployment, ErrNoAccounts.Error(), ErrNoAccounts)
	}

	state, err := s.loadPoolState(ctx, cfg)
	if err != nil {
		return err
	}

	ordered := accountpool.Order(state.Entries, s.now(), excludeIndex)
	if len(ordered) == 0 {
		if err := s.savePoolState(ctx, cfg, state); err != nil {
			s.logger.Warn("failed to persist pool healing", "configuration_id", cfg.ID, "error", err)
		}
		return s.failDeployment(ctx, deployment, "no eligible deploy account", ErrPoolExhausted)
	}

	attempts := ordered
	if len(attempts) > s.maxAttempts {
		attempts = attempts[:s.maxAttempts]
	}

	var lastErr error
	for _, idx := range attempts {
		account := cfg.Accounts[idx]

		token, err := s.codec.Decrypt(account.EncryptedToken)
		if err != nil {
			// A credential that fails integrity cannot succeed on a
			// retry. Penalize the account and stop without trying the
			// rest of the pool.
			_ = accountpool.RecordFailure(state.Entries, idx, s.now())
			if saveErr := s.savePoolState(ctx, cfg, state); saveErr != nil {
				s.logger.Warn("failed to persist pool state", "configuration_id", cfg.ID, "error", saveErr)
			}
			s.logger.Error("credential decryption failed",
				"deployment_id", deployment.ID,
				"account_login", account.Login,
			)
			return s.failDeployment(ctx, deployment, "credential integrity check failed", err)
		}

		caller := ci.Account{
			Login:        account.Login,
			Token:        token,
			Repository:   account.Repository,
			WorkflowFile: account.WorkflowFile,
		}

		runID, err := s.dispatchOnce(ctx, deployment, caller, variables)
		if err != nil {
			lastErr = err
			_ = accountpool.RecordFailure(state.Entries, idx, s.now())
			s.logger.Warn("dispatch attempt failed",
				"deployment_id", deployment.ID,
				"account_login", account.Login,
				"error", err,
			)
			continue
		}

		_ = accountpool.RecordSuccess(state.Entries, idx, s.now())
		if err := s.savePoolState(ctx, cfg, state); err != nil {
			s.logger.Warn("failed to persist pool state", "configuration_id", cfg.ID, "error", err)
		}

		if err := deployment.MarkDispatched(runID, account.Snapshot()); err != nil {
			return err
		}
		return s.store.WithTx(ctx, func(tx store.Store) error {
			if err := tx.UpdateDeployment(ctx, deployment); err != nil {
				return err
			}
			return tx.AppendEvent(ctx, domain.NewDeploymentEvent(deployment.ID, domain.EventDeploymentDispatched, account.Login))
		})
	}

	if err := s.savePoolState(ctx, cfg, state); err != nil {
		s.logger.Warn("failed to persist pool state", "configuration_id", cfg.ID, "error", err)
	}

	msg := "all dispatch attempts failed"
	if lastErr != nil {
		msg = fmt.Sprintf("all dispatch attempts failed: %v", lastErr)
	}
	return s.failDeployment(ctx, deployment, msg, ErrPoolExhausted)
}

// dispatchOnce performs the synchronous provider sequence for one account:
// resolve the workflow, fire the dispatch, and recover the run reference.
func (s *Service) dispatchOnce(ctx context.Context, deployment *domain.Deployment, account ci.Account, variables map[string]string) (int64, error) {
	workflow, err := s.ci.ResolveWorkflow(ctx, account, account.WorkflowFile)
	if err != nil {
		return 0, err
	}

	inputs := buildDispatchInputs(deployment, variables)
	if err := s.ci.DispatchWorkflow(ctx, account, workflow.ID, deployment.Branch, inputs); err != nil {
		return 0, err
	}

	return s.ci.PollLatestRunID(ctx, account, workflow.ID)
}

// buildDispatchInputs assembles the workflow inputs sent with a dispatch.
func buildDispatchInputs(deployment *domain.Deployment, variables map[string]string) map[string]string {
	inputs := make(map[string]string, len(variables)+2)
	for k, v := range variables {
		inputs[k] = v
	}
	inputs["environment"] = string(deployment.Environment)
	inputs["deployment_id"] = deployment.ID
	return inputs
}

// failDeployment moves the deployment to failed, records the event, and
// returns cause wrapped for the caller.
func (s *Service) failDeployment(ctx context.Context, deployment *domain.Deployment, message string, cause error) error {
	if err := deployment.TransitionToFailed(message); err != nil {
		return err
	}
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.UpdateDeployment(ctx, deployment); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, domain.NewDeploymentEvent(deployment.ID, domain.EventDeploymentFailed, message))
	})
	if err != nil {
		return err
	}
	return cause
}

// =============================================================================
// Pool State Persistence
// =============================================================================

// loadPoolState returns the configuration's pool record, creating a fresh one
// on first use. The entry list is re-sized if accounts were added since the
// record was written.
func (s *Service) loadPoolState(ctx context.Context, cfg *domain.ProjectConfiguration) (*store.PoolState, error) {
	state, err := s.store.GetPoolState(ctx, cfg.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.NewPoolState(cfg.ID, len(cfg.Accounts)), nil
		}
		return nil, err
	}

	for len(state.Entries) < len(cfg.Accounts) {
		state.Entries = append(state.Entries, accountpool.Entry{
			Index:     len(state.Entries),
			Available: true,
		})
	}
	return state, nil
}

// savePoolState persists the pool record, retrying the compare-and-swap a
// bounded number of times. On conflict the scoring deltas are re-applied to
// the winner's entries rather than overwriting them; the simple approach of
// reloading and merging entry-by-entry keeps the most pessimistic view.
func (s *Service) savePoolState(ctx context.Context, cfg *domain.ProjectConfiguration, state *store.PoolState) error {
	var err error
	for attempt := 0; attempt < poolSaveRetries; attempt++ {
		err = s.store.SavePoolState(ctx, state)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return err
		}

		current, loadErr := s.store.GetPoolState(ctx, cfg.ID)
		if loadErr != nil {
			return loadErr
		}
		current.Entries = mergeEntries(current.Entries, state.Entries)
		state = current
	}
	return err
}

// mergeEntries combines two views of the pool, keeping for each entry the
// higher failure count, the later last-use, and availability only when both
// views agree.
func mergeEntries(winner, loser []accountpool.Entry) []accountpool.Entry {
	for i := range winner {
		if i >= len(loser) {
			break
		}
		if loser[i].FailureCount > winner[i].FailureCount {
			winner[i].FailureCount = loser[i].FailureCount
		}
		if loser[i].LastUsedAt != nil &&
			(winner[i].LastUsedAt == nil || loser[i].LastUsedAt.After(*winner[i].LastUsedAt)) {
			winner[i].LastUsedAt = loser[i].LastUsedAt
		}
		if !loser[i].Available {
			winner[i].Available = false
		}
	}
	return winner
}

// =============================================================================
// Queries
// =============================================================================

// GetDeployment returns a deployment owned by the caller.
func (s *Service) GetDeployment(ctx context.Context, deploymentID, userID string) (*domain.Deployment, error) {
	return s.getOwned(ctx, deploymentID, userID)
}

// ListDeployments returns the caller's deployments, optionally filtered.
func (s *Service) ListDeployments(ctx context.Context, userID string, filter store.DeploymentFilter, opts store.ListOptions) ([]domain.Deployment, error) {
	filter.OwnerID = userID
	return s.store.ListDeployments(ctx, filter, opts)
}

// ListEvents returns the audit trail for a deployment owned by the caller.
func (s *Service) ListEvents(ctx context.Context, deploymentID, userID string) ([]domain.DeploymentEvent, error) {
	if _, err := s.getOwned(ctx, deploymentID, userID); err != nil {
		return nil, err
	}
	return s.store.ListEventsByDeployment(ctx, deploymentID)
}

// NoRunLogsMessage is returned as the log body for a deployment that has not
// been dispatched; the absence of logs is not an error.
const NoRunLogsMessage = "no workflow run has been dispatched for this deployment yet"

// GetDeploymentLogs fetches the job logs for a dispatched deployment.
func (s *Service) GetDeploymentLogs(ctx context.Context, deploymentID, userID string) (string, error) {
	deployment, err := s.getOwned(ctx, deploymentID, userID)
	if err != nil {
		return "", err
	}
	if deployment.SelectedAccount == nil || deployment.WorkflowRunID == nil {
		return NoRunLogsMessage, nil
	}

	account, err := s.callerAccount(deployment.SelectedAccount)
	if err != nil {
		return "", err
	}
	return s.ci.GetJobLogs(ctx, account, *deployment.WorkflowRunID)
}

// =============================================================================
// Helpers
// =============================================================================

// activeConfiguration loads the most recent deploy configuration for a
// project.
func (s *Service) activeConfiguration(ctx context.Context, project *domain.Project) (*domain.ProjectConfiguration, error) {
	cfg, err := s.store.GetConfigurationByProject(ctx, project.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: configuration for project %s", ErrNotFound, project.ID)
		}
		return nil, err
	}
	if !cfg.BelongsTo(project.ID) {
		return nil, fmt.Errorf("%w: configuration %s", ErrNotFound, cfg.ID)
	}
	return cfg, nil
}

func (s *Service) getOwned(ctx context.Context, deploymentID, userID string) (*domain.Deployment, error) {
	deployment, err := s.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: deployment %s", ErrNotFound, deploymentID)
		}
		return nil, err
	}
	if deployment.OwnerID != userID {
		return nil, ErrPermissionDenied
	}
	return deployment, nil
}

// decryptSecretValues replaces secret-flagged defaults in the resolved set
// with their plaintext just before dispatch. Caller-provided values arrive as
// plaintext and pass through untouched.
func (s *Service) decryptSecretValues(declared []domain.EnvVar, resolved map[string]string) error {
	for _, v := range declared {
		if !v.Secret || v.DefaultValue == "" {
			continue
		}
		if resolved[v.Key] != v.DefaultValue {
			continue
		}
		plain, err := s.codec.Decrypt(v.DefaultValue)
		if err != nil {
			return fmt.Errorf("env var %s: %w", v.Key, err)
		}
		resolved[v.Key] = plain
	}
	return nil
}

// callerAccount rebuilds the provider credential from a persisted snapshot.
func (s *Service) callerAccount(snapshot *domain.AccountSnapshot) (ci.Account, error) {
	token, err := s.codec.Decrypt(snapshot.EncryptedToken)
	if err != nil {
		return ci.Account{}, err
	}
	return ci.Account{
		Login:        snapshot.Login,
		Token:        token,
		Repository:   snapshot.Repository,
		WorkflowFile: snapshot.WorkflowFile,
	}, nil
}
