package deploy

import (
	"context"
	"errors"
	"fmt"

	"github.com/launchpadhq/launchpad/internal/core/domain"
	"github.com/launchpadhq/launchpad/internal/core/runlog"
	"github.com/launchpadhq/launchpad/internal/shell/ci"
	"github.com/launchpadhq/launchpad/internal/shell/store"
)

// =============================================================================
// Status Refresh
// =============================================================================

// RefreshStatus polls the provider for a running deployment and finalizes it
// when the remote run has concluded. It returns the refreshed deployment;
// a deployment already in a terminal state is returned unchanged.
func (s *Service) RefreshStatus(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	deployment, err := s.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: deployment %s", ErrNotFound, deploymentID)
		}
		return nil, err
	}
	if deployment.Status != domain.StatusRunning {
		return deployment, nil
	}
	if deployment.SelectedAccount == nil || deployment.WorkflowRunID == nil {
		// A running deployment always carries its run reference; this guards
		// against hand-edited rows.
		return nil, ErrNoRunReference
	}

	account, err := s.callerAccount(deployment.SelectedAccount)
	if err != nil {
		// The snapshot's credential no longer decrypts. The run cannot be
		// tracked any further.
		if failErr := s.failDeployment(ctx, deployment, "credential integrity check failed", err); failErr != nil && !errors.Is(failErr, err) {
			return nil, failErr
		}
		return deployment, nil
	}

	run, err := s.ci.GetRunStatus(ctx, account, *deployment.WorkflowRunID)
	if err != nil {
		if errors.Is(err, ci.ErrNotFound) {
			if failErr := s.failDeployment(ctx, deployment, "workflow run disappeared", err); failErr != nil && !errors.Is(failErr, err) {
				return nil, failErr
			}
			return deployment, nil
		}
		// Transient provider trouble; leave the deployment running and let
		// the next poll try again.
		return nil, err
	}

	if run.Status != ci.RunStatusCompleted {
		return deployment, nil
	}

	switch run.Conclusion {
	case ci.ConclusionSuccess:
		return s.finalizeSuccess(ctx, deployment, account)
	default:
		message := fmt.Sprintf("remote workflow %s", run.Conclusion)
		if failErr := s.failDeployment(ctx, deployment, message, nil); failErr != nil {
			return nil, failErr
		}
		return deployment, nil
	}
}

// finalizeSuccess moves the deployment to success, harvesting the deployment
// URL from the job logs when the workflow printed one.
func (s *Service) finalizeSuccess(ctx context.Context, deployment *domain.Deployment, account ci.Account) (*domain.Deployment, error) {
	if logs, err := s.ci.GetJobLogs(ctx, account, *deployment.WorkflowRunID); err == nil {
		if url, ok := runlog.ExtractDeploymentURL(logs); ok {
			deployment.DeploymentURL = url
		}
	} else {
		s.logger.Warn("could not fetch job logs for completed run",
			"deployment_id", deployment.ID,
			"error", err,
		)
	}

	if err := deployment.Transition(domain.StatusSuccess); err != nil {
		return nil, err
	}

	err := s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.UpdateDeployment(ctx, deployment); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, domain.NewDeploymentEvent(deployment.ID, domain.EventDeploymentCompleted, deployment.DeploymentURL))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("deployment succeeded",
		"deployment_id", deployment.ID,
		"deployment_url", deployment.DeploymentURL,
	)
	return deployment, nil
}
