package deploy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchpadhq/launchpad/internal/core/domain"
	"github.com/launchpadhq/launchpad/internal/shell/ci"
)

// =============================================================================
// Refresh Status Tests
// =============================================================================

func runningDeployment(t *testing.T, env *testEnv) *domain.Deployment {
	t.Helper()
	deployment, err := env.service.CreateDeployment(context.Background(), createRequest(env))
	require.NoError(t, err)
	require.Equal(t, domain.StatusRunning, deployment.Status)
	return deployment
}

func TestRefreshStatus_StillRunning(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	deployment := runningDeployment(t, env)
	env.ci.runStatus = &ci.RunStatus{ID: 4242, Status: "in_progress"}

	refreshed, err := env.service.RefreshStatus(ctx, deployment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, refreshed.Status)
	assert.Nil(t, refreshed.CompletedAt)
}

func TestRefreshStatus_SuccessExtractsURL(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	deployment := runningDeployment(t, env)
	env.ci.runStatus = &ci.RunStatus{ID: 4242, Status: ci.RunStatusCompleted, Conclusion: ci.ConclusionSuccess}
	env.ci.logs = "deploying...\nDeployment URL: https://demo-abc123.example.app\nall done"

	refreshed, err := env.service.RefreshStatus(ctx, deployment.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusSuccess, refreshed.Status)
	assert.Equal(t, "https://demo-abc123.example.app", refreshed.DeploymentURL)
	require.NotNil(t, refreshed.CompletedAt)

	events, err := env.store.ListEventsByDeployment(ctx, deployment.ID)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, domain.EventDeploymentCompleted, last.Type)
	assert.Equal(t, refreshed.DeploymentURL, last.Detail)
}

func TestRefreshStatus_SuccessWithoutURL(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	deployment := runningDeployment(t, env)
	env.ci.runStatus = &ci.RunStatus{ID: 4242, Status: ci.RunStatusCompleted, Conclusion: ci.ConclusionSuccess}
	env.ci.logs = "no marker in these logs"

	refreshed, err := env.service.RefreshStatus(ctx, deployment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, refreshed.Status)
	assert.Empty(t, refreshed.DeploymentURL)
}

func TestRefreshStatus_FailureConclusion(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	deployment := runningDeployment(t, env)
	env.ci.runStatus = &ci.RunStatus{ID: 4242, Status: ci.RunStatusCompleted, Conclusion: ci.ConclusionFailure}

	refreshed, err := env.service.RefreshStatus(ctx, deployment.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusFailed, refreshed.Status)
	assert.Contains(t, refreshed.ErrorMessage, "failure")

	events, err := env.store.ListEventsByDeployment(ctx, deployment.ID)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, domain.EventDeploymentFailed, last.Type)
}

func TestRefreshStatus_TerminalIsUntouched(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	deployment := runningDeployment(t, env)
	env.ci.runStatus = &ci.RunStatus{ID: 4242, Status: ci.RunStatusCompleted, Conclusion: ci.ConclusionSuccess}

	_, err := env.service.RefreshStatus(ctx, deployment.ID)
	require.NoError(t, err)

	// A second refresh of a finished deployment is a no-op.
	env.ci.runStatus = &ci.RunStatus{ID: 4242, Status: ci.RunStatusCompleted, Conclusion: ci.ConclusionFailure}
	refreshed, err := env.service.RefreshStatus(ctx, deployment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, refreshed.Status)
}

func TestRefreshStatus_NonRunningIsNoOp(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	// A pending deployment has no run to poll; refresh returns it unchanged
	// rather than erroring.
	pending, err := domain.NewDeployment(testOwner, env.project.ID, env.cfg.ID, domain.EnvironmentProduction, "main")
	require.NoError(t, err)
	require.NoError(t, env.store.CreateDeployment(ctx, pending))

	refreshed, err := env.service.RefreshStatus(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, refreshed.Status)

	// Same for a failed deployment that never dispatched.
	failed := failedDeployment(t, env)
	refreshed, err = env.service.RefreshStatus(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, refreshed.Status)
}

func TestRefreshStatus_NotFound(t *testing.T) {
	env := setupTestEnv(t)

	_, err := env.service.RefreshStatus(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}
