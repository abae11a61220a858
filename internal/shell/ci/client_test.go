package ci

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAccount = Account{
	Login:        "builder-one",
	Token:        "ghp_testtoken",
	Repository:   "org/deploy",
	WorkflowFile: "deploy.yml",
}

// testClient points a client at the test server with transport retries
// disabled so error-path tests stay fast.
func testClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	return NewClient(Config{
		BaseURL:         server.URL,
		Timeout:         5 * time.Second,
		RetryMax:        -1,
		RunPollAttempts: 3,
		RunPollDelay:    10 * time.Millisecond,
	}, nil)
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

// =============================================================================
// Workflow Resolution Tests
// =============================================================================

func workflowListHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/org/deploy/actions/workflows", r.URL.Path)
		assert.Equal(t, "Bearer ghp_testtoken", r.Header.Get("Authorization"))
		writeJSON(t, w, workflowList{
			TotalCount: 2,
			Workflows: []Workflow{
				{ID: 101, Name: "CI", Path: ".github/workflows/ci.yml", State: "active"},
				{ID: 102, Name: "Deploy", Path: ".github/workflows/deploy.yml", State: "active"},
			},
		})
	}
}

func TestClient_ListWorkflows(t *testing.T) {
	server := httptest.NewServer(workflowListHandler(t))
	defer server.Close()

	workflows, err := testClient(t, server).ListWorkflows(context.Background(), testAccount)
	require.NoError(t, err)
	require.Len(t, workflows, 2)
	assert.Equal(t, int64(101), workflows[0].ID)
	assert.Equal(t, "Deploy", workflows[1].Name)
}

func TestClient_ResolveWorkflow(t *testing.T) {
	server := httptest.NewServer(workflowListHandler(t))
	defer server.Close()

	client := testClient(t, server)
	ctx := context.Background()

	tests := []struct {
		pathOrName string
		wantID     int64
	}{
		{"deploy.yml", 102},                       // file name suffix
		{".github/workflows/deploy.yml", 102},     // full path
		{"Deploy", 102},                           // display name
		{"ci.yml", 101},
	}
	for _, tt := range tests {
		w, err := client.ResolveWorkflow(ctx, testAccount, tt.pathOrName)
		require.NoError(t, err, "lookup %q", tt.pathOrName)
		assert.Equal(t, tt.wantID, w.ID)
	}
}

func TestClient_ResolveWorkflow_NotFound(t *testing.T) {
	server := httptest.NewServer(workflowListHandler(t))
	defer server.Close()

	_, err := testClient(t, server).ResolveWorkflow(context.Background(), testAccount, "release.yml")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

// =============================================================================
// Dispatch Tests
// =============================================================================

func TestClient_DispatchWorkflow(t *testing.T) {
	var received dispatchRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/repos/org/deploy/actions/workflows/102/dispatches", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	err := testClient(t, server).DispatchWorkflow(context.Background(), testAccount, 102, "main", map[string]string{
		"environment": "production",
	})
	require.NoError(t, err)
	assert.Equal(t, "main", received.Ref)
	assert.Equal(t, "production", received.Inputs["environment"])
}

func TestClient_DispatchWorkflow_AuthRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	err := testClient(t, server).DispatchWorkflow(context.Background(), testAccount, 102, "main", nil)
	assert.ErrorIs(t, err, ErrAuth)
}

// =============================================================================
// Run Polling Tests
// =============================================================================

func TestClient_PollLatestRunID_EventualVisibility(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("per_page"))
		if calls.Add(1) < 3 {
			writeJSON(t, w, runList{TotalCount: 0})
			return
		}
		writeJSON(t, w, runList{TotalCount: 1, WorkflowRuns: []RunStatus{{ID: 4242, Status: "queued"}}})
	}))
	defer server.Close()

	runID, err := testClient(t, server).PollLatestRunID(context.Background(), testAccount, 102)
	require.NoError(t, err)
	assert.Equal(t, int64(4242), runID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_PollLatestRunID_BudgetExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, runList{TotalCount: 0})
	}))
	defer server.Close()

	_, err := testClient(t, server).PollLatestRunID(context.Background(), testAccount, 102)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestClient_PollLatestRunID_ContextExpiresDuringWait(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, runList{TotalCount: 0})
	}))
	defer server.Close()

	client := NewClient(Config{
		BaseURL:         server.URL,
		RetryMax:        -1,
		RunPollAttempts: 3,
		RunPollDelay:    time.Second,
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.PollLatestRunID(ctx, testAccount, 102)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// =============================================================================
// Run Status Tests
// =============================================================================

func TestClient_GetRunStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/org/deploy/actions/runs/4242", r.URL.Path)
		writeJSON(t, w, RunStatus{ID: 4242, Status: RunStatusCompleted, Conclusion: ConclusionSuccess})
	}))
	defer server.Close()

	status, err := testClient(t, server).GetRunStatus(context.Background(), testAccount, 4242)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, status.Status)
	assert.Equal(t, ConclusionSuccess, status.Conclusion)
}

func TestClient_GetRunStatus_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := testClient(t, server).GetRunStatus(context.Background(), testAccount, 4242)
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// Job Log Tests
// =============================================================================

func jobLogServer(t *testing.T, logBody string, contentType string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/org/deploy/actions/runs/4242/jobs":
			writeJSON(t, w, jobList{TotalCount: 1, Jobs: []Job{{ID: 777, Name: "deploy"}}})
		case "/repos/org/deploy/actions/jobs/777/logs":
			w.Header().Set("Content-Type", contentType)
			fmt.Fprint(w, logBody)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestClient_GetJobLogs_PlainText(t *testing.T) {
	server := jobLogServer(t, "Building...\nDeployment URL: https://app.example.dev\n", "text/plain")
	defer server.Close()

	logs, err := testClient(t, server).GetJobLogs(context.Background(), testAccount, 4242)
	require.NoError(t, err)
	assert.Contains(t, logs, "Deployment URL: https://app.example.dev")
}

func TestClient_GetJobLogs_JSONWrapped(t *testing.T) {
	server := jobLogServer(t, `{"logs": "wrapped body"}`, "application/json")
	defer server.Close()

	logs, err := testClient(t, server).GetJobLogs(context.Background(), testAccount, 4242)
	require.NoError(t, err)
	assert.Equal(t, "wrapped body", logs)
}

func TestClient_GetJobLogs_NoJobs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, jobList{TotalCount: 0})
	}))
	defer server.Close()

	_, err := testClient(t, server).GetJobLogs(context.Background(), testAccount, 4242)
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// Error Taxonomy Tests
// =============================================================================

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		status  int
		wantErr error
	}{
		{http.StatusUnauthorized, ErrAuth},
		{http.StatusForbidden, ErrAuth},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusTooManyRequests, ErrRateLimited},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, err := testClient(t, server).ListWorkflows(context.Background(), testAccount)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClient_ErrorMapping_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "boom")
	}))
	defer server.Close()

	_, err := testClient(t, server).ListWorkflows(context.Background(), testAccount)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestClient_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	_, err := testClient(t, server).ListWorkflows(context.Background(), testAccount)
	assert.ErrorIs(t, err, ErrNetwork)
}
