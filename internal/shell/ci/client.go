package ci

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/launchpadhq/launchpad/internal/core/runlog"
)

// =============================================================================
// Client Configuration
// =============================================================================

// Config holds CI client configuration.
type Config struct {
	// BaseURL is the provider API root, e.g. "https://api.github.com".
	BaseURL string

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// RetryMax is the transport-level retry budget for transient failures.
	RetryMax int

	// RunPollAttempts is how many times PollLatestRunID queries for a run
	// before giving up.
	RunPollAttempts int

	// RunPollDelay is the initial wait between run polls; it doubles after
	// each miss.
	RunPollDelay time.Duration
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "https://api.github.com",
		Timeout:         30 * time.Second,
		RetryMax:        2,
		RunPollAttempts: 2,
		RunPollDelay:    time.Second,
	}
}

// =============================================================================
// Client
// =============================================================================

// Client calls the remote CI provider's workflow endpoints. It performs no
// cross-account failover; callers own account selection.
type Client struct {
	baseURL    string
	httpClient *http.Client
	config     Config
	logger     *slog.Logger
}

// NewClient creates a CI client with bounded transport retries.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RetryMax == 0 {
		cfg.RetryMax = def.RetryMax
	}
	if cfg.RunPollAttempts == 0 {
		cfg.RunPollAttempts = def.RunPollAttempts
	}
	if cfg.RunPollDelay == 0 {
		cfg.RunPollDelay = def.RunPollDelay
	}
	if logger == nil {
		logger = slog.Default()
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = nil
	// Surface the final response after exhausted retries so status codes map
	// through the error taxonomy instead of a generic giving-up error.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: rc.StandardClient(),
		config:     cfg,
		logger:     logger.With("component", "ci_client"),
	}
}

// =============================================================================
// Workflow Operations
// =============================================================================

// ListWorkflows returns the workflows defined in the account's repository.
func (c *Client) ListWorkflows(ctx context.Context, account Account) ([]Workflow, error) {
	var list workflowList
	path := fmt.Sprintf("/repos/%s/actions/workflows", account.Repository)
	if err := c.doJSON(ctx, account, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list.Workflows, nil
}

// ResolveWorkflow locates the deploy workflow by file path or name.
func (c *Client) ResolveWorkflow(ctx context.Context, account Account, pathOrName string) (*Workflow, error) {
	workflows, err := c.ListWorkflows(ctx, account)
	if err != nil {
		return nil, err
	}
	for i := range workflows {
		w := &workflows[i]
		if w.Name == pathOrName || w.Path == pathOrName || strings.HasSuffix(w.Path, "/"+pathOrName) {
			return w, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, pathOrName)
}

// DispatchWorkflow triggers a run of the workflow on the given ref. The
// provider API is asynchronous: no run identifier is returned here.
func (c *Client) DispatchWorkflow(ctx context.Context, account Account, workflowID int64, ref string, inputs map[string]string) error {
	path := fmt.Sprintf("/repos/%s/actions/workflows/%d/dispatches", account.Repository, workflowID)
	return c.doJSON(ctx, account, http.MethodPost, path, dispatchRequest{Ref: ref, Inputs: inputs}, nil)
}

// PollLatestRunID queries the most recent run for the workflow, sleeping and
// retrying within the configured budget to tolerate provider propagation lag.
func (c *Client) PollLatestRunID(ctx context.Context, account Account, workflowID int64) (int64, error) {
	delay := c.config.RunPollDelay

	for attempt := 1; attempt <= c.config.RunPollAttempts; attempt++ {
		var list runList
		path := fmt.Sprintf("/repos/%s/actions/workflows/%d/runs?per_page=1", account.Repository, workflowID)
		if err := c.doJSON(ctx, account, http.MethodGet, path, nil, &list); err != nil {
			return 0, err
		}
		if len(list.WorkflowRuns) > 0 {
			return list.WorkflowRuns[0].ID, nil
		}

		if attempt == c.config.RunPollAttempts {
			break
		}
		c.logger.Debug("no run visible yet, waiting",
			"workflow_id", workflowID,
			"attempt", attempt,
			"delay", delay,
		)
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return 0, fmt.Errorf("%w: workflow %d", ErrRunNotFound, workflowID)
}

// GetRunStatus returns the remote status and conclusion of a run.
func (c *Client) GetRunStatus(ctx context.Context, account Account, runID int64) (*RunStatus, error) {
	var status RunStatus
	path := fmt.Sprintf("/repos/%s/actions/runs/%d", account.Repository, runID)
	if err := c.doJSON(ctx, account, http.MethodGet, path, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetJobLogs fetches the logs of the run's first job as plain text. Payloads
// arrive as plain text, JSON wrappers, or binary depending on provider mood;
// all are normalized.
func (c *Client) GetJobLogs(ctx context.Context, account Account, runID int64) (string, error) {
	var jobs jobList
	path := fmt.Sprintf("/repos/%s/actions/runs/%d/jobs", account.Repository, runID)
	if err := c.doJSON(ctx, account, http.MethodGet, path, nil, &jobs); err != nil {
		return "", err
	}
	if len(jobs.Jobs) == 0 {
		return "", fmt.Errorf("%w: run %d has no jobs", ErrNotFound, runID)
	}

	raw, err := c.doRaw(ctx, account, fmt.Sprintf("/repos/%s/actions/jobs/%d/logs", account.Repository, jobs.Jobs[0].ID))
	if err != nil {
		return "", err
	}
	return runlog.DecodePayload(raw), nil
}

// =============================================================================
// Transport
// =============================================================================

// doJSON performs a provider API call with JSON request/response bodies.
func (c *Client) doJSON(ctx context.Context, account Account, method, path string, reqBody, respBody any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req, account)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.wrapTransportErr(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp.StatusCode, string(body))
	}

	if respBody != nil && len(body) > 0 {
		if err := json.Unmarshal(body, respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// doRaw performs a GET returning the raw response body, following the
// provider's log-download redirects via the standard client.
func (c *Client) doRaw(ctx context.Context, account Account, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req, account)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.wrapTransportErr(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apiError(resp.StatusCode, string(body))
	}
	return body, nil
}

func (c *Client) setHeaders(req *http.Request, account Account) {
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+account.Token)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
}

func (c *Client) wrapTransportErr(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %s %s", ErrNetwork, urlErr.Op, urlErr.URL)
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}
