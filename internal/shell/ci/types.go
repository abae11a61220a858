package ci

// =============================================================================
// Account
// =============================================================================

// Account carries the decrypted credential and target repository for one
// provider call. Token is plaintext here and must never be persisted or
// logged; the lifecycle layer owns decryption.
type Account struct {
	Login        string
	Token        string
	Repository   string // owner/name
	WorkflowFile string
}

// =============================================================================
// Wire Types (provider-defined)
// =============================================================================

// Workflow is one workflow definition in a repository.
type Workflow struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Path  string `json:"path"`
	State string `json:"state"`
}

type workflowList struct {
	TotalCount int        `json:"total_count"`
	Workflows  []Workflow `json:"workflows"`
}

// RunStatus is the remote state of a workflow run.
type RunStatus struct {
	ID         int64  `json:"id"`
	Status     string `json:"status"`     // queued, in_progress, completed
	Conclusion string `json:"conclusion"` // success, failure, cancelled, ...
}

type runList struct {
	TotalCount   int         `json:"total_count"`
	WorkflowRuns []RunStatus `json:"workflow_runs"`
}

// Job is one job within a workflow run.
type Job struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type jobList struct {
	TotalCount int   `json:"total_count"`
	Jobs       []Job `json:"jobs"`
}

// dispatchRequest is the workflow dispatch body.
type dispatchRequest struct {
	Ref    string            `json:"ref"`
	Inputs map[string]string `json:"inputs,omitempty"`
}

// Remote run status values.
const (
	RunStatusCompleted = "completed"

	ConclusionSuccess   = "success"
	ConclusionFailure   = "failure"
	ConclusionCancelled = "cancelled"
)
