// Package ci provides the client for the remote CI provider's workflow API.
package ci

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Taxonomy
// =============================================================================

var (
	// ErrAuth is returned when the provider rejects the account credential.
	ErrAuth = errors.New("ci provider rejected credentials")

	// ErrNotFound is returned when a repository, workflow, run, or job does
	// not exist.
	ErrNotFound = errors.New("ci resource not found")

	// ErrRateLimited is returned when the provider throttles the account.
	ErrRateLimited = errors.New("ci provider rate limit exceeded")

	// ErrNetwork is returned for transport-level failures.
	ErrNetwork = errors.New("ci provider unreachable")

	// ErrWorkflowNotFound is returned when no workflow matches the configured
	// file path or name.
	ErrWorkflowNotFound = errors.New("deploy workflow not found")

	// ErrRunNotFound is returned when no run has appeared for a workflow
	// within the polling budget.
	ErrRunNotFound = errors.New("workflow run not found")
)

// apiError maps a provider HTTP status to the error taxonomy.
func apiError(status int, body string) error {
	switch status {
	case 401, 403:
		return fmt.Errorf("%w (status %d)", ErrAuth, status)
	case 404:
		return fmt.Errorf("%w (status %d)", ErrNotFound, status)
	case 429:
		return fmt.Errorf("%w (status %d)", ErrRateLimited, status)
	default:
		if len(body) > 200 {
			body = body[:200]
		}
		return fmt.Errorf("ci provider error: status %d: %s", status, body)
	}
}
