package deploy

import "errors"

// =============================================================================
// Service Errors
// =============================================================================

var (
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrPermissionDenied is returned when the caller does not own the
	// project the deployment belongs to.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidState is returned when an operation is not valid for the
	// deployment's current status.
	ErrInvalidState = errors.New("deployment is not in a valid state for this operation")

	// ErrNoAccounts is returned when the configuration has no deploy
	// accounts at all.
	ErrNoAccounts = errors.New("configuration has no deploy accounts")

	// ErrNoRunReference is returned when logs or status are requested for a
	// deployment that was never dispatched.
	ErrNoRunReference = errors.New("deployment has no workflow run reference")
)
