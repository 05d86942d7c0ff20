package domain

import "errors"

var (
	// ErrValidation marks input that fails domain validation rules.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a lookup for a record that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks an operation rejected because of current record state.
	ErrConflict = errors.New("conflict")

	// ErrStorageUnavailable marks the absence of durable local storage.
	// Dependent features degrade instead of failing hard.
	ErrStorageUnavailable = errors.New("durable storage unavailable")

	// ErrUpgradeBlocked marks a schema upgrade blocked by another open
	// connection. Reported as a warning and retried on the next open.
	ErrUpgradeBlocked = errors.New("schema upgrade blocked")

	// ErrAuthUnavailable marks a sync cycle aborted because no connected
	// page could supply an auth token. Benign, not a failure.
	ErrAuthUnavailable = errors.New("auth token unavailable")
)
