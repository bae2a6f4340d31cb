package cron

import "errors"

// Sentinel errors shared by the service and all store backends.
// Backends wrap these with fmt.Errorf("...: %w", ...) so callers can use errors.Is.
var (
	// ErrNotFound means an operation referenced a job id absent from the store.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidSchedule means a schedule failed validation at add/update time.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrInvalidPayload means a payload failed validation at add/update time.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrNoExecutor means a run was requested before an executor was attached.
	ErrNoExecutor = errors.New("no executor configured")
)
