package cron

import "context"

// Store is the persistence boundary for jobs and run history. Three
// interchangeable backends implement it (memory, file, sql); the backend is
// selected once at startup by configuration.
//
// Contracts are identical across backends:
//   - SaveJob is an upsert by id and never fails because a job exists.
//   - UpdateJob and DeleteJob fail with ErrNotFound for unknown ids.
//   - AppendRun does not require the job to still exist; history survives
//     job deletion where the medium supports it.
//   - GetRuns returns the most recent `limit` records ordered oldest-first:
//     sorted descending by start time, truncated, then reversed.
type Store interface {
	// LoadJobs returns all persisted jobs, order unspecified.
	LoadJobs(ctx context.Context) ([]Job, error)

	// SaveJob inserts or overwrites a job by id.
	SaveJob(ctx context.Context, job Job) error

	// UpdateJob overwrites an existing job, ErrNotFound if absent.
	UpdateJob(ctx context.Context, job Job) error

	// DeleteJob removes a job by id, ErrNotFound if absent.
	DeleteJob(ctx context.Context, id string) error

	// AppendRun records one execution attempt for a job.
	AppendRun(ctx context.Context, jobID string, rec RunRecord) error

	// GetRuns returns up to `limit` most recent runs for a job, oldest-first.
	GetRuns(ctx context.Context, jobID string, limit int) ([]RunRecord, error)

	// Close releases backend resources.
	Close() error
}
