package cron

import "context"

// Executor runs a job's payload in an isolated agent context and optionally
// delivers the result to the job's session target. Implementations live
// outside the scheduling engine; the engine only invokes them and records
// the outcome. The context carries the per-attempt deadline — an executor
// that overruns it reports a plain error, which is recorded as a failed run.
type Executor interface {
	Execute(ctx context.Context, job *Job) (output string, err error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, job *Job) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, job *Job) (string, error) {
	return f(ctx, job)
}
