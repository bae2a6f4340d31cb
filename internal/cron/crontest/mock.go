// Package crontest provides test doubles for the cron package.
package crontest

import (
	"context"
	"sync"

	"github.com/nextlevelbuilder/cronbox/internal/cron"
)

// MockExecutor is a scriptable test double for cron.Executor.
type MockExecutor struct {
	// ExecuteFunc, if set, is invoked for every Execute call.
	// The default returns ("done", nil).
	ExecuteFunc func(ctx context.Context, job *cron.Job) (string, error)

	// Block, if non-nil, is received from before Execute returns; tests use
	// it to hold a run in flight while triggering a concurrent attempt.
	Block chan struct{}

	mu    sync.Mutex
	calls []string // job ids, in invocation order
}

// Compile-time interface check.
var _ cron.Executor = (*MockExecutor)(nil)

// Execute implements cron.Executor and records the call.
func (m *MockExecutor) Execute(ctx context.Context, job *cron.Job) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, job.ID)
	m.mu.Unlock()

	if m.Block != nil {
		select {
		case <-m.Block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, job)
	}
	return "done", nil
}

// Calls returns the job ids Execute has seen, in order.
func (m *MockExecutor) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of Execute invocations.
func (m *MockExecutor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
