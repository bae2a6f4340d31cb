// Package cron implements the scheduling engine for automated agent runs.
// Jobs are persisted through a pluggable Store and executed through an
// Executor callback supplied by the embedding runtime.
//
// Three schedule kinds are supported:
//   - "at":    one-time execution at an absolute timestamp
//   - "every": recurring interval (in milliseconds)
//   - "cron":  standard 5-field cron expression (parsed by gronx)
package cron

import (
	"time"

	"github.com/google/uuid"
)

// Schedule kinds.
const (
	ScheduleAt    = "at"
	ScheduleEvery = "every"
	ScheduleCron  = "cron"
)

// Schedule defines when a job should run.
type Schedule struct {
	Kind    string `json:"kind"`              // "at", "every", or "cron"
	AtMS    *int64 `json:"atMs,omitempty"`    // absolute timestamp (for "at")
	EveryMS *int64 `json:"everyMs,omitempty"` // interval in milliseconds (for "every")
	Expr    string `json:"expr,omitempty"`    // cron expression (for "cron")
	TZ      string `json:"tz,omitempty"`      // IANA timezone for "cron" (default local)
}

// Payload kinds.
const (
	PayloadSystemEvent = "systemEvent"
	PayloadAgentTurn   = "agentTurn"
)

// Payload describes what a job does when it fires. The scheduling engine
// treats it as opaque; it is handed to the Executor as-is.
type Payload struct {
	Kind    string `json:"kind"`              // "systemEvent" or "agentTurn"
	Text    string `json:"text,omitempty"`    // systemEvent: text injected into the session
	Message string `json:"message,omitempty"` // agentTurn: prompt for an isolated run
	Deliver bool   `json:"deliver,omitempty"` // deliver the result to the session target
}

// Session target kinds.
const (
	TargetMain    = "main"
	TargetChannel = "channel"
)

// SessionTarget says where a job's output should be attributed or delivered.
// Routing is the executor's concern; the engine just carries it.
type SessionTarget struct {
	Kind    string `json:"kind"`              // "main" or "channel"
	Channel string `json:"channel,omitempty"` // channel name (for "channel")
	To      string `json:"to,omitempty"`      // chat ID / recipient (for "channel")
}

// MainTarget returns the default session target.
func MainTarget() SessionTarget {
	return SessionTarget{Kind: TargetMain}
}

// RunStatus is the outcome of one execution attempt.
type RunStatus string

const (
	RunOK      RunStatus = "ok"
	RunFailed  RunStatus = "failed"
	RunSkipped RunStatus = "skipped"
)

// JobState tracks runtime scheduling state for a job.
type JobState struct {
	NextRunAtMS         *int64    `json:"nextRunAtMs,omitempty"` // next scheduled execution (cached)
	LastRunAtMS         *int64    `json:"lastRunAtMs,omitempty"` // start time of the last attempt
	LastStatus          RunStatus `json:"lastStatus,omitempty"`
	LastError           string    `json:"lastError,omitempty"`
	ConsecutiveFailures int       `json:"consecutiveFailures,omitempty"`
}

// Job is a scheduled unit of work.
type Job struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Enabled        bool          `json:"enabled"`
	DeleteAfterRun bool          `json:"deleteAfterRun,omitempty"`
	Schedule       Schedule      `json:"schedule"`
	Payload        Payload       `json:"payload"`
	SessionTarget  SessionTarget `json:"sessionTarget"`
	State          JobState      `json:"state"`
	CreatedAtMS    int64         `json:"createdAtMs"`
	UpdatedAtMS    int64         `json:"updatedAtMs"`
}

// RunRecord is an append-only history entry for one execution attempt.
// It is written exactly once and never mutated; history may outlive the job.
type RunRecord struct {
	JobID        string    `json:"jobId"`
	StartedAtMS  int64     `json:"startedAtMs"`
	FinishedAtMS int64     `json:"finishedAtMs"`
	DurationMS   int64     `json:"durationMs"` // finished - started, stored for query convenience
	Status       RunStatus `json:"status"`
	Error        string    `json:"error,omitempty"`  // present iff status != ok
	Output       string    `json:"output,omitempty"` // captured executor output, truncated
}

// JobCreate is the input for Service.Add.
type JobCreate struct {
	Name           string         `json:"name"`
	Schedule       Schedule       `json:"schedule"`
	Payload        Payload        `json:"payload"`
	SessionTarget  *SessionTarget `json:"sessionTarget,omitempty"` // default: main
	Enabled        *bool          `json:"enabled,omitempty"`       // default: true
	DeleteAfterRun *bool          `json:"deleteAfterRun,omitempty"`
}

// JobPatch holds optional fields for Service.Update.
// Only non-zero/non-nil fields are applied.
type JobPatch struct {
	Name           string         `json:"name,omitempty"`
	Enabled        *bool          `json:"enabled,omitempty"`
	Schedule       *Schedule      `json:"schedule,omitempty"`
	Payload        *Payload       `json:"payload,omitempty"`
	SessionTarget  *SessionTarget `json:"sessionTarget,omitempty"`
	DeleteAfterRun *bool          `json:"deleteAfterRun,omitempty"`
}

// newJobID generates a time-ordered UUIDv7 for a new job.
func newJobID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// nowMS returns the current time in milliseconds.
func nowMS() int64 {
	return time.Now().UnixMilli()
}
