package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultRunsLimit is the run-history page size when the caller passes none.
const DefaultRunsLimit = 20

// Options tunes a Service. Zero values fall back to defaults.
type Options struct {
	Executor    Executor
	Retry       *RetryConfig
	ExecTimeout time.Duration // per-attempt budget handed to the executor, 0 = none

	// MaxConsecutiveFailures disables a job after this many failed attempts
	// in a row. 0 means never auto-disable.
	MaxConsecutiveFailures int
}

// Service is the orchestration facade over a Store: job CRUD, run triggering
// with per-job mutual exclusion, and run-history recording. All job mutation
// is serialized through one mutex; executions run outside it.
type Service struct {
	store Store

	mu sync.Mutex // serializes job mutation and due-claiming

	execMu   sync.Mutex
	executor Executor

	locksMu sync.Mutex
	locks   map[string]chan struct{} // per-job execution locks, lazily created

	retryCfg    RetryConfig
	execTimeout time.Duration
	maxFailures int

	stateMu sync.Mutex
	running bool
	lastErr string
}

// NewService creates a cron service over the given store.
func NewService(store Store, opts Options) *Service {
	retry := DefaultRetryConfig()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	return &Service{
		store:       store,
		executor:    opts.Executor,
		locks:       make(map[string]chan struct{}),
		retryCfg:    retry,
		execTimeout: opts.ExecTimeout,
		maxFailures: opts.MaxConsecutiveFailures,
	}
}

// SetExecutor attaches or replaces the execution collaborator.
func (s *Service) SetExecutor(exec Executor) {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	s.executor = exec
}

// SetRetryConfig replaces the retry configuration for future attempts.
func (s *Service) SetRetryConfig(cfg RetryConfig) {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	s.retryCfg = cfg
}

// Store exposes the underlying store (read paths for the CLI).
func (s *Service) Store() Store { return s.store }

// List returns all jobs sorted by creation time.
func (s *Service) List(ctx context.Context) ([]Job, error) {
	jobs, err := s.store.LoadJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAtMS != jobs[j].CreatedAtMS {
			return jobs[i].CreatedAtMS < jobs[j].CreatedAtMS
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs, nil
}

// Get returns a job by id.
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	jobs, err := s.store.LoadJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	for i := range jobs {
		if jobs[i].ID == id {
			job := jobs[i]
			return &job, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Add validates a job spec, assigns an id and timestamps, persists it and
// returns the created job. Nothing is persisted on validation failure.
func (s *Service) Add(ctx context.Context, create JobCreate) (*Job, error) {
	if create.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidPayload)
	}
	if err := ValidateSchedule(create.Schedule); err != nil {
		return nil, err
	}
	if err := validateNotExhausted(create.Schedule); err != nil {
		return nil, err
	}
	if err := ValidatePayload(create.Payload); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowMS()
	job := Job{
		ID:            newJobID(),
		Name:          create.Name,
		Enabled:       true,
		Schedule:      create.Schedule,
		Payload:       create.Payload,
		SessionTarget: MainTarget(),
		CreatedAtMS:   now,
		UpdatedAtMS:   now,
		// One-time schedules default to self-removal after their run.
		DeleteAfterRun: create.Schedule.Kind == ScheduleAt,
	}
	if create.SessionTarget != nil {
		job.SessionTarget = *create.SessionTarget
	}
	if create.Enabled != nil {
		job.Enabled = *create.Enabled
	}
	if create.DeleteAfterRun != nil {
		job.DeleteAfterRun = *create.DeleteAfterRun
	}
	if job.Enabled {
		job.State.NextRunAtMS = NextFireForJob(&job, now)
	}

	if err := s.store.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	slog.Info("cron job added", "id", job.ID, "name", job.Name, "kind", job.Schedule.Kind)
	return &job, nil
}

// Update applies a partial patch to a job and returns the updated job.
// A patched schedule or payload is re-validated before anything is written.
func (s *Service) Update(ctx context.Context, id string, patch JobPatch) (*Job, error) {
	if patch.Schedule != nil {
		if err := ValidateSchedule(*patch.Schedule); err != nil {
			return nil, err
		}
		if err := validateNotExhausted(*patch.Schedule); err != nil {
			return nil, err
		}
	}
	if patch.Payload != nil {
		if err := ValidatePayload(*patch.Payload); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.findJob(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != "" {
		job.Name = patch.Name
	}
	if patch.Enabled != nil {
		job.Enabled = *patch.Enabled
	}
	if patch.Schedule != nil {
		job.Schedule = *patch.Schedule
	}
	if patch.Payload != nil {
		job.Payload = *patch.Payload
	}
	if patch.SessionTarget != nil {
		job.SessionTarget = *patch.SessionTarget
	}
	if patch.DeleteAfterRun != nil {
		job.DeleteAfterRun = *patch.DeleteAfterRun
	}

	now := nowMS()
	job.UpdatedAtMS = now
	if job.Enabled {
		job.State.NextRunAtMS = NextFireForJob(job, now)
	} else {
		job.State.NextRunAtMS = nil
	}

	if err := s.store.UpdateJob(ctx, *job); err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}

	slog.Info("cron job updated", "id", id)
	return job, nil
}

// Remove deletes a job. Run history for it is kept where the backend can.
func (s *Service) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.DeleteJob(ctx, id); err != nil {
		return err
	}
	s.evictRunLock(id)
	slog.Info("cron job removed", "id", id)
	return nil
}

// Enable toggles a job's enabled flag, recomputing or clearing its next fire.
func (s *Service) Enable(ctx context.Context, id string, enabled bool) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.findJob(ctx, id)
	if err != nil {
		return nil, err
	}

	now := nowMS()
	job.Enabled = enabled
	job.UpdatedAtMS = now
	if enabled {
		job.State.NextRunAtMS = NextFireForJob(job, now)
	} else {
		job.State.NextRunAtMS = nil
	}

	if err := s.store.UpdateJob(ctx, *job); err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}

	slog.Info("cron job toggled", "id", id, "enabled", enabled)
	return job, nil
}

// Runs returns up to `limit` most recent run records, oldest-first.
func (s *Service) Runs(ctx context.Context, id string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = DefaultRunsLimit
	}
	runs, err := s.store.GetRuns(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("get runs: %w", err)
	}
	return runs, nil
}

// Run executes a job now. With force=true the enabled flag and due time are
// ignored; force=false is the scheduler-loop path for naturally due jobs.
//
// The per-job execution lock is try-acquired: if a previous run for the same
// job is still in flight, this attempt records a skipped run and returns
// without blocking. Every attempt appends exactly one run record before the
// lock is released. An executor failure is recorded, not returned — the
// contract of Run is "an attempt was made", not "the attempt succeeded".
func (s *Service) Run(ctx context.Context, id string, force bool) error {
	s.mu.Lock()
	job, err := s.findJob(ctx, id)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if !force && !job.Enabled {
		// Raced with a concurrent disable; not an error, nothing to record.
		slog.Debug("cron run dropped, job disabled", "id", id)
		return nil
	}

	s.execMu.Lock()
	exec := s.executor
	retry := s.retryCfg
	s.execMu.Unlock()
	if exec == nil {
		return ErrNoExecutor
	}

	release, ok := s.acquireRunLock(job.ID)
	if !ok {
		s.appendSkipped(ctx, job.ID, "previous run still in flight")
		return nil
	}
	defer release()

	slog.Info("cron executing job", "id", job.ID, "name", job.Name, "force", force)

	started := nowMS()
	runCtx := ctx
	if s.execTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.execTimeout)
		defer cancel()
	}
	output, tries, execErr := executeWithRetry(runCtx, exec, job, retry)
	finished := nowMS()

	if tries > 1 {
		slog.Info("cron job retried", "id", job.ID, "tries", tries, "success", execErr == nil)
	}

	rec := RunRecord{
		JobID:        job.ID,
		StartedAtMS:  started,
		FinishedAtMS: finished,
		DurationMS:   finished - started,
	}
	if execErr != nil {
		rec.Status = RunFailed
		rec.Error = execErr.Error()
		slog.Error("cron job failed", "id", job.ID, "error", execErr)
	} else {
		rec.Status = RunOK
		rec.Output = truncateOutput(output)
		slog.Info("cron job completed", "id", job.ID, "duration_ms", rec.DurationMS)
	}

	if err := s.store.AppendRun(ctx, job.ID, rec); err != nil {
		slog.Error("cron run record write failed", "id", job.ID, "error", err)
		s.noteError(err)
	}
	s.settleRun(ctx, job.ID, rec)
	return nil
}

// claimDue returns the jobs due at `now` and clears their cached next-fire
// so a tick cannot dispatch the same fire twice. Jobs missing a cached
// next-fire (fresh start, just enabled, crash mid-run) are recomputed first.
func (s *Service) claimDue(ctx context.Context, now int64) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.store.LoadJobs(ctx)
	if err != nil {
		s.noteError(err)
		return nil, fmt.Errorf("load jobs: %w", err)
	}

	var due []Job
	for i := range jobs {
		job := &jobs[i]
		if !job.Enabled {
			continue
		}
		if job.State.NextRunAtMS == nil {
			next := NextFireForJob(job, now)
			if next == nil {
				continue
			}
			job.State.NextRunAtMS = next
			if err := s.store.UpdateJob(ctx, *job); err != nil {
				slog.Warn("cron next-fire update failed", "id", job.ID, "error", err)
				continue
			}
		}
		if *job.State.NextRunAtMS > now {
			continue
		}

		job.State.NextRunAtMS = nil
		if err := s.store.UpdateJob(ctx, *job); err != nil {
			slog.Warn("cron due claim failed", "id", job.ID, "error", err)
			s.noteError(err)
			continue
		}
		due = append(due, *job)
	}
	return due, nil
}

// settleRun folds a finished attempt back into the job: scheduling state,
// failure counters, one-shot removal. The job may have been deleted while
// running; the run record stands either way.
func (s *Service) settleRun(ctx context.Context, id string, rec RunRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.findJob(ctx, id)
	if err != nil {
		return
	}

	now := nowMS()
	job.State.LastRunAtMS = &rec.StartedAtMS
	job.State.LastStatus = rec.Status
	job.State.LastError = rec.Error
	if rec.Status == RunFailed {
		job.State.ConsecutiveFailures++
	} else {
		job.State.ConsecutiveFailures = 0
	}

	// Any completed attempt, success or failure, removes a one-shot job.
	if job.DeleteAfterRun {
		if err := s.store.DeleteJob(ctx, id); err != nil {
			slog.Error("cron one-shot cleanup failed", "id", id, "error", err)
			s.noteError(err)
			return
		}
		slog.Info("cron one-shot job removed", "id", id)
		return
	}

	job.State.NextRunAtMS = NextFireForJob(job, now)
	if job.State.NextRunAtMS == nil {
		// Exhausted schedule ("at" without deleteAfterRun): park the job.
		job.Enabled = false
	}
	if s.maxFailures > 0 && job.State.ConsecutiveFailures >= s.maxFailures {
		job.Enabled = false
		job.State.NextRunAtMS = nil
		slog.Warn("cron job disabled after repeated failures",
			"id", id, "failures", job.State.ConsecutiveFailures)
	}
	job.UpdatedAtMS = now

	if err := s.store.UpdateJob(ctx, *job); err != nil {
		slog.Error("cron state update failed", "id", id, "error", err)
		s.noteError(err)
	}
}

// appendSkipped records a lock-contention skip. A skip is a successful
// no-op outcome, not an error; it still leaves a history entry.
func (s *Service) appendSkipped(ctx context.Context, id, reason string) {
	now := nowMS()
	rec := RunRecord{
		JobID:        id,
		StartedAtMS:  now,
		FinishedAtMS: now,
		Status:       RunSkipped,
		Error:        reason,
	}
	if err := s.store.AppendRun(ctx, id, rec); err != nil {
		slog.Error("cron skip record write failed", "id", id, "error", err)
		s.noteError(err)
	}
	slog.Info("cron run skipped", "id", id, "reason", reason)
}

// validateNotExhausted rejects an "at" schedule whose instant has already
// passed. Such a job would compute no next fire, never be claimed, and sit
// in the store forever; refusing it at the door beats a silent zombie.
func validateNotExhausted(sched Schedule) error {
	if sched.Kind == ScheduleAt && sched.AtMS != nil && *sched.AtMS <= nowMS() {
		return fmt.Errorf("%w: at time %d is in the past", ErrInvalidSchedule, *sched.AtMS)
	}
	return nil
}

// findJob loads a job by id. Callers hold s.mu.
func (s *Service) findJob(ctx context.Context, id string) (*Job, error) {
	jobs, err := s.store.LoadJobs(ctx)
	if err != nil {
		s.noteError(err)
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	for i := range jobs {
		if jobs[i].ID == id {
			job := jobs[i]
			return &job, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// --- Per-job execution locks ---

func (s *Service) acquireRunLock(id string) (release func(), ok bool) {
	s.locksMu.Lock()
	ch, found := s.locks[id]
	if !found {
		ch = make(chan struct{}, 1)
		s.locks[id] = ch
	}
	s.locksMu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, true
	default:
		return nil, false
	}
}

// evictRunLock drops the lock entry for a removed job. An in-flight run
// keeps its own channel reference, so eviction never unblocks a holder.
func (s *Service) evictRunLock(id string) {
	s.locksMu.Lock()
	delete(s.locks, id)
	s.locksMu.Unlock()
}

// --- Status ---

// DueSoon is one upcoming fire in a status snapshot.
type DueSoon struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	NextRunAtMS int64  `json:"nextRunAtMs"`
}

// StatusSnapshot is the read-only aggregate returned by Status.
type StatusSnapshot struct {
	Running      bool      `json:"running"`
	Jobs         int       `json:"jobs"`
	Enabled      int       `json:"enabled"`
	Disabled     int       `json:"disabled"`
	NextWakeAtMS *int64    `json:"nextWakeAtMs,omitempty"`
	NextDue      []DueSoon `json:"nextDue,omitempty"`
	LastError    string    `json:"lastError,omitempty"`
}

// Status returns a snapshot summary. Read-only, no side effects.
func (s *Service) Status(ctx context.Context) (*StatusSnapshot, error) {
	jobs, err := s.store.LoadJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}

	snap := &StatusSnapshot{Jobs: len(jobs)}
	for _, job := range jobs {
		if job.Enabled {
			snap.Enabled++
		} else {
			snap.Disabled++
		}
		if job.Enabled && job.State.NextRunAtMS != nil {
			snap.NextDue = append(snap.NextDue, DueSoon{
				ID:          job.ID,
				Name:        job.Name,
				NextRunAtMS: *job.State.NextRunAtMS,
			})
		}
	}
	sort.Slice(snap.NextDue, func(i, j int) bool {
		return snap.NextDue[i].NextRunAtMS < snap.NextDue[j].NextRunAtMS
	})
	if len(snap.NextDue) > 0 {
		snap.NextWakeAtMS = &snap.NextDue[0].NextRunAtMS
	}
	if len(snap.NextDue) > 3 {
		snap.NextDue = snap.NextDue[:3]
	}

	s.stateMu.Lock()
	snap.Running = s.running
	snap.LastError = s.lastErr
	s.stateMu.Unlock()
	return snap, nil
}

func (s *Service) markRunning(running bool) {
	s.stateMu.Lock()
	s.running = running
	s.stateMu.Unlock()
}

func (s *Service) noteError(err error) {
	s.stateMu.Lock()
	s.lastErr = err.Error()
	s.stateMu.Unlock()
}
