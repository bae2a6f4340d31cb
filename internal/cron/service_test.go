package cron

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"
)

// memStore is an in-package Store fake. The real backends live outside this
// package (importing one here would be a cycle), and service tests want a
// store they can inspect directly anyway.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]Job
	runs map[string][]RunRecord

	failAppend bool
}

func newMemStore() *memStore {
	return &memStore{
		jobs: make(map[string]Job),
		runs: make(map[string][]RunRecord),
	}
}

func (m *memStore) LoadJobs(ctx context.Context) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (m *memStore) SaveJob(ctx context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

func (m *memStore) UpdateJob(ctx context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, job.ID)
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *memStore) DeleteJob(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.jobs, id)
	return nil
}

func (m *memStore) AppendRun(ctx context.Context, jobID string, rec RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppend {
		return errors.New("append refused")
	}
	m.runs[jobID] = append(m.runs[jobID], rec)
	return nil
}

func (m *memStore) GetRuns(ctx context.Context, jobID string, limit int) ([]RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := append([]RunRecord(nil), m.runs[jobID]...)
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAtMS < runs[j].StartedAtMS })
	if len(runs) > limit {
		runs = runs[len(runs)-limit:]
	}
	return runs, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) job(t *testing.T, id string) *Job {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		return &j
	}
	return nil
}

func (m *memStore) runRecords(id string) []RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RunRecord(nil), m.runs[id]...)
}

// noRetry keeps failure tests from sleeping through backoff.
func noRetry() *RetryConfig {
	return &RetryConfig{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func newTestService(store *memStore, exec Executor) *Service {
	return NewService(store, Options{Executor: exec, Retry: noRetry()})
}

func everyCreate(name string) JobCreate {
	return JobCreate{
		Name:     name,
		Schedule: everySchedule(60_000),
		Payload:  Payload{Kind: PayloadSystemEvent, Text: "ping"},
	}
}

func TestAddDefaults(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil)
	ctx := context.Background()

	job, err := svc.Add(ctx, everyCreate("heartbeat"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if job.ID == "" {
		t.Error("expected generated id")
	}
	if !job.Enabled {
		t.Error("jobs default to enabled")
	}
	if job.DeleteAfterRun {
		t.Error("recurring jobs must not default to deleteAfterRun")
	}
	if job.SessionTarget.Kind != TargetMain {
		t.Errorf("expected main session target, got %q", job.SessionTarget.Kind)
	}
	if job.State.NextRunAtMS == nil {
		t.Error("enabled job should have a computed next fire")
	}
	if store.job(t, job.ID) == nil {
		t.Error("job not persisted")
	}

	oneShot, err := svc.Add(ctx, JobCreate{
		Name:     "reminder",
		Schedule: atSchedule(nowMS() + time.Hour.Milliseconds()),
		Payload:  Payload{Kind: PayloadAgentTurn, Message: "remind me"},
	})
	if err != nil {
		t.Fatalf("add one-shot: %v", err)
	}
	if !oneShot.DeleteAfterRun {
		t.Error("one-time jobs default to deleteAfterRun")
	}
}

func TestAddValidationPersistsNothing(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil)
	ctx := context.Background()

	cases := []JobCreate{
		{Name: "", Schedule: everySchedule(1000), Payload: Payload{Kind: PayloadSystemEvent, Text: "x"}},
		{Name: "bad-cron", Schedule: cronSchedule("99 * * * *"), Payload: Payload{Kind: PayloadSystemEvent, Text: "x"}},
		{Name: "bad-payload", Schedule: everySchedule(1000), Payload: Payload{Kind: "shell"}},
	}
	for _, create := range cases {
		if _, err := svc.Add(ctx, create); err == nil {
			t.Errorf("expected validation error for %+v", create)
		}
	}

	jobs, _ := store.LoadJobs(ctx)
	if len(jobs) != 0 {
		t.Fatalf("validation failure persisted %d jobs", len(jobs))
	}
}

func TestPastOneTimeScheduleRejected(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil)
	ctx := context.Background()

	// A job whose "at" already passed would never be claimed; refuse it.
	_, err := svc.Add(ctx, JobCreate{
		Name:     "stale",
		Schedule: atSchedule(nowMS() - 1000),
		Payload:  Payload{Kind: PayloadSystemEvent, Text: "x"},
	})
	if !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule, got %v", err)
	}
	jobs, _ := store.LoadJobs(ctx)
	if len(jobs) != 0 {
		t.Fatalf("rejected add persisted %d jobs", len(jobs))
	}

	job, err := svc.Add(ctx, everyCreate("patched"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	past := atSchedule(nowMS() - 1000)
	if _, err := svc.Update(ctx, job.ID, JobPatch{Schedule: &past}); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule on update, got %v", err)
	}
	if got := store.job(t, job.ID); got.Schedule.Kind != ScheduleEvery {
		t.Error("failed update must not persist")
	}
}

func TestUpdatePatch(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil)
	ctx := context.Background()

	job, err := svc.Add(ctx, everyCreate("original"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	sched := cronSchedule("*/5 * * * *")
	updated, err := svc.Update(ctx, job.ID, JobPatch{Name: "renamed", Schedule: &sched})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "renamed" {
		t.Errorf("name not patched: %q", updated.Name)
	}
	if updated.Schedule.Kind != ScheduleCron {
		t.Errorf("schedule not patched: %+v", updated.Schedule)
	}
	if updated.Payload.Text != "ping" {
		t.Error("unpatched fields must survive")
	}
	if updated.State.NextRunAtMS == nil {
		t.Error("schedule change should recompute next fire")
	}

	bad := cronSchedule("99 * * * *")
	if _, err := svc.Update(ctx, job.ID, JobPatch{Schedule: &bad}); err == nil {
		t.Fatal("expected validation error")
	}
	if got := store.job(t, job.ID); got.Schedule.Expr != "*/5 * * * *" {
		t.Error("failed update must not persist")
	}

	off := false
	disabled, err := svc.Update(ctx, job.ID, JobPatch{Enabled: &off})
	if err != nil {
		t.Fatalf("disable: %v", err)
	}
	if disabled.State.NextRunAtMS != nil {
		t.Error("disabled job must not carry a next fire")
	}

	if _, err := svc.Update(ctx, "ghost", JobPatch{Name: "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil)
	ctx := context.Background()

	job, _ := svc.Add(ctx, everyCreate("doomed"))
	if err := svc.Remove(ctx, job.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if store.job(t, job.ID) != nil {
		t.Error("job still present")
	}
	if err := svc.Remove(ctx, job.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRunRecordsSuccess(t *testing.T) {
	store := newMemStore()
	exec := ExecutorFunc(func(ctx context.Context, job *Job) (string, error) {
		return "agent said hi", nil
	})
	svc := newTestService(store, exec)
	ctx := context.Background()

	job, _ := svc.Add(ctx, everyCreate("worker"))
	if err := svc.Run(ctx, job.ID, true); err != nil {
		t.Fatalf("run: %v", err)
	}

	runs := store.runRecords(job.ID)
	if len(runs) != 1 {
		t.Fatalf("expected 1 run record, got %d", len(runs))
	}
	rec := runs[0]
	if rec.Status != RunOK {
		t.Errorf("status = %q, want ok", rec.Status)
	}
	if rec.Output != "agent said hi" {
		t.Errorf("output = %q", rec.Output)
	}
	if rec.FinishedAtMS < rec.StartedAtMS {
		t.Error("finished before started")
	}

	after := store.job(t, job.ID)
	if after.State.LastStatus != RunOK {
		t.Errorf("last status = %q", after.State.LastStatus)
	}
	if after.State.LastRunAtMS == nil || *after.State.LastRunAtMS != rec.StartedAtMS {
		t.Error("lastRunAt should match the record start")
	}
	if after.State.NextRunAtMS == nil {
		t.Error("recurring job should have its next fire recomputed")
	}
}

func TestRunRecordsFailure(t *testing.T) {
	store := newMemStore()
	exec := ExecutorFunc(func(ctx context.Context, job *Job) (string, error) {
		return "", errors.New("agent unreachable")
	})
	svc := newTestService(store, exec)
	ctx := context.Background()

	job, _ := svc.Add(ctx, everyCreate("flaky"))
	if err := svc.Run(ctx, job.ID, true); err != nil {
		t.Fatalf("run should not surface executor errors: %v", err)
	}

	runs := store.runRecords(job.ID)
	if len(runs) != 1 || runs[0].Status != RunFailed {
		t.Fatalf("expected 1 failed record, got %+v", runs)
	}
	if runs[0].Error != "agent unreachable" {
		t.Errorf("error = %q", runs[0].Error)
	}

	after := store.job(t, job.ID)
	if after.State.ConsecutiveFailures != 1 {
		t.Errorf("consecutiveFailures = %d, want 1", after.State.ConsecutiveFailures)
	}
	if !after.Enabled {
		t.Error("a single failure must not disable the job")
	}
}

func TestRunNoExecutor(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil)
	ctx := context.Background()

	job, _ := svc.Add(ctx, everyCreate("orphan"))
	if err := svc.Run(ctx, job.ID, true); !errors.Is(err, ErrNoExecutor) {
		t.Errorf("expected ErrNoExecutor, got %v", err)
	}
	if len(store.runRecords(job.ID)) != 0 {
		t.Error("no record without an executor")
	}
}

func TestRunDisabledDroppedUnlessForced(t *testing.T) {
	store := newMemStore()
	var calls int
	exec := ExecutorFunc(func(ctx context.Context, job *Job) (string, error) {
		calls++
		return "", nil
	})
	svc := newTestService(store, exec)
	ctx := context.Background()

	off := false
	job, _ := svc.Add(ctx, JobCreate{
		Name:     "paused",
		Schedule: everySchedule(1000),
		Payload:  Payload{Kind: PayloadSystemEvent, Text: "x"},
		Enabled:  &off,
	})

	if err := svc.Run(ctx, job.ID, false); err != nil {
		t.Fatalf("non-forced run of disabled job: %v", err)
	}
	if calls != 0 || len(store.runRecords(job.ID)) != 0 {
		t.Error("disabled job must be dropped quietly")
	}

	// Forced runs bypass the enabled flag.
	if err := svc.Run(ctx, job.ID, true); err != nil {
		t.Fatalf("forced run: %v", err)
	}
	if calls != 1 {
		t.Errorf("forced run should execute, calls = %d", calls)
	}
}

func TestConcurrentForceRunsMutuallyExclude(t *testing.T) {
	store := newMemStore()
	block := make(chan struct{})
	started := make(chan struct{}, 2)
	exec := ExecutorFunc(func(ctx context.Context, job *Job) (string, error) {
		started <- struct{}{}
		<-block
		return "slow", nil
	})
	svc := newTestService(store, exec)
	ctx := context.Background()

	job, _ := svc.Add(ctx, everyCreate("exclusive"))

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx, job.ID, true) }()
	<-started // first run holds the lock inside the executor

	// Second attempt must not block; it records a skip and returns.
	if err := svc.Run(ctx, job.ID, true); err != nil {
		t.Fatalf("second run: %v", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}

	runs := store.runRecords(job.ID)
	if len(runs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(runs))
	}
	var ok, skipped int
	for _, r := range runs {
		switch r.Status {
		case RunOK:
			ok++
		case RunSkipped:
			skipped++
		}
	}
	if ok != 1 || skipped != 1 {
		t.Errorf("expected exactly one ok and one skipped record, got ok=%d skipped=%d", ok, skipped)
	}
}

func TestDeleteAfterRunRemovesJob(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
	}{
		{"on success", nil},
		{"on failure", errors.New("boom")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemStore()
			exec := ExecutorFunc(func(ctx context.Context, job *Job) (string, error) {
				return "", tc.err
			})
			svc := newTestService(store, exec)
			ctx := context.Background()

			job, err := svc.Add(ctx, JobCreate{
				Name:     "one-shot",
				Schedule: atSchedule(nowMS() + time.Hour.Milliseconds()),
				Payload:  Payload{Kind: PayloadSystemEvent, Text: "x"},
			})
			if err != nil {
				t.Fatalf("add: %v", err)
			}
			if err := svc.Run(ctx, job.ID, true); err != nil {
				t.Fatalf("run: %v", err)
			}

			if store.job(t, job.ID) != nil {
				t.Error("one-shot job should be removed after any completed attempt")
			}
			if len(store.runRecords(job.ID)) != 1 {
				t.Error("run record must outlive the job")
			}
		})
	}
}

func TestExhaustedOneTimeScheduleDisables(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, ExecutorFunc(func(ctx context.Context, job *Job) (string, error) {
		return "", nil
	}))
	ctx := context.Background()

	keep := false
	job, _ := svc.Add(ctx, JobCreate{
		Name:           "keepsake",
		Schedule:       atSchedule(nowMS() + time.Hour.Milliseconds()),
		Payload:        Payload{Kind: PayloadSystemEvent, Text: "x"},
		DeleteAfterRun: &keep,
	})
	if err := svc.Run(ctx, job.ID, true); err != nil {
		t.Fatalf("run: %v", err)
	}

	after := store.job(t, job.ID)
	if after == nil {
		t.Fatal("job should survive with deleteAfterRun=false")
	}
	if after.Enabled {
		t.Error("exhausted one-time schedule should leave the job disabled")
	}
	if after.State.NextRunAtMS != nil {
		t.Error("exhausted schedule has no next fire")
	}
}

func TestAutoDisableAfterConsecutiveFailures(t *testing.T) {
	store := newMemStore()
	exec := ExecutorFunc(func(ctx context.Context, job *Job) (string, error) {
		return "", errors.New("still broken")
	})
	svc := NewService(store, Options{
		Executor:               exec,
		Retry:                  noRetry(),
		MaxConsecutiveFailures: 2,
	})
	ctx := context.Background()

	job, _ := svc.Add(ctx, everyCreate("lemon"))

	if err := svc.Run(ctx, job.ID, true); err != nil {
		t.Fatalf("run 1: %v", err)
	}
	if got := store.job(t, job.ID); !got.Enabled {
		t.Fatal("disabled too early")
	}

	if err := svc.Run(ctx, job.ID, true); err != nil {
		t.Fatalf("run 2: %v", err)
	}
	after := store.job(t, job.ID)
	if after.Enabled {
		t.Error("job should be disabled after hitting the failure threshold")
	}
	if after.State.ConsecutiveFailures != 2 {
		t.Errorf("consecutiveFailures = %d, want 2", after.State.ConsecutiveFailures)
	}
}

func TestClaimDue(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil)
	ctx := context.Background()
	now := nowMS()

	seed := func(id string, enabled bool, next *int64) {
		job := Job{
			ID:          id,
			Name:        id,
			Enabled:     enabled,
			Schedule:    everySchedule(60_000),
			Payload:     Payload{Kind: PayloadSystemEvent, Text: "x"},
			CreatedAtMS: now - 120_000,
			UpdatedAtMS: now - 120_000,
		}
		job.State.NextRunAtMS = next
		if err := store.SaveJob(ctx, job); err != nil {
			t.Fatal(err)
		}
	}
	past, future := now-1000, now+60_000
	seed("due", true, &past)
	seed("later", true, &future)
	seed("off", false, &past)
	seed("uncached", true, nil) // created 2m ago, never fired: due on recompute

	due, err := svc.claimDue(ctx, now)
	if err != nil {
		t.Fatalf("claimDue: %v", err)
	}

	ids := make(map[string]bool)
	for _, j := range due {
		ids[j.ID] = true
	}
	if !ids["due"] || !ids["uncached"] || len(ids) != 2 {
		t.Fatalf("due set = %v, want {due, uncached}", ids)
	}

	// Claimed jobs have their cached fire cleared so the next tick cannot
	// dispatch the same fire again.
	if store.job(t, "due").State.NextRunAtMS != nil {
		t.Error("claimed job still carries a next fire")
	}
	if store.job(t, "later").State.NextRunAtMS == nil {
		t.Error("unclaimed job lost its next fire")
	}

	again, err := svc.claimDue(ctx, now)
	if err != nil {
		t.Fatalf("second claimDue: %v", err)
	}
	for _, j := range again {
		if j.ID == "due" {
			t.Error("same fire claimed twice")
		}
	}
}

func TestRunsDefaultLimit(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil)
	ctx := context.Background()

	for i := 0; i < DefaultRunsLimit+10; i++ {
		rec := RunRecord{JobID: "busy", StartedAtMS: int64(i * 1000), Status: RunOK}
		if err := store.AppendRun(ctx, "busy", rec); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := svc.Runs(ctx, "busy", 0)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != DefaultRunsLimit {
		t.Fatalf("expected default limit %d, got %d", DefaultRunsLimit, len(runs))
	}
	if runs[0].StartedAtMS >= runs[len(runs)-1].StartedAtMS {
		t.Error("runs should be oldest-first")
	}
}

func TestStatusSnapshot(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := svc.Add(ctx, everyCreate(fmt.Sprintf("job-%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	off := false
	if _, err := svc.Add(ctx, JobCreate{
		Name:     "paused",
		Schedule: everySchedule(1000),
		Payload:  Payload{Kind: PayloadSystemEvent, Text: "x"},
		Enabled:  &off,
	}); err != nil {
		t.Fatal(err)
	}

	snap, err := svc.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if snap.Jobs != 6 || snap.Enabled != 5 || snap.Disabled != 1 {
		t.Errorf("counts = %d/%d/%d, want 6/5/1", snap.Jobs, snap.Enabled, snap.Disabled)
	}
	if snap.Running {
		t.Error("no scheduler started, running must be false")
	}
	if len(snap.NextDue) != 3 {
		t.Errorf("nextDue should be capped at 3, got %d", len(snap.NextDue))
	}
	if snap.NextWakeAtMS == nil {
		t.Error("expected a next wake time")
	}
	for i := 1; i < len(snap.NextDue); i++ {
		if snap.NextDue[i].NextRunAtMS < snap.NextDue[i-1].NextRunAtMS {
			t.Error("nextDue not sorted")
		}
	}
}

func TestEnableRecomputesNextFire(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil)
	ctx := context.Background()

	job, _ := svc.Add(ctx, everyCreate("toggle"))

	disabled, err := svc.Enable(ctx, job.ID, false)
	if err != nil {
		t.Fatalf("disable: %v", err)
	}
	if disabled.State.NextRunAtMS != nil {
		t.Error("disabled job must not carry a next fire")
	}

	enabled, err := svc.Enable(ctx, job.ID, true)
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	if enabled.State.NextRunAtMS == nil {
		t.Error("re-enabled job should have a next fire")
	}
}
