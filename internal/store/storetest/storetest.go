// Package storetest exercises the cron.Store contract. Every backend's test
// suite runs the same battery so the three implementations cannot drift on
// the details that matter: upsert semantics, NotFound errors, and the
// oldest-first run ordering.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nextlevelbuilder/cronbox/internal/cron"
)

// Job builds a minimal valid job for store tests.
func Job(id string) cron.Job {
	at := int64(1000)
	return cron.Job{
		ID:      id,
		Name:    "job-" + id,
		Enabled: true,
		Schedule: cron.Schedule{
			Kind: cron.ScheduleAt,
			AtMS: &at,
		},
		Payload: cron.Payload{
			Kind: cron.PayloadSystemEvent,
			Text: "hi",
		},
		SessionTarget: cron.MainTarget(),
		CreatedAtMS:   1000,
		UpdatedAtMS:   1000,
	}
}

// Run builds a run record starting at startMS.
func Run(jobID string, startMS int64) cron.RunRecord {
	return cron.RunRecord{
		JobID:        jobID,
		StartedAtMS:  startMS,
		FinishedAtMS: startMS + 500,
		DurationMS:   500,
		Status:       cron.RunOK,
	}
}

// TestStore runs the full contract battery against s.
func TestStore(t *testing.T, s cron.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("roundtrip", func(t *testing.T) {
		if err := s.SaveJob(ctx, Job("rt-1")); err != nil {
			t.Fatalf("save: %v", err)
		}
		if err := s.SaveJob(ctx, Job("rt-2")); err != nil {
			t.Fatalf("save: %v", err)
		}

		jobs, err := s.LoadJobs(ctx)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		found := findJob(jobs, "rt-1")
		if found == nil {
			t.Fatal("saved job rt-1 not loaded")
		}
		want := Job("rt-1")
		if found.Name != want.Name || found.Schedule.Kind != want.Schedule.Kind ||
			*found.Schedule.AtMS != *want.Schedule.AtMS || found.Payload.Text != want.Payload.Text {
			t.Errorf("loaded job differs: got %+v", found)
		}
	})

	t.Run("upsert overwrites", func(t *testing.T) {
		job := Job("up-1")
		if err := s.SaveJob(ctx, job); err != nil {
			t.Fatalf("save: %v", err)
		}
		job.Name = "renamed"
		if err := s.SaveJob(ctx, job); err != nil {
			t.Fatalf("second save: %v", err)
		}

		jobs, _ := s.LoadJobs(ctx)
		var count int
		for _, j := range jobs {
			if j.ID == "up-1" {
				count++
				if j.Name != "renamed" {
					t.Errorf("expected overwritten name, got %q", j.Name)
				}
			}
		}
		if count != 1 {
			t.Errorf("expected exactly one job after upsert, got %d", count)
		}
	})

	t.Run("update", func(t *testing.T) {
		job := Job("upd-1")
		if err := s.SaveJob(ctx, job); err != nil {
			t.Fatalf("save: %v", err)
		}
		job.Name = "patched"
		if err := s.UpdateJob(ctx, job); err != nil {
			t.Fatalf("update: %v", err)
		}
		jobs, _ := s.LoadJobs(ctx)
		if got := findJob(jobs, "upd-1"); got == nil || got.Name != "patched" {
			t.Errorf("update not applied: %+v", got)
		}
	})

	t.Run("update not found", func(t *testing.T) {
		err := s.UpdateJob(ctx, Job("ghost"))
		if !errors.Is(err, cron.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := s.SaveJob(ctx, Job("del-1")); err != nil {
			t.Fatalf("save: %v", err)
		}
		if err := s.DeleteJob(ctx, "del-1"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		jobs, _ := s.LoadJobs(ctx)
		if findJob(jobs, "del-1") != nil {
			t.Error("job still present after delete")
		}
	})

	t.Run("delete not found", func(t *testing.T) {
		err := s.DeleteJob(ctx, "nope")
		if !errors.Is(err, cron.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("runs suffix oldest first", func(t *testing.T) {
		if err := s.SaveJob(ctx, Job("runs-1")); err != nil {
			t.Fatalf("save: %v", err)
		}
		for _, start := range []int64{1000, 2000, 3000, 4000, 5000} {
			if err := s.AppendRun(ctx, "runs-1", Run("runs-1", start)); err != nil {
				t.Fatalf("append run: %v", err)
			}
		}

		runs, err := s.GetRuns(ctx, "runs-1", 3)
		if err != nil {
			t.Fatalf("get runs: %v", err)
		}
		if len(runs) != 3 {
			t.Fatalf("expected 3 runs, got %d", len(runs))
		}
		for i, want := range []int64{3000, 4000, 5000} {
			if runs[i].StartedAtMS != want {
				t.Errorf("runs[%d].StartedAtMS = %d, want %d", i, runs[i].StartedAtMS, want)
			}
		}
	})

	t.Run("runs non-positive limit returns all", func(t *testing.T) {
		for _, limit := range []int{0, -1} {
			runs, err := s.GetRuns(ctx, "runs-1", limit)
			if err != nil {
				t.Fatalf("get runs (limit %d): %v", limit, err)
			}
			if len(runs) != 5 {
				t.Errorf("limit %d: expected full history (5 runs), got %d", limit, len(runs))
			}
		}
	})

	t.Run("runs empty", func(t *testing.T) {
		runs, err := s.GetRuns(ctx, "no-such-job", 10)
		if err != nil {
			t.Fatalf("get runs: %v", err)
		}
		if len(runs) != 0 {
			t.Errorf("expected no runs, got %d", len(runs))
		}
	})

	t.Run("runs survive job deletion", func(t *testing.T) {
		if err := s.SaveJob(ctx, Job("hist-1")); err != nil {
			t.Fatalf("save: %v", err)
		}
		if err := s.AppendRun(ctx, "hist-1", Run("hist-1", 7000)); err != nil {
			t.Fatalf("append run: %v", err)
		}
		if err := s.DeleteJob(ctx, "hist-1"); err != nil {
			t.Fatalf("delete: %v", err)
		}

		// Appending for a deleted job must also succeed.
		if err := s.AppendRun(ctx, "hist-1", Run("hist-1", 8000)); err != nil {
			t.Fatalf("append after delete: %v", err)
		}
		runs, err := s.GetRuns(ctx, "hist-1", 10)
		if err != nil {
			t.Fatalf("get runs: %v", err)
		}
		if len(runs) != 2 {
			t.Errorf("expected history to survive deletion, got %d runs", len(runs))
		}
	})

	t.Run("run record fields", func(t *testing.T) {
		rec := cron.RunRecord{
			JobID:        "fields-1",
			StartedAtMS:  100,
			FinishedAtMS: 250,
			DurationMS:   150,
			Status:       cron.RunFailed,
			Error:        "agent timeout",
			Output:       "",
		}
		if err := s.AppendRun(ctx, "fields-1", rec); err != nil {
			t.Fatalf("append run: %v", err)
		}
		runs, err := s.GetRuns(ctx, "fields-1", 1)
		if err != nil {
			t.Fatalf("get runs: %v", err)
		}
		if len(runs) != 1 {
			t.Fatalf("expected 1 run, got %d", len(runs))
		}
		if fmt.Sprintf("%+v", runs[0]) != fmt.Sprintf("%+v", rec) {
			t.Errorf("run record changed in storage:\n got %+v\nwant %+v", runs[0], rec)
		}
	})
}

func findJob(jobs []cron.Job, id string) *cron.Job {
	for i := range jobs {
		if jobs[i].ID == id {
			return &jobs[i]
		}
	}
	return nil
}
