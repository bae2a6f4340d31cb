package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/cronbox/internal/store/storetest"
)

func TestFileStoreContract(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "cron", "jobs.json"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	storetest.TestStore(t, s)
}

func TestFileStoreReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	ctx := context.Background()

	s, err := New(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.SaveJob(ctx, storetest.Job("persist-1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.AppendRun(ctx, "persist-1", storetest.Run("persist-1", 1000)); err != nil {
		t.Fatalf("append: %v", err)
	}

	// A second store over the same path sees everything the first wrote.
	reopened, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	jobs, err := reopened.LoadJobs(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "persist-1" {
		t.Fatalf("expected persisted job, got %+v", jobs)
	}
	runs, err := reopened.GetRuns(ctx, "persist-1", 10)
	if err != nil {
		t.Fatalf("get runs: %v", err)
	}
	if len(runs) != 1 || runs[0].StartedAtMS != 1000 {
		t.Fatalf("expected persisted run, got %+v", runs)
	}
}

func TestFileStoreMissingFileStartsEmpty(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "does", "not", "exist.json"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	jobs, err := s.LoadJobs(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected empty store, got %d jobs", len(jobs))
	}
}

func TestFileStoreCorruptDocumentRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path); err == nil {
		t.Fatal("expected error for corrupt document")
	}
}

func TestFileStoreNoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jobs.json")
	s, err := New(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := s.SaveJob(ctx, storetest.Job("j")); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestFileStoreRunCap(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "jobs.json"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < maxRunsPerJob+10; i++ {
		if err := s.AppendRun(ctx, "busy", storetest.Run("busy", int64(i))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	runs, err := s.GetRuns(ctx, "busy", maxRunsPerJob*2)
	if err != nil {
		t.Fatalf("get runs: %v", err)
	}
	if len(runs) != maxRunsPerJob {
		t.Fatalf("expected history capped at %d, got %d", maxRunsPerJob, len(runs))
	}
	// The oldest records are the ones dropped.
	if runs[0].StartedAtMS != 10 {
		t.Errorf("expected oldest surviving run at 10, got %d", runs[0].StartedAtMS)
	}
}
