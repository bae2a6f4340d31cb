// Package file provides the file-backed cron store: one JSON document
// holding the full job set and recent run history, rewritten wholesale on
// every mutation.
//
// Writes go to a temp file in the same directory followed by a rename, so a
// crash mid-write never leaves a partially written document. All mutations
// are serialized through one in-process lock; the file is not safe for
// concurrent writer processes (single-writer-process is a documented
// constraint of this backend).
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/cronbox/internal/cron"
)

// maxRunsPerJob bounds the history kept in the document; the oldest records
// are dropped first. The relational backend keeps unbounded history.
const maxRunsPerJob = 500

// document is the on-disk layout.
type document struct {
	Version int                         `json:"version"`
	Jobs    []cron.Job                  `json:"jobs"`
	Runs    map[string][]cron.RunRecord `json:"runs,omitempty"`
}

// Store implements cron.Store over a single JSON document.
type Store struct {
	path string
	mu   sync.Mutex
	doc  document
}

// Compile-time interface check.
var _ cron.Store = (*Store)(nil)

// New opens (or initializes) the store at path. A missing file starts an
// empty document; it is first written on the first mutation.
func New(path string) (*Store, error) {
	s := &Store{
		path: path,
		doc:  document{Version: 1, Runs: make(map[string][]cron.RunRecord)},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read cron store: %w", err)
	}
	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("parse cron store %s: %w", path, err)
	}
	if s.doc.Runs == nil {
		s.doc.Runs = make(map[string][]cron.RunRecord)
	}
	return s, nil
}

// Path returns the document location.
func (s *Store) Path() string { return s.path }

func (s *Store) LoadJobs(_ context.Context) ([]cron.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]cron.Job, len(s.doc.Jobs))
	copy(jobs, s.doc.Jobs)
	return jobs, nil
}

func (s *Store) SaveJob(_ context.Context, job cron.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.doc.Jobs {
		if s.doc.Jobs[i].ID == job.ID {
			s.doc.Jobs[i] = job
			return s.persist()
		}
	}
	s.doc.Jobs = append(s.doc.Jobs, job)
	return s.persist()
}

func (s *Store) UpdateJob(_ context.Context, job cron.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.doc.Jobs {
		if s.doc.Jobs[i].ID == job.ID {
			s.doc.Jobs[i] = job
			return s.persist()
		}
	}
	return fmt.Errorf("%w: %s", cron.ErrNotFound, job.ID)
}

func (s *Store) DeleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.doc.Jobs {
		if s.doc.Jobs[i].ID == id {
			s.doc.Jobs = append(s.doc.Jobs[:i], s.doc.Jobs[i+1:]...)
			// Run history stays in the document until trimmed by cap.
			return s.persist()
		}
	}
	return fmt.Errorf("%w: %s", cron.ErrNotFound, id)
}

func (s *Store) AppendRun(_ context.Context, jobID string, rec cron.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs := append(s.doc.Runs[jobID], rec)
	if len(runs) > maxRunsPerJob {
		runs = runs[len(runs)-maxRunsPerJob:]
	}
	s.doc.Runs[jobID] = runs
	return s.persist()
}

func (s *Store) GetRuns(_ context.Context, jobID string, limit int) ([]cron.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.doc.Runs[jobID]
	runs := make([]cron.RunRecord, len(all))
	copy(runs, all)

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAtMS > runs[j].StartedAtMS
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
		runs[i], runs[j] = runs[j], runs[i]
	}
	return runs, nil
}

func (s *Store) Close() error { return nil }

// persist rewrites the whole document atomically. Callers hold s.mu.
func (s *Store) persist() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	data, err := json.MarshalIndent(&s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cron store: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".cron-jobs-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp store: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp store: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace cron store: %w", err)
	}
	return nil
}
