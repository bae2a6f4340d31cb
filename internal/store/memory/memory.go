// Package memory provides the in-memory cron store: process-lifetime only,
// used for tests and ephemeral setups. A single mutex guards both the job
// and run collections.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/cronbox/internal/cron"
)

// Store implements cron.Store in process memory.
type Store struct {
	mu   sync.Mutex
	jobs map[string]cron.Job
	runs map[string][]cron.RunRecord // per job, in append order
}

// Compile-time interface check.
var _ cron.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		jobs: make(map[string]cron.Job),
		runs: make(map[string][]cron.RunRecord),
	}
}

func (s *Store) LoadJobs(_ context.Context) ([]cron.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]cron.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *Store) SaveJob(_ context.Context, job cron.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *Store) UpdateJob(_ context.Context, job cron.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; !ok {
		return fmt.Errorf("%w: %s", cron.ErrNotFound, job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *Store) DeleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return fmt.Errorf("%w: %s", cron.ErrNotFound, id)
	}
	delete(s.jobs, id)
	// Run history is kept; it may outlive the job.
	return nil
}

func (s *Store) AppendRun(_ context.Context, jobID string, rec cron.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[jobID] = append(s.runs[jobID], rec)
	return nil
}

func (s *Store) GetRuns(_ context.Context, jobID string, limit int) ([]cron.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.runs[jobID]
	runs := make([]cron.RunRecord, len(all))
	copy(runs, all)

	// Most recent `limit`, presented oldest-first: sort descending by start
	// time, truncate, reverse. Same convention as every other backend.
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
