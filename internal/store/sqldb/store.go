package sqldb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/nextlevelbuilder/cronbox/internal/cron"
)

// Store implements cron.Store over SQLite or Postgres. Concurrent readers
// and writers are handled by the database's own transaction isolation.
type Store struct {
	db *sqlx.DB
}

// Compile-time interface check.
var _ cron.Store = (*Store)(nil)

// runRow mirrors the cron_runs table.
type runRow struct {
	JobID        string  `db:"job_id"`
	StartedAtMS  int64   `db:"started_at_ms"`
	FinishedAtMS int64   `db:"finished_at_ms"`
	DurationMS   int64   `db:"duration_ms"`
	Status       string  `db:"status"`
	Error        *string `db:"error"`
	Output       *string `db:"output"`
}

func (s *Store) LoadJobs(ctx context.Context) ([]cron.Job, error) {
	var blobs []string
	if err := s.db.SelectContext(ctx, &blobs, "SELECT data FROM cron_jobs"); err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}

	jobs := make([]cron.Job, 0, len(blobs))
	for _, data := range blobs {
		var job cron.Job
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			return nil, fmt.Errorf("decode job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *Store) SaveJob(ctx context.Context, job cron.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	q := s.db.Rebind(`INSERT INTO cron_jobs (id, data) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET data = excluded.data`)
	if _, err := s.db.ExecContext(ctx, q, job.ID, string(data)); err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

func (s *Store) UpdateJob(ctx context.Context, job cron.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	q := s.db.Rebind("UPDATE cron_jobs SET data = ? WHERE id = ?")
	res, err := s.db.ExecContext(ctx, q, string(data), job.ID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", cron.ErrNotFound, job.ID)
	}
	return nil
}

func (s *Store) DeleteJob(ctx context.Context, id string) error {
	q := s.db.Rebind("DELETE FROM cron_jobs WHERE id = ?")
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", cron.ErrNotFound, id)
	}
	// cron_runs rows are kept on purpose; history outlives the job.
	return nil
}

func (s *Store) AppendRun(ctx context.Context, jobID string, rec cron.RunRecord) error {
	q := s.db.Rebind(`INSERT INTO cron_runs
		(job_id, started_at_ms, finished_at_ms, duration_ms, status, error, output)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q,
		jobID, rec.StartedAtMS, rec.FinishedAtMS, rec.DurationMS,
		string(rec.Status), nilIfEmpty(rec.Error), nilIfEmpty(rec.Output))
	if err != nil {
		return fmt.Errorf("append run: %w", err)
	}
	return nil
}

func (s *Store) GetRuns(ctx context.Context, jobID string, limit int) ([]cron.RunRecord, error) {
	const base = `SELECT job_id, started_at_ms, finished_at_ms, duration_ms, status, error, output
		FROM cron_runs WHERE job_id = ?
		ORDER BY started_at_ms DESC`

	// Non-positive limit means the full history, matching the other backends.
	var rows []runRow
	var err error
	if limit > 0 {
		err = s.db.SelectContext(ctx, &rows, s.db.Rebind(base+" LIMIT ?"), jobID, limit)
	} else {
		err = s.db.SelectContext(ctx, &rows, s.db.Rebind(base), jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get runs: %w", err)
	}

	// Query order is newest-first; reverse for the oldest-first contract.
	runs := make([]cron.RunRecord, len(rows))
	for i, row := range rows {
		runs[len(rows)-1-i] = cron.RunRecord{
			JobID:        row.JobID,
			StartedAtMS:  row.StartedAtMS,
			FinishedAtMS: row.FinishedAtMS,
			DurationMS:   row.DurationMS,
			Status:       cron.RunStatus(row.Status),
			Error:        deref(row.Error),
			Output:       deref(row.Output),
		}
	}
	return runs, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
