package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const jobColumns = `id, kind, payload, status, queued_at, started_at, finished_at, attempts, error_text`

// JobRepo handles database operations for jobs. Every status change is a
// conditional UPDATE; a false result means the row was not in an eligible
// state.
type JobRepo struct {
	db *DB
}

var _ JobRepository = (*JobRepo)(nil)

// NewJobRepository creates a new job repository
func NewJobRepository(db *DB) *JobRepo {
	return &JobRepo{db: db}
}

// CreateJob inserts a new job
func (r *JobRepo) CreateJob(ctx context.Context, job *Job) error {
	return insertJob(ctx, r.db, job)
}

func insertJob(ctx context.Context, ex execer, job *Job) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO jobs (id, kind, payload, status, queued_at, started_at, finished_at, attempts, error_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, string(job.Kind), nullJSON(job.Payload), string(job.Status), formatTime(job.QueuedAt),
		formatNullTime(job.StartedAt), formatNullTime(job.FinishedAt), job.Attempts, nullString(job.ErrorText))
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (r *JobRepo) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs newest first.
func (r *JobRepo) ListJobs(ctx context.Context, filter JobFilter) ([]Job, error) {
	var where []string
	var args []any
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY queued_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return r.queryJobs(ctx, query, args...)
}

// ListPendingJobs returns the oldest pending jobs of kind.
func (r *JobRepo) ListPendingJobs(ctx context.Context, kind JobKind, limit int) ([]Job, error) {
	return r.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = ? AND kind = ?
		ORDER BY queued_at ASC, id ASC
		LIMIT ?
	`, string(JobStatusPending), string(kind), limit)
}

// ClaimJob moves a pending job to running. It reports false when another
// caller claimed it first or the job is no longer pending.
func (r *JobRepo) ClaimJob(ctx context.Context, id string, now time.Time) (bool, error) {
	return r.update(ctx, "claim", `
		UPDATE jobs SET status = ?, started_at = ?
		WHERE id = ? AND status = ?
	`, string(JobStatusRunning), formatTime(now), id, string(JobStatusPending))
}

// FinishJob moves a running job to success or failed.
func (r *JobRepo) FinishJob(ctx context.Context, id string, status JobStatus, errorText string, now time.Time) (bool, error) {
	if status != JobStatusSuccess && status != JobStatusFailed {
		return false, fmt.Errorf("invalid terminal status %q", status)
	}
	return r.update(ctx, "finish", `
		UPDATE jobs SET status = ?, finished_at = ?, error_text = ?
		WHERE id = ? AND status = ?
	`, string(status), formatTime(now), nullString(errorText), id, string(JobStatusRunning))
}

// CancelJob cancels a pending or failed job
func (r *JobRepo) CancelJob(ctx context.Context, id string, now time.Time) (bool, error) {
	return r.update(ctx, "cancel", `
		UPDATE jobs SET status = ?, finished_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, string(JobStatusCancelled), formatTime(now), id, string(JobStatusPending), string(JobStatusFailed))
}

// RequeueJob resets a failed or cancelled job to pending and counts the attempt.
func (r *JobRepo) RequeueJob(ctx context.Context, id string, now time.Time) (bool, error) {
	return r.update(ctx, "requeue", `
		UPDATE jobs
		SET status = ?, started_at = NULL, finished_at = NULL, error_text = NULL,
			attempts = attempts + 1, queued_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, string(JobStatusPending), formatTime(now), id, string(JobStatusFailed), string(JobStatusCancelled))
}

func (r *JobRepo) update(ctx context.Context, op, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to %s job: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func (r *JobRepo) queryJobs(ctx context.Context, query string, args ...any) ([]Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var kind, status, queuedAt string
	var payload, startedAt, finishedAt, errorText sql.NullString

	if err := row.Scan(&job.ID, &kind, &payload, &status, &queuedAt, &startedAt, &finishedAt,
		&job.Attempts, &errorText); err != nil {
		return nil, err
	}

	job.Kind = JobKind(kind)
	job.Status = JobStatus(status)
	job.Payload = rawJSON(payload)
	job.ErrorText = errorText.String

	var err error
	if job.QueuedAt, err = parseTime(queuedAt); err != nil {
		return nil, err
	}
	if job.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, err
	}
	if job.FinishedAt, err = parseNullTime(finishedAt); err != nil {
		return nil, err
	}
	return &job, nil
}
