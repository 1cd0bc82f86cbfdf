// Package ledger tracks job lifecycles as a durable state machine.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/retailxai/draft-publisher/app/database"
)

// ErrInvalidState is returned when a job is not in a state that permits the
// requested transition.
var ErrInvalidState = errors.New("invalid job state")

var transitions = map[database.JobStatus][]database.JobStatus{
	database.JobStatusPending:   {database.JobStatusRunning, database.JobStatusCancelled},
	database.JobStatusRunning:   {database.JobStatusSuccess, database.JobStatusFailed},
	database.JobStatusFailed:    {database.JobStatusPending, database.JobStatusCancelled},
	database.JobStatusCancelled: {database.JobStatusPending},
	database.JobStatusSuccess:   nil,
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to database.JobStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Ledger tracks the lifecycle of background jobs.
type Ledger struct {
	jobs database.JobRepository
	now  func() time.Time
}

// New creates a ledger over the job repository
func New(jobs database.JobRepository) *Ledger {
	return &Ledger{jobs: jobs, now: time.Now}
}

// NewJob builds a pending job with a single attempt without storing it, for
// callers that persist it together with other rows.
func (l *Ledger) NewJob(kind database.JobKind, payload any) (*database.Job, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job payload: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate job id: %w", err)
	}

	return &database.Job{
		ID:       id.String(),
		Kind:     kind,
		Payload:  raw,
		Status:   database.JobStatusPending,
		QueuedAt: l.now().UTC(),
		Attempts: 1,
	}, nil
}

// Enqueue creates and stores a pending job.
func (l *Ledger) Enqueue(ctx context.Context, kind database.JobKind, payload any) (*database.Job, error) {
	job, err := l.NewJob(kind, payload)
	if err != nil {
		return nil, err
	}
	if err := l.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	slog.Debug("Job enqueued", "job_id", job.ID, "kind", kind)
	return job, nil
}

// Get returns the job or database.ErrNotFound.
func (l *Ledger) Get(ctx context.Context, id string) (*database.Job, error) {
	job, err := l.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %s: %w", id, database.ErrNotFound)
	}
	return job, nil
}

// List returns jobs matching filter, newest first
func (l *Ledger) List(ctx context.Context, filter database.JobFilter) ([]database.Job, error) {
	return l.jobs.ListJobs(ctx, filter)
}

// Claim moves a pending job to running. A false result with a nil error
// means another worker holds the job.
func (l *Ledger) Claim(ctx context.Context, id string) (bool, error) {
	ok, err := l.jobs.ClaimJob(ctx, id, l.now())
	if err != nil {
		return false, err
	}
	if !ok {
		slog.Debug("Job claim lost", "job_id", id)
	}
	return ok, nil
}

// Succeed moves a running job to success.
func (l *Ledger) Succeed(ctx context.Context, id string) error {
	return l.finish(ctx, id, database.JobStatusSuccess, "")
}

// Fail moves a running job to failed and keeps errorText.
func (l *Ledger) Fail(ctx context.Context, id string, errorText string) error {
	return l.finish(ctx, id, database.JobStatusFailed, errorText)
}

func (l *Ledger) finish(ctx context.Context, id string, status database.JobStatus, errorText string) error {
	ok, err := l.jobs.FinishJob(ctx, id, status, errorText, l.now())
	if err != nil {
		return err
	}
	if !ok {
		return l.rejected(ctx, id, status)
	}
	return nil
}

// Cancel moves a pending or failed job to cancelled.
func (l *Ledger) Cancel(ctx context.Context, id string) (*database.Job, error) {
	ok, err := l.jobs.CancelJob(ctx, id, l.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, l.rejected(ctx, id, database.JobStatusCancelled)
	}
	return l.Get(ctx, id)
}

// Retry re-queues a failed or cancelled job and counts one more attempt.
// Concurrent retries of the same job increment the counter once.
func (l *Ledger) Retry(ctx context.Context, id string) (*database.Job, error) {
	ok, err := l.jobs.RequeueJob(ctx, id, l.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, l.rejected(ctx, id, database.JobStatusPending)
	}

	job, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	slog.Info("Job re-queued", "job_id", id, "attempts", job.Attempts)
	return job, nil
}

// rejected explains why a conditional update touched no rows.
func (l *Ledger) rejected(ctx context.Context, id string, to database.JobStatus) error {
	job, err := l.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s is %s, cannot move to %s", ErrInvalidState, id, job.Status, to)
}
