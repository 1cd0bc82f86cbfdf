package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/retailxai/draft-publisher/app/access"
	"github.com/retailxai/draft-publisher/app/audit"
	"github.com/retailxai/draft-publisher/app/database"
	"github.com/retailxai/draft-publisher/app/publisher"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 1000
)

// GetJob returns one job for actors holding job-read.
func (c *Coordinator) GetJob(ctx context.Context, jobID string, actor access.Actor) (*database.Job, error) {
	if err := access.Authorize(actor.Role, access.JobRead); err != nil {
		return nil, err
	}
	return c.ledger.Get(ctx, jobID)
}

// ListJobs returns jobs matching filter, newest first.
func (c *Coordinator) ListJobs(ctx context.Context, filter database.JobFilter, actor access.Actor) ([]database.Job, error) {
	if err := access.Authorize(actor.Role, access.JobRead); err != nil {
		return nil, err
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultJobLimit
	case filter.Limit > maxJobLimit:
		filter.Limit = maxJobLimit
	}

	jobs, err := c.ledger.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []database.Job{}
	}
	return jobs, nil
}

// ListRecords returns the publish history of a draft.
func (c *Coordinator) ListRecords(ctx context.Context, draftID string, actor access.Actor) ([]database.PublishRecord, error) {
	if err := access.Authorize(actor.Role, access.DraftRead); err != nil {
		return nil, err
	}
	records, err := c.records.ListRecordsByDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []database.PublishRecord{}
	}
	return records, nil
}

// RetryJob re-queues a failed or cancelled job and hands it to the workers.
func (c *Coordinator) RetryJob(ctx context.Context, jobID string, actor access.Actor) (*database.Job, error) {
	if err := access.Authorize(actor.Role, access.JobRetry); err != nil {
		return nil, err
	}

	before, err := c.ledger.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	job, err := c.ledger.Retry(ctx, jobID)
	if err != nil {
		return nil, err
	}

	c.trail.Record(ctx, audit.Entry{
		Actor:      actor.ID,
		Action:     ActionRetry,
		EntityType: EntityJob,
		EntityID:   jobID,
		Before:     jobSnapshot(before),
		After:      jobSnapshot(job),
	})

	if job.Kind == database.JobKindPublish && c.queue != nil {
		if !c.queue.Submit(job.ID, actor.ID) {
			slog.Warn("Job queue full, job left pending for the sweeper", "job_id", job.ID)
		}
	}

	return job, nil
}

// CancelJob cancels a pending or failed job and its publish record.
func (c *Coordinator) CancelJob(ctx context.Context, jobID string, actor access.Actor) (*database.Job, error) {
	if err := access.Authorize(actor.Role, access.JobRetry); err != nil {
		return nil, err
	}

	before, err := c.ledger.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	job, err := c.ledger.Cancel(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := c.records.CancelRecordByJob(ctx, jobID, c.now()); err != nil {
		slog.Error("Failed to cancel publish record", "job_id", jobID, "error", err)
	}

	c.trail.Record(ctx, audit.Entry{
		Actor:      actor.ID,
		Action:     ActionCancel,
		EntityType: EntityJob,
		EntityID:   jobID,
		Before:     jobSnapshot(before),
		After:      jobSnapshot(job),
	})

	return job, nil
}

// ExecuteJob runs a pending publish job. Workers call it for jobs re-queued
// by RetryJob or left pending by an interrupted process.
func (c *Coordinator) ExecuteJob(ctx context.Context, jobID, actorID string) (Outcome, error) {
	job, err := c.ledger.Get(ctx, jobID)
	if err != nil {
		return Outcome{}, err
	}
	if job.Kind != database.JobKindPublish {
		return Outcome{}, fmt.Errorf("%w: job %s has kind %s", ErrValidation, jobID, job.Kind)
	}

	var payload JobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return Outcome{}, fmt.Errorf("failed to decode job payload: %w", err)
	}
	if actorID == "" {
		actorID = payload.RequestedBy
	}

	claimed, err := c.ledger.Claim(ctx, jobID)
	if err != nil {
		return Outcome{}, err
	}
	if !claimed {
		status, reason := c.lostClaimStatus(ctx, jobID)
		return Outcome{Destination: payload.Destination, Status: status, JobID: jobID, RecordID: payload.RecordID, Error: reason}, nil
	}

	abort := func(reason string) (Outcome, error) {
		persistCtx := context.WithoutCancel(ctx)
		c.failJob(persistCtx, jobID, reason)
		outcome := Outcome{
			Destination: payload.Destination,
			Status:      database.RecordStatusFailed,
			JobID:       jobID,
			RecordID:    payload.RecordID,
			Error:       reason,
		}
		c.auditPublish(persistCtx, actorID, payload.DraftID, outcome)
		return outcome, nil
	}

	record, err := c.records.GetRecordByJobID(ctx, jobID)
	if err != nil {
		return abort(err.Error())
	}
	if record == nil {
		return abort("publish record not found")
	}

	draft, err := c.drafts.GetDraft(ctx, payload.DraftID)
	if err != nil {
		return abort(err.Error())
	}
	if draft == nil {
		return abort(fmt.Sprintf("draft %s not found", payload.DraftID))
	}

	cfg, err := c.destinations.GetConfig(payload.Destination)
	if err != nil {
		return abort(err.Error())
	}

	cred, reason, err := c.resolveCredential(ctx, payload.Destination)
	if err != nil {
		return abort(err.Error())
	}
	if reason != "" {
		return abort(reason)
	}

	return c.deliver(ctx, draft.ID, publisher.ContentFromDraft(draft), cfg, cred, record, job, actorID), nil
}

func jobSnapshot(job *database.Job) map[string]any {
	return map[string]any{
		"status":   job.Status,
		"attempts": job.Attempts,
	}
}
