package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/retailxai/draft-publisher/app/database"
	"github.com/retailxai/draft-publisher/app/publish"
)

// JobExecutor runs one pending publish job from the ledger.
type JobExecutor interface {
	ExecuteJob(ctx context.Context, jobID, actorID string) (publish.Outcome, error)
}

type PublishJobTask struct {
	Task
	ActorID  string
	executor JobExecutor
}

func NewPublishJobTask(jobID, actorID string, executor JobExecutor) *PublishJobTask {
	return &PublishJobTask{
		Task:     NewTask(TaskTypePublishJob, jobID),
		ActorID:  actorID,
		executor: executor,
	}
}

func (t *PublishJobTask) Execute(ctx context.Context) error {
	outcome, err := t.executor.ExecuteJob(ctx, t.JobID, t.ActorID)
	if err != nil {
		return fmt.Errorf("failed to execute job %s: %w", t.JobID, err)
	}

	switch outcome.Status {
	case database.RecordStatusSuccess:
		slog.Info("Publish job completed",
			"job_id", t.JobID,
			"destination", outcome.Destination,
			"external_url", outcome.ExternalURL,
			"attempt", outcome.Attempt,
			"duration", t.GetDuration())
	case database.RecordStatusInProgress:
		slog.Debug("Publish job already claimed elsewhere", "job_id", t.JobID)
	case database.RecordStatusCancelled:
		slog.Debug("Publish job cancelled before it ran", "job_id", t.JobID)
	default:
		return fmt.Errorf("publish to %s failed: %s", outcome.Destination, outcome.Error)
	}

	return nil
}
