package tasks

import (
	"context"
	"time"

	"github.com/retailxai/draft-publisher/app/database"
)

// TaskSchedulerInterface defines the interface for task scheduling operations.
// Used by the main application to run queued publish jobs in the background.
// Example usage:
//
//	scheduler := NewScheduler(jobRepo, coordinator, interval, workers)
//	scheduler.Start()
//	defer scheduler.Stop()
//	scheduler.Submit(jobID, actorID)
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
	Submit(jobID, actorID string) bool
	GetStats() Stats
	Health() map[string]any
}

// PendingJobs lists jobs waiting for a worker.
type PendingJobs interface {
	ListPendingJobs(ctx context.Context, kind database.JobKind, limit int) ([]database.Job, error)
}

type Stats struct {
	CurrentWorkers     int           `json:"current_workers"`
	QueueSize          int           `json:"queue_size"`
	TotalProcessed     int64         `json:"total_processed"`
	TotalErrors        int64         `json:"total_errors"`
	LastProcessedAt    *time.Time    `json:"last_processed_at,omitempty"`
	AverageProcessTime time.Duration `json:"average_process_time"`

	processTimes []time.Duration
}
