package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/retailxai/draft-publisher/app/database"
)

const (
	defaultQueueSize = 300
	taskTimeout      = 5 * time.Minute
	maxProcessTimes  = 100
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

// Scheduler runs publish jobs on a fixed worker pool. Jobs arrive through
// Submit, and a periodic sweep picks up pending jobs nobody submitted, such
// as those left behind by a restart.
type Scheduler struct {
	jobs        PendingJobs
	executor    JobExecutor
	interval    time.Duration
	workerCount int
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	taskQueue   chan TaskInterface

	mu     sync.Mutex
	queued map[string]bool
	stats  *Stats
}

// NewScheduler creates a worker pool that runs publish jobs
func NewScheduler(jobs PendingJobs, executor JobExecutor, interval time.Duration, workerCount int) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		jobs:        jobs,
		executor:    executor,
		interval:    interval,
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
		taskQueue:   make(chan TaskInterface, defaultQueueSize),
		queued:      make(map[string]bool),
		stats:       &Stats{CurrentWorkers: workerCount},
	}
}

// Start launches the workers and the pending-job sweep
func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.sweep()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()

	slog.Info("Scheduler started", "workers", s.workerCount, "sweep_interval", s.interval)
}

// Stop cancels the workers and waits for running tasks to finish
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	slog.Info("Scheduler stopped")
}

// EnqueueTask queues a task without blocking. A job already waiting in the
// queue is not queued twice.
func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	if s.ctx.Err() != nil {
		return s.ctx.Err()
	}

	jobID := task.GetJobID()
	s.mu.Lock()
	if s.queued[jobID] {
		s.mu.Unlock()
		return nil
	}
	s.queued[jobID] = true
	s.mu.Unlock()

	select {
	case s.taskQueue <- task:
		return nil
	default:
		s.release(jobID)
		return fmt.Errorf("task queue is full")
	}
}

// Submit queues a publish job. It reports false when the job could not be
// queued; the sweep picks it up later.
func (s *Scheduler) Submit(jobID, actorID string) bool {
	if err := s.EnqueueTask(NewPublishJobTask(jobID, actorID, s.executor)); err != nil {
		slog.Warn("Failed to enqueue publish job", "job_id", jobID, "error", err)
		return false
	}
	return true
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	jobs, err := s.jobs.ListPendingJobs(ctx, database.JobKindPublish, cap(s.taskQueue))
	if err != nil {
		slog.Error("Failed to list pending jobs", "error", err)
		return
	}
	if len(jobs) == 0 {
		slog.Debug("No pending jobs found")
		return
	}

	slog.Debug("Queueing pending jobs", "count", len(jobs))

	for _, job := range jobs {
		// The executor falls back to the requesting actor stored on the job.
		if err := s.EnqueueTask(NewPublishJobTask(job.ID, "", s.executor)); err != nil {
			slog.Warn("Failed to enqueue pending job", "job_id", job.ID, "error", err)
			return
		}
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.taskQueue:
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	defer s.release(task.GetJobID())
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, taskTimeout)
	defer cancel()

	err := task.Execute(taskCtx)
	s.record(task.GetDuration(), err)

	if err != nil {
		slog.Error("Worker task execution failed",
			"worker_id", workerID,
			"type", string(task.GetType()),
			"id", task.GetID(),
			"job_id", task.GetJobID(),
			"error", err)
	}
}

func (s *Scheduler) release(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queued, jobID)
}

func (s *Scheduler) record(duration time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.stats.TotalProcessed++
	if err != nil {
		s.stats.TotalErrors++
	}
	s.stats.LastProcessedAt = &now

	s.stats.processTimes = append(s.stats.processTimes, duration)
	if len(s.stats.processTimes) > maxProcessTimes {
		s.stats.processTimes = s.stats.processTimes[1:]
	}
	s.updateAverageProcessTime()
}

// updateAverageProcessTime must be called with mu held.
func (s *Scheduler) updateAverageProcessTime() {
	if len(s.stats.processTimes) == 0 {
		s.stats.AverageProcessTime = 0
		return
	}

	var total time.Duration
	for _, d := range s.stats.processTimes {
		total += d
	}
	s.stats.AverageProcessTime = total / time.Duration(len(s.stats.processTimes))
}

func (s *Scheduler) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := *s.stats
	stats.QueueSize = len(s.taskQueue)
	stats.processTimes = nil
	return stats
}

func (s *Scheduler) Health() map[string]any {
	stats := s.GetStats()

	errorRate := 0.0
	if stats.TotalProcessed > 0 {
		errorRate = float64(stats.TotalErrors) / float64(stats.TotalProcessed)
	}

	status := "healthy"
	switch {
	case errorRate > 0.5:
		status = "unhealthy"
	case errorRate > 0.1:
		status = "degraded"
	}

	return map[string]any{
		"status":          status,
		"workers":         stats.CurrentWorkers,
		"queue_size":      stats.QueueSize,
		"total_processed": stats.TotalProcessed,
		"total_errors":    stats.TotalErrors,
		"error_rate":      errorRate,
	}
}
