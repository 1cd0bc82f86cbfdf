// Package publish coordinates publishing a draft to its destinations. It
// guarantees at most one effective publish per idempotency key and records
// every attempt in the job ledger and the audit trail.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/retailxai/draft-publisher/app/access"
	"github.com/retailxai/draft-publisher/app/audit"
	"github.com/retailxai/draft-publisher/app/cache"
	"github.com/retailxai/draft-publisher/app/database"
	"github.com/retailxai/draft-publisher/app/destination"
	"github.com/retailxai/draft-publisher/app/ledger"
	"github.com/retailxai/draft-publisher/app/publisher"
)

// Deps holds the collaborators of a Coordinator.
type Deps struct {
	Drafts       database.DraftRepository
	Records      database.RecordRepository
	Credentials  database.CredentialRepository
	Ledger       *ledger.Ledger
	Trail        *audit.Trail
	Destinations Destinations
	Factory      PublisherFactory
	Replay       ReplayStore   // optional
	Timeout      time.Duration // bounds one PublishDraft call, 0 for none
}

// Coordinator runs publish requests against the configured destinations and
// owns the record, job and audit bookkeeping around each delivery.
type Coordinator struct {
	drafts       database.DraftRepository
	records      database.RecordRepository
	credentials  database.CredentialRepository
	ledger       *ledger.Ledger
	trail        *audit.Trail
	destinations Destinations
	factory      PublisherFactory
	replay       ReplayStore
	queue        JobQueue
	timeout      time.Duration
	now          func() time.Time
}

// NewCoordinator creates a coordinator. Call SetQueue before serving requests.
func NewCoordinator(d Deps) *Coordinator {
	return &Coordinator{
		drafts:       d.Drafts,
		records:      d.Records,
		credentials:  d.Credentials,
		ledger:       d.Ledger,
		trail:        d.Trail,
		destinations: d.Destinations,
		factory:      d.Factory,
		replay:       d.Replay,
		timeout:      d.Timeout,
		now:          time.Now,
	}
}

// SetQueue connects the worker queue that runs re-queued jobs. It must be
// called before the coordinator serves requests.
func (c *Coordinator) SetQueue(q JobQueue) {
	c.queue = q
}

// PublishDraft publishes one draft to every requested destination in
// parallel. A failing destination never affects the others; per-destination
// failures are reported in the outcome map, not as an error.
func (c *Coordinator) PublishDraft(ctx context.Context, req Request, actor access.Actor) (map[string]Outcome, error) {
	if err := access.Authorize(actor.Role, access.DraftPublish); err != nil {
		return nil, err
	}
	if req.DraftID == "" {
		return nil, fmt.Errorf("%w: draft id is required", ErrValidation)
	}
	configs, err := c.resolveDestinations(req.Destinations)
	if err != nil {
		return nil, err
	}

	draft, err := c.drafts.GetDraft(ctx, req.DraftID)
	if err != nil {
		return nil, fmt.Errorf("failed to load draft: %w", err)
	}
	if draft == nil {
		return nil, fmt.Errorf("draft %s: %w", req.DraftID, database.ErrNotFound)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	content := publisher.ContentFromDraft(draft)
	start := time.Now()

	results := make(map[string]Outcome, len(configs))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, cfg := range configs {
		wg.Add(1)
		go func(cfg *destination.Config) {
			defer wg.Done()
			outcome := c.publishOne(ctx, draft, content, cfg, req.Nonce, actor.ID)
			mu.Lock()
			results[cfg.Name] = outcome
			mu.Unlock()
		}(cfg)
	}
	wg.Wait()

	succeeded := 0
	for _, o := range results {
		if o.Success {
			succeeded++
		}
	}
	slog.Info("Publish request completed",
		"draft_id", draft.ID,
		"actor", actor.ID,
		"destinations", len(results),
		"succeeded", succeeded,
		"duration", time.Since(start))

	return results, nil
}

func (c *Coordinator) resolveDestinations(names []string) ([]*destination.Config, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: at least one destination is required", ErrValidation)
	}

	seen := make(map[string]bool, len(names))
	configs := make([]*destination.Config, 0, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true

		cfg, err := c.destinations.GetConfig(name)
		if err != nil {
			return nil, fmt.Errorf("%w: unknown destination %q", ErrValidation, name)
		}
		if !cfg.Settings.Enabled {
			return nil, fmt.Errorf("%w: destination %q is disabled", ErrValidation, name)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func (c *Coordinator) publishOne(ctx context.Context, draft *database.Draft, content publisher.Content, cfg *destination.Config, nonce, actorID string) Outcome {
	dest := cfg.Name
	key := IdempotencyKey(draft, dest, nonce)

	if outcome, ok := c.replayFromCache(ctx, key, dest); ok {
		return outcome
	}

	record, err := c.records.GetRecordByKey(ctx, key)
	if err != nil {
		return c.internalFailure(ctx, draft.ID, dest, actorID, err)
	}
	if record != nil && record.Status == database.RecordStatusSuccess {
		c.remember(ctx, key, record)
		return replayed(record)
	}

	cred, reason, err := c.resolveCredential(ctx, dest)
	if err != nil {
		return c.internalFailure(ctx, draft.ID, dest, actorID, err)
	}
	if reason != "" {
		outcome := Outcome{Destination: dest, Status: database.RecordStatusFailed, Error: reason}
		if record != nil {
			outcome.RecordID = record.ID
			outcome.JobID = record.JobID
			outcome.Attempt = record.Attempt
		}
		c.auditPublish(ctx, actorID, draft.ID, outcome)
		return outcome
	}

	var job *database.Job
	if record == nil {
		record, job, err = c.createRecord(ctx, draft, content, dest, key, nonce, actorID)
		if err != nil {
			return c.internalFailure(ctx, draft.ID, dest, actorID, err)
		}
		if record.Status == database.RecordStatusSuccess {
			return replayed(record)
		}
	}

	if job == nil {
		job, err = c.reuseJob(ctx, record)
		if err != nil {
			return c.internalFailure(ctx, draft.ID, dest, actorID, err)
		}
		if job == nil {
			return inProgress(record)
		}
	}

	claimed, err := c.ledger.Claim(ctx, job.ID)
	if err != nil {
		return c.internalFailure(ctx, draft.ID, dest, actorID, err)
	}
	if !claimed {
		outcome := inProgress(record)
		outcome.JobID = job.ID
		outcome.Status, outcome.Error = c.lostClaimStatus(ctx, job.ID)
		return outcome
	}

	return c.deliver(ctx, draft.ID, content, cfg, cred, record, job, actorID)
}

// createRecord stores the record for key together with its job. When a
// concurrent request inserted first, the winner's record is returned with a
// nil job.
func (c *Coordinator) createRecord(ctx context.Context, draft *database.Draft, content publisher.Content, dest, key, nonce, actorID string) (*database.PublishRecord, *database.Job, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate record id: %w", err)
	}

	request, err := json.Marshal(map[string]any{
		"destination": dest,
		"title":       content.Title,
		"summary":     content.Summary,
		"tags":        content.Tags,
		"nonce":       nonce,
		"revision":    Revision(draft),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode request snapshot: %w", err)
	}

	now := c.now().UTC()
	record := &database.PublishRecord{
		ID:             id.String(),
		DraftID:        draft.ID,
		Destination:    dest,
		Status:         database.RecordStatusPending,
		Request:        request,
		IdempotencyKey: key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	job, err := c.ledger.NewJob(database.JobKindPublish, JobPayload{
		DraftID:        draft.ID,
		Destination:    dest,
		IdempotencyKey: key,
		RecordID:       record.ID,
		RequestedBy:    actorID,
		Nonce:          nonce,
	})
	if err != nil {
		return nil, nil, err
	}

	created, err := c.records.CreateRecordWithJob(ctx, record, job)
	if err != nil {
		return nil, nil, err
	}
	if !created {
		winner, err := c.records.GetRecordByKey(ctx, key)
		if err != nil {
			return nil, nil, err
		}
		if winner == nil {
			return nil, nil, fmt.Errorf("publish record for key %s vanished", key)
		}
		return winner, nil, nil
	}

	return record, job, nil
}

// reuseJob returns the job of an existing record when this request may run
// it, or nil when another request owns it.
func (c *Coordinator) reuseJob(ctx context.Context, record *database.PublishRecord) (*database.Job, error) {
	if record.JobID == "" {
		return nil, nil
	}

	job, err := c.ledger.Get(ctx, record.JobID)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case database.JobStatusPending:
		return job, nil
	case database.JobStatusFailed, database.JobStatusCancelled:
		retried, err := c.ledger.Retry(ctx, job.ID)
		if errors.Is(err, ledger.ErrInvalidState) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return retried, nil
	default:
		return nil, nil
	}
}

// deliver runs one claimed job against its destination and persists the
// result. Writes after the adapter call ignore cancellation of ctx.
func (c *Coordinator) deliver(ctx context.Context, draftID string, content publisher.Content, cfg *destination.Config, cred *database.Credential, record *database.PublishRecord, job *database.Job, actorID string) Outcome {
	persistCtx := context.WithoutCancel(ctx)
	log := slog.With("draft_id", draftID, "destination", cfg.Name, "job_id", job.ID)

	outcome := Outcome{
		Destination: cfg.Name,
		Status:      database.RecordStatusFailed,
		JobID:       job.ID,
		RecordID:    record.ID,
		Attempt:     record.Attempt,
	}

	started, err := c.records.StartRecordAttempt(persistCtx, record.ID, actorID, c.now())
	if err != nil || !started {
		outcome.Error = "publish record is not in a deliverable state"
		if err != nil {
			outcome.Error = err.Error()
		}
		c.failJob(persistCtx, job.ID, outcome.Error)
		c.auditPublish(persistCtx, actorID, draftID, outcome)
		return outcome
	}
	outcome.Attempt = record.Attempt + 1

	var res publisher.Result
	adapter, err := c.factory.New(cfg, cred)
	if err != nil {
		res = publisher.Result{Error: err.Error()}
	} else {
		res, err = adapter.Publish(ctx, content)
		var infra *publisher.InfraError
		switch {
		case errors.As(err, &infra):
			log.Error("Destination unreachable", "failure", "infrastructure", "error", err)
		case err != nil:
			log.Error("Publish failed", "error", err)
		}
		if !res.Success && res.Error == "" {
			res.Error = "publish failed"
			if err != nil {
				res.Error = err.Error()
			}
		}
	}

	result := database.RecordResult{
		Status:       database.RecordStatusFailed,
		Response:     res.RawResponse,
		ExternalURL:  res.ExternalURL,
		PlatformID:   res.PlatformID,
		ErrorMessage: res.Error,
	}
	if res.Success {
		result.Status = database.RecordStatusSuccess
		result.ErrorMessage = ""
	}

	if _, err := c.records.CompleteRecord(persistCtx, record.ID, result, c.now()); err != nil {
		log.Error("Failed to store publish result", "error", err)
	}

	if res.Success {
		if err := c.ledger.Succeed(persistCtx, job.ID); err != nil {
			log.Error("Failed to mark job succeeded", "error", err)
		}
		outcome.Status = database.RecordStatusSuccess
		outcome.Success = true
		outcome.ExternalURL = res.ExternalURL
		outcome.PlatformID = res.PlatformID
		record.Status = database.RecordStatusSuccess
		record.ExternalURL = res.ExternalURL
		record.PlatformID = res.PlatformID
		record.Attempt = outcome.Attempt
		c.remember(persistCtx, record.IdempotencyKey, record)
		log.Info("Draft published", "external_url", res.ExternalURL, "attempt", outcome.Attempt)
	} else {
		c.failJob(persistCtx, job.ID, res.Error)
		outcome.Error = res.Error
		log.Warn("Draft publish failed", "error", res.Error, "attempt", outcome.Attempt)
	}

	c.auditPublish(persistCtx, actorID, draftID, outcome)
	return outcome
}

// resolveCredential returns the usable credential for dest, or a reason it
// cannot be used.
func (c *Coordinator) resolveCredential(ctx context.Context, dest string) (*database.Credential, string, error) {
	cred, err := c.credentials.GetCredential(ctx, dest)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load credentials: %w", err)
	}
	if cred == nil || !cred.Active {
		return nil, fmt.Sprintf("no credentials found for %s", dest), nil
	}
	if cred.Expired(c.now()) {
		return nil, fmt.Sprintf("credentials for %s expired", dest), nil
	}
	return cred, "", nil
}

func (c *Coordinator) failJob(ctx context.Context, jobID, errorText string) {
	if err := c.ledger.Fail(ctx, jobID, errorText); err != nil {
		slog.Error("Failed to mark job failed", "job_id", jobID, "error", err)
	}
}

func (c *Coordinator) internalFailure(ctx context.Context, draftID, dest, actorID string, err error) Outcome {
	slog.Error("Publish aborted", "draft_id", draftID, "destination", dest, "error", err)
	outcome := Outcome{
		Destination: dest,
		Status:      database.RecordStatusFailed,
		Error:       fmt.Sprintf("internal error: %v", err),
	}
	c.auditPublish(context.WithoutCancel(ctx), actorID, draftID, outcome)
	return outcome
}

func (c *Coordinator) auditPublish(ctx context.Context, actorID, draftID string, o Outcome) {
	c.trail.Record(ctx, audit.Entry{
		Actor:      actorID,
		Action:     ActionPublish,
		EntityType: EntityDraft,
		EntityID:   draftID,
		After: map[string]any{
			"destination":  o.Destination,
			"outcome":      o.Status,
			"job_id":       o.JobID,
			"external_url": o.ExternalURL,
			"error":        o.Error,
			"attempt":      o.Attempt,
		},
	})
}

func (c *Coordinator) replayFromCache(ctx context.Context, key, dest string) (Outcome, bool) {
	if c.replay == nil {
		return Outcome{}, false
	}
	entry, ok, err := c.replay.Get(ctx, key)
	if err != nil {
		slog.Warn("Replay cache lookup failed", "destination", dest, "error", err)
		return Outcome{}, false
	}
	if !ok {
		return Outcome{}, false
	}
	return Outcome{
		Destination: dest,
		Status:      database.RecordStatusSuccess,
		Success:     true,
		ExternalURL: entry.ExternalURL,
		PlatformID:  entry.PlatformID,
		JobID:       entry.JobID,
		RecordID:    entry.RecordID,
		Attempt:     entry.Attempt,
		Replayed:    true,
	}, true
}

func (c *Coordinator) remember(ctx context.Context, key string, record *database.PublishRecord) {
	if c.replay == nil {
		return
	}
	err := c.replay.Put(ctx, key, cache.Entry{
		Destination: record.Destination,
		RecordID:    record.ID,
		JobID:       record.JobID,
		ExternalURL: record.ExternalURL,
		PlatformID:  record.PlatformID,
		Attempt:     record.Attempt,
	})
	if err != nil {
		slog.Warn("Replay cache write failed", "destination", record.Destination, "error", err)
	}
}

func replayed(record *database.PublishRecord) Outcome {
	return Outcome{
		Destination: record.Destination,
		Status:      database.RecordStatusSuccess,
		Success:     true,
		ExternalURL: record.ExternalURL,
		PlatformID:  record.PlatformID,
		JobID:       record.JobID,
		RecordID:    record.ID,
		Attempt:     record.Attempt,
		Replayed:    true,
	}
}

// lostClaimStatus reports why a pending job could not be claimed: it was
// cancelled, or another request is running it.
func (c *Coordinator) lostClaimStatus(ctx context.Context, jobID string) (database.RecordStatus, string) {
	job, err := c.ledger.Get(ctx, jobID)
	if err != nil {
		slog.Warn("Failed to reload unclaimed job", "job_id", jobID, "error", err)
		return database.RecordStatusInProgress, ""
	}
	if job.Status == database.JobStatusCancelled {
		return database.RecordStatusCancelled, "job cancelled"
	}
	return database.RecordStatusInProgress, ""
}

func inProgress(record *database.PublishRecord) Outcome {
	return Outcome{
		Destination: record.Destination,
		Status:      database.RecordStatusInProgress,
		JobID:       record.JobID,
		RecordID:    record.ID,
		Attempt:     record.Attempt,
	}
}
