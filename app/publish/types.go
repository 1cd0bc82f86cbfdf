package publish

import (
	"context"
	"errors"

	"github.com/retailxai/draft-publisher/app/cache"
	"github.com/retailxai/draft-publisher/app/database"
	"github.com/retailxai/draft-publisher/app/destination"
	"github.com/retailxai/draft-publisher/app/publisher"
)

// ErrValidation marks requests rejected before any work starts.
var ErrValidation = errors.New("validation failed")

// Audit actions and entity types written by the coordinator.
const (
	ActionPublish        = "publish"
	ActionRetry          = "retry"
	ActionCancel         = "cancel"
	ActionTestConnection = "test-connection"
	ActionSaveCredential = "update-credentials"
	ActionCreateDraft    = "create"
	ActionUpdateDraft    = "update"

	EntityDraft    = "draft"
	EntityJob      = "job"
	EntityEndpoint = "endpoint"
)

type Request struct {
	DraftID      string
	Destinations []string
	// Nonce distinguishes deliberate re-publishes of unchanged content.
	Nonce string
}

// Outcome is the per-destination result of a publish request.
type Outcome struct {
	Destination string                `json:"destination"`
	Status      database.RecordStatus `json:"status"`
	Success     bool                  `json:"success"`
	ExternalURL string                `json:"external_url,omitempty"`
	PlatformID  string                `json:"platform_id,omitempty"`
	Error       string                `json:"error,omitempty"`
	JobID       string                `json:"job_id,omitempty"`
	RecordID    string                `json:"record_id,omitempty"`
	Attempt     int                   `json:"attempt"`
	Replayed    bool                  `json:"replayed"`
}

// JobPayload is stored on every publish job.
type JobPayload struct {
	DraftID        string `json:"draft_id"`
	Destination    string `json:"destination"`
	IdempotencyKey string `json:"idempotency_key"`
	RecordID       string `json:"record_id"`
	RequestedBy    string `json:"requested_by"`
	Nonce          string `json:"nonce,omitempty"`
}

type Destinations interface {
	GetConfig(name string) (*destination.Config, error)
}

type PublisherFactory interface {
	New(config *destination.Config, cred *database.Credential) (publisher.Publisher, error)
}

type ReplayStore interface {
	Get(ctx context.Context, idempotencyKey string) (*cache.Entry, bool, error)
	Put(ctx context.Context, idempotencyKey string, entry cache.Entry) error
}

// JobQueue hands re-queued jobs to the workers.
type JobQueue interface {
	Submit(jobID, actorID string) bool
}
