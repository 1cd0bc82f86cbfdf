package database

import (
	"encoding/json"
	"time"
)

type DraftStatus string

const (
	DraftStatusDrafting  DraftStatus = "drafting"
	DraftStatusInReview  DraftStatus = "in-review"
	DraftStatusApproved  DraftStatus = "approved"
	DraftStatusPublished DraftStatus = "published"
	DraftStatusArchived  DraftStatus = "archived"
)

var validDraftStatuses = map[DraftStatus]bool{
	DraftStatusDrafting:  true,
	DraftStatusInReview:  true,
	DraftStatusApproved:  true,
	DraftStatusPublished: true,
	DraftStatusArchived:  true,
}

// Valid reports whether s is a known draft lifecycle status.
func (s DraftStatus) Valid() bool {
	return validDraftStatuses[s]
}

type JobKind string

const (
	JobKindPublish   JobKind = "publish"
	JobKindAnalyze   JobKind = "analyze"
	JobKindAIImprove JobKind = "ai_improve"
	JobKindAIShorten JobKind = "ai_shorten"
	JobKindAIExpand  JobKind = "ai_expand"
	JobKindAITitles  JobKind = "ai_titles"
	JobKindAISummary JobKind = "ai_summary"
)

var validJobKinds = map[JobKind]bool{
	JobKindPublish:   true,
	JobKindAnalyze:   true,
	JobKindAIImprove: true,
	JobKindAIShorten: true,
	JobKindAIExpand:  true,
	JobKindAITitles:  true,
	JobKindAISummary: true,
}

func (k JobKind) Valid() bool {
	return validJobKinds[k]
}

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSuccess   JobStatus = "success"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

type RecordStatus string

const (
	RecordStatusPending    RecordStatus = "pending"
	RecordStatusInProgress RecordStatus = "in_progress"
	RecordStatusSuccess    RecordStatus = "success"
	RecordStatusFailed     RecordStatus = "failed"
	RecordStatusCancelled  RecordStatus = "cancelled"
)

// Draft is an editorial draft. Slug is unique and immutable once stored.
type Draft struct {
	ID        string
	Slug      string
	Title     string
	Summary   string
	BodyMD    string
	BodyHTML  string
	Tags      []string
	Status    DraftStatus
	Author    string
	Scores    map[string]any
	Meta      map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Job is one asynchronous unit of work tracked by the ledger.
type Job struct {
	ID         string          `json:"id"`
	Kind       JobKind         `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Status     JobStatus       `json:"status"`
	QueuedAt   time.Time       `json:"queued_at"`
	StartedAt  *time.Time      `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at"`
	Attempts   int             `json:"attempts"`
	ErrorText  string          `json:"error_text,omitempty"`
}

type JobFilter struct {
	Status JobStatus
	Kind   JobKind
	Limit  int
}

// PublishRecord is the outcome ledger entry for one logical publish request
// of a draft to a destination. IdempotencyKey is unique across the table.
type PublishRecord struct {
	ID             string
	DraftID        string
	Destination    string
	JobID          string
	Status         RecordStatus
	Request        json.RawMessage
	Response       json.RawMessage
	ExternalURL    string
	PlatformID     string
	ErrorMessage   string
	RunBy          string
	Attempt        int
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type RecordResult struct {
	Status       RecordStatus
	Response     json.RawMessage
	ExternalURL  string
	PlatformID   string
	ErrorMessage string
}

// Credential is the secret bundle for one destination.
type Credential struct {
	ID          int64
	Destination string
	ClientID    string
	Secret      string
	Tokens      map[string]string
	ExpiresAt   *time.Time
	Scopes      []string
	Encrypted   bool
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Expired reports whether the bundle carries an expiry in the past.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

// Token returns the named token, falling back to the bundle secret.
func (c *Credential) Token(name string) string {
	if v := c.Tokens[name]; v != "" {
		return v
	}
	return c.Secret
}

type AuditEntry struct {
	ID         int64           `json:"id"`
	Actor      string          `json:"actor"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Before     json.RawMessage `json:"before"`
	After      json.RawMessage `json:"after"`
	CreatedAt  time.Time       `json:"created_at"`
}

type AuditFilter struct {
	Actor      string
	Action     string
	EntityType string
	EntityID   string
	Since      *time.Time
	Limit      int
}
