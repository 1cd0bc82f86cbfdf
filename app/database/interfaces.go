package database

import (
	"context"
	"time"
)

// Getters return (nil, nil) when the row does not exist.

type DraftRepository interface {
	GetDraft(ctx context.Context, id string) (*Draft, error)
	SaveDraft(ctx context.Context, draft *Draft) error
}

type JobRepository interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]Job, error)
	ListPendingJobs(ctx context.Context, kind JobKind, limit int) ([]Job, error)

	ClaimJob(ctx context.Context, id string, now time.Time) (bool, error)
	FinishJob(ctx context.Context, id string, status JobStatus, errorText string, now time.Time) (bool, error)
	CancelJob(ctx context.Context, id string, now time.Time) (bool, error)
	RequeueJob(ctx context.Context, id string, now time.Time) (bool, error)
}

type RecordRepository interface {
	CreateRecordWithJob(ctx context.Context, record *PublishRecord, job *Job) (bool, error)
	GetRecordByKey(ctx context.Context, key string) (*PublishRecord, error)
	GetRecordByJobID(ctx context.Context, jobID string) (*PublishRecord, error)
	ListRecordsByDraft(ctx context.Context, draftID string) ([]PublishRecord, error)

	StartRecordAttempt(ctx context.Context, recordID, runBy string, now time.Time) (bool, error)
	CompleteRecord(ctx context.Context, recordID string, result RecordResult, now time.Time) (bool, error)
	CancelRecordByJob(ctx context.Context, jobID string, now time.Time) error
}

type CredentialRepository interface {
	GetCredential(ctx context.Context, destination string) (*Credential, error)
	SaveCredential(ctx context.Context, credential *Credential) error
}

type AuditRepository interface {
	InsertAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}
