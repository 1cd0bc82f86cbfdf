package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const recordColumns = `id, draft_id, destination, job_id, status, request, response, external_url,
	platform_id, error_message, run_by, attempt, idempotency_key, created_at, updated_at`

// RecordRepo handles database operations for publish records
type RecordRepo struct {
	db *DB
}

var _ RecordRepository = (*RecordRepo)(nil)

// NewRecordRepository creates a new publish record repository
func NewRecordRepository(db *DB) *RecordRepo {
	return &RecordRepo{db: db}
}

// CreateRecordWithJob stores a new record together with the job that will
// deliver it, in one transaction. When a record with the same idempotency
// key exists nothing is written and the result is false.
func (r *RecordRepo) CreateRecordWithJob(ctx context.Context, record *PublishRecord, job *Job) (bool, error) {
	if record.IdempotencyKey == "" {
		return false, fmt.Errorf("idempotency key is required")
	}
	if record.Status == "" {
		record.Status = RecordStatusPending
	}
	record.JobID = job.ID

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertJob(ctx, tx, job); err != nil {
		return false, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO publish_records (id, draft_id, destination, job_id, status, request, response,
			external_url, platform_id, error_message, run_by, attempt, idempotency_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(idempotency_key) DO NOTHING
	`, record.ID, record.DraftID, record.Destination, record.JobID, string(record.Status),
		nullJSON(record.Request), nullJSON(record.Response), nullString(record.ExternalURL),
		nullString(record.PlatformID), nullString(record.ErrorMessage), nullString(record.RunBy),
		record.Attempt, record.IdempotencyKey, formatTime(record.CreatedAt), formatTime(record.UpdatedAt))
	if err != nil {
		return false, fmt.Errorf("failed to insert publish record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit publish record: %w", err)
	}
	return true, nil
}

// GetRecordByKey returns the record for an idempotency key
func (r *RecordRepo) GetRecordByKey(ctx context.Context, key string) (*PublishRecord, error) {
	return r.getOne(ctx, `SELECT `+recordColumns+` FROM publish_records WHERE idempotency_key = ?`, key)
}

func (r *RecordRepo) GetRecordByJobID(ctx context.Context, jobID string) (*PublishRecord, error) {
	return r.getOne(ctx, `SELECT `+recordColumns+` FROM publish_records WHERE job_id = ?`, jobID)
}

// ListRecordsByDraft returns all records for a draft, newest first
func (r *RecordRepo) ListRecordsByDraft(ctx context.Context, draftID string) ([]PublishRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM publish_records
		WHERE draft_id = ?
		ORDER BY created_at DESC, id DESC
	`, draftID)
	if err != nil {
		return nil, fmt.Errorf("failed to query publish records: %w", err)
	}
	defer rows.Close()

	var records []PublishRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan publish record: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate publish records: %w", err)
	}
	return records, nil
}

// StartRecordAttempt marks the record in progress and counts one delivery
// attempt. Records already in progress or successful are left untouched.
func (r *RecordRepo) StartRecordAttempt(ctx context.Context, recordID, runBy string, now time.Time) (bool, error) {
	return r.update(ctx, "start publish record", `
		UPDATE publish_records
		SET status = ?, attempt = attempt + 1, run_by = ?, error_message = NULL, updated_at = ?
		WHERE id = ? AND status IN (?, ?, ?)
	`, string(RecordStatusInProgress), nullString(runBy), formatTime(now), recordID,
		string(RecordStatusPending), string(RecordStatusFailed), string(RecordStatusCancelled))
}

// CompleteRecord stores the outcome of a delivery attempt
func (r *RecordRepo) CompleteRecord(ctx context.Context, recordID string, result RecordResult, now time.Time) (bool, error) {
	if result.Status != RecordStatusSuccess && result.Status != RecordStatusFailed {
		return false, fmt.Errorf("invalid record outcome %q", result.Status)
	}
	return r.update(ctx, "complete publish record", `
		UPDATE publish_records
		SET status = ?, response = ?, external_url = ?, platform_id = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(result.Status), nullJSON(result.Response), nullString(result.ExternalURL),
		nullString(result.PlatformID), nullString(result.ErrorMessage), formatTime(now),
		recordID, string(RecordStatusInProgress))
}

// CancelRecordByJob marks the record of a cancelled job as cancelled
func (r *RecordRepo) CancelRecordByJob(ctx context.Context, jobID string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE publish_records SET status = ?, updated_at = ?
		WHERE job_id = ? AND status IN (?, ?)
	`, string(RecordStatusCancelled), formatTime(now), jobID,
		string(RecordStatusPending), string(RecordStatusFailed))
	if err != nil {
		return fmt.Errorf("failed to cancel publish record: %w", err)
	}
	return nil
}

func (r *RecordRepo) getOne(ctx context.Context, query string, args ...any) (*PublishRecord, error) {
	record, err := scanRecord(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get publish record: %w", err)
	}
	return record, nil
}

func (r *RecordRepo) update(ctx context.Context, op, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func scanRecord(row rowScanner) (*PublishRecord, error) {
	var rec PublishRecord
	var status, createdAt, updatedAt string
	var jobID, request, response, externalURL, platformID, errorMessage, runBy sql.NullString

	if err := row.Scan(&rec.ID, &rec.DraftID, &rec.Destination, &jobID, &status, &request, &response,
		&externalURL, &platformID, &errorMessage, &runBy, &rec.Attempt, &rec.IdempotencyKey,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}

	rec.JobID = jobID.String
	rec.Status = RecordStatus(status)
	rec.Request = rawJSON(request)
	rec.Response = rawJSON(response)
	rec.ExternalURL = externalURL.String
	rec.PlatformID = platformID.String
	rec.ErrorMessage = errorMessage.String
	rec.RunBy = runBy.String

	var err error
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}
