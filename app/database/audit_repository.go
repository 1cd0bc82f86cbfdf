package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// AuditRepo appends to and reads the audit log. It has no update or
// delete paths.
type AuditRepo struct {
	db *DB
}

var _ AuditRepository = (*AuditRepo)(nil)

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// InsertAuditEntry appends an audit entry
func (r *AuditRepo) InsertAuditEntry(ctx context.Context, entry *AuditEntry) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (actor, action, entity_type, entity_id, before_json, after_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.Actor, entry.Action, entry.EntityType, entry.EntityID,
		nullJSON(entry.Before), nullJSON(entry.After), formatTime(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read audit entry id: %w", err)
	}
	entry.ID = id
	return nil
}

// ListAuditEntries returns matching entries newest first.
func (r *AuditRepo) ListAuditEntries(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	var where []string
	var args []any
	for _, f := range []struct {
		column string
		value  string
	}{
		{"actor", filter.Actor},
		{"action", filter.Action},
		{"entity_type", filter.EntityType},
		{"entity_id", filter.EntityID},
	} {
		if f.value != "" {
			where = append(where, f.column+" = ?")
			args = append(args, f.value)
		}
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(*filter.Since))
	}

	query := `SELECT id, actor, action, entity_type, entity_id, before_json, after_json, created_at FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var before, after sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.EntityType, &e.EntityID, &before, &after, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Before = rawJSON(before)
		e.After = rawJSON(after)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit log: %w", err)
	}
	return entries, nil
}
