// Package audit appends and reads the immutable audit trail.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/retailxai/draft-publisher/app/database"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

type Entry struct {
	Actor      string
	Action     string
	EntityType string
	EntityID   string
	Before     any
	After      any
}

type Filter struct {
	Actor      string
	Action     string
	EntityType string
	EntityID   string
	Since      *time.Time
	Limit      int
}

// Trail appends and queries audit entries.
type Trail struct {
	repo database.AuditRepository
	now  func() time.Time
}

// New creates an audit trail backed by repo
func New(repo database.AuditRepository) *Trail {
	return &Trail{repo: repo, now: time.Now}
}

// Record appends an entry. Failures are logged and never returned, so a
// broken audit write cannot undo the operation being audited.
func (t *Trail) Record(ctx context.Context, e Entry) {
	before, err := snapshot(e.Before)
	if err != nil {
		logFailure(e, err)
		return
	}
	after, err := snapshot(e.After)
	if err != nil {
		logFailure(e, err)
		return
	}

	entry := &database.AuditEntry{
		Actor:      e.Actor,
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Before:     before,
		After:      after,
		CreatedAt:  t.now().UTC(),
	}
	if err := t.repo.InsertAuditEntry(ctx, entry); err != nil {
		logFailure(e, err)
	}
}

// List returns matching entries newest first.
func (t *Trail) List(ctx context.Context, f Filter) ([]database.AuditEntry, error) {
	entries, err := t.repo.ListAuditEntries(ctx, database.AuditFilter{
		Actor:      f.Actor,
		Action:     f.Action,
		EntityType: f.EntityType,
		EntityID:   f.EntityID,
		Since:      f.Since,
		Limit:      ClampLimit(f.Limit),
	})
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []database.AuditEntry{}
	}
	return entries, nil
}

// ClampLimit bounds a requested page size to 1..MaxLimit, defaulting
// non-positive values.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

func snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

func logFailure(e Entry, err error) {
	slog.Error("Failed to record audit entry",
		"actor", e.Actor,
		"action", e.Action,
		"entity_type", e.EntityType,
		"entity_id", e.EntityID,
		"error", err)
}
