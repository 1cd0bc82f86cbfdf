package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DraftRepo handles database operations for drafts
type DraftRepo struct {
	db *DB
}

var _ DraftRepository = (*DraftRepo)(nil)

// NewDraftRepository creates a new draft repository
func NewDraftRepository(db *DB) *DraftRepo {
	return &DraftRepo{db: db}
}

// GetDraft retrieves a draft by id
func (r *DraftRepo) GetDraft(ctx context.Context, id string) (*Draft, error) {
	var d Draft
	var tags, scores, meta, status, createdAt, updatedAt string

	err := r.db.QueryRowContext(ctx, `
		SELECT id, slug, title, summary, body_md, body_html, tags, status, author,
			scores, meta, created_at, updated_at
		FROM drafts
		WHERE id = ?
	`, id).Scan(&d.ID, &d.Slug, &d.Title, &d.Summary, &d.BodyMD, &d.BodyHTML, &tags,
		&status, &d.Author, &scores, &meta, &createdAt, &updatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get draft: %w", err)
	}

	d.Status = DraftStatus(status)
	if err := decodeJSON(tags, &d.Tags); err != nil {
		return nil, err
	}
	if err := decodeJSON(scores, &d.Scores); err != nil {
		return nil, err
	}
	if err := decodeJSON(meta, &d.Meta); err != nil {
		return nil, err
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &d, nil
}

// SaveDraft inserts the draft or updates it in place. The slug of an
// existing draft cannot change.
func (r *DraftRepo) SaveDraft(ctx context.Context, draft *Draft) error {
	if draft.ID == "" || draft.Slug == "" {
		return fmt.Errorf("draft id and slug are required")
	}

	tags, err := encodeJSON(nonNilSlice(draft.Tags))
	if err != nil {
		return err
	}
	scores, err := encodeJSON(nonNilMap(draft.Scores))
	if err != nil {
		return err
	}
	meta, err := encodeJSON(nonNilMap(draft.Meta))
	if err != nil {
		return err
	}
	if draft.Status == "" {
		draft.Status = DraftStatusDrafting
	}

	existing, err := r.GetDraft(ctx, draft.ID)
	if err != nil {
		return fmt.Errorf("failed to check existing draft: %w", err)
	}

	now := time.Now().UTC()
	if existing != nil {
		if existing.Slug != draft.Slug {
			return ErrSlugImmutable
		}
		_, err = r.db.ExecContext(ctx, `
			UPDATE drafts
			SET title = ?, summary = ?, body_md = ?, body_html = ?, tags = ?, status = ?,
				author = ?, scores = ?, meta = ?, updated_at = ?
			WHERE id = ?
		`, draft.Title, draft.Summary, draft.BodyMD, draft.BodyHTML, tags, string(draft.Status),
			draft.Author, scores, meta, formatTime(now), draft.ID)
		if err != nil {
			return fmt.Errorf("failed to update draft: %w", err)
		}
		draft.CreatedAt = existing.CreatedAt
		draft.UpdatedAt = now
		return nil
	}

	var owner string
	err = r.db.QueryRowContext(ctx, `SELECT id FROM drafts WHERE slug = ?`, draft.Slug).Scan(&owner)
	if err == nil {
		return ErrSlugTaken
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check draft slug: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO drafts (id, slug, title, summary, body_md, body_html, tags, status,
			author, scores, meta, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, draft.ID, draft.Slug, draft.Title, draft.Summary, draft.BodyMD, draft.BodyHTML, tags,
		string(draft.Status), draft.Author, scores, meta, formatTime(now), formatTime(now))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: drafts.slug") {
			return ErrSlugTaken
		}
		return fmt.Errorf("failed to insert draft: %w", err)
	}
	draft.CreatedAt = now
	draft.UpdatedAt = now

	return nil
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
