package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/retailxai/draft-publisher/app/access"
	"github.com/retailxai/draft-publisher/app/audit"
	"github.com/retailxai/draft-publisher/app/database"
)

// GetDraft returns the draft or database.ErrNotFound.
func (c *Coordinator) GetDraft(ctx context.Context, draftID string, actor access.Actor) (*database.Draft, error) {
	if err := access.Authorize(actor.Role, access.DraftRead); err != nil {
		return nil, err
	}
	draft, err := c.drafts.GetDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if draft == nil {
		return nil, fmt.Errorf("draft %s: %w", draftID, database.ErrNotFound)
	}
	return draft, nil
}

// SaveDraft creates or updates a draft handed over by the editorial side.
func (c *Coordinator) SaveDraft(ctx context.Context, draft *database.Draft, actor access.Actor) error {
	if err := access.Authorize(actor.Role, access.DraftWrite); err != nil {
		return err
	}
	if draft.ID == "" || draft.Slug == "" || draft.Title == "" {
		return fmt.Errorf("%w: draft id, slug and title are required", ErrValidation)
	}
	if draft.Status == "" {
		draft.Status = database.DraftStatusDrafting
	}
	if !draft.Status.Valid() {
		return fmt.Errorf("%w: unknown draft status %q", ErrValidation, draft.Status)
	}

	existing, err := c.drafts.GetDraft(ctx, draft.ID)
	if err != nil {
		return err
	}

	if err := c.drafts.SaveDraft(ctx, draft); err != nil {
		if errors.Is(err, database.ErrSlugImmutable) || errors.Is(err, database.ErrSlugTaken) {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return err
	}

	action := ActionCreateDraft
	var before any
	if existing != nil {
		action = ActionUpdateDraft
		before = draftSnapshot(existing)
	}
	c.trail.Record(ctx, audit.Entry{
		Actor:      actor.ID,
		Action:     action,
		EntityType: EntityDraft,
		EntityID:   draft.ID,
		Before:     before,
		After:      draftSnapshot(draft),
	})
	return nil
}

func draftSnapshot(d *database.Draft) map[string]any {
	return map[string]any{
		"slug":     d.Slug,
		"title":    d.Title,
		"status":   d.Status,
		"revision": Revision(d),
	}
}
