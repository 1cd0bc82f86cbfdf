package publish

import (
	"context"
	"fmt"
	"slices"

	"github.com/retailxai/draft-publisher/app/access"
	"github.com/retailxai/draft-publisher/app/audit"
	"github.com/retailxai/draft-publisher/app/database"
)

// TestDestination checks that the stored credentials for a destination are
// accepted by the platform.
func (c *Coordinator) TestDestination(ctx context.Context, dest string, actor access.Actor) (bool, error) {
	if err := access.Authorize(actor.Role, access.EndpointTest); err != nil {
		return false, err
	}

	cfg, err := c.destinations.GetConfig(dest)
	if err != nil {
		return false, fmt.Errorf("%w: unknown destination %q", ErrValidation, dest)
	}

	cred, reason, err := c.resolveCredential(ctx, dest)
	if err != nil {
		return false, err
	}

	ok := false
	if reason == "" {
		adapter, err := c.factory.New(cfg, cred)
		if err != nil {
			reason = err.Error()
		} else {
			ok = adapter.TestConnection(ctx)
		}
	}

	after := map[string]any{"connected": ok}
	if reason != "" {
		after["error"] = reason
	}
	c.trail.Record(ctx, audit.Entry{
		Actor:      actor.ID,
		Action:     ActionTestConnection,
		EntityType: EntityEndpoint,
		EntityID:   dest,
		After:      after,
	})

	return ok, nil
}

// SaveCredential stores the credential bundle of a destination. Secrets are
// never written to the audit trail.
func (c *Coordinator) SaveCredential(ctx context.Context, cred *database.Credential, actor access.Actor) error {
	if err := access.Authorize(actor.Role, access.EndpointManage); err != nil {
		return err
	}
	if _, err := c.destinations.GetConfig(cred.Destination); err != nil {
		return fmt.Errorf("%w: unknown destination %q", ErrValidation, cred.Destination)
	}

	var before any
	existing, err := c.credentials.GetCredential(ctx, cred.Destination)
	if err != nil {
		return err
	}
	if existing != nil {
		before = credentialSnapshot(existing)
	}

	if err := c.credentials.SaveCredential(ctx, cred); err != nil {
		return err
	}

	c.trail.Record(ctx, audit.Entry{
		Actor:      actor.ID,
		Action:     ActionSaveCredential,
		EntityType: EntityEndpoint,
		EntityID:   cred.Destination,
		Before:     before,
		After:      credentialSnapshot(cred),
	})
	return nil
}

// ListAuditEntries returns audit entries for actors holding audit-read.
func (c *Coordinator) ListAuditEntries(ctx context.Context, filter audit.Filter, actor access.Actor) ([]database.AuditEntry, error) {
	if err := access.Authorize(actor.Role, access.AuditRead); err != nil {
		return nil, err
	}
	return c.trail.List(ctx, filter)
}

func credentialSnapshot(cred *database.Credential) map[string]any {
	tokenNames := make([]string, 0, len(cred.Tokens))
	for name := range cred.Tokens {
		tokenNames = append(tokenNames, name)
	}
	slices.Sort(tokenNames)
	return map[string]any{
		"active":     cred.Active,
		"scopes":     cred.Scopes,
		"tokens":     tokenNames,
		"expires_at": cred.ExpiresAt,
	}
}
