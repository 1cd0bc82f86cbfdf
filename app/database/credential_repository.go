package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CredentialRepo handles database operations for endpoint credentials
type CredentialRepo struct {
	db *DB
}

var _ CredentialRepository = (*CredentialRepo)(nil)

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *DB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

// GetCredential returns the credentials stored for a destination
func (r *CredentialRepo) GetCredential(ctx context.Context, destination string) (*Credential, error) {
	var c Credential
	var tokens, scopes, createdAt, updatedAt string
	var expiresAt sql.NullString

	err := r.db.QueryRowContext(ctx, `
		SELECT id, destination, client_id, secret, tokens, expires_at, scopes, encrypted, active,
			created_at, updated_at
		FROM endpoint_credentials
		WHERE destination = ?
	`, destination).Scan(&c.ID, &c.Destination, &c.ClientID, &c.Secret, &tokens, &expiresAt,
		&scopes, &c.Encrypted, &c.Active, &createdAt, &updatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	if err := decodeJSON(tokens, &c.Tokens); err != nil {
		return nil, err
	}
	if err := decodeJSON(scopes, &c.Scopes); err != nil {
		return nil, err
	}
	if c.ExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &c, nil
}

// SaveCredential upserts the credential bundle for its destination.
func (r *CredentialRepo) SaveCredential(ctx context.Context, credential *Credential) error {
	if credential.Destination == "" {
		return fmt.Errorf("credential destination is required")
	}

	tokens := credential.Tokens
	if tokens == nil {
		tokens = map[string]string{}
	}
	tokensJSON, err := encodeJSON(tokens)
	if err != nil {
		return err
	}
	scopesJSON, err := encodeJSON(nonNilSlice(credential.Scopes))
	if err != nil {
		return err
	}

	now := formatTime(time.Now())
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO endpoint_credentials (destination, client_id, secret, tokens, expires_at, scopes,
			encrypted, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(destination) DO UPDATE SET
			client_id = excluded.client_id,
			secret = excluded.secret,
			tokens = excluded.tokens,
			expires_at = excluded.expires_at,
			scopes = excluded.scopes,
			encrypted = excluded.encrypted,
			active = excluded.active,
			updated_at = excluded.updated_at
	`, credential.Destination, credential.ClientID, credential.Secret, tokensJSON,
		formatNullTime(credential.ExpiresAt), scopesJSON, credential.Encrypted, credential.Active, now, now)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}

	return nil
}
