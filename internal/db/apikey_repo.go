package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"cropsense/internal/types"
)

// APIKeyRepository provides data access for the api_keys table. API keys use
// bcrypt hashing; plaintext secrets are never stored.
type APIKeyRepository struct {
	db DBTX
}

// NewAPIKeyRepository creates a new APIKeyRepository.
func NewAPIKeyRepository(db DBTX) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// apiKeyColumns defines the standard set of columns selected for API key
// queries. key_hash is included for verification but MUST NOT be exposed in
// API responses.
const apiKeyColumns = `id, organization_id, key_prefix, key_hash, name,
	expires_at, revoked_at, created_at`

// Create inserts a new API key record. KeyHash MUST already be the bcrypt
// hash of the plaintext secret.
func (r *APIKeyRepository) Create(ctx context.Context, key *types.APIKey) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO api_keys (id, organization_id, key_prefix, key_hash, name,
		 expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`,
		key.ID,
		key.OrganizationID,
		key.KeyPrefix,
		key.KeyHash,
		key.Name,
		key.ExpiresAt,
		nilIfZeroTime(key.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create API key", err)
	}
	return nil
}

// GetByPrefix retrieves an API key by its lookup prefix. Revoked and expired
// keys are still returned; the auth service decides how to report them.
func (r *APIKeyRepository) GetByPrefix(ctx context.Context, prefix string) (*types.APIKey, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1`,
		prefix,
	)

	key, err := scanAPIKey(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeAuthKeyInvalid, "API key not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve API key", err)
	}
	return key, nil
}

// Revoke soft-revokes an API key by setting revoked_at.
func (r *APIKeyRepository) Revoke(ctx context.Context, id string, orgID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE api_keys SET revoked_at = NOW()
		 WHERE id = $1 AND organization_id = $2 AND revoked_at IS NULL`,
		id,
		orgID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to revoke API key", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeAuthKeyInvalid, "API key not found or already revoked", nil)
	}
	return nil
}

func scanAPIKey(row pgx.Row) (*types.APIKey, error) {
	var key types.APIKey
	err := row.Scan(
		&key.ID,
		&key.OrganizationID,
		&key.KeyPrefix,
		&key.KeyHash,
		&key.Name,
		&key.ExpiresAt,
		&key.RevokedAt,
		&key.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &key, nil
}
