package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kentiva/ops-api/internal/models"
)

// APITokenRepository persists service-account API tokens and their hourly
// usage counters.
type APITokenRepository struct {
	db *sqlx.DB
}

// NewAPITokenRepository creates a new instance of APITokenRepository.
func NewAPITokenRepository(db *sqlx.DB) *APITokenRepository {
	return &APITokenRepository{db: db}
}

const apiTokenColumns = `id, org_id, name, role, token_hash, scopes, rate_limit_per_hour, requests_this_hour, hour_window_start, revoked_at, last_used_at, created_at`

// Create persists a new API token row.
func (r *APITokenRepository) Create(ctx context.Context, token *models.APIToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	if token.HourWindowStart.IsZero() {
		token.HourWindowStart = token.CreatedAt
	}
	const query = `INSERT INTO api_tokens (id, org_id, name, role, token_hash, scopes, rate_limit_per_hour, requests_this_hour, hour_window_start, revoked_at, last_used_at, created_at) VALUES (:id, :org_id, :name, :role, :token_hash, :scopes, :rate_limit_per_hour, :requests_this_hour, :hour_window_start, :revoked_at, :last_used_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create api token: %w", err)
	}
	return nil
}

// FindByHash returns a token row matching the digest regardless of
// revocation. Used to attribute usage audits even for revoked tokens; it must
// never authorize a request.
func (r *APITokenRepository) FindByHash(ctx context.Context, tokenHash string) (*models.APIToken, error) {
	query := `SELECT ` + apiTokenColumns + ` FROM api_tokens WHERE token_hash = $1 LIMIT 1`
	var token models.APIToken
	if err := r.db.GetContext(ctx, &token, query, tokenHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find api token by hash: %w", err)
	}
	return &token, nil
}

// FindActiveByHash returns the unrevoked token row matching the digest. Only
// this lookup may authorize a request.
func (r *APITokenRepository) FindActiveByHash(ctx context.Context, tokenHash string) (*models.APIToken, error) {
	query := `SELECT ` + apiTokenColumns + ` FROM api_tokens WHERE token_hash = $1 AND revoked_at IS NULL LIMIT 1`
	var token models.APIToken
	if err := r.db.GetContext(ctx, &token, query, tokenHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find active api token by hash: %w", err)
	}
	return &token, nil
}

// ConsumeQuota advances the hourly counter in a single atomic statement: the
// window resets in-statement when stale, the counter always advances (denied
// requests are counted), and last_used_at moves only when the request is
// admitted. Returns the post-increment count and the token's limit.
func (r *APITokenRepository) ConsumeQuota(ctx context.Context, id string, now time.Time) (requests int, limit int, err error) {
	const query = `
UPDATE api_tokens SET
	requests_this_hour = CASE WHEN $2 >= hour_window_start + interval '1 hour' THEN 1 ELSE requests_this_hour + 1 END,
	hour_window_start  = CASE WHEN $2 >= hour_window_start + interval '1 hour' THEN $2 ELSE hour_window_start END,
	last_used_at       = CASE WHEN (CASE WHEN $2 >= hour_window_start + interval '1 hour' THEN 1 ELSE requests_this_hour + 1 END) <= rate_limit_per_hour THEN $2 ELSE last_used_at END
WHERE id = $1 AND revoked_at IS NULL
RETURNING requests_this_hour, rate_limit_per_hour`
	row := r.db.QueryRowxContext(ctx, query, id, now)
	if err := row.Scan(&requests, &limit); err != nil {
		if err == sql.ErrNoRows {
			return 0, 0, err
		}
		return 0, 0, fmt.Errorf("consume api token quota: %w", err)
	}
	return requests, limit, nil
}

// ListByOrg returns an org's tokens, newest first.
func (r *APITokenRepository) ListByOrg(ctx context.Context, orgID string) ([]models.APIToken, error) {
	query := `SELECT ` + apiTokenColumns + ` FROM api_tokens WHERE org_id = $1 ORDER BY created_at DESC`
	var tokens []models.APIToken
	if err := r.db.SelectContext(ctx, &tokens, query, orgID); err != nil {
		return nil, fmt.Errorf("list api tokens: %w", err)
	}
	return tokens, nil
}

// Revoke marks a token revoked; already-revoked rows are untouched.
func (r *APITokenRepository) Revoke(ctx context.Context, orgID, id string, revokedAt time.Time) error {
	const query = `UPDATE api_tokens SET revoked_at = $3 WHERE id = $1 AND org_id = $2 AND revoked_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, id, orgID, revokedAt)
	if err != nil {
		return fmt.Errorf("revoke api token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke api token rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
