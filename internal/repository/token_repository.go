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

// TokenRepository persists refresh tokens and their rotation chain.
type TokenRepository struct {
	db *sqlx.DB
}

// NewTokenRepository creates a new instance of TokenRepository.
func NewTokenRepository(db *sqlx.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Create persists a refresh token row.
func (r *TokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO refresh_tokens (id, org_id, user_id, token_hash, expires_at, revoked_at, replaced_by_token_id, ip_address, user_agent, created_at) VALUES (:id, :org_id, :user_id, :token_hash, :expires_at, :revoked_at, :replaced_by_token_id, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindByHash returns a refresh token row by its stored digest.
func (r *TokenRepository) FindByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	const query = `SELECT id, org_id, user_id, token_hash, expires_at, revoked_at, replaced_by_token_id, ip_address, user_agent, created_at FROM refresh_tokens WHERE token_hash = $1 LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, tokenHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// Rotate atomically creates the successor token and revokes its predecessor,
// linking old to new. The conditional revoke makes rotation exactly-once: a
// concurrent rotation of the same token loses the race and the transaction
// rolls back with sql.ErrNoRows.
func (r *TokenRepository) Rotate(ctx context.Context, oldID string, next *models.RefreshToken, revokedAt time.Time) error {
	if next.ID == "" {
		next.ID = uuid.NewString()
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = revokedAt
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rotation: %w", err)
	}

	const insert = `INSERT INTO refresh_tokens (id, org_id, user_id, token_hash, expires_at, revoked_at, replaced_by_token_id, ip_address, user_agent, created_at) VALUES (:id, :org_id, :user_id, :token_hash, :expires_at, :revoked_at, :replaced_by_token_id, :ip_address, :user_agent, :created_at)`
	if _, err = tx.NamedExecContext(ctx, insert, next); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert rotated token: %w", err)
	}

	const revoke = `UPDATE refresh_tokens SET revoked_at = $2, replaced_by_token_id = $3 WHERE id = $1 AND revoked_at IS NULL`
	result, err := tx.ExecContext(ctx, revoke, oldID, revokedAt, next.ID)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("revoke rotated token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("rotation rows affected: %w", err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		return sql.ErrNoRows
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rotation: %w", err)
	}
	return nil
}

// Revoke marks a token as revoked. Revoking an already-revoked token is a
// no-op.
func (r *TokenRepository) Revoke(ctx context.Context, id string, revokedAt time.Time) error {
	const query = `UPDATE refresh_tokens SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, id, revokedAt); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every live token held by a user, e.g. after a
// password change or deactivation.
func (r *TokenRepository) RevokeAllForUser(ctx context.Context, userID string, revokedAt time.Time) error {
	const query = `UPDATE refresh_tokens SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, userID, revokedAt); err != nil {
		return fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return nil
}
