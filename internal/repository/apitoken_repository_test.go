package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kentiva/ops-api/internal/models"
)

func apiTokenRows(now time.Time, revokedAt interface{}) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "org_id", "name", "role", "token_hash", "scopes", "rate_limit_per_hour", "requests_this_hour", "hour_window_start", "revoked_at", "last_used_at", "created_at"}).
		AddRow("tok-1", "org-1", "ci", string(models.RoleMember), "digest", []byte(`{"deploy":true}`), 1000, 5, now, revokedAt, now, now)
}

func TestCreateAPIToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAPITokenRepository(db)

	mock.ExpectExec("INSERT INTO api_tokens").WillReturnResult(sqlmock.NewResult(1, 1))

	token := &models.APIToken{OrgID: "org-1", Name: "ci", Role: models.RoleMember, TokenHash: "digest", RateLimitPerHour: 1000}
	require.NoError(t, repo.Create(context.Background(), token))
	assert.NotEmpty(t, token.ID)
	assert.False(t, token.HourWindowStart.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByHashIncludesRevoked(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAPITokenRepository(db)

	now := time.Now()
	mock.ExpectQuery("SELECT .+ FROM api_tokens WHERE token_hash = \\$1 LIMIT 1").
		WithArgs("digest").
		WillReturnRows(apiTokenRows(now, now))

	token, err := repo.FindByHash(context.Background(), "digest")
	require.NoError(t, err)
	assert.NotNil(t, token.RevokedAt)
	assert.True(t, token.Scopes.Has("deploy"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindActiveByHashExcludesRevoked(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAPITokenRepository(db)

	mock.ExpectQuery("SELECT .+ FROM api_tokens WHERE token_hash = \\$1 AND revoked_at IS NULL LIMIT 1").
		WithArgs("digest").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindActiveByHash(context.Background(), "digest")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestConsumeQuota(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAPITokenRepository(db)

	rows := sqlmock.NewRows([]string{"requests_this_hour", "rate_limit_per_hour"}).AddRow(6, 1000)
	mock.ExpectQuery("UPDATE api_tokens SET").
		WithArgs("tok-1", sqlmock.AnyArg()).
		WillReturnRows(rows)

	requests, limit, err := repo.ConsumeQuota(context.Background(), "tok-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 6, requests)
	assert.Equal(t, 1000, limit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeQuotaRevokedToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAPITokenRepository(db)

	mock.ExpectQuery("UPDATE api_tokens SET").
		WithArgs("tok-1", sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)

	_, _, err := repo.ConsumeQuota(context.Background(), "tok-1", time.Now())
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRevokeAPITokenMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAPITokenRepository(db)

	mock.ExpectExec("UPDATE api_tokens SET revoked_at").
		WithArgs("tok-1", "org-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Revoke(context.Background(), "org-1", "tok-1", time.Now())
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
