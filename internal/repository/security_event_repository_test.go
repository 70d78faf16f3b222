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

func TestCreateSecurityEvent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSecurityEventRepository(db)

	mock.ExpectExec("INSERT INTO security_events").WillReturnResult(sqlmock.NewResult(1, 1))

	event := &models.SecurityEvent{
		OrgID:       "org-1",
		Type:        models.EventFailedLoginSpike,
		Severity:    models.SeverityMedium,
		Description: "5 failed login attempts within 10m0s",
		Meta:        models.EventMeta{"email": "user@example.com"},
	}
	require.NoError(t, repo.Create(context.Background(), event))
	assert.NotEmpty(t, event.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListSecurityEventsWithFilter(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSecurityEventRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "org_id", "type", "severity", "description", "entity_type", "entity_id", "user_id", "meta", "created_at", "resolved_at"}).
		AddRow("ev1", "org-1", string(models.EventBulkUserDeactivation), string(models.SeverityHigh), "4 deactivations", nil, nil, "u1", []byte(`{}`), now, nil)
	mock.ExpectQuery("SELECT .+ FROM security_events WHERE org_id = \\$1 AND severity = \\$2 AND resolved_at IS NULL ORDER BY created_at DESC LIMIT 20 OFFSET 0").
		WithArgs("org-1", models.SeverityHigh).
		WillReturnRows(rows)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM security_events WHERE org_id = \\$1 AND severity = \\$2 AND resolved_at IS NULL").
		WithArgs("org-1", models.SeverityHigh).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	severity := models.SeverityHigh
	resolved := false
	events, total, err := repo.List(context.Background(), models.SecurityEventFilter{OrgID: "org-1", Severity: &severity, Resolved: &resolved})
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveSecurityEvent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSecurityEventRepository(db)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM security_events WHERE id = \\$1 AND org_id = \\$2").
		WithArgs("ev1", "org-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec("UPDATE security_events SET resolved_at").
		WithArgs("ev1", "org-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Resolve(context.Background(), "org-1", "ev1", time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveUnknownSecurityEvent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSecurityEventRepository(db)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM security_events WHERE id = \\$1 AND org_id = \\$2").
		WithArgs("missing", "org-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	err := repo.Resolve(context.Background(), "org-1", "missing", time.Now())
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestExistsSince(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSecurityEventRepository(db)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM security_events WHERE org_id = \\$1 AND type = \\$2 AND user_id = \\$3 AND created_at >= \\$4").
		WithArgs("org-1", models.EventBulkUserDeactivation, "u1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	exists, err := repo.ExistsSince(context.Background(), "org-1", models.EventBulkUserDeactivation, "u1", time.Now().Add(-10*time.Minute))
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}
