package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kentiva/ops-api/internal/models"
)

// AuditRepository stores the activity trail consumed by the bulk-deactivation
// detector and the usage logger.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new instance of AuditRepository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create stores an audit log entry.
func (r *AuditRepository) Create(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, org_id, actor_user_id, entity_type, entity_id, action, before, after, ip_address, user_agent, created_at) VALUES (:id, :org_id, :actor_user_id, :entity_type, :entity_id, :action, :before, :after, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// CountActionsSince counts entries of one action kind by one actor within the
// trailing window. This is a durable-store query so the count is consistent
// across process instances.
func (r *AuditRepository) CountActionsSince(ctx context.Context, orgID, actorUserID, action string, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM audit_logs WHERE org_id = $1 AND actor_user_id = $2 AND action = $3 AND created_at >= $4`
	var count int
	if err := r.db.GetContext(ctx, &count, query, orgID, actorUserID, action, since); err != nil {
		return 0, fmt.Errorf("count audit actions: %w", err)
	}
	return count, nil
}
