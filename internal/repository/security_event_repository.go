package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kentiva/ops-api/internal/models"
)

// SecurityEventRepository is the durable store for detected anomalies.
type SecurityEventRepository struct {
	db *sqlx.DB
}

// NewSecurityEventRepository creates a new instance of SecurityEventRepository.
func NewSecurityEventRepository(db *sqlx.DB) *SecurityEventRepository {
	return &SecurityEventRepository{db: db}
}

// Create persists a security event.
func (r *SecurityEventRepository) Create(ctx context.Context, event *models.SecurityEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO security_events (id, org_id, type, severity, description, entity_type, entity_id, user_id, meta, created_at, resolved_at) VALUES (:id, :org_id, :type, :severity, :description, :entity_type, :entity_id, :user_id, :meta, :created_at, :resolved_at)`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("create security event: %w", err)
	}
	return nil
}

// List returns events matching the filter with a total count.
func (r *SecurityEventRepository) List(ctx context.Context, filter models.SecurityEventFilter) ([]models.SecurityEvent, int, error) {
	baseQuery := `FROM security_events WHERE org_id = $1`
	args := []interface{}{filter.OrgID}

	var conditions []string
	if filter.Severity != nil {
		conditions = append(conditions, fmt.Sprintf("severity = $%d", len(args)+1))
		args = append(args, *filter.Severity)
	}
	if filter.Resolved != nil {
		if *filter.Resolved {
			conditions = append(conditions, "resolved_at IS NOT NULL")
		} else {
			conditions = append(conditions, "resolved_at IS NULL")
		}
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT id, org_id, type, severity, description, entity_type, entity_id, user_id, meta, created_at, resolved_at %s ORDER BY created_at DESC LIMIT %d OFFSET %d", baseQuery, pageSize, offset)

	var events []models.SecurityEvent
	if err := r.db.SelectContext(ctx, &events, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list security events: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count security events: %w", err)
	}

	return events, total, nil
}

// Resolve stamps resolved_at once; resolving an already-resolved event is a
// no-op that still succeeds.
func (r *SecurityEventRepository) Resolve(ctx context.Context, orgID, id string, resolvedAt time.Time) error {
	const exists = `SELECT COUNT(*) FROM security_events WHERE id = $1 AND org_id = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, exists, id, orgID); err != nil {
		return fmt.Errorf("resolve security event lookup: %w", err)
	}
	if count == 0 {
		return sql.ErrNoRows
	}

	const query = `UPDATE security_events SET resolved_at = $3 WHERE id = $1 AND org_id = $2 AND resolved_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, id, orgID, resolvedAt); err != nil {
		return fmt.Errorf("resolve security event: %w", err)
	}
	return nil
}

// ExistsSince reports whether an unresolved event of the given type exists
// for the actor within the window. Used to deduplicate detector output.
func (r *SecurityEventRepository) ExistsSince(ctx context.Context, orgID string, eventType models.SecurityEventType, userID string, since time.Time) (bool, error) {
	const query = `SELECT COUNT(*) FROM security_events WHERE org_id = $1 AND type = $2 AND user_id = $3 AND created_at >= $4`
	var count int
	if err := r.db.GetContext(ctx, &count, query, orgID, eventType, userID, since); err != nil {
		return false, fmt.Errorf("security event exists since: %w", err)
	}
	return count > 0, nil
}
