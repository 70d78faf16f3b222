package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// SecurityEventType identifies the anomaly class.
type SecurityEventType string

const (
	EventFailedLoginSpike     SecurityEventType = "FAILED_LOGIN_SPIKE"
	EventBulkUserDeactivation SecurityEventType = "BULK_USER_DEACTIVATION"
)

// SecurityEventSeverity ranks operator urgency.
type SecurityEventSeverity string

const (
	SeverityLow      SecurityEventSeverity = "LOW"
	SeverityMedium   SecurityEventSeverity = "MEDIUM"
	SeverityHigh     SecurityEventSeverity = "HIGH"
	SeverityCritical SecurityEventSeverity = "CRITICAL"
)

// EventMeta holds free-form detection context. Stored as JSONB.
type EventMeta map[string]interface{}

// Value implements driver.Valuer.
func (m EventMeta) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *EventMeta) Scan(src interface{}) error {
	if src == nil {
		*m = EventMeta{}
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan event meta: unsupported type %T", src)
	}
	return json.Unmarshal(raw, m)
}

// SecurityEvent is a durable anomaly record requiring operator review. Events
// are never deleted, only resolved.
type SecurityEvent struct {
	ID          string                `db:"id" json:"id"`
	OrgID       string                `db:"org_id" json:"org_id"`
	Type        SecurityEventType     `db:"type" json:"type"`
	Severity    SecurityEventSeverity `db:"severity" json:"severity"`
	Description string                `db:"description" json:"description"`
	EntityType  *string               `db:"entity_type" json:"entity_type,omitempty"`
	EntityID    *string               `db:"entity_id" json:"entity_id,omitempty"`
	UserID      *string               `db:"user_id" json:"user_id,omitempty"`
	Meta        EventMeta             `db:"meta" json:"meta"`
	CreatedAt   time.Time             `db:"created_at" json:"created_at"`
	ResolvedAt  *time.Time            `db:"resolved_at" json:"resolved_at,omitempty"`
}

// SecurityEventFilter narrows event listings for the review surface.
type SecurityEventFilter struct {
	OrgID    string
	Severity *SecurityEventSeverity
	Resolved *bool
	Page     int
	PageSize int
}
