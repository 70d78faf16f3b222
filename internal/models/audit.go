package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionLoginSuccess   = "LOGIN_SUCCESS"
	AuditActionTokenRefresh   = "TOKEN_REFRESH"
	AuditActionLogout         = "LOGOUT"
	AuditActionAPITokenUsed   = "API_TOKEN_USED"
	AuditActionUserDeactivate = "USER_DEACTIVATE"
)

// AuditLog represents an audit trail record. Audit writes are diagnostic and
// never authoritative: their failures must not fail the request that
// produced them.
type AuditLog struct {
	ID          string    `db:"id" json:"id"`
	OrgID       string    `db:"org_id" json:"org_id"`
	ActorUserID *string   `db:"actor_user_id" json:"actor_user_id,omitempty"`
	EntityType  string    `db:"entity_type" json:"entity_type"`
	EntityID    *string   `db:"entity_id" json:"entity_id,omitempty"`
	Action      string    `db:"action" json:"action"`
	Before      []byte    `db:"before" json:"before,omitempty"`
	After       []byte    `db:"after" json:"after,omitempty"`
	IPAddress   string    `db:"ip_address" json:"ip_address"`
	UserAgent   string    `db:"user_agent" json:"user_agent"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
