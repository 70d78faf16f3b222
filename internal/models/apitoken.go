package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Capability names checked on scope-gated admin routes. Session identities
// are not scoped; these apply to service-account tokens only.
const (
	ScopeTokensManage = "tokens:manage"
	ScopeEventsReview = "security_events:review"
	ScopeUsersManage  = "users:manage"
)

// ScopeSet maps capability names to explicit grants. Stored as JSONB.
type ScopeSet map[string]bool

// Value implements driver.Valuer.
func (s ScopeSet) Value() (driver.Value, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner.
func (s *ScopeSet) Scan(src interface{}) error {
	if src == nil {
		*s = ScopeSet{}
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan scopes: unsupported type %T", src)
	}
	return json.Unmarshal(raw, s)
}

// Has reports whether the capability is explicitly granted.
func (s ScopeSet) Has(capability string) bool {
	return s[capability]
}

// APIToken is a long-lived hashed credential identifying a service account
// bound to one org and role, with an hourly request quota.
type APIToken struct {
	ID               string     `db:"id" json:"id"`
	OrgID            string     `db:"org_id" json:"org_id"`
	Name             string     `db:"name" json:"name"`
	Role             UserRole   `db:"role" json:"role"`
	TokenHash        string     `db:"token_hash" json:"-"`
	Scopes           ScopeSet   `db:"scopes" json:"scopes"`
	RateLimitPerHour int        `db:"rate_limit_per_hour" json:"rate_limit_per_hour"`
	RequestsThisHour int        `db:"requests_this_hour" json:"requests_this_hour"`
	HourWindowStart  time.Time  `db:"hour_window_start" json:"hour_window_start"`
	RevokedAt        *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	LastUsedAt       *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

// CreateAPITokenRequest is the admin payload for minting a service account
// token.
type CreateAPITokenRequest struct {
	Name             string   `json:"name" validate:"required,min=3,max=100"`
	Role             UserRole `json:"role" validate:"required,oneof=OWNER ADMIN MEMBER"`
	Scopes           ScopeSet `json:"scopes"`
	RateLimitPerHour int      `json:"rate_limit_per_hour" validate:"omitempty,min=1"`
}

// CreatedAPIToken carries the raw secret, returned exactly once at creation.
type CreatedAPIToken struct {
	Token string `json:"token"`
	APIToken
}

// ServiceIdentity is the authenticated principal for the API-token path.
type ServiceIdentity struct {
	ServiceAccountID string   `json:"service_account_id"`
	OrgID            string   `json:"org_id"`
	Role             UserRole `json:"role"`
	Scopes           ScopeSet `json:"scopes"`
	TokenName        string   `json:"token_name"`
}
