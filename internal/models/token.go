package models

import "time"

// RefreshToken represents a persisted refresh token. The raw token is never
// stored; only its SHA-256 digest. Rotations form a singly-linked chain via
// ReplacedByTokenID so a reused ancestor can be traced to its successor.
type RefreshToken struct {
	ID                string     `db:"id" json:"id"`
	OrgID             string     `db:"org_id" json:"org_id"`
	UserID            string     `db:"user_id" json:"user_id"`
	TokenHash         string     `db:"token_hash" json:"-"`
	ExpiresAt         time.Time  `db:"expires_at" json:"expires_at"`
	RevokedAt         *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	ReplacedByTokenID *string    `db:"replaced_by_token_id" json:"replaced_by_token_id,omitempty"`
	IPAddress         string     `db:"ip_address" json:"ip_address"`
	UserAgent         string     `db:"user_agent" json:"user_agent"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
}

// Active reports whether the token may still mint access tokens.
func (t *RefreshToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}
