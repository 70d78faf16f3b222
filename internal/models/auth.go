package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials for authenticating a user. OrgID selects the
// target org; when empty the user's default org is used.
type LoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	OrgID     string `json:"org_id" validate:"omitempty,uuid"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResponse returns the issued tokens and user info.
type LoginResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	User         UserInfo  `json:"user"`
	IssuedAt     time.Time `json:"issued_at"`
}

// RefreshRequest exchanges a refresh token for a new token pair.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// RefreshResponse returns the rotated tokens.
type RefreshResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	IssuedAt     time.Time `json:"issued_at"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID       string   `json:"id"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	OrgID    string   `json:"org_id"`
	Role     UserRole `json:"role"`
}

// AccessClaims is the JWT payload for access tokens. OrgID is the legacy
// claim kept for tokens minted before org switching shipped; new tokens
// always carry ActiveOrgID.
type AccessClaims struct {
	UserID      string   `json:"user_id"`
	OrgID       string   `json:"org_id,omitempty"`
	ActiveOrgID string   `json:"active_org_id,omitempty"`
	Role        UserRole `json:"role"`
	Email       string   `json:"email"`
	FullName    string   `json:"full_name"`
	jwt.RegisteredClaims
}

// ResolvedOrgID prefers the active_org_id claim, falling back to the legacy
// org_id claim.
func (c *AccessClaims) ResolvedOrgID() string {
	if c.ActiveOrgID != "" {
		return c.ActiveOrgID
	}
	return c.OrgID
}

// Identity is the authenticated principal for the session-token path.
type Identity struct {
	UserID   string   `json:"user_id"`
	OrgID    string   `json:"org_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
}
