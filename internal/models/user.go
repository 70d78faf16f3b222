package models

import "time"

// UserRole enumerates the roles a member may hold within an org.
type UserRole string

const (
	RoleOwner  UserRole = "OWNER"
	RoleAdmin  UserRole = "ADMIN"
	RoleMember UserRole = "MEMBER"
)

// MembershipStatus enumerates membership lifecycle states.
type MembershipStatus string

const (
	MembershipActive    MembershipStatus = "ACTIVE"
	MembershipInvited   MembershipStatus = "INVITED"
	MembershipSuspended MembershipStatus = "SUSPENDED"
)

// User represents a platform account. Accounts are global; org access is
// granted through memberships.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Active       bool       `db:"active" json:"active"`
	DefaultOrgID string     `db:"default_org_id" json:"default_org_id"`
	LastLoginAt  *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Membership binds a user to an org with a role.
type Membership struct {
	ID        string           `db:"id" json:"id"`
	OrgID     string           `db:"org_id" json:"org_id"`
	UserID    string           `db:"user_id" json:"user_id"`
	Role      UserRole         `db:"role" json:"role"`
	Status    MembershipStatus `db:"status" json:"status"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}
