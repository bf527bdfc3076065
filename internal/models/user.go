package models

import "strings"

// Role is the coarse account classifier carried by a session.
type Role string

const (
	// RoleGuest is used when no session exists.
	RoleGuest Role = "guest"
	// RoleResident is the default account kind.
	RoleResident Role = "resident"
	// RoleBusiness is a local business account.
	RoleBusiness Role = "business"
	// RoleModerator can moderate neighborhood content.
	RoleModerator Role = "moderator"
	// RoleAdmin has access to the admin panels.
	RoleAdmin Role = "admin"
)

// DeriveRole maps the raw account signal used by the backend to a Role.
// Unknown non-empty values fall back to RoleResident.
func DeriveRole(raw string) Role {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return RoleGuest
	case "admin", "superadmin", "super_admin", "master_admin":
		return RoleAdmin
	case "moderator", "mod":
		return RoleModerator
	case "business", "merchant", "vendor":
		return RoleBusiness
	case "guest":
		return RoleGuest
	default:
		return RoleResident
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleGuest, RoleResident, RoleBusiness, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

// IsAdmin reports whether r grants admin panels.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

// Profile is a user profile as displayed on profile screens and admin tables.
type Profile struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	DisplayName    string `json:"display_name"`
	FirstName      string `json:"first_name,omitempty"`
	LastName       string `json:"last_name,omitempty"`
	AvatarURL      string `json:"avatar_url,omitempty"`
	Location       string `json:"location,omitempty"`
	ReferralCode   string `json:"referral_code,omitempty"`
	Role           Role   `json:"role,omitempty"`
	FollowersCount int    `json:"followers_count"`
	Following      bool   `json:"following"`
}

// Session is the auth store state.
type Session struct {
	Token         string
	Authenticated bool
	Role          Role
	Loading       bool
	Error         string
	// PendingVerification holds the email awaiting a signup verification code.
	PendingVerification string
}
