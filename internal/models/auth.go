package models

import "time"

const (
	RoleOwner     = "owner"
	RoleAdmin     = "admin"
	RoleAttendant = "attendant"
)

var roleRank = map[string]int{
	RoleAttendant: 1,
	RoleAdmin:     2,
	RoleOwner:     3,
}

// RoleAtLeast reports whether role grants everything min grants.
func RoleAtLeast(role, min string) bool {
	return roleRank[role] >= roleRank[min] && roleRank[role] > 0
}

func ValidRole(role string) bool {
	_, ok := roleRank[role]
	return ok
}

type Organization struct {
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Role           string    `json:"role,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type User struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

type Member struct {
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id"`
	Email          string    `json:"email,omitempty"`
	DisplayName    string    `json:"display_name,omitempty"`
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
}

// Session identifies the caller of a service operation.
type Session struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}
