package auth

import "time"

type Role string

const (
	RolePatient       Role = "patient"
	RoleAgencyStaff   Role = "agency_staff"
	RoleAgencyAdmin   Role = "agency_admin"
	RolePlatformAdmin Role = "platform_admin"
)

// AgencyBound reports whether the role belongs to agency personnel.
func (r Role) AgencyBound() bool {
	return r == RoleAgencyStaff || r == RoleAgencyAdmin
}

// Actor identifies the caller of a state-changing operation. AgencyID is set
// only for agency personnel.
type Actor struct {
	ID       string
	Role     Role
	AgencyID string
}

// User is the domain representation of an authenticated account. It mirrors
// the users table and carries no JSON annotations so it can be reused by
// different presentation layers.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
	AgencyID     *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Actor derives the caller identity for this user.
func (u User) Actor() Actor {
	a := Actor{ID: u.ID, Role: u.Role}
	if u.AgencyID != nil {
		a.AgencyID = *u.AgencyID
	}
	return a
}

// RegisterRequest contains account registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
	AgencyID string `json:"agency_id,omitempty"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
