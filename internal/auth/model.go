package auth

import "time"

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleAnalyst  Role = "analyst"
	RoleReadOnly Role = "read_only"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleAnalyst, RoleReadOnly:
		return true
	}
	return false
}

// CanWrite reports whether the role may change incidents.
func (r Role) CanWrite() bool {
	return r == RoleAdmin || r == RoleAnalyst
}

// User is an analyst account. Its username is recorded as the actor on
// transitions, notes and assignments.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}
