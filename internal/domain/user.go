package domain

import "time"

// Role is the directory role of a user.
type Role string

const (
	RoleAdmin          Role = "admin"
	RoleProjectManager Role = "project_manager"
	RoleDeveloper      Role = "developer"
	RoleClient         Role = "client"
)

// Valid reports whether the role is one the directory knows.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleProjectManager, RoleDeveloper, RoleClient:
		return true
	}
	return false
}

// User is a directory entry used for lock display and notification targeting.
type User struct {
	ID        string
	Name      string
	Email     string
	Role      Role
	Active    bool
	CreatedAt time.Time
}

// DeveloperLoad counts a developer's OPEN and IN_PROGRESS tickets.
type DeveloperLoad struct {
	DeveloperID   string
	ActiveTickets int
}
