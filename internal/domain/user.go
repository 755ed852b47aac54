package domain

import "time"

// UserRole is the role a caller acts under.
type UserRole string

const (
	RoleRider  UserRole = "rider"
	RoleDriver UserRole = "driver"
	RoleAdmin  UserRole = "admin"
)

// User represents a rider or an administrator.
type User struct {
	ID                string
	Name              string
	Phone             string
	Email             string
	Role              UserRole
	GatewayCustomerID string
	CreatedAt         time.Time
}

// Actor identifies who is performing an operation.
type Actor struct {
	ID   string
	Role UserRole
}

// IsAdmin reports whether the actor has administrative rights.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}
