package domain

import "github.com/google/uuid"

// Role is the caller's role as asserted by the identity provider.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID uuid.UUID `json:"user_id"`
	Role   Role      `json:"role"`
}

// IsAdmin returns true if the caller holds the admin role.
func (p *Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}
