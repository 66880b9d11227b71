package auth

import (
	"fmt"

	"github.com/google/uuid"
)

// Role is the permission level carried inside a token.
type Role string

const (
	RoleUser  Role = "User"
	RoleAdmin Role = "Admin"
)

// ParseRole accepts only the known role labels.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser:
		return RoleUser, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

func (r Role) String() string { return string(r) }

// Principal is the authenticated caller of a single request.
type Principal struct {
	UserID uuid.UUID
	Role   Role
}

// IsAdmin reports whether the principal holds the Admin role.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// CanAccess reports whether the principal may act on the account with the given id.
func (p Principal) CanAccess(accountID uuid.UUID) bool {
	return p.IsAdmin() || p.UserID == accountID
}
