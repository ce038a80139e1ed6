package identity

import (
	"errors"
	"fmt"
	"strings"
)

// Role is the closed set of portal roles. It decides channel membership and
// any client-side authorization check.
type Role string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleAdmin      Role = "ADMIN"
	RoleStudent    Role = "STUDENT"
)

var (
	ErrUnknownRole   = errors.New("unknown role")
	ErrMissingUserID = errors.New("missing user id")
)

// ParseRole accepts any casing and surrounding whitespace.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleSuperAdmin, RoleAdmin, RoleStudent:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// IsAdmin reports whether the role belongs to the administrative set that
// receives the broadcast channel.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Valid only accepts the canonical spelling; run user input through
// ParseRole first. A lower-case "admin" would otherwise pass here and still
// fail IsAdmin.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleStudent:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// Identity is fixed for the lifetime of one connection.
type Identity struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

func (id Identity) Validate() error {
	if strings.TrimSpace(id.UserID) == "" {
		return ErrMissingUserID
	}
	if !id.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownRole, id.Role)
	}
	return nil
}

func (id Identity) String() string {
	return fmt.Sprintf("%s(%s)", id.UserID, id.Role)
}
