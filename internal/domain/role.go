package domain

import (
	"fmt"
	"strings"
)

// Role is the closed set of privilege tiers a user profile can hold.
type Role string

const (
	RoleBanned Role = "banned"
	RoleUser   Role = "user"
	RoleVIP    Role = "vip"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

// Roles lists every valid role from least to most privileged.
var Roles = []Role{RoleBanned, RoleUser, RoleVIP, RoleAdmin, RoleOwner}

// ParseRole converts s into a Role. The empty string maps to RoleUser; any
// other unknown value is an error.
func ParseRole(s string) (Role, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return RoleUser, nil
	}
	for _, r := range Roles {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Valid reports whether r is one of the declared roles.
func (r Role) Valid() bool {
	for _, v := range Roles {
		if v == r {
			return true
		}
	}
	return false
}

// Privilege returns a total order over roles: banned < user < vip < admin < owner.
// Unknown roles rank with user.
func (r Role) Privilege() int {
	switch r {
	case RoleBanned:
		return 0
	case RoleVIP:
		return 2
	case RoleAdmin:
		return 3
	case RoleOwner:
		return 4
	default:
		return 1
	}
}

// AtLeast reports whether r is as privileged as min.
func (r Role) AtLeast(min Role) bool { return r.Privilege() >= min.Privilege() }

// IsStaff reports whether r may use the admin panel.
func (r Role) IsStaff() bool { return r == RoleAdmin || r == RoleOwner }

// Label is the short display suffix used next to quota usage.
func (r Role) Label() string {
	switch r {
	case RoleVIP:
		return "(VIP)"
	case RoleAdmin:
		return "(Admin)"
	case RoleOwner:
		return "(Owner)"
	case RoleBanned:
		return "(Banned)"
	}
	return ""
}
