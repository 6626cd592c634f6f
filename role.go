package guildpost

import (
	"encoding/json"
	"strings"
)

// Role is a member's rank within a group. Ranks form a strict total
// order: every permission check compares ranks numerically, never by
// string, so casing in stored data can't change an authorization result.
type Role int

const (
	RoleNone    Role = 0 // unknown / not a member
	RoleMember  Role = 1
	RoleMod     Role = 2
	RoleAdmin   Role = 3
	RoleCoOwner Role = 4
	RoleOwner   Role = 5
)

// ParseRole normalizes a role string into a known Role.
// Unknown strings map to RoleNone, which fails every permission check.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "member":
		return RoleMember
	case "mod", "moderator":
		return RoleMod
	case "admin":
		return RoleAdmin
	case "co-owner", "coowner", "co_owner":
		return RoleCoOwner
	case "owner":
		return RoleOwner
	default:
		return RoleNone
	}
}

func (r Role) String() string {
	switch r {
	case RoleMember:
		return "member"
	case RoleMod:
		return "mod"
	case RoleAdmin:
		return "admin"
	case RoleCoOwner:
		return "co-owner"
	case RoleOwner:
		return "owner"
	default:
		return "none"
	}
}

// IsValid reports whether r is one of the five known ranks.
func (r Role) IsValid() bool {
	return r >= RoleMember && r <= RoleOwner
}

// Outranks reports whether r is strictly above other.
func (r Role) Outranks(other Role) bool {
	return r > other
}

// AtLeast reports whether r holds rank min or higher.
func (r Role) AtLeast(min Role) bool {
	return r >= min
}

// Roles persist as their string form so stored group records stay
// readable; numeric values are accepted when decoding for compatibility.
func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Role) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*r = ParseRole(s)
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*r = Role(n)
	return nil
}
