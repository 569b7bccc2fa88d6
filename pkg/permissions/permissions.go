// Package permissions implements the role-ranking mixin shared by
// topology operations: a map of user to Role plus the ranking rules
// that let callers satisfy a minimum-role check.
package permissions

import "github.com/opentomato/tomato/pkg/apierr"

// Role is a topology-scoped privilege level.
type Role string

const (
	// None removes a user's role entirely (used as a setRole sentinel).
	None Role = ""
	// RoleUser may read but not mutate.
	RoleUser Role = "user"
	// RoleManager may modify, act and grant usage, but not remove or re-permission.
	RoleManager Role = "manager"
	// RoleOwner may do anything, including remove and grant permissions.
	RoleOwner Role = "owner"
)

// Ranking lists roles from lowest to highest privilege. A caller holding a
// role satisfies any check for a role at or below its position here.
var Ranking = []Role{RoleUser, RoleManager, RoleOwner}

func rank(r Role) int {
	for i, candidate := range Ranking {
		if candidate == r {
			return i
		}
	}
	return -1
}

// Valid reports whether r is a real ranked role (not None).
func Valid(r Role) bool {
	return rank(r) >= 0
}

// Mixin grants roles to users over a single owning entity and answers
// minimum-role checks. The zero value is an empty permission set; callers
// must grant at least one owner (spec invariant: "at least one owner").
type Mixin struct {
	grants map[string]Role
}

// NewMixin returns an empty Mixin.
func NewMixin() *Mixin {
	return &Mixin{grants: make(map[string]Role)}
}

// SetRole grants role to user, or removes user's grant entirely when role
// is None.
func (m *Mixin) SetRole(user string, role Role) {
	if m.grants == nil {
		m.grants = make(map[string]Role)
	}
	if role == None {
		delete(m.grants, user)
		return
	}
	m.grants[user] = role
}

// RoleOf returns the role held by user, or None if the user holds none.
func (m *Mixin) RoleOf(user string) Role {
	if m.grants == nil {
		return None
	}
	return m.grants[user]
}

// CheckRole reports whether user satisfies at least the given minimum role,
// or is the process-wide admin identity. isAdmin is evaluated by the caller
// (the GlobalAdmin flag lives on the caller identity, not in this mixin).
func (m *Mixin) CheckRole(user string, isAdmin bool, min Role) bool {
	if isAdmin {
		return true
	}
	held := rank(m.RoleOf(user))
	want := rank(min)
	return held >= 0 && want >= 0 && held >= want
}

// RequireRole returns a DENIED apierr.Error if user does not satisfy min.
func (m *Mixin) RequireRole(user string, isAdmin bool, min Role) error {
	if m.CheckRole(user, isAdmin, min) {
		return nil
	}
	return apierr.New(apierr.Denied, "caller does not hold the required role")
}

// Grants returns a copy of the user->role map, suitable for rendering in an
// info snapshot.
func (m *Mixin) Grants() map[string]Role {
	out := make(map[string]Role, len(m.grants))
	for u, r := range m.grants {
		out[u] = r
	}
	return out
}

// HasOwner reports whether at least one owner grant exists (spec invariant I3).
func (m *Mixin) HasOwner() bool {
	for _, r := range m.grants {
		if r == RoleOwner {
			return true
		}
	}
	return false
}

// UsersAtLeast returns every user whose granted role ranks at or above min,
// used by the reaper to address warning mail to "manager+".
func (m *Mixin) UsersAtLeast(min Role) []string {
	want := rank(min)
	var out []string
	for u, r := range m.grants {
		if rank(r) >= want {
			out = append(out, u)
		}
	}
	return out
}
