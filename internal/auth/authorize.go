package auth

import "strings"

// Role names with built-in meaning.
const (
	RoleAdmin = "Admin"
	RoleUser  = "User"
)

// Requirement is the set of role names a protected operation declares when it
// is registered. The zero value is open to any verified identity.
type Requirement struct {
	roles []string
}

// RequireRoles builds a requirement satisfied by holding any one of names.
func RequireRoles(names ...string) Requirement {
	return Requirement{roles: dedupeStrings(names)}
}

// Roles returns a copy of the required role names.
func (r Requirement) Roles() []string {
	out := make([]string, len(r.roles))
	copy(out, r.roles)
	return out
}

// Open reports whether the requirement admits any verified identity.
func (r Requirement) Open() bool { return len(r.roles) == 0 }

func (r Requirement) String() string {
	if r.Open() {
		return "any"
	}
	return strings.Join(r.roles, "|")
}

// Decision is the outcome of Authorize.
type Decision bool

const (
	Deny  Decision = false
	Allow Decision = true
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// Authorize allows when required is open or presented shares at least one role with it.
func Authorize(presented []string, required Requirement) Decision {
	if required.Open() {
		return Allow
	}
	for _, want := range required.roles {
		for _, have := range presented {
			if have == want {
				return Allow
			}
		}
	}
	return Deny
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
