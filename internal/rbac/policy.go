package rbac

import (
	"sort"
	"strings"
)

// Policy resolves role claims into permissions.
type Policy struct {
	grants map[string]map[string]struct{}
}

// NewPolicy builds a Policy from a role to permission mapping.
func NewPolicy(mapping map[string][]string) *Policy {
	grants := make(map[string]map[string]struct{}, len(mapping))
	for role, perms := range mapping {
		set := make(map[string]struct{}, len(perms))
		for _, p := range normalizePermissions(perms) {
			set[p] = struct{}{}
		}
		grants[strings.ToLower(strings.TrimSpace(role))] = set
	}
	return &Policy{grants: grants}
}

// EffectivePermissions returns the sorted union of permissions for roles.
// Unknown roles grant nothing.
func (p *Policy) EffectivePermissions(roles []string) []string {
	if p == nil {
		return nil
	}
	union := make(map[string]struct{})
	for _, role := range roles {
		for perm := range p.grants[strings.ToLower(strings.TrimSpace(role))] {
			union[perm] = struct{}{}
		}
	}
	out := make([]string, 0, len(union))
	for perm := range union {
		out = append(out, perm)
	}
	sort.Strings(out)
	return out
}

// Roles lists the configured role names.
func (p *Policy) Roles() []string {
	out := make([]string, 0, len(p.grants))
	for role := range p.grants {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}
