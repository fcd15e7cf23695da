package heimdall

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// PermissionError is the taxonomy-typed error for authorization failures,
// per spec.md §6.
type PermissionError struct {
	Message string
}

func (e *PermissionError) Error() string { return "heimdall: permission denied: " + e.Message }

// Permission is a resource/action pair; either field may be the wildcard "*".
type Permission struct {
	Resource string
	Action   string
}

func (p Permission) matches(resource, action string) bool {
	return (p.Resource == "*" || p.Resource == resource) && (p.Action == "*" || p.Action == action)
}

// ConditionalGrant augments a base allow with optional constraints; the base
// deny is never upgraded by conditions, per spec.md §4.5.
type ConditionalGrant struct {
	Permission      Permission
	HourLo, HourHi  int // [0,24); HourHi==0 && HourLo==0 means "always"
	RequiredContext map[string]string
	AllowedSources  []string // empty means "any source"
}

func (g ConditionalGrant) satisfied(now time.Time, context map[string]string, sourceAddr string) bool {
	if g.HourHi != 0 || g.HourLo != 0 {
		h := now.Hour()
		if g.HourLo <= g.HourHi {
			if h < g.HourLo || h > g.HourHi {
				return false
			}
		} else { // wraps midnight
			if h < g.HourLo && h > g.HourHi {
				return false
			}
		}
	}
	for k, v := range g.RequiredContext {
		if context[k] != v {
			return false
		}
	}
	if len(g.AllowedSources) > 0 {
		found := false
		for _, s := range g.AllowedSources {
			if s == sourceAddr {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Role is a named bundle of direct permissions with a parent chain forming a
// DAG (not a tree); implementers must reject cycles when adding a parent
// link, per spec.md §4.5/§9.
type Role struct {
	Name        string
	Permissions []Permission
	Parents     []string
}

// RoleManager holds the role graph and device/user direct grants, and
// evaluates check_permission per spec.md §4.5. Grounded on
// original_source/heimdall/src/authz/permission.rs.
type RoleManager struct {
	mu    sync.RWMutex
	roles map[string]*Role

	directPermissions map[string][]Permission      // principal (device or user id) -> direct perms
	directRoles       map[string][]string           // principal -> assigned role names
	conditionalGrants map[string][]ConditionalGrant // principal -> conditional grants

	cacheTTL time.Duration
	cache    map[string]cachedDecision
	cacheMu  sync.Mutex
}

type cachedDecision struct {
	allow     bool
	expiresAt time.Time
}

// NewRoleManager creates a RoleManager with base roles admin, user, guest
// provisioned, as spec.md §4.5 requires on first start.
func NewRoleManager(cacheTTL time.Duration) *RoleManager {
	m := &RoleManager{
		roles:             make(map[string]*Role),
		directPermissions: make(map[string][]Permission),
		directRoles:       make(map[string][]string),
		conditionalGrants: make(map[string][]ConditionalGrant),
		cacheTTL:          cacheTTL,
		cache:             make(map[string]cachedDecision),
	}
	m.roles["admin"] = &Role{Name: "admin", Permissions: []Permission{{Resource: "*", Action: "*"}}}
	m.roles["user"] = &Role{Name: "user", Permissions: []Permission{
		{Resource: "connection", Action: "establish"},
		{Resource: "device", Action: "read"},
	}}
	m.roles["guest"] = &Role{Name: "guest", Permissions: nil}
	return m
}

// ErrCycle is returned by AddRole when the requested parent link would
// create a cycle in the role DAG.
type ErrCycle struct{ Role, Parent string }

func (e *ErrCycle) Error() string {
	return fmt.Sprintf("heimdall: adding %s as parent of %s would create a cycle", e.Parent, e.Role)
}

// AddRole creates or updates a role. If parents is non-empty, each must not
// create a cycle through the existing graph; AddRole rejects the entire
// call if any would.
func (m *RoleManager) AddRole(name string, permissions []Permission, parents []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range parents {
		if m.wouldCycleLocked(name, p) {
			return &ErrCycle{Role: name, Parent: p}
		}
	}

	m.roles[name] = &Role{Name: name, Permissions: permissions, Parents: parents}
	return nil
}

// wouldCycleLocked reports whether adding `parent` as an ancestor of `role`
// would create a cycle, i.e. whether role is already reachable from parent.
// Caller must hold m.mu.
func (m *RoleManager) wouldCycleLocked(role, parent string) bool {
	if role == parent {
		return true
	}
	visited := make(map[string]bool)
	queue := []string{parent}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == role {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		if r, ok := m.roles[cur]; ok {
			queue = append(queue, r.Parents...)
		}
	}
	return false
}

// ancestorsLocked iteratively collects every role reachable from roleNames,
// bounded by depthCap, per spec.md §9's "collect all ancestors iteratively,
// not recursively" design note.
func (m *RoleManager) ancestorsLocked(roleNames []string, depthCap int) []*Role {
	seen := make(map[string]bool)
	var out []*Role
	queue := append([]string{}, roleNames...)
	depth := 0
	for len(queue) > 0 && depth < depthCap {
		next := make([]string, 0)
		for _, name := range queue {
			if seen[name] {
				continue
			}
			seen[name] = true
			r, ok := m.roles[name]
			if !ok {
				continue
			}
			out = append(out, r)
			next = append(next, r.Parents...)
		}
		queue = next
		depth++
	}
	return out
}

// GrantPermission adds a direct resource/action grant to a principal
// (device or user id).
func (m *RoleManager) GrantPermission(principal string, p Permission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.directPermissions[principal] = append(m.directPermissions[principal], p)
}

// AssignRole assigns a role to a principal.
func (m *RoleManager) AssignRole(principal, role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.directRoles[principal] = append(m.directRoles[principal], role)
}

// GrantConditional adds a conditional grant to a principal.
func (m *RoleManager) GrantConditional(principal string, g ConditionalGrant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conditionalGrants[principal] = append(m.conditionalGrants[principal], g)
}

// CheckPermission succeeds if principal holds any direct permission or any
// inherited-role permission matching (resource, action), or a satisfied
// conditional grant. Results are cached with TTL.
func (m *RoleManager) CheckPermission(principal, resource, action string, now time.Time, context map[string]string, sourceAddr string) bool {
	// Base role/direct grants never vary by context, so they cache on
	// identity alone; conditional grants can vary by source address or time
	// of day and are re-evaluated on every call rather than trusting a
	// cached decision keyed only on (principal, resource, action).
	if m.hasConditionalGrant(principal, resource, action) {
		return m.evaluate(principal, resource, action, now, context, sourceAddr)
	}

	cacheKey := principal + "|" + resource + "|" + action
	m.cacheMu.Lock()
	if d, ok := m.cache[cacheKey]; ok && now.Before(d.expiresAt) {
		m.cacheMu.Unlock()
		return d.allow
	}
	m.cacheMu.Unlock()

	allow := m.evaluate(principal, resource, action, now, context, sourceAddr)

	m.cacheMu.Lock()
	m.cache[cacheKey] = cachedDecision{allow: allow, expiresAt: now.Add(m.cacheTTL)}
	m.cacheMu.Unlock()

	return allow
}

func (m *RoleManager) hasConditionalGrant(principal, resource, action string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, g := range m.conditionalGrants[principal] {
		if g.Permission.matches(resource, action) {
			return true
		}
	}
	return false
}

func (m *RoleManager) evaluate(principal, resource, action string, now time.Time, context map[string]string, sourceAddr string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.directPermissions[principal] {
		if p.matches(resource, action) {
			return true
		}
	}

	for _, r := range m.ancestorsLocked(m.directRoles[principal], 32) {
		for _, p := range r.Permissions {
			if p.matches(resource, action) {
				return true
			}
		}
	}

	for _, g := range m.conditionalGrants[principal] {
		if g.Permission.matches(resource, action) && g.satisfied(now, context, sourceAddr) {
			return true
		}
	}

	return false
}

// RequirePermission is a convenience wrapper returning a PermissionError
// when CheckPermission denies.
func (m *RoleManager) RequirePermission(principal, resource, action string) error {
	if !m.CheckPermission(principal, resource, action, time.Now(), nil, "") {
		return &PermissionError{Message: strings.Join([]string{principal, resource, action}, " ")}
	}
	return nil
}
