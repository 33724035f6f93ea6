package rbac

import (
	"sort"
	"strings"
	"time"

	"github.com/vyrodovalexey/agentgateway/internal/observability"
)

// Resource identifiers for the department data servers.
const (
	ResourceFinance = "mcp-finance-server"
	ResourceHR      = "mcp-hr-server"
	ResourceLegal   = "mcp-legal-server"
)

// Actions used by the gateway.
const (
	ActionRead  = "read"
	ActionWrite = "write"
)

// departmentResources is the fixed department to resource mapping. Keys
// are lower case.
var departmentResources = map[string]string{
	"finance": ResourceFinance,
	"hr":      ResourceHR,
	"legal":   ResourceLegal,
}

// Departments returns the known department names in sorted order.
func Departments() []string {
	out := make([]string, 0, len(departmentResources))
	for d := range departmentResources {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// MapDepartmentToResource returns the resource for a department, matched
// case-insensitively.
func MapDepartmentToResource(department string) (string, bool) {
	r, ok := departmentResources[strings.ToLower(department)]
	return r, ok
}

// compiledRole indexes a role's permissions by resource.
type compiledRole struct {
	role    Role
	actions map[string]map[string]struct{}
}

// Engine evaluates permissions against an immutable policy. It is safe for
// concurrent use.
type Engine struct {
	roles   map[string]*compiledRole
	logger  observability.Logger
	metrics *Metrics
}

// EngineOption is a functional option for the engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the logger.
func WithEngineLogger(logger observability.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithEngineMetrics sets the metrics.
func WithEngineMetrics(metrics *Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

// NewEngine builds an engine from policy. A nil policy grants nothing.
// The policy is copied, so later changes to it have no effect.
func NewEngine(policy *Policy, opts ...EngineOption) *Engine {
	e := &Engine{
		roles:  make(map[string]*compiledRole),
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if policy != nil {
		for _, role := range policy.Roles {
			cr := &compiledRole{
				role:    copyRole(role),
				actions: make(map[string]map[string]struct{}, len(role.Permissions)),
			}
			for _, perm := range role.Permissions {
				set, ok := cr.actions[perm.Resource]
				if !ok {
					set = make(map[string]struct{}, len(perm.Actions))
					cr.actions[perm.Resource] = set
				}
				for _, a := range perm.Actions {
					set[a] = struct{}{}
				}
			}
			e.roles[role.Name] = cr
		}
	}

	e.metrics.setRoleCount(len(e.roles))
	e.logger.Info("rbac policy loaded", observability.Int("roles", len(e.roles)))

	return e
}

// NewEngineFromFile loads the policy at path and builds an engine. A
// policy that cannot be loaded is logged and replaced by an empty one,
// so every permission check fails.
func NewEngineFromFile(path string, opts ...EngineOption) *Engine {
	policy, err := LoadPolicy(path)
	if err != nil {
		e := NewEngine(EmptyPolicy(), opts...)
		e.logger.Error("failed to load rbac policy, denying all",
			observability.String("path", path),
			observability.Error(err),
		)
		return e
	}
	return NewEngine(policy, opts...)
}

// CheckPermission reports whether any of roles grants action on resource.
// Unknown roles are ignored.
func (e *Engine) CheckPermission(roles []string, resource, action string) bool {
	start := time.Now()

	allowed := false
	var grantedBy string
	for _, name := range roles {
		cr, ok := e.roles[name]
		if !ok {
			continue
		}
		if _, ok := cr.actions[resource][action]; ok {
			allowed = true
			grantedBy = name
			break
		}
	}

	e.metrics.recordEvaluation(allowed, time.Since(start))
	if allowed {
		e.logger.Debug("permission granted",
			observability.String("role", grantedBy),
			observability.String("resource", resource),
			observability.String("action", action),
		)
	} else {
		e.logger.Warn("permission denied",
			observability.Strings("roles", roles),
			observability.String("resource", resource),
			observability.String("action", action),
		)
	}
	return allowed
}

// AccessibleResources returns the sorted union of resources any of roles
// has a permission on.
func (e *Engine) AccessibleResources(roles []string) []string {
	set := make(map[string]struct{})
	for _, name := range roles {
		cr, ok := e.roles[name]
		if !ok {
			continue
		}
		for resource := range cr.actions {
			set[resource] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Role returns a copy of the named role.
func (e *Engine) Role(name string) (Role, bool) {
	cr, ok := e.roles[name]
	if !ok {
		return Role{}, false
	}
	return copyRole(cr.role), true
}

// RoleCount returns the number of loaded roles.
func (e *Engine) RoleCount() int {
	return len(e.roles)
}

func copyRole(r Role) Role {
	perms := make([]Permission, len(r.Permissions))
	for i, p := range r.Permissions {
		perms[i] = Permission{
			Resource: p.Resource,
			Actions:  append([]string(nil), p.Actions...),
		}
	}
	return Role{Name: r.Name, Description: r.Description, Permissions: perms}
}
