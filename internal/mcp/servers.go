package mcp

import (
	"strings"

	"github.com/vyrodovalexey/agentgateway/internal/authz/rbac"
)

// Server describes one department data server.
type Server struct {
	Type        string `json:"type"`
	Resource    string `json:"-"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

var descriptions = map[string]string{
	"finance": "Finance MCP Server",
	"hr":      "HR MCP Server",
	"legal":   "Legal MCP Server",
}

// DepartmentTable maps departments to their servers. It is immutable.
type DepartmentTable struct {
	servers map[string]Server
	order   []string
}

// NewDepartmentTable builds the table from department URLs keyed by lower
// case department name. Departments without a URL are kept but report an
// empty URL.
func NewDepartmentTable(urls map[string]string) *DepartmentTable {
	t := &DepartmentTable{servers: make(map[string]Server)}
	for _, dept := range rbac.Departments() {
		resource, _ := rbac.MapDepartmentToResource(dept)
		t.servers[dept] = Server{
			Type:        dept,
			Resource:    resource,
			URL:         urls[dept],
			Description: descriptions[dept],
		}
		t.order = append(t.order, dept)
	}
	return t
}

// Lookup returns the server for department, matched case-insensitively.
// ok is false for an unknown department.
func (t *DepartmentTable) Lookup(department string) (Server, bool) {
	s, ok := t.servers[strings.ToLower(department)]
	return s, ok
}

// Configured returns every server with a URL, in department order.
func (t *DepartmentTable) Configured() []Server {
	out := make([]Server, 0, len(t.order))
	for _, dept := range t.order {
		if s := t.servers[dept]; s.URL != "" {
			out = append(out, s)
		}
	}
	return out
}

// ForResources returns the configured servers whose resource is in
// resources, in department order.
func (t *DepartmentTable) ForResources(resources []string) []Server {
	allowed := make(map[string]struct{}, len(resources))
	for _, r := range resources {
		allowed[r] = struct{}{}
	}

	out := make([]Server, 0, len(resources))
	for _, s := range t.Configured() {
		if _, ok := allowed[s.Resource]; ok {
			out = append(out, s)
		}
	}
	return out
}
