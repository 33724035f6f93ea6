// Package health provides the health and service information endpoints
// served on both gateway surfaces.
package health

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Status represents the health status.
type Status string

const (
	// StatusHealthy indicates the service is healthy.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the service is unhealthy.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the service is degraded but operational.
	StatusDegraded Status = "degraded"
)

// Info describes the running gateway.
type Info struct {
	Service             string
	Version             string
	APIPort             int
	MCPPort             int
	RBACEnabled         bool
	DepartmentIsolation bool
}

// Response is the /health response body.
type Response struct {
	Status              Status           `json:"status"`
	Service             string           `json:"service"`
	Version             string           `json:"version"`
	APIPort             int              `json:"api_port"`
	MCPPort             int              `json:"mcp_port"`
	RBACEnabled         bool             `json:"rbac_enabled"`
	DepartmentIsolation bool             `json:"department_isolation"`
	Uptime              string           `json:"uptime"`
	Timestamp           time.Time        `json:"timestamp"`
	Checks              map[string]Check `json:"checks,omitempty"`
}

// Check represents an individual health check result.
type Check struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// CheckFunc is a function that performs a health check.
type CheckFunc func() Check

// Checker builds health responses from registered checks.
type Checker struct {
	info      Info
	startTime time.Time
	checks    map[string]CheckFunc
	mu        sync.RWMutex
	now       func() time.Time
}

// NewChecker creates a new health checker.
func NewChecker(info Info) *Checker {
	return &Checker{
		info:      info,
		startTime: time.Now(),
		checks:    make(map[string]CheckFunc),
		now:       time.Now,
	}
}

// RegisterCheck registers a health check function.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Health runs every check. The worst check status wins.
func (c *Checker) Health() Response {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	response := Response{
		Status:              StatusHealthy,
		Service:             c.info.Service,
		Version:             c.info.Version,
		APIPort:             c.info.APIPort,
		MCPPort:             c.info.MCPPort,
		RBACEnabled:         c.info.RBACEnabled,
		DepartmentIsolation: c.info.DepartmentIsolation,
		Uptime:              now.Sub(c.startTime).Round(time.Second).String(),
		Timestamp:           now.UTC(),
	}

	if len(c.checks) > 0 {
		response.Checks = make(map[string]Check, len(c.checks))
	}
	for name, checkFunc := range c.checks {
		check := checkFunc()
		response.Checks[name] = check

		if check.Status == StatusUnhealthy {
			response.Status = StatusUnhealthy
		} else if check.Status == StatusDegraded && response.Status != StatusUnhealthy {
			response.Status = StatusDegraded
		}
	}

	return response
}

// HealthHandler serves GET /health. Only an unhealthy status returns 503.
func (c *Checker) HealthHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		response := c.Health()
		status := http.StatusOK
		if response.Status == StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		ctx.JSON(status, response)
	}
}

// InfoHandler serves GET / with a description of both surfaces.
func (c *Checker) InfoHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{
			"service":     c.info.Service,
			"version":     c.info.Version,
			"description": "Dual-mode routing and authentication gateway",
			"modes": gin.H{
				"api_gateway": gin.H{
					"port":        c.info.APIPort,
					"description": "Routes authenticated requests to Application service",
					"endpoints":   []string{"/api/process", "/api/status/{id}", "/api/download/{id}"},
				},
				"mcp_gateway": gin.H{
					"port":        c.info.MCPPort,
					"description": "Routes MCP protocol requests to MCP servers",
					"endpoints":   []string{"/mcp", "/mcp/servers"},
				},
			},
			"features": gin.H{
				"jwt_validation":       true,
				"rbac":                 c.info.RBACEnabled,
				"department_isolation": c.info.DepartmentIsolation,
				"audit_logging":        true,
				"circuit_breaker":      true,
				"retry_logic":          true,
			},
		})
	}
}

// Register mounts /health and / on r.
func (c *Checker) Register(r gin.IRoutes) {
	r.GET("/health", c.HealthHandler())
	r.GET("/", c.InfoHandler())
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
