// Package gateway wires the data-plane and control-plane surfaces: token
// and service token checks, role based authorization, upstream forwarding
// and auditing.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vyrodovalexey/agentgateway/internal/audit"
	"github.com/vyrodovalexey/agentgateway/internal/config"
	httpserver "github.com/vyrodovalexey/agentgateway/internal/gateway/server/http"
	"github.com/vyrodovalexey/agentgateway/internal/gateway/server/http/middleware"
	"github.com/vyrodovalexey/agentgateway/internal/health"
	"github.com/vyrodovalexey/agentgateway/internal/mcp"
	"github.com/vyrodovalexey/agentgateway/internal/observability"
)

// Sentinel errors for gateway construction.
var (
	// ErrNilConfig indicates that a nil configuration was provided.
	ErrNilConfig = errors.New("configuration is required")

	// ErrMissingDependency indicates a required collaborator was nil.
	ErrMissingDependency = errors.New("missing dependency")
)

// Mode selects which surfaces are served.
type Mode string

// Serving modes.
const (
	ModeAPI  Mode = "api"
	ModeMCP  Mode = "mcp"
	ModeDual Mode = "dual"
)

// ParseMode parses a serving mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeAPI, ModeMCP, ModeDual:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q: must be api, mcp or dual", s)
	}
}

// ServesAPI reports whether the data plane is served.
func (m Mode) ServesAPI() bool { return m == ModeAPI || m == ModeDual }

// ServesMCP reports whether the control plane is served.
func (m Mode) ServesMCP() bool { return m == ModeMCP || m == ModeDual }

const healthPath = "/health"

// Gateway owns the two HTTP surfaces.
type Gateway struct {
	config   *config.Config
	api      *httpserver.Server
	mcp      *httpserver.Server
	logger   observability.Logger
	recorder audit.Recorder
	metrics  *observability.Metrics
	health   *health.Checker
}

// Option is a functional option for configuring the gateway.
type Option func(*Gateway)

// WithLogger sets the logger for the gateway.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithRecorder sets the audit recorder. Without one nothing is recorded.
func WithRecorder(recorder audit.Recorder) Option {
	return func(g *Gateway) {
		g.recorder = recorder
	}
}

// WithMetrics sets the HTTP metrics collector.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = metrics
	}
}

// WithHealthChecker replaces the default health checker.
func WithHealthChecker(checker *health.Checker) Option {
	return func(g *Gateway) {
		g.health = checker
	}
}

// New creates both surfaces and registers their routes.
func New(
	cfg *config.Config,
	verifier TokenVerifier,
	policy PolicyEngine,
	fwd Forwarder,
	opts ...Option,
) (*Gateway, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if verifier == nil || policy == nil || fwd == nil {
		return nil, fmt.Errorf("%w: verifier, policy engine and forwarder are required", ErrMissingDependency)
	}

	g := &Gateway{
		config:   cfg,
		logger:   observability.NopLogger(),
		recorder: audit.NewNoopRecorder(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.health == nil {
		g.health = health.NewChecker(HealthInfo(cfg))
	}

	g.api = g.newSurface("api", cfg.APIPort, audit.SurfaceAPI)
	data := &dataPlane{
		verifier:    verifier,
		forwarder:   fwd,
		upstreamURL: cfg.Upstreams.ApplicationServiceURL,
		logger:      g.logger,
	}
	data.register(g.api.Engine())
	data.register(g.api.Engine().Group(apiPrefix))

	g.mcp = g.newSurface("mcp", cfg.MCPPort, audit.SurfaceMCP)
	control := &controlPlane{
		serviceToken:        cfg.Upstreams.ServiceToken,
		rbacEnabled:         cfg.Authz.RBACEnabled,
		departmentIsolation: cfg.Authz.DepartmentIsolation,
		requireUserRoles:    cfg.Authz.RequireUserRoles,
		servers:             ServerTable(cfg),
		policy:              policy,
		forwarder:           fwd,
		logger:              g.logger,
	}
	control.register(g.mcp.Engine())

	return g, nil
}

// newSurface builds one server with the shared middleware chain.
func (g *Gateway) newSurface(name string, port int, surface audit.Surface) *httpserver.Server {
	serverCfg := httpserver.DefaultServerConfig()
	serverCfg.Name = name
	serverCfg.Port = port
	serverCfg.MaxRequestBodySize = int64(g.config.MaxRequestBodyBytes)

	s := httpserver.NewServer(serverCfg, g.logger)
	s.Use(
		middleware.Recovery(g.logger),
		middleware.RequestID(),
		middleware.TracingWithConfig(middleware.TracingConfig{
			ServiceName: g.config.ServiceName,
			SkipPaths:   []string{healthPath},
		}),
		middleware.LoggingWithConfig(middleware.LoggingConfig{
			Logger:    g.logger,
			SkipPaths: []string{healthPath},
		}),
		middleware.Metrics(g.metrics, string(surface)),
		middleware.CORS(g.config.CORS.AllowedOrigins),
		auditMiddleware(g.recorder, surface, g.logger, healthPath),
	)
	g.health.Register(s.Engine())
	return s
}

// APIServer returns the data-plane server.
func (g *Gateway) APIServer() *httpserver.Server {
	return g.api
}

// MCPServer returns the control-plane server.
func (g *Gateway) MCPServer() *httpserver.Server {
	return g.mcp
}

// Health returns the health checker shared by both surfaces.
func (g *Gateway) Health() *health.Checker {
	return g.health
}

// Servers returns the servers for mode.
func (g *Gateway) Servers(mode Mode) []*httpserver.Server {
	var servers []*httpserver.Server
	if mode.ServesAPI() {
		servers = append(servers, g.api)
	}
	if mode.ServesMCP() {
		servers = append(servers, g.mcp)
	}
	return servers
}

// Stop stops every running surface.
func (g *Gateway) Stop(ctx context.Context) error {
	var errs []error
	for _, s := range []*httpserver.Server{g.api, g.mcp} {
		if err := s.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HealthInfo derives the health endpoint description from cfg.
func HealthInfo(cfg *config.Config) health.Info {
	return health.Info{
		Service:             cfg.ServiceName,
		Version:             cfg.Version,
		APIPort:             cfg.APIPort,
		MCPPort:             cfg.MCPPort,
		RBACEnabled:         cfg.Authz.RBACEnabled,
		DepartmentIsolation: cfg.Authz.DepartmentIsolation,
	}
}

// ServerTable builds the department table from the configured URLs.
func ServerTable(cfg *config.Config) *mcp.DepartmentTable {
	return mcp.NewDepartmentTable(map[string]string{
		"finance": cfg.Upstreams.MCPFinanceURL,
		"hr":      cfg.Upstreams.MCPHRURL,
		"legal":   cfg.Upstreams.MCPLegalURL,
	})
}
