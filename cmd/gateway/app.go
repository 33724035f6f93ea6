package main

import (
	"fmt"
	"net/http"

	"github.com/vyrodovalexey/agentgateway/internal/audit"
	"github.com/vyrodovalexey/agentgateway/internal/auth/jwt"
	"github.com/vyrodovalexey/agentgateway/internal/authz/rbac"
	"github.com/vyrodovalexey/agentgateway/internal/circuitbreaker"
	"github.com/vyrodovalexey/agentgateway/internal/config"
	"github.com/vyrodovalexey/agentgateway/internal/forwarder"
	"github.com/vyrodovalexey/agentgateway/internal/gateway"
	"github.com/vyrodovalexey/agentgateway/internal/health"
	"github.com/vyrodovalexey/agentgateway/internal/observability"
	"github.com/vyrodovalexey/agentgateway/internal/retry"
)

const metricsNamespace = "agentgateway"

// application holds all application components.
type application struct {
	config        *config.Config
	gateway       *gateway.Gateway
	forwarder     *forwarder.Forwarder
	recorder      audit.Recorder
	healthChecker *health.Checker
	metrics       *observability.Metrics
	metricsServer *http.Server
	tracer        *observability.Tracer
}

// initApplication builds every component from cfg. Subsystem metrics are
// registered on the registry served at /metrics.
func initApplication(cfg *config.Config, logger observability.Logger) (*application, error) {
	metrics := observability.NewMetrics(metricsNamespace)
	metrics.SetBuildInfo(version, gitCommit, buildTime)
	registry := metrics.Registry()

	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.Version,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	verifier, err := initVerifier(cfg, logger, jwt.NewMetrics(metricsNamespace, registry))
	if err != nil {
		return nil, err
	}

	policy := rbac.NewEngineFromFile(cfg.Authz.PolicyFile,
		rbac.WithEngineLogger(logger),
		rbac.WithEngineMetrics(rbac.NewMetrics(metricsNamespace, registry)),
	)

	fwd := forwarder.New(forwarderPolicy(cfg),
		forwarder.WithLogger(logger),
		forwarder.WithMetrics(forwarder.NewMetrics(metricsNamespace, registry)),
		forwarder.WithRetryMetrics(retry.NewMetrics(metricsNamespace, registry)),
		forwarder.WithCircuitBreakerMetrics(circuitbreaker.NewMetrics(metricsNamespace, registry)),
	)

	recorder, err := audit.NewRecorder(&audit.Config{
		Output:     cfg.Audit.Output,
		BufferSize: cfg.Audit.BufferSize,
	},
		audit.WithRecorderLogger(logger),
		audit.WithRecorderMetrics(audit.NewMetrics(metricsNamespace, registry)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit recorder: %w", err)
	}

	healthChecker := health.NewChecker(gateway.HealthInfo(cfg))
	healthChecker.RegisterCheck("circuit_breakers", health.CircuitBreakerCheck(fwd.Breakers()))

	if cfg.Upstreams.ServiceToken == "" {
		logger.Warn("SERVICE_TOKEN is not set; the control plane accepts any service token")
	}

	gw, err := gateway.New(cfg, verifier, policy, fwd,
		gateway.WithLogger(logger),
		gateway.WithRecorder(recorder),
		gateway.WithMetrics(metrics),
		gateway.WithHealthChecker(healthChecker),
	)
	if err != nil {
		_ = recorder.Close()
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	return &application{
		config:        cfg,
		gateway:       gw,
		forwarder:     fwd,
		recorder:      recorder,
		healthChecker: healthChecker,
		metrics:       metrics,
		tracer:        tracer,
	}, nil
}

// initVerifier creates the JWKS key set and the token verifier.
func initVerifier(cfg *config.Config, logger observability.Logger, metrics *jwt.Metrics) (*jwt.Verifier, error) {
	keys, err := jwt.NewJWKSKeySet(cfg.Auth.JWKSEndpoint(),
		jwt.WithFetchTimeout(cfg.Auth.JWKSFetchTimeout),
		jwt.WithMissRefreshInterval(cfg.Auth.JWKSMissRefreshInterval),
		jwt.WithJWKSLogger(logger),
		jwt.WithJWKSMetrics(metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create key set: %w", err)
	}

	opts := []jwt.VerifierOption{
		jwt.WithAlgorithms(cfg.Auth.Algorithms...),
		jwt.WithVerifierLogger(logger),
		jwt.WithVerifierMetrics(metrics),
	}
	if cfg.Auth.RolesClaim != "" {
		opts = append(opts, jwt.WithRolesClaim(cfg.Auth.RolesClaim))
	}
	if cfg.Auth.DepartmentClaim != "" {
		opts = append(opts, jwt.WithDepartmentClaim(cfg.Auth.DepartmentClaim))
	}

	verifier, err := jwt.NewVerifier(keys, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create token verifier: %w", err)
	}

	logger.Info("token verifier configured",
		observability.String("jwks_url", cfg.Auth.JWKSEndpoint()),
		observability.Strings("algorithms", cfg.Auth.Algorithms),
	)
	return verifier, nil
}

// forwarderPolicy maps the resilience settings onto the forwarder policy.
func forwarderPolicy(cfg *config.Config) forwarder.Policy {
	return forwarder.Policy{
		MaxAttempts:      cfg.Resilience.MaxAttempts,
		InitialBackoff:   cfg.Resilience.InitialBackoff,
		MaxBackoff:       cfg.Resilience.MaxBackoff,
		FailureThreshold: cfg.Resilience.FailureThreshold,
		RecoveryTimeout:  cfg.Resilience.RecoveryTimeout,
		AttemptTimeout:   cfg.Resilience.UpstreamTimeout,
	}
}
