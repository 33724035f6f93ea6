package config

import (
	"fmt"
	"strings"
	"time"
)

// Default configuration values.
const (
	DefaultServiceName = "agentgateway"
	DefaultAPIPort     = 8080
	DefaultMCPPort     = 8081
	DefaultRegion      = "ap-southeast-1"
	DefaultRolesClaim  = "cognito:groups"
	DefaultMetricsPort = 9090

	DefaultApplicationServiceURL = "http://application-service.local:8000"
	DefaultMCPFinanceURL         = "http://mcp-finance-service.local:8080"
	DefaultMCPHRURL              = "http://mcp-hr-service.local:8080"
	DefaultMCPLegalURL           = "http://mcp-legal-service.local:8080"

	DefaultJWKSFetchTimeout = 10 * time.Second
	DefaultUpstreamTimeout  = 30 * time.Second
	DefaultMaxAttempts      = 3
	DefaultInitialBackoff   = 1 * time.Second
	DefaultMaxBackoff       = 5 * time.Second
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 60 * time.Second
	DefaultAuditBufferSize  = 1024
	DefaultMaxRequestBody   = 10 << 20
)

// Config is the complete gateway configuration.
type Config struct {
	ServiceName string
	Version     string
	APIPort     int
	MCPPort     int
	AWSRegion   string

	// MaxRequestBodyBytes caps request bodies on both surfaces. Larger
	// bodies are answered with 413.
	MaxRequestBodyBytes int

	Auth       AuthConfig
	Authz      AuthzConfig
	Upstreams  UpstreamConfig
	Resilience ResilienceConfig
	Log        LogConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
	Tracing    TracingConfig
	CORS       CORSConfig
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	CognitoUserPoolID string
	CognitoRegion     string

	// JWKSURL overrides the key set URL derived from the pool.
	JWKSURL string

	// JWKSMissRefreshInterval permits one additional key set refresh per
	// interval when a token names an unknown key id. Zero disables
	// refreshes after the first miss.
	JWKSMissRefreshInterval time.Duration
	JWKSFetchTimeout        time.Duration

	RolesClaim      string
	DepartmentClaim string
	Algorithms      []string
}

// JWKSEndpoint returns the effective key set URL.
func (c *AuthConfig) JWKSEndpoint() string {
	if c.JWKSURL != "" {
		return c.JWKSURL
	}
	return fmt.Sprintf(
		"https://cognito-idp.%s.amazonaws.com/%s/.well-known/jwks.json",
		c.CognitoRegion, c.CognitoUserPoolID,
	)
}

// AuthzConfig configures the control-plane authorization checks.
type AuthzConfig struct {
	RBACEnabled         bool
	DepartmentIsolation bool
	RequireUserRoles    bool
	PolicyFile          string
}

// UpstreamConfig holds the upstream service addresses.
type UpstreamConfig struct {
	ApplicationServiceURL string
	MCPFinanceURL         string
	MCPHRURL              string
	MCPLegalURL           string
	ServiceToken          string
}

// ResilienceConfig configures retries and circuit breaking for outbound calls.
type ResilienceConfig struct {
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	FailureThreshold int
	RecoveryTimeout  time.Duration
	UpstreamTimeout  time.Duration
}

// LogConfig configures the application logger.
type LogConfig struct {
	Level  string
	Format string
}

// AuditConfig configures the audit recorder.
type AuditConfig struct {
	Output     string
	BufferSize int
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool
	OTLPEndpoint string
	SamplingRate float64
}

// CORSConfig configures cross-origin handling on the data plane.
type CORSConfig struct {
	AllowedOrigins []string
}

// DefaultConfig returns a Config populated with defaults. The user pool
// id has no default and must be supplied.
func DefaultConfig() *Config {
	return &Config{
		ServiceName: DefaultServiceName,
		Version:     "1.0.0",
		APIPort:     DefaultAPIPort,
		MCPPort:     DefaultMCPPort,
		AWSRegion:   DefaultRegion,

		MaxRequestBodyBytes: DefaultMaxRequestBody,
		Auth: AuthConfig{
			CognitoRegion:    DefaultRegion,
			JWKSFetchTimeout: DefaultJWKSFetchTimeout,
			RolesClaim:       DefaultRolesClaim,
			Algorithms:       []string{"RS256"},
		},
		Authz: AuthzConfig{
			RBACEnabled:         true,
			DepartmentIsolation: true,
		},
		Upstreams: UpstreamConfig{
			ApplicationServiceURL: DefaultApplicationServiceURL,
			MCPFinanceURL:         DefaultMCPFinanceURL,
			MCPHRURL:              DefaultMCPHRURL,
			MCPLegalURL:           DefaultMCPLegalURL,
		},
		Resilience: ResilienceConfig{
			MaxAttempts:      DefaultMaxAttempts,
			InitialBackoff:   DefaultInitialBackoff,
			MaxBackoff:       DefaultMaxBackoff,
			FailureThreshold: DefaultFailureThreshold,
			RecoveryTimeout:  DefaultRecoveryTimeout,
			UpstreamTimeout:  DefaultUpstreamTimeout,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Audit: AuditConfig{
			Output:     "stdout",
			BufferSize: DefaultAuditBufferSize,
		},
		Metrics: MetricsConfig{
			Port: DefaultMetricsPort,
		},
		Tracing: TracingConfig{
			SamplingRate: 1.0,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
	}
}

// Validate checks the configuration for values the gateway cannot run with.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.Auth.CognitoUserPoolID == "" && c.Auth.JWKSURL == "" {
		errs = append(errs, ValidationError{Path: "COGNITO_USER_POOL_ID", Message: "is required"})
	}
	errs = validatePort(errs, "API_PORT", c.APIPort)
	errs = validatePort(errs, "MCP_PORT", c.MCPPort)
	if c.APIPort == c.MCPPort {
		errs = append(errs, ValidationError{Path: "MCP_PORT", Message: "must differ from API_PORT"})
	}
	if c.MaxRequestBodyBytes < 1 {
		errs = append(errs, ValidationError{Path: "MAX_REQUEST_BODY_BYTES", Message: "must be at least 1"})
	}
	if c.Metrics.Enabled {
		errs = validatePort(errs, "METRICS_PORT", c.Metrics.Port)
	}
	if len(c.Auth.Algorithms) == 0 {
		errs = append(errs, ValidationError{Path: "JWT_ALGORITHMS", Message: "must name at least one algorithm"})
	}
	if c.Resilience.MaxAttempts < 1 {
		errs = append(errs, ValidationError{Path: "RETRY_MAX_ATTEMPTS", Message: "must be at least 1"})
	}
	if c.Resilience.FailureThreshold < 1 {
		errs = append(errs, ValidationError{Path: "CIRCUIT_FAILURE_THRESHOLD", Message: "must be at least 1"})
	}
	if c.Resilience.InitialBackoff > c.Resilience.MaxBackoff {
		errs = append(errs, ValidationError{Path: "RETRY_INITIAL_BACKOFF", Message: "must not exceed RETRY_MAX_BACKOFF"})
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, ValidationError{Path: "TRACING_SAMPLING_RATE", Message: "must be between 0 and 1"})
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		errs = append(errs, ValidationError{Path: "LOG_FORMAT", Message: "must be json or console"})
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validatePort(errs ValidationErrors, name string, port int) ValidationErrors {
	if port < 1 || port > 65535 {
		return append(errs, ValidationError{Path: name, Message: fmt.Sprintf("invalid port %d", port)})
	}
	return errs
}
