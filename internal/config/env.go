package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LookupFunc resolves an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// LoadFromEnv loads configuration from the process environment.
func LoadFromEnv() (*Config, error) {
	return Load(os.LookupEnv)
}

// Load builds a Config from defaults overridden by the variables lookup
// resolves, then validates it. Variable names are case sensitive and
// upper case.
func Load(lookup LookupFunc) (*Config, error) {
	cfg := DefaultConfig()
	env := &envReader{lookup: lookup}

	cfg.ServiceName = env.getEnvOrDefault("SERVICE_NAME", cfg.ServiceName)
	cfg.APIPort = env.getEnvInt("API_PORT", cfg.APIPort)
	cfg.MCPPort = env.getEnvInt("MCP_PORT", cfg.MCPPort)
	cfg.AWSRegion = env.getEnvOrDefault("AWS_REGION", cfg.AWSRegion)
	cfg.MaxRequestBodyBytes = env.getEnvInt("MAX_REQUEST_BODY_BYTES", cfg.MaxRequestBodyBytes)

	cfg.Auth.CognitoUserPoolID = env.getEnvOrDefault("COGNITO_USER_POOL_ID", "")
	cfg.Auth.CognitoRegion = env.getEnvOrDefault("COGNITO_REGION", cfg.Auth.CognitoRegion)
	cfg.Auth.JWKSURL = env.getEnvOrDefault("JWKS_URL", "")
	cfg.Auth.JWKSMissRefreshInterval = env.getEnvDuration("JWKS_MISS_REFRESH_INTERVAL", 0)
	cfg.Auth.JWKSFetchTimeout = env.getEnvDuration("JWKS_FETCH_TIMEOUT", cfg.Auth.JWKSFetchTimeout)
	cfg.Auth.RolesClaim = env.getEnvOrDefault("ROLES_CLAIM", cfg.Auth.RolesClaim)
	cfg.Auth.DepartmentClaim = env.getEnvOrDefault("DEPARTMENT_CLAIM", "")
	cfg.Auth.Algorithms = env.getEnvList("JWT_ALGORITHMS", cfg.Auth.Algorithms)

	cfg.Authz.RBACEnabled = env.getEnvBool("RBAC_ENABLED", cfg.Authz.RBACEnabled)
	cfg.Authz.DepartmentIsolation = env.getEnvBool("DEPARTMENT_ISOLATION", cfg.Authz.DepartmentIsolation)
	cfg.Authz.RequireUserRoles = env.getEnvBool("REQUIRE_USER_ROLES", cfg.Authz.RequireUserRoles)
	cfg.Authz.PolicyFile = env.getEnvOrDefault("RBAC_POLICY_FILE", "")

	cfg.Upstreams.ApplicationServiceURL = env.getEnvOrDefault("APPLICATION_SERVICE_URL", cfg.Upstreams.ApplicationServiceURL)
	cfg.Upstreams.MCPFinanceURL = env.getEnvOrDefault("MCP_FINANCE_URL", cfg.Upstreams.MCPFinanceURL)
	cfg.Upstreams.MCPHRURL = env.getEnvOrDefault("MCP_HR_URL", cfg.Upstreams.MCPHRURL)
	cfg.Upstreams.MCPLegalURL = env.getEnvOrDefault("MCP_LEGAL_URL", cfg.Upstreams.MCPLegalURL)
	cfg.Upstreams.ServiceToken = env.getEnvOrDefault("SERVICE_TOKEN", "")

	cfg.Resilience.MaxAttempts = env.getEnvInt("RETRY_MAX_ATTEMPTS", cfg.Resilience.MaxAttempts)
	cfg.Resilience.InitialBackoff = env.getEnvDuration("RETRY_INITIAL_BACKOFF", cfg.Resilience.InitialBackoff)
	cfg.Resilience.MaxBackoff = env.getEnvDuration("RETRY_MAX_BACKOFF", cfg.Resilience.MaxBackoff)
	cfg.Resilience.FailureThreshold = env.getEnvInt("CIRCUIT_FAILURE_THRESHOLD", cfg.Resilience.FailureThreshold)
	cfg.Resilience.RecoveryTimeout = env.getEnvDuration("CIRCUIT_RECOVERY_TIMEOUT", cfg.Resilience.RecoveryTimeout)
	cfg.Resilience.UpstreamTimeout = env.getEnvDuration("UPSTREAM_TIMEOUT", cfg.Resilience.UpstreamTimeout)

	cfg.Log.Level = strings.ToLower(env.getEnvOrDefault("LOG_LEVEL", cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(env.getEnvOrDefault("LOG_FORMAT", cfg.Log.Format))

	cfg.Audit.Output = env.getEnvOrDefault("AUDIT_OUTPUT", cfg.Audit.Output)
	cfg.Audit.BufferSize = env.getEnvInt("AUDIT_BUFFER_SIZE", cfg.Audit.BufferSize)

	cfg.Metrics.Enabled = env.getEnvBool("METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.Port = env.getEnvInt("METRICS_PORT", cfg.Metrics.Port)

	cfg.Tracing.Enabled = env.getEnvBool("TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.OTLPEndpoint = env.getEnvOrDefault("OTLP_ENDPOINT", "")
	cfg.Tracing.SamplingRate = env.getEnvFloat("TRACING_SAMPLING_RATE", cfg.Tracing.SamplingRate)

	cfg.CORS.AllowedOrigins = env.getEnvList("CORS_ALLOWED_ORIGINS", cfg.CORS.AllowedOrigins)

	if env.errs.HasErrors() {
		return nil, env.errs
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envReader reads typed values and accumulates parse failures so a
// single Load call reports every bad variable.
type envReader struct {
	lookup LookupFunc
	errs   ValidationErrors
}

// getEnvOrDefault returns the environment variable value or a default.
func (r *envReader) getEnvOrDefault(key, defaultValue string) string {
	if value, ok := r.lookup(key); ok && value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns the environment variable as a boolean or a default.
// Accepts "true", "1", "yes", "on" (case-insensitive) as true values.
func (r *envReader) getEnvBool(key string, defaultValue bool) bool {
	value := r.getEnvOrDefault(key, "")
	if value == "" {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		r.fail(key, fmt.Sprintf("invalid boolean %q", value))
		return defaultValue
	}
}

func (r *envReader) getEnvInt(key string, defaultValue int) int {
	value := r.getEnvOrDefault(key, "")
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		r.fail(key, fmt.Sprintf("invalid integer %q", value))
		return defaultValue
	}
	return n
}

func (r *envReader) getEnvFloat(key string, defaultValue float64) float64 {
	value := r.getEnvOrDefault(key, "")
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.fail(key, fmt.Sprintf("invalid number %q", value))
		return defaultValue
	}
	return f
}

func (r *envReader) getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := r.getEnvOrDefault(key, "")
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		r.fail(key, fmt.Sprintf("invalid duration %q", value))
		return defaultValue
	}
	return d
}

// getEnvList splits a comma separated variable, dropping empty entries.
func (r *envReader) getEnvList(key string, defaultValue []string) []string {
	value := r.getEnvOrDefault(key, "")
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func (r *envReader) fail(key, msg string) {
	r.errs = append(r.errs, ValidationError{Path: key, Message: msg})
}
