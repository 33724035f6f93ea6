// Package config loads the gateway configuration from environment
// variables.
//
// Every setting has a default except COGNITO_USER_POOL_ID (or an
// explicit JWKS_URL). Parse failures and validation failures are
// collected and returned together as ValidationErrors, which match
// ErrInvalidConfig:
//
//	cfg, err := config.LoadFromEnv()
//	if errors.Is(err, config.ErrInvalidConfig) {
//	    log.Fatal(err)
//	}
package config
