package circuitbreaker

import (
	"context"
	"errors"
	"time"
)

// Default breaker settings.
const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 60 * time.Second
)

// Config holds the settings shared by every breaker of a registry.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before a single
	// probe is admitted.
	RecoveryTimeout time.Duration

	// IsFailure decides whether an error counts against the circuit. If
	// nil, every error is a failure. Errors matched by IsExcluded are never
	// passed to it.
	IsFailure func(err error) bool

	// IsExcluded matches errors that count as neither success nor failure.
	// If nil, context.Canceled is excluded.
	IsExcluded func(err error) bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: DefaultFailureThreshold,
		RecoveryTimeout:  DefaultRecoveryTimeout,
	}
}

func (c *Config) threshold() uint32 {
	if c.FailureThreshold < 1 {
		return DefaultFailureThreshold
	}
	if c.FailureThreshold > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(c.FailureThreshold) //nolint:gosec // bounds checked above
}

func (c *Config) recoveryTimeout() time.Duration {
	if c.RecoveryTimeout <= 0 {
		return DefaultRecoveryTimeout
	}
	return c.RecoveryTimeout
}

func (c *Config) isFailure(err error) bool {
	if err == nil {
		return false
	}
	if c.IsFailure != nil {
		return c.IsFailure(err)
	}
	return true
}

func (c *Config) isExcluded(err error) bool {
	if err == nil {
		return false
	}
	if c.IsExcluded != nil {
		return c.IsExcluded(err)
	}
	return errors.Is(err, context.Canceled)
}
