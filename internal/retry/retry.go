package retry

import (
	"context"
	"math"
	"time"
)

// Default policy values.
const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 5 * time.Second
)

// Policy bounds a retry loop.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialBackoff is the wait after the first failed attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps every wait.
	MaxBackoff time.Duration
}

// DefaultPolicy returns the default policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    DefaultMaxAttempts,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
	}
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

func (p Policy) initialBackoff() time.Duration {
	if p.InitialBackoff < 0 {
		return 0
	}
	return p.InitialBackoff
}

func (p Policy) maxBackoff() time.Duration {
	if p.MaxBackoff <= 0 {
		return p.initialBackoff()
	}
	return p.MaxBackoff
}

// Func is one attempt. attempt starts at 1.
type Func func(ctx context.Context, attempt int) error

// ShouldRetryFunc determines if an error should trigger a retry.
type ShouldRetryFunc func(error) bool

// OnRetryFunc is called before each backoff wait.
type OnRetryFunc func(attempt int, err error, backoff time.Duration)

// Options contains optional retry behavior.
type Options struct {
	// ShouldRetry decides whether an error is retried. Defaults to
	// IsTransportError.
	ShouldRetry ShouldRetryFunc

	// OnRetry is called before each backoff wait.
	OnRetry OnRetryFunc

	// Operation labels metrics.
	Operation string

	// Metrics is optional.
	Metrics *Metrics
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. The last error is returned. If ctx is done the
// context error is returned instead.
func Do(ctx context.Context, p Policy, fn Func, opts *Options) error {
	if opts == nil {
		opts = &Options{}
	}
	shouldRetry := opts.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransportError
	}

	maxAttempts := p.maxAttempts()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			if attempt > 1 {
				opts.Metrics.recordOutcome(opts.Operation, "recovered")
			}
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		if !shouldRetry(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}

		backoff := CalculateBackoff(attempt-1, p.initialBackoff(), p.maxBackoff())
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, lastErr, backoff)
		}
		opts.Metrics.recordRetry(opts.Operation, backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	opts.Metrics.recordOutcome(opts.Operation, "exhausted")
	return lastErr
}

// CalculateBackoff returns initial * 2^attempt capped at maxBackoff.
// attempt is zero based.
func CalculateBackoff(attempt int, initial, maxBackoff time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	backoff := float64(initial) * math.Pow(2, float64(attempt))
	if backoff > float64(maxBackoff) {
		return maxBackoff
	}
	return time.Duration(backoff)
}
