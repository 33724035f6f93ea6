package forwarder

import (
	"errors"
	"fmt"

	"github.com/vyrodovalexey/agentgateway/internal/circuitbreaker"
)

// Sentinel errors for forwarding.
var (
	// ErrUpstreamUnavailable is wrapped by every terminal forwarding failure
	// other than cancellation.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrCircuitOpen indicates the destination's circuit rejected the call.
	ErrCircuitOpen = circuitbreaker.ErrOpen

	// ErrInvalidRequest indicates the outbound request could not be built.
	ErrInvalidRequest = errors.New("invalid upstream request")
)

// UpstreamError describes a forwarding failure.
type UpstreamError struct {
	Destination string
	Attempts    int
	Cause       error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s unavailable after %d attempt(s): %v", e.Destination, e.Attempts, e.Cause)
}

// Unwrap returns ErrUpstreamUnavailable and the cause.
func (e *UpstreamError) Unwrap() []error {
	return []error{ErrUpstreamUnavailable, e.Cause}
}
