package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// IsTransportError reports whether err is a network level failure: a
// timeout, a refused or reset connection, a DNS failure or a connection
// closed mid response. Cancellation is never a transport error.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Covers *url.Error, *net.OpError and *net.DNSError.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return true
	}
	return false
}
