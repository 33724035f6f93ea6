package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a request failure.
type Kind int

// Failure kinds.
const (
	KindInternal Kind = iota
	KindAuthentication
	KindAuthorization
	KindValidation
	KindUnresolvedResource
	KindUpstreamUnavailable
	KindPayloadTooLarge
)

var kindNames = map[Kind]string{
	KindInternal:            "internal",
	KindAuthentication:      "authentication",
	KindAuthorization:       "authorization",
	KindValidation:          "validation",
	KindUnresolvedResource:  "unresolved_resource",
	KindUpstreamUnavailable: "upstream_unavailable",
	KindPayloadTooLarge:     "payload_too_large",
}

// String returns the kind name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// HTTPStatus returns the response status for k.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindUnresolvedResource:
		return http.StatusNotFound
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// code is the machine readable value of the "error" field in responses.
func (k Kind) code() string {
	switch k {
	case KindAuthentication:
		return "unauthorized"
	case KindAuthorization:
		return "forbidden"
	case KindValidation:
		return "bad_request"
	case KindUnresolvedResource:
		return "not_found"
	case KindUpstreamUnavailable:
		return "bad_gateway"
	case KindPayloadTooLarge:
		return "payload_too_large"
	default:
		return "internal_error"
	}
}

// Error is a request failure. Message is returned to the caller, Reason is
// written to the audit log and Cause is only logged.
type Error struct {
	Kind    Kind
	Message string
	Reason  string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// auditReason returns the text recorded in the audit entry.
func (e *Error) auditReason() string {
	switch {
	case e.Reason != "":
		return e.Reason
	case e.Cause != nil:
		return e.Cause.Error()
	default:
		return e.Message
	}
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// bodyReadError classifies a failed request body read.
func bodyReadError(err error) *Error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return newError(KindPayloadTooLarge, "Request body too large").withCause(err)
	}
	return newError(KindValidation, "Invalid request body").withCause(err)
}

func (e *Error) withReason(reason string) *Error {
	e.Reason = reason
	return e
}

func (e *Error) withCause(cause error) *Error {
	e.Cause = cause
	return e
}

// Sentinel kinds for errors.Is checks.
var (
	ErrAuthentication      = &Error{Kind: KindAuthentication}
	ErrAuthorization       = &Error{Kind: KindAuthorization}
	ErrValidation          = &Error{Kind: KindValidation}
	ErrUnresolvedResource  = &Error{Kind: KindUnresolvedResource}
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
	ErrPayloadTooLarge     = &Error{Kind: KindPayloadTooLarge}
	ErrInternal            = &Error{Kind: KindInternal}
)
