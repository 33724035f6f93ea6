package audit

import (
	"net/http"
	"time"
)

// Surface identifies which listener handled a request.
type Surface string

// Surfaces.
const (
	SurfaceAPI Surface = "api"
	SurfaceMCP Surface = "mcp"
)

// Outcome summarises an entry's status code.
type Outcome string

// Outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeDenied  Outcome = "denied"
	OutcomeFailure Outcome = "failure"
	OutcomeError   Outcome = "error"
)

// OutcomeForStatus maps an HTTP status to an outcome.
func OutcomeForStatus(status int) Outcome {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return OutcomeDenied
	case status >= http.StatusInternalServerError:
		return OutcomeError
	case status >= http.StatusBadRequest:
		return OutcomeFailure
	default:
		return OutcomeSuccess
	}
}

// Entry is one audit record, written as a single JSON line.
type Entry struct {
	Timestamp  time.Time `json:"timestamp"`
	EventID    string    `json:"event_id"`
	RequestID  string    `json:"request_id,omitempty"`
	TraceID    string    `json:"trace_id,omitempty"`
	SpanID     string    `json:"span_id,omitempty"`
	Surface    Surface   `json:"surface"`
	UserID     string    `json:"user_id,omitempty"`
	Username   string    `json:"username,omitempty"`
	Department string    `json:"department,omitempty"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	StatusCode int       `json:"status_code"`
	Outcome    Outcome   `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	ClientIP   string    `json:"client_ip,omitempty"`
	DurationMS float64   `json:"duration_ms"`
}

// SetDuration records d in milliseconds.
func (e *Entry) SetDuration(d time.Duration) {
	e.DurationMS = float64(d.Microseconds()) / 1000
}
