// Package forwarder sends requests to upstream services with retries and
// a circuit breaker per destination.
//
// Only transport failures are retried or counted against a circuit. Any
// HTTP response, whatever its status, is a completed call and is returned
// to the caller as is.
package forwarder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/agentgateway/internal/circuitbreaker"
	"github.com/vyrodovalexey/agentgateway/internal/observability"
	"github.com/vyrodovalexey/agentgateway/internal/retry"
)

var fwdTracer = otel.Tracer("agentgateway/forwarder")

// Default policy values.
const (
	DefaultAttemptTimeout = 30 * time.Second
)

// hopHeaders are headers that are not forwarded in either direction.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Policy controls retries and circuit breaking.
type Policy struct {
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	FailureThreshold int
	RecoveryTimeout  time.Duration
	AttemptTimeout   time.Duration
}

// DefaultPolicy returns the default policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:      retry.DefaultMaxAttempts,
		InitialBackoff:   retry.DefaultInitialBackoff,
		MaxBackoff:       retry.DefaultMaxBackoff,
		FailureThreshold: circuitbreaker.DefaultFailureThreshold,
		RecoveryTimeout:  circuitbreaker.DefaultRecoveryTimeout,
		AttemptTimeout:   DefaultAttemptTimeout,
	}
}

func (p Policy) retryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    p.MaxAttempts,
		InitialBackoff: p.InitialBackoff,
		MaxBackoff:     p.MaxBackoff,
	}
}

func (p Policy) attemptTimeout() time.Duration {
	if p.AttemptTimeout <= 0 {
		return DefaultAttemptTimeout
	}
	return p.AttemptTimeout
}

// Request is an outbound HTTP request. Body is resent on every attempt.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a fully buffered upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Operation is one attempt against a destination. It must return an
// error only when no response was obtained.
type Operation func(ctx context.Context) (*Response, error)

// Forwarder dispatches calls to upstream destinations.
type Forwarder struct {
	client       *http.Client
	policy       Policy
	breakers     *circuitbreaker.Registry
	logger       observability.Logger
	metrics      *Metrics
	retryMetrics *retry.Metrics
	cbMetrics    *circuitbreaker.Metrics
}

// Option is a functional option for the forwarder.
type Option func(*Forwarder)

// WithHTTPClient sets the HTTP client used by Do.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Forwarder) {
		f.client = client
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// WithMetrics sets the forwarder metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(f *Forwarder) {
		f.metrics = metrics
	}
}

// WithRetryMetrics sets the retry metrics.
func WithRetryMetrics(metrics *retry.Metrics) Option {
	return func(f *Forwarder) {
		f.retryMetrics = metrics
	}
}

// WithCircuitBreakerMetrics sets the circuit breaker metrics.
func WithCircuitBreakerMetrics(metrics *circuitbreaker.Metrics) Option {
	return func(f *Forwarder) {
		f.cbMetrics = metrics
	}
}

// New creates a forwarder.
func New(policy Policy, opts ...Option) *Forwarder {
	f := &Forwarder{
		policy: policy,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = &http.Client{Timeout: policy.attemptTimeout()}
	}

	f.breakers = circuitbreaker.NewRegistry(&circuitbreaker.Config{
		FailureThreshold: policy.FailureThreshold,
		RecoveryTimeout:  policy.RecoveryTimeout,
		IsFailure:        retry.IsTransportError,
	},
		circuitbreaker.WithLogger(f.logger),
		circuitbreaker.WithMetrics(f.cbMetrics),
	)

	return f
}

// Breakers returns the circuit breaker registry.
func (f *Forwarder) Breakers() *circuitbreaker.Registry {
	return f.breakers
}

// Call runs op against destination. A cancelled or expired ctx is returned
// as is; every other failure is an *UpstreamError wrapping
// ErrUpstreamUnavailable.
func (f *Forwarder) Call(ctx context.Context, destination string, op Operation) (*Response, error) {
	start := time.Now()
	breaker := f.breakers.Get(destination)
	logger := f.logger.WithContext(ctx)

	var (
		resp     *Response
		attempts int
	)
	err := retry.Do(ctx, f.policy.retryPolicy(), func(ctx context.Context, attempt int) error {
		attempts = attempt
		err := breaker.Execute(func() error {
			r, err := f.attempt(ctx, destination, attempt, op)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
		f.metrics.recordAttempt(destination, attemptOutcome(err))
		return err
	}, &retry.Options{
		Operation: destination,
		Metrics:   f.retryMetrics,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			logger.Warn("upstream attempt failed, retrying",
				observability.String("destination", destination),
				observability.Int("attempt", attempt),
				observability.Duration("backoff", backoff),
				observability.Error(err),
			)
		},
	})

	f.metrics.recordCall(destination, time.Since(start), resp)

	if err == nil {
		return resp, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	logger.Error("upstream unavailable",
		observability.String("destination", destination),
		observability.Int("attempts", attempts),
		observability.String("circuit", breaker.State().String()),
		observability.Error(err),
	)
	return nil, &UpstreamError{Destination: destination, Attempts: attempts, Cause: err}
}

func (f *Forwarder) attempt(ctx context.Context, destination string, attempt int, op Operation) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, f.policy.attemptTimeout())
	defer cancel()

	ctx, span := fwdTracer.Start(ctx, "upstream.attempt",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("upstream.destination", destination),
			attribute.Int("upstream.attempt", attempt),
		),
	)
	defer span.End()

	resp, err := op(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	return resp, nil
}

// Do sends req to destination through Call.
func (f *Forwarder) Do(ctx context.Context, destination string, req *Request) (*Response, error) {
	return f.Call(ctx, destination, func(ctx context.Context) (*Response, error) {
		return f.send(ctx, req)
	})
}

func (f *Forwarder) send(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	hreq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if req.Header != nil {
		hreq.Header = req.Header.Clone()
	}
	removeHopHeaders(hreq.Header)
	observability.InjectTraceContext(ctx, hreq)

	resp, err := f.client.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	header := resp.Header.Clone()
	removeHopHeaders(header)
	header.Del("Content-Length")

	return &Response{StatusCode: resp.StatusCode, Header: header, Body: data}, nil
}

func removeHopHeaders(h http.Header) {
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

func attemptOutcome(err error) string {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, ErrCircuitOpen):
		return outcomeCircuitOpen
	case errors.Is(err, context.Canceled):
		return outcomeCanceled
	case retry.IsTransportError(err):
		return outcomeTransport
	default:
		return outcomeError
	}
}
