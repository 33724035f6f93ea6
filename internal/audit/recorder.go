// Package audit records one structured entry per gateway request.
//
// Entries are queued and written as JSON lines by a single goroutine, so
// recording never blocks a request. When the queue is full the entry is
// dropped and counted.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/agentgateway/internal/observability"
)

// Recorder accepts audit entries.
type Recorder interface {
	// Record queues e. It never blocks and never panics.
	Record(ctx context.Context, e *Entry)

	// Close stops accepting entries and waits for queued ones to be
	// written.
	Close() error
}

type recorder struct {
	queue   chan *Entry
	writer  io.Writer
	closer  io.Closer
	logger  observability.Logger
	metrics *Metrics
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

var _ Recorder = (*recorder)(nil)

// RecorderOption is a functional option for the recorder.
type RecorderOption func(*recorder)

// WithRecorderLogger sets the logger used for recorder faults.
func WithRecorderLogger(l observability.Logger) RecorderOption {
	return func(r *recorder) {
		r.logger = l
	}
}

// WithRecorderMetrics sets the metrics.
func WithRecorderMetrics(metrics *Metrics) RecorderOption {
	return func(r *recorder) {
		r.metrics = metrics
	}
}

// WithRecorderWriter sets the writer, overriding Config.Output.
func WithRecorderWriter(w io.Writer) RecorderOption {
	return func(r *recorder) {
		r.writer = w
	}
}

// NewRecorder creates a recorder and starts its writer goroutine.
func NewRecorder(cfg *Config, opts ...RecorderOption) (Recorder, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	r := &recorder{
		queue:  make(chan *Entry, cfg.GetEffectiveBufferSize()),
		logger: observability.NopLogger(),
		now:    time.Now,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.writer == nil {
		w, c, err := createWriter(cfg.GetEffectiveOutput())
		if err != nil {
			return nil, err
		}
		r.writer = w
		r.closer = c
	}

	go r.run()
	return r, nil
}

// createWriter creates the output writer for output.
func createWriter(output string) (io.Writer, io.Closer, error) {
	switch output {
	case "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	default:
		//nolint:gosec // G304: path comes from trusted configuration
		file, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit log file: %w", err)
		}
		return file, file, nil
	}
}

func (r *recorder) Record(ctx context.Context, e *Entry) {
	if e == nil {
		return
	}
	r.complete(ctx, e)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.metrics.recordDropped()
		return
	}

	select {
	case r.queue <- e:
		r.metrics.setQueueDepth(len(r.queue))
	default:
		r.metrics.recordDropped()
		r.logger.Warn("audit queue full, entry dropped",
			observability.String("event_id", e.EventID),
			observability.String("path", e.Path),
			observability.Int("status", e.StatusCode),
		)
	}
}

// complete fills derived fields the caller left empty.
func (r *recorder) complete(ctx context.Context, e *Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now().UTC()
	}
	if e.EventID == "" {
		e.EventID = uuid.New().String()
	}
	if e.Outcome == "" {
		e.Outcome = OutcomeForStatus(e.StatusCode)
	}
	if e.RequestID == "" {
		e.RequestID = observability.RequestIDFromContext(ctx)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		if e.TraceID == "" {
			e.TraceID = sc.TraceID().String()
		}
		if e.SpanID == "" {
			e.SpanID = sc.SpanID().String()
		}
	}
}

func (r *recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		r.metrics.setQueueDepth(len(r.queue))
		r.write(e)
	}
}

func (r *recorder) write(e *Entry) {
	line, err := json.Marshal(e)
	if err != nil {
		r.metrics.recordWriteError()
		r.logger.Error("failed to marshal audit entry", observability.Error(err))
		return
	}
	line = append(line, '\n')

	if _, err := r.writer.Write(line); err != nil {
		r.metrics.recordWriteError()
		r.logger.Error("failed to write audit entry", observability.Error(err))
		return
	}
	r.metrics.recordWritten(e)
}

func (r *recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// noopRecorder discards entries.
type noopRecorder struct{}

// NewNoopRecorder returns a Recorder that discards entries.
func NewNoopRecorder() Recorder {
	return noopRecorder{}
}

func (noopRecorder) Record(context.Context, *Entry) {}

func (noopRecorder) Close() error { return nil }
