// Package circuitbreaker keeps one circuit breaker per destination.
//
// Breakers are sony/gobreaker circuits configured to open after a run of
// consecutive failures and to admit exactly one probe once the recovery
// timeout has passed.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/agentgateway/internal/observability"
)

var cbTracer = otel.Tracer("agentgateway/circuitbreaker")

// State is the state of a circuit.
type State = gobreaker.State

// Circuit states.
const (
	StateClosed   = gobreaker.StateClosed
	StateHalfOpen = gobreaker.StateHalfOpen
	StateOpen     = gobreaker.StateOpen
)

// ErrOpen is returned without running the operation while a circuit is
// open, or while its single half-open probe is in flight.
var ErrOpen = errors.New("circuit breaker is open")

// Breaker guards one destination.
type Breaker struct {
	name    string
	cfg     *Config
	cb      *gobreaker.TwoStepCircuitBreaker
	metrics *Metrics

	// probing is held while the half-open probe runs. The probe is reported
	// to gobreaker only once its outcome is known, so an excluded outcome
	// leaves the circuit half-open with the slot free.
	probing atomic.Bool
}

func newBreaker(name string, cfg *Config, logger observability.Logger, metrics *Metrics) *Breaker {
	threshold := cfg.threshold()

	b := &Breaker{name: name, cfg: cfg, metrics: metrics}
	b.cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.recoveryTimeout(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state change",
				observability.String("destination", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
			metrics.recordTransition(name, from, to)

			_, span := cbTracer.Start(context.Background(),
				"circuitbreaker.state_change",
				trace.WithSpanKind(trace.SpanKindInternal),
			)
			span.AddEvent("state_change", trace.WithAttributes(
				attribute.String("circuitbreaker.destination", name),
				attribute.String("circuitbreaker.from", from.String()),
				attribute.String("circuitbreaker.to", to.String()),
			))
			span.End()
		},
	})
	metrics.setState(name, StateClosed)

	return b
}

// Name returns the destination name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state.
func (b *Breaker) State() State {
	return b.cb.State()
}

// ConsecutiveFailures returns the current run of failures.
func (b *Breaker) ConsecutiveFailures() uint32 {
	return b.cb.Counts().ConsecutiveFailures
}

// Execute runs fn if the circuit admits it. ErrOpen is returned, wrapped
// with the destination name, when it does not. Excluded errors, by default
// context.Canceled, count as neither success nor failure.
func (b *Breaker) Execute(fn func() error) error {
	// State moves an expired open circuit to half-open, so open here means
	// the recovery timeout is still running.
	switch b.cb.State() {
	case StateOpen:
		return b.reject()
	case StateHalfOpen:
		return b.probe(fn)
	}

	done, err := b.cb.Allow()
	if err != nil {
		return b.reject()
	}

	settled := false
	defer func() {
		if !settled {
			done(false)
		}
	}()
	err = fn()
	settled = true

	if b.cfg.isExcluded(err) {
		// An admission taken just as the circuit went half-open holds the
		// probe slot and must give it back. Reporting into a stale
		// generation is a no-op.
		if b.cb.State() != StateClosed {
			done(false)
		}
		return err
	}
	done(!b.cfg.isFailure(err))
	return err
}

func (b *Breaker) probe(fn func() error) error {
	if !b.probing.CompareAndSwap(false, true) {
		return b.reject()
	}
	defer b.probing.Store(false)

	settled := false
	defer func() {
		if !settled {
			b.report(false)
		}
	}()
	err := fn()
	settled = true

	if !b.cfg.isExcluded(err) {
		b.report(!b.cfg.isFailure(err))
	}
	return err
}

// report records an outcome that is already known.
func (b *Breaker) report(success bool) {
	done, err := b.cb.Allow()
	if err != nil {
		return
	}
	done(success)
}

func (b *Breaker) reject() error {
	b.metrics.recordRejected(b.name)
	return fmt.Errorf("%w: %s", ErrOpen, b.name)
}
