package circuitbreaker

import (
	"sort"
	"sync"

	"github.com/vyrodovalexey/agentgateway/internal/observability"
)

// Registry creates breakers on demand, one per destination name.
type Registry struct {
	breakers sync.Map
	config   *Config
	logger   observability.Logger
	metrics  *Metrics
}

// RegistryOption is a functional option for the registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = metrics
	}
}

// NewRegistry creates a registry. A nil config uses DefaultConfig.
func NewRegistry(config *Config, opts ...RegistryOption) *Registry {
	if config == nil {
		config = DefaultConfig()
	}
	r := &Registry{
		config: config,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the breaker for name, creating it if needed.
func (r *Registry) Get(name string) *Breaker {
	if value, ok := r.breakers.Load(name); ok {
		return value.(*Breaker)
	}

	actual, loaded := r.breakers.LoadOrStore(name, newBreaker(name, r.config, r.logger, r.metrics))
	if !loaded {
		r.logger.Debug("created circuit breaker", observability.String("destination", name))
	}
	return actual.(*Breaker)
}

// States returns the state of every known breaker.
func (r *Registry) States() map[string]State {
	out := make(map[string]State)
	r.breakers.Range(func(key, value interface{}) bool {
		out[key.(string)] = value.(*Breaker).State()
		return true
	})
	return out
}

// Names returns the known destination names, sorted.
func (r *Registry) Names() []string {
	var names []string
	r.breakers.Range(func(key, _ interface{}) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)
	return names
}
