package jwt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/agentgateway/internal/observability"
)

// DefaultFetchTimeout bounds a single key set download.
const DefaultFetchTimeout = 10 * time.Second

// Fetch triggers, used as metric labels.
const (
	triggerInitial = "initial"
	triggerMiss    = "miss"
	triggerManual  = "manual"
)

// KeySet resolves signing keys by key id.
type KeySet interface {
	GetKey(ctx context.Context, kid string) (jwk.Key, error)
}

// JWKSKeySet is a KeySet backed by a remote JWKS document.
//
// The document is fetched on the first lookup. A lookup for an unknown
// key id triggers one refresh; further miss-driven refreshes happen only
// when a miss refresh interval is configured, at most once per interval.
// Refreshes only add key ids not already cached, so a key never changes
// once it has been served. When no fetch has succeeded yet, every lookup
// retries the fetch.
//
// Downloads run outside the key lock, one at a time; concurrent callers
// share the download in flight. Cached lookups never wait on the network.
type JWKSKeySet struct {
	url          string
	client       *http.Client
	fetchTimeout time.Duration
	logger       observability.Logger
	metrics      *Metrics
	flight       singleflight.Group

	mu            sync.RWMutex
	keys          map[string]jwk.Key
	loaded        bool
	missRefresh   *rate.Limiter
	missRefreshed bool
	lastFetch     time.Time
	refreshes     int64
	errors        int64
}

// KeySetStats is a snapshot of key set activity.
type KeySetStats struct {
	URL       string
	KeyCount  int
	Refreshes int64
	Errors    int64
	LastFetch time.Time
}

// KeySetOption configures a JWKSKeySet.
type KeySetOption func(*JWKSKeySet)

// WithHTTPClient sets the HTTP client used for fetching.
func WithHTTPClient(client *http.Client) KeySetOption {
	return func(ks *JWKSKeySet) {
		if client != nil {
			ks.client = client
		}
	}
}

// WithFetchTimeout bounds each key set download.
func WithFetchTimeout(d time.Duration) KeySetOption {
	return func(ks *JWKSKeySet) {
		if d > 0 {
			ks.fetchTimeout = d
		}
	}
}

// WithMissRefreshInterval allows one miss-driven refresh per interval
// after the first. Zero keeps the single-refresh behaviour.
func WithMissRefreshInterval(d time.Duration) KeySetOption {
	return func(ks *JWKSKeySet) {
		if d > 0 {
			ks.missRefresh = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithJWKSLogger sets the logger.
func WithJWKSLogger(logger observability.Logger) KeySetOption {
	return func(ks *JWKSKeySet) {
		ks.logger = logger
	}
}

// WithJWKSMetrics sets the metrics sink.
func WithJWKSMetrics(m *Metrics) KeySetOption {
	return func(ks *JWKSKeySet) {
		ks.metrics = m
	}
}

// NewJWKSKeySet creates a key set for url. Nothing is fetched until the
// first lookup.
func NewJWKSKeySet(url string, opts ...KeySetOption) (*JWKSKeySet, error) {
	if url == "" {
		return nil, errors.New("jwks url is required")
	}

	ks := &JWKSKeySet{
		url:          url,
		client:       &http.Client{Timeout: DefaultFetchTimeout},
		fetchTimeout: DefaultFetchTimeout,
		logger:       observability.NopLogger(),
		keys:         make(map[string]jwk.Key),
	}
	for _, opt := range opts {
		opt(ks)
	}
	return ks, nil
}

// GetKey returns the key with the given id.
func (ks *JWKSKeySet) GetKey(ctx context.Context, kid string) (jwk.Key, error) {
	if kid == "" {
		return nil, ErrKeyNotFound
	}

	key, loaded := ks.lookup(kid)
	if key != nil {
		return key, nil
	}

	if !loaded {
		if err := ks.fetch(ctx, triggerInitial); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrKeySetUnavailable, err)
		}
		if key, _ := ks.lookup(kid); key != nil {
			return key, nil
		}
		// The set was just downloaded; refetching it now would not help.
		return nil, ErrKeyNotFound
	}

	if !ks.allowMissRefresh() {
		return nil, ErrKeyNotFound
	}

	if err := ks.fetch(ctx, triggerMiss); err != nil {
		ks.logger.Warn("key set refresh after unknown key id failed",
			observability.String("kid", kid),
			observability.Error(err),
		)
		return nil, ErrKeyNotFound
	}
	if key, _ := ks.lookup(kid); key != nil {
		return key, nil
	}
	return nil, ErrKeyNotFound
}

func (ks *JWKSKeySet) lookup(kid string) (jwk.Key, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.keys[kid], ks.loaded
}

func (ks *JWKSKeySet) isLoaded() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.loaded
}

// allowMissRefresh reports whether a miss may trigger a refresh now and
// records the refresh if so.
func (ks *JWKSKeySet) allowMissRefresh() bool {
	if ks.missRefresh != nil {
		return ks.missRefresh.Allow()
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.missRefreshed {
		return false
	}
	ks.missRefreshed = true
	return true
}

// Refresh fetches the key set now and merges unseen key ids.
func (ks *JWKSKeySet) Refresh(ctx context.Context) error {
	return ks.fetch(ctx, triggerManual)
}

// fetch joins the download in flight or starts one. The download outlives
// a cancelled caller so that callers sharing it still get the result.
func (ks *JWKSKeySet) fetch(ctx context.Context, trigger string) error {
	ch := ks.flight.DoChan("jwks", func() (interface{}, error) {
		if trigger == triggerInitial && ks.isLoaded() {
			return nil, nil
		}
		return nil, ks.download(context.WithoutCancel(ctx), trigger)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (ks *JWKSKeySet) download(ctx context.Context, trigger string) error {
	ctx, cancel := context.WithTimeout(ctx, ks.fetchTimeout)
	defer cancel()

	set, err := jwk.Fetch(ctx, ks.url, jwk.WithHTTPClient(ks.client))
	if err != nil {
		ks.mu.Lock()
		ks.errors++
		count := len(ks.keys)
		ks.mu.Unlock()

		ks.metrics.observeFetch(trigger, err, count)
		ks.logger.Error("failed to fetch key set",
			observability.String("url", ks.url),
			observability.String("trigger", trigger),
			observability.Error(err),
		)
		return err
	}

	ks.mu.Lock()
	added := 0
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		kid := key.KeyID()
		if kid == "" {
			continue
		}
		if _, exists := ks.keys[kid]; exists {
			continue
		}
		ks.keys[kid] = key
		added++
	}
	ks.loaded = true
	ks.lastFetch = time.Now()
	ks.refreshes++
	count := len(ks.keys)
	ks.mu.Unlock()

	ks.metrics.observeFetch(trigger, nil, count)
	ks.logger.Info("key set fetched",
		observability.String("url", ks.url),
		observability.String("trigger", trigger),
		observability.Int("added", added),
		observability.Int("keys", count),
	)
	return nil
}

// Stats returns a snapshot of key set activity.
func (ks *JWKSKeySet) Stats() KeySetStats {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return KeySetStats{
		URL:       ks.url,
		KeyCount:  len(ks.keys),
		Refreshes: ks.refreshes,
		Errors:    ks.errors,
		LastFetch: ks.lastFetch,
	}
}

var _ KeySet = (*JWKSKeySet)(nil)
