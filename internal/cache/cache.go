package cache

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pricecompare/searchservice/internal/domain"
	"pricecompare/searchservice/internal/metrics"
)

const (
	DefaultTTL          = 24 * time.Hour
	defaultWriteTimeout = 10 * time.Second
)

// ErrStoreUnavailable means the backing store cannot serve the cache at all
// (missing table, disconnected client). The cache stops using it for good.
var ErrStoreUnavailable = errors.New("cache store unavailable")

// Store persists cached rows. Upsert is keyed by (platform, product id) with
// last write wins. Find returns rows for one platform and normalized search
// term cached at or after since, newest first.
type Store interface {
	Find(ctx context.Context, platform, term string, since time.Time, limit int) ([]domain.CachedEntry, error)
	Upsert(ctx context.Context, platform string, entries []domain.CachedEntry) error
}

// ResultCache serves per-term platform results within a freshness window and
// writes new results in the background.
type ResultCache struct {
	store        Store
	logger       *slog.Logger
	ttl          time.Duration
	writeTimeout time.Duration
	now          func() time.Time
	disabled     atomic.Bool
	pending      sync.WaitGroup
}

type Option func(*ResultCache)

func WithLogger(logger *slog.Logger) Option {
	return func(c *ResultCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(c *ResultCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *ResultCache) {
		if timeout > 0 {
			c.writeTimeout = timeout
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *ResultCache) {
		if now != nil {
			c.now = now
		}
	}
}

// New wraps store. A nil store yields a cache that always misses.
func New(store Store, opts ...Option) *ResultCache {
	c := &ResultCache{
		store:        store,
		logger:       slog.Default(),
		ttl:          DefaultTTL,
		writeTimeout: defaultWriteTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if store == nil {
		c.disabled.Store(true)
	}
	return c
}

func NormalizeTerm(term string) string {
	return strings.ToLower(strings.Join(strings.Fields(term), " "))
}

func (c *ResultCache) TTL() time.Duration {
	if c == nil {
		return 0
	}
	return c.ttl
}

func (c *ResultCache) Enabled() bool {
	return c != nil && !c.disabled.Load()
}

// Get returns the cached results for platform and term. Stale rows are
// ignored and an empty set counts as a miss.
func (c *ResultCache) Get(ctx context.Context, platform, term string, limit int) ([]domain.ProductResult, bool) {
	if !c.Enabled() {
		return nil, false
	}
	platform = strings.ToLower(strings.TrimSpace(platform))
	key := NormalizeTerm(term)
	if platform == "" || key == "" {
		return nil, false
	}

	entries, err := c.store.Find(ctx, platform, key, c.now().Add(-c.ttl), limit)
	if err != nil {
		c.handleStoreError(err, "read", platform)
		metrics.CacheMissesTotal.WithLabelValues(platform).Inc()
		return nil, false
	}
	if len(entries) == 0 {
		metrics.CacheMissesTotal.WithLabelValues(platform).Inc()
		return nil, false
	}

	results := make([]domain.ProductResult, 0, len(entries))
	for _, entry := range entries {
		results = append(results, entry.Product)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	metrics.CacheHitsTotal.WithLabelValues(platform).Inc()
	return results, true
}

// Put upserts results asynchronously. Failures are logged and counted, never
// returned.
func (c *ResultCache) Put(platform string, results []domain.ProductResult, term string) {
	if !c.Enabled() || len(results) == 0 {
		return
	}
	platform = strings.ToLower(strings.TrimSpace(platform))
	key := NormalizeTerm(term)
	if platform == "" || key == "" {
		return
	}

	cachedAt := c.now()
	entries := make([]domain.CachedEntry, 0, len(results))
	for _, result := range results {
		if strings.TrimSpace(result.ProductID) == "" {
			continue
		}
		result.Platform = platform
		entries = append(entries, domain.CachedEntry{Product: result, SearchTerm: key, CachedAt: cachedAt})
	}
	if len(entries) == 0 {
		return
	}

	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
		defer cancel()
		if err := c.store.Upsert(ctx, platform, entries); err != nil {
			metrics.CacheWriteFailuresTotal.Inc()
			c.handleStoreError(err, "write", platform)
		}
	}()
}

// Wait blocks until background writes finish or ctx is done.
func (c *ResultCache) Wait(ctx context.Context) error {
	if c == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		c.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *ResultCache) handleStoreError(err error, op, platform string) {
	if errors.Is(err, ErrStoreUnavailable) {
		if c.disabled.CompareAndSwap(false, true) {
			c.logger.Warn("result cache disabled",
				slog.String("op", op),
				slog.String("platform", platform),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	c.logger.Warn("result cache "+op+" failed",
		slog.String("platform", platform),
		slog.String("error", err.Error()),
	)
}
