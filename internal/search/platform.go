package search

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"pricecompare/searchservice/internal/domain"
)

var ErrInvalidQuery = errors.New("query is required")

const (
	defaultDeadline       = 10 * time.Second
	defaultRequestTimeout = 30 * time.Second
	defaultLimit          = 20
	maxLimit              = 50

	maxCacheTimeout         = time.Second
	defaultRecommendTimeout = 5 * time.Second
)

// Platform fetches normalized products for one keyword from one source.
type Platform interface {
	Name() string
	Info() domain.PlatformInfo
	Search(ctx context.Context, keyword string, limit int) ([]domain.ProductResult, error)
}

// KeywordSearcher is implemented by platforms that match every extracted
// keyword at once (the curated catalog) rather than the primary term only.
type KeywordSearcher interface {
	SearchKeywords(ctx context.Context, keywords []string, limit int) ([]domain.ProductResult, error)
}

// KeywordExtractor never fails; it falls back to the raw query.
type KeywordExtractor interface {
	Extract(ctx context.Context, query string) domain.KeywordExtraction
}

type Recommender interface {
	Recommend(ctx context.Context, query string, products []domain.ProductResult) (string, error)
}

type HistorySink interface {
	Append(ctx context.Context, record domain.SearchHistoryRecord) error
}

// ResultCache is the per-platform, per-term cache consulted before live calls.
type ResultCache interface {
	Get(ctx context.Context, platform, term string, limit int) ([]domain.ProductResult, bool)
	Put(platform string, results []domain.ProductResult, term string)
}

// PlatformOptions overrides how one platform takes part in a search.
type PlatformOptions struct {
	Pool      domain.Pool
	Limit     int
	RateLimit float64
	Burst     int
}

type Service struct {
	platforms      []Platform
	overrides      map[string]PlatformOptions
	limit          int
	deadline       time.Duration
	requestTimeout time.Duration
	cacheTimeout   time.Duration
	recommendTime  time.Duration
	cache          ResultCache
	extractor      KeywordExtractor
	recommender    Recommender
	history        HistorySink
	mixer          *Mixer
	logger         *slog.Logger
	now            func() time.Time

	health *healthTracker

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	flight  singleflight.Group
	pending sync.WaitGroup
}

type ServiceOption func(*Service)

func WithCache(c ResultCache) ServiceOption {
	return func(s *Service) {
		s.cache = c
	}
}

func WithExtractor(extractor KeywordExtractor) ServiceOption {
	return func(s *Service) {
		s.extractor = extractor
	}
}

func WithRecommender(recommender Recommender) ServiceOption {
	return func(s *Service) {
		s.recommender = recommender
	}
}

func WithHistory(history HistorySink) ServiceOption {
	return func(s *Service) {
		s.history = history
	}
}

func WithMixer(mixer *Mixer) ServiceOption {
	return func(s *Service) {
		if mixer != nil {
			s.mixer = mixer
		}
	}
}

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDeadline bounds how long a search waits for live platforms.
func WithDeadline(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.deadline = d
		}
	}
}

// WithRequestTimeout bounds a single platform call, including calls that
// outlive the search deadline and only feed the cache.
func WithRequestTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

// WithCacheTimeout bounds the cache lookup phase. Lookups still pending when
// it ends count as misses. Defaults to a quarter of the deadline, at most 1s.
func WithCacheTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.cacheTimeout = d
		}
	}
}

// WithRecommendationTimeout bounds the recommendation call; on expiry the
// fallback text is used.
func WithRecommendationTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.recommendTime = d
		}
	}
}

func WithLimit(limit int) ServiceOption {
	return func(s *Service) {
		if limit > 0 {
			s.limit = min(limit, maxLimit)
		}
	}
}

func WithPlatformOptions(name string, opts PlatformOptions) ServiceOption {
	return func(s *Service) {
		key := strings.ToLower(strings.TrimSpace(name))
		if key != "" {
			s.overrides[key] = opts
		}
	}
}

func NewService(platforms []Platform, opts ...ServiceOption) *Service {
	registry := make([]Platform, 0, len(platforms))
	seen := make(map[string]struct{}, len(platforms))
	for _, platform := range platforms {
		if platform == nil {
			continue
		}
		name := platformKey(platform)
		if name == "" {
			continue
		}
		if _, exists := seen[name]; exists {
			continue
		}
		seen[name] = struct{}{}
		registry = append(registry, platform)
	}
	sort.Slice(registry, func(i, j int) bool {
		return platformKey(registry[i]) < platformKey(registry[j])
	})

	svc := &Service{
		platforms:      registry,
		overrides:      make(map[string]PlatformOptions),
		limit:          defaultLimit,
		deadline:       defaultDeadline,
		requestTimeout: defaultRequestTimeout,
		recommendTime:  defaultRecommendTimeout,
		mixer:          NewMixer(DefaultMixRatios(), 0),
		logger:         slog.Default(),
		now:            time.Now,
		health:         newHealthTracker(),
		limiters:       make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.requestTimeout < svc.deadline {
		svc.requestTimeout = svc.deadline
	}
	if svc.cacheTimeout <= 0 {
		svc.cacheTimeout = min(svc.deadline/4, maxCacheTimeout)
	}
	return svc
}

func platformKey(p Platform) string {
	return strings.ToLower(strings.TrimSpace(p.Name()))
}

// Platforms lists every registered platform with its effective pool.
func (s *Service) Platforms() []domain.PlatformInfo {
	items := make([]domain.PlatformInfo, 0, len(s.platforms))
	for _, platform := range s.platforms {
		items = append(items, s.platformInfo(platform))
	}
	return items
}

func (s *Service) platformInfo(platform Platform) domain.PlatformInfo {
	info := platform.Info()
	name := platformKey(platform)
	info.Name = name
	if info.Label == "" {
		info.Label = name
	}
	if override, ok := s.overrides[name]; ok && override.Pool != "" {
		info.Pool = override.Pool
	}
	if info.Pool == "" {
		info.Pool = domain.PoolSourceB
	}
	return info
}

func (s *Service) platformLimit(name string) int {
	if override, ok := s.overrides[name]; ok && override.Limit > 0 {
		return min(override.Limit, maxLimit)
	}
	return s.limit
}

// Wait blocks until in-flight platform calls and history writes finish or
// ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
