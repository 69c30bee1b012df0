package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"pricecompare/searchservice/internal/cache"
	"pricecompare/searchservice/internal/domain"
	"pricecompare/searchservice/internal/metrics"
	"pricecompare/searchservice/internal/telemetry"
)

// maxConcurrentPlatforms limits the number of platform calls that can run simultaneously.
const maxConcurrentPlatforms = 10

const (
	kindCatalog          = "catalog"
	historyWriteTimeout  = 5 * time.Second
	recommendationTopN   = 5
	deadlineExceededText = "search deadline exceeded"
)

// State is a step of one search.
type State string

const (
	StateExtractingKeywords       State = "extracting_keywords"
	StateCheckingCache            State = "checking_cache"
	StateFetchingLive             State = "fetching_live"
	StateMixing                   State = "mixing"
	StateAggregating              State = "aggregating"
	StateGeneratingRecommendation State = "generating_recommendation"
	StatePersistingHistory        State = "persisting_history"
	StateDone                     State = "done"
)

// ErrPlatformPanic marks a platform call that panicked.
var ErrPlatformPanic = errors.New("platform search panicked")

type platformOutcome struct {
	name     string
	pool     domain.Pool
	products []domain.ProductResult
	cached   bool
	err      error
}

func FallbackRecommendation(count int, query string) string {
	return fmt.Sprintf("Found %d products for '%s'. Compare prices and choose the best option.", count, query)
}

func EmptyRecommendation(query string) string {
	return fmt.Sprintf("Sorry, no products were found for '%s'. Please try a different search term.", query)
}

// Search runs one comparison. Platform, cache, AI and history failures are
// absorbed; the result may be empty. An error is returned only for an empty
// query or when ctx ends before the search completes.
func (s *Service) Search(ctx context.Context, query, callerID string) (domain.CompareResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.CompareResult{}, ErrInvalidQuery
	}

	ctx, span := telemetry.Tracer("search").Start(ctx, "search.compare",
		trace.WithAttributes(attribute.String("search.query", query)))
	defer span.End()

	startedAt := time.Now()
	logger := s.logger.With(slog.String("query", query))

	s.enter(ctx, logger, StateExtractingKeywords)
	extraction := s.extractKeywords(ctx, query)
	term := extraction.PrimaryTerm(query)
	span.SetAttributes(attribute.String("search.term", term))

	active := s.activePlatforms()

	s.enter(ctx, logger, StateCheckingCache)
	cacheCtx, cancelCache := context.WithTimeout(ctx, s.cacheTimeout)
	hits, misses := s.checkCache(cacheCtx, active, term, logger)
	cancelCache()

	// The platform deadline starts once the cache phase is over.
	waitCtx, cancelWait := context.WithTimeout(ctx, s.deadline)
	defer cancelWait()

	s.enter(ctx, logger, StateFetchingLive)
	live := s.fetchLive(waitCtx, ctx, misses, extraction, term, logger)

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		return domain.CompareResult{}, fmt.Errorf("search %q: %w", query, err)
	}

	pools := make(map[domain.Pool][]domain.ProductResult, 3)
	statuses := make([]domain.PlatformStatus, 0, len(active))
	for _, platform := range active {
		name := platformKey(platform)
		outcome, cached := hits[name]
		if !cached {
			var done bool
			outcome, done = live[name]
			if !done {
				statuses = append(statuses, domain.PlatformStatus{Name: name, TimedOut: true, Error: deadlineExceededText})
				continue
			}
		}
		status := domain.PlatformStatus{Name: name, OK: outcome.err == nil, Count: len(outcome.products), Cached: outcome.cached}
		if outcome.err != nil {
			status.Error = outcome.err.Error()
			status.TimedOut = isTimeoutLikeError(outcome.err)
		}
		statuses = append(statuses, status)
		pools[outcome.pool] = append(pools[outcome.pool], outcome.products...)
	}

	s.enter(ctx, logger, StateMixing)
	pools = filterPriceRange(pools, extraction)
	products := s.mixer.Mix(pools[domain.PoolCurated], pools[domain.PoolSourceA], pools[domain.PoolSourceB])

	s.enter(ctx, logger, StateAggregating)
	cheapest, bestRated := Aggregate(products)

	s.enter(ctx, logger, StateGeneratingRecommendation)
	recommendation := s.recommend(ctx, logger, query, products)

	s.enter(ctx, logger, StatePersistingHistory)
	s.persistHistory(ctx, logger, callerID, query, extraction, products)

	s.enter(ctx, logger, StateDone)
	span.SetAttributes(attribute.Int("search.products", len(products)))

	return domain.CompareResult{
		Query:          query,
		Keywords:       extraction.Keywords,
		Category:       extraction.Category,
		Products:       products,
		Recommendation: recommendation,
		Cheapest:       cheapest,
		BestRated:      bestRated,
		Platforms:      statuses,
		ElapsedMS:      time.Since(startedAt).Milliseconds(),
	}, nil
}

func (s *Service) enter(ctx context.Context, logger *slog.Logger, state State) {
	trace.SpanFromContext(ctx).AddEvent(string(state))
	logger.Debug("search state", slog.String("state", string(state)))
}

func (s *Service) extractKeywords(ctx context.Context, query string) domain.KeywordExtraction {
	if s.extractor == nil {
		return domain.FallbackExtraction(query)
	}
	extraction := s.extractor.Extract(ctx, query)
	if len(extraction.Keywords) == 0 {
		extraction.Keywords = []string{query}
	}
	return extraction
}

func (s *Service) activePlatforms() []Platform {
	active := make([]Platform, 0, len(s.platforms))
	for _, platform := range s.platforms {
		if s.platformInfo(platform).Enabled {
			active = append(active, platform)
		}
	}
	return active
}

func (s *Service) cacheable(platform Platform) bool {
	return s.cache != nil && s.platformInfo(platform).Kind != kindCatalog
}

// checkCache looks every cacheable platform up concurrently. Platforms without
// a fresh entry, or whose lookup is still running when ctx ends, come back as
// misses.
func (s *Service) checkCache(
	ctx context.Context,
	platforms []Platform,
	term string,
	logger *slog.Logger,
) (map[string]platformOutcome, []Platform) {
	hits := make(map[string]platformOutcome, len(platforms))
	misses := make([]Platform, 0, len(platforms))

	pending := make(map[string]bool, len(platforms))
	lookups := make(chan platformOutcome, len(platforms))
	for _, platform := range platforms {
		if !s.cacheable(platform) {
			continue
		}
		name := platformKey(platform)
		pending[name] = true
		go func(current Platform) {
			products, ok := s.cache.Get(ctx, name, term, s.platformLimit(name))
			lookups <- platformOutcome{
				name:     name,
				pool:     s.platformInfo(current).Pool,
				products: products,
				cached:   ok,
			}
		}(platform)
	}

wait:
	for len(pending) > 0 {
		select {
		case outcome := <-lookups:
			delete(pending, outcome.name)
			if outcome.cached {
				hits[outcome.name] = outcome
			}
		case <-ctx.Done():
			logger.Warn("cache lookup timed out, fetching live",
				slog.Int("pending", len(pending)),
			)
			break wait
		}
	}

	for _, platform := range platforms {
		if _, ok := hits[platformKey(platform)]; !ok {
			misses = append(misses, platform)
		}
	}
	return hits, misses
}

// fetchLive calls every platform concurrently and collects what arrives
// before waitCtx ends. Calls run on a context detached from the caller so a
// late platform can still finish and fill the cache.
func (s *Service) fetchLive(
	waitCtx context.Context,
	parent context.Context,
	platforms []Platform,
	extraction domain.KeywordExtraction,
	term string,
	logger *slog.Logger,
) map[string]platformOutcome {
	collected := make(map[string]platformOutcome, len(platforms))
	if len(platforms) == 0 {
		return collected
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.requestTimeout)
	results := make(chan platformOutcome, len(platforms))
	sem := semaphore.NewWeighted(maxConcurrentPlatforms)

	var wg sync.WaitGroup
	for _, platform := range platforms {
		wg.Add(1)
		s.pending.Add(1)
		go func(current Platform) {
			defer wg.Done()
			defer s.pending.Done()

			if err := sem.Acquire(callCtx, 1); err != nil {
				results <- platformOutcome{name: platformKey(current), pool: s.platformInfo(current).Pool, err: err}
				return
			}
			defer sem.Release(1)
			results <- s.fetchPlatform(callCtx, current, extraction, term, logger)
		}(platform)
	}
	go func() {
		wg.Wait()
		cancel()
		close(results)
	}()

collect:
	for len(collected) < len(platforms) {
		select {
		case outcome, ok := <-results:
			if !ok {
				break collect
			}
			collected[outcome.name] = outcome
		case <-waitCtx.Done():
			break collect
		}
	}

	if len(collected) < len(platforms) {
		go func() {
			for outcome := range results {
				metrics.PlatformLateResultsTotal.WithLabelValues(outcome.name).Inc()
				logger.Debug("late platform result ignored",
					slog.String("platform", outcome.name),
					slog.Int("count", len(outcome.products)),
				)
			}
		}()
	}
	return collected
}

func (s *Service) fetchPlatform(
	ctx context.Context,
	platform Platform,
	extraction domain.KeywordExtraction,
	term string,
	logger *slog.Logger,
) platformOutcome {
	name := platformKey(platform)
	outcome := platformOutcome{name: name, pool: s.platformInfo(platform).Pool}

	if err := s.health.allow(name, s.now()); err != nil {
		outcome.err = err
		return outcome
	}

	keywords := extraction.Keywords
	if len(keywords) == 0 {
		keywords = []string{term}
	}
	flightKey := name + "\x00" + cache.NormalizeTerm(term)
	if _, ok := platform.(KeywordSearcher); ok {
		flightKey = name + "\x00" + cache.NormalizeTerm(strings.Join(keywords, "\x1f"))
	}

	value, err, _ := s.flight.Do(flightKey, func() (any, error) {
		if err := s.waitProviderRateLimit(ctx, name); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
		limit := s.platformLimit(name)
		startedAt := time.Now()
		products, err := callPlatform(ctx, platform, keywords, term, limit, logger)
		s.health.record(name, term, err, time.Since(startedAt), s.now())
		if err != nil {
			return nil, err
		}
		products = normalizeProducts(name, products, limit)
		if s.cacheable(platform) {
			s.cache.Put(name, products, term)
		}
		return products, nil
	})
	if err != nil {
		logger.Warn("platform search failed",
			slog.String("platform", name),
			slog.String("error", err.Error()),
		)
		outcome.err = err
		return outcome
	}
	outcome.products = append([]domain.ProductResult(nil), value.([]domain.ProductResult)...)
	return outcome
}

// callPlatform runs one platform search, turning a panic into an error so a
// broken client only loses its own results.
func callPlatform(
	ctx context.Context,
	platform Platform,
	keywords []string,
	term string,
	limit int,
	logger *slog.Logger,
) (products []domain.ProductResult, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("platform search panicked",
				slog.String("platform", platformKey(platform)),
				slog.Any("panic", recovered),
				slog.String("stack", string(debug.Stack())),
			)
			products = nil
			err = fmt.Errorf("%w: %v", ErrPlatformPanic, recovered)
		}
	}()
	if searcher, ok := platform.(KeywordSearcher); ok {
		return searcher.SearchKeywords(ctx, keywords, limit)
	}
	return platform.Search(ctx, term, limit)
}

func normalizeProducts(platform string, products []domain.ProductResult, limit int) []domain.ProductResult {
	out := make([]domain.ProductResult, 0, len(products))
	for _, product := range products {
		if product.Platform == "" {
			product.Platform = platform
		}
		out = append(out, domain.NormalizeProduct(product))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (s *Service) recommend(ctx context.Context, logger *slog.Logger, query string, products []domain.ProductResult) string {
	if len(products) == 0 {
		return EmptyRecommendation(query)
	}
	fallback := FallbackRecommendation(len(products), query)
	if s.recommender == nil {
		return fallback
	}
	top := products
	if len(top) > recommendationTopN {
		top = top[:recommendationTopN]
	}
	recommendCtx, cancel := context.WithTimeout(ctx, s.recommendTime)
	defer cancel()
	text, err := s.recommender.Recommend(recommendCtx, query, top)
	if err != nil {
		logger.Warn("recommendation failed", slog.String("error", err.Error()))
		return fallback
	}
	if text = strings.TrimSpace(text); text == "" {
		return fallback
	}
	return text
}

// persistHistory appends a history row in the background for identified callers.
func (s *Service) persistHistory(
	ctx context.Context,
	logger *slog.Logger,
	callerID, query string,
	extraction domain.KeywordExtraction,
	products []domain.ProductResult,
) {
	callerID = strings.TrimSpace(callerID)
	if s.history == nil || callerID == "" {
		return
	}
	category := extraction.Category
	if category == "" && len(products) > 0 {
		category = products[0].Platform
	}
	record := domain.SearchHistoryRecord{
		ID:        uuid.NewString(),
		UserID:    callerID,
		Query:     query,
		Keywords:  append([]string(nil), extraction.Keywords...),
		Category:  category,
		CreatedAt: s.now().UTC(),
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteTimeout)
		defer cancel()
		if err := s.history.Append(writeCtx, record); err != nil {
			metrics.HistoryWriteFailuresTotal.Inc()
			logger.Warn("search history write failed", slog.String("error", err.Error()))
		}
	}()
}
