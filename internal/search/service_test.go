package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pricecompare/searchservice/internal/cache"
	"pricecompare/searchservice/internal/domain"
)

type fakePlatform struct {
	name  string
	kind  string
	pool  domain.Pool
	items []domain.ProductResult
	err   error
	delay time.Duration

	hits        atomic.Int32
	mu          sync.Mutex
	lastKeyword string
	keywords    []string
}

func (p *fakePlatform) Name() string { return p.name }

func (p *fakePlatform) Info() domain.PlatformInfo {
	kind := p.kind
	if kind == "" {
		kind = "api"
	}
	return domain.PlatformInfo{Name: p.name, Label: p.name, Kind: kind, Pool: p.pool, Enabled: true}
}

func (p *fakePlatform) Search(ctx context.Context, keyword string, limit int) ([]domain.ProductResult, error) {
	p.hits.Add(1)
	p.mu.Lock()
	p.lastKeyword = keyword
	p.mu.Unlock()
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	items := append([]domain.ProductResult(nil), p.items...)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (p *fakePlatform) keyword() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastKeyword
}

// fakeCatalog also implements KeywordSearcher.
type fakeCatalog struct {
	fakePlatform
}

func (c *fakeCatalog) SearchKeywords(ctx context.Context, keywords []string, limit int) ([]domain.ProductResult, error) {
	c.mu.Lock()
	c.keywords = append([]string(nil), keywords...)
	c.mu.Unlock()
	return c.Search(ctx, keywords[0], limit)
}

type stubExtractor struct {
	extraction domain.KeywordExtraction
}

func (e stubExtractor) Extract(_ context.Context, _ string) domain.KeywordExtraction {
	return e.extraction
}

type stubRecommender struct {
	text string
	err  error
}

func (r stubRecommender) Recommend(_ context.Context, _ string, _ []domain.ProductResult) (string, error) {
	return r.text, r.err
}

type fakeHistory struct {
	mu      sync.Mutex
	records []domain.SearchHistoryRecord
	err     error
}

func (h *fakeHistory) Append(_ context.Context, record domain.SearchHistoryRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.records = append(h.records, record)
	return nil
}

func (h *fakeHistory) all() []domain.SearchHistoryRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.SearchHistoryRecord(nil), h.records...)
}

func makeProducts(platform string, count int, basePrice int64) []domain.ProductResult {
	items := make([]domain.ProductResult, 0, count)
	for i := 0; i < count; i++ {
		items = append(items, domain.ProductResult{
			Platform:  platform,
			ProductID: fmt.Sprintf("%s-%d", platform, i),
			Name:      fmt.Sprintf("비타민C %d", i),
			Price:     basePrice + int64(i)*100,
		})
	}
	return items
}

func waitService(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.Wait(ctx); err != nil {
		t.Fatalf("wait for background work: %v", err)
	}
}

func TestSearchMixesCuratedAndSourceAWhenSourceBTimesOut(t *testing.T) {
	curated := &fakeCatalog{fakePlatform{name: "coupang", kind: kindCatalog, pool: domain.PoolCurated, items: makeProducts("coupang", 5, 15000)}}
	sourceA := &fakePlatform{name: "naver", pool: domain.PoolSourceA, items: makeProducts("naver", 8, 9000)}
	sourceB := &fakePlatform{name: "11st", pool: domain.PoolSourceB, items: makeProducts("11st", 4, 100), delay: time.Second}

	svc := NewService(
		[]Platform{curated, sourceA, sourceB},
		WithDeadline(100*time.Millisecond),
		WithRequestTimeout(300*time.Millisecond),
		WithMixer(NewMixer(DefaultMixRatios(), 42)),
	)

	startedAt := time.Now()
	result, err := svc.Search(context.Background(), "비타민C", "")
	elapsed := time.Since(startedAt)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if elapsed > time.Second {
		t.Fatalf("search took %s, expected to stop at the deadline", elapsed)
	}
	if len(result.Products) != 13 {
		t.Fatalf("expected 13 products, got %d", len(result.Products))
	}
	for _, product := range result.Products {
		if product.Platform == "11st" {
			t.Fatalf("timed out platform leaked into results: %#v", product)
		}
	}
	if result.Cheapest == nil || result.Cheapest.Price != 9000 || result.Cheapest.Platform != "naver" {
		t.Fatalf("unexpected cheapest: %#v", result.Cheapest)
	}
	if result.BestRated != nil {
		t.Fatalf("expected no best rated product, got %#v", result.BestRated)
	}

	var timedOut bool
	for _, status := range result.Platforms {
		if status.Name == "11st" {
			timedOut = status.TimedOut && !status.OK
		}
	}
	if !timedOut {
		t.Fatalf("expected 11st to be reported as timed out: %#v", result.Platforms)
	}
	waitService(t, svc)
}

func TestSearchAllPlatformsFailing(t *testing.T) {
	svc := NewService([]Platform{
		&fakePlatform{name: "naver", pool: domain.PoolSourceA, err: errors.New("boom")},
		&fakePlatform{name: "11st", pool: domain.PoolSourceB, err: errors.New("HTTP 500")},
	}, WithRecommender(stubRecommender{text: "unused"}))

	result, err := svc.Search(context.Background(), "노트북", "")
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if result.Products == nil || len(result.Products) != 0 {
		t.Fatalf("expected empty non-nil products, got %#v", result.Products)
	}
	if result.Cheapest != nil || result.BestRated != nil {
		t.Fatalf("expected nil summaries, got %#v %#v", result.Cheapest, result.BestRated)
	}
	if result.Recommendation != EmptyRecommendation("노트북") {
		t.Fatalf("unexpected recommendation: %q", result.Recommendation)
	}
	for _, status := range result.Platforms {
		if status.OK || status.Error == "" {
			t.Fatalf("expected failed status, got %#v", status)
		}
	}
}

func TestSearchServesSecondCallFromCache(t *testing.T) {
	platform := &fakePlatform{name: "naver", pool: domain.PoolSourceA, items: makeProducts("naver", 3, 1000)}
	resultCache := cache.New(cache.NewMemoryStore())
	svc := NewService([]Platform{platform}, WithCache(resultCache))

	if _, err := svc.Search(context.Background(), "비타민C", ""); err != nil {
		t.Fatalf("first search: %v", err)
	}
	waitService(t, svc)
	if err := resultCache.Wait(context.Background()); err != nil {
		t.Fatalf("cache wait: %v", err)
	}

	result, err := svc.Search(context.Background(), "  비타민c ", "")
	if err != nil {
		t.Fatalf("second search: %v", err)
	}
	if got := platform.hits.Load(); got != 1 {
		t.Fatalf("expected one live call, got %d", got)
	}
	if len(result.Products) != 3 {
		t.Fatalf("expected cached products, got %d", len(result.Products))
	}
	if len(result.Platforms) != 1 || !result.Platforms[0].Cached {
		t.Fatalf("expected cached status, got %#v", result.Platforms)
	}
}

func TestSearchLatePlatformStillFillsCache(t *testing.T) {
	platform := &fakePlatform{name: "naver", pool: domain.PoolSourceA, items: makeProducts("naver", 2, 1000), delay: 150 * time.Millisecond}
	resultCache := cache.New(cache.NewMemoryStore())
	svc := NewService([]Platform{platform}, WithCache(resultCache), WithDeadline(30*time.Millisecond))

	result, err := svc.Search(context.Background(), "양말", "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(result.Products) != 0 {
		t.Fatalf("expected late platform to be ignored, got %d products", len(result.Products))
	}
	waitService(t, svc)
	if err := resultCache.Wait(context.Background()); err != nil {
		t.Fatalf("cache wait: %v", err)
	}
	cached, ok := resultCache.Get(context.Background(), "naver", "양말", 10)
	if !ok || len(cached) != 2 {
		t.Fatalf("expected late results in cache, got %v %d", ok, len(cached))
	}
}

func TestSearchUsesRawQueryWhenExtractionIsEmpty(t *testing.T) {
	platform := &fakePlatform{name: "naver", pool: domain.PoolSourceA, items: makeProducts("naver", 1, 1000)}
	svc := NewService([]Platform{platform}, WithExtractor(stubExtractor{}))

	result, err := svc.Search(context.Background(), "가성비 좋은 무선 이어폰", "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(result.Keywords) != 1 || result.Keywords[0] != "가성비 좋은 무선 이어폰" {
		t.Fatalf("expected raw query as keyword, got %v", result.Keywords)
	}
	if platform.keyword() != "가성비 좋은 무선 이어폰" {
		t.Fatalf("platform searched %q", platform.keyword())
	}
}

func TestSearchSendsPrimaryTermAndAllKeywordsToCatalog(t *testing.T) {
	catalog := &fakeCatalog{fakePlatform{name: "coupang", kind: kindCatalog, pool: domain.PoolCurated, items: makeProducts("coupang", 1, 5000)}}
	live := &fakePlatform{name: "naver", pool: domain.PoolSourceA, items: makeProducts("naver", 1, 1000)}
	extractor := stubExtractor{extraction: domain.KeywordExtraction{Keywords: []string{"비타민C", "영양제"}, Category: "건강식품"}}
	svc := NewService([]Platform{catalog, live}, WithExtractor(extractor))

	result, err := svc.Search(context.Background(), "피로회복에 좋은 비타민", "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if live.keyword() != "비타민C" {
		t.Fatalf("live platform searched %q", live.keyword())
	}
	catalog.mu.Lock()
	keywords := catalog.keywords
	catalog.mu.Unlock()
	if len(keywords) != 2 || keywords[1] != "영양제" {
		t.Fatalf("catalog received %v", keywords)
	}
	if result.Category != "건강식품" {
		t.Fatalf("unexpected category %q", result.Category)
	}
}

func TestSearchRecommendation(t *testing.T) {
	platform := &fakePlatform{name: "naver", pool: domain.PoolSourceA, items: makeProducts("naver", 3, 1000)}

	svc := NewService([]Platform{platform}, WithRecommender(stubRecommender{err: errors.New("quota exceeded")}))
	result, err := svc.Search(context.Background(), "텀블러", "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.Recommendation != "Found 3 products for '텀블러'. Compare prices and choose the best option." {
		t.Fatalf("unexpected fallback: %q", result.Recommendation)
	}

	svc = NewService([]Platform{platform}, WithRecommender(stubRecommender{text: " 첫 번째 상품이 가장 저렴합니다. "}))
	result, err = svc.Search(context.Background(), "텀블러", "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.Recommendation != "첫 번째 상품이 가장 저렴합니다." {
		t.Fatalf("unexpected recommendation: %q", result.Recommendation)
	}
}

func TestSearchPersistsHistoryOnlyForIdentifiedCallers(t *testing.T) {
	platform := &fakePlatform{name: "naver", pool: domain.PoolSourceA, items: makeProducts("naver", 1, 1000)}
	history := &fakeHistory{}
	svc := NewService([]Platform{platform}, WithHistory(history))

	if _, err := svc.Search(context.Background(), "anonymous", ""); err != nil {
		t.Fatalf("search: %v", err)
	}
	if _, err := svc.Search(context.Background(), "비타민C", "user-7"); err != nil {
		t.Fatalf("search: %v", err)
	}
	waitService(t, svc)

	records := history.all()
	if len(records) != 1 {
		t.Fatalf("expected one history row, got %d", len(records))
	}
	record := records[0]
	if record.UserID != "user-7" || record.Query != "비타민C" || record.ID == "" {
		t.Fatalf("unexpected record: %#v", record)
	}
	if record.Category != "naver" {
		t.Fatalf("expected category to fall back to first platform, got %q", record.Category)
	}
}

func TestSearchHistoryFailureDoesNotFailSearch(t *testing.T) {
	platform := &fakePlatform{name: "naver", pool: domain.PoolSourceA, items: makeProducts("naver", 1, 1000)}
	svc := NewService([]Platform{platform}, WithHistory(&fakeHistory{err: errors.New("disk full")}))

	result, err := svc.Search(context.Background(), "비타민C", "user-1")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(result.Products) != 1 {
		t.Fatalf("expected products despite history failure, got %d", len(result.Products))
	}
	waitService(t, svc)
}

func TestSearchAppliesPriceRange(t *testing.T) {
	platform := &fakePlatform{name: "naver", pool: domain.PoolSourceA, items: makeProducts("naver", 10, 1000)}
	extractor := stubExtractor{extraction: domain.KeywordExtraction{
		Keywords: []string{"양말"},
		PriceMin: domain.Int64Ptr(1200),
		PriceMax: domain.Int64Ptr(1500),
	}}
	svc := NewService([]Platform{platform}, WithExtractor(extractor))

	result, err := svc.Search(context.Background(), "양말 1500원 이하", "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(result.Products) != 4 {
		t.Fatalf("expected 4 products in range, got %d", len(result.Products))
	}
	for _, product := range result.Products {
		if product.Price < 1200 || product.Price > 1500 {
			t.Fatalf("product outside range: %#v", product)
		}
	}

	extractor.extraction.PriceMax = domain.Int64Ptr(10)
	extractor.extraction.PriceMin = nil
	svc = NewService([]Platform{platform}, WithExtractor(extractor))
	result, err = svc.Search(context.Background(), "양말", "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(result.Products) != 10 {
		t.Fatalf("expected range to be ignored when it drops everything, got %d", len(result.Products))
	}
}

func TestSearchSkipsDisabledAndBlockedPlatforms(t *testing.T) {
	failing := &fakePlatform{name: "danawa", pool: domain.PoolSourceB, err: errors.New("danawa HTTP 503")}
	svc := NewService([]Platform{failing})

	for i := 0; i < platformFailureThreshold; i++ {
		if _, err := svc.Search(context.Background(), fmt.Sprintf("q%d", i), ""); err != nil {
			t.Fatalf("search: %v", err)
		}
	}
	if got := failing.hits.Load(); got != platformFailureThreshold {
		t.Fatalf("expected %d calls before blocking, got %d", platformFailureThreshold, got)
	}

	result, err := svc.Search(context.Background(), "q-blocked", "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if got := failing.hits.Load(); got != platformFailureThreshold {
		t.Fatalf("blocked platform was called again: %d", got)
	}
	if len(result.Platforms) != 1 || result.Platforms[0].OK {
		t.Fatalf("expected blocked status, got %#v", result.Platforms)
	}

	diagnostics := svc.PlatformDiagnostics()
	if len(diagnostics) != 1 || diagnostics[0].BlockedUntil == nil || diagnostics[0].ConsecutiveFailures != platformFailureThreshold {
		t.Fatalf("unexpected diagnostics: %#v", diagnostics)
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	svc := NewService(nil)
	if _, err := svc.Search(context.Background(), "   ", ""); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestSearchReturnsErrorWhenCallerGoesAway(t *testing.T) {
	platform := &fakePlatform{name: "naver", pool: domain.PoolSourceA, items: makeProducts("naver", 1, 1000), delay: 200 * time.Millisecond}
	svc := NewService([]Platform{platform})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := svc.Search(ctx, "비타민C", ""); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	waitService(t, svc)
}

func TestPlatformsAppliesPoolOverride(t *testing.T) {
	svc := NewService(
		[]Platform{&fakePlatform{name: "Danawa", pool: domain.PoolSourceB}},
		WithPlatformOptions("danawa", PlatformOptions{Pool: domain.PoolSourceA}),
	)
	infos := svc.Platforms()
	if len(infos) != 1 || infos[0].Name != "danawa" || infos[0].Pool != domain.PoolSourceA {
		t.Fatalf("unexpected platforms: %#v", infos)
	}
}

// stalledStore blocks every read until the caller gives up.
type stalledStore struct {
	finds atomic.Int32
}

func (s *stalledStore) Find(ctx context.Context, _, _ string, _ time.Time, _ int) ([]domain.CachedEntry, error) {
	s.finds.Add(1)
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *stalledStore) Upsert(_ context.Context, _ string, _ []domain.CachedEntry) error {
	return nil
}

func TestSearchStalledCacheFallsBackToLivePlatforms(t *testing.T) {
	store := &stalledStore{}
	platform := &fakePlatform{name: "naver", pool: domain.PoolSourceA, items: makeProducts("naver", 4, 1000)}
	svc := NewService(
		[]Platform{platform},
		WithCache(cache.New(store)),
		WithDeadline(200*time.Millisecond),
	)

	startedAt := time.Now()
	result, err := svc.Search(context.Background(), "비타민C", "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if elapsed := time.Since(startedAt); elapsed > time.Second {
		t.Fatalf("search took %s with a stalled cache", elapsed)
	}
	if store.finds.Load() != 1 {
		t.Fatalf("expected one cache read, got %d", store.finds.Load())
	}
	if got := platform.hits.Load(); got != 1 {
		t.Fatalf("expected one live call, got %d", got)
	}
	if len(result.Products) != 4 {
		t.Fatalf("expected 4 live products, got %d", len(result.Products))
	}
	if len(result.Platforms) != 1 || !result.Platforms[0].OK || result.Platforms[0].TimedOut || result.Platforms[0].Cached {
		t.Fatalf("unexpected statuses: %#v", result.Platforms)
	}
	waitService(t, svc)
}

func TestSearchCacheTimeoutIsConfigurable(t *testing.T) {
	svc := NewService(nil, WithDeadline(8*time.Second))
	if svc.cacheTimeout != time.Second {
		t.Fatalf("expected cache timeout capped at 1s, got %s", svc.cacheTimeout)
	}
	svc = NewService(nil, WithDeadline(200*time.Millisecond))
	if svc.cacheTimeout != 50*time.Millisecond {
		t.Fatalf("expected a quarter of the deadline, got %s", svc.cacheTimeout)
	}
	svc = NewService(nil, WithCacheTimeout(300*time.Millisecond))
	if svc.cacheTimeout != 300*time.Millisecond {
		t.Fatalf("expected explicit cache timeout, got %s", svc.cacheTimeout)
	}
}

type panickingPlatform struct {
	fakePlatform
}

func (p *panickingPlatform) Search(_ context.Context, _ string, _ int) ([]domain.ProductResult, error) {
	p.hits.Add(1)
	var product *domain.ProductResult
	return []domain.ProductResult{*product}, nil
}

func TestSearchPanickingPlatformOnlyLosesItsOwnResults(t *testing.T) {
	broken := &panickingPlatform{fakePlatform{name: "danawa", pool: domain.PoolSourceB}}
	healthy := &fakePlatform{name: "naver", pool: domain.PoolSourceA, items: makeProducts("naver", 3, 1000)}
	svc := NewService([]Platform{broken, healthy})

	for round := 0; round < platformFailureThreshold; round++ {
		result, err := svc.Search(context.Background(), "비타민C", "")
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(result.Products) != 3 {
			t.Fatalf("expected healthy platform results, got %d", len(result.Products))
		}
		for _, status := range result.Platforms {
			if status.Name == "danawa" && (status.OK || !strings.Contains(status.Error, ErrPlatformPanic.Error())) {
				t.Fatalf("expected panic reported as failure, got %#v", status)
			}
		}
	}

	if _, err := svc.Search(context.Background(), "비타민C", ""); err != nil {
		t.Fatalf("search: %v", err)
	}
	if got := broken.hits.Load(); got != int32(platformFailureThreshold) {
		t.Fatalf("expected breaker to skip the panicking platform, got %d calls", got)
	}
	waitService(t, svc)
}

// slowRecommender waits for its context to end.
type slowRecommender struct{}

func (slowRecommender) Recommend(ctx context.Context, _ string, _ []domain.ProductResult) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestSearchRecommendationIsBounded(t *testing.T) {
	platform := &fakePlatform{name: "naver", pool: domain.PoolSourceA, items: makeProducts("naver", 2, 1000)}
	svc := NewService([]Platform{platform},
		WithRecommender(slowRecommender{}),
		WithRecommendationTimeout(50*time.Millisecond),
	)

	startedAt := time.Now()
	result, err := svc.Search(context.Background(), "텀블러", "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if elapsed := time.Since(startedAt); elapsed > time.Second {
		t.Fatalf("recommendation was not bounded: %s", elapsed)
	}
	if result.Recommendation != FallbackRecommendation(2, "텀블러") {
		t.Fatalf("unexpected recommendation: %q", result.Recommendation)
	}
}
