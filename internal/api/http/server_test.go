package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"pricecompare/searchservice/internal/domain"
	"pricecompare/searchservice/internal/search"
)

type fakeSearchService struct {
	mu           sync.Mutex
	lastQuery    string
	lastCallerID string
	callCount    int
	err          error
	products     []domain.ProductResult
	panicOnList  bool
}

func (f *fakeSearchService) Search(ctx context.Context, query, callerID string) (domain.CompareResult, error) {
	f.mu.Lock()
	f.callCount++
	f.lastQuery = query
	f.lastCallerID = callerID
	f.mu.Unlock()
	if f.err != nil {
		return domain.CompareResult{}, f.err
	}
	products := f.products
	if products == nil {
		products = []domain.ProductResult{
			{Platform: "naver", ProductID: "n-1", Name: query + " 1", Price: 9900},
			{Platform: "11st", ProductID: "e-1", Name: query + " 2", Price: 12000},
		}
	}
	return domain.CompareResult{
		Query:          query,
		Keywords:       []string{query},
		Products:       products,
		Recommendation: "추천",
		Platforms: []domain.PlatformStatus{
			{Name: "naver", OK: true, Count: 1},
			{Name: "11st", OK: false, TimedOut: true, Error: "context deadline exceeded"},
		},
		ElapsedMS: 12,
	}, nil
}

func (f *fakeSearchService) Platforms() []domain.PlatformInfo {
	if f.panicOnList {
		panic("boom")
	}
	return []domain.PlatformInfo{
		{Name: "coupang", Label: "Coupang", Kind: "catalog", Pool: domain.PoolCurated, Enabled: true},
		{Name: "naver", Label: "Naver Shopping", Kind: "api", Pool: domain.PoolSourceA, Enabled: true},
	}
}

func (f *fakeSearchService) PlatformDiagnostics() []domain.PlatformDiagnostics {
	return []domain.PlatformDiagnostics{
		{Name: "naver", Label: "Naver Shopping", Kind: "api", Pool: domain.PoolSourceA, Enabled: true, ConsecutiveFailures: 2, LastError: "HTTP 503"},
	}
}

type fakeSuggest struct {
	lastQuery  string
	lastUserID string
	lastLimit  int
	err        error
}

func (f *fakeSuggest) Suggest(_ context.Context, query, userID string, limit int) ([]string, error) {
	f.lastQuery, f.lastUserID, f.lastLimit = query, userID, limit
	if f.err != nil {
		return nil, f.err
	}
	return []string{query + " 추천", query + " 1000mg"}, nil
}

type fakeWishlist struct {
	calls int
	ids   []string
	err   error
}

func (f *fakeWishlist) WishlistedIDs(_ context.Context, _ string, productIDs []string) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]string, 0, len(f.ids))
	for _, id := range f.ids {
		for _, candidate := range productIDs {
			if id == candidate {
				out = append(out, id)
			}
		}
	}
	return out, nil
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return payload
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	payload := decodeBody(t, rec)
	errObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error object, got %v", payload)
	}
	code, _ := errObj["code"].(string)
	return code
}

func serve(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	handler := NewServer(&fakeSearchService{}).Handler()
	rec := serve(handler, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if decodeBody(t, rec)["status"] != "ok" {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestSearchValidation(t *testing.T) {
	svc := &fakeSearchService{}
	handler := NewServer(svc).Handler()

	cases := map[string]string{
		"missing":  "/search",
		"blank":    "/search?q=%20%20",
		"too long": "/search?q=" + url.QueryEscape(strings.Repeat("가", maxQueryLength+1)),
	}
	for name, target := range cases {
		rec := serve(handler, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, rec.Code)
		}
		if code := errorCode(t, rec); code != "invalid_request" {
			t.Fatalf("%s: unexpected error code %q", name, code)
		}
	}
	if svc.callCount != 0 {
		t.Fatalf("search should not be called for invalid input, got %d calls", svc.callCount)
	}

	// Exactly at the limit counts runes, not bytes.
	rec := serve(handler, httptest.NewRequest(http.MethodGet, "/search?q="+url.QueryEscape(strings.Repeat("가", maxQueryLength)), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for a %d-rune query, got %d", maxQueryLength, rec.Code)
	}
}

func TestSearchReturnsCompareResult(t *testing.T) {
	svc := &fakeSearchService{}
	wishlist := &fakeWishlist{ids: []string{"e-1", "other"}}
	handler := NewServer(svc, WithWishlist(wishlist)).Handler()

	req := httptest.NewRequest(http.MethodGet, "/search?q="+url.QueryEscape(" 비타민C "), nil)
	req.Header.Set(userIDHeader, "user-1")
	rec := serve(handler, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.lastQuery != "비타민C" || svc.lastCallerID != "user-1" {
		t.Fatalf("unexpected call: query=%q caller=%q", svc.lastQuery, svc.lastCallerID)
	}

	var body searchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Query != "비타민C" || len(body.Products) != 2 || body.Recommendation != "추천" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if len(body.WishlistedIDs) != 1 || body.WishlistedIDs[0] != "e-1" {
		t.Fatalf("unexpected wishlisted ids: %v", body.WishlistedIDs)
	}
	if len(body.Platforms) != 2 || !body.Platforms[1].TimedOut {
		t.Fatalf("expected platform statuses, got %+v", body.Platforms)
	}
}

func TestSearchAnonymousSkipsWishlist(t *testing.T) {
	wishlist := &fakeWishlist{ids: []string{"n-1"}}
	handler := NewServer(&fakeSearchService{}, WithWishlist(wishlist)).Handler()

	rec := serve(handler, httptest.NewRequest(http.MethodGet, "/search?q=abc", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if wishlist.calls != 0 {
		t.Fatalf("wishlist should not be consulted for anonymous callers")
	}
	if _, ok := decodeBody(t, rec)["wishlistedIds"]; ok {
		t.Fatalf("anonymous response should omit wishlistedIds: %s", rec.Body.String())
	}
}

func TestSearchWishlistFailureIsIgnored(t *testing.T) {
	wishlist := &fakeWishlist{err: errors.New("db down")}
	handler := NewServer(&fakeSearchService{}, WithWishlist(wishlist)).Handler()

	req := httptest.NewRequest(http.MethodGet, "/search?q=abc", nil)
	req.Header.Set(userIDHeader, "user-1")
	rec := serve(handler, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 despite wishlist failure, got %d", rec.Code)
	}
	if wishlist.calls != 1 {
		t.Fatalf("expected one wishlist call, got %d", wishlist.calls)
	}
}

func TestSearchErrors(t *testing.T) {
	invalid := NewServer(&fakeSearchService{err: fmt.Errorf("wrap: %w", search.ErrInvalidQuery)}).Handler()
	rec := serve(invalid, httptest.NewRequest(http.MethodGet, "/search?q=x", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	failing := NewServer(&fakeSearchService{err: context.DeadlineExceeded}).Handler()
	rec = serve(failing, httptest.NewRequest(http.MethodGet, "/search?q=x", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	errObj := decodeBody(t, rec)["error"].(map[string]any)
	if errObj["code"] != "search_failed" || errObj["message"] != searchFailedMessage {
		t.Fatalf("unexpected error payload: %v", errObj)
	}
}

func TestProviders(t *testing.T) {
	handler := NewServer(&fakeSearchService{}).Handler()

	rec := serve(handler, httptest.NewRequest(http.MethodGet, "/search/providers", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var providers struct {
		Items []domain.PlatformInfo `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &providers); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(providers.Items) != 2 || providers.Items[0].Pool != domain.PoolCurated {
		t.Fatalf("unexpected providers: %+v", providers.Items)
	}

	rec = serve(handler, httptest.NewRequest(http.MethodGet, "/search/providers/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var health struct {
		CheckedAt time.Time                    `json:"checkedAt"`
		Items     []domain.PlatformDiagnostics `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.CheckedAt.IsZero() || len(health.Items) != 1 || health.Items[0].ConsecutiveFailures != 2 {
		t.Fatalf("unexpected health payload: %s", rec.Body.String())
	}
}

func TestSuggest(t *testing.T) {
	suggest := &fakeSuggest{}
	handler := NewServer(&fakeSearchService{}, WithSuggest(suggest)).Handler()

	req := httptest.NewRequest(http.MethodGet, "/search/suggest?q="+url.QueryEscape("비타민")+"&limit=100", nil)
	req.Header.Set(userIDHeader, "user-7")
	rec := serve(handler, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if suggest.lastQuery != "비타민" || suggest.lastUserID != "user-7" || suggest.lastLimit != maxSuggestLimit {
		t.Fatalf("unexpected suggest call: %+v", suggest)
	}
	items := decodeBody(t, rec)["items"].([]any)
	if len(items) != 2 || items[0] != "비타민 추천" {
		t.Fatalf("unexpected items: %v", items)
	}

	rec = serve(handler, httptest.NewRequest(http.MethodGet, "/search/suggest?q=a&limit=zero", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}

	rec = serve(handler, httptest.NewRequest(http.MethodGet, "/search/suggest", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for empty query, got %d", rec.Code)
	}
	if items := decodeBody(t, rec)["items"].([]any); len(items) != 0 {
		t.Fatalf("expected no suggestions, got %v", items)
	}

	failing := NewServer(&fakeSearchService{}, WithSuggest(&fakeSuggest{err: errors.New("db down")})).Handler()
	rec = serve(failing, httptest.NewRequest(http.MethodGet, "/search/suggest?q=a", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	handler := NewServer(&fakeSearchService{}, WithRateLimit(0.001, 1)).Handler()

	if rec := serve(handler, httptest.NewRequest(http.MethodGet, "/search/providers", nil)); rec.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rec.Code)
	}
	rec := serve(handler, httptest.NewRequest(http.MethodGet, "/search/providers", nil))
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 429 with Retry-After, got %d", rec.Code)
	}
	if rec := serve(handler, httptest.NewRequest(http.MethodGet, "/health", nil)); rec.Code != http.StatusOK {
		t.Fatalf("health must bypass the limiter, got %d", rec.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := NewServer(&fakeSearchService{panicOnList: true}).Handler()
	rec := serve(handler, httptest.NewRequest(http.MethodGet, "/search/providers", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "internal_error" {
		t.Fatalf("unexpected code %q", code)
	}
}

func TestCORS(t *testing.T) {
	handler := NewServer(&fakeSearchService{}, WithCORSOrigins([]string{"https://shop.example"})).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/search?q=a", nil)
	req.Header.Set("Origin", "https://shop.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", userIDHeader)
	rec := serve(handler, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://shop.example" {
		t.Fatalf("expected allowed origin, got %q (status %d)", got, rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = serve(handler, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow-origin for foreign origin: %q", got)
	}
}

func TestUnknownRoute(t *testing.T) {
	handler := NewServer(&fakeSearchService{}).Handler()
	if rec := serve(handler, httptest.NewRequest(http.MethodGet, "/search/settings", nil)); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := serve(handler, httptest.NewRequest(http.MethodPost, "/search?q=a", nil)); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestImageProxy(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/thumb.png":
			if !strings.HasPrefix(r.Header.Get("Accept"), "image/") {
				t.Errorf("missing image accept header")
			}
			_, _ = w.Write(png)
		case "/page.html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer upstream.Close()

	handler := NewServer(&fakeSearchService{}, WithImageClient(upstream.Client())).Handler()
	proxy := func(target string) *httptest.ResponseRecorder {
		return serve(handler, httptest.NewRequest(http.MethodGet, "/search/image?url="+url.QueryEscape(target), nil))
	}

	rec := proxy(upstream.URL + "/thumb.png")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "image/png" || rec.Body.Len() != len(png) {
		t.Fatalf("unexpected proxied image: %q %d bytes", rec.Header().Get("Content-Type"), rec.Body.Len())
	}

	if rec := proxy(upstream.URL + "/page.html"); rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for non-image, got %d", rec.Code)
	}
	if rec := proxy(upstream.URL + "/missing.png"); rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for upstream 404, got %d", rec.Code)
	}
	for _, target := range []string{"", "ftp://example.com/a.png", "file:///etc/passwd", "http://user:pw@example.com/a.png"} {
		if rec := proxy(target); rec.Code != http.StatusBadRequest {
			t.Fatalf("%q: expected 400, got %d", target, rec.Code)
		}
	}
}

func TestImageProxyGuardedClientBlocksLoopback(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("guarded client reached loopback server")
	}))
	defer upstream.Close()

	handler := NewServer(&fakeSearchService{}).Handler()
	rec := serve(handler, httptest.NewRequest(http.MethodGet, "/search/image?url="+url.QueryEscape(upstream.URL+"/a.png"), nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestRequestLogCarriesRouteAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	handler := NewServer(&fakeSearchService{}, WithLogger(logger)).Handler()

	req := httptest.NewRequest(http.MethodGet, "/search/providers", nil)
	req.Header.Set(requestIDHeader, "req-42")
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	rec := serve(handler, req)
	if rec.Header().Get(requestIDHeader) != "req-42" {
		t.Fatalf("expected request id to be echoed, got %q", rec.Header().Get(requestIDHeader))
	}

	rec = serve(handler, httptest.NewRequest(http.MethodGet, "/wp-login.php", nil))
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatal("expected a generated request id")
	}

	routes := map[string]map[string]any{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		if entry["msg"] == "http request" {
			routes[entry["path"].(string)] = entry
		}
	}
	providers := routes["/search/providers"]
	if providers == nil || providers["route"] != "/search/providers" || providers["requestId"] != "req-42" || providers["clientIP"] != "203.0.113.7" {
		t.Fatalf("unexpected providers log entry: %v", providers)
	}
	unknown := routes["/wp-login.php"]
	if unknown == nil || unknown["route"] != "/other" || unknown["status"] != float64(http.StatusNotFound) {
		t.Fatalf("unexpected unknown-route log entry: %v", unknown)
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	if got := truncate("비타민C 1000mg", 6); got != "비타민..." {
		t.Fatalf("unexpected truncation: %q", got)
	}
	if got := truncate("짧음", 10); got != "짧음" {
		t.Fatalf("short values must be untouched: %q", got)
	}
}
