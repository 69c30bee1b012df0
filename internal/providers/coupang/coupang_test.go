package coupang

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pricecompare/searchservice/internal/domain"
)

type stubCatalogStore struct {
	products    []domain.CuratedProduct
	err         error
	gotKeywords []string
	gotLimit    int
}

func (s *stubCatalogStore) FindActive(_ context.Context, keywords []string, limit int) ([]domain.CuratedProduct, error) {
	s.gotKeywords = keywords
	s.gotLimit = limit
	return s.products, s.err
}

func TestCatalogSearchKeywordsMapsProducts(t *testing.T) {
	store := &stubCatalogStore{products: []domain.CuratedProduct{
		{ProductID: "c1", Name: "비타민C 골드", Price: 19900, AffiliateURL: "https://link.coupang.com/a/1", IsActive: true},
		{ProductID: "c2", Name: "비활성", Price: 1000, IsActive: false},
	}}
	catalog := NewCatalog(store)

	items, err := catalog.SearchKeywords(context.Background(), []string{" 비타민C ", "", "영양제"}, 100)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(store.gotKeywords) != 2 || store.gotLimit != catalogMaxRows {
		t.Fatalf("unexpected store call: keywords=%v limit=%d", store.gotKeywords, store.gotLimit)
	}
	if len(items) != 1 {
		t.Fatalf("expected inactive row dropped, got %d items", len(items))
	}
	if items[0].Platform != "coupang" || items[0].ProductURL != "https://link.coupang.com/a/1" || items[0].MallName != "쿠팡" {
		t.Fatalf("unexpected item: %#v", items[0])
	}
}

func TestCatalogPropagatesStoreError(t *testing.T) {
	catalog := NewCatalog(&stubCatalogStore{err: errors.New("db down")})
	if _, err := catalog.Search(context.Background(), "x", 5); err == nil {
		t.Fatal("expected store error")
	}
	if NewCatalog(nil).Info().Enabled {
		t.Fatal("expected catalog without store disabled")
	}
}

func TestPartnersSignsRequest(t *testing.T) {
	var gotAuth, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		if r.URL.Path != partnersSearchPath {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"rCode":"0","data":{"productData":[
			{"productId":123,"productName":"비타민C 1000","productPrice":15900,"productImage":"https://img/1","productUrl":"https://link/1","isRocket":true},
			{"productId":124,"productName":"무료","productPrice":0}
		]}}`))
	}))
	defer server.Close()

	partners := NewPartners(PartnersConfig{Endpoint: server.URL, AccessKey: "ak", SecretKey: "sk", Client: server.Client()})
	fixed := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	partners.now = func() time.Time { return fixed }

	items, err := partners.Search(context.Background(), "비타민C", 500)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(items) != 1 || items[0].ProductID != "123" || items[0].Price != 15900 || items[0].MallName != "쿠팡 로켓배송" {
		t.Fatalf("unexpected items: %#v", items)
	}
	if !strings.Contains(gotQuery, "limit=100") {
		t.Fatalf("expected limit capped at 100, got %q", gotQuery)
	}

	mac := hmac.New(sha256.New, []byte("sk"))
	mac.Write([]byte("260304T050607Z" + "GET" + partnersSearchPath + gotQuery))
	want := "CEA algorithm=HmacSHA256, access-key=ak, signed-date=260304T050607Z, signature=" + hex.EncodeToString(mac.Sum(nil))
	if gotAuth != want {
		t.Fatalf("unexpected authorization header:\n got %s\nwant %s", gotAuth, want)
	}
}

func TestParsePartnersProductsAcceptsFlatList(t *testing.T) {
	products, err := parsePartnersProducts([]byte(`{"data":[{"productId":"9","productName":"a","productPrice":"100"}]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(products) != 1 || products[0].ProductID.String() != "9" {
		t.Fatalf("unexpected products: %#v", products)
	}
	if _, err := parsePartnersProducts([]byte(`{"rCode":"400","rMessage":"bad"}`)); err == nil {
		t.Fatal("expected error code to surface")
	}
}

func TestPartnersWithoutKeys(t *testing.T) {
	partners := NewPartners(PartnersConfig{})
	if partners.Info().Enabled {
		t.Fatal("expected disabled without keys")
	}
	if _, err := partners.Search(context.Background(), "x", 1); !errors.Is(err, ErrPartnersNotConfigured) {
		t.Fatalf("expected ErrPartnersNotConfigured, got %v", err)
	}
}
