package naver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"pricecompare/searchservice/internal/domain"
	"pricecompare/searchservice/internal/providers/common"
)

const (
	defaultEndpoint = "https://openapi.naver.com/v1/search/shop.json"
	platformName    = "naver"
	maxDisplay      = 100
)

var ErrNotConfigured = errors.New("naver client credentials are not configured")

type Config struct {
	Endpoint     string
	ClientID     string
	ClientSecret string
	Client       *http.Client
}

// Provider queries the Naver Shopping search API. It is key-based, so it does
// not pace or retry requests.
type Provider struct {
	client       *http.Client
	endpoint     string
	clientID     string
	clientSecret string
}

type shopResponse struct {
	Total        int        `json:"total"`
	Items        []shopItem `json:"items"`
	ErrorCode    string     `json:"errorCode"`
	ErrorMessage string     `json:"errorMessage"`
}

type shopItem struct {
	Title     string `json:"title"`
	Link      string `json:"link"`
	Image     string `json:"image"`
	LPrice    string `json:"lprice"`
	HPrice    string `json:"hprice"`
	MallName  string `json:"mallName"`
	ProductID string `json:"productId"`
	Brand     string `json:"brand"`
}

func NewProvider(cfg Config) *Provider {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &Provider{
		client:       client,
		endpoint:     endpoint,
		clientID:     strings.TrimSpace(cfg.ClientID),
		clientSecret: strings.TrimSpace(cfg.ClientSecret),
	}
}

func (p *Provider) Name() string {
	return platformName
}

func (p *Provider) Info() domain.PlatformInfo {
	return domain.PlatformInfo{
		Name:    p.Name(),
		Label:   "네이버 쇼핑",
		Kind:    "api",
		Pool:    domain.PoolSourceA,
		Enabled: p.clientID != "" && p.clientSecret != "",
	}
}

func (p *Provider) Search(ctx context.Context, keyword string, limit int) ([]domain.ProductResult, error) {
	if p.clientID == "" || p.clientSecret == "" {
		return nil, ErrNotConfigured
	}
	if limit <= 0 {
		limit = 20
	}

	uri, err := url.Parse(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	query := uri.Query()
	query.Set("query", strings.TrimSpace(keyword))
	query.Set("display", strconv.Itoa(min(limit, maxDisplay)))
	query.Set("sort", "sim")
	uri.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Naver-Client-Id", p.clientID)
	req.Header.Set("X-Naver-Client-Secret", p.clientSecret)
	req.Header.Set("Accept", "application/json")

	payload, _, err := common.ReadBody(p.client, req, platformName)
	if err != nil {
		return nil, err
	}
	items, err := parseItems(payload)
	if err != nil {
		return nil, err
	}

	results := make([]domain.ProductResult, 0, len(items))
	for _, item := range items {
		result, ok := toResult(item)
		if !ok {
			continue
		}
		results = append(results, result)
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

func parseItems(payload []byte) ([]shopItem, error) {
	var response shopResponse
	if err := json.Unmarshal(payload, &response); err != nil {
		return nil, fmt.Errorf("decode naver response: %w", err)
	}
	if response.ErrorCode != "" {
		return nil, fmt.Errorf("naver api error %s: %s", response.ErrorCode, response.ErrorMessage)
	}
	return response.Items, nil
}

func toResult(item shopItem) (domain.ProductResult, bool) {
	name := common.CleanHTMLText(item.Title)
	if name == "" || strings.TrimSpace(item.LPrice) == "" {
		return domain.ProductResult{}, false
	}
	price := common.ParsePrice(item.LPrice)
	if price <= 0 {
		return domain.ProductResult{}, false
	}

	result := domain.ProductResult{
		Platform:   platformName,
		ProductID:  strings.TrimSpace(item.ProductID),
		Name:       name,
		Price:      price,
		ImageURL:   strings.TrimSpace(item.Image),
		ProductURL: strings.TrimSpace(item.Link),
		MallName:   strings.TrimSpace(item.MallName),
	}
	if result.ProductID == "" {
		result.ProductID = platformName + "_" + name
	}
	if high := common.ParsePrice(item.HPrice); high > price {
		result.OriginalPrice = domain.Int64Ptr(high)
		result.DiscountPercent = domain.IntPtr(domain.DiscountPercent(high, price))
	}
	return domain.NormalizeProduct(result), true
}
