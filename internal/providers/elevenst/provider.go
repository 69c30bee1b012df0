package elevenst

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"

	"pricecompare/searchservice/internal/domain"
	"pricecompare/searchservice/internal/providers/common"
)

const (
	defaultEndpoint = "http://openapi.11st.co.kr/openapi/OpenApiService.tmall"
	platformName    = "11st"
	defaultMall     = "11번가"
	maxPageSize     = 200
)

var ErrNotConfigured = errors.New("11st api key is not configured")

type Config struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

// Provider queries the 11st OpenAPI product search. Responses are XML and
// usually EUC-KR encoded.
type Provider struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

type searchResponse struct {
	ErrorCode    string         `xml:"ErrorCode"`
	ErrorMessage string         `xml:"ErrorMessage"`
	Request      requestEcho    `xml:"Request"`
	Products     []productEntry `xml:"Products>Product"`
}

type requestEcho struct {
	ErrorCode    string `xml:"ErrorCode"`
	ErrorMessage string `xml:"ErrorMessage"`
}

type productEntry struct {
	ProductCode     string `xml:"ProductCode"`
	ProductName     string `xml:"ProductName"`
	ProductPrice    string `xml:"ProductPrice"`
	SalePrice       string `xml:"SalePrice"`
	Price           string `xml:"Price"`
	ProductImage    string `xml:"ProductImage"`
	ProductImage300 string `xml:"ProductImage300"`
	DetailPageURL   string `xml:"DetailPageUrl"`
	SellerNick      string `xml:"SellerNick"`
	SellerName      string `xml:"SellerNm"`
	BuySatisfy      string `xml:"BuySatisfy"`
	ReviewCount     string `xml:"ReviewCount"`
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
		client:   client,
		endpoint: endpoint,
		apiKey:   strings.TrimSpace(cfg.APIKey),
	}
}

func (p *Provider) Name() string {
	return platformName
}

func (p *Provider) Info() domain.PlatformInfo {
	return domain.PlatformInfo{
		Name:    p.Name(),
		Label:   defaultMall,
		Kind:    "api",
		Pool:    domain.PoolSourceB,
		Enabled: p.apiKey != "",
	}
}

func (p *Provider) Search(ctx context.Context, keyword string, limit int) ([]domain.ProductResult, error) {
	if p.apiKey == "" {
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
	query.Set("key", p.apiKey)
	query.Set("apiCode", "ProductSearch")
	query.Set("keyword", strings.TrimSpace(keyword))
	query.Set("pageNum", "1")
	query.Set("pageSize", strconv.Itoa(min(limit, maxPageSize)))
	query.Set("sortCd", "CP")
	uri.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/xml, text/xml")

	payload, _, err := common.ReadBody(p.client, req, platformName)
	if err != nil {
		return nil, err
	}
	entries, err := parseProducts(payload)
	if err != nil {
		return nil, err
	}

	results := make([]domain.ProductResult, 0, len(entries))
	for _, entry := range entries {
		result, ok := toResult(entry)
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

func parseProducts(payload []byte) ([]productEntry, error) {
	decoder := xml.NewDecoder(bytes.NewReader(decodeKorean(payload)))
	// The body is already UTF-8 at this point; ignore the declared charset.
	decoder.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}
	var response searchResponse
	if err := decoder.Decode(&response); err != nil {
		return nil, fmt.Errorf("decode 11st response: %w", err)
	}

	code, message := response.ErrorCode, response.ErrorMessage
	if strings.TrimSpace(code) == "" {
		code, message = response.Request.ErrorCode, response.Request.ErrorMessage
	}
	if code = strings.TrimSpace(code); code != "" && code != "0" {
		return nil, fmt.Errorf("11st api error %s: %s", code, strings.TrimSpace(message))
	}
	return response.Products, nil
}

func decodeKorean(payload []byte) []byte {
	if utf8.Valid(payload) {
		return payload
	}
	decoded, _, err := transform.Bytes(korean.EUCKR.NewDecoder(), payload)
	if err != nil {
		return payload
	}
	return decoded
}

func toResult(entry productEntry) (domain.ProductResult, bool) {
	name := common.CleanHTMLText(entry.ProductName)
	if name == "" {
		return domain.ProductResult{}, false
	}
	price := common.ParsePrice(entry.SalePrice)
	if price <= 0 {
		price = common.ParsePrice(entry.ProductPrice)
	}
	if price <= 0 {
		return domain.ProductResult{}, false
	}

	image := strings.TrimSpace(entry.ProductImage300)
	if image == "" {
		image = strings.TrimSpace(entry.ProductImage)
	}
	mall := strings.TrimSpace(entry.SellerName)
	if mall == "" {
		mall = strings.TrimSpace(entry.SellerNick)
	}
	if mall == "" {
		mall = defaultMall
	}

	result := domain.ProductResult{
		Platform:    platformName,
		ProductID:   strings.TrimSpace(entry.ProductCode),
		Name:        name,
		Price:       price,
		ImageURL:    image,
		ProductURL:  strings.TrimSpace(entry.DetailPageURL),
		MallName:    mall,
		ReviewCount: common.ParseCount(entry.ReviewCount),
	}
	if result.ProductID == "" {
		result.ProductID = platformName + "_" + name
	}
	if original := common.ParsePrice(entry.Price); original > price {
		result.OriginalPrice = domain.Int64Ptr(original)
	}
	// BuySatisfy is a 0-100 satisfaction score.
	if satisfy, err := strconv.ParseFloat(strings.TrimSpace(entry.BuySatisfy), 64); err == nil && satisfy > 0 {
		result.Rating = domain.Float64Ptr(satisfy / 20)
	}
	return domain.NormalizeProduct(result), true
}
