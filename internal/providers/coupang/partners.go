package coupang

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pricecompare/searchservice/internal/domain"
	"pricecompare/searchservice/internal/providers/common"
)

const (
	defaultPartnersEndpoint = "https://api-gateway.coupang.com"
	partnersSearchPath      = "/v2/providers/affiliate_open_api/apis/openapi/products/search"
	partnersName            = "coupang-partners"
	partnersMaxLimit        = 100
	signedDateLayout        = "060102T150405Z"
)

var ErrPartnersNotConfigured = errors.New("coupang partners keys are not configured")

type PartnersConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Client    *http.Client
}

// Partners queries the Coupang Partners product search API. Requests are
// signed with the CEA HMAC-SHA256 scheme.
type Partners struct {
	client    *http.Client
	endpoint  string
	accessKey string
	secretKey string
	now       func() time.Time
}

type partnersResponse struct {
	RCode    string          `json:"rCode"`
	RMessage string          `json:"rMessage"`
	Data     json.RawMessage `json:"data"`
}

type partnersProduct struct {
	ProductID    json.Number `json:"productId"`
	ProductName  string      `json:"productName"`
	ProductPrice json.Number `json:"productPrice"`
	ProductImage string      `json:"productImage"`
	ProductURL   string      `json:"productUrl"`
	IsRocket     bool        `json:"isRocket"`
	CategoryName string      `json:"categoryName"`
}

func NewPartners(cfg PartnersConfig) *Partners {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = defaultPartnersEndpoint
	}
	return &Partners{
		client:    client,
		endpoint:  endpoint,
		accessKey: strings.TrimSpace(cfg.AccessKey),
		secretKey: strings.TrimSpace(cfg.SecretKey),
		now:       time.Now,
	}
}

func (p *Partners) Name() string {
	return partnersName
}

func (p *Partners) Info() domain.PlatformInfo {
	return domain.PlatformInfo{
		Name:    partnersName,
		Label:   "쿠팡 파트너스",
		Kind:    "api",
		Pool:    domain.PoolCurated,
		Enabled: p.accessKey != "" && p.secretKey != "",
	}
}

func (p *Partners) Search(ctx context.Context, keyword string, limit int) ([]domain.ProductResult, error) {
	if p.accessKey == "" || p.secretKey == "" {
		return nil, ErrPartnersNotConfigured
	}
	if limit <= 0 {
		limit = 20
	}

	query := url.Values{}
	query.Set("keyword", strings.TrimSpace(keyword))
	query.Set("limit", strconv.Itoa(min(limit, partnersMaxLimit)))
	rawQuery := query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+partnersSearchPath+"?"+rawQuery, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", p.authorization(http.MethodGet, partnersSearchPath, rawQuery))
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")

	payload, _, err := common.ReadBody(p.client, req, partnersName)
	if err != nil {
		return nil, err
	}
	products, err := parsePartnersProducts(payload)
	if err != nil {
		return nil, err
	}

	results := make([]domain.ProductResult, 0, len(products))
	for _, product := range products {
		price, _ := product.ProductPrice.Int64()
		name := strings.TrimSpace(product.ProductName)
		if name == "" || price <= 0 {
			continue
		}
		id := product.ProductID.String()
		if id == "" {
			id = partnersName + "_" + name
		}
		mall := "쿠팡"
		if product.IsRocket {
			mall = "쿠팡 로켓배송"
		}
		results = append(results, domain.NormalizeProduct(domain.ProductResult{
			Platform:   partnersName,
			ProductID:  id,
			Name:       name,
			Price:      price,
			ImageURL:   strings.TrimSpace(product.ProductImage),
			ProductURL: strings.TrimSpace(product.ProductURL),
			MallName:   mall,
		}))
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// authorization builds the CEA header. The signed message is
// signed-date + method + path + raw query.
func (p *Partners) authorization(method, path, rawQuery string) string {
	signedDate := p.now().UTC().Format(signedDateLayout)
	mac := hmac.New(sha256.New, []byte(p.secretKey))
	mac.Write([]byte(signedDate + method + path + rawQuery))
	signature := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("CEA algorithm=HmacSHA256, access-key=%s, signed-date=%s, signature=%s", p.accessKey, signedDate, signature)
}

// parsePartnersProducts accepts both `data: [...]` and `data: {productData: [...]}`.
func parsePartnersProducts(payload []byte) ([]partnersProduct, error) {
	var response partnersResponse
	if err := json.Unmarshal(payload, &response); err != nil {
		return nil, fmt.Errorf("decode coupang partners response: %w", err)
	}
	if code := strings.TrimSpace(response.RCode); code != "" && code != "0" {
		return nil, fmt.Errorf("coupang partners error %s: %s", code, response.RMessage)
	}
	if len(response.Data) == 0 || string(response.Data) == "null" {
		return nil, nil
	}

	var list []partnersProduct
	if err := json.Unmarshal(response.Data, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		ProductData []partnersProduct `json:"productData"`
	}
	if err := json.Unmarshal(response.Data, &wrapped); err != nil {
		return nil, fmt.Errorf("decode coupang partners data: %w", err)
	}
	return wrapped.ProductData, nil
}
