package iherb

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pricecompare/searchservice/internal/domain"
	"pricecompare/searchservice/internal/providers/common"
)

const (
	defaultEndpoint = "https://kr.iherb.com/search"
	siteBaseURL     = "https://kr.iherb.com"
	platformName    = "iherb"
)

type Config struct {
	Endpoint string
	Client   *http.Client
	Policy   common.Policy
	Enabled  bool
}

// Provider scrapes the iHerb Korea search page. Out-of-stock cards are skipped.
type Provider struct {
	client   *http.Client
	endpoint string
	policy   common.Policy
	enabled  bool
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
		policy:   cfg.Policy,
		enabled:  cfg.Enabled,
	}
}

func (p *Provider) Name() string {
	return platformName
}

func (p *Provider) Info() domain.PlatformInfo {
	return domain.PlatformInfo{
		Name:    p.Name(),
		Label:   "iHerb",
		Kind:    "scraper",
		Pool:    domain.PoolSourceB,
		Enabled: p.enabled,
	}
}

func (p *Provider) Search(ctx context.Context, keyword string, limit int) ([]domain.ProductResult, error) {
	if limit <= 0 {
		limit = 20
	}
	uri, err := url.Parse(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	query := uri.Query()
	query.Set("kw", strings.TrimSpace(keyword))
	uri.RawQuery = query.Encode()

	payload, err := common.FetchPage(ctx, p.client, p.policy, uri.String(), platformName)
	if err != nil {
		return nil, err
	}
	return parseSearchPage(payload, limit)
}

func parseSearchPage(payload []byte, limit int) ([]domain.ProductResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("parse iherb page: %w", err)
	}

	results := make([]domain.ProductResult, 0, limit)
	doc.Find(".product-cell-container").EachWithBreak(func(_ int, card *goquery.Selection) bool {
		if card.Find(".out-of-stock").Length() > 0 {
			return true
		}
		name := common.CleanHTMLText(card.Find(".product-title").First().Text())
		price := common.ParsePrice(card.Find(".price").First().Text())
		if name == "" || price <= 0 {
			return true
		}

		link := card.Find("a.product-link").First()
		href := strings.TrimSpace(link.AttrOr("href", ""))
		result := domain.ProductResult{
			Platform:   platformName,
			ProductID:  strings.TrimSpace(link.AttrOr("data-product-id", card.AttrOr("data-product-id", ""))),
			Name:       name,
			Price:      price,
			ImageURL:   strings.TrimSpace(card.Find("img").First().AttrOr("src", "")),
			ProductURL: absoluteURL(href),
			MallName:   "iHerb",
		}
		if result.ProductID == "" {
			result.ProductID = productIDFromPath(href)
		}
		if result.ProductID == "" {
			result.ProductID = platformName + "_" + name
		}
		if original := common.ParsePrice(card.Find(".discount-badge .original-price").First().Text()); original > price {
			result.OriginalPrice = domain.Int64Ptr(original)
		}
		if rating, ok := common.ParseRating(card.Find(".rating-count").AttrOr("data-rating", "")); ok {
			result.Rating = domain.Float64Ptr(rating)
		}
		result.ReviewCount = common.ParseCount(card.Find(".rating-count span").First().Text())

		results = append(results, domain.NormalizeProduct(result))
		return len(results) < limit
	})
	return results, nil
}

// productIDFromPath takes the trailing numeric segment of /pr/<slug>/<id>.
func productIDFromPath(href string) string {
	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	last := segments[len(segments)-1]
	if last == "" || strings.Trim(last, "0123456789") != "" {
		return ""
	}
	return last
}

func absoluteURL(href string) string {
	switch {
	case href == "":
		return ""
	case strings.HasPrefix(href, "http://"), strings.HasPrefix(href, "https://"):
		return href
	default:
		return siteBaseURL + "/" + strings.TrimPrefix(href, "/")
	}
}
