package danawa

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
	defaultEndpoint = "https://search.danawa.com/dsearch.php"
	productBaseURL  = "https://prod.danawa.com"
	platformName    = "danawa"
)

type Config struct {
	Endpoint string
	Client   *http.Client
	Policy   common.Policy
	Enabled  bool
}

// Provider scrapes the Danawa price comparison search page.
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
		Label:   "다나와",
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
	query.Set("query", strings.TrimSpace(keyword))
	query.Set("tab", "goods")
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
		return nil, fmt.Errorf("parse danawa page: %w", err)
	}

	results := make([]domain.ProductResult, 0, limit)
	doc.Find(".product_list > li.prod_item").EachWithBreak(func(_ int, item *goquery.Selection) bool {
		link := item.Find(".prod_name a").First()
		name := common.CleanHTMLText(link.Text())
		price := common.ParsePrice(item.Find(".price_sect .price").First().Text())
		if price <= 0 {
			price = common.ParsePrice(item.Find(".price_sect strong").First().Text())
		}
		if name == "" || price <= 0 {
			return true
		}

		href := strings.TrimSpace(link.AttrOr("href", ""))
		result := domain.ProductResult{
			Platform:   platformName,
			ProductID:  productID(item, href),
			Name:       name,
			Price:      price,
			ImageURL:   imageURL(item),
			ProductURL: absoluteURL(href),
			MallName:   "다나와",
		}
		if result.ProductID == "" {
			result.ProductID = platformName + "_" + name
		}
		if rating, ok := common.ParseRating(item.Find(".text__score").First().Text()); ok {
			result.Rating = domain.Float64Ptr(rating)
		}
		result.ReviewCount = common.ParseCount(item.Find(".text__number").First().Text())

		results = append(results, domain.NormalizeProduct(result))
		return len(results) < limit
	})
	return results, nil
}

func productID(item *goquery.Selection, href string) string {
	if id := strings.TrimPrefix(strings.TrimSpace(item.AttrOr("id", "")), "productItem"); id != "" {
		return id
	}
	if parsed, err := url.Parse(href); err == nil {
		return strings.TrimSpace(parsed.Query().Get("pcode"))
	}
	return ""
}

func imageURL(item *goquery.Selection) string {
	img := item.Find(".thumb_image img").First()
	value := strings.TrimSpace(img.AttrOr("data-original", ""))
	if value == "" {
		value = strings.TrimSpace(img.AttrOr("src", ""))
	}
	if strings.HasPrefix(value, "//") {
		value = "https:" + value
	}
	return value
}

func absoluteURL(href string) string {
	switch {
	case href == "":
		return ""
	case strings.HasPrefix(href, "http://"), strings.HasPrefix(href, "https://"):
		return href
	case strings.HasPrefix(href, "//"):
		return "https:" + href
	default:
		return productBaseURL + "/" + strings.TrimPrefix(href, "/")
	}
}
