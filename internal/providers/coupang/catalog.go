package coupang

import (
	"context"
	"errors"
	"strings"

	"pricecompare/searchservice/internal/domain"
)

const (
	catalogName     = "coupang"
	catalogMallName = "쿠팡"
	catalogMaxRows  = 20
)

// CatalogStore looks up active curated products matching any keyword, newest first.
type CatalogStore interface {
	FindActive(ctx context.Context, keywords []string, limit int) ([]domain.CuratedProduct, error)
}

// Catalog serves the curated Coupang affiliate list. It never touches the network.
type Catalog struct {
	store CatalogStore
}

func NewCatalog(store CatalogStore) *Catalog {
	return &Catalog{store: store}
}

func (c *Catalog) Name() string {
	return catalogName
}

func (c *Catalog) Info() domain.PlatformInfo {
	return domain.PlatformInfo{
		Name:    catalogName,
		Label:   "쿠팡 (큐레이션)",
		Kind:    "catalog",
		Pool:    domain.PoolCurated,
		Enabled: c.store != nil,
	}
}

func (c *Catalog) Search(ctx context.Context, keyword string, limit int) ([]domain.ProductResult, error) {
	return c.SearchKeywords(ctx, []string{keyword}, limit)
}

// SearchKeywords matches products against any of the extracted keywords, not only the primary term.
func (c *Catalog) SearchKeywords(ctx context.Context, keywords []string, limit int) ([]domain.ProductResult, error) {
	if c.store == nil {
		return nil, errors.New("catalog store is not configured")
	}
	if limit <= 0 || limit > catalogMaxRows {
		limit = catalogMaxRows
	}
	cleaned := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		if value := strings.TrimSpace(keyword); value != "" {
			cleaned = append(cleaned, value)
		}
	}
	if len(cleaned) == 0 {
		return nil, nil
	}

	products, err := c.store.FindActive(ctx, cleaned, limit)
	if err != nil {
		return nil, err
	}
	results := make([]domain.ProductResult, 0, len(products))
	for _, product := range products {
		if !product.IsActive {
			continue
		}
		results = append(results, product.ToResult(catalogName, catalogMallName))
	}
	return results, nil
}
