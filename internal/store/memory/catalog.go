package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"pricecompare/searchservice/internal/domain"
)

// CatalogStore is an in-process curated catalog, optionally seeded from YAML.
type CatalogStore struct {
	mu       sync.RWMutex
	products map[string]domain.CuratedProduct
}

type seedFile struct {
	Products []seedProduct `yaml:"products"`
}

type seedProduct struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Price        int64    `yaml:"price"`
	ImageURL     string   `yaml:"imageUrl"`
	AffiliateURL string   `yaml:"affiliateUrl"`
	Category     string   `yaml:"category"`
	Keywords     []string `yaml:"keywords"`
	Active       *bool    `yaml:"active"`
}

func NewCatalogStore() *CatalogStore {
	return &CatalogStore{products: make(map[string]domain.CuratedProduct)}
}

// LoadCatalogSeed reads a YAML file shaped as `products: [{id, name, price, ...}]`.
func LoadCatalogSeed(path string) ([]domain.CuratedProduct, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog seed: %w", err)
	}
	var file seedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse catalog seed: %w", err)
	}

	now := time.Now().UTC()
	products := make([]domain.CuratedProduct, 0, len(file.Products))
	for i, item := range file.Products {
		id := strings.TrimSpace(item.ID)
		if id == "" || strings.TrimSpace(item.Name) == "" {
			return nil, fmt.Errorf("catalog seed entry %d: id and name are required", i)
		}
		active := true
		if item.Active != nil {
			active = *item.Active
		}
		products = append(products, domain.CuratedProduct{
			ProductID:    id,
			Name:         strings.TrimSpace(item.Name),
			Price:        item.Price,
			ImageURL:     item.ImageURL,
			AffiliateURL: item.AffiliateURL,
			Category:     item.Category,
			Keywords:     item.Keywords,
			IsActive:     active,
			// Later entries in the file count as newer.
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
			UpdatedAt: now,
		})
	}
	return products, nil
}

func (s *CatalogStore) Put(products ...domain.CuratedProduct) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, product := range products {
		s.products[product.ProductID] = product
	}
}

func (s *CatalogStore) FindActive(_ context.Context, keywords []string, limit int) ([]domain.CuratedProduct, error) {
	s.mu.RLock()
	matches := make([]domain.CuratedProduct, 0)
	for _, product := range s.products {
		if product.IsActive && product.MatchesAny(keywords) {
			matches = append(matches, product)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].ProductID < matches[j].ProductID
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}
