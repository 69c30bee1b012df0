package domain

import (
	"math"
	"strings"
	"time"
)

const MaxRating = 5.0

// ProductResult is the canonical product shape every platform is normalized into.
// Prices are whole won.
type ProductResult struct {
	Platform        string   `json:"platform"`
	ProductID       string   `json:"productId"`
	Name            string   `json:"name"`
	Price           int64    `json:"price"`
	OriginalPrice   *int64   `json:"originalPrice,omitempty"`
	DiscountPercent *int     `json:"discountPercent,omitempty"`
	Rating          *float64 `json:"rating,omitempty"`
	ReviewCount     int      `json:"reviewCount"`
	ImageURL        string   `json:"imageUrl"`
	ProductURL      string   `json:"productUrl"`
	MallName        string   `json:"mallName"`
}

// CachedEntry is one cached product row, unique per (Platform, Product.ProductID).
type CachedEntry struct {
	Product    ProductResult `json:"product"`
	SearchTerm string        `json:"searchTerm"`
	CachedAt   time.Time     `json:"cachedAt"`
}

// CuratedProduct is a manually maintained catalog row.
type CuratedProduct struct {
	ProductID    string    `json:"productId"`
	Name         string    `json:"name"`
	Price        int64     `json:"price"`
	ImageURL     string    `json:"imageUrl"`
	AffiliateURL string    `json:"affiliateUrl"`
	Category     string    `json:"category"`
	Keywords     []string  `json:"keywords"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (p CuratedProduct) ToResult(platform, mallName string) ProductResult {
	return NormalizeProduct(ProductResult{
		Platform:   platform,
		ProductID:  p.ProductID,
		Name:       p.Name,
		Price:      p.Price,
		ImageURL:   p.ImageURL,
		ProductURL: p.AffiliateURL,
		MallName:   mallName,
	})
}

// MatchesAny reports whether any keyword appears (case-insensitively) in the
// name, category or keyword tags of the product.
func (p CuratedProduct) MatchesAny(keywords []string) bool {
	name := strings.ToLower(p.Name)
	category := strings.ToLower(p.Category)
	for _, raw := range keywords {
		keyword := strings.ToLower(strings.TrimSpace(raw))
		if keyword == "" {
			continue
		}
		if strings.Contains(name, keyword) || strings.Contains(category, keyword) {
			return true
		}
		for _, tag := range p.Keywords {
			if strings.Contains(strings.ToLower(tag), keyword) {
				return true
			}
		}
	}
	return false
}

// NormalizeProduct enforces the value invariants: price >= 0, original price
// only when it is >= price, discount derived when missing, rating clamped to
// [0, 5] and a non-negative review count.
func NormalizeProduct(p ProductResult) ProductResult {
	p.Platform = strings.ToLower(strings.TrimSpace(p.Platform))
	p.ProductID = strings.TrimSpace(p.ProductID)
	p.Name = strings.TrimSpace(p.Name)
	p.MallName = strings.TrimSpace(p.MallName)
	if p.Price < 0 {
		p.Price = 0
	}
	if p.OriginalPrice != nil {
		original := *p.OriginalPrice
		if original < p.Price || original <= 0 {
			p.OriginalPrice = nil
			p.DiscountPercent = nil
		} else {
			p.OriginalPrice = &original
		}
	}
	if p.OriginalPrice != nil && p.DiscountPercent == nil && *p.OriginalPrice > p.Price {
		discount := DiscountPercent(*p.OriginalPrice, p.Price)
		p.DiscountPercent = &discount
	}
	if p.DiscountPercent != nil {
		discount := *p.DiscountPercent
		if discount < 0 {
			discount = 0
		}
		if discount > 100 {
			discount = 100
		}
		p.DiscountPercent = &discount
	}
	if p.Rating != nil {
		rating := *p.Rating
		if math.IsNaN(rating) {
			p.Rating = nil
		} else {
			rating = math.Max(0, math.Min(MaxRating, rating))
			p.Rating = &rating
		}
	}
	if p.ReviewCount < 0 {
		p.ReviewCount = 0
	}
	return p
}

// DiscountPercent truncates toward zero, matching how the marketplaces display it.
func DiscountPercent(original, current int64) int {
	if original <= 0 || current >= original {
		return 0
	}
	return int((original - current) * 100 / original)
}

func Int64Ptr(v int64) *int64 { return &v }

func Float64Ptr(v float64) *float64 { return &v }

func IntPtr(v int) *int { return &v }
