package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"pricecompare/searchservice/internal/domain"
	"pricecompare/searchservice/internal/metrics"
)

const recommendationProducts = 5

// Recommender writes a short buying recommendation for the top products.
type Recommender struct {
	generator TextGenerator
	options
}

func NewRecommender(generator TextGenerator, opts ...Option) *Recommender {
	return &Recommender{generator: generator, options: buildOptions(opts)}
}

type recommendationItem struct {
	Platform        string   `json:"platform"`
	Name            string   `json:"name"`
	Price           int64    `json:"price"`
	DiscountPercent *int     `json:"discountPercent,omitempty"`
	Rating          *float64 `json:"rating,omitempty"`
	ReviewCount     int      `json:"reviewCount"`
	MallName        string   `json:"mallName"`
}

func (r *Recommender) Recommend(ctx context.Context, query string, products []domain.ProductResult) (string, error) {
	if r == nil || r.generator == nil {
		return "", ErrNotConfigured
	}
	if len(products) > recommendationProducts {
		products = products[:recommendationProducts]
	}
	items := make([]recommendationItem, 0, len(products))
	for _, product := range products {
		items = append(items, recommendationItem{
			Platform:        product.Platform,
			Name:            product.Name,
			Price:           product.Price,
			DiscountPercent: product.DiscountPercent,
			Rating:          product.Rating,
			ReviewCount:     product.ReviewCount,
			MallName:        product.MallName,
		})
	}
	productsJSON, err := json.Marshal(items)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	text, err := r.generator.Generate(ctx, fmt.Sprintf(recommendationPrompt, query, productsJSON))
	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrEmptyResponse
	}
	if err != nil {
		metrics.AICallsTotal.WithLabelValues("recommend", "error").Inc()
		r.logger.Debug("recommendation generation failed", slog.String("error", err.Error()))
		return "", err
	}
	metrics.AICallsTotal.WithLabelValues("recommend", "ok").Inc()
	return strings.TrimSpace(text), nil
}
