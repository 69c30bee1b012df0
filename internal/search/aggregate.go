package search

import "pricecompare/searchservice/internal/domain"

// Aggregate returns the cheapest product (first wins ties) and the best rated
// one among products with a rating. Both are nil for an empty list.
func Aggregate(products []domain.ProductResult) (cheapest, bestRated *domain.ProductResult) {
	cheapestIdx, bestIdx := -1, -1
	for i := range products {
		if cheapestIdx < 0 || products[i].Price < products[cheapestIdx].Price {
			cheapestIdx = i
		}
		if products[i].Rating == nil {
			continue
		}
		if bestIdx < 0 || *products[i].Rating > *products[bestIdx].Rating {
			bestIdx = i
		}
	}
	if cheapestIdx >= 0 {
		item := products[cheapestIdx]
		cheapest = &item
	}
	if bestIdx >= 0 {
		item := products[bestIdx]
		bestRated = &item
	}
	return cheapest, bestRated
}

// filterPriceRange drops products outside the extracted price range from
// every pool unless nothing would be left in any of them.
func filterPriceRange(pools map[domain.Pool][]domain.ProductResult, extraction domain.KeywordExtraction) map[domain.Pool][]domain.ProductResult {
	if extraction.PriceMin == nil && extraction.PriceMax == nil {
		return pools
	}
	filtered := make(map[domain.Pool][]domain.ProductResult, len(pools))
	kept := 0
	for pool, products := range pools {
		for _, product := range products {
			if extraction.InPriceRange(product.Price) {
				filtered[pool] = append(filtered[pool], product)
				kept++
			}
		}
	}
	if kept == 0 {
		return pools
	}
	return filtered
}
