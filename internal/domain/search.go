package domain

import (
	"strings"
	"time"
)

// Pool is the mixing bucket a platform contributes to.
type Pool string

const (
	PoolCurated Pool = "curated"
	PoolSourceA Pool = "sourceA"
	PoolSourceB Pool = "sourceB"
)

func NormalizePool(raw string) (Pool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "curated", "catalog":
		return PoolCurated, true
	case "sourcea", "source_a", "a":
		return PoolSourceA, true
	case "sourceb", "source_b", "b":
		return PoolSourceB, true
	default:
		return "", false
	}
}

type KeywordExtraction struct {
	Keywords []string `json:"keywords"`
	Category string   `json:"category"`
	PriceMin *int64   `json:"priceMin,omitempty"`
	PriceMax *int64   `json:"priceMax,omitempty"`
}

// FallbackExtraction is used whenever keyword extraction cannot produce a usable answer.
func FallbackExtraction(query string) KeywordExtraction {
	return KeywordExtraction{Keywords: []string{query}, Category: ""}
}

// PrimaryTerm is the term sent to live platforms and used as the cache key.
func (e KeywordExtraction) PrimaryTerm(query string) string {
	for _, keyword := range e.Keywords {
		if value := strings.TrimSpace(keyword); value != "" {
			return value
		}
	}
	return strings.TrimSpace(query)
}

func (e KeywordExtraction) InPriceRange(price int64) bool {
	if e.PriceMin != nil && price < *e.PriceMin {
		return false
	}
	if e.PriceMax != nil && *e.PriceMax > 0 && price > *e.PriceMax {
		return false
	}
	return true
}

type CompareResult struct {
	Query          string           `json:"query"`
	Keywords       []string         `json:"keywords"`
	Category       string           `json:"category,omitempty"`
	Products       []ProductResult  `json:"products"`
	Recommendation string           `json:"recommendation"`
	Cheapest       *ProductResult   `json:"cheapest"`
	BestRated      *ProductResult   `json:"bestRated"`
	Platforms      []PlatformStatus `json:"platforms,omitempty"`
	ElapsedMS      int64            `json:"elapsedMs"`
}

type PlatformInfo struct {
	Name    string `json:"name"`
	Label   string `json:"label"`
	Kind    string `json:"kind"`
	Pool    Pool   `json:"pool"`
	Enabled bool   `json:"enabled"`
}

type PlatformStatus struct {
	Name     string `json:"name"`
	OK       bool   `json:"ok"`
	Count    int    `json:"count"`
	Cached   bool   `json:"cached,omitempty"`
	TimedOut bool   `json:"timedOut,omitempty"`
	Error    string `json:"error,omitempty"`
}

type PlatformDiagnostics struct {
	Name                string     `json:"name"`
	Label               string     `json:"label"`
	Kind                string     `json:"kind"`
	Pool                Pool       `json:"pool"`
	Enabled             bool       `json:"enabled"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	BlockedUntil        *time.Time `json:"blockedUntil,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *time.Time `json:"lastFailureAt,omitempty"`
	LastLatencyMS       int64      `json:"lastLatencyMs,omitempty"`
	LastTimeout         bool       `json:"lastTimeout,omitempty"`
	LastKeyword         string     `json:"lastKeyword,omitempty"`
	TotalRequests       int64      `json:"totalRequests"`
	TotalFailures       int64      `json:"totalFailures"`
	TimeoutCount        int64      `json:"timeoutCount"`
}

// SearchHistoryRecord is append-only; the search path never reads it back.
type SearchHistoryRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId,omitempty"`
	Query     string    `json:"query"`
	Keywords  []string  `json:"keywords"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"createdAt"`
}
