package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"pricecompare/searchservice/internal/domain"
	"pricecompare/searchservice/internal/metrics"
)

const (
	defaultTimeout = 5 * time.Second
	maxKeywords    = 5
)

type Option func(*options)

type options struct {
	timeout time.Duration
	logger  *slog.Logger
}

func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{timeout: defaultTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Extractor asks the generator for structured search terms.
type Extractor struct {
	generator TextGenerator
	options
}

func NewExtractor(generator TextGenerator, opts ...Option) *Extractor {
	return &Extractor{generator: generator, options: buildOptions(opts)}
}

type extractionPayload struct {
	Keywords   []string `json:"keywords"`
	Category   string   `json:"category"`
	PriceRange *struct {
		Min *float64 `json:"min"`
		Max *float64 `json:"max"`
	} `json:"price_range"`
}

// Extract never fails: a missing generator, a timeout or an unusable answer
// all yield the raw query as the only keyword.
func (e *Extractor) Extract(ctx context.Context, query string) domain.KeywordExtraction {
	query = strings.TrimSpace(query)
	if e == nil || e.generator == nil {
		return domain.FallbackExtraction(query)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	text, err := e.generator.Generate(ctx, fmt.Sprintf(keywordExtractionPrompt, query))
	if err == nil {
		var extraction domain.KeywordExtraction
		extraction, err = parseExtraction(text)
		if err == nil {
			metrics.AICallsTotal.WithLabelValues("extract", "ok").Inc()
			return extraction
		}
	}
	metrics.AICallsTotal.WithLabelValues("extract", "error").Inc()
	e.logger.Warn("keyword extraction failed",
		slog.String("query", query),
		slog.String("error", err.Error()),
	)
	return domain.FallbackExtraction(query)
}

func parseExtraction(text string) (domain.KeywordExtraction, error) {
	var payload extractionPayload
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &payload); err != nil {
		return domain.KeywordExtraction{}, fmt.Errorf("decode extraction: %w", err)
	}

	keywords := make([]string, 0, len(payload.Keywords))
	seen := make(map[string]struct{}, len(payload.Keywords))
	for _, raw := range payload.Keywords {
		keyword := strings.TrimSpace(raw)
		if keyword == "" {
			continue
		}
		if _, dup := seen[strings.ToLower(keyword)]; dup {
			continue
		}
		seen[strings.ToLower(keyword)] = struct{}{}
		keywords = append(keywords, keyword)
		if len(keywords) == maxKeywords {
			break
		}
	}
	if len(keywords) == 0 {
		return domain.KeywordExtraction{}, errors.New("extraction has no keywords")
	}

	extraction := domain.KeywordExtraction{
		Keywords: keywords,
		Category: strings.TrimSpace(payload.Category),
	}
	if payload.PriceRange != nil {
		extraction.PriceMin = wonPtr(payload.PriceRange.Min)
		extraction.PriceMax = wonPtr(payload.PriceRange.Max)
	}
	return extraction, nil
}

// wonPtr drops missing, non-positive and non-finite bounds.
func wonPtr(value *float64) *int64 {
	if value == nil || *value <= 0 || math.IsInf(*value, 0) || math.IsNaN(*value) {
		return nil
	}
	won := int64(*value)
	return &won
}

// stripCodeFence removes a surrounding ```json ... ``` block.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
