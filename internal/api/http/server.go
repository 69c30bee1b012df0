package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"pricecompare/searchservice/internal/domain"
	"pricecompare/searchservice/internal/search"
)

const (
	maxQueryLength       = 500
	maxSuggestLimit      = 20
	defaultSearchTimeout = 20 * time.Second
	userIDHeader         = "X-User-ID"

	searchFailedMessage = "An error occurred while searching. Please try again."
)

type SearchService interface {
	Search(ctx context.Context, query, callerID string) (domain.CompareResult, error)
	Platforms() []domain.PlatformInfo
	PlatformDiagnostics() []domain.PlatformDiagnostics
}

type SuggestService interface {
	Suggest(ctx context.Context, query, userID string, limit int) ([]string, error)
}

type WishlistService interface {
	WishlistedIDs(ctx context.Context, userID string, productIDs []string) ([]string, error)
}

type Server struct {
	search        SearchService
	suggest       SuggestService
	wishlist      WishlistService
	logger        *slog.Logger
	imageClient   *http.Client
	corsOrigins   []string
	rateRPS       float64
	rateBurst     int
	searchTimeout time.Duration
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithSuggest(suggest SuggestService) ServerOption {
	return func(s *Server) {
		s.suggest = suggest
	}
}

func WithWishlist(wishlist WishlistService) ServerOption {
	return func(s *Server) {
		s.wishlist = wishlist
	}
}

// WithImageClient replaces the SSRF-guarded client used by the image proxy.
func WithImageClient(client *http.Client) ServerOption {
	return func(s *Server) {
		s.imageClient = client
	}
}

func WithCORSOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 && burst > 0 {
			s.rateRPS = rps
			s.rateBurst = burst
		}
	}
}

// WithSearchTimeout bounds a whole /search request. Exceeding it is the only
// search failure reported to clients.
func WithSearchTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		if timeout > 0 {
			s.searchTimeout = timeout
		}
	}
}

func NewServer(searchService SearchService, options ...ServerOption) *Server {
	server := &Server{
		search:        searchService,
		logger:        slog.Default(),
		corsOrigins:   []string{"*"},
		rateRPS:       50,
		rateBurst:     100,
		searchTimeout: defaultSearchTimeout,
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	if server.imageClient == nil {
		server.imageClient = NewImageClient()
	}
	return server
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RealIP,
		requestID,
		requestLogger(s.logger),
		recoverPanics(s.logger),
		instrument,
		limitRequests(s.rateRPS, s.rateBurst),
	)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/search", func(r chi.Router) {
		r.Get("/", s.handleSearch)
		r.Get("/providers", s.handleProviders)
		r.Get("/providers/health", s.handleProvidersHealth)
		r.Get("/suggest", s.handleSearchSuggest)
		r.Get("/image", s.handleImageProxy)
	})

	traced := otelhttp.NewHandler(r, "product-search",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/metrics" && r.URL.Path != "/health"
		}),
	)
	return cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Origin", "Content-Type", "Accept", userIDHeader, requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
	}).Handler(traced)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

type searchParams struct {
	Query string
}

func (p searchParams) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Query,
			validation.Required.Error("query is required"),
			validation.RuneLength(1, maxQueryLength).Error("query too long (max 500 characters)"),
		),
	)
}

type searchResponse struct {
	domain.CompareResult
	WishlistedIDs []string `json:"wishlistedIds,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	params := searchParams{Query: strings.TrimSpace(r.URL.Query().Get("q"))}
	if err := params.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", validationMessage(err))
		return
	}
	callerID := strings.TrimSpace(r.Header.Get(userIDHeader))

	ctx, cancel := context.WithTimeout(r.Context(), s.searchTimeout)
	defer cancel()

	result, err := s.search.Search(ctx, params.Query, callerID)
	if err != nil {
		s.logger.Warn("search request failed",
			slog.String("query", truncate(params.Query, 80)),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, search.ErrInvalidQuery) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		writeError(w, http.StatusServiceUnavailable, "search_failed", searchFailedMessage)
		return
	}

	failedPlatforms := make([]string, 0, len(result.Platforms))
	for _, status := range result.Platforms {
		if !status.OK {
			failedPlatforms = append(failedPlatforms, status.Name)
		}
	}
	s.logger.Info("search completed",
		slog.String("query", truncate(params.Query, 80)),
		slog.Int("products", len(result.Products)),
		slog.Int64("elapsedMs", result.ElapsedMS),
		slog.Int("failedPlatforms", len(failedPlatforms)),
	)
	if len(failedPlatforms) > 0 {
		s.logger.Warn("search platforms partially failed",
			slog.String("query", truncate(params.Query, 80)),
			slog.Any("failedPlatforms", failedPlatforms),
		)
	}

	writeJSON(w, http.StatusOK, searchResponse{
		CompareResult: result,
		WishlistedIDs: s.wishlistedIDs(r.Context(), callerID, result.Products),
	})
}

// wishlistedIDs is decoration only; failures leave the field empty.
func (s *Server) wishlistedIDs(ctx context.Context, callerID string, products []domain.ProductResult) []string {
	if s.wishlist == nil || callerID == "" || len(products) == 0 {
		return nil
	}
	ids := make([]string, 0, len(products))
	for _, product := range products {
		ids = append(ids, product.ProductID)
	}
	wishlisted, err := s.wishlist.WishlistedIDs(ctx, callerID, ids)
	if err != nil {
		s.logger.Warn("wishlist lookup failed", slog.String("error", err.Error()))
		return nil
	}
	return wishlisted
}

func (s *Server) handleSearchSuggest(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if err := validation.Validate(query, validation.RuneLength(0, maxQueryLength)); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long (max 500 characters)")
		return
	}
	limit, err := parsePositiveInt(r, "limit", 5)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}
	limit = min(limit, maxSuggestLimit)

	items := []string{}
	if s.suggest != nil && query != "" {
		items, err = s.suggest.Suggest(r.Context(), query, strings.TrimSpace(r.Header.Get(userIDHeader)), limit)
		if err != nil {
			s.logger.Warn("suggest request failed",
				slog.String("query", truncate(query, 80)),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "internal_error", "suggestions are unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query": query,
		"items": items,
	})
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": s.search.Platforms(),
	})
}

func (s *Server) handleProvidersHealth(w http.ResponseWriter, _ *http.Request) {
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checkedAt": time.Now().UTC(),
		"items":     s.search.PlatformDiagnostics(),
	})
}

func validationMessage(err error) string {
	var fieldErrors validation.Errors
	if errors.As(err, &fieldErrors) {
		for _, fieldErr := range fieldErrors {
			return fieldErr.Error()
		}
	}
	return err.Error()
}

func parsePositiveInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, errors.New("invalid value")
	}
	return parsed, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
