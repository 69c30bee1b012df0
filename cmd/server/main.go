package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"pricecompare/searchservice/internal/ai"
	apihttp "pricecompare/searchservice/internal/api/http"
	"pricecompare/searchservice/internal/app"
	"pricecompare/searchservice/internal/cache"
	"pricecompare/searchservice/internal/metrics"
	"pricecompare/searchservice/internal/providers/common"
	"pricecompare/searchservice/internal/providers/coupang"
	"pricecompare/searchservice/internal/providers/danawa"
	"pricecompare/searchservice/internal/providers/elevenst"
	"pricecompare/searchservice/internal/providers/iherb"
	"pricecompare/searchservice/internal/providers/naver"
	"pricecompare/searchservice/internal/search"
	"pricecompare/searchservice/internal/suggest"
	"pricecompare/searchservice/internal/telemetry"
)

const (
	serviceName    = "product-search"
	serviceVersion = "1.0.0"
)

func main() {
	_ = godotenv.Load()

	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), serviceName, serviceVersion)
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	settings, err := app.LoadPlatformSettings(cfg.PlatformsFile, cfg.Platforms)
	if err != nil {
		logger.Warn("platform settings file ignored", slog.String("error", err.Error()))
	}
	cfg.Platforms = settings

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("databaseBackend", cfg.DatabaseBackend),
		slog.String("cacheStore", cfg.CacheStore),
		slog.Bool("cacheDisabled", cfg.CacheDisabled),
		slog.Duration("cacheTTL", cfg.CacheTTL),
		slog.Duration("searchDeadline", cfg.SearchDeadline),
		slog.Duration("requestTimeout", cfg.RequestTimeout),
		slog.String("aiProvider", cfg.AIProvider),
		slog.Bool("hasNaverKeys", cfg.NaverClientID != "" && cfg.NaverClientSecret != ""),
		slog.Bool("hasElevenstKey", cfg.ElevenstAPIKey != ""),
		slog.Bool("hasCoupangKeys", cfg.CoupangAccessKey != "" && cfg.CoupangSecretKey != ""),
		slog.Bool("hasRedis", strings.TrimSpace(cfg.RedisURL) != ""),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(rootCtx, cfg, logger)
	if err != nil {
		logger.Error("store init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer st.Close()
	seedCatalog(rootCtx, cfg.CatalogSeedFile, st, logger)

	cacheOpts := []cache.Option{cache.WithLogger(logger), cache.WithTTL(cfg.CacheTTL)}
	resultCache := cache.New(selectCacheStore(rootCtx, cfg, st, logger), cacheOpts...)

	serviceOpts := []search.ServiceOption{
		search.WithLogger(logger),
		search.WithHistory(st.history),
		search.WithDeadline(cfg.SearchDeadline),
		search.WithRequestTimeout(cfg.RequestTimeout),
		search.WithCacheTimeout(cfg.CacheLookupTimeout),
		search.WithLimit(cfg.SearchLimit),
		search.WithMixer(buildMixer(cfg)),
	}
	if !cfg.CacheDisabled {
		serviceOpts = append(serviceOpts, search.WithCache(resultCache))
	}
	serviceOpts = append(serviceOpts, buildAIOptions(cfg, logger)...)

	platforms := buildPlatforms(cfg, st.catalog, logger)
	for _, platform := range platforms {
		serviceOpts = append(serviceOpts, search.WithPlatformOptions(platform.Name(), platformOptions(cfg.Platforms, platform)))
	}
	searchService := search.NewService(platforms, serviceOpts...)

	handler := apihttp.NewServer(searchService,
		apihttp.WithLogger(logger),
		apihttp.WithSuggest(suggest.NewService(st.history)),
		apihttp.WithWishlist(st.wishlist),
		apihttp.WithCORSOrigins(cfg.CORSAllowedOrigins),
		apihttp.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		apihttp.WithSearchTimeout(cfg.SearchDeadline+15*time.Second),
	).Handler()
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.SearchDeadline + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("product search service started",
		slog.String("addr", cfg.HTTPAddr),
		slog.Int("platforms", len(platforms)),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	// Late platform fetches and history writes still land before the stores close.
	if err := searchService.Wait(shutdownCtx); err != nil {
		logger.Warn("pending searches not drained", slog.String("error", err.Error()))
	}
	if err := resultCache.Wait(shutdownCtx); err != nil {
		logger.Warn("pending cache writes not drained", slog.String("error", err.Error()))
	}
	logger.Info("product search service stopped")
}

func buildMixer(cfg app.Config) *search.Mixer {
	ratios := search.MixRatios{
		Curated: cfg.MixCurated,
		SourceA: cfg.MixSourceA,
		SourceB: cfg.MixSourceB,
	}
	var opts []search.MixerOption
	if cfg.MaxResults > 0 {
		opts = append(opts, search.WithMaxResults(cfg.MaxResults))
	}
	return search.NewMixer(ratios, cfg.MixSeed, opts...)
}

func buildAIOptions(cfg app.Config, logger *slog.Logger) []search.ServiceOption {
	generator, err := ai.NewGenerator(ai.GeneratorConfig{
		Provider:       cfg.AIProvider,
		GeminiAPIKey:   cfg.GeminiAPIKey,
		GeminiModel:    cfg.GeminiModel,
		GeminiBaseURL:  cfg.GeminiBaseURL,
		AnthropicKey:   cfg.AnthropicKey,
		AnthropicModel: cfg.AnthropicModel,
		Client:         newHTTPClient(cfg.AITimeout + 5*time.Second),
	})
	if err != nil {
		if errors.Is(err, ai.ErrNotConfigured) {
			logger.Warn("ai provider not configured, using raw queries and fallback recommendations",
				slog.String("aiProvider", cfg.AIProvider))
		} else {
			logger.Warn("ai provider disabled", slog.String("error", err.Error()))
		}
		return nil
	}
	aiOpts := []ai.Option{ai.WithTimeout(cfg.AITimeout), ai.WithLogger(logger)}
	return []search.ServiceOption{
		search.WithExtractor(ai.NewExtractor(generator, aiOpts...)),
		search.WithRecommender(ai.NewRecommender(generator, aiOpts...)),
		search.WithRecommendationTimeout(cfg.AITimeout),
	}
}

func buildPlatforms(cfg app.Config, catalog coupang.CatalogStore, logger *slog.Logger) []search.Platform {
	settings := cfg.Platforms
	policy := common.Policy{
		MinDelay:    cfg.ScraperMinDelay,
		MaxDelay:    cfg.ScraperMaxDelay,
		MaxAttempts: cfg.ScraperMaxAttempts,
		BackoffBase: cfg.ScraperBackoffBase,
	}

	var platforms []search.Platform
	add := func(platform search.Platform, enabledByDefault bool) {
		if !settings.IsEnabled(platform.Name(), enabledByDefault) {
			logger.Info("platform disabled", slog.String("platform", platform.Name()))
			return
		}
		platforms = append(platforms, platform)
	}

	add(coupang.NewCatalog(catalog), true)
	if cfg.CoupangAccessKey != "" && cfg.CoupangSecretKey != "" {
		add(coupang.NewPartners(coupang.PartnersConfig{
			Endpoint:  cfg.CoupangEndpoint,
			AccessKey: cfg.CoupangAccessKey,
			SecretKey: cfg.CoupangSecretKey,
			Client:    newHTTPClient(cfg.RequestTimeout),
		}), true)
	}
	add(naver.NewProvider(naver.Config{
		Endpoint:     cfg.NaverEndpoint,
		ClientID:     cfg.NaverClientID,
		ClientSecret: cfg.NaverClientSecret,
		Client:       newHTTPClient(cfg.RequestTimeout),
	}), true)
	add(elevenst.NewProvider(elevenst.Config{
		Endpoint: cfg.ElevenstEndpoint,
		APIKey:   cfg.ElevenstAPIKey,
		Client:   newHTTPClient(cfg.RequestTimeout),
	}), true)
	add(danawa.NewProvider(danawa.Config{
		Endpoint: cfg.DanawaEndpoint,
		Client:   newHTTPClient(cfg.RequestTimeout),
		Policy:   policy,
		Enabled:  settings.IsEnabled("danawa", false),
	}), false)
	add(iherb.NewProvider(iherb.Config{
		Endpoint: cfg.IHerbEndpoint,
		Client:   newHTTPClient(cfg.RequestTimeout),
		Policy:   policy,
		Enabled:  settings.IsEnabled("iherb", false),
	}), false)
	return platforms
}

func platformOptions(settings app.PlatformSettings, platform search.Platform) search.PlatformOptions {
	name := platform.Name()
	setting := settings.Get(name)
	return search.PlatformOptions{
		Pool:      settings.PoolFor(name, platform.Info().Pool),
		Limit:     setting.Limit,
		RateLimit: setting.RateLimit,
		Burst:     setting.Burst,
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ForceAttemptHTTP2 = true
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(transport),
	}
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
