package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 50
)

type Config struct {
	HTTPAddr       string
	LogLevel       string
	LogFormat      string
	UserAgent      string
	SearchDeadline time.Duration
	RequestTimeout time.Duration
	SearchLimit    int
	MaxResults     int

	CacheTTL           time.Duration
	CacheDisabled      bool
	CacheStore         string
	CacheLookupTimeout time.Duration

	DatabaseBackend string
	MongoURI        string
	MongoDatabase   string
	DatabaseURL     string
	RunMigrations   bool
	RedisURL        string
	CatalogSeedFile string

	MixCurated float64
	MixSourceA float64
	MixSourceB float64
	MixSeed    uint64

	AIProvider     string
	AITimeout      time.Duration
	GeminiAPIKey   string
	GeminiModel    string
	GeminiBaseURL  string
	AnthropicKey   string
	AnthropicModel string

	NaverClientID     string
	NaverClientSecret string
	NaverEndpoint     string
	ElevenstAPIKey    string
	ElevenstEndpoint  string
	DanawaEndpoint    string
	IHerbEndpoint     string
	CoupangAccessKey  string
	CoupangSecretKey  string
	CoupangEndpoint   string

	ScraperMinDelay    time.Duration
	ScraperMaxDelay    time.Duration
	ScraperMaxAttempts int
	ScraperBackoffBase time.Duration

	PlatformsFile string
	Platforms     PlatformSettings

	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
}

func LoadConfig() Config {
	limit := getEnvInt("SEARCH_LIMIT", DefaultSearchLimit)
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	cfg := Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8090"),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "text")),
		UserAgent:      getEnv("SEARCH_USER_AGENT", "price-compare-search/1.0"),
		SearchDeadline: time.Duration(getEnvInt("SEARCH_DEADLINE_SECONDS", 10)) * time.Second,
		RequestTimeout: time.Duration(getEnvInt("PLATFORM_TIMEOUT_SECONDS", 30)) * time.Second,
		SearchLimit:    limit,
		MaxResults:     getEnvIntAllowZero("SEARCH_MAX_RESULTS", 0),

		CacheTTL:           time.Duration(getEnvInt("SEARCH_CACHE_TTL_HOURS", 24)) * time.Hour,
		CacheDisabled:      getEnvBool("SEARCH_CACHE_DISABLED", false),
		CacheStore:         strings.ToLower(getEnv("CACHE_STORE", "auto")),
		CacheLookupTimeout: time.Duration(getEnvIntAllowZero("SEARCH_CACHE_LOOKUP_TIMEOUT_MS", 0)) * time.Millisecond,

		DatabaseBackend: strings.ToLower(getEnv("DATABASE_BACKEND", "memory")),
		MongoURI:        getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:   getEnv("MONGO_DATABASE", "pricecompare"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		RunMigrations:   getEnvBool("DATABASE_RUN_MIGRATIONS", true),
		RedisURL:        getEnv("REDIS_URL", ""),
		CatalogSeedFile: getEnv("CATALOG_SEED_FILE", ""),

		MixCurated: getEnvFloat("MIX_RATIO_CURATED", 0.70),
		MixSourceA: getEnvFloat("MIX_RATIO_SOURCE_A", 0.20),
		MixSourceB: getEnvFloat("MIX_RATIO_SOURCE_B", 0.10),
		MixSeed:    uint64(getEnvIntAllowZero("MIX_SEED", 0)),

		AIProvider:     strings.ToLower(getEnv("AI_PROVIDER", "gemini")),
		AITimeout:      time.Duration(getEnvInt("AI_TIMEOUT_SECONDS", 5)) * time.Second,
		GeminiAPIKey:   strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiBaseURL:  getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		AnthropicKey:   strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
		AnthropicModel: getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),

		NaverClientID:     strings.TrimSpace(os.Getenv("NAVER_CLIENT_ID")),
		NaverClientSecret: strings.TrimSpace(os.Getenv("NAVER_CLIENT_SECRET")),
		NaverEndpoint:     getEnv("NAVER_SHOP_ENDPOINT", "https://openapi.naver.com/v1/search/shop.json"),
		ElevenstAPIKey:    strings.TrimSpace(os.Getenv("ELEVENST_API_KEY")),
		ElevenstEndpoint:  getEnv("ELEVENST_ENDPOINT", "http://openapi.11st.co.kr/openapi/OpenApiService.tmall"),
		DanawaEndpoint:    getEnv("DANAWA_ENDPOINT", "https://search.danawa.com/dsearch.php"),
		IHerbEndpoint:     getEnv("IHERB_ENDPOINT", "https://kr.iherb.com/search"),
		CoupangAccessKey:  strings.TrimSpace(os.Getenv("COUPANG_ACCESS_KEY")),
		CoupangSecretKey:  strings.TrimSpace(os.Getenv("COUPANG_SECRET_KEY")),
		CoupangEndpoint:   getEnv("COUPANG_ENDPOINT", "https://api-gateway.coupang.com"),

		ScraperMinDelay:    time.Duration(getEnvIntAllowZero("SCRAPER_MIN_DELAY_MS", 1000)) * time.Millisecond,
		ScraperMaxDelay:    time.Duration(getEnvIntAllowZero("SCRAPER_MAX_DELAY_MS", 3000)) * time.Millisecond,
		ScraperMaxAttempts: getEnvInt("SCRAPER_MAX_ATTEMPTS", 3),
		ScraperBackoffBase: time.Duration(getEnvInt("SCRAPER_BACKOFF_BASE_MS", 1000)) * time.Millisecond,

		PlatformsFile: getEnv("PLATFORMS_FILE", ""),

		CORSAllowedOrigins: splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		RateLimitRPS:       getEnvFloat("RATE_LIMIT_RPS", 50),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 100),
	}
	if cfg.ScraperMaxDelay < cfg.ScraperMinDelay {
		cfg.ScraperMaxDelay = cfg.ScraperMinDelay
	}
	cfg.Platforms = DefaultPlatformSettings()
	return cfg
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvIntAllowZero(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if value := strings.TrimSpace(part); value != "" {
			out = append(out, value)
		}
	}
	return out
}
