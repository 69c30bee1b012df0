package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	"pricecompare/searchservice/internal/app"
	"pricecompare/searchservice/internal/cache"
	"pricecompare/searchservice/internal/domain"
	"pricecompare/searchservice/internal/providers/coupang"
	"pricecompare/searchservice/internal/search"
	"pricecompare/searchservice/internal/store/memory"
	mongostore "pricecompare/searchservice/internal/store/mongo"
	"pricecompare/searchservice/internal/store/postgres"
	"pricecompare/searchservice/internal/suggest"
)

type historyStore interface {
	search.HistorySink
	suggest.HistoryReader
}

type wishlistStore interface {
	WishlistedIDs(ctx context.Context, userID string, productIDs []string) ([]string, error)
}

type stores struct {
	backend  string
	catalog  coupang.CatalogStore
	history  historyStore
	wishlist wishlistStore
	cache    cache.Store
	seed     func(ctx context.Context, products []domain.CuratedProduct) error
	closers  []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context, cfg app.Config, logger *slog.Logger) (*stores, error) {
	switch cfg.DatabaseBackend {
	case "mongo", "mongodb":
		return openMongoStores(ctx, cfg, logger)
	case "postgres", "postgresql":
		return openPostgresStores(ctx, cfg, logger)
	case "", "memory":
		return openMemoryStores(), nil
	default:
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DatabaseBackend)
	}
}

func openMemoryStores() *stores {
	catalog := memory.NewCatalogStore()
	return &stores{
		backend:  "memory",
		catalog:  catalog,
		history:  memory.NewHistoryStore(),
		wishlist: memory.NewWishlistStore(),
		cache:    cache.NewMemoryStore(),
		seed: func(_ context.Context, products []domain.CuratedProduct) error {
			catalog.Put(products...)
			return nil
		},
	}
}

func openMongoStores(ctx context.Context, cfg app.Config, logger *slog.Logger) (*stores, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongostore.Connect(connectCtx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		disconnectMongo(client, logger)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	if err := mongostore.EnsureIndexes(connectCtx, client, cfg.MongoDatabase); err != nil {
		logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
	}

	catalog := mongostore.NewCatalogRepository(client, cfg.MongoDatabase)
	return &stores{
		backend:  "mongo",
		catalog:  catalog,
		history:  mongostore.NewHistoryRepository(client, cfg.MongoDatabase),
		wishlist: mongostore.NewWishlistRepository(client, cfg.MongoDatabase),
		cache:    mongostore.NewCacheRepository(client, cfg.MongoDatabase),
		seed:     catalog.Upsert,
		closers: []func(){func() {
			disconnectMongo(client, logger)
		}},
	}, nil
}

func disconnectMongo(client *mongo.Client, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		logger.Warn("mongo disconnect failed", slog.String("error", err.Error()))
	}
}

func openPostgresStores(ctx context.Context, cfg app.Config, logger *slog.Logger) (*stores, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for the postgres backend")
	}
	if cfg.RunMigrations {
		if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		logger.Info("postgres migrations applied")
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := postgres.Connect(connectCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	catalog := postgres.NewCatalogRepository(pool)
	return &stores{
		backend:  "postgres",
		catalog:  catalog,
		history:  postgres.NewHistoryRepository(pool),
		wishlist: postgres.NewWishlistRepository(pool),
		cache:    postgres.NewCacheRepository(pool),
		seed:     catalog.Upsert,
		closers:  []func(){pool.Close},
	}, nil
}

// selectCacheStore picks the product cache backend. "auto" prefers Redis when
// it is reachable and otherwise reuses the database backend.
func selectCacheStore(ctx context.Context, cfg app.Config, st *stores, logger *slog.Logger) cache.Store {
	mode := strings.ToLower(strings.TrimSpace(cfg.CacheStore))
	switch mode {
	case "memory":
		return cache.NewMemoryStore()
	case "redis", "auto", "":
		if strings.TrimSpace(cfg.RedisURL) != "" {
			if store := openRedisCache(ctx, cfg.RedisURL, st, logger); store != nil {
				return store
			}
		} else if mode == "redis" {
			logger.Warn("CACHE_STORE=redis without REDIS_URL, falling back", slog.String("backend", st.backend))
		}
		return st.cache
	case "mongo", "postgres":
		if mode != st.backend {
			logger.Warn("cache store does not match database backend, using memory cache",
				slog.String("cacheStore", mode),
				slog.String("backend", st.backend),
			)
			return cache.NewMemoryStore()
		}
		return st.cache
	default:
		logger.Warn("unknown cache store, using database backend", slog.String("cacheStore", mode))
		return st.cache
	}
}

func openRedisCache(ctx context.Context, redisURL string, st *stores, logger *slog.Logger) cache.Store {
	redisOpts, err := redis.ParseURL(strings.TrimSpace(redisURL))
	if err != nil {
		logger.Warn("invalid redis url, using database cache", slog.String("error", err.Error()))
		return nil
	}
	client := redis.NewClient(redisOpts)
	store := cache.NewRedisStore(client)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		logger.Warn("redis not reachable, using database cache", slog.String("error", err.Error()))
		_ = client.Close()
		return nil
	}
	logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
	st.closers = append(st.closers, func() { _ = client.Close() })
	return store
}

func seedCatalog(ctx context.Context, path string, st *stores, logger *slog.Logger) {
	path = strings.TrimSpace(path)
	if path == "" {
		return
	}
	products, err := memory.LoadCatalogSeed(path)
	if err != nil {
		logger.Warn("catalog seed load failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	seedCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := st.seed(seedCtx, products); err != nil {
		logger.Warn("catalog seed failed", slog.String("backend", st.backend), slog.String("error", err.Error()))
		return
	}
	logger.Info("catalog seeded", slog.String("backend", st.backend), slog.Int("products", len(products)))
}
