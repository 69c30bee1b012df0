package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pricecompare/searchservice/internal/domain"
)

// CacheRepository implements cache.Store over the product_cache table.
type CacheRepository struct {
	pool *pgxpool.Pool
}

func NewCacheRepository(pool *pgxpool.Pool) *CacheRepository {
	return &CacheRepository{pool: pool}
}

func (r *CacheRepository) Find(ctx context.Context, platform, term string, since time.Time, limit int) ([]domain.CachedEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `
		SELECT platform, product_id, name, price, original_price, discount_percent, rating,
		       review_count, image_url, product_url, mall_name, search_term, cached_at
		FROM product_cache
		WHERE platform = $1 AND search_term = $2 AND cached_at >= $3
		ORDER BY cached_at DESC, product_id
		LIMIT $4
	`, platform, term, since, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := make([]domain.CachedEntry, 0)
	for rows.Next() {
		var entry domain.CachedEntry
		product := &entry.Product
		if err := rows.Scan(
			&product.Platform,
			&product.ProductID,
			&product.Name,
			&product.Price,
			&product.OriginalPrice,
			&product.DiscountPercent,
			&product.Rating,
			&product.ReviewCount,
			&product.ImageURL,
			&product.ProductURL,
			&product.MallName,
			&entry.SearchTerm,
			&entry.CachedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, classify(rows.Err())
}

const upsertCacheSQL = `
	INSERT INTO product_cache (platform, product_id, name, price, original_price, discount_percent,
	                           rating, review_count, image_url, product_url, mall_name, search_term, cached_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (platform, product_id) DO UPDATE SET
		name = EXCLUDED.name,
		price = EXCLUDED.price,
		original_price = EXCLUDED.original_price,
		discount_percent = EXCLUDED.discount_percent,
		rating = EXCLUDED.rating,
		review_count = EXCLUDED.review_count,
		image_url = EXCLUDED.image_url,
		product_url = EXCLUDED.product_url,
		mall_name = EXCLUDED.mall_name,
		search_term = EXCLUDED.search_term,
		cached_at = EXCLUDED.cached_at
`

func (r *CacheRepository) Upsert(ctx context.Context, platform string, entries []domain.CachedEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, entry := range entries {
		p := entry.Product
		batch.Queue(upsertCacheSQL,
			platform, p.ProductID, p.Name, p.Price, p.OriginalPrice, p.DiscountPercent,
			p.Rating, p.ReviewCount, p.ImageURL, p.ProductURL, p.MallName, entry.SearchTerm, entry.CachedAt,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range entries {
		if _, err := results.Exec(); err != nil {
			return classify(err)
		}
	}
	return nil
}
