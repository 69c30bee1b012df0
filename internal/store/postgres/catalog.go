package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pricecompare/searchservice/internal/domain"
)

type CatalogRepository struct {
	pool *pgxpool.Pool
}

func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// FindActive matches any keyword against name, category or keyword tags, newest first.
func (r *CatalogRepository) FindActive(ctx context.Context, keywords []string, limit int) ([]domain.CuratedProduct, error) {
	patterns := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		if value := strings.TrimSpace(keyword); value != "" {
			patterns = append(patterns, "%"+escapeLike(value)+"%")
		}
	}
	if len(patterns) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.pool.Query(ctx, `
		SELECT product_id, name, price, image_url, affiliate_url, category, keywords, is_active, created_at, updated_at
		FROM curated_products
		WHERE is_active
		  AND (name ILIKE ANY($1)
		       OR category ILIKE ANY($1)
		       OR EXISTS (SELECT 1 FROM unnest(keywords) AS k WHERE k ILIKE ANY($1)))
		ORDER BY created_at DESC, product_id
		LIMIT $2
	`, patterns, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.CuratedProduct, 0)
	for rows.Next() {
		var product domain.CuratedProduct
		if err := rows.Scan(
			&product.ProductID,
			&product.Name,
			&product.Price,
			&product.ImageURL,
			&product.AffiliateURL,
			&product.Category,
			&product.Keywords,
			&product.IsActive,
			&product.CreatedAt,
			&product.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, product)
	}
	return out, rows.Err()
}

// Upsert writes products by id. Used to load the catalog seed file.
func (r *CatalogRepository) Upsert(ctx context.Context, products []domain.CuratedProduct) error {
	if len(products) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range products {
		keywords := p.Keywords
		if keywords == nil {
			keywords = []string{}
		}
		batch.Queue(`
			INSERT INTO curated_products (product_id, name, price, image_url, affiliate_url, category, keywords, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
			ON CONFLICT (product_id) DO UPDATE SET
				name = EXCLUDED.name,
				price = EXCLUDED.price,
				image_url = EXCLUDED.image_url,
				affiliate_url = EXCLUDED.affiliate_url,
				category = EXCLUDED.category,
				keywords = EXCLUDED.keywords,
				is_active = EXCLUDED.is_active,
				updated_at = now()
		`, p.ProductID, p.Name, p.Price, p.ImageURL, p.AffiliateURL, p.Category, keywords, p.IsActive, p.CreatedAt)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range products {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}
