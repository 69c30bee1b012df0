package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WishlistRepository reads wishlist membership. Rows are written by the storefront.
type WishlistRepository struct {
	pool *pgxpool.Pool
}

func NewWishlistRepository(pool *pgxpool.Pool) *WishlistRepository {
	return &WishlistRepository{pool: pool}
}

func (r *WishlistRepository) WishlistedIDs(ctx context.Context, userID string, productIDs []string) ([]string, error) {
	if userID == "" || len(productIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT product_id FROM wishlist_items
		WHERE user_id = $1 AND product_id = ANY($2)
	`, userID, productIDs)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
