package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pricecompare/searchservice/internal/domain"
)

type HistoryRepository struct {
	pool *pgxpool.Pool
}

func NewHistoryRepository(pool *pgxpool.Pool) *HistoryRepository {
	return &HistoryRepository{pool: pool}
}

func (r *HistoryRepository) Append(ctx context.Context, record domain.SearchHistoryRecord) error {
	id, err := uuid.Parse(strings.TrimSpace(record.ID))
	if err != nil {
		id = uuid.New()
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	keywords := record.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	var userID *string
	if record.UserID != "" {
		userID = &record.UserID
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO search_history (id, user_id, query, keywords, category, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, userID, record.Query, keywords, record.Category, createdAt)
	return err
}

// UserQueries returns distinct queries of userID containing substr, newest first.
func (r *HistoryRepository) UserQueries(ctx context.Context, userID, substr string, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT query
		FROM search_history
		WHERE user_id = $1 AND query ILIKE $2
		GROUP BY query
		ORDER BY max(created_at) DESC, query
		LIMIT $3
	`, userID, "%"+escapeLike(substr)+"%", limit)
	if err != nil {
		return nil, err
	}
	return collectQueries(rows)
}

// PopularQueries ranks queries containing substr by count, skipping excludeUserID's rows.
func (r *HistoryRepository) PopularQueries(ctx context.Context, substr, excludeUserID string, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT query
		FROM search_history
		WHERE query ILIKE $1 AND ($2 = '' OR user_id IS DISTINCT FROM $2)
		GROUP BY query
		ORDER BY count(*) DESC, query
		LIMIT $3
	`, "%"+escapeLike(substr)+"%", excludeUserID, limit)
	if err != nil {
		return nil, err
	}
	return collectQueries(rows)
}

func collectQueries(rows pgx.Rows) ([]string, error) {
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
