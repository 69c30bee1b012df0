package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"pricecompare/searchservice/internal/domain"
)

const redisKeyPrefix = "pcsearch:"

// RedisStore keeps each row as a JSON string under item:<platform>:<id> and
// indexes rows per term in a sorted set scored by cachedAt (unix millis).
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisItemKey(platform, productID string) string {
	return redisKeyPrefix + "item:" + platform + ":" + productID
}

func redisTermKey(platform, term string) string {
	return redisKeyPrefix + "term:" + platform + ":" + term
}

func (r *RedisStore) Find(ctx context.Context, platform, term string, since time.Time, limit int) ([]domain.CachedEntry, error) {
	if r == nil || r.client == nil {
		return nil, ErrStoreUnavailable
	}
	query := &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}
	if limit > 0 {
		query.Count = int64(limit)
	}
	ids, err := r.client.ZRevRangeByScore(ctx, redisTermKey(platform, term), query).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, redisItemKey(platform, id))
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]domain.CachedEntry, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var entry domain.CachedEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		// The row may since have been overwritten by another term.
		if entry.SearchTerm != term || entry.CachedAt.Before(since) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (r *RedisStore) Upsert(ctx context.Context, platform string, entries []domain.CachedEntry) error {
	if r == nil || r.client == nil {
		return ErrStoreUnavailable
	}
	pipe := r.client.TxPipeline()
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		pipe.Set(ctx, redisItemKey(platform, entry.Product.ProductID), data, 0)
		pipe.ZAdd(ctx, redisTermKey(platform, entry.SearchTerm), redis.Z{
			Score:  float64(entry.CachedAt.UnixMilli()),
			Member: entry.Product.ProductID,
		})
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
