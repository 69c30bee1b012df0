package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"pricecompare/searchservice/internal/domain"
)

type memoryKey struct {
	platform  string
	productID string
}

// MemoryStore keeps cached rows in process. Rows are never evicted.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[memoryKey]domain.CachedEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[memoryKey]domain.CachedEntry)}
}

func (m *MemoryStore) Find(_ context.Context, platform, term string, since time.Time, limit int) ([]domain.CachedEntry, error) {
	m.mu.RLock()
	out := make([]domain.CachedEntry, 0)
	for key, entry := range m.rows {
		if key.platform != platform || entry.SearchTerm != term {
			continue
		}
		if entry.CachedAt.Before(since) {
			continue
		}
		out = append(out, entry)
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CachedAt.Equal(out[j].CachedAt) {
			return out[i].CachedAt.After(out[j].CachedAt)
		}
		return out[i].Product.ProductID < out[j].Product.ProductID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Upsert(_ context.Context, platform string, entries []domain.CachedEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range entries {
		m.rows[memoryKey{platform: platform, productID: entry.Product.ProductID}] = entry
	}
	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}
