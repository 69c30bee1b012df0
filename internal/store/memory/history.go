package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"pricecompare/searchservice/internal/domain"
)

// HistoryStore is an append-only in-process search history.
type HistoryStore struct {
	mu      sync.RWMutex
	records []domain.SearchHistoryRecord
}

func NewHistoryStore() *HistoryStore {
	return &HistoryStore{}
}

func (s *HistoryStore) Append(_ context.Context, record domain.SearchHistoryRecord) error {
	s.mu.Lock()
	s.records = append(s.records, record)
	s.mu.Unlock()
	return nil
}

// UserQueries returns distinct queries of userID containing substr, newest first.
func (s *HistoryStore) UserQueries(_ context.Context, userID, substr string, limit int) ([]string, error) {
	needle := strings.ToLower(substr)
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0)
	seen := make(map[string]struct{})
	for i := len(s.records) - 1; i >= 0; i-- {
		record := s.records[i]
		if record.UserID != userID || !strings.Contains(strings.ToLower(record.Query), needle) {
			continue
		}
		if _, ok := seen[record.Query]; ok {
			continue
		}
		seen[record.Query] = struct{}{}
		out = append(out, record.Query)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// PopularQueries ranks queries containing substr by how often callers other
// than excludeUserID searched them.
func (s *HistoryStore) PopularQueries(_ context.Context, substr, excludeUserID string, limit int) ([]string, error) {
	needle := strings.ToLower(substr)
	counts := make(map[string]int)
	s.mu.RLock()
	for _, record := range s.records {
		if excludeUserID != "" && record.UserID == excludeUserID {
			continue
		}
		if strings.Contains(strings.ToLower(record.Query), needle) {
			counts[record.Query]++
		}
	}
	s.mu.RUnlock()

	out := make([]string, 0, len(counts))
	for query := range counts {
		out = append(out, query)
	}
	sort.Slice(out, func(i, j int) bool {
		if counts[out[i]] != counts[out[j]] {
			return counts[out[i]] > counts[out[j]]
		}
		return out[i] < out[j]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *HistoryStore) Records() []domain.SearchHistoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SearchHistoryRecord, len(s.records))
	copy(out, s.records)
	return out
}
