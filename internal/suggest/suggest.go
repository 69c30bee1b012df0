package suggest

import (
	"context"
	"fmt"
	"strings"
)

const (
	DefaultLimit = 5
	MaxLimit     = 20
)

// HistoryReader reads the search history written by the search service.
type HistoryReader interface {
	UserQueries(ctx context.Context, userID, substr string, limit int) ([]string, error)
	PopularQueries(ctx context.Context, substr, excludeUserID string, limit int) ([]string, error)
}

// Service completes partial queries from search history: the caller's own
// matching queries first, then the most frequent ones from everyone else.
type Service struct {
	history HistoryReader
}

func NewService(history HistoryReader) *Service {
	return &Service{history: history}
}

func (s *Service) Suggest(ctx context.Context, query, userID string, limit int) ([]string, error) {
	substr := strings.ToLower(strings.TrimSpace(query))
	if substr == "" || s.history == nil {
		return []string{}, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)
	userID = strings.TrimSpace(userID)

	suggestions := make([]string, 0, limit)
	seen := make(map[string]struct{}, limit*2)
	add := func(values []string) {
		for _, value := range values {
			if len(suggestions) >= limit {
				return
			}
			if _, dup := seen[value]; dup {
				continue
			}
			seen[value] = struct{}{}
			suggestions = append(suggestions, value)
		}
	}

	if userID != "" {
		own, err := s.history.UserQueries(ctx, userID, substr, limit)
		if err != nil {
			return nil, fmt.Errorf("user history: %w", err)
		}
		add(own)
	}
	popular, err := s.history.PopularQueries(ctx, substr, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("popular queries: %w", err)
	}
	add(popular)
	return suggestions, nil
}
