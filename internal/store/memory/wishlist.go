package memory

import (
	"context"
	"sync"
)

type WishlistStore struct {
	mu    sync.RWMutex
	items map[string]map[string]struct{}
}

func NewWishlistStore() *WishlistStore {
	return &WishlistStore{items: make(map[string]map[string]struct{})}
}

func (s *WishlistStore) Add(userID, productID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.items[userID]
	if set == nil {
		set = make(map[string]struct{})
		s.items[userID] = set
	}
	set[productID] = struct{}{}
}

// WishlistedIDs filters productIDs down to those userID has wishlisted.
func (s *WishlistStore) WishlistedIDs(_ context.Context, userID string, productIDs []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.items[userID]
	out := make([]string, 0)
	for _, id := range productIDs {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}
