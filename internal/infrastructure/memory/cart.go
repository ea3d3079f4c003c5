package memory

import (
	"context"
	"sort"
	"sync"
)

// CartStore keeps carts in process memory. It is the fallback when no Redis address is configured.
type CartStore struct {
	mu    sync.RWMutex
	carts map[string]map[string]int
}

func NewCartStore() *CartStore {
	return &CartStore{carts: make(map[string]map[string]int)}
}

func (s *CartStore) AddItem(_ context.Context, userID, productID string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cart, ok := s.carts[userID]
	if !ok {
		cart = make(map[string]int)
		s.carts[userID] = cart
	}
	cart[productID] += quantity
	return nil
}

// Items returns the product ids in a user's cart, sorted.
func (s *CartStore) Items(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.carts[userID]))
	for id := range s.carts[userID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *CartStore) RemoveProducts(_ context.Context, userID string, productIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cart := s.carts[userID]
	for _, id := range productIDs {
		delete(cart, id)
	}
	return nil
}
