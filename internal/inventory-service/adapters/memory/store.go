package memory

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/checkout-saga/internal/inventory-service/domain"
)

var _ domain.Store = (*Store)(nil)

// Store keeps items in process memory. Reservations are remembered by
// operation id so releases can reverse them exactly.
type Store struct {
	mu           sync.Mutex
	items        map[string]*domain.StockItem
	reservations map[string]int64
	releases     map[string]struct{}
	// cancelled holds reserve ids released before the reserve arrived.
	cancelled map[string]struct{}
}

func NewStore() *Store {
	return &Store{
		items:        make(map[string]*domain.StockItem),
		reservations: make(map[string]int64),
		releases:     make(map[string]struct{}),
		cancelled:    make(map[string]struct{}),
	}
}

func (s *Store) CreateItem(_ context.Context, itemID string, price decimal.Decimal) (*domain.StockItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := &domain.StockItem{ItemID: itemID, Price: price}
	s.items[itemID] = item
	cp := *item
	return &cp, nil
}

func (s *Store) GetItem(_ context.Context, itemID string) (*domain.StockItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	cp := *item
	return &cp, nil
}

func (s *Store) AddStock(_ context.Context, itemID string, count int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return 0, domain.ErrItemNotFound
	}
	item.Stock += count
	return item.Stock, nil
}

func (s *Store) Reserve(_ context.Context, itemID string, count int64, operationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if operationID != "" {
		if _, seen := s.reservations[operationID]; seen {
			return false, nil
		}
		if _, gone := s.cancelled[operationID]; gone {
			return false, nil
		}
	}
	item, ok := s.items[itemID]
	if !ok {
		return false, domain.ErrItemNotFound
	}
	if item.Stock < count {
		return false, domain.ErrInsufficientStock
	}

	item.Stock -= count
	if operationID != "" {
		s.reservations[operationID] = count
	}
	return true, nil
}

func (s *Store) Release(_ context.Context, itemID string, count int64, operationID, reserveOperationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.releases[operationID]; seen && operationID != "" {
		return false, nil
	}
	if reserveOperationID != "" {
		reserved, ok := s.reservations[reserveOperationID]
		if !ok {
			s.cancelled[reserveOperationID] = struct{}{}
			return false, nil
		}
		count = reserved
	}
	item, ok := s.items[itemID]
	if !ok {
		return false, domain.ErrItemNotFound
	}

	item.Stock += count
	if operationID != "" {
		s.releases[operationID] = struct{}{}
	}
	return true, nil
}
