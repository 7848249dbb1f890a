// Package memory keeps orders in process memory.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/jcmexdev/checkout-saga/internal/order-service/domain"
)

type Repository struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
}

var _ domain.Repository = (*Repository)(nil)

func NewRepository() *Repository {
	return &Repository{orders: make(map[string]*domain.Order)}
}

func (r *Repository) Create(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = clone(order)
	return nil
}

func (r *Repository) Get(_ context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return clone(o), nil
}

func (r *Repository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[id]; !ok {
		return domain.ErrOrderNotFound
	}
	delete(r.orders, id)
	return nil
}

func (r *Repository) ListByUser(_ context.Context, userID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found []*domain.Order
	for _, o := range r.orders {
		if o.UserID == userID {
			found = append(found, o)
		}
	}
	slices.SortFunc(found, func(a, b *domain.Order) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	ids := make([]string, len(found))
	for i, o := range found {
		ids[i] = o.ID
	}
	return ids, nil
}

func (r *Repository) AddItem(_ context.Context, id string, item domain.OrderItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, err := r.unpaid(id)
	if err != nil {
		return err
	}
	o.Items = append(o.Items, item)
	return nil
}

func (r *Repository) RemoveItem(_ context.Context, id, itemID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, err := r.unpaid(id)
	if err != nil {
		return err
	}
	for i := len(o.Items) - 1; i >= 0; i-- {
		if o.Items[i].ItemID == itemID {
			o.Items = slices.Delete(o.Items, i, i+1)
			return nil
		}
	}
	return domain.ErrItemNotInOrder
}

func (r *Repository) MarkPaid(_ context.Context, id, sagaID string, items []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if o.Paid {
		if o.PaidBy == sagaID {
			return nil
		}
		return domain.ErrOrderPaid
	}
	if !o.HasItems(items) {
		return domain.ErrOrderChanged
	}
	o.Paid = true
	o.PaidBy = sagaID
	return nil
}

func (r *Repository) unpaid(id string) (*domain.Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	if o.Paid {
		return nil, domain.ErrOrderPaid
	}
	return o, nil
}

func clone(o *domain.Order) *domain.Order {
	cp := *o
	cp.Items = slices.Clone(o.Items)
	return &cp
}
