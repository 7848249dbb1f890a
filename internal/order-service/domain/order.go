package domain

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrOrderPaid      = errors.New("order already paid")
	ErrItemNotInOrder = errors.New("item not in order")
	ErrOrderChanged   = errors.New("order items changed during checkout")
)

// Order is a user's basket. Items holds one entry per unit, in the order they
// were added, each with the unit price captured when its item was first added.
type Order struct {
	ID        string
	UserID    string
	Paid      bool
	PaidBy    string
	Items     []OrderItem
	CreatedAt time.Time
}

type OrderItem struct {
	ItemID string
	Price  decimal.Decimal
}

func (o *Order) TotalCost() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.Price)
	}
	return total
}

// ItemIDs returns the items as a multiset, one id per unit.
func (o *Order) ItemIDs() []string {
	ids := make([]string, len(o.Items))
	for i, it := range o.Items {
		ids[i] = it.ItemID
	}
	return ids
}

// HasItems reports whether the order holds exactly expected, ignoring order.
func (o *Order) HasItems(expected []string) bool {
	if len(expected) != len(o.Items) {
		return false
	}
	got := o.ItemIDs()
	slices.Sort(got)
	want := slices.Clone(expected)
	slices.Sort(want)
	return slices.Equal(got, want)
}

// PriceOf returns the price already recorded for itemID in this order.
func (o *Order) PriceOf(itemID string) (decimal.Decimal, bool) {
	for _, it := range o.Items {
		if it.ItemID == itemID {
			return it.Price, true
		}
	}
	return decimal.Zero, false
}

// Repository persists orders. AddItem and RemoveItem fail with ErrOrderPaid on
// a paid order. MarkPaid succeeds only on an unpaid order holding exactly
// items, or when sagaID already paid it; an unpaid order whose items differ
// gives ErrOrderChanged.
type Repository interface {
	Create(ctx context.Context, order *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	Delete(ctx context.Context, id string) error
	ListByUser(ctx context.Context, userID string) ([]string, error)
	AddItem(ctx context.Context, id string, item OrderItem) error
	RemoveItem(ctx context.Context, id, itemID string) error
	MarkPaid(ctx context.Context, id, sagaID string, items []string) error
}
