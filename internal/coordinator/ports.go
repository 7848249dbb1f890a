package coordinator

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/checkout-saga/internal/pkg/events"
	"github.com/jcmexdev/checkout-saga/internal/pkg/lock"
)

// Ledger moves money on user accounts. opID makes each call idempotent;
// Refund with a chargeOpID only reverses a charge that was applied.
type Ledger interface {
	Charge(ctx context.Context, userID string, amount decimal.Decimal, opID string) error
	Refund(ctx context.Context, userID string, amount decimal.Decimal, opID, chargeOpID string) error
}

// Inventory reserves and releases stock, with the same idempotency contract
// as Ledger.
type Inventory interface {
	Reserve(ctx context.Context, itemID string, count int64, opID string) error
	Release(ctx context.Context, itemID string, count int64, opID, reserveOpID string) error
}

// Orders reads orders and marks them paid.
type Orders interface {
	GetOrder(ctx context.Context, orderID string) (*OrderSnapshot, error)
	// MarkPaid sets paid only if the order is still unpaid and holds exactly
	// items, recording sagaID as the payer. A changed order gives
	// ErrOrderChanged.
	MarkPaid(ctx context.Context, orderID, sagaID string, items []string) error
}

type Locker = lock.Locker

type Publisher = events.Publisher

// OrderSnapshot is the view of an order the checkout works from.
type OrderSnapshot struct {
	OrderID   string
	UserID    string
	Paid      bool
	PaidBy    string
	Items     []string
	TotalCost decimal.Decimal
}

// Line is one distinct item of an order with its multiplicity.
type Line struct {
	ItemID string `json:"item_id"`
	Count  int64  `json:"count"`
}

// Collapse groups an order's item list into lines, ordered by the first
// occurrence of each item.
func Collapse(items []string) []Line {
	index := make(map[string]int, len(items))
	var lines []Line
	for _, id := range items {
		if i, ok := index[id]; ok {
			lines[i].Count++
			continue
		}
		index[id] = len(lines)
		lines = append(lines, Line{ItemID: id, Count: 1})
	}
	return lines
}

// Config tunes checkout timing and retries.
type Config struct {
	StepTimeout         time.Duration
	LockTTL             time.Duration
	CompensationRetries uint64
	CompensationBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.StepTimeout <= 0 {
		c.StepTimeout = 2 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	if c.CompensationBackoff <= 0 {
		c.CompensationBackoff = 100 * time.Millisecond
	}
	return c
}

// Expand is the inverse of Collapse, up to ordering.
func Expand(lines []Line) []string {
	var items []string
	for _, line := range lines {
		for range line.Count {
			items = append(items, line.ItemID)
		}
	}
	return items
}
