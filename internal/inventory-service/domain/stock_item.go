// Package domain holds the inventory model: priced items with a
// non-negative stock count.
package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrItemNotFound      = errors.New("item not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidCount      = errors.New("count must be positive")
	ErrInvalidPrice      = errors.New("price must not be negative")
)

// StockItem's price is fixed at creation.
type StockItem struct {
	ItemID string
	Price  decimal.Decimal
	Stock  int64
}

// Store persists items. Reserve and Release are deduplicated by operation id;
// a repeated id reports applied=false and changes nothing.
type Store interface {
	CreateItem(ctx context.Context, itemID string, price decimal.Decimal) (*StockItem, error)
	GetItem(ctx context.Context, itemID string) (*StockItem, error)
	AddStock(ctx context.Context, itemID string, count int64) (int64, error)
	// Reserve subtracts count unless stock would go negative.
	Reserve(ctx context.Context, itemID string, count int64, operationID string) (bool, error)
	// Release adds stock back. When reserveOperationID is set it returns the
	// count recorded by that reservation, or does nothing if it was never applied.
	Release(ctx context.Context, itemID string, count int64, operationID, reserveOperationID string) (bool, error)
}
