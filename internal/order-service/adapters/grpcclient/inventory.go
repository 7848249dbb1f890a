package grpcclient

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"google.golang.org/grpc"

	"github.com/jcmexdev/checkout-saga/internal/coordinator"
	"github.com/jcmexdev/checkout-saga/internal/pkg/interceptors"
	inventoryv1 "github.com/jcmexdev/checkout-saga/internal/rpc/inventory/v1"
)

// Inventory is the client side of inventory.v1.Inventory.
type Inventory struct {
	client inventoryv1.InventoryClient
	cb     *gobreaker.CircuitBreaker
}

var _ coordinator.Inventory = (*Inventory)(nil)

func NewInventory(cc grpc.ClientConnInterface, cb *gobreaker.CircuitBreaker) *Inventory {
	return &Inventory{client: inventoryv1.NewInventoryClient(cc), cb: cb}
}

func (i *Inventory) CreateItem(ctx context.Context, price decimal.Decimal) (string, error) {
	res, err := call(ctx, i.cb, func(ctx context.Context) (*inventoryv1.CreateItemResponse, error) {
		return i.client.CreateItem(ctx, &inventoryv1.CreateItemRequest{Price: price})
	})
	if err != nil {
		return "", mapError("create item", err, coordinator.ErrInvalidArgument)
	}
	return res.ItemID, nil
}

func (i *Inventory) GetItem(ctx context.Context, itemID string) (*inventoryv1.Item, error) {
	res, err := call(ctx, i.cb, func(ctx context.Context) (*inventoryv1.Item, error) {
		return i.client.GetItem(ctx, &inventoryv1.GetItemRequest{ItemID: itemID})
	})
	if err != nil {
		return nil, mapError("get item "+itemID, err, coordinator.ErrInvalidArgument)
	}
	if res == nil {
		return nil, mapError("get item "+itemID, errEmptyResponse, nil)
	}
	return res, nil
}

func (i *Inventory) AddStock(ctx context.Context, itemID string, count int64) (int64, error) {
	res, err := call(ctx, i.cb, func(ctx context.Context) (*inventoryv1.AddStockResponse, error) {
		return i.client.AddStock(ctx, &inventoryv1.AddStockRequest{ItemID: itemID, Count: count})
	})
	if err != nil {
		return 0, mapError("add stock "+itemID, err, coordinator.ErrInvalidArgument)
	}
	return res.Stock, nil
}

func (i *Inventory) Reserve(ctx context.Context, itemID string, count int64, opID string) error {
	ctx = interceptors.WithIdempotencyKey(ctx, opID)
	_, err := call(ctx, i.cb, func(ctx context.Context) (*inventoryv1.ReserveResponse, error) {
		return i.client.Reserve(ctx, &inventoryv1.ReserveRequest{ItemID: itemID, Count: count, OperationID: opID})
	})
	if err != nil {
		return mapError("reserve "+itemID, err, coordinator.ErrInsufficientStock)
	}
	return nil
}

func (i *Inventory) Release(ctx context.Context, itemID string, count int64, opID, reserveOpID string) error {
	ctx = interceptors.WithIdempotencyKey(ctx, opID)
	_, err := call(ctx, i.cb, func(ctx context.Context) (*inventoryv1.ReleaseResponse, error) {
		return i.client.Release(ctx, &inventoryv1.ReleaseRequest{
			ItemID:             itemID,
			Count:              count,
			OperationID:        opID,
			ReserveOperationID: reserveOpID,
		})
	})
	if err != nil {
		return mapError("release "+itemID, err, coordinator.ErrInvalidArgument)
	}
	return nil
}
