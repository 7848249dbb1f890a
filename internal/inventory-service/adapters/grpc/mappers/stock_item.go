package mappers

import (
	"context"

	"github.com/jcmexdev/checkout-saga/internal/inventory-service/domain"
	"github.com/jcmexdev/checkout-saga/internal/pkg/interceptors"
	"github.com/jcmexdev/checkout-saga/internal/pkg/interceptors/constants"
	inventoryv1 "github.com/jcmexdev/checkout-saga/internal/rpc/inventory/v1"
)

func ItemToProto(item *domain.StockItem) *inventoryv1.Item {
	if item == nil {
		return nil
	}
	return &inventoryv1.Item{
		ItemID: item.ItemID,
		Price:  item.Price,
		Stock:  item.Stock,
	}
}

// OperationID prefers the id carried in the message and falls back to the
// x-idempotency-key metadata set by the caller.
func OperationID(ctx context.Context, fromRequest string) string {
	if fromRequest != "" {
		return fromRequest
	}
	return interceptors.GetMetadataValue(ctx, constants.HeaderXIdempotencyKey)
}
