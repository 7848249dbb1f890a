// Package inventoryservice serves the inventory.v1.Inventory gRPC API on top
// of a domain.Store.
package inventoryservice

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jcmexdev/checkout-saga/internal/inventory-service/adapters/grpc/mappers"
	"github.com/jcmexdev/checkout-saga/internal/inventory-service/domain"
	"github.com/jcmexdev/checkout-saga/internal/pkg/telemetry"
	inventoryv1 "github.com/jcmexdev/checkout-saga/internal/rpc/inventory/v1"
)

var _ inventoryv1.InventoryServer = (*Server)(nil)

type Server struct {
	store  domain.Store
	logger *zap.Logger
}

func NewServer(store domain.Store, logger *zap.Logger) *Server {
	return &Server{store: store, logger: logger}
}

func (s *Server) CreateItem(ctx context.Context, req *inventoryv1.CreateItemRequest) (*inventoryv1.CreateItemResponse, error) {
	if req.Price.IsNegative() {
		return nil, s.toStatus(ctx, "create item", domain.ErrInvalidPrice)
	}
	item, err := s.store.CreateItem(ctx, uuid.NewString(), req.Price)
	if err != nil {
		return nil, s.toStatus(ctx, "create item", err)
	}
	return &inventoryv1.CreateItemResponse{ItemID: item.ItemID}, nil
}

func (s *Server) GetItem(ctx context.Context, req *inventoryv1.GetItemRequest) (*inventoryv1.Item, error) {
	item, err := s.store.GetItem(ctx, req.ItemID)
	if err != nil {
		return nil, s.toStatus(ctx, "get item", err)
	}
	return mappers.ItemToProto(item), nil
}

func (s *Server) AddStock(ctx context.Context, req *inventoryv1.AddStockRequest) (*inventoryv1.AddStockResponse, error) {
	if req.Count <= 0 {
		return nil, s.toStatus(ctx, "add stock", domain.ErrInvalidCount)
	}
	stock, err := s.store.AddStock(ctx, req.ItemID, req.Count)
	if err != nil {
		return nil, s.toStatus(ctx, "add stock", err)
	}
	return &inventoryv1.AddStockResponse{Stock: stock}, nil
}

func (s *Server) Reserve(ctx context.Context, req *inventoryv1.ReserveRequest) (*inventoryv1.ReserveResponse, error) {
	if req.Count <= 0 {
		return nil, s.toStatus(ctx, "reserve", domain.ErrInvalidCount)
	}
	opID := mappers.OperationID(ctx, req.OperationID)

	applied, err := s.store.Reserve(ctx, req.ItemID, req.Count, opID)
	if err != nil {
		return nil, s.toStatus(ctx, "reserve", err)
	}

	telemetry.WithTrace(ctx, s.logger).Info("reserve",
		zap.String("item_id", req.ItemID),
		zap.Int64("count", req.Count),
		zap.String("operation_id", opID),
		zap.Bool("applied", applied),
	)
	return &inventoryv1.ReserveResponse{Applied: applied}, nil
}

func (s *Server) Release(ctx context.Context, req *inventoryv1.ReleaseRequest) (*inventoryv1.ReleaseResponse, error) {
	if req.Count <= 0 && req.ReserveOperationID == "" {
		return nil, s.toStatus(ctx, "release", domain.ErrInvalidCount)
	}
	opID := mappers.OperationID(ctx, req.OperationID)

	applied, err := s.store.Release(ctx, req.ItemID, req.Count, opID, req.ReserveOperationID)
	if err != nil {
		return nil, s.toStatus(ctx, "release", err)
	}

	telemetry.WithTrace(ctx, s.logger).Info("release",
		zap.String("item_id", req.ItemID),
		zap.String("operation_id", opID),
		zap.String("reserve_operation_id", req.ReserveOperationID),
		zap.Bool("applied", applied),
	)
	return &inventoryv1.ReleaseResponse{Applied: applied}, nil
}

func (s *Server) toStatus(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, domain.ErrItemNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInsufficientStock):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrInvalidCount), errors.Is(err, domain.ErrInvalidPrice):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		telemetry.WithTrace(ctx, s.logger).Error("inventory store failure", zap.String("op", op), zap.Error(err))
		return status.Error(codes.Unavailable, "inventory store unavailable")
	}
}
