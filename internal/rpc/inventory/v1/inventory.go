// Package inventoryv1 defines the inventory.v1.Inventory gRPC service.
package inventoryv1

import (
	"context"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"

	"github.com/jcmexdev/checkout-saga/internal/pkg/rpc"
)

const (
	ServiceName = "inventory.v1.Inventory"

	CreateItemMethod = "/" + ServiceName + "/CreateItem"
	GetItemMethod    = "/" + ServiceName + "/GetItem"
	AddStockMethod   = "/" + ServiceName + "/AddStock"
	ReserveMethod    = "/" + ServiceName + "/Reserve"
	ReleaseMethod    = "/" + ServiceName + "/Release"
)

type CreateItemRequest struct {
	Price decimal.Decimal `json:"price"`
}

type CreateItemResponse struct {
	ItemID string `json:"item_id"`
}

type GetItemRequest struct {
	ItemID string `json:"item_id"`
}

type Item struct {
	ItemID string          `json:"item_id"`
	Price  decimal.Decimal `json:"price"`
	Stock  int64           `json:"stock"`
}

type AddStockRequest struct {
	ItemID string `json:"item_id"`
	Count  int64  `json:"count"`
}

type AddStockResponse struct {
	Stock int64 `json:"stock"`
}

type ReserveRequest struct {
	ItemID      string `json:"item_id"`
	Count       int64  `json:"count"`
	OperationID string `json:"operation_id,omitempty"`
}

type ReserveResponse struct {
	Applied bool `json:"applied"`
}

// ReleaseRequest returns stock taken by a reservation. With
// ReserveOperationID set only the count recorded by that reservation is
// returned, and nothing happens if it was never applied.
type ReleaseRequest struct {
	ItemID             string `json:"item_id"`
	Count              int64  `json:"count"`
	OperationID        string `json:"operation_id,omitempty"`
	ReserveOperationID string `json:"reserve_operation_id,omitempty"`
}

type ReleaseResponse struct {
	Applied bool `json:"applied"`
}

type InventoryServer interface {
	CreateItem(context.Context, *CreateItemRequest) (*CreateItemResponse, error)
	GetItem(context.Context, *GetItemRequest) (*Item, error)
	AddStock(context.Context, *AddStockRequest) (*AddStockResponse, error)
	Reserve(context.Context, *ReserveRequest) (*ReserveResponse, error)
	Release(context.Context, *ReleaseRequest) (*ReleaseResponse, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InventoryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateItem", Handler: rpc.UnaryHandler(CreateItemMethod, InventoryServer.CreateItem)},
		{MethodName: "GetItem", Handler: rpc.UnaryHandler(GetItemMethod, InventoryServer.GetItem)},
		{MethodName: "AddStock", Handler: rpc.UnaryHandler(AddStockMethod, InventoryServer.AddStock)},
		{MethodName: "Reserve", Handler: rpc.UnaryHandler(ReserveMethod, InventoryServer.Reserve)},
		{MethodName: "Release", Handler: rpc.UnaryHandler(ReleaseMethod, InventoryServer.Release)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "inventory/v1/inventory.json",
}

func RegisterInventoryServer(s grpc.ServiceRegistrar, srv InventoryServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type InventoryClient interface {
	CreateItem(ctx context.Context, in *CreateItemRequest, opts ...grpc.CallOption) (*CreateItemResponse, error)
	GetItem(ctx context.Context, in *GetItemRequest, opts ...grpc.CallOption) (*Item, error)
	AddStock(ctx context.Context, in *AddStockRequest, opts ...grpc.CallOption) (*AddStockResponse, error)
	Reserve(ctx context.Context, in *ReserveRequest, opts ...grpc.CallOption) (*ReserveResponse, error)
	Release(ctx context.Context, in *ReleaseRequest, opts ...grpc.CallOption) (*ReleaseResponse, error)
}

type inventoryClient struct {
	cc grpc.ClientConnInterface
}

func NewInventoryClient(cc grpc.ClientConnInterface) InventoryClient {
	return &inventoryClient{cc: cc}
}

func (c *inventoryClient) CreateItem(ctx context.Context, in *CreateItemRequest, opts ...grpc.CallOption) (*CreateItemResponse, error) {
	return rpc.Invoke[CreateItemResponse](ctx, c.cc, CreateItemMethod, in, opts...)
}

func (c *inventoryClient) GetItem(ctx context.Context, in *GetItemRequest, opts ...grpc.CallOption) (*Item, error) {
	return rpc.Invoke[Item](ctx, c.cc, GetItemMethod, in, opts...)
}

func (c *inventoryClient) AddStock(ctx context.Context, in *AddStockRequest, opts ...grpc.CallOption) (*AddStockResponse, error) {
	return rpc.Invoke[AddStockResponse](ctx, c.cc, AddStockMethod, in, opts...)
}

func (c *inventoryClient) Reserve(ctx context.Context, in *ReserveRequest, opts ...grpc.CallOption) (*ReserveResponse, error) {
	return rpc.Invoke[ReserveResponse](ctx, c.cc, ReserveMethod, in, opts...)
}

func (c *inventoryClient) Release(ctx context.Context, in *ReleaseRequest, opts ...grpc.CallOption) (*ReleaseResponse, error) {
	return rpc.Invoke[ReleaseResponse](ctx, c.cc, ReleaseMethod, in, opts...)
}
