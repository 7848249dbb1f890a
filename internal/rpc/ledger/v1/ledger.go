// Package ledgerv1 defines the ledger.v1.Ledger gRPC service: user accounts
// and the charge/refund pair used by checkout. Messages travel as JSON.
package ledgerv1

import (
	"context"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"

	"github.com/jcmexdev/checkout-saga/internal/pkg/rpc"
)

const (
	ServiceName = "ledger.v1.Ledger"

	CreateAccountMethod = "/" + ServiceName + "/CreateAccount"
	GetAccountMethod    = "/" + ServiceName + "/GetAccount"
	AddFundsMethod      = "/" + ServiceName + "/AddFunds"
	ChargeMethod        = "/" + ServiceName + "/Charge"
	RefundMethod        = "/" + ServiceName + "/Refund"
)

type CreateAccountRequest struct{}

type CreateAccountResponse struct {
	UserID string `json:"user_id"`
}

type GetAccountRequest struct {
	UserID string `json:"user_id"`
}

type Account struct {
	UserID string          `json:"user_id"`
	Credit decimal.Decimal `json:"credit"`
}

type AddFundsRequest struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

type AddFundsResponse struct {
	Credit decimal.Decimal `json:"credit"`
}

type ChargeRequest struct {
	UserID      string          `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	OperationID string          `json:"operation_id,omitempty"`
}

// ChargeResponse.Applied is false when OperationID had already been charged.
type ChargeResponse struct {
	Applied bool `json:"applied"`
}

// RefundRequest reverses a charge. With ChargeOperationID set the refund only
// happens if that charge was applied, and uses the charged amount.
type RefundRequest struct {
	UserID            string          `json:"user_id"`
	Amount            decimal.Decimal `json:"amount"`
	OperationID       string          `json:"operation_id,omitempty"`
	ChargeOperationID string          `json:"charge_operation_id,omitempty"`
}

type RefundResponse struct {
	Applied bool `json:"applied"`
}

type LedgerServer interface {
	CreateAccount(context.Context, *CreateAccountRequest) (*CreateAccountResponse, error)
	GetAccount(context.Context, *GetAccountRequest) (*Account, error)
	AddFunds(context.Context, *AddFundsRequest) (*AddFundsResponse, error)
	Charge(context.Context, *ChargeRequest) (*ChargeResponse, error)
	Refund(context.Context, *RefundRequest) (*RefundResponse, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateAccount", Handler: rpc.UnaryHandler(CreateAccountMethod, LedgerServer.CreateAccount)},
		{MethodName: "GetAccount", Handler: rpc.UnaryHandler(GetAccountMethod, LedgerServer.GetAccount)},
		{MethodName: "AddFunds", Handler: rpc.UnaryHandler(AddFundsMethod, LedgerServer.AddFunds)},
		{MethodName: "Charge", Handler: rpc.UnaryHandler(ChargeMethod, LedgerServer.Charge)},
		{MethodName: "Refund", Handler: rpc.UnaryHandler(RefundMethod, LedgerServer.Refund)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ledger/v1/ledger.json",
}

func RegisterLedgerServer(s grpc.ServiceRegistrar, srv LedgerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type LedgerClient interface {
	CreateAccount(ctx context.Context, in *CreateAccountRequest, opts ...grpc.CallOption) (*CreateAccountResponse, error)
	GetAccount(ctx context.Context, in *GetAccountRequest, opts ...grpc.CallOption) (*Account, error)
	AddFunds(ctx context.Context, in *AddFundsRequest, opts ...grpc.CallOption) (*AddFundsResponse, error)
	Charge(ctx context.Context, in *ChargeRequest, opts ...grpc.CallOption) (*ChargeResponse, error)
	Refund(ctx context.Context, in *RefundRequest, opts ...grpc.CallOption) (*RefundResponse, error)
}

type ledgerClient struct {
	cc grpc.ClientConnInterface
}

func NewLedgerClient(cc grpc.ClientConnInterface) LedgerClient {
	return &ledgerClient{cc: cc}
}

func (c *ledgerClient) CreateAccount(ctx context.Context, in *CreateAccountRequest, opts ...grpc.CallOption) (*CreateAccountResponse, error) {
	return rpc.Invoke[CreateAccountResponse](ctx, c.cc, CreateAccountMethod, in, opts...)
}

func (c *ledgerClient) GetAccount(ctx context.Context, in *GetAccountRequest, opts ...grpc.CallOption) (*Account, error) {
	return rpc.Invoke[Account](ctx, c.cc, GetAccountMethod, in, opts...)
}

func (c *ledgerClient) AddFunds(ctx context.Context, in *AddFundsRequest, opts ...grpc.CallOption) (*AddFundsResponse, error) {
	return rpc.Invoke[AddFundsResponse](ctx, c.cc, AddFundsMethod, in, opts...)
}

func (c *ledgerClient) Charge(ctx context.Context, in *ChargeRequest, opts ...grpc.CallOption) (*ChargeResponse, error) {
	return rpc.Invoke[ChargeResponse](ctx, c.cc, ChargeMethod, in, opts...)
}

func (c *ledgerClient) Refund(ctx context.Context, in *RefundRequest, opts ...grpc.CallOption) (*RefundResponse, error) {
	return rpc.Invoke[RefundResponse](ctx, c.cc, RefundMethod, in, opts...)
}
