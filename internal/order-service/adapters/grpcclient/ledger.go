package grpcclient

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"google.golang.org/grpc"

	"github.com/jcmexdev/checkout-saga/internal/coordinator"
	"github.com/jcmexdev/checkout-saga/internal/pkg/interceptors"
	ledgerv1 "github.com/jcmexdev/checkout-saga/internal/rpc/ledger/v1"
)

// Ledger is the client side of ledger.v1.Ledger.
type Ledger struct {
	client ledgerv1.LedgerClient
	cb     *gobreaker.CircuitBreaker
}

var _ coordinator.Ledger = (*Ledger)(nil)

func NewLedger(cc grpc.ClientConnInterface, cb *gobreaker.CircuitBreaker) *Ledger {
	return &Ledger{client: ledgerv1.NewLedgerClient(cc), cb: cb}
}

func (l *Ledger) CreateAccount(ctx context.Context) (string, error) {
	res, err := call(ctx, l.cb, func(ctx context.Context) (*ledgerv1.CreateAccountResponse, error) {
		return l.client.CreateAccount(ctx, &ledgerv1.CreateAccountRequest{})
	})
	if err != nil {
		return "", mapError("create account", err, coordinator.ErrInvalidArgument)
	}
	return res.UserID, nil
}

func (l *Ledger) GetAccount(ctx context.Context, userID string) (*ledgerv1.Account, error) {
	res, err := call(ctx, l.cb, func(ctx context.Context) (*ledgerv1.Account, error) {
		return l.client.GetAccount(ctx, &ledgerv1.GetAccountRequest{UserID: userID})
	})
	if err != nil {
		return nil, mapError("get account "+userID, err, coordinator.ErrInvalidArgument)
	}
	if res == nil {
		return nil, mapError("get account "+userID, errEmptyResponse, nil)
	}
	return res, nil
}

func (l *Ledger) AddFunds(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	res, err := call(ctx, l.cb, func(ctx context.Context) (*ledgerv1.AddFundsResponse, error) {
		return l.client.AddFunds(ctx, &ledgerv1.AddFundsRequest{UserID: userID, Amount: amount})
	})
	if err != nil {
		return decimal.Zero, mapError("add funds "+userID, err, coordinator.ErrInvalidArgument)
	}
	return res.Credit, nil
}

func (l *Ledger) Charge(ctx context.Context, userID string, amount decimal.Decimal, opID string) error {
	ctx = interceptors.WithIdempotencyKey(ctx, opID)
	_, err := call(ctx, l.cb, func(ctx context.Context) (*ledgerv1.ChargeResponse, error) {
		return l.client.Charge(ctx, &ledgerv1.ChargeRequest{UserID: userID, Amount: amount, OperationID: opID})
	})
	if err != nil {
		return mapError("charge "+userID, err, coordinator.ErrInsufficientFunds)
	}
	return nil
}

func (l *Ledger) Refund(ctx context.Context, userID string, amount decimal.Decimal, opID, chargeOpID string) error {
	ctx = interceptors.WithIdempotencyKey(ctx, opID)
	_, err := call(ctx, l.cb, func(ctx context.Context) (*ledgerv1.RefundResponse, error) {
		return l.client.Refund(ctx, &ledgerv1.RefundRequest{
			UserID:            userID,
			Amount:            amount,
			OperationID:       opID,
			ChargeOperationID: chargeOpID,
		})
	})
	if err != nil {
		return mapError("refund "+userID, err, coordinator.ErrInvalidArgument)
	}
	return nil
}
