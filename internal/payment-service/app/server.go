package app

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jcmexdev/checkout-saga/internal/payment-service/domain"
	"github.com/jcmexdev/checkout-saga/internal/pkg/interceptors"
	"github.com/jcmexdev/checkout-saga/internal/pkg/interceptors/constants"
	"github.com/jcmexdev/checkout-saga/internal/pkg/telemetry"
	ledgerv1 "github.com/jcmexdev/checkout-saga/internal/rpc/ledger/v1"
)

var _ ledgerv1.LedgerServer = (*LedgerServer)(nil)

// LedgerServer exposes a domain.Store over gRPC.
type LedgerServer struct {
	store  domain.Store
	logger *zap.Logger
}

func NewLedgerServer(store domain.Store, logger *zap.Logger) *LedgerServer {
	return &LedgerServer{store: store, logger: logger}
}

func (s *LedgerServer) CreateAccount(ctx context.Context, _ *ledgerv1.CreateAccountRequest) (*ledgerv1.CreateAccountResponse, error) {
	acc, err := s.store.CreateAccount(ctx, uuid.NewString())
	if err != nil {
		return nil, s.toStatus(ctx, "create account", err)
	}
	return &ledgerv1.CreateAccountResponse{UserID: acc.UserID}, nil
}

func (s *LedgerServer) GetAccount(ctx context.Context, req *ledgerv1.GetAccountRequest) (*ledgerv1.Account, error) {
	acc, err := s.store.GetAccount(ctx, req.UserID)
	if err != nil {
		return nil, s.toStatus(ctx, "get account", err)
	}
	return &ledgerv1.Account{UserID: acc.UserID, Credit: acc.Credit}, nil
}

func (s *LedgerServer) AddFunds(ctx context.Context, req *ledgerv1.AddFundsRequest) (*ledgerv1.AddFundsResponse, error) {
	if err := domain.ValidateDeposit(req.Amount); err != nil {
		return nil, s.toStatus(ctx, "add funds", err)
	}
	acc, err := s.store.AddFunds(ctx, req.UserID, req.Amount)
	if err != nil {
		return nil, s.toStatus(ctx, "add funds", err)
	}
	return &ledgerv1.AddFundsResponse{Credit: acc.Credit}, nil
}

func (s *LedgerServer) Charge(ctx context.Context, req *ledgerv1.ChargeRequest) (*ledgerv1.ChargeResponse, error) {
	if err := domain.ValidateCharge(req.Amount); err != nil {
		return nil, s.toStatus(ctx, "charge", err)
	}
	opID := operationID(ctx, req.OperationID)

	applied, err := s.store.Charge(ctx, req.UserID, req.Amount, opID)
	if err != nil {
		return nil, s.toStatus(ctx, "charge", err)
	}

	telemetry.WithTrace(ctx, s.logger).Info("charge",
		zap.String("user_id", req.UserID),
		zap.String("amount", req.Amount.String()),
		zap.String("operation_id", opID),
		zap.Bool("applied", applied),
	)
	return &ledgerv1.ChargeResponse{Applied: applied}, nil
}

func (s *LedgerServer) Refund(ctx context.Context, req *ledgerv1.RefundRequest) (*ledgerv1.RefundResponse, error) {
	if err := domain.ValidateCharge(req.Amount); err != nil {
		return nil, s.toStatus(ctx, "refund", err)
	}
	opID := operationID(ctx, req.OperationID)

	applied, err := s.store.Refund(ctx, req.UserID, req.Amount, opID, req.ChargeOperationID)
	if err != nil {
		return nil, s.toStatus(ctx, "refund", err)
	}

	telemetry.WithTrace(ctx, s.logger).Info("refund",
		zap.String("user_id", req.UserID),
		zap.String("operation_id", opID),
		zap.String("charge_operation_id", req.ChargeOperationID),
		zap.Bool("applied", applied),
	)
	return &ledgerv1.RefundResponse{Applied: applied}, nil
}

// operationID prefers the request field and falls back to the
// x-idempotency-key metadata.
func operationID(ctx context.Context, fromRequest string) string {
	if fromRequest != "" {
		return fromRequest
	}
	return interceptors.GetMetadataValue(ctx, constants.HeaderXIdempotencyKey)
}

func (s *LedgerServer) toStatus(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrInvalidAmount):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		telemetry.WithTrace(ctx, s.logger).Error("ledger store failure", zap.String("op", op), zap.Error(err))
		return status.Error(codes.Unavailable, "ledger store unavailable")
	}
}
