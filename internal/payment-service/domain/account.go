// Package domain holds the ledger model: user accounts with a non-negative
// credit balance and the operations applied to them.
package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount")
)

type Account struct {
	UserID string
	Credit decimal.Decimal
}

type OperationKind string

const (
	OperationCharge OperationKind = "charge"
	OperationRefund OperationKind = "refund"
	// OperationCancelled marks a charge id refunded before the charge arrived.
	// A later charge with that id is a duplicate.
	OperationCancelled OperationKind = "cancelled"
)

// Store persists accounts. Charge and Refund are deduplicated by operation id:
// a repeated id reports applied=false and changes nothing. An empty operation
// id disables deduplication.
type Store interface {
	CreateAccount(ctx context.Context, userID string) (*Account, error)
	GetAccount(ctx context.Context, userID string) (*Account, error)
	AddFunds(ctx context.Context, userID string, amount decimal.Decimal) (*Account, error)
	// Charge subtracts amount unless the balance would go negative.
	Charge(ctx context.Context, userID string, amount decimal.Decimal, operationID string) (bool, error)
	// Refund adds amount back. When chargeOperationID is set it refunds the
	// amount recorded by that charge. If the charge was never applied it does
	// nothing and cancels chargeOperationID.
	Refund(ctx context.Context, userID string, amount decimal.Decimal, operationID, chargeOperationID string) (bool, error)
}

// ValidateCharge rejects negative amounts. Zero is allowed: an empty order
// costs nothing.
func ValidateCharge(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	return nil
}

// ValidateDeposit requires a strictly positive amount.
func ValidateDeposit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}
