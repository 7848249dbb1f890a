package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Step names. Reserve steps are suffixed with the item id.
const (
	StepCharge   = "charge"
	StepReserve  = "reserve"
	StepMarkPaid = "mark_paid"
)

// Operation ids are derived from the saga id so a retried or recovered saga
// reuses them and downstream stores deduplicate.
func chargeOpID(sagaID string) string { return sagaID + ":charge" }
func refundOpID(sagaID string) string { return sagaID + ":refund" }
func reserveOpID(sagaID, itemID string) string {
	return sagaID + ":reserve:" + itemID
}
func releaseOpID(sagaID, itemID string) string {
	return sagaID + ":release:" + itemID
}

// --- PaymentStep ---

type PaymentStep struct {
	ledger Ledger
	sagaID string
	userID string
	amount decimal.Decimal
}

func NewPaymentStep(ledger Ledger, sagaID, userID string, amount decimal.Decimal) *PaymentStep {
	return &PaymentStep{ledger: ledger, sagaID: sagaID, userID: userID, amount: amount}
}

func (s *PaymentStep) Name() string { return StepCharge }

func (s *PaymentStep) Execute(ctx context.Context) error {
	err := s.ledger.Charge(ctx, s.userID, s.amount, chargeOpID(s.sagaID))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInsufficientFunds):
		return fmt.Errorf("charge user %s: %w", s.userID, err)
	case errors.Is(err, ErrNotFound):
		return fmt.Errorf("charge user %s: %w: %w", s.userID, ErrInsufficientFunds, err)
	default:
		return unavailable("charge", err)
	}
}

// Compensate refunds exactly what the charge took, if it took anything.
func (s *PaymentStep) Compensate(ctx context.Context) error {
	return s.ledger.Refund(ctx, s.userID, s.amount, refundOpID(s.sagaID), chargeOpID(s.sagaID))
}

// --- ReserveStep ---

type ReserveStep struct {
	inventory Inventory
	sagaID    string
	line      Line
}

func NewReserveStep(inventory Inventory, sagaID string, line Line) *ReserveStep {
	return &ReserveStep{inventory: inventory, sagaID: sagaID, line: line}
}

func (s *ReserveStep) Name() string { return StepReserve + ":" + s.line.ItemID }

func (s *ReserveStep) Execute(ctx context.Context) error {
	err := s.inventory.Reserve(ctx, s.line.ItemID, s.line.Count, reserveOpID(s.sagaID, s.line.ItemID))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrNotFound):
		return &StockShortageError{ItemID: s.line.ItemID, Err: err}
	default:
		return unavailable("reserve "+s.line.ItemID, err)
	}
}

func (s *ReserveStep) Compensate(ctx context.Context) error {
	return s.inventory.Release(ctx, s.line.ItemID, s.line.Count,
		releaseOpID(s.sagaID, s.line.ItemID), reserveOpID(s.sagaID, s.line.ItemID))
}

// --- MarkPaidStep ---

type MarkPaidStep struct {
	orders  Orders
	sagaID  string
	orderID string
	items   []string
	timeout time.Duration
}

// NewMarkPaidStep marks orderID paid as long as it still holds items, the
// basket the saga charged and reserved for.
func NewMarkPaidStep(orders Orders, sagaID, orderID string, items []string, timeout time.Duration) *MarkPaidStep {
	return &MarkPaidStep{orders: orders, sagaID: sagaID, orderID: orderID, items: items, timeout: timeout}
}

func (s *MarkPaidStep) Name() string { return StepMarkPaid }

// Execute marks the order paid. When the outcome is unknown it re-reads the
// order and succeeds only if this saga is recorded as the payer.
func (s *MarkPaidStep) Execute(ctx context.Context) error {
	err := s.orders.MarkPaid(ctx, s.orderID, s.sagaID, s.items)
	if err == nil || errors.Is(err, ErrAlreadyPaid) || errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrOrderChanged) {
		return err
	}

	readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if paid, readErr := PaidBy(readCtx, s.orders, s.orderID, s.sagaID); readErr == nil && paid {
		return nil
	}
	return unavailable("mark paid", err)
}

// Compensate is a no-op: mark-paid is the pivot, nothing runs after it.
func (s *MarkPaidStep) Compensate(context.Context) error { return nil }

// PaidBy reports whether orderID is paid and sagaID is its payer.
func PaidBy(ctx context.Context, orders Orders, orderID, sagaID string) (bool, error) {
	snap, err := orders.GetOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	return snap.Paid && snap.PaidBy == sagaID, nil
}

// BuildSteps lays out the checkout saga for one order: charge, one
// reservation per line, then mark-paid.
func BuildSteps(sc SagaContext, ledger Ledger, inventory Inventory, orders Orders, timeout time.Duration) []Step {
	steps := make([]Step, 0, len(sc.Lines)+2)
	steps = append(steps, NewPaymentStep(ledger, sc.SagaID, sc.UserID, sc.TotalCost))
	for _, line := range sc.Lines {
		steps = append(steps, NewReserveStep(inventory, sc.SagaID, line))
	}
	return append(steps, NewMarkPaidStep(orders, sc.SagaID, sc.OrderID, Expand(sc.Lines), timeout))
}
