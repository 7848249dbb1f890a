package coordinator

import (
	"errors"
	"fmt"

	"github.com/jcmexdev/checkout-saga/internal/pkg/lock"
)

// Abort reasons. Checkout returns errors that wrap exactly one of these.
var (
	ErrOrderNotFound         = errors.New("order not found")
	ErrAlreadyPaid           = errors.New("order already paid")
	ErrOrderChanged          = errors.New("order changed during checkout")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrDownstreamUnavailable = errors.New("downstream unavailable")
	ErrCheckoutInProgress    = errors.New("checkout already in progress")
)

// Port errors returned by Ledger and Inventory adapters.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrLockHeld        = lock.ErrHeld
)

// StockShortageError names the item whose reservation was refused.
type StockShortageError struct {
	ItemID string
	Err    error
}

func (e *StockShortageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("insufficient stock for item %s: %v", e.ItemID, e.Err)
	}
	return fmt.Sprintf("insufficient stock for item %s", e.ItemID)
}

func (e *StockShortageError) Unwrap() error { return ErrInsufficientStock }

// Reason maps an error to the machine-readable reason reported to clients.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, ErrAlreadyPaid):
		return "already_paid"
	case errors.Is(err, ErrOrderChanged):
		return "order_changed"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrCheckoutInProgress):
		return "checkout_in_progress"
	default:
		return "downstream_unavailable"
	}
}

// ShortItem returns the item id carried by a *StockShortageError in err's chain.
func ShortItem(err error) string {
	var shortage *StockShortageError
	if errors.As(err, &shortage) {
		return shortage.ItemID
	}
	return ""
}

func unavailable(op string, err error) error {
	if errors.Is(err, ErrDownstreamUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrDownstreamUnavailable, op, err)
}
