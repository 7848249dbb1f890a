package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/checkout-saga/internal/coordinator/sagalog"
	"github.com/jcmexdev/checkout-saga/internal/pkg/events"
	"github.com/jcmexdev/checkout-saga/internal/pkg/lock"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCheckout_Commits(t *testing.T) {
	w := newWorld()
	w.addOrder("o1", "u1", "i1", "i2")
	h := newHarness(t, w, nil)

	receipt, err := h.checkout.Run(context.Background(), "o1")
	require.NoError(t, err)

	assert.Equal(t, "saga-1", receipt.SagaID)
	assert.True(t, receipt.TotalCost.Equal(dec("6.5")))
	assert.True(t, w.balances["u1"].Equal(dec("493.5")))
	assert.Equal(t, int64(9), w.stock["i1"])
	assert.Equal(t, int64(9), w.stock["i2"])
	assert.True(t, w.orders["o1"].Paid)
	assert.Equal(t, "saga-1", w.orders["o1"].PaidBy)

	assert.Equal(t, []string{"charge", "reserve:i1", "reserve:i2", "mark_paid"}, w.Calls())
	assert.Equal(t, []sagalog.Status{
		sagalog.StatusStarted,
		sagalog.StatusStepStarted, sagalog.StatusStepDone,
		sagalog.StatusStepStarted, sagalog.StatusStepDone,
		sagalog.StatusStepStarted, sagalog.StatusStepDone,
		sagalog.StatusStepStarted, sagalog.StatusStepDone,
		sagalog.StatusCompleted,
	}, h.statuses("saga-1"))

	latest, err := h.log.GetLatest(context.Background(), "saga-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"charge", "reserve:i1", "reserve:i2", "mark_paid"}, latest.Completed())

	require.Len(t, h.publisher.events, 1)
	assert.Equal(t, events.CheckoutCompleted, h.publisher.events[0].Type)
	assert.Equal(t, 1.0, testutil.ToFloat64(testCheckoutCounter(h, "paid")))
}

func TestCheckout_InsufficientFunds(t *testing.T) {
	w := newWorld()
	w.balances["u1"] = decimal.NewFromInt(1)
	w.addOrder("o1", "u1", "i1", "i2")
	h := newHarness(t, w, nil)

	_, err := h.checkout.Run(context.Background(), "o1")
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, "insufficient_funds", Reason(err))

	assert.True(t, w.balances["u1"].Equal(decimal.NewFromInt(1)))
	assert.Equal(t, int64(10), w.stock["i1"])
	assert.False(t, w.orders["o1"].Paid)
	// A declared business failure is not compensated.
	assert.Equal(t, []string{"charge"}, w.Calls())
	assert.Equal(t, sagalog.StatusFailed, h.statuses("saga-1")[len(h.statuses("saga-1"))-1])

	require.Len(t, h.publisher.events, 1)
	assert.Equal(t, events.CheckoutAborted, h.publisher.events[0].Type)
	assert.Equal(t, "insufficient_funds", h.publisher.events[0].Reason)
}

func TestCheckout_UnknownUserIsInsufficientFunds(t *testing.T) {
	w := newWorld()
	w.addOrder("o1", "ghost", "i1")
	h := newHarness(t, w, nil)

	_, err := h.checkout.Run(context.Background(), "o1")
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheckout_InsufficientStockCompensatesInExecutionOrder(t *testing.T) {
	w := newWorld()
	w.stock["i3"] = 0
	w.prices["i3"] = decimal.NewFromInt(2)
	w.addOrder("o1", "u1", "i1", "i2", "i3")
	h := newHarness(t, w, nil)

	_, err := h.checkout.Run(context.Background(), "o1")
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, "i3", ShortItem(err))

	var shortage *StockShortageError
	require.True(t, errors.As(err, &shortage))
	assert.Equal(t, "i3", shortage.ItemID)

	assert.True(t, w.balances["u1"].Equal(decimal.NewFromInt(500)))
	assert.Equal(t, int64(10), w.stock["i1"])
	assert.Equal(t, int64(10), w.stock["i2"])
	assert.False(t, w.orders["o1"].Paid)

	assert.Equal(t, []string{
		"charge", "reserve:i1", "reserve:i2", "reserve:i3",
		"refund", "release:i1", "release:i2",
	}, w.Calls())

	require.Len(t, h.publisher.events, 1)
	assert.Equal(t, "i3", h.publisher.events[0].ItemID)
}

func TestCheckout_UnknownItemIsInsufficientStock(t *testing.T) {
	w := newWorld()
	w.addOrder("o1", "u1", "i1")
	w.orders["o1"].Items = append(w.orders["o1"].Items, "gone")
	h := newHarness(t, w, nil)

	_, err := h.checkout.Run(context.Background(), "o1")
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, "gone", ShortItem(err))
	assert.Equal(t, int64(10), w.stock["i1"])
}

func TestCheckout_AlreadyPaid(t *testing.T) {
	w := newWorld()
	w.addOrder("o1", "u1", "i1")
	w.orders["o1"].Paid = true
	h := newHarness(t, w, nil)

	_, err := h.checkout.Run(context.Background(), "o1")
	require.ErrorIs(t, err, ErrAlreadyPaid)
	assert.Empty(t, w.Calls())
	assert.Empty(t, h.publisher.events)
}

func TestCheckout_OrderNotFound(t *testing.T) {
	h := newHarness(t, newWorld(), nil)

	_, err := h.checkout.Run(context.Background(), "missing")
	require.ErrorIs(t, err, ErrOrderNotFound)
	assert.Equal(t, "order_not_found", Reason(err))
}

func TestCheckout_OrderStoreUnavailable(t *testing.T) {
	w := newWorld()
	w.getOrderErr = errors.New("connection refused")
	h := newHarness(t, w, nil)

	_, err := h.checkout.Run(context.Background(), "o1")
	require.ErrorIs(t, err, ErrDownstreamUnavailable)
}

func TestCheckout_EmptyOrderPaysZero(t *testing.T) {
	w := newWorld()
	w.addOrder("o1", "u1")
	h := newHarness(t, w, nil)

	receipt, err := h.checkout.Run(context.Background(), "o1")
	require.NoError(t, err)
	assert.True(t, receipt.TotalCost.IsZero())
	assert.True(t, w.orders["o1"].Paid)
	assert.Equal(t, []string{"charge", "mark_paid"}, w.Calls())
}

func TestCheckout_DuplicateItemsReserveOncePerLine(t *testing.T) {
	w := newWorld()
	w.addOrder("o1", "u1", "i1", "i2", "i1")
	h := newHarness(t, w, nil)

	_, err := h.checkout.Run(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, int64(8), w.stock["i1"])
	assert.Equal(t, int64(9), w.stock["i2"])
	assert.True(t, w.balances["u1"].Equal(dec("488")))
	assert.Equal(t, []string{"charge", "reserve:i1", "reserve:i2", "mark_paid"}, w.Calls())
}

func TestCheckout_DuplicateItemShortOfStockRollsBack(t *testing.T) {
	w := newWorld()
	w.stock["i2"] = 1
	w.addOrder("o1", "u1", "i1", "i2", "i2")
	h := newHarness(t, w, nil)

	_, err := h.checkout.Run(context.Background(), "o1")
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, "insufficient_stock", Reason(err))
	assert.Equal(t, "i2", ShortItem(err))
	assert.Equal(t, []string{"charge", "reserve:i1", "reserve:i2", "refund", "release:i1"}, w.Calls())
	assert.Equal(t, int64(10), w.stock["i1"])
	assert.Equal(t, int64(1), w.stock["i2"])
	assert.True(t, w.balances["u1"].Equal(decimal.NewFromInt(500)))
	assert.False(t, w.orders["o1"].Paid)
}

func TestCheckout_LockHeld(t *testing.T) {
	w := newWorld()
	w.addOrder("o1", "u1", "i1")
	h := newHarness(t, w, nil)

	release, err := h.locker.Acquire(context.Background(), lockKey("o1"), time.Minute)
	require.NoError(t, err)
	defer release(context.Background())

	_, err = h.checkout.Run(context.Background(), "o1")
	require.ErrorIs(t, err, ErrCheckoutInProgress)
	assert.Equal(t, "checkout_in_progress", Reason(err))
	assert.Empty(t, w.Calls())
}

func TestCheckout_ReleasesLock(t *testing.T) {
	w := newWorld()
	w.balances["u1"] = decimal.Zero
	w.addOrder("o1", "u1", "i1")
	h := newHarness(t, w, nil)

	_, err := h.checkout.Run(context.Background(), "o1")
	require.ErrorIs(t, err, ErrInsufficientFunds)

	release, err := h.locker.Acquire(context.Background(), lockKey("o1"), time.Minute)
	require.NoError(t, err, "lease must be released after an abort")
	_ = release(context.Background())
}

func TestCheckout_AmbiguousChargeIsRefunded(t *testing.T) {
	w := newWorld()
	w.chargeLandsThenErr = ErrDownstreamUnavailable
	w.addOrder("o1", "u1", "i1")
	h := newHarness(t, w, nil)

	_, err := h.checkout.Run(context.Background(), "o1")
	require.ErrorIs(t, err, ErrDownstreamUnavailable)
	assert.Equal(t, "downstream_unavailable", Reason(err))

	assert.Equal(t, []string{"charge", "refund"}, w.Calls())
	assert.True(t, w.balances["u1"].Equal(decimal.NewFromInt(500)))
}

func TestCheckout_UnavailableChargeThatNeverLandedIsHarmless(t *testing.T) {
	w := newWorld()
	w.chargeErr = errors.New("rpc error: code = Unavailable")
	w.addOrder("o1", "u1", "i1")
	h := newHarness(t, w, nil)

	_, err := h.checkout.Run(context.Background(), "o1")
	require.ErrorIs(t, err, ErrDownstreamUnavailable)
	assert.Equal(t, []string{"charge", "refund"}, w.Calls())
	assert.True(t, w.balances["u1"].Equal(decimal.NewFromInt(500)))
	assert.Empty(t, w.refunds)
}

func TestCheckout_StepTimeout(t *testing.T) {
	w := newWorld()
	w.blockCharge = true
	w.addOrder("o1", "u1", "i1")
	h := newHarness(t, w, nil)

	_, err := h.checkout.Run(context.Background(), "o1")
	require.ErrorIs(t, err, ErrDownstreamUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCheckout_AmbiguousReserveIsReleased(t *testing.T) {
	w := newWorld()
	w.reserveLandsErr["i2"] = ErrDownstreamUnavailable
	w.addOrder("o1", "u1", "i1", "i2")
	h := newHarness(t, w, nil)

	_, err := h.checkout.Run(context.Background(), "o1")
	require.ErrorIs(t, err, ErrDownstreamUnavailable)
	assert.Equal(t, []string{
		"charge", "reserve:i1", "reserve:i2",
		"refund", "release:i1", "release:i2",
	}, w.Calls())
	assert.Equal(t, int64(10), w.stock["i1"])
	assert.Equal(t, int64(10), w.stock["i2"])
	assert.True(t, w.balances["u1"].Equal(decimal.NewFromInt(500)))
}

func TestCheckout_AmbiguousMarkPaidThatLandedCommits(t *testing.T) {
	w := newWorld()
	w.markPaidLandsErr = ErrDownstreamUnavailable
	w.addOrder("o1", "u1", "i1")
	h := newHarness(t, w, nil)

	_, err := h.checkout.Run(context.Background(), "o1")
	require.NoError(t, err)
	assert.True(t, w.orders["o1"].Paid)
	assert.True(t, w.balances["u1"].Equal(dec("494.5")))
	assert.NotContains(t, w.Calls(), "refund")
}

func TestCheckout_AmbiguousMarkPaidThatFailedCompensates(t *testing.T) {
	w := newWorld()
	w.markPaidErr = ErrDownstreamUnavailable
	w.addOrder("o1", "u1", "i1")
	h := newHarness(t, w, nil)

	_, err := h.checkout.Run(context.Background(), "o1")
	require.ErrorIs(t, err, ErrDownstreamUnavailable)
	assert.False(t, w.orders["o1"].Paid)
	assert.True(t, w.balances["u1"].Equal(decimal.NewFromInt(500)))
	assert.Equal(t, int64(10), w.stock["i1"])
}

func TestCheckout_OrderPaidConcurrently(t *testing.T) {
	w := newWorld()
	w.markPaidErr = ErrAlreadyPaid
	w.addOrder("o1", "u1", "i1")
	h := newHarness(t, w, nil)

	_, err := h.checkout.Run(context.Background(), "o1")
	require.ErrorIs(t, err, ErrAlreadyPaid)
	assert.True(t, w.balances["u1"].Equal(decimal.NewFromInt(500)))
	assert.Equal(t, int64(10), w.stock["i1"])
}

func TestCheckout_ItemAddedDuringCheckoutRollsBack(t *testing.T) {
	w := newWorld()
	w.addOrder("o1", "u1", "i1")
	w.beforeMarkPaid = func() {
		w.orders["o1"].Items = append(w.orders["o1"].Items, "i2")
	}
	h := newHarness(t, w, nil)

	_, err := h.checkout.Run(context.Background(), "o1")
	require.ErrorIs(t, err, ErrOrderChanged)
	assert.Equal(t, "order_changed", Reason(err))
	assert.Equal(t, []string{"charge", "reserve:i1", "mark_paid", "refund", "release:i1"}, w.Calls())
	assert.False(t, w.orders["o1"].Paid)
	assert.True(t, w.balances["u1"].Equal(decimal.NewFromInt(500)))
	assert.Equal(t, int64(10), w.stock["i1"])
	assert.Equal(t, int64(10), w.stock["i2"])
}

func TestCheckout_CompensationRetried(t *testing.T) {
	w := newWorld()
	w.stock["i2"] = 0
	w.refundFailures = 2
	w.addOrder("o1", "u1", "i1", "i2")
	h := newHarness(t, w, nil)

	_, err := h.checkout.Run(context.Background(), "o1")
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.True(t, w.balances["u1"].Equal(decimal.NewFromInt(500)))

	statuses := h.statuses("saga-1")
	assert.Equal(t, sagalog.StatusFailed, statuses[len(statuses)-1])
	assert.Equal(t, 0.0, testutil.ToFloat64(testCompensationFailures(h)))
}

func TestCheckout_CompensationExhausted(t *testing.T) {
	w := newWorld()
	w.stock["i2"] = 0
	w.releaseFailures = 100
	w.addOrder("o1", "u1", "i1", "i2")
	h := newHarness(t, w, nil)

	_, err := h.checkout.Run(context.Background(), "o1")
	// The caller still sees the original reason.
	require.ErrorIs(t, err, ErrInsufficientStock)

	// Refund succeeded even though the release after it gave up.
	assert.True(t, w.balances["u1"].Equal(decimal.NewFromInt(500)))
	assert.Equal(t, int64(9), w.stock["i1"])

	statuses := h.statuses("saga-1")
	assert.Equal(t, sagalog.StatusCompensationFailed, statuses[len(statuses)-1])
	assert.Equal(t, 1.0, testutil.ToFloat64(testCompensationFailures(h)))

	releases := 0
	for _, c := range w.Calls() {
		if c == "release:i1" {
			releases++
		}
	}
	assert.Equal(t, 4, releases, "one attempt plus three retries")
}

func TestCheckout_SagaLogStartFailureHasNoSideEffects(t *testing.T) {
	w := newWorld()
	w.addOrder("o1", "u1", "i1")
	logRepo := &failingLog{MemoryRepository: sagalog.NewMemoryRepository(), failOn: sagalog.StatusStarted}
	h := newHarness(t, w, logRepo)

	_, err := h.checkout.Run(context.Background(), "o1")
	require.ErrorIs(t, err, ErrDownstreamUnavailable)
	assert.Empty(t, w.Calls())
	assert.False(t, w.orders["o1"].Paid)
}

func TestCheckout_SagaLogStepFailureAborts(t *testing.T) {
	w := newWorld()
	w.addOrder("o1", "u1", "i1")
	logRepo := &failingLog{MemoryRepository: sagalog.NewMemoryRepository(), failOn: sagalog.StatusStepStarted}
	h := newHarness(t, w, logRepo)

	_, err := h.checkout.Run(context.Background(), "o1")
	require.ErrorIs(t, err, ErrDownstreamUnavailable)
	assert.Empty(t, w.Calls())
}

func TestCheckout_CanceledContextStillCompensates(t *testing.T) {
	w := newWorld()
	w.addOrder("o1", "u1", "i1", "i2")
	w.reserveErr["i2"] = context.Canceled
	h := newHarness(t, w, nil)

	_, err := h.checkout.Run(context.Background(), "o1")
	require.ErrorIs(t, err, ErrDownstreamUnavailable)
	assert.True(t, w.balances["u1"].Equal(decimal.NewFromInt(500)))
	assert.Equal(t, int64(10), w.stock["i1"])
}

func TestCollapse(t *testing.T) {
	assert.Equal(t, []Line{{ItemID: "b", Count: 2}, {ItemID: "a", Count: 1}}, Collapse([]string{"b", "a", "b"}))
	assert.Nil(t, Collapse(nil))
	assert.ElementsMatch(t, []string{"b", "a", "b"}, Expand(Collapse([]string{"b", "a", "b"})))
}

func TestReason(t *testing.T) {
	cases := map[string]error{
		"":                       nil,
		"order_not_found":        ErrOrderNotFound,
		"already_paid":           ErrAlreadyPaid,
		"order_changed":          ErrOrderChanged,
		"insufficient_funds":     ErrInsufficientFunds,
		"insufficient_stock":     &StockShortageError{ItemID: "x"},
		"checkout_in_progress":   ErrCheckoutInProgress,
		"downstream_unavailable": errors.New("boom"),
	}
	for want, err := range cases {
		assert.Equal(t, want, Reason(err))
	}
}

func TestLockKey(t *testing.T) {
	assert.Equal(t, "checkout:lock:o1", lockKey("o1"))
	assert.ErrorIs(t, ErrLockHeld, lock.ErrHeld)
}
