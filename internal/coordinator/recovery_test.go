package coordinator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/checkout-saga/internal/coordinator/sagalog"
	"github.com/jcmexdev/checkout-saga/internal/pkg/events"
)

var crashTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// crashedSaga writes the log of a saga that stopped after the given steps.
func crashedSaga(t *testing.T, h *harness, sagaID string, last sagalog.Status, step string, completed ...string) {
	t.Helper()
	sc := SagaContext{
		SagaID:    sagaID,
		OrderID:   "o1",
		UserID:    "u1",
		TotalCost: dec("6.5"),
		Lines:     []Line{{ItemID: "i1", Count: 1}, {ItemID: "i2", Count: 1}},
	}
	payload, err := json.Marshal(sc)
	require.NoError(t, err)

	ctx := context.Background()
	started := sagalog.NewEntry(ctx, sagaID, sagalog.StatusStarted, "", string(payload), nil).WithProgress("o1", nil)
	started.UpdatedAt = crashTime
	require.NoError(t, h.log.Save(ctx, started))

	entry := sagalog.NewEntry(ctx, sagaID, last, step, "", nil).WithProgress("o1", completed)
	entry.UpdatedAt = crashTime
	require.NoError(t, h.log.Save(ctx, entry))
}

func newRecoverer(h *harness) *Recoverer {
	r := NewRecoverer(h.checkout, time.Minute)
	r.now = func() time.Time { return crashTime.Add(5 * time.Minute) }
	return r
}

// applyCharge mirrors a charge that reached the ledger before the crash.
func applyCharge(w *world, sagaID string) {
	amount := dec("6.5")
	w.balances["u1"] = w.balances["u1"].Sub(amount)
	w.charges[chargeOpID(sagaID)] = amount
}

func applyReserve(w *world, sagaID, itemID string) {
	w.stock[itemID]--
	w.reserves[reserveOpID(sagaID, itemID)] = 1
}

func lastStatus(h *harness, sagaID string) sagalog.Status {
	latest, _ := h.log.GetLatest(context.Background(), sagaID)
	return latest.Status
}

func TestSweep_CompensatesInterruptedSaga(t *testing.T) {
	w := newWorld()
	w.addOrder("o1", "u1", "i1", "i2")
	h := newHarness(t, w, nil)

	applyCharge(w, "s1")
	applyReserve(w, "s1", "i1")
	crashedSaga(t, h, "s1", sagalog.StatusStepStarted, "reserve:i2", "charge")

	result, err := newRecoverer(h).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result[RecoveredCompensated])

	assert.True(t, w.balances["u1"].Equal(decimal.NewFromInt(500)))
	assert.Equal(t, int64(10), w.stock["i1"])
	assert.Equal(t, int64(10), w.stock["i2"])
	assert.False(t, w.orders["o1"].Paid)
	assert.Equal(t, sagalog.StatusFailed, lastStatus(h, "s1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Recovered(RecoveredCompensated)))

	require.Len(t, h.publisher.events, 1)
	assert.Equal(t, events.CheckoutAborted, h.publisher.events[0].Type)

	// A second sweep finds nothing to do.
	result, err = newRecoverer(h).Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestSweep_RollsForwardWhenMarkPaidDone(t *testing.T) {
	w := newWorld()
	w.addOrder("o1", "u1", "i1", "i2")
	h := newHarness(t, w, nil)

	crashedSaga(t, h, "s1", sagalog.StatusStepDone, "mark_paid", "charge", "reserve:i1", "reserve:i2", "mark_paid")

	result, err := newRecoverer(h).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result[RecoveredForward])
	assert.Empty(t, w.Calls())
	assert.Equal(t, sagalog.StatusCompleted, lastStatus(h, "s1"))
}

func TestSweep_RollsForwardWhenOrderPaidBySaga(t *testing.T) {
	w := newWorld()
	w.addOrder("o1", "u1", "i1", "i2")
	w.orders["o1"].Paid = true
	w.orders["o1"].PaidBy = "s1"
	h := newHarness(t, w, nil)

	applyCharge(w, "s1")
	crashedSaga(t, h, "s1", sagalog.StatusStepStarted, "mark_paid", "charge", "reserve:i1", "reserve:i2")

	result, err := newRecoverer(h).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result[RecoveredForward])
	assert.True(t, w.balances["u1"].Equal(dec("493.5")))
	assert.Equal(t, sagalog.StatusCompleted, lastStatus(h, "s1"))
}

func TestSweep_CompensatesWhenOrderPaidByAnotherSaga(t *testing.T) {
	w := newWorld()
	w.addOrder("o1", "u1", "i1", "i2")
	w.orders["o1"].Paid = true
	w.orders["o1"].PaidBy = "s2"
	h := newHarness(t, w, nil)

	applyCharge(w, "s1")
	crashedSaga(t, h, "s1", sagalog.StatusStepDone, "charge", "charge")

	result, err := newRecoverer(h).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result[RecoveredCompensated])
	assert.True(t, w.balances["u1"].Equal(decimal.NewFromInt(500)))
}

func TestSweep_CompensatesWhenOrderDeleted(t *testing.T) {
	w := newWorld()
	h := newHarness(t, w, nil)

	applyCharge(w, "s1")
	crashedSaga(t, h, "s1", sagalog.StatusStepDone, "charge", "charge")

	result, err := newRecoverer(h).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result[RecoveredCompensated])
	assert.True(t, w.balances["u1"].Equal(decimal.NewFromInt(500)))
}

func TestSweep_RetriesCompensationFailed(t *testing.T) {
	w := newWorld()
	w.addOrder("o1", "u1", "i1", "i2")
	h := newHarness(t, w, nil)

	applyCharge(w, "s1")
	crashedSaga(t, h, "s1", sagalog.StatusCompensationFailed, "reserve:i2", "charge")

	result, err := newRecoverer(h).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result[RecoveredCompensated])
	assert.True(t, w.balances["u1"].Equal(decimal.NewFromInt(500)))
}

func TestSweep_CompensationStillFailing(t *testing.T) {
	w := newWorld()
	w.addOrder("o1", "u1", "i1", "i2")
	w.refundFailures = 100
	h := newHarness(t, w, nil)

	applyCharge(w, "s1")
	crashedSaga(t, h, "s1", sagalog.StatusStepDone, "charge", "charge")

	result, err := newRecoverer(h).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result[RecoveredCompensationFailed])
	assert.Equal(t, sagalog.StatusCompensationFailed, lastStatus(h, "s1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.CompensationFailures()))
}

func TestSweep_SkipsRecentSagas(t *testing.T) {
	w := newWorld()
	w.addOrder("o1", "u1", "i1", "i2")
	h := newHarness(t, w, nil)

	crashedSaga(t, h, "s1", sagalog.StatusStepStarted, "charge")

	r := NewRecoverer(h.checkout, time.Minute)
	r.now = func() time.Time { return crashTime.Add(10 * time.Second) }

	result, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result)
	assert.Empty(t, w.Calls())
}

func TestSweep_SkipsLockedOrders(t *testing.T) {
	w := newWorld()
	w.addOrder("o1", "u1", "i1", "i2")
	h := newHarness(t, w, nil)

	crashedSaga(t, h, "s1", sagalog.StatusStepStarted, "charge")

	release, err := h.locker.Acquire(context.Background(), lockKey("o1"), time.Minute)
	require.NoError(t, err)
	defer release(context.Background())

	result, err := newRecoverer(h).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result[RecoverySkipped])
	assert.Equal(t, sagalog.StatusStepStarted, lastStatus(h, "s1"))
}

func TestSweep_BadPayload(t *testing.T) {
	h := newHarness(t, newWorld(), nil)

	entry := sagalog.NewEntry(context.Background(), "s1", sagalog.StatusStarted, "", "{not json", nil)
	entry.UpdatedAt = crashTime
	require.NoError(t, h.log.Save(context.Background(), entry))

	result, err := newRecoverer(h).Sweep(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, result[RecoverySkipped])
}
