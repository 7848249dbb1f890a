package coordinator

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/jcmexdev/checkout-saga/internal/coordinator/sagalog"
	"github.com/jcmexdev/checkout-saga/internal/pkg/events"
	"github.com/jcmexdev/checkout-saga/internal/pkg/lock"
	"github.com/jcmexdev/checkout-saga/internal/pkg/metrics"
)

// world is an in-memory ledger, inventory and order store sharing one call log.
type world struct {
	mu    sync.Mutex
	calls []string

	balances map[string]decimal.Decimal
	charges  map[string]decimal.Decimal
	refunds  map[string]bool

	stock    map[string]int64
	prices   map[string]decimal.Decimal
	reserves map[string]int64
	releases map[string]bool

	orders map[string]*OrderSnapshot

	chargeErr          error
	chargeLandsThenErr error
	refundFailures     int
	reserveErr         map[string]error
	reserveLandsErr    map[string]error
	releaseFailures    int
	markPaidErr        error
	markPaidLandsErr   error
	getOrderErr        error
	blockCharge        bool

	// beforeMarkPaid runs under mu, ahead of the mark-paid compare.
	beforeMarkPaid func()
}

func newWorld() *world {
	return &world{
		balances:        map[string]decimal.Decimal{"u1": decimal.NewFromInt(500)},
		charges:         map[string]decimal.Decimal{},
		refunds:         map[string]bool{},
		stock:           map[string]int64{"i1": 10, "i2": 10},
		prices:          map[string]decimal.Decimal{"i1": decimal.RequireFromString("5.5"), "i2": decimal.NewFromInt(1)},
		reserves:        map[string]int64{},
		releases:        map[string]bool{},
		orders:          map[string]*OrderSnapshot{},
		reserveErr:      map[string]error{},
		reserveLandsErr: map[string]error{},
	}
}

func (w *world) addOrder(id, userID string, items ...string) {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(w.prices[it])
	}
	w.orders[id] = &OrderSnapshot{OrderID: id, UserID: userID, Items: items, TotalCost: total}
}

func (w *world) record(call string) {
	w.calls = append(w.calls, call)
}

func (w *world) Charge(ctx context.Context, userID string, amount decimal.Decimal, opID string) error {
	if w.blockCharge {
		<-ctx.Done()
		return ctx.Err()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.record("charge")
	if w.chargeErr != nil {
		return w.chargeErr
	}
	if _, ok := w.charges[opID]; ok {
		return nil
	}
	bal, ok := w.balances[userID]
	if !ok {
		return ErrNotFound
	}
	if bal.LessThan(amount) {
		return ErrInsufficientFunds
	}
	w.balances[userID] = bal.Sub(amount)
	w.charges[opID] = amount
	return w.chargeLandsThenErr
}

func (w *world) Refund(_ context.Context, userID string, _ decimal.Decimal, opID, chargeOpID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.record("refund")
	if w.refundFailures > 0 {
		w.refundFailures--
		return ErrDownstreamUnavailable
	}
	if w.refunds[opID] {
		return nil
	}
	amount, ok := w.charges[chargeOpID]
	if !ok {
		return nil
	}
	w.balances[userID] = w.balances[userID].Add(amount)
	w.refunds[opID] = true
	return nil
}

func (w *world) Reserve(_ context.Context, itemID string, count int64, opID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.record("reserve:" + itemID)
	if err := w.reserveErr[itemID]; err != nil {
		return err
	}
	if _, ok := w.reserves[opID]; ok {
		return nil
	}
	stock, ok := w.stock[itemID]
	if !ok {
		return ErrNotFound
	}
	if stock < count {
		return ErrInsufficientStock
	}
	w.stock[itemID] = stock - count
	w.reserves[opID] = count
	return w.reserveLandsErr[itemID]
}

func (w *world) Release(_ context.Context, itemID string, _ int64, opID, reserveOpID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.record("release:" + itemID)
	if w.releaseFailures > 0 {
		w.releaseFailures--
		return ErrDownstreamUnavailable
	}
	if w.releases[opID] {
		return nil
	}
	count, ok := w.reserves[reserveOpID]
	if !ok {
		return nil
	}
	w.stock[itemID] += count
	w.releases[opID] = true
	return nil
}

func (w *world) GetOrder(_ context.Context, orderID string) (*OrderSnapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.getOrderErr != nil {
		return nil, w.getOrderErr
	}
	o, ok := w.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	cp.Items = append([]string(nil), o.Items...)
	return &cp, nil
}

func (w *world) MarkPaid(_ context.Context, orderID, sagaID string, items []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.record("mark_paid")
	if w.beforeMarkPaid != nil {
		w.beforeMarkPaid()
	}
	if w.markPaidErr != nil {
		return w.markPaidErr
	}
	o, ok := w.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Paid {
		if o.PaidBy == sagaID {
			return nil
		}
		return ErrAlreadyPaid
	}
	got, want := slices.Clone(o.Items), slices.Clone(items)
	slices.Sort(got)
	slices.Sort(want)
	if !slices.Equal(got, want) {
		return ErrOrderChanged
	}
	o.Paid = true
	o.PaidBy = sagaID
	return w.markPaidLandsErr
}

func (w *world) Calls() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.calls...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

// failingLog fails Save for one status.
type failingLog struct {
	*sagalog.MemoryRepository
	failOn sagalog.Status
}

func (l *failingLog) Save(ctx context.Context, e *sagalog.SagaLog) error {
	if e.Status == l.failOn {
		return errors.New("disk full")
	}
	return l.MemoryRepository.Save(ctx, e)
}

type harness struct {
	world     *world
	log       *sagalog.MemoryRepository
	publisher *recordingPublisher
	locker    *lock.MemoryLocker
	metrics   *metrics.Saga
	checkout  *Checkout
}

func newHarness(t *testing.T, w *world, logRepo sagalog.Repository) *harness {
	t.Helper()
	mem := sagalog.NewMemoryRepository()
	if logRepo == nil {
		logRepo = mem
	}
	h := &harness{
		world:     w,
		log:       mem,
		publisher: &recordingPublisher{},
		locker:    lock.NewMemoryLocker(),
		metrics:   metrics.NewSaga(prometheus.NewRegistry()),
	}
	h.checkout = NewCheckout(Dependencies{
		Orders:    w,
		Ledger:    w,
		Inventory: w,
		Locker:    h.locker,
		Publisher: h.publisher,
		SagaLog:   logRepo,
		Metrics:   h.metrics,
	}, Config{
		StepTimeout:         50 * time.Millisecond,
		LockTTL:             time.Minute,
		CompensationRetries: 3,
		CompensationBackoff: time.Millisecond,
	})
	h.checkout.newID = func() string { return "saga-1" }
	return h
}

func (h *harness) statuses(sagaID string) []sagalog.Status {
	var out []sagalog.Status
	for _, e := range h.log.History(sagaID) {
		out = append(out, e.Status)
	}
	return out
}

func testCheckoutCounter(h *harness, outcome string) prometheus.Collector {
	return h.metrics.CheckoutCounter(outcome)
}

func testCompensationFailures(h *harness) prometheus.Collector {
	return h.metrics.CompensationFailures()
}
