package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jcmexdev/checkout-saga/internal/coordinator/sagalog"
	"github.com/jcmexdev/checkout-saga/internal/pkg/events"
	"github.com/jcmexdev/checkout-saga/internal/pkg/lock"
	"github.com/jcmexdev/checkout-saga/internal/pkg/metrics"
	"github.com/jcmexdev/checkout-saga/internal/pkg/telemetry"
)

// SagaContext is the saga input, stored as the STARTED payload so recovery
// can rebuild the same steps.
type SagaContext struct {
	SagaID    string          `json:"saga_id"`
	OrderID   string          `json:"order_id"`
	UserID    string          `json:"user_id"`
	TotalCost decimal.Decimal `json:"total_cost"`
	Lines     []Line          `json:"lines"`
}

// Receipt describes a committed checkout.
type Receipt struct {
	SagaID    string
	OrderID   string
	UserID    string
	TotalCost decimal.Decimal
}

// Dependencies are the collaborators of a Checkout. Locker, Publisher,
// SagaLog, Logger and Metrics are optional.
type Dependencies struct {
	Orders    Orders
	Ledger    Ledger
	Inventory Inventory
	Locker    Locker
	Publisher Publisher
	SagaLog   sagalog.Repository
	Logger    *zap.Logger
	Metrics   *metrics.Saga
}

// Checkout pays for orders by running the checkout saga.
type Checkout struct {
	orders    Orders
	ledger    Ledger
	inventory Inventory
	locker    Locker
	publisher Publisher
	log       sagalog.Repository
	logger    *zap.Logger
	metrics   *metrics.Saga
	cfg       Config
	newID     func() string
}

func NewCheckout(deps Dependencies, cfg Config) *Checkout {
	c := &Checkout{
		orders:    deps.Orders,
		ledger:    deps.Ledger,
		inventory: deps.Inventory,
		locker:    deps.Locker,
		publisher: deps.Publisher,
		log:       deps.SagaLog,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		cfg:       cfg.withDefaults(),
		newID:     uuid.NewString,
	}
	if c.locker == nil {
		c.locker = lock.NewMemoryLocker()
	}
	if c.publisher == nil {
		c.publisher = events.Nop{}
	}
	if c.log == nil {
		c.log = sagalog.NewMemoryRepository()
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

func lockKey(orderID string) string {
	return lock.Key("checkout", "lock", orderID)
}

// Run checks out orderID: it charges the user, reserves every line and marks
// the order paid, or leaves no net effect and returns the abort reason.
func (c *Checkout) Run(ctx context.Context, orderID string) (receipt *Receipt, err error) {
	ctx, span := tracer.Start(ctx, "checkout", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	defer func() {
		outcome := "paid"
		if err != nil {
			outcome = Reason(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		c.metrics.ObserveCheckout(outcome)
	}()

	release, err := c.locker.Acquire(ctx, lockKey(orderID), c.cfg.LockTTL)
	if errors.Is(err, lock.ErrHeld) {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrCheckoutInProgress)
	}
	if err != nil {
		return nil, unavailable("lock", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn("release checkout lock", zap.String("order_id", orderID), zap.Error(err))
		}
	}()

	snap, err := c.readOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if snap.Paid {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrAlreadyPaid)
	}

	sc := SagaContext{
		SagaID:    c.newID(),
		OrderID:   snap.OrderID,
		UserID:    snap.UserID,
		TotalCost: snap.TotalCost,
		Lines:     Collapse(snap.Items),
	}
	span.SetAttributes(attribute.String("saga.id", sc.SagaID))

	payload, err := json.Marshal(sc)
	if err != nil {
		return nil, fmt.Errorf("marshal saga context: %w", err)
	}

	logger := telemetry.WithTrace(ctx, c.logger).With(
		zap.String("saga_id", sc.SagaID),
		zap.String("order_id", orderID),
	)
	logger.Info("checkout started", zap.String("user_id", sc.UserID), zap.String("total_cost", sc.TotalCost.String()))

	if err := c.orchestrator(sc).Start(ctx, string(payload)); err != nil {
		logger.Info("checkout aborted", zap.String("reason", Reason(err)), zap.Error(err))
		c.publish(ctx, sc, events.CheckoutAborted, err)
		return nil, err
	}

	logger.Info("checkout committed")
	c.publish(ctx, sc, events.CheckoutCompleted, nil)
	return &Receipt{SagaID: sc.SagaID, OrderID: sc.OrderID, UserID: sc.UserID, TotalCost: sc.TotalCost}, nil
}

func (c *Checkout) readOrder(ctx context.Context, orderID string) (*OrderSnapshot, error) {
	readCtx, cancel := context.WithTimeout(ctx, c.cfg.StepTimeout)
	defer cancel()

	snap, err := c.orders.GetOrder(readCtx, orderID)
	switch {
	case err == nil:
		return snap, nil
	case errors.Is(err, ErrOrderNotFound):
		return nil, err
	default:
		return nil, unavailable("get order", err)
	}
}

func (c *Checkout) orchestrator(sc SagaContext, opts ...Option) *Orchestrator {
	base := []Option{
		WithSagaLog(c.log),
		WithLogger(c.logger),
		WithMetrics(c.metrics),
		WithStepTimeout(c.cfg.StepTimeout),
		WithCompensationRetry(c.cfg.CompensationRetries, c.cfg.CompensationBackoff),
	}
	steps := BuildSteps(sc, c.ledger, c.inventory, c.orders, c.cfg.StepTimeout)
	return NewOrchestrator(sc.SagaID, sc.OrderID, steps, append(base, opts...)...)
}

func (c *Checkout) publish(ctx context.Context, sc SagaContext, typ events.Type, cause error) {
	event := events.Event{
		Type:       typ,
		SagaID:     sc.SagaID,
		OrderID:    sc.OrderID,
		UserID:     sc.UserID,
		TotalCost:  sc.TotalCost,
		Reason:     Reason(cause),
		ItemID:     ShortItem(cause),
		OccurredAt: time.Now().UTC(),
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.StepTimeout)
	defer cancel()
	if err := c.publisher.Publish(pubCtx, event); err != nil {
		c.logger.Warn("publish checkout event",
			zap.String("saga_id", sc.SagaID),
			zap.String("type", string(typ)),
			zap.Error(err),
		)
	}
}
