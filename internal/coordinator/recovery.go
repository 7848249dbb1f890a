package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/jcmexdev/checkout-saga/internal/coordinator/sagalog"
	"github.com/jcmexdev/checkout-saga/internal/pkg/events"
	"github.com/jcmexdev/checkout-saga/internal/pkg/lock"
)

var errInterrupted = errors.New("saga interrupted, recovered on restart")

// Recovery outcomes, also used as metric labels.
const (
	RecoveredForward            = "rolled_forward"
	RecoveredCompensated        = "compensated"
	RecoveredCompensationFailed = "compensation_failed"
	RecoverySkipped             = "skipped"
)

// Recoverer finishes sagas that a crash or a failed compensation left
// without a terminal log entry.
type Recoverer struct {
	checkout *Checkout
	grace    time.Duration
	now      func() time.Time
}

// NewRecoverer ignores sagas updated less than grace ago; they may still be
// running.
func NewRecoverer(checkout *Checkout, grace time.Duration) *Recoverer {
	return &Recoverer{checkout: checkout, grace: grace, now: time.Now}
}

// SweepResult counts sagas by recovery outcome.
type SweepResult map[string]int

// Sweep resolves every stale incomplete saga once. Errors on individual sagas
// are joined; the sweep carries on with the rest.
func (r *Recoverer) Sweep(ctx context.Context) (SweepResult, error) {
	c := r.checkout
	pending, err := c.log.Incomplete(ctx)
	if err != nil {
		return nil, fmt.Errorf("list incomplete sagas: %w", err)
	}

	result := SweepResult{}
	var errs []error
	cutoff := r.now().Add(-r.grace)
	for _, p := range pending {
		if p.Latest.UpdatedAt.After(cutoff) {
			continue
		}
		outcome, err := r.resolve(ctx, p)
		result[outcome]++
		if err != nil {
			errs = append(errs, fmt.Errorf("saga %s: %w", p.Latest.SagaID, err))
			continue
		}
		if outcome != RecoverySkipped {
			c.metrics.ObserveRecovered(outcome)
		}
	}
	return result, errors.Join(errs...)
}

func (r *Recoverer) resolve(ctx context.Context, p sagalog.Pending) (string, error) {
	c := r.checkout

	var sc SagaContext
	if err := json.Unmarshal([]byte(p.Payload), &sc); err != nil {
		return RecoverySkipped, fmt.Errorf("decode payload: %w", err)
	}

	logger := c.logger.With(zap.String("saga_id", sc.SagaID), zap.String("order_id", sc.OrderID))

	release, err := c.locker.Acquire(ctx, lockKey(sc.OrderID), c.cfg.LockTTL)
	if errors.Is(err, lock.ErrHeld) {
		logger.Info("order locked, recovery deferred")
		return RecoverySkipped, nil
	}
	if err != nil {
		return RecoverySkipped, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("release checkout lock", zap.Error(err))
		}
	}()

	completed := p.Latest.Completed()
	o := c.orchestrator(sc, WithCompleted(completed))

	forward := slices.Contains(completed, StepMarkPaid)
	if !forward {
		readCtx, cancel := context.WithTimeout(ctx, c.cfg.StepTimeout)
		paid, err := PaidBy(readCtx, c.orders, sc.OrderID, sc.SagaID)
		cancel()
		switch {
		case err == nil:
			forward = paid
		case errors.Is(err, ErrOrderNotFound):
		default:
			return RecoverySkipped, fmt.Errorf("read order: %w", err)
		}
	}

	if forward {
		if err := o.Commit(ctx); err != nil {
			return RecoverySkipped, fmt.Errorf("commit: %w", err)
		}
		logger.Info("saga rolled forward")
		c.publish(ctx, sc, events.CheckoutCompleted, nil)
		return RecoveredForward, nil
	}

	if err := o.Abort(ctx, errInterrupted); err != nil {
		logger.Error("saga recovery left compensations pending", zap.Error(err))
		return RecoveredCompensationFailed, nil
	}
	logger.Info("saga compensated")
	c.publish(ctx, sc, events.CheckoutAborted, ErrDownstreamUnavailable)
	return RecoveredCompensated, nil
}
