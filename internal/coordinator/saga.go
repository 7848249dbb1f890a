package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jcmexdev/checkout-saga/internal/coordinator/sagalog"
	"github.com/jcmexdev/checkout-saga/internal/pkg/metrics"
	"github.com/jcmexdev/checkout-saga/internal/pkg/telemetry"
)

var tracer = otel.Tracer("github.com/jcmexdev/checkout-saga/internal/coordinator")

// Step represents a single unit of work in the Saga.
// Compensate must be safe to call when Execute never took effect.
type Step interface {
	Name() string
	Execute(ctx context.Context) error
	Compensate(ctx context.Context) error
}

// Orchestrator manages the execution of a collection of Steps.
type Orchestrator struct {
	sagaID  string
	orderID string
	steps   []Step

	log         sagalog.Repository
	logger      *zap.Logger
	metrics     *metrics.Saga
	stepTimeout time.Duration
	retries     uint64
	backoff     time.Duration

	completed []string
}

type Option func(*Orchestrator)

func WithSagaLog(repo sagalog.Repository) Option {
	return func(o *Orchestrator) { o.log = repo }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithMetrics(m *metrics.Saga) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithStepTimeout bounds every Execute and Compensate call.
func WithStepTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.stepTimeout = d }
}

// WithCompensationRetry sets how often a failed compensation is retried and
// the first backoff interval.
func WithCompensationRetry(retries uint64, initial time.Duration) Option {
	return func(o *Orchestrator) {
		o.retries = retries
		o.backoff = initial
	}
}

// WithCompleted seeds the steps already done, for a saga resumed from its log.
func WithCompleted(names []string) Option {
	return func(o *Orchestrator) { o.completed = append([]string(nil), names...) }
}

func NewOrchestrator(sagaID, orderID string, steps []Step, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sagaID:      sagaID,
		orderID:     orderID,
		steps:       steps,
		log:         sagalog.NewMemoryRepository(),
		logger:      zap.NewNop(),
		stepTimeout: 2 * time.Second,
		retries:     5,
		backoff:     100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start runs the saga steps sequentially.
// If a step fails, it compensates the steps that may have taken effect, in
// the order they ran, and returns the step's error.
func (o *Orchestrator) Start(ctx context.Context, payload string) error {
	if err := o.record(ctx, sagalog.StatusStarted, "", payload, nil); err != nil {
		return unavailable("saga log", err)
	}

	var done []Step
	for _, step := range o.steps {
		if err := o.record(ctx, sagalog.StatusStepStarted, step.Name(), "", nil); err != nil {
			err = unavailable("saga log", err)
			o.rollback(ctx, done, step, err)
			return err
		}

		if err := o.execute(ctx, step); err != nil {
			toCompensate := done
			if errors.Is(err, ErrDownstreamUnavailable) {
				// The call may have landed; its compensation is conditional.
				toCompensate = append(append([]Step(nil), done...), step)
			}
			o.rollback(ctx, toCompensate, step, err)
			return err
		}

		done = append(done, step)
		o.completed = append(o.completed, step.Name())
		if err := o.record(ctx, sagalog.StatusStepDone, step.Name(), "", nil); err != nil {
			o.logger.Warn("saga log write failed", zap.String("saga_id", o.sagaID), zap.Error(err))
		}
	}

	if err := o.record(ctx, sagalog.StatusCompleted, "", "", nil); err != nil {
		o.logger.Warn("saga log write failed", zap.String("saga_id", o.sagaID), zap.Error(err))
	}
	o.logger.Info("saga completed", zap.String("saga_id", o.sagaID), zap.String("order_id", o.orderID))
	return nil
}

// Abort compensates every step of the saga. Used by recovery when it cannot
// tell which steps took effect; every compensation is a no-op for a step that
// never ran. It returns an error if any compensation gave up.
func (o *Orchestrator) Abort(ctx context.Context, cause error) error {
	return o.rollback(ctx, o.steps, nil, cause)
}

// Commit appends COMPLETED without running anything.
func (o *Orchestrator) Commit(ctx context.Context) error {
	return o.record(ctx, sagalog.StatusCompleted, "", "", nil)
}

func (o *Orchestrator) execute(ctx context.Context, step Step) error {
	ctx, span := tracer.Start(ctx, "saga.step "+stepKind(step.Name()),
		stepAttributes(o.sagaID, step.Name()))
	defer span.End()

	logger := telemetry.WithTrace(ctx, o.logger)
	logger.Debug("executing step", zap.String("saga_id", o.sagaID), zap.String("step", step.Name()))

	stepCtx, cancel := context.WithTimeout(ctx, o.stepTimeout)
	defer cancel()

	start := time.Now()
	err := step.Execute(stepCtx)
	if err != nil && !errors.Is(err, ErrDownstreamUnavailable) &&
		(errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		err = unavailable(step.Name(), err)
	}

	outcome := "ok"
	if err != nil {
		outcome = Reason(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		logger.Warn("step failed, starting rollback",
			zap.String("saga_id", o.sagaID),
			zap.String("step", step.Name()),
			zap.Error(err),
		)
	}
	o.metrics.ObserveStep(stepKind(step.Name()), outcome, time.Since(start))
	return err
}

// rollback compensates steps in execution order. failed is the step that
// triggered it, nil when recovery aborts a saga.
func (o *Orchestrator) rollback(ctx context.Context, steps []Step, failed Step, cause error) error {
	ctx = context.WithoutCancel(ctx)

	current := ""
	if failed != nil {
		current = failed.Name()
	}
	if err := o.record(ctx, sagalog.StatusCompensating, current, "", []string{cause.Error()}); err != nil {
		o.logger.Warn("saga log write failed", zap.String("saga_id", o.sagaID), zap.Error(err))
	}

	var failures []string
	for _, step := range steps {
		if err := o.compensate(ctx, step); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", step.Name(), err))
			telemetry.WithTrace(ctx, o.logger).Error("CRITICAL: failed to compensate step",
				zap.String("saga_id", o.sagaID),
				zap.String("order_id", o.orderID),
				zap.String("step", step.Name()),
				zap.Error(err),
			)
		}
	}

	if len(failures) > 0 {
		o.metrics.CompensationFailed()
		if err := o.record(ctx, sagalog.StatusCompensationFailed, current, "", failures); err != nil {
			o.logger.Warn("saga log write failed", zap.String("saga_id", o.sagaID), zap.Error(err))
		}
		return fmt.Errorf("compensation failed: %s", strings.Join(failures, "; "))
	}

	if err := o.record(ctx, sagalog.StatusFailed, current, "", []string{cause.Error()}); err != nil {
		o.logger.Warn("saga log write failed", zap.String("saga_id", o.sagaID), zap.Error(err))
	}
	return nil
}

func (o *Orchestrator) compensate(ctx context.Context, step Step) error {
	ctx, span := tracer.Start(ctx, "saga.compensate "+stepKind(step.Name()),
		stepAttributes(o.sagaID, step.Name()))
	defer span.End()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.backoff
	b.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, o.stepTimeout)
		defer cancel()

		err := step.Compensate(callCtx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidArgument):
			return backoff.Permanent(err)
		default:
			o.logger.Warn("compensation attempt failed",
				zap.String("saga_id", o.sagaID),
				zap.String("step", step.Name()),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
	}, backoff.WithContext(backoff.WithMaxRetries(b, o.retries), ctx))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compensation failed")
		o.metrics.ObserveCompensation(stepKind(step.Name()), "failed")
		return err
	}
	o.metrics.ObserveCompensation(stepKind(step.Name()), "ok")
	return nil
}

func (o *Orchestrator) record(ctx context.Context, status sagalog.Status, step, payload string, errs []string) error {
	entry := sagalog.NewEntry(ctx, o.sagaID, status, step, payload, errs).
		WithProgress(o.orderID, o.completed)
	return o.log.Save(ctx, entry)
}

// stepKind strips the item id from a step name, "reserve:i1" -> "reserve".
func stepKind(name string) string {
	kind, _, _ := strings.Cut(name, ":")
	return kind
}

func stepAttributes(sagaID, step string) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.String("saga.id", sagaID),
		attribute.String("saga.step", step),
	)
}
