// Package grpcclient adapts the ledger and inventory gRPC services to the
// checkout ports. Every call runs through a circuit breaker and gRPC status
// codes are mapped back to coordinator errors.
package grpcclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jcmexdev/checkout-saga/internal/coordinator"
	"github.com/jcmexdev/checkout-saga/internal/pkg/breaker"
)

const defaultTimeout = 5 * time.Second

// IsSuccessful tells the breaker which errors come from a healthy service.
func IsSuccessful(err error) bool {
	switch status.Code(err) {
	case codes.OK, codes.NotFound, codes.FailedPrecondition, codes.InvalidArgument:
		return true
	}
	return false
}

// mapError turns a gRPC or breaker error into a coordinator error.
// rejected is the error a FailedPrecondition stands for.
func mapError(op string, err error, rejected error) error {
	if breaker.IsOpen(err) {
		return fmt.Errorf("%w: %s: %w", coordinator.ErrDownstreamUnavailable, op, err)
	}

	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %s: %w", coordinator.ErrDownstreamUnavailable, op, err)
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%s: %w: %s", op, coordinator.ErrNotFound, st.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%s: %w: %s", op, rejected, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%s: %w: %s", op, coordinator.ErrInvalidArgument, st.Message())
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s: %w", coordinator.ErrDownstreamUnavailable, op, context.DeadlineExceeded)
	default:
		return fmt.Errorf("%w: %s: %s", coordinator.ErrDownstreamUnavailable, op, st.Message())
	}
}

// call runs fn through cb, adding a deadline when ctx has none.
func call[T any](ctx context.Context, cb *gobreaker.CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}
	return breaker.Execute(cb, func() (T, error) { return fn(ctx) })
}

var errEmptyResponse = errors.New("empty response")
