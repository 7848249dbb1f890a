// Package breaker wraps sony/gobreaker for the downstream gRPC clients.
package breaker

import (
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type Settings struct {
	Name string
	// ConsecutiveFailures trips the breaker once reached.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	// IsSuccessful reports whether err must not count as a failure, for
	// example business rejections returned by a healthy service.
	IsSuccessful func(err error) bool
}

func New(s Settings, logger *zap.Logger) *gobreaker.CircuitBreaker {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		IsSuccessful: s.IsSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// Execute runs fn through cb and keeps the result typed.
func Execute[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	res, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if res != nil {
			if v, ok := res.(T); ok {
				return v, err
			}
		}
		return zero, err
	}
	return res.(T), nil
}

// IsOpen reports whether err was produced by the breaker itself rather than
// by the wrapped call.
func IsOpen(err error) bool {
	return err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests
}
