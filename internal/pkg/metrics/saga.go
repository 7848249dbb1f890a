// Package metrics holds the Prometheus collectors of the checkout saga.
//
// Every method is safe on a nil *Saga so components can run without metrics
// in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "checkout"

type Saga struct {
	checkouts            *prometheus.CounterVec
	stepDuration         *prometheus.HistogramVec
	compensations        *prometheus.CounterVec
	compensationFailures prometheus.Counter
	recovered            *prometheus.CounterVec
}

// NewSaga creates the collectors and registers them on reg.
func NewSaga(reg prometheus.Registerer) *Saga {
	m := &Saga{
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "total",
			Help:      "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of forward saga steps.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step", "outcome"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensations_total",
			Help:      "Compensation calls by step and outcome.",
		}, []string{"step", "outcome"}),
		compensationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensation_failures_total",
			Help:      "Sagas left in COMPENSATION_FAILED.",
		}),
		recovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovered_total",
			Help:      "Sagas resolved by the recovery sweep, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.checkouts, m.stepDuration, m.compensations, m.compensationFailures, m.recovered)
	return m
}

func (m *Saga) ObserveCheckout(outcome string) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(outcome).Inc()
}

func (m *Saga) ObserveStep(step, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step, outcome).Observe(d.Seconds())
}

func (m *Saga) ObserveCompensation(step, outcome string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(step, outcome).Inc()
}

func (m *Saga) CompensationFailed() {
	if m == nil {
		return
	}
	m.compensationFailures.Inc()
}

func (m *Saga) ObserveRecovered(outcome string) {
	if m == nil {
		return
	}
	m.recovered.WithLabelValues(outcome).Inc()
}

// CheckoutCounter exposes one outcome series, for tests.
func (m *Saga) CheckoutCounter(outcome string) prometheus.Counter {
	return m.checkouts.WithLabelValues(outcome)
}

// CompensationFailures exposes the failure counter, for tests.
func (m *Saga) CompensationFailures() prometheus.Counter {
	return m.compensationFailures
}

// Recovered exposes one recovery outcome series, for tests.
func (m *Saga) Recovered(outcome string) prometheus.Counter {
	return m.recovered.WithLabelValues(outcome)
}
