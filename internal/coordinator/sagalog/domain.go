// Package sagalog defines the domain types for the Saga Log pattern.
//
// A Saga Log is a durable audit trail of every state transition a saga goes
// through. It serves two purposes:
//
//  1. Observability: you can query the DB to see exactly where a saga is (or
//     was) and correlate it with a distributed trace via the trace_id field.
//
//  2. Recovery: on restart, the coordinator reads the sagas that never reached
//     a terminal status and rolls them forward or compensates them.
package sagalog

import (
	"encoding/json"
	"errors"
	"time"
)

// Status represents the lifecycle state of a saga execution.
type Status string

const (
	StatusStarted            Status = "STARTED"
	StatusStepStarted        Status = "STEP_STARTED"
	StatusStepDone           Status = "STEP_DONE"
	StatusCompleted          Status = "COMPLETED"
	StatusCompensating       Status = "COMPENSATING"
	StatusFailed             Status = "FAILED"
	StatusCompensationFailed Status = "COMPENSATION_FAILED"
)

// Terminal reports whether no further work is expected for a saga whose
// latest entry has this status. COMPENSATION_FAILED is not terminal: the
// recovery sweep retries it.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// SagaLog is a single row in the saga_logs table.
// It captures a point-in-time snapshot of a saga execution.
type SagaLog struct {
	// SagaID identifies one checkout attempt.
	SagaID string

	// OrderID is the order the saga is paying for. Several sagas may exist
	// for one order (a failed attempt followed by a retry).
	OrderID string

	Status Status

	// CurrentStep is the name of the step that was just started, finished
	// or failed.
	CurrentStep string

	// Payload is the JSON-serialised saga input. Written once, on STARTED.
	Payload string

	// CompletedSteps is a JSON array with the names of the forward steps
	// done so far, in execution order.
	CompletedSteps string

	// ErrorMessages accumulates failure details as a JSON array.
	ErrorMessages string

	// TraceID and SpanID come from the span active when the row was written.
	TraceID string
	SpanID  string

	UpdatedAt time.Time
}

// Completed decodes CompletedSteps. A malformed value yields nil.
func (l *SagaLog) Completed() []string {
	var steps []string
	if l.CompletedSteps == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(l.CompletedSteps), &steps); err != nil {
		return nil
	}
	return steps
}

// Pending is a saga whose latest entry is not terminal, together with the
// payload it was started with.
type Pending struct {
	Latest  SagaLog
	Payload string
}

// ErrNotFound is returned by GetLatest for an unknown saga.
var ErrNotFound = errors.New("saga log not found")
