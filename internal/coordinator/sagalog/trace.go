// Package sagalog provides helpers for building SagaLog entries from
// an active OpenTelemetry span stored in a context.Context.
package sagalog

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// TraceInfo holds the OTel identifiers extracted from a context.
type TraceInfo struct {
	// TraceID is the W3C trace ID (32 lowercase hex chars).
	// Empty string if no active span is found in the context.
	TraceID string

	// SpanID is the W3C span ID (16 lowercase hex chars).
	SpanID string
}

// ExtractTraceInfo reads the active OpenTelemetry span from ctx and returns
// its trace_id and span_id as hex strings. Both are empty without an active
// span, which is the case in unit tests.
func ExtractTraceInfo(ctx context.Context) TraceInfo {
	span := trace.SpanFromContext(ctx)
	sc := span.SpanContext()

	if !sc.IsValid() {
		return TraceInfo{}
	}

	return TraceInfo{
		TraceID: sc.TraceID().String(),
		SpanID:  sc.SpanID().String(),
	}
}

// NewEntry builds a SagaLog entry with the trace info extracted from ctx.
//
//	entry := sagalog.NewEntry(ctx, sagaID, sagalog.StatusStepDone, "reserve:item-1", "", nil).
//		WithProgress(orderID, completed)
//	_ = repo.Save(ctx, entry)
func NewEntry(
	ctx context.Context,
	sagaID string,
	status Status,
	currentStep string,
	payload string,
	errs []string,
) *SagaLog {
	ti := ExtractTraceInfo(ctx)

	return &SagaLog{
		SagaID:         sagaID,
		Status:         status,
		CurrentStep:    currentStep,
		Payload:        payload,
		CompletedSteps: "[]",
		ErrorMessages:  marshalStrings(errs),
		TraceID:        ti.TraceID,
		SpanID:         ti.SpanID,
		UpdatedAt:      time.Now().UTC(),
	}
}

// WithProgress records the order and the forward steps completed so far.
func (l *SagaLog) WithProgress(orderID string, completed []string) *SagaLog {
	l.OrderID = orderID
	l.CompletedSteps = marshalStrings(completed)
	return l
}

func marshalStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(b)
}
