// Package interceptors moves the request id and the idempotency key between
// HTTP, context values and gRPC metadata, and logs every unary call.
package interceptors

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/jcmexdev/checkout-saga/internal/pkg/interceptors/constants"
	"github.com/jcmexdev/checkout-saga/internal/pkg/telemetry"
)

// TraceServerInterceptor copies x-request-id and x-idempotency-key from the
// incoming metadata into the context and writes one log line per call.
func TraceServerInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		requestID := firstIncoming(ctx, constants.HeaderXRequestId)
		idempotencyKey := firstIncoming(ctx, constants.HeaderXIdempotencyKey)

		ctx = context.WithValue(ctx, constants.ContextKeyRequestID, requestID)
		ctx = context.WithValue(ctx, constants.ContextKeyIdempotencyKey, idempotencyKey)

		start := time.Now()
		resp, err := handler(ctx, req)

		telemetry.WithTrace(ctx, logger).Info("grpc call",
			zap.String("method", info.FullMethod),
			zap.String("request_id", requestID),
			zap.String("idempotency_key", idempotencyKey),
			zap.String("code", status.Code(err).String()),
			zap.Duration("duration", time.Since(start)),
		)
		return resp, err
	}
}

// TraceClientInterceptor forwards the request id stored in ctx to the callee.
func TraceClientInterceptor() grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		if md, ok := metadata.FromOutgoingContext(ctx); !ok || len(md.Get(constants.HeaderXRequestId)) == 0 {
			if id := GetMetadataValue(ctx, constants.HeaderXRequestId); id != "" {
				ctx = metadata.AppendToOutgoingContext(ctx, constants.HeaderXRequestId, id)
			}
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// WithIdempotencyKey attaches key to the outgoing metadata of the next call.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, constants.HeaderXIdempotencyKey, key)
}

// GetMetadataValue looks key up in the context values first, then in the
// incoming and outgoing metadata.
func GetMetadataValue(ctx context.Context, key string) string {
	if v, ok := ctx.Value(contextKeyFor(key)).(string); ok && v != "" {
		return v
	}
	if v := firstIncoming(ctx, key); v != "" {
		return v
	}
	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		if vals := md.Get(key); len(vals) > 0 {
			return vals[0]
		}
	}
	return ""
}

func firstIncoming(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

func contextKeyFor(header string) interface{} {
	switch header {
	case constants.HeaderXRequestId:
		return constants.ContextKeyRequestID
	case constants.HeaderXIdempotencyKey:
		return constants.ContextKeyIdempotencyKey
	default:
		return header
	}
}
