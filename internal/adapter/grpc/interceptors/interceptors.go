// Package interceptors holds the gRPC server middleware of the engine.
package interceptors

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/seu-repo/sigec-ve-client/internal/observability/telemetry"
)

// Unary recovers panics, records metrics and logs each unary call. Successful
// calls are health probes almost always and are logged at debug.
func Unary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				log.Error("gRPC handler panicked", zap.String("method", info.FullMethod), zap.Any("panic", r))
				err = status.Error(codes.Internal, "internal error")
			}
			observe(log, info.FullMethod, start, err)
		}()
		return handler(ctx, req)
	}
}

// Stream does the same for streaming calls such as health Watch.
func Stream(log *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				log.Error("gRPC stream panicked", zap.String("method", info.FullMethod), zap.Any("panic", r))
				err = status.Error(codes.Internal, "internal error")
			}
			observe(log, info.FullMethod, start, err)
		}()
		return handler(srv, ss)
	}
}

func observe(log *zap.Logger, method string, start time.Time, err error) {
	duration := time.Since(start)
	code := status.Code(err)

	telemetry.GRPCRequests.WithLabelValues(method, code.String()).Inc()
	telemetry.GRPCLatency.WithLabelValues(method).Observe(duration.Seconds())

	fields := []zap.Field{
		zap.String("method", method),
		zap.Duration("duration", duration),
		zap.String("status_code", code.String()),
	}
	// a client closing its Watch stream is not a failure
	if err != nil && code != codes.Canceled {
		log.Error("gRPC request failed", append(fields, zap.Error(err))...)
		return
	}
	log.Debug("gRPC request completed", fields...)
}
