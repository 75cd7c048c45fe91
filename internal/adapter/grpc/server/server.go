package server

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/seu-repo/sigec-ve-client/internal/adapter/grpc/interceptors"
	healthsvc "github.com/seu-repo/sigec-ve-client/internal/service/health"
)

// ServiceName is the gRPC health service name reported alongside the overall status.
const ServiceName = "sigec.client.v1.Engine"

type GRPCServer struct {
	server *grpc.Server
	health *health.Server
	ready  *healthsvc.Service
	log    *zap.Logger
}

func NewGRPCServer(ready *healthsvc.Service, log *zap.Logger) *GRPCServer {
	s := grpc.NewServer(
		grpc.UnaryInterceptor(interceptors.Unary(log)),
		grpc.StreamInterceptor(interceptors.Stream(log)),
	)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s, hs)

	// Enable reflection for debugging (e.g. grpcurl)
	reflection.Register(s)

	return &GRPCServer{
		server: s,
		health: hs,
		ready:  ready,
		log:    log,
	}
}

// WatchReadiness mirrors the readiness checks into the gRPC health status
// until ctx is done.
func (s *GRPCServer) WatchReadiness(ctx context.Context, interval time.Duration) {
	s.ready.Watch(ctx, interval, func(ready bool) {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if ready {
			status = healthpb.HealthCheckResponse_SERVING
		}
		s.health.SetServingStatus("", status)
		s.health.SetServingStatus(ServiceName, status)
		s.log.Info("gRPC health status changed", zap.String("status", status.String()))
	})
}

func (s *GRPCServer) Serve(lis net.Listener) error {
	return s.server.Serve(lis)
}

func (s *GRPCServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
