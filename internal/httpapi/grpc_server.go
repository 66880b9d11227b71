package httpapi

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"alloxid.dev/internal/obs"
)

// GRPCServer serves the standard gRPC health protocol for the service,
// driven by the same readiness probe as /readyz.
type GRPCServer struct {
	*grpc.Server

	health    *health.Server
	readiness readinessChecker
	log       *slog.Logger
}

// NewGRPCServer registers health and reflection. Status starts NOT_SERVING
// until the first Refresh.
func NewGRPCServer(r readinessChecker, logger *slog.Logger) *GRPCServer {
	if r == nil {
		r = ReadyProbe{}
	}
	if logger == nil {
		logger = obs.Logger()
	}
	s := &GRPCServer{
		health:    health.NewServer(),
		readiness: r,
		log:       logger,
	}
	s.Server = grpc.NewServer(grpc.ChainUnaryInterceptor(s.unaryLogging))
	healthpb.RegisterHealthServer(s.Server, s.health)
	reflection.Register(s.Server)

	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Refresh runs the readiness probe once and publishes the result.
func (s *GRPCServer) Refresh(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.readiness.Check(ctx); err != nil {
		s.log.WarnContext(ctx, "grpc readiness check failed", "error", err)
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		obs.SetReady(false)
		return false
	}
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
	obs.SetReady(true)
	return true
}

// Watch refreshes health every interval until ctx is done.
func (s *GRPCServer) Watch(ctx context.Context, interval time.Duration) {
	s.Refresh(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Refresh(ctx)
		}
	}
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (s *GRPCServer) Stop(ctx context.Context) error {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.Server.Stop()
		return ctx.Err()
	}
}

func (s *GRPCServer) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(serviceName, st)
}

func (s *GRPCServer) unaryLogging(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	code := status.Code(err)
	obs.CountGRPCRequest(info.FullMethod, code.String())
	s.log.LogAttrs(ctx, slog.LevelDebug, "grpc_request",
		slog.String("method", info.FullMethod),
		slog.String("code", code.String()),
		slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
	)
	return resp, err
}
