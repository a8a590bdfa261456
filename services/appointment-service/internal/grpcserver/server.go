// Package grpcserver exposes the service's readiness over the standard gRPC
// health protocol so orchestrators can probe it without HTTP.
package grpcserver

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Serryudy/EAD-sub001/libs/grpcx"
	"github.com/Serryudy/EAD-sub001/libs/runtime"
)

// ServiceName is the health service name reported next to the overall ("") status.
const ServiceName = "servicebay.appointments"

type Server struct {
	srv      *grpc.Server
	health   *health.Server
	checks   []runtime.ReadyCheck
	logger   *zap.Logger
	interval time.Duration
}

// New builds the server. Status starts NOT_SERVING until the first refresh.
func New(logger *zap.Logger, interval time.Duration, checks ...runtime.ReadyCheck) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s := &Server{
		srv:      grpcx.NewServer(logger),
		health:   health.NewServer(),
		checks:   checks,
		logger:   logger,
		interval: interval,
	}
	healthpb.RegisterHealthServer(s.srv, s.health)
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Refresh runs the ready checks once and publishes the result.
func (s *Server) Refresh(ctx context.Context) runtime.ReadyReport {
	report := runtime.RunReadyChecks(ctx, s.checks...)
	if report.Status == "ok" {
		s.set(healthpb.HealthCheckResponse_SERVING)
	} else {
		s.logger.Warn("readiness degraded", zap.Any("checks", report.Checks))
		s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return report
}

func (s *Server) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve blocks until ctx is cancelled or the listener fails, refreshing
// health on every interval.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.Refresh(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.health.Shutdown()
				s.srv.GracefulStop()
				return
			case <-ticker.C:
				s.Refresh(ctx)
			}
		}
	}()

	s.logger.Info("grpc server starting", zap.String("addr", lis.Addr().String()))
	err := s.srv.Serve(lis)
	if ctx.Err() != nil {
		<-done
		return nil
	}
	return err
}
