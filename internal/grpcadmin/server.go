// Package grpcadmin exposes the gateway's health over the standard gRPC
// health checking protocol (grpc.health.v1), so orchestrators that speak
// gRPC health probes can gate traffic on upstream readiness.
package grpcadmin

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ReadinessSource reports whether the gateway is ready to accept traffic.
type ReadinessSource interface {
	Ready() bool
}

// Server runs a gRPC listener serving the standard health service, with
// serving status driven by the gateway's readiness.
type Server struct {
	server   *grpc.Server
	health   *grpchealth.Server
	source   ReadinessSource
	interval time.Duration
	logger   *slog.Logger
}

// New creates a gRPC health server polling the readiness source at the
// given interval.
func New(source ReadinessSource, interval time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	gs := grpc.NewServer()
	hs := grpchealth.NewServer()
	grpc_health_v1.RegisterHealthServer(gs, hs)

	return &Server{
		server:   gs,
		health:   hs,
		source:   source,
		interval: interval,
		logger:   logger,
	}
}

// Serve starts serving on the listener and keeps the health status in sync
// with readiness until the context is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.setStatus(s.source.Ready())

	go s.syncLoop(ctx)

	s.logger.Info("gRPC health server listening", "addr", lis.Addr().String())
	return s.server.Serve(lis)
}

// Stop gracefully stops the gRPC server.
func (s *Server) Stop() {
	s.server.GracefulStop()
}

// syncLoop refreshes the reported status at the polling interval.
func (s *Server) syncLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.setStatus(s.source.Ready())
		}
	}
}

// setStatus publishes the serving status for both the overall server ("")
// and the named gateway service.
func (s *Server) setStatus(ready bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if ready {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus("digestgate", status)
}
