package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"marketplace-responder/backend/pkg/logger"
)

// ServiceName is the health service name reported for the responder
const ServiceName = "marketplace.responder.v1.Responder"

// Server exposes the standard gRPC health protocol so orchestrators can probe the service
type Server struct {
	srv    *grpc.Server
	health *health.Server
	log    *logger.Logger
}

// NewServer creates a server that reports NOT_SERVING until SetServing(true)
func NewServer(log *logger.Logger, opts ...grpc.ServerOption) *Server {
	if log == nil {
		log = logger.Nop()
	}
	srv := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	s := &Server{srv: srv, health: hs, log: log.With("component", "grpc")}
	s.SetServing(false)
	return s
}

// SetServing updates the status of both the overall and the responder service
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// ListenAndServe listens on addr and serves until ctx is done, then stops gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is done
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("gRPC server listening", "addr", lis.Addr().String())
		errCh <- s.srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.health.Shutdown()
		s.srv.GracefulStop()
		s.log.Info("gRPC server stopped")
		return nil
	}
}
