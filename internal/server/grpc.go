package server

import (
	"context"
	"io"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported for the watcher.
const ServiceName = "kiroku.Watcher"

// GRPCServer serves the standard gRPC health protocol for the watcher.
type GRPCServer struct {
	addr   string
	server *grpc.Server
	health *health.Server
	logger *slog.Logger
}

func NewGRPC(addr string, logger *slog.Logger) *GRPCServer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	g := &GRPCServer{addr: addr, server: srv, health: hs, logger: logger.With("component", "grpc")}
	g.SetServing(false)
	return g
}

// SetServing flips both the overall and the watcher service status.
func (g *GRPCServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(ServiceName, status)
}

func (g *GRPCServer) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", g.addr)
	if err != nil {
		return err
	}
	return g.ServeListener(ctx, lis)
}

// ServeListener serves until ctx is cancelled, then drains in-flight calls.
func (g *GRPCServer) ServeListener(ctx context.Context, lis net.Listener) error {
	g.logger.Info("grpc server starting", "addr", lis.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- g.server.Serve(lis) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	g.logger.Info("grpc server shutting down")
	g.health.Shutdown()
	g.server.GracefulStop()
	return <-errCh
}
