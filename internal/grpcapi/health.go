// Package grpcapi exposes the standard gRPC health service so load
// balancers and orchestrators can probe the gatekeeper.
package grpcapi

import (
	"log"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health entry reported for the visit flow.
const ServiceName = "portunus.gatekeeper.v1.Visits"

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *log.Logger
}

func NewServer(logger *log.Logger) *Server {
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &Server{grpc: gs, health: hs, logger: logger}
}

// Serve marks the service SERVING and blocks until the listener closes.
func (s *Server) Serve(lis net.Listener) error {
	s.SetServing(true)
	s.logger.Printf("grpc health listening on %s", lis.Addr())
	return s.grpc.Serve(lis)
}

func (s *Server) SetServing(up bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if up {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Stop reports NOT_SERVING to watchers and then drains connections.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
