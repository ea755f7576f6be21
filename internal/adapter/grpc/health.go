package grpc

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service names reported by the health server. The empty name is the
// process as a whole.
const (
	ServiceAPI    = ""
	ServiceLedger = "portfolio.ledger"
	ServiceTasks  = "portfolio.tasks"
)

// HealthServer exposes grpc.health.v1 for load balancers and the
// healthcheck command.
type HealthServer struct {
	srv    *grpc.Server
	health *health.Server
}

func NewHealthServer(opts ...grpc.ServerOption) *HealthServer {
	h := &HealthServer{
		srv:    grpc.NewServer(opts...),
		health: health.NewServer(),
	}
	healthpb.RegisterHealthServer(h.srv, h.health)
	for _, svc := range []string{ServiceAPI, ServiceLedger, ServiceTasks} {
		h.health.SetServingStatus(svc, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return h
}

func (h *HealthServer) SetServing(service string, serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(service, st)
}

// Serve blocks until Stop is called or lis fails.
func (h *HealthServer) Serve(lis net.Listener) error {
	return h.srv.Serve(lis)
}

// Stop reports NOT_SERVING to watchers and drains in-flight checks.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.srv.GracefulStop()
}
