package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"entadmin.org/internal/obs"
)

// HealthServer exposes readiness over the standard gRPC health protocol. The overall
// status ("") and the named service track the same probe.
type HealthServer struct {
	srv       *health.Server
	readiness readinessChecker
}

func NewHealthServer(r readinessChecker) *HealthServer {
	if r == nil {
		r = ReadyProbe{}
	}
	h := &HealthServer{srv: health.NewServer(), readiness: r}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to s.
func (h *HealthServer) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Refresh runs the probe once and publishes the result.
func (h *HealthServer) Refresh(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.readiness.Check(ctx); err != nil {
		obs.Warn("readiness_check_failed", map[string]any{"error": err})
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	h.set(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Run refreshes on every tick until ctx ends, then marks the service as shut down.
func (h *HealthServer) Run(ctx context.Context, interval time.Duration) {
	h.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

func (h *HealthServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(serviceName, status)
}
