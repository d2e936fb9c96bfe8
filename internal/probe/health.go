package probe

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the service reported by the gRPC health endpoint.
const ServiceName = "backoffice.v1.Backoffice"

// StatusChecker is satisfied by *Readiness.
type StatusChecker interface {
	Check(ctx context.Context) error
}

// HealthServer publishes readiness over the standard gRPC health protocol so
// orchestrators can probe the process without HTTP.
type HealthServer struct {
	health   *health.Server
	ready    StatusChecker
	interval time.Duration
	logger   *slog.Logger
}

func NewHealthServer(ready StatusChecker, interval time.Duration, logger *slog.Logger) *HealthServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &HealthServer{
		health:   health.NewServer(),
		ready:    ready,
		interval: interval,
		logger:   logger,
	}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to srv.
func (h *HealthServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, h.health)
}

// Refresh evaluates readiness once and updates the served status.
func (h *HealthServer) Refresh(ctx context.Context) bool {
	if h.ready == nil {
		h.set(healthpb.HealthCheckResponse_SERVING)
		return true
	}
	if err := h.ready.Check(ctx); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	h.set(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Run refreshes the status every interval until ctx is cancelled.
func (h *HealthServer) Run(ctx context.Context) {
	h.Refresh(ctx)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

// Shutdown marks every service NOT_SERVING and ignores later updates.
func (h *HealthServer) Shutdown() {
	h.health.Shutdown()
}

func (h *HealthServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
}
