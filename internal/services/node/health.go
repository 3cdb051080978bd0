package node

import (
	"context"
	"log"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/entities"
)

// HealthService is the service name reported next to the overall ("") status.
const HealthService = "irrigation.node"

// faultFlags sono i guasti locali che impediscono di irrigare in sicurezza.
// LINK e TRANSPORT no: il nodo continua a lavorare offline.
const faultFlags = entities.FlagSensorTimeout | entities.FlagFlowFault | entities.FlagValveFeedback

// ServingStatus maps a status view to the grpc.health.v1 status.
func ServingStatus(v model.StatusView, ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if !ok || entities.ErrorFlag(v.Errors)&faultFlags != 0 {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

// HealthServer exposes grpc.health.v1 and follows the driver's status view.
type HealthServer struct {
	addr   string
	src    StatusSource
	period time.Duration
	grpc   *grpc.Server
	health *health.Server
	last   healthpb.HealthCheckResponse_ServingStatus
}

func NewHealthServer(addr string, src StatusSource, period time.Duration) *HealthServer {
	if period <= 0 {
		period = time.Second
	}
	h := &HealthServer{
		addr:   addr,
		src:    src,
		period: period,
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		last:   healthpb.HealthCheckResponse_UNKNOWN,
	}
	healthpb.RegisterHealthServer(h.grpc, h.health)
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Health is the underlying health service (for tests).
func (h *HealthServer) Health() healthpb.HealthServer { return h.health }

// Refresh pulls the latest view and updates the serving status.
func (h *HealthServer) Refresh() {
	h.set(ServingStatus(h.src.Status()))
}

func (h *HealthServer) set(st healthpb.HealthCheckResponse_ServingStatus) {
	if st == h.last {
		return
	}
	h.health.SetServingStatus("", st)
	h.health.SetServingStatus(HealthService, st)
	if h.last != healthpb.HealthCheckResponse_UNKNOWN {
		log.Printf("grpc health: %s -> %s", h.last, st)
	}
	h.last = st
}

// Run serves until ctx is done.
func (h *HealthServer) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("grpc health on %s", h.addr)
		errCh <- h.grpc.Serve(lis)
	}()

	ticker := time.NewTicker(h.period)
	defer ticker.Stop()
	for {
		select {
		case err := <-errCh:
			return err
		case <-ticker.C:
			h.Refresh()
		case <-ctx.Done():
			h.health.Shutdown()
			h.grpc.GracefulStop()
			return nil
		}
	}
}
