package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"tailscale.com/tsweb"

	"github.com/banshee-data/snow.eliminator/internal/control"
	"github.com/banshee-data/snow.eliminator/internal/monitoring"
	"github.com/banshee-data/snow.eliminator/internal/safety"
)

// HealthService is the service name the control loop is reported under.
// The overall server status ("") always matches it.
const HealthService = "snoweliminator.ControlLoop"

// healthStopTimeout bounds GracefulStop; open Watch streams never finish
// on their own.
const healthStopTimeout = time.Second

// Health reports a control loop over the standard gRPC health protocol.
// It is a control.Observer: the loop is SERVING from RunStarted until
// RunTerminated, and Check answers NOT_SERVING as soon as the latch trips.
type Health struct {
	*health.Server

	mu   sync.Mutex
	loop Loop
}

var _ control.Observer = (*Health)(nil)

// NewHealth returns a health service reporting NOT_SERVING until a run starts.
func NewHealth() *Health {
	h := &Health{Server: health.NewServer()}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Track makes Check consult loop's latch directly.
func (h *Health) Track(loop Loop) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loop = loop
}

func (h *Health) tracked() Loop {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loop
}

func (h *Health) set(st healthpb.HealthCheckResponse_ServingStatus) {
	h.SetServingStatus("", st)
	h.SetServingStatus(HealthService, st)
}

func (h *Health) RunStarted(control.RunInfo)         { h.set(healthpb.HealthCheckResponse_SERVING) }
func (h *Health) CycleCompleted(control.CycleReport) {}
func (h *Health) RunTerminated(control.Termination)  { h.set(healthpb.HealthCheckResponse_NOT_SERVING) }

// Check implements the health Check RPC.
func (h *Health) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	resp, err := h.Server.Check(ctx, req)
	if err != nil {
		return nil, err
	}
	if loop := h.tracked(); loop != nil && loop.Snapshot().Latch == safety.Stopped {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	return resp, nil
}

// AttachAdminRoutes mounts /debug/health, the Check result as JSON.
func (h *Health) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("health", "gRPC health status (JSON)", func(w http.ResponseWriter, r *http.Request) {
		resp, err := h.Check(r.Context(), &healthpb.HealthCheckRequest{Service: r.URL.Query().Get("service")})
		if status.Code(err) == codes.NotFound {
			writeJSONError(w, http.StatusNotFound, status.Convert(err).Message())
			return
		}
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		b, err := protojson.Marshal(resp)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(b)
	})
}

// ServeHealth serves h over gRPC on addr until ctx is done.
func ServeHealth(ctx context.Context, addr string, h *Health) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return serveHealth(ctx, lis, h)
}

func serveHealth(ctx context.Context, lis net.Listener, h *Health) error {
	server := grpc.NewServer()
	healthpb.RegisterHealthServer(server, h)

	served := make(chan error, 1)
	go func() {
		monitoring.Logf("health service listening on %s", lis.Addr())
		served <- server.Serve(lis)
	}()

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
	}

	// Watchers see NOT_SERVING before their streams are closed.
	h.Shutdown()
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(healthStopTimeout):
		monitoring.Logf("health service did not stop in %s, closing", healthStopTimeout)
		server.Stop()
		<-stopped
	}
	if err := <-served; err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
