package monitor

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/banshee-data/snow.eliminator/internal/actuator"
	"github.com/banshee-data/snow.eliminator/internal/control"
	"github.com/banshee-data/snow.eliminator/internal/scan"
	"github.com/banshee-data/snow.eliminator/internal/sensors"
	"github.com/banshee-data/snow.eliminator/internal/sim"
)

func check(t *testing.T, h *Health, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := h.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealth_FollowsRun(t *testing.T) {
	h := NewHealth()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, h, ""))

	h.RunStarted(control.RunInfo{RunID: "run-h"})
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, h, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, h, HealthService))

	h.CycleCompleted(control.CycleReport{RunID: "run-h", Seq: 1})
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, h, HealthService))

	h.RunTerminated(control.Termination{RunID: "run-h", Cause: control.CauseEndOfStream})
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, h, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, h, HealthService))

	_, err := h.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "plough"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestHealth_LatchedLoopIsNotServing(t *testing.T) {
	rec := sim.NewRecorder()
	loop := newLoop(sim.NewScanner(rec), rec)
	h := NewHealth()
	h.Track(loop)
	h.RunStarted(control.RunInfo{RunID: loop.RunID()})
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, h, HealthService))

	loop.EmergencyStop()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, h, HealthService))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, h, ""))
}

func TestHealth_ObservesLoop(t *testing.T) {
	rec := sim.NewRecorder()
	scanner := sim.NewScanner(rec, scan.Frame{})
	h := NewHealth()
	loop := control.NewLoop(
		sensors.NewFusion(sim.NewProximity(), scanner),
		actuator.NewController(sim.NewLocomotion(rec), sim.NewSwitch("heater", rec), sim.NewSwitch("sprayer", rec)),
		control.DefaultSettings(),
		control.WithObserver(h),
	)
	h.Track(loop)

	var during healthpb.HealthCheckResponse_ServingStatus
	scanner.OnNext = func(call int) {
		if call == 1 {
			during = check(t, h, HealthService)
		}
	}
	_, err := loop.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, during)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, h, HealthService))
}

func TestHealthRoute(t *testing.T) {
	h := NewHealth()
	h.RunStarted(control.RunInfo{RunID: "run-h"})
	mux := http.NewServeMux()
	h.AttachAdminRoutes(mux)

	w := serve(mux, http.MethodGet, "/debug/health?service="+HealthService)
	require.Equal(t, http.StatusOK, w.Code)
	var resp healthpb.HealthCheckResponse
	require.NoError(t, protojson.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	w = serve(mux, http.MethodGet, "/debug/health?service=plough")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServeHealth(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	h := NewHealth()
	h.RunStarted(control.RunInfo{RunID: "run-h"})

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- serveHealth(ctx, lis, h) }()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()
	resp, err := healthpb.NewHealthClient(conn).Check(callCtx, &healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("health service did not stop")
	}
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, h, HealthService), "shutdown marks every service down")
}

func TestServeHealth_BadAddress(t *testing.T) {
	err := ServeHealth(context.Background(), "256.0.0.1:bad", NewHealth())
	assert.ErrorContains(t, err, "failed to listen")
}
