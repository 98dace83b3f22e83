package journal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/snow.eliminator/internal/actuator"
	"github.com/banshee-data/snow.eliminator/internal/control"
	"github.com/banshee-data/snow.eliminator/internal/navigation"
	"github.com/banshee-data/snow.eliminator/internal/scan"
	"github.com/banshee-data/snow.eliminator/internal/sensors"
	"github.com/banshee-data/snow.eliminator/internal/sim"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

var t0 = time.Date(2025, 1, 15, 6, 0, 0, 0, time.UTC)

func recordRun(j *Journal, runID string, start time.Time) {
	rec := j.Recorder()
	rec.RunStarted(control.RunInfo{RunID: runID, StartedAt: start, Settings: control.DefaultSettings()})
	rec.CycleCompleted(control.CycleReport{
		RunID: runID, Seq: 1, At: start.Add(100 * time.Millisecond),
		Evaluated: true, Decision: navigation.Clear,
		Command: actuator.Command{Drive: actuator.Forward(0.3), Heater: true, Sprayer: true},
		Summary: scan.Summary{Points: 360, ValidPoints: 350, ForwardPoints: 0, MeanQuality: 15},
	})
	rec.CycleCompleted(control.CycleReport{
		RunID: runID, Seq: 2, At: start.Add(200 * time.Millisecond),
		Evaluated: true, Decision: navigation.Obstacle,
		Command: actuator.Command{Drive: actuator.TurnRight(0.5)},
		Summary: scan.Summary{Points: 358, ValidPoints: 340, ForwardPoints: 12, MeanQuality: 14.5, MinForwardDistance: 420, MeanForwardDist: 610},
	})
	rec.CycleCompleted(control.CycleReport{
		RunID: runID, Seq: 3, At: start.Add(1300 * time.Millisecond),
		Proximity: true,
		Command:   actuator.Command{Drive: actuator.Stop},
		Summary:   scan.Summary{Points: 361},
	})
	rec.RunTerminated(control.Termination{
		RunID: runID, Cause: control.CauseSafetyBreach, Cycles: 3,
		StartedAt: start, EndedAt: start.Add(1400 * time.Millisecond),
	})
}

func TestOpen_AppliesMigrations(t *testing.T) {
	j := openTestJournal(t)
	version, dirty, err := j.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	recordRun(j, "run-a", t0)
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()
	runs, err := j.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-a", runs[0].RunID)
}

func TestRecorder_RoundTrip(t *testing.T) {
	j := openTestJournal(t)
	recordRun(j, "run-a", t0)
	j.Sync()

	run, err := j.Run("run-a")
	require.NoError(t, err)
	assert.WithinDuration(t, t0, run.StartedAt, time.Microsecond)
	assert.WithinDuration(t, t0.Add(1400*time.Millisecond), run.EndedAt, time.Microsecond)
	assert.Equal(t, control.CauseSafetyBreach, run.Cause)
	assert.Equal(t, int64(3), run.Cycles)
	assert.Empty(t, run.Error)
	assert.Equal(t, control.DefaultSettings(), run.Settings)
	assert.Equal(t, int64(1), run.ClearCycles)
	assert.Equal(t, int64(1), run.ObstacleCycles)
	assert.Equal(t, int64(1), run.BreachCycles)

	cycles, err := j.Cycles("run-a")
	require.NoError(t, err)
	require.Len(t, cycles, 3)

	assert.Equal(t, navigation.Clear, cycles[0].Decision)
	assert.Equal(t, "forward(0.30)", cycles[0].Drive)
	assert.True(t, cycles[0].Heater)
	assert.True(t, cycles[0].Sprayer)

	assert.Equal(t, navigation.Obstacle, cycles[1].Decision)
	assert.Equal(t, "turn_right(0.50)", cycles[1].Drive)
	assert.Equal(t, 12, cycles[1].Summary.ForwardPoints)
	assert.InDelta(t, 420.0, cycles[1].Summary.MinForwardDistance, 1e-9)

	assert.True(t, cycles[2].Proximity)
	assert.False(t, cycles[2].Evaluated)
	assert.Equal(t, "stop", cycles[2].Drive)
	assert.Equal(t, 361, cycles[2].Summary.Points)
}

func TestRecorder_RecordsFaults(t *testing.T) {
	j := openTestJournal(t)
	rec := j.Recorder()
	rec.RunStarted(control.RunInfo{RunID: "run-f", StartedAt: t0, Settings: control.DefaultSettings()})
	rec.RunTerminated(control.Termination{
		RunID: "run-f", Cause: control.CauseSensorFault, StartedAt: t0, EndedAt: t0.Add(time.Second),
		Err: errors.New("sensor fault: usb unplugged"),
	})
	j.Sync()

	run, err := j.Run("run-f")
	require.NoError(t, err)
	assert.Equal(t, control.CauseSensorFault, run.Cause)
	assert.Equal(t, "sensor fault: usb unplugged", run.Error)
	assert.Zero(t, run.Cycles)
	assert.Zero(t, run.ClearCycles)
}

func TestRuns_Ordering(t *testing.T) {
	j := openTestJournal(t)
	recordRun(j, "older", t0)
	recordRun(j, "newer", t0.Add(time.Hour))
	j.Sync()

	runs, err := j.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "newer", runs[0].RunID)
	assert.Equal(t, "older", runs[1].RunID)

	latest, err := j.LatestRun()
	require.NoError(t, err)
	assert.Equal(t, "newer", latest.RunID)
}

func TestRun_NotFound(t *testing.T) {
	j := openTestJournal(t)
	_, err := j.Run("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = j.LatestRun()
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	// No writer goroutine: the queue fills after one event.
	j := &Journal{
		events: make(chan interface{}, 1),
		logf:   func(string, ...interface{}) {},
	}
	rec := j.Recorder()
	for i := 0; i < 50; i++ {
		rec.CycleCompleted(control.CycleReport{RunID: "x", Seq: int64(i)})
	}
	assert.Equal(t, int64(49), j.Dropped())
	assert.Len(t, j.events, 1)
}

func TestRecorder_AfterClose(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close(), "close is idempotent")

	rec := j.Recorder()
	assert.NotPanics(t, func() {
		rec.RunStarted(control.RunInfo{RunID: "late"})
		j.Sync()
	})
}

func TestRecorder_WithLoop(t *testing.T) {
	j := openTestJournal(t)
	rec := sim.NewRecorder()
	loop := control.NewLoop(
		sensors.NewFusion(sim.NewProximity(), sim.NewScanner(rec, scan.Frame{}, scan.Frame{{Angle: 10, Distance: 300}})),
		actuator.NewController(sim.NewLocomotion(rec), sim.NewSwitch("heater", rec), sim.NewSwitch("sprayer", rec)),
		control.Settings{ForwardSpeed: 0.3, TurnSpeed: 0.5, Policy: navigation.DefaultPolicy()},
		control.WithObserver(j.Recorder()),
	)
	_, err := loop.Run(context.Background())
	require.NoError(t, err)
	j.Sync()

	run, err := j.Run(loop.RunID())
	require.NoError(t, err)
	assert.Equal(t, control.CauseEndOfStream, run.Cause)
	assert.Equal(t, int64(2), run.Cycles)
	assert.Equal(t, int64(1), run.ClearCycles)
	assert.Equal(t, int64(1), run.ObstacleCycles)

	cycles, err := j.Cycles(loop.RunID())
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.InDelta(t, 300.0, cycles[1].Summary.MinForwardDistance, 1e-9)
}

func TestAttachAdminRoutes(t *testing.T) {
	j := openTestJournal(t)
	recordRun(j, "run-a", t0)
	j.Sync()

	mux := http.NewServeMux()
	require.NoError(t, j.AttachAdminRoutes(mux))

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "127.0.0.1:12345"
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		return w
	}

	t.Run("runs", func(t *testing.T) {
		w := get("/debug/runs")
		require.Equal(t, http.StatusOK, w.Code)
		var runs []Run
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
		require.Len(t, runs, 1)
		assert.Equal(t, "run-a", runs[0].RunID)
	})

	t.Run("single run", func(t *testing.T) {
		w := get("/debug/runs?id=run-a")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"cycles"`)
		assert.Contains(t, w.Body.String(), `"OBSTACLE"`)
	})

	t.Run("unknown run", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, get("/debug/runs?id=nope").Code)
	})

	t.Run("tailsql", func(t *testing.T) {
		assert.NotEqual(t, http.StatusNotFound, get("/debug/tailsql/").Code)
	})
}
