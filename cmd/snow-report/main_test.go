package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/snow.eliminator/internal/actuator"
	"github.com/banshee-data/snow.eliminator/internal/control"
	"github.com/banshee-data/snow.eliminator/internal/journal"
	"github.com/banshee-data/snow.eliminator/internal/navigation"
	"github.com/banshee-data/snow.eliminator/internal/scan"
)

func writeJournal(t *testing.T, path string, runIDs ...string) {
	t.Helper()
	j, err := journal.Open(path)
	require.NoError(t, err)
	rec := j.Recorder()
	start := time.Date(2025, 1, 15, 6, 0, 0, 0, time.UTC)
	for i, id := range runIDs {
		at := start.Add(time.Duration(i) * time.Hour)
		rec.RunStarted(control.RunInfo{RunID: id, StartedAt: at, Settings: control.DefaultSettings()})
		rec.CycleCompleted(control.CycleReport{
			RunID: id, Seq: 1, At: at.Add(time.Second), Evaluated: true, Decision: navigation.Obstacle,
			Command: actuator.Command{Drive: actuator.TurnRight(0.5)},
			Summary: scan.Summary{ForwardPoints: 3, MinForwardDistance: 500},
		})
		rec.RunTerminated(control.Termination{RunID: id, Cause: control.CauseEndOfStream, Cycles: 1, StartedAt: at, EndedAt: at.Add(2 * time.Second)})
	}
	j.Sync()
	require.NoError(t, j.Close())
}

func TestGenerate(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "journal.db")
	writeJournal(t, db, "first", "second")

	out := filepath.Join(dir, "latest.png")
	require.NoError(t, generate(db, "", out))
	_, err := os.Stat(out)
	assert.NoError(t, err)

	out = filepath.Join(dir, "first.svg")
	require.NoError(t, generate(db, "first", out))
	_, err = os.Stat(out)
	assert.NoError(t, err)
}

func TestGenerate_UnknownRun(t *testing.T) {
	db := filepath.Join(t.TempDir(), "journal.db")
	writeJournal(t, db, "only")
	err := generate(db, "missing", filepath.Join(t.TempDir(), "x.png"))
	assert.ErrorIs(t, err, journal.ErrRunNotFound)
}

func TestGenerate_MissingJournal(t *testing.T) {
	err := generate(filepath.Join(t.TempDir(), "nope.db"), "", "")
	assert.Error(t, err)
}
