package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/snow.eliminator/internal/config"
	"github.com/banshee-data/snow.eliminator/internal/control"
	"github.com/banshee-data/snow.eliminator/internal/journal"
)

func TestFlagDefaults(t *testing.T) {
	if *devMode {
		t.Error("expected -dev to default to false")
	}
	if *fixtures != "fixtures/scans.jsonl" {
		t.Errorf("unexpected -fixtures default %q", *fixtures)
	}
	for name, v := range map[string]*string{"config": configFile, "port": port, "listen": listen, "health": healthAddr, "journal": journalPath} {
		if *v != "" {
			t.Errorf("expected -%s to default to empty so config applies, got %q", name, *v)
		}
	}
}

func TestConfigFlagUsage(t *testing.T) {
	usage := flag.Lookup("config").Usage
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		assert.Contains(t, usage, ext)
	}
}

func TestLoadConfig_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eliminator.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scanner_port: /dev/ttyS0\n"), 0o644))

	cfg, err := loadConfig(options{configPath: path})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyS0", cfg.GetScannerPort())
}

func TestLoadConfig_Overrides(t *testing.T) {
	cfg, err := loadConfig(options{port: "/dev/ttyAMA0", listen: "-", health: "127.0.0.1:0", journal: "/tmp/x.db"})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyAMA0", cfg.GetScannerPort())
	assert.Equal(t, "-", cfg.GetListen())
	assert.Equal(t, "127.0.0.1:0", cfg.GetHealthListen())
	assert.Equal(t, "/tmp/x.db", cfg.GetJournalPath())

	cfg, err = loadConfig(options{})
	require.NoError(t, err)
	assert.Equal(t, config.DefaultScannerPort, cfg.GetScannerPort())
	assert.Equal(t, config.DefaultListen, cfg.GetListen())
}

func TestLoadConfig_BadFile(t *testing.T) {
	_, err := loadConfig(options{configPath: filepath.Join(t.TempDir(), "missing.json")})
	assert.Error(t, err)
}

func TestSettingsFrom(t *testing.T) {
	cfg := config.DefaultConfig()
	settle := "250ms"
	cfg.SettleDuration = &settle
	s := settingsFrom(cfg)
	assert.Equal(t, 0.3, s.ForwardSpeed)
	assert.Equal(t, 0.5, s.TurnSpeed)
	assert.Equal(t, 250*time.Millisecond, s.Settle)
	assert.Equal(t, cfg.Policy(), s.Policy)
}

func TestRun_DevMode(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"settle_duration": "0s"}`), 0o644))
	dbPath := filepath.Join(dir, "journal.db")

	term, err := run(context.Background(), options{
		configPath: cfgPath,
		dev:        true,
		fixtures:   filepath.Join("..", "..", "fixtures", "scans.jsonl"),
		listen:     "-",
		health:     "127.0.0.1:0",
		journal:    dbPath,
	})
	require.NoError(t, err)
	assert.Equal(t, control.CauseEndOfStream, term.Cause)
	assert.Equal(t, int64(8), term.Cycles)
	assert.Equal(t, 0, exitCode(term, err))

	j, err := journal.Open(dbPath)
	require.NoError(t, err)
	defer j.Close()
	got, err := j.Run(term.RunID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), got.ClearCycles)
	assert.Equal(t, int64(2), got.ObstacleCycles)
	assert.Zero(t, got.BreachCycles)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	term, err := run(ctx, options{
		dev:      true,
		fixtures: filepath.Join("..", "..", "fixtures", "scans.jsonl"),
		listen:   "-",
		health:   "-",
		journal:  "-",
	})
	require.NoError(t, err)
	assert.Equal(t, control.CauseCancelled, term.Cause)
	assert.Zero(t, term.Cycles)
}

func TestRun_MissingFixtures(t *testing.T) {
	term, err := run(context.Background(), options{
		dev:      true,
		fixtures: filepath.Join(t.TempDir(), "none.jsonl"),
		journal:  "-",
		listen:   "-",
		health:   "-",
	})
	require.Error(t, err)
	assert.Equal(t, 1, exitCode(term, err))
	assert.Contains(t, describe(term, err), "failed to start")
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name  string
		cause control.Cause
		err   error
		want  int
	}{
		{"end of stream", control.CauseEndOfStream, nil, 0},
		{"breach", control.CauseSafetyBreach, nil, 0},
		{"operator interrupt", control.CauseCancelled, nil, 0},
		{"sensor fault", control.CauseSensorFault, errors.New("sensor fault"), 1},
		{"actuator fault", control.CauseActuatorFault, errors.New("actuator fault"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(control.Termination{RunID: "r", Cause: tt.cause}, tt.err))
		})
	}
}

func TestDescribe(t *testing.T) {
	start := time.Date(2025, 1, 15, 6, 0, 0, 0, time.UTC)
	term := control.Termination{
		RunID: "run-d", Cause: control.CauseSafetyBreach, Cycles: 12,
		StartedAt: start, EndedAt: start.Add(2500 * time.Millisecond),
	}
	assert.Equal(t, "run run-d terminated: safety_breach after 12 cycles (2.5s)", describe(term, nil))
	assert.Equal(t, "run run-d terminated: safety_breach after 12 cycles (2.5s): boom", describe(term, errors.New("boom")))
}
