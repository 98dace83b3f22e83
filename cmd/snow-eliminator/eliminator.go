package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/snow.eliminator/internal/actuator"
	"github.com/banshee-data/snow.eliminator/internal/config"
	"github.com/banshee-data/snow.eliminator/internal/control"
	"github.com/banshee-data/snow.eliminator/internal/gpio"
	"github.com/banshee-data/snow.eliminator/internal/journal"
	"github.com/banshee-data/snow.eliminator/internal/monitor"
	"github.com/banshee-data/snow.eliminator/internal/rplidar"
	"github.com/banshee-data/snow.eliminator/internal/sensors"
	"github.com/banshee-data/snow.eliminator/internal/sim"
	"github.com/banshee-data/snow.eliminator/internal/timeutil"
)

// disabled turns off the journal, the debug server or the health service
// when passed as its path or address.
const disabled = "-"

type options struct {
	configPath string
	dev        bool
	fixtures   string
	port       string
	listen     string
	health     string
	journal    string

	// frameInterval paces fixture replay in dev mode.
	frameInterval time.Duration
}

func loadConfig(opts options) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(opts.configPath); err != nil {
			return nil, err
		}
	}
	if opts.port != "" {
		cfg.ScannerPort = &opts.port
	}
	if opts.listen != "" {
		cfg.Listen = &opts.listen
	}
	if opts.health != "" {
		cfg.HealthListen = &opts.health
	}
	if opts.journal != "" {
		cfg.JournalPath = &opts.journal
	}
	return cfg, nil
}

func settingsFrom(cfg *config.Config) control.Settings {
	return control.Settings{
		ForwardSpeed: cfg.GetForwardSpeed(),
		TurnSpeed:    cfg.GetTurnSpeed(),
		Settle:       cfg.GetSettleDuration(),
		Policy:       cfg.Policy(),
	}
}

// hardware is the set of devices a loop drives, plus whatever must be
// released after the loop has torn down.
type hardware struct {
	fusion *sensors.Fusion
	act    *actuator.Controller
	close  func() error
}

func openSimulated(opts options) (*hardware, error) {
	frames, err := sim.LoadFrames(opts.fixtures)
	if err != nil {
		return nil, err
	}
	log.Printf("dev mode: replaying %d frames from %s", len(frames), opts.fixtures)

	rec := sim.NewRecorder()
	scanner := sim.NewScanner(rec, frames...)
	scanner.Interval = opts.frameInterval
	return &hardware{
		fusion: sensors.NewFusion(sim.NewProximity(), scanner),
		act:    actuator.NewController(sim.NewLocomotion(rec), sim.NewSwitch("heater", rec), sim.NewSwitch("sprayer", rec)),
		close: func() error {
			log.Printf("dev mode: %d simulated device events", len(rec.Events()))
			return nil
		},
	}, nil
}

func openDevices(cfg *config.Config) (*hardware, error) {
	lookup, err := gpio.HostPins()
	if err != nil {
		return nil, err
	}
	devs, err := gpio.Open(cfg, lookup, timeutil.RealClock{})
	if err != nil {
		return nil, err
	}

	scanner, err := rplidar.Open(cfg.GetScannerPort(),
		rplidar.PortOptions{BaudRate: cfg.GetScannerBaudRate()},
		rplidar.WithMinPoints(cfg.GetScannerMinPoints()),
		rplidar.WithMotorPWM(cfg.GetScannerMotorPWM()),
	)
	if err != nil {
		return nil, errors.Join(err, devs.Close())
	}
	if info, err := scanner.Info(); err != nil {
		log.Printf("failed to read scanner info: %v", err)
	} else {
		log.Printf("scanner on %s: %s", cfg.GetScannerPort(), info)
	}
	if h, err := scanner.Health(); err == nil && h.Status == rplidar.HealthError {
		log.Printf("scanner reports error %d, resetting", h.ErrorCode)
		if err := scanner.Reset(); err != nil {
			log.Printf("failed to reset scanner: %v", err)
		}
	}

	return &hardware{
		fusion: sensors.NewFusion(devs.Proximity, scanner),
		act:    actuator.NewController(devs.Robot, devs.Heater, devs.Sprayer),
		close:  devs.Close,
	}, nil
}

// run wires configuration, devices, the journal and the debug server to a
// control loop and drives it until it terminates.
func run(ctx context.Context, opts options) (control.Termination, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return control.Termination{}, err
	}

	var hw *hardware
	if opts.dev {
		hw, err = openSimulated(opts)
	} else {
		hw, err = openDevices(cfg)
	}
	if err != nil {
		return control.Termination{}, err
	}
	defer func() {
		if err := hw.close(); err != nil {
			log.Printf("failed to release devices: %v", err)
		}
	}()

	health := monitor.NewHealth()
	loopOpts := []control.Option{control.WithObserver(health)}
	var j *journal.Journal
	if path := cfg.GetJournalPath(); path != disabled {
		if j, err = journal.Open(path); err != nil {
			// The loop never ran, so the scanner is released here.
			return control.Termination{}, errors.Join(err, hw.fusion.Release())
		}
		defer func() {
			if err := j.Close(); err != nil {
				log.Printf("failed to close journal: %v", err)
			}
		}()
		loopOpts = append(loopOpts, control.WithObserver(j.Recorder()))
	}

	loop := control.NewLoop(hw.fusion, hw.act, settingsFrom(cfg), loopOpts...)
	health.Track(loop)

	var wg sync.WaitGroup
	srvCtx, stopServer := context.WithCancel(context.Background())
	defer func() {
		stopServer()
		wg.Wait()
	}()
	if addr := cfg.GetListen(); addr != disabled {
		mux := http.NewServeMux()
		monitor.AttachAdminRoutes(mux, loop)
		health.AttachAdminRoutes(mux)
		if j != nil {
			if err := j.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to attach journal routes: %v", err)
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serve(srvCtx, addr, mux)
		}()
	}
	if addr := cfg.GetHealthListen(); addr != disabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := monitor.ServeHealth(srvCtx, addr, health); err != nil {
				log.Printf("health service failed: %v", err)
			}
		}()
	}

	log.Printf("run %s starting", loop.RunID())
	return loop.Run(ctx)
}

func serve(ctx context.Context, addr string, handler http.Handler) {
	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		log.Printf("debug server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("debug server failed: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("debug server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("debug server force close error: %v", err)
		}
	}
}

func describe(term control.Termination, err error) string {
	if term.RunID == "" {
		return fmt.Sprintf("failed to start: %v", err)
	}
	s := fmt.Sprintf("run %s terminated: %s after %d cycles (%s)",
		term.RunID, term.Cause, term.Cycles, term.EndedAt.Sub(term.StartedAt).Round(time.Millisecond))
	if err != nil {
		s += fmt.Sprintf(": %v", err)
	}
	return s
}

func exitCode(term control.Termination, err error) int {
	if err != nil || term.Cause.Failure() {
		return 1
	}
	return 0
}
