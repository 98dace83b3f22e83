// Package control runs the safety-interlocked control loop.
//
// A Loop is built around devices that are owned by that instance and runs
// exactly once: Idle → Running → Terminated. Every exit path (end of stream,
// sensor fault, safety breach, stop request, operator interrupt, or a
// failure inside the cycle) goes through a single deferred teardown that
// stops every actuator and releases the range scanner.
package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/snow.eliminator/internal/actuator"
	"github.com/banshee-data/snow.eliminator/internal/monitoring"
	"github.com/banshee-data/snow.eliminator/internal/navigation"
	"github.com/banshee-data/snow.eliminator/internal/safety"
	"github.com/banshee-data/snow.eliminator/internal/scan"
	"github.com/banshee-data/snow.eliminator/internal/sensors"
	"github.com/banshee-data/snow.eliminator/internal/timeutil"
)

// Settings tunes the actuation side of the loop.
type Settings struct {
	ForwardSpeed float64           `json:"forward_speed"`
	TurnSpeed    float64           `json:"turn_speed"`
	Settle       time.Duration     `json:"settle_ns"` // hold time after an obstacle turn
	Policy       navigation.Policy `json:"policy"`
}

// DefaultSettings drives forward at 0.3, pivots at 0.5 and settles for one
// second after each turn.
func DefaultSettings() Settings {
	return Settings{
		ForwardSpeed: 0.3,
		TurnSpeed:    0.5,
		Settle:       time.Second,
		Policy:       navigation.DefaultPolicy(),
	}
}

// Option customises a Loop.
type Option func(*Loop)

// WithClock sets the clock used for the settle delay and timestamps.
func WithClock(c timeutil.Clock) Option {
	return func(l *Loop) { l.clock = c }
}

// WithObserver registers an observer for run events.
func WithObserver(o Observer) Option {
	return func(l *Loop) {
		if o != nil {
			l.observers = append(l.observers, o)
		}
	}
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(l *Loop) { l.runID = id }
}

// Loop orchestrates one run of the vehicle.
type Loop struct {
	runID     string
	fusion    *sensors.Fusion
	act       *actuator.Controller
	latch     *safety.Latch
	settings  Settings
	clock     timeutil.Clock
	observers []Observer

	state        atomic.Int32
	cause        atomic.Int32
	cycles       atomic.Int64
	lastDecision atomic.Int32
	lastSummary  atomic.Pointer[scan.Summary]
	lastFrame    atomic.Pointer[scan.Frame]

	// stopMu guards the hand-off between Stop and Run.
	stopMu        sync.Mutex
	cancel        context.CancelFunc
	stopRequested bool

	teardownOnce sync.Once
}

// NewLoop builds an Idle loop over the given sensors and actuators. The
// loop takes ownership of the devices: they are released on teardown.
func NewLoop(fusion *sensors.Fusion, act *actuator.Controller, settings Settings, opts ...Option) *Loop {
	l := &Loop{
		runID:    uuid.NewString(),
		fusion:   fusion,
		act:      act,
		latch:    safety.NewLatch(),
		settings: settings,
		clock:    timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RunID returns the identifier of this loop instance.
func (l *Loop) RunID() string { return l.runID }

// State returns the lifecycle state.
func (l *Loop) State() State { return State(l.state.Load()) }

// Tripped reports whether the safety latch has tripped.
func (l *Loop) Tripped() bool { return l.latch.Tripped() }

// Stop asks a running loop to terminate. It may be called from any
// goroutine, before or during Run; teardown still happens inside Run.
func (l *Loop) Stop() {
	l.stopMu.Lock()
	defer l.stopMu.Unlock()
	l.stopRequested = true
	if l.cancel != nil {
		l.cancel()
	}
}

// EmergencyStop trips the safety latch and interrupts the loop. It may be
// called from any goroutine: a command already going out is cut short
// before the next device, and teardown stops everything. The loop never
// resumes; a new Loop is required to drive again.
func (l *Loop) EmergencyStop() {
	if l.latch.Trip() {
		monitoring.Noticef("EMERGENCY STOP REQUESTED - run %s latched", l.runID)
	}
	l.stopMu.Lock()
	defer l.stopMu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
}

// Snapshot returns the current status without blocking the control goroutine.
func (l *Loop) Snapshot() Status {
	st := Status{
		RunID:        l.runID,
		State:        l.State(),
		Latch:        l.latch.State(),
		Cause:        Cause(l.cause.Load()),
		Cycles:       l.cycles.Load(),
		LastDecision: navigation.Decision(l.lastDecision.Load()),
		Settings:     l.settings,
	}
	if s := l.lastSummary.Load(); s != nil {
		summary := *s
		st.LastSummary = &summary
	}
	return st
}

// LastFrame returns the most recently acquired frame, or nil.
func (l *Loop) LastFrame() scan.Frame {
	if f := l.lastFrame.Load(); f != nil {
		return *f
	}
	return nil
}

// Run drives the loop until it terminates and returns how it ended. It
// blocks. Whatever the exit path, every actuator has been stopped and the
// scanner released when Run returns.
//
// The returned error is nil for expected terminations (end of stream,
// safety breach, stop request, cancellation) and wraps ErrSensorFault,
// ErrActuatorFault or ErrControlFault otherwise.
func (l *Loop) Run(ctx context.Context) (term Termination, err error) {
	if !l.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return Termination{RunID: l.runID, Cause: Cause(l.cause.Load())}, ErrAlreadyRun
	}

	// Nothing may run between the state change and this defer: observers
	// and logging can panic too, and teardown must still happen.
	started := l.clock.Now()
	var cause Cause
	defer func() {
		if r := recover(); r != nil {
			cause = CauseControlFault
			err = fmt.Errorf("%w: %v", ErrControlFault, r)
		}
		if tdErr := l.teardown(); tdErr != nil {
			err = errors.Join(err, fmt.Errorf("teardown: %w", tdErr))
		}

		l.cause.Store(int32(cause))
		l.state.Store(int32(Terminated))
		term = Termination{
			RunID:     l.runID,
			Cause:     cause,
			Cycles:    l.cycles.Load(),
			StartedAt: started,
			EndedAt:   l.clock.Now(),
			Err:       err,
		}
		l.logTermination(term)
		for _, o := range l.observers {
			o.RunTerminated(term)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	l.stopMu.Lock()
	l.cancel = cancel
	if l.stopRequested {
		cancel()
	}
	l.stopMu.Unlock()

	for _, o := range l.observers {
		o.RunStarted(RunInfo{RunID: l.runID, StartedAt: started, Settings: l.settings})
	}
	monitoring.Logf("🚜 snow eliminator active, run %s", l.runID)

	cause, err = l.cycle(ctx)
	return term, err
}

// cycle runs control cycles until one of them ends the run.
func (l *Loop) cycle(ctx context.Context) (Cause, error) {
	for {
		if l.latch.Tripped() {
			return CauseLatched, nil
		}

		// 1. acquire
		frame, err := l.fusion.Acquire(ctx)
		if err != nil {
			return l.acquireFailure(ctx, err)
		}
		seq := l.cycles.Add(1)
		summary := scan.Summarize(frame, l.settings.Policy.ForwardArc)
		l.lastFrame.Store(&frame)
		l.lastSummary.Store(&summary)

		report := CycleReport{
			RunID:   l.runID,
			Seq:     seq,
			At:      l.clock.Now(),
			Summary: summary,
			Command: actuator.Command{Drive: actuator.Stop},
		}

		// 2. safety perimeter
		if l.fusion.ProximityBreached() {
			l.latch.Trip()
			stopErr := l.act.StopAll()
			monitoring.Noticef("SAFETY PERIMETER BREACHED - ALL SYSTEMS SHUTDOWN (run %s, cycle %d)", l.runID, seq)
			report.Proximity = true
			l.notifyCycle(report)
			if stopErr != nil {
				return CauseSafetyBreach, fmt.Errorf("%w: %w: %w", ErrSafetyBreach, ErrActuatorFault, stopErr)
			}
			return CauseSafetyBreach, nil
		}

		// 3. anything else that tripped the latch wins immediately
		if l.latch.Tripped() {
			return CauseLatched, nil
		}

		// 4. navigation
		decision := l.settings.Policy.Evaluate(frame)
		l.lastDecision.Store(int32(decision))

		// 5. actuation
		cmd := l.commandFor(decision)
		report.Evaluated = true
		report.Decision = decision
		report.Command = cmd
		// An emergency stop can trip the latch from another goroutine while
		// the command is going out; no further device is commanded after that.
		err = l.act.ApplyWhile(cmd, l.permitted)
		switch {
		case errors.Is(err, actuator.ErrInterlocked):
			return CauseLatched, nil
		case err != nil:
			return CauseActuatorFault, fmt.Errorf("%w: %w", ErrActuatorFault, err)
		}
		l.notifyCycle(report)

		if decision == navigation.Obstacle && l.settings.Settle > 0 {
			select {
			case <-ctx.Done():
				return l.interruptCause(), nil
			case <-l.clock.After(l.settings.Settle):
			}
		}
	}
}

// permitted reports whether actuation may continue.
func (l *Loop) permitted() bool { return !l.latch.Tripped() }

func (l *Loop) commandFor(d navigation.Decision) actuator.Command {
	if d == navigation.Clear {
		return actuator.Command{
			Drive:   actuator.Forward(l.settings.ForwardSpeed),
			Heater:  true,
			Sprayer: true,
		}
	}
	return actuator.Command{Drive: actuator.TurnRight(l.settings.TurnSpeed)}
}

func (l *Loop) acquireFailure(ctx context.Context, err error) (Cause, error) {
	switch {
	case ctx.Err() != nil:
		return l.interruptCause(), nil
	case errors.Is(err, io.EOF):
		return CauseEndOfStream, nil
	default:
		return CauseSensorFault, fmt.Errorf("%w: %w", ErrSensorFault, err)
	}
}

// interruptCause classifies a cancelled context.
func (l *Loop) interruptCause() Cause {
	if l.latch.Tripped() {
		return CauseLatched
	}
	l.stopMu.Lock()
	defer l.stopMu.Unlock()
	if l.stopRequested {
		return CauseStopRequested
	}
	return CauseCancelled
}

func (l *Loop) notifyCycle(r CycleReport) {
	for _, o := range l.observers {
		o.CycleCompleted(r)
	}
}

// teardown stops every actuator and releases the scanner. It runs at most
// once per loop; both steps are attempted even if one fails.
func (l *Loop) teardown() error {
	err := errors.New("teardown already ran")
	l.teardownOnce.Do(func() {
		err = errors.Join(
			l.act.StopAll(),
			l.fusion.Release(),
		)
	})
	return err
}

func (l *Loop) logTermination(t Termination) {
	elapsed := t.EndedAt.Sub(t.StartedAt).Round(time.Millisecond)
	switch {
	case t.Cause.Failure():
		monitoring.Logf("❌ run %s terminated: %s after %d cycles (%s): %v", t.RunID, t.Cause, t.Cycles, elapsed, t.Err)
	case t.Err != nil:
		monitoring.Logf("⚠️ run %s terminated: %s after %d cycles (%s) with errors: %v", t.RunID, t.Cause, t.Cycles, elapsed, t.Err)
	default:
		monitoring.Logf("run %s terminated: %s after %d cycles (%s)", t.RunID, t.Cause, t.Cycles, elapsed)
	}
}
