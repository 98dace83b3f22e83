// Package sim provides simulated devices for dev mode and tests: a replay
// range scanner, a scripted proximity sensor, and locomotion/switch devices
// that record every command they receive.
package sim

import (
	"fmt"
	"sync"

	"github.com/banshee-data/snow.eliminator/internal/actuator"
	"github.com/banshee-data/snow.eliminator/internal/monitoring"
)

// Recorder collects device events in the order they happen, across devices.
type Recorder struct {
	mu     sync.Mutex
	events []string
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) record(format string, args ...interface{}) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

// Reset discards recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// Locomotion is a simulated drive train.
type Locomotion struct {
	mu      sync.Mutex
	rec     *Recorder
	current actuator.DriveCommand
	err     error
	Verbose bool
}

// NewLocomotion returns a stopped drive train that records into rec.
func NewLocomotion(rec *Recorder) *Locomotion {
	return &Locomotion{rec: rec, current: actuator.Stop}
}

// Fail makes every following command return err. Pass nil to recover.
func (l *Locomotion) Fail(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

func (l *Locomotion) apply(cmd actuator.DriveCommand) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.current = cmd
	l.rec.record("drive:%s", cmd)
	if l.Verbose {
		monitoring.Logf("[sim] drive %s", cmd)
	}
	return nil
}

func (l *Locomotion) Forward(speed float64) error   { return l.apply(actuator.Forward(speed)) }
func (l *Locomotion) TurnRight(speed float64) error { return l.apply(actuator.TurnRight(speed)) }
func (l *Locomotion) Stop() error                   { return l.apply(actuator.Stop) }

// Current returns the last applied drive command.
func (l *Locomotion) Current() actuator.DriveCommand {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Switch is a simulated on/off actuator.
type Switch struct {
	mu      sync.Mutex
	name    string
	rec     *Recorder
	on      bool
	err     error
	Verbose bool
}

// NewSwitch returns a switch in the off state.
func NewSwitch(name string, rec *Recorder) *Switch {
	return &Switch{name: name, rec: rec}
}

// Fail makes every following command return err. Pass nil to recover.
func (s *Switch) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Switch) set(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.on = on
	state := "off"
	if on {
		state = "on"
	}
	s.rec.record("%s:%s", s.name, state)
	if s.Verbose {
		monitoring.Logf("[sim] %s %s", s.name, state)
	}
	return nil
}

func (s *Switch) On() error  { return s.set(true) }
func (s *Switch) Off() error { return s.set(false) }

// IsOn reports the switch state.
func (s *Switch) IsOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.on
}

// Proximity is a scripted proximity sensor. Each InRange call consumes the
// next scripted value; once the script is exhausted Default is returned.
type Proximity struct {
	mu      sync.Mutex
	script  []bool
	calls   int
	Default bool
}

// NewProximity returns a sensor that replays script.
func NewProximity(script ...bool) *Proximity {
	return &Proximity{script: script}
}

// InRange returns the next scripted reading.
func (p *Proximity) InRange() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	if i < len(p.script) {
		return p.script[i]
	}
	return p.Default
}

// Trigger makes every following reading report an obstruction.
func (p *Proximity) Trigger() {
	p.mu.Lock()
	p.script = nil
	p.calls = 0
	p.Default = true
	p.mu.Unlock()
}

// Calls returns how many readings were taken.
func (p *Proximity) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
