// Package safety provides the one-way safety latch guarding actuation.
package safety

import (
	"fmt"
	"sync/atomic"
)

// State is the latch state.
type State int32

const (
	Running State = iota
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Stopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Latch moves from Running to Stopped exactly once and never back.
// There is no reset: resuming after a trip means building a new latch,
// which in practice means building a new control loop.
//
// The state is held atomically: status readers and an emergency stop may
// use it from other goroutines. Actuation checks Tripped before each device
// command, so a trip from elsewhere takes effect at the next command.
type Latch struct {
	state atomic.Int32
}

// NewLatch returns a latch in the Running state.
func NewLatch() *Latch {
	return &Latch{}
}

// Trip moves the latch to Stopped. It is idempotent and performs no
// actuation; the caller must stop the actuators before evaluating anything
// else. Trip reports whether this call performed the transition.
func (l *Latch) Trip() bool {
	return l.state.CompareAndSwap(int32(Running), int32(Stopped))
}

// Tripped reports whether the latch is Stopped.
func (l *Latch) Tripped() bool {
	return l.State() == Stopped
}

// State returns the current latch state.
func (l *Latch) State() State {
	return State(l.state.Load())
}
