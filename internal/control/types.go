package control

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/snow.eliminator/internal/actuator"
	"github.com/banshee-data/snow.eliminator/internal/navigation"
	"github.com/banshee-data/snow.eliminator/internal/safety"
	"github.com/banshee-data/snow.eliminator/internal/scan"
)

var (
	// ErrSafetyBreach marks a proximity breach. A clean breach is a designed
	// terminal condition reported only through Termination.Cause; Run wraps
	// it when stopping the actuators after the breach failed.
	ErrSafetyBreach = errors.New("safety perimeter breached")
	// ErrSensorFault wraps range scanner stream errors.
	ErrSensorFault = errors.New("sensor fault")
	// ErrActuatorFault wraps actuator command errors.
	ErrActuatorFault = errors.New("actuator fault")
	// ErrControlFault wraps a panic recovered inside the control cycle.
	ErrControlFault = errors.New("control fault")
	// ErrAlreadyRun is returned by Run on a loop that has already been started.
	// A loop runs at most once; restarting means building a new Loop.
	ErrAlreadyRun = errors.New("control loop already run")
)

// State is the lifecycle state of a Loop.
type State int32

const (
	Idle State = iota
	Running
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Running:
		return "RUNNING"
	case Terminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Cause records why a loop left the Running state.
type Cause int32

const (
	CauseNone Cause = iota
	CauseEndOfStream
	CauseSensorFault
	CauseSafetyBreach
	CauseLatched
	CauseStopRequested
	CauseCancelled
	CauseActuatorFault
	CauseControlFault
)

var causeNames = map[Cause]string{
	CauseNone:          "none",
	CauseEndOfStream:   "end_of_stream",
	CauseSensorFault:   "sensor_fault",
	CauseSafetyBreach:  "safety_breach",
	CauseLatched:       "latched",
	CauseStopRequested: "stop_requested",
	CauseCancelled:     "cancelled",
	CauseActuatorFault: "actuator_fault",
	CauseControlFault:  "control_fault",
}

func (c Cause) String() string {
	if name, ok := causeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Cause(%d)", int32(c))
}

// MarshalText renders the cause by name.
func (c Cause) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText parses a cause name.
func (c *Cause) UnmarshalText(b []byte) error {
	parsed, err := ParseCause(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCause is the inverse of Cause.String.
func ParseCause(s string) (Cause, error) {
	for c, name := range causeNames {
		if name == s {
			return c, nil
		}
	}
	return CauseNone, fmt.Errorf("unknown cause %q", s)
}

// Failure reports whether the cause is a fault rather than an expected stop.
func (c Cause) Failure() bool {
	switch c {
	case CauseSensorFault, CauseActuatorFault, CauseControlFault:
		return true
	}
	return false
}

// RunInfo describes a run as it starts.
type RunInfo struct {
	RunID     string
	StartedAt time.Time
	Settings  Settings
}

// CycleReport describes one completed control cycle.
type CycleReport struct {
	RunID     string
	Seq       int64
	At        time.Time
	Proximity bool // proximity sensor was in range
	Evaluated bool // navigation ran this cycle
	Decision  navigation.Decision
	Command   actuator.Command
	Summary   scan.Summary
}

// Termination describes how a run ended.
type Termination struct {
	RunID     string
	Cause     Cause
	Cycles    int64
	StartedAt time.Time
	EndedAt   time.Time
	Err       error
}

// Observer receives run events on the control goroutine. Implementations
// must return promptly; slow work belongs on another goroutine.
type Observer interface {
	RunStarted(RunInfo)
	CycleCompleted(CycleReport)
	RunTerminated(Termination)
}

// Status is a point-in-time view of a loop, safe to take from any goroutine.
type Status struct {
	RunID        string              `json:"run_id"`
	State        State               `json:"state"`
	Latch        safety.State        `json:"latch"`
	Cause        Cause               `json:"cause"`
	Cycles       int64               `json:"cycles"`
	LastDecision navigation.Decision `json:"last_decision"`
	LastSummary  *scan.Summary       `json:"last_summary,omitempty"`
	Settings     Settings            `json:"settings"`
}
