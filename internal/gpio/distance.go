package gpio

import (
	"fmt"
	"math"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/banshee-data/snow.eliminator/internal/monitoring"
	"github.com/banshee-data/snow.eliminator/internal/timeutil"
)

// InputPin is the part of a periph pin used for reading inputs.
type InputPin interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	Read() gpio.Level
	WaitForEdge(timeout time.Duration) bool
}

const (
	// SpeedOfSound in air, metres per second.
	SpeedOfSound = 343.0

	triggerPulse = 10 * time.Microsecond
	// echoStartTimeout bounds the wait for the echo line to rise after a
	// trigger; the HC-SR04 raises it within a few hundred microseconds.
	echoStartTimeout = 40 * time.Millisecond
	echoMargin       = 5 * time.Millisecond
)

// DistanceSensor is an HC-SR04 ultrasonic ranger.
type DistanceSensor struct {
	mu          sync.Mutex
	echo        InputPin
	trigger     OutputPin
	threshold   float64
	maxDistance float64
	clock       timeutil.Clock
	logf        func(format string, v ...interface{})
}

// NewDistanceSensor configures the echo and trigger pins. threshold and
// maxDistance are in metres.
func NewDistanceSensor(echo InputPin, trigger OutputPin, threshold, maxDistance float64, clock timeutil.Clock) (*DistanceSensor, error) {
	if maxDistance <= 0 {
		return nil, fmt.Errorf("max distance must be positive, got %v", maxDistance)
	}
	if threshold <= 0 || threshold > maxDistance {
		return nil, fmt.Errorf("threshold %v must be in (0, %v]", threshold, maxDistance)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if err := echo.In(gpio.PullDown, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("echo pin: %w", err)
	}
	if err := trigger.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("trigger pin: %w", err)
	}
	return &DistanceSensor{
		echo:        echo,
		trigger:     trigger,
		threshold:   threshold,
		maxDistance: maxDistance,
		clock:       clock,
		logf:        monitoring.Prefixed("[hc-sr04]"),
	}, nil
}

// Distance takes one reading in metres, capped at the max distance. An
// echo that never returns reads as the max distance.
func (s *DistanceSensor) Distance() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.trigger.Out(gpio.High); err != nil {
		return 0, fmt.Errorf("trigger: %w", err)
	}
	s.clock.Sleep(triggerPulse)
	if err := s.trigger.Out(gpio.Low); err != nil {
		return 0, fmt.Errorf("trigger: %w", err)
	}

	if !s.waitLevel(gpio.High, echoStartTimeout) {
		s.logf("no echo received")
		return s.maxDistance, nil
	}
	start := s.clock.Now()
	roundTrip := time.Duration(2*s.maxDistance/SpeedOfSound*float64(time.Second)) + echoMargin
	if !s.waitLevel(gpio.Low, roundTrip) {
		return s.maxDistance, nil
	}
	d := s.clock.Since(start).Seconds() * SpeedOfSound / 2
	return math.Min(d, s.maxDistance), nil
}

func (s *DistanceSensor) waitLevel(l gpio.Level, timeout time.Duration) bool {
	if s.echo.Read() == l {
		return true
	}
	return s.echo.WaitForEdge(timeout) && s.echo.Read() == l
}

// InRange reports whether an object is closer than the threshold. A
// failed reading counts as in range.
func (s *DistanceSensor) InRange() bool {
	d, err := s.Distance()
	if err != nil {
		s.logf("reading failed, treating as obstruction: %v", err)
		return true
	}
	return d < s.threshold
}
