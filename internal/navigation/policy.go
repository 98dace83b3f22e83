// Package navigation decides, frame by frame, whether the way ahead is clear.
//
// The policy is a pure function of a single scan frame: it holds no state
// and never touches actuators, so it can be exercised against literal frames.
package navigation

import (
	"fmt"

	"github.com/banshee-data/snow.eliminator/internal/scan"
)

// Decision is the outcome of evaluating one frame.
type Decision int

const (
	Clear Decision = iota
	Obstacle
)

func (d Decision) String() string {
	switch d {
	case Clear:
		return "CLEAR"
	case Obstacle:
		return "OBSTACLE"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// MarshalText lets decisions appear by name in JSON status payloads.
func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText parses a decision name.
func (d *Decision) UnmarshalText(b []byte) error {
	parsed, err := ParseDecision(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDecision is the inverse of Decision.String.
func ParseDecision(s string) (Decision, error) {
	switch s {
	case "CLEAR":
		return Clear, nil
	case "OBSTACLE":
		return Obstacle, nil
	}
	return Clear, fmt.Errorf("unknown decision %q", s)
}

// Default policy parameters.
const (
	DefaultArcStart        = 330.0  // degrees, inclusive
	DefaultArcEnd          = 30.0   // degrees, exclusive
	DefaultObstacleRangeMM = 1000.0 // millimetres, exclusive
)

// Policy maps a frame to a Decision. A point blocks when it lies inside
// ForwardArc and 0 < distance < MaxDistance. A zero distance is a missing
// echo and never blocks on its own.
type Policy struct {
	ForwardArc  scan.Arc `json:"forward_arc"`
	MaxDistance float64  `json:"max_distance_mm"`
}

// DefaultPolicy returns the 60° forward cone with a one metre threshold.
func DefaultPolicy() Policy {
	return Policy{
		ForwardArc:  scan.Arc{Start: DefaultArcStart, End: DefaultArcEnd},
		MaxDistance: DefaultObstacleRangeMM,
	}
}

// Validate checks the policy parameters.
func (p Policy) Validate() error {
	if p.ForwardArc.Start < 0 || p.ForwardArc.Start >= 360 {
		return fmt.Errorf("arc start %.2f must be in [0, 360)", p.ForwardArc.Start)
	}
	if p.ForwardArc.End < 0 || p.ForwardArc.End > 360 {
		return fmt.Errorf("arc end %.2f must be in [0, 360]", p.ForwardArc.End)
	}
	if p.ForwardArc.Start == p.ForwardArc.End {
		return fmt.Errorf("arc start and end must differ, both are %.2f", p.ForwardArc.Start)
	}
	if p.MaxDistance <= 0 {
		return fmt.Errorf("max distance must be positive, got %.2f", p.MaxDistance)
	}
	return nil
}

// Blocks reports whether a single point counts as a blocking detection.
func (p Policy) Blocks(pt scan.Point) bool {
	return pt.Distance > 0 && pt.Distance < p.MaxDistance && p.ForwardArc.Contains(pt.Angle)
}

// Evaluate returns Obstacle if any point in the frame blocks, Clear otherwise.
func (p Policy) Evaluate(frame scan.Frame) Decision {
	for _, pt := range frame {
		if p.Blocks(pt) {
			return Obstacle
		}
	}
	return Clear
}

// Evaluate applies DefaultPolicy to frame.
func Evaluate(frame scan.Frame) Decision {
	return DefaultPolicy().Evaluate(frame)
}
