// Package scan holds the range scanner data model: individual measurements
// and the sweeps (frames) they are grouped into.
package scan

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Point is a single scanner measurement.
type Point struct {
	Quality  float64 `json:"quality"`  // signal quality as reported by the scanner
	Angle    float64 `json:"angle"`    // degrees, [0, 360)
	Distance float64 `json:"distance"` // millimetres, 0 means no echo
}

// Frame is one full sweep of the scanner. Point order carries no meaning.
type Frame []Point

// Arc is an angular window in degrees. Start is inclusive and End exclusive.
// When Start > End the window wraps through 0°.
type Arc struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Contains reports whether angle lies inside the arc.
func (a Arc) Contains(angle float64) bool {
	if a.Start > a.End {
		return angle >= a.Start || angle < a.End
	}
	return angle >= a.Start && angle < a.End
}

// Summary condenses a frame for telemetry and the run journal.
type Summary struct {
	Points             int     `json:"points"`
	ValidPoints        int     `json:"valid_points"`
	ForwardPoints      int     `json:"forward_points"`
	MeanQuality        float64 `json:"mean_quality"`
	MinForwardDistance float64 `json:"min_forward_distance_mm"` // zero when ForwardPoints is zero
	MeanForwardDist    float64 `json:"mean_forward_distance_mm"`
}

// Summarize computes frame statistics over the points inside arc. Zero
// distance readings are excluded from the distance statistics.
func Summarize(f Frame, arc Arc) Summary {
	s := Summary{Points: len(f)}
	if len(f) == 0 {
		return s
	}

	qualities := make([]float64, 0, len(f))
	var forward []float64
	for _, p := range f {
		qualities = append(qualities, p.Quality)
		if p.Distance <= 0 {
			continue
		}
		s.ValidPoints++
		if arc.Contains(p.Angle) {
			forward = append(forward, p.Distance)
		}
	}
	s.MeanQuality = stat.Mean(qualities, nil)
	s.ForwardPoints = len(forward)
	if len(forward) > 0 {
		s.MeanForwardDist = stat.Mean(forward, nil)
		s.MinForwardDistance = forward[0]
		for _, d := range forward[1:] {
			s.MinForwardDistance = math.Min(s.MinForwardDistance, d)
		}
	}
	return s
}

// XY projects a point to cartesian millimetres with X pointing forward
// (0°) and Y to the left, matching a clockwise-rotating scanner.
func (p Point) XY() (x, y float64) {
	theta := p.Angle * math.Pi / 180.0
	return p.Distance * math.Cos(theta), -p.Distance * math.Sin(theta)
}
