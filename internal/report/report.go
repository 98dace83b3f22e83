// Package report renders offline summaries of journalled runs.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/snow.eliminator/internal/journal"
	"github.com/banshee-data/snow.eliminator/internal/navigation"
)

// ErrNoCycles is returned when a run has nothing to plot.
var ErrNoCycles = errors.New("run has no recorded cycles")

// Series holds the plottable points of a run. X is seconds since the run
// started, Y is millimetres.
type Series struct {
	// MinForward is the nearest forward return of every evaluated cycle
	// that saw the forward arc.
	MinForward plotter.XYs
	// Obstacles marks cycles that turned away, at their nearest return.
	Obstacles plotter.XYs
	// Breaches marks proximity breaches at y = 0.
	Breaches plotter.XYs
}

// BuildSeries splits journalled cycles into plot series.
func BuildSeries(run journal.Run, cycles []journal.Cycle) Series {
	var s Series
	for _, c := range cycles {
		x := c.At.Sub(run.StartedAt).Seconds()
		if c.Proximity {
			s.Breaches = append(s.Breaches, plotter.XY{X: x, Y: 0})
			continue
		}
		if !c.Evaluated {
			continue
		}
		if c.Summary.ForwardPoints > 0 {
			s.MinForward = append(s.MinForward, plotter.XY{X: x, Y: c.Summary.MinForwardDistance})
		}
		if c.Decision == navigation.Obstacle {
			s.Obstacles = append(s.Obstacles, plotter.XY{X: x, Y: c.Summary.MinForwardDistance})
		}
	}
	return s
}

// Stats summarises the nearest forward returns of a run.
type Stats struct {
	Cycles         int     `json:"cycles"`
	ClearCycles    int     `json:"clear_cycles"`
	ObstacleCycles int     `json:"obstacle_cycles"`
	BreachCycles   int     `json:"breach_cycles"`
	MeanMinForward float64 `json:"mean_min_forward_mm"`
	P10MinForward  float64 `json:"p10_min_forward_mm"`
	P50MinForward  float64 `json:"p50_min_forward_mm"`
}

// Summarize counts decisions and computes forward distance statistics.
// Distance fields are zero when no cycle saw the forward arc.
func Summarize(cycles []journal.Cycle) Stats {
	st := Stats{Cycles: len(cycles)}
	var mins []float64
	for _, c := range cycles {
		switch {
		case c.Proximity:
			st.BreachCycles++
			continue
		case !c.Evaluated:
			continue
		case c.Decision == navigation.Obstacle:
			st.ObstacleCycles++
		default:
			st.ClearCycles++
		}
		if c.Summary.ForwardPoints > 0 {
			mins = append(mins, c.Summary.MinForwardDistance)
		}
	}
	if len(mins) == 0 {
		return st
	}
	sort.Float64s(mins)
	st.MeanMinForward = stat.Mean(mins, nil)
	st.P10MinForward = stat.Quantile(0.1, stat.Empirical, mins, nil)
	st.P50MinForward = stat.Quantile(0.5, stat.Empirical, mins, nil)
	return st
}

// Plot builds the run chart: nearest forward return over time, the
// obstacle threshold, and markers for turns and breaches.
func Plot(run journal.Run, cycles []journal.Cycle) (*plot.Plot, error) {
	if len(cycles) == 0 {
		return nil, ErrNoCycles
	}
	s := BuildSeries(run, cycles)

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Run %s (%s, %d cycles)", run.RunID, run.Cause, len(cycles))
	p.X.Label.Text = "Time since start (s)"
	p.Y.Label.Text = "Nearest forward return (mm)"
	p.Y.Min = 0

	if len(s.MinForward) > 0 {
		line, err := plotter.NewLine(s.MinForward)
		if err != nil {
			return nil, fmt.Errorf("failed to create line: %w", err)
		}
		line.Color = color.RGBA{R: 30, G: 120, B: 200, A: 255}
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add("min forward", line)
	}

	if threshold := run.Settings.Policy.MaxDistance; threshold > 0 {
		limit := plotter.NewFunction(func(float64) float64 { return threshold })
		limit.Color = color.RGBA{R: 120, G: 120, B: 120, A: 255}
		limit.Width = vg.Points(1)
		limit.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
		p.Add(limit)
		p.Legend.Add("obstacle threshold", limit)
		if p.Y.Max < threshold*1.1 {
			p.Y.Max = threshold * 1.1
		}
	}

	markers := []struct {
		label string
		pts   plotter.XYs
		color color.RGBA
		shape draw.GlyphDrawer
	}{
		{"turn", s.Obstacles, color.RGBA{R: 230, G: 140, B: 0, A: 255}, draw.TriangleGlyph{}},
		{"breach", s.Breaches, color.RGBA{R: 200, G: 30, B: 30, A: 255}, draw.CrossGlyph{}},
	}
	for _, m := range markers {
		if len(m.pts) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(m.pts)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s markers: %w", m.label, err)
		}
		sc.GlyphStyle.Color = m.color
		sc.GlyphStyle.Shape = m.shape
		sc.GlyphStyle.Radius = vg.Points(3)
		p.Add(sc)
		p.Legend.Add(m.label, sc)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// Render writes the run chart to path. The image format follows the file
// extension (png, svg, pdf).
func Render(run journal.Run, cycles []journal.Cycle, path string) error {
	p, err := Plot(run, cycles)
	if err != nil {
		return err
	}
	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}
