package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArcContains(t *testing.T) {
	wrap := Arc{Start: 330, End: 30}
	plain := Arc{Start: 80, End: 100}

	tests := []struct {
		name  string
		arc   Arc
		angle float64
		want  bool
	}{
		{"wrap lower bound inclusive", wrap, 330, true},
		{"wrap just below lower bound", wrap, 329.99, false},
		{"wrap through zero", wrap, 0, true},
		{"wrap near 360", wrap, 359.9, true},
		{"wrap upper bound exclusive", wrap, 30, false},
		{"wrap just below upper bound", wrap, 29.99, true},
		{"wrap behind", wrap, 180, false},
		{"plain inside", plain, 90, true},
		{"plain start", plain, 80, true},
		{"plain end", plain, 100, false},
		{"plain outside", plain, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.arc.Contains(tt.angle))
		})
	}
}

func TestSummarize(t *testing.T) {
	arc := Arc{Start: 330, End: 30}

	t.Run("empty frame", func(t *testing.T) {
		s := Summarize(nil, arc)
		assert.Equal(t, 0, s.Points)
		assert.Zero(t, s.ForwardPoints)
		assert.Zero(t, s.MinForwardDistance)
		assert.Zero(t, s.MeanForwardDist)
	})

	t.Run("mixed frame", func(t *testing.T) {
		f := Frame{
			{Quality: 10, Angle: 0, Distance: 800},
			{Quality: 20, Angle: 350, Distance: 400},
			{Quality: 30, Angle: 10, Distance: 0},
			{Quality: 40, Angle: 180, Distance: 200},
		}
		s := Summarize(f, arc)
		assert.Equal(t, 4, s.Points)
		assert.Equal(t, 3, s.ValidPoints)
		assert.Equal(t, 2, s.ForwardPoints)
		assert.InDelta(t, 25.0, s.MeanQuality, 1e-9)
		assert.InDelta(t, 400.0, s.MinForwardDistance, 1e-9)
		assert.InDelta(t, 600.0, s.MeanForwardDist, 1e-9)
	})
}

func TestPointXY(t *testing.T) {
	x, y := Point{Angle: 0, Distance: 1000}.XY()
	assert.InDelta(t, 1000.0, x, 1e-9)
	assert.InDelta(t, 0.0, y, 1e-9)

	x, y = Point{Angle: 90, Distance: 1000}.XY()
	assert.InDelta(t, 0.0, x, 1e-9)
	assert.InDelta(t, -1000.0, y, 1e-9)
}
