package viz

import (
	"math"

	"github.com/san-kum/kppsim/internal/engine"
	"github.com/san-kum/kppsim/internal/physics"
)

// Loop draws the chain loop and its floaters onto a canvas. The loop is
// tall and narrow, so the horizontal axis is stretched to a fixed share of
// the canvas width.
type Loop struct {
	geo    physics.Geometry
	canvas *Canvas
	// Stretch is the half width of the loop as a fraction of canvas width.
	Stretch float64
}

func NewLoop(geo physics.Geometry, w, h int) *Loop {
	return &Loop{geo: geo, canvas: NewCanvas(w, h), Stretch: 0.25}
}

// project maps loop-plane metres to canvas dots.
func (l *Loop) project(x, y float64) (int, int) {
	cw, ch := l.canvas.Dots()
	half := l.Stretch * float64(cw)
	px := float64(cw)/2 + x/l.geo.Radius*half
	py := float64(ch-1) * (1 - y/l.geo.TankDepth)
	return int(math.Round(px)), int(math.Round(py))
}

// Render draws s and returns the canvas text.
func (l *Loop) Render(s *engine.Snapshot) string {
	c := l.canvas
	c.Clear()

	cw, _ := c.Dots()
	for x := 0; x < cw; x += 3 {
		c.Set(x, 0)
	}

	const segments = 240
	px, py := l.project(l.geo.Point(0))
	for i := 1; i <= segments; i++ {
		x, y := l.project(l.geo.Point(2 * math.Pi * float64(i) / segments))
		c.DrawLine(px, py, x, y)
		px, py = x, y
	}

	for _, f := range s.Floaters {
		x, y := l.project(l.geo.Point(f.Angle))
		if f.Fill >= 0.5 {
			c.Disc(x, y, 2)
		} else {
			c.Ring(x, y, 2)
		}
	}
	return c.String()
}
