package viz

import (
	"fmt"
	"io"
	"math"

	"github.com/san-kum/kppsim/internal/engine"
	"github.com/san-kum/kppsim/internal/floater"
	"github.com/san-kum/kppsim/internal/physics"
)

var floaterColors = map[floater.State]string{
	floater.Empty:   "#4488aa",
	floater.Filling: "#ffcc00",
	floater.Full:    "#00ff88",
	floater.Venting: "#ff8800",
	floater.Fault:   "#ff4444",
}

// LoopSVG draws the loop at snapshot s as an SVG image scaled to px pixels
// per metre. Floaters are coloured by pneumatic state.
func LoopSVG(w io.Writer, geo physics.Geometry, s *engine.Snapshot, px float64) error {
	margin := 4 * geo.Radius
	width := (2*geo.Radius + 2*margin) * px
	height := (geo.TankDepth + margin) * px
	sx := func(x float64) float64 { return (x + geo.Radius + margin) * px }
	sy := func(y float64) float64 { return (geo.TankDepth + margin/2 - y) * px }

	if _, err := fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%.0f" height="%.0f" viewBox="0 0 %.0f %.0f">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
<rect x="0" y="%.1f" width="%.0f" height="%.1f" fill="#001a33"/>
`, width, height, width, height, sy(geo.TankDepth), width, geo.TankDepth*px); err != nil {
		return err
	}

	const segments = 240
	fmt.Fprint(w, `<polyline fill="none" stroke="#888899" stroke-width="2" points="`)
	for i := 0; i <= segments; i++ {
		x, y := geo.Point(2 * math.Pi * float64(i) / segments)
		fmt.Fprintf(w, "%.1f,%.1f ", sx(x), sy(y))
	}
	fmt.Fprint(w, "\"/>\n")

	r := math.Max(3, 0.6*geo.Radius*px)
	for _, f := range s.Floaters {
		x, y := geo.Point(f.Angle)
		fmt.Fprintf(w, `<circle cx="%.1f" cy="%.1f" r="%.1f" fill="%s" fill-opacity="%.2f" stroke="#ffffff" stroke-width="0.5"><title>floater %d %s fill %.2f</title></circle>
`, sx(x), sy(y), r, floaterColors[f.State], 0.3+0.7*f.Fill, f.ID, f.State, f.Fill)
	}

	_, err := fmt.Fprintf(w, `<text x="8" y="16" fill="#e0e0e0" font-family="monospace" font-size="12">t=%.2fs %s v=%.3fm/s P=%.0fW</text>
</svg>
`, s.Time, s.State, s.Chain.Velocity, s.Electrical.Power)
	return err
}
