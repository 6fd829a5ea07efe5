package physics

import (
	"math"

	"github.com/san-kum/kppsim/internal/config"
)

// Geometry is the stadium-shaped chain loop: two vertical runs joined by
// half turns around the sprockets. Loop angle θ = 2π·s/L where s is the arc
// position measured from the lowest point of the bottom sprocket. θ = 0 is
// the bottom, θ = π the top; θ ∈ (0, π) is the ascending run for positive
// chain velocity.
type Geometry struct {
	TankDepth float64
	Span      float64 // height of the loop's top above the tank floor
	Radius    float64
	Straight  float64 // length of each vertical run
	Loop      float64
}

func NewGeometry(p config.PhysicsConfig, radius float64) Geometry {
	span := p.TankDepth - p.SurfaceClearance
	straight := span - 2*radius
	return Geometry{
		TankDepth: p.TankDepth,
		Span:      span,
		Radius:    radius,
		Straight:  straight,
		Loop:      2*straight + 2*math.Pi*radius,
	}
}

// arc maps θ to an arc position on the ascending half, s ∈ [0, L/2], and
// reports whether θ is on the descending half.
func (g Geometry) arc(theta float64) (float64, bool) {
	theta = math.Mod(theta, 2*math.Pi)
	if theta < 0 {
		theta += 2 * math.Pi
	}
	s := theta * g.Loop / (2 * math.Pi)
	if s > g.Loop/2 {
		return g.Loop - s, true
	}
	return s, false
}

// profile returns height and dh/ds at ascending arc position s.
func (g Geometry) profile(s float64) (float64, float64) {
	r := g.Radius
	quarter := math.Pi * r / 2
	switch {
	case s < quarter:
		phi := s / r
		return r * (1 - math.Cos(phi)), math.Sin(phi)
	case s < quarter+g.Straight:
		return r + (s - quarter), 1
	default:
		phi := (s - quarter - g.Straight) / r
		return r + g.Straight + r*math.Sin(phi), math.Cos(phi)
	}
}

// Height above the tank floor.
func (g Geometry) Height(theta float64) float64 {
	s, _ := g.arc(theta)
	h, _ := g.profile(s)
	return h
}

// Depth below the water surface.
func (g Geometry) Depth(theta float64) float64 {
	return g.TankDepth - g.Height(theta)
}

// Slope is dh/ds for positive travel, the tangential projection of a
// vertical force. |Slope| ≤ 1.
func (g Geometry) Slope(theta float64) float64 {
	s, down := g.arc(theta)
	_, slope := g.profile(s)
	if down {
		return -slope
	}
	return slope
}

// AngleStep converts a chain displacement into an angle increment.
func (g Geometry) AngleStep(ds float64) float64 {
	return 2 * math.Pi * ds / g.Loop
}

// Submerged returns the submerged fraction of a floater of vertical extent
// e centred at theta.
func (g Geometry) Submerged(theta, extent float64) float64 {
	h := g.Height(theta)
	if extent <= 0 {
		if h <= g.TankDepth {
			return 1
		}
		return 0
	}
	bottom := h - extent/2
	return math.Max(0, math.Min(1, (g.TankDepth-bottom)/extent))
}

// Ascending reports whether a floater at theta rises with chain velocity v.
// At rest the positive travel direction decides.
func (g Geometry) Ascending(theta, v float64) bool {
	if v == 0 {
		v = 1
	}
	return g.Slope(theta)*v > 0
}

// Point is the position of theta in the loop's plane: x is horizontal with
// the ascending run at +Radius, y is the height above the tank floor.
func (g Geometry) Point(theta float64) (x, y float64) {
	s, down := g.arc(theta)
	r := g.Radius
	quarter := math.Pi * r / 2
	switch {
	case s < quarter:
		phi := s / r
		x, y = r*math.Sin(phi), r*(1-math.Cos(phi))
	case s < quarter+g.Straight:
		x, y = r, r+(s-quarter)
	default:
		phi := (s - quarter - g.Straight) / r
		x, y = r*math.Cos(phi), r+g.Straight+r*math.Sin(phi)
	}
	if down {
		x = -x
	}
	return x, y
}
