package physics

import (
	"errors"
	"math"
	"testing"

	"github.com/san-kum/kppsim/internal/config"
	"github.com/san-kum/kppsim/internal/dynamo"
	"github.com/san-kum/kppsim/internal/floater"
)

func testGeometry() Geometry {
	cfg := config.Default()
	return NewGeometry(cfg.Physics, cfg.Drivetrain.SprocketRadius)
}

func TestGeometryProfile(t *testing.T) {
	g := testGeometry()

	tests := []struct {
		name  string
		theta float64
		h     float64
		slope float64
	}{
		{"bottom", 0, 0, 0},
		{"ascending run", math.Pi / 2, g.Span / 2, 1},
		{"top", math.Pi, g.Span, 0},
		{"descending run", 3 * math.Pi / 2, g.Span / 2, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if h := g.Height(tt.theta); math.Abs(h-tt.h) > 1e-9 {
				t.Errorf("expected height %f, got %f", tt.h, h)
			}
			if s := g.Slope(tt.theta); math.Abs(s-tt.slope) > 1e-9 {
				t.Errorf("expected slope %f, got %f", tt.slope, s)
			}
		})
	}
}

func TestGeometrySymmetryAndBounds(t *testing.T) {
	g := testGeometry()
	prev := g.Height(0)
	for i := 1; i <= 2000; i++ {
		theta := 2 * math.Pi * float64(i) / 2000
		h := g.Height(theta)
		if s := g.Slope(theta); math.Abs(s) > 1+1e-12 {
			t.Fatalf("slope %f exceeds 1 at %f", s, theta)
		}
		if math.Abs(h-g.Height(2*math.Pi-theta)) > 1e-9 {
			t.Fatalf("profile not symmetric at %f", theta)
		}
		// continuous: a step of L/2000 moves at most that far vertically
		if math.Abs(h-prev) > g.Loop/2000+1e-9 {
			t.Fatalf("height jumps at %f: %f -> %f", theta, prev, h)
		}
		prev = h
	}
}

func TestGeometryPoint(t *testing.T) {
	g := testGeometry()
	tests := []struct {
		name  string
		theta float64
		x, y  float64
	}{
		{"bottom", 0, 0, 0},
		{"ascending run", math.Pi / 2, g.Radius, g.Span / 2},
		{"top", math.Pi, 0, g.Span},
		{"descending run", 3 * math.Pi / 2, -g.Radius, g.Span / 2},
	}
	for _, tt := range tests {
		x, y := g.Point(tt.theta)
		if math.Abs(x-tt.x) > 1e-9 || math.Abs(y-tt.y) > 1e-9 {
			t.Errorf("%s: expected (%f, %f), got (%f, %f)", tt.name, tt.x, tt.y, x, y)
		}
		if math.Abs(y-g.Height(tt.theta)) > 1e-9 {
			t.Errorf("%s: point height %f disagrees with Height %f", tt.name, y, g.Height(tt.theta))
		}
	}
}

func TestSubmerged(t *testing.T) {
	g := testGeometry()
	extent := 0.8

	if s := g.Submerged(0, extent); s != 1 {
		t.Errorf("bottom floater should be submerged, got %f", s)
	}
	if s := g.Submerged(math.Pi, extent); math.Abs(s-0.5) > 1e-9 {
		t.Errorf("top floater should be half submerged, got %f", s)
	}
}

func TestForcesFullAscending(t *testing.T) {
	cfg := config.Default()
	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	f := floater.New(0, math.Pi/2, cfg.Floaters, cfg.Physics.AtmosphericPressure)
	f.State = floater.Full
	f.AirFill = 1

	forces, err := e.Forces(ChainState{Floaters: []floater.Floater{f}})
	if err != nil {
		t.Fatal(err)
	}
	rho, g := cfg.Physics.RhoWater, cfg.Physics.Gravity
	want := rho*f.Volume*g - f.ContainerMass*g
	if math.Abs(forces.Lift-want) > 1e-9 {
		t.Errorf("expected lift %f, got %f", want, forces.Lift)
	}
	if forces.Drag != 0 {
		t.Errorf("expected no drag at rest, got %f", forces.Drag)
	}
	if !forces.PerFloater[0].Ascending {
		t.Error("floater at π/2 should be ascending")
	}
}

func TestForcesWaterFilledSinks(t *testing.T) {
	cfg := config.Default()
	e, _ := New(cfg)
	f := floater.New(0, math.Pi/2, cfg.Floaters, cfg.Physics.AtmosphericPressure)

	forces, err := e.Forces(ChainState{Velocity: 1, Floaters: []floater.Floater{f}})
	if err != nil {
		t.Fatal(err)
	}
	// buoyancy cancels the water inside; the container weight remains
	want := -f.ContainerMass * cfg.Physics.Gravity
	if math.Abs(forces.Lift-want) > 1e-9 {
		t.Errorf("expected lift %f, got %f", want, forces.Lift)
	}
	if forces.Drag >= 0 {
		t.Errorf("drag should oppose motion, got %f", forces.Drag)
	}
}

func TestAdvanceKineticEnergy(t *testing.T) {
	cfg := config.Default()
	e, _ := New(cfg)
	c := ChainState{Velocity: 1.5, Floaters: floater.Chain(cfg.Floaters, cfg.Physics.AtmosphericPressure)}
	m, a, dt := 2500.0, 0.8, 0.01

	v0 := c.Velocity
	vmid, err := e.Advance(&c, a, dt)
	if err != nil {
		t.Fatal(err)
	}
	dke := 0.5 * m * (c.Velocity*c.Velocity - v0*v0)
	work := m * a * vmid * dt
	if math.Abs(dke-work) > 1e-9 {
		t.Errorf("work %f != ΔKE %f", work, dke)
	}
	spacing := 2 * math.Pi / float64(cfg.Floaters.Count)
	if d := dynamo.WrapAngle(c.Floaters[1].Angle - c.Floaters[0].Angle); math.Abs(d-spacing) > 1e-9 {
		t.Errorf("spacing changed: %f", d)
	}
}

func TestAdvanceRejectsNonFinite(t *testing.T) {
	cfg := config.Default()
	e, _ := New(cfg)
	c := ChainState{Velocity: 1}

	_, err := e.Advance(&c, math.NaN(), 0.01)
	if !errors.Is(err, dynamo.ErrPhysicsViolation) {
		t.Fatalf("expected physics violation, got %v", err)
	}
	if c.Velocity != 1 {
		t.Error("state mutated on failed advance")
	}
}

func TestCheckNewton(t *testing.T) {
	cfg := config.Default()
	e, _ := New(cfg)

	if err := e.CheckNewton(3000, 2, 6000); err != nil {
		t.Errorf("balanced chain rejected: %v", err)
	}
	if err := e.CheckNewton(3000, 2, 6000*(1+1e-9)); err != nil {
		t.Errorf("rounding-level residual rejected: %v", err)
	}
	err := e.CheckNewton(3000, 2, 5000)
	if !errors.Is(err, dynamo.ErrPhysicsViolation) {
		t.Fatalf("expected physics violation, got %v", err)
	}
	var pv *dynamo.PhysicsViolation
	if !errors.As(err, &pv) || pv.Value != 1000 {
		t.Errorf("expected residual 1000 N, got %v", err)
	}
}

func TestTimeStepLatch(t *testing.T) {
	cfg := config.Default()
	e, _ := New(cfg)

	if err := e.SetTimeStep(0.005); err != nil {
		t.Fatal(err)
	}
	if e.TimeStep() != cfg.Physics.TimeStep {
		t.Error("dt must not change before latch")
	}
	if dt := e.Latch(); dt != 0.005 {
		t.Errorf("expected latched dt 0.005, got %f", dt)
	}
	if err := e.SetTimeStep(-1); !errors.Is(err, dynamo.ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestNewRejectsBadPhysics(t *testing.T) {
	cfg := config.Default()
	cfg.Floaters.Volume = -0.1
	if _, err := New(cfg); !errors.Is(err, dynamo.ErrConfiguration) {
		t.Errorf("expected configuration error for negative volume, got %v", err)
	}

	cfg = config.Default()
	cfg.Physics.RhoWater = 0
	if _, err := New(cfg); !errors.Is(err, dynamo.ErrConfiguration) {
		t.Errorf("expected configuration error for zero density, got %v", err)
	}
}
