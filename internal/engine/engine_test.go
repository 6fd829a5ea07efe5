package engine_test

import (
	"context"
	"errors"
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/kppsim/internal/config"
	"github.com/san-kum/kppsim/internal/dynamo"
	"github.com/san-kum/kppsim/internal/electrical"
	"github.com/san-kum/kppsim/internal/engine"
	"github.com/san-kum/kppsim/internal/floater"
	"github.com/san-kum/kppsim/internal/transient"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type stepCounter struct{ n int }

func (c *stepCounter) Name() string             { return "steps" }
func (c *stepCounter) Observe(*engine.Snapshot) { c.n++ }
func (c *stepCounter) Value() float64           { return float64(c.n) }
func (c *stepCounter) Reset()                   { c.n = 0 }

func newEngine(cfg config.Config, opts ...engine.Option) *engine.Engine {
	opts = append([]engine.Option{engine.WithClock(fixedClock{time.Unix(0, 0)})}, opts...)
	e, err := engine.New(cfg, opts...)
	Expect(err).NotTo(HaveOccurred())
	return e
}

// stepUntil steps at most n times and returns the snapshot where cond first
// held, or the last one.
func stepUntil(e *engine.Engine, n int, cond func(engine.Snapshot) bool) engine.Snapshot {
	var s engine.Snapshot
	for i := 0; i < n; i++ {
		var err error
		s, err = e.Step()
		Expect(err).NotTo(HaveOccurred())
		if cond(s) {
			return s
		}
	}
	return s
}

var _ = Describe("Engine", func() {
	var (
		cfg config.Config
		e   *engine.Engine
	)

	BeforeEach(func() {
		cfg = config.Default()
		e = newEngine(cfg)
	})

	Describe("construction", func() {
		It("starts Offline with every floater empty", func() {
			s := e.Snapshot()
			Expect(s.State.Kind).To(Equal(transient.Offline))
			Expect(s.Step).To(Equal(0))
			Expect(s.Dt).To(Equal(cfg.Physics.TimeStep))
			Expect(s.Floaters).To(HaveLen(cfg.Floaters.Count))
			for _, f := range s.Floaters {
				Expect(f.State).To(Equal(floater.Empty))
			}
		})

		It("rejects an invalid configuration", func() {
			bad := config.Default()
			bad.Floaters.Volume = -1
			_, err := engine.New(bad)
			Expect(errors.Is(err, dynamo.ErrConfiguration)).To(BeTrue())
		})

		It("rejects a clutch band without hysteresis", func() {
			bad := config.Default()
			bad.Drivetrain.Clutch.DisengageThreshold = bad.Drivetrain.Clutch.EngageThreshold
			_, err := engine.New(bad)
			Expect(errors.Is(err, dynamo.ErrConfiguration)).To(BeTrue())
		})
	})

	Describe("commands", func() {
		It("only starts from Offline", func() {
			Expect(e.Start()).To(Succeed())
			Expect(errors.Is(e.Start(), dynamo.ErrInvalidCommand)).To(BeTrue())
		})

		It("rejects stop and acknowledge while Offline", func() {
			Expect(errors.Is(e.Stop(), dynamo.ErrInvalidCommand)).To(BeTrue())
			Expect(errors.Is(e.Acknowledge(), dynamo.ErrInvalidCommand)).To(BeTrue())
		})

		It("applies a valid parameter update", func() {
			Expect(e.UpdateParams(config.Update{TargetPower: config.Float(12000)})).To(Succeed())
			Expect(e.Config().Control.Load.TargetPower).To(Equal(12000.0))
		})

		It("rejects an update that breaks clutch hysteresis and changes nothing", func() {
			before := e.Config()
			err := e.UpdateParams(config.Update{
				TargetPower:        config.Float(9000),
				DisengageThreshold: config.Float(1.0),
			})
			Expect(errors.Is(err, dynamo.ErrConfiguration)).To(BeTrue())
			Expect(e.Config()).To(Equal(before))
		})

		It("rejects a structural change on reload", func() {
			next := config.Default()
			next.Floaters.Count = 10
			Expect(e.Reload(next)).NotTo(Succeed())
			Expect(e.Config().Floaters.Count).To(Equal(cfg.Floaters.Count))
		})

		It("applies a new time step at the next step", func() {
			Expect(e.SetTimeStep(0.005)).To(Succeed())
			s, err := e.Step()
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Dt).To(Equal(0.005))
			Expect(e.SetTimeStep(0)).NotTo(Succeed())
		})

		It("rejects a perturbation naming an unknown floater", func() {
			err := e.Perturb(engine.Perturbation{FloaterPressure: map[int]float64{99: 2e5}})
			Expect(errors.Is(err, dynamo.ErrInvalidCommand)).To(BeTrue())
		})
	})

	Describe("startup", func() {
		It("walks the phases in order and reaches Operational", func() {
			Expect(e.Start()).To(Succeed())
			var seen []transient.SystemState
			s := stepUntil(e, 60000, func(s engine.Snapshot) bool {
				if len(seen) == 0 || seen[len(seen)-1] != s.State {
					seen = append(seen, s.State)
				}
				return s.State.Kind != transient.Starting
			})
			Expect(s.State.Kind).To(Equal(transient.Operational))
			Expect(seen).To(Equal([]transient.SystemState{
				{Kind: transient.Starting, Phase: transient.Initialization},
				{Kind: transient.Starting, Phase: transient.FirstInjection},
				{Kind: transient.Starting, Phase: transient.Acceleration},
				{Kind: transient.Starting, Phase: transient.Synchronization},
				{Kind: transient.Operational},
			}))
			Expect(s.Electrical.Synchronized).To(BeTrue())
		})

		It("injects nothing during initialization", func() {
			Expect(e.Start()).To(Succeed())
			s := stepUntil(e, 50, func(engine.Snapshot) bool { return false })
			Expect(s.State.Phase).To(Equal(transient.Initialization))
			for _, f := range s.Floaters {
				Expect(f.State).To(Equal(floater.Empty))
			}
		})

		It("faults on a phase timeout and never becomes Operational", func() {
			cfg.Transient.Startup.SyncSpeed = 400
			cfg.Transient.Startup.Timeouts.Acceleration = 1
			e = newEngine(cfg)
			Expect(e.Start()).To(Succeed())
			operational := false
			s := stepUntil(e, 2000, func(s engine.Snapshot) bool {
				operational = operational || s.State.Kind == transient.Operational
				return s.State.Kind == transient.Fault
			})
			Expect(s.State.Kind).To(Equal(transient.Fault))
			Expect(operational).To(BeFalse())
			var checks []dynamo.Check
			for _, f := range s.Faults {
				checks = append(checks, f.Check)
			}
			Expect(checks).To(ContainElement(dynamo.CheckTimeout))
			Expect(errors.Is(e.Start(), dynamo.ErrInvalidCommand)).To(BeTrue())
		})
	})

	Describe("overspeed", func() {
		It("enters Emergency within one step with load shed and clutch opened", func() {
			Expect(e.Perturb(engine.Perturbation{FlywheelSpeed: config.Float(500)})).To(Succeed())
			s, err := e.Step()
			Expect(err).NotTo(HaveOccurred())
			Expect(s.State.Kind).To(Equal(transient.Emergency))
			Expect(s.Source).To(Equal(transient.SourceEmergency))
			Expect(s.LoadFactor).To(Equal(0.0))
			Expect(s.Drivetrain.DisengageRequested).To(BeTrue())
			Expect(s.Electrical.BreakerClosed).To(BeFalse())
			Expect(dynamo.MaxSeverity(s.Faults)).To(Equal(dynamo.Critical))
		})

		It("disengages the clutch when the flywheel overspeeds during a Fault", func() {
			cfg.Transient.Startup.SyncSpeed = 400
			cfg.Transient.Startup.Timeouts.Acceleration = 1
			e = newEngine(cfg)
			Expect(e.Start()).To(Succeed())
			s := stepUntil(e, 2000, func(s engine.Snapshot) bool { return s.State.Kind == transient.Fault })
			Expect(s.State.Kind).To(Equal(transient.Fault))

			Expect(e.Perturb(engine.Perturbation{FlywheelSpeed: config.Float(500)})).To(Succeed())
			s, err := e.Step()
			Expect(err).NotTo(HaveOccurred())
			Expect(s.State.Kind).To(Equal(transient.Emergency))
			Expect(s.Source).To(Equal(transient.SourceEmergency))
			Expect(s.LoadFactor).To(Equal(0.0))
			Expect(s.Drivetrain.DisengageRequested).To(BeTrue())
		})

		It("stays in Emergency when acknowledged while still overspeeding", func() {
			Expect(e.Perturb(engine.Perturbation{FlywheelSpeed: config.Float(500)})).To(Succeed())
			_, err := e.Step()
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Acknowledge()).To(Succeed())
			s, err := e.Step()
			Expect(err).NotTo(HaveOccurred())
			Expect(s.State.Kind).To(Equal(transient.Emergency))
		})
	})

	Describe("grid load shed", func() {
		It("rate limits the load into and out of the shed", func() {
			Expect(e.Start()).To(Succeed())
			s := stepUntil(e, 60000, func(s engine.Snapshot) bool { return s.State.Kind != transient.Starting })
			Expect(s.State.Kind).To(Equal(transient.Operational))
			s = stepUntil(e, 3000, func(engine.Snapshot) bool { return false })
			Expect(s.LoadFactor).To(BeNumerically(">", 0))

			limit := cfg.Control.Load.MaxRate*s.Dt + 1e-9
			prev := s.LoadFactor
			shed := false
			walk := func(n int) {
				for i := 0; i < n; i++ {
					next, err := e.Step()
					Expect(err).NotTo(HaveOccurred())
					Expect(next.State.Kind).To(Equal(transient.Operational))
					Expect(next.GridAction).NotTo(Equal(transient.Disconnect))
					Expect(math.Abs(next.LoadFactor-prev)).To(BeNumerically("<=", limit), "step %d", next.Step)
					shed = shed || next.GridAction == transient.LoadShed
					prev = next.LoadFactor
				}
			}

			g := cfg.Transient.Grid
			high := electrical.GridCondition{VoltagePU: 1, Frequency: (g.OverFrequency + g.TripHighFrequency) / 2}
			Expect(e.Perturb(engine.Perturbation{Grid: &high})).To(Succeed())
			walk(1000)
			Expect(shed).To(BeTrue())

			nominal := electrical.NominalCondition(cfg.Electrical.Grid)
			Expect(e.Perturb(engine.Perturbation{Grid: &nominal})).To(Succeed())
			walk(1000)
		})
	})

	Describe("shutdown", func() {
		It("inhibits injection once stopped", func() {
			Expect(e.Start()).To(Succeed())
			stepUntil(e, 20000, func(s engine.Snapshot) bool { return s.State.Phase == transient.Acceleration })
			Expect(e.Stop()).To(Succeed())
			s, err := e.Step()
			Expect(err).NotTo(HaveOccurred())
			Expect(s.State.Kind).To(Equal(transient.Shutdown))
			Expect(s.LoadFactor).To(Equal(0.0))

			filling := func(s engine.Snapshot) map[int]bool {
				m := map[int]bool{}
				for _, f := range s.Floaters {
					if f.State == floater.Filling || f.State == floater.Full {
						m[f.ID] = true
					}
				}
				return m
			}
			holding := filling(s)
			for i := 0; i < 300; i++ {
				s, err = e.Step()
				Expect(err).NotTo(HaveOccurred())
				for id := range filling(s) {
					Expect(holding).To(HaveKey(id))
				}
			}
		})
	})

	Describe("reset", func() {
		It("matches a freshly constructed engine", func() {
			Expect(e.Start()).To(Succeed())
			stepUntil(e, 400, func(engine.Snapshot) bool { return false })
			Expect(e.Reset()).To(Succeed())

			fresh := newEngine(cfg)
			Expect(e.Snapshot()).To(Equal(fresh.Snapshot()))
			Expect(e.Ledger()).To(Equal(fresh.Ledger()))

			Expect(e.Start()).To(Succeed())
			Expect(fresh.Start()).To(Succeed())
			a := stepUntil(e, 300, func(engine.Snapshot) bool { return false })
			b := stepUntil(fresh, 300, func(engine.Snapshot) bool { return false })
			Expect(a).To(Equal(b))
		})

		It("resets registered metrics", func() {
			m := &stepCounter{}
			e = newEngine(cfg, engine.WithMetrics(m))
			stepUntil(e, 10, func(engine.Snapshot) bool { return false })
			Expect(e.Metrics()).To(HaveKeyWithValue("steps", 10.0))
			Expect(e.Reset()).To(Succeed())
			Expect(m.Value()).To(Equal(0.0))
		})
	})

	Describe("floater invariants", func() {
		It("keeps mass and fill in bounds through startup", func() {
			lo := cfg.Floaters.ContainerMass
			hi := lo + cfg.Physics.RhoWater*cfg.Floaters.Volume
			Expect(e.Start()).To(Succeed())
			stepUntil(e, 3000, func(s engine.Snapshot) bool {
				for _, f := range s.Floaters {
					Expect(f.Mass).To(BeNumerically(">=", lo-1e-9))
					Expect(f.Mass).To(BeNumerically("<=", hi+1e-9))
					Expect(f.Fill).To(BeNumerically(">=", 0))
					Expect(f.Fill).To(BeNumerically("<=", 1))
				}
				return false
			})
		})

		It("shows air in a floater on the step it starts filling", func() {
			hi := cfg.Floaters.ContainerMass + cfg.Physics.RhoWater*cfg.Floaters.Volume
			Expect(e.Start()).To(Succeed())
			prev := e.Snapshot()
			fills := 0
			stepUntil(e, 3000, func(s engine.Snapshot) bool {
				for i, f := range s.Floaters {
					if prev.Floaters[i].State == floater.Empty && f.State == floater.Filling {
						fills++
						Expect(f.Fill).To(BeNumerically(">", 0))
						Expect(f.Mass).To(BeNumerically("<", hi))
					}
				}
				prev = s
				return false
			})
			Expect(fills).To(BeNumerically(">", cfg.Transient.Startup.PrimeCount))
		})
	})

	Describe("energy audit", func() {
		It("balances with every loss zeroed", func() {
			lossless := config.Lossless()
			e = newEngine(lossless)
			Expect(e.Start()).To(Succeed())
			stepUntil(e, 2000, func(engine.Snapshot) bool { return false })
			led := e.Ledger()
			Expect(led.In()).To(BeNumerically(">", 0))
			Expect(led.Balanced(lossless.Validation.EnergyTolerance)).To(BeTrue(), "residual %g", led.Residual())
			Expect(led.Losses.Drag).To(BeNumerically("~", 0, 1e-9))
			Expect(led.Losses.ChainFriction).To(BeNumerically("~", 0, 1e-9))
		})

		It("attributes the whole dynamical deficit to named stages", func() {
			Expect(e.Start()).To(Succeed())
			stepUntil(e, 3000, func(s engine.Snapshot) bool {
				var heat float64
				for _, w := range s.Losses.Heat() {
					heat += w
				}
				Expect(heat).To(BeNumerically("~", s.Losses.Total(), 1e-6*math.Max(1, s.Losses.Total())))
				return false
			})
			led := e.Ledger()
			Expect(led.Attributed()).To(BeNumerically(">", 0))
			Expect(led.Deficit()).To(BeNumerically("~", led.Attributed(), cfg.Validation.EnergyTolerance*math.Max(1, led.In())))
		})

		It("books a flywheel perturbation as external energy", func() {
			Expect(e.Perturb(engine.Perturbation{FlywheelSpeed: config.Float(100)})).To(Succeed())
			led := e.Ledger()
			Expect(led.External).To(BeNumerically("~", 0.5*cfg.Drivetrain.Flywheel.Inertia*100*100, 1e-9))
			Expect(led.Balanced(1e-9)).To(BeTrue())
		})
	})

	Describe("failed steps", func() {
		It("keeps the last good state after a physics violation", func() {
			cfg.Validation.StabilityThreshold = 1e-3
			e = newEngine(cfg)
			Expect(e.Start()).To(Succeed())
			var err error
			last := e.Snapshot()
			for i := 0; i < 1000 && err == nil; i++ {
				var s engine.Snapshot
				s, err = e.Step()
				if err == nil {
					last = s
				}
			}
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, dynamo.ErrPhysicsViolation)).To(BeTrue())
			var se *dynamo.SimulationError
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(se.Step).To(Equal(last.Step + 1))
			Expect(e.Snapshot()).To(Equal(last))

			_, again := e.Step()
			Expect(again).To(HaveOccurred())
			Expect(e.Snapshot()).To(Equal(last))
		})
	})

	Describe("Run", func() {
		It("hands snapshots to the sink and stops with the context", func() {
			sink := make(chan engine.Snapshot, 16)
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- e.Run(ctx, sink) }()

			var got []engine.Snapshot
			for len(got) < 5 {
				got = append(got, <-sink)
			}
			cancel()
			Eventually(done).Should(Receive(MatchError(context.Canceled)))
			for i := 1; i < len(got); i++ {
				Expect(got[i].Step).To(BeNumerically(">", got[i-1].Step))
			}
		})

		It("drops snapshots a full sink cannot take", func() {
			sink := make(chan engine.Snapshot, 1)
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			err := e.Run(ctx, sink)
			Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
			Expect(e.Dropped()).To(BeNumerically(">", 0))
		})
	})
})
