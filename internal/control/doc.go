// Package control is the plant's closed-loop layer. It runs once per step,
// after the electrical and thermal updates, and issues commands for the
// next step:
//
//   - [TimingController]: per-floater injection and vent trigger offsets
//   - [LoadManager]: generator load factor from a [PID] on delivered power
//   - [GridStability]: droop and reactive support from grid deviations
//   - [FaultDetector]: limit, trend, outlier and residual fault checks
//
// # Usage
//
//	sys := control.New(cfg, phys.Geometry())
//	out := sys.Step(control.Input{Chain: &chain, Power: p, Sink: true, Dt: dt})
//	handler.Apply(out.Commands)
//
// Control never overrides safety: the transient controller arbitrates its
// output against startup, emergency and grid-disturbance commands.
package control
