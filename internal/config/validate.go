package config

import (
	"math"

	"github.com/san-kum/kppsim/internal/dynamo"
)

// Validate checks every field and returns a *dynamo.ConfigurationError for
// the first invalid one.
func (c Config) Validate() error {
	p := c.Physics
	if err := positive("physics.time_step", p.TimeStep); err != nil {
		return err
	}
	if err := positive("physics.rho_water", p.RhoWater); err != nil {
		return err
	}
	if err := positive("physics.gravity", p.Gravity); err != nil {
		return err
	}
	if err := nonNegative("physics.chain_mass", p.ChainMass); err != nil {
		return err
	}
	if err := positive("physics.tank_depth", p.TankDepth); err != nil {
		return err
	}
	if p.SurfaceClearance < 0 || p.SurfaceClearance >= p.TankDepth {
		return dynamo.Configf("physics.surface_clearance", "must be in [0, tank_depth), got %g", p.SurfaceClearance)
	}
	if err := positive("physics.atmospheric_pressure", p.AtmosphericPressure); err != nil {
		return err
	}

	if err := positive("validation.energy_tolerance", c.Validation.EnergyTolerance); err != nil {
		return err
	}
	if err := positive("validation.force_tolerance", c.Validation.ForceTolerance); err != nil {
		return err
	}

	f := c.Floaters
	if f.Count < 2 {
		return dynamo.Configf("floaters.count", "need at least 2 floaters, got %d", f.Count)
	}
	if err := positive("floaters.volume", f.Volume); err != nil {
		return err
	}
	if err := positive("floaters.container_mass", f.ContainerMass); err != nil {
		return err
	}
	if err := positive("floaters.area", f.Area); err != nil {
		return err
	}
	if err := nonNegative("floaters.drag_coeff", f.DragCoeff); err != nil {
		return err
	}
	if f.MaxPressure <= p.AtmosphericPressure {
		return dynamo.Configf("floaters.max_pressure", "must exceed atmospheric pressure, got %g", f.MaxPressure)
	}
	if f.MaxErrors < 1 {
		return dynamo.Configf("floaters.max_errors", "must be at least 1, got %d", f.MaxErrors)
	}

	pn := c.Pneumatics
	if pn.BottomZoneAngle <= 0 || pn.BottomZoneAngle >= math.Pi/2 {
		return dynamo.Configf("pneumatics.bottom_zone_angle", "must be in (0, π/2), got %g", pn.BottomZoneAngle)
	}
	if pn.TopZoneAngle <= 0 || pn.TopZoneAngle >= math.Pi/2 {
		return dynamo.Configf("pneumatics.top_zone_angle", "must be in (0, π/2), got %g", pn.TopZoneAngle)
	}
	if err := positive("pneumatics.fill_rate", pn.FillRate); err != nil {
		return err
	}
	if err := positive("pneumatics.vent_rate", pn.VentRate); err != nil {
		return err
	}
	if err := fraction("pneumatics.compression_efficiency", pn.CompressionEfficiency, false); err != nil {
		return err
	}
	if err := fraction("pneumatics.vent_recovery", pn.VentRecovery, true); err != nil {
		return err
	}
	if err := positive("pneumatics.supply_pressure", pn.SupplyPressure); err != nil {
		return err
	}

	if err := c.Drivetrain.validate(); err != nil {
		return err
	}
	if p.TankDepth-p.SurfaceClearance <= 2*c.Drivetrain.SprocketRadius {
		return dynamo.Configf("drivetrain.sprocket_radius", "loop span %g must exceed the sprocket diameter", p.TankDepth-p.SurfaceClearance)
	}
	if err := c.Losses.validate(); err != nil {
		return err
	}
	if err := c.Thermal.validate(); err != nil {
		return err
	}
	if err := c.Electrical.validate(); err != nil {
		return err
	}
	if err := c.Control.validate(c); err != nil {
		return err
	}
	return c.Transient.validate()
}

func (d DrivetrainConfig) validate() error {
	if err := positive("drivetrain.sprocket_radius", d.SprocketRadius); err != nil {
		return err
	}
	if err := fraction("drivetrain.sprocket_efficiency", d.SprocketEfficiency, false); err != nil {
		return err
	}
	if len(d.Stages) == 0 {
		return dynamo.Configf("drivetrain.stages", "at least one gearbox stage is required")
	}
	for _, s := range d.Stages {
		if err := positive("drivetrain.stages.ratio", s.Ratio); err != nil {
			return err
		}
		if err := fraction("drivetrain.stages.efficiency", s.Efficiency, false); err != nil {
			return err
		}
		if err := positive("drivetrain.stages.max_torque", s.MaxTorque); err != nil {
			return err
		}
	}
	cl := d.Clutch
	if !(cl.DisengageThreshold < cl.EngageThreshold) {
		return dynamo.Configf("drivetrain.clutch.disengage_threshold",
			"must be strictly below engage_threshold (%g), got %g", cl.EngageThreshold, cl.DisengageThreshold)
	}
	if err := nonNegative("drivetrain.clutch.lock_band", cl.LockBand); err != nil {
		return err
	}
	if cl.LockBand >= cl.EngageThreshold {
		return dynamo.Configf("drivetrain.clutch.lock_band", "must be below engage_threshold, got %g", cl.LockBand)
	}
	if cl.DisengageThreshold >= -cl.LockBand {
		return dynamo.Configf("drivetrain.clutch.disengage_threshold",
			"must be below -lock_band (%g) so a locked clutch holds, got %g", -cl.LockBand, cl.DisengageThreshold)
	}
	if err := positive("drivetrain.clutch.torque_capacity", cl.TorqueCapacity); err != nil {
		return err
	}
	if err := positive("drivetrain.flywheel.inertia", d.Flywheel.Inertia); err != nil {
		return err
	}
	return positive("drivetrain.flywheel.max_speed", d.Flywheel.MaxSpeed)
}

func (l LossConfig) validate() error {
	checks := []struct {
		name string
		v    float64
	}{
		{"losses.bearing.base", l.Bearing.Base},
		{"losses.bearing.load_coeff", l.Bearing.LoadCoeff},
		{"losses.bearing.temp_coeff", l.Bearing.TempCoeff},
		{"losses.mesh_light_load", l.MeshLightLoad},
		{"losses.seal.coeff", l.Seal.Coeff},
		{"losses.seal.speed_coeff", l.Seal.SpeedCoeff},
		{"losses.windage.coeff", l.Windage.Coeff},
		{"losses.windage.onset_speed", l.Windage.OnsetSpeed},
		{"losses.clutch_slip_coeff", l.ClutchSlipCoeff},
		{"losses.chain_friction", l.ChainFriction},
		{"losses.copper.resistance", l.Copper.Resistance},
		{"losses.copper.temp_coeff", l.Copper.TempCoeff},
		{"losses.iron.hysteresis", l.Iron.Hysteresis},
		{"losses.iron.eddy", l.Iron.Eddy},
		{"losses.switching.energy", l.Switching.Energy},
		{"losses.switching.frequency", l.Switching.Frequency},
	}
	for _, ch := range checks {
		if err := nonNegative(ch.name, ch.v); err != nil {
			return err
		}
	}
	if l.MeshLightLoad >= 1 {
		return dynamo.Configf("losses.mesh_light_load", "must be below 1, got %g", l.MeshLightLoad)
	}
	return nil
}

func (t ThermalConfig) validate() error {
	for _, name := range ThermalComponents {
		ct, ok := t.Components[name]
		if !ok {
			return dynamo.Configf("thermal.components."+name, "missing thermal parameters")
		}
		field := "thermal.components." + name
		if err := positive(field+".capacitance", ct.Capacitance); err != nil {
			return err
		}
		if err := nonNegative(field+".dissipation", ct.Dissipation); err != nil {
			return err
		}
		if ct.Max <= ct.DerateStart {
			return dynamo.Configf(field+".max", "must exceed derate_start (%g), got %g", ct.DerateStart, ct.Max)
		}
		if ct.DerateStart < t.Ambient {
			return dynamo.Configf(field+".derate_start", "must not be below ambient (%g), got %g", t.Ambient, ct.DerateStart)
		}
		if err := fraction(field+".min_multiplier", ct.MinMultiplier, false); err != nil {
			return err
		}
	}
	return nil
}

func (e ElectricalConfig) validate() error {
	g := e.Generator
	if err := positive("electrical.generator.rated_power", g.RatedPower); err != nil {
		return err
	}
	if err := positive("electrical.generator.rated_speed", g.RatedSpeed); err != nil {
		return err
	}
	if g.PolePairs < 1 {
		return dynamo.Configf("electrical.generator.pole_pairs", "must be at least 1, got %d", g.PolePairs)
	}
	if err := fraction("electrical.generator.peak_efficiency", g.PeakEfficiency, false); err != nil {
		return err
	}
	if err := nonNegative("electrical.generator.efficiency_curvature", g.EfficiencyCurvature); err != nil {
		return err
	}
	if err := positive("electrical.generator.voltage_per_rad_s", g.VoltagePerRadS); err != nil {
		return err
	}
	if err := positive("electrical.generator.knee_speed", g.KneeSpeed); err != nil {
		return err
	}

	pe := e.PowerElectronics
	if err := fraction("electrical.power_electronics.efficiency", pe.Efficiency, false); err != nil {
		return err
	}
	if err := positive("electrical.power_electronics.max_voltage", pe.MaxVoltage); err != nil {
		return err
	}
	if err := positive("electrical.power_electronics.max_frequency", pe.MaxFrequency); err != nil {
		return err
	}
	if err := positive("electrical.power_electronics.max_current", pe.MaxCurrent); err != nil {
		return err
	}

	gr := e.Grid
	if err := positive("electrical.grid.nominal_voltage", gr.NominalVoltage); err != nil {
		return err
	}
	if err := positive("electrical.grid.nominal_frequency", gr.NominalFrequency); err != nil {
		return err
	}
	if err := positive("electrical.grid.time_constant", gr.TimeConstant); err != nil {
		return err
	}
	if err := positive("electrical.grid.voltage_tolerance", gr.VoltageTolerance); err != nil {
		return err
	}
	if err := positive("electrical.grid.frequency_tolerance", gr.FrequencyTolerance); err != nil {
		return err
	}
	return nonNegative("electrical.grid.sync_hold", gr.SyncHold)
}

func (c ControlConfig) validate(root Config) error {
	if err := positive("control.timing.horizon", c.Timing.Horizon); err != nil {
		return err
	}
	if err := nonNegative("control.timing.max_adjust", c.Timing.MaxAdjust); err != nil {
		return err
	}
	zone := math.Min(root.Pneumatics.BottomZoneAngle, root.Pneumatics.TopZoneAngle)
	if c.Timing.MaxAdjust > 2*zone {
		return dynamo.Configf("control.timing.max_adjust", "must fit inside the zone window (%g), got %g", 2*zone, c.Timing.MaxAdjust)
	}

	l := c.Load
	if err := nonNegative("control.load.target_power", l.TargetPower); err != nil {
		return err
	}
	for _, g := range []struct {
		name string
		v    float64
	}{{"control.load.kp", l.Kp}, {"control.load.ki", l.Ki}, {"control.load.kd", l.Kd}, {"control.load.band", l.Band}} {
		if err := nonNegative(g.name, g.v); err != nil {
			return err
		}
	}
	if err := positive("control.load.max_rate", l.MaxRate); err != nil {
		return err
	}
	if l.SpeedGuard <= 0 || l.SpeedGuard > 1 {
		return dynamo.Configf("control.load.speed_guard", "must be in (0, 1], got %g", l.SpeedGuard)
	}

	gs := c.GridStability
	if err := positive("control.grid_stability.frequency_band", gs.FrequencyBand); err != nil {
		return err
	}
	if err := positive("control.grid_stability.voltage_band", gs.VoltageBand); err != nil {
		return err
	}
	if err := positive("control.grid_stability.droop", gs.Droop); err != nil {
		return err
	}

	fc := c.Faults
	if err := positive("control.faults.trend_horizon", fc.TrendHorizon); err != nil {
		return err
	}
	if fc.OutlierWindow < 10 {
		return dynamo.Configf("control.faults.outlier_window", "must be at least 10 samples, got %d", fc.OutlierWindow)
	}
	if err := positive("control.faults.outlier_sigma", fc.OutlierSigma); err != nil {
		return err
	}
	return positive("control.faults.residual_tolerance", fc.ResidualTolerance)
}

func (t TransientConfig) validate() error {
	s := t.Startup
	if err := nonNegative("transient.startup.init_duration", s.InitDuration); err != nil {
		return err
	}
	if s.PrimeCount < 1 {
		return dynamo.Configf("transient.startup.prime_count", "must be at least 1, got %d", s.PrimeCount)
	}
	if err := positive("transient.startup.first_injection_speed", s.FirstInjectionSpeed); err != nil {
		return err
	}
	if err := positive("transient.startup.sync_speed", s.SyncSpeed); err != nil {
		return err
	}
	to := s.Timeouts
	for _, tt := range []struct {
		name string
		v    float64
	}{
		{"transient.startup.timeouts.initialization", to.Initialization},
		{"transient.startup.timeouts.first_injection", to.FirstInjection},
		{"transient.startup.timeouts.acceleration", to.Acceleration},
		{"transient.startup.timeouts.synchronization", to.Synchronization},
	} {
		if err := positive(tt.name, tt.v); err != nil {
			return err
		}
	}
	if to.Initialization < s.InitDuration {
		return dynamo.Configf("transient.startup.timeouts.initialization", "must not be shorter than init_duration (%g)", s.InitDuration)
	}

	e := t.Emergency
	if err := positive("transient.emergency.overspeed", e.Overspeed); err != nil {
		return err
	}
	if err := positive("transient.emergency.overpressure", e.Overpressure); err != nil {
		return err
	}
	if err := positive("transient.emergency.overtemperature", e.Overtemperature); err != nil {
		return err
	}

	g := t.Grid
	if !(g.DisconnectVoltage < g.RideThroughVoltage && g.RideThroughVoltage < 1 && g.OverVoltage > 1) {
		return dynamo.Configf("transient.grid", "voltage bands must satisfy disconnect < ride_through < 1 < over_voltage")
	}
	if !(g.TripLowFrequency < g.UnderFrequency && g.UnderFrequency < g.OverFrequency && g.OverFrequency < g.TripHighFrequency) {
		return dynamo.Configf("transient.grid", "frequency bands must satisfy trip_low < under < over < trip_high")
	}
	if err := fraction("transient.grid.shed_fraction", g.ShedFraction, true); err != nil {
		return err
	}
	if err := nonNegative("transient.grid.ride_through_time", g.RideThroughTime); err != nil {
		return err
	}
	if err := nonNegative("transient.grid.reconnect_delay", g.ReconnectDelay); err != nil {
		return err
	}
	return nonNegative("transient.shutdown_speed", t.ShutdownSpeed)
}

func positive(field string, v float64) error {
	if !dynamo.Finite(v) || v <= 0 {
		return dynamo.Configf(field, "must be positive, got %g", v)
	}
	return nil
}

func nonNegative(field string, v float64) error {
	if !dynamo.Finite(v) || v < 0 {
		return dynamo.Configf(field, "must not be negative, got %g", v)
	}
	return nil
}

// fraction checks v ∈ (0, 1], or [0, 1] when zeroOK.
func fraction(field string, v float64, zeroOK bool) error {
	if !dynamo.Finite(v) || v > 1 || v < 0 || (!zeroOK && v == 0) {
		return dynamo.Configf(field, "must be a fraction in (0, 1], got %g", v)
	}
	return nil
}
