package engine

// Field is a named scalar read from a snapshot. Fields are the columns of a
// recorded run and the series names accepted by plotting and analysis.
type Field struct {
	Name string
	Unit string
	Get  func(*Snapshot) float64
}

func boolean(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

var Fields = []Field{
	{"time", "s", func(s *Snapshot) float64 { return s.Time }},
	{"dt", "s", func(s *Snapshot) float64 { return s.Dt }},
	{"state", "", func(s *Snapshot) float64 { return float64(s.State.Kind) }},
	{"load", "", func(s *Snapshot) float64 { return s.LoadFactor }},
	{"chain.velocity", "m/s", func(s *Snapshot) float64 { return s.Chain.Velocity }},
	{"chain.position", "m", func(s *Snapshot) float64 { return s.Chain.Position }},
	{"chain.acceleration", "m/s2", func(s *Snapshot) float64 { return s.Chain.Acceleration }},
	{"clutch.engaged", "", func(s *Snapshot) float64 { return boolean(s.Drivetrain.Engaged) }},
	{"clutch.slip", "rad/s", func(s *Snapshot) float64 { return s.Drivetrain.Slip }},
	{"flywheel.speed", "rad/s", func(s *Snapshot) float64 { return s.Drivetrain.FlywheelSpeed }},
	{"flywheel.energy", "J", func(s *Snapshot) float64 { return s.Drivetrain.FlywheelEnergy }},
	{"power.mechanical", "W", func(s *Snapshot) float64 { return s.Electrical.Mechanical }},
	{"power", "W", func(s *Snapshot) float64 { return s.Electrical.Power }},
	{"generator.efficiency", "", func(s *Snapshot) float64 { return s.Electrical.Efficiency }},
	{"generator.voltage", "V", func(s *Snapshot) float64 { return s.Electrical.Voltage }},
	{"generator.frequency", "Hz", func(s *Snapshot) float64 { return s.Electrical.Frequency }},
	{"grid.synchronized", "", func(s *Snapshot) float64 { return boolean(s.Electrical.Synchronized) }},
	{"grid.voltage_pu", "pu", func(s *Snapshot) float64 { return s.Electrical.GridVoltagePU }},
	{"grid.frequency", "Hz", func(s *Snapshot) float64 { return s.Electrical.GridFrequency }},
	{"losses.total", "W", func(s *Snapshot) float64 { return s.Losses.Total() }},
	{"temperature.max", "C", func(s *Snapshot) float64 { return s.MaxTemperature() }},
	{"faults", "", func(s *Snapshot) float64 { return float64(len(s.Faults)) }},
	{"energy.electrical", "J", func(s *Snapshot) float64 { return s.Energy.Electrical }},
	{"energy.residual", "", func(s *Snapshot) float64 { return s.Energy.Residual() }},
	{"wall_time", "s", func(s *Snapshot) float64 { return s.WallTime.Seconds() }},
}

// LookupField finds a field by name.
func LookupField(name string) (Field, bool) {
	for _, f := range Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldNames lists the field names in column order.
func FieldNames() []string {
	names := make([]string, len(Fields))
	for i, f := range Fields {
		names[i] = f.Name
	}
	return names
}
