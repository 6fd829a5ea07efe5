package config

import "sort"

// Presets are named plant variants derived from Default.
var Presets = map[string]func() Config{
	"reference": Default,
	"lossless":  Lossless,
	"deep": func() Config {
		c := Default()
		c.Physics.TankDepth = 20
		c.Floaters.Count = 40
		c.Floaters.MaxPressure = 4.0e5
		c.Pneumatics.SupplyPressure = 5.0e5
		c.Transient.Emergency.Overpressure = 4.0e5
		c.Electrical.Generator.RatedPower = 40000
		c.Control.Load.TargetPower = 30000
		return c
	},
	"compact": func() Config {
		c := Default()
		c.Physics.TankDepth = 5
		c.Floaters.Count = 10
		c.Floaters.Volume = 0.2
		c.Floaters.ContainerMass = 10
		c.Floaters.Area = 0.3
		c.Electrical.Generator.RatedPower = 5000
		c.Control.Load.TargetPower = 3000
		c.Transient.Startup.PrimeCount = 3
		return c
	},
	"fast-sync": func() Config {
		c := Default()
		c.Transient.Startup.SyncSpeed = 80
		c.Electrical.Grid.TimeConstant = 0.2
		c.Electrical.Grid.SyncHold = 0.2
		return c
	},
}

// GetPreset returns the named preset and whether it exists.
func GetPreset(name string) (Config, bool) {
	fn, ok := Presets[name]
	if !ok {
		return Config{}, false
	}
	return fn(), true
}

// ListPresets returns preset names in sorted order.
func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
