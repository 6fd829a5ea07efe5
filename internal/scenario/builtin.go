package scenario

import (
	"sort"

	"github.com/san-kum/kppsim/internal/electrical"
)

// Builtin scenarios, keyed by name.
var Builtin = map[string]func() *Scenario{
	"startup": func() *Scenario {
		return &Scenario{
			Name:        "startup",
			Description: "cold start to grid synchronisation",
			Duration:    90,
			Actions:     []Action{{At: 0, Do: Start}},
			ExpectState: "operational",
		}
	},
	"overspeed": func() *Scenario {
		return &Scenario{
			Name:        "overspeed",
			Description: "flywheel pushed past the overspeed limit once running",
			Duration:    62,
			Actions: []Action{
				{At: 0, Do: Start},
				{At: 60, Do: Overspeed, Speed: 500},
			},
			ExpectState: "emergency",
		}
	},
	"grid-sag": func() *Scenario {
		return &Scenario{
			Name:        "grid-sag",
			Description: "short voltage sag inside the ride-through window",
			Duration:    70,
			Actions: []Action{
				{At: 0, Do: Start},
				{At: 60, Do: Grid, Grid: &electrical.GridCondition{VoltagePU: 0.8, Frequency: 60}},
				{At: 60.3, Do: Grid, Grid: &electrical.GridCondition{VoltagePU: 1, Frequency: 60}},
			},
			ExpectState: "operational",
		}
	},
	"shutdown": func() *Scenario {
		return &Scenario{
			Name:        "shutdown",
			Description: "controlled stop after running",
			Duration:    90,
			Actions: []Action{
				{At: 0, Do: Start},
				{At: 60, Do: Stop},
			},
		}
	},
}

func Get(name string) (*Scenario, bool) {
	fn, ok := Builtin[name]
	if !ok {
		return nil, false
	}
	return fn(), true
}

func List() []string {
	names := make([]string, 0, len(Builtin))
	for name := range Builtin {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
