package engine

import (
	"time"

	"github.com/san-kum/kppsim/internal/control"
	"github.com/san-kum/kppsim/internal/drivetrain"
	"github.com/san-kum/kppsim/internal/dynamo"
	"github.com/san-kum/kppsim/internal/floater"
	"github.com/san-kum/kppsim/internal/losses"
	"github.com/san-kum/kppsim/internal/transient"
)

// Snapshot is the published plant state at a step boundary. Readers get
// deep copies.
type Snapshot struct {
	Step       int                   `json:"step"`
	Time       float64               `json:"time"`
	Dt         float64               `json:"dt"`
	WallTime   time.Duration         `json:"wall_time_ns"`
	State      transient.SystemState `json:"state"`
	Source     transient.Source      `json:"source"`
	Reason     string                `json:"reason"`
	GridAction transient.GridAction  `json:"grid_action"`
	GridMode   control.GridMode      `json:"grid_mode"`
	LoadFactor float64               `json:"load_factor"`

	Chain      ChainView          `json:"chain"`
	Floaters   []FloaterView      `json:"floaters"`
	Drivetrain DrivetrainView     `json:"drivetrain"`
	Electrical ElectricalView     `json:"electrical"`
	Losses     losses.Breakdown   `json:"losses"`
	Temps      map[string]float64 `json:"temperatures"`
	Faults     []dynamo.Fault     `json:"faults"`
	Energy     Ledger             `json:"energy"`
}

type ChainView struct {
	Velocity     float64 `json:"velocity"`
	Position     float64 `json:"position"`
	Acceleration float64 `json:"acceleration"`
}

type FloaterView struct {
	ID          int           `json:"id"`
	State       floater.State `json:"state"`
	Angle       float64       `json:"angle"`
	Mass        float64       `json:"mass"`
	Fill        float64       `json:"fill"`
	Pressure    float64       `json:"pressure"`
	Temperature float64       `json:"temperature"`
	Errors      int           `json:"errors"`
}

type DrivetrainView struct {
	Clutch             drivetrain.ClutchState `json:"clutch"`
	Engaged            bool                   `json:"engaged"`
	DisengageRequested bool                   `json:"disengage_requested"`
	Slip               float64                `json:"slip"`
	SprocketTorque     float64                `json:"sprocket_torque"`
	ClutchTorque       float64                `json:"clutch_torque"`
	FlywheelSpeed      float64                `json:"flywheel_speed"`
	FlywheelEnergy     float64                `json:"flywheel_energy"`
	Stages             []drivetrain.Stage     `json:"stages"`
}

type ElectricalView struct {
	Mechanical    float64 `json:"mechanical"`
	Generated     float64 `json:"generated"`
	Power         float64 `json:"power"`
	Efficiency    float64 `json:"efficiency"`
	Voltage       float64 `json:"voltage"`
	Frequency     float64 `json:"frequency"`
	Current       float64 `json:"current"`
	Synchronized  bool    `json:"synchronized"`
	BreakerClosed bool    `json:"breaker_closed"`
	Tripped       bool    `json:"tripped"`
	TripCause     string  `json:"trip_cause,omitempty"`
	SyncVoltage   float64 `json:"sync_voltage"`
	SyncFrequency float64 `json:"sync_frequency"`
	GridVoltagePU float64 `json:"grid_voltage_pu"`
	GridFrequency float64 `json:"grid_frequency"`
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Floaters = append([]FloaterView(nil), s.Floaters...)
	out.Drivetrain.Stages = append([]drivetrain.Stage(nil), s.Drivetrain.Stages...)
	out.Faults = append([]dynamo.Fault(nil), s.Faults...)
	if s.Temps != nil {
		out.Temps = make(map[string]float64, len(s.Temps))
		for k, v := range s.Temps {
			out.Temps[k] = v
		}
	}
	return out
}

// MaxTemperature is the hottest thermal node.
func (s Snapshot) MaxTemperature() float64 {
	var top float64
	first := true
	for _, t := range s.Temps {
		if first || t > top {
			top, first = t, false
		}
	}
	return top
}

func (e *Engine) snapshot(p *plant, dt float64, wall time.Duration) Snapshot {
	rho := e.cfg.Physics.RhoWater
	s := Snapshot{
		Step:       p.step,
		Time:       p.time,
		Dt:         dt,
		WallTime:   wall,
		State:      p.trans.State,
		Source:     p.decision.Source,
		Reason:     p.decision.Reason,
		GridAction: p.trans.Grid.Action,
		GridMode:   p.support.Mode,
		LoadFactor: p.cmds.Load,
		Chain: ChainView{
			Velocity:     p.chain.Velocity,
			Position:     p.chain.Position,
			Acceleration: p.chain.Acceleration,
		},
		Floaters: make([]FloaterView, len(p.chain.Floaters)),
		Losses:   p.breakdown,
		Temps:    p.thermal.Temperatures(),
		Faults:   append([]dynamo.Fault(nil), p.faults...),
		Energy:   p.ledger,
	}
	for i := range p.chain.Floaters {
		f := &p.chain.Floaters[i]
		s.Floaters[i] = FloaterView{
			ID:          f.ID,
			State:       f.State,
			Angle:       f.Angle,
			Mass:        f.EffectiveMass(rho),
			Fill:        f.AirFill,
			Pressure:    f.Pressure,
			Temperature: f.Temperature,
			Errors:      f.Errors,
		}
	}

	d := p.drive
	s.Drivetrain = DrivetrainView{
		Clutch:             d.Clutch.State,
		Engaged:            d.Clutch.Engaged(),
		DisengageRequested: d.Clutch.DisengageRequested(),
		Slip:               d.Clutch.Slip,
		SprocketTorque:     d.Sprocket.Torque,
		ClutchTorque:       d.Clutch.Torque,
		FlywheelSpeed:      d.Flywheel.Speed,
		FlywheelEnergy:     d.Flywheel.StoredEnergy(),
		Stages:             append([]drivetrain.Stage(nil), d.Gearbox.Stages()...),
	}

	g, c, grid := p.elec.Generator, p.elec.Converter, p.elec.Grid
	s.Electrical = ElectricalView{
		Mechanical:    p.power.Mechanical,
		Generated:     p.power.Generated,
		Power:         p.power.Delivered,
		Efficiency:    g.Efficiency,
		Voltage:       g.Voltage,
		Frequency:     g.Frequency,
		Current:       g.Current,
		Synchronized:  grid.Synchronized,
		BreakerClosed: grid.BreakerClosed,
		Tripped:       c.Tripped,
		TripCause:     c.Cause,
		SyncVoltage:   grid.Voltage,
		SyncFrequency: grid.Frequency,
		GridVoltagePU: grid.Condition.VoltagePU,
		GridFrequency: grid.Condition.Frequency,
	}
	return s
}
