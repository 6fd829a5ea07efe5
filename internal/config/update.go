package config

import (
	"reflect"

	"github.com/san-kum/kppsim/internal/dynamo"
)

// Update is a partial parameter change. Nil fields are left untouched. An
// update is validated against the whole resulting configuration before any
// of it is applied.
type Update struct {
	TimeStep           *float64 `json:"time_step,omitempty" yaml:"time_step,omitempty"`
	TargetPower        *float64 `json:"target_power,omitempty" yaml:"target_power,omitempty"`
	LoadKp             *float64 `json:"load_kp,omitempty" yaml:"load_kp,omitempty"`
	LoadKi             *float64 `json:"load_ki,omitempty" yaml:"load_ki,omitempty"`
	LoadKd             *float64 `json:"load_kd,omitempty" yaml:"load_kd,omitempty"`
	LoadMaxRate        *float64 `json:"load_max_rate,omitempty" yaml:"load_max_rate,omitempty"`
	BottomZoneAngle    *float64 `json:"bottom_zone_angle,omitempty" yaml:"bottom_zone_angle,omitempty"`
	TopZoneAngle       *float64 `json:"top_zone_angle,omitempty" yaml:"top_zone_angle,omitempty"`
	FillRate           *float64 `json:"fill_rate,omitempty" yaml:"fill_rate,omitempty"`
	VentRate           *float64 `json:"vent_rate,omitempty" yaml:"vent_rate,omitempty"`
	EngageThreshold    *float64 `json:"engage_threshold,omitempty" yaml:"engage_threshold,omitempty"`
	DisengageThreshold *float64 `json:"disengage_threshold,omitempty" yaml:"disengage_threshold,omitempty"`
	TimingMaxAdjust    *float64 `json:"timing_max_adjust,omitempty" yaml:"timing_max_adjust,omitempty"`
	Overspeed          *float64 `json:"overspeed,omitempty" yaml:"overspeed,omitempty"`
	Overpressure       *float64 `json:"overpressure,omitempty" yaml:"overpressure,omitempty"`
	Overtemperature    *float64 `json:"overtemperature,omitempty" yaml:"overtemperature,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u Update) Empty() bool {
	return reflect.DeepEqual(u, Update{})
}

// Apply returns a copy of c with u applied, or a ConfigurationError. c is
// never modified.
func (u Update) Apply(c Config) (Config, error) {
	out := c.Clone()
	set := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&out.Physics.TimeStep, u.TimeStep)
	set(&out.Control.Load.TargetPower, u.TargetPower)
	set(&out.Control.Load.Kp, u.LoadKp)
	set(&out.Control.Load.Ki, u.LoadKi)
	set(&out.Control.Load.Kd, u.LoadKd)
	set(&out.Control.Load.MaxRate, u.LoadMaxRate)
	set(&out.Pneumatics.BottomZoneAngle, u.BottomZoneAngle)
	set(&out.Pneumatics.TopZoneAngle, u.TopZoneAngle)
	set(&out.Pneumatics.FillRate, u.FillRate)
	set(&out.Pneumatics.VentRate, u.VentRate)
	set(&out.Drivetrain.Clutch.EngageThreshold, u.EngageThreshold)
	set(&out.Drivetrain.Clutch.DisengageThreshold, u.DisengageThreshold)
	set(&out.Control.Timing.MaxAdjust, u.TimingMaxAdjust)
	set(&out.Transient.Emergency.Overspeed, u.Overspeed)
	set(&out.Transient.Emergency.Overpressure, u.Overpressure)
	set(&out.Transient.Emergency.Overtemperature, u.Overtemperature)

	if err := out.Validate(); err != nil {
		return c, err
	}
	return out, nil
}

// Diff builds the Update that turns old into next. It fails when next
// differs from old in a field that cannot change at runtime (floater count,
// geometry, gearbox, ...).
func Diff(old, next Config) (Update, error) {
	var u Update
	pick := func(a, b float64) *float64 {
		if a == b {
			return nil
		}
		v := b
		return &v
	}
	u.TimeStep = pick(old.Physics.TimeStep, next.Physics.TimeStep)
	u.TargetPower = pick(old.Control.Load.TargetPower, next.Control.Load.TargetPower)
	u.LoadKp = pick(old.Control.Load.Kp, next.Control.Load.Kp)
	u.LoadKi = pick(old.Control.Load.Ki, next.Control.Load.Ki)
	u.LoadKd = pick(old.Control.Load.Kd, next.Control.Load.Kd)
	u.LoadMaxRate = pick(old.Control.Load.MaxRate, next.Control.Load.MaxRate)
	u.BottomZoneAngle = pick(old.Pneumatics.BottomZoneAngle, next.Pneumatics.BottomZoneAngle)
	u.TopZoneAngle = pick(old.Pneumatics.TopZoneAngle, next.Pneumatics.TopZoneAngle)
	u.FillRate = pick(old.Pneumatics.FillRate, next.Pneumatics.FillRate)
	u.VentRate = pick(old.Pneumatics.VentRate, next.Pneumatics.VentRate)
	u.EngageThreshold = pick(old.Drivetrain.Clutch.EngageThreshold, next.Drivetrain.Clutch.EngageThreshold)
	u.DisengageThreshold = pick(old.Drivetrain.Clutch.DisengageThreshold, next.Drivetrain.Clutch.DisengageThreshold)
	u.TimingMaxAdjust = pick(old.Control.Timing.MaxAdjust, next.Control.Timing.MaxAdjust)
	u.Overspeed = pick(old.Transient.Emergency.Overspeed, next.Transient.Emergency.Overspeed)
	u.Overpressure = pick(old.Transient.Emergency.Overpressure, next.Transient.Emergency.Overpressure)
	u.Overtemperature = pick(old.Transient.Emergency.Overtemperature, next.Transient.Emergency.Overtemperature)

	applied, err := u.Apply(old)
	if err != nil {
		return Update{}, err
	}
	if !reflect.DeepEqual(applied, next.Clone()) {
		return Update{}, dynamo.Configf("config", "structural parameters cannot change at runtime")
	}
	return u, nil
}

// Float is a helper for building updates.
func Float(v float64) *float64 { return &v }
