package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/san-kum/kppsim/internal/dynamo"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Physics.TimeStep <= 0 {
		t.Error("dt should be positive")
	}
	if got := cfg.Drivetrain.OverallRatio(); got != 64 {
		t.Errorf("expected overall ratio 64, got %f", got)
	}
	if cfg.Validation.EnergyTolerance != 0.01 {
		t.Errorf("expected 1%% energy tolerance, got %f", cfg.Validation.EnergyTolerance)
	}
}

func TestLosslessConfig(t *testing.T) {
	cfg := Lossless()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("lossless config invalid: %v", err)
	}
	if cfg.Floaters.DragCoeff != 0 || cfg.Losses != (LossConfig{}) {
		t.Error("lossless config should zero every loss coefficient")
	}
	for _, s := range cfg.Drivetrain.Stages {
		if s.Efficiency != 1 {
			t.Errorf("expected unit stage efficiency, got %f", s.Efficiency)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name  string
		field string
		mut   func(c *Config)
	}{
		{"zero dt", "physics.time_step", func(c *Config) { c.Physics.TimeStep = 0 }},
		{"negative density", "physics.rho_water", func(c *Config) { c.Physics.RhoWater = -1000 }},
		{"negative volume", "floaters.volume", func(c *Config) { c.Floaters.Volume = -0.1 }},
		{"zero force tolerance", "validation.force_tolerance", func(c *Config) { c.Validation.ForceTolerance = 0 }},
		{"zero container mass", "floaters.container_mass", func(c *Config) { c.Floaters.ContainerMass = 0 }},
		{"clutch thresholds equal", "drivetrain.clutch.disengage_threshold", func(c *Config) {
			c.Drivetrain.Clutch.DisengageThreshold = c.Drivetrain.Clutch.EngageThreshold
		}},
		{"no stages", "drivetrain.stages", func(c *Config) { c.Drivetrain.Stages = nil }},
		{"missing thermal node", "thermal.components.gearbox", func(c *Config) { delete(c.Thermal.Components, Gearbox) }},
		{"efficiency above one", "electrical.power_electronics.efficiency", func(c *Config) { c.Electrical.PowerElectronics.Efficiency = 1.2 }},
		{"adjust wider than zone", "control.timing.max_adjust", func(c *Config) { c.Control.Timing.MaxAdjust = 1.0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mut(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var ce *dynamo.ConfigurationError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConfigurationError, got %T", err)
			}
			if ce.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, ce.Field)
			}
		})
	}
}

func TestUpdateApply(t *testing.T) {
	cfg := Default()

	next, err := Update{TargetPower: Float(12000), TimeStep: Float(0.005)}.Apply(cfg)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if next.Control.Load.TargetPower != 12000 || next.Physics.TimeStep != 0.005 {
		t.Errorf("update not applied: %+v", next.Control.Load)
	}
	if cfg.Control.Load.TargetPower != DefaultTargetPower {
		t.Error("apply must not modify the source config")
	}
}

func TestUpdateAllOrNothing(t *testing.T) {
	cfg := Default()
	u := Update{TargetPower: Float(9000), DisengageThreshold: Float(5)}

	next, err := u.Apply(cfg)
	if !errors.Is(err, dynamo.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if next.Control.Load.TargetPower != DefaultTargetPower {
		t.Error("rejected update leaked a partial change")
	}
}

func TestDiff(t *testing.T) {
	old := Default()
	next := Default()
	next.Control.Load.TargetPower = 18000

	u, err := Diff(old, next)
	if err != nil {
		t.Fatalf("diff failed: %v", err)
	}
	if u.TargetPower == nil || *u.TargetPower != 18000 {
		t.Errorf("expected target power in diff, got %+v", u)
	}
	if u.TimeStep != nil {
		t.Error("unchanged field should be nil")
	}

	next.Floaters.Count = 30
	if _, err := Diff(old, next); err == nil {
		t.Error("expected structural change to be rejected")
	}
}

func TestLoadSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plant.yaml")
	cfg := Default()
	cfg.Control.Load.TargetPower = 11000

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Control.Load.TargetPower != 11000 {
		t.Errorf("expected target 11000, got %f", loaded.Control.Load.TargetPower)
	}
}

func TestParsePartialFile(t *testing.T) {
	cfg, err := Parse([]byte("physics:\n  tank_depth: 12\n"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cfg.Physics.TankDepth != 12 {
		t.Errorf("expected depth 12, got %f", cfg.Physics.TankDepth)
	}
	if cfg.Floaters.Count != DefaultFloaters {
		t.Error("absent fields should keep defaults")
	}

	if _, err := Parse([]byte("physics:\n  time_step: -1\n")); err == nil {
		t.Error("expected validation error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestPresets(t *testing.T) {
	for _, name := range ListPresets() {
		cfg, ok := GetPreset(name)
		if !ok {
			t.Fatalf("preset %s not found", name)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("preset %s invalid: %v", name, err)
		}
	}
	if _, ok := GetPreset("nonexistent"); ok {
		t.Error("expected missing preset")
	}
}
