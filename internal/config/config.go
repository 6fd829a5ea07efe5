package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultDt          = 0.01
	DefaultRhoWater    = 1000.0
	DefaultGravity     = 9.81
	DefaultFloaters    = 20
	DefaultTankDepth   = 10.0
	DefaultAtmosphere  = 101325.0
	DefaultAmbient     = 20.0
	DefaultMaxSpeed    = 450.0
	DefaultTargetPower = 15000.0
)

// Component names shared by the thermal model and fault records.
const (
	Sprocket         = "sprocket"
	Gearbox          = "gearbox"
	Clutch           = "clutch"
	Flywheel         = "flywheel"
	Generator        = "generator"
	PowerElectronics = "power_electronics"
)

// ThermalComponents lists the components with a thermal node, in fixed order.
var ThermalComponents = []string{Sprocket, Gearbox, Clutch, Flywheel, Generator, PowerElectronics}

type Config struct {
	Physics    PhysicsConfig    `yaml:"physics"`
	Validation ValidationConfig `yaml:"validation"`
	Floaters   FloaterConfig    `yaml:"floaters"`
	Pneumatics PneumaticsConfig `yaml:"pneumatics"`
	Drivetrain DrivetrainConfig `yaml:"drivetrain"`
	Losses     LossConfig       `yaml:"losses"`
	Thermal    ThermalConfig    `yaml:"thermal"`
	Electrical ElectricalConfig `yaml:"electrical"`
	Control    ControlConfig    `yaml:"control"`
	Transient  TransientConfig  `yaml:"transient"`
}

type PhysicsConfig struct {
	TimeStep            float64 `yaml:"time_step"`
	RhoWater            float64 `yaml:"rho_water"`
	Gravity             float64 `yaml:"gravity"`
	ChainMass           float64 `yaml:"chain_mass"`
	TankDepth           float64 `yaml:"tank_depth"`
	SurfaceClearance    float64 `yaml:"surface_clearance"`
	AtmosphericPressure float64 `yaml:"atmospheric_pressure"`
}

type ValidationConfig struct {
	EnergyTolerance    float64 `yaml:"energy_tolerance"`
	ForceTolerance     float64 `yaml:"force_tolerance"`
	StabilityThreshold float64 `yaml:"stability_threshold"`
}

type FloaterConfig struct {
	Count              int     `yaml:"count"`
	Volume             float64 `yaml:"volume"`
	ContainerMass      float64 `yaml:"container_mass"`
	Area               float64 `yaml:"area"`
	DragCoeff          float64 `yaml:"drag_coeff"`
	MaxPressure        float64 `yaml:"max_pressure"`
	MaxErrors          int     `yaml:"max_errors"`
	AmbientTemperature float64 `yaml:"ambient_temperature"`
}

type PneumaticsConfig struct {
	BottomZoneAngle       float64 `yaml:"bottom_zone_angle"`
	TopZoneAngle          float64 `yaml:"top_zone_angle"`
	FillRate              float64 `yaml:"fill_rate"`
	VentRate              float64 `yaml:"vent_rate"`
	CompressionEfficiency float64 `yaml:"compression_efficiency"`
	VentRecovery          float64 `yaml:"vent_recovery"`
	SupplyPressure        float64 `yaml:"supply_pressure"`
	CompressionHeating    float64 `yaml:"compression_heating"`
}

type DrivetrainConfig struct {
	SprocketRadius     float64        `yaml:"sprocket_radius"`
	SprocketEfficiency float64        `yaml:"sprocket_efficiency"`
	Stages             []StageConfig  `yaml:"stages"`
	Clutch             ClutchConfig   `yaml:"clutch"`
	Flywheel           FlywheelConfig `yaml:"flywheel"`
}

type StageConfig struct {
	Ratio      float64 `yaml:"ratio"`
	Efficiency float64 `yaml:"efficiency"`
	MaxTorque  float64 `yaml:"max_torque"`
}

type ClutchConfig struct {
	EngageThreshold    float64 `yaml:"engage_threshold"`
	DisengageThreshold float64 `yaml:"disengage_threshold"`
	LockBand           float64 `yaml:"lock_band"`
	TorqueCapacity     float64 `yaml:"torque_capacity"`
}

type FlywheelConfig struct {
	Inertia  float64 `yaml:"inertia"`
	MaxSpeed float64 `yaml:"max_speed"`
}

type LossConfig struct {
	Bearing         BearingConfig   `yaml:"bearing"`
	MeshLightLoad   float64         `yaml:"mesh_light_load"`
	Seal            SealConfig      `yaml:"seal"`
	Windage         WindageConfig   `yaml:"windage"`
	ClutchSlipCoeff float64         `yaml:"clutch_slip_coeff"`
	ChainFriction   float64         `yaml:"chain_friction"`
	Copper          CopperConfig    `yaml:"copper"`
	Iron            IronConfig      `yaml:"iron"`
	Switching       SwitchingConfig `yaml:"switching"`
}

type BearingConfig struct {
	Base      float64 `yaml:"base"`
	LoadCoeff float64 `yaml:"load_coeff"`
	TempCoeff float64 `yaml:"temp_coeff"`
	RefTemp   float64 `yaml:"ref_temp"`
}

type SealConfig struct {
	Coeff      float64 `yaml:"coeff"`
	SpeedCoeff float64 `yaml:"speed_coeff"`
}

type WindageConfig struct {
	Coeff      float64 `yaml:"coeff"`
	OnsetSpeed float64 `yaml:"onset_speed"`
}

type CopperConfig struct {
	Resistance float64 `yaml:"resistance"`
	TempCoeff  float64 `yaml:"temp_coeff"`
}

type IronConfig struct {
	Hysteresis float64 `yaml:"hysteresis"`
	Eddy       float64 `yaml:"eddy"`
}

type SwitchingConfig struct {
	Energy    float64 `yaml:"energy"`
	Frequency float64 `yaml:"frequency"`
}

type ThermalConfig struct {
	Ambient    float64                     `yaml:"ambient"`
	Components map[string]ComponentThermal `yaml:"components"`
}

type ComponentThermal struct {
	Capacitance   float64 `yaml:"capacitance"`
	Dissipation   float64 `yaml:"dissipation"`
	DerateStart   float64 `yaml:"derate_start"`
	Max           float64 `yaml:"max"`
	MinMultiplier float64 `yaml:"min_multiplier"`
}

type ElectricalConfig struct {
	Generator        GeneratorConfig        `yaml:"generator"`
	PowerElectronics PowerElectronicsConfig `yaml:"power_electronics"`
	Grid             GridConfig             `yaml:"grid"`
}

type GeneratorConfig struct {
	RatedPower          float64 `yaml:"rated_power"`
	RatedSpeed          float64 `yaml:"rated_speed"`
	PolePairs           int     `yaml:"pole_pairs"`
	PeakEfficiency      float64 `yaml:"peak_efficiency"`
	EfficiencyCurvature float64 `yaml:"efficiency_curvature"`
	VoltagePerRadS      float64 `yaml:"voltage_per_rad_s"`
	KneeSpeed           float64 `yaml:"knee_speed"`
}

type PowerElectronicsConfig struct {
	Efficiency   float64 `yaml:"efficiency"`
	MaxVoltage   float64 `yaml:"max_voltage"`
	MaxFrequency float64 `yaml:"max_frequency"`
	MaxCurrent   float64 `yaml:"max_current"`
}

type GridConfig struct {
	NominalVoltage     float64 `yaml:"nominal_voltage"`
	NominalFrequency   float64 `yaml:"nominal_frequency"`
	TimeConstant       float64 `yaml:"time_constant"`
	VoltageTolerance   float64 `yaml:"voltage_tolerance"`
	FrequencyTolerance float64 `yaml:"frequency_tolerance"`
	SyncHold           float64 `yaml:"sync_hold"`
}

type ControlConfig struct {
	Timing        TimingConfig        `yaml:"timing"`
	Load          LoadConfig          `yaml:"load"`
	GridStability GridStabilityConfig `yaml:"grid_stability"`
	Faults        FaultConfig         `yaml:"faults"`
}

type TimingConfig struct {
	Horizon   float64 `yaml:"horizon"`
	MaxAdjust float64 `yaml:"max_adjust"`
}

type LoadConfig struct {
	TargetPower float64 `yaml:"target_power"`
	Kp          float64 `yaml:"kp"`
	Ki          float64 `yaml:"ki"`
	Kd          float64 `yaml:"kd"`
	Band        float64 `yaml:"band"`
	MaxRate     float64 `yaml:"max_rate"`
	SpeedGuard  float64 `yaml:"speed_guard"`
}

type GridStabilityConfig struct {
	FrequencyBand float64 `yaml:"frequency_band"`
	VoltageBand   float64 `yaml:"voltage_band"`
	Droop         float64 `yaml:"droop"`
	ReactiveGain  float64 `yaml:"reactive_gain"`
}

type FaultConfig struct {
	TrendHorizon      float64 `yaml:"trend_horizon"`
	OutlierWindow     int     `yaml:"outlier_window"`
	OutlierSigma      float64 `yaml:"outlier_sigma"`
	ResidualTolerance float64 `yaml:"residual_tolerance"`
}

type TransientConfig struct {
	Startup       StartupConfig         `yaml:"startup"`
	Emergency     EmergencyConfig       `yaml:"emergency"`
	Grid          GridDisturbanceConfig `yaml:"grid"`
	ShutdownSpeed float64               `yaml:"shutdown_speed"`
}

type StartupConfig struct {
	InitDuration        float64       `yaml:"init_duration"`
	PrimeCount          int           `yaml:"prime_count"`
	FirstInjectionSpeed float64       `yaml:"first_injection_speed"`
	SyncSpeed           float64       `yaml:"sync_speed"`
	Timeouts            PhaseTimeouts `yaml:"timeouts"`
}

type PhaseTimeouts struct {
	Initialization  float64 `yaml:"initialization"`
	FirstInjection  float64 `yaml:"first_injection"`
	Acceleration    float64 `yaml:"acceleration"`
	Synchronization float64 `yaml:"synchronization"`
}

type EmergencyConfig struct {
	Overspeed       float64 `yaml:"overspeed"`
	Overpressure    float64 `yaml:"overpressure"`
	Overtemperature float64 `yaml:"overtemperature"`
}

type GridDisturbanceConfig struct {
	RideThroughVoltage float64 `yaml:"ride_through_voltage"`
	DisconnectVoltage  float64 `yaml:"disconnect_voltage"`
	OverVoltage        float64 `yaml:"over_voltage"`
	RideThroughTime    float64 `yaml:"ride_through_time"`
	UnderFrequency     float64 `yaml:"under_frequency"`
	OverFrequency      float64 `yaml:"over_frequency"`
	TripLowFrequency   float64 `yaml:"trip_low_frequency"`
	TripHighFrequency  float64 `yaml:"trip_high_frequency"`
	ShedFraction       float64 `yaml:"shed_fraction"`
	ReconnectDelay     float64 `yaml:"reconnect_delay"`
}

// Default returns the reference plant: twenty 0.4 m³ floaters in a 10 m tank
// driving a 20 kW generator through a 64:1 gearbox.
func Default() Config {
	return Config{
		Physics: PhysicsConfig{
			TimeStep:            DefaultDt,
			RhoWater:            DefaultRhoWater,
			Gravity:             DefaultGravity,
			ChainMass:           500,
			TankDepth:           DefaultTankDepth,
			SurfaceClearance:    0,
			AtmosphericPressure: DefaultAtmosphere,
		},
		Validation: ValidationConfig{
			EnergyTolerance:    0.01,
			ForceTolerance:     1e-6,
			StabilityThreshold: 1e6,
		},
		Floaters: FloaterConfig{
			Count:              DefaultFloaters,
			Volume:             0.4,
			ContainerMass:      20,
			Area:               0.5,
			DragCoeff:          0.8,
			MaxPressure:        3.0e5,
			MaxErrors:          5,
			AmbientTemperature: DefaultAmbient,
		},
		Pneumatics: PneumaticsConfig{
			BottomZoneAngle:       0.25,
			TopZoneAngle:          0.25,
			FillRate:              2.0,
			VentRate:              2.0,
			CompressionEfficiency: 0.85,
			VentRecovery:          0.2,
			SupplyPressure:        4.0e5,
			CompressionHeating:    15,
		},
		Drivetrain: DrivetrainConfig{
			SprocketRadius:     0.5,
			SprocketEfficiency: 0.98,
			Stages: []StageConfig{
				{Ratio: 4, Efficiency: 0.98, MaxTorque: 15000},
				{Ratio: 4, Efficiency: 0.98, MaxTorque: 4000},
				{Ratio: 4, Efficiency: 0.98, MaxTorque: 1000},
			},
			Clutch: ClutchConfig{
				EngageThreshold:    0.5,
				DisengageThreshold: -0.2,
				LockBand:           0.05,
				TorqueCapacity:     600,
			},
			Flywheel: FlywheelConfig{
				Inertia:  0.5,
				MaxSpeed: DefaultMaxSpeed,
			},
		},
		Losses: LossConfig{
			Bearing:         BearingConfig{Base: 0.5, LoadCoeff: 0.002, TempCoeff: 0.004, RefTemp: 40},
			MeshLightLoad:   0.03,
			Seal:            SealConfig{Coeff: 0.2, SpeedCoeff: 0.002},
			Windage:         WindageConfig{Coeff: 1e-5, OnsetSpeed: 100},
			ClutchSlipCoeff: 0.01,
			ChainFriction:   50,
			Copper:          CopperConfig{Resistance: 0.05, TempCoeff: 0.00393},
			Iron:            IronConfig{Hysteresis: 2.0, Eddy: 0.02},
			Switching:       SwitchingConfig{Energy: 0.002, Frequency: 10000},
		},
		Thermal: ThermalConfig{
			Ambient: DefaultAmbient,
			Components: map[string]ComponentThermal{
				Sprocket:         {Capacitance: 20000, Dissipation: 50, DerateStart: 80, Max: 120, MinMultiplier: 0.8},
				Gearbox:          {Capacitance: 40000, Dissipation: 80, DerateStart: 80, Max: 120, MinMultiplier: 0.8},
				Clutch:           {Capacitance: 5000, Dissipation: 20, DerateStart: 90, Max: 140, MinMultiplier: 0.8},
				Flywheel:         {Capacitance: 30000, Dissipation: 60, DerateStart: 80, Max: 120, MinMultiplier: 0.8},
				Generator:        {Capacitance: 50000, Dissipation: 100, DerateStart: 90, Max: 130, MinMultiplier: 0.8},
				PowerElectronics: {Capacitance: 8000, Dissipation: 40, DerateStart: 70, Max: 100, MinMultiplier: 0.8},
			},
		},
		Electrical: ElectricalConfig{
			Generator: GeneratorConfig{
				RatedPower:          20000,
				RatedSpeed:          188.5,
				PolePairs:           2,
				PeakEfficiency:      0.94,
				EfficiencyCurvature: 0.2,
				VoltagePerRadS:      1.5,
				KneeSpeed:           60,
			},
			PowerElectronics: PowerElectronicsConfig{
				Efficiency:   0.91,
				MaxVoltage:   750,
				MaxFrequency: 150,
				MaxCurrent:   60,
			},
			Grid: GridConfig{
				NominalVoltage:     480,
				NominalFrequency:   60,
				TimeConstant:       0.5,
				VoltageTolerance:   0.02,
				FrequencyTolerance: 0.05,
				SyncHold:           0.5,
			},
		},
		Control: ControlConfig{
			Timing: TimingConfig{Horizon: 2.0, MaxAdjust: 0.2},
			Load: LoadConfig{
				TargetPower: DefaultTargetPower,
				Kp:          2e-5,
				Ki:          1e-5,
				Kd:          0,
				Band:        200,
				MaxRate:     0.2,
				SpeedGuard:  0.9,
			},
			GridStability: GridStabilityConfig{
				FrequencyBand: 0.2,
				VoltageBand:   0.05,
				Droop:         0.05,
				ReactiveGain:  0.5,
			},
			Faults: FaultConfig{
				TrendHorizon:      2.0,
				OutlierWindow:     200,
				OutlierSigma:      6,
				ResidualTolerance: 0.15,
			},
		},
		Transient: TransientConfig{
			Startup: StartupConfig{
				InitDuration:        1.0,
				PrimeCount:          5,
				FirstInjectionSpeed: 0.2,
				SyncSpeed:           120,
				Timeouts: PhaseTimeouts{
					Initialization:  10,
					FirstInjection:  30,
					Acceleration:    180,
					Synchronization: 30,
				},
			},
			Emergency: EmergencyConfig{
				Overspeed:       DefaultMaxSpeed,
				Overpressure:    3.0e5,
				Overtemperature: 130,
			},
			Grid: GridDisturbanceConfig{
				RideThroughVoltage: 0.85,
				DisconnectVoltage:  0.5,
				OverVoltage:        1.15,
				RideThroughTime:    0.5,
				UnderFrequency:     59.5,
				OverFrequency:      60.5,
				TripLowFrequency:   57.0,
				TripHighFrequency:  62.0,
				ShedFraction:       0.5,
				ReconnectDelay:     2.0,
			},
			ShutdownSpeed: 0.05,
		},
	}
}

// Lossless returns Default with every loss coefficient zeroed and every
// efficiency set to one. Used for energy audits.
func Lossless() Config {
	c := Default()
	c.Floaters.DragCoeff = 0
	c.Pneumatics.CompressionEfficiency = 1
	c.Pneumatics.VentRecovery = 1
	c.Drivetrain.SprocketEfficiency = 1
	for i := range c.Drivetrain.Stages {
		c.Drivetrain.Stages[i].Efficiency = 1
	}
	c.Losses = LossConfig{}
	c.Electrical.Generator.PeakEfficiency = 1
	c.Electrical.Generator.EfficiencyCurvature = 0
	c.Electrical.PowerElectronics.Efficiency = 1
	return c
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	out := c
	out.Drivetrain.Stages = append([]StageConfig(nil), c.Drivetrain.Stages...)
	out.Thermal.Components = make(map[string]ComponentThermal, len(c.Thermal.Components))
	for k, v := range c.Thermal.Components {
		out.Thermal.Components[k] = v
	}
	return out
}

// OverallRatio is the product of the gearbox stage ratios.
func (d DrivetrainConfig) OverallRatio() float64 {
	g := 1.0
	for _, s := range d.Stages {
		g *= s.Ratio
	}
	return g
}

// Load reads a YAML file over the defaults. Fields absent from the file keep
// their default values.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
