// Package config holds the FlightLink configuration: logging, link identity, per-vehicle
// connection strings, firmware tuning and convergence tolerances. Configuration is loaded
// from a JSON file; ${VAR} references are expanded from the environment before parsing.
package config

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Config is the complete FlightLink configuration.
type Config struct {
	Logging     LoggingConfig     `json:"logging"`
	Link        LinkConfig        `json:"link"`
	Vehicles    []VehicleConfig   `json:"vehicles"`
	ArduPilot   ArduPilotConfig   `json:"ardupilot"`
	PX4         PX4Config         `json:"px4"`
	Convergence ConvergenceConfig `json:"convergence"`
	Timeouts    TimeoutConfig     `json:"timeouts"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error (default: info)
	Level string `json:"level"`

	// Encoding is "console" or "json" (default: console)
	Encoding string `json:"encoding"`
}

// LinkConfig describes how this ground station identifies itself on the MAVLink network.
type LinkConfig struct {
	// SourceSystem is our MAVLink system id (default: 255, a GCS)
	SourceSystem uint8 `json:"source_system"`

	// SourceComponent is our MAVLink component id (default: 190, MAV_COMP_ID_MISSIONPLANNER)
	SourceComponent uint8 `json:"source_component"`

	// MavlinkV1 forces MAVLink v1 framing on outgoing messages
	MavlinkV1 bool `json:"mavlink_v1"`

	// ConnectTimeout bounds the wait for the first valid heartbeat (default: 10s)
	ConnectTimeout Duration `json:"connect_timeout"`
}

// VehicleConfig registers one vehicle.
type VehicleConfig struct {
	// Name identifies the vehicle in API calls
	Name string `json:"name"`

	// Connection is a connection string such as "udp:127.0.0.1:14550"
	Connection string `json:"connection"`

	// Firmware is "ardupilot" (or "apm", "arducopter") or "px4"
	Firmware string `json:"firmware"`
}

// ParamConfig is one parameter pushed to ArduPilot at initialization.
type ParamConfig struct {
	Name  string  `json:"name"`
	Value float32 `json:"value"`

	// Type is int8, int32 or real32 (default: int32)
	Type string `json:"type"`
}

// GPSConfig sets the fix thresholds used before arming.
type GPSConfig struct {
	// MinFixType is the GPS_FIX_TYPE required for a full pass (default: 2, 2D fix)
	MinFixType uint8 `json:"min_fix_type"`

	// MinSatellites required for a full pass (default: 4)
	MinSatellites uint8 `json:"min_satellites"`

	// DegradedFixType and DegradedSatellites are accepted once Wait has elapsed
	DegradedFixType    uint8 `json:"degraded_fix_type"`
	DegradedSatellites uint8 `json:"degraded_satellites"`

	// Wait bounds the strict wait (default: 45s)
	Wait Duration `json:"wait"`

	// DegradedWait bounds the follow-up wait with degraded thresholds (default: 5s)
	DegradedWait Duration `json:"degraded_wait"`
}

// ArduPilotConfig tunes the ArduPilot adapter.
type ArduPilotConfig struct {
	// Params are pushed one by one at initialization; timeouts are logged, not fatal
	Params []ParamConfig `json:"params"`

	// ParamTimeout bounds each PARAM_VALUE echo (default: 3s)
	ParamTimeout Duration `json:"param_timeout"`

	// ParamSettle is slept after the parameter batch (default: 2s)
	ParamSettle Duration `json:"param_settle"`

	GPS GPSConfig `json:"gps"`

	// OriginWait bounds the HOME_POSITION / GPS_GLOBAL_ORIGIN wait (default: 30s)
	OriginWait Duration `json:"origin_wait"`

	// HomeRequestInterval is how often GET_HOME_POSITION is re-sent while waiting (default: 3s)
	HomeRequestInterval Duration `json:"home_request_interval"`

	// ModeConfirmTimeout bounds the heartbeat custom_mode confirmation (default: 8s)
	ModeConfirmTimeout Duration `json:"mode_confirm_timeout"`

	// ModeSettle is slept after switching to STABILIZE (default: 2s)
	ModeSettle Duration `json:"mode_settle"`

	// ArmAckTimeout bounds each rung's COMMAND_ACK wait (default: 5s)
	ArmAckTimeout Duration `json:"arm_ack_timeout"`

	// ArmSettle is slept after each rung before the heartbeat check (default: 2s)
	ArmSettle Duration `json:"arm_settle"`

	// ArmedCheckTimeout bounds the heartbeat read for the armed flag (default: 2s)
	ArmedCheckTimeout Duration `json:"armed_check_timeout"`
}

// PX4Config tunes the PX4 adapter.
type PX4Config struct {
	// TargetComponent of the autopilot (default: 1)
	TargetComponent uint8 `json:"target_component"`

	// SettleDelay is slept at initialization (default: 1s)
	SettleDelay Duration `json:"settle_delay"`

	// PreOffboardDelay lets setpoints flow before OFFBOARD is requested (default: 500ms)
	PreOffboardDelay Duration `json:"pre_offboard_delay"`

	// SetpointRateHz is the streaming rate (default: 10)
	SetpointRateHz float64 `json:"setpoint_rate_hz"`

	// StopTimeout bounds the join of the streaming goroutine (default: 1s)
	StopTimeout Duration `json:"stop_timeout"`
}

// ConvergenceConfig sets the arrival tolerances.
type ConvergenceConfig struct {
	// PositionTolerance in metres (default: 0.3)
	PositionTolerance float64 `json:"position_tolerance"`

	// PositionHysteresis is added to PositionTolerance to form the outer band (default: 0.2)
	PositionHysteresis float64 `json:"position_hysteresis"`

	// YawTolerance in degrees (default: 5)
	YawTolerance float64 `json:"yaw_tolerance"`

	// YawHysteresis in degrees (default: 5)
	YawHysteresis float64 `json:"yaw_hysteresis"`

	// VelocityTolerance in m/s (default: 0.2)
	VelocityTolerance float64 `json:"velocity_tolerance"`

	// VelocityHysteresis in m/s (default: 0.2)
	VelocityHysteresis float64 `json:"velocity_hysteresis"`

	// Dwell must hold continuously before arrival is declared (default: 1s)
	Dwell Duration `json:"dwell"`

	// PollPeriod between pose reads (default: 100ms)
	PollPeriod Duration `json:"poll_period"`

	// VelocityWindow is the number of samples for the velocity estimate (default: 6)
	VelocityWindow int `json:"velocity_window"`

	// LandedTicks is the run of consecutive good ticks needed to declare landed (default: 5)
	LandedTicks int `json:"landed_ticks"`

	// LandedHeight is the relative altitude / range below which the vehicle counts as down (default: 0.15)
	LandedHeight float64 `json:"landed_height"`
}

// TimeoutConfig holds per-operation deadlines.
type TimeoutConfig struct {
	// Ack is the default COMMAND_ACK wait (default: 5s)
	Ack Duration `json:"ack"`

	// Pose bounds a single pose read (default: 1s)
	Pose Duration `json:"pose"`

	// StatusText is how long STATUSTEXT lines are drained and logged after connecting (default: 3s)
	StatusText Duration `json:"status_text"`

	// Takeoff, Move and Land are the default convergence deadlines
	Takeoff Duration `json:"takeoff"`
	Move    Duration `json:"move"`
	Land    Duration `json:"land"`
}

// Default returns a configuration suitable for ArduPilot/PX4 SITL.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Encoding: "console"},
		Link: LinkConfig{
			SourceSystem:    255,
			SourceComponent: 190,
			ConnectTimeout:  Duration(10 * time.Second),
		},
		ArduPilot: ArduPilotConfig{
			Params: []ParamConfig{
				{Name: "ARMING_CHECK", Value: 0, Type: "int32"},
				{Name: "SIM_SPEEDUP", Value: 1, Type: "real32"},
				{Name: "SCHED_LOOP_RATE", Value: 50, Type: "int32"},
				{Name: "GPS_TYPE", Value: 1, Type: "int8"},
				{Name: "EK2_ENABLE", Value: 0, Type: "int8"},
				{Name: "EK3_ENABLE", Value: 1, Type: "int8"},
				{Name: "AHRS_EKF_TYPE", Value: 3, Type: "int8"},
				{Name: "BATT_MONITOR", Value: 4, Type: "int8"},
				{Name: "FS_BATT_ENABLE", Value: 0, Type: "int8"},
			},
			ParamTimeout: Duration(3 * time.Second),
			ParamSettle:  Duration(2 * time.Second),
			GPS: GPSConfig{
				MinFixType:         2,
				MinSatellites:      4,
				DegradedFixType:    2,
				DegradedSatellites: 1,
				Wait:               Duration(45 * time.Second),
				DegradedWait:       Duration(5 * time.Second),
			},
			OriginWait:          Duration(30 * time.Second),
			HomeRequestInterval: Duration(3 * time.Second),
			ModeConfirmTimeout:  Duration(8 * time.Second),
			ModeSettle:          Duration(2 * time.Second),
			ArmAckTimeout:       Duration(5 * time.Second),
			ArmSettle:           Duration(2 * time.Second),
			ArmedCheckTimeout:   Duration(2 * time.Second),
		},
		PX4: PX4Config{
			TargetComponent:  1,
			SettleDelay:      Duration(time.Second),
			PreOffboardDelay: Duration(500 * time.Millisecond),
			SetpointRateHz:   10,
			StopTimeout:      Duration(time.Second),
		},
		Convergence: ConvergenceConfig{
			PositionTolerance:  0.3,
			PositionHysteresis: 0.2,
			YawTolerance:       5,
			YawHysteresis:      5,
			VelocityTolerance:  0.2,
			VelocityHysteresis: 0.2,
			Dwell:              Duration(time.Second),
			PollPeriod:         Duration(100 * time.Millisecond),
			VelocityWindow:     6,
			LandedTicks:        5,
			LandedHeight:       0.15,
		},
		Timeouts: TimeoutConfig{
			Ack:        Duration(5 * time.Second),
			Pose:       Duration(time.Second),
			StatusText: Duration(3 * time.Second),
			Takeoff:    Duration(60 * time.Second),
			Move:       Duration(60 * time.Second),
			Land:       Duration(90 * time.Second),
		},
	}
}

// Load reads a JSON config file on top of Default, expanding ${VAR} references first.
func Load(path string) (*Config, error) {
	buf, err := envsubst.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %q", path)
	}
	return Parse(buf)
}

// Parse decodes JSON on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FirmwareName maps a configured firmware name or alias to "ardupilot" or "px4".
func FirmwareName(name string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ardupilot", "apm", "arducopter":
		return "ardupilot", true
	case "px4":
		return "px4", true
	default:
		return "", false
	}
}

// Validate checks the configuration for values the flight code cannot work with. Every
// problem found is reported.
func (c *Config) Validate() error {
	var errs error
	add := func(format string, args ...interface{}) {
		errs = multierr.Append(errs, errors.Errorf(format, args...))
	}

	seen := map[string]bool{}
	for i, v := range c.Vehicles {
		if v.Name == "" {
			add("vehicles[%d]: name is required", i)
		} else if seen[v.Name] {
			add("vehicles[%d]: duplicate vehicle name %q", i, v.Name)
		}
		seen[v.Name] = true
		if v.Connection == "" {
			add("vehicles[%d]: connection is required", i)
		}
		if _, ok := FirmwareName(v.Firmware); !ok {
			add("vehicles[%d]: firmware must be ardupilot or px4, got %q", i, v.Firmware)
		}
	}
	for i, p := range c.ArduPilot.Params {
		if p.Name == "" || len(p.Name) > 16 {
			add("ardupilot.params[%d]: name must be 1-16 characters", i)
		}
		switch p.Type {
		case "", "int8", "int32", "real32":
		default:
			add("ardupilot.params[%d]: unsupported type %q", i, p.Type)
		}
	}
	if c.PX4.SetpointRateHz <= 0 {
		add("px4.setpoint_rate_hz must be positive")
	}
	cv := c.Convergence
	if cv.PositionTolerance <= 0 || cv.YawTolerance <= 0 || cv.VelocityTolerance <= 0 {
		add("convergence tolerances must be positive")
	}
	if cv.PositionHysteresis < 0 || cv.YawHysteresis < 0 || cv.VelocityHysteresis < 0 {
		add("convergence hysteresis must not be negative")
	}
	if cv.PollPeriod <= 0 {
		add("convergence.poll_period must be positive")
	}
	if cv.VelocityWindow < 2 {
		add("convergence.velocity_window must be at least 2")
	}
	if cv.LandedTicks < 1 {
		add("convergence.landed_ticks must be at least 1")
	}
	if c.Link.ConnectTimeout <= 0 {
		add("link.connect_timeout must be positive")
	}
	return errs
}
