package flightctl

import (
	"fmt"
	"strings"
)

// FlightMode is an ArduCopter custom mode number as carried in HEARTBEAT.custom_mode.
type FlightMode uint32

const (
	STABILIZE FlightMode = 0
	ACRO      FlightMode = 1
	ALT_HOLD  FlightMode = 2
	AUTO      FlightMode = 3
	GUIDED    FlightMode = 4
	LOITER    FlightMode = 5
	RTL       FlightMode = 6
	CIRCLE    FlightMode = 7
	LAND      FlightMode = 9
	DRIFT     FlightMode = 11
	SPORT     FlightMode = 13
	FLIP      FlightMode = 14
	AUTOTUNE  FlightMode = 15
	POSHOLD   FlightMode = 16
	BRAKE     FlightMode = 17
)

var arduModeNames = map[FlightMode]string{
	STABILIZE: "STABILIZE",
	ACRO:      "ACRO",
	ALT_HOLD:  "ALT_HOLD",
	AUTO:      "AUTO",
	GUIDED:    "GUIDED",
	LOITER:    "LOITER",
	RTL:       "RTL",
	CIRCLE:    "CIRCLE",
	LAND:      "LAND",
	DRIFT:     "DRIFT",
	SPORT:     "SPORT",
	FLIP:      "FLIP",
	AUTOTUNE:  "AUTOTUNE",
	POSHOLD:   "POSHOLD",
	BRAKE:     "BRAKE",
}

func (m FlightMode) float32() float32 {
	return float32(m)
}

func (m FlightMode) String() string {
	if name, ok := arduModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("FlightMode(%d)", uint32(m))
}

// ParseFlightMode looks up an ArduCopter mode by name, case-insensitively.
func ParseFlightMode(name string) (FlightMode, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for mode, n := range arduModeNames {
		if n == name {
			return mode, true
		}
	}
	return 0, false
}

// PX4MainMode is the PX4 main mode sent as DO_SET_MODE param2. In HEARTBEAT it appears
// shifted into the second byte of custom_mode.
type PX4MainMode uint8

const (
	PX4_MANUAL     PX4MainMode = 1
	PX4_ALTCTL     PX4MainMode = 2
	PX4_POSCTL     PX4MainMode = 3
	PX4_AUTO       PX4MainMode = 4
	PX4_ACRO       PX4MainMode = 5
	PX4_OFFBOARD   PX4MainMode = 6
	PX4_STABILIZED PX4MainMode = 7
)

var px4ModeNames = map[PX4MainMode]string{
	PX4_MANUAL:     "MANUAL",
	PX4_ALTCTL:     "ALTCTL",
	PX4_POSCTL:     "POSCTL",
	PX4_AUTO:       "AUTO",
	PX4_ACRO:       "ACRO",
	PX4_OFFBOARD:   "OFFBOARD",
	PX4_STABILIZED: "STABILIZED",
}

func (m PX4MainMode) String() string {
	if name, ok := px4ModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("PX4MainMode(%d)", uint8(m))
}

// CustomMode is the HEARTBEAT custom_mode value for this main mode.
func (m PX4MainMode) CustomMode() uint32 {
	return uint32(m) << 16
}

// ParsePX4MainMode looks up a PX4 main mode by name, case-insensitively.
func ParsePX4MainMode(name string) (PX4MainMode, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for mode, n := range px4ModeNames {
		if n == name {
			return mode, true
		}
	}
	return 0, false
}
