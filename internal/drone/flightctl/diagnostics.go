package flightctl

import (
	"context"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"FlightLink/internal/logging"
	"FlightLink/internal/mavconn"
)

// ArmingStatus is a snapshot of the status messages that explain a refused arm.
type ArmingStatus struct {
	SysStatus *common.MessageSysStatus
	Vibration *common.MessageVibration
	GPS       *common.MessageGpsRawInt
}

// Unhealthy returns the sensors that are present and enabled but not reported healthy.
func (s ArmingStatus) Unhealthy() common.MAV_SYS_STATUS_SENSOR {
	if s.SysStatus == nil {
		return 0
	}
	st := s.SysStatus
	return st.OnboardControlSensorsPresent & st.OnboardControlSensorsEnabled &^ st.OnboardControlSensorsHealth
}

// ReadArmingStatus collects the most recent status messages seen on conn.
func ReadArmingStatus(conn *mavconn.Conn) ArmingStatus {
	var status ArmingStatus
	if m, _, ok := mavconn.Latest[*common.MessageSysStatus](conn); ok {
		status.SysStatus = m
	}
	if m, _, ok := mavconn.Latest[*common.MessageVibration](conn); ok {
		status.Vibration = m
	}
	if m, _, ok := mavconn.Latest[*common.MessageGpsRawInt](conn); ok {
		status.GPS = m
	}
	return status
}

func LogArmingStatus(logger logging.Logger, s ArmingStatus) {
	if s.SysStatus != nil {
		logger.Infow("system status",
			"unhealthy", s.Unhealthy().String(),
			"battery_mv", s.SysStatus.VoltageBattery,
			"battery_pct", s.SysStatus.BatteryRemaining,
		)
	}
	if s.Vibration != nil {
		logger.Infow("vibration",
			"x", s.Vibration.VibrationX,
			"y", s.Vibration.VibrationY,
			"z", s.Vibration.VibrationZ,
		)
	}
	if s.GPS != nil {
		logger.Infow("gps", "fix", s.GPS.FixType.String(), "sats", s.GPS.SatellitesVisible)
	}
}

// PumpStatusText logs and returns every STATUSTEXT received within d.
func PumpStatusText(ctx context.Context, conn *mavconn.Conn, logger logging.Logger, d time.Duration) []string {
	var lines []string
	sub := conn.Subscribe()
	defer sub.Close()
	sub.Wait(ctx, func(in mavconn.Inbound) bool {
		if st, ok := in.Message.(*common.MessageStatustext); ok {
			logger.Infof("[STATUSTEXT] %s: %s", st.Severity, st.Text)
			lines = append(lines, st.Text)
		}
		return false
	}, d)
	return lines
}

// armingParameters are read back after a failed arm to show what the firmware enforces.
var armingParameters = []string{"ARMING_CHECK", "GPS_TYPE", "EK3_ENABLE"}

// CheckArmingParameters reads the parameters that most often block arming in SITL.
// Parameters that do not answer are left out of the result.
func (a *ArduPilot) CheckArmingParameters(ctx context.Context) map[string]float32 {
	values := map[string]float32{}
	if a.conn == nil {
		return values
	}
	for _, name := range armingParameters {
		pv, ok, err := mavconn.Request(ctx, a.conn, &common.MessageParamRequestRead{
			TargetSystem:    a.conn.SystemID(),
			TargetComponent: a.targetComponent,
			ParamId:         name,
			ParamIndex:      -1,
		}, func(m *common.MessageParamValue) bool {
			return m.ParamId == name
		}, a.cfg.ParamTimeout.D())
		if err != nil || !ok {
			a.logger.Warnf("no value for %s", name)
			continue
		}
		values[name] = pv.ParamValue
		a.logger.Infof("%s = %v", name, pv.ParamValue)
	}
	return values
}
