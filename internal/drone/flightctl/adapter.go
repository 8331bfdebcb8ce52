// Package flightctl hides the differences between autopilot firmware families behind one
// Adapter interface. ArduPilot is driven with single setpoints and GUIDED mode; PX4 needs a
// continuous setpoint stream before it accepts OFFBOARD.
package flightctl

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/pkg/errors"

	flcommon "FlightLink/internal/common"
	"FlightLink/internal/config"
	ferrors "FlightLink/internal/errors"
	"FlightLink/internal/logging"
	"FlightLink/internal/mavconn"
)

// Firmware identifies the autopilot family of a vehicle.
type Firmware int

const (
	ArduPilotFirmware Firmware = iota
	PX4Firmware
)

func (f Firmware) String() string {
	switch f {
	case ArduPilotFirmware:
		return "ardupilot"
	case PX4Firmware:
		return "px4"
	default:
		return fmt.Sprintf("Firmware(%d)", int(f))
	}
}

// ParseFirmware accepts the names config.FirmwareName accepts, in any case.
func ParseFirmware(name string) (Firmware, error) {
	canonical, _ := config.FirmwareName(name)
	switch canonical {
	case "ardupilot":
		return ArduPilotFirmware, nil
	case "px4":
		return PX4Firmware, nil
	default:
		return 0, errors.Errorf("unknown firmware %q", name)
	}
}

// Adapter is the per-firmware command surface. Positions are local NED metres, yaw is
// degrees. Boolean results mean the vehicle confirmed the request.
type Adapter interface {
	Kind() Firmware
	Initialize(ctx context.Context, conn *mavconn.Conn) error
	SetAPIMode(ctx context.Context) bool
	SetMode(ctx context.Context, name string) bool
	Arm(ctx context.Context) bool
	Disarm(ctx context.Context) bool
	Takeoff(ctx context.Context, nedZ float64) bool
	Land(ctx context.Context) bool
	SetSpeed(ctx context.Context, mps float64) bool
	GoToLocalPosition(ctx context.Context, x, y, z, yawDeg float64) error
	StopMovement()
}

// New builds the adapter for firmware using the matching config section.
func New(firmware Firmware, cfg *config.Config, clk clock.Clock, logger logging.Logger) (Adapter, error) {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = logging.NewLogger("flightctl")
	}
	b := base{
		clock:      clk,
		logger:     logger,
		ackTimeout: cfg.Timeouts.Ack.D(),
	}
	switch firmware {
	case ArduPilotFirmware:
		b.logger = logger.Named("ardupilot")
		return newArduPilot(b, cfg.ArduPilot), nil
	case PX4Firmware:
		b.logger = logger.Named("px4")
		return newPX4(b, cfg.PX4), nil
	default:
		return nil, errors.Wrapf(ferrors.ErrUnimplemented, "firmware %s", firmware)
	}
}

// typeMaskPositionYaw keeps x, y, z and yaw and ignores velocity, acceleration and yaw rate.
const typeMaskPositionYaw = common.POSITION_TARGET_TYPEMASK(0x09F8)

// base carries what both adapters share: the link, the clock and the command helpers.
type base struct {
	conn            *mavconn.Conn
	clock           clock.Clock
	logger          logging.Logger
	ackTimeout      time.Duration
	targetComponent uint8
}

func (b *base) attach(conn *mavconn.Conn, targetComponent uint8) error {
	if conn == nil {
		return errors.New("nil connection")
	}
	b.conn = conn
	b.targetComponent = targetComponent
	return nil
}

func (b *base) commandLong(cmd common.MAV_CMD, params ...float32) *common.MessageCommandLong {
	var p [7]float32
	copy(p[:], params)
	return &common.MessageCommandLong{
		TargetSystem:    b.conn.SystemID(),
		TargetComponent: b.targetComponent,
		Command:         cmd,
		Param1:          p[0],
		Param2:          p[1],
		Param3:          p[2],
		Param4:          p[3],
		Param5:          p[4],
		Param6:          p[5],
		Param7:          p[6],
	}
}

// command sends a COMMAND_LONG and waits for its ack.
func (b *base) command(ctx context.Context, timeout time.Duration, cmd common.MAV_CMD, params ...float32) mavconn.AckResult {
	if b.conn == nil {
		return mavconn.AckResult{Status: mavconn.AckTimedOut}
	}
	return mavconn.Command(ctx, b.conn, b.commandLong(cmd, params...), timeout)
}

// send writes a COMMAND_LONG without waiting for the ack.
func (b *base) send(cmd common.MAV_CMD, params ...float32) error {
	if b.conn == nil {
		return errors.New("adapter not initialized")
	}
	return b.conn.Send(b.commandLong(cmd, params...))
}

func (b *base) setpoint(x, y, z, yawDeg float64) *common.MessageSetPositionTargetLocalNed {
	return &common.MessageSetPositionTargetLocalNed{
		TimeBootMs:      0,
		TargetSystem:    b.conn.SystemID(),
		TargetComponent: b.targetComponent,
		CoordinateFrame: common.MAV_FRAME_LOCAL_NED,
		TypeMask:        typeMaskPositionYaw,
		X:               float32(x),
		Y:               float32(y),
		Z:               float32(z),
		Yaw:             float32(flcommon.DegreesToRadians(yawDeg)),
	}
}

// sleep waits d on the adapter clock. It returns false if ctx ends first.
func (b *base) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := b.clock.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// SetSpeed asks for a new ground speed with DO_CHANGE_SPEED. A negative or zero speed is a no-op.
func (b *base) SetSpeed(ctx context.Context, mps float64) bool {
	if mps <= 0 {
		return true
	}
	res := b.command(ctx, b.ackTimeout, common.MAV_CMD_DO_CHANGE_SPEED, 1, float32(mps), -1)
	if !res.Accepted() {
		b.logger.Warnf("speed change to %.1f m/s not confirmed: %s", mps, res)
		return false
	}
	return true
}

// armedHeartbeat reports whether a fresh autopilot heartbeat carries the SAFETY_ARMED flag.
func (b *base) armedHeartbeat(ctx context.Context, timeout time.Duration) bool {
	hb, ok := mavconn.WaitHeartbeat(ctx, b.conn, nil, timeout)
	if !ok {
		return false
	}
	return hb.BaseMode&common.MAV_MODE_FLAG_SAFETY_ARMED != 0
}
