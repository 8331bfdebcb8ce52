package flightctl

import (
	"context"
	"strings"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"FlightLink/internal/config"
	ferrors "FlightLink/internal/errors"
	"FlightLink/internal/mavconn"
)

// forceArmMagic makes ArduPilot skip its pre-arm checks.
const forceArmMagic = 21196

// ArduPilot drives ArduCopter in GUIDED mode.
type ArduPilot struct {
	base
	cfg config.ArduPilotConfig
}

func newArduPilot(b base, cfg config.ArduPilotConfig) *ArduPilot {
	return &ArduPilot{base: b, cfg: cfg}
}

func (a *ArduPilot) Kind() Firmware { return ArduPilotFirmware }

// Initialize pushes the configured SITL parameters. A missing echo is logged and skipped.
func (a *ArduPilot) Initialize(ctx context.Context, conn *mavconn.Conn) error {
	if conn == nil {
		return errors.New("nil connection")
	}
	if err := a.attach(conn, conn.ComponentID()); err != nil {
		return err
	}
	a.logger.Info("setting parameters")
	for _, p := range a.cfg.Params {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.setParam(ctx, p)
	}
	if !a.sleep(ctx, a.cfg.ParamSettle.D()) {
		return ctx.Err()
	}
	return nil
}

func paramType(name string) common.MAV_PARAM_TYPE {
	switch name {
	case "int8":
		return common.MAV_PARAM_TYPE_INT8
	case "real32":
		return common.MAV_PARAM_TYPE_REAL32
	default:
		return common.MAV_PARAM_TYPE_INT32
	}
}

func (a *ArduPilot) setParam(ctx context.Context, p config.ParamConfig) bool {
	echo, ok, err := mavconn.Request(ctx, a.conn, &common.MessageParamSet{
		TargetSystem:    a.conn.SystemID(),
		TargetComponent: a.targetComponent,
		ParamId:         p.Name,
		ParamValue:      p.Value,
		ParamType:       paramType(p.Type),
	}, func(m *common.MessageParamValue) bool {
		return m.ParamId == p.Name
	}, a.cfg.ParamTimeout.D())
	if err != nil {
		a.logger.Warnf("failed to send %s: %v", p.Name, err)
		return false
	}
	if !ok {
		a.logger.Warnf("PARAM echo timeout: %s", p.Name)
		return false
	}
	a.logger.Infof("%s = %v", p.Name, echo.ParamValue)
	return true
}

// setFlightMode requests mode with DO_SET_MODE. ArduPilot confirms through the heartbeat,
// so the ack is not awaited here.
func (a *ArduPilot) setFlightMode(mode FlightMode) error {
	return a.send(common.MAV_CMD_DO_SET_MODE, float32(common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED), mode.float32())
}

func (a *ArduPilot) waitFlightMode(ctx context.Context, mode FlightMode, timeout time.Duration) bool {
	_, ok := mavconn.WaitHeartbeat(ctx, a.conn, func(hb *common.MessageHeartbeat) bool {
		return hb.CustomMode == uint32(mode)
	}, timeout)
	return ok
}

func (a *ArduPilot) changeMode(ctx context.Context, mode FlightMode) bool {
	if err := a.setFlightMode(mode); err != nil {
		a.logger.Warnf("failed to request %s: %v", mode, err)
		return false
	}
	if !a.waitFlightMode(ctx, mode, a.cfg.ModeConfirmTimeout.D()) {
		a.logger.Warnf("failed to set mode to %s", mode)
		return false
	}
	a.logger.Infof("mode set to %s", mode)
	return true
}

// SetAPIMode switches to GUIDED.
func (a *ArduPilot) SetAPIMode(ctx context.Context) bool {
	if a.conn == nil {
		return false
	}
	a.logger.Info("setting mode to GUIDED")
	return a.changeMode(ctx, GUIDED)
}

func (a *ArduPilot) SetMode(ctx context.Context, name string) bool {
	mode, ok := ParseFlightMode(name)
	if !ok || a.conn == nil {
		a.logger.Warnf("unknown ArduCopter mode %q", name)
		return false
	}
	return a.changeMode(ctx, mode)
}

// Arm runs the pre-flight waits, puts the vehicle in GUIDED and climbs the arm ladder.
// Pre-flight waits that give up only degrade the attempt; the ladder still runs.
func (a *ArduPilot) Arm(ctx context.Context) bool {
	if a.conn == nil {
		return false
	}
	if a.isArmed(ctx) {
		a.logger.Info("already armed")
		return true
	}

	a.logger.Info("pre-flight checks")
	LogArmingStatus(a.logger, ReadArmingStatus(a.conn))
	if err := a.waitGPSFix(ctx); err != nil {
		a.logger.Warnw("GPS not ready, continuing", "error", err)
	}
	if err := a.waitOrigin(ctx); err != nil {
		a.logger.Warnw("origin not confirmed, continuing", "error", err)
		a.setHomeManually(ctx)
	}
	if ctx.Err() != nil {
		return false
	}

	a.logger.Info("setting mode for arming")
	if err := a.setFlightMode(STABILIZE); err != nil {
		a.logger.Warnf("failed to request STABILIZE: %v", err)
	}
	if !a.sleep(ctx, a.cfg.ModeSettle.D()) {
		return false
	}
	if !a.SetAPIMode(ctx) {
		a.logger.Warn("GUIDED refused, falling back to LOITER")
		a.changeMode(ctx, LOITER)
	}

	if a.armLadder(ctx) {
		return true
	}
	a.logger.Error("arm failed after all attempts")
	a.CheckArmingParameters(ctx)
	return false
}

type armRung struct {
	name string
	send func(ctx context.Context)
}

func (a *ArduPilot) armRungs() []armRung {
	return []armRung{
		{
			name: "arm",
			send: func(ctx context.Context) {
				res := a.command(ctx, a.cfg.ArmAckTimeout.D(), common.MAV_CMD_COMPONENT_ARM_DISARM, 1)
				a.logger.Debugf("arm ack: %s", res)
			},
		},
		{
			name: "force arm",
			send: func(ctx context.Context) {
				res := a.command(ctx, a.cfg.ArmAckTimeout.D(), common.MAV_CMD_COMPONENT_ARM_DISARM, 1, forceArmMagic)
				a.logger.Debugf("force arm ack: %s", res)
			},
		},
		{
			name: "set_mode armed",
			send: func(context.Context) {
				if err := a.conn.Send(&common.MessageSetMode{
					TargetSystem: a.conn.SystemID(),
					BaseMode:     common.MAV_MODE(common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED | common.MAV_MODE_FLAG_SAFETY_ARMED),
					CustomMode:   uint32(GUIDED),
				}); err != nil {
					a.logger.Warnf("failed to send SET_MODE: %v", err)
				}
			},
		},
	}
}

// armLadder tries each arming method in turn and checks the heartbeat after each one.
// Acks are only logged: ArduPilot may accept a request and still refuse to arm, or arm
// without the ack making it back.
func (a *ArduPilot) armLadder(ctx context.Context) bool {
	for i, rung := range a.armRungs() {
		a.logger.Infof("ARM attempt %d: %s", i+1, rung.name)
		rung.send(ctx)
		if !a.sleep(ctx, a.cfg.ArmSettle.D()) {
			return false
		}
		if a.isArmed(ctx) {
			a.logger.Info("successfully ARMED")
			return true
		}
	}
	return false
}

func (a *ArduPilot) isArmed(ctx context.Context) bool {
	return a.armedHeartbeat(ctx, a.cfg.ArmedCheckTimeout.D())
}

func (a *ArduPilot) waitGPSFix(ctx context.Context) error {
	gps := a.cfg.GPS
	a.logger.Info("waiting for GPS fix")
	if last, _, ok := mavconn.Latest[*common.MessageGpsRawInt](a.conn); ok {
		a.logger.Infof("GPS status: fix=%d sats=%d", last.FixType, last.SatellitesVisible)
		if uint8(last.FixType) >= gps.MinFixType && last.SatellitesVisible >= gps.MinSatellites {
			return nil
		}
	}

	fixAtLeast := func(fix, sats uint8) func(*common.MessageGpsRawInt) bool {
		return func(m *common.MessageGpsRawInt) bool {
			return uint8(m.FixType) >= fix && m.SatellitesVisible >= sats
		}
	}
	if _, ok := mavconn.WaitFor(ctx, a.conn, fixAtLeast(gps.MinFixType, gps.MinSatellites), gps.Wait.D()); ok {
		return nil
	}
	if m, ok := mavconn.WaitFor(ctx, a.conn, fixAtLeast(gps.DegradedFixType, gps.DegradedSatellites), gps.DegradedWait.D()); ok {
		a.logger.Warnf("accepting degraded GPS: fix=%d sats=%d", m.FixType, m.SatellitesVisible)
		return nil
	}
	return errors.Wrap(ferrors.ErrPreconditionDegraded, "no GPS fix")
}

func isOriginMessage(msg message.Message) bool {
	switch m := msg.(type) {
	case *common.MessageHomePosition, *common.MessageGpsGlobalOrigin:
		return true
	case *common.MessageStatustext:
		return strings.Contains(strings.ToLower(m.Text), "origin set")
	}
	return false
}

// waitOrigin waits for HOME_POSITION, GPS_GLOBAL_ORIGIN or an "origin set" status line,
// re-requesting the home position at the configured interval.
func (a *ArduPilot) waitOrigin(ctx context.Context) error {
	a.logger.Info("waiting for HOME/origin")
	interval := a.cfg.HomeRequestInterval.D()
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	deadline := a.clock.Now().Add(a.cfg.OriginWait.D())

	sub := a.conn.Subscribe()
	defer sub.Close()
	for {
		now := a.clock.Now()
		remaining := deadline.Sub(now)
		if remaining <= 0 {
			return errors.Wrap(ferrors.ErrPreconditionDegraded, "origin not set")
		}
		if limiter.AllowN(now, 1) {
			if err := a.send(common.MAV_CMD_GET_HOME_POSITION); err != nil {
				a.logger.Debugf("failed to request home position: %v", err)
			}
		}
		if _, ok := sub.Wait(ctx, func(in mavconn.Inbound) bool {
			return isOriginMessage(in.Message)
		}, min(remaining, interval)); ok {
			a.logger.Info("origin confirmed")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (a *ArduPilot) setHomeManually(ctx context.Context) {
	a.logger.Info("trying to set HOME manually")
	res := a.command(ctx, a.ackTimeout, common.MAV_CMD_DO_SET_HOME, 1)
	if !res.Accepted() {
		a.logger.Warnf("DO_SET_HOME %s", res)
	}
}

func (a *ArduPilot) Disarm(ctx context.Context) bool {
	a.logger.Info("attempting to DISARM")
	res := a.command(ctx, a.ackTimeout, common.MAV_CMD_COMPONENT_ARM_DISARM, 0)
	return res.Accepted()
}

// Takeoff climbs to nedZ, given in the local NED frame (negative is up).
func (a *ArduPilot) Takeoff(ctx context.Context, nedZ float64) bool {
	a.logger.Infof("takeoff to %.2fm", -nedZ)
	res := a.command(ctx, a.ackTimeout, common.MAV_CMD_NAV_TAKEOFF, 0, 0, 0, 0, 0, 0, float32(-nedZ))
	if !res.Accepted() {
		a.logger.Warnf("takeoff %s", res)
	}
	return res.Accepted()
}

func (a *ArduPilot) Land(ctx context.Context) bool {
	a.logger.Info("landing")
	res := a.command(ctx, a.ackTimeout, common.MAV_CMD_NAV_LAND)
	return res.Accepted()
}

// GoToLocalPosition sends a single position target; ArduPilot holds it until replaced.
func (a *ArduPilot) GoToLocalPosition(_ context.Context, x, y, z, yawDeg float64) error {
	if a.conn == nil {
		return errors.New("adapter not initialized")
	}
	return a.conn.Send(a.setpoint(x, y, z, yawDeg))
}

func (a *ArduPilot) StopMovement() {}
