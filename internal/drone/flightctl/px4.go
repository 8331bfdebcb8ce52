package flightctl

import (
	"context"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/pkg/errors"

	"FlightLink/internal/config"
	"FlightLink/internal/mavconn"
)

// PX4 drives PX4 in OFFBOARD mode, which needs a steady stream of setpoints.
type PX4 struct {
	base
	cfg      config.PX4Config
	streamer *setpointStreamer
}

func newPX4(b base, cfg config.PX4Config) *PX4 {
	return &PX4{base: b, cfg: cfg}
}

func (p *PX4) Kind() Firmware { return PX4Firmware }

// Initialize binds the adapter to conn and lets the autopilot settle. The streamer is
// stopped automatically when conn closes.
func (p *PX4) Initialize(ctx context.Context, conn *mavconn.Conn) error {
	if err := p.attach(conn, p.cfg.TargetComponent); err != nil {
		return err
	}
	p.streamer = newSetpointStreamer(
		p.clock,
		p.logger,
		p.cfg.SetpointRateHz,
		p.cfg.StopTimeout.D(),
		func(sp Setpoint) message.Message { return p.setpoint(sp.X, sp.Y, sp.Z, sp.YawDeg) },
		conn.Send,
	)
	conn.OnClose(p.StopMovement)
	p.logger.Info("initialized")
	if !p.sleep(ctx, p.cfg.SettleDelay.D()) {
		return ctx.Err()
	}
	return nil
}

// holdTarget is the setpoint to stream before OFFBOARD is requested: the last target if
// there is one, otherwise the current local position.
func (p *PX4) holdTarget() Setpoint {
	if sp, ok := p.streamer.Target(); ok {
		return sp
	}
	if pos, _, ok := mavconn.Latest[*common.MessageLocalPositionNed](p.conn); ok {
		return Setpoint{X: float64(pos.X), Y: float64(pos.Y), Z: float64(pos.Z)}
	}
	return Setpoint{}
}

// SetAPIMode streams setpoints, then requests OFFBOARD. PX4 rejects OFFBOARD unless
// setpoints are already flowing.
func (p *PX4) SetAPIMode(ctx context.Context) bool {
	if p.streamer == nil {
		return false
	}
	p.logger.Info("setting mode to OFFBOARD")
	sp := p.holdTarget()
	if err := p.GoToLocalPosition(ctx, sp.X, sp.Y, sp.Z, sp.YawDeg); err != nil {
		p.logger.Warnf("failed to start setpoints: %v", err)
		return false
	}
	if !p.sleep(ctx, p.cfg.PreOffboardDelay.D()) {
		p.StopMovement()
		return false
	}
	if !p.setMainMode(ctx, PX4_OFFBOARD) {
		p.StopMovement()
		return false
	}
	return true
}

func (p *PX4) setMainMode(ctx context.Context, mode PX4MainMode) bool {
	res := p.command(ctx, p.ackTimeout, common.MAV_CMD_DO_SET_MODE,
		float32(common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED), float32(mode))
	if !res.Accepted() {
		p.logger.Warnf("failed to set mode to %s: %s", mode, res)
		return false
	}
	p.logger.Infof("mode set to %s", mode)
	return true
}

func (p *PX4) SetMode(ctx context.Context, name string) bool {
	mode, ok := ParsePX4MainMode(name)
	if !ok {
		p.logger.Warnf("unknown PX4 mode %q", name)
		return false
	}
	if mode == PX4_OFFBOARD {
		return p.SetAPIMode(ctx)
	}
	return p.setMainMode(ctx, mode)
}

func (p *PX4) Arm(ctx context.Context) bool {
	p.logger.Info("attempting to ARM")
	res := p.command(ctx, p.ackTimeout, common.MAV_CMD_COMPONENT_ARM_DISARM, 1)
	if !res.Accepted() {
		p.logger.Warnf("ARM failed: %s", res)
		return false
	}
	p.logger.Info("successfully ARMED")
	return true
}

func (p *PX4) Disarm(ctx context.Context) bool {
	p.logger.Info("attempting to DISARM")
	p.StopMovement()
	res := p.command(ctx, p.ackTimeout, common.MAV_CMD_COMPONENT_ARM_DISARM, 0)
	return res.Accepted()
}

// Takeoff streams a setpoint above the origin; convergence is left to the caller.
func (p *PX4) Takeoff(ctx context.Context, nedZ float64) bool {
	p.logger.Infof("takeoff to %.2fm", -nedZ)
	if err := p.GoToLocalPosition(ctx, 0, 0, nedZ, 0); err != nil {
		p.logger.Warnf("takeoff setpoint failed: %v", err)
		return false
	}
	return true
}

func (p *PX4) Land(ctx context.Context) bool {
	p.logger.Info("landing")
	p.StopMovement()
	res := p.command(ctx, p.ackTimeout, common.MAV_CMD_NAV_LAND)
	return res.Accepted()
}

// GoToLocalPosition replaces the streamed target and starts the streamer if needed.
func (p *PX4) GoToLocalPosition(_ context.Context, x, y, z, yawDeg float64) error {
	if p.streamer == nil {
		return errors.New("adapter not initialized")
	}
	p.streamer.SetTarget(Setpoint{X: x, Y: y, Z: z, YawDeg: yawDeg})
	p.streamer.Start()
	return nil
}

func (p *PX4) StopMovement() {
	if p.streamer != nil {
		p.streamer.Stop()
	}
}
