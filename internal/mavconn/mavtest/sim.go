package mavtest

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/golang/geo/r3"
	goutils "go.viam.com/utils"
)

// SimConfig scripts the behaviour of a simulated vehicle.
type SimConfig struct {
	SystemID    uint8
	ComponentID uint8
	Autopilot   common.MAV_AUTOPILOT

	// Period between telemetry bursts (heartbeat, GPS, position, attitude)
	Period time.Duration

	GPSFixType common.GPS_FIX_TYPE
	Satellites uint8

	// AnswerHome replies to GET_HOME_POSITION with HOME_POSITION
	AnswerHome bool

	// ArmOnAttempt is the 1-based arming attempt that succeeds; 0 never arms
	ArmOnAttempt int
	// DropArmAcks suppresses COMMAND_ACK for arm requests that do not arm
	DropArmAcks bool

	// RejectModes answers DO_SET_MODE with DENIED and leaves the mode unchanged
	RejectModes bool

	// Speed in m/s the vehicle moves toward its setpoint (default 2)
	Speed float64

	// RangeFinder publishes DISTANCE_SENSOR readings of the height above ground
	RangeFinder bool
}

// Sim is a scripted MAVLink vehicle attached to a Link. Command replies are sent
// synchronously from the write path; telemetry is published every Period once started.
type Sim struct {
	link  *Link
	cfg   SimConfig
	clock clock.Clock

	mu          sync.Mutex
	armed       bool
	customMode  uint32
	armAttempts int
	position    r3.Vector
	velocity    r3.Vector
	yaw         float64
	target      *r3.Vector
	targetYaw   float64
	landing     bool
	params      map[string]float32
	lastStep    time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSim attaches a simulated vehicle to link.
func NewSim(link *Link, cfg SimConfig) *Sim {
	if cfg.SystemID == 0 {
		cfg.SystemID = 1
	}
	if cfg.ComponentID == 0 {
		cfg.ComponentID = 1
	}
	if cfg.Autopilot == 0 {
		cfg.Autopilot = common.MAV_AUTOPILOT_ARDUPILOTMEGA
	}
	if cfg.Period <= 0 {
		cfg.Period = 20 * time.Millisecond
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 2
	}
	s := &Sim{
		link:   link,
		cfg:    cfg,
		clock:  link.clock,
		params: map[string]float32{},
	}
	link.Respond(s.handle)
	return s
}

// Start begins publishing telemetry.
func (s *Sim) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Lock()
	s.lastStep = s.clock.Now()
	s.mu.Unlock()
	goutils.PanicCapturingGo(func() {
		defer close(s.done)
		ticker := s.clock.Ticker(s.cfg.Period)
		defer ticker.Stop()
		for {
			s.publish()
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	})
}

// Stop ends telemetry and waits for the publisher to exit.
func (s *Sim) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
}

func (s *Sim) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

func (s *Sim) CustomMode() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.customMode
}

// ArmAttempts counts every arming request received, across all methods.
func (s *Sim) ArmAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armAttempts
}

// Param returns a parameter set through PARAM_SET.
func (s *Sim) Param(name string) (float32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.params[name]
	return v, ok
}

// SetArmed forces the armed flag.
func (s *Sim) SetArmed(armed bool) {
	s.mu.Lock()
	s.armed = armed
	s.mu.Unlock()
}

// SetPosition teleports the vehicle (NED metres).
func (s *Sim) SetPosition(p r3.Vector) {
	s.mu.Lock()
	s.position = p
	s.mu.Unlock()
}

func (s *Sim) Position() r3.Vector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

func (s *Sim) inject(msg message.Message) {
	s.link.Inject(s.cfg.SystemID, s.cfg.ComponentID, msg)
}

func (s *Sim) ack(cmd common.MAV_CMD, result common.MAV_RESULT) {
	s.inject(&common.MessageCommandAck{Command: cmd, Result: result})
}

// tryArm records an arming request and reports whether it armed the vehicle.
func (s *Sim) tryArm() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armAttempts++
	if s.cfg.ArmOnAttempt > 0 && s.armAttempts >= s.cfg.ArmOnAttempt {
		s.armed = true
		s.landing = false
		return true
	}
	return false
}

func (s *Sim) handle(msg message.Message) {
	switch m := msg.(type) {
	case *common.MessageParamSet:
		s.mu.Lock()
		s.params[m.ParamId] = m.ParamValue
		s.mu.Unlock()
		s.inject(&common.MessageParamValue{ParamId: m.ParamId, ParamValue: m.ParamValue, ParamType: m.ParamType})
	case *common.MessageParamRequestRead:
		v, _ := s.Param(m.ParamId)
		s.inject(&common.MessageParamValue{ParamId: m.ParamId, ParamValue: v, ParamType: common.MAV_PARAM_TYPE_REAL32})
	case *common.MessageSetMode:
		if common.MAV_MODE_FLAG(m.BaseMode)&common.MAV_MODE_FLAG_SAFETY_ARMED != 0 {
			s.tryArm()
		}
		s.mu.Lock()
		s.customMode = m.CustomMode
		s.mu.Unlock()
	case *common.MessageSetPositionTargetLocalNed:
		s.mu.Lock()
		s.target = &r3.Vector{X: float64(m.X), Y: float64(m.Y), Z: float64(m.Z)}
		s.targetYaw = float64(m.Yaw)
		s.mu.Unlock()
	case *common.MessageCommandLong:
		s.handleCommand(m)
	}
}

func (s *Sim) handleCommand(m *common.MessageCommandLong) {
	switch m.Command {
	case common.MAV_CMD_DO_SET_MODE:
		if s.cfg.RejectModes {
			s.ack(m.Command, common.MAV_RESULT_DENIED)
			return
		}
		s.mu.Lock()
		if s.cfg.Autopilot == common.MAV_AUTOPILOT_PX4 {
			s.customMode = uint32(m.Param2) << 16
		} else {
			s.customMode = uint32(m.Param2)
		}
		s.mu.Unlock()
		s.ack(m.Command, common.MAV_RESULT_ACCEPTED)
	case common.MAV_CMD_COMPONENT_ARM_DISARM:
		if m.Param1 == 0 {
			s.SetArmed(false)
			s.ack(m.Command, common.MAV_RESULT_ACCEPTED)
			return
		}
		if s.tryArm() {
			s.ack(m.Command, common.MAV_RESULT_ACCEPTED)
			return
		}
		if !s.cfg.DropArmAcks {
			s.ack(m.Command, common.MAV_RESULT_DENIED)
		}
	case common.MAV_CMD_GET_HOME_POSITION:
		s.ack(m.Command, common.MAV_RESULT_ACCEPTED)
		if s.cfg.AnswerHome {
			s.inject(&common.MessageHomePosition{Latitude: -353632610, Longitude: 1491652370, Altitude: 584000, Q: [4]float32{1, 0, 0, 0}})
		}
	case common.MAV_CMD_NAV_TAKEOFF:
		if !s.Armed() {
			s.ack(m.Command, common.MAV_RESULT_TEMPORARILY_REJECTED)
			return
		}
		s.mu.Lock()
		s.target = &r3.Vector{X: s.position.X, Y: s.position.Y, Z: -float64(m.Param7)}
		s.mu.Unlock()
		s.ack(m.Command, common.MAV_RESULT_ACCEPTED)
	case common.MAV_CMD_NAV_LAND:
		s.mu.Lock()
		s.target = &r3.Vector{X: s.position.X, Y: s.position.Y, Z: 0}
		s.landing = true
		s.mu.Unlock()
		s.ack(m.Command, common.MAV_RESULT_ACCEPTED)
	case common.MAV_CMD_DO_SET_HOME, common.MAV_CMD_DO_CHANGE_SPEED:
		s.ack(m.Command, common.MAV_RESULT_ACCEPTED)
	default:
		s.ack(m.Command, common.MAV_RESULT_UNSUPPORTED)
	}
}

// step moves the vehicle toward its target and returns a snapshot for publishing.
func (s *Sim) step() (pos, vel r3.Vector, yaw float64, armed, onGround bool, mode uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	dt := now.Sub(s.lastStep).Seconds()
	s.lastStep = now

	s.velocity = r3.Vector{}
	if s.target != nil && s.armed && dt > 0 {
		prev := s.position
		delta := s.target.Sub(s.position)
		dist := delta.Norm()
		maxStep := s.cfg.Speed * dt
		if dist <= maxStep {
			s.position = *s.target
		} else {
			s.position = s.position.Add(delta.Mul(maxStep / dist))
		}
		s.velocity = s.position.Sub(prev).Mul(1 / dt)
		s.yaw = s.targetYaw
	}
	if s.landing && s.position.Z >= -0.01 {
		s.armed = false
		s.landing = false
		s.target = nil
	}
	onGround = s.position.Z >= -0.05
	return s.position, s.velocity, s.yaw, s.armed, onGround, s.customMode
}

func (s *Sim) publish() {
	pos, vel, yaw, armed, onGround, mode := s.step()

	base := common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED
	if armed {
		base |= common.MAV_MODE_FLAG_SAFETY_ARMED
	}
	s.inject(&common.MessageHeartbeat{
		Type:           common.MAV_TYPE_QUADROTOR,
		Autopilot:      s.cfg.Autopilot,
		BaseMode:       base,
		CustomMode:     mode,
		SystemStatus:   common.MAV_STATE_STANDBY,
		MavlinkVersion: 3,
	})
	s.inject(&common.MessageGpsRawInt{FixType: s.cfg.GPSFixType, SatellitesVisible: s.cfg.Satellites})
	s.inject(&common.MessageLocalPositionNed{
		X: float32(pos.X), Y: float32(pos.Y), Z: float32(pos.Z),
		Vx: float32(vel.X), Vy: float32(vel.Y), Vz: float32(vel.Z),
	})
	s.inject(&common.MessageAttitude{Yaw: float32(yaw)})

	landed := common.MAV_LANDED_STATE_IN_AIR
	if onGround {
		landed = common.MAV_LANDED_STATE_ON_GROUND
	}
	s.inject(&common.MessageExtendedSysState{LandedState: landed})
	if s.cfg.RangeFinder {
		s.inject(&common.MessageDistanceSensor{
			MinDistance:     1,
			MaxDistance:     4000,
			CurrentDistance: uint16(math.Max(0, -pos.Z) * 100),
			Orientation:     common.MAV_SENSOR_ROTATION_PITCH_270,
		})
	}
}

// StatusText injects a STATUSTEXT line.
func (s *Sim) StatusText(text string) {
	s.inject(&common.MessageStatustext{Severity: common.MAV_SEVERITY_INFO, Text: strings.TrimSpace(text)})
}

// Heartbeat injects a single heartbeat immediately, outside the telemetry loop.
func (s *Sim) Heartbeat() {
	_, _, _, armed, _, mode := s.snapshot()
	base := common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED
	if armed {
		base |= common.MAV_MODE_FLAG_SAFETY_ARMED
	}
	s.inject(&common.MessageHeartbeat{
		Type:       common.MAV_TYPE_QUADROTOR,
		Autopilot:  s.cfg.Autopilot,
		BaseMode:   base,
		CustomMode: mode,
	})
}

func (s *Sim) snapshot() (pos, vel r3.Vector, yaw float64, armed, onGround bool, mode uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position, s.velocity, s.yaw, s.armed, s.position.Z >= -0.05, s.customMode
}
