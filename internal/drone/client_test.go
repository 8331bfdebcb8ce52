package drone

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"FlightLink/internal/config"
	"FlightLink/internal/drone/flightctl"
	ferrors "FlightLink/internal/errors"
	"FlightLink/internal/frames"
	"FlightLink/internal/logging"
	"FlightLink/internal/mavconn"
	"FlightLink/internal/mavconn/mavtest"
	"FlightLink/internal/utils"
)

func fastConfig() *config.Config {
	cfg := config.Default()
	cfg.Link.ConnectTimeout = config.Duration(time.Second)
	ap := &cfg.ArduPilot
	ap.ParamTimeout = config.Duration(200 * time.Millisecond)
	ap.ParamSettle = 0
	ap.GPS.Wait = config.Duration(100 * time.Millisecond)
	ap.GPS.DegradedWait = config.Duration(100 * time.Millisecond)
	ap.OriginWait = config.Duration(300 * time.Millisecond)
	ap.HomeRequestInterval = config.Duration(100 * time.Millisecond)
	ap.ModeConfirmTimeout = config.Duration(300 * time.Millisecond)
	ap.ModeSettle = config.Duration(10 * time.Millisecond)
	ap.ArmAckTimeout = config.Duration(100 * time.Millisecond)
	ap.ArmSettle = config.Duration(10 * time.Millisecond)
	ap.ArmedCheckTimeout = config.Duration(200 * time.Millisecond)
	cfg.PX4.SettleDelay = 0
	cfg.PX4.PreOffboardDelay = config.Duration(50 * time.Millisecond)
	cfg.Timeouts.Ack = config.Duration(300 * time.Millisecond)
	cfg.Timeouts.Pose = config.Duration(300 * time.Millisecond)
	cfg.Timeouts.StatusText = 0
	cfg.Timeouts.Takeoff = config.Duration(10 * time.Second)
	cfg.Timeouts.Move = config.Duration(10 * time.Second)
	cfg.Timeouts.Land = config.Duration(10 * time.Second)
	return cfg
}

// fleet dials a separate in-memory link per connection string.
type fleet struct {
	links map[string]*mavtest.Link
	sims  map[string]*mavtest.Sim
}

func newFleet() *fleet {
	return &fleet{links: map[string]*mavtest.Link{}, sims: map[string]*mavtest.Sim{}}
}

func (f *fleet) dial(connString string) (mavconn.Transport, error) {
	link, ok := f.links[connString]
	if !ok {
		return nil, errors.New("no such endpoint")
	}
	return link, nil
}

func (f *fleet) add(t *testing.T, connString string, cfg *mavtest.SimConfig) *mavtest.Link {
	t.Helper()
	link := mavtest.NewLink(nil)
	f.links[connString] = link
	if cfg != nil {
		sim := mavtest.NewSim(link, *cfg)
		sim.Start()
		f.sims[connString] = sim
		t.Cleanup(sim.Stop)
	}
	return link
}

func goodSim(autopilot common.MAV_AUTOPILOT) *mavtest.SimConfig {
	return &mavtest.SimConfig{
		Autopilot:    autopilot,
		GPSFixType:   common.GPS_FIX_TYPE_3D_FIX,
		Satellites:   10,
		AnswerHome:   true,
		ArmOnAttempt: 1,
		Speed:        5,
		RangeFinder:  true,
	}
}

func newClient(t *testing.T, f *fleet, opts ...Option) *FlightClient {
	t.Helper()
	opts = append([]Option{WithDialer(f.dial), WithLogger(logging.NewTestLogger(t))}, opts...)
	c, err := NewFlightClient(fastConfig(), opts...)
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { c.DisconnectAll() })
	return c
}

// connected returns a client with one connected vehicle named "drone1".
func connected(t *testing.T, firmware flightctl.Firmware, sim *mavtest.SimConfig) (*FlightClient, *mavtest.Link, *mavtest.Sim) {
	t.Helper()
	f := newFleet()
	link := f.add(t, "udp:127.0.0.1:14550", sim)
	c := newClient(t, f)
	test.That(t, c.AddVehicle("drone1", "udp:127.0.0.1:14550", firmware), test.ShouldBeNil)
	test.That(t, c.ConfirmConnection(context.Background()), test.ShouldBeTrue)
	return c, link, f.sims["udp:127.0.0.1:14550"]
}

func TestAddVehicle(t *testing.T) {
	c := newClient(t, newFleet())
	test.That(t, c.AddVehicle("a", "udp:127.0.0.1:14550", flightctl.ArduPilotFirmware), test.ShouldBeNil)
	test.That(t, c.AddVehicle("b", "udp:127.0.0.1:14560", flightctl.PX4Firmware), test.ShouldBeNil)

	err := c.AddVehicle("a", "udp:127.0.0.1:14570", flightctl.PX4Firmware)
	test.That(t, errors.Is(err, ferrors.ErrDuplicateVehicle), test.ShouldBeTrue)

	v, err := c.Vehicle("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v.Name, test.ShouldEqual, "a")
	test.That(t, v.Firmware, test.ShouldEqual, flightctl.ArduPilotFirmware)

	_, err = c.Vehicle("nope")
	test.That(t, errors.Is(err, ferrors.ErrUnknownVehicle), test.ShouldBeTrue)
	test.That(t, c.Land(context.Background(), "nope"), test.ShouldBeFalse)
}

func TestDefaultVehicleOption(t *testing.T) {
	c := newClient(t, newFleet(), WithDefaultVehicle("b"))
	test.That(t, c.AddVehicle("a", "udp:127.0.0.1:14550", flightctl.ArduPilotFirmware), test.ShouldBeNil)
	test.That(t, c.AddVehicle("b", "udp:127.0.0.1:14560", flightctl.PX4Firmware), test.ShouldBeNil)
	v, err := c.Vehicle("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v.Name, test.ShouldEqual, "b")
}

func TestAddConfiguredVehicles(t *testing.T) {
	cfg := fastConfig()
	cfg.Vehicles = []config.VehicleConfig{
		{Name: "copter", Connection: "udp:127.0.0.1:14550", Firmware: "ardupilot"},
		{Name: "px", Connection: "udp:127.0.0.1:14560", Firmware: "PX4"},
	}
	c, err := NewFlightClient(cfg, WithLogger(logging.NewTestLogger(t)), WithDialer(newFleet().dial))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c.AddConfiguredVehicles(), test.ShouldBeNil)
	v, err := c.Vehicle("px")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v.Firmware, test.ShouldEqual, flightctl.PX4Firmware)
}

func TestConfirmConnection(t *testing.T) {
	c := newClient(t, newFleet())
	test.That(t, c.ConfirmConnection(context.Background()), test.ShouldBeFalse)

	f := newFleet()
	f.add(t, "udp:127.0.0.1:14550", goodSim(common.MAV_AUTOPILOT_ARDUPILOTMEGA))
	f.add(t, "udp:127.0.0.1:14560", nil) // silent
	c = newClient(t, f)
	c.cfg.Link.ConnectTimeout = config.Duration(100 * time.Millisecond)
	test.That(t, c.AddVehicle("alive", "udp:127.0.0.1:14550", flightctl.ArduPilotFirmware), test.ShouldBeNil)
	test.That(t, c.AddVehicle("silent", "udp:127.0.0.1:14560", flightctl.ArduPilotFirmware), test.ShouldBeNil)

	test.That(t, c.ConfirmConnection(context.Background()), test.ShouldBeFalse)
	alive, _ := c.Vehicle("alive")
	silent, _ := c.Vehicle("silent")
	test.That(t, alive.Conn().State(), test.ShouldEqual, mavconn.Connected)
	test.That(t, silent.Conn().State(), test.ShouldEqual, mavconn.Disconnected)
	_, ok := f.sims["udp:127.0.0.1:14550"].Param("ARMING_CHECK")
	test.That(t, ok, test.ShouldBeTrue)
}

func TestEnableAPIControlIsIdempotent(t *testing.T) {
	c, link, sim := connected(t, flightctl.ArduPilotFirmware, goodSim(common.MAV_AUTOPILOT_ARDUPILOTMEGA))
	link.Reset()
	ctx := context.Background()

	test.That(t, c.EnableAPIControl(ctx, true), test.ShouldBeTrue)
	v, _ := c.Vehicle("")
	test.That(t, v.APIControlEnabled(), test.ShouldBeTrue)
	test.That(t, sim.CustomMode(), test.ShouldEqual, uint32(flightctl.GUIDED))
	modes := len(mavtest.Commands(link, common.MAV_CMD_DO_SET_MODE))

	test.That(t, c.EnableAPIControl(ctx, true), test.ShouldBeTrue)
	test.That(t, v.APIControlEnabled(), test.ShouldBeTrue)
	test.That(t, len(mavtest.Commands(link, common.MAV_CMD_DO_SET_MODE)), test.ShouldEqual, modes)

	test.That(t, c.EnableAPIControl(ctx, false), test.ShouldBeTrue)
	test.That(t, v.APIControlEnabled(), test.ShouldBeFalse)
}

func TestEnableAPIControlRejected(t *testing.T) {
	sim := goodSim(common.MAV_AUTOPILOT_ARDUPILOTMEGA)
	sim.RejectModes = true
	c, _, _ := connected(t, flightctl.ArduPilotFirmware, sim)
	test.That(t, c.EnableAPIControl(context.Background(), true), test.ShouldBeFalse)
	v, _ := c.Vehicle("")
	test.That(t, v.APIControlEnabled(), test.ShouldBeFalse)
}

func TestArmRequiresAPIControl(t *testing.T) {
	c, link, sim := connected(t, flightctl.ArduPilotFirmware, goodSim(common.MAV_AUTOPILOT_ARDUPILOTMEGA))
	link.Reset()
	test.That(t, c.ArmDisarm(context.Background(), true), test.ShouldBeFalse)
	test.That(t, len(mavtest.Commands(link, common.MAV_CMD_COMPONENT_ARM_DISARM)), test.ShouldEqual, 0)
	test.That(t, sim.Armed(), test.ShouldBeFalse)
}

func TestArmLadderExhaustedLeavesDisarmed(t *testing.T) {
	sim := goodSim(common.MAV_AUTOPILOT_ARDUPILOTMEGA)
	sim.ArmOnAttempt = 0
	c, _, s := connected(t, flightctl.ArduPilotFirmware, sim)
	ctx := context.Background()

	test.That(t, c.EnableAPIControl(ctx, true), test.ShouldBeTrue)
	test.That(t, c.ArmDisarm(ctx, true), test.ShouldBeFalse)
	v, _ := c.Vehicle("")
	test.That(t, v.Armed(), test.ShouldBeFalse)
	test.That(t, s.ArmAttempts(), test.ShouldEqual, 3)
}

func TestArmAndDisarm(t *testing.T) {
	c, _, sim := connected(t, flightctl.ArduPilotFirmware, goodSim(common.MAV_AUTOPILOT_ARDUPILOTMEGA))
	ctx := context.Background()
	test.That(t, c.EnableAPIControl(ctx, true), test.ShouldBeTrue)
	test.That(t, c.ArmDisarm(ctx, true), test.ShouldBeTrue)
	v, _ := c.Vehicle("")
	test.That(t, v.Armed(), test.ShouldBeTrue)
	test.That(t, sim.Armed(), test.ShouldBeTrue)

	test.That(t, c.ArmDisarm(ctx, false), test.ShouldBeTrue)
	test.That(t, v.Armed(), test.ShouldBeFalse)
	test.That(t, sim.Armed(), test.ShouldBeFalse)
}

func TestArduPilotTakeoffMoveLand(t *testing.T) {
	c, link, sim := connected(t, flightctl.ArduPilotFirmware, goodSim(common.MAV_AUTOPILOT_ARDUPILOTMEGA))
	ctx := context.Background()

	// takeoff enables API control and arms on its own
	test.That(t, c.Takeoff(ctx, 2), test.ShouldBeTrue)
	v, _ := c.Vehicle("drone1")
	test.That(t, v.APIControlEnabled(), test.ShouldBeTrue)
	test.That(t, v.Armed(), test.ShouldBeTrue)
	ref, ok := v.ReferenceAltitude()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, ref, test.ShouldAlmostEqual, 0.0, 1e-6)
	takeoffs := mavtest.Commands(link, common.MAV_CMD_NAV_TAKEOFF)
	test.That(t, len(takeoffs), test.ShouldEqual, 1)
	test.That(t, takeoffs[0].Param7, test.ShouldEqual, float32(2))
	test.That(t, sim.Position().Z, test.ShouldAlmostEqual, -2.0, 0.3)

	test.That(t, c.MoveToPosition(ctx, 3, 2, 2, 5, WithYaw(90), WithVehicle("drone1")), test.ShouldBeTrue)
	p := sim.Position()
	test.That(t, p.X, test.ShouldAlmostEqual, 3.0, 0.3)
	test.That(t, p.Y, test.ShouldAlmostEqual, -2.0, 0.3)
	test.That(t, p.Z, test.ShouldAlmostEqual, -2.0, 0.3)
	speeds := mavtest.Commands(link, common.MAV_CMD_DO_CHANGE_SPEED)
	test.That(t, len(speeds), test.ShouldEqual, 1)
	test.That(t, speeds[0].Param2, test.ShouldEqual, float32(5))

	pose, ok := c.GetPose(ctx)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, pose.Frame, test.ShouldEqual, frames.ROS)
	test.That(t, pose.Position.X, test.ShouldAlmostEqual, 3.0, 0.3)
	test.That(t, pose.Position.Y, test.ShouldAlmostEqual, 2.0, 0.3)
	test.That(t, pose.Position.Z, test.ShouldAlmostEqual, 2.0, 0.3)
	test.That(t, pose.YawDegrees(), test.ShouldAlmostEqual, 90.0, 1)

	test.That(t, c.Land(ctx), test.ShouldBeTrue)
	test.That(t, v.Armed(), test.ShouldBeFalse)
	test.That(t, sim.Armed(), test.ShouldBeFalse)
}

func TestPX4TakeoffAndLand(t *testing.T) {
	c, link, sim := connected(t, flightctl.PX4Firmware, goodSim(common.MAV_AUTOPILOT_PX4))
	ctx := context.Background()

	test.That(t, c.Takeoff(ctx, 3), test.ShouldBeTrue)
	test.That(t, sim.CustomMode(), test.ShouldEqual, flightctl.PX4_OFFBOARD.CustomMode())
	test.That(t, sim.Position().Z, test.ShouldAlmostEqual, -3.0, 0.3)
	setpoints, _ := mavtest.SentOfType[*common.MessageSetPositionTargetLocalNed](link)
	test.That(t, setpoints[len(setpoints)-1].Z, test.ShouldEqual, float32(-3))

	test.That(t, c.Land(ctx), test.ShouldBeTrue)
	test.That(t, sim.Armed(), test.ShouldBeFalse)
	test.That(t, c.DisconnectAll(), test.ShouldBeNil)
	test.That(t, link.Closed(), test.ShouldBeTrue)
}

func TestPX4ReflightReentersOffboard(t *testing.T) {
	c, link, sim := connected(t, flightctl.PX4Firmware, goodSim(common.MAV_AUTOPILOT_PX4))
	ctx := context.Background()
	v, _ := c.Vehicle("")

	test.That(t, c.Takeoff(ctx, 3), test.ShouldBeTrue)
	test.That(t, c.Land(ctx), test.ShouldBeTrue)
	test.That(t, v.APIControlEnabled(), test.ShouldBeFalse)
	test.That(t, v.Armed(), test.ShouldBeFalse)

	link.Reset()
	test.That(t, c.Takeoff(ctx, 3), test.ShouldBeTrue)
	test.That(t, len(mavtest.Commands(link, common.MAV_CMD_DO_SET_MODE)), test.ShouldBeGreaterThanOrEqualTo, 1)
	test.That(t, sim.CustomMode(), test.ShouldEqual, flightctl.PX4_OFFBOARD.CustomMode())
	test.That(t, v.APIControlEnabled(), test.ShouldBeTrue)
	test.That(t, sim.Position().Z, test.ShouldAlmostEqual, -3.0, 0.3)
}

func TestPX4DisarmReleasesAPIControl(t *testing.T) {
	c, _, _ := connected(t, flightctl.PX4Firmware, goodSim(common.MAV_AUTOPILOT_PX4))
	ctx := context.Background()
	test.That(t, c.EnableAPIControl(ctx, true), test.ShouldBeTrue)
	test.That(t, c.ArmDisarm(ctx, true), test.ShouldBeTrue)
	v, _ := c.Vehicle("")
	test.That(t, v.APIControlEnabled(), test.ShouldBeTrue)

	test.That(t, c.ArmDisarm(ctx, false), test.ShouldBeTrue)
	test.That(t, v.APIControlEnabled(), test.ShouldBeFalse)
	test.That(t, c.ArmDisarm(ctx, true), test.ShouldBeFalse)
}

func TestLandIgnoresGimbalHeartbeats(t *testing.T) {
	c, link, sim := connected(t, flightctl.ArduPilotFirmware, goodSim(common.MAV_AUTOPILOT_ARDUPILOTMEGA))
	ctx := context.Background()
	test.That(t, c.Takeoff(ctx, 4), test.ShouldBeTrue)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				link.Inject(1, 154, &common.MessageHeartbeat{
					Type:      common.MAV_TYPE_GIMBAL,
					Autopilot: common.MAV_AUTOPILOT_INVALID,
				})
			}
		}
	}()
	ok := c.Land(ctx)
	close(stop)
	<-done

	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, sim.Armed(), test.ShouldBeFalse)
	test.That(t, sim.Position().Z, test.ShouldAlmostEqual, 0.0, 0.1)
}

func TestTakeoffAbortsWithoutReferenceAltitude(t *testing.T) {
	c, link, sim := connected(t, flightctl.ArduPilotFirmware, goodSim(common.MAV_AUTOPILOT_ARDUPILOTMEGA))
	ctx := context.Background()
	test.That(t, c.EnableAPIControl(ctx, true), test.ShouldBeTrue)
	test.That(t, c.ArmDisarm(ctx, true), test.ShouldBeTrue)

	sim.Stop()
	link.Reset()
	test.That(t, c.Takeoff(ctx, 2), test.ShouldBeFalse)
	test.That(t, len(mavtest.Commands(link, common.MAV_CMD_NAV_TAKEOFF)), test.ShouldEqual, 0)
	v, _ := c.Vehicle("")
	_, ok := v.ReferenceAltitude()
	test.That(t, ok, test.ShouldBeFalse)
}

func TestMoveTimesOut(t *testing.T) {
	sim := goodSim(common.MAV_AUTOPILOT_ARDUPILOTMEGA)
	sim.Speed = 0.5
	c, _, _ := connected(t, flightctl.ArduPilotFirmware, sim)
	ctx := context.Background()
	test.That(t, c.MoveToPosition(ctx, 20, 0, 0, 0, WithTimeout(500*time.Millisecond)), test.ShouldBeFalse)
}

func TestMoveToPositionUnityFrameCommandOnly(t *testing.T) {
	c, link, _ := connected(t, flightctl.ArduPilotFirmware, goodSim(common.MAV_AUTOPILOT_ARDUPILOTMEGA))
	ctx := context.Background()
	test.That(t, c.EnableAPIControl(ctx, true), test.ShouldBeTrue)
	test.That(t, c.ArmDisarm(ctx, true), test.ShouldBeTrue)
	link.Reset()

	// Unity (right, up, forward) = (-2, 2, 3) is ROS (3, 2, 2) and NED (3, -2, -2)
	ok := c.MoveToPositionUnityFrame(ctx, -2, 2, 3, 0, WithYaw(-90), WithTimeout(0))
	test.That(t, ok, test.ShouldBeTrue)
	setpoints, _ := mavtest.SentOfType[*common.MessageSetPositionTargetLocalNed](link)
	test.That(t, len(setpoints), test.ShouldEqual, 1)
	sp := setpoints[0]
	test.That(t, sp.X, test.ShouldEqual, float32(3))
	test.That(t, sp.Y, test.ShouldEqual, float32(-2))
	test.That(t, sp.Z, test.ShouldEqual, float32(-2))
	test.That(t, float64(sp.Yaw), test.ShouldAlmostEqual, -math.Pi/2, 1e-6)
	test.That(t, len(mavtest.Commands(link, common.MAV_CMD_DO_CHANGE_SPEED)), test.ShouldEqual, 0)
}

func TestGetPoseUnityFrame(t *testing.T) {
	c, _, sim := connected(t, flightctl.ArduPilotFirmware, goodSim(common.MAV_AUTOPILOT_ARDUPILOTMEGA))
	sim.SetPosition(r3.Vector{X: 1, Y: 2, Z: -3})
	time.Sleep(50 * time.Millisecond)

	pose, ok := c.GetPoseUnityFrame(context.Background())
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, pose.Frame, test.ShouldEqual, frames.Unity)
	test.That(t, pose.Position.X, test.ShouldAlmostEqual, 2.0, 1e-6)
	test.That(t, pose.Position.Y, test.ShouldAlmostEqual, 3.0, 1e-6)
	test.That(t, pose.Position.Z, test.ShouldAlmostEqual, 1.0, 1e-6)
}

type fakeSensors struct {
	pose frames.Pose
	err  error
}

func (f *fakeSensors) Pose(context.Context, string) (frames.Pose, error) {
	return f.pose, f.err
}

func TestGetPosePrefersSensorClient(t *testing.T) {
	f := newFleet()
	f.add(t, "udp:127.0.0.1:14550", goodSim(common.MAV_AUTOPILOT_ARDUPILOTMEGA))
	sensors := &fakeSensors{pose: frames.Pose{
		Position:    r3.Vector{X: 5, Y: 6, Z: -7},
		Orientation: utils.EulerToQuaternion(0, 0, 0),
		Frame:       frames.NED,
	}}
	c := newClient(t, f, WithSensorClient(sensors))
	test.That(t, c.AddVehicle("drone1", "udp:127.0.0.1:14550", flightctl.ArduPilotFirmware), test.ShouldBeNil)
	test.That(t, c.ConfirmConnection(context.Background()), test.ShouldBeTrue)

	pose, ok := c.GetPose(context.Background())
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, pose.Frame, test.ShouldEqual, frames.ROS)
	test.That(t, pose.Position, test.ShouldResemble, r3.Vector{X: 5, Y: -6, Z: 7})

	sensors.err = errors.New("simulator offline")
	pose, ok = c.GetPose(context.Background())
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, pose.Position.Norm(), test.ShouldAlmostEqual, 0.0, 1e-6)
}

func TestRunMission(t *testing.T) {
	c, _, sim := connected(t, flightctl.ArduPilotFirmware, goodSim(common.MAV_AUTOPILOT_ARDUPILOTMEGA))
	ctx := context.Background()
	test.That(t, c.Takeoff(ctx, 2), test.ShouldBeTrue)

	m := NewMission(5,
		NewWayPoint(2, 0, 2),
		NewWayPoint(2, 2, 2).WithYaw(45),
	).ForVehicle("drone1").WithLegTimeout(10 * time.Second)
	test.That(t, c.RunMission(ctx, m), test.ShouldBeTrue)
	p := sim.Position()
	test.That(t, p.X, test.ShouldAlmostEqual, 2.0, 0.3)
	test.That(t, p.Y, test.ShouldAlmostEqual, -2.0, 0.3)

	bad := NewMission(5, NewWayPoint(0, 0, 2)).ForVehicle("ghost")
	test.That(t, c.RunMission(ctx, bad), test.ShouldBeFalse)
}

func TestDisconnectAllIsRepeatable(t *testing.T) {
	c, link, _ := connected(t, flightctl.PX4Firmware, goodSim(common.MAV_AUTOPILOT_PX4))
	test.That(t, c.DisconnectAll(), test.ShouldBeNil)
	test.That(t, link.Closed(), test.ShouldBeTrue)
	test.That(t, c.DisconnectAll(), test.ShouldBeNil)
	v, _ := c.Vehicle("")
	test.That(t, v.Conn().State(), test.ShouldEqual, mavconn.Closed)
}

func TestCallOptions(t *testing.T) {
	o := applyOptions(nil)
	test.That(t, o.timeoutOr(time.Minute), test.ShouldEqual, time.Minute)
	test.That(t, o.yawDeg, test.ShouldBeNil)

	o = applyOptions([]CallOption{WithTimeout(-1), WithYaw(30), WithVehicle("x")})
	test.That(t, o.timeoutOr(time.Minute), test.ShouldEqual, time.Duration(-1))
	test.That(t, *o.yawDeg, test.ShouldEqual, 30.0)
	test.That(t, o.vehicle, test.ShouldEqual, "x")
}
