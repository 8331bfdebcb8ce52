package flightctl

import (
	"context"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"FlightLink/internal/mavconn/mavtest"
)

func px4Sim(cfg mavtest.SimConfig) mavtest.SimConfig {
	cfg.Autopilot = common.MAV_AUTOPILOT_PX4
	return cfg
}

func TestPX4SetAPIModeStreamsFirst(t *testing.T) {
	h := newHarness(t, px4Sim(mavtest.SimConfig{}))
	p := newAdapter(t, h, PX4Firmware, fastConfig()).(*PX4)
	defer p.StopMovement()

	test.That(t, p.SetAPIMode(context.Background()), test.ShouldBeTrue)
	test.That(t, h.sim.CustomMode(), test.ShouldEqual, PX4_OFFBOARD.CustomMode())
	test.That(t, p.streamer.Running(), test.ShouldBeTrue)

	_, spTimes := mavtest.SentOfType[*common.MessageSetPositionTargetLocalNed](h.link)
	test.That(t, len(spTimes), test.ShouldBeGreaterThan, 0)
	var modeAt time.Time
	for _, s := range h.link.Sent() {
		if m, ok := s.Message.(*common.MessageCommandLong); ok && m.Command == common.MAV_CMD_DO_SET_MODE {
			modeAt = s.At
			test.That(t, m.Param2, test.ShouldEqual, float32(6))
			test.That(t, m.TargetComponent, test.ShouldEqual, uint8(1))
		}
	}
	test.That(t, modeAt.IsZero(), test.ShouldBeFalse)
	test.That(t, spTimes[0].Before(modeAt), test.ShouldBeTrue)
	test.That(t, modeAt.Sub(spTimes[0]), test.ShouldBeGreaterThanOrEqualTo, 50*time.Millisecond)
}

func TestPX4OffboardRejectedStopsStreaming(t *testing.T) {
	h := newHarness(t, px4Sim(mavtest.SimConfig{RejectModes: true}))
	p := newAdapter(t, h, PX4Firmware, fastConfig()).(*PX4)

	test.That(t, p.SetAPIMode(context.Background()), test.ShouldBeFalse)
	test.That(t, p.streamer.Running(), test.ShouldBeFalse)
}

func TestPX4HoldsCurrentPositionBeforeOffboard(t *testing.T) {
	h := newHarness(t, px4Sim(mavtest.SimConfig{}))
	h.sim.SetPosition(r3.Vector{X: 4, Y: -2, Z: -7})
	p := newAdapter(t, h, PX4Firmware, fastConfig()).(*PX4)
	defer p.StopMovement()

	time.Sleep(60 * time.Millisecond)
	test.That(t, p.SetAPIMode(context.Background()), test.ShouldBeTrue)
	sp, ok := p.streamer.Target()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, sp, test.ShouldResemble, Setpoint{X: 4, Y: -2, Z: -7})
}

func TestPX4ArmTakeoffLand(t *testing.T) {
	h := newHarness(t, px4Sim(mavtest.SimConfig{ArmOnAttempt: 1}))
	p := newAdapter(t, h, PX4Firmware, fastConfig()).(*PX4)

	test.That(t, p.Arm(context.Background()), test.ShouldBeTrue)
	test.That(t, p.Takeoff(context.Background(), -3), test.ShouldBeTrue)
	sp, _ := p.streamer.Target()
	test.That(t, sp, test.ShouldResemble, Setpoint{Z: -3})
	test.That(t, p.streamer.Running(), test.ShouldBeTrue)

	test.That(t, p.Land(context.Background()), test.ShouldBeTrue)
	test.That(t, p.streamer.Running(), test.ShouldBeFalse)
	test.That(t, len(mavtest.Commands(h.link, common.MAV_CMD_NAV_LAND)), test.ShouldEqual, 1)
}

func TestPX4ArmRejected(t *testing.T) {
	h := newHarness(t, px4Sim(mavtest.SimConfig{ArmOnAttempt: 0}))
	p := newAdapter(t, h, PX4Firmware, fastConfig())
	test.That(t, p.Arm(context.Background()), test.ShouldBeFalse)
}

func TestPX4DisarmStopsStreaming(t *testing.T) {
	h := newHarness(t, px4Sim(mavtest.SimConfig{}))
	p := newAdapter(t, h, PX4Firmware, fastConfig()).(*PX4)

	test.That(t, p.GoToLocalPosition(context.Background(), 1, 1, -1, 0), test.ShouldBeNil)
	test.That(t, p.Disarm(context.Background()), test.ShouldBeTrue)
	test.That(t, p.streamer.Running(), test.ShouldBeFalse)
}

func TestPX4StreamingLiveness(t *testing.T) {
	h := newHarness(t, px4Sim(mavtest.SimConfig{}))
	p := newAdapter(t, h, PX4Firmware, fastConfig()).(*PX4)

	test.That(t, p.GoToLocalPosition(context.Background(), 1, 2, -3, 0), test.ShouldBeNil)
	time.Sleep(500 * time.Millisecond)
	test.That(t, p.GoToLocalPosition(context.Background(), 5, 6, -7, 45), test.ShouldBeNil)
	time.Sleep(500 * time.Millisecond)
	p.StopMovement()
	stoppedAt := time.Now()

	sps, times := mavtest.SentOfType[*common.MessageSetPositionTargetLocalNed](h.link)
	test.That(t, len(sps), test.ShouldBeGreaterThanOrEqualTo, 8)
	for i := 1; i < len(times); i++ {
		test.That(t, times[i].Sub(times[i-1]), test.ShouldBeLessThanOrEqualTo, 150*time.Millisecond)
	}
	last := sps[len(sps)-1]
	test.That(t, last.X, test.ShouldEqual, float32(5))
	test.That(t, last.Z, test.ShouldEqual, float32(-7))
	test.That(t, times[len(times)-1].After(stoppedAt), test.ShouldBeFalse)

	time.Sleep(300 * time.Millisecond)
	after, _ := mavtest.SentOfType[*common.MessageSetPositionTargetLocalNed](h.link)
	test.That(t, len(after), test.ShouldEqual, len(sps))
}

func TestPX4StreamerStartIsIdempotent(t *testing.T) {
	h := newHarness(t, px4Sim(mavtest.SimConfig{}))
	p := newAdapter(t, h, PX4Firmware, fastConfig()).(*PX4)
	defer p.StopMovement()

	for i := 0; i < 5; i++ {
		test.That(t, p.GoToLocalPosition(context.Background(), float64(i), 0, -1, 0), test.ShouldBeNil)
	}
	time.Sleep(250 * time.Millisecond)
	sps, _ := mavtest.SentOfType[*common.MessageSetPositionTargetLocalNed](h.link)
	// a single 10 Hz stream, not five
	test.That(t, len(sps), test.ShouldBeLessThanOrEqualTo, 5)
}

func TestPX4StreamerStopsWhenConnectionCloses(t *testing.T) {
	h := newHarness(t, px4Sim(mavtest.SimConfig{}))
	p := newAdapter(t, h, PX4Firmware, fastConfig()).(*PX4)

	test.That(t, p.GoToLocalPosition(context.Background(), 0, 0, -2, 0), test.ShouldBeNil)
	time.Sleep(50 * time.Millisecond)
	test.That(t, h.conn.Close(), test.ShouldBeNil)
	test.That(t, p.streamer.Running(), test.ShouldBeFalse)
	test.That(t, h.link.Closed(), test.ShouldBeTrue)
}

func TestPX4NotInitialized(t *testing.T) {
	a, err := New(PX4Firmware, fastConfig(), nil, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a.GoToLocalPosition(context.Background(), 0, 0, -1, 0), test.ShouldNotBeNil)
	test.That(t, a.SetAPIMode(context.Background()), test.ShouldBeFalse)
	test.That(t, a.Arm(context.Background()), test.ShouldBeFalse)
	a.StopMovement()
}
