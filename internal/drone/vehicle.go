package drone

import (
	"context"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"FlightLink/internal/drone/convergence"
	"FlightLink/internal/drone/flightctl"
	ferrors "FlightLink/internal/errors"
	"FlightLink/internal/frames"
	"FlightLink/internal/logging"
	"FlightLink/internal/mavconn"
	"FlightLink/internal/utils"
)

// signalFreshness bounds how old a DISTANCE_SENSOR or LOCAL_POSITION_NED reading may be to
// count as a land signal.
const signalFreshness = time.Second

// Vehicle pairs one connection with the adapter for its firmware and tracks the flight
// state the client relies on.
type Vehicle struct {
	Name     string
	Firmware flightctl.Firmware

	conn        *mavconn.Conn
	adapter     flightctl.Adapter
	logger      logging.Logger
	poseTimeout time.Duration

	// op serializes commands; a long move holds it for its whole wait
	op sync.Mutex

	mu                sync.Mutex
	armed             bool
	apiControlEnabled bool
	referenceAltitude *float64
}

func (v *Vehicle) Conn() *mavconn.Conn { return v.conn }

func (v *Vehicle) Armed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.armed
}

func (v *Vehicle) APIControlEnabled() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.apiControlEnabled
}

// ReferenceAltitude is the NED z captured at the last takeoff.
func (v *Vehicle) ReferenceAltitude() (float64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.referenceAltitude == nil {
		return 0, false
	}
	return *v.referenceAltitude, true
}

func (v *Vehicle) setArmed(armed bool) {
	v.mu.Lock()
	v.armed = armed
	v.mu.Unlock()
}

func (v *Vehicle) setAPIControl(enabled bool) {
	v.mu.Lock()
	v.apiControlEnabled = enabled
	v.mu.Unlock()
}

func (v *Vehicle) setReferenceAltitude(z float64) {
	v.mu.Lock()
	v.referenceAltitude = &z
	v.mu.Unlock()
}

// ArmingStatus returns the latest health, vibration and GPS reports.
func (v *Vehicle) ArmingStatus() flightctl.ArmingStatus {
	return flightctl.ReadArmingStatus(v.conn)
}

// NedPose waits for a fresh ATTITUDE and LOCAL_POSITION_NED and combines them.
func (v *Vehicle) NedPose(ctx context.Context) (frames.Pose, error) {
	if v.conn.State() != mavconn.Connected {
		return frames.Pose{}, ferrors.ErrNotConnected
	}
	sub := v.conn.Subscribe()
	defer sub.Close()

	var att *common.MessageAttitude
	var pos *common.MessageLocalPositionNed
	_, ok := sub.Wait(ctx, func(in mavconn.Inbound) bool {
		if in.SystemID != v.conn.SystemID() {
			return false
		}
		switch m := in.Message.(type) {
		case *common.MessageAttitude:
			att = m
		case *common.MessageLocalPositionNed:
			pos = m
		}
		return att != nil && pos != nil
	}, v.poseTimeout)
	if !ok {
		return frames.Pose{}, errors.Errorf("%s: no attitude and position within %s", v.Name, v.poseTimeout)
	}
	return frames.Pose{
		Position:    r3.Vector{X: float64(pos.X), Y: float64(pos.Y), Z: float64(pos.Z)},
		Orientation: utils.EulerToQuaternion(float64(att.Roll), float64(att.Pitch), float64(att.Yaw)),
		Frame:       frames.NED,
	}, nil
}

// nedSource feeds convergence with NED readings.
func (v *Vehicle) nedSource() convergence.PoseSource {
	return convergence.PoseSourceFunc(func(ctx context.Context) (convergence.Reading, error) {
		p, err := v.NedPose(ctx)
		if err != nil {
			return convergence.Reading{}, err
		}
		return convergence.Reading{Position: p.Position, YawDeg: p.YawDegrees()}, nil
	})
}

// rosSource feeds convergence with readings in the application frame.
func (v *Vehicle) rosSource() convergence.PoseSource {
	return convergence.PoseSourceFunc(func(ctx context.Context) (convergence.Reading, error) {
		p, err := v.NedPose(ctx)
		if err != nil {
			return convergence.Reading{}, err
		}
		return convergence.Reading{
			Position: frames.NedToRosPosition(p.Position),
			YawDeg:   frames.NedToRosYaw(p.YawDegrees()),
		}, nil
	})
}

// landSource gathers every ground signal available this tick. Relative altitude is only
// offered once a reference altitude has been captured.
func (v *Vehicle) landSource() convergence.LandSource {
	return convergence.LandSourceFunc(func(ctx context.Context) (convergence.LandSignals, error) {
		var s convergence.LandSignals
		if hb, _, ok := mavconn.Latest[*common.MessageHeartbeat](v.conn); ok {
			armed := hb.BaseMode&common.MAV_MODE_FLAG_SAFETY_ARMED != 0
			s.Armed = &armed
		}
		if ext, _, ok := mavconn.Latest[*common.MessageExtendedSysState](v.conn); ok {
			s.LandedState = ext.LandedState
		}
		if ds, at, ok := mavconn.Latest[*common.MessageDistanceSensor](v.conn); ok &&
			ds.Orientation == common.MAV_SENSOR_ROTATION_PITCH_270 &&
			v.conn.Clock().Since(at) < signalFreshness {
			r := float64(ds.CurrentDistance) / 100
			s.RangeM = &r
		}
		if ref, ok := v.ReferenceAltitude(); ok {
			if pos, at, ok := mavconn.Latest[*common.MessageLocalPositionNed](v.conn); ok &&
				v.conn.Clock().Since(at) < signalFreshness {
				rel := ref - float64(pos.Z)
				vz := float64(pos.Vz)
				s.RelativeAltM = &rel
				s.VerticalSpeedM = &vz
			}
		}
		return s, nil
	})
}
