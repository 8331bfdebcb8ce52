// Package frames converts positions and orientations between the flight stack's
// North-East-Down frame, the application's Forward-Left-Up (ROS) frame and the
// Y-up Unity frame. Everything here is a pure function.
package frames

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"FlightLink/internal/common"
	"FlightLink/internal/utils"
)

// Frame names the convention a Pose is expressed in.
type Frame uint8

const (
	NED Frame = iota
	ROS
	Unity
)

func (f Frame) String() string {
	switch f {
	case NED:
		return "NED"
	case ROS:
		return "ROS"
	case Unity:
		return "Unity"
	default:
		return fmt.Sprintf("Frame(%d)", uint8(f))
	}
}

// Pose is a position plus orientation in a named frame.
type Pose struct {
	Position    r3.Vector
	Orientation quat.Number
	Frame       Frame
}

// YawDegrees is the heading of the pose in degrees, measured in the pose's own frame.
// ROS orientations carry the extra half roll from NedToRosOrientation, so it is removed
// before reading the heading.
func (p Pose) YawDegrees() float64 {
	if p.Frame == ROS {
		return NedToRosYaw(YawDegrees(RosToNedOrientation(p.Orientation)))
	}
	return YawDegrees(p.Orientation)
}

// roll180 is a half turn about X.
var roll180 = quat.Number{Real: 0, Imag: 1}

func RosToNedPosition(p r3.Vector) r3.Vector {
	return r3.Vector{X: p.X, Y: -p.Y, Z: -p.Z}
}

func NedToRosPosition(p r3.Vector) r3.Vector {
	return r3.Vector{X: p.X, Y: -p.Y, Z: -p.Z}
}

// NedToRosOrientation composes q with a 180° roll, turning the down-facing NED body
// convention into forward-left-up.
func NedToRosOrientation(q quat.Number) quat.Number {
	return quat.Mul(q, roll180)
}

// RosToNedOrientation undoes NedToRosOrientation. The half turn is its own inverse up to sign.
func RosToNedOrientation(q quat.Number) quat.Number {
	return quat.Mul(q, quat.Conj(roll180))
}

// RosToNedYaw flips the sign: NED yaw grows clockwise seen from above, ROS yaw counter-clockwise.
func RosToNedYaw(yawDeg float64) float64 {
	return -yawDeg
}

func NedToRosYaw(yawDeg float64) float64 {
	return -yawDeg
}

// UnityToRosPosition maps Unity (X right, Y up, Z forward) to ROS (X forward, Y left, Z up).
func UnityToRosPosition(u r3.Vector) r3.Vector {
	return r3.Vector{X: u.Z, Y: -u.X, Z: u.Y}
}

func RosToUnityPosition(p r3.Vector) r3.Vector {
	return r3.Vector{X: -p.Y, Y: p.Z, Z: p.X}
}

// UnityToRosYaw negates: Unity yaw is clockwise-positive.
func UnityToRosYaw(yawDeg float64) float64 {
	return -yawDeg
}

func RosToUnityYaw(yawDeg float64) float64 {
	return -yawDeg
}

// RosToUnityOrientation re-expresses a ROS orientation with Unity's axes: ROS pitch becomes
// Unity roll, negated ROS yaw becomes Unity pitch and negated ROS roll becomes Unity yaw.
func RosToUnityOrientation(q quat.Number) quat.Number {
	roll, pitch, yaw := utils.QuaternionToEuler(q)
	return utils.EulerToQuaternion(pitch, -yaw, -roll)
}

// NedToRos converts a whole NED pose.
func NedToRos(p Pose) Pose {
	return Pose{
		Position:    NedToRosPosition(p.Position),
		Orientation: NedToRosOrientation(p.Orientation),
		Frame:       ROS,
	}
}

// RosToUnity converts a whole ROS pose.
func RosToUnity(p Pose) Pose {
	return Pose{
		Position:    RosToUnityPosition(p.Position),
		Orientation: RosToUnityOrientation(p.Orientation),
		Frame:       Unity,
	}
}

// YawDegrees extracts the heading of q in degrees, in [-180, 180].
func YawDegrees(q quat.Number) float64 {
	_, _, yaw := utils.QuaternionToEuler(q)
	return common.RadiansToDegrees(yaw)
}

// SameRotation reports whether a and b describe the same rotation within tol, treating q and -q
// as equal.
func SameRotation(a, b quat.Number, tol float64) bool {
	d := math.Abs(a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag)
	return 1-d <= tol
}
