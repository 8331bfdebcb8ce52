package utils

import (
	"math"

	"gonum.org/v1/gonum/num/quat"

	"FlightLink/internal/common"
)

// EulerToQuaternion builds a unit quaternion from ZYX (yaw-pitch-roll) Euler angles in radians.
func EulerToQuaternion(roll, pitch, yaw float64) quat.Number {
	// Half angles
	cy := math.Cos(yaw * 0.5)
	sy := math.Sin(yaw * 0.5)
	cr := math.Cos(roll * 0.5)
	sr := math.Sin(roll * 0.5)
	cp := math.Cos(pitch * 0.5)
	sp := math.Sin(pitch * 0.5)

	return quat.Number{
		Real: cr*cp*cy + sr*sp*sy,
		Imag: sr*cp*cy - cr*sp*sy,
		Jmag: cr*sp*cy + sr*cp*sy,
		Kmag: cr*cp*sy - sr*sp*cy,
	}
}

// QuaternionToEuler converts a quaternion into (roll, pitch, yaw) in radians.
func QuaternionToEuler(q quat.Number) (roll, pitch, yaw float64) {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag

	// Roll (x-axis rotation)
	sinrCosp := 2 * (w*x + y*z)
	cosrCosp := 1 - 2*(x*x+y*y)
	roll = math.Atan2(sinrCosp, cosrCosp)

	// Pitch (y-axis rotation)
	sinp := 2 * (w*y - z*x)
	if math.Abs(sinp) >= 1 {
		pitch = math.Copysign(math.Pi/2, sinp) // use 90 degrees if out of range
	} else {
		pitch = math.Asin(sinp)
	}

	// Yaw (z-axis rotation)
	sinyCosp := 2 * (w*z + x*y)
	cosyCosp := 1 - 2*(y*y+z*z)
	yaw = math.Atan2(sinyCosp, cosyCosp)

	return roll, pitch, yaw
}

// QuaternionToEulerDegrees converts a quaternion into (roll, pitch, yaw) in degrees.
func QuaternionToEulerDegrees(q quat.Number) (roll, pitch, yaw float64) {
	roll, pitch, yaw = QuaternionToEuler(q)
	return common.RadiansToDegrees(roll), common.RadiansToDegrees(pitch), common.RadiansToDegrees(yaw)
}
