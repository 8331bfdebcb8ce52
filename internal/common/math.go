package common

import (
	"math"

	"golang.org/x/exp/constraints"
)

func DegreesToRadians[T constraints.Float](degrees T) T {
	return degrees * T(math.Pi) / 180
}

func RadiansToDegrees[T constraints.Float](radians T) T {
	return radians * 180 / T(math.Pi)
}

// WrapDegrees folds an angle into [-180, 180).
func WrapDegrees[T constraints.Float](degrees T) T {
	wrapped := T(math.Mod(float64(degrees)+180, 360))
	if wrapped < 0 {
		wrapped += 360
	}
	return wrapped - 180
}

// AngleError is the absolute shortest angular distance between two headings in degrees.
func AngleError[T constraints.Float](a, b T) T {
	return T(math.Abs(float64(WrapDegrees(a - b))))
}
