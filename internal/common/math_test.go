package common

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func TestDegreesRadians(t *testing.T) {
	test.That(t, DegreesToRadians(180.0), test.ShouldAlmostEqual, math.Pi)
	test.That(t, RadiansToDegrees(math.Pi/2), test.ShouldAlmostEqual, 90.0)
	test.That(t, RadiansToDegrees(DegreesToRadians(float32(37))), test.ShouldAlmostEqual, float32(37), 1e-5)
}

func TestWrapDegrees(t *testing.T) {
	for _, tc := range []struct {
		in, out float64
	}{
		{0, 0},
		{179, 179},
		{180, -180},
		{-180, -180},
		{190, -170},
		{-190, 170},
		{720, 0},
		{-540, -180},
	} {
		test.That(t, WrapDegrees(tc.in), test.ShouldAlmostEqual, tc.out)
	}
}

func TestAngleError(t *testing.T) {
	test.That(t, AngleError(350.0, 10.0), test.ShouldAlmostEqual, 20.0)
	test.That(t, AngleError(10.0, 350.0), test.ShouldAlmostEqual, 20.0)
	test.That(t, AngleError(-90.0, 90.0), test.ShouldAlmostEqual, 180.0)
}
