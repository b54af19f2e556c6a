package transform

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func TestRotateAxisAngleIdentity(t *testing.T) {
	p := [3]float64{1, 2, 3}
	out := RotateAxisAngle([3]float64{0, 0, 0}, p)
	test.That(t, out[0], test.ShouldAlmostEqual, p[0], 1e-9)
	test.That(t, out[1], test.ShouldAlmostEqual, p[1], 1e-9)
	test.That(t, out[2], test.ShouldAlmostEqual, p[2], 1e-9)
}

func TestRotateAxisAngleQuarterTurnAboutZ(t *testing.T) {
	aa := [3]float64{0, 0, math.Pi / 2}
	p := [3]float64{1, 0, 0}
	out := RotateAxisAngle(aa, p)
	test.That(t, out[0], test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, out[1], test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, out[2], test.ShouldAlmostEqual, 0, 1e-9)
}

func TestRotateAxisAngleHalfTurnAboutX(t *testing.T) {
	aa := [3]float64{math.Pi, 0, 0}
	p := [3]float64{0, 1, 0}
	out := RotateAxisAngle(aa, p)
	test.That(t, out[0], test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, out[1], test.ShouldAlmostEqual, -1, 1e-9)
	test.That(t, out[2], test.ShouldAlmostEqual, 0, 1e-9)
}

func TestRotateAxisAngleSmallAngleMatchesExact(t *testing.T) {
	aa := [3]float64{1e-8, 0, 0}
	p := [3]float64{0, 1, 0}
	out := RotateAxisAngle(aa, p)
	test.That(t, out[0], test.ShouldAlmostEqual, 0, 1e-6)
	test.That(t, out[1], test.ShouldAlmostEqual, 1, 1e-6)
	test.That(t, out[2], test.ShouldAlmostEqual, 1e-8, 1e-6)
}
