package transform

import (
	"testing"

	"go.viam.com/test"
)

func TestBrownConradyCheckValid(t *testing.T) {
	distortionsA := &BrownConrady{}
	test.That(t, distortionsA.CheckValid(), test.ShouldBeNil)
	var nilBrownConradyPtr *BrownConrady
	err := nilBrownConradyPtr.CheckValid()
	expected := "BrownConrady shaped distortion_parameters not provided: invalid distortion_parameters"
	test.That(t, err.Error(), test.ShouldContainSubstring, expected)
}

func TestBrownConradyNew(t *testing.T) {
	t.Run("valid parameters", func(t *testing.T) {
		params := []float64{0.1, 0.2, 0.01, 0.02, 0.3}
		bc, err := NewBrownConrady(params)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, bc.RadialK1, test.ShouldEqual, 0.1)
		test.That(t, bc.RadialK2, test.ShouldEqual, 0.2)
		test.That(t, bc.TangentialP1, test.ShouldEqual, 0.01)
		test.That(t, bc.TangentialP2, test.ShouldEqual, 0.02)
		test.That(t, bc.RadialK3, test.ShouldEqual, 0.3)
	})

	t.Run("empty parameters", func(t *testing.T) {
		bc, err := NewBrownConrady([]float64{})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, bc.Parameters(), test.ShouldResemble, []float64{0, 0, 0, 0, 0})
	})

	t.Run("too many parameters", func(t *testing.T) {
		_, err := NewBrownConrady(make([]float64, 6))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "too long")
	})
}

func TestBrownConradyConstructorDoesNotModifyInput(t *testing.T) {
	backing := []float64{0.1, 0.01, 0.001, 0.0001, 99.0, 99.0}
	params := backing[:4]

	origFull := make([]float64, len(backing))
	copy(origFull, backing)

	_, err := NewBrownConrady(params)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, origFull, test.ShouldResemble, backing)
}

func TestBrownConradyTransformAllZeroes(t *testing.T) {
	bc, _ := NewBrownConrady([]float64{0, 0, 0, 0, 0})

	tx, ty := bc.Transform(0.5, 0.5)

	test.That(t, tx, test.ShouldAlmostEqual, 0.5, 1e-9)
	test.That(t, ty, test.ShouldAlmostEqual, 0.5, 1e-9)
}

func TestBrownConradyTransformNilReceiver(t *testing.T) {
	var bc *BrownConrady
	tx, ty := bc.Transform(0.3, -0.2)
	test.That(t, tx, test.ShouldEqual, 0.3)
	test.That(t, ty, test.ShouldEqual, -0.2)
}

func TestBrownConradyTransformKnownValue(t *testing.T) {
	// k1=0.1, k2=0, p1=0.01, p2=0.02, k3=0, at (0.5, 0.5): r2 = 0.5
	bc, _ := NewBrownConrady([]float64{0.1, 0, 0.01, 0.02, 0})

	x, y := 0.5, 0.5
	tx, ty := bc.Transform(x, y)

	r2 := x*x + y*y
	radial := 1 + r2*0.1
	wantX := x*radial + 2*0.01*x*y + 0.02*(r2+2*x*x)
	wantY := y*radial + 2*0.02*x*y + 0.01*(r2+2*y*y)

	test.That(t, tx, test.ShouldAlmostEqual, wantX, 1e-9)
	test.That(t, ty, test.ShouldAlmostEqual, wantY, 1e-9)
}
