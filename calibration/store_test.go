package calibration

import (
	"testing"

	"go.viam.com/test"
)

func sampleCameraRow() []float64 {
	return []float64{
		500, 500, // focal
		320, 240, // principal
		0.1, 0.01, 0.001, 0.002, 0.0, // dist
		0, 0, 0, // camRotation
		0, 0, 1, // camTranslation
		640, 480, // imgSize
	}
}

func TestNewParameterStoreBlockLayout(t *testing.T) {
	ps, err := NewParameterStore([][]float64{sampleCameraRow()}, [][]float64{{0, 0, 0, 1, 2, 3}}, [][3]float64{{1, 2, 3}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ps.NumCameras(), test.ShouldEqual, 1)
	test.That(t, ps.NumFrames(), test.ShouldEqual, 1)
	test.That(t, ps.NumModelPoints(), test.ShouldEqual, 1)

	test.That(t, ps.CameraFocal(0), test.ShouldResemble, []float64{500, 500})
	test.That(t, ps.CameraPrincipal(0), test.ShouldResemble, []float64{320, 240})
	test.That(t, ps.CameraDist(0), test.ShouldResemble, []float64{0.1, 0.01, 0.001, 0.002, 0.0})
	test.That(t, ps.CameraRotation(0), test.ShouldResemble, []float64{0, 0, 0})
	test.That(t, ps.CameraTranslation(0), test.ShouldResemble, []float64{0, 0, 1})
	test.That(t, ps.CameraDims(0), test.ShouldResemble, CameraDims{Width: 640, Height: 480})

	test.That(t, ps.FrameRotation(0), test.ShouldResemble, []float64{0, 0, 0})
	test.That(t, ps.FrameTranslation(0), test.ShouldResemble, []float64{1, 2, 3})
}

func TestParameterStoreSubslicesAreStable(t *testing.T) {
	ps, err := NewParameterStore([][]float64{sampleCameraRow()}, [][]float64{{0, 0, 0, 0, 0, 0}}, nil)
	test.That(t, err, test.ShouldBeNil)

	focal := ps.CameraFocal(0)
	focal[0] = 999

	test.That(t, ps.CameraFocal(0)[0], test.ShouldEqual, 999)
	test.That(t, ps.cameraArena[offFocal], test.ShouldEqual, 999)
}

func TestNewParameterStoreRejectsBadCardinality(t *testing.T) {
	_, err := NewParameterStore([][]float64{{1, 2, 3}}, nil, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "expected 17 scalars")

	_, err = NewParameterStore(nil, [][]float64{{1, 2, 3}}, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "expected 6 scalars")
}
