package fiducial

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestDetectionRescale(t *testing.T) {
	d := Detection{ID: 3, Points: []Point{{X: 10, Y: 20}}}
	d.Rescale(0.5)
	test.That(t, d.Points[0].X, test.ShouldEqual, 20.0)
	test.That(t, d.Points[0].Y, test.ShouldEqual, 40.0)
}

func TestDetectionRescaleNoopAtUnity(t *testing.T) {
	d := Detection{Points: []Point{{X: 10, Y: 20}}}
	d.Rescale(1.0)
	test.That(t, d.Points[0].X, test.ShouldEqual, 10.0)
	d.Rescale(0)
	test.That(t, d.Points[0].X, test.ShouldEqual, 10.0)
}

// tagIDDetector is a fake Detector whose result for an image is derived
// deterministically from the image's pixel dimensions, so ProcessBatch's
// order-preservation and determinism properties can be checked without a
// real fiducial-detection algorithm.
type tagIDDetector struct{}

func (tagIDDetector) Detect(gray []byte, width, height int) ([]Detection, error) {
	return []Detection{{ID: width + height, Points: []Point{{X: 1, Y: 1}}}}, nil
}

func writeTestImage(t *testing.T, dir string, name string, size int) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.Gray{Y: uint8((x + y) % 256)})
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	test.That(t, err, test.ShouldBeNil)
	defer f.Close()
	test.That(t, png.Encode(f, img), test.ShouldBeNil)
	return path
}

func TestPoolProcessBatchPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeTestImage(t, dir, "a.png", 10),
		writeTestImage(t, dir, "b.png", 20),
		writeTestImage(t, dir, "c.png", 30),
	}

	pool := NewPool(tagIDDetector{}, 2, 1.0)
	results, err := pool.ProcessBatch(context.Background(), paths)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(results), test.ShouldEqual, 3)

	test.That(t, results[0][0].ID, test.ShouldEqual, 20) // 10x10
	test.That(t, results[1][0].ID, test.ShouldEqual, 40) // 20x20
	test.That(t, results[2][0].ID, test.ShouldEqual, 60) // 30x30
}

func TestPoolProcessBatchDeterministicAcrossWorkerCounts(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 8; i++ {
		paths = append(paths, writeTestImage(t, dir, fmt.Sprintf("frame-%d.png", i), 5+i))
	}

	serial := NewPool(tagIDDetector{}, 1, 1.0)
	resultsSerial, err := serial.ProcessBatch(context.Background(), paths)
	test.That(t, err, test.ShouldBeNil)

	parallelPool := NewPool(tagIDDetector{}, 8, 1.0)
	resultsParallel, err := parallelPool.ProcessBatch(context.Background(), paths)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, len(resultsParallel), test.ShouldEqual, len(resultsSerial))
	for i := range resultsSerial {
		test.That(t, resultsParallel[i][0].ID, test.ShouldEqual, resultsSerial[i][0].ID)
	}
}

func TestPoolProcessBatchAggregatesPerImageErrors(t *testing.T) {
	dir := t.TempDir()
	good := writeTestImage(t, dir, "good.png", 8)
	bad := filepath.Join(dir, "missing.png")

	pool := NewPool(tagIDDetector{}, 2, 1.0)
	results, err := pool.ProcessBatch(context.Background(), []string{good, bad})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, results[0][0].ID, test.ShouldEqual, 16)
	test.That(t, results[1], test.ShouldBeNil)
}

func TestNewPoolClampsDefaults(t *testing.T) {
	pool := NewPool(tagIDDetector{}, 0, 0)
	test.That(t, pool.NumWorkers, test.ShouldEqual, 1)
	test.That(t, pool.ResizeFactor, test.ShouldEqual, 1.0)
}
