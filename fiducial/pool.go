package fiducial

import (
	"context"
	"image"
	"os"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	_ "golang.org/x/image/bmp"  // register BMP decoding for imaging.Open
	_ "golang.org/x/image/tiff" // register TIFF decoding, common for machine-vision camera dumps
	"golang.org/x/sync/errgroup"
)

// Pool runs a Detector across many images or video frames with bounded
// concurrency, mirroring RunAprilDetectorBatch's two worker-pool shapes
// (shared job list for batches, producer/consumer queue for video) — done
// here with an errgroup and a channel instead of the original's mutex +
// sleep-poll loops.
type Pool struct {
	Detector     Detector
	NumWorkers   int
	ResizeFactor float64
}

// NewPool builds a Pool. A ResizeFactor of 0 or 1 disables resizing.
func NewPool(detector Detector, numWorkers int, resizeFactor float64) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if resizeFactor <= 0 {
		resizeFactor = 1.0
	}
	return &Pool{Detector: detector, NumWorkers: numWorkers, ResizeFactor: resizeFactor}
}

// ProcessBatch runs the detector over every image path with up to
// NumWorkers images in flight at once. Results are returned in the same
// order as imagePaths; a decode/detect failure on one image does not fail
// the others — its error is aggregated into the returned error and its
// result slot is left empty, matching the original's per-job failure
// policy.
func (p *Pool) ProcessBatch(ctx context.Context, imagePaths []string) ([][]Detection, error) {
	results := make([][]Detection, len(imagePaths))
	var errs error
	var errMu errsMutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.NumWorkers)

	for i, path := range imagePaths {
		i, path := i, path
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			dets, err := p.detectImage(path)
			if err != nil {
				errMu.add(errors.Wrapf(err, "processing %q", path), &errs)
				return nil
			}
			results[i] = dets
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, errs
}

func (p *Pool) detectImage(path string) ([]Detection, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading image")
	}

	small := img
	if p.ResizeFactor != 1.0 {
		w := int(float64(img.Bounds().Dx()) * p.ResizeFactor)
		h := int(float64(img.Bounds().Dy()) * p.ResizeFactor)
		small = imaging.Resize(img, w, h, imaging.Linear)
	}
	gray := imaging.Grayscale(small)
	w, h := gray.Bounds().Dx(), gray.Bounds().Dy()
	pix := make([]byte, w*h)
	for i := range pix {
		pix[i] = gray.Pix[4*i]
	}

	dets, err := p.Detector.Detect(pix, w, h)
	if err != nil {
		return nil, errors.Wrap(err, "detecting")
	}
	for i := range dets {
		dets[i].Rescale(p.ResizeFactor)
	}
	return dets, nil
}

// errsMutex serializes multierr.Append calls across the errgroup's worker
// goroutines, since multierr.Error values are not safe to append to
// concurrently.
type errsMutex struct{ mu sync.Mutex }

func (m *errsMutex) add(err error, dst *error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*dst = multierr.Append(*dst, err)
}

// frameJob is one decoded video frame awaiting detection.
type frameJob struct {
	index int
	gray  []byte
	w, h  int
}

// VideoSource decodes a video file into grayscale frames for detection.
type VideoSource struct {
	Path string
}

// FrameCount probes the video's total frame count up front, mirroring
// processVideo's CV_CAP_PROP_FRAME_COUNT read, so the result slice can be
// pre-sized before streaming begins.
func (vs *VideoSource) FrameCount(ctx context.Context) (int, error) {
	return probeFrameCount(ctx, vs.Path)
}

// ProcessVideo streams frames from the video and runs the detector over
// each with NumWorkers consumers draining a bounded channel that a single
// producer goroutine fills, replacing the original's mutex-guarded
// std::queue with a 32-frame soft cap and 5ms sleep-poll.
func (p *Pool) ProcessVideo(ctx context.Context, vs *VideoSource) ([][]Detection, error) {
	if _, err := os.Stat(vs.Path); err != nil {
		return nil, errors.Wrapf(err, "opening video %q", vs.Path)
	}

	n, err := vs.FrameCount(ctx)
	if err != nil {
		return nil, err
	}
	results := make([][]Detection, n)

	jobs := make(chan frameJob, 32)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.NumWorkers + 1)

	g.Go(func() error {
		defer close(jobs)
		return decodeFrames(gctx, vs.Path, jobs)
	})

	var errs error
	var errMu errsMutex
	for w := 0; w < p.NumWorkers; w++ {
		g.Go(func() error {
			for job := range jobs {
				dets, err := p.detectFrame(job)
				if err != nil {
					errMu.add(errors.Wrapf(err, "processing frame %d", job.index), &errs)
					continue
				}
				if job.index < len(results) {
					results[job.index] = dets
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, errs
}

func (p *Pool) detectFrame(job frameJob) ([]Detection, error) {
	gray, w, h := job.gray, job.w, job.h
	if p.ResizeFactor != 1.0 {
		src := &image.Gray{Pix: job.gray, Stride: job.w, Rect: image.Rect(0, 0, job.w, job.h)}
		w = int(float64(job.w) * p.ResizeFactor)
		h = int(float64(job.h) * p.ResizeFactor)
		small := imaging.Resize(src, w, h, imaging.Linear)
		gray = make([]byte, w*h)
		for i := range gray {
			gray[i] = small.Pix[4*i]
		}
	}
	dets, err := p.Detector.Detect(gray, w, h)
	if err != nil {
		return nil, err
	}
	for i := range dets {
		dets[i].Rescale(p.ResizeFactor)
	}
	return dets, nil
}
