package fiducial

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// probeStreams is the slice of ffprobe's "streams" array this package
// cares about: codec type, frame size, and whatever frame-count hints
// ffprobe can give us.
type probeStreams struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		NbFrames     string `json:"nb_frames"`
		AvgFrameRate string `json:"avg_frame_rate"`
		Duration     string `json:"duration"`
	} `json:"streams"`
}

// probeVideo runs ffprobe over path and returns the video stream's frame
// count, width and height, mirroring processVideo's
// CV_CAP_PROP_FRAME_COUNT/FRAME_WIDTH/FRAME_HEIGHT reads.
func probeVideo(ctx context.Context, path string) (frames, width, height int, err error) {
	raw, err := ffmpeg.Probe(path)
	if err != nil {
		return 0, 0, 0, errors.Wrapf(err, "probing %q", path)
	}

	var parsed probeStreams
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return 0, 0, 0, errors.Wrapf(err, "parsing ffprobe output for %q", path)
	}

	for _, s := range parsed.Streams {
		if s.CodecType != "video" {
			continue
		}
		width, height = s.Width, s.Height
		if n, convErr := strconv.Atoi(s.NbFrames); convErr == nil && n > 0 {
			return n, width, height, nil
		}
		return estimateFrameCount(s.AvgFrameRate, s.Duration), width, height, nil
	}
	return 0, 0, 0, errors.Errorf("no video stream found in %q", path)
}

// estimateFrameCount covers containers where ffprobe can't report
// nb_frames directly (common for streamed/VFR formats) by falling back to
// avg_frame_rate * duration.
func estimateFrameCount(avgFrameRate, duration string) int {
	parts := strings.SplitN(avgFrameRate, "/", 2)
	if len(parts) != 2 {
		return 0
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	dur, err3 := strconv.ParseFloat(duration, 64)
	if err1 != nil || err2 != nil || err3 != nil || den == 0 {
		return 0
	}
	return int((num / den) * dur)
}

// probeFrameCount reports the video's total frame count.
func probeFrameCount(ctx context.Context, path string) (int, error) {
	frames, _, _, err := probeVideo(ctx, path)
	return frames, err
}

// decodeFrames transcodes path to a raw 8-bit grayscale stream with
// ffmpeg and pushes one frameJob per decoded frame onto jobs, mirroring
// videoReaderThread's read-and-enqueue loop. It returns once the stream is
// exhausted, the context is cancelled, or ffmpeg fails.
func decodeFrames(ctx context.Context, path string, jobs chan<- frameJob) error {
	_, width, height, err := probeVideo(ctx, path)
	if err != nil {
		return err
	}
	if width <= 0 || height <= 0 {
		return errors.Errorf("could not determine frame size for %q", path)
	}

	pr, pw := io.Pipe()
	decodeErr := make(chan error, 1)
	go func() {
		err := ffmpeg.Input(path).
			Output("pipe:", ffmpeg.KwArgs{"format": "rawvideo", "pix_fmt": "gray"}).
			WithOutput(pw).
			Run()
		decodeErr <- pw.CloseWithError(err)
	}()

	frameSize := width * height
	reader := bufio.NewReaderSize(pr, frameSize)

	for index := 0; ; index++ {
		select {
		case <-ctx.Done():
			pr.Close()
			return ctx.Err()
		default:
		}

		buf := make([]byte, frameSize)
		if _, err := io.ReadFull(reader, buf); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			pr.Close()
			return errors.Wrap(err, "reading decoded frame")
		}

		select {
		case jobs <- frameJob{index: index, gray: buf, w: width, h: height}:
		case <-ctx.Done():
			pr.Close()
			return ctx.Err()
		}
	}

	if err := <-decodeErr; err != nil {
		return errors.Wrapf(err, "decoding video %q", path)
	}
	return nil
}
