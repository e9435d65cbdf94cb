package camera

import (
	"context"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
)

// DefaultDetectionWidth caps per-tick detection frames.
const DefaultDetectionWidth = 640

// Sampler pulls frames from a Source at one of two resolutions.
type Sampler struct {
	maxWidth atomic.Int64
	seq      atomic.Uint64
}

// NewSampler creates a sampler whose detection frames are at most maxWidth
// pixels wide. Zero or negative selects DefaultDetectionWidth.
func NewSampler(maxWidth int) *Sampler {
	s := &Sampler{}
	s.SetMaxWidth(maxWidth)
	return s
}

// MaxWidth returns the detection width cap.
func (s *Sampler) MaxWidth() int {
	return int(s.maxWidth.Load())
}

// SetMaxWidth changes the cap from the next detection sample on.
func (s *Sampler) SetMaxWidth(maxWidth int) {
	if maxWidth <= 0 {
		maxWidth = DefaultDetectionWidth
	}
	s.maxWidth.Store(int64(maxWidth))
}

// DetectionSize returns the size a native frame is scaled to for detection,
// preserving aspect ratio. Frames already under the cap are not upscaled.
func (s *Sampler) DetectionSize(native image.Point) image.Point {
	maxWidth := s.MaxWidth()
	if native.X <= maxWidth {
		return native
	}
	h := native.Y * maxWidth / native.X
	if h < 1 {
		h = 1
	}
	return image.Pt(maxWidth, h)
}

// Sample reads the current frame from src. It returns ErrNotReady while the
// source reports zero dimensions or hands back an empty raster.
func (s *Sampler) Sample(ctx context.Context, src Source, res Resolution) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	native := src.Size()
	if native.X <= 0 || native.Y <= 0 {
		return Frame{}, ErrNotReady
	}

	raw := gocv.NewMat()
	if err := src.Read(&raw); err != nil {
		raw.Close()
		return Frame{}, fmt.Errorf("sample %s frame: %w", res, err)
	}
	if raw.Empty() {
		raw.Close()
		return Frame{}, ErrNotReady
	}

	bgr, err := toBGR(raw)
	if err != nil {
		return Frame{}, err
	}

	if res == ResolutionDetection {
		target := s.DetectionSize(image.Pt(bgr.Cols(), bgr.Rows()))
		if target.X != bgr.Cols() {
			small := gocv.NewMat()
			gocv.Resize(bgr, &small, target, 0, 0, gocv.InterpolationArea)
			bgr.Close()
			bgr = small
		}
	}

	return Frame{
		Mat:        bgr,
		Seq:        s.seq.Add(1),
		At:         time.Now(),
		Resolution: res,
		Native:     native,
	}, nil
}

// toBGR normalizes raw to 3-channel BGR, taking ownership of raw.
func toBGR(raw gocv.Mat) (gocv.Mat, error) {
	var code gocv.ColorConversionCode
	switch raw.Channels() {
	case 3:
		return raw, nil
	case 4:
		code = gocv.ColorBGRAToBGR
	case 1:
		code = gocv.ColorGrayToBGR
	default:
		n := raw.Channels()
		raw.Close()
		return gocv.Mat{}, fmt.Errorf("camera: unsupported channel count %d", n)
	}
	bgr := gocv.NewMat()
	gocv.CvtColor(raw, &bgr, code)
	raw.Close()
	return bgr, nil
}
