package camera

import (
	"image"
	"time"

	"gocv.io/x/gocv"
)

// Resolution selects which of the two sampling resolutions to produce.
type Resolution int

const (
	// ResolutionDetection is the capped size used by per-tick analysis.
	ResolutionDetection Resolution = iota
	// ResolutionFull is the source's native size, used only at capture time.
	ResolutionFull
)

func (r Resolution) String() string {
	if r == ResolutionFull {
		return "full"
	}
	return "detection"
}

// Frame is one sampled raster. It is owned by whoever called Sample and must
// be closed at the end of the tick; analyses only read from it.
type Frame struct {
	Mat        gocv.Mat // 8-bit BGR
	Seq        uint64
	At         time.Time
	Resolution Resolution

	// Native is the source size the frame was sampled from.
	Native image.Point
}

// Size returns the frame dimensions.
func (f Frame) Size() image.Point {
	return image.Pt(f.Mat.Cols(), f.Mat.Rows())
}

// Empty reports whether the frame holds no pixels.
func (f Frame) Empty() bool {
	return f.Mat.Empty()
}

// Gray returns a new single-channel copy of the frame. The caller closes it.
func (f Frame) Gray() gocv.Mat {
	gray := gocv.NewMat()
	gocv.CvtColor(f.Mat, &gray, gocv.ColorBGRToGray)
	return gray
}

// Close releases the pixel buffer.
func (f Frame) Close() error {
	return f.Mat.Close()
}
