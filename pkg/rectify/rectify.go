// Package rectify warps a detected quadrilateral out of a full-resolution
// frame into a flat, upright rectangle.
package rectify

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-smartcapture/pkg/geom"
)

var (
	// ErrDegenerate is returned when the quad cannot be sorted or sized.
	// It also matches geom.ErrDegenerate via errors.Is.
	ErrDegenerate = errors.New("rectify: degenerate quadrilateral")

	// ErrWarpFailed is returned when the homography or resampling fails.
	ErrWarpFailed = errors.New("rectify: warp failed")

	// ErrEmptyFrame is returned for an empty source raster.
	ErrEmptyFrame = errors.New("rectify: empty frame")
)

// Result is a rectified image plus the geometry that produced it.
type Result struct {
	Image   gocv.Mat  // Caller closes
	Corners geom.Quad // Sorted source corners
	Width   int
	Height  int
}

// Rectifier holds warp parameters. It is stateless between calls.
type Rectifier struct {
	minArea       float64
	interpolation gocv.InterpolationFlags
}

// New creates a rectifier rejecting quads of area at or below minArea
// (full-resolution pixels).
func New(minArea float64) *Rectifier {
	return &Rectifier{minArea: minArea, interpolation: gocv.InterpolationLinear}
}

// Rectify returns the content of quad in src, warped to an upright
// rectangle. The output is sized from the longer of each pair of opposite
// edges. On failure no image is returned.
func (r *Rectifier) Rectify(src gocv.Mat, quad geom.Quad) (*Result, error) {
	if src.Empty() {
		return nil, ErrEmptyFrame
	}

	sorted, err := geom.SortCorners(quad)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDegenerate, err)
	}
	if err := sorted.Validate(r.minArea); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDegenerate, err)
	}

	fw, fh := geom.OutputSize(sorted)
	w, h := int(math.Round(fw)), int(math.Round(fh))
	if w < 1 || h < 1 {
		return nil, fmt.Errorf("%w: output %dx%d", ErrDegenerate, w, h)
	}

	srcPts := gocv.NewPoint2fVectorFromPoints(toPoint2f(sorted))
	defer srcPts.Close()
	dstPts := gocv.NewPoint2fVectorFromPoints([]gocv.Point2f{
		{X: 0, Y: 0},
		{X: float32(w), Y: 0},
		{X: float32(w), Y: float32(h)},
		{X: 0, Y: float32(h)},
	})
	defer dstPts.Close()

	m := gocv.GetPerspectiveTransform2f(srcPts, dstPts)
	defer m.Close()
	if m.Empty() || !finite(m) {
		return nil, fmt.Errorf("%w: singular homography", ErrWarpFailed)
	}

	out := gocv.NewMat()
	gocv.WarpPerspectiveWithParams(src, &out, m, image.Pt(w, h), r.interpolation, gocv.BorderReplicate, color.RGBA{})
	if out.Empty() {
		out.Close()
		return nil, ErrWarpFailed
	}

	return &Result{Image: out, Corners: sorted, Width: w, Height: h}, nil
}

func toPoint2f(q geom.Quad) []gocv.Point2f {
	pts := make([]gocv.Point2f, 4)
	for i, p := range q {
		pts[i] = gocv.Point2f{X: float32(p.X), Y: float32(p.Y)}
	}
	return pts
}

func finite(m gocv.Mat) bool {
	for r := 0; r < m.Rows(); r++ {
		for c := 0; c < m.Cols(); c++ {
			v := m.GetDoubleAt(r, c)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
