package detect

import (
	"image"
	"sort"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-smartcapture/pkg/camera"
	"github.com/teslashibe/go-smartcapture/pkg/debug"
	"github.com/teslashibe/go-smartcapture/pkg/geom"
)

// EdgeDetector runs blur, Canny, contour extraction and polygon
// approximation, keeping the largest four-vertex candidate.
type EdgeDetector struct {
	mu     sync.RWMutex
	config Config
}

// NewEdgeDetector creates a detector with cfg. Invalid blur kernels are
// rounded up to the next odd size.
func NewEdgeDetector(cfg Config) *EdgeDetector {
	return &EdgeDetector{config: normalize(cfg)}
}

func normalize(cfg Config) Config {
	if cfg.BlurKernel < 1 {
		cfg.BlurKernel = 1
	}
	if cfg.BlurKernel%2 == 0 {
		cfg.BlurKernel++
	}
	if cfg.EpsilonRatio <= 0 {
		cfg.EpsilonRatio = DefaultConfig().EpsilonRatio
	}
	return cfg
}

// Config returns the active configuration.
func (d *EdgeDetector) Config() Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// SetConfig swaps the configuration used from the next call on.
func (d *EdgeDetector) SetConfig(cfg Config) {
	d.mu.Lock()
	d.config = normalize(cfg)
	d.mu.Unlock()
}

// Detect converts the frame to grayscale and looks for a document outline.
// It returns nil when nothing qualifies.
func (d *EdgeDetector) Detect(frame camera.Frame) (*Result, error) {
	if frame.Empty() {
		return nil, ErrEmptyFrame
	}
	gray := frame.Gray()
	defer gray.Close()
	return d.DetectGray(gray)
}

// DetectGray is Detect for a frame that is already single-channel. The
// pipeline shares one grayscale conversion across its analyses.
func (d *EdgeDetector) DetectGray(gray gocv.Mat) (*Result, error) {
	return d.DetectScaled(gray, 1)
}

// DetectScaled is DetectGray on a downscaled copy of a larger frame.
// MinArea is in full-resolution pixels; areaScale is the copy's pixel count
// over the full frame's, so a copy at a third of the width passes 1/9.
//
// Contours are visited in the order OpenCV returns them. A contour is only
// approximated if its area beats both the scaled MinArea and the best
// accepted area so far, so among equal areas the first one found wins.
func (d *EdgeDetector) DetectScaled(gray gocv.Mat, areaScale float64) (*Result, error) {
	if gray.Empty() {
		return nil, ErrEmptyFrame
	}
	cfg := d.Config()
	minArea := cfg.MinArea * clampScale(areaScale)

	contours := findContours(gray, cfg)
	defer contours.Close()

	frameArea := float64(gray.Rows() * gray.Cols())

	var best *Result
	bestArea := 0.0
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		area := gocv.ContourArea(contour)
		if area <= minArea || area <= bestArea {
			continue
		}
		res, ok := candidate(cfg, contour, area, frameArea)
		if !ok {
			continue
		}
		best = &res
		bestArea = area
	}

	if best != nil {
		debug.TickLog("📄 quad area=%.0f conf=%.2f (%d contours)\n", best.Area, best.Confidence, contours.Size())
	}
	return best, nil
}

// DetectAll returns every qualifying quad in gray with a confidence of at
// least MinRegionConfidence, best first, at most MaxRegions of them. It is
// meant for stills holding several prints, such as an album page. areaScale
// is as for DetectScaled.
func (d *EdgeDetector) DetectAll(gray gocv.Mat, areaScale float64) ([]Result, error) {
	if gray.Empty() {
		return nil, ErrEmptyFrame
	}
	cfg := d.Config()
	minArea := cfg.MinArea * clampScale(areaScale)

	contours := findContours(gray, cfg)
	defer contours.Close()

	frameArea := float64(gray.Rows() * gray.Cols())

	var found []Result
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		area := gocv.ContourArea(contour)
		if area <= minArea {
			continue
		}
		res, ok := candidate(cfg, contour, area, frameArea)
		if !ok || res.Confidence < MinRegionConfidence {
			continue
		}
		found = append(found, res)
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].Confidence != found[j].Confidence {
			return found[i].Confidence > found[j].Confidence
		}
		return found[i].Area > found[j].Area
	})
	if len(found) > MaxRegions {
		found = found[:MaxRegions]
	}
	debug.Log("📄 %d regions (%d contours)\n", len(found), contours.Size())
	return found, nil
}

// findContours blurs, runs Canny and returns the external contours. The
// caller closes the result.
func findContours(gray gocv.Mat, cfg Config) gocv.PointsVector {
	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Pt(cfg.BlurKernel, cfg.BlurKernel), 0, 0, gocv.BorderDefault)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(blurred, &edges, cfg.CannyLow, cfg.CannyHigh)

	return gocv.FindContours(edges, gocv.RetrievalExternal, gocv.ChainApproxSimple)
}

// candidate applies the shape filters to a contour that already passed the
// area floor.
func candidate(cfg Config, contour gocv.PointVector, area, frameArea float64) (Result, bool) {
	if cfg.MaxAreaRatio > 0 && area > frameArea*cfg.MaxAreaRatio {
		return Result{}, false
	}
	quad, ok := approximate(contour, cfg.EpsilonRatio)
	if !ok {
		return Result{}, false
	}
	size := quad.Bounds().Size()
	if !aspectOK(cfg, size.X, size.Y) {
		return Result{}, false
	}
	return Result{
		Quad:       quad,
		Area:       area,
		Confidence: Confidence(area, size.X, size.Y),
	}, true
}

func clampScale(s float64) float64 {
	if s <= 0 || s > 1 {
		return 1
	}
	return s
}

// approximate runs Douglas-Peucker on contour and reports whether it reduced
// to a simple quadrilateral.
func approximate(contour gocv.PointVector, epsilonRatio float64) (geom.Quad, bool) {
	perimeter := gocv.ArcLength(contour, true)
	approx := gocv.ApproxPolyDP(contour, epsilonRatio*perimeter, true)
	defer approx.Close()

	if approx.Size() != 4 {
		return geom.Quad{}, false
	}
	quad, err := geom.FromImagePoints(approx.ToPoints())
	if err != nil || !quad.IsSimple() {
		return geom.Quad{}, false
	}
	return quad, true
}

func aspectOK(cfg Config, w, h float64) bool {
	if h <= 0 {
		return false
	}
	aspect := w / h
	if cfg.MinAspect > 0 && aspect < cfg.MinAspect {
		return false
	}
	if cfg.MaxAspect > 0 && aspect > cfg.MaxAspect {
		return false
	}
	return true
}
