// Package detect finds the quadrilateral outline of a document or photo held
// in front of the camera.
package detect

import (
	"errors"

	"github.com/teslashibe/go-smartcapture/pkg/geom"
)

// ErrEmptyFrame is returned when asked to detect on an empty raster.
var ErrEmptyFrame = errors.New("detect: empty frame")

// Result is the winning candidate for one frame.
type Result struct {
	Quad       geom.Quad // Vertices in contour order (not canonical)
	Area       float64   // Contour area in px²
	Confidence float64   // 0-1 shape score, informational only
}

// Config holds detector configuration
type Config struct {
	MinArea      float64 // Minimum contour area in px² (edgeMinArea)
	CannyLow     float32 // Canny hysteresis low threshold
	CannyHigh    float32 // Canny hysteresis high threshold
	EpsilonRatio float64 // Douglas-Peucker epsilon as a fraction of perimeter
	BlurKernel   int     // Gaussian kernel size, odd

	// Photo region filters. Zero disables each one.
	MinAspect    float64 // Minimum bounding-box width/height
	MaxAspect    float64 // Maximum bounding-box width/height
	MaxAreaRatio float64 // Reject candidates covering more than this share of the frame
}

// Region filter values used for prints and album pages.
const (
	RegionMinAspect    = 0.3
	RegionMaxAspect    = 3.0
	RegionMaxAreaRatio = 0.98
)

// DetectAll drops candidates below MinRegionConfidence and returns at most
// MaxRegions.
const (
	MinRegionConfidence = 0.3
	MaxRegions          = 10
)

// DefaultConfig returns production defaults. The photo region filters are
// off: the live pipeline keeps the largest quad whatever its shape.
func DefaultConfig() Config {
	return Config{
		MinArea:      5000,
		CannyLow:     50,
		CannyHigh:    150,
		EpsilonRatio: 0.02,
		BlurKernel:   5,
	}
}

// WithRegionFilters returns c with every disabled photo region filter set
// to its Region* value.
func (c Config) WithRegionFilters() Config {
	if c.MinAspect == 0 {
		c.MinAspect = RegionMinAspect
	}
	if c.MaxAspect == 0 {
		c.MaxAspect = RegionMaxAspect
	}
	if c.MaxAreaRatio == 0 {
		c.MaxAreaRatio = RegionMaxAreaRatio
	}
	return c
}

// commonRatios are the print/sensor aspect ratios a photo is likely to have.
var commonRatios = []float64{4.0 / 3, 3.0 / 2, 16.0 / 9, 5.0 / 4, 1.0}

// Confidence scores how photo-like a candidate is: fill of its bounding box,
// closeness to a common print ratio, and a bonus for a typical size.
func Confidence(area, bboxWidth, bboxHeight float64) float64 {
	bboxArea := bboxWidth * bboxHeight
	if bboxArea <= 0 || bboxHeight <= 0 {
		return 0
	}

	score := area / bboxArea * 0.6

	aspect := bboxWidth / bboxHeight
	if aspect < 1 {
		aspect = 1 / aspect
	}
	minDiff := 1.0
	for _, r := range commonRatios {
		if d := abs(aspect - r); d < minDiff {
			minDiff = d
		}
	}
	score += (1 - minDiff) * 0.3

	if bboxArea > 20000 && bboxArea < 500000 {
		score += 0.1
	}

	if score > 1 {
		return 1
	}
	return score
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
