package camera

import (
	"image"

	"gocv.io/x/gocv"
)

// Source is a live camera or video feed.
type Source interface {
	// Size returns the current native frame dimensions. A zero size means the
	// source is not ready yet.
	Size() image.Point

	// Read draws the current frame into dst as 8-bit BGR (or BGRA/gray,
	// which the sampler normalizes).
	Read(dst *gocv.Mat) error
}

// Closer is implemented by sources holding native or network resources.
type Closer interface {
	Close() error
}
