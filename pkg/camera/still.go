package camera

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Still serves a fixed image as a camera. It backs the still-image commands
// and lets tests script frame sequences by swapping the image between ticks.
type Still struct {
	mu  sync.RWMutex
	mat gocv.Mat
}

// NewStill creates a source serving a copy of img. An empty Mat yields a
// source that is not ready until Set is called.
func NewStill(img gocv.Mat) *Still {
	s := &Still{mat: gocv.NewMat()}
	if !img.Empty() {
		img.CopyTo(&s.mat)
	}
	return s
}

// OpenStill loads an image file as a source.
func OpenStill(path string) (*Still, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return nil, fmt.Errorf("camera: cannot read image %s", path)
	}
	defer img.Close()
	return NewStill(img), nil
}

// Set replaces the served image with a copy of img.
func (s *Still) Set(img gocv.Mat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img.CopyTo(&s.mat)
}

// Size returns the image dimensions, or zero when empty.
func (s *Still) Size() image.Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.mat.Empty() {
		return image.Point{}
	}
	return image.Pt(s.mat.Cols(), s.mat.Rows())
}

// Read copies the current image into dst.
func (s *Still) Read(dst *gocv.Mat) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.mat.CopyTo(dst)
	return nil
}

// Close releases the stored image.
func (s *Still) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mat.Close()
}
