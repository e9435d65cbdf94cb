// Package focus scores image sharpness with the variance of the Laplacian.
package focus

import (
	"errors"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-smartcapture/pkg/camera"
)

// DefaultThreshold is the Laplacian variance above which a frame counts as
// in focus. Calibrated for 8-bit grayscale at detection resolution.
const DefaultThreshold = 100.0

// ErrEmptyFrame is returned when asked to score an empty raster.
var ErrEmptyFrame = errors.New("focus: empty frame")

// State is the binary focus classification.
type State int

const (
	OutOfFocus State = iota
	InFocus
)

func (s State) String() string {
	if s == InFocus {
		return "in_focus"
	}
	return "out_of_focus"
}

// MarshalText renders the state as its string form in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Score is one frame's sharpness reading.
type Score struct {
	Sharpness float64 `json:"sharpness"`
	State     State   `json:"state"`
}

// Scorer computes Score values. It holds no per-frame state.
type Scorer struct {
	mu        sync.RWMutex
	threshold float64
}

// NewScorer creates a scorer; a non-positive threshold selects DefaultThreshold.
func NewScorer(threshold float64) *Scorer {
	s := &Scorer{}
	s.SetThreshold(threshold)
	return s
}

// Threshold returns the active threshold.
func (s *Scorer) Threshold() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold
}

// SetThreshold changes the in-focus threshold.
func (s *Scorer) SetThreshold(threshold float64) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	s.mu.Lock()
	s.threshold = threshold
	s.mu.Unlock()
}

// Score measures a BGR frame.
func (s *Scorer) Score(frame camera.Frame) (Score, error) {
	if frame.Empty() {
		return Score{}, ErrEmptyFrame
	}
	gray := frame.Gray()
	defer gray.Close()
	return s.ScoreGray(gray)
}

// ScoreGray measures a single-channel frame. The variance covers every
// pixel of the Laplacian response, so equal inputs give equal scores.
func (s *Scorer) ScoreGray(gray gocv.Mat) (Score, error) {
	if gray.Empty() {
		return Score{}, ErrEmptyFrame
	}

	sharpness := LaplacianVariance(gray)
	state := OutOfFocus
	if sharpness > s.Threshold() {
		state = InFocus
	}
	return Score{Sharpness: sharpness, State: state}, nil
}

// LaplacianVariance returns the population variance of the 3x3 Laplacian of gray.
func LaplacianVariance(gray gocv.Mat) float64 {
	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(gray, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)

	mean := gocv.NewMat()
	defer mean.Close()
	stddev := gocv.NewMat()
	defer stddev.Close()
	gocv.MeanStdDev(lap, &mean, &stddev)

	sd := stddev.GetDoubleAt(0, 0)
	return sd * sd
}
