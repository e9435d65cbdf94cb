// Package motion measures inter-frame motion and tracks how long the camera
// has been held still.
package motion

import (
	"errors"
	"sync"

	"gocv.io/x/gocv"
)

// Defaults for Config.
const (
	DefaultThreshold      = 5000.0
	DefaultRequiredFrames = 10
)

// ErrEmptyFrame is returned when asked to compare an empty raster.
var ErrEmptyFrame = errors.New("motion: empty frame")

// StabilityState is the two-state stability machine.
type StabilityState int

const (
	Stabilizing StabilityState = iota
	Stable
)

func (s StabilityState) String() string {
	if s == Stable {
		return "stable"
	}
	return "stabilizing"
}

// MarshalText renders the state as its string form in JSON.
func (s StabilityState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Reading is the tracker output for one frame.
type Reading struct {
	Level     float64        `json:"level"`      // Sum of absolute pixel differences
	HasMotion bool           `json:"has_motion"` // Level > Threshold
	Counter   int            `json:"counter"`    // Consecutive no-motion frames
	State     StabilityState `json:"state"`
	Required  int            `json:"required"` // Frames needed for Stable
}

// Progress returns Counter/Required clamped to [0, 1].
func (r Reading) Progress() float64 {
	if r.Required <= 0 {
		return 1
	}
	p := float64(r.Counter) / float64(r.Required)
	if p > 1 {
		return 1
	}
	return p
}

// Config holds tracker tunables.
type Config struct {
	Threshold      float64 // Motion level above which a frame counts as moving
	RequiredFrames int     // Consecutive still frames before Stable
	NoiseFloor     float64 // Per-pixel differences at or below this are ignored; 0 disables
}

// DefaultConfig returns the reference tuning.
func DefaultConfig() Config {
	return Config{
		Threshold:      DefaultThreshold,
		RequiredFrames: DefaultRequiredFrames,
	}
}

// Tracker diffs consecutive grayscale frames. It keeps exactly one previous
// frame, replaced on every update.
type Tracker struct {
	mu      sync.Mutex
	config  Config
	prev    gocv.Mat
	hasPrev bool
	counter int
}

// NewTracker creates a tracker with cfg.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{
		config: sanitize(cfg),
		prev:   gocv.NewMat(),
	}
}

func sanitize(cfg Config) Config {
	if cfg.Threshold < 0 {
		cfg.Threshold = 0
	}
	if cfg.RequiredFrames < 1 {
		cfg.RequiredFrames = 1
	}
	return cfg
}

// Config returns the active configuration.
func (t *Tracker) Config() Config {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.config
}

// SetConfig changes thresholds without touching the counter or buffer.
func (t *Tracker) SetConfig(cfg Config) {
	t.mu.Lock()
	t.config = sanitize(cfg)
	t.mu.Unlock()
}

// Update compares gray with the previous frame and advances the stability
// machine. With no previous frame (first call, or a resolution change) the
// level is zero and the counter is left alone. gray is copied, not retained.
func (t *Tracker) Update(gray gocv.Mat) (Reading, error) {
	if gray.Empty() {
		return Reading{}, ErrEmptyFrame
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var r Reading
	if t.hasPrev && t.prev.Rows() == gray.Rows() && t.prev.Cols() == gray.Cols() {
		r.Level = t.diff(gray)
		r.HasMotion = r.Level > t.config.Threshold
		if r.HasMotion {
			t.counter = 0
		} else {
			t.counter++
		}
	}

	gray.CopyTo(&t.prev)
	t.hasPrev = true

	return t.reading(r), nil
}

func (t *Tracker) diff(gray gocv.Mat) float64 {
	delta := gocv.NewMat()
	defer delta.Close()
	gocv.AbsDiff(gray, t.prev, &delta)

	if t.config.NoiseFloor > 0 {
		gocv.Threshold(delta, &delta, float32(t.config.NoiseFloor), 255, gocv.ThresholdToZero)
	}
	return delta.Sum().Val1
}

func (t *Tracker) reading(r Reading) Reading {
	r.Counter = t.counter
	r.Required = t.config.RequiredFrames
	if t.counter >= t.config.RequiredFrames {
		r.State = Stable
	} else {
		r.State = Stabilizing
	}
	return r
}

// Current returns the state without consuming a frame.
func (t *Tracker) Current() Reading {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reading(Reading{})
}

// Reset forgets the previous frame and zeroes the counter, as at the start
// of a new camera session.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hasPrev = false
	t.counter = 0
}

// Close releases the previous-frame buffer.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hasPrev = false
	return t.prev.Close()
}
