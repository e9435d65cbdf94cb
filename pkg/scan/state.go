package scan

import (
	"errors"
	"image"
	"time"

	"github.com/teslashibe/go-smartcapture/pkg/focus"
	"github.com/teslashibe/go-smartcapture/pkg/geom"
	"github.com/teslashibe/go-smartcapture/pkg/motion"
)

var (
	// ErrNotRunning is returned by Tick and Capture while the scheduler is Idle.
	ErrNotRunning = errors.New("scan: scheduler not running")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("scan: scheduler closed")

	// ErrAlreadyRunning is returned by Start on a running scheduler.
	ErrAlreadyRunning = errors.New("scan: scheduler already running")

	// ErrCaptureInProgress is returned when a capture is requested while
	// another one is still being processed.
	ErrCaptureInProgress = errors.New("scan: capture already in progress")

	// ErrInvalidConfig wraps the messages from Config.Validate.
	ErrInvalidConfig = errors.New("scan: invalid config")

	// ErrNoOverlay is returned by OverlayPNG before the first tick.
	ErrNoOverlay = errors.New("scan: no overlay rendered yet")
)

// Phase is the scheduler state.
type Phase int

const (
	// Idle: camera off, no ticks run.
	Idle Phase = iota
	// Detecting: the tick timer is running.
	Detecting
	// CaptureRequested: the timer is paused while one capture is processed.
	CaptureRequested
)

func (p Phase) String() string {
	switch p {
	case Detecting:
		return "detecting"
	case CaptureRequested:
		return "capture_requested"
	}
	return "idle"
}

// MarshalText renders the phase as its string form in JSON.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// FallbackReason says why a capture was not rectified.
type FallbackReason int

const (
	FallbackNone FallbackReason = iota
	// FallbackNoQuad: nothing has been detected this session.
	FallbackNoQuad
	// FallbackStale: the last quad is older than the freshness window.
	FallbackStale
	// FallbackDegenerate: the quad could not be sorted or warped.
	FallbackDegenerate
)

func (f FallbackReason) String() string {
	switch f {
	case FallbackNoQuad:
		return "no_quad"
	case FallbackStale:
		return "stale"
	case FallbackDegenerate:
		return "degenerate"
	}
	return "none"
}

// MarshalText renders the reason as its string form in JSON.
func (f FallbackReason) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// State is the merged output of the latest tick. The scheduler owns the only
// live instance; callers get copies from Snapshot and subscriptions.
type State struct {
	Phase Phase  `json:"phase"`
	Tick  uint64 `json:"tick"`

	// Frame geometry of the latest sampled tick
	FrameSize  image.Point `json:"frame_size"`
	NativeSize image.Point `json:"native_size"`
	SampledAt  time.Time   `json:"sampled_at"`

	// Quad is held across ticks with no detection; QuadTick says when it
	// was last seen. Coordinates are in the detection frame.
	Quad           *geom.Quad `json:"quad,omitempty"`
	QuadTick       uint64     `json:"quad_tick"`
	QuadConfidence float64    `json:"quad_confidence"`

	Focus  focus.Score    `json:"focus"`
	Motion motion.Reading `json:"motion"`

	// CameraReady is false while ticks are being skipped; CameraFault is
	// raised once that lasts beyond the configured warning delay.
	CameraReady bool `json:"camera_ready"`
	CameraFault bool `json:"camera_fault"`
}

// QuadFresh reports whether the held quad was detected within the last
// window ticks, counting the current one.
func (s State) QuadFresh(window uint64) bool {
	if s.Quad == nil || s.Tick == 0 {
		return false
	}
	return s.QuadTick+window >= s.Tick
}

// Armed reports whether every signal agrees the shot is ready: a quad seen
// this tick, sharp focus and a steady camera. Advisory only; capture is
// always allowed.
func (s State) Armed() bool {
	return s.QuadFresh(0) && s.Focus.State == focus.InFocus && s.Motion.State == motion.Stable
}

// clone returns a copy that shares nothing mutable with s.
func (s State) clone() State {
	if s.Quad != nil {
		q := *s.Quad
		s.Quad = &q
	}
	return s
}
