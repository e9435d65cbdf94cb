package scan

import (
	"fmt"
	"sort"
	"time"

	"github.com/teslashibe/go-smartcapture/pkg/detect"
	"github.com/teslashibe/go-smartcapture/pkg/motion"
)

// Config holds every scanner tunable. EdgeMinArea is in full-resolution
// pixels and is scaled down to the detection frame each tick; the focus and
// motion thresholds are measured on the detection frame.
type Config struct {
	// Detection
	EdgeMinArea      float64 `json:"edge_min_area"`      // Smallest document area accepted, full-resolution px²
	CannyLow         float32 `json:"canny_low"`          // Canny hysteresis low threshold
	CannyHigh        float32 `json:"canny_high"`         // Canny hysteresis high threshold
	PolyEpsilonRatio float64 `json:"poly_epsilon_ratio"` // Douglas-Peucker epsilon / perimeter
	BlurKernel       int     `json:"blur_kernel"`        // Odd Gaussian kernel size

	// Photo region filters; zero disables
	MinAspect    float64 `json:"min_aspect"`
	MaxAspect    float64 `json:"max_aspect"`
	MaxAreaRatio float64 `json:"max_area_ratio"`

	// Focus and motion
	FocusThreshold          float64 `json:"focus_threshold"`           // Laplacian variance above which a frame is sharp
	MotionThreshold         float64 `json:"motion_threshold"`          // Summed abs difference above which a frame moved
	MotionNoiseFloor        float64 `json:"motion_noise_floor"`        // Per-pixel differences at or below this are ignored
	StabilityRequiredFrames int     `json:"stability_required_frames"` // Still ticks before Stable

	// Scheduling
	TickIntervalMs    int    `json:"tick_interval_ms"`
	DetectionMaxWidth int    `json:"detection_max_width"` // Cap on the per-tick frame width
	FreshnessTicks    uint64 `json:"freshness_ticks"`     // How many ticks old a quad may be at capture
	NotReadyWarnMs    int    `json:"not_ready_warn_ms"`   // Warn once the camera stays not-ready this long

	// Output
	JPEGQuality int `json:"jpeg_quality"`
}

// DefaultConfig returns the reference tuning.
func DefaultConfig() Config {
	return Config{
		EdgeMinArea:      5000,
		CannyLow:         50,
		CannyHigh:        150,
		PolyEpsilonRatio: 0.02,
		BlurKernel:       5,

		FocusThreshold:          100,
		MotionThreshold:         motion.DefaultThreshold,
		StabilityRequiredFrames: motion.DefaultRequiredFrames,

		TickIntervalMs:    200,
		DetectionMaxWidth: 640,
		FreshnessTicks:    1,
		NotReadyWarnMs:    5000,

		JPEGQuality: 92,
	}
}

// DocumentsConfig favours flat paper: page-like shapes, low blur tolerance.
func DocumentsConfig() Config {
	cfg := DefaultConfig()
	cfg.EdgeMinArea = 15000
	cfg.MinAspect = 0.5
	cfg.MaxAspect = 2.0
	cfg.MaxAreaRatio = detect.RegionMaxAreaRatio
	cfg.FocusThreshold = 150
	return cfg
}

// PhotosConfig accepts small prints and glossy surfaces, and skips
// print-unlike shapes.
func PhotosConfig() Config {
	cfg := DefaultConfig()
	cfg.EdgeMinArea = 3000
	cfg.CannyLow = 30
	cfg.CannyHigh = 120
	cfg.MinAspect = detect.RegionMinAspect
	cfg.MaxAspect = detect.RegionMaxAspect
	cfg.MaxAreaRatio = detect.RegionMaxAreaRatio
	return cfg
}

// LowLightConfig tolerates sensor noise in dim rooms.
func LowLightConfig() Config {
	cfg := DefaultConfig()
	cfg.BlurKernel = 7
	cfg.FocusThreshold = 60
	cfg.MotionNoiseFloor = 8
	cfg.StabilityRequiredFrames = 12
	return cfg
}

// FastConfig ticks twice as often and arms sooner.
func FastConfig() Config {
	cfg := DefaultConfig()
	cfg.TickIntervalMs = 100
	cfg.StabilityRequiredFrames = 6
	cfg.DetectionMaxWidth = 480
	return cfg
}

// Presets returns all named presets.
func Presets() map[string]Config {
	return map[string]Config{
		"default":   DefaultConfig(),
		"documents": DocumentsConfig(),
		"photos":    PhotosConfig(),
		"lowlight":  LowLightConfig(),
		"fast":      FastConfig(),
	}
}

// PresetNames returns preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, 5)
	for name := range Presets() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPreset returns a preset by name, or nil.
func GetPreset(name string) *Config {
	if cfg, ok := Presets()[name]; ok {
		return &cfg
	}
	return nil
}

// Validate returns a message per invalid field; empty means valid.
func (c *Config) Validate() []string {
	var errs []string
	if c.EdgeMinArea < 0 {
		errs = append(errs, "edge_min_area must be >= 0")
	}
	if c.CannyLow <= 0 || c.CannyHigh <= 0 {
		errs = append(errs, "canny thresholds must be positive")
	} else if c.CannyLow >= c.CannyHigh {
		errs = append(errs, fmt.Sprintf("canny_low (%.0f) must be below canny_high (%.0f)", c.CannyLow, c.CannyHigh))
	}
	if c.PolyEpsilonRatio <= 0 || c.PolyEpsilonRatio >= 0.5 {
		errs = append(errs, "poly_epsilon_ratio must be in (0, 0.5)")
	}
	if c.BlurKernel < 1 || c.BlurKernel%2 == 0 {
		errs = append(errs, "blur_kernel must be a positive odd number")
	}
	if c.MinAspect < 0 || c.MaxAspect < 0 || (c.MaxAspect > 0 && c.MinAspect > c.MaxAspect) {
		errs = append(errs, "aspect window must satisfy 0 <= min_aspect <= max_aspect")
	}
	if c.MaxAreaRatio < 0 || c.MaxAreaRatio > 1 {
		errs = append(errs, "max_area_ratio must be in [0, 1]")
	}
	if c.FocusThreshold <= 0 {
		errs = append(errs, "focus_threshold must be > 0")
	}
	if c.MotionThreshold < 0 || c.MotionNoiseFloor < 0 {
		errs = append(errs, "motion thresholds must be >= 0")
	}
	if c.StabilityRequiredFrames < 1 {
		errs = append(errs, "stability_required_frames must be >= 1")
	}
	if c.TickIntervalMs < 10 || c.TickIntervalMs > 5000 {
		errs = append(errs, "tick_interval_ms must be 10-5000")
	}
	if c.DetectionMaxWidth < 64 {
		errs = append(errs, "detection_max_width must be >= 64")
	}
	if c.NotReadyWarnMs < 0 {
		errs = append(errs, "not_ready_warn_ms must be >= 0")
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errs = append(errs, "jpeg_quality must be 1-100")
	}
	return errs
}

// TickInterval returns the timer period.
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

// NotReadyWarnAfter returns how long the camera may stay not-ready before
// the scheduler reports a camera fault.
func (c Config) NotReadyWarnAfter() time.Duration {
	return time.Duration(c.NotReadyWarnMs) * time.Millisecond
}

// DetectConfig returns the detector settings. Still-image intake uses it to
// run detection outside the scheduler.
func (c Config) DetectConfig() detect.Config {
	return detect.Config{
		MinArea:      c.EdgeMinArea,
		CannyLow:     c.CannyLow,
		CannyHigh:    c.CannyHigh,
		EpsilonRatio: c.PolyEpsilonRatio,
		BlurKernel:   c.BlurKernel,
		MinAspect:    c.MinAspect,
		MaxAspect:    c.MaxAspect,
		MaxAreaRatio: c.MaxAreaRatio,
	}
}

// MotionConfig returns the stability tracker settings.
func (c Config) MotionConfig() motion.Config {
	return motion.Config{
		Threshold:      c.MotionThreshold,
		RequiredFrames: c.StabilityRequiredFrames,
		NoiseFloor:     c.MotionNoiseFloor,
	}
}

