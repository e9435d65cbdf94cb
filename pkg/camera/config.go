// Package camera provides the video sources the scanner reads from and the
// frame sampler that turns them into per-tick rasters.
package camera

import "strings"

// Config holds camera source settings.
// These can be modified via the camera API at runtime.
type Config struct {
	// Device is a V4L/AVFoundation index ("0"), a video file or RTSP URL,
	// or a ws:// URL serving JPEG frames.
	Device string `json:"device"`

	// === Resolution ===
	// Width and Height request the native capture resolution used at
	// capture time. Detection runs on a capped copy (see scan.Config).
	Width     int `json:"width"`
	Height    int `json:"height"`
	Framerate int `json:"framerate"` // Target FPS

	// Autofocus toggles the driver's continuous autofocus when supported.
	Autofocus bool `json:"autofocus"`
}

// Resolution limits accepted from configuration.
const (
	MaxWidth     = 7680
	MaxHeight    = 4320
	MaxFramerate = 120
)

// DefaultConfig returns the recommended document-capture configuration.
// 1920x1080 keeps full-resolution captures sharp while staying cheap to grab.
func DefaultConfig() Config {
	return Config{
		Device:    "0",
		Width:     1920,
		Height:    1080,
		Framerate: 30,
		Autofocus: true,
	}
}

// IsStream reports whether Device names a websocket JPEG feed.
func (c Config) IsStream() bool {
	return strings.HasPrefix(c.Device, "ws://") || strings.HasPrefix(c.Device, "wss://")
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.Device == "" {
		errors = append(errors, "device is required")
	}
	if c.Width < 160 || c.Width > MaxWidth {
		errors = append(errors, "width must be between 160 and 7680")
	}
	if c.Height < 120 || c.Height > MaxHeight {
		errors = append(errors, "height must be between 120 and 4320")
	}
	if c.Framerate < 1 || c.Framerate > MaxFramerate {
		errors = append(errors, "framerate must be between 1 and 120")
	}

	return errors
}
