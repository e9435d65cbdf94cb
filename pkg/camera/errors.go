package camera

import "errors"

var (
	// ErrNotReady is returned while a source reports zero dimensions, e.g.
	// before the first frame or stream metadata has arrived. Callers skip
	// the tick rather than treat it as fatal.
	ErrNotReady = errors.New("camera: source not ready")

	// ErrClosed is returned when reading from a closed source.
	ErrClosed = errors.New("camera: source closed")

	// ErrReadFailed is returned when the driver hands back no frame.
	ErrReadFailed = errors.New("camera: read failed")

	// ErrInvalidConfig wraps rejected camera settings.
	ErrInvalidConfig = errors.New("camera: invalid config")
)
