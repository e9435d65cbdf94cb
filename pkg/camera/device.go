package camera

import (
	"fmt"
	"image"
	"strconv"
	"sync"

	"gocv.io/x/gocv"
)

// Device reads frames from a local camera, video file or RTSP URL through
// OpenCV's VideoCapture.
type Device struct {
	vc     *gocv.VideoCapture
	mu     sync.Mutex
	closed bool
}

// OpenDevice opens the capture named by cfg.Device and applies the
// requested resolution. Numeric names are treated as device indexes.
func OpenDevice(cfg Config) (*Device, error) {
	var id interface{} = cfg.Device
	if n, err := strconv.Atoi(cfg.Device); err == nil {
		id = n
	}

	vc, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, fmt.Errorf("open camera %q: %w", cfg.Device, err)
	}

	d := &Device{vc: vc}
	d.apply(cfg)
	return d, nil
}

// Apply pushes new resolution and framerate settings to the driver.
// It is suitable as a Manager.OnConfigChange callback.
func (d *Device) Apply(cfg Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.apply(cfg)
	return nil
}

func (d *Device) apply(cfg Config) {
	if cfg.Width > 0 && cfg.Height > 0 {
		d.vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
		d.vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}
	if cfg.Framerate > 0 {
		d.vc.Set(gocv.VideoCaptureFPS, float64(cfg.Framerate))
	}
	af := 0.0
	if cfg.Autofocus {
		af = 1
	}
	d.vc.Set(gocv.VideoCaptureAutoFocus, af)
}

// Size returns the driver's reported frame size.
func (d *Device) Size() image.Point {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return image.Point{}
	}
	return image.Pt(
		int(d.vc.Get(gocv.VideoCaptureFrameWidth)),
		int(d.vc.Get(gocv.VideoCaptureFrameHeight)),
	)
}

// Read grabs the next frame into dst.
func (d *Device) Read(dst *gocv.Mat) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if ok := d.vc.Read(dst); !ok {
		return ErrReadFailed
	}
	return nil
}

// Close releases the capture device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.vc.Close()
}
