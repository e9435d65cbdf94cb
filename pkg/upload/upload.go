// Package upload hands finished captures to the photo store.
//
// The scanner never retries on its own; an Uploader decides whether and how
// to retry. HTTP posts multipart forms to the capture endpoint, Dir writes
// files locally, and Mock records calls for tests.
//
//	up, _ := upload.NewHTTP(
//	    upload.WithURL("https://photos.example.com/camera/upload"),
//	    upload.WithToken(os.Getenv("SMARTCAPTURE_UPLOAD_TOKEN")),
//	)
//	receipt, err := up.Upload(ctx, jpeg, meta)
package upload

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Uploader accepts a finished JPEG plus its metadata.
type Uploader interface {
	Upload(ctx context.Context, img []byte, meta Metadata) (*Receipt, error)
}

// Mode is the capture mode chosen in the UI.
type Mode string

const (
	ModeSingle     Mode = "single"
	ModeSequential Mode = "sequential"
	ModeQuad       Mode = "quad"
)

// Quadrant labels for quad mode: four shots of one large print.
var Quadrants = []string{"tl", "tr", "bl", "br"}

// Metadata describes one capture.
type Metadata struct {
	ID         string    `json:"id"`
	Mode       Mode      `json:"capture_mode"`
	Quadrant   string    `json:"quadrant,omitempty"`
	Sequence   int       `json:"sequence_number,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
	Rectified  bool      `json:"rectified"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
}

// Validate checks mode-specific fields. An empty mode is treated as single.
func (m Metadata) Validate() error {
	switch m.Mode {
	case "", ModeSingle:
		if m.Quadrant != "" || m.Sequence != 0 {
			return fmt.Errorf("%w: single capture takes no quadrant or sequence", ErrInvalidMetadata)
		}
	case ModeSequential:
		if m.Sequence < 1 {
			return fmt.Errorf("%w: sequence number must be positive", ErrInvalidMetadata)
		}
	case ModeQuad:
		if !validQuadrant(m.Quadrant) {
			return fmt.Errorf("%w: quadrant %q not one of %v", ErrInvalidMetadata, m.Quadrant, Quadrants)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidMetadata, m.Mode)
	}
	return nil
}

func validQuadrant(q string) bool {
	for _, v := range Quadrants {
		if q == v {
			return true
		}
	}
	return false
}

// Filename returns camera[_quad_<q>|_seq_<n>]_<timestamp>_<id8>.jpg.
func (m Metadata) Filename() string {
	prefix := "camera"
	switch {
	case m.Quadrant != "":
		prefix += "_quad_" + m.Quadrant
	case m.Sequence > 0:
		prefix += "_seq_" + strconv.Itoa(m.Sequence)
	}

	at := m.CapturedAt
	if at.IsZero() {
		at = time.Now()
	}
	id := m.ID
	if len(id) > 8 {
		id = id[:8]
	}
	if id == "" {
		return fmt.Sprintf("%s_%s.jpg", prefix, at.UTC().Format("20060102_150405"))
	}
	return fmt.Sprintf("%s_%s_%s.jpg", prefix, at.UTC().Format("20060102_150405"), id)
}

// Receipt is what the store reports back.
type Receipt struct {
	PhotoID  string `json:"photo_id,omitempty"`
	Filename string `json:"filename"`
	Location string `json:"location,omitempty"` // URL or path
	Size     int    `json:"file_size"`
}
