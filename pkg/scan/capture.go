package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-smartcapture/pkg/camera"
	"github.com/teslashibe/go-smartcapture/pkg/geom"
	"github.com/teslashibe/go-smartcapture/pkg/journal"
	"github.com/teslashibe/go-smartcapture/pkg/rectify"
	"github.com/teslashibe/go-smartcapture/pkg/upload"
)

// CaptureRequest is the capture trigger's payload.
type CaptureRequest struct {
	Mode     upload.Mode `json:"capture_mode"`
	Quadrant string      `json:"quadrant,omitempty"`
	// Sequence numbers sequential captures; zero picks the next one.
	Sequence int `json:"sequence_number,omitempty"`
}

func (r CaptureRequest) validate() error {
	meta := upload.Metadata{Mode: r.Mode, Quadrant: r.Quadrant, Sequence: r.Sequence}
	if r.Mode == upload.ModeSequential && r.Sequence == 0 {
		meta.Sequence = 1
	}
	if r.Sequence < 0 {
		return fmt.Errorf("%w: negative sequence number", upload.ErrInvalidMetadata)
	}
	return meta.Validate()
}

// CaptureResult is one finished capture. Image is always present: the
// rectified crop, or the full frame when Fallback says why not.
type CaptureResult struct {
	ID        string         `json:"id"`
	Image     []byte         `json:"-"` // JPEG
	Width     int            `json:"width"`
	Height    int            `json:"height"`
	Rectified bool           `json:"rectified"`
	Fallback  FallbackReason `json:"fallback"`

	// Corners are the sorted full-resolution source corners when rectified.
	Corners *geom.Quad `json:"corners,omitempty"`

	Sharpness  float64         `json:"sharpness"`
	CapturedAt time.Time       `json:"captured_at"`
	Metadata   upload.Metadata `json:"metadata"`
	Receipt    *upload.Receipt `json:"receipt,omitempty"`
}

// Message is the user-facing summary of how the capture went.
func (r *CaptureResult) Message() string {
	if r.Rectified {
		return "captured"
	}
	return "captured without auto-crop"
}

// Capture pauses the tick timer, samples one full-resolution frame and
// rectifies it with the held quad if that quad is fresh. Without a usable
// quad the full frame is kept and Fallback records why; that is not an
// error. The result is handed to the uploader and journal when configured.
// An upload failure returns both the result and the error.
func (s *Scheduler) Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if !s.capturing.CompareAndSwap(false, true) {
		return nil, ErrCaptureInProgress
	}
	defer s.capturing.Store(false)

	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.mu.Lock()
	if s.state.Phase == Idle {
		s.mu.Unlock()
		return nil, ErrNotRunning
	}
	s.state.Phase = CaptureRequested
	session := s.session
	held := s.state.clone()
	if req.Mode == upload.ModeSequential {
		if req.Sequence == 0 {
			req.Sequence = s.nextSeq + 1
		}
		if req.Sequence > s.nextSeq {
			s.nextSeq = req.Sequence
		}
	}
	s.mu.Unlock()
	s.notify(held)
	defer s.resume(session)

	cfg := s.Config()
	frame, err := s.sampler.Sample(ctx, s.src, camera.ResolutionFull)
	if err != nil {
		return nil, fmt.Errorf("scan: capture frame: %w", err)
	}
	defer frame.Close()

	res := &CaptureResult{
		ID:         uuid.NewString(),
		Sharpness:  held.Focus.Sharpness,
		CapturedAt: frame.At,
	}

	img := frame.Mat
	rect, reason := s.rectifyHeld(frame, held, cfg)
	res.Fallback = reason
	if rect != nil {
		defer rect.Image.Close()
		img = rect.Image
		corners := rect.Corners
		res.Corners = &corners
		res.Rectified = true
	}
	res.Width, res.Height = img.Cols(), img.Rows()

	res.Image, err = camera.EncodeJPEG(img, cfg.JPEGQuality)
	if err != nil {
		return nil, fmt.Errorf("scan: capture %s: %w", res.ID, err)
	}

	mode := req.Mode
	if mode == "" {
		mode = upload.ModeSingle
	}
	res.Metadata = upload.Metadata{
		ID:         res.ID,
		Mode:       mode,
		Quadrant:   req.Quadrant,
		Sequence:   req.Sequence,
		CapturedAt: res.CapturedAt,
		Rectified:  res.Rectified,
		Width:      res.Width,
		Height:     res.Height,
	}

	var upErr error
	if s.uploader != nil {
		res.Receipt, upErr = s.uploader.Upload(ctx, res.Image, res.Metadata)
		if upErr != nil {
			upErr = fmt.Errorf("scan: upload %s: %w", res.ID, upErr)
		}
	}
	s.record(ctx, res, upErr)

	s.logger.Info(res.Message(),
		"id", res.ID,
		"mode", mode,
		"size", fmt.Sprintf("%dx%d", res.Width, res.Height),
		"fallback", res.Fallback,
		"uploaded", res.Receipt != nil,
	)
	return res, upErr
}

// rectifyHeld scales the held detection-frame quad to the captured frame
// and warps it. A nil result comes with the reason rectification was skipped.
func (s *Scheduler) rectifyHeld(frame camera.Frame, held State, cfg Config) (*rectify.Result, FallbackReason) {
	if held.Quad == nil || held.FrameSize.X <= 0 || held.FrameSize.Y <= 0 {
		return nil, FallbackNoQuad
	}
	if !held.QuadFresh(cfg.FreshnessTicks) {
		s.logger.Info("held quad is stale", "quad_tick", held.QuadTick, "tick", held.Tick)
		return nil, FallbackStale
	}

	size := frame.Size()
	sx := float64(size.X) / float64(held.FrameSize.X)
	sy := float64(size.Y) / float64(held.FrameSize.Y)

	rect, err := rectify.New(cfg.EdgeMinArea).Rectify(frame.Mat, held.Quad.Scale(sx, sy))
	if err != nil {
		s.logger.Info("rectification failed, keeping full frame", "error", err)
		return nil, FallbackDegenerate
	}
	return rect, FallbackNone
}

// resume returns to Detecting unless the session ended meanwhile.
func (s *Scheduler) resume(session uint64) {
	s.mu.Lock()
	if s.session != session || s.state.Phase != CaptureRequested {
		s.mu.Unlock()
		return
	}
	s.state.Phase = Detecting
	snap := s.state.clone()
	s.mu.Unlock()
	s.notify(snap)
}

func (s *Scheduler) record(ctx context.Context, res *CaptureResult, upErr error) {
	if s.recorder == nil {
		return
	}
	e := journal.Entry{
		ID:         res.ID,
		Mode:       string(res.Metadata.Mode),
		Quadrant:   res.Metadata.Quadrant,
		Sequence:   res.Metadata.Sequence,
		Rectified:  res.Rectified,
		Width:      res.Width,
		Height:     res.Height,
		Sharpness:  res.Sharpness,
		Uploaded:   res.Receipt != nil,
		CapturedAt: res.CapturedAt,
	}
	if res.Fallback != FallbackNone {
		e.Fallback = res.Fallback.String()
	}
	if res.Receipt != nil {
		e.Location = res.Receipt.Location
	}
	if upErr != nil {
		e.Error = upErr.Error()
	}
	// The capture itself already succeeded; a journal failure is only logged.
	if err := s.recorder.Record(context.WithoutCancel(ctx), e); err != nil {
		s.logger.Warn("journal write failed", "id", res.ID, "error", err)
	}
}
