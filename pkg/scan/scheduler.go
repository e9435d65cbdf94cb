// Package scan runs the smart-capture pipeline: a periodic tick that samples
// a capped frame, looks for a document outline, scores focus and tracks
// stability, and a capture path that rectifies the full-resolution frame.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-smartcapture/internal/log"
	"github.com/teslashibe/go-smartcapture/pkg/camera"
	"github.com/teslashibe/go-smartcapture/pkg/debug"
	"github.com/teslashibe/go-smartcapture/pkg/detect"
	"github.com/teslashibe/go-smartcapture/pkg/focus"
	"github.com/teslashibe/go-smartcapture/pkg/journal"
	"github.com/teslashibe/go-smartcapture/pkg/motion"
	"github.com/teslashibe/go-smartcapture/pkg/overlay"
	"github.com/teslashibe/go-smartcapture/pkg/upload"
)

// Recorder persists capture outcomes. *journal.Store implements it.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithUploader hands every capture to u.
func WithUploader(u upload.Uploader) Option {
	return func(s *Scheduler) {
		s.uploader = u
	}
}

// WithRecorder journals every capture to r.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) {
		s.recorder = r
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithManualTicks disables the timer. The caller drives the session with
// Tick, e.g. to step through recorded frames one at a time.
func WithManualTicks() Option {
	return func(s *Scheduler) {
		s.manual = true
	}
}

// WithStyle sets the overlay palette.
func WithStyle(style overlay.Style) Option {
	return func(s *Scheduler) {
		s.renderer = overlay.NewRenderer(style)
	}
}

// Scheduler owns one camera session's pipeline state.
type Scheduler struct {
	src       camera.Source
	sampler   *camera.Sampler
	detector  *detect.EdgeDetector
	scorer    *focus.Scorer
	tracker   *motion.Tracker
	renderer  *overlay.Renderer
	uploader  upload.Uploader
	recorder  Recorder
	logger    *slog.Logger

	cfgMu  sync.RWMutex
	config Config
	tuneMu sync.Mutex // Serializes read-modify-write tuning updates

	// tickMu serializes ticks and captures. A capture holds it for its whole
	// duration, which is what pauses the timer.
	tickMu    sync.Mutex
	capturing atomic.Bool

	mu            sync.RWMutex
	state         State
	session       uint64
	surface       gocv.Mat
	hasOverlay    bool
	notReadySince time.Time
	nextSeq       int

	runMu   sync.Mutex
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
	resetCh chan time.Duration
	manual  bool // No timer; ticks only via Tick

	subMu   sync.RWMutex
	subs    map[int]func(State)
	nextSub int
}

// New creates an idle scheduler reading from src.
func New(cfg Config, src camera.Source, opts ...Option) (*Scheduler, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	if src == nil {
		return nil, errors.New("scan: nil source")
	}

	s := &Scheduler{
		src:       src,
		sampler:   camera.NewSampler(cfg.DetectionMaxWidth),
		detector:  detect.NewEdgeDetector(cfg.DetectConfig()),
		scorer:    focus.NewScorer(cfg.FocusThreshold),
		tracker:   motion.NewTracker(cfg.MotionConfig()),
		renderer:  overlay.NewRenderer(overlay.DefaultStyle()),
		logger:    log.Component("scan"),
		config:    cfg,
		surface:   gocv.NewMat(),
		resetCh:   make(chan time.Duration, 1),
		subs:      make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the active configuration.
func (s *Scheduler) Config() Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.config
}

// SetConfig validates and applies cfg to every stage. Changes take effect
// from the next tick; the stability counter is not reset.
func (s *Scheduler) SetConfig(cfg Config) error {
	if errs := cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}

	s.cfgMu.Lock()
	old := s.config
	s.config = cfg
	s.cfgMu.Unlock()

	s.detector.SetConfig(cfg.DetectConfig())
	s.scorer.SetThreshold(cfg.FocusThreshold)
	s.tracker.SetConfig(cfg.MotionConfig())
	s.sampler.SetMaxWidth(cfg.DetectionMaxWidth)

	if cfg.TickIntervalMs != old.TickIntervalMs {
		select {
		case s.resetCh <- cfg.TickInterval():
		default:
		}
	}
	return nil
}

// Phase returns the current scheduler state.
func (s *Scheduler) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Phase
}

// Snapshot returns a copy of the pipeline state.
func (s *Scheduler) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Subscribe registers fn to receive a snapshot after every tick and phase
// change. fn runs on the scheduler's goroutine and must not block.
func (s *Scheduler) Subscribe(fn func(State)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Scheduler) notify(st State) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, fn := range s.subs {
		fn(st)
	}
}

// Start opens a new camera session and starts the tick timer. The first
// tick fires one interval after Start.
func (s *Scheduler) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.cancel != nil {
		return ErrAlreadyRunning
	}

	s.tracker.Reset()
	s.mu.Lock()
	s.session++
	s.state = State{Phase: Detecting}
	s.hasOverlay = false
	s.notReadySince = time.Time{}
	s.nextSeq = 0
	snap := s.state.clone()
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go s.run(ctx, done)

	cfg := s.Config()
	s.logger.Info("scanner started",
		"tick", cfg.TickInterval(),
		"detection_width", cfg.DetectionMaxWidth,
		"stability_frames", cfg.StabilityRequiredFrames,
	)
	s.notify(snap)
	return nil
}

// Stop cancels the timer and discards any in-flight tick. It returns once
// the session is fully torn down.
func (s *Scheduler) Stop() error {
	s.runMu.Lock()
	cancel, done := s.cancel, s.done
	s.runMu.Unlock()
	if cancel == nil {
		return ErrNotRunning
	}
	cancel()
	<-done
	return nil
}

// Close stops the scheduler and releases native buffers. A closed
// scheduler cannot be started again; closing twice is a no-op.
func (s *Scheduler) Close() error {
	if err := s.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	s.runMu.Lock()
	if s.closed {
		s.runMu.Unlock()
		return nil
	}
	s.closed = true
	s.runMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracker.Close()
	return s.surface.Close()
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer s.teardown(done)

	if s.manual {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(s.Config().TickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case d := <-s.resetCh:
			ticker.Reset(d)
			s.logger.Info("tick interval changed", "interval", d)

		case <-ticker.C:
			_, err := s.tick(ctx)
			if err != nil && ctx.Err() == nil && !errors.Is(err, camera.ErrNotReady) {
				s.logger.Warn("tick failed", "error", err)
			}
		}
	}
}

// teardown ends the session: state goes back to Idle and anything still in
// flight from the old session is ignored when it tries to merge.
func (s *Scheduler) teardown(done chan struct{}) {
	s.mu.Lock()
	s.session++
	s.state = State{Phase: Idle}
	s.hasOverlay = false
	snap := s.state.clone()
	s.mu.Unlock()

	s.runMu.Lock()
	if s.done == done {
		s.cancel = nil
		s.done = nil
	}
	s.runMu.Unlock()
	close(done)

	s.logger.Info("scanner stopped")
	s.notify(snap)
}

// Tick runs one detection tick synchronously. The timer calls it; tests and
// single-shot tools may call it directly while the scheduler is running.
func (s *Scheduler) Tick(ctx context.Context) (State, error) {
	return s.tick(ctx)
}

func (s *Scheduler) tick(ctx context.Context) (State, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.mu.RLock()
	phase, session, tick := s.state.Phase, s.session, s.state.Tick+1
	s.mu.RUnlock()
	if phase == Idle {
		return State{}, ErrNotRunning
	}

	frame, err := s.sampler.Sample(ctx, s.src, camera.ResolutionDetection)
	if err != nil {
		if errors.Is(err, camera.ErrNotReady) {
			s.markNotReady(session, tick)
		}
		return s.Snapshot(), err
	}
	defer frame.Close()

	gray := frame.Gray()
	defer gray.Close()

	size := frame.Size()
	areaScale := 1.0
	if frame.Native.X > 0 && frame.Native.Y > 0 {
		areaScale = float64(size.X*size.Y) / float64(frame.Native.X*frame.Native.Y)
	}

	// The three analyses only read gray and write disjoint results.
	var (
		wg      sync.WaitGroup
		det     *detect.Result
		score   focus.Score
		reading motion.Reading
		errs    [3]error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		det, errs[0] = s.detector.DetectScaled(gray, areaScale)
	}()
	go func() {
		defer wg.Done()
		score, errs[1] = s.scorer.ScoreGray(gray)
	}()
	go func() {
		defer wg.Done()
		reading, errs[2] = s.tracker.Update(gray)
	}()
	wg.Wait()
	if err := errors.Join(errs[:]...); err != nil {
		return s.Snapshot(), fmt.Errorf("scan: tick %d: %w", tick, err)
	}

	s.mu.Lock()
	if err := s.staleLocked(ctx, session); err != nil {
		s.mu.Unlock()
		return State{}, err
	}

	st := &s.state
	if st.FrameSize != size {
		// Held quads are in the old frame's coordinates.
		st.Quad = nil
		st.QuadTick = 0
		st.QuadConfidence = 0
	}
	st.Tick = tick
	st.FrameSize = size
	st.NativeSize = frame.Native
	st.SampledAt = frame.At
	if det != nil {
		q := det.Quad
		st.Quad = &q
		st.QuadTick = tick
		st.QuadConfidence = det.Confidence
	}
	st.Focus = score
	st.Motion = reading
	st.CameraReady = true
	st.CameraFault = false
	s.notReadySince = time.Time{}

	s.renderLocked()
	snap := st.clone()
	s.mu.Unlock()

	debug.TickLog("tick %d: quad=%v focus=%.0f motion=%.0f stable=%d/%d\n",
		tick, det != nil, score.Sharpness, reading.Level, reading.Counter, reading.Required)
	s.notify(snap)
	return snap, nil
}

// staleLocked reports whether a tick started in session must be discarded.
func (s *Scheduler) staleLocked(ctx context.Context, session uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.session != session || s.state.Phase == Idle {
		return ErrNotRunning
	}
	return nil
}

func (s *Scheduler) markNotReady(session, tick uint64) {
	warnAfter := s.Config().NotReadyWarnAfter()

	s.mu.Lock()
	if s.session != session || s.state.Phase == Idle {
		s.mu.Unlock()
		return
	}
	now := time.Now()
	if s.notReadySince.IsZero() {
		s.notReadySince = now
	}
	since := now.Sub(s.notReadySince)
	s.state.Tick = tick
	s.state.CameraReady = false
	fault := !s.state.CameraFault && warnAfter > 0 && since >= warnAfter
	if fault {
		s.state.CameraFault = true
	}
	snap := s.state.clone()
	s.mu.Unlock()

	if fault {
		s.logger.Warn("camera not ready", "for", since.Round(time.Millisecond))
	} else {
		s.logger.Debug("camera not ready, tick skipped", "tick", tick)
	}
	s.notify(snap)
}

func (s *Scheduler) renderLocked() {
	st := s.state
	if s.surface.Cols() != st.FrameSize.X || s.surface.Rows() != st.FrameSize.Y {
		s.surface.Close()
		s.surface = s.renderer.Surface(st.FrameSize.X, st.FrameSize.Y)
	}
	view := overlay.View{
		Quad:       st.Quad,
		Confidence: st.QuadConfidence,
		Focus:      st.Focus.State,
		Motion:     st.Motion.HasMotion,
		Stability:  st.Motion.State,
		Progress:   st.Motion.Progress(),
		Tick:       st.Tick,
	}
	if err := s.renderer.Render(&s.surface, view); err != nil {
		s.logger.Warn("overlay render failed", "error", err)
		return
	}
	s.hasOverlay = true
}

// OverlayPNG encodes the overlay drawn by the latest tick.
func (s *Scheduler) OverlayPNG() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasOverlay {
		return nil, ErrNoOverlay
	}
	return overlay.EncodePNG(s.surface)
}
