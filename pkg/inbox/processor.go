// Package inbox runs the detect-and-rectify pipeline over still images:
// single files from the command line, or every scan dropped into a watched
// folder.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/teslashibe/go-smartcapture/internal/log"
	"github.com/teslashibe/go-smartcapture/pkg/camera"
	"github.com/teslashibe/go-smartcapture/pkg/detect"
	"github.com/teslashibe/go-smartcapture/pkg/focus"
	"github.com/teslashibe/go-smartcapture/pkg/geom"
	"github.com/teslashibe/go-smartcapture/pkg/journal"
	"github.com/teslashibe/go-smartcapture/pkg/rectify"
	"github.com/teslashibe/go-smartcapture/pkg/scan"
	"github.com/teslashibe/go-smartcapture/pkg/upload"
)

// OutputSuffix is appended to the input's base name for rectified files.
// Pages holding several photos get one file per region, numbered from 1.
const OutputSuffix = "_rectified"

// Region is one photo found on a page holding several.
type Region struct {
	Quad       geom.Quad `json:"quad"` // Canonical corner order, full resolution
	Confidence float64   `json:"confidence"`
}

// Analysis is what detection found in one image, in full-resolution
// coordinates. Quad is the largest outline, as the live scanner would pick
// it; Regions lists every photo-like outline, best first, when there is
// more than one.
type Analysis struct {
	Path       string      `json:"path"`
	Size       image.Point `json:"size"`
	Quad       *geom.Quad  `json:"quad,omitempty"`
	Confidence float64     `json:"confidence"`
	Regions    []Region    `json:"regions,omitempty"`
	Focus      focus.Score `json:"focus"`
}

// Crop is one image produced from an input: a rectified document or photo,
// or the full frame when nothing could be rectified.
type Crop struct {
	ID        string              `json:"id"`
	Index     int                 `json:"index,omitempty"`  // Region number on multi-photo pages
	Output    string              `json:"output,omitempty"` // Written only when rectified
	Rectified bool                `json:"rectified"`
	Fallback  scan.FallbackReason `json:"fallback"`
	Width     int                 `json:"width"`
	Height    int                 `json:"height"`
	Receipt   *upload.Receipt     `json:"receipt,omitempty"`
}

// Outcome is the result of processing one image.
type Outcome struct {
	Analysis
	Crops []Crop `json:"crops"`
}

// Rectified reports whether at least one crop was rectified.
func (o *Outcome) Rectified() bool {
	for _, c := range o.Crops {
		if c.Rectified {
			return true
		}
	}
	return false
}

// Option configures a Processor.
type Option func(*Processor)

// WithOutputDir writes rectified files to dir instead of next to the input.
func WithOutputDir(dir string) Option {
	return func(p *Processor) {
		p.outDir = dir
	}
}

// WithUploader also uploads every processed image.
func WithUploader(u upload.Uploader) Option {
	return func(p *Processor) {
		p.uploader = u
	}
}

// WithRecorder journals every processed image.
func WithRecorder(r scan.Recorder) Option {
	return func(p *Processor) {
		p.recorder = r
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// Processor detects and rectifies still images with the scanner's tuning.
// Detection runs on a capped copy, exactly as in a live session.
type Processor struct {
	cfg       scan.Config
	sampler   *camera.Sampler
	detector  *detect.EdgeDetector
	regions   *detect.EdgeDetector // Photo region filters always on
	scorer    *focus.Scorer
	rectifier *rectify.Rectifier
	outDir    string
	uploader  upload.Uploader
	recorder  scan.Recorder
	logger    *slog.Logger
}

// NewProcessor creates a processor using cfg's detection settings.
func NewProcessor(cfg scan.Config, opts ...Option) *Processor {
	p := &Processor{
		cfg:       cfg,
		sampler:   camera.NewSampler(cfg.DetectionMaxWidth),
		detector:  detect.NewEdgeDetector(cfg.DetectConfig()),
		regions:   detect.NewEdgeDetector(cfg.DetectConfig().WithRegionFilters()),
		scorer:    focus.NewScorer(cfg.FocusThreshold),
		rectifier: rectify.New(cfg.EdgeMinArea),
		logger:    log.Component("inbox"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Analyze runs detection and focus scoring on path without writing anything.
func (p *Processor) Analyze(ctx context.Context, path string) (*Analysis, error) {
	full, a, err := p.load(ctx, path)
	if err != nil {
		return nil, err
	}
	full.Close()
	return a, nil
}

// load samples both resolutions of the image at path and analyses the
// detection copy. The caller closes the returned full frame.
func (p *Processor) load(ctx context.Context, path string) (camera.Frame, *Analysis, error) {
	still, err := camera.OpenStill(path)
	if err != nil {
		return camera.Frame{}, nil, err
	}
	defer still.Close()

	small, err := p.sampler.Sample(ctx, still, camera.ResolutionDetection)
	if err != nil {
		return camera.Frame{}, nil, fmt.Errorf("inbox: %s: %w", path, err)
	}
	defer small.Close()

	full, err := p.sampler.Sample(ctx, still, camera.ResolutionFull)
	if err != nil {
		return camera.Frame{}, nil, fmt.Errorf("inbox: %s: %w", path, err)
	}

	a := &Analysis{Path: path, Size: full.Size()}

	gray := small.Gray()
	defer gray.Close()

	ds := small.Size()
	sx := float64(a.Size.X) / float64(ds.X)
	sy := float64(a.Size.Y) / float64(ds.Y)
	areaScale := 1 / (sx * sy)

	det, err := p.detector.DetectScaled(gray, areaScale)
	if err != nil {
		full.Close()
		return camera.Frame{}, nil, fmt.Errorf("inbox: detect %s: %w", path, err)
	}
	regions, err := p.regions.DetectAll(gray, areaScale)
	if err != nil {
		full.Close()
		return camera.Frame{}, nil, fmt.Errorf("inbox: detect %s: %w", path, err)
	}
	if a.Focus, err = p.scorer.ScoreGray(gray); err != nil {
		full.Close()
		return camera.Frame{}, nil, fmt.Errorf("inbox: focus %s: %w", path, err)
	}

	if det != nil {
		q := toFull(det.Quad, sx, sy)
		a.Quad = &q
		a.Confidence = det.Confidence
	}
	if len(regions) > 1 {
		for _, r := range regions {
			a.Regions = append(a.Regions, Region{Quad: toFull(r.Quad, sx, sy), Confidence: r.Confidence})
		}
	}
	return full, a, nil
}

// toFull scales a detection-frame quad to full resolution and sorts it.
func toFull(q geom.Quad, sx, sy float64) geom.Quad {
	q = q.Scale(sx, sy)
	if sorted, err := geom.SortCorners(q); err == nil {
		return sorted
	}
	return q
}

// Process detects, rectifies and writes <name>_rectified.jpg. A page
// holding several photos yields <name>_rectified_<n>.jpg per region, best
// confidence first. Images with no usable outline are still uploaded and
// journaled as full frames, but no output file is written for them.
func (p *Processor) Process(ctx context.Context, path string) (*Outcome, error) {
	full, a, err := p.load(ctx, path)
	if err != nil {
		return nil, err
	}
	defer full.Close()

	out := &Outcome{Analysis: *a}

	var upErrs []error
	if len(a.Regions) > 1 {
		for i, r := range a.Regions {
			res, err := p.rectifier.Rectify(full.Mat, r.Quad)
			if err != nil {
				p.logger.Info("region rectification failed", "path", path, "region", i+1, "error", err)
				continue
			}
			crop := Crop{ID: uuid.NewString(), Index: i + 1, Rectified: true, Fallback: scan.FallbackNone}
			meta := upload.Metadata{Mode: upload.ModeSequential, Sequence: i + 1}
			upErr, err := p.emit(ctx, a, res.Image, &crop, meta)
			res.Image.Close()
			if err != nil {
				return nil, err
			}
			if upErr != nil {
				upErrs = append(upErrs, upErr)
			}
			out.Crops = append(out.Crops, crop)
		}
	}

	if len(out.Crops) == 0 {
		crop := Crop{ID: uuid.NewString(), Fallback: scan.FallbackNoQuad}
		img := full.Mat
		if a.Quad != nil {
			res, err := p.rectifier.Rectify(full.Mat, *a.Quad)
			if err != nil {
				p.logger.Info("rectification failed", "path", path, "error", err)
				crop.Fallback = scan.FallbackDegenerate
			} else {
				defer res.Image.Close()
				img = res.Image
				crop.Rectified = true
				crop.Fallback = scan.FallbackNone
			}
		}
		upErr, err := p.emit(ctx, a, img, &crop, upload.Metadata{Mode: upload.ModeSingle})
		if err != nil {
			return nil, err
		}
		if upErr != nil {
			upErrs = append(upErrs, upErr)
		}
		out.Crops = append(out.Crops, crop)
	}

	p.logger.Info("image processed",
		"path", path,
		"crops", len(out.Crops),
		"rectified", out.Rectified(),
		"size", fmt.Sprintf("%dx%d", a.Size.X, a.Size.Y),
		"sharpness", int(a.Focus.Sharpness),
	)
	return out, errors.Join(upErrs...)
}

// emit encodes img, writes it when rectified, uploads and journals it. err
// is a local failure that aborts the image; upErr only marks this crop.
func (p *Processor) emit(ctx context.Context, a *Analysis, img gocv.Mat, crop *Crop, meta upload.Metadata) (upErr, err error) {
	crop.Width, crop.Height = img.Cols(), img.Rows()

	jpeg, err := camera.EncodeJPEG(img, p.cfg.JPEGQuality)
	if err != nil {
		return nil, err
	}
	if crop.Rectified {
		crop.Output = p.outputPath(a.Path, crop.Index)
		if err := os.WriteFile(crop.Output, jpeg, 0o644); err != nil {
			return nil, fmt.Errorf("inbox: write %s: %w", crop.Output, err)
		}
	}

	meta.ID = crop.ID
	meta.CapturedAt = modTime(a.Path)
	meta.Rectified = crop.Rectified
	meta.Width, meta.Height = crop.Width, crop.Height

	if p.uploader != nil {
		if crop.Receipt, upErr = p.uploader.Upload(ctx, jpeg, meta); upErr != nil {
			upErr = fmt.Errorf("inbox: upload %s: %w", a.Path, upErr)
		}
	}
	p.record(ctx, crop, meta, a.Focus.Sharpness, upErr)
	return upErr, nil
}

// outputPath names the rectified file for input; index 0 means the page held
// a single document.
func (p *Processor) outputPath(input string, index int) string {
	dir := p.outDir
	if dir == "" {
		dir = filepath.Dir(input)
	}
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input)) + OutputSuffix
	if index > 0 {
		base += "_" + strconv.Itoa(index)
	}
	return filepath.Join(dir, base+".jpg")
}

// processed reports whether input already has a rectified output.
func (p *Processor) processed(input string) bool {
	for _, index := range []int{0, 1} {
		if _, err := os.Stat(p.outputPath(input, index)); err == nil {
			return true
		}
	}
	return false
}

func (p *Processor) record(ctx context.Context, crop *Crop, meta upload.Metadata, sharpness float64, upErr error) {
	if p.recorder == nil {
		return
	}
	e := journal.Entry{
		ID:         crop.ID,
		Mode:       string(meta.Mode),
		Sequence:   meta.Sequence,
		Rectified:  crop.Rectified,
		Width:      crop.Width,
		Height:     crop.Height,
		Sharpness:  sharpness,
		Uploaded:   crop.Receipt != nil,
		Location:   crop.Output,
		CapturedAt: meta.CapturedAt,
	}
	if crop.Fallback != scan.FallbackNone {
		e.Fallback = crop.Fallback.String()
	}
	if crop.Receipt != nil && crop.Receipt.Location != "" {
		e.Location = crop.Receipt.Location
	}
	if upErr != nil {
		e.Error = upErr.Error()
	}
	if err := p.recorder.Record(context.WithoutCancel(ctx), e); err != nil {
		p.logger.Warn("journal write failed", "id", crop.ID, "error", err)
	}
}

func modTime(path string) time.Time {
	if info, err := os.Stat(path); err == nil {
		return info.ModTime()
	}
	return time.Now()
}

// IsImage reports whether path has an extension the processor can decode.
func IsImage(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".tiff", ".tif", ".bmp", ".webp":
		return true
	}
	return false
}

// IsOutput reports whether path is a file this package wrote.
func IsOutput(path string) bool {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if i := strings.LastIndexByte(base, '_'); i >= 0 {
		if _, err := strconv.Atoi(base[i+1:]); err == nil {
			base = base[:i]
		}
	}
	return strings.HasSuffix(base, OutputSuffix)
}
