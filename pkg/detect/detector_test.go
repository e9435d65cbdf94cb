package detect

import (
	"errors"
	"image"
	"math"
	"testing"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-smartcapture/internal/synth"
	"github.com/teslashibe/go-smartcapture/pkg/camera"
	"github.com/teslashibe/go-smartcapture/pkg/geom"
)

func detectOn(t *testing.T, img gocv.Mat, cfg Config) *Result {
	t.Helper()
	res, err := NewEdgeDetector(cfg).Detect(camera.Frame{Mat: img})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	return res
}

func TestDetect_NoContour(t *testing.T) {
	img := synth.Blank(640, 480)
	defer img.Close()

	if res := detectOn(t, img, DefaultConfig()); res != nil {
		t.Errorf("expected nil on a blank frame, got %+v", res)
	}
}

func TestDetect_BelowMinArea(t *testing.T) {
	// 60x60 = 3600 px², under the 5000 px² default.
	img := synth.Document(640, 480, []image.Point{{100, 100}, {160, 100}, {160, 160}, {100, 160}})
	defer img.Close()

	if res := detectOn(t, img, DefaultConfig()); res != nil {
		t.Errorf("expected nil for a small quad, got area %.0f", res.Area)
	}
}

func TestDetect_CleanQuad(t *testing.T) {
	want := geom.Quad{{X: 120, Y: 90}, {X: 500, Y: 110}, {X: 520, Y: 400}, {X: 100, Y: 380}}
	img := synth.Document(640, 480, want.ImagePoints())
	defer img.Close()

	res := detectOn(t, img, DefaultConfig())
	if res == nil {
		t.Fatal("expected a detection")
	}

	got, err := geom.SortCorners(res.Quad)
	if err != nil {
		t.Fatalf("SortCorners: %v", err)
	}
	const tol = 5.0
	for i := range want {
		if d := got[i].Sub(want[i]).Norm(); d > tol {
			t.Errorf("%v corner off by %.1fpx: got %v, want %v", geom.Corner(i), d, got[i], want[i])
		}
	}
	if math.Abs(res.Area-want.Area())/want.Area() > 0.05 {
		t.Errorf("area %.0f too far from %.0f", res.Area, want.Area())
	}
	if res.Confidence <= 0 || res.Confidence > 1 {
		t.Errorf("confidence out of range: %v", res.Confidence)
	}
}

func TestDetect_LargestWins(t *testing.T) {
	small := []image.Point{{20, 20}, {180, 20}, {180, 140}, {20, 140}}
	large := []image.Point{{260, 120}, {600, 120}, {600, 440}, {260, 440}}
	img := synth.Document(640, 480, small, large)
	defer img.Close()

	res := detectOn(t, img, DefaultConfig())
	if res == nil {
		t.Fatal("expected a detection")
	}
	c := res.Quad.Centroid()
	if c.X < 300 || c.Y < 200 {
		t.Errorf("expected the large quad to win, centroid %v", c)
	}
}

func TestDetect_RejectsNonQuads(t *testing.T) {
	triangle := []image.Point{{100, 400}, {320, 60}, {540, 400}}
	img := synth.Document(640, 480, triangle)
	defer img.Close()

	if res := detectOn(t, img, DefaultConfig()); res != nil {
		t.Errorf("triangle must not be reported, got %v", res.Quad)
	}
}

func TestDetect_AspectFilter(t *testing.T) {
	// A 500x60 strip: aspect 8.3, above the 3.0 maximum.
	strip := []image.Point{{70, 200}, {570, 200}, {570, 260}, {70, 260}}
	img := synth.Document(640, 480, strip)
	defer img.Close()

	if res := detectOn(t, img, DefaultConfig().WithRegionFilters()); res != nil {
		t.Error("strip should be rejected by the aspect filter")
	}
	if res := detectOn(t, img, DefaultConfig()); res == nil {
		t.Error("strip should pass with the default filters")
	}
}

func TestDetect_NarrowReceiptByDefault(t *testing.T) {
	// 80x400: aspect 0.2, a receipt. It is also the largest quad.
	receipt := []image.Point{{280, 40}, {360, 40}, {360, 440}, {280, 440}}
	card := []image.Point{{20, 20}, {180, 20}, {180, 140}, {20, 140}}
	img := synth.Document(640, 480, receipt, card)
	defer img.Close()

	res := detectOn(t, img, DefaultConfig())
	if res == nil {
		t.Fatal("expected a detection")
	}
	if c := res.Quad.Centroid(); c.X < 280 || c.X > 360 {
		t.Errorf("expected the receipt to win, centroid %v", c)
	}
}

func TestDetectScaled(t *testing.T) {
	// 60x60 = 3600 px² here. At a third of the width the full frame has
	// 9x the pixels, so the region is 32400 px² at full resolution.
	img := synth.Document(640, 480, []image.Point{{100, 100}, {160, 100}, {160, 160}, {100, 160}})
	defer img.Close()
	gray := camera.Frame{Mat: img}.Gray()
	defer gray.Close()

	tests := []struct {
		name  string
		scale float64
		found bool
	}{
		{"same resolution", 1, false},
		{"third width", 1.0 / 9, true},
		{"invalid scale treated as 1", 0, false},
	}
	d := NewEdgeDetector(DefaultConfig())
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := d.DetectScaled(gray, tc.scale)
			if err != nil {
				t.Fatal(err)
			}
			if (res != nil) != tc.found {
				t.Errorf("found = %v, want %v", res != nil, tc.found)
			}
		})
	}
}

func TestDetectAll(t *testing.T) {
	// Two prints on an album page, plus one too small to count.
	left := []image.Point{{40, 60}, {280, 60}, {280, 240}, {40, 240}}
	right := []image.Point{{340, 100}, {600, 100}, {600, 420}, {340, 420}}
	tiny := []image.Point{{40, 400}, {80, 400}, {80, 440}, {40, 440}}
	img := synth.Document(640, 480, left, right, tiny)
	defer img.Close()
	gray := camera.Frame{Mat: img}.Gray()
	defer gray.Close()

	regions, err := NewEdgeDetector(DefaultConfig().WithRegionFilters()).DetectAll(gray, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(regions) != 2 {
		t.Fatalf("got %d regions, want 2", len(regions))
	}
	for i, r := range regions {
		if r.Confidence < MinRegionConfidence {
			t.Errorf("region %d confidence %.2f below floor", i, r.Confidence)
		}
		if i > 0 && r.Confidence > regions[i-1].Confidence {
			t.Errorf("regions not ordered by confidence: %.3f after %.3f", r.Confidence, regions[i-1].Confidence)
		}
	}

	blank := synth.Blank(640, 480)
	defer blank.Close()
	bg := camera.Frame{Mat: blank}.Gray()
	defer bg.Close()
	if regions, err := NewEdgeDetector(DefaultConfig()).DetectAll(bg, 1); err != nil || len(regions) != 0 {
		t.Errorf("blank page: %d regions, err %v", len(regions), err)
	}
}

func TestWithRegionFilters(t *testing.T) {
	cfg := DefaultConfig().WithRegionFilters()
	if cfg.MinAspect != RegionMinAspect || cfg.MaxAspect != RegionMaxAspect || cfg.MaxAreaRatio != RegionMaxAreaRatio {
		t.Errorf("filters not filled: %+v", cfg)
	}
	custom := Config{MinAspect: 0.5, MaxAspect: 2}.WithRegionFilters()
	if custom.MinAspect != 0.5 || custom.MaxAspect != 2 {
		t.Errorf("explicit filters overwritten: %+v", custom)
	}
}

func TestDetect_EmptyFrame(t *testing.T) {
	d := NewEdgeDetector(DefaultConfig())
	empty := gocv.NewMat()
	defer empty.Close()

	if _, err := d.DetectGray(empty); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("expected ErrEmptyFrame, got %v", err)
	}
}

func TestNewEdgeDetector_NormalizesKernel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BlurKernel = 4
	cfg.EpsilonRatio = 0
	d := NewEdgeDetector(cfg)
	if got := d.Config().BlurKernel; got != 5 {
		t.Errorf("BlurKernel = %d, want 5", got)
	}
	if got := d.Config().EpsilonRatio; got != 0.02 {
		t.Errorf("EpsilonRatio = %v, want default", got)
	}
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name       string
		area, w, h float64
		min, max   float64
	}{
		{"perfect 4:3 print", 300 * 225, 300, 225, 0.99, 1},
		{"portrait 3:2", 200 * 300, 200, 300, 0.99, 1},
		{"half-filled box", 0.5 * 400 * 100, 400, 100, 0.3, 0.5},
		{"degenerate", 0, 0, 0, 0, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Confidence(tc.area, tc.w, tc.h)
			if got < tc.min || got > tc.max {
				t.Errorf("Confidence = %.3f, want in [%.2f, %.2f]", got, tc.min, tc.max)
			}
		})
	}
}
