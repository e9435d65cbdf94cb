// Package overlay draws scanner feedback onto a transparent BGRA surface
// that the dashboard composites over the live video.
package overlay

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-smartcapture/pkg/focus"
	"github.com/teslashibe/go-smartcapture/pkg/geom"
	"github.com/teslashibe/go-smartcapture/pkg/motion"
)

// ErrBadSurface is returned when Render is given something other than a
// non-empty 4-channel surface.
var ErrBadSurface = errors.New("overlay: surface must be non-empty CV8UC4")

// View is everything the renderer needs for one frame. Quad is in surface
// coordinates; nil means nothing to outline.
type View struct {
	Quad       *geom.Quad
	Confidence float64
	Focus      focus.State
	Motion     bool
	Stability  motion.StabilityState
	Progress   float64 // Stabilizing progress in [0, 1]
	Tick       uint64  // Drives the motion badge pulse
}

// Style holds colours and sizes. Colours are RGBA; alpha is written to the
// surface's fourth channel.
type Style struct {
	Quad      color.RGBA
	Corner    color.RGBA
	Focus     color.RGBA
	Motion    color.RGBA
	Ring      color.RGBA
	RingTrack color.RGBA
	Stable    color.RGBA
	Text      color.RGBA

	Thickness    int
	CornerRadius int
	Border       int
	BadgeRadius  int
}

// DefaultStyle returns the dashboard palette.
func DefaultStyle() Style {
	return Style{
		Quad:         color.RGBA{R: 0, G: 200, B: 255, A: 255},
		Corner:       color.RGBA{R: 255, G: 255, B: 255, A: 255},
		Focus:        color.RGBA{R: 40, G: 200, B: 80, A: 200},
		Motion:       color.RGBA{R: 230, G: 60, B: 40, A: 255},
		Ring:         color.RGBA{R: 255, G: 190, B: 0, A: 255},
		RingTrack:    color.RGBA{R: 80, G: 80, B: 80, A: 160},
		Stable:       color.RGBA{R: 40, G: 200, B: 80, A: 255},
		Text:         color.RGBA{R: 255, G: 255, B: 255, A: 255},
		Thickness:    3,
		CornerRadius: 7,
		Border:       6,
		BadgeRadius:  22,
	}
}

// Renderer draws Views. It holds no per-frame state.
type Renderer struct {
	style Style
}

// NewRenderer creates a renderer with the given style.
func NewRenderer(style Style) *Renderer {
	return &Renderer{style: style}
}

// Surface allocates a fully transparent w×h BGRA surface.
func (r *Renderer) Surface(w, h int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), h, w, gocv.MatTypeCV8UC4)
}

// Render clears surface and draws v onto it.
func (r *Renderer) Render(surface *gocv.Mat, v View) error {
	if surface == nil || surface.Empty() || surface.Channels() != 4 {
		return ErrBadSurface
	}
	surface.SetTo(gocv.NewScalar(0, 0, 0, 0))

	if v.Quad != nil {
		r.drawQuad(surface, *v.Quad, v.Confidence)
	}
	if v.Focus == focus.InFocus {
		r.drawFocus(surface)
	}
	if v.Motion {
		r.drawMotion(surface, v.Tick)
	}
	if v.Stability == motion.Stable {
		r.drawStable(surface)
	} else {
		r.drawRing(surface, v.Progress)
	}
	return nil
}

func (r *Renderer) drawQuad(s *gocv.Mat, q geom.Quad, confidence float64) {
	pts := q.ImagePoints()
	pv := gocv.NewPointsVectorFromPoints([][]image.Point{pts})
	defer pv.Close()
	gocv.Polylines(s, pv, true, r.style.Quad, r.style.Thickness)

	for _, p := range pts {
		gocv.Circle(s, p, r.style.CornerRadius, r.style.Corner, -1)
	}

	if confidence > 0 {
		label := fmt.Sprintf("%.0f%%", confidence*100)
		at := topmost(pts)
		gocv.PutText(s, label, image.Pt(at.X+8, at.Y-10), gocv.FontHersheySimplex, 0.6, r.style.Text, 2)
	}
}

func (r *Renderer) drawFocus(s *gocv.Mat) {
	b := r.style.Border
	rect := image.Rect(b/2, b/2, s.Cols()-b/2, s.Rows()-b/2)
	gocv.Rectangle(s, rect, r.style.Focus, b)
	gocv.PutText(s, "IN FOCUS", image.Pt(b+12, b+30), gocv.FontHersheySimplex, 0.8, r.style.Focus, 2)
}

// drawMotion pulses with a one-second period at the default 200ms tick.
func (r *Renderer) drawMotion(s *gocv.Mat, tick uint64) {
	phase := float64(tick%5) / 5
	alpha := 0.55 + 0.45*math.Sin(phase*2*math.Pi)
	c := r.style.Motion
	c.A = uint8(math.Round(float64(c.A) * alpha))

	center := image.Pt(s.Cols()-r.style.BadgeRadius-16, r.style.BadgeRadius+16)
	rad := r.style.BadgeRadius + int(math.Round(3*alpha))
	gocv.Circle(s, center, rad, c, -1)
	gocv.PutText(s, "!", image.Pt(center.X-5, center.Y+9), gocv.FontHersheySimplex, 0.9, r.style.Text, 2)
	gocv.PutText(s, "MOTION", image.Pt(center.X-rad-90, center.Y+8), gocv.FontHersheySimplex, 0.7, c, 2)
}

func (r *Renderer) badgeCenter(s *gocv.Mat) image.Point {
	return image.Pt(s.Cols()-r.style.BadgeRadius-16, s.Rows()-r.style.BadgeRadius-16)
}

func (r *Renderer) drawRing(s *gocv.Mat, progress float64) {
	progress = math.Max(0, math.Min(1, progress))
	center := r.badgeCenter(s)
	axes := image.Pt(r.style.BadgeRadius, r.style.BadgeRadius)

	gocv.Ellipse(s, center, axes, 0, 0, 360, r.style.RingTrack, 4)
	if progress > 0 {
		gocv.Ellipse(s, center, axes, -90, 0, 360*progress, r.style.Ring, 4)
	}
}

func (r *Renderer) drawStable(s *gocv.Mat) {
	center := r.badgeCenter(s)
	gocv.Circle(s, center, r.style.BadgeRadius, r.style.Stable, -1)

	const label = "STABLE"
	size := gocv.GetTextSize(label, gocv.FontHersheySimplex, 0.7, 2)
	org := image.Pt(center.X-r.style.BadgeRadius-size.X-10, center.Y+size.Y/2)
	gocv.PutText(s, label, org, gocv.FontHersheySimplex, 0.7, r.style.Stable, 2)
}

func topmost(pts []image.Point) image.Point {
	best := pts[0]
	for _, p := range pts[1:] {
		if p.Y < best.Y {
			best = p
		}
	}
	return best
}

// EncodePNG encodes a surface, keeping its alpha channel.
func EncodePNG(surface gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.PNGFileExt, surface)
	if err != nil {
		return nil, fmt.Errorf("overlay: encode png: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
