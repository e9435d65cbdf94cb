// Package geom holds the quadrilateral geometry used by detection and rectification.
package geom

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/golang/geo/r2"
)

// ErrDegenerate is returned when four points cannot describe a usable quadrilateral
// (duplicate or collinear corners, self-intersection, or too little area).
var ErrDegenerate = errors.New("geom: degenerate quadrilateral")

// epsilon below which lengths and cross products count as zero, in pixels.
const epsilon = 1e-6

// Corner is a canonical corner tag.
type Corner int

const (
	TopLeft Corner = iota
	TopRight
	BottomRight
	BottomLeft
)

func (c Corner) String() string {
	switch c {
	case TopLeft:
		return "top-left"
	case TopRight:
		return "top-right"
	case BottomRight:
		return "bottom-right"
	case BottomLeft:
		return "bottom-left"
	}
	return fmt.Sprintf("corner(%d)", int(c))
}

// Quad is an ordered sequence of exactly four points in frame coordinates.
// The order carries no meaning until the quad has been through SortCorners,
// after which index i holds Corner(i).
type Quad [4]r2.Point

// FromImagePoints builds a Quad from integer contour vertices.
func FromImagePoints(pts []image.Point) (Quad, error) {
	var q Quad
	if len(pts) != 4 {
		return q, fmt.Errorf("%w: need 4 points, got %d", ErrDegenerate, len(pts))
	}
	for i, p := range pts {
		q[i] = r2.Point{X: float64(p.X), Y: float64(p.Y)}
	}
	return q, nil
}

// At returns the point tagged c. Only meaningful on a sorted quad.
func (q Quad) At(c Corner) r2.Point {
	return q[c]
}

// ImagePoints returns the corners rounded to integer pixels.
func (q Quad) ImagePoints() []image.Point {
	pts := make([]image.Point, 4)
	for i, p := range q {
		pts[i] = image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
	}
	return pts
}

// Area returns the unsigned shoelace area in square pixels.
func (q Quad) Area() float64 {
	var sum float64
	for i := range q {
		sum += q[i].Cross(q[(i+1)%4])
	}
	return math.Abs(sum) / 2
}

// Perimeter returns the closed polygon perimeter.
func (q Quad) Perimeter() float64 {
	var sum float64
	for i := range q {
		sum += q[(i+1)%4].Sub(q[i]).Norm()
	}
	return sum
}

// Centroid returns the mean of the four vertices.
func (q Quad) Centroid() r2.Point {
	var c r2.Point
	for _, p := range q {
		c = c.Add(p)
	}
	return c.Mul(0.25)
}

// Bounds returns the axis-aligned bounding rectangle.
func (q Quad) Bounds() r2.Rect {
	return r2.RectFromPoints(q[0], q[1], q[2], q[3])
}

// Scale maps the quad from one coordinate space to another, e.g. from the
// capped detection frame to the full-resolution capture frame.
func (q Quad) Scale(sx, sy float64) Quad {
	var out Quad
	for i, p := range q {
		out[i] = r2.Point{X: p.X * sx, Y: p.Y * sy}
	}
	return out
}

// IsSimple reports whether the polygon, in its current vertex order, does not
// cross itself. Only the two pairs of opposite edges can intersect.
func (q Quad) IsSimple() bool {
	return !segmentsIntersect(q[0], q[1], q[2], q[3]) &&
		!segmentsIntersect(q[1], q[2], q[3], q[0])
}

// Validate checks the Quadrilateral invariants: simple polygon with area above minArea.
func (q Quad) Validate(minArea float64) error {
	if err := q.checkPoints(); err != nil {
		return err
	}
	if !q.IsSimple() {
		return fmt.Errorf("%w: self-intersecting", ErrDegenerate)
	}
	if a := q.Area(); a <= minArea {
		return fmt.Errorf("%w: area %.0f below minimum %.0f", ErrDegenerate, a, minArea)
	}
	return nil
}

// checkPoints rejects NaN, duplicate and collinear corners.
func (q Quad) checkPoints() error {
	for i, p := range q {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return fmt.Errorf("%w: corner %d not finite", ErrDegenerate, i)
		}
		for j := i + 1; j < 4; j++ {
			if q[j].Sub(p).Norm() < epsilon {
				return fmt.Errorf("%w: corners %d and %d coincide", ErrDegenerate, i, j)
			}
		}
	}
	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			for k := j + 1; k < 4; k++ {
				if math.Abs(q[j].Sub(q[i]).Cross(q[k].Sub(q[i]))) < epsilon {
					return fmt.Errorf("%w: corners %d, %d, %d collinear", ErrDegenerate, i, j, k)
				}
			}
		}
	}
	return nil
}

// SortCorners puts the quad in canonical order: top-left, top-right,
// bottom-right, bottom-left.
//
// Points are first sorted by polar angle around the centroid, which yields a
// clockwise cycle in image coordinates (y grows downward) but with an arbitrary
// starting point. The cycle is then rotated so the point with the smallest x+y
// comes first. Ties on x+y go to the earlier point in angular order, so any
// permutation of the same four points produces the same result.
func SortCorners(q Quad) (Quad, error) {
	if err := q.checkPoints(); err != nil {
		return q, err
	}

	c := q.Centroid()
	pts := q[:]
	sorted := make([]r2.Point, 4)
	copy(sorted, pts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return angle(sorted[i], c) < angle(sorted[j], c)
	})

	start := 0
	for i := 1; i < 4; i++ {
		if sorted[i].X+sorted[i].Y < sorted[start].X+sorted[start].Y {
			start = i
		}
	}

	var out Quad
	for i := 0; i < 4; i++ {
		out[i] = sorted[(start+i)%4]
	}
	if !out.IsSimple() {
		return q, fmt.Errorf("%w: no simple ordering", ErrDegenerate)
	}
	return out, nil
}

// OutputSize returns the rectified output dimensions for a sorted quad:
// the longer of the top/bottom edges by the longer of the left/right edges.
func OutputSize(q Quad) (width, height float64) {
	top := q[TopRight].Sub(q[TopLeft]).Norm()
	bottom := q[BottomRight].Sub(q[BottomLeft]).Norm()
	left := q[BottomLeft].Sub(q[TopLeft]).Norm()
	right := q[BottomRight].Sub(q[TopRight]).Norm()
	return math.Max(top, bottom), math.Max(left, right)
}

func angle(p, c r2.Point) float64 {
	return math.Atan2(p.Y-c.Y, p.X-c.X)
}

// segmentsIntersect reports whether segment ab touches segment cd.
func segmentsIntersect(a, b, c, d r2.Point) bool {
	d1 := orient(c, d, a)
	d2 := orient(c, d, b)
	d3 := orient(a, b, c)
	d4 := orient(a, b, d)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return (d1 == 0 && onSegment(c, d, a)) ||
		(d2 == 0 && onSegment(c, d, b)) ||
		(d3 == 0 && onSegment(a, b, c)) ||
		(d4 == 0 && onSegment(a, b, d))
}

func orient(a, b, p r2.Point) float64 {
	v := b.Sub(a).Cross(p.Sub(a))
	if math.Abs(v) < epsilon {
		return 0
	}
	return v
}

func onSegment(a, b, p r2.Point) bool {
	return math.Min(a.X, b.X)-epsilon <= p.X && p.X <= math.Max(a.X, b.X)+epsilon &&
		math.Min(a.Y, b.Y)-epsilon <= p.Y && p.Y <= math.Max(a.Y, b.Y)+epsilon
}
