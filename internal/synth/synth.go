// Package synth draws synthetic camera frames for tests: a dark desk with a
// bright document on it, checkerboards for focus, and shifted copies for motion.
package synth

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Desk and Paper are the background and document colours.
var (
	Desk  = gocv.NewScalar(30, 30, 30, 0)
	Paper = color.RGBA{R: 235, G: 235, B: 235, A: 255}
)

// Blank returns a w×h BGR frame filled with the desk colour.
func Blank(w, h int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(Desk, h, w, gocv.MatTypeCV8UC3)
}

// Document returns a blank frame with one filled polygon per entry in polys.
func Document(w, h int, polys ...[]image.Point) gocv.Mat {
	img := Blank(w, h)
	for _, p := range polys {
		FillPoly(&img, p, Paper)
	}
	return img
}

// FillPoly paints a filled polygon onto img.
func FillPoly(img *gocv.Mat, pts []image.Point, c color.RGBA) {
	pv := gocv.NewPointsVectorFromPoints([][]image.Point{pts})
	defer pv.Close()
	gocv.FillPoly(img, pv, c)
}

// Checkerboard returns a w×h BGR frame of black and white squares of the
// given cell size. Lots of edges, so a high focus score.
func Checkerboard(w, h, cell int) gocv.Mat {
	img := Blank(w, h)
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	black := color.RGBA{A: 255}
	for y := 0; y < h; y += cell {
		for x := 0; x < w; x += cell {
			c := black
			if (x/cell+y/cell)%2 == 0 {
				c = white
			}
			gocv.Rectangle(&img, image.Rect(x, y, x+cell, y+cell), c, -1)
		}
	}
	return img
}

// Blur returns a Gaussian-blurred copy of img.
func Blur(img gocv.Mat, kernel int) gocv.Mat {
	out := gocv.NewMat()
	gocv.GaussianBlur(img, &out, image.Pt(kernel, kernel), 0, 0, gocv.BorderDefault)
	return out
}

// Shifted returns img translated by (dx, dy), exposing desk colour at the edges.
func Shifted(img gocv.Mat, dx, dy float64) gocv.Mat {
	m := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	defer m.Close()
	m.SetDoubleAt(0, 0, 1)
	m.SetDoubleAt(0, 1, 0)
	m.SetDoubleAt(0, 2, dx)
	m.SetDoubleAt(1, 0, 0)
	m.SetDoubleAt(1, 1, 1)
	m.SetDoubleAt(1, 2, dy)

	out := gocv.NewMat()
	gocv.WarpAffineWithParams(img, &out, m, image.Pt(img.Cols(), img.Rows()),
		gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{R: 30, G: 30, B: 30, A: 255})
	return out
}
