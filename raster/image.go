// Package raster converts a grayscale intensity grid into a zig-zag
// laser engraving program. Image decoding is out of scope: callers
// hand over raw intensity samples.
package raster

import "errors"

var (
	ErrEmptyImage        = errors.New("raster: empty image")
	ErrInvalidDimensions = errors.New("raster: invalid target dimensions")
)

// Image is a width×height grid of 8-bit intensities, row-major, with
// row 0 at the image top. 0 is black, 255 is white.
type Image struct {
	W, H int
	Pix  []uint8
}

func NewImage(w, h int) *Image {
	return &Image{W: w, H: h, Pix: make([]uint8, w*h)}
}

func (m *Image) At(x, y int) uint8     { return m.Pix[y*m.W+x] }
func (m *Image) Set(x, y int, v uint8) { m.Pix[y*m.W+x] = v }

// resample scales m to cols×rows using area averaging: each target
// cell takes the mean of the source rectangle it covers. Pure integer
// box bounds keep the result deterministic for identical inputs.
func (m *Image) resample(cols, rows int) *Image {
	if m.W == cols && m.H == rows {
		return m
	}

	out := NewImage(cols, rows)
	for ty := 0; ty < rows; ty++ {
		y0 := ty * m.H / rows
		y1 := (ty + 1) * m.H / rows
		if y1 <= y0 {
			y1 = y0 + 1
		}
		if y1 > m.H {
			y1 = m.H
		}
		for tx := 0; tx < cols; tx++ {
			x0 := tx * m.W / cols
			x1 := (tx + 1) * m.W / cols
			if x1 <= x0 {
				x1 = x0 + 1
			}
			if x1 > m.W {
				x1 = m.W
			}

			var sum, n int
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					sum += int(m.At(x, y))
					n++
				}
			}
			out.Set(tx, ty, uint8(sum/n))
		}
	}
	return out
}
