// Package tile plans the overlapping windows an image is cut into and
// extracts the fixed-size tiles the model consumes.
package tile

import (
	"errors"
	"fmt"
	"image"
)

// Reference defaults used at the service boundary (50% overlap).
const (
	DefaultWindow = 512
	DefaultStride = 256
)

// ErrInvalidGridParameters is returned when the window, stride or image
// dimensions are not positive.
var ErrInvalidGridParameters = errors.New("invalid grid parameters")

// Grid is an ordered, row-major set of tile offsets covering an image.
type Grid struct {
	Width, Height int
	Window        int
	// Stride is the effective stride; it never exceeds Window.
	Stride  int
	Offsets []image.Point
	cols    int
}

// Plan computes the tile offsets for a width×height image. Offsets on each
// axis step by stride; the last one is pulled back so the tile ends on the
// image edge. A stride larger than the window would leave gaps, so it is
// clamped to the window.
func Plan(width, height, window, stride int) (Grid, error) {
	if window <= 0 || stride <= 0 {
		return Grid{}, fmt.Errorf("%w: window=%d stride=%d", ErrInvalidGridParameters, window, stride)
	}
	if width <= 0 || height <= 0 {
		return Grid{}, fmt.Errorf("%w: image %dx%d", ErrInvalidGridParameters, width, height)
	}
	stride = min(stride, window)

	xs := Axis(width, window, stride)
	ys := Axis(height, window, stride)

	offsets := make([]image.Point, 0, len(xs)*len(ys))
	for _, y := range ys {
		for _, x := range xs {
			offsets = append(offsets, image.Pt(x, y))
		}
	}
	return Grid{
		Width:   width,
		Height:  height,
		Window:  window,
		Stride:  stride,
		Offsets: offsets,
		cols:    len(xs),
	}, nil
}

// Axis returns the tile starts along one axis of the given length. Inputs
// are assumed valid; Plan checks them.
func Axis(length, window, stride int) []int {
	if window >= length {
		return []int{0}
	}
	var offs []int
	for x := 0; ; x += stride {
		if x+window >= length {
			offs = append(offs, length-window)
			return offs
		}
		offs = append(offs, x)
	}
}

// Len is the number of tiles.
func (g Grid) Len() int { return len(g.Offsets) }

// Cols is the number of tiles per row.
func (g Grid) Cols() int { return g.cols }

// Rows is the number of tile rows.
func (g Grid) Rows() int {
	if g.cols == 0 {
		return 0
	}
	return len(g.Offsets) / g.cols
}

// Rect is the part of tile i that lies inside the image.
func (g Grid) Rect(i int) image.Rectangle {
	off := g.Offsets[i]
	r := image.Rect(off.X, off.Y, off.X+g.Window, off.Y+g.Window)
	return r.Intersect(image.Rect(0, 0, g.Width, g.Height))
}
