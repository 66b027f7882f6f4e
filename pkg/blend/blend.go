// Package blend merges overlapping tile outputs into one image by weighted
// accumulation followed by normalisation.
package blend

import (
	"errors"
	"fmt"
	"image"
	"math"
	"strings"
	"sync"
)

// Policy selects the per-pixel weight each tile contributes.
type Policy int

const (
	// Uniform weights every tile pixel 1, so overlaps are plain averages.
	Uniform Policy = iota
	// Linear tapers weight towards the tile edges to hide seams. Edge
	// pixels keep a small positive weight so the image border stays covered.
	Linear
)

func (p Policy) String() string {
	switch p {
	case Uniform:
		return "uniform"
	case Linear:
		return "linear"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "uniform":
		return Uniform, nil
	case "linear", "taper":
		return Linear, nil
	default:
		return 0, fmt.Errorf("unknown blend policy %q", s)
	}
}

var (
	ErrTileShape = errors.New("tile does not match window size")
	ErrUncovered = errors.New("canvas has pixels with no weight")
)

// Mask returns window×window weights in row-major order.
func Mask(p Policy, window int) []float64 {
	mask := make([]float64, window*window)
	if p != Linear {
		for i := range mask {
			mask[i] = 1
		}
		return mask
	}
	ramp := taper(window)
	for y := 0; y < window; y++ {
		for x := 0; x < window; x++ {
			mask[y*window+x] = ramp[y] * ramp[x]
		}
	}
	return mask
}

// taper rises by one per pixel from 1 at either end of the axis to
// ceil(n/2) in the middle. Weights stay integral so accumulation is exact
// and independent of tile order; normalisation removes the scale.
func taper(n int) []float64 {
	r := make([]float64, n)
	for i := range r {
		r[i] = float64(min(i+1, n-i))
	}
	return r
}

// TileResult is one transformed tile and the grid offset it came from.
type TileResult struct {
	Offset image.Point
	Tile   *image.NRGBA
}

// Canvas accumulates RGB contributions in float64 alongside a weight
// buffer. Add may be called from multiple goroutines.
type Canvas struct {
	width, height int
	window        int
	mask          []float64

	mu     sync.Mutex
	sum    []float64 // 3 per pixel
	weight []float64
}

func NewCanvas(width, height, window int, p Policy) *Canvas {
	return &Canvas{
		width:  width,
		height: height,
		window: window,
		mask:   Mask(p, window),
		sum:    make([]float64, 3*width*height),
		weight: make([]float64, width*height),
	}
}

// Add accumulates tile at off. The tile must be window×window; the part
// that falls outside the canvas is ignored.
func (c *Canvas) Add(off image.Point, tile *image.NRGBA) error {
	b := tile.Bounds()
	if b.Dx() != c.window || b.Dy() != c.window {
		return fmt.Errorf("%w: got %dx%d, want %dx%d", ErrTileShape, b.Dx(), b.Dy(), c.window, c.window)
	}
	x1 := min(off.X+c.window, c.width)
	y1 := min(off.Y+c.window, c.height)

	c.mu.Lock()
	defer c.mu.Unlock()
	for y := max(off.Y, 0); y < y1; y++ {
		ty := y - off.Y
		for x := max(off.X, 0); x < x1; x++ {
			tx := x - off.X
			w := c.mask[ty*c.window+tx]
			si := tile.PixOffset(b.Min.X+tx, b.Min.Y+ty)
			p := y*c.width + x
			c.sum[3*p] += w * float64(tile.Pix[si])
			c.sum[3*p+1] += w * float64(tile.Pix[si+1])
			c.sum[3*p+2] += w * float64(tile.Pix[si+2])
			c.weight[p] += w
		}
	}
	return nil
}

// Image normalises the accumulated values into an opaque image. Values are
// rounded to nearest and clamped to [0,255].
func (c *Canvas) Image() (*image.NRGBA, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := image.NewNRGBA(image.Rect(0, 0, c.width, c.height))
	for p, w := range c.weight {
		if w <= 0 {
			return nil, fmt.Errorf("%w: pixel (%d,%d)", ErrUncovered, p%c.width, p/c.width)
		}
		i := 4 * p
		out.Pix[i] = quantize(c.sum[3*p] / w)
		out.Pix[i+1] = quantize(c.sum[3*p+1] / w)
		out.Pix[i+2] = quantize(c.sum[3*p+2] / w)
		out.Pix[i+3] = 255
	}
	return out, nil
}

func quantize(v float64) uint8 {
	v = math.Round(v)
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}

// Composite blends results onto a fresh width×height canvas.
func Composite(width, height, window int, p Policy, results []TileResult) (*image.NRGBA, error) {
	c := NewCanvas(width, height, window, p)
	for _, r := range results {
		if err := c.Add(r.Offset, r.Tile); err != nil {
			return nil, fmt.Errorf("tile at %v: %w", r.Offset, err)
		}
	}
	return c.Image()
}
