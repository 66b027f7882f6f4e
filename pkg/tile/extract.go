package tile

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// Extract copies the window×window tile at off out of img. Pixels past the
// image edge repeat the nearest edge pixel, so the model always receives a
// full tile even when the window is larger than the image.
func Extract(img *image.NRGBA, off image.Point, window int) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, window, window))
	for y := 0; y < window; y++ {
		sy := clamp(b.Min.Y+off.Y+y, b.Min.Y, b.Max.Y-1)
		for x := 0; x < window; x++ {
			sx := clamp(b.Min.X+off.X+x, b.Min.X, b.Max.X-1)
			si := img.PixOffset(sx, sy)
			di := dst.PixOffset(x, y)
			copy(dst.Pix[di:di+4], img.Pix[si:si+4])
		}
	}
	return dst
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Dump writes every tile of the grid into outDir as tile_<row>_<col>.png and
// returns the file names in grid order.
func Dump(img *image.NRGBA, g Grid, outDir string) ([]string, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, err
	}

	names := make([]string, 0, g.Len())
	for i, off := range g.Offsets {
		row, col := i/g.Cols(), i%g.Cols()
		name := fmt.Sprintf("tile_%d_%d.png", row, col)
		if err := imaging.Save(Extract(img, off, g.Window), filepath.Join(outDir, name)); err != nil {
			return nil, fmt.Errorf("save tile %s: %w", name, err)
		}
		names = append(names, name)
	}
	return names, nil
}
