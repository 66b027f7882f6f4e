// Package imageio decodes uploads into the NRGBA images the pipeline works
// on and encodes results back out.
package imageio

import (
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// Load opens an image file, applying any EXIF orientation.
func Load(path string) (*image.NRGBA, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	return imaging.Clone(img), nil
}

// Save writes img in the format implied by the file extension.
func Save(img image.Image, path string) error {
	return imaging.Save(img, path)
}

func Decode(r io.Reader) (*image.NRGBA, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	return imaging.Clone(img), nil
}

// Encode writes img to w in the format implied by name, e.g. "out.jpg".
func Encode(w io.Writer, img image.Image, name string) error {
	f, err := imaging.FormatFromFilename(name)
	if err != nil {
		return fmt.Errorf("output format for %q: %w", name, err)
	}
	return imaging.Encode(w, img, f)
}

// ContentType maps a file name to the MIME type used when storing it.
func ContentType(name string) string {
	f, err := imaging.FormatFromFilename(name)
	if err != nil {
		return "application/octet-stream"
	}
	switch f {
	case imaging.JPEG:
		return "image/jpeg"
	case imaging.GIF:
		return "image/gif"
	case imaging.TIFF:
		return "image/tiff"
	case imaging.BMP:
		return "image/bmp"
	default:
		return "image/png"
	}
}
