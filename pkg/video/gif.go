package video

import (
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"io"
)

// ReadGIF decodes every frame of an animated GIF, compositing partial
// frames onto the logical screen and honouring disposal methods, so each
// returned frame is a full picture.
func ReadGIF(r io.Reader) (*Sequence, error) {
	g, err := gif.DecodeAll(r)
	if err != nil {
		return nil, err
	}
	if len(g.Image) == 0 {
		return nil, ErrNoFrames
	}

	screen := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if screen.Empty() {
		screen = g.Image[0].Bounds()
	}
	canvas := image.NewNRGBA(screen)
	seq := &Sequence{Delays: append([]int(nil), g.Delay...)}

	for i, frame := range g.Image {
		var prev *image.NRGBA
		disposal := byte(0)
		if i < len(g.Disposal) {
			disposal = g.Disposal[i]
		}
		if disposal == gif.DisposalPrevious {
			prev = cloneNRGBA(canvas)
		}

		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
		seq.Frames = append(seq.Frames, opaque(cloneNRGBA(canvas)))

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			canvas = prev
		}
	}
	seq.FPS = fpsFromDelays(seq.Delays)
	return seq, nil
}

// WriteGIF encodes seq as a looping GIF using the Plan 9 palette with
// Floyd-Steinberg dithering. Missing delays fall back to seq.FPS.
func WriteGIF(w io.Writer, seq *Sequence) error {
	if len(seq.Frames) == 0 {
		return ErrNoFrames
	}
	fps := seq.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}
	fallback := max(1, int(100/fps+0.5))

	out := &gif.GIF{}
	for i, f := range seq.Frames {
		b := f.Bounds()
		p := image.NewPaletted(b, palette.Plan9)
		draw.FloydSteinberg.Draw(p, b, f, b.Min)
		out.Image = append(out.Image, p)

		delay := fallback
		if i < len(seq.Delays) && seq.Delays[i] > 0 {
			delay = seq.Delays[i]
		}
		out.Delay = append(out.Delay, delay)
	}
	return gif.EncodeAll(w, out)
}

func fpsFromDelays(delays []int) float64 {
	total := 0
	for _, d := range delays {
		total += d
	}
	if total == 0 {
		return DefaultFPS
	}
	return float64(len(delays)) * 100 / float64(total)
}

func cloneNRGBA(src *image.NRGBA) *image.NRGBA {
	dst := image.NewNRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}

// opaque flattens transparency onto black; the model only sees RGB.
func opaque(img *image.NRGBA) *image.NRGBA {
	for i := 0; i < len(img.Pix); i += 4 {
		a := uint32(img.Pix[i+3])
		img.Pix[i] = uint8(uint32(img.Pix[i]) * a / 255)
		img.Pix[i+1] = uint8(uint32(img.Pix[i+1]) * a / 255)
		img.Pix[i+2] = uint8(uint32(img.Pix[i+2]) * a / 255)
		img.Pix[i+3] = 255
	}
	return img
}
