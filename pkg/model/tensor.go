package model

import (
	"encoding/binary"
	"fmt"
	"image"
	"math"
)

// InputChannels is the channel count of the network input: RGB followed by
// constant source-age and target-age planes.
const InputChannels = 5

// EncodeInput lays out a tile as a planar CHW float32 tensor. Colour
// channels are scaled to [0,1]; each age plane holds age/100.
func EncodeInput(tile *image.NRGBA, ages Ages) []float32 {
	b := tile.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	out := make([]float32, InputChannels*plane)

	src := float32(ages.Source) / 100
	tgt := float32(ages.Target) / 100
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := tile.PixOffset(b.Min.X+x, b.Min.Y+y)
			p := y*w + x
			out[p] = float32(tile.Pix[i]) / 255
			out[plane+p] = float32(tile.Pix[i+1]) / 255
			out[2*plane+p] = float32(tile.Pix[i+2]) / 255
			out[3*plane+p] = src
			out[4*plane+p] = tgt
		}
	}
	return out
}

// ApplyResidual adds a planar 3×H×W delta, in [0,1] colour units, to tile
// and returns the clamped result. The network predicts the change to the
// input rather than the output image itself.
func ApplyResidual(tile *image.NRGBA, delta []float32) (*image.NRGBA, error) {
	b := tile.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	if len(delta) != 3*plane {
		return nil, fmt.Errorf("residual has %d values, want %d for a %dx%d tile", len(delta), 3*plane, w, h)
	}

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			si := tile.PixOffset(b.Min.X+x, b.Min.Y+y)
			di := out.PixOffset(x, y)
			p := y*w + x
			for c := 0; c < 3; c++ {
				v := float64(tile.Pix[si+c])/255 + float64(delta[c*plane+p])
				out.Pix[di+c] = toByte(v)
			}
			out.Pix[di+3] = 255
		}
	}
	return out, nil
}

func toByte(v float64) uint8 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Round(v * 255)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// Float32sToBytes encodes values little-endian, the layout of wasm linear
// memory.
func Float32sToBytes(vals []float32) []byte {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func BytesToFloat32s(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("buffer length %d is not a multiple of 4", len(buf))
	}
	vals := make([]float32, len(buf)/4)
	for i := range vals {
		vals[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vals, nil
}
