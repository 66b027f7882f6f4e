package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/PhantomInTheWire/reage-pipeline/pkg/blend"
	"github.com/PhantomInTheWire/reage-pipeline/pkg/model"
	"github.com/PhantomInTheWire/reage-pipeline/pkg/tile"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var ages = model.Ages{Source: 21, Target: 80}

func opts(window, stride int) Options {
	o := DefaultOptions()
	o.Window, o.Stride = window, stride
	o.Workers = 4
	return o
}

func noisy(seed int64, w, h int) *image.NRGBA {
	r := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	r.Read(img.Pix)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	return img
}

func fill(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

// meanRed paints the whole tile with its mean red value.
var meanRed = model.Func(func(_ context.Context, t *image.NRGBA, _ model.Ages) (*image.NRGBA, error) {
	sum := 0
	for i := 0; i < len(t.Pix); i += 4 {
		sum += int(t.Pix[i])
	}
	n := len(t.Pix) / 4
	b := t.Bounds()
	return fill(b.Dx(), b.Dy(), color.NRGBA{R: uint8(sum / n), A: 255}), nil
})

func TestProcessImage_IdentityReproducesInput(t *testing.T) {
	src := noisy(3, 97, 61)
	for _, p := range [][2]int{{16, 8}, {32, 32}, {40, 13}, {61, 30}, {128, 64}, {7, 3}} {
		for _, policy := range []blend.Policy{blend.Uniform, blend.Linear} {
			o := opts(p[0], p[1])
			o.Policy = policy
			out, err := ProcessImage(context.Background(), model.Identity{}, src, ages, o)
			require.NoError(t, err)
			assert.Equal(t, src.Pix, out.Pix, "window=%d stride=%d policy=%s", p[0], p[1], policy)
		}
	}
}

func TestProcessImage_ShapePreserved(t *testing.T) {
	src := noisy(5, 517, 300)
	out, err := ProcessImage(context.Background(), model.Identity{}, src, ages, opts(512, 256))
	require.NoError(t, err)
	assert.Equal(t, src.Bounds(), out.Bounds())
	assert.Equal(t, src.Pix, out.Pix)
}

func TestProcessImage_AcceptsNonZeroOrigin(t *testing.T) {
	full := noisy(9, 40, 40)
	sub := full.SubImage(image.Rect(5, 7, 35, 27))
	out, err := ProcessImage(context.Background(), model.Identity{}, sub, ages, opts(16, 8))
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 30, 20), out.Bounds())
	assert.Equal(t, full.NRGBAAt(5, 7), out.NRGBAAt(0, 0))
	assert.Equal(t, full.NRGBAAt(34, 26), out.NRGBAAt(29, 19))
}

func TestProcessImage_OverlapIsAveraged(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 768, 256))
	for y := 0; y < 256; y++ {
		for x := 0; x < 768; x++ {
			r := uint8(0)
			switch {
			case x >= 512:
				r = 200
			case x >= 256:
				r = 100
			}
			src.SetNRGBA(x, y, color.NRGBA{R: r, A: 255})
		}
	}

	out, err := ProcessImage(context.Background(), meanRed, src, ages, opts(512, 256))
	require.NoError(t, err)
	// Tile at x=0 averages to 50, tile at x=256 to 150.
	assert.Equal(t, uint8(50), out.NRGBAAt(0, 0).R)
	assert.Equal(t, uint8(50), out.NRGBAAt(255, 255).R)
	assert.Equal(t, uint8(100), out.NRGBAAt(256, 0).R)
	assert.Equal(t, uint8(100), out.NRGBAAt(511, 100).R)
	assert.Equal(t, uint8(150), out.NRGBAAt(512, 0).R)
	assert.Equal(t, uint8(150), out.NRGBAAt(767, 255).R)
}

func TestProcessImage_SingleTileSeesPaddedWindow(t *testing.T) {
	var calls atomic.Int32
	m := model.Func(func(_ context.Context, t *image.NRGBA, _ model.Ages) (*image.NRGBA, error) {
		calls.Add(1)
		if t.Bounds().Dx() != 64 || t.Bounds().Dy() != 64 {
			return nil, errors.New("unexpected tile size")
		}
		return t, nil
	})
	src := noisy(11, 30, 20)
	out, err := ProcessImage(context.Background(), m, src, ages, opts(64, 32))
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, src.Pix, out.Pix)
}

func TestProcessImage_InferenceFailureAborts(t *testing.T) {
	boom := errors.New("cuda out of memory")
	var calls atomic.Int32
	m := model.Func(func(_ context.Context, t *image.NRGBA, _ model.Ages) (*image.NRGBA, error) {
		if calls.Add(1) == 3 {
			return nil, boom
		}
		return t, nil
	})
	o := opts(16, 8)
	o.Workers = 1

	out, err := ProcessImage(context.Background(), m, noisy(1, 64, 64), ages, o)
	assert.Nil(t, out)
	var ie *InferenceError
	require.ErrorAs(t, err, &ie)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, -1, ie.Frame)
	assert.Equal(t, image.Pt(16, 0), ie.Offset)
}

func TestProcessImage_DimensionMismatch(t *testing.T) {
	m := model.Func(func(_ context.Context, t *image.NRGBA, _ model.Ages) (*image.NRGBA, error) {
		return image.NewNRGBA(image.Rect(0, 0, 8, 8)), nil
	})
	out, err := ProcessImage(context.Background(), m, noisy(1, 32, 32), ages, opts(16, 8))
	assert.Nil(t, out)
	var dm *DimensionMismatchError
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 16, dm.Want.Dx())
	assert.Equal(t, 8, dm.Got.Dx())
}

func TestProcessImage_NilOutputIsMismatch(t *testing.T) {
	m := model.Func(func(context.Context, *image.NRGBA, model.Ages) (*image.NRGBA, error) { return nil, nil })
	_, err := ProcessImage(context.Background(), m, noisy(1, 16, 16), ages, opts(16, 8))
	var dm *DimensionMismatchError
	assert.ErrorAs(t, err, &dm)
}

func TestProcessImage_ValidatesBeforeInference(t *testing.T) {
	var calls atomic.Int32
	m := model.Func(func(_ context.Context, t *image.NRGBA, _ model.Ages) (*image.NRGBA, error) {
		calls.Add(1)
		return t, nil
	})

	_, err := ProcessImage(context.Background(), m, noisy(1, 32, 32), ages, opts(0, 8))
	assert.ErrorIs(t, err, tile.ErrInvalidGridParameters)
	_, err = ProcessImage(context.Background(), m, noisy(1, 32, 32), ages, opts(16, -1))
	assert.ErrorIs(t, err, tile.ErrInvalidGridParameters)
	_, err = ProcessImage(context.Background(), m, noisy(1, 32, 32), model.Ages{Source: 20, Target: 300}, opts(16, 8))
	assert.ErrorIs(t, err, model.ErrAgeOutOfRange)
	assert.Zero(t, calls.Load())
}

func TestProcessImage_TileTimeoutIsInferenceError(t *testing.T) {
	m := model.Func(func(ctx context.Context, t *image.NRGBA, _ model.Ages) (*image.NRGBA, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	o := opts(16, 16)
	o.TileTimeout = 5 * time.Millisecond
	_, err := ProcessImage(context.Background(), m, noisy(1, 16, 16), ages, o)
	var ie *InferenceError
	require.ErrorAs(t, err, &ie)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProcessImage_PassesAgesToEveryTile(t *testing.T) {
	var bad atomic.Int32
	m := model.Func(func(_ context.Context, t *image.NRGBA, a model.Ages) (*image.NRGBA, error) {
		if a != ages {
			bad.Add(1)
		}
		return t, nil
	})
	_, err := ProcessImage(context.Background(), m, noisy(1, 50, 50), ages, opts(16, 8))
	require.NoError(t, err)
	assert.Zero(t, bad.Load())
}

func TestParseFramePolicy(t *testing.T) {
	p, err := ParseFramePolicy("keep_original")
	require.NoError(t, err)
	assert.Equal(t, KeepOriginal, p)
	p, err = ParseFramePolicy("")
	require.NoError(t, err)
	assert.Equal(t, Abort, p)
	_, err = ParseFramePolicy("retry")
	assert.Error(t, err)
}
