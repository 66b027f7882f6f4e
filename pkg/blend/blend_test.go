package blend

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(n int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, n, n))
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func noise(r *rand.Rand, n int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, n, n))
	r.Read(img.Pix)
	return img
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"": Uniform, "uniform": Uniform, "Linear": Linear, "taper": Linear} {
		got, err := ParsePolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParsePolicy("gaussian")
	assert.Error(t, err)
	assert.Equal(t, "linear", Linear.String())
}

func TestMask(t *testing.T) {
	assert.Equal(t, []float64{1, 1, 1, 1}, Mask(Uniform, 2))
	assert.Equal(t, []float64{
		1, 2, 1,
		2, 4, 2,
		1, 2, 1,
	}, Mask(Linear, 3))
	for _, w := range Mask(Linear, 8) {
		assert.Greater(t, w, 0.0)
	}
}

func TestComposite_UniformAveragesOverlap(t *testing.T) {
	// 768x256 with window 512, stride 256: tiles at x=0 and x=256.
	a := solid(512, color.NRGBA{100, 0, 200, 255})
	b := solid(512, color.NRGBA{201, 50, 0, 255})

	out, err := Composite(768, 256, 512, Uniform, []TileResult{
		{Offset: image.Pt(0, 0), Tile: a},
		{Offset: image.Pt(256, 0), Tile: b},
	})
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 768, 256), out.Bounds())

	assert.Equal(t, color.NRGBA{100, 0, 200, 255}, out.NRGBAAt(0, 10))
	assert.Equal(t, color.NRGBA{100, 0, 200, 255}, out.NRGBAAt(255, 255))
	// (100+201)/2 = 150.5 rounds up; (0+50)/2 = 25; (200+0)/2 = 100.
	for _, x := range []int{256, 300, 511} {
		assert.Equal(t, color.NRGBA{151, 25, 100, 255}, out.NRGBAAt(x, 128), "x=%d", x)
	}
	assert.Equal(t, color.NRGBA{201, 50, 0, 255}, out.NRGBAAt(512, 0))
	assert.Equal(t, color.NRGBA{201, 50, 0, 255}, out.NRGBAAt(767, 255))
}

func TestComposite_LinearFavoursTileCentre(t *testing.T) {
	a := solid(4, color.NRGBA{0, 0, 0, 255})
	b := solid(4, color.NRGBA{240, 240, 240, 255})
	// Width 6: tiles at x=0 and x=2 overlap on x=2,3.
	out, err := Composite(6, 4, 4, Linear, []TileResult{
		{Offset: image.Pt(0, 0), Tile: a},
		{Offset: image.Pt(2, 0), Tile: b},
	})
	require.NoError(t, err)
	// x=2: weight 2 from a (index 2), 1 from b (index 0) -> 240/3 = 80.
	assert.Equal(t, uint8(80), out.NRGBAAt(2, 1).R)
	// x=3: weight 1 from a (index 3), 2 from b (index 1) -> 480/3 = 160.
	assert.Equal(t, uint8(160), out.NRGBAAt(3, 1).R)
}

func TestComposite_IdentityTilesReproduceImage(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	src := noise(r, 10)
	for i := 3; i < len(src.Pix); i += 4 {
		src.Pix[i] = 255
	}

	for _, p := range []Policy{Uniform, Linear} {
		offsets := []image.Point{{0, 0}, {4, 0}, {0, 4}, {4, 4}, {2, 3}}
		var results []TileResult
		for _, off := range offsets {
			results = append(results, TileResult{
				Offset: off,
				Tile:   src.SubImage(image.Rect(off.X, off.Y, off.X+6, off.Y+6)).(*image.NRGBA),
			})
		}
		out, err := Composite(10, 10, 6, p, results)
		require.NoError(t, err)
		assert.Equal(t, src.Pix, out.Pix, p.String())
	}
}

func TestComposite_OrderIndependent(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	offsets := []image.Point{{0, 0}, {5, 0}, {9, 0}, {0, 5}, {5, 5}, {9, 5}}
	var results []TileResult
	for _, off := range offsets {
		results = append(results, TileResult{Offset: off, Tile: noise(r, 8)})
	}

	for _, p := range []Policy{Uniform, Linear} {
		want, err := Composite(17, 13, 8, p, results)
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			shuffled := append([]TileResult(nil), results...)
			r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
			got, err := Composite(17, 13, 8, p, shuffled)
			require.NoError(t, err)
			assert.Equal(t, want.Pix, got.Pix)
		}
	}
}

func TestCanvas_ClipsTilesPastEdge(t *testing.T) {
	c := NewCanvas(3, 2, 4, Uniform)
	require.NoError(t, c.Add(image.Pt(0, 0), solid(4, color.NRGBA{9, 8, 7, 255})))
	out, err := c.Image()
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 3, 2), out.Bounds())
	assert.Equal(t, color.NRGBA{9, 8, 7, 255}, out.NRGBAAt(2, 1))
}

func TestCanvas_RejectsWrongShape(t *testing.T) {
	c := NewCanvas(8, 8, 4, Uniform)
	err := c.Add(image.Pt(0, 0), solid(3, color.NRGBA{}))
	assert.ErrorIs(t, err, ErrTileShape)
}

func TestCanvas_UncoveredPixel(t *testing.T) {
	c := NewCanvas(8, 4, 4, Uniform)
	require.NoError(t, c.Add(image.Pt(0, 0), solid(4, color.NRGBA{})))
	_, err := c.Image()
	assert.ErrorIs(t, err, ErrUncovered)
}
