package model

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestAges_Validate(t *testing.T) {
	assert.NoError(t, Ages{Source: 21, Target: 80}.Validate())
	assert.NoError(t, Ages{Source: MinAge, Target: MaxAge}.Validate())
	assert.ErrorIs(t, Ages{Source: -1, Target: 30}.Validate(), ErrAgeOutOfRange)
	assert.ErrorIs(t, Ages{Source: 30, Target: 101}.Validate(), ErrAgeOutOfRange)
}

func TestIdentity_ReturnsCopy(t *testing.T) {
	in := solid(4, 4, color.NRGBA{10, 20, 30, 255})
	out, err := Identity{}.Infer(context.Background(), in, Ages{})
	require.NoError(t, err)
	assert.Equal(t, in.Pix, out.Pix)

	out.Pix[0] = 99
	assert.Equal(t, uint8(10), in.Pix[0])
}

func TestWithTimeout(t *testing.T) {
	slow := Func(func(ctx context.Context, tile *image.NRGBA, _ Ages) (*image.NRGBA, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return tile, nil
		}
	})

	_, err := WithTimeout(slow, 10*time.Millisecond).Infer(context.Background(), solid(2, 2, color.NRGBA{}), Ages{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithTimeout_ZeroIsPassthrough(t *testing.T) {
	m := Identity{}
	assert.Equal(t, Model(m), WithTimeout(m, 0))
}

func TestWithTimeout_PropagatesModelError(t *testing.T) {
	boom := errors.New("boom")
	failing := Func(func(context.Context, *image.NRGBA, Ages) (*image.NRGBA, error) { return nil, boom })
	_, err := WithTimeout(failing, time.Second).Infer(context.Background(), solid(2, 2, color.NRGBA{}), Ages{})
	assert.ErrorIs(t, err, boom)
}

func TestSerialized_OneCallAtATime(t *testing.T) {
	var active, peak atomic.Int32
	inner := Func(func(_ context.Context, tile *image.NRGBA, _ Ages) (*image.NRGBA, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		return tile, nil
	})

	m := Serialized(inner)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Infer(context.Background(), solid(1, 1, color.NRGBA{}), Ages{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())
}

func TestSerialized_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Serialized(Identity{}).Infer(ctx, solid(1, 1, color.NRGBA{}), Ages{})
	assert.ErrorIs(t, err, context.Canceled)
}
