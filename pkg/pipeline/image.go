// Package pipeline runs the tiled re-aging pass over single images and
// frame sequences.
package pipeline

import (
	"context"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/PhantomInTheWire/reage-pipeline/pkg/blend"
	"github.com/PhantomInTheWire/reage-pipeline/pkg/model"
	"github.com/PhantomInTheWire/reage-pipeline/pkg/tile"
)

// ProcessImage re-ages img and returns a new image of the same size. Age
// and grid parameters are checked before any inference runs. If any tile
// fails the whole image fails and no partial output is returned.
func ProcessImage(ctx context.Context, m model.Model, img image.Image, ages model.Ages, opts Options) (*image.NRGBA, error) {
	opts = opts.withDefaults()
	if err := ages.Validate(); err != nil {
		return nil, err
	}
	b := img.Bounds()
	grid, err := tile.Plan(b.Dx(), b.Dy(), opts.Window, opts.Stride)
	if err != nil {
		return nil, err
	}
	return processFrame(ctx, model.WithTimeout(m, opts.TileTimeout), imaging.Clone(img), grid, ages, opts, -1)
}

func processFrame(ctx context.Context, m model.Model, src *image.NRGBA, grid tile.Grid, ages model.Ages, opts Options, frame int) (*image.NRGBA, error) {
	start := time.Now()
	canvas := blend.NewCanvas(grid.Width, grid.Height, grid.Window, opts.Policy)
	want := image.Rect(0, 0, grid.Window, grid.Window)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for _, off := range grid.Offsets {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, err := m.Infer(gctx, tile.Extract(src, off, grid.Window), ages)
			if err != nil {
				return &InferenceError{Frame: frame, Offset: off, Err: err}
			}
			if out == nil || out.Bounds().Size() != want.Size() {
				got := image.Rectangle{}
				if out != nil {
					got = out.Bounds()
				}
				return &DimensionMismatchError{Frame: frame, Offset: off, Want: want, Got: got}
			}
			return canvas.Add(off, out)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := canvas.Image()
	if err != nil {
		return nil, err
	}
	opts.Logger.Debug("image processed",
		zap.Int("frame", frame),
		zap.Int("width", grid.Width),
		zap.Int("height", grid.Height),
		zap.Int("tiles", grid.Len()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}
