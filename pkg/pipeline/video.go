package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/PhantomInTheWire/reage-pipeline/pkg/model"
	"github.com/PhantomInTheWire/reage-pipeline/pkg/tile"
)

// FrameFailure records a frame replaced under KeepOriginal.
type FrameFailure struct {
	Index int
	Err   error
}

type VideoResult struct {
	// Frames has one entry per input frame, in input order.
	Frames []*image.NRGBA
	// Failed is sorted by frame index; always empty under Abort.
	Failed []FrameFailure
}

// ProcessVideo re-ages every frame independently. At most FrameWorkers
// frames are held in memory at once. Frame failures are handled according
// to opts.FramePolicy; cancellation of ctx always aborts.
func ProcessVideo(ctx context.Context, m model.Model, frames []image.Image, ages model.Ages, opts Options) (*VideoResult, error) {
	opts = opts.withDefaults()
	if err := ages.Validate(); err != nil {
		return nil, err
	}
	res := &VideoResult{Frames: make([]*image.NRGBA, len(frames))}
	if len(frames) == 0 {
		return res, nil
	}

	size := frames[0].Bounds().Size()
	grid, err := tile.Plan(size.X, size.Y, opts.Window, opts.Stride)
	if err != nil {
		return nil, err
	}
	for i, f := range frames {
		if got := f.Bounds().Size(); got != size {
			return nil, fmt.Errorf("%w: frame %d is %v, frame 0 is %v", ErrFrameSize, i, got, size)
		}
	}

	start := time.Now()
	m = model.WithTimeout(m, opts.TileTimeout)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.FrameWorkers)
	for i, f := range frames {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			src := imaging.Clone(f)
			out, err := processFrame(gctx, m, src, grid, ages, opts, i)
			if err == nil {
				res.Frames[i] = out
				return nil
			}
			if opts.FramePolicy == Abort || ctx.Err() != nil {
				return err
			}
			opts.Logger.Warn("frame failed, keeping original", zap.Int("frame", i), zap.Error(err))
			mu.Lock()
			res.Frames[i] = src
			res.Failed = append(res.Failed, FrameFailure{Index: i, Err: err})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(res.Failed, func(a, b int) bool { return res.Failed[a].Index < res.Failed[b].Index })
	opts.Logger.Info("video processed",
		zap.Int("frames", len(frames)),
		zap.Int("failed", len(res.Failed)),
		zap.Stringer("policy", opts.FramePolicy),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// FailedErr joins the recorded frame failures, or returns nil.
func (r *VideoResult) FailedErr() error {
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, f.Err)
	}
	return errors.Join(errs...)
}
