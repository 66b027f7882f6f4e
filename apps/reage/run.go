package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/PhantomInTheWire/reage-pipeline/pkg/model"
	"github.com/PhantomInTheWire/reage-pipeline/pkg/pipeline"
	"github.com/PhantomInTheWire/reage-pipeline/pkg/video"
)

// videoIO holds the settings only video runs need.
type videoIO struct {
	ffmpeg string
	fps    float64
}

func (a *app) runImage(ctx context.Context, m model.Model, in, out string, ages model.Ages) error {
	opts, err := a.options()
	if err != nil {
		return err
	}
	start := time.Now()
	img, err := a.readImage(ctx, in)
	if err != nil {
		return fmt.Errorf("read %s: %w", in, err)
	}
	res, err := pipeline.ProcessImage(ctx, m, img, ages, opts)
	if err != nil {
		return err
	}
	if err := a.writeImage(ctx, out, res); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	a.logger.Info("image done",
		zap.String("in", in),
		zap.String("out", out),
		zap.Int("source_age", ages.Source),
		zap.Int("target_age", ages.Target),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (a *app) runVideo(ctx context.Context, m model.Model, in, out string, ages model.Ages, vio videoIO) error {
	opts, err := a.options()
	if err != nil {
		return err
	}
	tmp, err := os.MkdirTemp("", "reage-video")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	start := time.Now()
	src, err := a.localInput(ctx, in, tmp)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", in, err)
	}
	dst, publish, err := a.localOutput(ctx, out, tmp)
	if err != nil {
		return err
	}

	seq, err := video.Read(ctx, src, vio.ffmpeg, vio.fps)
	if err != nil {
		return fmt.Errorf("read %s: %w", in, err)
	}
	res, err := pipeline.ProcessVideo(ctx, m, seq.Images(), ages, opts)
	if err != nil {
		return err
	}
	if err := video.Write(ctx, dst, vio.ffmpeg, seq.WithFrames(res.Frames)); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	if err := publish(); err != nil {
		return fmt.Errorf("upload %s: %w", out, err)
	}

	for _, f := range res.Failed {
		a.logger.Warn("frame kept original", zap.Int("frame", f.Index), zap.Error(f.Err))
	}
	a.logger.Info("video done",
		zap.String("in", in),
		zap.String("out", out),
		zap.Int("frames", len(res.Frames)),
		zap.Int("failed", len(res.Failed)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}
