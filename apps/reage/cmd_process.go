package main

import (
	"github.com/spf13/cobra"

	"github.com/PhantomInTheWire/reage-pipeline/pkg/model"
	"github.com/PhantomInTheWire/reage-pipeline/pkg/video"
)

type processFlags struct {
	in, out string
	ages    model.Ages
}

func (f *processFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.in, "in", "i", "", "input path or s3://bucket/key")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "output path or s3://bucket/key")
	cmd.Flags().IntVar(&f.ages.Source, "source-age", 20, "apparent age of the input")
	cmd.Flags().IntVar(&f.ages.Target, "target-age", 80, "desired age of the output")
}

func (f *processFlags) validate() error {
	if err := requireFlag("in", f.in); err != nil {
		return err
	}
	if err := requireFlag("out", f.out); err != nil {
		return err
	}
	return f.ages.Validate()
}

func newImageCmd(a *app) *cobra.Command {
	var f processFlags
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Re-age a single image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.validate(); err != nil {
				return err
			}
			if _, err := a.options(); err != nil {
				return err
			}
			m, err := a.openModel()
			if err != nil {
				return err
			}
			defer m.Close()
			return a.runImage(cmd.Context(), m, f.in, f.out, f.ages)
		},
	}
	f.register(cmd)
	return cmd
}

func newVideoCmd(a *app) *cobra.Command {
	var (
		f            processFlags
		vio          videoIO
		framePolicy  string
		frameWorkers int
	)
	cmd := &cobra.Command{
		Use:   "video",
		Short: "Re-age every frame of a GIF, frame directory, or video file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.validate(); err != nil {
				return err
			}
			if cmd.Flags().Changed("frame-policy") {
				a.cfg.Pipeline.FramePolicy = framePolicy
			}
			if cmd.Flags().Changed("frame-workers") {
				a.cfg.Pipeline.FrameWorkers = frameWorkers
			}
			if _, err := a.options(); err != nil {
				return err
			}
			m, err := a.openModel()
			if err != nil {
				return err
			}
			defer m.Close()
			return a.runVideo(cmd.Context(), m, f.in, f.out, f.ages, vio)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&vio.ffmpeg, "ffmpeg", video.DefaultFFmpeg, "ffmpeg binary for non-GIF containers")
	cmd.Flags().Float64Var(&vio.fps, "fps", 0, "frame rate to sample and encode at; 0 keeps the source rate")
	cmd.Flags().StringVar(&framePolicy, "frame-policy", "", "on frame failure: abort or keep_original")
	cmd.Flags().IntVar(&frameWorkers, "frame-workers", 0, "frames processed concurrently")
	return cmd
}
