package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PhantomInTheWire/reage-pipeline/pkg/tile"
)

func newSplitCmd(a *app) *cobra.Command {
	var in, outDir, upload string
	cmd := &cobra.Command{
		Use:   "split",
		Short: "Write the inference tiles of an image as PNGs",
		Long: `split plans the same tile grid the image command uses and writes each
padded tile as tile_<row>_<col>.png. With --upload the tiles are pushed to
s3://bucket/prefix as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag("in", in); err != nil {
				return err
			}
			ctx := cmd.Context()
			img, err := a.readImage(ctx, in)
			if err != nil {
				return err
			}
			b := img.Bounds()
			g, err := tile.Plan(b.Dx(), b.Dy(), a.cfg.Pipeline.WindowSize, a.cfg.Pipeline.Stride)
			if err != nil {
				return err
			}
			files, err := tile.Dump(img, g, outDir)
			if err != nil {
				return err
			}
			a.logger.Info("tiles written",
				zap.Int("tiles", len(files)),
				zap.Int("rows", g.Rows()),
				zap.Int("cols", g.Cols()),
				zap.String("dir", outDir))

			if upload == "" {
				return nil
			}
			bucket, prefix, ok := parseUploadTarget(upload)
			if !ok {
				return fmt.Errorf("--upload must be s3://bucket/prefix, got %q", upload)
			}
			s, err := a.storeFor(ctx, bucket)
			if err != nil {
				return err
			}
			if err := s.EnsureBucket(ctx); err != nil {
				return err
			}
			keys, err := s.UploadDir(ctx, outDir, prefix)
			a.logger.Info("tiles uploaded", zap.String("bucket", bucket), zap.Int("objects", len(keys)))
			return err
		},
	}
	cmd.Flags().StringVarP(&in, "in", "i", "", "input image path or s3://bucket/key")
	cmd.Flags().StringVar(&outDir, "out-dir", "./shared/tiles", "directory for tile PNGs")
	cmd.Flags().StringVar(&upload, "upload", "", "optional s3://bucket/prefix to upload tiles to")
	return cmd
}
