package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newBatchCmd(a *app) *cobra.Command {
	var (
		f        processFlags
		inDir    string
		outDir   string
		failFast bool
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Re-age every image in a directory and report timings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.ages.Validate(); err != nil {
				return err
			}
			inputs, err := listImages(inDir)
			if err != nil {
				return err
			}
			if len(inputs) == 0 {
				return fmt.Errorf("no images in %s", inDir)
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}

			opts, err := a.options()
			if err != nil {
				return err
			}
			m, err := a.openModel()
			if err != nil {
				return err
			}
			defer m.Close()

			a.logger.Info("batch started",
				zap.Int("images", len(inputs)),
				zap.Int("workers", opts.Workers))
			start := time.Now()
			var errs []error
			for _, name := range inputs {
				in := filepath.Join(inDir, name)
				out := filepath.Join(outDir, outputName(name))
				if err := a.runImage(cmd.Context(), m, in, out, f.ages); err != nil {
					if failFast || cmd.Context().Err() != nil {
						return err
					}
					a.logger.Warn("image failed", zap.String("in", in), zap.Error(err))
					errs = append(errs, fmt.Errorf("%s: %w", name, err))
				}
			}
			elapsed := time.Since(start)
			a.logger.Info("batch done",
				zap.Int("images", len(inputs)),
				zap.Int("failed", len(errs)),
				zap.Duration("elapsed", elapsed),
				zap.Duration("per_image", elapsed/time.Duration(len(inputs))))
			return errors.Join(errs...)
		},
	}
	cmd.Flags().StringVar(&inDir, "in-dir", "./shared/input", "directory of input images")
	cmd.Flags().StringVar(&outDir, "out-dir", "./shared/output", "directory for results")
	cmd.Flags().IntVar(&f.ages.Source, "source-age", 20, "apparent age of the inputs")
	cmd.Flags().IntVar(&f.ages.Target, "target-age", 80, "desired age of the outputs")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "stop at the first failed image")
	return cmd
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg", ".webp":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// outputName keeps the input name unless the format cannot be encoded.
func outputName(name string) string {
	if ext := filepath.Ext(name); strings.EqualFold(ext, ".webp") {
		return strings.TrimSuffix(name, ext) + ".png"
	}
	return name
}
