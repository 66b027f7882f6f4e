package video

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
)

// DefaultFFmpeg is looked up on PATH.
const DefaultFFmpeg = "ffmpeg"

// Extract decodes video into FramePattern PNGs under dir. A positive fps
// resamples the clip; otherwise every source frame is kept.
func Extract(ctx context.Context, bin, video, dir string, fps float64) error {
	return run(ctx, bin, extractArgs(video, dir, fps))
}

// Assemble encodes the FramePattern PNGs in dir into out at fps.
func Assemble(ctx context.Context, bin, dir string, fps float64, out string) error {
	return run(ctx, bin, assembleArgs(dir, fps, out))
}

func extractArgs(video, dir string, fps float64) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-i", video}
	if fps > 0 {
		args = append(args, "-vf", "fps="+formatFPS(fps))
	}
	return append(args, filepath.Join(dir, FramePattern))
}

func assembleArgs(dir string, fps float64, out string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-framerate", formatFPS(fps),
		"-i", filepath.Join(dir, FramePattern),
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		out,
	}
}

func formatFPS(fps float64) string {
	return strconv.FormatFloat(fps, 'f', -1, 64)
}

func run(ctx context.Context, bin string, args []string) error {
	if bin == "" {
		bin = DefaultFFmpeg
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w, output: %s", bin, err, string(out))
	}
	return nil
}
