// Package video turns clips into ordered frame sequences and back. GIFs and
// PNG frame directories are handled in-process; other containers go through
// an external ffmpeg binary.
package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
)

// DefaultFPS is used when a source carries no timing.
const DefaultFPS = 25.0

var ErrNoFrames = errors.New("no frames")

// Sequence is an ordered list of equally sized frames.
type Sequence struct {
	Frames []*image.NRGBA
	// Delays holds per-frame delays in 1/100 s when known (GIF sources).
	Delays []int
	FPS    float64
}

// Images returns the frames as image.Image for the pipeline.
func (s *Sequence) Images() []image.Image {
	out := make([]image.Image, len(s.Frames))
	for i, f := range s.Frames {
		out[i] = f
	}
	return out
}

// WithFrames returns a copy of s timed like s but holding frames.
func (s *Sequence) WithFrames(frames []*image.NRGBA) *Sequence {
	return &Sequence{Frames: frames, Delays: s.Delays, FPS: s.FPS}
}

// Read loads a sequence from a .gif file, a directory of frames, or any
// container ffmpeg understands. ffmpeg is only required for the last case.
func Read(ctx context.Context, path, ffmpeg string, fps float64) (*Sequence, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return ReadDir(path)
	}
	if strings.EqualFold(filepath.Ext(path), ".gif") {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return ReadGIF(f)
	}

	tmp, err := os.MkdirTemp("", "reage-frames")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)
	if err := Extract(ctx, ffmpeg, path, tmp, fps); err != nil {
		return nil, err
	}
	seq, err := ReadDir(tmp)
	if err != nil {
		return nil, err
	}
	if fps > 0 {
		seq.FPS = fps
	}
	return seq, nil
}

// Write stores seq at path using the same rules as Read: .gif, a
// directory (no extension), or an ffmpeg-encoded container.
func Write(ctx context.Context, path, ffmpeg string, seq *Sequence) error {
	if len(seq.Frames) == 0 {
		return ErrNoFrames
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".gif":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := WriteGIF(f, seq); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	case "":
		_, err := WriteDir(path, seq)
		return err
	default:
		tmp, err := os.MkdirTemp("", "reage-frames")
		if err != nil {
			return err
		}
		defer os.RemoveAll(tmp)
		if _, err := WriteDir(tmp, seq); err != nil {
			return err
		}
		fps := seq.FPS
		if fps <= 0 {
			fps = DefaultFPS
		}
		if err := Assemble(ctx, ffmpeg, tmp, fps, path); err != nil {
			return fmt.Errorf("assemble %s: %w", path, err)
		}
		return nil
	}
}
