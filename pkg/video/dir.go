package video

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
)

// FramePattern names frames on disk; it is also the ffmpeg pattern.
const FramePattern = "frame_%05d.png"

// ReadDir loads every PNG or JPEG in dir. Names that differ only in their
// trailing frame number are ordered numerically, so frame_100000 follows
// frame_99999; anything else falls back to lexical order.
func ReadDir(dir string) (*Sequence, error) {
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
		case ".png", ".jpg", ".jpeg":
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFrames, dir)
	}
	sort.Slice(names, func(i, j int) bool { return frameLess(names[i], names[j]) })

	seq := &Sequence{FPS: DefaultFPS}
	for _, n := range names {
		img, err := imaging.Open(filepath.Join(dir, n))
		if err != nil {
			return nil, fmt.Errorf("frame %s: %w", n, err)
		}
		seq.Frames = append(seq.Frames, imaging.Clone(img))
	}
	return seq, nil
}

// WriteDir saves frames as FramePattern files in dir and returns their
// paths in order.
func WriteDir(dir string, seq *Sequence) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(seq.Frames))
	for i, f := range seq.Frames {
		p := filepath.Join(dir, fmt.Sprintf(FramePattern, i))
		if err := imaging.Save(f, p); err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// frameLess orders "prefix<digits>.ext" names by the number when the
// prefixes match.
func frameLess(a, b string) bool {
	pa, na, okA := splitFrameNumber(a)
	pb, nb, okB := splitFrameNumber(b)
	if okA && okB && pa == pb && na != nb {
		return na < nb
	}
	return a < b
}

func splitFrameNumber(name string) (prefix string, n uint64, ok bool) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	i := len(base)
	for i > 0 && base[i-1] >= '0' && base[i-1] <= '9' {
		i--
	}
	if i == len(base) {
		return base, 0, false
	}
	n, err := strconv.ParseUint(base[i:], 10, 64)
	if err != nil {
		return base, 0, false
	}
	return base[:i], n, true
}
