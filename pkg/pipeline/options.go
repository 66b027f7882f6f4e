package pipeline

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/PhantomInTheWire/reage-pipeline/pkg/blend"
	"github.com/PhantomInTheWire/reage-pipeline/pkg/tile"
)

// FramePolicy decides what a video run does when one frame fails. It
// applies to every frame of a call.
type FramePolicy int

const (
	// Abort stops the whole video on the first failed frame and returns no
	// frames.
	Abort FramePolicy = iota
	// KeepOriginal substitutes the untouched input for a failed frame and
	// reports it in VideoResult.Failed.
	KeepOriginal
)

func (p FramePolicy) String() string {
	switch p {
	case Abort:
		return "abort"
	case KeepOriginal:
		return "keep_original"
	default:
		return fmt.Sprintf("FramePolicy(%d)", int(p))
	}
}

func ParseFramePolicy(s string) (FramePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "abort":
		return Abort, nil
	case "keep_original", "keep-original", "keep":
		return KeepOriginal, nil
	default:
		return 0, fmt.Errorf("unknown frame policy %q", s)
	}
}

type Options struct {
	Window int
	Stride int
	// Workers bounds concurrent tile inferences per image.
	Workers int
	Policy  blend.Policy
	// TileTimeout bounds one Infer call; zero means no limit.
	TileTimeout time.Duration

	// FrameWorkers bounds how many frames are in flight at once.
	FrameWorkers int
	FramePolicy  FramePolicy

	Logger *zap.Logger
}

func DefaultOptions() Options {
	return Options{
		Window:       tile.DefaultWindow,
		Stride:       tile.DefaultStride,
		Workers:      runtime.GOMAXPROCS(0),
		Policy:       blend.Uniform,
		FrameWorkers: 2,
		FramePolicy:  Abort,
	}
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.FrameWorkers <= 0 {
		o.FrameWorkers = 1
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
