package pipeline

import (
	"errors"
	"fmt"
	"image"
)

// ErrFrameSize is returned when the frames of one video differ in size.
var ErrFrameSize = errors.New("frame size differs from first frame")

// InferenceError reports a model failure or timeout on one tile. Frame is
// -1 when the image was not part of a video.
type InferenceError struct {
	Frame  int
	Offset image.Point
	Err    error
}

func (e *InferenceError) Error() string {
	if e.Frame >= 0 {
		return fmt.Sprintf("inference failed on tile %v of frame %d: %v", e.Offset, e.Frame, e.Err)
	}
	return fmt.Sprintf("inference failed on tile %v: %v", e.Offset, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// DimensionMismatchError reports a model output whose bounds differ from
// the tile it was given.
type DimensionMismatchError struct {
	Frame  int
	Offset image.Point
	Want   image.Rectangle
	Got    image.Rectangle
}

func (e *DimensionMismatchError) Error() string {
	msg := fmt.Sprintf("model returned %dx%d for %dx%d tile at %v",
		e.Got.Dx(), e.Got.Dy(), e.Want.Dx(), e.Want.Dy(), e.Offset)
	if e.Frame >= 0 {
		msg += fmt.Sprintf(" of frame %d", e.Frame)
	}
	return msg
}
