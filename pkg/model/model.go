// Package model defines the contract between the tiling pipeline and the
// age-transformation network. The network is a black box: it maps one
// fixed-size tile plus the age pair to a tile of the same size.
package model

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/disintegration/imaging"
)

// Supported age range of the re-aging network.
const (
	MinAge = 0
	MaxAge = 100
)

var ErrAgeOutOfRange = errors.New("age out of range")

// Ages is the source/target pair passed unchanged to every tile of a call.
type Ages struct {
	Source int `json:"source_age" yaml:"source_age"`
	Target int `json:"target_age" yaml:"target_age"`
}

func (a Ages) Validate() error {
	if a.Source < MinAge || a.Source > MaxAge {
		return fmt.Errorf("%w: source_age=%d not in [%d,%d]", ErrAgeOutOfRange, a.Source, MinAge, MaxAge)
	}
	if a.Target < MinAge || a.Target > MaxAge {
		return fmt.Errorf("%w: target_age=%d not in [%d,%d]", ErrAgeOutOfRange, a.Target, MinAge, MaxAge)
	}
	return nil
}

// Model runs inference on a single square tile. Implementations must
// return a tile with the same bounds as the input and must not retain or
// mutate the input. A Model is constructed ready for use and released with
// Close; it is safe for concurrent use unless documented otherwise.
type Model interface {
	Infer(ctx context.Context, tile *image.NRGBA, ages Ages) (*image.NRGBA, error)
	Close() error
}

// Func adapts a plain function to Model. Close is a no-op.
type Func func(ctx context.Context, tile *image.NRGBA, ages Ages) (*image.NRGBA, error)

func (f Func) Infer(ctx context.Context, tile *image.NRGBA, ages Ages) (*image.NRGBA, error) {
	return f(ctx, tile, ages)
}

func (f Func) Close() error { return nil }

// Identity returns every tile unchanged. Useful as a dry-run backend.
type Identity struct{}

func (Identity) Infer(_ context.Context, tile *image.NRGBA, _ Ages) (*image.NRGBA, error) {
	return imaging.Clone(tile), nil
}

func (Identity) Close() error { return nil }

type timeoutModel struct {
	Model
	d time.Duration
}

// WithTimeout bounds every Infer call on m by d. A zero or negative d
// returns m unchanged.
func WithTimeout(m Model, d time.Duration) Model {
	if d <= 0 {
		return m
	}
	return &timeoutModel{Model: m, d: d}
}

func (t *timeoutModel) Infer(ctx context.Context, tile *image.NRGBA, ages Ages) (*image.NRGBA, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()

	type result struct {
		img *image.NRGBA
		err error
	}
	done := make(chan result, 1)
	go func() {
		img, err := t.Model.Infer(ctx, tile, ages)
		done <- result{img, err}
	}()

	select {
	case r := <-done:
		return r.img, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("tile inference exceeded %s: %w", t.d, ctx.Err())
	}
}

type serialModel struct {
	Model
	mu sync.Mutex
}

// Serialized allows one Infer call on m at a time. Wrap backends that share
// a single accelerator and cannot take concurrent requests.
func Serialized(m Model) Model {
	return &serialModel{Model: m}
}

func (s *serialModel) Infer(ctx context.Context, tile *image.NRGBA, ages Ages) (*image.NRGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Model.Infer(ctx, tile, ages)
}
