package engine

import (
	"context"
	"image"

	"imaged/pkg/types"
)

// Unavailable is a placeholder for an engine whose runtime or weights are
// not installed. Every capability fails fast with an unavailable error
// instead of mocking, so callers see 503 rather than silent fakes.
type Unavailable struct {
	name   string
	reason string
}

// NewUnavailable returns a placeholder engine registered under name.
func NewUnavailable(name, reason string) *Unavailable {
	if reason == "" {
		reason = "engine " + name + " is not installed"
	}
	return &Unavailable{name: name, reason: reason}
}

// Name implements Engine.
func (u *Unavailable) Name() string { return u.name }

func (u *Unavailable) Encode(string) (Conditioning, error) {
	return nil, ErrUnavailable(u.reason)
}

func (u *Unavailable) Sample(context.Context, Conditioning, Conditioning, SampleParams) (image.Image, error) {
	return nil, ErrUnavailable(u.reason)
}

func (u *Unavailable) Init(types.ModelConfig) (Weights, error) {
	return nil, ErrUnavailable(u.reason)
}

func (u *Unavailable) Step([]types.DatasetExample, Weights, float64) (Weights, float64, error) {
	return nil, 0, ErrUnavailable(u.reason)
}

func (u *Unavailable) Evaluate([]types.DatasetExample, Weights) (float64, error) {
	return 0, ErrUnavailable(u.reason)
}
