// Package engine defines the capability boundary around the neural kernels:
// text encoding, diffusion sampling, and the optimization step. The
// pipelines treat all three as black boxes behind narrow interfaces, so the
// orchestration logic is fully testable without a real model.
package engine

import (
	"context"
	"image"
	"sort"
	"sync"

	"imaged/pkg/types"
)

// Conditioning is the fixed-size numeric encoding of a text prompt.
type Conditioning []float32

// Weights is an opaque serialized model weights blob.
type Weights []byte

// SampleParams captures the per-image parameters passed to a sampler.
type SampleParams struct {
	Seed     int64
	Steps    int
	Width    int
	Height   int
	Guidance float64
}

// Encoder converts prompt text into a conditioning representation.
type Encoder interface {
	Encode(text string) (Conditioning, error)
}

// Sampler produces one image from conditioning and sampling parameters.
// Implementations must return promptly when the context is canceled.
type Sampler interface {
	Sample(ctx context.Context, cond, negative Conditioning, p SampleParams) (image.Image, error)
}

// Optimizer performs training steps over opaque weights.
type Optimizer interface {
	// Init returns the pretrained weights for the given base model.
	Init(cfg types.ModelConfig) (Weights, error)
	// Step consumes one batch and returns updated weights and the batch loss.
	Step(batch []types.DatasetExample, w Weights, learningRate float64) (Weights, float64, error)
	// Evaluate returns the batch loss without updating weights.
	Evaluate(batch []types.DatasetExample, w Weights) (float64, error)
}

// Engine bundles the three capabilities of one backing runtime.
type Engine interface {
	Name() string
	Encoder
	Sampler
	Optimizer
}

// Registry maps engine names to runtimes. Unknown names resolve to an
// unavailable error so pipelines fail fast instead of mocking.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]Engine
}

// NewRegistry returns a registry seeded with the given engines.
func NewRegistry(engines ...Engine) *Registry {
	r := &Registry{engines: make(map[string]Engine)}
	for _, e := range engines {
		r.engines[e.Name()] = e
	}
	return r
}

// Default returns the registry used when none is injected: the built-in
// deterministic procedural engine only. Real diffusion runtimes register
// themselves at startup when their weights are installed.
func Default() *Registry {
	return NewRegistry(NewProcedural())
}

// Register adds or replaces an engine.
func (r *Registry) Register(e Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[e.Name()] = e
}

// Lookup resolves an engine by name.
func (r *Registry) Lookup(name string) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[name]
	if !ok {
		return nil, ErrUnavailable("engine not installed: " + name)
	}
	return e, nil
}

// Names returns the registered engine names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.engines))
	for name := range r.engines {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
