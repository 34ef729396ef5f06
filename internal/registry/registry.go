// Package registry maintains the process-wide mapping from model identifier
// to configuration. It is an explicit object injected into the pipelines,
// read often and written rarely (startup load plus checkpoint promotion).
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"imaged/pkg/types"
)

// tileSize is the resolution granularity supported by the engines.
// Width and height must be positive multiples of it.
const tileSize = 64

// Registry is a concurrency-safe model configuration store.
type Registry struct {
	mu     sync.RWMutex
	models map[string]types.ModelConfig
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{models: make(map[string]types.ModelConfig)}
}

// Resolve returns the configuration registered under id.
func (r *Registry) Resolve(id string) (types.ModelConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.models[id]
	if !ok {
		return types.ModelConfig{}, ErrUnknownModel(id)
	}
	return cfg, nil
}

// Register adds cfg under its id. Registering an existing id fails with a
// duplicate error unless overwrite is set. Configs are validated first so a
// bad entry never lands in the map.
func (r *Registry) Register(cfg types.ModelConfig, overwrite bool) error {
	if err := validate(cfg); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.models[cfg.ID]; exists && !overwrite {
		return ErrDuplicateModel(cfg.ID)
	}
	r.models[cfg.ID] = cfg
	return nil
}

// List returns all registered configurations sorted by id.
func (r *Registry) List() []types.ModelConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ModelConfig, 0, len(r.models))
	for _, cfg := range r.models {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered models.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}

// NextVersionID derives a fresh versioned identifier from base, e.g.
// "sd-small" -> "sd-small-ft-v1", then "-ft-v2" and so on. Used when
// promoting a fine-tuned checkpoint so the base entry is never shadowed.
func (r *Registry) NextVersionID(base string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for v := 1; ; v++ {
		id := fmt.Sprintf("%s-ft-v%d", base, v)
		if _, exists := r.models[id]; !exists {
			return id
		}
	}
}

func validate(cfg types.ModelConfig) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return invalidConfigError{msg: "empty id"}
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		return invalidConfigError{msg: cfg.ID + ": empty engine"}
	}
	if cfg.Steps <= 0 {
		return invalidConfigError{msg: fmt.Sprintf("%s: steps must be positive, got %d", cfg.ID, cfg.Steps)}
	}
	if cfg.Width <= 0 || cfg.Width%tileSize != 0 {
		return invalidConfigError{msg: fmt.Sprintf("%s: width must be a positive multiple of %d, got %d", cfg.ID, tileSize, cfg.Width)}
	}
	if cfg.Height <= 0 || cfg.Height%tileSize != 0 {
		return invalidConfigError{msg: fmt.Sprintf("%s: height must be a positive multiple of %d, got %d", cfg.ID, tileSize, cfg.Height)}
	}
	return nil
}
