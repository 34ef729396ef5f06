// Package generate drives the inference engine for batched text-to-image
// requests: prompt enhancement, deterministic per-image seeding, and
// collision-free persistence of outputs with reproducibility metadata.
package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"imaged/internal/common/fsutil"
	"imaged/internal/engine"
	"imaged/internal/prompt"
	"imaged/internal/registry"
	"imaged/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxImages     = 8
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
)

// Config encapsulates all tunables for Pipeline construction.
type Config struct {
	OutputDir     string
	DefaultModel  string
	MaxImages     int
	MaxQueueDepth int
	MaxWait       time.Duration
	Logger        zerolog.Logger
}

// Pipeline orchestrates generation requests against a model registry and an
// engine registry. One generation is in flight per model at a time; further
// requests queue FIFO up to MaxQueueDepth and are rejected as busy past
// MaxWait.
type Pipeline struct {
	models  *registry.Registry
	engines *engine.Registry
	log     zerolog.Logger

	outputDir     string
	defaultModel  string
	maxImages     int
	maxQueueDepth int
	maxWait       time.Duration

	mu    sync.Mutex
	slots map[string]*slot

	// drawSeed supplies a base seed when the request omits one.
	drawSeed func() int64
}

// New constructs a Pipeline from Config.
func New(models *registry.Registry, engines *engine.Registry, cfg Config) *Pipeline {
	p := &Pipeline{
		models:        models,
		engines:       engines,
		log:           cfg.Logger,
		outputDir:     cfg.OutputDir,
		defaultModel:  cfg.DefaultModel,
		maxImages:     cfg.MaxImages,
		maxQueueDepth: cfg.MaxQueueDepth,
		maxWait:       cfg.MaxWait,
		slots:         make(map[string]*slot),
		drawSeed:      func() int64 { return rand.Int63() },
	}
	if p.maxImages <= 0 {
		p.maxImages = defaultMaxImages
	}
	if p.maxQueueDepth <= 0 {
		p.maxQueueDepth = defaultMaxQueueDepth
	}
	if p.maxWait <= 0 {
		p.maxWait = defaultMaxWait
	}
	return p
}

// Generate validates the request, resolves model and prompt, and produces
// Count images. Image k uses seed base+k, so any single image can later be
// regenerated alone. Outputs are persisted atomically: an image that fails
// mid-inference never reaches disk, while earlier completed images stay.
func (p *Pipeline) Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResponse, error) {
	var resp types.GenerateResponse

	count := req.Count
	if count == 0 {
		count = 1
	}
	if count < 0 || count > p.maxImages {
		return resp, ErrBadRequest("count must be between 1 and %d, got %d", p.maxImages, req.Count)
	}

	modelID := req.Model
	if modelID == "" {
		modelID = p.defaultModel
		if modelID == "" {
			return resp, registry.ErrUnknownModel("(unspecified)")
		}
	}
	cfg, err := p.models.Resolve(modelID)
	if err != nil {
		return resp, err
	}

	pr, err := prompt.Enhance(req.Prompt, prompt.StyleKeywords(req.Style))
	if err != nil {
		return resp, err
	}
	if req.NegativePrompt != "" {
		pr.Negative = prompt.Negative(req.NegativePrompt)
	} else if req.Style != "" {
		pr.Negative = prompt.NegativeForStyle(req.Style)
	}

	eng, err := p.engines.Lookup(cfg.Engine)
	if err != nil {
		return resp, err
	}
	if cfg.WeightsPath != "" && !fsutil.PathExists(cfg.WeightsPath) {
		return resp, engine.ErrUnavailable(fmt.Sprintf("model %s: weights missing at %s", cfg.ID, cfg.WeightsPath))
	}

	release, err := p.begin(ctx, modelID)
	if err != nil {
		return resp, err
	}
	defer release()

	cond, err := eng.Encode(pr.Enhanced)
	if err != nil {
		return resp, fmt.Errorf("encode prompt: %w", err)
	}
	negCond, err := eng.Encode(pr.Negative)
	if err != nil {
		return resp, fmt.Errorf("encode negative prompt: %w", err)
	}

	baseSeed := p.drawSeed()
	if req.Seed != nil {
		baseSeed = *req.Seed
	}
	if err := os.MkdirAll(p.outputDir, 0o755); err != nil {
		return resp, fmt.Errorf("output dir: %w", err)
	}

	resp = types.GenerateResponse{
		BaseSeed:       baseSeed,
		Model:          cfg.ID,
		Prompt:         pr.Enhanced,
		NegativePrompt: pr.Negative,
	}
	start := time.Now()
	for i := 0; i < count; i++ {
		// Cancellation checkpoint: between images only, never mid-image.
		if err := ctx.Err(); err != nil {
			return resp, fmt.Errorf("generation canceled at image %d: %w", i, err)
		}
		seed := baseSeed + int64(i)
		img, err := eng.Sample(ctx, cond, negCond, engine.SampleParams{
			Seed:     seed,
			Steps:    cfg.Steps,
			Width:    cfg.Width,
			Height:   cfg.Height,
			Guidance: cfg.GuidanceScale,
		})
		if err != nil {
			return resp, fmt.Errorf("image %d of %d: %w", i+1, count, err)
		}
		saved, err := p.persist(img, pr, cfg, seed)
		if err != nil {
			return resp, fmt.Errorf("image %d of %d: %w", i+1, count, err)
		}
		resp.Images = append(resp.Images, types.GeneratedImage{Path: saved, Seed: seed})
	}
	p.log.Info().
		Str("model", cfg.ID).
		Int("count", count).
		Int64("base_seed", baseSeed).
		Dur("dur", time.Since(start)).
		Msg("generation complete")
	return resp, nil
}

// sidecar is the reproducibility metadata written next to each image.
type sidecar struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`
	Seed           int64  `json:"seed"`
	Model          string `json:"model"`
	Steps          int    `json:"steps"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	CreatedAtUnix  int64  `json:"created_at_unix"`
}

// persist encodes the image fully in memory, then writes it and its
// metadata sidecar atomically. A failure at any point leaves no partial
// image file behind.
func (p *Pipeline) persist(img image.Image, pr types.Prompt, cfg types.ModelConfig, seed int64) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}
	name := imageName(p.outputDir, cfg.ID, pr.Enhanced, seed)
	path := filepath.Join(p.outputDir, name)
	if err := fsutil.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	meta := sidecar{
		Prompt:         pr.Enhanced,
		NegativePrompt: pr.Negative,
		Seed:           seed,
		Model:          cfg.ID,
		Steps:          cfg.Steps,
		Width:          cfg.Width,
		Height:         cfg.Height,
		CreatedAtUnix:  time.Now().Unix(),
	}
	mb, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(p.outputDir, sidecarName(name)), mb, 0o644); err != nil {
		return "", fmt.Errorf("write metadata: %w", err)
	}
	return path, nil
}
