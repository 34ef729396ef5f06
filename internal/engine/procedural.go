package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"math"
	"math/rand"

	"github.com/cespare/xxhash/v2"

	"imaged/pkg/types"
)

// conditioningDim is the fixed conditioning vector size of the procedural
// encoder.
const conditioningDim = 64

// weightsStateSize is the opaque state carried in procedural weights after
// the 8-byte step counter.
const weightsStateSize = 32

// Procedural is a fully deterministic built-in engine. Images, conditioning
// vectors, and losses are pure functions of their inputs, which makes it
// usable offline and gives the pipelines bit-identical outputs to test
// against. It is not a neural model.
type Procedural struct{}

// NewProcedural returns the built-in deterministic engine.
func NewProcedural() *Procedural { return &Procedural{} }

// Name implements Engine.
func (*Procedural) Name() string { return "procedural" }

// Encode derives a fixed-size pseudo-embedding from the text digest.
func (*Procedural) Encode(text string) (Conditioning, error) {
	rng := rand.New(rand.NewSource(int64(xxhash.Sum64String(text))))
	cond := make(Conditioning, conditioningDim)
	for i := range cond {
		cond[i] = rng.Float32()*2 - 1
	}
	return cond, nil
}

// Sample renders a value-noise image whose pixels are a pure function of
// (conditioning, negative, seed, steps, size). Cancellation is honored
// between pixel rows.
func (*Procedural) Sample(ctx context.Context, cond, negative Conditioning, p SampleParams) (image.Image, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return nil, fmt.Errorf("invalid resolution %dx%d", p.Width, p.Height)
	}
	if p.Steps <= 0 {
		return nil, fmt.Errorf("invalid step count %d", p.Steps)
	}
	seed := p.Seed ^ int64(digestConditioning(cond)) ^ int64(digestConditioning(negative)>>1)
	rng := rand.New(rand.NewSource(seed))
	// More steps shift the palette toward lower-noise output.
	damp := 1 / math.Sqrt(float64(p.Steps))
	guidanceBias := uint8(math.Min(p.Guidance*8, 96))

	img := image.NewRGBA(image.Rect(0, 0, p.Width, p.Height))
	for y := 0; y < p.Height; y++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for x := 0; x < p.Width; x++ {
			n := rng.Float64() * damp
			c := cond[(x+y)%len(cond)]
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(float64(128+int(c*96))*(1-n)) + guidanceBias/3,
				G: uint8(255 * n),
				B: uint8(float64(x*255/p.Width))/2 + guidanceBias,
				A: 255,
			})
		}
	}
	return img, nil
}

// Init returns deterministic pseudo-pretrained weights for the base model.
func (*Procedural) Init(cfg types.ModelConfig) (Weights, error) {
	w := make(Weights, 8+weightsStateSize)
	binary.BigEndian.PutUint64(w[:8], 0)
	rng := rand.New(rand.NewSource(int64(xxhash.Sum64String(cfg.ID + "/" + cfg.Engine))))
	for i := 8; i < len(w); i++ {
		w[i] = byte(rng.Intn(256))
	}
	return w, nil
}

// Step mixes the batch digest into the weights state and returns a loss that
// decays with the embedded step counter. The input weights are not mutated.
func (*Procedural) Step(batch []types.DatasetExample, w Weights, learningRate float64) (Weights, float64, error) {
	if err := checkWeights(w); err != nil {
		return nil, 0, err
	}
	steps := binary.BigEndian.Uint64(w[:8]) + 1
	next := make(Weights, len(w))
	copy(next, w)
	binary.BigEndian.PutUint64(next[:8], steps)

	bd := digestBatch(batch)
	for i := 8; i < len(next); i++ {
		next[i] ^= byte(bd >> (uint(i) % 56))
	}
	loss := stepLoss(steps, bd, learningRate)
	return next, loss, nil
}

// Evaluate returns the batch loss for the current weights without updates.
func (*Procedural) Evaluate(batch []types.DatasetExample, w Weights) (float64, error) {
	if err := checkWeights(w); err != nil {
		return 0, err
	}
	steps := binary.BigEndian.Uint64(w[:8])
	// Validation runs slightly above training loss at the same step count.
	return stepLoss(steps+1, digestBatch(batch), 0) * 1.05, nil
}

// stepLoss decays toward zero as steps grow, with a small deterministic
// batch-dependent ripple so distinct batches report distinct losses.
func stepLoss(steps, batchDigest uint64, learningRate float64) float64 {
	base := 1 / (1 + 0.05*float64(steps)*(1+learningRate))
	ripple := float64(batchDigest%1000) / 50000
	return base + ripple
}

func checkWeights(w Weights) error {
	if len(w) != 8+weightsStateSize {
		return fmt.Errorf("malformed weights blob: %d bytes", len(w))
	}
	return nil
}

func digestConditioning(cond Conditioning) uint64 {
	h := xxhash.New()
	var buf [4]byte
	for _, v := range cond {
		binary.BigEndian.PutUint32(buf[:], math.Float32bits(v))
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

func digestBatch(batch []types.DatasetExample) uint64 {
	h := xxhash.New()
	for _, ex := range batch {
		_, _ = h.WriteString(ex.Text)
		_, _ = h.WriteString("\x00")
		_, _ = h.WriteString(ex.ImagePath)
		_, _ = h.WriteString("\x00")
	}
	return h.Sum64()
}
