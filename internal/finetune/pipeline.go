// Package finetune runs the training loop over a custom dataset: epoch
// iteration through the optimization capability, per-epoch validation,
// atomic checkpointing with retention, cancellation at batch boundaries,
// and optional promotion of the best checkpoint into the model registry.
package finetune

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"imaged/internal/dataset"
	"imaged/internal/engine"
	"imaged/internal/registry"
	"imaged/pkg/types"
)

// Fallback hyperparameters when neither the request nor the model defaults
// specify a value.
var fallbackHP = types.Hyperparameters{
	Epochs:          10,
	BatchSize:       1,
	LearningRate:    1e-4,
	Resolution:      512,
	SplitRatio:      0.8,
	CheckpointEvery: 1,
}

// Config encapsulates all tunables for Pipeline construction.
type Config struct {
	CheckpointDir string
	// KeepCheckpoints bounds retained epoch checkpoints per run (the best
	// checkpoint is always kept in addition). Zero means keep 2.
	KeepCheckpoints int
	Logger          zerolog.Logger
}

// Params describe one fine-tuning invocation.
type Params struct {
	BaseModel       string
	Dataset         *dataset.Dataset
	Hyperparameters types.Hyperparameters
	// ResumeFrom is an optional checkpoint directory; epoch numbering
	// continues from checkpoint.epoch+1.
	ResumeFrom string
	// Promote registers the best checkpoint as a new versioned model on
	// completion.
	Promote bool
}

// Pipeline owns fine-tuning runs and their checkpoints.
type Pipeline struct {
	models  *registry.Registry
	engines *engine.Registry
	log     zerolog.Logger

	checkpointDir string
	keep          int

	mu   sync.Mutex
	runs map[string]*Run
}

// New constructs a Pipeline from Config.
func New(models *registry.Registry, engines *engine.Registry, cfg Config) *Pipeline {
	keep := cfg.KeepCheckpoints
	if keep <= 0 {
		keep = 2
	}
	return &Pipeline{
		models:        models,
		engines:       engines,
		log:           cfg.Logger,
		checkpointDir: cfg.CheckpointDir,
		keep:          keep,
		runs:          make(map[string]*Run),
	}
}

// Get returns a tracked run by id.
func (p *Pipeline) Get(id string) (*Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.runs[id]
	if !ok {
		return nil, runNotFoundError{id: id}
	}
	return r, nil
}

// List returns status snapshots of all tracked runs.
func (p *Pipeline) List() []types.RunStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.RunStatus, 0, len(p.runs))
	for _, r := range p.runs {
		out = append(out, r.Status())
	}
	return out
}

// Cancel requests cancellation of a tracked run.
func (p *Pipeline) Cancel(id string) error {
	r, err := p.Get(id)
	if err != nil {
		return err
	}
	return r.Cancel()
}

// prepared carries everything validated up front, before any expensive work.
type prepared struct {
	cfg        types.ModelConfig
	eng        engine.Engine
	hp         types.Hyperparameters
	weights    engine.Weights
	startEpoch int
}

// prepare performs all eager validation: model resolution, engine lookup,
// dataset presence, hyperparameter merge, initial or resumed weights.
func (p *Pipeline) prepare(params Params) (prepared, error) {
	var pr prepared
	cfg, err := p.models.Resolve(params.BaseModel)
	if err != nil {
		return pr, err
	}
	eng, err := p.engines.Lookup(cfg.Engine)
	if err != nil {
		return pr, err
	}
	if params.Dataset == nil || params.Dataset.Len() == 0 {
		return pr, ErrInvalidParams("fine-tuning requires a loaded dataset")
	}
	hp := mergeHP(params.Hyperparameters, cfg.Defaults)

	var w engine.Weights
	startEpoch := 0
	if params.ResumeFrom != "" {
		ckpt, cw, err := LoadCheckpoint(params.ResumeFrom)
		if err != nil {
			return pr, fmt.Errorf("resume from %s: %w", params.ResumeFrom, err)
		}
		if ckpt.BaseModel != "" && ckpt.BaseModel != cfg.ID {
			p.log.Warn().
				Str("checkpoint_base", ckpt.BaseModel).
				Str("requested_base", cfg.ID).
				Msg("resuming onto a different base model")
		}
		if ckpt.Epoch+1 >= hp.Epochs {
			return pr, ErrInvalidParams("resume checkpoint is at epoch %d; %d epochs leave nothing to train",
				ckpt.Epoch, hp.Epochs)
		}
		w = cw
		startEpoch = ckpt.Epoch + 1
	} else {
		w, err = eng.Init(cfg)
		if err != nil {
			return pr, err
		}
	}
	return prepared{cfg: cfg, eng: eng, hp: hp, weights: w, startEpoch: startEpoch}, nil
}

// Run executes a fine-tuning run to completion, blocking the caller.
// Cancellation via ctx (or Run.Cancel) ends the run in the cancelled state
// with a nil error; optimizer failures end it failed with a training error.
func (p *Pipeline) Run(ctx context.Context, params Params) (*Run, error) {
	pre, err := p.prepare(params)
	if err != nil {
		return nil, err
	}
	run, runCtx := p.track(ctx, pre)
	err = p.execute(runCtx, run, pre, params)
	return run, err
}

// Start validates params eagerly, then executes the run in the background.
// The returned Run is tracked and can be polled and cancelled by id.
func (p *Pipeline) Start(ctx context.Context, params Params) (*Run, error) {
	pre, err := p.prepare(params)
	if err != nil {
		return nil, err
	}
	run, runCtx := p.track(ctx, pre)
	go func() {
		if err := p.execute(runCtx, run, pre, params); err != nil {
			p.log.Error().Err(err).Str("run", run.ID).Msg("fine-tuning run failed")
		}
	}()
	return run, nil
}

func (p *Pipeline) track(ctx context.Context, pre prepared) (*Run, context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	run := newRun(uuid.NewString(), pre.cfg.ID, pre.hp.Epochs, cancel)
	p.mu.Lock()
	p.runs[run.ID] = run
	p.mu.Unlock()
	return run, runCtx
}

// execute drives the epoch loop. Cancellation checkpoints sit at batch
// boundaries only, never mid-batch.
func (p *Pipeline) execute(ctx context.Context, run *Run, pre prepared, params Params) error {
	if err := run.transition(types.RunRunning); err != nil {
		return err
	}
	runDir := filepath.Join(p.checkpointDir, run.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		run.fail(err.Error())
		return fmt.Errorf("run dir: %w", err)
	}

	split := params.Dataset.Split(pre.hp.SplitRatio)
	trainIter := split.Batches(dataset.Train, pre.hp.BatchSize)
	valIter := split.Batches(dataset.Validation, pre.hp.BatchSize)

	p.log.Info().
		Str("run", run.ID).
		Str("model", pre.cfg.ID).
		Int("train_examples", split.Len(dataset.Train)).
		Int("val_examples", split.Len(dataset.Validation)).
		Int("start_epoch", pre.startEpoch).
		Int("epochs", pre.hp.Epochs).
		Msg("fine-tuning started")

	weights := pre.weights
	for epoch := pre.startEpoch; epoch < pre.hp.Epochs; epoch++ {
		if ctx.Err() != nil {
			run.finish(types.RunCancelled)
			p.log.Info().Str("run", run.ID).Int("epoch", epoch).Msg("fine-tuning cancelled")
			return nil
		}
		trainIter.Reset()
		var trainSum float64
		var trainBatches int
		for {
			batch, ok := trainIter.Next()
			if !ok {
				break
			}
			// Cancellation checkpoint: between batches only, and only while
			// a batch remains. An epoch whose batches all completed still
			// gets its validation pass and checkpoint before the run ends.
			if ctx.Err() != nil {
				run.finish(types.RunCancelled)
				p.log.Info().Str("run", run.ID).Int("epoch", epoch).Msg("fine-tuning cancelled")
				return nil
			}
			next, loss, err := pre.eng.Step(batch, weights, pre.hp.LearningRate)
			if err != nil {
				terr := ErrTrainingFailed(epoch, err)
				run.fail(terr.Error())
				return terr
			}
			weights = next
			trainSum += loss
			trainBatches++
		}
		trainLoss := trainSum / float64(max(trainBatches, 1))

		valLoss, err := p.validate(valIter, pre.eng, weights, trainLoss)
		if err != nil {
			terr := ErrTrainingFailed(epoch, err)
			run.fail(terr.Error())
			return terr
		}
		run.recordEpoch(epoch, trainLoss, valLoss)

		cadence := pre.hp.CheckpointEvery
		if cadence < 1 {
			cadence = 1
		}
		if (epoch+1)%cadence == 0 || epoch == pre.hp.Epochs-1 {
			dir, err := saveCheckpoint(runDir, types.Checkpoint{
				RunID:     run.ID,
				Epoch:     epoch,
				TrainLoss: trainLoss,
				ValLoss:   valLoss,
				BaseModel: pre.cfg.ID,
			}, weights)
			if err != nil {
				run.fail(err.Error())
				return fmt.Errorf("checkpoint epoch %d: %w", epoch, err)
			}
			run.recordCheckpoint(dir, valLoss)
			if err := pruneCheckpoints(runDir, run.BestCheckpoint(), p.keep); err != nil {
				p.log.Warn().Err(err).Str("run", run.ID).Msg("checkpoint prune failed")
			}
		}
		p.log.Debug().
			Str("run", run.ID).
			Int("epoch", epoch).
			Float64("train_loss", trainLoss).
			Float64("val_loss", valLoss).
			Msg("epoch complete")
	}

	run.finish(types.RunCompleted)
	if params.Promote {
		if err := p.promote(run, pre.cfg); err != nil {
			return fmt.Errorf("promote run %s: %w", run.ID, err)
		}
	}
	p.log.Info().Str("run", run.ID).Str("promoted_as", run.Status().PromotedAs).Msg("fine-tuning completed")
	return nil
}

// validate evaluates the validation partition without weight updates.
// A dataset too small to hold a validation partition falls back to the
// training loss.
func (p *Pipeline) validate(it *dataset.BatchIter, eng engine.Engine, w engine.Weights, trainLoss float64) (float64, error) {
	it.Reset()
	var sum float64
	var batches int
	for {
		batch, ok := it.Next()
		if !ok {
			break
		}
		loss, err := eng.Evaluate(batch, w)
		if err != nil {
			return 0, err
		}
		sum += loss
		batches++
	}
	if batches == 0 {
		return trainLoss, nil
	}
	return sum / float64(batches), nil
}

// promote registers the best checkpoint as a new versioned model derived
// from the base identifier. The base entry is never overwritten.
func (p *Pipeline) promote(run *Run, base types.ModelConfig) error {
	best := run.BestCheckpoint()
	if best == "" {
		return fmt.Errorf("no checkpoint to promote")
	}
	cfg := base
	cfg.ID = p.models.NextVersionID(base.ID)
	cfg.WeightsPath = filepath.Join(best, checkpointWeightsFile)
	if err := p.models.Register(cfg, false); err != nil {
		return err
	}
	run.setPromoted(cfg.ID)
	return nil
}

// mergeHP layers hyperparameters: request values win, then the model's
// defaults, then the package fallbacks.
func mergeHP(req, defaults types.Hyperparameters) types.Hyperparameters {
	out := req
	pick := func(v *int, d, f int) {
		if *v <= 0 {
			*v = d
		}
		if *v <= 0 {
			*v = f
		}
	}
	pick(&out.Epochs, defaults.Epochs, fallbackHP.Epochs)
	pick(&out.BatchSize, defaults.BatchSize, fallbackHP.BatchSize)
	pick(&out.Resolution, defaults.Resolution, fallbackHP.Resolution)
	pick(&out.CheckpointEvery, defaults.CheckpointEvery, fallbackHP.CheckpointEvery)
	if out.LearningRate <= 0 {
		out.LearningRate = defaults.LearningRate
	}
	if out.LearningRate <= 0 {
		out.LearningRate = fallbackHP.LearningRate
	}
	if out.SplitRatio <= 0 || out.SplitRatio >= 1 {
		out.SplitRatio = defaults.SplitRatio
	}
	if out.SplitRatio <= 0 || out.SplitRatio >= 1 {
		out.SplitRatio = fallbackHP.SplitRatio
	}
	return out
}
