package finetune

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"imaged/internal/dataset"
	"imaged/internal/engine"
	"imaged/internal/registry"
	"imaged/pkg/types"
)

func writePNG(t *testing.T, dir, name string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 32), G: uint8(y * 32), B: 200, A: 255})
		}
	}
	f, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

// testDataset builds a five-example dataset: with split ratio 0.8 that
// yields four training examples and one validation example.
func testDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	dir := t.TempDir()
	var sb strings.Builder
	sb.WriteString("text,image_path\n")
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("img%d.png", i)
		writePNG(t, dir, name)
		fmt.Fprintf(&sb, "caption number %d,%s\n", i, name)
	}
	p := filepath.Join(dir, "dataset.csv")
	require.NoError(t, os.WriteFile(p, []byte(sb.String()), 0o644))
	ds, err := dataset.Load(p)
	require.NoError(t, err)
	require.Equal(t, 5, ds.Len())
	return ds
}

func testModels(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	require.NoError(t, r.Register(types.ModelConfig{
		ID: "base", Engine: "procedural", Steps: 4, Width: 64, Height: 64,
	}, false))
	return r
}

func testPipeline(t *testing.T, engines *engine.Registry, keep int) *Pipeline {
	t.Helper()
	return New(testModels(t), engines, Config{
		CheckpointDir:   t.TempDir(),
		KeepCheckpoints: keep,
	})
}

// hp returns hyperparameters sized so each epoch runs exactly two training
// batches over the five-example dataset.
func hp(epochs int) types.Hyperparameters {
	return types.Hyperparameters{Epochs: epochs, BatchSize: 2, LearningRate: 0.01, SplitRatio: 0.8}
}

func epochDirs(t *testing.T, runDir string) []string {
	t.Helper()
	entries, err := os.ReadDir(runDir)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		require.False(t, strings.HasSuffix(e.Name(), ".tmp"), "staging dir leaked: %s", e.Name())
		out = append(out, e.Name())
	}
	return out
}

func TestRunCompletes(t *testing.T) {
	p := testPipeline(t, engine.Default(), 10)
	run, err := p.Run(context.Background(), Params{
		BaseModel: "base", Dataset: testDataset(t), Hyperparameters: hp(3),
	})
	require.NoError(t, err)

	st := run.Status()
	require.Equal(t, types.RunCompleted, st.State)
	require.Equal(t, 2, st.Epoch)
	require.Equal(t, 3, st.Epochs)
	require.Greater(t, st.TrainLoss, 0.0)
	require.Greater(t, st.ValLoss, 0.0)

	// Loss decays with optimizer steps, so the best checkpoint is the last.
	require.Equal(t, st.LastCheckpoint, st.BestCheckpoint)
	require.True(t, strings.HasSuffix(st.LastCheckpoint, "epoch_2"))

	ckpt, w, err := LoadCheckpoint(st.LastCheckpoint)
	require.NoError(t, err)
	require.Equal(t, 2, ckpt.Epoch)
	require.Equal(t, run.ID, ckpt.RunID)
	require.Equal(t, "base", ckpt.BaseModel)
	require.NotEmpty(t, w)
}

func TestRunIsTracked(t *testing.T) {
	p := testPipeline(t, engine.Default(), 10)
	run, err := p.Run(context.Background(), Params{
		BaseModel: "base", Dataset: testDataset(t), Hyperparameters: hp(1),
	})
	require.NoError(t, err)

	got, err := p.Get(run.ID)
	require.NoError(t, err)
	require.Equal(t, run.ID, got.ID)

	_, err = p.Get("nope")
	require.True(t, IsRunNotFound(err))

	list := p.List()
	require.Len(t, list, 1)
	require.Equal(t, run.ID, list[0].ID)
}

func TestRunValidatesEagerly(t *testing.T) {
	p := testPipeline(t, engine.Default(), 10)
	ctx := context.Background()

	_, err := p.Run(ctx, Params{BaseModel: "missing", Dataset: testDataset(t)})
	require.True(t, registry.IsUnknownModel(err))

	_, err = p.Run(ctx, Params{BaseModel: "base"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "dataset")

	_, err = p.Run(ctx, Params{
		BaseModel: "base", Dataset: testDataset(t),
		ResumeFrom: filepath.Join(t.TempDir(), "absent"),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "resume")

	// Nothing tracked when validation fails.
	require.Empty(t, p.List())
}

// cancelingOptimizer cancels the surrounding context after a fixed number of
// training steps, so cancellation is observed at the next batch boundary.
type cancelingOptimizer struct {
	*engine.Procedural
	cancel context.CancelFunc
	after  int
	calls  int
}

func (c *cancelingOptimizer) Step(batch []types.DatasetExample, w engine.Weights, lr float64) (engine.Weights, float64, error) {
	next, loss, err := c.Procedural.Step(batch, w, lr)
	c.calls++
	if c.calls >= c.after {
		c.cancel()
	}
	return next, loss, err
}

func TestRunCancelledAtBatchBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Two batches per epoch: six steps finish epoch 2, epoch 3 never starts.
	eng := &cancelingOptimizer{Procedural: engine.NewProcedural(), cancel: cancel, after: 6}
	p := testPipeline(t, engine.NewRegistry(eng), 10)

	run, err := p.Run(ctx, Params{
		BaseModel: "base", Dataset: testDataset(t), Hyperparameters: hp(10),
	})
	require.NoError(t, err)

	st := run.Status()
	require.Equal(t, types.RunCancelled, st.State)
	require.Equal(t, 2, st.Epoch)
	require.True(t, strings.HasSuffix(st.LastCheckpoint, "epoch_2"))

	// The epoch 2 checkpoint survives cancellation and is loadable.
	ckpt, w, err := LoadCheckpoint(st.LastCheckpoint)
	require.NoError(t, err)
	require.Equal(t, 2, ckpt.Epoch)
	require.NotEmpty(t, w)

	// Cancelling a terminal run is an invalid transition.
	err = p.Cancel(run.ID)
	require.True(t, IsRunState(err))
}

// divergingOptimizer fails on the given training step.
type divergingOptimizer struct {
	*engine.Procedural
	failAt int
	calls  int
}

func (d *divergingOptimizer) Step(batch []types.DatasetExample, w engine.Weights, lr float64) (engine.Weights, float64, error) {
	d.calls++
	if d.calls >= d.failAt {
		return nil, 0, fmt.Errorf("loss diverged")
	}
	return d.Procedural.Step(batch, w, lr)
}

func TestRunFailedPreservesCheckpoint(t *testing.T) {
	// Epochs 0..4 complete in ten steps; step eleven, the first batch of
	// epoch 5, diverges.
	eng := &divergingOptimizer{Procedural: engine.NewProcedural(), failAt: 11}
	p := testPipeline(t, engine.NewRegistry(eng), 10)

	run, err := p.Run(context.Background(), Params{
		BaseModel: "base", Dataset: testDataset(t), Hyperparameters: hp(10),
	})
	require.Error(t, err)
	require.True(t, IsTrainingFailed(err))
	require.Contains(t, err.Error(), "epoch 5")

	st := run.Status()
	require.Equal(t, types.RunFailed, st.State)
	require.Equal(t, 4, st.Epoch)
	require.NotEmpty(t, st.Error)

	// The last completed epoch's checkpoint remains intact.
	require.True(t, strings.HasSuffix(st.LastCheckpoint, "epoch_4"))
	ckpt, _, err := LoadCheckpoint(st.LastCheckpoint)
	require.NoError(t, err)
	require.Equal(t, 4, ckpt.Epoch)
}

func TestRunResumeContinuesEpochNumbering(t *testing.T) {
	p := testPipeline(t, engine.Default(), 10)
	ds := testDataset(t)

	first, err := p.Run(context.Background(), Params{
		BaseModel: "base", Dataset: ds, Hyperparameters: hp(3),
	})
	require.NoError(t, err)
	resumeFrom := first.Status().LastCheckpoint

	second, err := p.Run(context.Background(), Params{
		BaseModel: "base", Dataset: ds, Hyperparameters: hp(5), ResumeFrom: resumeFrom,
	})
	require.NoError(t, err)

	st := second.Status()
	require.Equal(t, types.RunCompleted, st.State)
	require.Equal(t, 4, st.Epoch)
	require.True(t, strings.HasSuffix(st.LastCheckpoint, "epoch_4"))

	// Resumed weights carry the accumulated step count, so the resumed
	// run's loss sits below the fresh run's.
	require.Less(t, st.ValLoss, first.Status().ValLoss)
}

func TestRunResumeRequiresRemainingEpochs(t *testing.T) {
	p := testPipeline(t, engine.Default(), 10)
	ds := testDataset(t)

	first, err := p.Run(context.Background(), Params{
		BaseModel: "base", Dataset: ds, Hyperparameters: hp(3),
	})
	require.NoError(t, err)

	// The last checkpoint is at epoch 2; three epochs leave nothing to train.
	_, err = p.Run(context.Background(), Params{
		BaseModel: "base", Dataset: ds, Hyperparameters: hp(3),
		ResumeFrom: first.Status().LastCheckpoint,
	})
	require.True(t, IsInvalidParams(err), "got %v", err)

	// The rejected attempt is never tracked.
	require.Len(t, p.List(), 1)
}

func TestCheckpointRetention(t *testing.T) {
	p := testPipeline(t, engine.Default(), 2)
	run, err := p.Run(context.Background(), Params{
		BaseModel: "base", Dataset: testDataset(t), Hyperparameters: hp(6),
	})
	require.NoError(t, err)

	runDir := filepath.Dir(run.Status().LastCheckpoint)
	dirs := epochDirs(t, runDir)
	require.ElementsMatch(t, []string{"epoch_4", "epoch_5"}, dirs)
}

func TestCheckpointCadence(t *testing.T) {
	p := testPipeline(t, engine.Default(), 10)
	hp := hp(5)
	hp.CheckpointEvery = 2
	run, err := p.Run(context.Background(), Params{
		BaseModel: "base", Dataset: testDataset(t), Hyperparameters: hp,
	})
	require.NoError(t, err)

	// Epochs 1 and 3 by cadence, plus the final epoch 4 unconditionally.
	runDir := filepath.Dir(run.Status().LastCheckpoint)
	require.ElementsMatch(t, []string{"epoch_1", "epoch_3", "epoch_4"}, epochDirs(t, runDir))
}

func TestRunPromotesBestCheckpoint(t *testing.T) {
	models := testModels(t)
	p := New(models, engine.Default(), Config{CheckpointDir: t.TempDir(), KeepCheckpoints: 10})

	run, err := p.Run(context.Background(), Params{
		BaseModel: "base", Dataset: testDataset(t), Hyperparameters: hp(2), Promote: true,
	})
	require.NoError(t, err)

	st := run.Status()
	require.Equal(t, "base-ft-v1", st.PromotedAs)

	cfg, err := models.Resolve("base-ft-v1")
	require.NoError(t, err)
	require.Equal(t, "procedural", cfg.Engine)
	require.Equal(t, filepath.Join(st.BestCheckpoint, "weights.bin"), cfg.WeightsPath)
	_, err = os.Stat(cfg.WeightsPath)
	require.NoError(t, err)

	// A second promoted run gets the next version, the base stays intact.
	run2, err := p.Run(context.Background(), Params{
		BaseModel: "base", Dataset: testDataset(t), Hyperparameters: hp(2), Promote: true,
	})
	require.NoError(t, err)
	require.Equal(t, "base-ft-v2", run2.Status().PromotedAs)
	_, err = models.Resolve("base")
	require.NoError(t, err)
}

func TestHyperparameterMerge(t *testing.T) {
	defaults := types.Hyperparameters{Epochs: 4, BatchSize: 8, LearningRate: 0.5, Resolution: 256, SplitRatio: 0.9, CheckpointEvery: 2}

	merged := mergeHP(types.Hyperparameters{}, defaults)
	require.Equal(t, defaults, merged)

	merged = mergeHP(types.Hyperparameters{Epochs: 1, LearningRate: 0.1}, defaults)
	require.Equal(t, 1, merged.Epochs)
	require.Equal(t, 0.1, merged.LearningRate)
	require.Equal(t, 8, merged.BatchSize)

	merged = mergeHP(types.Hyperparameters{}, types.Hyperparameters{})
	require.Equal(t, fallbackHP, merged)
}
