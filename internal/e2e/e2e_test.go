package e2e

import (
	"context"
	"image"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"imaged/internal/engine"
	"imaged/internal/finetune"
	"imaged/internal/generate"
	"imaged/internal/httpapi"
	"imaged/internal/registry"
	"imaged/pkg/types"
)

func newServer(t *testing.T, genCfg generate.Config, engines *engine.Registry) (*httptest.Server, *registry.Registry) {
	t.Helper()
	models := registry.New()
	if err := models.Register(types.ModelConfig{
		ID: "sd-small", Engine: "procedural", Steps: 4, Width: 64, Height: 64, GuidanceScale: 7.5,
	}, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	if genCfg.OutputDir == "" {
		genCfg.OutputDir = t.TempDir()
	}
	if genCfg.DefaultModel == "" {
		genCfg.DefaultModel = "sd-small"
	}
	srv := httptest.NewServer(httpapi.NewMux(&httpapi.API{
		Models:   models,
		Generate: generate.New(models, engines, genCfg),
		Finetune: finetune.New(models, engines, finetune.Config{CheckpointDir: t.TempDir()}),
	}))
	t.Cleanup(srv.Close)
	return srv, models
}

// TestE2E_GenerateFinetunePromote walks the full workflow over HTTP:
// generate with the base model, fine-tune it with promotion, then generate
// again with the promoted model.
func TestE2E_GenerateFinetunePromote(t *testing.T) {
	srv, models := newServer(t, generate.Config{}, engine.Default())

	seed := int64(42)
	var gen types.GenerateResponse
	if code := postJSON(t, srv.URL+"/generate", types.GenerateRequest{
		Prompt: "a lighthouse at dusk", Style: "cinematic", Count: 2, Seed: &seed,
	}, &gen); code != http.StatusOK {
		t.Fatalf("generate status=%d", code)
	}
	if len(gen.Images) != 2 || gen.Images[1].Seed != 43 {
		t.Fatalf("unexpected generate response: %+v", gen)
	}
	for _, img := range gen.Images {
		if _, err := os.Stat(img.Path); err != nil {
			t.Fatalf("image missing: %v", err)
		}
	}

	var run types.RunStatus
	if code := postJSON(t, srv.URL+"/finetune", types.FinetuneRequest{
		Model:           "sd-small",
		Manifest:        writeManifest(t, 5),
		Hyperparameters: types.Hyperparameters{Epochs: 2, BatchSize: 2, LearningRate: 0.01},
		Promote:         true,
	}, &run); code != http.StatusAccepted {
		t.Fatalf("finetune status=%d", code)
	}

	deadline := time.Now().Add(10 * time.Second)
	for !run.State.Terminal() {
		if time.Now().After(deadline) {
			t.Fatalf("run stuck in state %s", run.State)
		}
		time.Sleep(20 * time.Millisecond)
		if code := getJSON(t, srv.URL+"/finetune/"+run.ID, &run); code != http.StatusOK {
			t.Fatalf("poll status=%d", code)
		}
	}
	if run.State != types.RunCompleted || run.PromotedAs != "sd-small-ft-v1" {
		t.Fatalf("unexpected terminal status: %+v", run)
	}

	cfg, err := models.Resolve(run.PromotedAs)
	if err != nil {
		t.Fatalf("promoted model not registered: %v", err)
	}
	if _, err := os.Stat(cfg.WeightsPath); err != nil {
		t.Fatalf("promoted weights missing: %v", err)
	}

	// The promoted model is immediately usable for generation.
	var gen2 types.GenerateResponse
	if code := postJSON(t, srv.URL+"/generate", types.GenerateRequest{
		Model: run.PromotedAs, Prompt: "a lighthouse at dusk", Seed: &seed,
	}, &gen2); code != http.StatusOK {
		t.Fatalf("generate with promoted model status=%d", code)
	}
	if len(gen2.Images) != 1 {
		t.Fatalf("unexpected response: %+v", gen2)
	}
}

// blockingEngine holds Sample until release is closed, so the single
// in-flight generation slot stays occupied.
type blockingEngine struct {
	*engine.Procedural
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingEngine) Name() string { return "procedural" }

func (b *blockingEngine) Sample(ctx context.Context, cond, neg engine.Conditioning, p engine.SampleParams) (image.Image, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.Procedural.Sample(ctx, cond, neg, p)
}

// TestE2E_Backpressure429 verifies the server returns 429 when the per-model
// queue is full and the wait timeout elapses.
func TestE2E_Backpressure429(t *testing.T) {
	eng := &blockingEngine{
		Procedural: engine.NewProcedural(),
		started:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	srv, _ := newServer(t, generate.Config{
		MaxQueueDepth: 1,
		MaxWait:       150 * time.Millisecond,
	}, engine.NewRegistry(eng))

	req := types.GenerateRequest{Prompt: "a dog"}
	codes := make(chan int, 1)
	// First request occupies the queue slot and the in-flight slot.
	go func() { codes <- postJSON(t, srv.URL+"/generate", req, nil) }()
	<-eng.started

	// Second request finds the queue full and is rejected after MaxWait.
	if code := postJSON(t, srv.URL+"/generate", req, nil); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}

	close(eng.release)
	select {
	case code := <-codes:
		if code != http.StatusOK {
			t.Fatalf("blocked request status=%d", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("blocked request did not finish")
	}
}

// TestE2E_UnknownModel404 checks error mapping end to end.
func TestE2E_UnknownModel404(t *testing.T) {
	srv, _ := newServer(t, generate.Config{}, engine.Default())
	var er types.ErrorResponse
	if code := postJSON(t, srv.URL+"/generate", types.GenerateRequest{
		Prompt: "a dog", Model: "absent",
	}, &er); code != http.StatusNotFound {
		t.Fatalf("status=%d", code)
	}
	if er.Code != http.StatusNotFound || er.Error == "" {
		t.Fatalf("error payload: %+v", er)
	}
}
