package imagectl

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"imaged/internal/engine"
	"imaged/internal/finetune"
	"imaged/internal/generate"
	"imaged/internal/httpapi"
	"imaged/internal/registry"
	"imaged/pkg/types"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	models := registry.New()
	if err := models.Register(types.ModelConfig{
		ID: "m1", Engine: "procedural", Steps: 4, Width: 64, Height: 64,
	}, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	engines := engine.Default()
	srv := httptest.NewServer(httpapi.NewMux(&httpapi.API{
		Models:   models,
		Generate: generate.New(models, engines, generate.Config{OutputDir: t.TempDir(), DefaultModel: "m1"}),
		Finetune: finetune.New(models, engines, finetune.Config{CheckpointDir: t.TempDir()}),
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientModelsRoundTrip(t *testing.T) {
	srv := testServer(t)
	c := NewClient(srv.URL, 5*time.Second)

	resp, err := c.ListModels()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(resp.Models) != 1 || resp.Models[0].ID != "m1" {
		t.Fatalf("unexpected models: %+v", resp.Models)
	}

	_, err = c.RegisterModel(types.RegisterRequest{Config: types.ModelConfig{
		ID: "m2", Engine: "procedural", Steps: 8, Width: 128, Height: 128,
	}})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	// duplicate surfaces the server's error payload
	_, err = c.RegisterModel(types.RegisterRequest{Config: types.ModelConfig{
		ID: "m2", Engine: "procedural", Steps: 8, Width: 128, Height: 128,
	}})
	if err == nil {
		t.Fatal("expected duplicate error")
	}
}

func TestClientGenerate(t *testing.T) {
	srv := testServer(t)
	c := NewClient(srv.URL, 5*time.Second)
	seed := int64(7)

	resp, err := c.Generate(types.GenerateRequest{Prompt: "a dog", Seed: &seed})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(resp.Images) != 1 || resp.BaseSeed != 7 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestClientAddrNormalization(t *testing.T) {
	c := NewClient("127.0.0.1:9999/", time.Second)
	if c.base != "http://127.0.0.1:9999" {
		t.Fatalf("base=%s", c.base)
	}
}

func writeDataset(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(0, 0, color.RGBA{A: 255})
	content := "text,image_path\n"
	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("x%d.png", i)
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := png.Encode(f, img); err != nil {
			t.Fatalf("encode: %v", err)
		}
		f.Close()
		content += fmt.Sprintf("caption %d,%s\n", i, name)
	}
	p := filepath.Join(dir, "train.csv")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestDatasetValidateCommand(t *testing.T) {
	manifest := writeDataset(t)
	if code := MainWithArgs([]string{"dataset", "validate", manifest}); code != 0 {
		t.Fatalf("exit code=%d", code)
	}
	if code := MainWithArgs([]string{"dataset", "validate", filepath.Join(t.TempDir(), "nope.csv")}); code != 1 {
		t.Fatalf("expected failure exit code, got %d", code)
	}
}

func TestFinetuneStartRequiresManifest(t *testing.T) {
	if code := MainWithArgs([]string{"finetune", "start", "--model", "m1"}); code != 1 {
		t.Fatalf("expected failure exit code, got %d", code)
	}
}
