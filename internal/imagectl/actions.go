package imagectl

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"imaged/internal/dataset"
	"imaged/pkg/types"
)

// Config carries the persistent CLI settings.
type Config struct {
	Addr    string
	Timeout time.Duration
	LogLvl  string
}

func (cfg *Config) client() *Client { return NewClient(cfg.Addr, cfg.Timeout) }

func fnModelsList(cfg *Config) error {
	resp, err := cfg.client().ListModels()
	if err != nil {
		return err
	}
	if len(resp.Models) == 0 {
		info("no models registered")
		return nil
	}
	for _, m := range resp.Models {
		fmt.Printf("%-30s engine=%-12s steps=%-4d %dx%d guidance=%.1f\n",
			m.ID, m.Engine, m.Steps, m.Width, m.Height, m.GuidanceScale)
	}
	return nil
}

// readModelConfig parses a single model config file by extension.
func readModelConfig(path string) (types.ModelConfig, error) {
	var cfg types.ModelConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		err = fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, err
}

func fnModelsRegister(cfg *Config, path string, overwrite bool) error {
	mc, err := readModelConfig(path)
	if err != nil {
		return err
	}
	registered, err := cfg.client().RegisterModel(types.RegisterRequest{Config: mc, Overwrite: overwrite})
	if err != nil {
		return err
	}
	info("registered model %s", registered.ID)
	return nil
}

func fnGenerate(cfg *Config, req types.GenerateRequest) error {
	debug("generate model=%q count=%d", req.Model, req.Count)
	resp, err := cfg.client().Generate(req)
	if err != nil {
		return err
	}
	info("model=%s base_seed=%d prompt=%q", resp.Model, resp.BaseSeed, resp.Prompt)
	for _, img := range resp.Images {
		fmt.Printf("%s (seed %d)\n", img.Path, img.Seed)
	}
	return nil
}

func fnFinetuneStart(cfg *Config, req types.FinetuneRequest, wait bool) error {
	st, err := cfg.client().StartFinetune(req)
	if err != nil {
		return err
	}
	info("run %s accepted (model %s)", st.ID, st.Model)
	if !wait {
		return nil
	}
	for !st.State.Terminal() {
		time.Sleep(500 * time.Millisecond)
		st, err = cfg.client().GetRun(st.ID)
		if err != nil {
			return err
		}
		debug("run %s epoch %d/%d train=%.4f val=%.4f", st.ID, st.Epoch+1, st.Epochs, st.TrainLoss, st.ValLoss)
	}
	printRun(st)
	if st.State == types.RunFailed {
		return fmt.Errorf("run %s failed: %s", st.ID, st.Error)
	}
	return nil
}

func fnFinetuneStatus(cfg *Config, id string) error {
	if id == "" {
		runs, err := cfg.client().ListRuns()
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			info("no fine-tuning runs")
			return nil
		}
		for _, st := range runs {
			printRun(st)
		}
		return nil
	}
	st, err := cfg.client().GetRun(id)
	if err != nil {
		return err
	}
	printRun(st)
	return nil
}

func fnFinetuneCancel(cfg *Config, id string) error {
	st, err := cfg.client().CancelRun(id)
	if err != nil {
		return err
	}
	info("cancellation requested for run %s (state %s)", st.ID, st.State)
	return nil
}

func printRun(st types.RunStatus) {
	fmt.Printf("%s  %-10s model=%s epoch=%d/%d train=%.4f val=%.4f",
		st.ID, st.State, st.Model, st.Epoch+1, st.Epochs, st.TrainLoss, st.ValLoss)
	if st.PromotedAs != "" {
		fmt.Printf(" promoted_as=%s", st.PromotedAs)
	}
	if st.Error != "" {
		fmt.Printf(" error=%q", st.Error)
	}
	fmt.Println()
}

// fnDatasetValidate loads the manifest locally and reports split sizes, so a
// dataset can be checked before submitting a run.
func fnDatasetValidate(manifest string, ratio float64) error {
	ds, err := dataset.Load(manifest)
	if err != nil {
		return err
	}
	split := ds.Split(ratio)
	info("%s: %d examples ok (train=%d validation=%d at ratio %.2f)",
		manifest, ds.Len(), split.Len(dataset.Train), split.Len(dataset.Validation), ratio)
	return nil
}
