package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr            string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsFile      string `json:"models_file" yaml:"models_file" toml:"models_file"`
	DataRoot        string `json:"data_root" yaml:"data_root" toml:"data_root"`
	OutputDir       string `json:"output_dir" yaml:"output_dir" toml:"output_dir"`
	CheckpointDir   string `json:"checkpoint_dir" yaml:"checkpoint_dir" toml:"checkpoint_dir"`
	DefaultModel    string `json:"default_model" yaml:"default_model" toml:"default_model"`
	MaxImages       int    `json:"max_images" yaml:"max_images" toml:"max_images"`
	CheckpointKeep  int    `json:"checkpoint_keep" yaml:"checkpoint_keep" toml:"checkpoint_keep"`
	MaxQueueDepth   int    `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWaitSeconds  int    `json:"max_wait_seconds" yaml:"max_wait_seconds" toml:"max_wait_seconds"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
