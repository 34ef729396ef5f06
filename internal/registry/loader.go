package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"imaged/internal/common/fsutil"
	"imaged/pkg/types"
)

// modelsFile is the on-disk shape of a static model catalog.
type modelsFile struct {
	Models []types.ModelConfig `json:"models" yaml:"models" toml:"models"`
}

// LoadFile reads a model catalog (yaml/json/toml, keyed on extension) and
// returns a populated Registry. Every entry is validated; the first bad
// entry fails the whole load so the daemon never starts half-configured.
func LoadFile(path string) (*Registry, error) {
	base, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(base)
	if err != nil {
		return nil, fmt.Errorf("read models file: %w", err)
	}
	var mf modelsFile
	switch ext := strings.ToLower(filepath.Ext(base)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &mf); err != nil {
			return nil, fmt.Errorf("parse models file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &mf); err != nil {
			return nil, fmt.Errorf("parse models file: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &mf); err != nil {
			return nil, fmt.Errorf("parse models file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported models file extension: %s", ext)
	}
	r := New()
	for _, cfg := range mf.Models {
		if err := r.Register(cfg, false); err != nil {
			return nil, err
		}
	}
	return r, nil
}
