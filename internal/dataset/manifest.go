// Package dataset loads and validates the CSV manifest describing a custom
// training dataset and exposes deterministic train/validation partitions.
//
// Validation is eager: every row is checked at load time (columns present,
// text non-empty, image exists and decodes) so a fine-tuning run fails fast
// instead of mid-epoch.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	// Register decoders for manifest image validation.
	_ "image/jpeg"
	_ "image/png"

	"imaged/internal/common/fsutil"
	"imaged/pkg/types"
)

// Dataset is an ordered, validated sequence of training examples.
type Dataset struct {
	// ManifestPath the dataset was loaded from.
	ManifestPath string
	examples     []types.DatasetExample
}

// Load reads a CSV manifest with columns text,image_path[,category].
// Image paths are resolved relative to the manifest's directory.
func Load(manifestPath string) (*Dataset, error) {
	path, err := fsutil.ExpandHome(manifestPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, manifestNotFoundError{path: manifestPath}
		}
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	root := filepath.Dir(path)
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // row arity checked per row for better errors
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, emptyDatasetError{path: manifestPath}
		}
		return nil, fmt.Errorf("read manifest header: %w", err)
	}
	textCol, imageCol, categoryCol := -1, -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "text":
			textCol = i
		case "image_path":
			imageCol = i
		case "category":
			categoryCol = i
		}
	}
	if textCol < 0 || imageCol < 0 {
		return nil, fmt.Errorf("manifest header must contain text and image_path columns, got %v", header)
	}

	var examples []types.DatasetExample
	for row := 1; ; row++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, manifestRowError{row: row, msg: err.Error()}
		}
		if len(rec) <= textCol || len(rec) <= imageCol {
			return nil, manifestRowError{row: row, msg: "missing required column"}
		}
		text := strings.TrimSpace(rec[textCol])
		if text == "" {
			return nil, manifestRowError{row: row, msg: "empty text"}
		}
		imgRel := strings.TrimSpace(rec[imageCol])
		if imgRel == "" {
			return nil, manifestRowError{row: row, msg: "empty image_path"}
		}
		imgPath := imgRel
		if !filepath.IsAbs(imgPath) {
			imgPath = filepath.Join(root, imgRel)
		}
		if err := checkImage(imgPath); err != nil {
			return nil, manifestRowError{row: row, msg: fmt.Sprintf("image %s: %v", imgRel, err)}
		}
		category := ""
		if categoryCol >= 0 && len(rec) > categoryCol {
			category = strings.TrimSpace(rec[categoryCol])
		}
		examples = append(examples, types.DatasetExample{Text: text, ImagePath: imgPath, Category: category})
	}
	if len(examples) == 0 {
		return nil, emptyDatasetError{path: manifestPath}
	}
	return &Dataset{ManifestPath: manifestPath, examples: examples}, nil
}

// checkImage verifies the file exists and its header decodes as a known
// image format. Full pixel decoding is deferred to the training engine.
func checkImage(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errors.New("file not found")
		}
		return err
	}
	defer f.Close()
	if _, _, err := image.DecodeConfig(f); err != nil {
		return fmt.Errorf("not a decodable image: %w", err)
	}
	return nil
}

// Len returns the number of validated examples.
func (d *Dataset) Len() int { return len(d.examples) }

// Examples returns a copy of the ordered example sequence.
func (d *Dataset) Examples() []types.DatasetExample {
	out := make([]types.DatasetExample, len(d.examples))
	copy(out, d.examples)
	return out
}
