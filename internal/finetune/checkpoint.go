package finetune

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"imaged/internal/common/fsutil"
	"imaged/internal/engine"
	"imaged/pkg/types"
)

const (
	checkpointMetaFile    = "checkpoint.json"
	checkpointWeightsFile = "weights.bin"
	epochDirPrefix        = "epoch_"
)

// saveCheckpoint persists weights and metadata under
// <runDir>/epoch_<N>. The directory is staged with a temp suffix and
// renamed into place, so a crash mid-save never leaves a loadable partial
// checkpoint.
func saveCheckpoint(runDir string, ckpt types.Checkpoint, w engine.Weights) (string, error) {
	final := filepath.Join(runDir, fmt.Sprintf("%s%d", epochDirPrefix, ckpt.Epoch))
	staging := final + ".tmp"
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return "", fmt.Errorf("stage checkpoint dir: %w", err)
	}
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.RemoveAll(staging)
		}
	}()

	ckpt.WeightsPath = filepath.Join(final, checkpointWeightsFile)
	ckpt.SavedAtUnix = time.Now().Unix()
	if err := fsutil.WriteFileAtomic(filepath.Join(staging, checkpointWeightsFile), w, 0o644); err != nil {
		return "", fmt.Errorf("write weights: %w", err)
	}
	mb, err := json.MarshalIndent(ckpt, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(staging, checkpointMetaFile), mb, 0o644); err != nil {
		return "", fmt.Errorf("write checkpoint meta: %w", err)
	}
	// Replace any previous checkpoint for the same epoch (resumed runs).
	if fsutil.PathExists(final) {
		if err := os.RemoveAll(final); err != nil {
			return "", fmt.Errorf("replace checkpoint: %w", err)
		}
	}
	if err := os.Rename(staging, final); err != nil {
		return "", fmt.Errorf("commit checkpoint: %w", err)
	}
	cleanup = false
	return final, nil
}

// LoadCheckpoint reads the metadata and weights of a checkpoint directory.
func LoadCheckpoint(dir string) (types.Checkpoint, engine.Weights, error) {
	var ckpt types.Checkpoint
	mb, err := os.ReadFile(filepath.Join(dir, checkpointMetaFile))
	if err != nil {
		return ckpt, nil, fmt.Errorf("read checkpoint meta: %w", err)
	}
	if err := json.Unmarshal(mb, &ckpt); err != nil {
		return ckpt, nil, fmt.Errorf("parse checkpoint meta: %w", err)
	}
	w, err := os.ReadFile(filepath.Join(dir, checkpointWeightsFile))
	if err != nil {
		return ckpt, nil, fmt.Errorf("read checkpoint weights: %w", err)
	}
	return ckpt, engine.Weights(w), nil
}

// pruneCheckpoints bounds disk usage under runDir: the most recent keep
// epoch directories survive, and the best (lowest validation loss)
// checkpoint is always retained regardless of age.
func pruneCheckpoints(runDir, bestDir string, keep int) error {
	if keep < 1 {
		keep = 1
	}
	entries, err := os.ReadDir(runDir)
	if err != nil {
		return fmt.Errorf("read run dir: %w", err)
	}
	var epochs []int
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), epochDirPrefix) || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(e.Name(), epochDirPrefix))
		if err != nil {
			continue
		}
		epochs = append(epochs, n)
	}
	if len(epochs) <= keep {
		return nil
	}
	sort.Sort(sort.Reverse(sort.IntSlice(epochs)))
	for _, n := range epochs[keep:] {
		dir := filepath.Join(runDir, fmt.Sprintf("%s%d", epochDirPrefix, n))
		if dir == bestDir {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("prune checkpoint epoch %d: %w", n, err)
		}
	}
	return nil
}
