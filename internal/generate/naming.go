package generate

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"imaged/internal/common/fsutil"
)

// imageName derives a stable, collision-free file name for one image from
// the model id, the enhanced prompt, and the per-image seed. The model id is
// part of the digest so identical prompt/seed requests against different
// models never contend for one name. When the derived name is already taken
// on disk (e.g., a regenerated request into the same output directory) a
// monotonically increasing disambiguator is appended.
func imageName(outputDir, modelID, enhanced string, seed int64) string {
	digest := xxhash.Sum64String(modelID + "|" + enhanced + "|" + strconv.FormatInt(seed, 10))
	base := fmt.Sprintf("%016x", digest)
	name := base + ".png"
	for n := 1; fsutil.PathExists(filepath.Join(outputDir, name)); n++ {
		name = fmt.Sprintf("%s-%d.png", base, n)
	}
	return name
}

// sidecarName returns the metadata file name for an image file name.
func sidecarName(imageFile string) string {
	return imageFile[:len(imageFile)-len(filepath.Ext(imageFile))] + ".json"
}
