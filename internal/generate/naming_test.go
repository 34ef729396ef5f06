package generate

import (
	"os"
	"path/filepath"
	"testing"
)

func TestImageNameIncludesModel(t *testing.T) {
	dir := t.TempDir()
	a := imageName(dir, "m1", "a dog", 42)
	b := imageName(dir, "m2", "a dog", 42)
	if a == b {
		t.Fatalf("identical name for different models: %s", a)
	}
	if got := imageName(dir, "m1", "a dog", 42); got != a {
		t.Fatalf("name not stable for identical inputs: %s vs %s", got, a)
	}
}

func TestImageNameDisambiguatesExisting(t *testing.T) {
	dir := t.TempDir()
	a := imageName(dir, "m1", "a dog", 42)
	if err := os.WriteFile(filepath.Join(dir, a), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	b := imageName(dir, "m1", "a dog", 42)
	if a == b {
		t.Fatalf("existing file not disambiguated: %s", b)
	}
}
