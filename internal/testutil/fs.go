package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// CreateVideoFiles writes small placeholder files named names under dir,
// creating subdirectories as needed, and returns their paths in order.
func CreateVideoFiles(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, 0, len(names))
	for _, name := range names {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("Failed to create directory for %s: %v", name, err)
		}
		if err := os.WriteFile(p, []byte("not really a video"), 0o644); err != nil {
			t.Fatalf("Failed to create test file %s: %v", name, err)
		}
		paths = append(paths, filepath.ToSlash(p))
	}
	return paths
}
