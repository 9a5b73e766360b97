package overwrite

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Writer persists rendered artifacts.
type Writer interface {
	WriteFile(path string, data []byte) error
}

// FSWriter writes to the local filesystem, creating parent directories.
type FSWriter struct{}

func (FSWriter) WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	// #nosec G306 -- artifacts are published files.
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// DryRunWriter records what would be written without touching the filesystem.
type DryRunWriter struct {
	mu    sync.Mutex
	files map[string]int
}

func (w *DryRunWriter) WriteFile(path string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.files == nil {
		w.files = map[string]int{}
	}
	w.files[path] = len(data)
	return nil
}

// Paths returns the recorded paths in sorted order.
func (w *DryRunWriter) Paths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.files))
	for p := range w.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Size returns the recorded byte count for path.
func (w *DryRunWriter) Size(path string) (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.files[path]
	return n, ok
}
