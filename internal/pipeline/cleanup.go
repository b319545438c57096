package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"sitepipe/internal/core"
)

// clearDir removes everything below dir and leaves dir itself in place. A
// missing dir is created.
func clearDir(dir string) error {
	clean := filepath.Clean(dir)
	if clean == "/" || clean == "." {
		return core.NewCleanupError(clean, fmt.Errorf("refusing to clear %q", clean))
	}
	info, err := os.Stat(clean)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(clean, 0o755); err != nil {
			return core.NewCleanupError(clean, err)
		}
		return nil
	}
	if err != nil {
		return core.NewCleanupError(clean, err)
	}
	if !info.IsDir() {
		return core.NewCleanupError(clean, fmt.Errorf("not a directory"))
	}

	entries, err := os.ReadDir(clean)
	if err != nil {
		return core.NewCleanupError(clean, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(clean, e.Name())); err != nil {
			return core.NewCleanupError(clean, err)
		}
	}
	return nil
}
