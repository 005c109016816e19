package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Readiness publishes the manager's readiness to sibling containers as a
// marker file on a shared volume. The marker exists exactly while the
// manager holds a live event subscription over a reconciled state; during
// sweeps and reconnects it is absent.
type Readiness struct {
	path string
}

// NewReadiness creates a Readiness marker at the given path.
func NewReadiness(path string) *Readiness {
	return &Readiness{path: path}
}

// Assert creates the marker file, creating parent directories as needed.
func (r *Readiness) Assert() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("failed to create readiness directory: %w", err)
	}
	if err := os.WriteFile(r.path, []byte("ready\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write readiness marker: %w", err)
	}
	return nil
}

// Clear removes the marker file. A missing marker is not an error, so
// Clear is safe to call on startup to scrub a marker left behind by an
// unclean exit.
func (r *Readiness) Clear() error {
	err := os.Remove(r.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove readiness marker: %w", err)
	}
	return nil
}
