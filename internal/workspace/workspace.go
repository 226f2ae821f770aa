// Package workspace manages per-request working directories. Each request
// owns exactly one workspace; no artifact outlives its workspace.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Workspace is a uniquely named, exclusively owned directory holding the
// original upload and every intermediate and output artifact for one
// request.
type Workspace struct {
	// ID is the collision-resistant identifier naming the directory.
	ID string
	// Dir is the absolute or root-relative path of the directory.
	Dir string
}

// New creates a fresh workspace directory under root.
func New(root string) (*Workspace, error) {
	id := uuid.NewString()
	dir := filepath.Join(root, id)

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	return &Workspace{ID: id, Dir: dir}, nil
}

// Path returns the path of a file named name inside the workspace.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// Remove deletes the workspace recursively. Removing an already-deleted
// workspace is not an error.
func (w *Workspace) Remove() error {
	if err := os.RemoveAll(w.Dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove workspace %s: %w", w.ID, err)
	}
	return nil
}
