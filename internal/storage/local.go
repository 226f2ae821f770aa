package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage implements Storage on the local disk. Artifact URLs point
// at the service's own /files/ route under the configured base URL.
type LocalStorage struct {
	root    string
	baseURL string
}

// NewLocalStorage creates a LocalStorage rooted at root, creating the
// directory if needed. baseURL is the public prefix used to build
// download URLs.
func NewLocalStorage(root, baseURL string) (*LocalStorage, error) {
	if root == "" {
		root = "uploads"
	}

	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("create upload root: %w", err)
	}

	return &LocalStorage{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Root returns the upload root directory.
func (s *LocalStorage) Root() string {
	return s.root
}

// SaveUpload streams data into a new file at path.
func (s *LocalStorage) SaveUpload(ctx context.Context, path string, data io.Reader) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.Create(path) // #nosec G304 - path is built from a workspace the service owns
	if err != nil {
		return 0, fmt.Errorf("create upload file: %w", err)
	}

	n, err := io.Copy(f, data)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return 0, fmt.Errorf("write upload file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return 0, fmt.Errorf("close upload file: %w", err)
	}

	return n, nil
}

// URLFor maps a path under the upload root into a /files/ URL.
func (s *LocalStorage) URLFor(_ context.Context, path string) (string, error) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return "", fmt.Errorf("relativize %s: %w", path, err)
	}

	return s.baseURL + "/files/" + filepath.ToSlash(rel), nil
}

// Verify interface implementation at compile time.
var _ Storage = (*LocalStorage)(nil)
