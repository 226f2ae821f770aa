// Package storage provides file storage for uploads and produced
// artifacts. It defines the Storage port and implementations for the
// local upload root and optional S3 publication of final artifacts.
package storage

import (
	"context"
	"io"
)

// Storage is the port for persisting uploads and resolving artifact
// download URLs.
type Storage interface {
	// Root returns the upload root directory under which every workspace
	// lives.
	Root() string

	// SaveUpload streams data into a new file at path and returns the
	// number of bytes written. A partial file is removed on error.
	SaveUpload(ctx context.Context, path string, data io.Reader) (int64, error)

	// URLFor resolves a workspace-relative artifact into a URL the client
	// can download it from. Local storage maps into the /files/ route;
	// S3 storage uploads the artifact and returns its object URL.
	URLFor(ctx context.Context, path string) (string, error)
}
