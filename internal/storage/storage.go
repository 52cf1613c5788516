// Package storage defines where contractor image renditions are written.
// Implementations live in the gcs, local, and memory subpackages.
package storage

import (
	"context"
	"io"
)

// BlobStore writes an object and returns its storage URI.
type BlobStore interface {
	PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error)
}
