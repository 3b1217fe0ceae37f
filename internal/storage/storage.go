// Package storage provides the movie-scoped storage capability the engine
// persists through. Everything a movie owns - blobs, event log, manifests,
// plans - is addressed by a relative path under builds/<movieID>/, so a
// backend only needs flat read/write/list semantics. Three back-ends are
// provided: the local filesystem, an in-process memory store for tests, and a
// Redis store for shared single-host deployments.
package storage

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned by Read and ReadToString for a missing path.
var ErrNotFound = errors.New("storage: path not found")

// IsNotFound returns true if the error indicates a missing path.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Backend is the storage capability. Paths are slash-separated and relative to
// the backend root. Write is idempotent per path: writing identical bytes to
// the same path twice must leave the store unchanged.
type Backend interface {
	// Read returns the bytes stored at path, or ErrNotFound.
	Read(ctx context.Context, path string) ([]byte, error)

	// Write stores data at path, creating any parents.
	Write(ctx context.Context, path string, data []byte) error

	// ReadToString is Read with a string result.
	ReadToString(ctx context.Context, path string) (string, error)

	// FileExists reports whether path holds data.
	FileExists(ctx context.Context, path string) (bool, error)

	// List returns every stored path with the given prefix, sorted
	// lexicographically.
	List(ctx context.Context, prefix string) ([]string, error)

	// MkdirAll ensures the directory exists on back-ends with real
	// directories. Flat back-ends treat it as a no-op.
	MkdirAll(ctx context.Context, path string) error
}

// Resolve joins a movie id and path segments into the canonical storage path
// for that movie: builds/<movieID>/<segments...>.
func Resolve(movieID string, segments ...string) string {
	parts := append([]string{"builds", movieID}, segments...)
	return strings.Join(parts, "/")
}
