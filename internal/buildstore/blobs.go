package buildstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/keremk/renku-sub006/internal/storage"
)

// mimeExtensions maps the mime types producers emit to blob file extensions.
// Unknown types fall back to "bin"; the mime type itself is preserved on the
// BlobRef either way.
var mimeExtensions = map[string]string{
	"image/png":        "png",
	"image/jpeg":       "jpg",
	"image/webp":       "webp",
	"video/mp4":        "mp4",
	"video/webm":       "webm",
	"audio/mpeg":       "mp3",
	"audio/wav":        "wav",
	"audio/ogg":        "ogg",
	"application/json": "json",
	"text/plain":       "txt",
	"text/markdown":    "md",
}

// ExtensionForMime returns the blob file extension for a mime type.
func ExtensionForMime(mimeType string) string {
	if ext, ok := mimeExtensions[mimeType]; ok {
		return ext
	}
	return "bin"
}

// BlobStore writes and reads content-addressed blobs for movies. The blob
// path is a pure function of content, so concurrent writers of identical
// bytes land on the same path and writes are idempotent.
type BlobStore struct {
	backend storage.Backend
}

// NewBlobStore creates a blob store over the given backend.
func NewBlobStore(backend storage.Backend) *BlobStore {
	return &BlobStore{backend: backend}
}

// HashBytes returns the sha-256 hex digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Write persists data as a content-addressed blob and returns its reference.
// Writing a blob that already exists is a no-op.
func (b *BlobStore) Write(ctx context.Context, movieID string, data []byte, mimeType string) (*BlobRef, error) {
	hash := HashBytes(data)
	path := storage.BlobPath(movieID, hash, ExtensionForMime(mimeType))

	exists, err := b.backend.FileExists(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to check blob %s: %w", hash, err)
	}
	if !exists {
		if err := b.backend.Write(ctx, path, data); err != nil {
			return nil, fmt.Errorf("failed to write blob %s: %w", hash, err)
		}
	}

	return &BlobRef{Hash: hash, Size: int64(len(data)), MimeType: mimeType}, nil
}

// Read returns the bytes of a blob by reference.
func (b *BlobStore) Read(ctx context.Context, movieID string, ref *BlobRef) ([]byte, error) {
	path := storage.BlobPath(movieID, ref.Hash, ExtensionForMime(ref.MimeType))
	data, err := b.backend.Read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", ref.Hash, err)
	}
	return data, nil
}
