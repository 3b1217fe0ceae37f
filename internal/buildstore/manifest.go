package buildstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/keremk/renku-sub006/internal/storage"
)

// ErrManifestNotFound is returned when a movie has no manifest pointer yet.
var ErrManifestNotFound = errors.New("manifest not found")

// ErrManifestConflict is returned when a save races a concurrent promotion:
// the caller's previousHash no longer matches the stored manifest.
var ErrManifestConflict = errors.New("manifest conflict")

// IsManifestNotFound returns true if the error indicates a missing manifest.
func IsManifestNotFound(err error) bool {
	return errors.Is(err, ErrManifestNotFound)
}

// IsManifestConflict returns true if the error indicates a promotion race.
func IsManifestConflict(err error) bool {
	return errors.Is(err, ErrManifestConflict)
}

// CurrentPointer is the content of current.json: the single mutable pointer
// identifying a movie's active manifest.
type CurrentPointer struct {
	Revision     string `json:"revision"`
	ManifestPath string `json:"manifestPath"`
}

// ManifestService loads and promotes manifests. Promotion writes the new
// manifest document first and only then rewrites the pointer, so a crash in
// between leaves the previous manifest active rather than a partial one.
type ManifestService struct {
	backend storage.Backend
	clock   func() time.Time
}

// NewManifestService creates a manifest service over the given backend.
func NewManifestService(backend storage.Backend) *ManifestService {
	return &ManifestService{backend: backend, clock: time.Now}
}

// WithClock overrides the clock, for tests.
func (s *ManifestService) WithClock(clock func() time.Time) *ManifestService {
	s.clock = clock
	return s
}

// LoadCurrent returns the manifest pointed to by current.json together with
// the digest of its stored bytes. Returns ErrManifestNotFound when the movie
// has no pointer.
func (s *ManifestService) LoadCurrent(ctx context.Context, movieID string) (*Manifest, string, error) {
	pointerData, err := s.backend.Read(ctx, storage.CurrentPointerPath(movieID))
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, "", fmt.Errorf("%w: movie %s", ErrManifestNotFound, movieID)
		}
		return nil, "", fmt.Errorf("failed to read manifest pointer: %w", err)
	}

	var pointer CurrentPointer
	if err := json.Unmarshal(pointerData, &pointer); err != nil {
		return nil, "", fmt.Errorf("failed to decode manifest pointer: %w", err)
	}

	manifestData, err := s.backend.Read(ctx, pointer.ManifestPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read manifest %s: %w", pointer.Revision, err)
	}

	var manifest Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return nil, "", fmt.Errorf("failed to decode manifest %s: %w", pointer.Revision, err)
	}

	return &manifest, HashBytes(manifestData), nil
}

// SaveManifest writes the manifest document for its revision and promotes the
// pointer. previousHash must be the digest returned by LoadCurrent (empty for
// a movie without a manifest); a mismatch fails with ErrManifestConflict and
// promotes nothing.
func (s *ManifestService) SaveManifest(ctx context.Context, movieID string, manifest *Manifest, previousHash string) error {
	if err := manifest.Validate(); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}

	// Re-check the stored digest before promoting.
	_, storedHash, err := s.LoadCurrent(ctx, movieID)
	switch {
	case err == nil:
		if storedHash != previousHash {
			return fmt.Errorf("%w: movie %s was promoted concurrently", ErrManifestConflict, movieID)
		}
	case IsManifestNotFound(err):
		if previousHash != "" {
			return fmt.Errorf("%w: movie %s has no manifest but a previous hash was supplied", ErrManifestConflict, movieID)
		}
	default:
		return err
	}

	if manifest.CreatedAt.IsZero() {
		manifest.CreatedAt = s.clock().UTC()
	}

	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	manifestPath := storage.ManifestPath(movieID, manifest.Revision)
	if err := s.backend.Write(ctx, manifestPath, manifestData); err != nil {
		return fmt.Errorf("failed to write manifest %s: %w", manifest.Revision, err)
	}

	pointer := CurrentPointer{Revision: manifest.Revision, ManifestPath: manifestPath}
	pointerData, err := json.Marshal(&pointer)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest pointer: %w", err)
	}
	if err := s.backend.Write(ctx, storage.CurrentPointerPath(movieID), pointerData); err != nil {
		return fmt.Errorf("failed to promote manifest %s: %w", manifest.Revision, err)
	}

	return nil
}
