package storage

import (
	"context"
	"fmt"
)

// Storage path helpers
//
// All movie state lives under builds/<movieID>/. The layout is stable and
// shared with external tooling:
//
//	builds/<movieID>/
//	  current.json                    pointer to the active manifest
//	  manifests/<rev>.json            manifest documents
//	  runs/<rev>-plan.json            execution plans
//	  events/inputs/<ts>-<id>.json    input events
//	  events/artefacts/<ts>-<id>.json artefact events
//	  blobs/<hh>/<hash>.<ext>         content-addressed payloads
//	  metadata.json                   user-facing label + blueprint path

// CurrentPointerPath returns the path of the manifest pointer file.
func CurrentPointerPath(movieID string) string {
	return Resolve(movieID, "current.json")
}

// ManifestPath returns the path of a manifest document for a revision.
func ManifestPath(movieID, revision string) string {
	return Resolve(movieID, "manifests", revision+".json")
}

// PlanPath returns the path of the persisted plan for a revision.
func PlanPath(movieID, revision string) string {
	return Resolve(movieID, "runs", revision+"-plan.json")
}

// RunsDir returns the directory holding persisted plans.
func RunsDir(movieID string) string {
	return Resolve(movieID, "runs")
}

// InputEventsDir returns the directory holding input events.
func InputEventsDir(movieID string) string {
	return Resolve(movieID, "events", "inputs")
}

// ArtefactEventsDir returns the directory holding artefact events.
func ArtefactEventsDir(movieID string) string {
	return Resolve(movieID, "events", "artefacts")
}

// BlobPath returns the content-addressed path of a blob. The first two
// characters of the hash shard the blob directory.
func BlobPath(movieID, hash, ext string) string {
	return Resolve(movieID, "blobs", hash[:2], fmt.Sprintf("%s.%s", hash, ext))
}

// BlobsDir returns the root blob directory for a movie.
func BlobsDir(movieID string) string {
	return Resolve(movieID, "blobs")
}

// MetadataPath returns the path of the movie metadata document.
func MetadataPath(movieID string) string {
	return Resolve(movieID, "metadata.json")
}

// InitializeMovieStorage creates the movie's root and its blobs, runs,
// manifests, and event log directories. Flat back-ends treat the directory
// creation as a no-op; path-based writes carry the layout.
func InitializeMovieStorage(ctx context.Context, backend Backend, movieID string) error {
	dirs := []string{
		Resolve(movieID),
		BlobsDir(movieID),
		RunsDir(movieID),
		Resolve(movieID, "manifests"),
		InputEventsDir(movieID),
		ArtefactEventsDir(movieID),
	}
	for _, dir := range dirs {
		if err := backend.MkdirAll(ctx, dir); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
