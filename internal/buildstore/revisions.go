package buildstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/keremk/renku-sub006/internal/storage"
)

// InitialRevision is the revision of a movie that has never been planned.
const InitialRevision = "rev-0000"

// FormatRevision renders a revision number as rev-NNNN.
func FormatRevision(n int) string {
	return fmt.Sprintf("rev-%04d", n)
}

// ParseRevision extracts the number from a rev-NNNN identifier.
func ParseRevision(revision string) (int, error) {
	rest, ok := strings.CutPrefix(revision, "rev-")
	if !ok {
		return 0, fmt.Errorf("invalid revision %q: missing rev- prefix", revision)
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid revision %q", revision)
	}
	return n, nil
}

// NextRevision picks the successor of the given revision, skipping any slot
// that already holds a persisted plan. Each planning operation owns exactly
// one plan file at runs/<rev>-plan.json.
func NextRevision(ctx context.Context, backend storage.Backend, movieID, afterRevision string) (string, error) {
	n, err := ParseRevision(afterRevision)
	if err != nil {
		return "", err
	}

	for candidate := n + 1; ; candidate++ {
		revision := FormatRevision(candidate)
		exists, err := backend.FileExists(ctx, storage.PlanPath(movieID, revision))
		if err != nil {
			return "", fmt.Errorf("failed to probe plan slot %s: %w", revision, err)
		}
		if !exists {
			return revision, nil
		}
	}
}

// SavePlan persists the marshalled plan at the revision's plan slot.
func SavePlan(ctx context.Context, backend storage.Backend, movieID, revision string, data []byte) error {
	if err := backend.Write(ctx, storage.PlanPath(movieID, revision), data); err != nil {
		return fmt.Errorf("failed to persist plan %s: %w", revision, err)
	}
	return nil
}

// LoadPlan reads the persisted plan bytes for a revision.
func LoadPlan(ctx context.Context, backend storage.Backend, movieID, revision string) ([]byte, error) {
	data, err := backend.Read(ctx, storage.PlanPath(movieID, revision))
	if err != nil {
		return nil, fmt.Errorf("failed to load plan %s: %w", revision, err)
	}
	return data, nil
}

// Metadata is the user-facing movie record written at init time.
type Metadata struct {
	MovieID       string `json:"movieId"`
	Label         string `json:"label,omitempty"`
	BlueprintPath string `json:"blueprintPath,omitempty"`
	CreatedAt     string `json:"createdAt"`
}

// SaveMetadata writes the movie metadata document.
func SaveMetadata(ctx context.Context, backend storage.Backend, meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := backend.Write(ctx, storage.MetadataPath(meta.MovieID), data); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// LoadMetadata reads the movie metadata document.
func LoadMetadata(ctx context.Context, backend storage.Backend, movieID string) (*Metadata, error) {
	data, err := backend.Read(ctx, storage.MetadataPath(movieID))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return &meta, nil
}
