// Package buildstore persists the durable state of a movie: the append-only
// event log, content-addressed blobs, manifests, and plans. It is the single
// writer surface for everything under builds/<movieID>/ and the source of
// truth the planner's dirty checking reads from.
package buildstore

import (
	"fmt"
	"time"

	"github.com/keremk/renku-sub006/pkg/ids"
)

// Status is the terminal outcome recorded on an artefact event.
type Status string

const (
	// StatusSucceeded marks an artefact that was produced successfully.
	StatusSucceeded Status = "succeeded"

	// StatusFailed marks an artefact whose production failed.
	StatusFailed Status = "failed"
)

// Validate checks that the Status is a known value.
func (s Status) Validate() error {
	switch s {
	case StatusSucceeded, StatusFailed:
		return nil
	default:
		return fmt.Errorf("unknown status: %q", s)
	}
}

// BlobRef identifies a content-addressed blob.
type BlobRef struct {
	Hash     string `json:"hash"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

// Diagnostics carries provider-side failure and recovery details on an
// artefact event. CausedByUser distinguishes refusals the user can fix from
// operational faults; Recoverable plus a provider request id makes a failed
// artefact eligible for the pre-plan recovery pass.
type Diagnostics struct {
	Kind              string `json:"kind,omitempty"`
	Message           string `json:"message,omitempty"`
	CausedByUser      bool   `json:"causedByUser,omitempty"`
	Recoverable       bool   `json:"recoverable,omitempty"`
	ProviderRequestID string `json:"providerRequestId,omitempty"`
	Provider          string `json:"provider,omitempty"`
	Model             string `json:"model,omitempty"`
	RecoveredBy       string `json:"recoveredBy,omitempty"`
	RecoveredAt       string `json:"recoveredAt,omitempty"`
}

// InputEvent records one edit of one input id within a revision.
type InputEvent struct {
	ID        string    `json:"id"`
	Revision  string    `json:"revision"`
	Payload   any       `json:"payload"`
	Hash      string    `json:"hash"`
	EditedBy  string    `json:"editedBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validate checks the event's id, revision, and hash.
func (e *InputEvent) Validate() error {
	if !ids.IsCanonicalInputID(e.ID) {
		return fmt.Errorf("input event id %q is not a canonical input id", e.ID)
	}
	if e.Revision == "" {
		return fmt.Errorf("input event revision cannot be empty")
	}
	if e.Hash == "" {
		return fmt.Errorf("input event hash cannot be empty")
	}
	return nil
}

// ArtefactOutput is the payload of an artefact event: either a blob reference
// or an inline JSON value for small scalar outputs.
type ArtefactOutput struct {
	Blob   *BlobRef `json:"blob,omitempty"`
	Inline any      `json:"inline,omitempty"`
}

// ArtefactEvent records one production outcome for one artefact id.
type ArtefactEvent struct {
	ArtefactID  string         `json:"artefactId"`
	Revision    string         `json:"revision"`
	InputsHash  string         `json:"inputsHash"`
	Output      ArtefactOutput `json:"output"`
	Status      Status         `json:"status"`
	ProducedBy  string         `json:"producedBy"`
	Diagnostics *Diagnostics   `json:"diagnostics,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Validate checks the event's id, revision, and status.
func (e *ArtefactEvent) Validate() error {
	if !ids.IsCanonicalArtifactID(e.ArtefactID) {
		return fmt.Errorf("artefact event id %q is not a canonical artifact id", e.ArtefactID)
	}
	if e.Revision == "" {
		return fmt.Errorf("artefact event revision cannot be empty")
	}
	if err := e.Status.Validate(); err != nil {
		return fmt.Errorf("artefact event %s: %w", e.ArtefactID, err)
	}
	return nil
}

// ManifestInput is the materialized view of the latest input event for an id.
type ManifestInput struct {
	Hash          string    `json:"hash"`
	PayloadDigest string    `json:"payloadDigest"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ManifestArtefact is the materialized view of the latest succeeded artefact
// event for an id. Failed artefacts are never materialized.
type ManifestArtefact struct {
	Blob        *BlobRef     `json:"blob,omitempty"`
	Inline      any          `json:"inline,omitempty"`
	Status      Status       `json:"status"`
	ProducedBy  string       `json:"producedBy"`
	InputsHash  string       `json:"inputsHash"`
	Diagnostics *Diagnostics `json:"diagnostics,omitempty"`
}

// TimelineEntry records when a job ran during the revision that produced the
// manifest.
type TimelineEntry struct {
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	DurationMs int64     `json:"durationMs"`
}

// Manifest is the materialized view of the latest succeeded event per id up to
// a revision. It is the source of truth for dirty checking.
type Manifest struct {
	Revision     string                      `json:"revision"`
	BaseRevision string                      `json:"baseRevision,omitempty"`
	CreatedAt    time.Time                   `json:"createdAt"`
	Inputs       map[string]ManifestInput    `json:"inputs"`
	Artefacts    map[string]ManifestArtefact `json:"artefacts"`
	Timeline     map[string]TimelineEntry    `json:"timeline"`
}

// NewManifest creates an empty manifest for a revision.
func NewManifest(revision, baseRevision string, createdAt time.Time) *Manifest {
	return &Manifest{
		Revision:     revision,
		BaseRevision: baseRevision,
		CreatedAt:    createdAt,
		Inputs:       make(map[string]ManifestInput),
		Artefacts:    make(map[string]ManifestArtefact),
		Timeline:     make(map[string]TimelineEntry),
	}
}

// Clone returns a deep-enough copy for augmentation: the maps are copied, the
// entries are shared (entries are treated as immutable values).
func (m *Manifest) Clone() *Manifest {
	out := NewManifest(m.Revision, m.BaseRevision, m.CreatedAt)
	for k, v := range m.Inputs {
		out.Inputs[k] = v
	}
	for k, v := range m.Artefacts {
		out.Artefacts[k] = v
	}
	for k, v := range m.Timeline {
		out.Timeline[k] = v
	}
	return out
}

// Validate checks the manifest invariant that every materialized artefact
// succeeded.
func (m *Manifest) Validate() error {
	if m.Revision == "" {
		return fmt.Errorf("manifest revision cannot be empty")
	}
	for id, art := range m.Artefacts {
		if art.Status != StatusSucceeded {
			return fmt.Errorf("manifest artefact %s has status %q; only succeeded artefacts are materialized", id, art.Status)
		}
	}
	return nil
}
