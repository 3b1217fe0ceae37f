// Package plan decides what must run. The dirty checker classifies every job
// of an expanded graph against the manifest; the planner turns the dirty
// subgraph into a persisted, layered execution plan.
package plan

import (
	"fmt"

	"github.com/keremk/renku-sub006/internal/buildstore"
	"github.com/keremk/renku-sub006/internal/graph"
	"github.com/keremk/renku-sub006/internal/hashing"
)

// ReasonKind classifies why a job is scheduled.
type ReasonKind string

const (
	ReasonClean             ReasonKind = "Clean"
	ReasonForcedByTarget    ReasonKind = "ForcedByTarget"
	ReasonForcedByEdit      ReasonKind = "ForcedByEdit"
	ReasonForcedByUpstream  ReasonKind = "ForcedByUpstream"
	ReasonMissingOutput     ReasonKind = "MissingOutput"
	ReasonInputsHashChanged ReasonKind = "InputsHashChanged"
)

// Reason is the dirtiness classification of one job. Detail names the
// offending id or upstream job.
type Reason struct {
	Kind   ReasonKind `json:"kind"`
	Detail string     `json:"detail,omitempty"`
}

// IsDirty reports whether the reason schedules the job.
func (r Reason) IsDirty() bool {
	return r.Kind != ReasonClean
}

func (r Reason) String() string {
	if r.Detail == "" {
		return string(r.Kind)
	}
	return fmt.Sprintf("%s(%s)", r.Kind, r.Detail)
}

// PlanExplanation maps every job id to its dirtiness reason.
type PlanExplanation map[string]Reason

// DirtyOptions parameterises one dirty-checking pass.
type DirtyOptions struct {
	// ForcedJobs maps job ids to the target artifact that forces them
	// (surgical regeneration).
	ForcedJobs map[string]string

	// OverriddenIDs are artifact ids replaced by user overrides this
	// revision. Consumers re-run; the producing job does not.
	OverriddenIDs map[string]bool

	// EditedInputs are input ids whose payload changed this revision.
	EditedInputs map[string]bool

	// ReRunFrom forces every job at full-graph layer >= the given index.
	// Negative disables.
	ReRunFrom int
}

// CheckDirty classifies every job of the graph against the manifest and
// returns the explanation together with each job's full-graph layer index.
// The manifest must already be augmented with this revision's input events and
// overrides. The result is fixed-point stable: two propagation passes over
// the topological order suffice because a job's upstream set is fixed.
func CheckDirty(g *graph.Graph, manifest *buildstore.Manifest, opts DirtyOptions) (PlanExplanation, map[string]int, error) {
	layers, err := g.Layers()
	if err != nil {
		return nil, nil, err
	}

	var ordered []*graph.Job
	layerOf := make(map[string]int)
	for i, layer := range layers {
		for _, j := range layer {
			ordered = append(ordered, j)
			layerOf[j.JobID] = i
		}
	}

	explanation := make(PlanExplanation, len(ordered))
	for _, j := range ordered {
		explanation[j.JobID] = directReason(j, manifest, layerOf[j.JobID], opts)
	}

	for pass := 0; pass < 2; pass++ {
		for _, j := range ordered {
			if explanation[j.JobID].IsDirty() {
				continue
			}
			for _, up := range g.Upstream(j) {
				if explanation[up.JobID].IsDirty() {
					explanation[j.JobID] = Reason{Kind: ReasonForcedByUpstream, Detail: up.JobID}
					break
				}
			}
		}
	}

	return explanation, layerOf, nil
}

func directReason(j *graph.Job, manifest *buildstore.Manifest, layer int, opts DirtyOptions) Reason {
	if target, ok := opts.ForcedJobs[j.JobID]; ok {
		return Reason{Kind: ReasonForcedByTarget, Detail: target}
	}
	if opts.ReRunFrom >= 0 && layer >= opts.ReRunFrom {
		return Reason{Kind: ReasonForcedByTarget, Detail: fmt.Sprintf("layer>=%d", opts.ReRunFrom)}
	}

	for _, id := range j.Consumes {
		if opts.EditedInputs[id] {
			return Reason{Kind: ReasonForcedByEdit, Detail: id}
		}
		if opts.OverriddenIDs[id] {
			return Reason{Kind: ReasonForcedByEdit, Detail: id}
		}
	}

	for _, id := range j.Produces {
		// Manifests only materialize succeeded artefacts, so presence is
		// equivalent to a succeeded latest event.
		if _, ok := manifest.Artefacts[id]; !ok {
			return Reason{Kind: ReasonMissingOutput, Detail: id}
		}
	}

	computed := hashing.HashInputContents(j.Consumes, manifest)
	for _, id := range j.Produces {
		if entry, ok := manifest.Artefacts[id]; ok && entry.InputsHash != computed {
			return Reason{Kind: ReasonInputsHashChanged, Detail: id}
		}
	}

	return Reason{Kind: ReasonClean}
}
