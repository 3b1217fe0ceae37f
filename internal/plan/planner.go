package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/keremk/renku-sub006/internal/blueprint"
	"github.com/keremk/renku-sub006/internal/buildstore"
	"github.com/keremk/renku-sub006/internal/graph"
	"github.com/keremk/renku-sub006/internal/hashing"
	"github.com/keremk/renku-sub006/internal/producer"
	"github.com/keremk/renku-sub006/internal/storage"
	"github.com/keremk/renku-sub006/pkg/ids"
)

// Target error codes for surgical regeneration.
const (
	CodeArtifactNotInManifest = "ArtifactNotInManifest"
	CodeArtifactJobNotFound   = "ArtifactJobNotFound"
)

// TargetError reports a forced-regeneration target that cannot be scheduled.
type TargetError struct {
	Code       string
	ArtifactID string
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.ArtifactID)
}

// Plan is the persisted execution plan for one revision: an ordered list of
// layers, each a set of jobs with no dependencies among themselves.
type Plan struct {
	MovieID      string          `json:"movieId"`
	Revision     string          `json:"revision"`
	BaseRevision string          `json:"baseRevision,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	Layers       [][]*graph.Job  `json:"layers"`
	Explanation  PlanExplanation `json:"explanation,omitempty"`
}

// JobCount returns the number of scheduled jobs.
func (p *Plan) JobCount() int {
	n := 0
	for _, layer := range p.Layers {
		n += len(layer)
	}
	return n
}

// Job returns the scheduled job with the given id, or nil.
func (p *Plan) Job(jobID string) *graph.Job {
	for _, layer := range p.Layers {
		for _, j := range layer {
			if j.JobID == jobID {
				return j
			}
		}
	}
	return nil
}

// Request parameterises one planning operation. ReRunFrom and UpToLayer are
// full-graph layer indices; negative values disable them.
type Request struct {
	MovieID   string
	Doc       *blueprint.Document
	Inputs    *blueprint.InputSet
	Targets   []string
	ReRunFrom int
	UpToLayer int
}

// Result is the outcome of planning: the persisted plan plus the expanded
// graph and augmented manifest the executor needs.
type Result struct {
	Plan  *Plan
	Graph *graph.Graph

	// Inputs is the canonicalized input set the plan was generated from,
	// including derived system inputs.
	Inputs *blueprint.InputSet

	// Base is the manifest augmented with this revision's input events and
	// overrides. The executor builds the next manifest on top of it.
	Base *buildstore.Manifest

	// BaseDigest is the digest of the stored current manifest, used for
	// optimistic concurrency when the next manifest is promoted.
	BaseDigest string
}

// Planner generates execution plans against a storage backend.
type Planner struct {
	backend   storage.Backend
	log       *buildstore.Log
	blobs     *buildstore.BlobStore
	manifests *buildstore.ManifestService
	clock     func() time.Time
}

// NewPlanner creates a planner over the given backend.
func NewPlanner(backend storage.Backend) *Planner {
	return &Planner{
		backend:   backend,
		log:       buildstore.NewLog(backend),
		blobs:     buildstore.NewBlobStore(backend),
		manifests: buildstore.NewManifestService(backend),
		clock:     time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (p *Planner) WithClock(clock func() time.Time) *Planner {
	p.clock = clock
	p.log.WithClock(clock)
	return p
}

// Log exposes the planner's event log so the executor appends through the
// same serialised writer.
func (p *Planner) Log() *buildstore.Log {
	return p.log
}

// GeneratePlan runs the full planning pipeline: load or synthesize the base
// manifest, pick the next revision, append input events, apply overrides,
// expand the graph, classify dirtiness, and persist the layered plan.
func (p *Planner) GeneratePlan(ctx context.Context, req *Request) (*Result, error) {
	manifest, digest, err := p.manifests.LoadCurrent(ctx, req.MovieID)
	if buildstore.IsManifestNotFound(err) {
		manifest = buildstore.NewManifest(buildstore.InitialRevision, "", p.clock().UTC())
		digest = ""
	} else if err != nil {
		return nil, err
	}

	revision, err := buildstore.NextRevision(ctx, p.backend, req.MovieID, manifest.Revision)
	if err != nil {
		return nil, err
	}

	injectDerivedInputs(req.Inputs)

	variants, err := producer.SelectAll(req.Doc, req.Inputs)
	if err != nil {
		return nil, err
	}
	g, err := graph.Expand(req.Doc, req.Inputs, graph.Options{
		Variants: variants,
		Lookup:   conditionLookup(req.Inputs, manifest),
	})
	if err != nil {
		return nil, err
	}

	augmented := manifest.Clone()
	if err := p.foldRecoveredArtefacts(ctx, req.MovieID, augmented); err != nil {
		return nil, err
	}
	edited, err := p.appendInputEvents(ctx, req, revision, manifest, augmented)
	if err != nil {
		return nil, err
	}

	overridden, err := p.applyOverrides(ctx, req, revision, g, augmented)
	if err != nil {
		return nil, err
	}

	forced := make(map[string]string, len(req.Targets))
	for _, target := range req.Targets {
		if _, ok := augmented.Artefacts[target]; !ok {
			return nil, &TargetError{Code: CodeArtifactNotInManifest, ArtifactID: target}
		}
		producing := g.ProducerOf(target)
		if producing == nil {
			return nil, &TargetError{Code: CodeArtifactJobNotFound, ArtifactID: target}
		}
		forced[producing.JobID] = target
	}

	explanation, layerOf, err := CheckDirty(g, augmented, DirtyOptions{
		ForcedJobs:    forced,
		OverriddenIDs: overridden,
		EditedInputs:  edited,
		ReRunFrom:     req.ReRunFrom,
	})
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		MovieID:      req.MovieID,
		Revision:     revision,
		BaseRevision: manifest.Revision,
		CreatedAt:    p.clock().UTC(),
		Layers:       buildLayers(g, explanation, layerOf, req.UpToLayer),
		Explanation:  explanation,
	}

	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal plan: %w", err)
	}
	if err := buildstore.SavePlan(ctx, p.backend, req.MovieID, revision, data); err != nil {
		return nil, err
	}

	return &Result{Plan: plan, Graph: g, Inputs: req.Inputs, Base: augmented, BaseDigest: digest}, nil
}

// appendInputEvents canonicalizes the input values into the event log. An
// input whose payload digest already matches the manifest is deduped: no event
// is appended and the id is not considered edited.
func (p *Planner) appendInputEvents(ctx context.Context, req *Request, revision string, base, augmented *buildstore.Manifest) (map[string]bool, error) {
	keys := make([]string, 0, len(req.Inputs.Values))
	for id := range req.Inputs.Values {
		keys = append(keys, id)
	}
	sort.Strings(keys)

	edited := make(map[string]bool)
	for _, id := range keys {
		value := req.Inputs.Values[id]
		digest, err := hashing.HashPayload(value)
		if err != nil {
			return nil, fmt.Errorf("failed to hash input %s: %w", id, err)
		}

		if prev, ok := base.Inputs[id]; ok && prev.PayloadDigest == digest.Hash {
			continue
		}

		now := p.clock().UTC()
		event := &buildstore.InputEvent{
			ID:       id,
			Revision: revision,
			Payload:  value,
			Hash:     digest.Hash,
		}
		if err := p.log.AppendInput(ctx, req.MovieID, event); err != nil {
			return nil, err
		}

		edited[id] = true
		augmented.Inputs[id] = buildstore.ManifestInput{
			Hash:          digest.Hash,
			PayloadDigest: digest.Hash,
			CreatedAt:     now,
		}
	}
	return edited, nil
}

// conditionLookup resolves edge-condition operands against the run's inputs
// and the inline artifact values of the base manifest. A trailing path
// segment that does not name a manifest entry indexes into an inline mapping,
// so Artifact:DocProducer.Plan.Format reads the Format field of the Plan
// value materialized by an earlier revision.
func conditionLookup(in *blueprint.InputSet, base *buildstore.Manifest) func(id string) (any, bool) {
	return func(id string) (any, bool) {
		if v, ok := in.Value(id); ok {
			return v, true
		}
		if entry, ok := base.Artefacts[id]; ok && entry.Inline != nil {
			return entry.Inline, true
		}
		if cut := strings.LastIndex(id, "."); cut > 0 {
			if entry, ok := base.Artefacts[id[:cut]]; ok {
				if fields, ok := entry.Inline.(map[string]any); ok {
					v, ok := fields[id[cut+1:]]
					return v, ok
				}
			}
		}
		return nil, false
	}
}

// foldRecoveredArtefacts materializes artefacts recovered since the current
// manifest was promoted. Recovery appends succeeded events outside an
// execution, so the manifest on disk may predate them. An id already present
// in the manifest succeeded on a later run and wins over the recovery event.
func (p *Planner) foldRecoveredArtefacts(ctx context.Context, movieID string, augmented *buildstore.Manifest) error {
	events, err := p.log.CollectArtefacts(ctx, movieID)
	if err != nil {
		return err
	}

	latest := make(map[string]*buildstore.ArtefactEvent)
	for _, event := range events {
		latest[event.ArtefactID] = event
	}
	for id, event := range latest {
		if event.Status != buildstore.StatusSucceeded {
			continue
		}
		if event.Diagnostics == nil || event.Diagnostics.RecoveredBy == "" {
			continue
		}
		if _, ok := augmented.Artefacts[id]; ok {
			continue
		}
		augmented.Artefacts[id] = buildstore.ManifestArtefact{
			Blob:        event.Output.Blob,
			Inline:      event.Output.Inline,
			Status:      event.Status,
			ProducedBy:  event.ProducedBy,
			InputsHash:  event.InputsHash,
			Diagnostics: event.Diagnostics,
		}
	}
	return nil
}

// applyOverrides persists each user-supplied artifact payload as a blob and
// appends a succeeded event stamped with the producing job's current
// inputsHash, so the producing job itself stays clean while every downstream
// consumer re-runs.
func (p *Planner) applyOverrides(ctx context.Context, req *Request, revision string, g *graph.Graph, augmented *buildstore.Manifest) (map[string]bool, error) {
	overridden := make(map[string]bool, len(req.Inputs.Overrides))
	for _, o := range req.Inputs.Overrides {
		producing := g.ProducerOf(o.ArtifactID)
		if producing == nil {
			return nil, &blueprint.ParseError{
				Code:    blueprint.CodeInvalidArtifactOverride,
				Subject: o.ArtifactID,
				Message: "no job produces the overridden artifact",
			}
		}

		ref, err := p.blobs.Write(ctx, req.MovieID, o.Data, o.MimeType)
		if err != nil {
			return nil, err
		}

		inputsHash := hashing.HashInputContents(producing.Consumes, augmented)
		event := &buildstore.ArtefactEvent{
			ArtefactID: o.ArtifactID,
			Revision:   revision,
			InputsHash: inputsHash,
			Output:     buildstore.ArtefactOutput{Blob: ref},
			Status:     buildstore.StatusSucceeded,
			ProducedBy: producing.JobID,
		}
		if err := p.log.AppendArtefact(ctx, req.MovieID, event); err != nil {
			return nil, err
		}

		augmented.Artefacts[o.ArtifactID] = buildstore.ManifestArtefact{
			Blob:       ref,
			Status:     buildstore.StatusSucceeded,
			ProducedBy: producing.JobID,
			InputsHash: inputsHash,
		}
		overridden[o.ArtifactID] = true
	}
	return overridden, nil
}

// injectDerivedInputs adds system inputs computed from user inputs when the
// operands are present and the derived id is not already set.
func injectDerivedInputs(in *blueprint.InputSet) {
	durationID := ids.Format(ids.KindInput, nil, "Duration")
	segmentsID := ids.Format(ids.KindInput, nil, "NumOfSegments")
	derivedID := ids.Format(ids.KindInput, nil, "SegmentDuration")

	if _, set := in.Values[derivedID]; set {
		return
	}
	duration, ok := asFloat(in.Values[durationID])
	if !ok {
		return
	}
	segments, ok := asFloat(in.Values[segmentsID])
	if !ok || segments == 0 {
		return
	}
	in.Values[derivedID] = duration / segments
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// buildLayers produces the plan's layers from the dirty subgraph: a dirty job
// lands in layer max(layer(dirty upstream)) + 1, or 0 with none. UpToLayer
// trims by full-graph layer after propagation. Layers are sorted by
// (producer, indices, jobID) so identical plans serialise byte-identically.
func buildLayers(g *graph.Graph, explanation PlanExplanation, layerOf map[string]int, upToLayer int) [][]*graph.Job {
	layers, err := g.Layers()
	if err != nil {
		return nil // cycle already rejected during expansion
	}

	scheduled := func(j *graph.Job) bool {
		if !explanation[j.JobID].IsDirty() {
			return false
		}
		if upToLayer >= 0 && layerOf[j.JobID] > upToLayer {
			return false
		}
		return true
	}

	planLayer := make(map[string]int)
	var out [][]*graph.Job
	for _, layer := range layers {
		for _, j := range layer {
			if !scheduled(j) {
				continue
			}
			depth := 0
			for _, up := range g.Upstream(j) {
				if l, ok := planLayer[up.JobID]; ok && l+1 > depth {
					depth = l + 1
				}
			}
			planLayer[j.JobID] = depth
			for len(out) <= depth {
				out = append(out, nil)
			}
			out[depth] = append(out[depth], j)
		}
	}

	for _, layer := range out {
		sort.Slice(layer, func(a, b int) bool {
			ja, jb := layer[a], layer[b]
			if ja.Producer != jb.Producer {
				return ja.Producer < jb.Producer
			}
			for i := 0; i < len(ja.Indices) && i < len(jb.Indices); i++ {
				if ja.Indices[i] != jb.Indices[i] {
					return ja.Indices[i] < jb.Indices[i]
				}
			}
			if len(ja.Indices) != len(jb.Indices) {
				return len(ja.Indices) < len(jb.Indices)
			}
			return ja.JobID < jb.JobID
		})
	}
	return out
}
