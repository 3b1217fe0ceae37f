// Package executor runs a persisted plan layer by layer: jobs within a layer
// run in parallel on a bounded pool, every outcome is appended to the event
// log, and the new manifest is rebuilt and promoted once all layers finish.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/keremk/renku-sub006/internal/blueprint"
	"github.com/keremk/renku-sub006/internal/buildstore"
	"github.com/keremk/renku-sub006/internal/graph"
	"github.com/keremk/renku-sub006/internal/hashing"
	"github.com/keremk/renku-sub006/internal/plan"
	"github.com/keremk/renku-sub006/internal/producer"
	"github.com/keremk/renku-sub006/internal/storage"
)

// JobStatus is the terminal state of one job within a run.
type JobStatus string

const (
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobSkipped   JobStatus = "skipped"
	JobCancelled JobStatus = "cancelled"
)

// JobOutcome records how one scheduled job ended.
type JobOutcome struct {
	JobID       string                  `json:"jobId"`
	Status      JobStatus               `json:"status"`
	Reason      string                  `json:"reason,omitempty"`
	Diagnostics *buildstore.Diagnostics `json:"diagnostics,omitempty"`
	StartedAt   time.Time               `json:"startedAt,omitempty"`
	FinishedAt  time.Time               `json:"finishedAt,omitempty"`
}

// Summary is the result of executing one plan.
type Summary struct {
	MovieID  string                 `json:"movieId"`
	Revision string                 `json:"revision"`
	Outcomes map[string]*JobOutcome `json:"outcomes"`
	Manifest *buildstore.Manifest   `json:"-"`
}

// Failed returns the sorted ids of failed jobs.
func (s *Summary) Failed() []string { return s.withStatus(JobFailed) }

// Skipped returns the sorted ids of skipped jobs.
func (s *Summary) Skipped() []string { return s.withStatus(JobSkipped) }

// Cancelled returns the sorted ids of cancelled jobs.
func (s *Summary) Cancelled() []string { return s.withStatus(JobCancelled) }

func (s *Summary) withStatus(status JobStatus) []string {
	var out []string
	for _, o := range s.Outcomes {
		if o.Status == status {
			out = append(out, o.JobID)
		}
	}
	sort.Strings(out)
	return out
}

// Config wires an executor.
type Config struct {
	Backend storage.Backend
	Produce producer.ProduceFunc
	Mode    producer.Mode

	// Concurrency bounds the jobs in flight within a layer. Default 1.
	Concurrency int

	// Log optionally shares the planner's event log so appends stay
	// serialised through one writer. A new log is created when nil.
	Log *buildstore.Log
}

// Executor runs plans against a storage backend.
type Executor struct {
	backend     storage.Backend
	produce     producer.ProduceFunc
	mode        producer.Mode
	concurrency int
	log         *buildstore.Log
	blobs       *buildstore.BlobStore
	manifests   *buildstore.ManifestService
	clock       func() time.Time
}

// New creates an executor from the config.
func New(cfg Config) *Executor {
	eventLog := cfg.Log
	if eventLog == nil {
		eventLog = buildstore.NewLog(cfg.Backend)
	}
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	mode := cfg.Mode
	if mode == "" {
		mode = producer.ModeMock
	}
	return &Executor{
		backend:     cfg.Backend,
		produce:     cfg.Produce,
		mode:        mode,
		concurrency: concurrency,
		log:         eventLog,
		blobs:       buildstore.NewBlobStore(cfg.Backend),
		manifests:   buildstore.NewManifestService(cfg.Backend),
		clock:       time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (e *Executor) WithClock(clock func() time.Time) *Executor {
	e.clock = clock
	e.log.WithClock(clock)
	return e
}

// jobSource adapts the live manifest and input set to the produce contract.
type jobSource struct {
	movieID  string
	inputs   *blueprint.InputSet
	manifest *buildstore.Manifest
	blobs    *buildstore.BlobStore
}

func (s *jobSource) Value(id string) (any, bool) {
	if s.inputs == nil {
		return nil, false
	}
	return s.inputs.Value(id)
}

func (s *jobSource) Blob(ctx context.Context, id string) ([]byte, string, error) {
	entry, ok := s.manifest.Artefacts[id]
	if !ok || entry.Blob == nil {
		return nil, "", fmt.Errorf("artifact %s is not materialized", id)
	}
	data, err := s.blobs.Read(ctx, s.movieID, entry.Blob)
	if err != nil {
		return nil, "", err
	}
	return data, entry.Blob.MimeType, nil
}

// Execute runs every layer of the plan. Jobs downstream of a failure are
// reported skipped; a cancelled context stops new dispatch, lets in-flight
// jobs finish, and still promotes a manifest covering the completed work.
func (e *Executor) Execute(ctx context.Context, res *plan.Result) (*Summary, error) {
	p := res.Plan
	summary := &Summary{
		MovieID:  p.MovieID,
		Revision: p.Revision,
		Outcomes: make(map[string]*JobOutcome, p.JobCount()),
	}

	e.logEvent("execution_started", map[string]interface{}{
		"movie_id":    p.MovieID,
		"revision":    p.Revision,
		"layers":      len(p.Layers),
		"jobs":        p.JobCount(),
		"concurrency": e.concurrency,
	})

	live := res.Base.Clone()
	var mu sync.Mutex

	for layerIdx, layer := range p.Layers {
		e.logEvent("layer_started", map[string]interface{}{
			"movie_id": p.MovieID,
			"revision": p.Revision,
			"layer":    layerIdx,
			"jobs":     len(layer),
		})

		var group errgroup.Group
		group.SetLimit(e.concurrency)

		for _, job := range layer {
			// Cancellation wins over upstream failures: once the run is
			// cancelled every undispatched job is cancelled, not skipped.
			if ctx.Err() != nil {
				mu.Lock()
				summary.Outcomes[job.JobID] = &JobOutcome{JobID: job.JobID, Status: JobCancelled}
				mu.Unlock()
				e.logEvent("job_cancelled", map[string]interface{}{
					"movie_id": p.MovieID, "job_id": job.JobID,
				})
				continue
			}

			// Outcomes is written by in-flight goroutines of this layer, so
			// the upstream check holds the same lock.
			mu.Lock()
			reason, blocked := e.blockedBy(res.Graph, job, summary)
			if blocked {
				summary.Outcomes[job.JobID] = &JobOutcome{JobID: job.JobID, Status: JobSkipped, Reason: reason}
				mu.Unlock()
				e.logEvent("job_skipped", map[string]interface{}{
					"movie_id": p.MovieID, "job_id": job.JobID, "blocked_by": reason,
				})
				continue
			}
			mu.Unlock()

			job := job
			group.Go(func() error {
				outcome := e.runJob(ctx, res, job, live)
				mu.Lock()
				summary.Outcomes[job.JobID] = outcome
				mu.Unlock()
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return nil, err
		}

		// Fold the layer's succeeded outputs into the live manifest so later
		// layers hash against them.
		if err := e.refresh(ctx, p, live); err != nil {
			return nil, err
		}
	}

	manifest, err := e.rebuildManifest(ctx, res, summary)
	if err != nil {
		return nil, err
	}
	if err := e.manifests.SaveManifest(ctx, p.MovieID, manifest, res.BaseDigest); err != nil {
		return nil, err
	}
	summary.Manifest = manifest

	e.logEvent("manifest_promoted", map[string]interface{}{
		"movie_id":  p.MovieID,
		"revision":  p.Revision,
		"artefacts": len(manifest.Artefacts),
	})
	e.logEvent("execution_complete", map[string]interface{}{
		"movie_id":  p.MovieID,
		"revision":  p.Revision,
		"failed":    len(summary.Failed()),
		"skipped":   len(summary.Skipped()),
		"cancelled": len(summary.Cancelled()),
	})
	return summary, nil
}

// blockedBy reports whether any upstream job of j ended failed, skipped, or
// cancelled in this run. The caller holds the lock guarding summary.Outcomes.
func (e *Executor) blockedBy(g *graph.Graph, j *graph.Job, summary *Summary) (string, bool) {
	for _, up := range g.Upstream(j) {
		if outcome, ok := summary.Outcomes[up.JobID]; ok {
			switch outcome.Status {
			case JobFailed, JobSkipped, JobCancelled:
				return up.JobID, true
			}
		}
	}
	return "", false
}

// runJob dispatches one job through the produce callback and appends its
// artefact events. A panic inside produce is recovered into a failure.
func (e *Executor) runJob(ctx context.Context, res *plan.Result, job *graph.Job, live *buildstore.Manifest) (outcome *JobOutcome) {
	started := e.clock().UTC()
	outcome = &JobOutcome{JobID: job.JobID, Status: JobSucceeded, StartedAt: started}

	inputsHash := hashing.HashInputContents(job.Consumes, live)

	defer func() {
		if r := recover(); r != nil {
			diag := &buildstore.Diagnostics{
				Kind:    "Panic",
				Message: fmt.Sprintf("produce panicked: %v", r),
			}
			e.failJob(ctx, res, job, inputsHash, diag, outcome)
		}
		outcome.FinishedAt = e.clock().UTC()
	}()

	result, err := e.produce(ctx, &producer.Request{
		Job:  job,
		Mode: e.mode,
		Inputs: &jobSource{
			movieID:  res.Plan.MovieID,
			inputs:   res.Inputs,
			manifest: live,
			blobs:    e.blobs,
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled mid-flight: no failed events, partial appends stand.
			outcome.Status = JobCancelled
			return outcome
		}
		diag := &buildstore.Diagnostics{Kind: "ProduceError", Message: err.Error()}
		e.failJob(ctx, res, job, inputsHash, diag, outcome)
		return outcome
	}

	if result.Status == buildstore.StatusFailed {
		e.failJob(ctx, res, job, inputsHash, result.Diagnostics, outcome)
		return outcome
	}

	for _, art := range result.Artefacts {
		if art.Status == buildstore.StatusFailed {
			e.failArtefact(ctx, res, job, art.ArtefactID, inputsHash, art.Diagnostics)
			outcome.Status = JobFailed
			outcome.Diagnostics = art.Diagnostics
			continue
		}

		ref := art.BlobRef
		if ref == nil {
			persisted, err := e.blobs.Write(ctx, res.Plan.MovieID, art.Data, art.MimeType)
			if err != nil {
				diag := &buildstore.Diagnostics{Kind: "StorageIO", Message: err.Error()}
				e.failArtefact(ctx, res, job, art.ArtefactID, inputsHash, diag)
				outcome.Status = JobFailed
				outcome.Diagnostics = diag
				continue
			}
			ref = persisted
		}

		event := &buildstore.ArtefactEvent{
			ArtefactID:  art.ArtefactID,
			Revision:    res.Plan.Revision,
			InputsHash:  inputsHash,
			Output:      buildstore.ArtefactOutput{Blob: ref},
			Status:      buildstore.StatusSucceeded,
			ProducedBy:  job.JobID,
			Diagnostics: art.Diagnostics,
		}
		if err := e.log.AppendArtefact(ctx, res.Plan.MovieID, event); err != nil {
			diag := &buildstore.Diagnostics{Kind: "StorageIO", Message: err.Error()}
			outcome.Status = JobFailed
			outcome.Diagnostics = diag
			continue
		}
	}

	if outcome.Status == JobSucceeded {
		e.logEvent("job_succeeded", map[string]interface{}{
			"movie_id": res.Plan.MovieID, "job_id": job.JobID, "artefacts": len(result.Artefacts),
		})
	}
	return outcome
}

// failJob appends a failed event for every produced id of the job.
func (e *Executor) failJob(ctx context.Context, res *plan.Result, job *graph.Job, inputsHash string, diag *buildstore.Diagnostics, outcome *JobOutcome) {
	outcome.Status = JobFailed
	outcome.Diagnostics = diag
	for _, artID := range job.Produces {
		e.failArtefact(ctx, res, job, artID, inputsHash, diag)
	}
	e.logEvent("job_failed", map[string]interface{}{
		"movie_id": res.Plan.MovieID, "job_id": job.JobID,
		"kind": diagKind(diag), "message": diagMessage(diag),
	})
}

func (e *Executor) failArtefact(ctx context.Context, res *plan.Result, job *graph.Job, artID, inputsHash string, diag *buildstore.Diagnostics) {
	event := &buildstore.ArtefactEvent{
		ArtefactID:  artID,
		Revision:    res.Plan.Revision,
		InputsHash:  inputsHash,
		Status:      buildstore.StatusFailed,
		ProducedBy:  job.JobID,
		Diagnostics: diag,
	}
	if err := e.log.AppendArtefact(ctx, res.Plan.MovieID, event); err != nil {
		log.Printf("[Executor] Failed to append failure event for %s: %v", artID, err)
	}
}

// refresh folds this revision's succeeded events into the live manifest
// between layers.
func (e *Executor) refresh(ctx context.Context, p *plan.Plan, live *buildstore.Manifest) error {
	events, err := e.log.CollectArtefacts(ctx, p.MovieID)
	if err != nil {
		return err
	}
	for _, event := range events {
		if event.Revision != p.Revision || event.Status != buildstore.StatusSucceeded {
			continue
		}
		live.Artefacts[event.ArtefactID] = buildstore.ManifestArtefact{
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

// rebuildManifest walks the full event log and applies the last-write-wins
// per id within the current revision, else inherit from base rule. Ids whose
// latest event this revision failed are excluded entirely.
func (e *Executor) rebuildManifest(ctx context.Context, res *plan.Result, summary *Summary) (*buildstore.Manifest, error) {
	p := res.Plan
	next := res.Base.Clone()
	next.Revision = p.Revision
	next.BaseRevision = p.BaseRevision
	next.CreatedAt = e.clock().UTC()

	events, err := e.log.CollectArtefacts(ctx, p.MovieID)
	if err != nil {
		return nil, err
	}
	for _, event := range events {
		if event.Revision != p.Revision {
			continue
		}
		if event.Status == buildstore.StatusFailed {
			delete(next.Artefacts, event.ArtefactID)
			continue
		}
		next.Artefacts[event.ArtefactID] = buildstore.ManifestArtefact{
			Blob:        event.Output.Blob,
			Inline:      event.Output.Inline,
			Status:      event.Status,
			ProducedBy:  event.ProducedBy,
			InputsHash:  event.InputsHash,
			Diagnostics: event.Diagnostics,
		}
	}

	for jobID, outcome := range summary.Outcomes {
		if outcome.StartedAt.IsZero() {
			continue
		}
		next.Timeline[jobID] = buildstore.TimelineEntry{
			StartedAt:  outcome.StartedAt,
			FinishedAt: outcome.FinishedAt,
			DurationMs: outcome.FinishedAt.Sub(outcome.StartedAt).Milliseconds(),
		}
	}
	return next, nil
}

// logEvent logs a structured event in JSON format.
func (e *Executor) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = e.clock().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "executor"
	data["event_type"] = eventType

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Executor] Failed to marshal log event: %v", err)
		return
	}
	log.Println(string(jsonData))
}

func diagKind(diag *buildstore.Diagnostics) string {
	if diag == nil {
		return ""
	}
	return diag.Kind
}

func diagMessage(diag *buildstore.Diagnostics) string {
	if diag == nil {
		return ""
	}
	return diag.Message
}
