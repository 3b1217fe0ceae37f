// Package recovery reconciles failed artefacts whose provider request may have
// finished after the executor gave up. It runs before planning: every failed
// artefact carrying a recoverable diagnostic with a provider request id is
// probed, and completed requests are downloaded and appended as succeeded
// events so the next plan no longer schedules their jobs.
package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/keremk/renku-sub006/internal/buildstore"
	"github.com/keremk/renku-sub006/internal/storage"
	"github.com/keremk/renku-sub006/pkg/ids"
)

// RequestState is a provider-side view of an outstanding request.
type RequestState string

const (
	StateInQueue    RequestState = "in_queue"
	StateInProgress RequestState = "in_progress"
	StateCompleted  RequestState = "completed"
	StateUnknown    RequestState = "unknown"
)

// StatusReport is what a prober learned about one provider request. URLs are
// the downloadable outputs of a completed request, in the provider's output
// order.
type StatusReport struct {
	State RequestState
	URLs  []string
}

// StatusProber asks a provider what became of a request. Implementations are
// provider-specific; the diagnostics carry the provider, model, and request id.
type StatusProber interface {
	Check(ctx context.Context, diag *buildstore.Diagnostics) (*StatusReport, error)
}

// Downloader fetches one completed output.
type Downloader interface {
	Download(ctx context.Context, url string) (data []byte, mimeType string, err error)
}

// Outcome lists what one recovery pass did, by artefact id.
type Outcome struct {
	Recovered []string `json:"recovered,omitempty"`
	Pending   []string `json:"pending,omitempty"`
	Failed    []string `json:"failed,omitempty"`
}

// Recoverer runs pre-plan recovery passes for a movie.
type Recoverer struct {
	log        *buildstore.Log
	blobs      *buildstore.BlobStore
	prober     StatusProber
	downloader Downloader
	clock      func() time.Time
}

// New creates a recoverer on the backend. The prober and downloader are
// typically one provider adapter implementing both.
func New(backend storage.Backend, prober StatusProber, downloader Downloader) *Recoverer {
	return &Recoverer{
		log:        buildstore.NewLog(backend),
		blobs:      buildstore.NewBlobStore(backend),
		prober:     prober,
		downloader: downloader,
		clock:      time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (r *Recoverer) WithClock(clock func() time.Time) *Recoverer {
	r.clock = clock
	r.log.WithClock(clock)
	return r
}

// Run probes every recoverable failed artefact of the movie once and returns
// what happened. Requests still in flight stay failed in the log and are
// reported pending; probe or download errors leave the artefact failed too.
// Run never blocks waiting on a provider.
func (r *Recoverer) Run(ctx context.Context, movieID string) (*Outcome, error) {
	events, err := r.log.CollectArtefacts(ctx, movieID)
	if err != nil {
		return nil, fmt.Errorf("collecting artefact events: %w", err)
	}

	// Last event per id wins; only a currently-failed artefact is a candidate.
	latest := make(map[string]*buildstore.ArtefactEvent)
	for _, event := range events {
		latest[event.ArtefactID] = event
	}

	var candidates []*buildstore.ArtefactEvent
	for _, event := range latest {
		if event.Status != buildstore.StatusFailed {
			continue
		}
		if event.Diagnostics == nil || !event.Diagnostics.Recoverable || event.Diagnostics.ProviderRequestID == "" {
			continue
		}
		candidates = append(candidates, event)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ArtefactID < candidates[j].ArtefactID
	})

	outcome := &Outcome{}
	r.logEvent("recovery_started", map[string]interface{}{
		"movie_id": movieID, "candidates": len(candidates),
	})

	for _, event := range candidates {
		if ctx.Err() != nil {
			outcome.Pending = append(outcome.Pending, event.ArtefactID)
			continue
		}
		switch r.recoverOne(ctx, movieID, event) {
		case recovered:
			outcome.Recovered = append(outcome.Recovered, event.ArtefactID)
		case pending:
			outcome.Pending = append(outcome.Pending, event.ArtefactID)
		default:
			outcome.Failed = append(outcome.Failed, event.ArtefactID)
		}
	}

	r.logEvent("recovery_complete", map[string]interface{}{
		"movie_id":  movieID,
		"recovered": len(outcome.Recovered),
		"pending":   len(outcome.Pending),
		"failed":    len(outcome.Failed),
	})
	return outcome, nil
}

type recoveryResult int

const (
	recovered recoveryResult = iota
	pending
	unrecoverable
)

func (r *Recoverer) recoverOne(ctx context.Context, movieID string, event *buildstore.ArtefactEvent) recoveryResult {
	report, err := r.prober.Check(ctx, event.Diagnostics)
	if err != nil {
		r.logEvent("recovery_probe_failed", map[string]interface{}{
			"movie_id": movieID, "artefact_id": event.ArtefactID,
			"request_id": event.Diagnostics.ProviderRequestID, "error": err.Error(),
		})
		return unrecoverable
	}

	switch report.State {
	case StateInQueue, StateInProgress:
		return pending
	case StateCompleted:
		// fall through to download
	default:
		return unrecoverable
	}

	url, ok := pickURL(report.URLs, event.ArtefactID)
	if !ok {
		r.logEvent("recovery_no_output", map[string]interface{}{
			"movie_id": movieID, "artefact_id": event.ArtefactID,
			"request_id": event.Diagnostics.ProviderRequestID,
		})
		return unrecoverable
	}

	data, mimeType, err := r.downloader.Download(ctx, url)
	if err != nil {
		r.logEvent("recovery_download_failed", map[string]interface{}{
			"movie_id": movieID, "artefact_id": event.ArtefactID, "url": url, "error": err.Error(),
		})
		return unrecoverable
	}

	ref, err := r.blobs.Write(ctx, movieID, data, mimeType)
	if err != nil {
		r.logEvent("recovery_store_failed", map[string]interface{}{
			"movie_id": movieID, "artefact_id": event.ArtefactID, "error": err.Error(),
		})
		return unrecoverable
	}

	diag := *event.Diagnostics
	diag.RecoveredBy = "recovery"
	diag.RecoveredAt = r.clock().UTC().Format(time.RFC3339)

	// The revision, inputs hash, and producing job are carried over from the
	// failed event so dirty checking sees the artefact as produced by the run
	// that originally requested it.
	succeeded := &buildstore.ArtefactEvent{
		ArtefactID:  event.ArtefactID,
		Revision:    event.Revision,
		InputsHash:  event.InputsHash,
		Output:      buildstore.ArtefactOutput{Blob: ref},
		Status:      buildstore.StatusSucceeded,
		ProducedBy:  event.ProducedBy,
		Diagnostics: &diag,
	}
	if err := r.log.AppendArtefact(ctx, movieID, succeeded); err != nil {
		r.logEvent("recovery_append_failed", map[string]interface{}{
			"movie_id": movieID, "artefact_id": event.ArtefactID, "error": err.Error(),
		})
		return unrecoverable
	}

	r.logEvent("artefact_recovered", map[string]interface{}{
		"movie_id": movieID, "artefact_id": event.ArtefactID,
		"request_id": event.Diagnostics.ProviderRequestID, "blob_hash": ref.Hash,
	})
	return recovered
}

// pickURL chooses the output for an artefact from a completed request. A
// request producing one output maps directly; multi-output requests are
// disambiguated by the artefact's trailing index.
func pickURL(urls []string, artefactID string) (string, bool) {
	switch len(urls) {
	case 0:
		return "", false
	case 1:
		return urls[0], true
	}
	id, err := ids.Parse(artefactID)
	if err != nil {
		return "", false
	}
	idx := id.LastIndex()
	if idx < 0 || idx >= len(urls) {
		return "", false
	}
	return urls[idx], true
}

// logEvent logs a structured event in JSON format.
func (r *Recoverer) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = r.clock().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "recovery"
	data["event_type"] = eventType

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Recovery] Failed to marshal log event: %v", err)
		return
	}
	log.Println(string(jsonData))
}
