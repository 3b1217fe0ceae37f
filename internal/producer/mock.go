package producer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/keremk/renku-sub006/internal/buildstore"
	"github.com/keremk/renku-sub006/pkg/ids"
)

// Mock is a deterministic in-process producer: every artefact's bytes are a
// pure function of its id, the selected variant, and the job's consumed input
// values, so re-running with identical inputs reproduces identical blobs.
// Failures are injected per job id.
type Mock struct {
	mu       sync.Mutex
	failures map[string]*buildstore.Diagnostics
	calls    []string
}

// NewMock returns a mock producer with no injected failures.
func NewMock() *Mock {
	return &Mock{failures: make(map[string]*buildstore.Diagnostics)}
}

// FailJob injects a failure for the given job id. A nil diagnostics gets a
// generic non-recoverable provider error.
func (m *Mock) FailJob(jobID string, diag *buildstore.Diagnostics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if diag == nil {
		diag = &buildstore.Diagnostics{Kind: "ProviderError", Message: "injected failure"}
	}
	m.failures[jobID] = diag
}

// ClearFailure removes an injected failure.
func (m *Mock) ClearFailure(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, jobID)
}

// Calls returns the job ids dispatched so far, in dispatch order.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.calls...)
}

// Produce implements ProduceFunc.
func (m *Mock) Produce(ctx context.Context, req *Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	job := req.Job
	m.mu.Lock()
	m.calls = append(m.calls, job.JobID)
	diag := m.failures[job.JobID]
	m.mu.Unlock()

	if diag != nil {
		failure := *diag
		if failure.ProviderRequestID == "" {
			failure.ProviderRequestID = uuid.NewString()
		}
		failure.Provider = job.Provider
		failure.Model = job.ProviderModel
		return &Result{
			JobID:       job.JobID,
			Status:      buildstore.StatusFailed,
			Diagnostics: &failure,
		}, nil
	}

	crops := make(map[string]string, len(job.Context.Panels))
	for _, p := range job.Context.Panels {
		crops[p.ArtifactID] = fmt.Sprintf("crop(%d,%d,%d,%d)", p.X, p.Y, p.W, p.H)
	}

	result := &Result{JobID: job.JobID, Status: buildstore.StatusSucceeded}
	for _, artID := range job.Produces {
		var b strings.Builder
		fmt.Fprintf(&b, "%s|%s|%s", artID, job.Provider, job.ProviderModel)
		for _, cid := range job.Consumes {
			if v, ok := req.Inputs.Value(cid); ok {
				fmt.Fprintf(&b, "|%s=%v", cid, v)
			}
		}
		if crop, ok := crops[artID]; ok {
			fmt.Fprintf(&b, "|%s", crop)
		}

		result.Artefacts = append(result.Artefacts, ArtefactResult{
			ArtefactID: artID,
			Status:     buildstore.StatusSucceeded,
			Data:       []byte(b.String()),
			MimeType:   mimeForArtifact(artID),
		})
	}
	return result, nil
}

// mimeForArtifact guesses a mime type from the artifact's short name.
func mimeForArtifact(artID string) string {
	name := artID
	if parsed, err := ids.Parse(artID); err == nil {
		name = parsed.Name()
	}
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "image") || strings.Contains(lower, "panel"):
		return "image/png"
	case strings.Contains(lower, "video") || strings.Contains(lower, "cut"):
		return "video/mp4"
	case strings.Contains(lower, "audio") || strings.Contains(lower, "music") || strings.Contains(lower, "speech"):
		return "audio/mpeg"
	default:
		return "text/plain"
	}
}
