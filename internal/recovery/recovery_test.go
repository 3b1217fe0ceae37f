package recovery

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keremk/renku-sub006/internal/blueprint"
	"github.com/keremk/renku-sub006/internal/buildstore"
	"github.com/keremk/renku-sub006/internal/executor"
	"github.com/keremk/renku-sub006/internal/plan"
	"github.com/keremk/renku-sub006/internal/producer"
	"github.com/keremk/renku-sub006/internal/storage"
)

const videoBlueprint = `
version: "1.0"
inputs:
  - name: NumOfSegments
    type: integer
    required: true
producers:
  - name: ImageProducer
    artifacts:
      - name: GeneratedImage
        dimension: segment
        countInput: NumOfSegments
    variants: [{provider: fal, model: flux-pro}]
  - name: VideoProducer
    artifacts:
      - name: GeneratedVideo
        dimension: segment
        countInput: NumOfSegments
    variants: [{provider: fal, model: kling-video}]
edges:
  - from: ImageProducer.GeneratedImage[segment]
    to: VideoProducer[segment].SourceImage
`

// fakeAdapter plays both the prober and downloader role of one provider.
type fakeAdapter struct {
	states    map[string]RequestState // request id -> state
	urls      map[string][]string     // request id -> completed outputs
	payloads  map[string][]byte       // url -> bytes
	probeErr  error
	downloads []string
}

func (f *fakeAdapter) Check(ctx context.Context, diag *buildstore.Diagnostics) (*StatusReport, error) {
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	state, ok := f.states[diag.ProviderRequestID]
	if !ok {
		state = StateUnknown
	}
	return &StatusReport{State: state, URLs: f.urls[diag.ProviderRequestID]}, nil
}

func (f *fakeAdapter) Download(ctx context.Context, url string) ([]byte, string, error) {
	data, ok := f.payloads[url]
	if !ok {
		return nil, "", fmt.Errorf("no payload at %s", url)
	}
	f.downloads = append(f.downloads, url)
	return data, "video/mp4", nil
}

type fixture struct {
	backend *storage.Memory
	planner *plan.Planner
	mock    *producer.Mock
	doc     *blueprint.Document
}

func setup(t *testing.T) *fixture {
	t.Helper()
	doc, err := blueprint.Parse([]byte(videoBlueprint))
	require.NoError(t, err)
	backend := storage.NewMemory()
	return &fixture{
		backend: backend,
		planner: plan.NewPlanner(backend),
		mock:    producer.NewMock(),
		doc:     doc,
	}
}

func (f *fixture) planAndRun(t *testing.T) *executor.Summary {
	t.Helper()
	res := f.planOnly(t)
	exec := executor.New(executor.Config{
		Backend: f.backend,
		Produce: f.mock.Produce,
		Log:     f.planner.Log(),
	})
	summary, err := exec.Execute(context.Background(), res)
	require.NoError(t, err)
	return summary
}

func (f *fixture) planOnly(t *testing.T) *plan.Result {
	t.Helper()
	in, err := blueprint.ParseInputs([]byte("NumOfSegments: 2\n"), t.TempDir(), f.doc)
	require.NoError(t, err)
	res, err := f.planner.GeneratePlan(context.Background(), &plan.Request{
		MovieID: "movie-1", Doc: f.doc, Inputs: in, ReRunFrom: -1, UpToLayer: -1,
	})
	require.NoError(t, err)
	return res
}

func latestEvent(t *testing.T, f *fixture, artefactID string) *buildstore.ArtefactEvent {
	t.Helper()
	events, err := f.planner.Log().CollectArtefacts(context.Background(), "movie-1")
	require.NoError(t, err)
	var last *buildstore.ArtefactEvent
	for _, e := range events {
		if e.ArtefactID == artefactID {
			last = e
		}
	}
	return last
}

func TestRecoverCompletedRequest(t *testing.T) {
	f := setup(t)
	f.mock.FailJob("Producer:VideoProducer[0]", &buildstore.Diagnostics{
		Kind:              "Timeout",
		Message:           "render did not finish in time",
		Recoverable:       true,
		ProviderRequestID: "req-video-0",
		Provider:          "fal",
		Model:             "kling-video",
	})
	summary := f.planAndRun(t)
	require.Equal(t, []string{"Producer:VideoProducer[0]"}, summary.Failed())

	failed := latestEvent(t, f, "Artifact:VideoProducer.GeneratedVideo[0]")
	require.NotNil(t, failed)

	videoBytes := []byte("recovered video bytes")
	adapter := &fakeAdapter{
		states:   map[string]RequestState{"req-video-0": StateCompleted},
		urls:     map[string][]string{"req-video-0": {"https://cdn.example.com/out.mp4"}},
		payloads: map[string][]byte{"https://cdn.example.com/out.mp4": videoBytes},
	}
	outcome, err := New(f.backend, adapter, adapter).Run(context.Background(), "movie-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Artifact:VideoProducer.GeneratedVideo[0]"}, outcome.Recovered)
	assert.Empty(t, outcome.Pending)
	assert.Empty(t, outcome.Failed)

	event := latestEvent(t, f, "Artifact:VideoProducer.GeneratedVideo[0]")
	require.NotNil(t, event)
	assert.Equal(t, buildstore.StatusSucceeded, event.Status)
	assert.Equal(t, failed.Revision, event.Revision, "revision carried from the failed event")
	assert.Equal(t, failed.InputsHash, event.InputsHash)
	assert.Equal(t, failed.ProducedBy, event.ProducedBy)
	assert.Equal(t, "recovery", event.Diagnostics.RecoveredBy)
	assert.NotEmpty(t, event.Diagnostics.RecoveredAt)
	assert.Equal(t, buildstore.HashBytes(videoBytes), event.Output.Blob.Hash)

	// the recovered artefact no longer schedules its job
	res := f.planOnly(t)
	assert.Zero(t, res.Plan.JobCount())
	entry, ok := res.Base.Artefacts["Artifact:VideoProducer.GeneratedVideo[0]"]
	require.True(t, ok)
	assert.Equal(t, buildstore.HashBytes(videoBytes), entry.Blob.Hash)
}

func TestInFlightRequestStaysPending(t *testing.T) {
	f := setup(t)
	f.mock.FailJob("Producer:VideoProducer[1]", &buildstore.Diagnostics{
		Kind: "Timeout", Recoverable: true, ProviderRequestID: "req-video-1",
	})
	f.planAndRun(t)

	adapter := &fakeAdapter{states: map[string]RequestState{"req-video-1": StateInProgress}}
	outcome, err := New(f.backend, adapter, adapter).Run(context.Background(), "movie-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Artifact:VideoProducer.GeneratedVideo[1]"}, outcome.Pending)
	assert.Empty(t, outcome.Recovered)

	// still failed in the log, so the next plan schedules the job
	res := f.planOnly(t)
	require.Equal(t, 1, res.Plan.JobCount())
	assert.Equal(t, "Producer:VideoProducer[1]", res.Plan.Layers[0][0].JobID)
}

func TestUnrecoverableStates(t *testing.T) {
	f := setup(t)
	f.mock.FailJob("Producer:VideoProducer[0]", &buildstore.Diagnostics{
		Kind: "Timeout", Recoverable: true, ProviderRequestID: "req-a",
	})
	f.planAndRun(t)

	t.Run("probe error", func(t *testing.T) {
		adapter := &fakeAdapter{probeErr: errors.New("provider unreachable")}
		outcome, err := New(f.backend, adapter, adapter).Run(context.Background(), "movie-1")
		require.NoError(t, err, "probe errors do not abort the pass")
		assert.Equal(t, []string{"Artifact:VideoProducer.GeneratedVideo[0]"}, outcome.Failed)
	})

	t.Run("unknown request", func(t *testing.T) {
		adapter := &fakeAdapter{}
		outcome, err := New(f.backend, adapter, adapter).Run(context.Background(), "movie-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"Artifact:VideoProducer.GeneratedVideo[0]"}, outcome.Failed)
	})

	t.Run("completed without outputs", func(t *testing.T) {
		adapter := &fakeAdapter{states: map[string]RequestState{"req-a": StateCompleted}}
		outcome, err := New(f.backend, adapter, adapter).Run(context.Background(), "movie-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"Artifact:VideoProducer.GeneratedVideo[0]"}, outcome.Failed)
	})
}

func TestNonRecoverableFailuresAreIgnored(t *testing.T) {
	f := setup(t)
	f.mock.FailJob("Producer:VideoProducer[0]", &buildstore.Diagnostics{
		Kind: "Refusal", Message: "content policy", CausedByUser: true,
	})
	f.planAndRun(t)

	adapter := &fakeAdapter{}
	outcome, err := New(f.backend, adapter, adapter).Run(context.Background(), "movie-1")
	require.NoError(t, err)
	assert.Empty(t, outcome.Recovered)
	assert.Empty(t, outcome.Pending)
	assert.Empty(t, outcome.Failed, "artefacts without a request id are not candidates")
}

func TestMultiOutputDisambiguation(t *testing.T) {
	urls := []string{
		"https://cdn.example.com/out-0.mp4",
		"https://cdn.example.com/out-1.mp4",
		"https://cdn.example.com/out-2.mp4",
	}
	assert.Equal(t, "", pick(t, nil, "Artifact:VideoProducer.GeneratedVideo[1]"))
	assert.Equal(t, urls[1], pick(t, urls, "Artifact:VideoProducer.GeneratedVideo[1]"))
	assert.Equal(t, urls[0], pick(t, urls[:1], "Artifact:VideoProducer.GeneratedVideo[7]"),
		"a single output maps directly regardless of index")
	assert.Equal(t, "", pick(t, urls, "Artifact:VideoProducer.GeneratedVideo[5]"),
		"an index past the output list cannot be matched")
	assert.Equal(t, "", pick(t, urls, "Artifact:VideoProducer.GeneratedVideo"),
		"an unindexed artefact cannot pick among several outputs")
}

func pick(t *testing.T, urls []string, artefactID string) string {
	t.Helper()
	url, ok := pickURL(urls, artefactID)
	if !ok {
		return ""
	}
	return url
}
