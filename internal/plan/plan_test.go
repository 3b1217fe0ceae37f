package plan

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keremk/renku-sub006/internal/blueprint"
	"github.com/keremk/renku-sub006/internal/buildstore"
	"github.com/keremk/renku-sub006/internal/hashing"
	"github.com/keremk/renku-sub006/internal/storage"
)

const pipelineBlueprint = `
version: "1.0"
inputs:
  - name: VoiceId
    type: string
    required: true
  - name: NumOfSegments
    type: integer
    required: true
producers:
  - name: ScriptProducer
    artifacts:
      - name: NarrationScript
        dimension: segment
        countInput: NumOfSegments
        alias: ScriptProducer.NarrationScript
    variants: [{provider: openai, model: gpt-4o}]
  - name: AudioProducer
    artifacts:
      - name: AudioFile
        dimension: segment
        countInput: NumOfSegments
    variants: [{provider: minimax, model: speech-02}]
edges:
  - from: ScriptProducer.NarrationScript[segment]
    to: AudioProducer[segment].Script
  - from: Input:VoiceId
    to: AudioProducer[segment].VoiceId
`

func parsePipeline(t *testing.T, inputsYAML string, dir string) (*blueprint.Document, *blueprint.InputSet) {
	t.Helper()
	doc, err := blueprint.Parse([]byte(pipelineBlueprint))
	require.NoError(t, err)
	in, err := blueprint.ParseInputs([]byte(inputsYAML), dir, doc)
	require.NoError(t, err)
	return doc, in
}

func newRequest(movieID string, doc *blueprint.Document, in *blueprint.InputSet) *Request {
	return &Request{MovieID: movieID, Doc: doc, Inputs: in, ReRunFrom: -1, UpToLayer: -1}
}

// simulateSuccess materializes every scheduled job's outputs into a new
// manifest and promotes it, the way a fully successful execution would.
// skipJobs outputs are left out, simulating failures.
func simulateSuccess(t *testing.T, ctx context.Context, backend storage.Backend, res *Result, skipJobs ...string) {
	t.Helper()
	skip := make(map[string]bool, len(skipJobs))
	for _, id := range skipJobs {
		skip[id] = true
	}

	next := res.Base.Clone()
	next.Revision = res.Plan.Revision
	next.BaseRevision = res.Plan.BaseRevision
	next.CreatedAt = time.Now().UTC()

	for _, layer := range res.Plan.Layers {
		for _, job := range layer {
			if skip[job.JobID] {
				continue
			}
			inputsHash := hashing.HashInputContents(job.Consumes, next)
			for _, id := range job.Produces {
				next.Artefacts[id] = buildstore.ManifestArtefact{
					Blob: &buildstore.BlobRef{
						Hash:     hashing.HashString(id + "|" + inputsHash),
						Size:     1,
						MimeType: "text/plain",
					},
					Status:     buildstore.StatusSucceeded,
					ProducedBy: job.JobID,
					InputsHash: inputsHash,
				}
			}
		}
	}

	svc := buildstore.NewManifestService(backend)
	require.NoError(t, svc.SaveManifest(ctx, res.Plan.MovieID, next, res.BaseDigest))
}

func producersIn(p *Plan) map[string]int {
	out := make(map[string]int)
	for _, layer := range p.Layers {
		for _, j := range layer {
			out[j.Producer]++
		}
	}
	return out
}

func TestFirstPlanSchedulesEverything(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	doc, in := parsePipeline(t, "VoiceId: Wise_Woman\nNumOfSegments: 3\n", t.TempDir())

	res, err := NewPlanner(backend).GeneratePlan(ctx, newRequest("movie-1", doc, in))
	require.NoError(t, err)

	assert.Equal(t, "rev-0001", res.Plan.Revision)
	assert.Equal(t, buildstore.InitialRevision, res.Plan.BaseRevision)
	assert.Equal(t, 4, res.Plan.JobCount())
	require.Len(t, res.Plan.Layers, 2)
	assert.Equal(t, "Producer:ScriptProducer", res.Plan.Layers[0][0].JobID)
	assert.Len(t, res.Plan.Layers[1], 3)

	reason := res.Plan.Explanation["Producer:ScriptProducer"]
	assert.Equal(t, ReasonMissingOutput, reason.Kind)

	// plan persisted at its revision slot
	data, err := buildstore.LoadPlan(ctx, backend, "movie-1", "rev-0001")
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestEditReplansOnlyConsumers(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	planner := NewPlanner(backend)

	doc, in := parsePipeline(t, "VoiceId: Wise_Woman\nNumOfSegments: 3\n", t.TempDir())
	first, err := planner.GeneratePlan(ctx, newRequest("movie-1", doc, in))
	require.NoError(t, err)
	simulateSuccess(t, ctx, backend, first)

	doc2, in2 := parsePipeline(t, "VoiceId: Old_Man\nNumOfSegments: 3\n", t.TempDir())
	second, err := planner.GeneratePlan(ctx, newRequest("movie-1", doc2, in2))
	require.NoError(t, err)

	assert.Equal(t, "rev-0002", second.Plan.Revision)
	byProducer := producersIn(second.Plan)
	assert.Equal(t, 3, byProducer["AudioProducer"])
	assert.Zero(t, byProducer["ScriptProducer"])

	for i := 0; i < 3; i++ {
		reason := second.Plan.Explanation[second.Plan.Layers[0][i].JobID]
		assert.Equal(t, ReasonForcedByEdit, reason.Kind)
		assert.Equal(t, "Input:VoiceId", reason.Detail)
	}
}

func TestSingleJobRecoveryPlan(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	planner := NewPlanner(backend)

	doc, in := parsePipeline(t, "VoiceId: Wise_Woman\nNumOfSegments: 3\n", t.TempDir())
	first, err := planner.GeneratePlan(ctx, newRequest("movie-1", doc, in))
	require.NoError(t, err)
	simulateSuccess(t, ctx, backend, first, "Producer:AudioProducer[1]")

	doc2, in2 := parsePipeline(t, "VoiceId: Wise_Woman\nNumOfSegments: 3\n", t.TempDir())
	second, err := planner.GeneratePlan(ctx, newRequest("movie-1", doc2, in2))
	require.NoError(t, err)

	require.Equal(t, 1, second.Plan.JobCount())
	job := second.Plan.Layers[0][0]
	assert.Equal(t, "Producer:AudioProducer[1]", job.JobID)
	assert.Equal(t, ReasonMissingOutput, second.Plan.Explanation[job.JobID].Kind)
}

func TestCleanReplanIsIdempotent(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	planner := NewPlanner(backend)

	doc, in := parsePipeline(t, "VoiceId: Wise_Woman\nNumOfSegments: 3\n", t.TempDir())
	first, err := planner.GeneratePlan(ctx, newRequest("movie-1", doc, in))
	require.NoError(t, err)
	simulateSuccess(t, ctx, backend, first)

	eventsBefore, err := planner.Log().CollectInputs(ctx, "movie-1")
	require.NoError(t, err)

	doc2, in2 := parsePipeline(t, "VoiceId: Wise_Woman\nNumOfSegments: 3\n", t.TempDir())
	second, err := planner.GeneratePlan(ctx, newRequest("movie-1", doc2, in2))
	require.NoError(t, err)

	assert.Zero(t, second.Plan.JobCount())
	assert.Equal(t, "rev-0002", second.Plan.Revision, "revision advances even with nothing to do")

	eventsAfter, err := planner.Log().CollectInputs(ctx, "movie-1")
	require.NoError(t, err)
	assert.Len(t, eventsAfter, len(eventsBefore), "unchanged inputs are deduped")
}

func TestArtifactOverridePlan(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	planner := NewPlanner(backend)

	doc, in := parsePipeline(t, "VoiceId: Wise_Woman\nNumOfSegments: 3\n", t.TempDir())
	first, err := planner.GeneratePlan(ctx, newRequest("movie-1", doc, in))
	require.NoError(t, err)
	simulateSuccess(t, ctx, backend, first)

	dir := t.TempDir()
	overrideBytes := []byte("hand-edited narration for the first segment")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "override.txt"), overrideBytes, 0o644))

	doc2, in2 := parsePipeline(t, `
VoiceId: Wise_Woman
NumOfSegments: 3
ScriptProducer.NarrationScript[0]: file:override.txt
`, dir)
	second, err := planner.GeneratePlan(ctx, newRequest("movie-1", doc2, in2))
	require.NoError(t, err)

	require.Equal(t, 1, second.Plan.JobCount(), "only the downstream consumer re-runs")
	job := second.Plan.Layers[0][0]
	assert.Equal(t, "Producer:AudioProducer[0]", job.JobID)
	assert.Equal(t, ReasonForcedByEdit, second.Plan.Explanation[job.JobID].Kind)

	entry := second.Base.Artefacts["Artifact:ScriptProducer.NarrationScript[0]"]
	require.NotNil(t, entry.Blob)
	assert.Equal(t, buildstore.HashBytes(overrideBytes), entry.Blob.Hash)

	// the override landed in the event log as a succeeded event
	events, err := planner.Log().CollectArtefacts(ctx, "movie-1")
	require.NoError(t, err)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, "Artifact:ScriptProducer.NarrationScript[0]", last.ArtefactID)
	assert.Equal(t, buildstore.StatusSucceeded, last.Status)
	assert.Equal(t, buildstore.HashBytes(overrideBytes), last.Output.Blob.Hash)
}

func TestSurgicalRegen(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	planner := NewPlanner(backend)

	doc, in := parsePipeline(t, "VoiceId: Wise_Woman\nNumOfSegments: 3\n", t.TempDir())
	first, err := planner.GeneratePlan(ctx, newRequest("movie-1", doc, in))
	require.NoError(t, err)
	simulateSuccess(t, ctx, backend, first)

	t.Run("target forces its job and all downstream", func(t *testing.T) {
		doc2, in2 := parsePipeline(t, "VoiceId: Wise_Woman\nNumOfSegments: 3\n", t.TempDir())
		req := newRequest("movie-1", doc2, in2)
		req.Targets = []string{"Artifact:ScriptProducer.NarrationScript[1]"}
		res, err := planner.GeneratePlan(ctx, req)
		require.NoError(t, err)

		byProducer := producersIn(res.Plan)
		assert.Equal(t, 1, byProducer["ScriptProducer"])
		assert.Equal(t, 3, byProducer["AudioProducer"], "dirtiness propagates downstream")

		assert.Equal(t, ReasonForcedByTarget, res.Plan.Explanation["Producer:ScriptProducer"].Kind)
		assert.Equal(t, ReasonForcedByUpstream, res.Plan.Explanation["Producer:AudioProducer[0]"].Kind)
	})

	t.Run("unknown target", func(t *testing.T) {
		doc2, in2 := parsePipeline(t, "VoiceId: Wise_Woman\nNumOfSegments: 3\n", t.TempDir())
		req := newRequest("movie-1", doc2, in2)
		req.Targets = []string{"Artifact:ScriptProducer.NarrationScript[9]"}
		_, err := planner.GeneratePlan(ctx, req)
		var te *TargetError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, CodeArtifactNotInManifest, te.Code)
	})
}

func TestLayerBounds(t *testing.T) {
	ctx := context.Background()

	t.Run("upToLayer trims after propagation", func(t *testing.T) {
		backend := storage.NewMemory()
		doc, in := parsePipeline(t, "VoiceId: Wise_Woman\nNumOfSegments: 3\n", t.TempDir())
		req := newRequest("movie-1", doc, in)
		req.UpToLayer = 0
		res, err := NewPlanner(backend).GeneratePlan(ctx, req)
		require.NoError(t, err)

		byProducer := producersIn(res.Plan)
		assert.Equal(t, 1, byProducer["ScriptProducer"])
		assert.Zero(t, byProducer["AudioProducer"])

		// the trimmed jobs are still classified dirty in the explanation
		assert.True(t, res.Plan.Explanation["Producer:AudioProducer[0]"].IsDirty())
	})

	t.Run("reRunFrom forces later layers", func(t *testing.T) {
		backend := storage.NewMemory()
		planner := NewPlanner(backend)
		doc, in := parsePipeline(t, "VoiceId: Wise_Woman\nNumOfSegments: 3\n", t.TempDir())
		first, err := planner.GeneratePlan(ctx, newRequest("movie-1", doc, in))
		require.NoError(t, err)
		simulateSuccess(t, ctx, backend, first)

		doc2, in2 := parsePipeline(t, "VoiceId: Wise_Woman\nNumOfSegments: 3\n", t.TempDir())
		req := newRequest("movie-1", doc2, in2)
		req.ReRunFrom = 1
		res, err := planner.GeneratePlan(ctx, req)
		require.NoError(t, err)

		byProducer := producersIn(res.Plan)
		assert.Zero(t, byProducer["ScriptProducer"])
		assert.Equal(t, 3, byProducer["AudioProducer"])
	})
}

func TestDirtinessMonotonicity(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	planner := NewPlanner(backend)

	doc, in := parsePipeline(t, "VoiceId: Wise_Woman\nNumOfSegments: 3\n", t.TempDir())
	first, err := planner.GeneratePlan(ctx, newRequest("movie-1", doc, in))
	require.NoError(t, err)
	simulateSuccess(t, ctx, backend, first)

	// Force the root job; every downstream job must also be dirty.
	doc2, in2 := parsePipeline(t, "VoiceId: Wise_Woman\nNumOfSegments: 3\n", t.TempDir())
	req := newRequest("movie-1", doc2, in2)
	req.Targets = []string{"Artifact:ScriptProducer.NarrationScript[0]"}
	res, err := planner.GeneratePlan(ctx, req)
	require.NoError(t, err)

	for _, job := range res.Graph.Jobs {
		for _, up := range res.Graph.Upstream(job) {
			if res.Plan.Explanation[up.JobID].IsDirty() {
				assert.True(t, res.Plan.Explanation[job.JobID].IsDirty(),
					"%s has dirty upstream %s but is clean", job.JobID, up.JobID)
			}
		}
	}
}

func TestDerivedSegmentDuration(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()

	doc, err := blueprint.Parse([]byte(`
version: "1.0"
inputs:
  - name: Duration
    type: number
    required: true
  - name: NumOfSegments
    type: integer
    required: true
producers:
  - name: ScriptProducer
    artifacts:
      - name: NarrationScript
        dimension: segment
        countInput: NumOfSegments
    variants: [{provider: openai, model: gpt-4o}]
`))
	require.NoError(t, err)
	in, err := blueprint.ParseInputs([]byte("Duration: 30\nNumOfSegments: 3\n"), t.TempDir(), doc)
	require.NoError(t, err)

	planner := NewPlanner(backend)
	_, err = planner.GeneratePlan(ctx, newRequest("movie-1", doc, in))
	require.NoError(t, err)

	events, err := planner.Log().CollectInputs(ctx, "movie-1")
	require.NoError(t, err)

	var found bool
	for _, e := range events {
		if e.ID == "Input:SegmentDuration" {
			found = true
			assert.InDelta(t, 10.0, e.Payload, 0.0001)
		}
	}
	assert.True(t, found, "derived Input:SegmentDuration is appended")
}
