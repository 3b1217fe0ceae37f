package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keremk/renku-sub006/internal/buildstore"
	"github.com/keremk/renku-sub006/internal/storage"
)

const e2eBlueprint = `
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

type cliEnv struct {
	root      string
	blueprint string
	inputs    string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	env := &cliEnv{
		root:      filepath.Join(dir, "storage"),
		blueprint: filepath.Join(dir, "blueprint.yml"),
		inputs:    filepath.Join(dir, "inputs.yml"),
	}
	require.NoError(t, os.WriteFile(env.blueprint, []byte(e2eBlueprint), 0o644))
	require.NoError(t, os.WriteFile(env.inputs, []byte("VoiceId: Wise_Woman\nNumOfSegments: 2\n"), 0o644))
	return env
}

// run drives the real root command the way main does.
func (e *cliEnv) run(t *testing.T, args ...string) error {
	t.Helper()
	base := []string{args[0], "--movie-id", "e2e-movie", "--storage", "local", "--storage-root", e.root}
	rootCmd.SetArgs(append(base, args[1:]...))
	return Execute()
}

func (e *cliEnv) backend(t *testing.T) storage.Backend {
	t.Helper()
	backend, err := storage.NewLocal(e.root)
	require.NoError(t, err)
	return backend
}

func TestWorkflow(t *testing.T) {
	env := newCLIEnv(t)
	ctx := context.Background()

	require.NoError(t, env.run(t, "init", "--blueprint", env.blueprint, "--label", "E2E movie"))
	meta, err := buildstore.LoadMetadata(ctx, env.backend(t), "e2e-movie")
	require.NoError(t, err)
	assert.Equal(t, "E2E movie", meta.Label)

	require.NoError(t, env.run(t, "execute", "--blueprint", env.blueprint, "--inputs", env.inputs, "--concurrency", "2"))
	manifest, _, err := buildstore.NewManifestService(env.backend(t)).LoadCurrent(ctx, "e2e-movie")
	require.NoError(t, err)
	assert.Equal(t, "rev-0001", manifest.Revision)
	assert.Len(t, manifest.Artefacts, 4, "two scripts plus two audio files")

	// a clean query persists an empty follow-up plan
	require.NoError(t, env.run(t, "query", "--blueprint", env.blueprint, "--inputs", env.inputs))
	data, err := buildstore.LoadPlan(ctx, env.backend(t), "e2e-movie", "rev-0002")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"rev-0002"`)

	require.NoError(t, env.run(t, "list"))
	require.NoError(t, env.run(t, "list", "--events", "--output", "jsonl"))
}

func TestRegenValidation(t *testing.T) {
	env := newCLIEnv(t)

	err := env.run(t, "regen", "--blueprint", env.blueprint, "--inputs", env.inputs)
	require.Error(t, err, "regen without targets is rejected")

	regenTargets = nil
	err = env.run(t, "regen", "--blueprint", env.blueprint, "--inputs", env.inputs,
		"--target", "not-a-canonical-id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid target")
}

func TestListValidation(t *testing.T) {
	env := newCLIEnv(t)

	err := env.run(t, "list", "--output", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid output format")

	listOutputFormat = "default"
	err = env.run(t, "list", "--status", "maybe")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid status filter")
}
