package buildstore

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keremk/renku-sub006/internal/storage"
)

const testMovie = "movie-1"

func TestAppendAndStream(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	log := NewLog(backend)

	t.Run("input events stream in append order", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			err := log.AppendInput(ctx, testMovie, &InputEvent{
				ID:       fmt.Sprintf("Input:Key%d", i),
				Revision: "rev-0001",
				Payload:  i,
				Hash:     fmt.Sprintf("hash-%d", i),
			})
			require.NoError(t, err)
		}

		events, err := log.CollectInputs(ctx, testMovie)
		require.NoError(t, err)
		require.Len(t, events, 3)
		for i, ev := range events {
			assert.Equal(t, fmt.Sprintf("Input:Key%d", i), ev.ID)
		}
	})

	t.Run("same-millisecond appends keep order", func(t *testing.T) {
		backend := storage.NewMemory()
		frozen := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
		log := NewLog(backend).WithClock(func() time.Time { return frozen })

		for i := 0; i < 5; i++ {
			err := log.AppendArtefact(ctx, testMovie, &ArtefactEvent{
				ArtefactID: fmt.Sprintf("Artifact:P.A[%d]", i),
				Revision:   "rev-0001",
				InputsHash: "h",
				Status:     StatusSucceeded,
				ProducedBy: "Producer:P",
			})
			require.NoError(t, err)
		}

		events, err := log.CollectArtefacts(ctx, testMovie)
		require.NoError(t, err)
		require.Len(t, events, 5)
		for i, ev := range events {
			assert.Equal(t, fmt.Sprintf("Artifact:P.A[%d]", i), ev.ArtefactID)
		}
	})

	t.Run("separate log instances keep append order", func(t *testing.T) {
		// Two writers over the same backend within one millisecond: the
		// second instance has no in-memory counter, so its stamp must be
		// seeded from the directory or the later event would sort first.
		backend := storage.NewMemory()
		frozen := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
		first := NewLog(backend).WithClock(func() time.Time { return frozen })
		second := NewLog(backend).WithClock(func() time.Time { return frozen })

		err := first.AppendArtefact(ctx, testMovie, &ArtefactEvent{
			ArtefactID: "Artifact:P.A[0]",
			Revision:   "rev-0001",
			InputsHash: "h",
			Status:     StatusFailed,
			ProducedBy: "Producer:P",
		})
		require.NoError(t, err)

		err = second.AppendArtefact(ctx, testMovie, &ArtefactEvent{
			ArtefactID: "Artifact:P.A[0]",
			Revision:   "rev-0001",
			InputsHash: "h",
			Status:     StatusSucceeded,
			ProducedBy: "Producer:P",
		})
		require.NoError(t, err)

		events, err := first.CollectArtefacts(ctx, testMovie)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, StatusFailed, events[0].Status)
		assert.Equal(t, StatusSucceeded, events[1].Status, "last writer wins per id")
	})

	t.Run("stream survives a process restart", func(t *testing.T) {
		// A new Log over the same backend stands in for a restarted process.
		restarted := NewLog(backend)
		events, err := restarted.CollectInputs(ctx, testMovie)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, "Input:Key0", events[0].ID)
	})

	t.Run("stream is restartable", func(t *testing.T) {
		first, err := log.CollectInputs(ctx, testMovie)
		require.NoError(t, err)
		second, err := log.CollectInputs(ctx, testMovie)
		require.NoError(t, err)
		assert.Equal(t, len(first), len(second))
	})

	t.Run("rejects non-canonical ids", func(t *testing.T) {
		err := log.AppendInput(ctx, testMovie, &InputEvent{ID: "not-an-id", Revision: "rev-0001", Hash: "h"})
		assert.Error(t, err)

		err = log.AppendArtefact(ctx, testMovie, &ArtefactEvent{ArtefactID: "Input:Wrong", Revision: "rev-0001", Status: StatusSucceeded})
		assert.Error(t, err)
	})
}

func TestBlobStore(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	blobs := NewBlobStore(backend)

	t.Run("write then read round-trips", func(t *testing.T) {
		ref, err := blobs.Write(ctx, testMovie, []byte("hello"), "text/plain")
		require.NoError(t, err)
		assert.Equal(t, int64(5), ref.Size)
		assert.Equal(t, "text/plain", ref.MimeType)

		data, err := blobs.Read(ctx, testMovie, ref)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(data))
	})

	t.Run("identical bytes yield identical paths", func(t *testing.T) {
		ref1, err := blobs.Write(ctx, testMovie, []byte("same bytes"), "text/plain")
		require.NoError(t, err)

		before, err := backend.List(ctx, storage.BlobsDir(testMovie))
		require.NoError(t, err)

		ref2, err := blobs.Write(ctx, testMovie, []byte("same bytes"), "text/plain")
		require.NoError(t, err)
		assert.Equal(t, ref1.Hash, ref2.Hash)

		after, err := backend.List(ctx, storage.BlobsDir(testMovie))
		require.NoError(t, err)
		assert.Equal(t, before, after, "rewriting an existing blob must leave the store bit-identical")
	})

	t.Run("paths are sharded by hash prefix", func(t *testing.T) {
		ref, err := blobs.Write(ctx, testMovie, []byte("sharded"), "video/mp4")
		require.NoError(t, err)

		path := storage.BlobPath(testMovie, ref.Hash, "mp4")
		exists, err := backend.FileExists(ctx, path)
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("unknown mime falls back to bin", func(t *testing.T) {
		assert.Equal(t, "bin", ExtensionForMime("application/x-strange"))
		assert.Equal(t, "png", ExtensionForMime("image/png"))
	})
}

func TestManifestService(t *testing.T) {
	ctx := context.Background()

	t.Run("load without pointer fails with not found", func(t *testing.T) {
		svc := NewManifestService(storage.NewMemory())
		_, _, err := svc.LoadCurrent(ctx, testMovie)
		require.Error(t, err)
		assert.True(t, IsManifestNotFound(err))
	})

	t.Run("save then load round-trips with digest", func(t *testing.T) {
		backend := storage.NewMemory()
		svc := NewManifestService(backend)

		m := NewManifest("rev-0001", "", time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
		m.Inputs["Input:VoiceId"] = ManifestInput{Hash: "h1", PayloadDigest: "d1"}
		require.NoError(t, svc.SaveManifest(ctx, testMovie, m, ""))

		loaded, digest, err := svc.LoadCurrent(ctx, testMovie)
		require.NoError(t, err)
		assert.Equal(t, "rev-0001", loaded.Revision)
		assert.NotEmpty(t, digest)
		assert.Equal(t, "h1", loaded.Inputs["Input:VoiceId"].Hash)
	})

	t.Run("stale previous hash conflicts", func(t *testing.T) {
		backend := storage.NewMemory()
		svc := NewManifestService(backend)

		m1 := NewManifest("rev-0001", "", time.Now().UTC())
		require.NoError(t, svc.SaveManifest(ctx, testMovie, m1, ""))
		_, digest, err := svc.LoadCurrent(ctx, testMovie)
		require.NoError(t, err)

		m2 := NewManifest("rev-0002", "rev-0001", time.Now().UTC())
		require.NoError(t, svc.SaveManifest(ctx, testMovie, m2, digest))

		// A second save with the now-stale digest must fail.
		m3 := NewManifest("rev-0003", "rev-0001", time.Now().UTC())
		err = svc.SaveManifest(ctx, testMovie, m3, digest)
		require.Error(t, err)
		assert.True(t, IsManifestConflict(err))
	})

	t.Run("crash between manifest write and pointer keeps previous manifest", func(t *testing.T) {
		backend := storage.NewMemory()
		svc := NewManifestService(backend)

		m1 := NewManifest("rev-0001", "", time.Now().UTC())
		require.NoError(t, svc.SaveManifest(ctx, testMovie, m1, ""))

		// Simulate the crash: the rev-0002 manifest document lands but the
		// pointer is never rewritten.
		m2 := NewManifest("rev-0002", "rev-0001", time.Now().UTC())
		data, err := json.Marshal(m2)
		require.NoError(t, err)
		require.NoError(t, backend.Write(ctx, storage.ManifestPath(testMovie, "rev-0002"), data))

		loaded, _, err := svc.LoadCurrent(ctx, testMovie)
		require.NoError(t, err)
		assert.Equal(t, "rev-0001", loaded.Revision)
	})

	t.Run("rejects manifest with failed artefacts", func(t *testing.T) {
		svc := NewManifestService(storage.NewMemory())
		m := NewManifest("rev-0001", "", time.Now().UTC())
		m.Artefacts["Artifact:P.A"] = ManifestArtefact{Status: StatusFailed, ProducedBy: "Producer:P"}
		err := svc.SaveManifest(ctx, testMovie, m, "")
		require.Error(t, err)
	})
}

func TestRevisions(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()

	t.Run("format and parse round-trip", func(t *testing.T) {
		assert.Equal(t, "rev-0007", FormatRevision(7))
		n, err := ParseRevision("rev-0007")
		require.NoError(t, err)
		assert.Equal(t, 7, n)

		_, err = ParseRevision("0007")
		assert.Error(t, err)
	})

	t.Run("next revision skips occupied plan slots", func(t *testing.T) {
		rev, err := NextRevision(ctx, backend, testMovie, InitialRevision)
		require.NoError(t, err)
		assert.Equal(t, "rev-0001", rev)

		require.NoError(t, SavePlan(ctx, backend, testMovie, "rev-0001", []byte("{}")))
		require.NoError(t, SavePlan(ctx, backend, testMovie, "rev-0002", []byte("{}")))

		rev, err = NextRevision(ctx, backend, testMovie, InitialRevision)
		require.NoError(t, err)
		assert.Equal(t, "rev-0003", rev)
	})

	t.Run("metadata round-trips", func(t *testing.T) {
		meta := &Metadata{MovieID: testMovie, Label: "demo", BlueprintPath: "bp.yaml", CreatedAt: "2026-08-24T12:00:00Z"}
		require.NoError(t, SaveMetadata(ctx, backend, meta))

		loaded, err := LoadMetadata(ctx, backend, testMovie)
		require.NoError(t, err)
		assert.Equal(t, meta, loaded)
	})
}
