package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("parses simple input id", func(t *testing.T) {
		id, err := Parse("Input:AudioProducer.provider")
		require.NoError(t, err)
		assert.Equal(t, KindInput, id.Kind)
		assert.Equal(t, []string{"AudioProducer", "provider"}, id.Path())
		assert.Equal(t, "provider", id.Name())
		assert.Empty(t, id.Indices())
		assert.True(t, id.IsConcrete())
	})

	t.Run("parses artifact id with indices", func(t *testing.T) {
		id, err := Parse("Artifact:ImageProducer.SegmentImage[2][0]")
		require.NoError(t, err)
		assert.Equal(t, KindArtifact, id.Kind)
		assert.Equal(t, "SegmentImage", id.Name())
		assert.Equal(t, []int{2, 0}, id.Indices())
		assert.Equal(t, 0, id.LastIndex())
	})

	t.Run("parses mid-path indices", func(t *testing.T) {
		id, err := Parse("Input:DocProducer.VideoScript.Segments[0].Script")
		require.NoError(t, err)
		assert.Equal(t, []string{"DocProducer", "VideoScript", "Segments", "Script"}, id.Path())
		assert.Equal(t, []int{0}, id.Indices())
		assert.Equal(t, "Script", id.Name())
	})

	t.Run("parses dimension form", func(t *testing.T) {
		id, err := Parse("Artifact:ImageProducer.SegmentImage[image+1]")
		require.NoError(t, err)
		require.Len(t, id.Segments[1].Dims, 1)
		dim := id.Segments[1].Dims[0]
		assert.Equal(t, "image", dim.Name)
		assert.Equal(t, 1, dim.Offset)
		assert.False(t, id.IsConcrete())
		assert.Equal(t, -1, id.LastIndex())
	})

	t.Run("rejects missing kind prefix", func(t *testing.T) {
		_, err := Parse("ImageProducer.SegmentImage")
		require.Error(t, err)
		assert.True(t, IsInvalidID(err))
	})

	t.Run("rejects unknown kind", func(t *testing.T) {
		_, err := Parse("Widget:ImageProducer")
		require.Error(t, err)
		assert.True(t, IsInvalidID(err))
	})

	t.Run("rejects empty body", func(t *testing.T) {
		_, err := Parse("Artifact:")
		require.Error(t, err)
		assert.True(t, IsInvalidID(err))
	})

	t.Run("rejects unmatched brackets", func(t *testing.T) {
		for _, bad := range []string{"Artifact:A.B[2", "Artifact:A.B]2[", "Artifact:A.B[]"} {
			_, err := Parse(bad)
			assert.Error(t, err, "expected error for %q", bad)
		}
	})

	t.Run("rejects empty segments", func(t *testing.T) {
		_, err := Parse("Artifact:A..B")
		require.Error(t, err)
	})
}

func TestRoundTrip(t *testing.T) {
	// format(parse(id)) must be the identity for every formatter output.
	cases := []string{
		"Input:VoiceId",
		"Input:AudioProducer.provider",
		"Artifact:ScriptProducer.NarrationScript[0]",
		"Artifact:ImageProducer.SegmentImage[2][0]",
		"Artifact:ImageProducer.SegmentImage[image]",
		"Artifact:ImageProducer.SegmentImage[image+1]",
		"Artifact:ImageProducer.SegmentImage[image-1]",
		"Producer:AudioProducer[1]",
		"Input:DocProducer.VideoScript.Segments[0].Script",
	}

	for _, c := range cases {
		t.Run(c, func(t *testing.T) {
			id, err := Parse(c)
			require.NoError(t, err)
			assert.Equal(t, c, id.String())
		})
	}
}

func TestSplitPath(t *testing.T) {
	t.Run("brackets are atomic", func(t *testing.T) {
		segs, err := SplitPath("A.B[2][0].c")
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B[2][0]", "c"}, segs)
	})

	t.Run("dots inside brackets do not split", func(t *testing.T) {
		segs, err := SplitPath("A[x.y].B")
		require.NoError(t, err)
		assert.Equal(t, []string{"A[x.y]", "B"}, segs)
	})

	t.Run("nested brackets", func(t *testing.T) {
		segs, err := SplitPath("A[b[0]]")
		require.NoError(t, err)
		assert.Equal(t, []string{"A[b[0]]"}, segs)
	})

	t.Run("rejects empty path", func(t *testing.T) {
		_, err := SplitPath("")
		assert.Error(t, err)
	})
}

func TestFormat(t *testing.T) {
	t.Run("alias path takes precedence", func(t *testing.T) {
		got := Format(KindArtifact, []string{"ImageProducer"}, "SegmentImage", 2, 0)
		assert.Equal(t, "Artifact:ImageProducer.SegmentImage[2][0]", got)
	})

	t.Run("bare name without alias", func(t *testing.T) {
		assert.Equal(t, "Input:VoiceId", Format(KindInput, nil, "VoiceId"))
	})

	t.Run("producer-scoped input", func(t *testing.T) {
		assert.Equal(t, "Input:AudioProducer.provider", ProducerInput("AudioProducer", "provider"))
	})

	t.Run("producer with indices", func(t *testing.T) {
		assert.Equal(t, "Producer:AudioProducer[1]", Producer("AudioProducer", 1))
	})

	t.Run("dimension form", func(t *testing.T) {
		got := FormatDims(KindArtifact, []string{"ImageProducer"}, "SegmentImage", []Dim{Symbol("image", 1)})
		assert.Equal(t, "Artifact:ImageProducer.SegmentImage[image+1]", got)
	})
}

func TestKindPredicates(t *testing.T) {
	assert.True(t, IsCanonicalInputID("Input:VoiceId"))
	assert.True(t, IsCanonicalArtifactID("Artifact:P.A[0]"))
	assert.True(t, IsCanonicalProducerID("Producer:P"))
	assert.False(t, IsCanonicalInputID("Artifact:P.A"))
	assert.False(t, IsCanonicalArtifactID("not-an-id"))

	kind, ok := KindOf("Artifact:P.A")
	require.True(t, ok)
	assert.Equal(t, KindArtifact, kind)

	_, ok = KindOf("bogus")
	assert.False(t, ok)
}
