package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/keremk/renku-sub006/internal/buildstore"
)

func event(id, producedBy, revision string, status buildstore.Status, createdAt time.Time) *buildstore.ArtefactEvent {
	return &buildstore.ArtefactEvent{
		ArtefactID: id,
		Revision:   revision,
		Status:     status,
		ProducedBy: producedBy,
		CreatedAt:  createdAt,
	}
}

func TestCriteria(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	image := event("Artifact:ImageProducer.GeneratedImage[2]", "Producer:ImageProducer[2]", "rev-0002", buildstore.StatusSucceeded, now)
	video := event("Artifact:VideoProducer.GeneratedVideo[0]", "Producer:VideoProducer[0]", "rev-0003", buildstore.StatusFailed, now.Add(time.Hour))

	t.Run("empty criteria match everything", func(t *testing.T) {
		c := &Criteria{}
		assert.False(t, c.HasFilters())
		assert.True(t, c.Matches(image))
		assert.True(t, c.Matches(video))
	})

	t.Run("time range", func(t *testing.T) {
		c := &Criteria{Since: now.Add(30 * time.Minute)}
		assert.True(t, c.HasFilters())
		assert.False(t, c.Matches(image))
		assert.True(t, c.Matches(video))

		c = &Criteria{Until: now.Add(30 * time.Minute)}
		assert.True(t, c.Matches(image))
		assert.False(t, c.Matches(video))
	})

	t.Run("id glob", func(t *testing.T) {
		c := &Criteria{IDGlob: "Artifact:ImageProducer.*"}
		assert.True(t, c.Matches(image))
		assert.False(t, c.Matches(video))
	})

	t.Run("producer name ignores job indices", func(t *testing.T) {
		c := &Criteria{Producer: "ImageProducer"}
		assert.True(t, c.Matches(image))
		assert.False(t, c.Matches(video))
	})

	t.Run("revision and status", func(t *testing.T) {
		c := &Criteria{Revision: "rev-0003"}
		assert.False(t, c.Matches(image))
		assert.True(t, c.Matches(video))

		c = &Criteria{Status: "failed"}
		assert.False(t, c.Matches(image))
		assert.True(t, c.Matches(video))
	})

	t.Run("criteria are conjunctive", func(t *testing.T) {
		c := &Criteria{Producer: "VideoProducer", Status: "succeeded"}
		assert.False(t, c.Matches(video))
	})
}
