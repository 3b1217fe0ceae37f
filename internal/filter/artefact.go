// Package filter narrows event-log listings. All criteria are ANDed together:
// an event must match every active criterion to pass.
package filter

import (
	"path/filepath"
	"time"

	"github.com/keremk/renku-sub006/internal/buildstore"
	"github.com/keremk/renku-sub006/pkg/ids"
)

// Criteria defines filtering criteria for artefact events. Zero values are
// treated as "match all" for that criterion.
type Criteria struct {
	Since    time.Time // events created at or after, zero = no filter
	Until    time.Time // events created at or before, zero = no filter
	IDGlob   string    // glob over the artefact id, empty = no filter
	Producer string    // exact match on the producing job's producer name
	Revision string    // exact match on the event's revision
	Status   string    // "succeeded" or "failed", empty = either
}

// Matches reports whether the artefact event passes all criteria.
func (c *Criteria) Matches(event *buildstore.ArtefactEvent) bool {
	if !c.Since.IsZero() && event.CreatedAt.Before(c.Since) {
		return false
	}
	if !c.Until.IsZero() && event.CreatedAt.After(c.Until) {
		return false
	}

	if c.IDGlob != "" {
		matched, err := filepath.Match(c.IDGlob, event.ArtefactID)
		if err != nil || !matched {
			return false
		}
	}

	if c.Producer != "" && producerName(event.ProducedBy) != c.Producer {
		return false
	}

	if c.Revision != "" && event.Revision != c.Revision {
		return false
	}

	if c.Status != "" && string(event.Status) != c.Status {
		return false
	}

	return true
}

// HasFilters reports whether any criterion is active.
func (c *Criteria) HasFilters() bool {
	return !c.Since.IsZero() ||
		!c.Until.IsZero() ||
		c.IDGlob != "" ||
		c.Producer != "" ||
		c.Revision != "" ||
		c.Status != ""
}

// producerName extracts the producer's alias from a job id like
// "Producer:ImageProducer[2]".
func producerName(jobID string) string {
	id, err := ids.Parse(jobID)
	if err != nil {
		return ""
	}
	path := id.Path()
	if len(path) == 0 {
		return ""
	}
	return path[0]
}
