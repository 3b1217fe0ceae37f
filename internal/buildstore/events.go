package buildstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/keremk/renku-sub006/internal/storage"
)

// Log is the append-only event log for movies. Appends within one process are
// serialised by an internal mutex; event files sort by a timestamp prefix so
// that append order survives process restarts. Before emitting a stamp the
// log consults the directory's newest entry, so ordering also holds across
// separate Log instances writing the same movie. The log is safe for
// concurrent use.
type Log struct {
	backend storage.Backend
	clock   func() time.Time

	mu     sync.Mutex
	lastMs int64
	seq    int
}

// NewLog creates an event log over the given backend.
func NewLog(backend storage.Backend) *Log {
	return &Log{backend: backend, clock: time.Now}
}

// WithClock overrides the clock, for tests.
func (l *Log) WithClock(clock func() time.Time) *Log {
	l.clock = clock
	return l
}

// nextStamp returns a lexicographically sortable filename prefix strictly
// greater than every stamp already present in dir. Appends in the same
// millisecond are disambiguated by a counter seeded from the directory's
// newest entry, so a fresh Log instance never emits a stamp that sorts before
// an event another instance already wrote.
func (l *Log) nextStamp(ctx context.Context, dir string) (time.Time, string, error) {
	now := l.clock().UTC()
	ms := now.UnixMilli()
	if ms > l.lastMs {
		l.lastMs = ms
		l.seq = 0
	} else {
		// same millisecond, or a stalled clock: stay on the last stamp's
		// millisecond and keep counting
		l.seq++
	}

	paths, err := l.backend.List(ctx, dir+"/")
	if err != nil {
		return time.Time{}, "", fmt.Errorf("failed to list %s: %w", dir, err)
	}
	if len(paths) > 0 {
		// List is sorted, so the final path carries the newest stamp.
		if dirMs, dirSeq, ok := parseStamp(paths[len(paths)-1]); ok {
			if dirMs > l.lastMs || (dirMs == l.lastMs && dirSeq >= l.seq) {
				l.lastMs = dirMs
				l.seq = dirSeq + 1
			}
		}
	}

	return now, fmt.Sprintf("%013d-%04d", l.lastMs, l.seq), nil
}

// parseStamp extracts the millisecond and sequence components from an event
// path like ".../1723456789012-0002-abcd1234.json".
func parseStamp(path string) (int64, int, bool) {
	base := path
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	if len(base) < 18 || base[13] != '-' {
		return 0, 0, false
	}
	ms, err := strconv.ParseInt(base[:13], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	seq, err := strconv.Atoi(base[14:18])
	if err != nil {
		return 0, 0, false
	}
	return ms, seq, true
}

// idHash returns a short filesystem-safe digest of a canonical id. The full
// id is embedded in the event body; the filename only needs uniqueness.
func idHash(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])[:8]
}

// AppendInput appends an input event to the movie's log.
func (l *Log) AppendInput(ctx context.Context, movieID string, event *InputEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid input event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	dir := storage.InputEventsDir(movieID)
	now, stamp, err := l.nextStamp(ctx, dir)
	if err != nil {
		return err
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal input event: %w", err)
	}

	path := fmt.Sprintf("%s/%s-%s.json", dir, stamp, idHash(event.ID))
	if err := l.backend.Write(ctx, path, data); err != nil {
		return fmt.Errorf("failed to append input event: %w", err)
	}
	return nil
}

// AppendArtefact appends an artefact event to the movie's log.
func (l *Log) AppendArtefact(ctx context.Context, movieID string, event *ArtefactEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid artefact event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	dir := storage.ArtefactEventsDir(movieID)
	now, stamp, err := l.nextStamp(ctx, dir)
	if err != nil {
		return err
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal artefact event: %w", err)
	}

	path := fmt.Sprintf("%s/%s-%s.json", dir, stamp, idHash(event.ArtefactID))
	if err := l.backend.Write(ctx, path, data); err != nil {
		return fmt.Errorf("failed to append artefact event: %w", err)
	}
	return nil
}

// InputStream is a forward-only cursor over input events in append order.
// Re-invoking StreamInputs restarts from the beginning.
type InputStream struct {
	log     *Log
	movieID string
	paths   []string
	pos     int
}

// Next returns the next event, or (nil, nil) when the stream is exhausted.
func (s *InputStream) Next(ctx context.Context) (*InputEvent, error) {
	if s.pos >= len(s.paths) {
		return nil, nil
	}
	path := s.paths[s.pos]
	s.pos++

	data, err := s.log.backend.Read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input event %s: %w", path, err)
	}
	var event InputEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to decode input event %s: %w", path, err)
	}
	return &event, nil
}

// StreamInputs opens a cursor over the movie's input events in append order.
func (l *Log) StreamInputs(ctx context.Context, movieID string) (*InputStream, error) {
	paths, err := l.backend.List(ctx, storage.InputEventsDir(movieID)+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to list input events: %w", err)
	}
	return &InputStream{log: l, movieID: movieID, paths: paths}, nil
}

// ArtefactStream is a forward-only cursor over artefact events in append
// order. Re-invoking StreamArtefacts restarts from the beginning.
type ArtefactStream struct {
	log     *Log
	movieID string
	paths   []string
	pos     int
}

// Next returns the next event, or (nil, nil) when the stream is exhausted.
func (s *ArtefactStream) Next(ctx context.Context) (*ArtefactEvent, error) {
	if s.pos >= len(s.paths) {
		return nil, nil
	}
	path := s.paths[s.pos]
	s.pos++

	data, err := s.log.backend.Read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artefact event %s: %w", path, err)
	}
	var event ArtefactEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to decode artefact event %s: %w", path, err)
	}
	return &event, nil
}

// StreamArtefacts opens a cursor over the movie's artefact events in append
// order.
func (l *Log) StreamArtefacts(ctx context.Context, movieID string) (*ArtefactStream, error) {
	paths, err := l.backend.List(ctx, storage.ArtefactEventsDir(movieID)+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to list artefact events: %w", err)
	}
	return &ArtefactStream{log: l, movieID: movieID, paths: paths}, nil
}

// CollectArtefacts drains a fresh artefact stream into a slice. Convenience
// for callers that need the whole log anyway (manifest building, recovery).
func (l *Log) CollectArtefacts(ctx context.Context, movieID string) ([]*ArtefactEvent, error) {
	stream, err := l.StreamArtefacts(ctx, movieID)
	if err != nil {
		return nil, err
	}
	var out []*ArtefactEvent
	for {
		event, err := stream.Next(ctx)
		if err != nil {
			return nil, err
		}
		if event == nil {
			return out, nil
		}
		out = append(out, event)
	}
}

// CollectInputs drains a fresh input stream into a slice.
func (l *Log) CollectInputs(ctx context.Context, movieID string) ([]*InputEvent, error) {
	stream, err := l.StreamInputs(ctx, movieID)
	if err != nil {
		return nil, err
	}
	var out []*InputEvent
	for {
		event, err := stream.Next(ctx)
		if err != nil {
			return nil, err
		}
		if event == nil {
			return out, nil
		}
		out = append(out, event)
	}
}
