// Package ids provides the canonical identifier model shared by every part of
// the Renku engine. Inputs, artifacts, and producers are all addressed by a
// canonical id of the form Kind:Path, where Path is a dot-separated sequence of
// identifier segments with zero or more bracketed index suffixes, for example
// Artifact:ImageProducer.SegmentImage[2][0] or Input:AudioProducer.provider.
//
// During graph expansion an intermediate dimension form is used in which index
// suffixes are named symbols ([segment], [image+1]); after expansion every
// dimension is a concrete integer. Formatting a parsed id always reproduces the
// original string byte for byte.
package ids

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the class of entity a canonical id refers to.
type Kind string

const (
	// KindInput identifies user-supplied or derived input values.
	KindInput Kind = "Input"

	// KindArtifact identifies produced (or overridden) artifacts.
	KindArtifact Kind = "Artifact"

	// KindProducer identifies producer instances, concrete or abstract.
	KindProducer Kind = "Producer"
)

// Validate checks that the Kind is one of the three known values.
func (k Kind) Validate() error {
	switch k {
	case KindInput, KindArtifact, KindProducer:
		return nil
	default:
		return fmt.Errorf("unknown id kind: %q", k)
	}
}

// InvalidIDError reports a canonical id that could not be parsed or formatted.
type InvalidIDError struct {
	ID     string
	Reason string
}

func (e *InvalidIDError) Error() string {
	return fmt.Sprintf("invalid canonical id %q: %s", e.ID, e.Reason)
}

// IsInvalidID returns true if the error is an InvalidIDError.
func IsInvalidID(err error) bool {
	var invalid *InvalidIDError
	return errors.As(err, &invalid)
}

// Dim is a single bracketed suffix on a path segment. A concrete index has an
// empty Name; a symbolic dimension carries the symbol name and an optional
// additive offset ([image+1] parses to Name="image", Offset=1).
type Dim struct {
	Name   string
	Offset int
	Index  int
}

// IsLiteral reports whether the dimension is a concrete integer index.
func (d Dim) IsLiteral() bool {
	return d.Name == ""
}

// String renders the dimension in bracket form.
func (d Dim) String() string {
	if d.IsLiteral() {
		return fmt.Sprintf("[%d]", d.Index)
	}
	if d.Offset > 0 {
		return fmt.Sprintf("[%s+%d]", d.Name, d.Offset)
	}
	if d.Offset < 0 {
		return fmt.Sprintf("[%s%d]", d.Name, d.Offset)
	}
	return fmt.Sprintf("[%s]", d.Name)
}

// Literal returns a concrete dimension for index i.
func Literal(i int) Dim {
	return Dim{Index: i}
}

// Symbol returns a named dimension with an additive offset.
func Symbol(name string, offset int) Dim {
	return Dim{Name: name, Offset: offset}
}

// Segment is one dot-separated element of a canonical path together with its
// bracketed suffixes.
type Segment struct {
	Name string
	Dims []Dim
}

// String renders the segment including its bracket suffixes.
func (s Segment) String() string {
	var b strings.Builder
	b.WriteString(s.Name)
	for _, d := range s.Dims {
		b.WriteString(d.String())
	}
	return b.String()
}

// ID is a parsed canonical identifier.
type ID struct {
	Kind     Kind
	Segments []Segment
}

// Path returns the bare segment names without bracket suffixes.
func (id *ID) Path() []string {
	path := make([]string, len(id.Segments))
	for i, s := range id.Segments {
		path[i] = s.Name
	}
	return path
}

// Name returns the final segment name, the short name of the entity.
func (id *ID) Name() string {
	return id.Segments[len(id.Segments)-1].Name
}

// Indices returns every concrete index in path order. Symbolic dimensions are
// skipped; use IsConcrete to check whether any remain.
func (id *ID) Indices() []int {
	var out []int
	for _, s := range id.Segments {
		for _, d := range s.Dims {
			if d.IsLiteral() {
				out = append(out, d.Index)
			}
		}
	}
	return out
}

// LastIndex returns the final concrete index of the id, or -1 when the id
// carries no indices. Used to disambiguate provider URL lists during recovery.
func (id *ID) LastIndex() int {
	idx := -1
	for _, s := range id.Segments {
		for _, d := range s.Dims {
			if d.IsLiteral() {
				idx = d.Index
			}
		}
	}
	return idx
}

// IsConcrete reports whether every dimension of the id is a literal index.
func (id *ID) IsConcrete() bool {
	for _, s := range id.Segments {
		for _, d := range s.Dims {
			if !d.IsLiteral() {
				return false
			}
		}
	}
	return true
}

// String renders the canonical form. Parse(id.String()) is the identity.
func (id *ID) String() string {
	var b strings.Builder
	b.WriteString(string(id.Kind))
	b.WriteByte(':')
	for i, s := range id.Segments {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s.String())
	}
	return b.String()
}

// KindOf returns the kind prefix of a canonical id string, or false when the
// string has no recognised prefix.
func KindOf(s string) (Kind, bool) {
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return "", false
	}
	k := Kind(s[:i])
	if k.Validate() != nil {
		return "", false
	}
	return k, true
}

// IsCanonicalInputID reports whether s parses as an Input id.
func IsCanonicalInputID(s string) bool { return isKind(s, KindInput) }

// IsCanonicalArtifactID reports whether s parses as an Artifact id.
func IsCanonicalArtifactID(s string) bool { return isKind(s, KindArtifact) }

// IsCanonicalProducerID reports whether s parses as a Producer id.
func IsCanonicalProducerID(s string) bool { return isKind(s, KindProducer) }

func isKind(s string, want Kind) bool {
	id, err := Parse(s)
	return err == nil && id.Kind == want
}

// Parse parses a canonical id string into its kind, segments, and dimensions.
// Returns an InvalidIDError for an empty body, a missing or unknown kind
// prefix, or unmatched brackets.
func Parse(s string) (*ID, error) {
	colon := strings.IndexByte(s, ':')
	if colon < 0 {
		return nil, &InvalidIDError{ID: s, Reason: "missing kind prefix"}
	}

	kind := Kind(s[:colon])
	if err := kind.Validate(); err != nil {
		return nil, &InvalidIDError{ID: s, Reason: err.Error()}
	}

	body := s[colon+1:]
	if body == "" {
		return nil, &InvalidIDError{ID: s, Reason: "empty body"}
	}

	rawSegments, err := SplitPath(body)
	if err != nil {
		return nil, &InvalidIDError{ID: s, Reason: err.Error()}
	}

	segments := make([]Segment, 0, len(rawSegments))
	for _, raw := range rawSegments {
		seg, err := parseSegment(raw)
		if err != nil {
			return nil, &InvalidIDError{ID: s, Reason: err.Error()}
		}
		segments = append(segments, seg)
	}

	return &ID{Kind: kind, Segments: segments}, nil
}

// SplitPath splits a canonical path body on dots, treating bracketed suffixes
// (including nested brackets) as atomic parts of their segment. For example
// "A.B[2][0].c" splits into ["A", "B[2][0]", "c"].
func SplitPath(body string) ([]string, error) {
	if body == "" {
		return nil, fmt.Errorf("empty path")
	}

	var segments []string
	depth := 0
	start := 0

	for i := 0; i < len(body); i++ {
		switch body[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unmatched ']' at offset %d", i)
			}
		case '.':
			if depth == 0 {
				segments = append(segments, body[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unmatched '['")
	}
	segments = append(segments, body[start:])

	for _, seg := range segments {
		if seg == "" {
			return nil, fmt.Errorf("empty path segment")
		}
	}
	return segments, nil
}

// parseSegment splits "Name[d0][d1]..." into the name and its dimensions.
func parseSegment(raw string) (Segment, error) {
	bracket := strings.IndexByte(raw, '[')
	if bracket < 0 {
		if err := validateName(raw); err != nil {
			return Segment{}, err
		}
		return Segment{Name: raw}, nil
	}

	name := raw[:bracket]
	if err := validateName(name); err != nil {
		return Segment{}, err
	}

	var dims []Dim
	rest := raw[bracket:]
	for len(rest) > 0 {
		if rest[0] != '[' {
			return Segment{}, fmt.Errorf("unexpected %q after bracket suffix in segment %q", rest[0], raw)
		}
		end, err := matchBracket(rest)
		if err != nil {
			return Segment{}, err
		}
		dim, err := parseDim(rest[1:end])
		if err != nil {
			return Segment{}, fmt.Errorf("segment %q: %w", raw, err)
		}
		dims = append(dims, dim)
		rest = rest[end+1:]
	}

	return Segment{Name: name, Dims: dims}, nil
}

// matchBracket returns the index of the ']' matching the '[' at position 0.
func matchBracket(s string) (int, error) {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("unmatched '['")
}

// parseDim parses the body of a single bracket suffix: a literal index, a
// dimension symbol, or a symbol with an additive offset.
func parseDim(body string) (Dim, error) {
	if body == "" {
		return Dim{}, fmt.Errorf("empty dimension")
	}

	if idx, err := strconv.Atoi(body); err == nil {
		if idx < 0 {
			return Dim{}, fmt.Errorf("negative index %d", idx)
		}
		return Literal(idx), nil
	}

	// Symbol form: name, optionally followed by +N or -N.
	split := strings.IndexAny(body, "+-")
	if split <= 0 {
		if err := validateName(body); err != nil {
			return Dim{}, fmt.Errorf("dimension %q: %w", body, err)
		}
		return Symbol(body, 0), nil
	}

	name := body[:split]
	if err := validateName(name); err != nil {
		return Dim{}, fmt.Errorf("dimension %q: %w", body, err)
	}
	offset, err := strconv.Atoi(body[split:])
	if err != nil {
		return Dim{}, fmt.Errorf("dimension %q: bad offset", body)
	}
	return Symbol(name, offset), nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty identifier")
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		case c >= '0' && c <= '9':
			if i == 0 {
				return fmt.Errorf("identifier %q starts with a digit", name)
			}
		default:
			return fmt.Errorf("identifier %q contains %q", name, c)
		}
	}
	return nil
}

// Format builds a concrete canonical id from an alias path, a short name, and
// optional indices appended to the name segment. When an alias path is
// supplied it takes precedence over the producer's internal name; callers pass
// nil to format a bare name.
func Format(kind Kind, aliasPath []string, name string, indices ...int) string {
	var b strings.Builder
	b.WriteString(string(kind))
	b.WriteByte(':')
	for _, seg := range aliasPath {
		b.WriteString(seg)
		b.WriteByte('.')
	}
	b.WriteString(name)
	for _, i := range indices {
		fmt.Fprintf(&b, "[%d]", i)
	}
	return b.String()
}

// FormatDims builds a dimension-form id in which the name segment carries
// symbolic or literal dimensions. Used only during graph expansion.
func FormatDims(kind Kind, aliasPath []string, name string, dims []Dim) string {
	var b strings.Builder
	b.WriteString(string(kind))
	b.WriteByte(':')
	for _, seg := range aliasPath {
		b.WriteString(seg)
		b.WriteByte('.')
	}
	b.WriteString(name)
	for _, d := range dims {
		b.WriteString(d.String())
	}
	return b.String()
}

// ProducerInput formats the producer-scoped input id Input:<alias>.<key>.
func ProducerInput(producerAlias, key string) string {
	return Format(KindInput, []string{producerAlias}, key)
}

// Producer formats a producer id with the given instance indices.
func Producer(alias string, indices ...int) string {
	return Format(KindProducer, nil, alias, indices...)
}
