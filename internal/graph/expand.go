package graph

import (
	"strings"

	"github.com/keremk/renku-sub006/internal/blueprint"
	"github.com/keremk/renku-sub006/pkg/ids"
)

// VariantChoice is the provider/model selected for one producer.
type VariantChoice struct {
	Provider string
	Model    string
}

// Options configures expansion.
type Options struct {
	// Variants maps producer name to its selected provider/model. Producers
	// without an entry expand with empty provider fields.
	Variants map[string]VariantChoice

	// Lookup resolves a canonical id referenced by an edge condition to its
	// already-materialized value. When nil, conditions see only the input
	// set. The planner supplies a lookup that also covers scalar artifact
	// values from the base manifest, so Artifact: operands resolve against
	// prior revisions.
	Lookup func(id string) (any, bool)
}

// Expand turns a validated blueprint plus canonicalized inputs into a concrete
// job DAG. Expansion is deterministic: producers expand in declaration order,
// coordinates in index order, and edges resolve in declaration order, so two
// expansions of identical inputs yield identical graphs.
func Expand(doc *blueprint.Document, in *blueprint.InputSet, opts Options) (*Graph, error) {
	if opts.Lookup == nil {
		opts.Lookup = in.Value
	}
	e := &expander{
		doc:      doc,
		in:       in,
		opts:     opts,
		symSize:  make(map[string]int),
		symOwner: make(map[string]string),
		fanout:   make(map[string][]string),
		byProd:   make(map[string][]*Job),
		consumed: make(map[string]map[string]bool),
		graph:    newGraph(),
	}

	if err := e.resolveDimensions(); err != nil {
		return nil, err
	}
	edges, err := e.parseEdges()
	if err != nil {
		return nil, err
	}
	if err := e.computeFanout(edges); err != nil {
		return nil, err
	}
	if err := e.instantiate(); err != nil {
		return nil, err
	}
	for _, edge := range edges {
		if err := e.resolveEdge(edge); err != nil {
			return nil, err
		}
	}
	if _, err := e.graph.Layers(); err != nil {
		return nil, err
	}
	return e.graph, nil
}

type expander struct {
	doc  *blueprint.Document
	in   *blueprint.InputSet
	opts Options

	symSize  map[string]int
	symOwner map[string]string
	fanout   map[string][]string
	byProd   map[string][]*Job
	consumed map[string]map[string]bool
	graph    *Graph
}

// resolveDimensions computes the concrete size of every dimension symbol from
// artifact counts, evaluating each countInput exactly once.
func (e *expander) resolveDimensions() error {
	for i := range e.doc.Producers {
		p := &e.doc.Producers[i]
		for j := range p.Artifacts {
			a := &p.Artifacts[j]
			if !a.IsArray() {
				continue
			}

			size := a.Count
			if a.CountInput != "" {
				n, ok := e.in.Int(ids.Format(ids.KindInput, nil, a.CountInput))
				if !ok {
					return expansionErrorf(CodeBadCount, ids.Producer(p.Name),
						"count input %s is not a non-negative integer", a.CountInput)
				}
				size = n + a.CountInputOffset
			}
			if size < 0 {
				return expansionErrorf(CodeBadCount, ids.Producer(p.Name),
					"dimension %s resolves to negative size %d", a.Dimension, size)
			}

			if prev, ok := e.symSize[a.Dimension]; ok {
				if prev != size {
					return expansionErrorf(CodeConflictingCount, ids.Producer(p.Name),
						"dimension %s has size %d here but %d in %s",
						a.Dimension, size, prev, e.symOwner[a.Dimension])
				}
				continue
			}
			e.symSize[a.Dimension] = size
			e.symOwner[a.Dimension] = p.Name
		}
	}
	return nil
}

// edge is a normalized blueprint edge: parsed endpoints plus the condition
// expression it is guarded by.
type edge struct {
	decl *blueprint.EdgeDecl

	fromInput string  // set when the from side is an input id
	fromID    *ids.ID // set when the from side is an artifact reference

	toProducer string
	toDims     []ids.Dim
	toSlot     string

	condExpr string
}

func (e *expander) parseEdges() ([]*edge, error) {
	out := make([]*edge, 0, len(e.doc.Edges))
	for i := range e.doc.Edges {
		decl := &e.doc.Edges[i]
		parsed := &edge{decl: decl}

		if strings.HasPrefix(decl.From, "Input:") {
			if _, err := ids.Parse(decl.From); err != nil {
				return nil, expansionErrorf(CodeInvalidEndpoint, decl.From, "%v", err)
			}
			parsed.fromInput = decl.From
		} else {
			id, err := ids.Parse("Artifact:" + decl.From)
			if err != nil {
				return nil, expansionErrorf(CodeInvalidEndpoint, decl.From, "%v", err)
			}
			if len(id.Segments) < 2 {
				return nil, expansionErrorf(CodeInvalidEndpoint, decl.From,
					"from endpoint needs a producer and an artifact")
			}
			if e.doc.Producer(id.Segments[0].Name) == nil {
				return nil, expansionErrorf(CodeUnknownProducer, decl.From,
					"unknown producer %s", id.Segments[0].Name)
			}
			parsed.fromID = id
		}

		toID, err := ids.Parse("Producer:" + decl.To)
		if err != nil {
			return nil, expansionErrorf(CodeInvalidEndpoint, decl.To, "%v", err)
		}
		if len(toID.Segments) != 2 {
			return nil, expansionErrorf(CodeInvalidEndpoint, decl.To,
				"to endpoint must be <producer>[dims].<input>")
		}
		if e.doc.Producer(toID.Segments[0].Name) == nil {
			return nil, expansionErrorf(CodeUnknownProducer, decl.To,
				"unknown producer %s", toID.Segments[0].Name)
		}
		if len(toID.Segments[1].Dims) != 0 {
			return nil, expansionErrorf(CodeInvalidEndpoint, decl.To,
				"consumer input slot cannot carry dimensions")
		}
		parsed.toProducer = toID.Segments[0].Name
		parsed.toDims = toID.Segments[0].Dims
		parsed.toSlot = toID.Segments[1].Name

		if decl.Condition != "" {
			expr, ok := e.doc.Conditions[decl.Condition]
			if !ok {
				return nil, expansionErrorf(CodeAmbiguousCondition, decl.Condition,
					"edge references unknown condition")
			}
			parsed.condExpr = expr
		} else if decl.When != "" {
			parsed.condExpr = decl.When
		}

		out = append(out, parsed)
	}
	return out, nil
}

// computeFanout derives per-producer fan-out symbols from dimension selectors
// attached to producer-position segments across all edges.
func (e *expander) computeFanout(edges []*edge) error {
	addSym := func(producer, sym, at string) error {
		if _, ok := e.symSize[sym]; !ok {
			return expansionErrorf(CodeUnknownDimension, at, "unknown dimension symbol %s", sym)
		}
		for _, existing := range e.fanout[producer] {
			if existing == sym {
				return nil
			}
		}
		e.fanout[producer] = append(e.fanout[producer], sym)
		return nil
	}

	for _, ed := range edges {
		for _, d := range ed.toDims {
			if d.IsLiteral() {
				return expansionErrorf(CodeInvalidEndpoint, ed.decl.To,
					"consumer producer selector must be a dimension symbol")
			}
			if err := addSym(ed.toProducer, d.Name, ed.decl.To); err != nil {
				return err
			}
		}
		if ed.fromID != nil {
			for _, d := range ed.fromID.Segments[0].Dims {
				if d.IsLiteral() {
					continue
				}
				if err := addSym(ed.fromID.Segments[0].Name, d.Name, ed.decl.From); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// instantiate creates one job per producer per fan-out coordinate, together
// with its produced artifact ids and panel crops.
func (e *expander) instantiate() error {
	for i := range e.doc.Producers {
		p := &e.doc.Producers[i]
		syms := e.fanout[p.Name]

		for _, coord := range coordinates(syms, e.symSize) {
			job := &Job{
				JobID:    ids.Producer(p.Name, coord...),
				Producer: p.Name,
				Indices:  coord,
				Consumes: []string{},
				Produces: []string{},
				Context: Context{
					Bindings: make(map[string]string),
					FanIn:    make(map[string][]string),
				},
			}
			if choice, ok := e.opts.Variants[p.Name]; ok {
				job.Provider = choice.Provider
				job.ProviderModel = choice.Model
			}

			for j := range p.Artifacts {
				a := &p.Artifacts[j]
				for _, artID := range e.artifactIDs(p, a, syms, coord) {
					if err := e.produce(job, artID); err != nil {
						return err
					}
				}
			}

			if p.Panels != nil {
				if err := e.addPanels(p, job, coord); err != nil {
					return err
				}
			}

			e.graph.add(job)
			e.byProd[p.Name] = append(e.byProd[p.Name], job)
			e.consumed[job.JobID] = make(map[string]bool)
		}
	}
	return nil
}

// artifactIDs returns the concrete artifact ids one job emits for one
// declaration: the job coordinate when the artifact's dimension is a fan-out
// symbol, the full index range when it is not, and the bare coordinate-suffixed
// id for scalars.
func (e *expander) artifactIDs(p *blueprint.ProducerDecl, a *blueprint.ArtifactDecl, syms []string, coord []int) []string {
	if !a.IsArray() {
		return []string{ids.Format(ids.KindArtifact, []string{p.Name}, a.Name, coord...)}
	}

	for pos, sym := range syms {
		if sym == a.Dimension {
			return []string{ids.Format(ids.KindArtifact, []string{p.Name}, a.Name, coord[pos])}
		}
	}

	size := e.symSize[a.Dimension]
	out := make([]string, 0, size)
	for k := 0; k < size; k++ {
		indices := append(append([]int{}, coord...), k)
		out = append(out, ids.Format(ids.KindArtifact, []string{p.Name}, a.Name, indices...))
	}
	return out
}

func (e *expander) addPanels(p *blueprint.ProducerDecl, job *Job, coord []int) error {
	cols, rows, err := p.Panels.Grid()
	if err != nil {
		return expansionErrorf(CodeInvalidEndpoint, job.JobID, "%v", err)
	}
	cellW := p.Panels.Width / cols
	cellH := p.Panels.Height / rows

	job.Context.PanelSource = ids.Format(ids.KindArtifact, []string{p.Name}, p.Panels.Source, coord...)
	for k := 0; k < cols*rows; k++ {
		indices := append(append([]int{}, coord...), k)
		pid := ids.Format(ids.KindArtifact, []string{p.Name}, "PanelImages", indices...)
		if err := e.produce(job, pid); err != nil {
			return err
		}
		job.Context.Panels = append(job.Context.Panels, PanelCrop{
			ArtifactID: pid,
			X:          (k % cols) * cellW,
			Y:          (k / cols) * cellH,
			W:          cellW,
			H:          cellH,
		})
	}
	return nil
}

func (e *expander) produce(job *Job, artID string) error {
	if owner, ok := e.graph.producedBy[artID]; ok {
		if owner == job.JobID {
			return nil
		}
		return expansionErrorf(CodeConflictingCount, artID,
			"artifact produced by both %s and %s", owner, job.JobID)
	}
	job.Produces = append(job.Produces, artID)
	e.graph.producedBy[artID] = job.JobID
	return nil
}

// resolveEdge instantiates one blueprint edge for every consumer job: it
// evaluates the condition (dependency fields stay in Consumes either way),
// resolves the from side to concrete ids applying bindings and offsets, omits
// out-of-range sliding references, and records bindings or fan-in lists.
func (e *expander) resolveEdge(ed *edge) error {
	for _, job := range e.byProd[ed.toProducer] {
		env := make(map[string]int)
		for pos, sym := range e.fanout[ed.toProducer] {
			env[sym] = job.Indices[pos]
		}

		if ed.condExpr != "" {
			pass, deps, err := evalCondition(ed.condExpr, e.opts.Lookup)
			if err != nil {
				return expansionErrorf(CodeAmbiguousCondition, ed.decl.To, "%v", err)
			}
			// Condition dependencies stay in Consumes even when the edge is
			// omitted, so flipping the condition later dirties the consumer.
			for _, dep := range deps {
				e.consume(job, dep)
			}
			if !pass {
				continue
			}
		}

		if ed.fromInput != "" {
			e.consume(job, ed.fromInput)
			job.Context.Bindings[ed.toSlot] = ed.fromInput
			continue
		}

		if err := e.resolveArtifactEdge(ed, job, env); err != nil {
			return err
		}
	}
	return nil
}

func (e *expander) resolveArtifactEdge(ed *edge, job *Job, env map[string]int) error {
	// Collect unbound symbols in order of appearance; they enumerate their
	// full range and produce a fan-in binding.
	var unbound []string
	seenUnbound := make(map[string]bool)
	for _, seg := range ed.fromID.Segments {
		for _, d := range seg.Dims {
			if d.IsLiteral() {
				continue
			}
			if _, ok := e.bindValue(d.Name, env, ed.decl.Bind); !ok && !seenUnbound[d.Name] {
				seenUnbound[d.Name] = true
				unbound = append(unbound, d.Name)
			}
		}
	}

	if len(unbound) == 0 {
		id, ok, err := e.concreteFromID(ed, env)
		if err != nil {
			return err
		}
		if !ok {
			return nil // sliding reference out of range; edge omitted
		}
		e.consume(job, id)
		job.Context.Bindings[ed.toSlot] = id
		return nil
	}

	for _, sym := range unbound {
		if _, ok := e.symSize[sym]; !ok {
			return expansionErrorf(CodeUnknownDimension, ed.decl.From,
				"unknown dimension symbol %s", sym)
		}
	}

	var members []string
	for _, combo := range coordinates(unbound, e.symSize) {
		scoped := make(map[string]int, len(env)+len(combo))
		for k, v := range env {
			scoped[k] = v
		}
		for i, sym := range unbound {
			// Fan-in symbols bind directly, bypassing the edge's Bind map.
			scoped[bindTarget(sym, ed.decl.Bind)] = combo[i]
		}
		id, ok, err := e.concreteFromID(ed, scoped)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		members = append(members, id)
		e.consume(job, id)
	}
	if len(members) > 0 {
		job.Context.FanIn[ed.toSlot] = members
	}
	return nil
}

// concreteFromID resolves the from endpoint under the given symbol values.
// Producer-position selectors pick the producing job and migrate onto the
// final segment's index list; selectors elsewhere substitute in place. The
// second return is false when an offset lands outside the dimension's range.
func (e *expander) concreteFromID(ed *edge, env map[string]int) (string, bool, error) {
	fromProducer := ed.fromID.Segments[0].Name

	jobSel := make([]int, 0, len(ed.fromID.Segments[0].Dims))
	for _, d := range ed.fromID.Segments[0].Dims {
		idx, in, ok := e.resolveDim(d, env, ed.decl.Bind)
		if !ok {
			return "", false, expansionErrorf(CodeUnknownDimension, ed.decl.From,
				"unbound dimension symbol %s", d.Name)
		}
		if !in {
			return "", false, nil
		}
		jobSel = append(jobSel, idx)
	}

	segments := make([]ids.Segment, 0, len(ed.fromID.Segments))
	segments = append(segments, ids.Segment{Name: fromProducer})
	for _, seg := range ed.fromID.Segments[1:] {
		resolved := ids.Segment{Name: seg.Name}
		for _, d := range seg.Dims {
			idx, in, ok := e.resolveDim(d, env, ed.decl.Bind)
			if !ok {
				return "", false, expansionErrorf(CodeUnknownDimension, ed.decl.From,
					"unbound dimension symbol %s", d.Name)
			}
			if !in {
				return "", false, nil
			}
			resolved.Dims = append(resolved.Dims, ids.Literal(idx))
		}
		segments = append(segments, resolved)
	}
	for _, idx := range jobSel {
		segments[len(segments)-1].Dims = append(segments[len(segments)-1].Dims, ids.Literal(idx))
	}

	id := (&ids.ID{Kind: ids.KindArtifact, Segments: segments}).String()

	if e.graph.producedBy[id] == "" {
		// Field paths into a structured output resolve to virtual artifacts;
		// register them on the producing job the first time they are seen.
		producing := e.graph.Job(ids.Producer(fromProducer, jobSel...))
		if producing == nil {
			return "", false, expansionErrorf(CodeUnknownProducer, ed.decl.From,
				"no job %s produces %s", ids.Producer(fromProducer, jobSel...), id)
		}
		if err := e.produce(producing, id); err != nil {
			return "", false, err
		}
	}
	return id, true, nil
}

// resolveDim resolves one selector: (index, inRange, bound).
func (e *expander) resolveDim(d ids.Dim, env map[string]int, bind map[string]string) (int, bool, bool) {
	if d.IsLiteral() {
		return d.Index, true, true
	}
	v, ok := e.bindValue(d.Name, env, bind)
	if !ok {
		return 0, false, false
	}
	idx := v + d.Offset
	if size, known := e.symSize[d.Name]; known {
		if idx < 0 || idx >= size {
			return 0, false, true
		}
	}
	return idx, true, true
}

func (e *expander) bindValue(sym string, env map[string]int, bind map[string]string) (int, bool) {
	v, ok := env[bindTarget(sym, bind)]
	return v, ok
}

// bindTarget maps a from-side symbol to the consumer symbol it binds to.
func bindTarget(sym string, bind map[string]string) string {
	if mapped, ok := bind[sym]; ok {
		return mapped
	}
	return sym
}

func (e *expander) consume(job *Job, id string) {
	if e.consumed[job.JobID][id] {
		return
	}
	e.consumed[job.JobID][id] = true
	job.Consumes = append(job.Consumes, id)
}

// coordinates enumerates every coordinate over the given symbols in index
// order, last symbol fastest. No symbols yields the single empty coordinate.
func coordinates(syms []string, sizes map[string]int) [][]int {
	if len(syms) == 0 {
		return [][]int{nil}
	}
	var out [][]int
	var walk func(prefix []int, rest []string)
	walk = func(prefix []int, rest []string) {
		if len(rest) == 0 {
			out = append(out, append([]int{}, prefix...))
			return
		}
		for i := 0; i < sizes[rest[0]]; i++ {
			walk(append(prefix, i), rest[1:])
		}
	}
	walk(nil, syms)
	return out
}
