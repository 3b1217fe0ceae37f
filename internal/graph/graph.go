// Package graph expands a blueprint into a concrete job DAG under a given set
// of inputs. Every producer becomes one job per dimension coordinate, edges
// resolve to concrete canonical ids, and the result is layered for
// layer-synchronous execution.
package graph

import (
	"fmt"
)

// Job is one concrete invocation of a producer at a specific dimension
// coordinate.
type Job struct {
	JobID         string   `json:"jobId"`
	Producer      string   `json:"producer"`
	Provider      string   `json:"provider,omitempty"`
	ProviderModel string   `json:"providerModel,omitempty"`
	Indices       []int    `json:"indices,omitempty"`
	Consumes      []string `json:"consumes"`
	Produces      []string `json:"produces"`
	Context       Context  `json:"context"`
}

// Context carries expansion results the producer adapter needs at dispatch
// time. It never influences dirtiness.
type Context struct {
	// Bindings maps a consumer input slot to the concrete upstream id bound
	// to it.
	Bindings map[string]string `json:"bindings,omitempty"`

	// FanIn maps a consumer input slot to an ordered list of upstream ids
	// when multiple from-side ids matched after expansion.
	FanIn map[string][]string `json:"fanIn,omitempty"`

	// PanelSource is the artifact the panel crops are taken from.
	PanelSource string `json:"panelSource,omitempty"`

	// Panels records the crop rectangle per extracted panel artifact.
	Panels []PanelCrop `json:"panels,omitempty"`

	// Extras is opaque provider-addressable data, copied through unchanged.
	Extras map[string]any `json:"extras,omitempty"`
}

// PanelCrop is the crop rectangle for one extracted grid panel.
type PanelCrop struct {
	ArtifactID string `json:"artifactId"`
	X          int    `json:"x"`
	Y          int    `json:"y"`
	W          int    `json:"w"`
	H          int    `json:"h"`
}

// Graph is the expanded job DAG.
type Graph struct {
	Jobs []*Job

	byID       map[string]*Job
	producedBy map[string]string
}

func newGraph() *Graph {
	return &Graph{
		byID:       make(map[string]*Job),
		producedBy: make(map[string]string),
	}
}

func (g *Graph) add(j *Job) {
	g.Jobs = append(g.Jobs, j)
	g.byID[j.JobID] = j
}

// Job returns the job with the given id, or nil.
func (g *Graph) Job(id string) *Job {
	return g.byID[id]
}

// ProducerOf returns the job producing the given artifact id, or nil when the
// id is an input or unknown.
func (g *Graph) ProducerOf(artifactID string) *Job {
	if jid, ok := g.producedBy[artifactID]; ok {
		return g.byID[jid]
	}
	return nil
}

// Upstream returns the distinct jobs whose outputs j consumes, in consumption
// order.
func (g *Graph) Upstream(j *Job) []*Job {
	var out []*Job
	seen := make(map[string]bool)
	for _, id := range j.Consumes {
		up := g.ProducerOf(id)
		if up == nil || seen[up.JobID] {
			continue
		}
		seen[up.JobID] = true
		out = append(out, up)
	}
	return out
}

// Downstream returns the distinct jobs that consume any of j's outputs, in
// graph order.
func (g *Graph) Downstream(j *Job) []*Job {
	produced := make(map[string]bool, len(j.Produces))
	for _, id := range j.Produces {
		produced[id] = true
	}
	var out []*Job
	for _, other := range g.Jobs {
		if other == j {
			continue
		}
		for _, id := range other.Consumes {
			if produced[id] {
				out = append(out, other)
				break
			}
		}
	}
	return out
}

// Layers computes the longest-path layering of the DAG: a job lands in layer
// max(layer(upstream)) + 1, or layer 0 with no upstream. Within a layer jobs
// keep their deterministic expansion order. Returns an error when the graph
// contains a cycle.
func (g *Graph) Layers() ([][]*Job, error) {
	layer := make(map[string]int, len(g.Jobs))
	indegree := make(map[string]int, len(g.Jobs))
	for _, j := range g.Jobs {
		indegree[j.JobID] = len(g.Upstream(j))
	}

	queue := make([]*Job, 0, len(g.Jobs))
	for _, j := range g.Jobs {
		if indegree[j.JobID] == 0 {
			queue = append(queue, j)
			layer[j.JobID] = 0
		}
	}

	processed := 0
	for len(queue) > 0 {
		j := queue[0]
		queue = queue[1:]
		processed++

		for _, down := range g.Downstream(j) {
			if l := layer[j.JobID] + 1; l > layer[down.JobID] {
				layer[down.JobID] = l
			}
			indegree[down.JobID]--
			if indegree[down.JobID] == 0 {
				queue = append(queue, down)
			}
		}
	}

	if processed != len(g.Jobs) {
		return nil, &ExpansionError{Code: CodeCyclicGraph, Message: "job graph contains a cycle"}
	}

	depth := 0
	for _, l := range layer {
		if l > depth {
			depth = l
		}
	}
	layers := make([][]*Job, depth+1)
	for _, j := range g.Jobs {
		l := layer[j.JobID]
		layers[l] = append(layers[l], j)
	}
	return layers, nil
}

// LayerOf returns the layer index of a job id under Layers, or -1.
func (g *Graph) LayerOf(jobID string) int {
	layers, err := g.Layers()
	if err != nil {
		return -1
	}
	for i, l := range layers {
		for _, j := range l {
			if j.JobID == jobID {
				return i
			}
		}
	}
	return -1
}

// ExpansionCode classifies expansion failures.
type ExpansionCode string

const (
	CodeUnknownProducer    ExpansionCode = "UnknownProducer"
	CodeUnknownDimension   ExpansionCode = "UnknownDimension"
	CodeBadCount           ExpansionCode = "BadCount"
	CodeConflictingCount   ExpansionCode = "ConflictingCount"
	CodeAmbiguousCondition ExpansionCode = "AmbiguousCondition"
	CodeInvalidEndpoint    ExpansionCode = "InvalidEndpoint"
	CodeCyclicGraph        ExpansionCode = "CyclicGraph"
)

// ExpansionError is a structural failure during graph expansion. Re-planning
// with the same inputs hits the same error, so callers treat it as fatal.
type ExpansionError struct {
	Code    ExpansionCode
	ID      string
	Message string
}

func (e *ExpansionError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("graph expansion failed (%s) at %s: %s", e.Code, e.ID, e.Message)
	}
	return fmt.Sprintf("graph expansion failed (%s): %s", e.Code, e.Message)
}

func expansionErrorf(code ExpansionCode, id, format string, args ...any) *ExpansionError {
	return &ExpansionError{Code: code, ID: id, Message: fmt.Sprintf(format, args...)}
}
