// Package producer defines the boundary between the engine and provider
// adapters: variant selection, the ordered dispatch registry, the produce
// contract, and the deterministic mock used by tests and dry runs.
package producer

import (
	"context"
	"fmt"

	"github.com/keremk/renku-sub006/internal/blueprint"
	"github.com/keremk/renku-sub006/internal/buildstore"
	"github.com/keremk/renku-sub006/internal/graph"
)

// Mode selects how a produce call behaves.
type Mode string

const (
	// ModeLive dispatches to the real provider.
	ModeLive Mode = "live"

	// ModeSimulated exercises the provider adapter without paid calls.
	ModeSimulated Mode = "simulated"

	// ModeMock short-circuits to deterministic local bytes.
	ModeMock Mode = "mock"
)

// Source gives a produce call read access to the job's consumed ids.
type Source interface {
	// Value returns the canonicalized payload of an input id.
	Value(id string) (any, bool)

	// Blob returns the bytes and mime type of a materialized artifact id.
	Blob(ctx context.Context, id string) ([]byte, string, error)
}

// Request is one produce invocation.
type Request struct {
	Job    *graph.Job
	Mode   Mode
	Inputs Source
}

// ArtefactResult is one artefact returned by a produce call. Either Data
// carries inline bytes to persist content-addressed, or BlobRef references an
// already persisted blob.
type ArtefactResult struct {
	ArtefactID  string
	Status      buildstore.Status
	Data        []byte
	MimeType    string
	BlobRef     *buildstore.BlobRef
	Diagnostics *buildstore.Diagnostics
}

// Result is the outcome of one produce invocation.
type Result struct {
	JobID       string
	Status      buildstore.Status
	Artefacts   []ArtefactResult
	Diagnostics *buildstore.Diagnostics
}

// ProduceFunc dispatches one job to a provider adapter. Implementations must
// honour ctx cancellation at every suspension point and are responsible for
// their own provider-side rate limiting.
type ProduceFunc func(ctx context.Context, req *Request) (*Result, error)

// SelectVariant resolves a producer's provider and model from its declared
// variants and the provider/model hints taken from producer-scoped inputs.
// Variants match first-wins in declaration order; "*" matches any hint and
// resolves to the hint's value. A selection that still contains a wildcard
// after resolution is ambiguous.
func SelectVariant(decl *blueprint.ProducerDecl, hintProvider, hintModel string) (graph.VariantChoice, error) {
	if len(decl.Variants) == 0 {
		return graph.VariantChoice{}, &blueprint.ParseError{
			Code: blueprint.CodeNoProducerOptions, Subject: decl.Name,
			Message: "producer declares no variants",
		}
	}

	for _, v := range decl.Variants {
		if !patternMatches(v.Provider, hintProvider) || !patternMatches(v.Model, hintModel) {
			continue
		}
		choice := graph.VariantChoice{
			Provider: resolvePattern(v.Provider, hintProvider),
			Model:    resolvePattern(v.Model, hintModel),
		}
		if choice.Provider == "*" || choice.Model == "*" {
			return graph.VariantChoice{}, &blueprint.ParseError{
				Code: blueprint.CodeAmbiguousModelSelection, Subject: decl.Name,
				Message: fmt.Sprintf("variant (%s, %s) needs an explicit provider/model hint", v.Provider, v.Model),
			}
		}
		return choice, nil
	}

	return graph.VariantChoice{}, &blueprint.ParseError{
		Code: blueprint.CodeNoProducerOptions, Subject: decl.Name,
		Message: fmt.Sprintf("no variant matches provider=%q model=%q", hintProvider, hintModel),
	}
}

// SelectAll resolves every producer's variant against the input set's
// selection hints.
func SelectAll(doc *blueprint.Document, in *blueprint.InputSet) (map[string]graph.VariantChoice, error) {
	out := make(map[string]graph.VariantChoice, len(doc.Producers))
	for i := range doc.Producers {
		p := &doc.Producers[i]
		provider, model := in.SelectionHint(p.Name)
		choice, err := SelectVariant(p, provider, model)
		if err != nil {
			return nil, err
		}
		out[p.Name] = choice
	}
	return out, nil
}

func patternMatches(pattern, hint string) bool {
	return hint == "" || pattern == "*" || pattern == hint
}

func resolvePattern(pattern, hint string) string {
	if pattern == "*" && hint != "" {
		return hint
	}
	return pattern
}

// Pattern matches a (provider, model) pair during dispatch. Empty or "*"
// fields match anything.
type Pattern struct {
	Provider string
	Model    string
}

// Matches reports whether the pattern covers the given selection.
func (p Pattern) Matches(provider, model string) bool {
	return fieldMatches(p.Provider, provider) && fieldMatches(p.Model, model)
}

func fieldMatches(pattern, value string) bool {
	return pattern == "" || pattern == "*" || pattern == value
}

type rule struct {
	pattern Pattern
	produce ProduceFunc
}

// Registry is an ordered list of (pattern, handler) dispatch rules searched
// first-match. Most-specific rules must be registered first.
type Registry struct {
	rules []rule
}

// NewRegistry returns an empty dispatch registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a dispatch rule.
func (r *Registry) Register(pattern Pattern, fn ProduceFunc) {
	r.rules = append(r.rules, rule{pattern: pattern, produce: fn})
}

// Resolve returns the first rule matching the selection.
func (r *Registry) Resolve(provider, model string) (ProduceFunc, error) {
	for _, rl := range r.rules {
		if rl.pattern.Matches(provider, model) {
			return rl.produce, nil
		}
	}
	return nil, fmt.Errorf("no produce handler registered for provider=%q model=%q", provider, model)
}
