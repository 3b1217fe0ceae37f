// Package blueprint loads and validates the declarative pipeline definition:
// producers, their inputs and artifacts, the edges wiring them together, and
// named conditions. The document is purely declarative; graph expansion turns
// it into a concrete job DAG under a given set of inputs.
package blueprint

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// Document is the top-level blueprint.
type Document struct {
	Version    string            `yaml:"version"`
	Inputs     []InputDecl       `yaml:"inputs"`
	Producers  []ProducerDecl    `yaml:"producers"`
	Edges      []EdgeDecl        `yaml:"edges"`
	Conditions map[string]string `yaml:"conditions,omitempty"`
}

// InputDecl declares a typed input, either global or producer-scoped.
type InputDecl struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`               // string, number, integer, boolean, blob
	Required bool   `yaml:"required,omitempty"`
	Order    int    `yaml:"order,omitempty"`    // optional display ordering hint
}

// ArtifactDecl declares a producer output. Array-typed artifacts carry a
// dimension symbol and a count: either a literal, or a reference to an
// integer input with an optional additive offset. Alias, when set, is the
// dotted inputs-file path under which the artifact may be overridden.
type ArtifactDecl struct {
	Name             string `yaml:"name"`
	Dimension        string `yaml:"dimension,omitempty"`
	Count            int    `yaml:"count,omitempty"`
	CountInput       string `yaml:"countInput,omitempty"`
	CountInputOffset int    `yaml:"countInputOffset,omitempty"`
	Alias            string `yaml:"alias,omitempty"`
}

// IsArray reports whether the artifact fans out over a dimension.
func (a *ArtifactDecl) IsArray() bool {
	return a.Dimension != ""
}

// Variant is one provider/model option for a producer. The wildcard "*"
// matches any value during selection.
type Variant struct {
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	Environment string `yaml:"environment,omitempty"`
}

// PanelSpec declares grid panel extraction: the producer's primary image is
// decomposed into rows x cols crops published as PanelImages[i].
type PanelSpec struct {
	Source    string `yaml:"source"`    // artifact the panels are cropped from
	GridStyle string `yaml:"gridStyle"` // "3x3", "2x2", ...
	Width     int    `yaml:"width"`     // source image width in pixels
	Height    int    `yaml:"height"`    // source image height in pixels
}

var gridStylePattern = regexp.MustCompile(`^(\d+)x(\d+)$`)

// Grid returns the panel grid as (cols, rows).
func (p *PanelSpec) Grid() (int, int, error) {
	m := gridStylePattern.FindStringSubmatch(p.GridStyle)
	if m == nil {
		return 0, 0, fmt.Errorf("invalid gridStyle %q (expected NxM)", p.GridStyle)
	}
	var cols, rows int
	fmt.Sscanf(m[1], "%d", &cols)
	fmt.Sscanf(m[2], "%d", &rows)
	if cols < 1 || rows < 1 {
		return 0, 0, fmt.Errorf("invalid gridStyle %q", p.GridStyle)
	}
	return cols, rows, nil
}

// PanelCount returns the number of extracted panels.
func (p *PanelSpec) PanelCount() (int, error) {
	cols, rows, err := p.Grid()
	if err != nil {
		return 0, err
	}
	return cols * rows, nil
}

// ProducerDecl declares one producer: its scoped inputs, artifacts, variant
// options, optional schemas, and optional panel extraction.
type ProducerDecl struct {
	Name         string         `yaml:"name"`
	Inputs       []InputDecl    `yaml:"inputs,omitempty"`
	Artifacts    []ArtifactDecl `yaml:"artifacts"`
	Variants     []Variant      `yaml:"variants"`
	InputSchema  string         `yaml:"inputSchema,omitempty"`
	OutputSchema string         `yaml:"outputSchema,omitempty"`
	Panels       *PanelSpec     `yaml:"panels,omitempty"`
}

// Artifact returns the named artifact declaration, or nil.
func (p *ProducerDecl) Artifact(name string) *ArtifactDecl {
	for i := range p.Artifacts {
		if p.Artifacts[i].Name == name {
			return &p.Artifacts[i]
		}
	}
	return nil
}

// EdgeDecl wires a producer output (or an input) to a downstream producer
// input. Endpoints use the dimension form of canonical paths, for example
// "ImageProducer[image+1].GeneratedImage" -> "ImageToVideoProducer[segment].InputImage2".
// Bind maps from-side dimension symbols to the consumer's dimension symbols
// when the names differ; symbols with equal names bind implicitly.
type EdgeDecl struct {
	From      string            `yaml:"from"`
	To        string            `yaml:"to"`
	Condition string            `yaml:"condition,omitempty"` // named condition reference
	When      string            `yaml:"when,omitempty"`      // inline condition expression
	Bind      map[string]string `yaml:"bind,omitempty"`
}

// Validate performs strict validation on the document.
func (d *Document) Validate() error {
	if d.Version != "1.0" {
		return parseErrorf(CodeInvalidBlueprint, "", "unsupported version: %s (expected: 1.0)", d.Version)
	}
	if len(d.Producers) == 0 {
		return parseErrorf(CodeInvalidBlueprint, "", "no producers defined")
	}

	seen := make(map[string]bool)
	for i := range d.Producers {
		p := &d.Producers[i]
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.Name] {
			return parseErrorf(CodeInvalidBlueprint, p.Name, "duplicate producer name")
		}
		seen[p.Name] = true
	}

	for _, e := range d.Edges {
		if e.From == "" || e.To == "" {
			return parseErrorf(CodeInvalidBlueprint, "", "edge with empty endpoint")
		}
		if e.Condition != "" && e.When != "" {
			return parseErrorf(CodeInvalidBlueprint, e.To, "edge declares both a named condition and an inline condition")
		}
		if e.Condition != "" {
			if _, ok := d.Conditions[e.Condition]; !ok {
				return parseErrorf(CodeInvalidBlueprint, e.Condition, "edge references unknown condition")
			}
		}
	}

	return nil
}

// Validate checks a single producer declaration, including that its output
// schema, when present, compiles as a JSON schema.
func (p *ProducerDecl) Validate() error {
	if p.Name == "" {
		return parseErrorf(CodeInvalidBlueprint, "", "producer with empty name")
	}
	if len(p.Variants) == 0 {
		return parseErrorf(CodeNoProducerOptions, p.Name, "producer declares no variants")
	}

	artifactNames := make(map[string]bool)
	for i := range p.Artifacts {
		a := &p.Artifacts[i]
		if a.Name == "" {
			return parseErrorf(CodeInvalidBlueprint, p.Name, "artifact with empty name")
		}
		if artifactNames[a.Name] {
			return parseErrorf(CodeInvalidBlueprint, p.Name, "duplicate artifact %s", a.Name)
		}
		artifactNames[a.Name] = true

		if a.IsArray() {
			if a.Count == 0 && a.CountInput == "" {
				return parseErrorf(CodeInvalidBlueprint, p.Name,
					"array artifact %s needs a count or countInput", a.Name)
			}
			if a.Count != 0 && a.CountInput != "" {
				return parseErrorf(CodeInvalidBlueprint, p.Name,
					"array artifact %s declares both count and countInput", a.Name)
			}
			if a.Count < 0 {
				return parseErrorf(CodeInvalidBlueprint, p.Name,
					"array artifact %s has negative count", a.Name)
			}
		}
	}

	if p.Panels != nil {
		if _, _, err := p.Panels.Grid(); err != nil {
			return parseErrorf(CodeInvalidBlueprint, p.Name, "%v", err)
		}
		if p.Panels.Source == "" || !artifactNames[p.Panels.Source] {
			return parseErrorf(CodeInvalidBlueprint, p.Name, "panels source %q is not a declared artifact", p.Panels.Source)
		}
		if p.Panels.Width <= 0 || p.Panels.Height <= 0 {
			return parseErrorf(CodeInvalidBlueprint, p.Name, "panels need positive width and height")
		}
	}

	if p.OutputSchema != "" {
		if err := compileSchema(p.Name+"/output", p.OutputSchema); err != nil {
			return parseErrorf(CodeInvalidOutputSchemaJSON, p.Name, "%v", err)
		}
	}
	if p.InputSchema != "" {
		if err := compileSchema(p.Name+"/input", p.InputSchema); err != nil {
			return parseErrorf(CodeInvalidBlueprint, p.Name, "invalid input schema: %v", err)
		}
	}

	return nil
}

// compileSchema checks that raw is a valid JSON schema.
func compileSchema(name, raw string) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return fmt.Errorf("schema is not valid JSON: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name+".json", doc); err != nil {
		return fmt.Errorf("schema could not be registered: %w", err)
	}
	if _, err := compiler.Compile(name + ".json"); err != nil {
		return fmt.Errorf("schema does not compile: %w", err)
	}
	return nil
}

// Producer returns the named producer declaration, or nil.
func (d *Document) Producer(name string) *ProducerDecl {
	for i := range d.Producers {
		if d.Producers[i].Name == name {
			return &d.Producers[i]
		}
	}
	return nil
}

// Input returns the named global input declaration, or nil.
func (d *Document) Input(name string) *InputDecl {
	for i := range d.Inputs {
		if d.Inputs[i].Name == name {
			return &d.Inputs[i]
		}
	}
	return nil
}

// Load reads and validates a blueprint YAML document from the given path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read blueprint: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a blueprint YAML document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, parseErrorf(CodeInvalidBlueprint, "", "failed to parse YAML: %v", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}
