package blueprint

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/keremk/renku-sub006/pkg/ids"
)

// Override is a user-supplied artifact payload that replaces a job's output.
type Override struct {
	ArtifactID string
	Data       []byte
	MimeType   string
	SourceFile string
}

// InputSet is a parsed, canonicalized inputs file: values keyed by canonical
// input id, plus any artifact overrides.
type InputSet struct {
	Values    map[string]any
	Overrides []Override
}

// Value returns the value for a canonical input id.
func (s *InputSet) Value(id string) (any, bool) {
	v, ok := s.Values[id]
	return v, ok
}

// Int returns the value for a canonical input id as an int.
func (s *InputSet) Int(id string) (int, bool) {
	v, ok := s.Values[id]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

// LoadInputs reads an inputs YAML file and canonicalizes it against the
// blueprint. Keys are plain names for global inputs ("VoiceId"),
// producer-scoped dotted paths ("AudioProducer.provider"), or artifact alias
// paths with indices ("DocProducer.VideoScript.Segments[0].Script") whose
// values must be file: references and become artifact overrides. File paths
// in overrides resolve relative to the inputs file.
func LoadInputs(path string, doc *Document) (*InputSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, parseErrorf(CodeInvalidInputFile, path, "failed to read inputs file: %v", err)
	}
	return ParseInputs(data, filepath.Dir(path), doc)
}

// ParseInputs canonicalizes inputs YAML. baseDir resolves relative file:
// references in override values.
func ParseInputs(data []byte, baseDir string, doc *Document) (*InputSet, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, parseErrorf(CodeInvalidInputFile, "", "failed to parse YAML: %v", err)
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return nil, parseErrorf(CodeInvalidInputFile, "", "inputs file is empty")
	}
	mapping := root.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return nil, parseErrorf(CodeInvalidInputFile, "", "inputs file must be a mapping")
	}

	set := &InputSet{Values: make(map[string]any)}
	seen := make(map[string]bool)

	for i := 0; i < len(mapping.Content); i += 2 {
		keyNode, valueNode := mapping.Content[i], mapping.Content[i+1]
		key := keyNode.Value

		if seen[key] {
			return nil, parseErrorf(CodeDuplicateInputKey, key, "key appears more than once")
		}
		seen[key] = true

		var value any
		if err := valueNode.Decode(&value); err != nil {
			return nil, parseErrorf(CodeInvalidInputFile, key, "failed to decode value: %v", err)
		}

		if err := bindKey(set, doc, baseDir, key, value); err != nil {
			return nil, err
		}
	}

	// Required globals must be present.
	for _, decl := range doc.Inputs {
		if !decl.Required {
			continue
		}
		id := ids.Format(ids.KindInput, nil, decl.Name)
		if _, ok := set.Values[id]; !ok {
			return nil, parseErrorf(CodeMissingRequiredInput, decl.Name, "required input is missing")
		}
	}

	return set, nil
}

// bindKey routes one inputs-file key to a canonical input value or an
// artifact override.
func bindKey(set *InputSet, doc *Document, baseDir, key string, value any) error {
	// Global input: bare name declared at the document level.
	if !strings.ContainsAny(key, ".[") {
		if doc.Input(key) == nil {
			return parseErrorf(CodeUnknownInput, key, "not a declared input")
		}
		set.Values[ids.Format(ids.KindInput, nil, key)] = value
		return nil
	}

	segments, err := ids.SplitPath(key)
	if err != nil {
		return parseErrorf(CodeInvalidInputFile, key, "%v", err)
	}

	// Producer-scoped input: <Producer>.<input>.
	if len(segments) == 2 && !strings.Contains(key, "[") {
		p := doc.Producer(segments[0])
		if p == nil && (segments[1] == "provider" || segments[1] == "model") {
			return parseErrorf(CodeUnknownProducerInModels, key, "model selection for unknown producer %s", segments[0])
		}
		if p != nil {
			for _, decl := range p.Inputs {
				if decl.Name == segments[1] {
					set.Values[ids.ProducerInput(p.Name, decl.Name)] = value
					return nil
				}
			}
			// provider/model hints are accepted without declaration
			if segments[1] == "provider" || segments[1] == "model" {
				set.Values[ids.ProducerInput(p.Name, segments[1])] = value
				return nil
			}
		}
	}

	// Artifact override: key matches a declared artifact alias after
	// stripping indices.
	if artifactID, ok := matchOverrideAlias(doc, key); ok {
		raw, isString := value.(string)
		if !isString || !strings.HasPrefix(raw, "file:") {
			return parseErrorf(CodeInvalidArtifactOverride, key, "override value must be a file: reference")
		}
		file := strings.TrimPrefix(raw, "file:")
		if !filepath.IsAbs(file) {
			file = filepath.Join(baseDir, file)
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return parseErrorf(CodeInvalidArtifactOverride, key, "failed to read override file: %v", err)
		}
		set.Overrides = append(set.Overrides, Override{
			ArtifactID: artifactID,
			Data:       data,
			MimeType:   mimeForFile(file),
			SourceFile: file,
		})
		return nil
	}

	return parseErrorf(CodeUnknownInput, key, "not a declared input, producer input, or artifact alias")
}

// matchOverrideAlias matches an inputs-file key against declared artifact
// aliases. Indices in the key carry over to the artifact id, so alias
// "DocProducer.VideoScript.Segments.Script" matched against key
// "DocProducer.VideoScript.Segments[0].Script" yields the artifact at [0].
func matchOverrideAlias(doc *Document, key string) (string, bool) {
	segments, err := ids.SplitPath(key)
	if err != nil {
		return "", false
	}

	var bare []string
	var indices []int
	for _, raw := range segments {
		if cut := strings.IndexByte(raw, '['); cut >= 0 {
			name := raw[:cut]
			parsed, err := ids.Parse("Artifact:" + raw)
			if err != nil {
				return "", false
			}
			bare = append(bare, name)
			indices = append(indices, parsed.Indices()...)
		} else {
			bare = append(bare, raw)
		}
	}
	flat := strings.Join(bare, ".")

	for i := range doc.Producers {
		p := &doc.Producers[i]
		for j := range p.Artifacts {
			a := &p.Artifacts[j]
			if a.Alias != "" && a.Alias == flat {
				return ids.Format(ids.KindArtifact, []string{p.Name}, a.Name, indices...), true
			}
		}
	}
	return "", false
}

// mimeForFile guesses an override's mime type from its extension.
func mimeForFile(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".json":
		return "application/json"
	case ".md":
		return "text/markdown"
	default:
		return "text/plain"
	}
}

// SelectionHint returns the provider/model selection hints for a producer
// from its scoped inputs, when present.
func (s *InputSet) SelectionHint(producerName string) (provider, model string) {
	if v, ok := s.Values[ids.ProducerInput(producerName, "provider")]; ok {
		provider, _ = v.(string)
	}
	if v, ok := s.Values[ids.ProducerInput(producerName, "model")]; ok {
		model, _ = v.(string)
	}
	return provider, model
}
