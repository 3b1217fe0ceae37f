// Package hashing computes the content hashes dirty checking depends on: a
// canonical JSON digest for payloads and the per-job inputsHash over the ids a
// job consumes. Both are deterministic: equal content always hashes to equal
// digests, regardless of map iteration order or input key permutation.
package hashing

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/keremk/renku-sub006/internal/buildstore"
	"github.com/keremk/renku-sub006/pkg/ids"
)

// Digest is the result of hashing a payload.
type Digest struct {
	// Hash is the sha-256 hex digest of the canonical serialisation.
	Hash string

	// Canonical is the canonical JSON serialisation itself.
	Canonical []byte
}

// HashPayload computes the canonical JSON serialisation of a value (object
// keys sorted lexicographically, numbers normalised, array order preserved)
// and returns its sha-256 digest.
func HashPayload(value any) (*Digest, error) {
	// Round-trip through encoding/json to reduce arbitrary Go values to the
	// JSON data model. UseNumber keeps numeric literals exact so 1 and 1.0
	// normalise identically.
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize payload: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(buf.Bytes())
	return &Digest{Hash: hex.EncodeToString(sum[:]), Canonical: buf.Bytes()}, nil
}

// writeCanonical renders a decoded JSON value in canonical form.
func writeCanonical(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case nil:
		buf.WriteString("null")

	case bool:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}

	case json.Number:
		buf.WriteString(normalizeNumber(v))

	case string:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to serialize string: %w", err)
		}
		buf.Write(data)

	case []any:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')

	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyData, err := json.Marshal(k)
			if err != nil {
				return fmt.Errorf("failed to serialize key: %w", err)
			}
			buf.Write(keyData)
			buf.WriteByte(':')
			if err := writeCanonical(buf, v[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')

	default:
		return fmt.Errorf("unsupported value type %T in canonical serialisation", value)
	}
	return nil
}

// normalizeNumber renders a JSON number without a trailing fraction when it is
// integer-valued, so 1, 1.0, and 1e0 all canonicalise to "1".
func normalizeNumber(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	f, err := n.Float64()
	if err != nil {
		// Fall back to the literal; sha input stays deterministic.
		return n.String()
	}
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// HashString returns the sha-256 hex digest of a string. Used as the fallback
// digest for ids with no materialized content.
func HashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashInputContents computes a job's inputsHash: the sha-256 of the canonical
// concatenation of (id, payloadDigest) pairs over the consumed ids, in
// consumption order. The digest per id comes from the manifest:
//
//   - Input ids use manifest.Inputs[id].PayloadDigest, or the hash of the id
//     string when the manifest has no entry.
//   - Artifact ids use manifest.Artefacts[id].Blob.Hash, or the hash of the
//     id string when the artefact is not materialized.
//
// Two runs in which every consumed id has identical materialized content
// produce byte-identical hashes.
func HashInputContents(consumes []string, manifest *buildstore.Manifest) string {
	var buf bytes.Buffer
	for _, id := range consumes {
		digest := HashString(id)

		if kind, ok := ids.KindOf(id); ok {
			switch kind {
			case ids.KindInput:
				if entry, ok := manifest.Inputs[id]; ok && entry.PayloadDigest != "" {
					digest = entry.PayloadDigest
				}
			case ids.KindArtifact:
				if entry, ok := manifest.Artefacts[id]; ok && entry.Blob != nil {
					digest = entry.Blob.Hash
				}
			}
		}

		buf.WriteString(id)
		buf.WriteByte('=')
		buf.WriteString(digest)
		buf.WriteByte(';')
	}

	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}
