/*
Package codec encodes Documents to and from the UTF-8 textual (JSON) form
stored by the btree layer, enforces the 8 KiB size ceiling, and provides
dotted-path field lookup for the query engine (spec §4.3).
*/
package codec

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tendrl-inc-labs/microtetherdb/pkg/mtdberrors"
)

// MaxDocumentSize is the encoded-size ceiling fixed by spec §3/§9 at 8 KiB.
const MaxDocumentSize = 8 * 1024

// TagsField is the reserved field name for caller-supplied or auto-populated tags.
const TagsField = "_tags"

// Document is a JSON-serialisable map from field name to value.
type Document map[string]any

// Encode marshals doc to JSON and checks the result against MaxDocumentSize.
func Encode(doc Document) ([]byte, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal: %w: %v", mtdberrors.ErrEncoding, err)
	}
	if len(b) > MaxDocumentSize {
		return nil, fmt.Errorf("codec: encoded size %d exceeds %d: %w", len(b), MaxDocumentSize, mtdberrors.ErrTooLarge)
	}
	return b, nil
}

// Decode unmarshals a previously-encoded Document.
func Decode(b []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("codec: unmarshal: %w: %v", mtdberrors.ErrCorrupt, err)
	}
	return doc, nil
}

// WithTags returns a copy of doc with tags merged into the reserved _tags
// field, creating it if absent and de-duplicating against any tags the
// caller already placed there directly (as []any or []string). With no
// tags, doc itself is returned, not a copy.
func WithTags(doc Document, tags []string) Document {
	if len(tags) == 0 {
		return doc
	}
	out := make(Document, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}

	existing, _ := out[TagsField].([]any)
	if ss, ok := out[TagsField].([]string); ok {
		existing = make([]any, len(ss))
		for i, s := range ss {
			existing[i] = s
		}
	}
	seen := make(map[string]bool, len(existing)+len(tags))
	merged := make([]any, 0, len(existing)+len(tags))
	for _, v := range existing {
		if s, ok := v.(string); ok && !seen[s] {
			seen[s] = true
			merged = append(merged, s)
		}
	}
	for _, t := range tags {
		if !seen[t] {
			seen[t] = true
			merged = append(merged, t)
		}
	}
	out[TagsField] = merged
	return out
}

// FieldAt resolves a dotted field path (e.g. "a.b.c") against doc, walking
// nested maps produced by json.Unmarshal (map[string]any). The second
// return reports whether the full path resolved to a value.
func FieldAt(doc Document, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = map[string]any(doc)

	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// AsFloat64 attempts a numeric coercion of v, as produced by
// encoding/json's float64 decoding of JSON numbers.
func AsFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
