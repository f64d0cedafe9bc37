package record

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DocumentTypeKey is the root key carrying the record's document type tag.
const DocumentTypeKey = "document_type"

// Record is an extracted document: a tree of mappings, sequences and scalars
// decoded from JSON.
type Record map[string]any

// Get resolves path against the record.
func (r Record) Get(path FieldPath) (any, bool) {
	return Lookup(map[string]any(r), path)
}

// GetString resolves a dot path and returns it when it holds a string.
func (r Record) GetString(path string) (string, bool) {
	v, ok := r.Get(ParsePath(path))
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// DocumentType returns the root document_type tag, if any.
func (r Record) DocumentType() string {
	s, _ := r[DocumentTypeKey].(string)
	return s
}

// EnsureDocumentType sets the document_type tag when it is missing.
func (r Record) EnsureDocumentType(docType string) {
	if _, ok := r[DocumentTypeKey]; !ok {
		r[DocumentTypeKey] = docType
	}
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return cloneValue(map[string]any(r)).(map[string]any)
}

func cloneValue(v any) any {
	switch n := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, val := range n {
			out[k] = cloneValue(val)
		}
		return out
	case Record:
		return Record(cloneValue(map[string]any(n)).(map[string]any))
	case []any:
		out := make([]any, len(n))
		for i, val := range n {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}

// Set writes value at path, creating nothing: every parent must already exist.
func (r Record) Set(path FieldPath, value any) error {
	if len(path) == 0 {
		return fmt.Errorf("%w: empty path", ErrNotFound)
	}
	parent, err := Resolve(map[string]any(r), path[:len(path)-1])
	if err != nil {
		return err
	}
	last := path.Last()
	switch p := parent.(type) {
	case map[string]any:
		p[last.String()] = value
		return nil
	case []any:
		if !last.IsIndex || last.Index < 0 || last.Index >= len(p) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		p[last.Index] = value
		return nil
	default:
		return fmt.Errorf("%w: %s: parent is %T", ErrNotFound, path, parent)
	}
}

// FromJSON decodes a JSON object into a Record.
func FromJSON(data []byte) (Record, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %s", kindOf(v))
	}
	return Record(m), nil
}

func kindOf(v any) string {
	switch v.(type) {
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// FormatScalar renders a leaf value the way it would appear in source text.
// Whole numbers drop the trailing ".0".
func FormatScalar(v any) string {
	switch n := v.(type) {
	case nil:
		return ""
	case string:
		return n
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case json.Number:
		return n.String()
	case bool:
		return strconv.FormatBool(n)
	case int:
		return strconv.Itoa(n)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// AsFloat converts numeric leaves to float64. Strings are not coerced.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
