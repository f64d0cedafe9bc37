// Package schema provides the per-document-type JSON Schemas that guide
// extraction and check conformance of extracted records.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jackzampolin/docextract/internal/types"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// ErrSchemaNotFound is returned when no schema is registered for a document type.
var ErrSchemaNotFound = errors.New("schema not found")

// Schema is the field specification for one document type.
type Schema struct {
	Type     types.DocumentType
	Raw      json.RawMessage
	Required []string

	compiled *jsonschema.Schema
}

// Registry maps document types to schemas. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	schemas map[types.DocumentType]*Schema
	logger  *slog.Logger
}

// NewRegistry creates a registry holding the embedded schemas.
func NewRegistry(logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		schemas: make(map[types.DocumentType]*Schema),
		logger:  logger,
	}

	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded schemas: %w", err)
	}
	for _, e := range entries {
		content, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", e.Name(), err)
		}
		docType := types.DocumentType(strings.TrimSuffix(e.Name(), ".json"))
		if err := r.Register(docType, content); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register compiles raw and stores it under docType, replacing any previous schema.
func (r *Registry) Register(docType types.DocumentType, raw []byte) error {
	s, err := compile(docType, raw)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[docType] = s
	r.logger.Debug("schema registered", "doc_type", docType, "required", s.Required)
	return nil
}

// LoadDir registers every *.json file in dir. The file stem is the document type.
func (r *Registry) LoadDir(dir string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return 0, fmt.Errorf("failed to list schemas in %s: %w", dir, err)
	}

	loaded := 0
	for _, path := range matches {
		content, err := os.ReadFile(path)
		if err != nil {
			return loaded, fmt.Errorf("failed to read schema %s: %w", path, err)
		}
		stem := strings.TrimSuffix(filepath.Base(path), ".json")
		stem = strings.TrimSuffix(stem, "_schema")
		docType, ok := types.ParseDocumentType(stem)
		if !ok {
			continue
		}
		if err := r.Register(docType, content); err != nil {
			return loaded, err
		}
		r.logger.Info("schema loaded", "doc_type", docType, "path", path)
		loaded++
	}
	return loaded, nil
}

// Get returns the schema for docType.
func (r *Registry) Get(docType types.DocumentType) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[docType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSchemaNotFound, docType)
	}
	return s, nil
}

// Types returns the registered document types, sorted.
func (r *Registry) Types() []types.DocumentType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.DocumentType, 0, len(r.schemas))
	for t := range r.schemas {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Violation is one schema conformance failure.
type Violation struct {
	Location string
	Message  string
}

func (v Violation) String() string {
	if v.Location == "" {
		return v.Message
	}
	return v.Location + ": " + v.Message
}

// Validate checks v against the schema for docType. It returns the
// violations found; an error means the check itself could not run.
func (r *Registry) Validate(docType types.DocumentType, v any) ([]Violation, error) {
	s, err := r.Get(docType)
	if err != nil {
		return nil, err
	}
	return s.Validate(v)
}

// Validate checks v, which must be decoded JSON, against the schema.
func (s *Schema) Validate(v any) ([]Violation, error) {
	doc, err := normalize(v)
	if err != nil {
		return nil, err
	}

	err = s.compiled.Validate(doc)
	if err == nil {
		return nil, nil
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	var out []Violation
	for _, unit := range verr.BasicOutput().Errors {
		// Skip the wrapper units that only say "doesn't validate with ..."
		if unit.Error == "" || strings.HasPrefix(unit.Error, "doesn't validate with") {
			continue
		}
		out = append(out, Violation{Location: unit.InstanceLocation, Message: unit.Error})
	}
	if len(out) == 0 {
		out = append(out, Violation{Message: verr.Message})
	}
	return out, nil
}

func compile(docType types.DocumentType, raw []byte) (*Schema, error) {
	var header struct {
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("invalid schema JSON for %s: %w", docType, err)
	}

	url := docType.String() + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("failed to load schema %s: %w", docType, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", docType, err)
	}

	return &Schema{
		Type:     docType,
		Raw:      json.RawMessage(raw),
		Required: header.Required,
		compiled: compiled,
	}, nil
}

// normalize round-trips v through JSON so named map types and Go numbers
// become the generic values the validator expects.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value for validation: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode value for validation: %w", err)
	}
	return doc, nil
}
