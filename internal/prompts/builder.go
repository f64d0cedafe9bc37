package prompts

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/jackzampolin/docextract/internal/types"
)

//go:embed templates/*.tmpl templates/examples/*.tmpl
var templateFS embed.FS

// Text limits for prompts that quote the source document.
const (
	ClassifyTextLimit   = 2000
	ConfidenceTextLimit = 1500
)

// BaseIntro opens the single-shot extraction prompt.
const BaseIntro = "Extract structured information from this"

// variations rotate the opening line of self-consistency attempts.
var variations = []string{
	"Extract the key information from this document:",
	"Parse the following document and extract structured data:",
	"Analyze this document and return the structured information:",
	"Process this document text and extract the relevant fields:",
}

// Variation returns the opening phrase for a self-consistency attempt.
func Variation(attempt int) string {
	if attempt < 0 {
		attempt = -attempt
	}
	return variations[attempt%len(variations)]
}

var descriptions = map[string]string{
	KeyClassify:   "Document type classification fallback, answered with a single word",
	KeyExtract:    "Schema-guided structured extraction with few-shot examples",
	KeyConfidence: "Per-field confidence self-assessment of an extracted record",
	KeyCorrect:    "Re-extraction that fixes a list of validation errors",
}

// RegisterDefaults registers every embedded template with the resolver.
func RegisterDefaults(r *Resolver) error {
	return fs.WalkDir(templateFS, "templates", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != ".tmpl" {
			return nil
		}
		data, err := templateFS.ReadFile(p)
		if err != nil {
			return fmt.Errorf("failed to read embedded prompt %s: %w", p, err)
		}
		key := strings.TrimSuffix(strings.TrimPrefix(p, "templates/"), ".tmpl")
		if strings.HasPrefix(key, "examples/") {
			key = KeyExamplesPrefix + strings.TrimPrefix(key, "examples/")
		}
		r.Register(EmbeddedPrompt{
			Key:         key,
			Text:        string(data),
			Description: descriptions[key],
		})
		return nil
	})
}

// Builder renders the model prompts used by the pipeline.
type Builder struct {
	resolver *Resolver
}

// NewBuilder creates a builder. A nil resolver gets the embedded defaults.
func NewBuilder(r *Resolver) (*Builder, error) {
	if r == nil {
		r = NewResolver(nil)
		if err := RegisterDefaults(r); err != nil {
			return nil, err
		}
	}
	return &Builder{resolver: r}, nil
}

func (b *Builder) render(key string, data any) (Prompt, error) {
	resolved, err := b.resolver.Resolve(key)
	if err != nil {
		return Prompt{}, err
	}
	text, err := Render(key, resolved.Text, data)
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{Key: key, Text: strings.TrimRight(text, "\n"), CID: resolved.CID}, nil
}

// Classification builds the one-word classification prompt.
func (b *Builder) Classification(text string, known []types.DocumentType) (Prompt, error) {
	names := make([]string, len(known))
	for i, t := range known {
		names[i] = t.String()
	}
	return b.render(KeyClassify, map[string]any{
		"Types": joinChoices(names),
		"Text":  Truncate(text, ClassifyTextLimit),
	})
}

// Extraction builds the extraction prompt. attempt < 0 builds the single-shot
// prompt; otherwise the opening line rotates with the attempt number.
func (b *Builder) Extraction(text string, docType types.DocumentType, schema json.RawMessage, attempt int) (Prompt, error) {
	intro := BaseIntro
	if attempt >= 0 {
		intro = Variation(attempt)
	}

	schemaText, err := indentJSON(schema)
	if err != nil {
		return Prompt{}, fmt.Errorf("invalid schema for %s: %w", docType, err)
	}

	p, err := b.render(KeyExtract, map[string]any{
		"Intro":    intro,
		"DocType":  docType.String(),
		"Schema":   schemaText,
		"Examples": b.examples(docType),
		"Text":     text,
	})
	if err != nil {
		return Prompt{}, err
	}
	if attempt >= 0 {
		p.Key = fmt.Sprintf("%s.attempt_%d", KeyExtract, attempt)
	}
	return p, nil
}

// Confidence builds the per-field confidence assessment prompt.
func (b *Builder) Confidence(text string, rec any, docType types.DocumentType) (Prompt, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return Prompt{}, fmt.Errorf("failed to encode record: %w", err)
	}
	return b.render(KeyConfidence, map[string]any{
		"DocType": docType.String(),
		"Text":    Truncate(text, ConfidenceTextLimit),
		"Record":  string(data),
	})
}

// Correction builds the prompt asking the model to fix validation errors.
func (b *Builder) Correction(rec any, errs []string) (Prompt, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return Prompt{}, fmt.Errorf("failed to encode record: %w", err)
	}
	return b.render(KeyCorrect, map[string]any{
		"Errors": errs,
		"Record": string(data),
	})
}

// examples returns the few-shot block for a type, or "" when none is registered.
func (b *Builder) examples(docType types.DocumentType) string {
	resolved, err := b.resolver.Resolve(KeyExamplesPrefix + docType.String())
	if err != nil {
		return ""
	}
	return strings.TrimRight(resolved.Text, "\n")
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := 0
	for i := range s {
		if runes == n {
			return s[:i]
		}
		runes++
	}
	return s
}

func joinChoices(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	case 2:
		return names[0] + " or " + names[1]
	}
	return strings.Join(names[:len(names)-1], ", ") + ", or " + names[len(names)-1]
}

func indentJSON(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "{}", nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return "", err
	}
	return buf.String(), nil
}
