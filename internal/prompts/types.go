// Package prompts provides prompt management with embedded defaults and on-disk overrides.
//
// Embedded .tmpl files are the source of truth for defaults. A directory of
// <key>.tmpl files can override any of them without a rebuild.
//
// Every resolved prompt carries a CID, the content hash of its template, so a
// recorded model call can be traced back to the exact prompt version used.
package prompts

// Prompt keys.
const (
	KeyClassify   = "classify"
	KeyExtract    = "extract"
	KeyConfidence = "confidence"
	KeyCorrect    = "correct"

	// KeyExamplesPrefix prefixes the per-type few-shot example keys,
	// e.g. "extract.examples.invoice".
	KeyExamplesPrefix = "extract.examples."
)

// ResolvedPrompt is the template text chosen for a key.
type ResolvedPrompt struct {
	Key        string   `json:"key"`
	Text       string   `json:"text"`
	Variables  []string `json:"variables,omitempty"`
	IsOverride bool     `json:"is_override"` // true if loaded from the override directory
	CID        string   `json:"cid"`         // content hash of Text
}

// EmbeddedPrompt represents a prompt loaded from an embedded .tmpl file.
type EmbeddedPrompt struct {
	Key         string   // Hierarchical key: extract.examples.invoice
	Text        string   // The prompt text (Go template)
	Description string   // Human-readable description
	Variables   []string // Extracted template variables
	Hash        string   // SHA256 hash of the text for change detection
}

// Prompt is a rendered prompt ready to send to a model.
type Prompt struct {
	Key  string
	Text string
	CID  string
}
