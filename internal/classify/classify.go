// Package classify decides which document type a piece of OCR text is.
// A keyword and pattern heuristic runs first; the model service is only
// consulted when the heuristic is unsure.
package classify

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jackzampolin/docextract/internal/modelsvc"
	"github.com/jackzampolin/docextract/internal/prompts"
	"github.com/jackzampolin/docextract/internal/types"
)

// Method records how a classification was reached.
type Method string

const (
	MethodHeuristic Method = "heuristic"
	MethodModel     Method = "model"
	MethodDefault   Method = "default"
	MethodOverride  Method = "override"
)

// Thresholds and fixed confidences of the classification chain.
const (
	// MinHeuristicConfidence is the floor below which the heuristic type is discarded.
	MinHeuristicConfidence = 0.6
	// TrustHeuristicAbove skips the model when the heuristic is more confident than this.
	TrustHeuristicAbove = 0.7

	ModelValidConfidence   = 0.75
	ModelInvalidConfidence = 0.5
	ModelFailedConfidence  = 0.3
	DefaultConfidence      = 0.3

	DefaultMaxTokens = 10
)

// Classification is the classifier's answer.
type Classification struct {
	Type       types.DocumentType         `json:"type,omitempty"`
	Confidence float64                    `json:"confidence"`
	Method     Method                     `json:"method"`
	Scores     map[types.DocumentType]int `json:"scores,omitempty"`
	// ModelAnswer is the raw model reply when the model was consulted.
	ModelAnswer string `json:"model_answer,omitempty"`
}

// Classifier scores text against signatures.
type Classifier struct {
	signatures []Signature
	prompts    *prompts.Builder
	maxTokens  int
	logger     *slog.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithSignatures replaces the default signatures. Order breaks ties.
func WithSignatures(sigs []Signature) Option {
	return func(c *Classifier) { c.signatures = sigs }
}

// WithPrompts sets the prompt builder used for the model fallback.
func WithPrompts(b *prompts.Builder) Option {
	return func(c *Classifier) { c.prompts = b }
}

// WithMaxTokens caps the model's answer length.
func WithMaxTokens(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a classifier with the default signatures.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		signatures: DefaultSignatures(),
		maxTokens:  DefaultMaxTokens,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Types returns the types the classifier can answer with, in signature order.
func (c *Classifier) Types() []types.DocumentType {
	out := make([]types.DocumentType, len(c.signatures))
	for i, s := range c.signatures {
		out[i] = s.Type
	}
	return out
}

// Heuristic scores text against every signature. The best type wins with a
// margin-based confidence; ties go to the earlier signature.
func (c *Classifier) Heuristic(text string) Classification {
	lowered := strings.ToLower(text)
	result := Classification{
		Method: MethodHeuristic,
		Scores: make(map[types.DocumentType]int, len(c.signatures)),
	}

	var best types.DocumentType
	maxScore, second := 0, 0
	for i, sig := range c.signatures {
		score := sig.Score(lowered)
		result.Scores[sig.Type] = score
		switch {
		case i == 0 || score > maxScore:
			if i > 0 {
				second = maxScore
			}
			best, maxScore = sig.Type, score
		case score > second:
			second = score
		}
	}

	if maxScore == 0 {
		return result
	}

	if second > 0 {
		result.Confidence = min(0.95, float64(maxScore)/float64(maxScore+second))
	} else {
		result.Confidence = min(0.9, float64(maxScore)/10.0)
	}

	if result.Confidence < MinHeuristicConfidence {
		return result
	}

	result.Type = best
	c.logger.Debug("heuristic classification", "doc_type", best, "confidence", result.Confidence)
	return result
}

// Classify runs the heuristic and falls back to the model when it is unsure.
// model may be nil. Blank text yields an empty type with zero confidence.
func (c *Classifier) Classify(ctx context.Context, text string, model modelsvc.Caller) Classification {
	if strings.TrimSpace(text) == "" {
		return Classification{Method: MethodHeuristic}
	}

	h := c.Heuristic(text)
	if h.Type != "" && h.Confidence > TrustHeuristicAbove {
		return h
	}

	if model != nil && h.Confidence < TrustHeuristicAbove {
		m := c.classifyWithModel(ctx, text, model)
		m.Scores = h.Scores
		if m.Confidence > h.Confidence {
			return m
		}
	}

	if h.Type != "" {
		return h
	}

	c.logger.Debug("no classification, using default", "doc_type", types.DocInvoice)
	return Classification{
		Type:       types.DocInvoice,
		Confidence: DefaultConfidence,
		Method:     MethodDefault,
		Scores:     h.Scores,
	}
}

func (c *Classifier) classifyWithModel(ctx context.Context, text string, model modelsvc.Caller) Classification {
	failed := Classification{Type: types.DocInvoice, Confidence: ModelFailedConfidence, Method: MethodModel}

	if c.prompts == nil {
		b, err := prompts.NewBuilder(nil)
		if err != nil {
			c.logger.Warn("model classification unavailable", "error", err)
			return failed
		}
		c.prompts = b
	}

	p, err := c.prompts.Classification(text, c.Types())
	if err != nil {
		c.logger.Warn("failed to build classification prompt", "error", err)
		return failed
	}

	resp, err := model.Call(ctx, modelsvc.Request{
		Key:       p.Key,
		CID:       p.CID,
		Prompt:    p.Text,
		MaxTokens: c.maxTokens,
		Stage:     "classify",
	})
	if err != nil {
		c.logger.Warn("model classification failed", "error", err)
		return failed
	}

	answer := strings.ToLower(strings.TrimSpace(resp.Text))
	for _, t := range c.Types() {
		if answer == t.String() {
			c.logger.Info("model classification", "doc_type", t, "confidence", ModelValidConfidence)
			return Classification{Type: t, Confidence: ModelValidConfidence, Method: MethodModel, ModelAnswer: resp.Text}
		}
	}

	c.logger.Warn("invalid model classification", "answer", answer)
	return Classification{Type: types.DocInvoice, Confidence: ModelInvalidConfidence, Method: MethodModel, ModelAnswer: resp.Text}
}

func containsFold(lowered, keyword string) bool {
	return strings.Contains(lowered, strings.ToLower(keyword))
}
