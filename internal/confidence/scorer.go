// Package confidence fuses model-reported field confidences with local,
// field-type-aware heuristics and summarises them per document.
package confidence

import (
	"sort"
	"strings"

	"github.com/jackzampolin/docextract/internal/record"
)

// DefaultThreshold is the score below which a field counts as low confidence.
const DefaultThreshold = 0.7

// Model and heuristic weights when both are available.
const (
	ModelWeight     = 0.7
	HeuristicWeight = 0.3
)

// FieldConfidence maps a FieldPath string to a score in [0,1].
type FieldConfidence map[string]float64

// Paths returns the scored paths, sorted.
func (fc FieldConfidence) Paths() []string {
	out := make([]string, 0, len(fc))
	for p := range fc {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// FieldScore is one (path, score) pair.
type FieldScore struct {
	Path  string  `json:"path"`
	Score float64 `json:"score"`
}

// Scorer computes field and document confidence.
type Scorer struct {
	threshold float64
}

// New creates a scorer. A threshold outside (0,1] falls back to DefaultThreshold.
func New(threshold float64) *Scorer {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Scorer{threshold: threshold}
}

// Threshold returns the low-confidence threshold.
func (s *Scorer) Threshold() float64 {
	return s.threshold
}

// FieldConfidence scores one field. modelConfidence may be nil.
func (s *Scorer) FieldConfidence(path string, value any, text string, modelConfidence *float64) float64 {
	if value == nil {
		return 0
	}
	h := Heuristic(path, value, text)
	if modelConfidence == nil {
		return clamp(h)
	}
	return clamp(ModelWeight*(*modelConfidence) + HeuristicWeight*h)
}

// Heuristic is the mean of every sub-check the field path triggers. The
// text-presence and format checks always apply.
func Heuristic(path string, value any, text string) float64 {
	if value == nil {
		return 0
	}
	if s, ok := value.(string); ok && s == "" {
		return 0
	}

	lower := strings.ToLower(path)
	var scores []float64

	if strings.Contains(lower, "date") {
		scores = append(scores, dateScore(value))
	}
	if strings.Contains(lower, "amount") || strings.Contains(lower, "total") || strings.Contains(lower, "cost") {
		scores = append(scores, amountScore(value))
	}
	if strings.Contains(lower, "number") {
		scores = append(scores, identifierScore(value, text))
	}
	if strings.Contains(lower, "name") {
		scores = append(scores, nameScore(value, text))
	}
	if strings.Contains(lower, "email") {
		scores = append(scores, emailScore(value))
	}
	if strings.Contains(lower, "phone") {
		scores = append(scores, phoneScore(value))
	}

	scores = append(scores, presenceScore(record.FormatScalar(value), text))
	scores = append(scores, formatScore(lower, value))

	return mean(scores)
}

// ScoreRecord scores a record. When model scores are present, every path the
// model reported is scored (an unresolvable path scores 0). Without them every
// leaf of the record is scored on heuristics alone.
func (s *Scorer) ScoreRecord(rec record.Record, text string, model FieldConfidence) FieldConfidence {
	out := make(FieldConfidence)
	if len(model) == 0 {
		for _, p := range record.Leaves(rec) {
			v, _ := rec.Get(p)
			out[p.String()] = s.FieldConfidence(p.String(), v, text, nil)
		}
		return out
	}
	for _, path := range model.Paths() {
		mc := model[path]
		v, ok := rec.Get(record.ParsePath(path))
		if !ok {
			v = nil
		}
		out[path] = s.FieldConfidence(path, v, text, &mc)
	}
	return out
}

// OverallConfidence averages field scores. With required fields, required
// paths weigh 0.7 and the rest 0.3.
func OverallConfidence(scores FieldConfidence, required []string) float64 {
	if len(scores) == 0 {
		return 0
	}

	all := make([]float64, 0, len(scores))
	for _, v := range scores {
		all = append(all, v)
	}
	if len(required) == 0 {
		return clamp(mean(all))
	}

	isRequired := make(map[string]bool, len(required))
	for _, r := range required {
		isRequired[r] = true
	}
	var req, opt []float64
	for path, v := range scores {
		if isRequired[path] {
			req = append(req, v)
		} else {
			opt = append(opt, v)
		}
	}

	switch {
	case len(req) == 0:
		return clamp(mean(all))
	case len(opt) == 0:
		return clamp(mean(req))
	default:
		return clamp(0.7*mean(req) + 0.3*mean(opt))
	}
}

// IdentifyLowConfidenceFields returns the fields strictly below the threshold,
// lowest first. Equal scores are ordered by path.
func (s *Scorer) IdentifyLowConfidenceFields(scores FieldConfidence) []FieldScore {
	var low []FieldScore
	for path, v := range scores {
		if v < s.threshold {
			low = append(low, FieldScore{Path: path, Score: v})
		}
	}
	sort.Slice(low, func(i, j int) bool {
		if low[i].Score != low[j].Score {
			return low[i].Score < low[j].Score
		}
		return low[i].Path < low[j].Path
	})
	return low
}

// Distribution buckets field scores.
type Distribution struct {
	High   int `json:"high"`   // >= 0.8
	Medium int `json:"medium"` // [0.5, 0.8)
	Low    int `json:"low"`    // < 0.5
}

// Summary describes a document's confidence.
type Summary struct {
	Overall             float64      `json:"overall_confidence"`
	FieldCount          int          `json:"field_count"`
	LowConfidenceCount  int          `json:"low_confidence_count"`
	LowConfidenceFields []FieldScore `json:"low_confidence_fields"`
	Distribution        Distribution `json:"confidence_distribution"`
	Average             float64      `json:"average_confidence"`
	Min                 float64      `json:"min_confidence"`
	Max                 float64      `json:"max_confidence"`
}

// Summary builds the confidence summary for a document.
func (s *Scorer) Summary(scores FieldConfidence, overall float64) Summary {
	low := s.IdentifyLowConfidenceFields(scores)
	sum := Summary{
		Overall:             overall,
		FieldCount:          len(scores),
		LowConfidenceCount:  len(low),
		LowConfidenceFields: low,
	}
	if len(scores) == 0 {
		return sum
	}

	first := true
	var total float64
	for _, v := range scores {
		switch {
		case v >= 0.8:
			sum.Distribution.High++
		case v >= 0.5:
			sum.Distribution.Medium++
		default:
			sum.Distribution.Low++
		}
		total += v
		if first || v < sum.Min {
			sum.Min = v
		}
		if first || v > sum.Max {
			sum.Max = v
		}
		first = false
	}
	sum.Average = total / float64(len(scores))
	return sum
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0.5
	}
	var total float64
	for _, x := range xs {
		total += x
	}
	return total / float64(len(xs))
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	case v != v: // NaN
		return 0
	}
	return v
}
