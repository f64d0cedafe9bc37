package extract

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/docextract/internal/record"
	"github.com/jackzampolin/docextract/internal/types"
)

// ErrAllAttemptsFailed is the error text when no self-consistency attempt succeeds.
const ErrAllAttemptsFailed = "All extraction attempts failed"

// Consensus selects how successful attempts are merged into one record.
type Consensus string

const (
	// FirstSuccess returns the record of the lowest-numbered successful attempt.
	FirstSuccess Consensus = "first_success"
	// FieldVote takes a per-leaf plurality vote across successful attempts.
	FieldVote Consensus = "field_vote"
)

// IsValid reports whether c is a known policy.
func (c Consensus) IsValid() bool {
	return c == FirstSuccess || c == FieldVote
}

// Attempt is one self-consistency run.
type Attempt struct {
	Index    int           `json:"attempt"`
	Success  bool          `json:"success"`
	Record   record.Record `json:"data,omitempty"`
	Error    string        `json:"error,omitempty"`
	Salvaged bool          `json:"salvaged,omitempty"`
}

// ConsistencyResult is the merged outcome of several extraction attempts.
type ConsistencyResult struct {
	Record             record.Record `json:"data"`
	Success            bool          `json:"success"`
	Error              string        `json:"error,omitempty"`
	Consensus          Consensus     `json:"consensus"`
	ConsistencyRate    float64       `json:"consistency_rate"`
	SuccessfulAttempts int           `json:"successful_attempts"`
	TotalAttempts      int           `json:"total_attempts"`
	Attempts           []Attempt     `json:"attempts"`
	// FieldAgreement is, per leaf of Record, the share of successful attempts
	// that produced the same value.
	FieldAgreement map[string]float64 `json:"field_agreement,omitempty"`
	Model          string             `json:"model,omitempty"`
}

// SelfConsistencyExtract runs n extractions with rotating prompt phrasing and
// merges the successful ones using the configured consensus policy.
func (e *Extractor) SelfConsistencyExtract(ctx context.Context, text string, docType types.DocumentType, schema json.RawMessage, n int) ConsistencyResult {
	if n < 1 {
		n = 1
	}
	e.logger.Info("running self-consistency extraction", "doc_type", docType, "attempts", n, "workers", e.workers)

	attempts := make([]Attempt, n)
	models := make([]string, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			r := e.attempt(gctx, text, docType, schema, i)
			attempts[i] = Attempt{
				Index:    i + 1,
				Success:  r.Success,
				Record:   r.Record,
				Error:    r.Error,
				Salvaged: r.Salvaged,
			}
			models[i] = r.Model
			return nil
		})
	}
	_ = g.Wait() // attempts record their own failures

	out := ConsistencyResult{
		Consensus:     e.consensus,
		TotalAttempts: n,
		Attempts:      attempts,
	}

	var successful []record.Record
	for i, a := range attempts {
		if a.Success {
			successful = append(successful, a.Record)
			if out.Model == "" {
				out.Model = models[i]
			}
		}
	}
	out.SuccessfulAttempts = len(successful)
	out.ConsistencyRate = float64(len(successful)) / float64(n)

	if len(successful) == 0 {
		e.logger.Warn("all extraction attempts failed", "doc_type", docType, "attempts", n)
		out.Error = ErrAllAttemptsFailed
		return out
	}

	switch e.consensus {
	case FieldVote:
		out.Record, out.FieldAgreement = voteFields(successful)
	default:
		out.Record = successful[0]
		out.FieldAgreement = agreement(successful[0], successful)
	}
	out.Success = true

	e.logger.Info("self-consistency extraction complete",
		"doc_type", docType,
		"successful", out.SuccessfulAttempts,
		"total", n,
		"consistency_rate", out.ConsistencyRate)
	return out
}

// voteFields builds on the first record's structure and replaces each leaf with
// the most common value across records. Ties keep the earliest value seen,
// which is the first record's when all values disagree.
func voteFields(recs []record.Record) (record.Record, map[string]float64) {
	merged := recs[0].Clone()
	agree := make(map[string]float64)

	for _, path := range record.Leaves(merged) {
		type tally struct {
			value any
			count int
		}
		var order []string
		counts := make(map[string]*tally)
		for _, r := range recs {
			v, ok := r.Get(path)
			if !ok {
				continue
			}
			k := valueKey(v)
			if t, seen := counts[k]; seen {
				t.count++
				continue
			}
			counts[k] = &tally{value: v, count: 1}
			order = append(order, k)
		}

		var best *tally
		for _, k := range order {
			if best == nil || counts[k].count > best.count {
				best = counts[k]
			}
		}
		if best == nil {
			continue
		}
		_ = merged.Set(path, best.value)
		agree[path.String()] = float64(best.count) / float64(len(recs))
	}
	return merged, agree
}

// agreement reports, per leaf of chosen, the share of recs holding the same value.
func agreement(chosen record.Record, recs []record.Record) map[string]float64 {
	agree := make(map[string]float64)
	for _, path := range record.Leaves(chosen) {
		v, _ := chosen.Get(path)
		want := valueKey(v)
		matched := 0
		for _, r := range recs {
			if got, ok := r.Get(path); ok && valueKey(got) == want {
				matched++
			}
		}
		agree[path.String()] = float64(matched) / float64(len(recs))
	}
	return agree
}

func valueKey(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%T:%v", v, v)
	}
	return string(b)
}
