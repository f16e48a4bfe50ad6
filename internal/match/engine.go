// Package match decides whether a fingerprint belongs to a stored document.
package match

import (
	"context"
	"errors"
	"fmt"

	"holodoc/internal/model"
	"holodoc/internal/repository"
	"holodoc/internal/vision"
)

// DefaultThreshold is the distance below which a capture matches a stored document.
const DefaultThreshold = 0.15

// ErrInvalidThreshold is returned for thresholds outside (0, 1].
var ErrInvalidThreshold = errors.New("match threshold must be in (0, 1]")

// Result is the outcome of a match query.
type Result struct {
	Matched    bool    `json:"matched"`
	DocumentID string  `json:"document_id,omitempty"`
	Distance   float64 `json:"distance"`
	Confidence float64 `json:"confidence"`
}

// Engine compares a fingerprint against the stored ones.
// It only reads from the index and is safe for concurrent use.
type Engine struct {
	index     repository.CandidateIndex
	threshold float64
	limit     int
}

// NewEngine creates an Engine. limit bounds the candidates requested from the
// index; 0 asks for all of them.
func NewEngine(index repository.CandidateIndex, threshold float64, limit int) (*Engine, error) {
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidThreshold, threshold)
	}
	return &Engine{index: index, threshold: threshold, limit: max(limit, 0)}, nil
}

// Threshold returns the configured match threshold.
func (e *Engine) Threshold() float64 { return e.threshold }

// Match returns the closest stored document when it is strictly closer than the threshold.
// Equal distances prefer the most recently updated document, then the smallest id.
func (e *Engine) Match(ctx context.Context, fp model.Fingerprint) (Result, error) {
	candidates, err := e.index.Candidates(ctx, fp, e.limit)
	if err != nil {
		return Result{}, fmt.Errorf("load candidates: %w", err)
	}

	var (
		best  *model.Candidate
		bestD = 1.0
	)
	for i := range candidates {
		c := &candidates[i]
		d := vision.Distance(fp, c.Fingerprint)
		if best == nil || better(d, c, bestD, best) {
			best, bestD = c, d
		}
	}

	if best == nil || bestD >= e.threshold {
		return Result{Distance: bestD, Confidence: 1 - bestD}, nil
	}
	return Result{
		Matched:    true,
		DocumentID: best.DocumentID,
		Distance:   bestD,
		Confidence: 1 - bestD,
	}, nil
}

func better(d float64, c *model.Candidate, bestD float64, best *model.Candidate) bool {
	if d != bestD {
		return d < bestD
	}
	if !c.UpdatedAt.Equal(best.UpdatedAt) {
		return c.UpdatedAt.After(best.UpdatedAt)
	}
	return c.DocumentID < best.DocumentID
}
