package service

import (
	"math"

	"github.com/spec-kit/campus-helpdesk/internal/domain"
	"github.com/spec-kit/campus-helpdesk/internal/repository"
)

// DefaultSimilarityThreshold is the minimum cosine similarity for a link.
const DefaultSimilarityThreshold = 0.85

// DuplicateMatch is the winning candidate and its score.
type DuplicateMatch struct {
	Ticket domain.Ticket
	Score  float64
}

// DuplicateDetector ranks a department-local pool against a new ticket's
// embedding. It has no side effects.
type DuplicateDetector struct {
	threshold float64
}

// NewDuplicateDetector builds a detector; a non-positive threshold selects
// the default.
func NewDuplicateDetector(threshold float64) *DuplicateDetector {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &DuplicateDetector{threshold: threshold}
}

// Threshold returns the inclusive link threshold.
func (d *DuplicateDetector) Threshold() float64 {
	return d.threshold
}

// Find returns the highest scoring candidate at or above the threshold.
// Equal scores prefer the most recently created ticket. Candidates embedded
// by another model or with a different dimension are skipped.
func (d *DuplicateDetector) Find(query domain.Embedding, pool []repository.Candidate) (DuplicateMatch, bool) {
	var (
		best  DuplicateMatch
		found bool
	)
	for i := range pool {
		cand := &pool[i]
		if !query.Comparable(cand.Embedding) {
			continue
		}
		score, ok := CosineSimilarity(query.Vector, cand.Embedding.Vector)
		if !ok || score < d.threshold {
			continue
		}
		if !found || score > best.Score || (score == best.Score && newer(&cand.Ticket, &best.Ticket)) {
			best = DuplicateMatch{Ticket: cand.Ticket, Score: score}
			found = true
		}
	}
	return best, found
}

func newer(a, b *domain.Ticket) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.Number > b.Number
}

// CosineSimilarity returns the cosine of the angle between a and b. It
// reports false for mismatched lengths or zero vectors.
func CosineSimilarity(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}
