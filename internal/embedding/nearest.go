package embedding

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrEmpty is returned by Nearest when no entries are enrolled.
	ErrEmpty = errors.New("embedding table is empty")

	// ErrDimension is returned when a stored vector and the query differ in length.
	ErrDimension = errors.New("embedding dimension mismatch")

	// ErrNoMatch is returned when no enrolled vector yields a finite similarity.
	ErrNoMatch = errors.New("no finite similarity to any enrolled embedding")
)

// Nearest returns the label whose vector has the highest cosine similarity
// to query, and that similarity. Ties resolve to the smaller label. Entries
// whose similarity is NaN or infinite are never chosen.
func (t *Table) Nearest(query []float32) (string, float32, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.entries) == 0 {
		return "", 0, ErrEmpty
	}

	var (
		best      string
		bestScore = math.Inf(-1)
	)
	for label, v := range t.entries {
		if len(v) != len(query) {
			return "", 0, fmt.Errorf("%w: %q has %d dimensions, query has %d", ErrDimension, label, len(v), len(query))
		}
		score := Cosine(query, v)
		if math.IsNaN(score) || math.IsInf(score, 0) {
			continue
		}
		if score > bestScore || (score == bestScore && label < best) {
			best, bestScore = label, score
		}
	}
	if math.IsInf(bestScore, -1) {
		return "", 0, ErrNoMatch
	}
	return best, float32(bestScore), nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector. a and b must have the same length.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
