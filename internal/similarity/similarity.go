// Package similarity ranks embedded entities by cosine similarity to a
// query vector. Vectors live as blobs in the store; scoring happens
// in-process since SQLite has no native nearest-neighbor search.
package similarity

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/thicketlab/thicket/internal/store"
)

// Match is one ranked hit against the index.
type Match struct {
	EntityID string
	IdeaID   string
	Title    string
	Score    float64
}

// Query shapes one similarity search.
type Query struct {
	ContentType store.ContentType
	Vector      []float32
	// Limit caps the result count; <=0 means 10.
	Limit int
	// MinScore drops matches scoring below it.
	MinScore float64
	// ExcludeEntityID omits the query entity itself.
	ExcludeEntityID string
	// ExcludeIdeaID omits every entity belonging to that idea, so an
	// idea is never reported as similar to itself.
	ExcludeIdeaID string
}

// Index searches stored embeddings.
type Index struct {
	store *store.Store
}

func NewIndex(s *store.Store) *Index {
	return &Index{store: s}
}

// FindSimilar returns matches ranked by descending cosine similarity.
// Entities with missing, zero, or dimension-mismatched vectors are
// skipped.
func (ix *Index) FindSimilar(ctx context.Context, q Query) ([]Match, error) {
	if len(q.Vector) == 0 || isZero(q.Vector) {
		return nil, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	rows, err := ix.store.EmbeddingRows(ctx, q.ContentType)
	if err != nil {
		return nil, fmt.Errorf("load %s embeddings: %w", q.ContentType, err)
	}

	var matches []Match
	for _, row := range rows {
		if row.EntityID == q.ExcludeEntityID {
			continue
		}
		if q.ExcludeIdeaID != "" && row.IdeaID == q.ExcludeIdeaID {
			continue
		}
		if len(row.Vector) != len(q.Vector) {
			continue
		}
		score := Cosine(q.Vector, row.Vector)
		if math.IsNaN(score) || score < q.MinScore {
			continue
		}
		matches = append(matches, Match{
			EntityID: row.EntityID,
			IdeaID:   row.IdeaID,
			Title:    row.Title,
			Score:    score,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// FindSimilarForIdea searches by an idea's own summary embedding,
// excluding the idea itself.
func (ix *Index) FindSimilarForIdea(ctx context.Context, ideaID, summaryID string, limit int, minScore float64) ([]Match, error) {
	vec, err := ix.store.GetEmbedding(ctx, store.ContentSummary, summaryID)
	if err != nil {
		return nil, fmt.Errorf("summary embedding: %w", err)
	}
	return ix.FindSimilar(ctx, Query{
		ContentType:     store.ContentSummary,
		Vector:          vec,
		Limit:           limit,
		MinScore:        minScore,
		ExcludeEntityID: summaryID,
		ExcludeIdeaID:   ideaID,
	})
}

// Cosine returns the cosine similarity of a and b, NaN when either has
// zero magnitude.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return math.NaN()
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func isZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
