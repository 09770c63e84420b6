package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/thicketlab/thicket/internal/similarity"
	"github.com/thicketlab/thicket/internal/store"
)

// Weights balance the two ranking signals in HybridSearch.
type Weights struct {
	Vector float64
	Graph  float64
}

// DefaultWeights favors the vector signal.
var DefaultWeights = Weights{Vector: 0.7, Graph: 0.3}

// HybridMatch is one hybrid-ranked result.
type HybridMatch struct {
	EntityID    string
	IdeaID      string
	Title       string
	VectorScore float64
	GraphScore  float64
	Combined    float64
}

// Scope is a user's graph neighborhood: the objectives they author ideas
// under or watch, descendants included.
type Scope struct {
	ObjectiveIDs map[string]bool
}

// UserGraphScope resolves the objectives relevant to a user: objectives
// linked to their authored ideas, objectives they watch, and every
// descendant of a watched objective.
func (g *Graph) UserGraphScope(ctx context.Context, userID string) (Scope, error) {
	scope := Scope{ObjectiveIDs: map[string]bool{}}

	rows, err := g.store.DB().QueryContext(ctx, `
		SELECT DISTINCT io.objective_id
		FROM idea_objectives io
		JOIN ideas i ON i.id = io.idea_id
		WHERE i.author_id = ?;
	`, userID)
	if err != nil {
		return scope, fmt.Errorf("authored objective links: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return scope, fmt.Errorf("scan objective id: %w", err)
		}
		scope.ObjectiveIDs[id] = true
	}
	if err := rows.Close(); err != nil {
		return scope, err
	}

	watched, err := g.store.DB().QueryContext(ctx, `
		SELECT target_id FROM watches WHERE user_id = ? AND target_type = 'objective';
	`, userID)
	if err != nil {
		return scope, fmt.Errorf("watched objectives: %w", err)
	}
	var watchedIDs []string
	for watched.Next() {
		var id string
		if err := watched.Scan(&id); err != nil {
			watched.Close()
			return scope, fmt.Errorf("scan watched id: %w", err)
		}
		watchedIDs = append(watchedIDs, id)
	}
	if err := watched.Close(); err != nil {
		return scope, err
	}

	for _, id := range watchedIDs {
		scope.ObjectiveIDs[id] = true
		desc, err := g.ObjectiveDescendants(ctx, id)
		if err != nil {
			return scope, err
		}
		for _, e := range desc {
			scope.ObjectiveIDs[e.ChildID] = true
		}
	}
	return scope, nil
}

// HybridSearch ranks entities by a blend of vector similarity and graph
// proximity to the user's objective scope. It over-fetches raw vector
// matches (3x the limit) so graph signal can promote results past the
// cut, then re-sorts on the combined score.
func (g *Graph) HybridSearch(ctx context.Context, ix *similarity.Index, vec []float32, userID string, ct store.ContentType, limit int, w Weights) ([]HybridMatch, error) {
	if limit <= 0 {
		limit = 10
	}
	if w.Vector == 0 && w.Graph == 0 {
		w = DefaultWeights
	}

	raw, err := ix.FindSimilar(ctx, similarity.Query{
		ContentType: ct,
		Vector:      vec,
		Limit:       limit * 3,
	})
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	scope, err := g.UserGraphScope(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]HybridMatch, 0, len(raw))
	for _, m := range raw {
		proximity, err := g.graphProximity(ctx, m.IdeaID, scope)
		if err != nil {
			return nil, err
		}
		out = append(out, HybridMatch{
			EntityID:    m.EntityID,
			IdeaID:      m.IdeaID,
			Title:       m.Title,
			VectorScore: m.Score,
			GraphScore:  proximity,
			Combined:    w.Vector*m.Score + w.Graph*proximity,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Combined > out[j].Combined
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// graphProximity scores an idea by how many of its objectives fall in
// the user's scope: 0.3 per shared objective, capped at 1.0.
func (g *Graph) graphProximity(ctx context.Context, ideaID string, scope Scope) (float64, error) {
	if ideaID == "" || len(scope.ObjectiveIDs) == 0 {
		return 0, nil
	}
	objIDs, err := g.store.ObjectiveIDsForIdea(ctx, ideaID)
	if err != nil {
		return 0, err
	}
	shared := 0
	for _, id := range objIDs {
		if scope.ObjectiveIDs[id] {
			shared++
		}
	}
	score := float64(shared) * 0.3
	if score > 1 {
		score = 1
	}
	return score, nil
}
