// Package graph serves relationship queries over the materialized edge
// tables and the objective closure, plus the batch job that rebuilds
// those tables from the append-only relationship log.
package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thicketlab/thicket/internal/store"
)

// Graph answers traversal queries. All reads go against the
// materialized edge tables; freshness is bounded by the batch rebuild
// cadence.
type Graph struct {
	store  *store.Store
	logger *slog.Logger
}

func New(s *store.Store, logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	return &Graph{store: s, logger: logger}
}

// SimilarIdea is one materialized idea-to-idea edge.
type SimilarIdea struct {
	IdeaID    string
	Score     float64
	MatchType string
}

// SimilarIdeas returns ideas similar to the given one, strongest first.
func (g *Graph) SimilarIdeas(ctx context.Context, ideaID string, limit int, minScore float64) ([]SimilarIdea, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := g.store.DB().QueryContext(ctx, `
		SELECT to_idea_id, similarity_score, match_type
		FROM graph_similar_ideas
		WHERE from_idea_id = ? AND similarity_score >= ?
		ORDER BY similarity_score DESC
		LIMIT ?;
	`, ideaID, minScore, limit)
	if err != nil {
		return nil, fmt.Errorf("similar ideas: %w", err)
	}
	defer rows.Close()

	var out []SimilarIdea
	for rows.Next() {
		var e SimilarIdea
		if err := rows.Scan(&e.IdeaID, &e.Score, &e.MatchType); err != nil {
			return nil, fmt.Errorf("scan similar idea: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SimilarEdge is a materialized component edge (challenge or approach).
type SimilarEdge struct {
	FromID string
	ToID   string
	Score  float64
}

func (g *Graph) similarComponentEdges(ctx context.Context, table, fromCol, toCol, fromID string, limit int, minScore float64) ([]SimilarEdge, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := g.store.DB().QueryContext(ctx, fmt.Sprintf(`
		SELECT %s, %s, similarity_score
		FROM %s
		WHERE %s = ? AND similarity_score >= ?
		ORDER BY similarity_score DESC
		LIMIT ?;
	`, fromCol, toCol, table, fromCol), fromID, minScore, limit)
	if err != nil {
		return nil, fmt.Errorf("similar edges %s: %w", table, err)
	}
	defer rows.Close()

	var out []SimilarEdge
	for rows.Next() {
		var e SimilarEdge
		if err := rows.Scan(&e.FromID, &e.ToID, &e.Score); err != nil {
			return nil, fmt.Errorf("scan %s edge: %w", table, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SimilarChallenges returns challenge edges from the given challenge.
func (g *Graph) SimilarChallenges(ctx context.Context, challengeID string, limit int, minScore float64) ([]SimilarEdge, error) {
	return g.similarComponentEdges(ctx, "graph_similar_challenges",
		"from_challenge_id", "to_challenge_id", challengeID, limit, minScore)
}

// SimilarApproaches returns approach edges from the given approach.
func (g *Graph) SimilarApproaches(ctx context.Context, approachID string, limit int, minScore float64) ([]SimilarEdge, error) {
	return g.similarComponentEdges(ctx, "graph_similar_approaches",
		"from_approach_id", "to_approach_id", approachID, limit, minScore)
}

// IdeasForObjective returns ideas linked to an objective. With
// includeChildren, ideas linked to any descendant objective are folded
// in via the closure table.
func (g *Graph) IdeasForObjective(ctx context.Context, objectiveID string, includeChildren bool) ([]string, error) {
	query := `
		SELECT DISTINCT idea_id FROM idea_objectives
		WHERE objective_id = ?
		ORDER BY idea_id;`
	args := []any{objectiveID}
	if includeChildren {
		query = `
			SELECT DISTINCT idea_id FROM idea_objectives
			WHERE objective_id = ?
			   OR objective_id IN (
					SELECT child_id FROM graph_objective_hierarchy WHERE parent_id = ?
			   )
			ORDER BY idea_id;`
		args = append(args, objectiveID)
	}

	rows, err := g.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ideas for objective: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan idea id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ObjectivesForIdea returns the objectives an idea is linked to.
func (g *Graph) ObjectivesForIdea(ctx context.Context, ideaID string) ([]store.Objective, error) {
	ids, err := g.store.ObjectiveIDsForIdea(ctx, ideaID)
	if err != nil {
		return nil, err
	}
	out := make([]store.Objective, 0, len(ids))
	for _, id := range ids {
		obj, err := g.store.GetObjective(ctx, id)
		if err != nil {
			if store.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// RelatedChallenge pairs a challenge reached over a similarity hop with
// the idea it belongs to.
type RelatedChallenge struct {
	ChallengeID string
	IdeaID      string
	Content     string
	HopScore    float64
}

// SimilarApproachesThenChallenges walks approach-similarity edges from
// the given approach and returns the challenges of the ideas those
// similar approaches belong to. It answers "what problems were people
// with a similar approach trying to solve".
func (g *Graph) SimilarApproachesThenChallenges(ctx context.Context, approachID string, limit int, minScore float64) ([]RelatedChallenge, error) {
	edges, err := g.SimilarApproaches(ctx, approachID, limit, minScore)
	if err != nil {
		return nil, err
	}

	var out []RelatedChallenge
	seen := map[string]bool{}
	for _, edge := range edges {
		other, err := g.store.GetApproach(ctx, edge.ToID)
		if err != nil {
			if store.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		rows, err := g.store.DB().QueryContext(ctx, `
			SELECT id, idea_id, content FROM challenges WHERE idea_id = ?;
		`, other.IdeaID)
		if err != nil {
			return nil, fmt.Errorf("challenges of idea: %w", err)
		}
		for rows.Next() {
			var rc RelatedChallenge
			if err := rows.Scan(&rc.ChallengeID, &rc.IdeaID, &rc.Content); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan related challenge: %w", err)
			}
			if seen[rc.ChallengeID] {
				continue
			}
			seen[rc.ChallengeID] = true
			rc.HopScore = edge.Score
			out = append(out, rc)
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// RelatedApproach pairs an approach reached over a challenge-similarity
// hop with its owning idea.
type RelatedApproach struct {
	ApproachID string
	IdeaID     string
	Content    string
	HopScore   float64
}

// SimilarChallengesAlternativeApproaches finds, for each challenge of
// the given idea, challenges elsewhere that resemble it, and returns the
// approaches those other ideas took. It answers "how did others attack
// this same problem".
func (g *Graph) SimilarChallengesAlternativeApproaches(ctx context.Context, ideaID string, limit int, minScore float64) ([]RelatedApproach, error) {
	chRows, err := g.store.DB().QueryContext(ctx, `
		SELECT id FROM challenges WHERE idea_id = ?;
	`, ideaID)
	if err != nil {
		return nil, fmt.Errorf("challenges of idea: %w", err)
	}
	var challengeIDs []string
	for chRows.Next() {
		var id string
		if err := chRows.Scan(&id); err != nil {
			chRows.Close()
			return nil, fmt.Errorf("scan challenge id: %w", err)
		}
		challengeIDs = append(challengeIDs, id)
	}
	if err := chRows.Close(); err != nil {
		return nil, err
	}

	var out []RelatedApproach
	seen := map[string]bool{}
	for _, cid := range challengeIDs {
		edges, err := g.SimilarChallenges(ctx, cid, limit, minScore)
		if err != nil {
			return nil, err
		}
		for _, edge := range edges {
			other, err := g.store.GetChallenge(ctx, edge.ToID)
			if err != nil {
				if store.IsNotFound(err) {
					continue
				}
				return nil, err
			}
			if other.IdeaID == ideaID {
				continue
			}
			apRows, err := g.store.DB().QueryContext(ctx, `
				SELECT id, idea_id, content FROM approaches WHERE idea_id = ?;
			`, other.IdeaID)
			if err != nil {
				return nil, fmt.Errorf("approaches of idea: %w", err)
			}
			for apRows.Next() {
				var ra RelatedApproach
				if err := apRows.Scan(&ra.ApproachID, &ra.IdeaID, &ra.Content); err != nil {
					apRows.Close()
					return nil, fmt.Errorf("scan related approach: %w", err)
				}
				if seen[ra.ApproachID] {
					continue
				}
				seen[ra.ApproachID] = true
				ra.HopScore = edge.Score
				out = append(out, ra)
			}
			if err := apRows.Close(); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}
