package graph

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/thicketlab/thicket/internal/otel"
	"github.com/thicketlab/thicket/internal/store"
)

// BatchJob rebuilds the materialized edge tables from the append-only
// relationship log. Each table is cleared and re-derived inside one
// transaction: a failing rebuild rolls back rather than leaving a
// half-cleared table. Two runs over unchanged input produce identical
// tables.
type BatchJob struct {
	store    *store.Store
	logger   *slog.Logger
	metrics  *otel.Metrics
	minScore float64
}

func NewBatchJob(s *store.Store, logger *slog.Logger, metrics *otel.Metrics, minScore float64) *BatchJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchJob{store: s, logger: logger, metrics: metrics, minScore: minScore}
}

// Run rebuilds all similarity edge tables and the objective closure.
func (b *BatchJob) Run(ctx context.Context) error {
	start := time.Now()

	edges, err := b.rebuildSimilarityEdges(ctx)
	if err != nil {
		return fmt.Errorf("rebuild similarity edges: %w", err)
	}
	hier, err := b.RebuildObjectiveHierarchy(ctx)
	if err != nil {
		return fmt.Errorf("rebuild objective hierarchy: %w", err)
	}

	elapsed := time.Since(start)
	if b.metrics != nil {
		b.metrics.BatchDuration.Record(ctx, elapsed.Seconds())
		b.metrics.EdgesRebuilt.Add(ctx, edges+hier)
	}
	b.logger.Info("graph rebuild complete",
		"similarity_edges", edges,
		"hierarchy_edges", hier,
		"duration_ms", elapsed.Milliseconds())
	return nil
}

func (b *BatchJob) rebuildSimilarityEdges(ctx context.Context) (int64, error) {
	rels, err := b.store.ListRelationships(ctx, store.RelSimilar, b.minScore)
	if err != nil {
		return 0, err
	}

	ideaOf, err := b.componentIdeaMap(ctx)
	if err != nil {
		return 0, err
	}

	tx, err := b.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin rebuild tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"graph_similar_ideas", "graph_similar_challenges", "graph_similar_approaches"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s;`, table)); err != nil {
			return 0, fmt.Errorf("clear %s: %w", table, err)
		}
	}

	var written int64
	for _, r := range rels {
		if r.Score == nil || r.FromType != r.ToType {
			continue
		}
		score := *r.Score

		// Component-level edge, both directions.
		switch r.FromType {
		case string(store.ContentChallenge):
			n, err := insertBidirectional(ctx, tx, `
				INSERT OR IGNORE INTO graph_similar_challenges
					(from_challenge_id, to_challenge_id, similarity_score)
				VALUES (?, ?, ?);
			`, r.FromID, r.ToID, score)
			if err != nil {
				return 0, err
			}
			written += n
		case string(store.ContentApproach):
			n, err := insertBidirectional(ctx, tx, `
				INSERT OR IGNORE INTO graph_similar_approaches
					(from_approach_id, to_approach_id, similarity_score)
				VALUES (?, ?, ?);
			`, r.FromID, r.ToID, score)
			if err != nil {
				return 0, err
			}
			written += n
		}

		// Idea-level projection: every component match relates the owning
		// ideas, tagged with the component type that matched.
		fromIdea, toIdea := ideaOf[r.FromID], ideaOf[r.ToID]
		if fromIdea == "" || toIdea == "" || fromIdea == toIdea {
			continue
		}
		n, err := insertBidirectionalTyped(ctx, tx, fromIdea, toIdea, score, r.FromType)
		if err != nil {
			return 0, err
		}
		written += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit rebuild: %w", err)
	}
	return written, nil
}

func insertBidirectional(ctx context.Context, tx *sql.Tx, query, fromID, toID string, score float64) (int64, error) {
	var total int64
	for _, pair := range [][2]string{{fromID, toID}, {toID, fromID}} {
		res, err := tx.ExecContext(ctx, query, pair[0], pair[1], score)
		if err != nil {
			return 0, fmt.Errorf("insert edge: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func insertBidirectionalTyped(ctx context.Context, tx *sql.Tx, fromIdea, toIdea string, score float64, matchType string) (int64, error) {
	var total int64
	for _, pair := range [][2]string{{fromIdea, toIdea}, {toIdea, fromIdea}} {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO graph_similar_ideas
				(from_idea_id, to_idea_id, similarity_score, match_type)
			VALUES (?, ?, ?, ?);
		`, pair[0], pair[1], score, matchType)
		if err != nil {
			return 0, fmt.Errorf("insert idea edge: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// componentIdeaMap resolves component ids (summaries, challenges,
// approaches) to their owning idea ids.
func (b *BatchJob) componentIdeaMap(ctx context.Context) (map[string]string, error) {
	out := map[string]string{}
	for _, table := range []string{"summaries", "challenges", "approaches"} {
		rows, err := b.store.DB().QueryContext(ctx,
			fmt.Sprintf(`SELECT id, idea_id FROM %s;`, table))
		if err != nil {
			return nil, fmt.Errorf("load %s ids: %w", table, err)
		}
		for rows.Next() {
			var id, ideaID string
			if err := rows.Scan(&id, &ideaID); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan %s id: %w", table, err)
			}
			out[id] = ideaID
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// RebuildObjectiveHierarchy derives the full closure table from the
// objectives' parent pointers: clear, then for each objective walk its
// ancestor chain upward, a visited set guarding against cycles. Returns
// the number of closure rows written.
func (b *BatchJob) RebuildObjectiveHierarchy(ctx context.Context) (int64, error) {
	rows, err := b.store.DB().QueryContext(ctx,
		`SELECT id, parent_id FROM objectives;`)
	if err != nil {
		return 0, fmt.Errorf("load objective parents: %w", err)
	}
	parentOf := map[string]string{}
	var ids []string
	for rows.Next() {
		var id string
		var parent sql.NullString
		if err := rows.Scan(&id, &parent); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan objective parent: %w", err)
		}
		ids = append(ids, id)
		if parent.Valid && parent.String != "" {
			parentOf[id] = parent.String
		}
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}

	tx, err := b.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin hierarchy rebuild tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM graph_objective_hierarchy;`); err != nil {
		return 0, fmt.Errorf("clear hierarchy: %w", err)
	}

	var written int64
	for _, id := range ids {
		visited := map[string]bool{id: true}
		depth := 1
		for ancestor := parentOf[id]; ancestor != ""; ancestor = parentOf[ancestor] {
			if visited[ancestor] {
				b.logger.Warn("objective hierarchy cycle detected", "objective_id", id, "at", ancestor)
				break
			}
			visited[ancestor] = true
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO graph_objective_hierarchy (parent_id, child_id, depth)
				VALUES (?, ?, ?);
			`, ancestor, id, depth); err != nil {
				return 0, fmt.Errorf("insert closure row: %w", err)
			}
			written++
			depth++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit hierarchy rebuild: %w", err)
	}
	return written, nil
}
