package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Relationship kinds written by the agents. The relationships table is
// the append-only discovery log; materialized graph edges are derived
// from it by the batch rebuild.
const (
	RelSimilar      = "similar"
	RelIsSimilarTo  = "IS_SIMILAR_TO"
	RelIsRelatedTo  = "IS_RELATED_TO"
	RelInterestedIn = "INTERESTED_IN"
)

type Relationship struct {
	ID           string
	FromType     string
	FromID       string
	ToType       string
	ToID         string
	Kind         string
	Score        *float64
	DiscoveredAt time.Time
	DiscoveredBy string
}

// RecordRelationship inserts a discovery edge. Duplicate identity tuples
// (from, to, kind) are ignored so agents can re-discover the same edge
// without error.
func (s *Store) RecordRelationship(ctx context.Context, r Relationship) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	err := retryOnBusy(ctx, 5, func() error {
		_, execErr := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO relationships
				(id, from_type, from_id, to_type, to_id, kind, score, discovered_by)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?);
		`, r.ID, r.FromType, r.FromID, r.ToType, r.ToID, r.Kind, r.Score, r.DiscoveredBy)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("record relationship %s: %w", r.Kind, err)
	}
	return nil
}

// ListRelationships returns edges of a kind with score at or above
// minScore, newest discoveries last. Rows with a NULL score are excluded
// when minScore > 0.
func (s *Store) ListRelationships(ctx context.Context, kind string, minScore float64) ([]Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_type, from_id, to_type, to_id, kind, score, discovered_at, discovered_by
		FROM relationships
		WHERE kind = ? AND (score >= ? OR (? <= 0 AND score IS NULL))
		ORDER BY discovered_at ASC;
	`, kind, minScore, minScore)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	defer rows.Close()

	var out []Relationship
	for rows.Next() {
		var (
			r            Relationship
			score        *float64
			discoveredAt string
		)
		if err := rows.Scan(&r.ID, &r.FromType, &r.FromID, &r.ToType, &r.ToID, &r.Kind, &score, &discoveredAt, &r.DiscoveredBy); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		r.Score = score
		r.DiscoveredAt = parseTime(discoveredAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RelationshipsFrom returns edges originating at the given node.
func (s *Store) RelationshipsFrom(ctx context.Context, fromType, fromID string) ([]Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_type, from_id, to_type, to_id, kind, score, discovered_at, discovered_by
		FROM relationships
		WHERE from_type = ? AND from_id = ?
		ORDER BY discovered_at ASC;
	`, fromType, fromID)
	if err != nil {
		return nil, fmt.Errorf("relationships from: %w", err)
	}
	defer rows.Close()

	var out []Relationship
	for rows.Next() {
		var (
			r            Relationship
			score        *float64
			discoveredAt string
		)
		if err := rows.Scan(&r.ID, &r.FromType, &r.FromID, &r.ToType, &r.ToID, &r.Kind, &score, &discoveredAt, &r.DiscoveredBy); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		r.Score = score
		r.DiscoveredAt = parseTime(discoveredAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
