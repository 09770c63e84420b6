package graph

import (
	"context"
	"testing"

	"github.com/thicketlab/thicket/internal/store"
)

func countRows(t *testing.T, s *store.Store, table string) int {
	t.Helper()
	var n int
	if err := s.DB().QueryRow("SELECT COUNT(1) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func scoreOf(v float64) *float64 { return &v }

func TestBatchRebuildDerivesEdges(t *testing.T) {
	s, g := newFixture(t)
	ctx := context.Background()

	user := mustUser(t, s)
	ideaA := mustIdea(t, s, "a", user.ID)
	ideaB := mustIdea(t, s, "b", user.ID)
	sumA, _ := s.CreateSummary(ctx, ideaA.ID, "summary a")
	sumB, _ := s.CreateSummary(ctx, ideaB.ID, "summary b")

	if err := s.RecordRelationship(ctx, store.Relationship{
		FromType: "summary", FromID: sumA.ID,
		ToType: "summary", ToID: sumB.ID,
		Kind: store.RelSimilar, Score: scoreOf(0.85), DiscoveredBy: "connection-agent",
	}); err != nil {
		t.Fatalf("RecordRelationship: %v", err)
	}

	job := NewBatchJob(s, nil, nil, 0.6)
	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Summary matches project to idea edges, both directions.
	forward, err := g.SimilarIdeas(ctx, ideaA.ID, 10, 0)
	if err != nil {
		t.Fatalf("SimilarIdeas: %v", err)
	}
	if len(forward) != 1 || forward[0].IdeaID != ideaB.ID || forward[0].MatchType != "summary" {
		t.Fatalf("forward edges = %+v", forward)
	}
	reverse, _ := g.SimilarIdeas(ctx, ideaB.ID, 10, 0)
	if len(reverse) != 1 || reverse[0].IdeaID != ideaA.ID {
		t.Fatalf("reverse edges = %+v", reverse)
	}
}

func TestBatchRebuildFiltersBelowMinScore(t *testing.T) {
	s, _ := newFixture(t)
	ctx := context.Background()

	user := mustUser(t, s)
	ideaA := mustIdea(t, s, "a", user.ID)
	ideaB := mustIdea(t, s, "b", user.ID)
	sumA, _ := s.CreateSummary(ctx, ideaA.ID, "a")
	sumB, _ := s.CreateSummary(ctx, ideaB.ID, "b")

	if err := s.RecordRelationship(ctx, store.Relationship{
		FromType: "summary", FromID: sumA.ID,
		ToType: "summary", ToID: sumB.ID,
		Kind: store.RelSimilar, Score: scoreOf(0.45),
	}); err != nil {
		t.Fatalf("RecordRelationship: %v", err)
	}

	job := NewBatchJob(s, nil, nil, 0.6)
	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := countRows(t, s, "graph_similar_ideas"); n != 0 {
		t.Fatalf("edge below min score materialized (%d rows)", n)
	}
}

func TestBatchRebuildIdempotent(t *testing.T) {
	s, _ := newFixture(t)
	ctx := context.Background()

	user := mustUser(t, s)
	ideaA := mustIdea(t, s, "a", user.ID)
	ideaB := mustIdea(t, s, "b", user.ID)
	chA, _ := s.CreateChallenge(ctx, ideaA.ID, "challenge a")
	chB, _ := s.CreateChallenge(ctx, ideaB.ID, "challenge b")

	if err := s.RecordRelationship(ctx, store.Relationship{
		FromType: "challenge", FromID: chA.ID,
		ToType: "challenge", ToID: chB.ID,
		Kind: store.RelSimilar, Score: scoreOf(0.9),
	}); err != nil {
		t.Fatalf("RecordRelationship: %v", err)
	}

	job := NewBatchJob(s, nil, nil, 0.6)
	if err := job.Run(ctx); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	ideas1 := countRows(t, s, "graph_similar_ideas")
	challenges1 := countRows(t, s, "graph_similar_challenges")

	if err := job.Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if n := countRows(t, s, "graph_similar_ideas"); n != ideas1 {
		t.Fatalf("idea edges changed across identical runs: %d then %d", ideas1, n)
	}
	if n := countRows(t, s, "graph_similar_challenges"); n != challenges1 {
		t.Fatalf("challenge edges changed across identical runs: %d then %d", challenges1, n)
	}
	// Both directions of the challenge edge.
	if challenges1 != 2 {
		t.Fatalf("challenge edges = %d, want 2", challenges1)
	}
}

func TestBatchRebuildReplacesStaleEdges(t *testing.T) {
	s, _ := newFixture(t)
	ctx := context.Background()

	// A leftover edge for ids never seen in the relationship log must be
	// swept away by the rebuild.
	if _, err := s.DB().ExecContext(ctx, `
		INSERT INTO graph_similar_ideas (from_idea_id, to_idea_id, similarity_score, match_type)
		VALUES ('ghost1', 'ghost2', 0.99, 'summary');
	`); err != nil {
		t.Fatalf("seed stale edge: %v", err)
	}

	job := NewBatchJob(s, nil, nil, 0.6)
	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := countRows(t, s, "graph_similar_ideas"); n != 0 {
		t.Fatalf("stale edges survived rebuild (%d rows)", n)
	}
}

func TestRebuildObjectiveHierarchyClosure(t *testing.T) {
	s, g := newFixture(t)
	ctx := context.Background()

	user := mustUser(t, s)
	a := mustObjective(t, s, "a", user.ID, nil)
	b := mustObjective(t, s, "b", user.ID, &a.ID)
	c := mustObjective(t, s, "c", user.ID, &b.ID)
	d := mustObjective(t, s, "d", user.ID, &c.ID)

	job := NewBatchJob(s, nil, nil, 0.6)
	n, err := job.RebuildObjectiveHierarchy(ctx)
	if err != nil {
		t.Fatalf("RebuildObjectiveHierarchy: %v", err)
	}
	// b:1 + c:2 + d:3 closure rows.
	if n != 6 {
		t.Fatalf("closure rows = %d, want 6", n)
	}

	anc, err := g.ObjectiveAncestors(ctx, d.ID)
	if err != nil {
		t.Fatalf("ObjectiveAncestors: %v", err)
	}
	want := []struct {
		parent string
		depth  int
	}{{c.ID, 1}, {b.ID, 2}, {a.ID, 3}}
	if len(anc) != len(want) {
		t.Fatalf("ancestors = %d, want %d", len(anc), len(want))
	}
	for i, e := range anc {
		if e.ParentID != want[i].parent || e.Depth != want[i].depth {
			t.Fatalf("ancestor[%d] = %+v, want %s at depth %d", i, e, want[i].parent, want[i].depth)
		}
	}
}

func TestRebuildObjectiveHierarchyCycleGuard(t *testing.T) {
	s, _ := newFixture(t)
	ctx := context.Background()

	user := mustUser(t, s)
	a := mustObjective(t, s, "a", user.ID, nil)
	b := mustObjective(t, s, "b", user.ID, &a.ID)
	// Corrupt the data into a cycle a->b->a.
	if err := s.SetObjectiveParent(ctx, a.ID, &b.ID); err != nil {
		t.Fatalf("SetObjectiveParent: %v", err)
	}

	job := NewBatchJob(s, nil, nil, 0.6)
	if _, err := job.RebuildObjectiveHierarchy(ctx); err != nil {
		t.Fatalf("rebuild with cycle: %v", err)
	}
	// Terminates and records the finite prefix of each walk.
	if n := countRows(t, s, "graph_objective_hierarchy"); n == 0 {
		t.Fatal("cycle guard dropped all closure rows")
	}
}
