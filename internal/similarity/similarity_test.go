package similarity

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/thicketlab/thicket/internal/store"
)

func newFixture(t *testing.T) (*store.Store, *Index) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, NewIndex(s)
}

// addIdea creates an idea with an embedded summary and returns both ids.
func addIdea(t *testing.T, s *store.Store, title string, vec []float32) (ideaID, summaryID string) {
	t.Helper()
	ctx := context.Background()
	user, err := s.CreateUser(ctx, "tester")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	idea, err := s.CreateIdea(ctx, title, user.ID)
	if err != nil {
		t.Fatalf("CreateIdea: %v", err)
	}
	sum, err := s.CreateSummary(ctx, idea.ID, title+" summary")
	if err != nil {
		t.Fatalf("CreateSummary: %v", err)
	}
	if err := s.UpdateEmbedding(ctx, store.ContentSummary, sum.ID, vec); err != nil {
		t.Fatalf("UpdateEmbedding: %v", err)
	}
	return idea.ID, sum.ID
}

func TestCosine(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{1, 0}); math.Abs(got-1) > 1e-9 {
		t.Fatalf("identical vectors cosine = %v, want 1", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); math.Abs(got) > 1e-9 {
		t.Fatalf("orthogonal vectors cosine = %v, want 0", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{-1, 0}); math.Abs(got+1) > 1e-9 {
		t.Fatalf("opposite vectors cosine = %v, want -1", got)
	}
	if got := Cosine([]float32{0, 0}, []float32{1, 0}); !math.IsNaN(got) {
		t.Fatalf("zero vector cosine = %v, want NaN", got)
	}
}

func TestFindSimilarRanksByScore(t *testing.T) {
	s, ix := newFixture(t)
	ctx := context.Background()

	addIdea(t, s, "close", []float32{0.9, 0.1, 0})
	addIdea(t, s, "closer", []float32{1, 0, 0})
	addIdea(t, s, "far", []float32{0, 0, 1})

	matches, err := ix.FindSimilar(ctx, Query{
		ContentType: store.ContentSummary,
		Vector:      []float32{1, 0, 0},
		Limit:       10,
	})
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("matches = %d, want 3", len(matches))
	}
	if matches[0].Title != "closer" || matches[1].Title != "close" || matches[2].Title != "far" {
		t.Fatalf("order = %q %q %q", matches[0].Title, matches[1].Title, matches[2].Title)
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Score > matches[i-1].Score {
			t.Fatalf("scores not descending: %v", matches)
		}
	}
}

func TestFindSimilarMinScore(t *testing.T) {
	s, ix := newFixture(t)
	ctx := context.Background()

	addIdea(t, s, "aligned", []float32{1, 0})
	addIdea(t, s, "orthogonal", []float32{0, 1})

	matches, err := ix.FindSimilar(ctx, Query{
		ContentType: store.ContentSummary,
		Vector:      []float32{1, 0},
		MinScore:    0.7,
	})
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	if len(matches) != 1 || matches[0].Title != "aligned" {
		t.Fatalf("matches = %+v, want only the aligned idea", matches)
	}
}

func TestFindSimilarLimit(t *testing.T) {
	s, ix := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		addIdea(t, s, "idea", []float32{1, float32(i) * 0.01})
	}

	matches, err := ix.FindSimilar(ctx, Query{
		ContentType: store.ContentSummary,
		Vector:      []float32{1, 0},
		Limit:       2,
	})
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(matches))
	}
}

func TestFindSimilarSkipsZeroAndMismatchedVectors(t *testing.T) {
	s, ix := newFixture(t)
	ctx := context.Background()

	addIdea(t, s, "empty text", []float32{0, 0, 0})
	addIdea(t, s, "wrong dims", []float32{1, 0})
	addIdea(t, s, "good", []float32{1, 0, 0})

	matches, err := ix.FindSimilar(ctx, Query{
		ContentType: store.ContentSummary,
		Vector:      []float32{1, 0, 0},
	})
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	if len(matches) != 1 || matches[0].Title != "good" {
		t.Fatalf("matches = %+v, want only the well-formed vector", matches)
	}
}

func TestFindSimilarZeroQueryReturnsNothing(t *testing.T) {
	s, ix := newFixture(t)
	addIdea(t, s, "anything", []float32{1, 0})

	matches, err := ix.FindSimilar(context.Background(), Query{
		ContentType: store.ContentSummary,
		Vector:      []float32{0, 0},
	})
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("zero query matched %d entities", len(matches))
	}
}

func TestFindSimilarForIdeaExcludesSelf(t *testing.T) {
	s, ix := newFixture(t)
	ctx := context.Background()

	selfIdea, selfSummary := addIdea(t, s, "self", []float32{1, 0})
	addIdea(t, s, "twin", []float32{1, 0})

	matches, err := ix.FindSimilarForIdea(ctx, selfIdea, selfSummary, 10, 0.5)
	if err != nil {
		t.Fatalf("FindSimilarForIdea: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(matches))
	}
	if matches[0].Title != "twin" {
		t.Fatalf("match = %q, want the twin, never self", matches[0].Title)
	}
	if matches[0].IdeaID == selfIdea {
		t.Fatal("query idea surfaced as its own match")
	}
}
