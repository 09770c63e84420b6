package agents

import (
	"context"
	"testing"

	"github.com/thicketlab/thicket/internal/embedding"
	"github.com/thicketlab/thicket/internal/event"
	"github.com/thicketlab/thicket/internal/graph"
	"github.com/thicketlab/thicket/internal/handlers"
	"github.com/thicketlab/thicket/internal/similarity"
	"github.com/thicketlab/thicket/internal/store"
)

func newRegistry(t *testing.T, s *store.Store) *event.Registry {
	t.Helper()
	reg, err := handlers.NewRegistry(handlers.Deps{
		Store:    s,
		Graph:    graph.New(s, discard()),
		Provider: embedding.NewLocal(64),
		Logger:   discard(),
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func seedIdeaWithSummary(t *testing.T, s *store.Store, title string, vec []float32) (store.Idea, store.Component) {
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
	sum, err := s.CreateSummary(ctx, idea.ID, title)
	if err != nil {
		t.Fatalf("CreateSummary: %v", err)
	}
	if err := s.UpdateEmbedding(ctx, store.ContentSummary, sum.ID, vec); err != nil {
		t.Fatalf("UpdateEmbedding: %v", err)
	}
	return idea, sum
}

func TestConnectionAgentRecordsMatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reg := newRegistry(t, s)
	ix := similarity.NewIndex(s)

	mine, mySum := seedIdeaWithSummary(t, s, "mine", []float32{1, 0, 0})
	twin, _ := seedIdeaWithSummary(t, s, "twin", []float32{0.99, 0.1, 0})
	seedIdeaWithSummary(t, s, "unrelated", []float32{0, 0, 1})

	agent := NewConnectionAgent(s, ix, reg, discard(), 0.7, 5)
	err := agent.ProcessItem(ctx, store.QueueItem{
		ID: "item",
		Payload: store.Payload{
			"content_type": "summary",
			"entity_id":    mySum.ID,
			"idea_id":      mine.ID,
		},
	})
	if err != nil {
		t.Fatalf("ProcessItem: %v", err)
	}

	rels, err := s.ListRelationships(ctx, store.RelSimilar, 0)
	if err != nil {
		t.Fatalf("ListRelationships: %v", err)
	}
	if len(rels) != 1 {
		t.Fatalf("similar rows = %d, want 1 (only the twin)", len(rels))
	}
	if rels[0].ToID == mySum.ID {
		t.Fatal("agent matched the query entity against itself")
	}

	semantic, _ := s.ListRelationships(ctx, store.RelIsSimilarTo, 0)
	if len(semantic) != 1 || semantic[0].ToID != twin.ID {
		t.Fatalf("idea-level rows = %+v, want edge to twin idea", semantic)
	}
}

func TestConnectionAgentRetriesWhenEmbeddingMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reg := newRegistry(t, s)

	user, _ := s.CreateUser(ctx, "ada")
	idea, _ := s.CreateIdea(ctx, "idea", user.ID)
	sum, _ := s.CreateSummary(ctx, idea.ID, "no embedding yet")

	agent := NewConnectionAgent(s, similarity.NewIndex(s), reg, discard(), 0.7, 5)
	err := agent.ProcessItem(ctx, store.QueueItem{
		ID: "item",
		Payload: store.Payload{
			"content_type": "summary",
			"entity_id":    sum.ID,
			"idea_id":      idea.ID,
		},
	})
	if err == nil {
		t.Fatal("missing embedding should fail the item so retry can pick it up")
	}
}

func TestNurtureAgentSkipsStructuredIdeas(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	idea, _ := seedIdeaWithSummary(t, s, "structured", []float32{1, 0})
	if _, err := s.CreateChallenge(ctx, idea.ID, "obstacle"); err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}

	agent := NewNurtureAgent(s, similarity.NewIndex(s), discard(), 0.7, 5)
	err := agent.ProcessItem(ctx, store.QueueItem{
		ID:      "item",
		Payload: store.Payload{"idea_id": idea.ID},
	})
	if err != nil {
		t.Fatalf("ProcessItem: %v", err)
	}
	if n, _ := s.CountPending(ctx, store.QueueSurfacing); n != 0 {
		t.Fatalf("structured idea produced %d surfacing items, want 0", n)
	}
}

func TestNurtureAgentQueuesNudge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	idea, _ := seedIdeaWithSummary(t, s, "bare", []float32{1, 0})
	seedIdeaWithSummary(t, s, "kindred", []float32{0.95, 0.1})

	agent := NewNurtureAgent(s, similarity.NewIndex(s), discard(), 0.7, 5)
	err := agent.ProcessItem(ctx, store.QueueItem{
		ID:      "item",
		Payload: store.Payload{"idea_id": idea.ID},
	})
	if err != nil {
		t.Fatalf("ProcessItem: %v", err)
	}

	items, _ := s.Dequeue(ctx, store.QueueSurfacing, 10)
	if len(items) != 1 {
		t.Fatalf("surfacing items = %d, want 1", len(items))
	}
	p := items[0].Payload
	if p.String("type") != "nurture_nudge" || p.String("idea_id") != idea.ID {
		t.Fatalf("nudge payload = %v", p)
	}
	if p.Float("similar_count") != 1 {
		t.Fatalf("similar_count = %v, want 1", p.Float("similar_count"))
	}
}

func TestObjectiveAgentNoopWithActiveLink(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reg := newRegistry(t, s)

	idea, _ := seedIdeaWithSummary(t, s, "linked", []float32{1, 0})
	user, _ := s.CreateUser(ctx, "owner")
	obj, _ := s.CreateObjective(ctx, "active goal", "", user.ID, nil)
	if err := s.LinkIdeaToObjective(ctx, idea.ID, obj.ID); err != nil {
		t.Fatalf("link: %v", err)
	}

	agent := NewObjectiveAgent(s, reg, discard(), 0.5, 3)
	err := agent.ProcessItem(ctx, store.QueueItem{
		ID:      "item",
		Payload: store.Payload{"idea_id": idea.ID},
	})
	if err != nil {
		t.Fatalf("ProcessItem: %v", err)
	}
	if n, _ := s.CountPending(ctx, store.QueueSurfacing); n != 0 {
		t.Fatalf("idea with active link produced %d surfacing items", n)
	}
}

func TestObjectiveAgentSuggestsReconnection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reg := newRegistry(t, s)

	idea, _ := seedIdeaWithSummary(t, s, "drifting", []float32{1, 0, 0})
	user, _ := s.CreateUser(ctx, "owner")
	near, _ := s.CreateObjective(ctx, "near goal", "", user.ID, nil)
	far, _ := s.CreateObjective(ctx, "far goal", "", user.ID, nil)
	if err := s.UpdateEmbedding(ctx, store.ContentObjective, near.ID, []float32{0.9, 0.1, 0}); err != nil {
		t.Fatalf("UpdateEmbedding: %v", err)
	}
	if err := s.UpdateEmbedding(ctx, store.ContentObjective, far.ID, []float32{0, 0, 1}); err != nil {
		t.Fatalf("UpdateEmbedding: %v", err)
	}

	agent := NewObjectiveAgent(s, reg, discard(), 0.5, 3)
	err := agent.ProcessItem(ctx, store.QueueItem{
		ID:      "item",
		Payload: store.Payload{"idea_id": idea.ID},
	})
	if err != nil {
		t.Fatalf("ProcessItem: %v", err)
	}

	items, _ := s.Dequeue(ctx, store.QueueSurfacing, 10)
	if len(items) != 1 {
		t.Fatalf("surfacing items = %d, want 1 reconnection", len(items))
	}
	p := items[0].Payload
	if p.String("type") != "reconnection_suggestion" || p.String("objective_id") != near.ID {
		t.Fatalf("suggestion payload = %v, want the near objective", p)
	}
}

func TestObjectiveAgentFlagsOrphan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reg := newRegistry(t, s)

	idea, _ := seedIdeaWithSummary(t, s, "alone", []float32{1, 0})
	// No objectives exist at all.

	agent := NewObjectiveAgent(s, reg, discard(), 0.5, 3)
	err := agent.ProcessItem(ctx, store.QueueItem{
		ID:      "item",
		Payload: store.Payload{"idea_id": idea.ID},
	})
	if err != nil {
		t.Fatalf("ProcessItem: %v", err)
	}

	items, _ := s.Dequeue(ctx, store.QueueSurfacing, 10)
	if len(items) != 1 || items[0].Payload.String("type") != "orphaned_idea" {
		t.Fatalf("surfacing items = %+v, want one orphan flag", items)
	}
}

func TestSurfacingAgentDeliversNotifications(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	idea, _ := seedIdeaWithSummary(t, s, "watched idea", []float32{1, 0})
	watcher, _ := s.CreateUser(ctx, "watcher")
	if err := s.AddWatch(ctx, watcher.ID, "idea", idea.ID); err != nil {
		t.Fatalf("AddWatch: %v", err)
	}

	agent, err := NewSurfacingAgent(s, discard())
	if err != nil {
		t.Fatalf("NewSurfacingAgent: %v", err)
	}
	err = agent.ProcessItem(ctx, store.QueueItem{
		ID: "item",
		Payload: store.Payload{
			"type":          "similar_idea",
			"idea_id":       idea.ID,
			"other_idea_id": "other",
			"score":         0.8,
		},
	})
	if err != nil {
		t.Fatalf("ProcessItem: %v", err)
	}

	// Watcher and author both notified.
	got, _ := s.ListNotifications(ctx, watcher.ID, false)
	if len(got) != 1 || got[0].Type != "similar_idea" {
		t.Fatalf("watcher notifications = %+v", got)
	}
	author, _ := s.ListNotifications(ctx, idea.AuthorID, false)
	if len(author) != 1 {
		t.Fatalf("author notifications = %d, want 1", len(author))
	}
	if author[0].RelatedID == nil || *author[0].RelatedID != "other" {
		t.Fatalf("related id = %v, want the matched idea", author[0].RelatedID)
	}
}

func TestSurfacingAgentRejectsInvalidPayload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent, err := NewSurfacingAgent(s, discard())
	if err != nil {
		t.Fatalf("NewSurfacingAgent: %v", err)
	}

	// similar_idea without a score fails schema validation.
	err = agent.ProcessItem(ctx, store.QueueItem{
		ID: "item",
		Payload: store.Payload{
			"type":          "similar_idea",
			"idea_id":       "i1",
			"other_idea_id": "i2",
		},
	})
	if err == nil {
		t.Fatal("invalid payload accepted")
	}

	err = agent.ProcessItem(ctx, store.QueueItem{
		ID:      "item2",
		Payload: store.Payload{"type": "no_such_type"},
	})
	if err == nil {
		t.Fatal("unknown payload type accepted")
	}
}
