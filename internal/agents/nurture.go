package agents

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thicketlab/thicket/internal/similarity"
	"github.com/thicketlab/thicket/internal/store"
)

// NurtureAgent encourages ideas that have a summary but no structure
// yet: it looks for kindred ideas and queues a nudge for the author.
// Ideas that gained structure since enqueue are skipped silently.
type NurtureAgent struct {
	store      *store.Store
	index      *similarity.Index
	logger     *slog.Logger
	threshold  float64
	maxSimilar int
}

func NewNurtureAgent(s *store.Store, ix *similarity.Index, logger *slog.Logger, threshold float64, maxSimilar int) *NurtureAgent {
	if logger == nil {
		logger = slog.Default()
	}
	if threshold <= 0 {
		threshold = 0.7
	}
	if maxSimilar <= 0 {
		maxSimilar = 5
	}
	return &NurtureAgent{store: s, index: ix, logger: logger, threshold: threshold, maxSimilar: maxSimilar}
}

func (n *NurtureAgent) Name() string       { return "nurture" }
func (n *NurtureAgent) Queue() store.Queue { return store.QueueNurture }

func (n *NurtureAgent) ProcessItem(ctx context.Context, item store.QueueItem) error {
	ideaID := item.Payload.String("idea_id")
	if ideaID == "" {
		return fmt.Errorf("nurture item %s: missing idea_id", item.ID)
	}

	idea, err := n.store.GetIdea(ctx, ideaID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil
		}
		return err
	}
	if idea.Status == store.IdeaStatusArchived {
		return nil
	}

	structured, err := n.store.HasStructure(ctx, ideaID)
	if err != nil {
		return err
	}
	if structured {
		// The idea grew on its own; no nudge needed.
		return nil
	}

	var kindred []similarity.Match
	summary, err := n.store.SummaryForIdea(ctx, ideaID)
	if err == nil {
		kindred, err = n.index.FindSimilarForIdea(ctx, ideaID, summary.ID, n.maxSimilar, n.threshold)
		if err != nil {
			return err
		}
	} else if !store.IsNotFound(err) {
		return err
	}

	payload := map[string]any{
		"type":          "nurture_nudge",
		"idea_id":       ideaID,
		"user_id":       idea.AuthorID,
		"similar_count": len(kindred),
	}
	if len(kindred) > 0 {
		payload["similar_idea_id"] = kindred[0].IdeaID
	}
	if _, err := n.store.Enqueue(ctx, store.QueueSurfacing, payload); err != nil {
		return fmt.Errorf("enqueue nurture nudge: %w", err)
	}
	n.logger.Debug("nurture nudge queued", "idea_id", ideaID, "kindred", len(kindred))
	return nil
}
