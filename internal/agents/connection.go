package agents

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thicketlab/thicket/internal/event"
	"github.com/thicketlab/thicket/internal/similarity"
	"github.com/thicketlab/thicket/internal/store"
)

// ConnectionAgent analyzes a changed component against the similarity
// index and emits agent.found_similarity for every match at or above
// the threshold. The handlers bound to that event record the
// relationship rows and surface the finding.
type ConnectionAgent struct {
	store     *store.Store
	index     *similarity.Index
	registry  *event.Registry
	logger    *slog.Logger
	threshold float64
	maxHits   int
}

func NewConnectionAgent(s *store.Store, ix *similarity.Index, reg *event.Registry, logger *slog.Logger, threshold float64, maxHits int) *ConnectionAgent {
	if logger == nil {
		logger = slog.Default()
	}
	if threshold <= 0 {
		threshold = 0.7
	}
	if maxHits <= 0 {
		maxHits = 5
	}
	return &ConnectionAgent{
		store:     s,
		index:     ix,
		registry:  reg,
		logger:    logger,
		threshold: threshold,
		maxHits:   maxHits,
	}
}

func (c *ConnectionAgent) Name() string       { return "connection" }
func (c *ConnectionAgent) Queue() store.Queue { return store.QueueConnection }

func (c *ConnectionAgent) ProcessItem(ctx context.Context, item store.QueueItem) error {
	ct := store.ContentType(item.Payload.String("content_type"))
	entityID := item.Payload.String("entity_id")
	ideaID := item.Payload.String("idea_id")
	if entityID == "" {
		return fmt.Errorf("connection item %s: missing entity_id", item.ID)
	}

	vec, err := c.store.GetEmbedding(ctx, ct, entityID)
	if err != nil {
		if store.IsNotFound(err) {
			// Entity deleted between enqueue and processing.
			c.logger.Debug("connection target gone", "entity_id", entityID)
			return nil
		}
		return err
	}
	if len(vec) == 0 {
		// Embedding handler has not run yet; redelivery will retry.
		return fmt.Errorf("entity %s has no embedding yet", entityID)
	}

	matches, err := c.index.FindSimilar(ctx, similarity.Query{
		ContentType:     ct,
		Vector:          vec,
		Limit:           c.maxHits,
		MinScore:        c.threshold,
		ExcludeEntityID: entityID,
		ExcludeIdeaID:   ideaID,
	})
	if err != nil {
		return fmt.Errorf("similarity search for %s: %w", entityID, err)
	}

	for _, m := range matches {
		c.registry.Emit(ctx, event.AgentFoundSimilarity, event.Payload{
			"from_type":     string(ct),
			"from_id":       entityID,
			"to_type":       string(ct),
			"to_id":         m.EntityID,
			"idea_id":       ideaID,
			"other_idea_id": m.IdeaID,
			"score":         m.Score,
			"discovered_by": c.Name(),
		})
	}
	if len(matches) > 0 {
		c.logger.Info("similarities found",
			"entity_id", entityID, "content_type", string(ct), "matches", len(matches))
	}
	return nil
}
