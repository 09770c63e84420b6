package agents

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/thicketlab/thicket/internal/event"
	"github.com/thicketlab/thicket/internal/similarity"
	"github.com/thicketlab/thicket/internal/store"
)

// ObjectiveAgent reviews an idea after one of its objectives changed or
// retired. Ideas still holding an active objective link need nothing;
// otherwise the agent ranks active objectives against the idea's
// summary and either suggests reconnections or flags the idea as
// orphaned.
type ObjectiveAgent struct {
	store          *store.Store
	registry       *event.Registry
	logger         *slog.Logger
	threshold      float64
	maxSuggestions int
}

func NewObjectiveAgent(s *store.Store, reg *event.Registry, logger *slog.Logger, threshold float64, maxSuggestions int) *ObjectiveAgent {
	if logger == nil {
		logger = slog.Default()
	}
	if threshold <= 0 {
		threshold = 0.5
	}
	if maxSuggestions <= 0 {
		maxSuggestions = 3
	}
	return &ObjectiveAgent{
		store:          s,
		registry:       reg,
		logger:         logger,
		threshold:      threshold,
		maxSuggestions: maxSuggestions,
	}
}

func (o *ObjectiveAgent) Name() string       { return "objective" }
func (o *ObjectiveAgent) Queue() store.Queue { return store.QueueObjectiveReview }

func (o *ObjectiveAgent) ProcessItem(ctx context.Context, item store.QueueItem) error {
	ideaID := item.Payload.String("idea_id")
	if ideaID == "" {
		return fmt.Errorf("review item %s: missing idea_id", item.ID)
	}

	idea, err := o.store.GetIdea(ctx, ideaID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil
		}
		return err
	}
	if idea.Status == store.IdeaStatusArchived {
		return nil
	}

	active, err := o.hasActiveLink(ctx, ideaID)
	if err != nil {
		return err
	}
	if active {
		return nil
	}

	suggestions, err := o.rankObjectives(ctx, ideaID)
	if err != nil {
		return err
	}

	if len(suggestions) == 0 {
		o.registry.Emit(ctx, event.AgentFlagOrphan, event.Payload{
			"idea_id": ideaID,
			"user_id": idea.AuthorID,
		})
		o.logger.Info("idea orphaned", "idea_id", ideaID)
		return nil
	}
	for _, s := range suggestions {
		o.registry.Emit(ctx, event.AgentSuggestReconnection, event.Payload{
			"idea_id":      ideaID,
			"user_id":      idea.AuthorID,
			"objective_id": s.objectiveID,
			"score":        s.score,
		})
	}
	o.logger.Info("reconnections suggested", "idea_id", ideaID, "suggestions", len(suggestions))
	return nil
}

func (o *ObjectiveAgent) hasActiveLink(ctx context.Context, ideaID string) (bool, error) {
	ids, err := o.store.ObjectiveIDsForIdea(ctx, ideaID)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		obj, err := o.store.GetObjective(ctx, id)
		if err != nil {
			if store.IsNotFound(err) {
				continue
			}
			return false, err
		}
		if obj.Status == store.ObjectiveStatusActive {
			return true, nil
		}
	}
	return false, nil
}

type suggestion struct {
	objectiveID string
	score       float64
}

// rankObjectives scores every embedded active objective against the
// idea's summary embedding and keeps the best ones above threshold.
func (o *ObjectiveAgent) rankObjectives(ctx context.Context, ideaID string) ([]suggestion, error) {
	summary, err := o.store.SummaryForIdea(ctx, ideaID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	vec, err := o.store.GetEmbedding(ctx, store.ContentSummary, summary.ID)
	if err != nil || len(vec) == 0 {
		if store.IsNotFound(err) || err == nil {
			return nil, nil
		}
		return nil, err
	}

	rows, err := o.store.EmbeddingRows(ctx, store.ContentObjective)
	if err != nil {
		return nil, err
	}

	var out []suggestion
	for _, row := range rows {
		if len(row.Vector) != len(vec) {
			continue
		}
		score := similarity.Cosine(vec, row.Vector)
		if score >= o.threshold {
			out = append(out, suggestion{objectiveID: row.EntityID, score: score})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].score > out[j].score })
	if len(out) > o.maxSuggestions {
		out = out[:o.maxSuggestions]
	}
	return out, nil
}
