package handlers

import (
	"context"
	"fmt"

	"github.com/thicketlab/thicket/internal/event"
	"github.com/thicketlab/thicket/internal/store"
)

// componentKeys maps the id field present in a content event to its
// content type. Content events carry exactly one of these keys.
var componentKeys = []struct {
	key string
	ct  store.ContentType
}{
	{"summary_id", store.ContentSummary},
	{"challenge_id", store.ContentChallenge},
	{"approach_id", store.ContentApproach},
}

// enqueueConnection schedules similarity analysis for a changed
// component. The queue payload identifies the component generically so
// the connection agent handles all content types with one code path.
func (d Deps) enqueueConnection() event.HandlerFunc {
	return func(ctx context.Context, p event.Payload) error {
		for _, c := range componentKeys {
			id := p.String(c.key)
			if id == "" {
				continue
			}
			_, err := d.Store.Enqueue(ctx, store.QueueConnection, map[string]any{
				"content_type": string(c.ct),
				"entity_id":    id,
				"idea_id":      p.String("idea_id"),
			})
			return err
		}
		return fmt.Errorf("connection enqueue: payload has no component id")
	}
}

// enqueueNurture schedules a fresh idea for nurture attention.
func (d Deps) enqueueNurture() event.HandlerFunc {
	return func(ctx context.Context, p event.Payload) error {
		ideaID := p.String("idea_id")
		if ideaID == "" {
			return fmt.Errorf("nurture enqueue: payload missing idea_id")
		}
		_, err := d.Store.Enqueue(ctx, store.QueueNurture, map[string]any{
			"idea_id":   ideaID,
			"author_id": p.String("author_id"),
			"reason":    "new_idea",
		})
		return err
	}
}

// enqueueNurtureIfSummaryOnly schedules nurture only for ideas that have
// a summary but no challenges or approaches yet.
func (d Deps) enqueueNurtureIfSummaryOnly() event.HandlerFunc {
	return func(ctx context.Context, p event.Payload) error {
		ideaID := p.String("idea_id")
		if ideaID == "" {
			return fmt.Errorf("nurture enqueue: payload missing idea_id")
		}
		structured, err := d.Store.HasStructure(ctx, ideaID)
		if err != nil {
			return err
		}
		if structured {
			return nil
		}
		_, err = d.Store.Enqueue(ctx, store.QueueNurture, map[string]any{
			"idea_id":   ideaID,
			"author_id": p.String("author_id"),
			"reason":    "summary_only",
		})
		return err
	}
}

// removeFromNurtureQueue cancels pending nurture work for an idea that
// gained structure or got archived.
func (d Deps) removeFromNurtureQueue() event.HandlerFunc {
	return func(ctx context.Context, p event.Payload) error {
		ideaID := p.String("idea_id")
		if ideaID == "" {
			return fmt.Errorf("nurture removal: payload missing idea_id")
		}
		n, err := d.Store.RemoveByPayloadMatch(ctx, store.QueueNurture, map[string]any{
			"idea_id": ideaID,
		})
		if err != nil {
			return err
		}
		if n > 0 {
			d.Logger.Debug("nurture items cancelled", "idea_id", ideaID, "removed", n)
		}
		return nil
	}
}

// enqueueObjectiveReview fans out one review item per idea linked to the
// changed or retired objective.
func (d Deps) enqueueObjectiveReview() event.HandlerFunc {
	return func(ctx context.Context, p event.Payload) error {
		objectiveID := p.String("objective_id")
		if objectiveID == "" {
			return fmt.Errorf("objective review: payload missing objective_id")
		}
		ideaIDs, err := d.Store.IdeaIDsForObjective(ctx, objectiveID)
		if err != nil {
			return err
		}
		for _, ideaID := range ideaIDs {
			if _, err := d.Store.Enqueue(ctx, store.QueueObjectiveReview, map[string]any{
				"idea_id":      ideaID,
				"objective_id": objectiveID,
				"trigger":      p.String("trigger"),
			}); err != nil {
				return fmt.Errorf("fan out review for idea %s: %w", ideaID, err)
			}
		}
		return nil
	}
}

// enqueueSurfacing wraps the event payload in a typed surfacing item.
// The surfacing agent validates the payload against the schema for
// notifType before dispatch.
func (d Deps) enqueueSurfacing(notifType string) event.HandlerFunc {
	return func(ctx context.Context, p event.Payload) error {
		payload := map[string]any{"type": notifType}
		for k, v := range p {
			if k == "type" {
				continue
			}
			payload[k] = v
		}
		_, err := d.Store.Enqueue(ctx, store.QueueSurfacing, payload)
		return err
	}
}
