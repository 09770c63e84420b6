package handlers

import (
	"context"
	"fmt"

	"github.com/thicketlab/thicket/internal/event"
	"github.com/thicketlab/thicket/internal/store"
)

// updateObjectiveHierarchy refreshes the closure table for an objective
// whose parent pointer changed.
func (d Deps) updateObjectiveHierarchy() event.HandlerFunc {
	return func(ctx context.Context, p event.Payload) error {
		objectiveID := p.String("objective_id")
		if objectiveID == "" {
			return fmt.Errorf("hierarchy update: payload missing objective_id")
		}
		var parentID *string
		if pid := p.String("parent_id"); pid != "" {
			parentID = &pid
		}
		return d.Graph.UpdateObjectiveHierarchy(ctx, objectiveID, parentID)
	}
}

// recordSimilarityEdge appends the raw 'similar' row the batch rebuild
// derives edge tables from.
func (d Deps) recordSimilarityEdge() event.HandlerFunc {
	return func(ctx context.Context, p event.Payload) error {
		fromType, fromID := p.String("from_type"), p.String("from_id")
		toType, toID := p.String("to_type"), p.String("to_id")
		if fromID == "" || toID == "" {
			return fmt.Errorf("similarity edge: payload missing endpoint ids")
		}
		score := p.Float("score")
		return d.Store.RecordRelationship(ctx, store.Relationship{
			FromType: fromType, FromID: fromID,
			ToType: toType, ToID: toID,
			Kind: store.RelSimilar, Score: &score,
			DiscoveredBy: p.String("discovered_by"),
		})
	}
}

// createSimilarityRelationship records the semantic edge between the
// owning ideas: IS_SIMILAR_TO when the matched components are of the
// same type, IS_RELATED_TO when a cross-type match connected them.
func (d Deps) createSimilarityRelationship() event.HandlerFunc {
	return func(ctx context.Context, p event.Payload) error {
		ideaID, otherIdeaID := p.String("idea_id"), p.String("other_idea_id")
		if ideaID == "" || otherIdeaID == "" || ideaID == otherIdeaID {
			return nil
		}
		kind := store.RelIsRelatedTo
		if p.String("from_type") == p.String("to_type") {
			kind = store.RelIsSimilarTo
		}
		score := p.Float("score")
		return d.Store.RecordRelationship(ctx, store.Relationship{
			FromType: "idea", FromID: ideaID,
			ToType: "idea", ToID: otherIdeaID,
			Kind: kind, Score: &score,
			DiscoveredBy: p.String("discovered_by"),
		})
	}
}

// createInterestRelationship records that a user's activity suggests
// interest in an idea.
func (d Deps) createInterestRelationship() event.HandlerFunc {
	return func(ctx context.Context, p event.Payload) error {
		userID, ideaID := p.String("user_id"), p.String("idea_id")
		if userID == "" || ideaID == "" {
			return fmt.Errorf("interest edge: payload missing user_id or idea_id")
		}
		return d.Store.RecordRelationship(ctx, store.Relationship{
			FromType: "user", FromID: userID,
			ToType: "idea", ToID: ideaID,
			Kind:         store.RelInterestedIn,
			DiscoveredBy: p.String("discovered_by"),
		})
	}
}
