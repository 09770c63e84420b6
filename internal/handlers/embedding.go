package handlers

import (
	"context"
	"fmt"

	"github.com/thicketlab/thicket/internal/event"
	"github.com/thicketlab/thicket/internal/store"
)

// generateEmbedding embeds the event's content field and persists it on
// the entity named by idKey.
func (d Deps) generateEmbedding(ct store.ContentType, idKey string) event.HandlerFunc {
	return func(ctx context.Context, p event.Payload) error {
		entityID := p.String(idKey)
		if entityID == "" {
			return fmt.Errorf("payload missing %s", idKey)
		}
		vec, err := d.embed(ctx, p.String("content"))
		if err != nil {
			return fmt.Errorf("embed %s %s: %w", ct, entityID, err)
		}
		if err := d.Store.UpdateEmbedding(ctx, ct, entityID, vec); err != nil {
			return err
		}
		d.Logger.Debug("embedding stored", "content_type", string(ct), "entity_id", entityID)
		return nil
	}
}

// generateObjectiveEmbedding embeds the objective title plus description.
// On updates, it only regenerates when the description actually changed.
func (d Deps) generateObjectiveEmbedding() event.HandlerFunc {
	return func(ctx context.Context, p event.Payload) error {
		objectiveID := p.String("objective_id")
		if objectiveID == "" {
			return fmt.Errorf("payload missing objective_id")
		}
		if changed, ok := p["description_changed"].(bool); ok && !changed {
			return nil
		}
		text := p.String("title")
		if desc := p.String("description"); desc != "" {
			text += "\n" + desc
		}
		vec, err := d.embed(ctx, text)
		if err != nil {
			return fmt.Errorf("embed objective %s: %w", objectiveID, err)
		}
		return d.Store.UpdateEmbedding(ctx, store.ContentObjective, objectiveID, vec)
	}
}

func (d Deps) embed(ctx context.Context, text string) ([]float32, error) {
	if d.Metrics != nil {
		d.Metrics.EmbeddingCalls.Add(ctx, 1)
	}
	vec, err := d.Provider.Embed(ctx, text)
	if err != nil && d.Metrics != nil {
		d.Metrics.EmbeddingErrors.Add(ctx, 1)
	}
	return vec, err
}
