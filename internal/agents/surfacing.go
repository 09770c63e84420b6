package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/thicketlab/thicket/internal/store"
)

// surfacingSchemas declares, per payload type, the fields a surfacing
// item must carry. Validation happens before any notification is
// written, so a malformed item fails loud instead of producing an
// unusable notice.
var surfacingSchemas = map[string]string{
	"idea_linked": `{
		"type": "object",
		"required": ["type", "idea_id", "objective_id"],
		"properties": {
			"type": {"const": "idea_linked"},
			"idea_id": {"type": "string", "minLength": 1},
			"objective_id": {"type": "string", "minLength": 1}
		}
	}`,
	"idea_archived": `{
		"type": "object",
		"required": ["type", "idea_id"],
		"properties": {
			"type": {"const": "idea_archived"},
			"idea_id": {"type": "string", "minLength": 1}
		}
	}`,
	"shared_update": `{
		"type": "object",
		"required": ["type", "idea_id"],
		"properties": {
			"type": {"const": "shared_update"},
			"idea_id": {"type": "string", "minLength": 1}
		}
	}`,
	"objective_created": `{
		"type": "object",
		"required": ["type", "objective_id"],
		"properties": {
			"type": {"const": "objective_created"},
			"objective_id": {"type": "string", "minLength": 1}
		}
	}`,
	"objective_updated": `{
		"type": "object",
		"required": ["type", "objective_id"],
		"properties": {
			"type": {"const": "objective_updated"},
			"objective_id": {"type": "string", "minLength": 1}
		}
	}`,
	"objective_retired": `{
		"type": "object",
		"required": ["type", "objective_id"],
		"properties": {
			"type": {"const": "objective_retired"},
			"objective_id": {"type": "string", "minLength": 1}
		}
	}`,
	"similar_idea": `{
		"type": "object",
		"required": ["type", "idea_id", "other_idea_id", "score"],
		"properties": {
			"type": {"const": "similar_idea"},
			"idea_id": {"type": "string", "minLength": 1},
			"other_idea_id": {"type": "string", "minLength": 1},
			"score": {"type": "number", "minimum": 0, "maximum": 1}
		}
	}`,
	"relevant_user": `{
		"type": "object",
		"required": ["type", "user_id", "idea_id"],
		"properties": {
			"type": {"const": "relevant_user"},
			"user_id": {"type": "string", "minLength": 1},
			"idea_id": {"type": "string", "minLength": 1}
		}
	}`,
	"reconnection_suggestion": `{
		"type": "object",
		"required": ["type", "idea_id", "user_id", "objective_id", "score"],
		"properties": {
			"type": {"const": "reconnection_suggestion"},
			"idea_id": {"type": "string", "minLength": 1},
			"user_id": {"type": "string", "minLength": 1},
			"objective_id": {"type": "string", "minLength": 1},
			"score": {"type": "number"}
		}
	}`,
	"orphaned_idea": `{
		"type": "object",
		"required": ["type", "idea_id", "user_id"],
		"properties": {
			"type": {"const": "orphaned_idea"},
			"idea_id": {"type": "string", "minLength": 1},
			"user_id": {"type": "string", "minLength": 1}
		}
	}`,
	"nurture_nudge": `{
		"type": "object",
		"required": ["type", "idea_id", "user_id"],
		"properties": {
			"type": {"const": "nurture_nudge"},
			"idea_id": {"type": "string", "minLength": 1},
			"user_id": {"type": "string", "minLength": 1},
			"similar_count": {"type": "number", "minimum": 0}
		}
	}`,
}

// SurfacingAgent turns queued findings into user notifications. Each
// payload is validated against its type's JSON Schema, then delivered
// to the resolved audience.
type SurfacingAgent struct {
	store   *store.Store
	logger  *slog.Logger
	schemas map[string]*jsonschema.Schema
}

func NewSurfacingAgent(s *store.Store, logger *slog.Logger) (*SurfacingAgent, error) {
	if logger == nil {
		logger = slog.Default()
	}
	compiled := make(map[string]*jsonschema.Schema, len(surfacingSchemas))
	for name, src := range surfacingSchemas {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("parse %s schema: %w", name, err)
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(name+".json", doc); err != nil {
			return nil, fmt.Errorf("add %s schema: %w", name, err)
		}
		schema, err := c.Compile(name + ".json")
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", name, err)
		}
		compiled[name] = schema
	}
	return &SurfacingAgent{store: s, logger: logger, schemas: compiled}, nil
}

func (a *SurfacingAgent) Name() string       { return "surfacing" }
func (a *SurfacingAgent) Queue() store.Queue { return store.QueueSurfacing }

func (a *SurfacingAgent) ProcessItem(ctx context.Context, item store.QueueItem) error {
	kind := item.Payload.String("type")
	schema, ok := a.schemas[kind]
	if !ok {
		return fmt.Errorf("surfacing item %s: unknown type %q", item.ID, kind)
	}
	if err := schema.Validate(map[string]any(item.Payload)); err != nil {
		return fmt.Errorf("surfacing item %s failed %s validation: %w", item.ID, kind, err)
	}

	audience, message, source, err := a.resolve(ctx, kind, item.Payload)
	if err != nil {
		return err
	}
	related := item.Payload.String("other_idea_id")
	var relatedID *string
	if related != "" {
		relatedID = &related
	}

	delivered := map[string]bool{}
	for _, userID := range audience {
		if userID == "" || delivered[userID] {
			continue
		}
		delivered[userID] = true
		if _, err := a.store.CreateNotification(ctx, store.Notification{
			UserID:     userID,
			Type:       kind,
			Message:    message,
			SourceType: source.kind,
			SourceID:   source.id,
			RelatedID:  relatedID,
		}); err != nil {
			return fmt.Errorf("deliver %s to %s: %w", kind, userID, err)
		}
	}
	a.logger.Debug("finding surfaced", "type", kind, "recipients", len(delivered))
	return nil
}

type sourceRef struct {
	kind string
	id   string
}

// resolve determines who should hear about a finding and how it reads.
func (a *SurfacingAgent) resolve(ctx context.Context, kind string, p store.Payload) ([]string, string, sourceRef, error) {
	switch kind {
	case "idea_linked", "idea_archived", "shared_update":
		ideaID := p.String("idea_id")
		audience, err := a.ideaAudience(ctx, ideaID, kind != "shared_update")
		if err != nil {
			return nil, "", sourceRef{}, err
		}
		messages := map[string]string{
			"idea_linked":   "An idea you follow was linked to an objective.",
			"idea_archived": "An idea you follow was archived.",
			"shared_update": "An idea you follow was updated.",
		}
		return audience, messages[kind], sourceRef{"idea", ideaID}, nil

	case "objective_created", "objective_updated", "objective_retired":
		objectiveID := p.String("objective_id")
		audience, err := a.objectiveAudience(ctx, objectiveID)
		if err != nil {
			return nil, "", sourceRef{}, err
		}
		messages := map[string]string{
			"objective_created": "A new objective was created.",
			"objective_updated": "An objective you follow was updated.",
			"objective_retired": "An objective you follow was retired.",
		}
		return audience, messages[kind], sourceRef{"objective", objectiveID}, nil

	case "similar_idea":
		ideaID := p.String("idea_id")
		audience, err := a.ideaAudience(ctx, ideaID, true)
		if err != nil {
			return nil, "", sourceRef{}, err
		}
		return audience, "An idea similar to yours was discovered.", sourceRef{"idea", ideaID}, nil

	case "relevant_user":
		return []string{p.String("user_id")},
			"An idea matching your interests is active.",
			sourceRef{"idea", p.String("idea_id")}, nil

	case "reconnection_suggestion":
		return []string{p.String("user_id")},
			"Your idea lost its objective; a related active objective might fit.",
			sourceRef{"idea", p.String("idea_id")}, nil

	case "orphaned_idea":
		return []string{p.String("user_id")},
			"Your idea is no longer linked to any active objective.",
			sourceRef{"idea", p.String("idea_id")}, nil

	case "nurture_nudge":
		return []string{p.String("user_id")},
			"Your idea could use a challenge or an approach to grow.",
			sourceRef{"idea", p.String("idea_id")}, nil
	}
	return nil, "", sourceRef{}, fmt.Errorf("unhandled surfacing type %q", kind)
}

// ideaAudience is the idea's watchers, plus its author when includeAuthor
// is set.
func (a *SurfacingAgent) ideaAudience(ctx context.Context, ideaID string, includeAuthor bool) ([]string, error) {
	watchers, err := a.store.WatchersOf(ctx, "idea", ideaID)
	if err != nil {
		return nil, err
	}
	if includeAuthor {
		idea, err := a.store.GetIdea(ctx, ideaID)
		if err == nil {
			watchers = append(watchers, idea.AuthorID)
		} else if !store.IsNotFound(err) {
			return nil, err
		}
	}
	return watchers, nil
}

func (a *SurfacingAgent) objectiveAudience(ctx context.Context, objectiveID string) ([]string, error) {
	watchers, err := a.store.WatchersOf(ctx, "objective", objectiveID)
	if err != nil {
		return nil, err
	}
	obj, err := a.store.GetObjective(ctx, objectiveID)
	if err == nil {
		watchers = append(watchers, obj.AuthorID)
	} else if !store.IsNotFound(err) {
		return nil, err
	}
	return watchers, nil
}
