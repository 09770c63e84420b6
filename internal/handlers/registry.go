// Package handlers holds the event handler bodies and the static
// bindings table wiring them to event kinds. The table is the single
// source of truth for pipeline reactions; NewRegistry validates it
// eagerly so an unresolved handler id fails startup, not traffic.
package handlers

import (
	"log/slog"

	"github.com/thicketlab/thicket/internal/embedding"
	"github.com/thicketlab/thicket/internal/event"
	"github.com/thicketlab/thicket/internal/graph"
	"github.com/thicketlab/thicket/internal/otel"
	"github.com/thicketlab/thicket/internal/store"
)

// Deps are the injected collaborators every handler closure captures.
// No globals: construction wires everything explicitly.
type Deps struct {
	Store    *store.Store
	Graph    *graph.Graph
	Provider embedding.Provider
	Logger   *slog.Logger
	Metrics  *otel.Metrics
}

// Handler ids. Names describe the action, and the bindings table below
// maps event kinds onto ordered lists of them.
const (
	HGenerateSummaryEmbedding   event.HandlerID = "generate_summary_embedding"
	HGenerateChallengeEmbedding event.HandlerID = "generate_challenge_embedding"
	HGenerateApproachEmbedding  event.HandlerID = "generate_approach_embedding"
	HGenerateObjectiveEmbedding event.HandlerID = "generate_objective_embedding"

	HEnqueueConnection           event.HandlerID = "enqueue_connection"
	HEnqueueNurture              event.HandlerID = "enqueue_nurture"
	HEnqueueNurtureIfSummaryOnly event.HandlerID = "enqueue_nurture_if_summary_only"
	HRemoveFromNurtureQueue      event.HandlerID = "remove_from_nurture_queue"
	HEnqueueObjectiveReview      event.HandlerID = "enqueue_objective_review"

	HSurfaceLinked           event.HandlerID = "enqueue_surfacing_linked"
	HSurfaceArchived         event.HandlerID = "enqueue_surfacing_archived"
	HSurfaceSharedUpdate     event.HandlerID = "enqueue_surfacing_shared_update"
	HSurfaceObjectiveCreated event.HandlerID = "enqueue_surfacing_objective_created"
	HSurfaceObjectiveUpdated event.HandlerID = "enqueue_surfacing_objective_updated"
	HSurfaceObjectiveRetired event.HandlerID = "enqueue_surfacing_objective_retired"
	HSurfaceSimilarity       event.HandlerID = "enqueue_surfacing_similarity"
	HSurfaceInterest         event.HandlerID = "enqueue_surfacing_interest"
	HSurfaceReconnection     event.HandlerID = "enqueue_surfacing_reconnection"
	HSurfaceOrphan           event.HandlerID = "enqueue_surfacing_orphan"

	HUpdateObjectiveHierarchy     event.HandlerID = "update_objective_hierarchy"
	HRecordSimilarityEdge         event.HandlerID = "record_similarity_edge"
	HCreateSimilarityRelationship event.HandlerID = "create_similarity_relationship"
	HCreateInterestRelationship   event.HandlerID = "create_interest_relationship"

	HLogSessionStart event.HandlerID = "log_session_start"
	HLogSessionEnd   event.HandlerID = "log_session_end"
)

// Bindings is the declarative wiring of event kinds to handler chains.
// Handlers run in list order.
func Bindings() map[event.Kind][]event.HandlerID {
	return map[event.Kind][]event.HandlerID{
		event.IdeaCreated:           {HEnqueueNurture},
		event.IdeaUpdated:           {HSurfaceSharedUpdate},
		event.IdeaArchived:          {HSurfaceArchived, HRemoveFromNurtureQueue},
		event.IdeaLinkedToObjective: {HSurfaceLinked},
		event.IdeaStructureAdded:    {HRemoveFromNurtureQueue},

		event.SummaryCreated: {HGenerateSummaryEmbedding, HEnqueueConnection, HEnqueueNurtureIfSummaryOnly},
		event.SummaryUpdated: {HGenerateSummaryEmbedding, HEnqueueConnection},

		event.ChallengeCreated: {HGenerateChallengeEmbedding, HEnqueueConnection, HRemoveFromNurtureQueue},
		event.ChallengeUpdated: {HGenerateChallengeEmbedding, HEnqueueConnection},

		event.ApproachCreated: {HGenerateApproachEmbedding, HEnqueueConnection, HRemoveFromNurtureQueue},
		event.ApproachUpdated: {HGenerateApproachEmbedding, HEnqueueConnection},

		event.ObjectiveCreated: {HGenerateObjectiveEmbedding, HUpdateObjectiveHierarchy, HSurfaceObjectiveCreated},
		event.ObjectiveUpdated: {HGenerateObjectiveEmbedding, HUpdateObjectiveHierarchy, HSurfaceObjectiveUpdated, HEnqueueObjectiveReview},
		event.ObjectiveRetired: {HEnqueueObjectiveReview, HSurfaceObjectiveRetired},

		event.SessionStarted: {HLogSessionStart},
		event.SessionEnded:   {HLogSessionEnd},

		event.AgentFoundSimilarity:     {HRecordSimilarityEdge, HCreateSimilarityRelationship, HSurfaceSimilarity},
		event.AgentFoundRelevantUser:   {HCreateInterestRelationship, HSurfaceInterest},
		event.AgentSuggestReconnection: {HSurfaceReconnection},
		event.AgentFlagOrphan:          {HSurfaceOrphan},
	}
}

// NewRegistry constructs the validated event registry with every handler
// bound to deps.
func NewRegistry(deps Deps) (*event.Registry, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	table := map[event.HandlerID]event.HandlerFunc{
		HGenerateSummaryEmbedding:   deps.generateEmbedding(store.ContentSummary, "summary_id"),
		HGenerateChallengeEmbedding: deps.generateEmbedding(store.ContentChallenge, "challenge_id"),
		HGenerateApproachEmbedding:  deps.generateEmbedding(store.ContentApproach, "approach_id"),
		HGenerateObjectiveEmbedding: deps.generateObjectiveEmbedding(),

		HEnqueueConnection:           deps.enqueueConnection(),
		HEnqueueNurture:              deps.enqueueNurture(),
		HEnqueueNurtureIfSummaryOnly: deps.enqueueNurtureIfSummaryOnly(),
		HRemoveFromNurtureQueue:      deps.removeFromNurtureQueue(),
		HEnqueueObjectiveReview:      deps.enqueueObjectiveReview(),

		HSurfaceLinked:           deps.enqueueSurfacing("idea_linked"),
		HSurfaceArchived:         deps.enqueueSurfacing("idea_archived"),
		HSurfaceSharedUpdate:     deps.enqueueSurfacing("shared_update"),
		HSurfaceObjectiveCreated: deps.enqueueSurfacing("objective_created"),
		HSurfaceObjectiveUpdated: deps.enqueueSurfacing("objective_updated"),
		HSurfaceObjectiveRetired: deps.enqueueSurfacing("objective_retired"),
		HSurfaceSimilarity:       deps.enqueueSurfacing("similar_idea"),
		HSurfaceInterest:         deps.enqueueSurfacing("relevant_user"),
		HSurfaceReconnection:     deps.enqueueSurfacing("reconnection_suggestion"),
		HSurfaceOrphan:           deps.enqueueSurfacing("orphaned_idea"),

		HUpdateObjectiveHierarchy:     deps.updateObjectiveHierarchy(),
		HRecordSimilarityEdge:         deps.recordSimilarityEdge(),
		HCreateSimilarityRelationship: deps.createSimilarityRelationship(),
		HCreateInterestRelationship:   deps.createInterestRelationship(),

		HLogSessionStart: deps.logSession("session started"),
		HLogSessionEnd:   deps.logSession("session ended"),
	}
	return event.NewRegistry(Bindings(), table, deps.Logger, deps.Metrics)
}
