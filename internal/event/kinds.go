package event

// Kind names an event. Names are dot-namespaced and form a closed set;
// the registry rejects bindings for kinds outside this list.
type Kind string

// Idea lifecycle.
const (
	IdeaCreated           Kind = "idea.created"
	IdeaUpdated           Kind = "idea.updated"
	IdeaArchived          Kind = "idea.archived"
	IdeaLinkedToObjective Kind = "idea.linked_to_objective"
	IdeaStructureAdded    Kind = "idea.structure_added"
)

// Summary, challenge and approach content changes.
const (
	SummaryCreated   Kind = "summary.created"
	SummaryUpdated   Kind = "summary.updated"
	ChallengeCreated Kind = "challenge.created"
	ChallengeUpdated Kind = "challenge.updated"
	ApproachCreated  Kind = "approach.created"
	ApproachUpdated  Kind = "approach.updated"
)

// Objective lifecycle.
const (
	ObjectiveCreated Kind = "objective.created"
	ObjectiveUpdated Kind = "objective.updated"
	ObjectiveRetired Kind = "objective.retired"
)

// Session lifecycle.
const (
	SessionStarted Kind = "session.started"
	SessionEnded   Kind = "session.ended"
)

// Background agent findings feeding back into the pipeline.
const (
	AgentFoundSimilarity     Kind = "agent.found_similarity"
	AgentFoundRelevantUser   Kind = "agent.found_relevant_user"
	AgentSuggestReconnection Kind = "agent.suggest_reconnection"
	AgentFlagOrphan          Kind = "agent.flag_orphan"
)

// Kinds returns the closed set of known event kinds.
func Kinds() []Kind {
	return []Kind{
		IdeaCreated, IdeaUpdated, IdeaArchived, IdeaLinkedToObjective, IdeaStructureAdded,
		SummaryCreated, SummaryUpdated,
		ChallengeCreated, ChallengeUpdated,
		ApproachCreated, ApproachUpdated,
		ObjectiveCreated, ObjectiveUpdated, ObjectiveRetired,
		SessionStarted, SessionEnded,
		AgentFoundSimilarity, AgentFoundRelevantUser, AgentSuggestReconnection, AgentFlagOrphan,
	}
}
