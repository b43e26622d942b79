package models

// HandoffStatus is the outcome a step reports in its handoff envelope.
type HandoffStatus string

const (
	HandoffComplete HandoffStatus = "complete"
	HandoffPartial  HandoffStatus = "partial"
	HandoffBlocked  HandoffStatus = "blocked"
	HandoffFailed   HandoffStatus = "failed"
)

// HandoffEnvelope is the structured summary a step produces during the
// Finalize phase. It is persisted to handoff/<step>.draft.json and fed
// to downstream steps as context.
type HandoffEnvelope struct {
	// Status is the step's self-reported outcome.
	Status HandoffStatus `json:"status"`

	// Confidence is the step's confidence in its outcome, 0.0 to 1.0.
	Confidence float64 `json:"confidence"`

	// Summary is a short description of what the step did.
	Summary string `json:"summary,omitempty"`

	// ProposedNext optionally names the step the agent suggests running next.
	ProposedNext string `json:"proposed_next,omitempty"`

	// Artifacts lists paths or identifiers the step produced.
	Artifacts []string `json:"artifacts,omitempty"`

	// Extra carries backend-specific fields without schema changes.
	Extra map[string]any `json:"extra,omitempty"`
}

// RouteDecision is the decision field of a routing signal.
type RouteDecision string

const (
	// RouteNext advances along the static graph's default edge.
	RouteNext RouteDecision = "next"

	// RouteLoop repeats the current node.
	RouteLoop RouteDecision = "loop"

	// RouteBranch follows a named outgoing edge.
	RouteBranch RouteDecision = "branch"

	// RouteDone ends the flow.
	RouteDone RouteDecision = "done"

	// RouteExtend requests a node outside the static graph.
	RouteExtend RouteDecision = "extend"
)

// RoutingSignal is the structured output of the Route phase: the
// backend's opinion about where the flow should go next.
type RoutingSignal struct {
	// Decision is the routing decision.
	Decision RouteDecision `json:"decision"`

	// Target names the node (or station, for extend) the decision points at.
	Target string `json:"target,omitempty"`

	// Confidence is the backend's confidence in the decision, 0.0 to 1.0.
	Confidence float64 `json:"confidence"`

	// EscalateToHuman requests human review before continuing.
	EscalateToHuman bool `json:"escalate_to_human,omitempty"`

	// Reason is a short free-text justification.
	Reason string `json:"reason,omitempty"`
}
