package models

import "time"

// Event kinds emitted by the orchestration engine. Kinds are stable strings;
// consumers must tolerate kinds they do not recognize.
const (
	EventRunCreated          = "run_created"
	EventRunCompleted        = "run_completed"
	EventRunFailed           = "run_failed"
	EventRunCanceled         = "run_canceled"
	EventStepStarted         = "step_started"
	EventStepCompleted       = "step_completed"
	EventStepError           = "step_error"
	EventRouteDecided        = "route_decided"
	EventGraphPatchSuggested = "graph_patch_suggested"
	EventSidequestEntered    = "sidequest_entered"
	EventSidequestCompleted  = "sidequest_completed"
)

// RunEvent is a single append-only entry in a run's event log.
// Events are immutable once written; ordering within a run is write
// order, cross-run ordering is undefined.
type RunEvent struct {
	// RunID identifies the run this event belongs to.
	RunID string `json:"run_id"`

	// TS is the event timestamp in UTC.
	TS time.Time `json:"ts"`

	// Kind is one of the Event* constants.
	Kind string `json:"kind"`

	// FlowKey names the flow being executed.
	FlowKey string `json:"flow_key"`

	// StepID is set for step-scoped events.
	StepID string `json:"step_id,omitempty"`

	// AgentKey is set when an agent was involved.
	AgentKey string `json:"agent_key,omitempty"`

	// Payload carries event-specific detail.
	Payload map[string]any `json:"payload,omitempty"`
}
