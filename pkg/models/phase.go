package models

import "time"

// ToolCallRecord is a normalized record of one tool invocation made
// during the Work phase, independent of backend wire format.
type ToolCallRecord struct {
	Name     string `json:"name"`
	Input    string `json:"input,omitempty"`
	Output   string `json:"output,omitempty"`
	IsError  bool   `json:"is_error,omitempty"`
	Duration int64  `json:"duration_ms,omitempty"`
}

// WorkPhaseResult is the outcome of a session's Work phase.
type WorkPhaseResult struct {
	// Success reports whether the phase completed without error.
	Success bool `json:"success"`

	// Output is the raw backend output.
	Output string `json:"output,omitempty"`

	// ToolCalls are the normalized tool invocations made during the phase.
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`

	// TokensIn and TokensOut are the phase's token counts when known.
	TokensIn  int `json:"tokens_in,omitempty"`
	TokensOut int `json:"tokens_out,omitempty"`

	// Duration is how long the phase took.
	Duration time.Duration `json:"duration"`
}

// FinalizePhaseResult is the outcome of a session's Finalize phase.
type FinalizePhaseResult struct {
	// Envelope is the parsed handoff envelope, nil when parsing failed.
	Envelope *HandoffEnvelope `json:"envelope,omitempty"`

	// Raw is the unparsed backend output.
	Raw string `json:"raw,omitempty"`

	// Duration is how long the phase took.
	Duration time.Duration `json:"duration"`
}

// RoutePhaseResult is the outcome of a session's Route phase.
type RoutePhaseResult struct {
	// Signal is the parsed routing signal, nil when parsing failed.
	Signal *RoutingSignal `json:"signal,omitempty"`

	// Raw is the unparsed backend output.
	Raw string `json:"raw,omitempty"`

	// Duration is how long the phase took.
	Duration time.Duration `json:"duration"`
}

// StepResult combines the three phase results for one node execution.
type StepResult struct {
	Work     *WorkPhaseResult     `json:"work,omitempty"`
	Finalize *FinalizePhaseResult `json:"finalize,omitempty"`
	Route    *RoutePhaseResult    `json:"route,omitempty"`
}
