package models

// TranscriptEntry is one line of a step's transcript file
// (llm/<step>-<agent>-<engine>.jsonl, one JSON object per line).
type TranscriptEntry struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// PhaseFlags records which session phases completed successfully.
type PhaseFlags struct {
	Work     bool `json:"work"`
	Finalize bool `json:"finalize"`
	Route    bool `json:"route"`
}

// Receipt is the durable record of one engine execution. A receipt is
// written for every execution, success or failure, including executions
// that degraded to the stub backend.
type Receipt struct {
	// Engine is the step engine identifier (e.g. "sdk", "cli", "stub").
	Engine string `json:"engine"`

	// Mode is the selection mode that chose the engine.
	Mode string `json:"mode,omitempty"`

	// Provider is the LLM provider behind the engine, when applicable.
	Provider string `json:"provider,omitempty"`

	// Model is the model identifier used for the step.
	Model string `json:"model"`

	// StepID, FlowKey, RunID and AgentKey locate the execution.
	StepID   string `json:"step_id"`
	FlowKey  string `json:"flow_key"`
	RunID    string `json:"run_id"`
	AgentKey string `json:"agent_key"`

	// Status is "ok" or "error".
	Status string `json:"status"`

	// DurationMS is the total wall-clock duration across phases.
	DurationMS int64 `json:"duration_ms"`

	// TokensIn and TokensOut are summed across phases.
	TokensIn  int `json:"tokens_in,omitempty"`
	TokensOut int `json:"tokens_out,omitempty"`

	// Phases records per-phase success.
	Phases PhaseFlags `json:"phases"`

	// ContextTruncation is present when the hydrator trimmed history.
	ContextTruncation *TruncationInfo `json:"context_truncation,omitempty"`

	// Error holds the failure text when Status is "error".
	Error string `json:"error,omitempty"`
}
