package models

// StepHistoryEntry is one prior step's contribution to execution context:
// its handoff envelope plus any artifact text produced upstream.
type StepHistoryEntry struct {
	StepID   string           `json:"step_id"`
	AgentKey string           `json:"agent_key,omitempty"`
	Content  string           `json:"content"`
	Envelope *HandoffEnvelope `json:"envelope,omitempty"`
}

// PackSection is one bounded slice of a context pack.
type PackSection struct {
	// StepID names the step the section came from.
	StepID string `json:"step_id"`

	// Content is the (possibly truncated) section text.
	Content string `json:"content"`

	// Truncated reports whether Content was cut to fit a budget.
	Truncated bool `json:"truncated,omitempty"`
}

// ContextPack is the bounded execution context assembled by the
// hydrator before a step's first phase.
type ContextPack struct {
	// Sections are ordered oldest to newest.
	Sections []PackSection `json:"sections"`

	// Truncation describes any budget cuts applied while packing.
	Truncation *TruncationInfo `json:"truncation,omitempty"`
}

// Render flattens the pack into a single prompt-ready string.
func (p *ContextPack) Render() string {
	if p == nil || len(p.Sections) == 0 {
		return ""
	}
	out := ""
	for i, s := range p.Sections {
		if i > 0 {
			out += "\n\n"
		}
		out += "## " + s.StepID + "\n" + s.Content
	}
	return out
}

// StepTruncation records the cut applied to one step's history.
type StepTruncation struct {
	StepID        string `json:"step_id"`
	OriginalChars int    `json:"original_chars"`
	RetainedChars int    `json:"retained_chars"`
}

// TruncationInfo is attached to receipts so budget cuts are auditable.
type TruncationInfo struct {
	// Steps lists every step whose content was truncated.
	Steps []StepTruncation `json:"steps"`

	// TotalOriginalChars is the combined pre-truncation size.
	TotalOriginalChars int `json:"total_original_chars"`

	// TotalRetainedChars is the combined post-truncation size.
	TotalRetainedChars int `json:"total_retained_chars"`
}

// StepContext is the immutable per-step input to a session. It is
// created once per node execution and never mutated after the session
// starts.
type StepContext struct {
	// RunID, FlowKey and StepID locate the execution.
	RunID   string `json:"run_id"`
	FlowKey string `json:"flow_key"`
	StepID  string `json:"step_id"`

	// StepIndex is the node's ordinal within the run.
	StepIndex int `json:"step_index"`

	// AgentKey names the agent assigned to the step.
	AgentKey string `json:"agent_key"`

	// History holds prior-step history, oldest first.
	History []StepHistoryEntry `json:"history,omitempty"`

	// Pack is the pre-built context pack, nil until hydration.
	Pack *ContextPack `json:"pack,omitempty"`
}
