package models

import "time"

// RunStatus describes the lifecycle state of a run.
type RunStatus string

const (
	// RunStatusPending means the run record exists but execution has not started.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning means the run's background task is executing nodes.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded means the run reached a terminal node cleanly.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed means an unrecoverable error stopped the run.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCanceled means the run was interrupted by the caller.
	RunStatusCanceled RunStatus = "canceled"
)

// Terminal reports whether the status is a terminal state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCanceled:
		return true
	}
	return false
}

// BackendKind selects the execution backend for a run.
type BackendKind string

const (
	// BackendAuto picks the best available backend at run time.
	BackendAuto BackendKind = "auto"

	// BackendSDK uses a native LLM SDK client.
	BackendSDK BackendKind = "sdk"

	// BackendCLI drives an agent CLI as a subprocess.
	BackendCLI BackendKind = "cli"

	// BackendStub uses the offline scripted backend.
	BackendStub BackendKind = "stub"
)

// RunSpec is the immutable description of what a run should execute.
// It is written once to spec.json when the run is created.
type RunSpec struct {
	// FlowKeys lists the flows this run executes, in order.
	FlowKeys []string `json:"flow_keys"`

	// ProfileID optionally names an agent profile to apply.
	ProfileID string `json:"profile_id,omitempty"`

	// Backend selects the execution backend.
	Backend BackendKind `json:"backend"`

	// Initiator records who or what started the run.
	Initiator string `json:"initiator"`

	// Params holds free-form run parameters.
	Params map[string]any `json:"params,omitempty"`
}

// RunSummary is the mutable per-run record persisted as meta.json.
// Updates go through the run store's read-modify-write path; never
// write this file directly.
type RunSummary struct {
	ID          string     `json:"id"`
	Spec        RunSpec    `json:"spec"`
	Status      RunStatus  `json:"status"`
	SDLCStatus  string     `json:"sdlc_status,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Artifacts   []string   `json:"artifacts,omitempty"`
	IsExemplar  bool       `json:"is_exemplar"`
	Tags        []string   `json:"tags,omitempty"`
	Title       string     `json:"title,omitempty"`
	Path        string     `json:"path,omitempty"`
	Description string     `json:"description,omitempty"`
}
