// Package transport defines the contract between the orchestration
// engine and its execution backends. Every backend (native SDK, CLI
// subprocess, offline stub) is normalized behind the same three-phase
// session: Work, then Finalize, then Route. Callers adapt to backend
// differences through the Capabilities vector, never by branching on a
// backend name.
package transport

import (
	"context"
	"errors"

	"github.com/haasonsaas/flowline/pkg/models"
)

var (
	// ErrBackendUnavailable means the backend cannot accept sessions
	// right now; callers should degrade to the next fallback tier.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrPhaseOrder means Finalize or Route was called before Work
	// completed.
	ErrPhaseOrder = errors.New("phase called out of order")

	// ErrSessionClosed means the session already produced its result.
	ErrSessionClosed = errors.New("session closed")
)

// Capabilities declares what a backend can do. The orchestrator and
// navigator consult these flags to adapt behavior; they never inspect
// the backend's identity.
type Capabilities struct {
	// StructuredOutput means the backend can emit parseable JSON for
	// handoff envelopes and routing signals.
	StructuredOutput bool `json:"structured_output"`

	// Interrupt means Session.Interrupt actually stops work. When
	// false, Interrupt is accepted but has no effect and callers must
	// poll for natural completion.
	Interrupt bool `json:"interrupt"`

	// Hooks means the backend supports lifecycle hooks around phases.
	Hooks bool `json:"hooks"`

	// HotContext means context can be amended mid-step.
	HotContext bool `json:"hot_context"`

	// ContextAcrossSteps means the backend retains context between
	// steps of the same run without re-sending history.
	ContextAcrossSteps bool `json:"context_across_steps"`

	// Streaming means phase output arrives incrementally.
	Streaming bool `json:"streaming"`

	// NativeTools means the backend executes tools itself rather than
	// delegating tool calls to the engine.
	NativeTools bool `json:"native_tools"`
}

// SessionParams identifies the step a session executes and carries its
// immutable context.
type SessionParams struct {
	RunID    string
	FlowKey  string
	StepID   string
	AgentKey string

	// SystemPrompt is the station persona for the step.
	SystemPrompt string

	// Context is the immutable per-step input, including the hydrated
	// context pack when one was built.
	Context *models.StepContext
}

// RouteConfig tunes the Route phase.
type RouteConfig struct {
	// Candidates lists the node IDs the backend may choose between.
	Candidates []string

	// AllowExtension permits decisions targeting nodes outside the
	// static graph.
	AllowExtension bool
}

// Port is the engine-facing contract every execution backend implements.
type Port interface {
	// Name returns a stable engine identifier used in receipts and
	// transcript file names.
	Name() string

	// Capabilities returns the backend's capability vector.
	Capabilities() Capabilities

	// Available reports whether the backend can open sessions now.
	Available(ctx context.Context) bool

	// OpenSession starts a three-phase session for one step.
	OpenSession(ctx context.Context, params SessionParams) (Session, error)
}

// Session is one step's three-phase execution. Work must complete
// before Finalize or Route; violating the order returns ErrPhaseOrder.
type Session interface {
	// Work executes the step's main task.
	Work(ctx context.Context, prompt string, tools []string) (*models.WorkPhaseResult, error)

	// Finalize produces the step's handoff envelope. The optional hint
	// steers the summary when the work phase left no usable handoff.
	Finalize(ctx context.Context, hint string) (*models.FinalizePhaseResult, error)

	// Route produces the step's routing signal.
	Route(ctx context.Context, cfg *RouteConfig) (*models.RoutePhaseResult, error)

	// Result returns the combined phase results so far.
	Result() *models.StepResult

	// Interrupt requests cancellation of in-flight work. It is a no-op
	// when the backend lacks interrupt support; callers must not
	// assume interruption succeeded.
	Interrupt(ctx context.Context) error
}
