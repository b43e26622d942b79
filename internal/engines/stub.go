package engines

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/haasonsaas/flowline/internal/transport"
	"github.com/haasonsaas/flowline/pkg/models"
)

// StubOutcome scripts one step's result for the offline stub engine.
type StubOutcome struct {
	// Output is the canned work-phase output.
	Output string

	// Envelope is the canned handoff envelope; nil falls back to a
	// generic "complete" envelope.
	Envelope *models.HandoffEnvelope

	// Signal is the canned routing signal; nil falls back to "done".
	Signal *models.RoutingSignal

	// WorkErr, when non-empty, makes the work phase fail. Stub
	// failures are fatal by contract: nothing sits below the stub.
	WorkErr string
}

// StubEngine is the offline backend at the bottom of the fallback
// chain. It replays scripted outcomes instead of calling a model, so
// flows can be exercised without network access. It is always
// available.
type StubEngine struct {
	mu     sync.Mutex
	script map[string]StubOutcome
	queued map[string][]StubOutcome
	defOut StubOutcome
	calls  []string
}

// NewStubEngine creates a stub engine with an empty script.
func NewStubEngine() *StubEngine {
	return &StubEngine{
		script: make(map[string]StubOutcome),
		queued: make(map[string][]StubOutcome),
	}
}

// ScriptStep registers a canned outcome for the given step ID.
func (e *StubEngine) ScriptStep(stepID string, outcome StubOutcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.script[stepID] = outcome
}

// ScriptOnce queues a one-shot outcome for the step. Queued outcomes
// are consumed in order before the persistent script applies.
func (e *StubEngine) ScriptOnce(stepID string, outcome StubOutcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queued[stepID] = append(e.queued[stepID], outcome)
}

// SetDefault sets the outcome used for unscripted steps.
func (e *StubEngine) SetDefault(outcome StubOutcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.defOut = outcome
}

// Calls returns the step IDs executed so far, in order.
func (e *StubEngine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.calls))
	copy(out, e.calls)
	return out
}

func (e *StubEngine) outcome(stepID string) StubOutcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, stepID)
	if q := e.queued[stepID]; len(q) > 0 {
		out := q[0]
		e.queued[stepID] = q[1:]
		return out
	}
	if o, ok := e.script[stepID]; ok {
		return o
	}
	return e.defOut
}

// Name returns "stub".
func (e *StubEngine) Name() string { return "stub" }

// Capabilities declares the stub's synthetic feature set.
func (e *StubEngine) Capabilities() transport.Capabilities {
	return transport.Capabilities{
		StructuredOutput: true,
		Interrupt:        true,
	}
}

// Available always returns true; the stub is the floor of the chain.
func (e *StubEngine) Available(ctx context.Context) bool { return true }

// OpenSession starts a scripted session for one step.
func (e *StubEngine) OpenSession(ctx context.Context, params transport.SessionParams) (transport.Session, error) {
	return &stubSession{engine: e, params: params, result: &models.StepResult{}}, nil
}

type stubSession struct {
	engine  *StubEngine
	params  transport.SessionParams
	tracker transport.PhaseTracker

	mu         sync.Mutex
	result     *models.StepResult
	transcript []models.TranscriptEntry
	outcome    StubOutcome
	loaded     bool
}

func (s *stubSession) record(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, models.TranscriptEntry{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Transcript returns the session's accumulated transcript entries.
func (s *stubSession) Transcript() []models.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TranscriptEntry, len(s.transcript))
	copy(out, s.transcript)
	return out
}

func (s *stubSession) load() StubOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		s.outcome = s.engine.outcome(s.params.StepID)
		s.loaded = true
	}
	return s.outcome
}

// Work replays the scripted work output.
func (s *stubSession) Work(ctx context.Context, prompt string, tools []string) (*models.WorkPhaseResult, error) {
	if err := s.tracker.BeginWork(); err != nil {
		return nil, err
	}
	out := s.load()
	s.record("user", prompt)
	if out.WorkErr != "" {
		return nil, errors.New(out.WorkErr)
	}
	s.record("assistant", out.Output)
	s.tracker.CompleteWork()

	res := &models.WorkPhaseResult{Success: true, Output: out.Output}
	s.mu.Lock()
	s.result.Work = res
	s.mu.Unlock()
	return res, nil
}

// Finalize replays the scripted handoff envelope.
func (s *stubSession) Finalize(ctx context.Context, hint string) (*models.FinalizePhaseResult, error) {
	if err := s.tracker.RequireWork(); err != nil {
		return nil, err
	}
	out := s.load()
	env := out.Envelope
	if env == nil {
		env = &models.HandoffEnvelope{Status: models.HandoffComplete, Confidence: 1.0, Summary: "stubbed step"}
	}
	res := &models.FinalizePhaseResult{Envelope: env}
	s.mu.Lock()
	s.result.Finalize = res
	s.mu.Unlock()
	return res, nil
}

// Route replays the scripted routing signal.
func (s *stubSession) Route(ctx context.Context, cfg *transport.RouteConfig) (*models.RoutePhaseResult, error) {
	if err := s.tracker.RequireWork(); err != nil {
		return nil, err
	}
	out := s.load()
	sig := out.Signal
	if sig == nil {
		sig = &models.RoutingSignal{Decision: models.RouteDone, Confidence: 1.0}
	}
	res := &models.RoutePhaseResult{Signal: sig}
	s.mu.Lock()
	s.result.Route = res
	s.mu.Unlock()
	return res, nil
}

// Result returns the combined phase results so far.
func (s *stubSession) Result() *models.StepResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Interrupt is trivially successful for scripted sessions.
func (s *stubSession) Interrupt(ctx context.Context) error { return nil }
