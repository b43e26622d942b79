package engines

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/flowline/internal/transport"
	"github.com/haasonsaas/flowline/pkg/models"
)

const finalizePrompt = `Summarize the step you just performed as a handoff envelope.
Respond with a single JSON object:
{"status": "complete|partial|blocked|failed", "confidence": 0.0-1.0, "summary": "...", "proposed_next": "...", "artifacts": []}`

const routePromptHeader = `Decide the next step for this flow.
Respond with a single JSON object:
{"decision": "next|loop|branch|done|extend", "target": "...", "confidence": 0.0-1.0, "reason": "..."}`

// SDKEngine executes sessions through a native LLM SDK provider.
type SDKEngine struct {
	provider  Provider
	model     string
	maxTokens int
}

// NewSDKEngine creates an SDK-backed step engine on the given provider.
func NewSDKEngine(provider Provider, model string, maxTokens int) *SDKEngine {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &SDKEngine{provider: provider, model: model, maxTokens: maxTokens}
}

// Name returns "sdk".
func (e *SDKEngine) Name() string { return "sdk" }

// Capabilities declares what the SDK backend supports.
func (e *SDKEngine) Capabilities() transport.Capabilities {
	return transport.Capabilities{
		StructuredOutput: true,
		Streaming:        false,
		NativeTools:      false,
	}
}

// Available reports whether the underlying provider is usable.
func (e *SDKEngine) Available(ctx context.Context) bool {
	return e.provider != nil && e.provider.Available(ctx)
}

// Provider returns the provider name for receipts.
func (e *SDKEngine) Provider() string {
	if e.provider == nil {
		return ""
	}
	return e.provider.Name()
}

// OpenSession starts a three-phase session for one step.
func (e *SDKEngine) OpenSession(ctx context.Context, params transport.SessionParams) (transport.Session, error) {
	if !e.Available(ctx) {
		return nil, transport.ErrBackendUnavailable
	}
	return &sdkSession{engine: e, params: params, result: &models.StepResult{}}, nil
}

type sdkSession struct {
	engine  *SDKEngine
	params  transport.SessionParams
	tracker transport.PhaseTracker

	mu         sync.Mutex
	result     *models.StepResult
	transcript []models.TranscriptEntry
	workOutput string
}

func (s *sdkSession) record(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, models.TranscriptEntry{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Transcript returns the session's accumulated transcript entries.
func (s *sdkSession) Transcript() []models.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TranscriptEntry, len(s.transcript))
	copy(out, s.transcript)
	return out
}

func (s *sdkSession) complete(ctx context.Context, prompt string) (*Completion, error) {
	s.record("user", prompt)
	comp, err := s.engine.provider.Complete(ctx, &CompletionRequest{
		Model:     s.engine.model,
		System:    s.params.SystemPrompt,
		Prompt:    prompt,
		MaxTokens: s.engine.maxTokens,
	})
	if err != nil {
		return nil, err
	}
	s.record("assistant", comp.Text)
	return comp, nil
}

// Work executes the step's main task against the provider.
func (s *sdkSession) Work(ctx context.Context, prompt string, tools []string) (*models.WorkPhaseResult, error) {
	if err := s.tracker.BeginWork(); err != nil {
		return nil, err
	}
	if s.params.SystemPrompt != "" && len(s.transcript) == 0 {
		s.record("system", s.params.SystemPrompt)
	}

	full := prompt
	if s.params.Context != nil && s.params.Context.Pack != nil {
		if rendered := s.params.Context.Pack.Render(); rendered != "" {
			full = "# Prior step context\n\n" + rendered + "\n\n# Task\n\n" + prompt
		}
	}

	start := time.Now()
	comp, err := s.complete(ctx, full)
	if err != nil {
		return nil, fmt.Errorf("sdk work phase: %w", err)
	}
	s.tracker.CompleteWork()

	s.mu.Lock()
	s.workOutput = comp.Text
	s.mu.Unlock()

	res := &models.WorkPhaseResult{
		Success:   true,
		Output:    comp.Text,
		TokensIn:  comp.TokensIn,
		TokensOut: comp.TokensOut,
		Duration:  time.Since(start),
	}
	s.mu.Lock()
	s.result.Work = res
	s.mu.Unlock()
	return res, nil
}

// Finalize asks the provider for a handoff envelope describing the work
// phase outcome.
func (s *sdkSession) Finalize(ctx context.Context, hint string) (*models.FinalizePhaseResult, error) {
	if err := s.tracker.RequireWork(); err != nil {
		return nil, err
	}

	prompt := finalizePrompt
	if hint != "" {
		prompt += "\nHint: " + hint
	}
	s.mu.Lock()
	if s.workOutput != "" {
		prompt += "\n\nStep output:\n" + s.workOutput
	}
	s.mu.Unlock()

	start := time.Now()
	comp, err := s.complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("sdk finalize phase: %w", err)
	}

	res := &models.FinalizePhaseResult{Raw: comp.Text, Duration: time.Since(start)}
	env, perr := ParseEnvelope(comp.Text)
	if perr == nil {
		res.Envelope = env
	}

	s.mu.Lock()
	s.result.Finalize = res
	s.mu.Unlock()
	return res, nil
}

// Route asks the provider for a routing signal.
func (s *sdkSession) Route(ctx context.Context, cfg *transport.RouteConfig) (*models.RoutePhaseResult, error) {
	if err := s.tracker.RequireWork(); err != nil {
		return nil, err
	}

	prompt := routePromptHeader
	if cfg != nil && len(cfg.Candidates) > 0 {
		prompt += "\nAvailable next steps: " + strings.Join(cfg.Candidates, ", ")
	}
	if cfg != nil && cfg.AllowExtension {
		prompt += "\nYou may also propose a step outside this list with decision \"extend\"."
	}

	start := time.Now()
	comp, err := s.complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("sdk route phase: %w", err)
	}

	res := &models.RoutePhaseResult{Raw: comp.Text, Duration: time.Since(start)}
	sig, perr := ParseSignal(comp.Text)
	if perr == nil {
		res.Signal = sig
	}

	s.mu.Lock()
	s.result.Route = res
	s.mu.Unlock()
	return res, nil
}

// Result returns the combined phase results so far.
func (s *sdkSession) Result() *models.StepResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Interrupt is a no-op: the SDK backend has no interrupt support and
// declares as much in its capabilities.
func (s *sdkSession) Interrupt(ctx context.Context) error { return nil }
