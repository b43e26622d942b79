package engines

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/flowline/internal/transport"
	"github.com/haasonsaas/flowline/pkg/models"
)

// CLIConfig configures the CLI subprocess engine.
type CLIConfig struct {
	// Binary is the agent CLI executable, resolved on PATH.
	Binary string

	// Args are passed before the prompt on every invocation.
	Args []string

	// Timeout bounds each phase's subprocess. Zero means no limit
	// beyond the caller's context.
	Timeout time.Duration

	// WorkDir is the subprocess working directory.
	WorkDir string
}

// CLIEngine executes sessions by driving an agent CLI as a subprocess,
// one invocation per phase. The prompt is written to stdin and stdout
// is taken as the phase output.
type CLIEngine struct {
	config CLIConfig
}

// NewCLIEngine creates a CLI-backed step engine.
func NewCLIEngine(config CLIConfig) *CLIEngine {
	return &CLIEngine{config: config}
}

// Name returns "cli".
func (e *CLIEngine) Name() string { return "cli" }

// Capabilities declares what the CLI backend supports. The subprocess
// can be killed, so interrupts are real; the CLI runs its own tools.
func (e *CLIEngine) Capabilities() transport.Capabilities {
	return transport.Capabilities{
		StructuredOutput: true,
		Interrupt:        true,
		NativeTools:      true,
	}
}

// Available reports whether the configured binary is on PATH.
func (e *CLIEngine) Available(ctx context.Context) bool {
	if e.config.Binary == "" {
		return false
	}
	_, err := exec.LookPath(e.config.Binary)
	return err == nil
}

// OpenSession starts a three-phase session for one step.
func (e *CLIEngine) OpenSession(ctx context.Context, params transport.SessionParams) (transport.Session, error) {
	if !e.Available(ctx) {
		return nil, transport.ErrBackendUnavailable
	}
	return &cliSession{engine: e, params: params, result: &models.StepResult{}}, nil
}

type cliSession struct {
	engine  *CLIEngine
	params  transport.SessionParams
	tracker transport.PhaseTracker

	mu         sync.Mutex
	result     *models.StepResult
	transcript []models.TranscriptEntry
	workOutput string
	running    *exec.Cmd
}

func (s *cliSession) record(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, models.TranscriptEntry{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Transcript returns the session's accumulated transcript entries.
func (s *cliSession) Transcript() []models.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TranscriptEntry, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// invoke runs one subprocess with send on stdin. logged is what goes
// into the transcript's user entry; it differs from send when part of
// the payload is already recorded under another role.
func (s *cliSession) invoke(ctx context.Context, send, logged string) (string, error) {
	if s.engine.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.engine.config.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, s.engine.config.Binary, s.engine.config.Args...)
	cmd.Stdin = strings.NewReader(send)
	if s.engine.config.WorkDir != "" {
		cmd.Dir = s.engine.config.WorkDir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.mu.Lock()
	s.running = cmd
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = nil
		s.mu.Unlock()
	}()

	s.record("user", logged)
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("cli %s: %w (stderr: %s)", s.engine.config.Binary, err, strings.TrimSpace(stderr.String()))
	}
	out := stdout.String()
	s.record("assistant", out)
	return out, nil
}

// Work executes the step's main task as a subprocess invocation.
func (s *cliSession) Work(ctx context.Context, prompt string, tools []string) (*models.WorkPhaseResult, error) {
	if err := s.tracker.BeginWork(); err != nil {
		return nil, err
	}
	if s.params.SystemPrompt != "" && len(s.transcript) == 0 {
		s.record("system", s.params.SystemPrompt)
	}

	body := prompt
	if s.params.Context != nil && s.params.Context.Pack != nil {
		if rendered := s.params.Context.Pack.Render(); rendered != "" {
			body = "# Prior step context\n\n" + rendered + "\n\n" + body
		}
	}
	// The system prompt rides along on stdin but is already in the
	// transcript under its own role.
	full := body
	if s.params.SystemPrompt != "" {
		full = s.params.SystemPrompt + "\n\n" + full
	}

	start := time.Now()
	out, err := s.invoke(ctx, full, body)
	if err != nil {
		return nil, fmt.Errorf("cli work phase: %w", err)
	}
	s.tracker.CompleteWork()

	s.mu.Lock()
	s.workOutput = out
	s.mu.Unlock()

	res := &models.WorkPhaseResult{
		Success:  true,
		Output:   out,
		Duration: time.Since(start),
	}
	s.mu.Lock()
	s.result.Work = res
	s.mu.Unlock()
	return res, nil
}

// Finalize asks the CLI for a handoff envelope.
func (s *cliSession) Finalize(ctx context.Context, hint string) (*models.FinalizePhaseResult, error) {
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
	out, err := s.invoke(ctx, prompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("cli finalize phase: %w", err)
	}

	res := &models.FinalizePhaseResult{Raw: out, Duration: time.Since(start)}
	if env, perr := ParseEnvelope(out); perr == nil {
		res.Envelope = env
	}

	s.mu.Lock()
	s.result.Finalize = res
	s.mu.Unlock()
	return res, nil
}

// Route asks the CLI for a routing signal.
func (s *cliSession) Route(ctx context.Context, cfg *transport.RouteConfig) (*models.RoutePhaseResult, error) {
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
	out, err := s.invoke(ctx, prompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("cli route phase: %w", err)
	}

	res := &models.RoutePhaseResult{Raw: out, Duration: time.Since(start)}
	if sig, perr := ParseSignal(out); perr == nil {
		res.Signal = sig
	}

	s.mu.Lock()
	s.result.Route = res
	s.mu.Unlock()
	return res, nil
}

// Result returns the combined phase results so far.
func (s *cliSession) Result() *models.StepResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Interrupt kills the in-flight subprocess, if any.
func (s *cliSession) Interrupt(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running != nil && s.running.Process != nil {
		return s.running.Process.Kill()
	}
	return nil
}
