package engines

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/flowline/internal/observability"
	"github.com/haasonsaas/flowline/internal/transport"
	"github.com/haasonsaas/flowline/pkg/models"
)

// ErrStorageWrite marks a failed receipt or transcript write. It is
// fatal for the run: the receipt/event contract is non-negotiable.
var ErrStorageWrite = errors.New("storage write failed")

// ErrStubFailed marks a failure raised by the stub itself. Nothing
// sits below the stub, so there is no further tier to degrade to.
var ErrStubFailed = errors.New("stub engine failed")

// ArtifactSink persists the per-execution artifacts the engine layer
// owes durable storage: transcripts, receipts and handoff drafts.
type ArtifactSink interface {
	WriteTranscript(runID, flowKey, stepID, agentKey, engine string, entries []models.TranscriptEntry) error
	WriteReceipt(runID, flowKey string, receipt *models.Receipt) error
	WriteHandoffDraft(runID, flowKey, stepID string, env *models.HandoffEnvelope) error
}

// transcripter is implemented by every engine session in this package.
type transcripter interface {
	Transcript() []models.TranscriptEntry
}

// providerNamer is implemented by engines backed by an LLM provider.
type providerNamer interface {
	Provider() string
}

// ChainOptions configures the fallback chain.
type ChainOptions struct {
	// SDK and CLI are the non-stub tiers; either may be nil.
	SDK transport.Port
	CLI transport.Port

	// Stub is the floor of the chain; required.
	Stub transport.Port

	// Mode is the configured backend selection; BackendAuto detects.
	Mode models.BackendKind

	// Model is recorded in receipts.
	Model string

	// Sink receives transcripts and receipts; required.
	Sink ArtifactSink

	// Metrics counts fallback activations; optional.
	Metrics *observability.Metrics

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Chain selects a step engine per the configured policy and wraps its
// sessions so any phase failure on a non-stub tier degrades to the
// stub instead of propagating. Fallback order is data, not nested
// error handlers: candidates are tried in sequence.
type Chain struct {
	sdk     transport.Port
	cli     transport.Port
	stub    transport.Port
	mode    models.BackendKind
	model   string
	sink    ArtifactSink
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewChain builds a fallback chain.
func NewChain(opts ChainOptions) (*Chain, error) {
	if opts.Stub == nil {
		return nil, errors.New("chain requires a stub engine")
	}
	if opts.Sink == nil {
		return nil, errors.New("chain requires an artifact sink")
	}
	mode := opts.Mode
	if mode == "" {
		mode = models.BackendAuto
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		sdk:     opts.SDK,
		cli:     opts.CLI,
		stub:    opts.Stub,
		mode:    mode,
		model:   opts.Model,
		sink:    opts.Sink,
		metrics: opts.Metrics,
		logger:  logger,
	}, nil
}

// countFallback records a degrade from the named tier.
func (c *Chain) countFallback(engine string) {
	if c.metrics != nil {
		c.metrics.FallbackActivations.WithLabelValues(engine).Inc()
	}
}

// candidates returns the ordered fallback tiers for a selection kind.
func (c *Chain) candidates(kind models.BackendKind) []transport.Port {
	var out []transport.Port
	add := func(p transport.Port) {
		if p != nil {
			out = append(out, p)
		}
	}
	switch kind {
	case models.BackendSDK:
		add(c.sdk)
	case models.BackendCLI:
		add(c.cli)
	case models.BackendStub:
		// Stub appended below.
	default: // auto
		add(c.sdk)
		add(c.cli)
	}
	add(c.stub)
	return out
}

// Select resolves the engine for a run. Policy order: explicit caller
// override, then configured mode, then auto-detection.
func (c *Chain) Select(ctx context.Context, override models.BackendKind) (transport.Port, models.BackendKind) {
	kind := override
	if kind == "" || kind == models.BackendAuto {
		kind = c.mode
	}
	for _, port := range c.candidates(kind) {
		if port.Available(ctx) {
			return port, kind
		}
	}
	return c.stub, kind
}

// OpenSession opens a fallback-wrapped session for one step. If the
// selected tier cannot open a session the chain degrades immediately.
func (c *Chain) OpenSession(ctx context.Context, params transport.SessionParams, override models.BackendKind) (*FallbackSession, error) {
	port, kind := c.Select(ctx, override)
	sess, err := port.OpenSession(ctx, params)
	if err != nil && port != c.stub {
		c.logger.Warn("engine open failed, degrading to stub",
			"engine", port.Name(), "step_id", params.StepID, "error", err)
		c.countFallback(port.Name())
		port = c.stub
		sess, err = port.OpenSession(ctx, params)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStubFailed, err)
	}
	return &FallbackSession{
		chain:   c,
		params:  params,
		mode:    string(kind),
		port:    port,
		session: sess,
		opened:  time.Now(),
	}, nil
}

// FallbackSession is a transport.Session that degrades to the stub on
// any non-stub phase failure and persists a transcript and receipt for
// every execution, success or failure.
type FallbackSession struct {
	chain  *Chain
	params transport.SessionParams
	mode   string
	opened time.Time

	mu        sync.Mutex
	port      transport.Port
	session   transport.Session
	degraded  bool
	persisted bool
	phases    models.PhaseFlags
	lastErr   error

	// Replay state so a mid-session degrade can satisfy the stub's
	// phase ordering.
	workPrompt string
	workTools  []string
	priorTape  []models.TranscriptEntry
}

// Engine returns the name of the tier currently serving the session.
func (s *FallbackSession) Engine() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Name()
}

// Capabilities returns the current tier's capability vector. A degrade
// mid-session changes the answer; callers should re-check after errors.
func (s *FallbackSession) Capabilities() transport.Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Capabilities()
}

// degrade swaps the session onto the stub tier, replaying the work
// phase when it already ran so phase ordering holds.
func (s *FallbackSession) degrade(ctx context.Context, cause error) error {
	s.mu.Lock()
	if s.port == s.chain.stub {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrStubFailed, cause)
	}
	if t, ok := s.session.(transcripter); ok {
		s.priorTape = append(s.priorTape, t.Transcript()...)
	}
	replayWork := s.phases.Work
	prompt, tools := s.workPrompt, s.workTools
	failed := s.port.Name()
	s.chain.logger.Warn("phase failed, degrading to stub",
		"engine", failed, "step_id", s.params.StepID, "error", cause)
	s.mu.Unlock()
	s.chain.countFallback(failed)

	stubSess, err := s.chain.stub.OpenSession(ctx, s.params)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStubFailed, err)
	}
	if replayWork {
		if _, err := stubSess.Work(ctx, prompt, tools); err != nil {
			return fmt.Errorf("%w: %v", ErrStubFailed, err)
		}
	}

	s.mu.Lock()
	s.port = s.chain.stub
	s.session = stubSess
	s.degraded = true
	s.mu.Unlock()
	return nil
}

func (s *FallbackSession) isStub() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port == s.chain.stub
}

// Work runs the work phase, degrading to the stub on failure.
func (s *FallbackSession) Work(ctx context.Context, prompt string, tools []string) (*models.WorkPhaseResult, error) {
	s.mu.Lock()
	s.workPrompt, s.workTools = prompt, tools
	sess := s.session
	s.mu.Unlock()

	res, err := sess.Work(ctx, prompt, tools)
	if err != nil && !s.isStub() && !errors.Is(err, transport.ErrPhaseOrder) {
		if derr := s.degrade(ctx, err); derr != nil {
			s.noteErr(derr)
			return nil, derr
		}
		s.mu.Lock()
		sess = s.session
		s.mu.Unlock()
		// The degrade path replays work only when it had completed;
		// here it had not, so run it fresh on the stub.
		res, err = sess.Work(ctx, prompt, tools)
	}
	if err != nil {
		s.noteErr(err)
		return nil, err
	}
	s.mu.Lock()
	s.phases.Work = true
	s.mu.Unlock()
	return res, nil
}

// Finalize runs the finalize phase, degrading to the stub on failure.
func (s *FallbackSession) Finalize(ctx context.Context, hint string) (*models.FinalizePhaseResult, error) {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()

	res, err := sess.Finalize(ctx, hint)
	if err != nil && !s.isStub() && !errors.Is(err, transport.ErrPhaseOrder) {
		if derr := s.degrade(ctx, err); derr != nil {
			s.noteErr(derr)
			return nil, derr
		}
		s.mu.Lock()
		sess = s.session
		s.mu.Unlock()
		res, err = sess.Finalize(ctx, hint)
	}
	if err != nil {
		s.noteErr(err)
		return nil, err
	}
	s.mu.Lock()
	s.phases.Finalize = true
	s.mu.Unlock()
	return res, nil
}

// Route runs the route phase, degrading to the stub on failure.
func (s *FallbackSession) Route(ctx context.Context, cfg *transport.RouteConfig) (*models.RoutePhaseResult, error) {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()

	res, err := sess.Route(ctx, cfg)
	if err != nil && !s.isStub() && !errors.Is(err, transport.ErrPhaseOrder) {
		if derr := s.degrade(ctx, err); derr != nil {
			s.noteErr(derr)
			return nil, derr
		}
		s.mu.Lock()
		sess = s.session
		s.mu.Unlock()
		res, err = sess.Route(ctx, cfg)
	}
	if err != nil {
		s.noteErr(err)
		return nil, err
	}
	s.mu.Lock()
	s.phases.Route = true
	s.mu.Unlock()
	return res, nil
}

func (s *FallbackSession) noteErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
}

// Result returns the combined phase results so far.
func (s *FallbackSession) Result() *models.StepResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Result()
}

// Interrupt delegates to the current tier. Per the transport contract
// it is a no-op when the tier lacks interrupt support.
func (s *FallbackSession) Interrupt(ctx context.Context) error {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	return sess.Interrupt(ctx)
}

// Persist writes the session's transcript, receipt and handoff draft.
// It must be called exactly once per execution, on success and failure
// paths alike; the orchestrator defers it. A write failure returns
// ErrStorageWrite and is fatal for the run.
func (s *FallbackSession) Persist() error {
	s.mu.Lock()
	if s.persisted {
		s.mu.Unlock()
		return nil
	}
	s.persisted = true

	entries := append([]models.TranscriptEntry{}, s.priorTape...)
	if t, ok := s.session.(transcripter); ok {
		entries = append(entries, t.Transcript()...)
	}
	result := s.session.Result()
	engine := s.port.Name()

	receipt := &models.Receipt{
		Engine:     engine,
		Mode:       s.mode,
		Model:      s.chain.model,
		StepID:     s.params.StepID,
		FlowKey:    s.params.FlowKey,
		RunID:      s.params.RunID,
		AgentKey:   s.params.AgentKey,
		Status:     "ok",
		DurationMS: time.Since(s.opened).Milliseconds(),
		Phases:     s.phases,
	}
	if p, ok := s.port.(providerNamer); ok {
		receipt.Provider = p.Provider()
	}
	if s.lastErr != nil {
		receipt.Status = "error"
		receipt.Error = s.lastErr.Error()
	}
	if result != nil && result.Work != nil {
		receipt.TokensIn += result.Work.TokensIn
		receipt.TokensOut += result.Work.TokensOut
	}
	if s.params.Context != nil && s.params.Context.Pack != nil {
		receipt.ContextTruncation = s.params.Context.Pack.Truncation
	}
	var envelope *models.HandoffEnvelope
	if result != nil && result.Finalize != nil {
		envelope = result.Finalize.Envelope
	}
	s.mu.Unlock()

	if err := s.chain.sink.WriteTranscript(s.params.RunID, s.params.FlowKey, s.params.StepID, s.params.AgentKey, engine, entries); err != nil {
		return fmt.Errorf("%w: transcript: %v", ErrStorageWrite, err)
	}
	if err := s.chain.sink.WriteReceipt(s.params.RunID, s.params.FlowKey, receipt); err != nil {
		return fmt.Errorf("%w: receipt: %v", ErrStorageWrite, err)
	}
	if envelope != nil {
		if err := s.chain.sink.WriteHandoffDraft(s.params.RunID, s.params.FlowKey, s.params.StepID, envelope); err != nil {
			return fmt.Errorf("%w: handoff draft: %v", ErrStorageWrite, err)
		}
	}
	return nil
}
