// Package orchestrator drives runs through their flow graphs: it walks
// nodes, opens three-phase sessions through the engine chain, feeds
// routing signals to the navigator, and records every transition in
// the run store. A run becomes visible before its first step executes:
// Start returns only after the run record and its run_created event are
// committed, then hands execution to a background task.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/flowline/internal/engines"
	"github.com/haasonsaas/flowline/internal/flows"
	"github.com/haasonsaas/flowline/internal/hydrator"
	"github.com/haasonsaas/flowline/internal/navigator"
	"github.com/haasonsaas/flowline/internal/observability"
	"github.com/haasonsaas/flowline/internal/runstate"
	"github.com/haasonsaas/flowline/internal/runstore"
	"github.com/haasonsaas/flowline/internal/sidequest"
	"github.com/haasonsaas/flowline/internal/transport"
	"github.com/haasonsaas/flowline/pkg/models"
)

var (
	// ErrUnknownFlow means the run spec references a flow the
	// orchestrator has no graph for.
	ErrUnknownFlow = errors.New("unknown flow")

	// ErrRunActive means the run already has a background task.
	ErrRunActive = errors.New("run already active")
)

// maxStepsPerFlow bounds a single flow's node executions so a routing
// bug cannot spin a run forever.
const maxStepsPerFlow = 200

// Options wires the orchestrator's collaborators.
type Options struct {
	// Store persists runs, events and artifacts; required.
	Store *runstore.Store

	// Chain opens engine sessions; required.
	Chain *engines.Chain

	// Hydrator builds context packs; required.
	Hydrator *hydrator.Hydrator

	// Navigator maps routing signals to intents; required.
	Navigator *navigator.Navigator

	// Flows are the graphs runs may execute, keyed by flow key.
	Flows map[string]*flows.Graph

	// Stations is the library graph-extension targets resolve against.
	Stations *flows.StationLibrary

	// Templates resolve template-referencing extension proposals.
	Templates *flows.TemplateLibrary

	// Sidequests is the catalog of detours runs may enter.
	Sidequests *sidequest.Catalog

	// StallWindow is the identical-verdict window for loop detection.
	StallWindow int

	// Metrics is optional.
	Metrics *observability.Metrics

	// Tracer is optional.
	Tracer *observability.Tracer

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Observer, when set, receives every committed event in write
	// order. It runs on the run's task; keep it fast.
	Observer func(models.RunEvent)
}

// Orchestrator executes runs.
type Orchestrator struct {
	store      *runstore.Store
	chain      *engines.Chain
	hydrator   *hydrator.Hydrator
	nav        *navigator.Navigator
	flows      map[string]*flows.Graph
	stations   *flows.StationLibrary
	templates  *flows.TemplateLibrary
	sidequests *sidequest.Catalog
	stallWin   int
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	logger     *slog.Logger
	observer   func(models.RunEvent)

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, errors.New("orchestrator requires a run store")
	}
	if opts.Chain == nil {
		return nil, errors.New("orchestrator requires an engine chain")
	}
	if opts.Hydrator == nil {
		return nil, errors.New("orchestrator requires a hydrator")
	}
	if opts.Navigator == nil {
		return nil, errors.New("orchestrator requires a navigator")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stallWin := opts.StallWindow
	if stallWin <= 0 {
		stallWin = navigator.DefaultConfig().StallWindow
	}
	return &Orchestrator{
		store:      opts.Store,
		chain:      opts.Chain,
		hydrator:   opts.Hydrator,
		nav:        opts.Navigator,
		flows:      opts.Flows,
		stations:   opts.Stations,
		templates:  opts.Templates,
		sidequests: opts.Sidequests,
		stallWin:   stallWin,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		logger:     logger,
		observer:   opts.Observer,
		cancels:    make(map[string]context.CancelFunc),
	}, nil
}

// emit appends one event and notifies the observer. Append failures
// are fatal for the run: the event log is the record of record.
func (o *Orchestrator) emit(ev models.RunEvent) error {
	if err := o.store.AppendEvent(ev); err != nil {
		return fmt.Errorf("committing %s event: %w", ev.Kind, err)
	}
	if o.observer != nil {
		o.observer(ev)
	}
	return nil
}

// Start creates the run, commits its run_created event, and launches
// the background task that executes it. When Start returns, the run is
// durably visible in pending state.
func (o *Orchestrator) Start(ctx context.Context, spec models.RunSpec) (*models.RunSummary, error) {
	if len(spec.FlowKeys) == 0 {
		return nil, errors.New("run spec names no flows")
	}
	for _, key := range spec.FlowKeys {
		if _, ok := o.flows[key]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFlow, key)
		}
	}
	if spec.Backend == "" {
		spec.Backend = models.BackendAuto
	}

	summary, err := o.store.CreateRun(spec)
	if err != nil {
		return nil, err
	}
	if err := o.emit(models.RunEvent{
		RunID:   summary.ID,
		Kind:    models.EventRunCreated,
		FlowKey: spec.FlowKeys[0],
		Payload: map[string]any{"backend": string(spec.Backend), "initiator": spec.Initiator},
	}); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.mu.Lock()
	o.cancels[summary.ID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.cancels, summary.ID)
			o.mu.Unlock()
			cancel()
		}()
		o.executeRun(runCtx, summary.ID, spec)
	}()
	return summary, nil
}

// Cancel requests cancellation of a running run. The run's task marks
// it canceled at the next step boundary.
func (o *Orchestrator) Cancel(runID string) error {
	o.mu.Lock()
	cancel, ok := o.cancels[runID]
	o.mu.Unlock()
	if !ok {
		return runstore.ErrRunNotFound
	}
	cancel()
	return nil
}

// Wait blocks until all background run tasks finish.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// executeRun is the background task: it walks every flow in the spec
// and leaves the run in a terminal state no matter what.
func (o *Orchestrator) executeRun(ctx context.Context, runID string, spec models.RunSpec) {
	if o.metrics != nil {
		o.metrics.ActiveRuns.Inc()
		defer o.metrics.ActiveRuns.Dec()
	}

	now := time.Now().UTC()
	if _, err := o.store.UpdateSummary(runID, func(s *models.RunSummary) {
		s.Status = models.RunStatusRunning
		s.StartedAt = &now
	}); err != nil {
		o.logger.Error("marking run running", "run_id", runID, "error", err)
		o.finish(runID, spec.FlowKeys[0], models.RunStatusFailed, err)
		return
	}

	for _, flowKey := range spec.FlowKeys {
		graph := o.flows[flowKey]
		if err := o.runFlow(ctx, runID, spec, graph); err != nil {
			if errors.Is(err, context.Canceled) {
				o.finish(runID, flowKey, models.RunStatusCanceled, err)
				return
			}
			o.finish(runID, flowKey, models.RunStatusFailed, err)
			return
		}
	}
	o.finish(runID, spec.FlowKeys[len(spec.FlowKeys)-1], models.RunStatusSucceeded, nil)
}

// finish moves the run to a terminal status and commits the matching
// event. Nothing here may leave the run stuck in running.
func (o *Orchestrator) finish(runID, flowKey string, status models.RunStatus, cause error) {
	now := time.Now().UTC()
	if _, err := o.store.UpdateSummary(runID, func(s *models.RunSummary) {
		s.Status = status
		s.CompletedAt = &now
		if cause != nil {
			s.Error = cause.Error()
		}
	}); err != nil {
		o.logger.Error("marking run terminal", "run_id", runID, "status", string(status), "error", err)
	}

	kind := models.EventRunCompleted
	switch status {
	case models.RunStatusFailed:
		kind = models.EventRunFailed
	case models.RunStatusCanceled:
		kind = models.EventRunCanceled
	}
	payload := map[string]any{"status": string(status)}
	if cause != nil {
		payload["error"] = cause.Error()
	}
	if err := o.emit(models.RunEvent{RunID: runID, Kind: kind, FlowKey: flowKey, Payload: payload}); err != nil {
		o.logger.Error("committing terminal event", "run_id", runID, "error", err)
	}
	if o.metrics != nil {
		o.metrics.RunsCompleted.WithLabelValues(string(status)).Inc()
	}
	o.logger.Info("run finished", "run_id", runID, "status", string(status))
}

// nodeSpec is a resolved execution target: a static graph node, a
// runtime-injected node, or a sidequest step.
type nodeSpec struct {
	ID       string
	Station  string
	AgentKey string
	Prompt   string
	Terminal bool
}

// runFlow walks one flow graph from its entry node to termination.
func (o *Orchestrator) runFlow(ctx context.Context, runID string, spec models.RunSpec, graph *flows.Graph) error {
	if err := graph.Validate(); err != nil {
		return err
	}

	state := runstate.New(runID, graph.Key, graph.Entry)
	stall := navigator.NewStallDetector(o.stallWin)
	detourSteps := make(map[string]sidequest.Step)
	var history []models.StepHistoryEntry

	for stepIndex := 0; ; stepIndex++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if stepIndex >= maxStepsPerFlow {
			return fmt.Errorf("flow %s exceeded %d steps", graph.Key, maxStepsPerFlow)
		}

		nodeID := state.Current()
		node, err := o.resolveNode(graph, state, detourSteps, nodeID)
		if err != nil {
			return err
		}
		iteration := state.BumpIteration(nodeID)
		inDetour := state.Detour() != nil

		result, entry, err := o.executeNode(ctx, runID, spec, graph, state, node, stepIndex, history, inDetour)
		if err != nil {
			return err
		}
		history = append(history, entry)

		// Sidequest steps bypass routing: the detour's own step order
		// decides what runs next, and its declared return behavior
		// decides everything after.
		if inDetour {
			if next, ok := sidequest.Advance(state); ok {
				state.SetCurrent(next)
				continue
			}
			detour := state.Detour()
			next, derr := sidequest.CompleteDetour(state, o.sidequests)
			if derr != nil {
				return derr
			}
			ev := models.RunEvent{
				RunID:   runID,
				Kind:    models.EventSidequestCompleted,
				FlowKey: graph.Key,
				StepID:  nodeID,
				Payload: map[string]any{"next": next},
			}
			if detour != nil {
				ev.Payload["sidequest_id"] = detour.SidequestID
			}
			if err := o.emit(ev); err != nil {
				return err
			}
			if next == "" {
				return nil
			}
			state.SetCurrent(next)
			stall.Reset()
			continue
		}

		var signal *models.RoutingSignal
		if result != nil && result.Route != nil {
			signal = result.Route.Signal
		}

		// A signal targeting a cataloged sidequest outside the static
		// graph is a detour request, not a route.
		if signal != nil && signal.Target != "" && !graph.HasNode(signal.Target) && o.sidequests.Has(signal.Target) &&
			(signal.Decision == models.RouteBranch || signal.Decision == models.RouteExtend) {
			def, _ := o.sidequests.Get(signal.Target)
			first, serr := sidequest.Enter(state, def, nodeID, "sidequest:"+def.ID, nil)
			if serr != nil {
				return serr
			}
			for _, step := range def.ToSteps() {
				detourSteps[step.ID] = step
			}
			if err := o.emit(models.RunEvent{
				RunID:   runID,
				Kind:    models.EventSidequestEntered,
				FlowKey: graph.Key,
				StepID:  nodeID,
				Payload: map[string]any{"sidequest_id": def.ID, "from": nodeID},
			}); err != nil {
				return err
			}
			state.SetCurrent(first.ID)
			stall.Reset()
			continue
		}

		stalled := false
		if entry.Envelope != nil {
			stalled = stall.Observe(string(entry.Envelope.Status))
		}

		out := o.nav.Decide(navigator.Input{
			Graph:     graph,
			Node:      nodeID,
			Terminal:  node.Terminal,
			Iteration: iteration,
			Signal:    signal,
			Stalled:   stalled,
		})
		if o.metrics != nil {
			o.metrics.RouteIntents.WithLabelValues(string(out.Intent)).Inc()
		}

		next, done, err := o.applyDecision(runID, graph, state, nodeID, out)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if next != nodeID {
			stall.Reset()
		}
		state.SetCurrent(next)
	}
}

// applyDecision turns a navigator output into the next node. done is
// true when the flow terminates.
func (o *Orchestrator) applyDecision(runID string, graph *flows.Graph, state *runstate.RunState, nodeID string, out navigator.Output) (next string, done bool, err error) {
	emitDecision := func(intent navigator.RouteIntent, target string, extra map[string]any) error {
		payload := map[string]any{"intent": string(intent)}
		if target != "" {
			payload["target"] = target
		}
		for k, v := range extra {
			payload[k] = v
		}
		return o.emit(models.RunEvent{
			RunID:   runID,
			Kind:    models.EventRouteDecided,
			FlowKey: graph.Key,
			StepID:  nodeID,
			Payload: payload,
		})
	}

	switch out.Intent {
	case navigator.IntentAdvance, navigator.IntentBranch, navigator.IntentLoop:
		if err := emitDecision(out.Intent, out.Target, nil); err != nil {
			return "", false, err
		}
		return out.Target, false, nil

	case navigator.IntentExtendGraph:
		id, patch, ok := navigator.ApplyExtendGraphRequest(state, out.Edge, o.stations, o.templates)
		if !ok {
			// Rejected proposal: the run state is untouched and no
			// patch event is emitted. Degrade to the default edge.
			o.logger.Warn("graph extension rejected, target not in station library",
				"run_id", runID, "node", nodeID, "target", out.Target)
			if next := graph.NextDefault(nodeID); next != "" {
				if err := emitDecision(navigator.IntentAdvance, next, map[string]any{"degraded_from": string(navigator.IntentExtendGraph)}); err != nil {
					return "", false, err
				}
				return next, false, nil
			}
			return o.terminate(runID, graph, state, nodeID, emitDecision)
		}
		if err := emitDecision(navigator.IntentExtendGraph, id, nil); err != nil {
			return "", false, err
		}
		if err := o.emit(models.RunEvent{
			RunID:   runID,
			Kind:    models.EventGraphPatchSuggested,
			FlowKey: graph.Key,
			StepID:  nodeID,
			Payload: map[string]any{"patch": patch},
		}); err != nil {
			return "", false, err
		}
		return id, false, nil

	case navigator.IntentTerminate:
		return o.terminate(runID, graph, state, nodeID, emitDecision)
	}
	return "", false, fmt.Errorf("unhandled route intent %q", out.Intent)
}

// terminate resolves a TERMINATE intent. When the finishing node was
// injected with return semantics, control pops back to the proposing
// node instead of ending the flow.
func (o *Orchestrator) terminate(runID string, graph *flows.Graph, state *runstate.RunState, nodeID string, emitDecision func(navigator.RouteIntent, string, map[string]any) error) (string, bool, error) {
	if frame, ok := state.PeekInterruption(); ok && frame.Reason == "graph_extension" && state.IsInjected(nodeID) {
		if _, err := state.PopInterruption(); err != nil {
			return "", false, err
		}
		if err := emitDecision(navigator.IntentAdvance, frame.ReturnNode, map[string]any{"returned_from": nodeID}); err != nil {
			return "", false, err
		}
		return frame.ReturnNode, false, nil
	}
	if err := emitDecision(navigator.IntentTerminate, "", nil); err != nil {
		return "", false, err
	}
	return "", true, nil
}

// resolveNode finds the execution target for a node ID: the static
// graph first, then active detour steps, then runtime-injected nodes
// resolved against the station library.
func (o *Orchestrator) resolveNode(graph *flows.Graph, state *runstate.RunState, detourSteps map[string]sidequest.Step, nodeID string) (nodeSpec, error) {
	if n := graph.Node(nodeID); n != nil {
		agent := n.AgentKey
		if agent == "" {
			agent = n.Station
		}
		return nodeSpec{ID: n.ID, Station: n.Station, AgentKey: agent, Prompt: n.Prompt, Terminal: n.Terminal}, nil
	}
	if step, ok := detourSteps[nodeID]; ok {
		return nodeSpec{ID: step.ID, Station: step.Station, AgentKey: step.Station, Prompt: step.Prompt}, nil
	}
	if state.IsInjected(nodeID) {
		if tmpl, ok := o.templates.Get(nodeID); ok {
			return nodeSpec{ID: nodeID, Station: tmpl.Station, AgentKey: tmpl.Station, Prompt: tmpl.Prompt}, nil
		}
		if o.stations.Has(nodeID) {
			return nodeSpec{ID: nodeID, Station: nodeID, AgentKey: nodeID}, nil
		}
	}
	return nodeSpec{}, fmt.Errorf("node %q not resolvable in flow %s", nodeID, graph.Key)
}

// executeNode runs one node's three-phase session. It always persists
// the session's transcript and receipt, on success and failure alike.
func (o *Orchestrator) executeNode(ctx context.Context, runID string, spec models.RunSpec, graph *flows.Graph, state *runstate.RunState, node nodeSpec, stepIndex int, history []models.StepHistoryEntry, inDetour bool) (*models.StepResult, models.StepHistoryEntry, error) {
	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.Start(ctx, "flowline.step",
			attribute.String("run_id", runID),
			attribute.String("flow_key", graph.Key),
			attribute.String("step_id", node.ID),
		)
		defer span.End()
	}

	if err := o.emit(models.RunEvent{
		RunID:    runID,
		Kind:     models.EventStepStarted,
		FlowKey:  graph.Key,
		StepID:   node.ID,
		AgentKey: node.AgentKey,
		Payload:  map[string]any{"station": node.Station, "step_index": stepIndex},
	}); err != nil {
		return nil, models.StepHistoryEntry{}, err
	}

	stepCtx := &models.StepContext{
		RunID:     runID,
		FlowKey:   graph.Key,
		StepID:    node.ID,
		StepIndex: stepIndex,
		AgentKey:  node.AgentKey,
		History:   history,
	}
	pack, err := o.hydrator.Hydrate(stepCtx)
	if err != nil {
		// Hydration failure is recoverable: fall back to raw history.
		o.logger.Warn("hydration failed, using raw history",
			"run_id", runID, "step_id", node.ID, "error", err)
		pack = hydrator.RawPack(stepCtx)
	}
	stepCtx.Pack = pack
	if pack.Truncation != nil && o.metrics != nil {
		o.metrics.TruncationEvents.Inc()
	}

	systemPrompt := ""
	if station, ok := o.stations.Get(node.Station); ok {
		systemPrompt = station.SystemPrompt
	}
	params := transport.SessionParams{
		RunID:        runID,
		FlowKey:      graph.Key,
		StepID:       node.ID,
		AgentKey:     node.AgentKey,
		SystemPrompt: systemPrompt,
		Context:      stepCtx,
	}

	sess, err := o.chain.OpenSession(ctx, params, spec.Backend)
	if err != nil {
		return nil, models.StepHistoryEntry{}, err
	}

	// Cancellation is capability-driven: when the serving tier supports
	// interrupts, a canceled run interrupts the in-flight phase. Tiers
	// without interrupt support run the phase to natural completion and
	// the run stops at the next step boundary.
	phasesDone := make(chan struct{})
	if sess.Capabilities().Interrupt {
		go func() {
			select {
			case <-ctx.Done():
				if ierr := sess.Interrupt(context.WithoutCancel(ctx)); ierr != nil {
					o.logger.Warn("interrupting canceled step",
						"run_id", runID, "step_id", node.ID, "error", ierr)
				}
			case <-phasesDone:
			}
		}()
	}

	stepErr := o.runPhases(ctx, sess, node, graph, inDetour)
	close(phasesDone)

	if perr := sess.Persist(); perr != nil {
		return nil, models.StepHistoryEntry{}, perr
	}
	if o.metrics != nil {
		o.metrics.StepsExecuted.WithLabelValues(sess.Engine()).Inc()
		o.observePhases(sess)
	}

	result := sess.Result()
	if stepErr != nil {
		ev := models.RunEvent{
			RunID:    runID,
			Kind:     models.EventStepError,
			FlowKey:  graph.Key,
			StepID:   node.ID,
			AgentKey: node.AgentKey,
			Payload:  map[string]any{"engine": sess.Engine(), "error": stepErr.Error()},
		}
		if err := o.emit(ev); err != nil {
			return nil, models.StepHistoryEntry{}, err
		}
		return nil, models.StepHistoryEntry{}, stepErr
	}

	entry := models.StepHistoryEntry{StepID: node.ID, AgentKey: node.AgentKey}
	if result != nil && result.Work != nil {
		entry.Content = result.Work.Output
	}
	if result != nil && result.Finalize != nil {
		entry.Envelope = result.Finalize.Envelope
	}

	payload := map[string]any{"engine": sess.Engine()}
	if entry.Envelope != nil {
		payload["handoff_status"] = string(entry.Envelope.Status)
	}
	if err := o.emit(models.RunEvent{
		RunID:    runID,
		Kind:     models.EventStepCompleted,
		FlowKey:  graph.Key,
		StepID:   node.ID,
		AgentKey: node.AgentKey,
		Payload:  payload,
	}); err != nil {
		return nil, models.StepHistoryEntry{}, err
	}
	return result, entry, nil
}

// runPhases drives Work, Finalize and Route in order. Terminal nodes
// and sidequest steps skip the route phase; the navigator synthesizes
// their outcome.
func (o *Orchestrator) runPhases(ctx context.Context, sess *engines.FallbackSession, node nodeSpec, graph *flows.Graph, inDetour bool) error {
	prompt := node.Prompt
	if prompt == "" {
		prompt = "Execute step " + node.ID + "."
	}
	if _, err := sess.Work(ctx, prompt, nil); err != nil {
		return err
	}
	if _, err := sess.Finalize(ctx, ""); err != nil {
		return err
	}
	if node.Terminal || inDetour {
		return nil
	}

	outgoing := graph.Outgoing(node.ID)
	candidates := make([]string, 0, len(outgoing))
	for _, e := range outgoing {
		candidates = append(candidates, e.To)
	}
	cfg := &transport.RouteConfig{
		Candidates:     candidates,
		AllowExtension: len(o.stations.Keys()) > 0,
	}
	if _, err := sess.Route(ctx, cfg); err != nil {
		return err
	}
	return nil
}

// observePhases records phase durations for one finished session.
func (o *Orchestrator) observePhases(sess *engines.FallbackSession) {
	result := sess.Result()
	if result == nil {
		return
	}
	engine := sess.Engine()
	if result.Work != nil {
		o.metrics.PhaseDuration.WithLabelValues(engine, "work").Observe(result.Work.Duration.Seconds())
	}
	if result.Finalize != nil {
		o.metrics.PhaseDuration.WithLabelValues(engine, "finalize").Observe(result.Finalize.Duration.Seconds())
	}
	if result.Route != nil {
		o.metrics.PhaseDuration.WithLabelValues(engine, "route").Observe(result.Route.Duration.Seconds())
	}
}
